package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fyrsmithlabs/groundd/internal/config"
	"github.com/fyrsmithlabs/groundd/internal/errkind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGoogle(t *testing.T, handler http.HandlerFunc) *Google {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	g, err := NewGoogle(context.Background(), GoogleConfig{
		Endpoint:          srv.URL + "/",
		HTTPClient:        srv.Client(),
		RequestsPerSecond: 1000,
	})
	require.NoError(t, err)
	return g
}

func TestGoogle_Translate(t *testing.T) {
	var gotTarget, gotFormat string
	var gotQ []string
	g := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotTarget = r.Form.Get("target")
		gotFormat = r.Form.Get("format")
		gotQ = r.Form["q"]
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"translations": []any{map[string]any{"translatedText": "I have a fever &amp; cough"}},
			},
		})
	})

	out, err := g.Translate(context.Background(), "mujhe bukhar hai", "en-US")
	require.NoError(t, err)
	assert.Equal(t, "I have a fever & cough", out)
	assert.Equal(t, "en", gotTarget)
	assert.Equal(t, "text", gotFormat)
	assert.Equal(t, []string{"mujhe bukhar hai"}, gotQ)
}

func TestGoogle_TranslateFailureIsFatal(t *testing.T) {
	g := newTestGoogle(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"quota"}}`))
	})

	out, err := g.Translate(context.Background(), "hello", "hi")
	require.Error(t, err)
	assert.Empty(t, out)
	assert.True(t, errkind.Is(err, errkind.Translation))
}

func TestGoogle_EmptyTextSkipsRequest(t *testing.T) {
	called := false
	g := newTestGoogle(t, func(http.ResponseWriter, *http.Request) { called = true })

	out, err := g.Translate(context.Background(), "  ", "hi")
	require.NoError(t, err)
	assert.Equal(t, "  ", out)
	assert.False(t, called)
}

func TestGoogle_CanceledContext(t *testing.T) {
	g := newTestGoogle(t, func(http.ResponseWriter, *http.Request) {})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Translate(ctx, "hello", "hi")
	assert.True(t, errkind.Is(err, errkind.Translation))
}

func TestNoop(t *testing.T) {
	n := Noop{}

	out, err := n.Translate(context.Background(), "", "hi")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = n.Translate(context.Background(), "hello", "hi")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.True(t, errkind.Is(err, errkind.Translation))
}

func TestNew(t *testing.T) {
	tr, err := New(context.Background(), config.TranslateConfig{})
	require.NoError(t, err)
	assert.IsType(t, Noop{}, tr)

	tr, err = New(context.Background(), config.TranslateConfig{GoogleAPIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &Google{}, tr)
}
