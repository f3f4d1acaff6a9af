package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/groundd/internal/config"
	"github.com/fyrsmithlabs/groundd/internal/errkind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripMarkdown(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"**Fever** is common", "Fever is common"},
		{"__Stay__ hydrated", "Stay hydrated"},
		{"take *one* tablet", "take one tablet"},
		{"take _two_ tablets", "take two tablets"},
		{"_a_ _b_", "a b"},
		{"call snake_case_name", "call snake_case_name"},
		{"2 * 3 * 4", "2  3  4"},
		{"plain text", "plain text"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, StripMarkdown(tt.in))
		})
	}
}

func TestParseEngines(t *testing.T) {
	stt, err := ParseSTTEngine("")
	require.NoError(t, err)
	assert.Equal(t, STTWhisper, stt)

	stt, err = ParseSTTEngine("self_hosted")
	require.NoError(t, err)
	assert.Equal(t, STTSelfHosted, stt)

	_, err = ParseSTTEngine("azure")
	assert.ErrorIs(t, err, ErrUnknownEngine)
	assert.True(t, errkind.Is(err, errkind.Configuration))

	tts, err := ParseTTSEngine("")
	require.NoError(t, err)
	assert.Equal(t, TTSGoogle, tts)

	_, err = ParseTTSEngine("polly")
	assert.ErrorIs(t, err, ErrUnknownEngine)
}

func TestWhisperRecognizer(t *testing.T) {
	var gotLang, gotModel, gotAuth string
	var gotAudio []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotLang = r.FormValue("language")
		gotModel = r.FormValue("model")
		gotAuth = r.Header.Get("Authorization")
		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		gotAudio, _ = io.ReadAll(f)
		_ = json.NewEncoder(w).Encode(map[string]string{"text": " namaste "})
	}))
	defer srv.Close()

	rec, err := NewWhisperRecognizer(WhisperConfig{BaseURL: srv.URL + "/v1/", APIKey: "sk"})
	require.NoError(t, err)

	text, err := rec.Recognize(context.Background(), []byte("pcm"), "hi-IN")
	require.NoError(t, err)
	assert.Equal(t, "namaste", text)
	assert.Equal(t, "hi", gotLang)
	assert.Equal(t, "whisper-1", gotModel)
	assert.Equal(t, "Bearer sk", gotAuth)
	assert.Equal(t, []byte("pcm"), gotAudio)
}

func TestWhisperRecognizer_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad audio", http.StatusBadRequest)
	}))
	defer srv.Close()

	rec, err := NewWhisperRecognizer(WhisperConfig{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = rec.Recognize(context.Background(), []byte("x"), "en")
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.Transcription))
	assert.Contains(t, err.Error(), "bad audio")

	_, err = rec.Recognize(context.Background(), nil, "en")
	assert.ErrorIs(t, err, ErrEmptyAudio)

	_, err = NewWhisperRecognizer(WhisperConfig{})
	assert.ErrorIs(t, err, ErrEngineNotConfigured)
}

func TestOpenAISynthesizer(t *testing.T) {
	var req speechRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/audio/speech", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_, _ = w.Write([]byte("ID3mp3"))
	}))
	defer srv.Close()

	syn, err := NewOpenAISynthesizer(OpenAITTSConfig{BaseURL: srv.URL, APIKey: "sk"})
	require.NoError(t, err)

	audio, err := syn.Synthesize(context.Background(), "**Rest** well", "en")
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3mp3"), audio)
	assert.Equal(t, "Rest well", req.Input)
	assert.Equal(t, "tts-1", req.Model)
	assert.Equal(t, "nova", req.Voice)
	assert.Equal(t, "mp3", req.ResponseFormat)
}

func TestOpenAISynthesizer_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	syn, err := NewOpenAISynthesizer(OpenAITTSConfig{BaseURL: srv.URL, APIKey: "sk"})
	require.NoError(t, err)
	_, err = syn.Synthesize(context.Background(), "hi", "en")
	assert.True(t, errkind.Is(err, errkind.Synthesis))
}

func googleServer(t *testing.T, handler func(path string, body map[string]any) any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		resp := handler(r.URL.Path, body)
		if resp == nil {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"code":500,"message":"backend"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGoogleRecognizer(t *testing.T) {
	var sent map[string]any
	srv := googleServer(t, func(path string, body map[string]any) any {
		require.True(t, strings.HasSuffix(path, "speech:recognize"), path)
		sent = body
		return map[string]any{"results": []any{
			map[string]any{"alternatives": []any{map[string]any{"transcript": "bukhar hai"}}},
		}}
	})

	rec, err := NewGoogleRecognizer(context.Background(), GoogleConfig{
		APIKey:     "k",
		Endpoint:   srv.URL + "/",
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)

	text, err := rec.Recognize(context.Background(), []byte{1, 2}, "hi")
	require.NoError(t, err)
	assert.Equal(t, "bukhar hai", text)

	cfg := sent["config"].(map[string]any)
	assert.Equal(t, "hi-IN", cfg["languageCode"])
	assert.Equal(t, "LINEAR16", cfg["encoding"])
	assert.EqualValues(t, 16000, cfg["sampleRateHertz"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{1, 2}), sent["audio"].(map[string]any)["content"])
}

func TestGoogleRecognizer_NoSpeech(t *testing.T) {
	srv := googleServer(t, func(string, map[string]any) any { return map[string]any{} })
	rec, err := NewGoogleRecognizer(context.Background(), GoogleConfig{APIKey: "k", Endpoint: srv.URL + "/", HTTPClient: srv.Client()})
	require.NoError(t, err)

	text, err := rec.Recognize(context.Background(), []byte{1}, "ta")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestGoogleRecognizer_ProviderFailure(t *testing.T) {
	srv := googleServer(t, func(string, map[string]any) any { return nil })
	rec, err := NewGoogleRecognizer(context.Background(), GoogleConfig{APIKey: "k", Endpoint: srv.URL + "/", HTTPClient: srv.Client()})
	require.NoError(t, err)

	_, err = rec.Recognize(context.Background(), []byte{1}, "ta")
	assert.True(t, errkind.Is(err, errkind.Transcription))
}

func TestGoogleSynthesizer(t *testing.T) {
	var sent map[string]any
	srv := googleServer(t, func(path string, body map[string]any) any {
		require.True(t, strings.HasSuffix(path, "text:synthesize"), path)
		sent = body
		return map[string]any{"audioContent": base64.StdEncoding.EncodeToString([]byte("mp3"))}
	})

	syn, err := NewGoogleSynthesizer(context.Background(), GoogleConfig{APIKey: "k", Endpoint: srv.URL + "/", HTTPClient: srv.Client()})
	require.NoError(t, err)

	audio, err := syn.Synthesize(context.Background(), "__Drink__ water", "ml")
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3"), audio)

	assert.Equal(t, "Drink water", sent["input"].(map[string]any)["text"])
	voice := sent["voice"].(map[string]any)
	assert.Equal(t, "ml-IN", voice["languageCode"])
	assert.Equal(t, "ml-IN-Wavenet-C", voice["name"])
	assert.Equal(t, "MP3", sent["audioConfig"].(map[string]any)["audioEncoding"])
}

func TestVoiceFor(t *testing.T) {
	locale, voice := VoiceFor("hi")
	assert.Equal(t, "hi-IN", locale)
	assert.Equal(t, "hi-IN-Neural2-D", voice)

	locale, voice = VoiceFor("fr")
	assert.Equal(t, "fr-IN", locale)
	assert.Empty(t, voice)
}

type fakeRecognizer struct{}

func (fakeRecognizer) Recognize(context.Context, []byte, string) (string, error) { return "ok", nil }

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	r, err := NewRegistry(ctx, config.SpeechConfig{
		OpenAIAPIKey:      "sk",
		WhisperBaseURL:    "https://api.openai.com/v1",
		SelfHostedBaseURL: "http://whisper.local",
	}, nil)
	require.NoError(t, err)

	rec, err := r.Recognizer("")
	require.NoError(t, err)
	assert.IsType(t, &WhisperRecognizer{}, rec)

	_, err = r.Recognizer("self_hosted")
	require.NoError(t, err)

	_, err = r.Synthesizer("openai")
	require.NoError(t, err)

	_, err = r.Recognizer("google")
	assert.ErrorIs(t, err, ErrEngineNotConfigured)
	assert.True(t, errkind.Is(err, errkind.Configuration))

	_, err = r.Synthesizer("")
	assert.ErrorIs(t, err, ErrEngineNotConfigured)

	r.RegisterRecognizer(STTGoogle, fakeRecognizer{})
	rec, err = r.Recognizer("google")
	require.NoError(t, err)
	text, _ := rec.Recognize(ctx, nil, "")
	assert.Equal(t, "ok", text)
}
