package vectorstore_test

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/groundd/internal/errkind"
	"github.com/fyrsmithlabs/groundd/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectionName(t *testing.T) {
	tests := []struct {
		name      string
		prefix    string
		partition string
		want      string
		wantError bool
	}{
		{name: "plain", partition: "docs", want: "docs"},
		{name: "uuid partition", prefix: "groundd", partition: "0F8FAD5B-D9CB-469F-A165-70867728950E", want: "groundd_0f8fad5b_d9cb_469f_a165_70867728950e"},
		{name: "path traversal", partition: "../x", want: "___x"},
		{name: "empty", partition: "", wantError: true},
		{name: "blank", partition: "   ", wantError: true},
		{name: "too long", partition: strings.Repeat("a", 65), wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := vectorstore.CollectionName(tt.prefix, tt.partition)
			if tt.wantError {
				assert.ErrorIs(t, err, vectorstore.ErrInvalidPartition)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecords(t *testing.T) {
	recs, err := vectorstore.Records("doc1", 100, [][]float32{{1}, {2}}, []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "doc1_100", recs[0].ID)
	assert.Equal(t, "doc1_101", recs[1].ID)
	assert.Equal(t, "b", recs[1].Text)
	assert.Equal(t, "doc1", recs[1].Subject)

	_, err = vectorstore.Records("doc1", 0, [][]float32{{1}}, nil)
	assert.ErrorIs(t, err, vectorstore.ErrLengthMismatch)
}

// axis returns a unit vector along dimension i.
func axis(dim, i int) []float32 {
	v := make([]float32, dim)
	v[i] = 1
	return v
}

// blend returns a normalized mix of two axes.
func blend(dim, i, j int, wi, wj float32) []float32 {
	v := make([]float32, dim)
	n := float32(math.Sqrt(float64(wi*wi + wj*wj)))
	v[i] = wi / n
	v[j] = wj / n
	return v
}

func newChromem(t *testing.T) vectorstore.Store {
	t.Helper()
	s, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestChromemStore_InsertAndSearch(t *testing.T) {
	ctx := context.Background()
	s := newChromem(t)

	recs := []vectorstore.Record{
		{ID: "d1_0", Vector: axis(4, 0), Text: "fever", Subject: "d1"},
		{ID: "d1_1", Vector: axis(4, 1), Text: "cough", Subject: "d1"},
		{ID: "d2_0", Vector: axis(4, 2), Text: "rash", Subject: "d2"},
	}
	require.NoError(t, s.Insert(ctx, "proj-1", recs))

	n, err := s.Count(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	matches, err := s.Search(ctx, blend(4, 1, 0, 0.9, 0.1), "proj-1", 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "d1_1", matches[0].ID)
	assert.Equal(t, "cough", matches[0].Text)
	assert.Equal(t, "d1", matches[0].Subject)
	assert.Equal(t, "d1_0", matches[1].ID)
	assert.GreaterOrEqual(t, matches[0].Score, matches[1].Score)
}

func TestChromemStore_LimitAboveCount(t *testing.T) {
	ctx := context.Background()
	s := newChromem(t)
	require.NoError(t, s.Insert(ctx, "p", []vectorstore.Record{
		{ID: "d_0", Vector: axis(3, 0), Text: "a", Subject: "d"},
	}))

	matches, err := s.Search(ctx, axis(3, 0), "p", 0)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestChromemStore_MissingPartition(t *testing.T) {
	ctx := context.Background()
	s := newChromem(t)

	matches, err := s.Search(ctx, axis(3, 0), "nope", 5)
	require.NoError(t, err)
	assert.Empty(t, matches)

	n, err := s.Count(ctx, "nope")
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.NoError(t, s.DeleteSubject(ctx, "d", "nope"))
	assert.NoError(t, s.DeletePartition(ctx, "nope"))
}

func TestChromemStore_UpsertReplaces(t *testing.T) {
	ctx := context.Background()
	s := newChromem(t)

	require.NoError(t, s.Insert(ctx, "p", []vectorstore.Record{{ID: "d_0", Vector: axis(2, 0), Text: "old", Subject: "d"}}))
	require.NoError(t, s.Insert(ctx, "p", []vectorstore.Record{{ID: "d_0", Vector: axis(2, 0), Text: "new", Subject: "d"}}))

	n, err := s.Count(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	matches, err := s.Search(ctx, axis(2, 0), "p", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "new", matches[0].Text)
}

func TestChromemStore_DeleteSubject(t *testing.T) {
	ctx := context.Background()
	s := newChromem(t)

	require.NoError(t, s.Insert(ctx, "p", []vectorstore.Record{
		{ID: "a_0", Vector: axis(3, 0), Text: "a0", Subject: "a"},
		{ID: "a_1", Vector: axis(3, 1), Text: "a1", Subject: "a"},
		{ID: "b_0", Vector: axis(3, 2), Text: "b0", Subject: "b"},
	}))
	require.NoError(t, s.DeleteSubject(ctx, "a", "p"))

	matches, err := s.Search(ctx, axis(3, 0), "p", 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b_0", matches[0].ID)
}

func TestChromemStore_PartitionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := newChromem(t)

	require.NoError(t, s.Insert(ctx, "one", []vectorstore.Record{{ID: "x_0", Vector: axis(2, 0), Text: "x", Subject: "x"}}))
	require.NoError(t, s.EnsurePartition(ctx, "two"))

	matches, err := s.Search(ctx, axis(2, 0), "two", 10)
	require.NoError(t, err)
	assert.Empty(t, matches)

	require.NoError(t, s.DeletePartition(ctx, "one"))
	n, err := s.Count(ctx, "one")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestChromemStore_InvalidPartition(t *testing.T) {
	s := newChromem(t)
	err := s.EnsurePartition(context.Background(), "")
	assert.ErrorIs(t, err, vectorstore.ErrInvalidPartition)
}

func TestChromemStore_DimensionMismatchIsRetrievalError(t *testing.T) {
	ctx := context.Background()
	s := newChromem(t)
	require.NoError(t, s.Insert(ctx, "p", []vectorstore.Record{{ID: "d_0", Vector: axis(3, 0), Text: "a", Subject: "d"}}))

	_, err := s.Search(ctx, axis(5, 0), "p", 1)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.Retrieval))
}

func TestChromemStore_Persistent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{Path: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, "p", []vectorstore.Record{{ID: "d_0", Vector: axis(2, 1), Text: "kept", Subject: "d"}}))
	require.NoError(t, s.Close())

	reopened, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{Path: dir}, nil)
	require.NoError(t, err)
	matches, err := reopened.Search(ctx, axis(2, 1), "p", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "kept", matches[0].Text)
}
