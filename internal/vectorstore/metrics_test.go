package vectorstore_test

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/groundd/internal/config"
	"github.com/fyrsmithlabs/groundd/internal/vectorstore"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrument_CountsOperations(t *testing.T) {
	ctx := context.Background()
	inner, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{}, nil)
	require.NoError(t, err)
	s := vectorstore.Instrument(inner, "metrics_test")

	before := testutil.ToFloat64(vectorstore.OperationsTotal.WithLabelValues("metrics_test", "insert", "success"))
	require.NoError(t, s.Insert(ctx, "p", []vectorstore.Record{{ID: "d_0", Vector: axis(2, 0), Text: "t", Subject: "d"}}))
	after := testutil.ToFloat64(vectorstore.OperationsTotal.WithLabelValues("metrics_test", "insert", "success"))
	assert.Equal(t, before+1, after)
	assert.Equal(t, float64(1), testutil.ToFloat64(vectorstore.RecordsInserted.WithLabelValues("metrics_test")))

	errBefore := testutil.ToFloat64(vectorstore.OperationsTotal.WithLabelValues("metrics_test", "ensure_partition", "error"))
	require.Error(t, s.EnsurePartition(ctx, ""))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(vectorstore.OperationsTotal.WithLabelValues("metrics_test", "ensure_partition", "error")))

	n, err := s.Count(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewStore(t *testing.T) {
	s, err := vectorstore.NewStore(config.VectorStoreConfig{Provider: "chromem"}, 3, nil)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.NoError(t, s.Close())

	_, err = vectorstore.NewStore(config.VectorStoreConfig{Provider: "pinecone"}, 3, nil)
	assert.Error(t, err)

	_, err = vectorstore.NewStore(config.VectorStoreConfig{Provider: "qdrant"}, 0, nil)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidConfig)
}
