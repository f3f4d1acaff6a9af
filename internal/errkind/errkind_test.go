package errkind

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Message(t *testing.T) {
	err := &Error{Kind: Retrieval, Stage: "retrieve", Op: "vectorstore.Search", Err: errors.New("connection refused")}
	assert.Equal(t, "vectorstore.Search: retrieval at retrieve: connection refused", err.Error())

	assert.Equal(t, "configuration", (&Error{Kind: Configuration}).Error())
}

func TestSentinelMatching(t *testing.T) {
	err := fmt.Errorf("turn failed: %w", E(Translation, "translate.Google", errors.New("quota")))

	assert.ErrorIs(t, err, ErrTranslation)
	assert.NotErrorIs(t, err, ErrRetrieval)
	assert.Equal(t, Translation, KindOf(err))
	assert.True(t, Is(err, Translation))
}

func TestWithStage(t *testing.T) {
	base := E(Generation, "llm.Generate", errors.New("timeout"))

	staged := WithStage(base, "generate")
	assert.Equal(t, "generate", StageOf(staged))
	assert.Equal(t, Generation, KindOf(staged))
	assert.Empty(t, StageOf(base), "original error is not mutated")

	// An already staged error keeps its first stage.
	assert.Equal(t, "generate", StageOf(WithStage(staged, "persist")))

	plain := WithStage(errors.New("boom"), "embed")
	assert.Equal(t, Unknown, KindOf(plain))
	assert.Equal(t, "embed", StageOf(plain))

	assert.Nil(t, WithStage(nil, "embed"))
}

func TestKindOf_Unclassified(t *testing.T) {
	assert.Equal(t, Unknown, KindOf(errors.New("plain")))
	assert.Equal(t, Unknown, KindOf(nil))
}

func TestErrorf(t *testing.T) {
	err := Errorf(Ingestion, "ingestion.Ingest", "document %s has no content", "doc-1")
	assert.ErrorIs(t, err, ErrIngestion)
	assert.Contains(t, err.Error(), "document doc-1 has no content")
}
