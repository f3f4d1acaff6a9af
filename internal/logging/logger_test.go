package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger_ValidatesConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "format must be")
}

func TestNewLogger_OTELOnlyWithoutProviderFails(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Output = OutputConfig{OTEL: true}

	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
}

func TestNewLogger_Defaults(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
	assert.NoError(t, logger.Sync())
}

func TestLogger_ContextCorrelation(t *testing.T) {
	tl := NewTestLogger()

	ctx := WithChatID(context.Background(), "chat-1")
	ctx = WithProjectID(ctx, "proj-9")
	ctx = WithRequestID(ctx, "req-42")
	tl.Info(ctx, "turn persisted", zap.Int("top_k", 5))

	tl.AssertLogged(t, zapcore.InfoLevel, "turn persisted")
	tl.AssertField(t, "turn persisted", "chat.id", "chat-1")
	tl.AssertField(t, "turn persisted", "project.id", "proj-9")
	tl.AssertField(t, "turn persisted", "request.id", "req-42")
	assert.Equal(t, "chat-1", ChatIDFromContext(ctx))
	assert.Equal(t, "req-42", RequestIDFromContext(ctx))
}

func TestLogger_ChildLoggersKeepFields(t *testing.T) {
	tl := NewTestLogger()
	child := tl.Named("ingestion").With(zap.String("document", "doc-1"))

	child.Warn(context.Background(), "batch failed")

	entries := tl.FilterMessage("batch failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "ingestion", entries[0].LoggerName)
	tl.AssertField(t, "batch failed", "document", "doc-1")
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)

	lvl, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = LevelFromString("loud")
	assert.Error(t, err)
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Info(ctx, "from context")
	tl.AssertLogged(t, zapcore.InfoLevel, "from context")
}

func TestWithID_IgnoresEmptyAndTruncates(t *testing.T) {
	ctx := WithChatID(context.Background(), "")
	assert.Empty(t, ChatIDFromContext(ctx))

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	ctx = WithChatID(ctx, string(long))
	assert.Len(t, ChatIDFromContext(ctx), maxIDLen)
}
