// Package logging provides structured logging for groundd.
//
// The package wraps Zap with:
//   - a Trace level (-2, below Debug)
//   - stdout output plus an optional OpenTelemetry log bridge
//   - correlation fields pulled from the context (trace, request, project,
//     chat, test run, document)
//   - secret redaction at the encoder
//   - level-aware sampling (errors are never sampled)
//
// Typical use:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithChatID(ctx, chat.ID)
//	logger.Info(ctx, "turn persisted", zap.Duration("duration", d))
//
// Tests use NewTestLogger and its Assert helpers.
package logging
