// Package telemetry wires OpenTelemetry tracing and metrics for groundd.
//
// Spans and metrics are exported over OTLP (grpc or http/protobuf) to a
// collector. When export is disabled or the exporters cannot be built, the
// package hands out the global no-op providers so instrumented code never
// has to branch on telemetry being present.
//
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	ctx, span := tel.Tracer("groundd.conversation").Start(ctx, "Converse")
//	defer span.End()
//
// Tests use NewTestTelemetry, which records spans in memory.
package telemetry
