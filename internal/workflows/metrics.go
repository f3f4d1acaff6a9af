package workflows

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fyrsmithlabs/groundd/internal/errkind"
)

const instrumentationName = "github.com/fyrsmithlabs/groundd/internal/workflows"

var (
	dispatchCounter      metric.Int64Counter
	activityDuration     metric.Float64Histogram
	activityErrorCounter metric.Int64Counter
)

// initMetrics creates the OpenTelemetry instruments. Instruments come from
// the global meter provider, so they start reporting once telemetry sets it.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error
	dispatchCounter, err = meter.Int64Counter(
		"groundd.workflows.dispatched",
		metric.WithDescription("Number of ingestions and test runs dispatched"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create dispatch counter: %v", err))
	}

	activityDuration, err = meter.Float64Histogram(
		"groundd.workflows.activity.duration",
		metric.WithDescription("Duration of workflow activity executions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity duration: %v", err))
	}

	activityErrorCounter, err = meter.Int64Counter(
		"groundd.workflows.activity.errors",
		metric.WithDescription("Number of activity execution errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity error counter: %v", err))
	}
}

func init() {
	initMetrics()
}

func recordDispatch(ctx context.Context, kind, mode string) {
	dispatchCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("mode", mode),
	))
}

func recordActivity(ctx context.Context, name string, start time.Time, err error) {
	attrs := metric.WithAttributes(attribute.String("activity", name))
	activityDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	if err != nil {
		activityErrorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("activity", name),
			attribute.String("kind", string(errkind.KindOf(err))),
		))
	}
}
