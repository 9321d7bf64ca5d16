package credential

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "account-platform/internal/credential"

// instruments are resolved against the global providers when a component is built,
// so cmd/server must install the OTel providers first.
type instruments struct {
	tracer   trace.Tracer
	compares metric.Int64Histogram
	refresh  metric.Int64Counter
}

func newInstruments() *instruments {
	meter := otel.Meter(instrumentationName)
	compares, err := meter.Int64Histogram("credential.verify.compares",
		metric.WithDescription("Hash compares performed by one scan-and-compare verification"),
		metric.WithUnit("{compare}"))
	if err != nil {
		compares, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Histogram("credential.verify.compares")
	}
	refresh, err := meter.Int64Counter("credential.refresh.outcomes",
		metric.WithDescription("Refresh attempts by outcome"))
	if err != nil {
		refresh, _ = noop.NewMeterProvider().Meter(instrumentationName).Int64Counter("credential.refresh.outcomes")
	}
	return &instruments{
		tracer:   otel.Tracer(instrumentationName),
		compares: compares,
		refresh:  refresh,
	}
}

func (in *instruments) recordCompares(ctx context.Context, scope string, n int) {
	in.compares.Record(ctx, int64(n), metric.WithAttributes(attribute.String("scope", scope)))
}

func (in *instruments) recordRefresh(ctx context.Context, outcome string) {
	in.refresh.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
