package embeddings

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/fyrsmithlabs/corpusd/internal/embeddings"

// Metrics records embedding call latency and failures on the global OTel
// meter provider. With the default no-op provider every Record is free, so
// embedders are constructed without wiring telemetry first.
type Metrics struct {
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewMetrics registers the embedding instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	duration, err := meter.Float64Histogram(
		"corpusd.embedding.duration_seconds",
		metric.WithDescription("Latency of embedding calls by model and operation"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}

	errCount, err := meter.Int64Counter(
		"corpusd.embedding.errors_total",
		metric.WithDescription("Failed embedding calls by model and operation"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating errors counter: %w", err)
	}

	return &Metrics{duration: duration, errors: errCount}, nil
}

// Record observes one embedding call. The operation is "embed_documents" or
// "embed_query".
func (m *Metrics) Record(ctx context.Context, model, operation string, elapsed time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("operation", operation),
	)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
	if err != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}
