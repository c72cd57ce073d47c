package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics mirrors the change metrics onto the global OpenTelemetry meter
// so they reach the OTLP collector alongside traces.
type OTelMetrics struct {
	previews       metric.Int64Counter
	commits        metric.Int64Counter
	commitDuration metric.Float64Histogram
	deltaCents     metric.Int64Histogram
}

// NewOTelMetrics creates the instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter(InstrumentationName)

	m := &OTelMetrics{}
	var err error

	m.previews, err = meter.Int64Counter(
		"tariff.change.previews",
		metric.WithDescription("Change previews by signal and enabled flag"),
		metric.WithUnit("{preview}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create previews counter: %w", err)
	}

	m.commits, err = meter.Int64Counter(
		"tariff.change.commits",
		metric.WithDescription("Change commits by resulting status"),
		metric.WithUnit("{commit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create commits counter: %w", err)
	}

	m.commitDuration, err = meter.Float64Histogram(
		"tariff.change.commit.duration",
		metric.WithDescription("Change commit duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create commit duration histogram: %w", err)
	}

	m.deltaCents, err = meter.Int64Histogram(
		"tariff.change.delta",
		metric.WithDescription("Absolute total delta of enabled previews in minor units"),
		metric.WithUnit("{cent}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create delta histogram: %w", err)
	}

	return m, nil
}

// RecordPreview records a planned change and, when enabled, the size of its delta
func (m *OTelMetrics) RecordPreview(ctx context.Context, signal string, enabled bool, currency string, deltaCents int64) {
	if m == nil {
		return
	}
	m.previews.Add(ctx, 1, metric.WithAttributes(
		attribute.String("signal", signal),
		attribute.Bool("enabled", enabled),
	))
	if enabled {
		if deltaCents < 0 {
			deltaCents = -deltaCents
		}
		m.deltaCents.Record(ctx, deltaCents, metric.WithAttributes(attribute.String("currency", currency)))
	}
}

// RecordCommit records a commit outcome and its latency
func (m *OTelMetrics) RecordCommit(ctx context.Context, signal, status string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("signal", signal),
		attribute.String("status", status),
	)
	m.commits.Add(ctx, 1, attrs)
	m.commitDuration.Record(ctx, duration.Seconds(), attrs)
}
