// Package metrics declares the engine's OpenTelemetry instruments.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const scope = "github.com/wardenhq/warden"

// Metrics bundles every instrument the engine reports against. With no
// meter provider configured the instruments are no-ops, so the engine
// always records unconditionally.
type Metrics struct {
	SignalsIngested  metric.Int64Counter
	SignalsRejected  metric.Int64Counter
	SignalsDeduped   metric.Int64Counter
	SignalsDebounced metric.Int64Counter
	SignalsSampled   metric.Int64Counter

	Transitions   metric.Int64Counter
	IncidentsOpen metric.Int64UpDownCounter
	GatesExpired  metric.Int64Counter

	ActionsFired      metric.Int64Counter
	ActionsSuppressed metric.Int64Counter
	ActionsFellBack   metric.Int64Counter

	EvidenceHolds   metric.Int64UpDownCounter
	EvidenceExpired metric.Int64Counter

	QueueDepth metric.Int64Gauge
	NoiseLevel metric.Int64Gauge
}

// New builds the instrument set from the global meter provider.
func New() (*Metrics, error) {
	return NewWithMeter(otel.Meter(scope))
}

// NewWithMeter builds the instrument set against an explicit meter.
func NewWithMeter(meter metric.Meter) (*Metrics, error) {
	var m Metrics
	var err error

	if m.SignalsIngested, err = meter.Int64Counter("warden.signals.ingested",
		metric.WithDescription("signals accepted past normalization")); err != nil {
		return nil, fmt.Errorf("create instrument: %w", err)
	}
	if m.SignalsRejected, err = meter.Int64Counter("warden.signals.rejected",
		metric.WithDescription("signals rejected at the boundary")); err != nil {
		return nil, fmt.Errorf("create instrument: %w", err)
	}
	if m.SignalsDeduped, err = meter.Int64Counter("warden.signals.deduped",
		metric.WithDescription("duplicate deliveries absorbed")); err != nil {
		return nil, fmt.Errorf("create instrument: %w", err)
	}
	if m.SignalsDebounced, err = meter.Int64Counter("warden.signals.debounced",
		metric.WithDescription("signals suppressed by debounce windows")); err != nil {
		return nil, fmt.Errorf("create instrument: %w", err)
	}
	if m.SignalsSampled, err = meter.Int64Counter("warden.signals.sampled",
		metric.WithDescription("soft signals dropped by degradation sampling")); err != nil {
		return nil, fmt.Errorf("create instrument: %w", err)
	}
	if m.Transitions, err = meter.Int64Counter("warden.transitions",
		metric.WithDescription("state transition records emitted")); err != nil {
		return nil, fmt.Errorf("create instrument: %w", err)
	}
	if m.IncidentsOpen, err = meter.Int64UpDownCounter("warden.incidents.open",
		metric.WithDescription("incidents currently open")); err != nil {
		return nil, fmt.Errorf("create instrument: %w", err)
	}
	if m.GatesExpired, err = meter.Int64Counter("warden.gates.expired",
		metric.WithDescription("context gates lapsed on TTL")); err != nil {
		return nil, fmt.Errorf("create instrument: %w", err)
	}
	if m.ActionsFired, err = meter.Int64Counter("warden.actions.fired",
		metric.WithDescription("outbound actions executed")); err != nil {
		return nil, fmt.Errorf("create instrument: %w", err)
	}
	if m.ActionsSuppressed, err = meter.Int64Counter("warden.actions.suppressed",
		metric.WithDescription("actions stopped by gate, cooldown or tier policy")); err != nil {
		return nil, fmt.Errorf("create instrument: %w", err)
	}
	if m.ActionsFellBack, err = meter.Int64Counter("warden.actions.fellback",
		metric.WithDescription("actions served by their fallback kind")); err != nil {
		return nil, fmt.Errorf("create instrument: %w", err)
	}
	if m.EvidenceHolds, err = meter.Int64UpDownCounter("warden.evidence.holds",
		metric.WithDescription("evidence holds currently live")); err != nil {
		return nil, fmt.Errorf("create instrument: %w", err)
	}
	if m.EvidenceExpired, err = meter.Int64Counter("warden.evidence.expired",
		metric.WithDescription("evidence holds lapsed on TTL")); err != nil {
		return nil, fmt.Errorf("create instrument: %w", err)
	}
	if m.QueueDepth, err = meter.Int64Gauge("warden.queue.depth",
		metric.WithDescription("ingest queue depth")); err != nil {
		return nil, fmt.Errorf("create instrument: %w", err)
	}
	if m.NoiseLevel, err = meter.Int64Gauge("warden.noise.level",
		metric.WithDescription("degradation level, 0 through 3")); err != nil {
		return nil, fmt.Errorf("create instrument: %w", err)
	}
	return &m, nil
}

// RecordTransition counts one record with its dimension attribute.
func (m *Metrics) RecordTransition(ctx context.Context, dimension, reason string) {
	m.Transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("dimension", dimension),
		attribute.String("reason", reason),
	))
}

// RecordReject counts one boundary rejection by reason.
func (m *Metrics) RecordReject(ctx context.Context, reason string) {
	m.SignalsRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}
