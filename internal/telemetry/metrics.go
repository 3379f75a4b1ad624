package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instrument handles the hunt pipeline records against.
type Metrics struct {
	HuntsStarted    metric.Int64Counter
	AgentCalls      metric.Int64Counter
	AgentFailures   metric.Int64Counter
	RoundsSettled   metric.Int64Counter
	SlashesApplied  metric.Int64Counter
	RewardsApplied  metric.Int64Counter
	PhaseDurationMs metric.Float64Histogram
}

// NewMetrics creates the counters and histograms for the hunt pipeline.
// Against a no-op meter provider every instrument is a no-op, so callers
// record unconditionally.
func NewMetrics() (*Metrics, error) {
	meter := Meter("alphahunt")

	m := &Metrics{}
	var err error
	if m.HuntsStarted, err = meter.Int64Counter("alphahunt.hunts.started",
		metric.WithDescription("Hunt rounds started")); err != nil {
		return nil, fmt.Errorf("telemetry: create counter: %w", err)
	}
	if m.AgentCalls, err = meter.Int64Counter("alphahunt.agent.calls",
		metric.WithDescription("Upstream agent calls attempted")); err != nil {
		return nil, fmt.Errorf("telemetry: create counter: %w", err)
	}
	if m.AgentFailures, err = meter.Int64Counter("alphahunt.agent.failures",
		metric.WithDescription("Upstream agent calls that ended without a response")); err != nil {
		return nil, fmt.Errorf("telemetry: create counter: %w", err)
	}
	if m.RoundsSettled, err = meter.Int64Counter("alphahunt.rounds.settled",
		metric.WithDescription("Consensus rounds settled")); err != nil {
		return nil, fmt.Errorf("telemetry: create counter: %w", err)
	}
	if m.SlashesApplied, err = meter.Int64Counter("alphahunt.slashes.applied",
		metric.WithDescription("Stake slashes applied at settlement")); err != nil {
		return nil, fmt.Errorf("telemetry: create counter: %w", err)
	}
	if m.RewardsApplied, err = meter.Int64Counter("alphahunt.rewards.applied",
		metric.WithDescription("Stake rewards applied at settlement")); err != nil {
		return nil, fmt.Errorf("telemetry: create counter: %w", err)
	}
	if m.PhaseDurationMs, err = meter.Float64Histogram("alphahunt.phase.duration_ms",
		metric.WithDescription("Per-phase wall time in milliseconds")); err != nil {
		return nil, fmt.Errorf("telemetry: create histogram: %w", err)
	}
	return m, nil
}

// RegisterGauges wires observable gauges to live process state. The callbacks
// run on the meter provider's collection interval.
func RegisterGauges(openBreakers func() int, dirtyStores func() int, roundHistory func() int, sseSubscribers func() int) error {
	meter := Meter("alphahunt")

	open, err := meter.Int64ObservableGauge("alphahunt.breakers.open",
		metric.WithDescription("Circuit breakers currently open"))
	if err != nil {
		return fmt.Errorf("telemetry: create gauge: %w", err)
	}
	dirty, err := meter.Int64ObservableGauge("alphahunt.stores.dirty",
		metric.WithDescription("State stores with unflushed changes"))
	if err != nil {
		return fmt.Errorf("telemetry: create gauge: %w", err)
	}
	rounds, err := meter.Int64ObservableGauge("alphahunt.rounds.retained",
		metric.WithDescription("Rounds held in the bounded in-memory history"))
	if err != nil {
		return fmt.Errorf("telemetry: create gauge: %w", err)
	}
	subs, err := meter.Int64ObservableGauge("alphahunt.stream.subscribers",
		metric.WithDescription("Active event stream subscribers"))
	if err != nil {
		return fmt.Errorf("telemetry: create gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(open, int64(openBreakers()))
		o.ObserveInt64(dirty, int64(dirtyStores()))
		o.ObserveInt64(rounds, int64(roundHistory()))
		o.ObserveInt64(subs, int64(sseSubscribers()))
		return nil
	}, open, dirty, rounds, subs)
	if err != nil {
		return fmt.Errorf("telemetry: register gauge callback: %w", err)
	}
	return nil
}
