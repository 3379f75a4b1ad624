package orchestrator

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/alphahunt-ai/alphahunt/internal/breaker"
	"github.com/alphahunt-ai/alphahunt/internal/broker"
	"github.com/alphahunt-ai/alphahunt/internal/model"
	"github.com/alphahunt-ai/alphahunt/internal/telemetry"
)

const (
	defaultCallTimeout = 5 * time.Second
	defaultMaxAttempts = 3
	defaultBaseBackoff = 200 * time.Millisecond
)

// CallStats records per-agent call observability for one hunt.
type CallStats struct {
	Duration time.Duration `json:"duration"`
	Attempts int           `json:"attempts"`
}

// RivalDecision records which agent won a contested opinion slot and why.
type RivalDecision struct {
	Slot        string  `json:"slot"`
	Winner      string  `json:"winner"`
	Loser       string  `json:"loser"`
	WinnerRatio float64 `json:"winner_ratio"` // reputation / price
	LoserRatio  float64 `json:"loser_ratio"`
}

// HuntResult is the best-effort collection of agent responses for one topic.
// Responses always carries an entry for every registered agent; nil marks an
// agent that was offline, breaker-rejected, or failed.
type HuntResult struct {
	Topic     string
	Responses map[string]*model.AgentResponse
	Rivals    []RivalDecision
	Stats     map[string]CallStats
}

// ScoreFunc reads an agent's current reputation score. Injected so the
// orchestrator stays decoupled from the ledger (tests substitute a fake).
type ScoreFunc func(key string) float64

// Orchestrator fans hunts out across the agent registry.
type Orchestrator struct {
	registry *Registry
	breakers *breaker.Registry
	score    ScoreFunc
	events   *broker.Broker
	metrics  *telemetry.Metrics // optional
	logger   *slog.Logger

	callTimeout time.Duration
	maxAttempts int
	baseBackoff time.Duration
}

// New creates an orchestrator. The broker is optional; a nil broker disables
// progress notifications.
func New(registry *Registry, breakers *breaker.Registry, score ScoreFunc, events *broker.Broker, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		registry:    registry,
		breakers:    breakers,
		score:       score,
		events:      events,
		logger:      logger,
		callTimeout: defaultCallTimeout,
		maxAttempts: defaultMaxAttempts,
		baseBackoff: defaultBaseBackoff,
	}
}

// WithCallTimeout overrides the per-call deadline. Test hook; the breaker's
// open-state cool-down is a separate timer and is not affected.
func (o *Orchestrator) WithCallTimeout(d time.Duration) *Orchestrator {
	o.callTimeout = d
	return o
}

// WithBackoff overrides retry pacing. Test hook.
func (o *Orchestrator) WithBackoff(maxAttempts int, base time.Duration) *Orchestrator {
	o.maxAttempts = maxAttempts
	o.baseBackoff = base
	return o
}

// WithMetrics attaches instrument handles for hunt and call accounting.
// A nil metrics set disables recording.
func (o *Orchestrator) WithMetrics(m *telemetry.Metrics) *Orchestrator {
	o.metrics = m
	return o
}

func (o *Orchestrator) publish(ev broker.Event) {
	if o.events != nil {
		o.events.Publish(ev)
	}
}

// HuntAll calls every registered online agent concurrently and waits for all
// calls to settle. A slow or failing agent never blocks the others, and no
// call failure is fatal to the hunt. Cancelling ctx aborts in-flight calls;
// aborted calls count as failures for the breaker but are not retried.
func (o *Orchestrator) HuntAll(ctx context.Context, topic string) *HuntResult {
	agents := o.registry.Agents()
	result := &HuntResult{
		Topic:     topic,
		Responses: make(map[string]*model.AgentResponse, len(agents)),
		Stats:     make(map[string]CallStats, len(agents)),
	}

	o.publish(broker.Event{Type: broker.TypeHuntStarted, Topic: topic,
		Detail: map[string]any{"agents": len(agents)}})
	if o.metrics != nil {
		o.metrics.HuntsStarted.Add(ctx, 1)
	}

	// Seed an entry for every registered agent before fan-out so the map is
	// not mutated structurally while call goroutines write into it.
	for _, a := range agents {
		result.Responses[a.Key()] = nil
	}

	var mu sync.Mutex
	var g errgroup.Group

	for _, a := range agents {
		if !a.Online() {
			continue
		}
		g.Go(func() error {
			resp, stats := o.callAgent(ctx, a, topic)
			mu.Lock()
			result.Responses[a.Key()] = resp
			result.Stats[a.Key()] = stats
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // per-agent errors are absorbed as nil responses

	o.resolveRivals(result)
	return result
}

// callAgent runs one agent call with breaker admission, per-call timeout, and
// bounded jittered-backoff retry for retryable failures.
func (o *Orchestrator) callAgent(ctx context.Context, a Agent, topic string) (*model.AgentResponse, CallStats) {
	key := a.Key()
	start := time.Now()
	stats := CallStats{}

	if !o.breakers.Allow(key) {
		o.logger.Debug("orchestrator: breaker rejected call", "agent", key)
		return nil, stats
	}

	o.publish(broker.Event{Type: broker.TypeAgentStarted, Topic: topic, Agent: key})

	backoff := o.baseBackoff
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		stats.Attempts = attempt
		if o.metrics != nil {
			o.metrics.AgentCalls.Add(ctx, 1)
		}

		callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
		resp, err := a.Hunt(callCtx, topic)
		cancel()

		if err == nil && resp != nil {
			o.breakers.RecordSuccess(key)
			stats.Duration = time.Since(start)
			o.publish(broker.Event{Type: broker.TypeAgentCompleted, Topic: topic, Agent: key,
				Detail: map[string]any{"attempts": attempt}})
			return resp, stats
		}

		o.breakers.RecordFailure(key)

		// A cancelled hunt aborts the call without retrying.
		if ctx.Err() != nil {
			o.logger.Debug("orchestrator: call aborted", "agent", key, "error", ctx.Err())
			break
		}
		if !retryable(err) || attempt == o.maxAttempts {
			o.logger.Warn("orchestrator: agent call failed", "agent", key,
				"attempt", attempt, "error", err)
			break
		}

		jitter := time.Duration(rand.Int64N(int64(backoff))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		o.logger.Debug("orchestrator: retrying agent call", "agent", key,
			"attempt", attempt, "backoff", backoff+jitter, "error", err)
		select {
		case <-ctx.Done():
			stats.Duration = time.Since(start)
			o.publish(broker.Event{Type: broker.TypeAgentFailed, Topic: topic, Agent: key})
			if o.metrics != nil {
				o.metrics.AgentFailures.Add(ctx, 1)
			}
			return nil, stats
		case <-time.After(backoff + jitter):
		}
		backoff *= 2
	}

	stats.Duration = time.Since(start)
	o.publish(broker.Event{Type: broker.TypeAgentFailed, Topic: topic, Agent: key,
		Detail: map[string]any{"attempts": stats.Attempts}})
	if o.metrics != nil {
		o.metrics.AgentFailures.Add(ctx, 1)
	}
	return nil, stats
}

// resolveRivals picks a winner for every contested opinion slot by
// reputation/price ratio. The loser's opinion is discarded from the slot; the
// loser itself stays eligible for the breaker and reputation systems.
func (o *Orchestrator) resolveRivals(result *HuntResult) {
	bySlot := make(map[string][]Agent)
	for _, a := range o.registry.Agents() {
		if a.Slot() == "" || result.Responses[a.Key()] == nil {
			continue
		}
		bySlot[a.Slot()] = append(bySlot[a.Slot()], a)
	}

	for slot, rivals := range bySlot {
		if len(rivals) < 2 {
			continue
		}
		winner, winnerRatio := rivals[0], o.ratio(rivals[0])
		for _, a := range rivals[1:] {
			if r := o.ratio(a); r > winnerRatio {
				winner, winnerRatio = a, r
			}
		}
		for _, a := range rivals {
			if a.Key() == winner.Key() {
				continue
			}
			loserRatio := o.ratio(a)
			result.Responses[a.Key()] = nil
			result.Rivals = append(result.Rivals, RivalDecision{
				Slot:        slot,
				Winner:      winner.Key(),
				Loser:       a.Key(),
				WinnerRatio: winnerRatio,
				LoserRatio:  loserRatio,
			})
			o.logger.Info("orchestrator: rival slot resolved", "slot", slot,
				"winner", winner.Key(), "loser", a.Key(),
				"winner_ratio", winnerRatio, "loser_ratio", loserRatio)
			o.publish(broker.Event{Type: broker.TypeRivalResolved, Topic: result.Topic,
				Detail: map[string]any{"slot": slot, "winner": winner.Key(), "loser": a.Key()}})
		}
	}
}

// ratio is the rival-resolution score: reputation over price. A free or
// unpriced agent competes at its bare reputation.
func (o *Orchestrator) ratio(a Agent) float64 {
	price := a.Price()
	if price <= 0 {
		price = 1
	}
	return o.score(a.Key()) / price
}
