// Package acp implements the Alpha Consensus Protocol: a three-phase round
// (COLLECT → CONSENSUS → SETTLE) over the orchestrator's agent responses.
//
// COLLECT turns raw responses into votes, preferring protocol metadata and
// falling back to per-kind heuristics. CONSENSUS accumulates
// reputation-weighted stake per direction and declares a winner above the
// weight floor. SETTLE pays rewards and slashes through the reputation
// ledger and appends audit events. No collection failure ever aborts a
// round; the round completes with whatever quorum responded.
package acp

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/alphahunt-ai/alphahunt/internal/broker"
	"github.com/alphahunt-ai/alphahunt/internal/model"
	"github.com/alphahunt-ai/alphahunt/internal/reputation"
	"github.com/alphahunt-ai/alphahunt/internal/statestore"
	"github.com/alphahunt-ai/alphahunt/internal/telemetry"
)

// Archiver receives settled rounds for long-term storage beyond the bounded
// in-memory window. Optional; inserts are non-fatal.
type Archiver interface {
	InsertRound(ctx context.Context, round *model.Round) error
}

type roundState struct {
	Version int           `json:"version"`
	Rounds  []model.Round `json:"rounds"`
}

type eventState struct {
	Version int                 `json:"version"`
	Slashes []model.SlashEvent  `json:"slashes"`
	Rewards []model.RewardEvent `json:"rewards"`
}

// Engine runs consensus rounds and owns the bounded round/event history.
type Engine struct {
	logger  *slog.Logger
	ledger  *reputation.Ledger
	events  *broker.Broker     // optional
	archive Archiver           // optional
	metrics *telemetry.Metrics // optional

	roundStore *statestore.Store[roundState]
	eventStore *statestore.Store[eventState]

	// mu serializes rounds: two concurrent hunts must not interleave their
	// settlement updates or history appends.
	mu     sync.Mutex
	rounds []model.Round
	slash  []model.SlashEvent
	reward []model.RewardEvent
}

// NewEngine creates the engine and loads persisted round/event history from
// dir. Broker and archiver are optional (nil disables them).
func NewEngine(dir string, ledger *reputation.Ledger, events *broker.Broker, archive Archiver, logger *slog.Logger) *Engine {
	e := &Engine{logger: logger, ledger: ledger, events: events, archive: archive}

	e.roundStore = statestore.New(dir, "rounds", logger, func(s *roundState) {
		if s.Version == 0 {
			s.Version = 1
		}
		if len(s.Rounds) > model.MaxRoundHistory {
			s.Rounds = s.Rounds[len(s.Rounds)-model.MaxRoundHistory:]
		}
	})
	e.eventStore = statestore.New(dir, "events", logger, func(s *eventState) {
		if s.Version == 0 {
			s.Version = 1
		}
		if len(s.Slashes) > model.MaxEventHistory {
			s.Slashes = s.Slashes[len(s.Slashes)-model.MaxEventHistory:]
		}
		if len(s.Rewards) > model.MaxEventHistory {
			s.Rewards = s.Rewards[len(s.Rewards)-model.MaxEventHistory:]
		}
	})

	rs := e.roundStore.Load(roundState{Version: 1})
	es := e.eventStore.Load(eventState{Version: 1})
	e.rounds = rs.Rounds
	e.slash = es.Slashes
	e.reward = es.Rewards
	return e
}

// WithMetrics attaches settlement instruments. A nil metrics set disables
// recording.
func (e *Engine) WithMetrics(m *telemetry.Metrics) *Engine {
	e.metrics = m
	return e
}

// Stores exposes the backing stores for flush-manager registration.
func (e *Engine) Stores() []statestore.Flusher {
	return []statestore.Flusher{e.roundStore, e.eventStore}
}

func (e *Engine) publish(ev broker.Event) {
	if e.events != nil {
		e.events.Publish(ev)
	}
}

// RunRound executes one full consensus round over the supplied agent
// responses. Nil responses (failed/absent agents) are excluded from the
// round. Once SETTLE begins it runs to completion regardless of ctx; the
// caller's cancellation only affects work before settlement and the
// after-the-fact archive insert.
func (e *Engine) RunRound(ctx context.Context, topic string, responses map[string]*model.AgentResponse) (*model.Round, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	roundID := uuid.New()

	// COLLECT
	collectStart := time.Now()
	drafts := e.collect(responses)
	collectDur := time.Since(collectStart)
	e.publish(broker.Event{Type: broker.TypePhaseCompleted, RoundID: roundID.String(),
		Topic: topic, Phase: "collect", Detail: map[string]any{"quorum": len(drafts)}})

	// CONSENSUS
	consensusStart := time.Now()
	votes, consensus := e.consensus(drafts)
	consensusDur := time.Since(consensusStart)
	e.publish(broker.Event{Type: broker.TypePhaseCompleted, RoundID: roundID.String(),
		Topic: topic, Phase: "consensus", Detail: map[string]any{
			"direction": string(consensus.Direction), "strength": consensus.Strength}})

	// SETTLE, non-cancellable once started.
	settleStart := time.Now()
	settlement, err := e.settle(roundID, votes, consensus.Direction)
	if err != nil {
		return nil, fmt.Errorf("acp: settle round %s: %w", roundID, err)
	}
	settleDur := time.Since(settleStart)
	e.publish(broker.Event{Type: broker.TypePhaseCompleted, RoundID: roundID.String(),
		Topic: topic, Phase: "settle", Detail: map[string]any{"net_pnl": settlement.NetPnL}})

	round := &model.Round{
		RoundID:   roundID,
		Topic:     topic,
		Timestamp: time.Now().UTC(),
		Timings: model.PhaseTimings{
			CollectMs:   collectDur.Milliseconds(),
			ConsensusMs: consensusDur.Milliseconds(),
			SettleMs:    settleDur.Milliseconds(),
		},
		Votes:      votes,
		Consensus:  *consensus,
		Settlement: *settlement,
	}

	e.appendRoundLocked(round)
	e.persistLocked()

	e.logger.Info("acp: round settled",
		"round_id", roundID, "topic", topic,
		"direction", consensus.Direction, "strength", consensus.Strength,
		"quorum", consensus.Quorum, "net_pnl", settlement.NetPnL)

	e.publish(broker.Event{Type: broker.TypeRoundSettled, RoundID: roundID.String(),
		Topic: topic, Detail: map[string]any{
			"direction": string(consensus.Direction),
			"quorum":    consensus.Quorum,
			"net_pnl":   settlement.NetPnL,
		}})

	if e.metrics != nil {
		e.metrics.RoundsSettled.Add(ctx, 1)
		e.metrics.SlashesApplied.Add(ctx, int64(len(settlement.SlashedAgents)))
		e.metrics.RewardsApplied.Add(ctx, int64(len(settlement.RewardedAgents)))
		for phase, d := range map[string]time.Duration{
			"collect":   collectDur,
			"consensus": consensusDur,
			"settle":    settleDur,
		} {
			e.metrics.PhaseDurationMs.Record(ctx, float64(d.Microseconds())/1000,
				otelmetric.WithAttributes(attribute.String("phase", phase)))
		}
	}

	if e.archive != nil {
		// Archive after commit; survives caller cancellation.
		if err := e.archive.InsertRound(context.WithoutCancel(ctx), round); err != nil {
			e.logger.Warn("acp: archive insert failed", "round_id", roundID, "error", err)
		}
	}

	return round, nil
}

// collect builds vote drafts from the responding agents, in stable key order.
func (e *Engine) collect(responses map[string]*model.AgentResponse) []draft {
	keys := make([]string, 0, len(responses))
	for key, resp := range responses {
		if resp != nil {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	drafts := make([]draft, 0, len(keys))
	for _, key := range keys {
		d := collectVote(responses[key])
		if !d.fromHeader {
			e.logger.Debug("acp: collect fell back to heuristic", "agent", key,
				"direction", d.direction, "confidence", d.confidence)
		}
		drafts = append(drafts, d)
	}
	return drafts
}

// consensus derives per-vote weights and declares the consensus direction:
// the direction with strictly greatest accumulated weight above the floor,
// else neutral. Zero quorum yields neutral with strength 0.
func (e *Engine) consensus(drafts []draft) ([]model.Vote, *model.ConsensusResult) {
	votes := make([]model.Vote, 0, len(drafts))
	breakdown := map[model.Direction]float64{
		model.DirectionBullish: 0,
		model.DirectionBearish: 0,
		model.DirectionNeutral: 0,
	}
	total := 0.0

	for _, d := range drafts {
		rep := e.ledger.Score(d.key)
		eff := model.EffectiveStake(d.declaredStake, rep)
		weight := eff * rep
		breakdown[d.direction] += weight
		total += weight
		votes = append(votes, model.Vote{
			Key:                d.key,
			Direction:          d.direction,
			Confidence:         d.confidence,
			DeclaredStake:      d.declaredStake,
			EffectiveStake:     eff,
			Reputation:         rep,
			Weight:             weight,
			FromProtocolHeader: d.fromHeader,
		})
	}

	winner := model.DirectionNeutral
	if total > 0 {
		best, bestWeight, tie := model.DirectionNeutral, 0.0, false
		for _, dir := range []model.Direction{model.DirectionBullish, model.DirectionBearish, model.DirectionNeutral} {
			w := breakdown[dir]
			switch {
			case w > bestWeight:
				best, bestWeight, tie = dir, w, false
			case w == bestWeight && w > 0:
				tie = true
			}
		}
		if !tie && bestWeight > model.MinWeightFloor {
			winner = best
		}
	}

	agreeing := 0.0
	unanimity := len(votes) > 0
	for i := range votes {
		agreed := votes[i].Direction == winner || winner == model.DirectionNeutral
		votes[i].AgreedWithConsensus = agreed
		if agreed {
			agreeing += votes[i].Weight
		} else {
			unanimity = false
		}
	}

	strength := 0.0
	if total > 0 {
		strength = agreeing / total
	}

	return votes, &model.ConsensusResult{
		Direction:       winner,
		Strength:        strength,
		Unanimity:       unanimity,
		Quorum:          uint(len(votes)),
		TotalWeight:     total,
		WeightBreakdown: breakdown,
	}
}

// settle commits the round's stakes to the ledger and builds the audit
// events. Every vote contributes to exactly one of slash/reward.
func (e *Engine) settle(roundID uuid.UUID, votes []model.Vote, consensus model.Direction) (*model.SettlementResult, error) {
	entries := make([]reputation.Entry, 0, len(votes))
	for i := range votes {
		stake := votes[i].EffectiveStake
		entries = append(entries, reputation.Entry{
			Key:        votes[i].Key,
			Direction:  votes[i].Direction,
			Confidence: votes[i].Confidence,
			Stake:      &stake,
		})
	}

	results, err := e.ledger.Settle(roundID, entries, consensus)
	if err != nil {
		return nil, err
	}

	s := &model.SettlementResult{}
	now := time.Now().UTC()
	for _, r := range results {
		s.TotalStaked += r.Staked
		s.TotalReturned += r.Returned
		if r.Agreed {
			reason := fmt.Sprintf("agreed with %s consensus", consensus)
			if r.HighConfidence {
				reason += " (high-confidence bonus)"
			}
			ev := model.RewardEvent{
				RoundID:         roundID,
				Agent:           r.Key,
				Reason:          reason,
				Amount:          r.Returned - r.Staked,
				ReputationDelta: r.ReputationDelta(),
				Timestamp:       now,
			}
			s.RewardedAgents = append(s.RewardedAgents, r.Key)
			s.RewardEvents = append(s.RewardEvents, ev)
		} else {
			reason := fmt.Sprintf("disagreed with %s consensus", consensus)
			if r.HighConfidence {
				reason += " (high-confidence penalty)"
			}
			ev := model.SlashEvent{
				RoundID:         roundID,
				Agent:           r.Key,
				Reason:          reason,
				Amount:          r.Staked - r.Returned,
				ReputationDelta: r.ReputationDelta(),
				Timestamp:       now,
			}
			s.SlashedAgents = append(s.SlashedAgents, r.Key)
			s.SlashEvents = append(s.SlashEvents, ev)
		}
	}
	s.NetPnL = s.TotalReturned - s.TotalStaked

	e.slash = append(e.slash, s.SlashEvents...)
	if len(e.slash) > model.MaxEventHistory {
		e.slash = e.slash[len(e.slash)-model.MaxEventHistory:]
	}
	e.reward = append(e.reward, s.RewardEvents...)
	if len(e.reward) > model.MaxEventHistory {
		e.reward = e.reward[len(e.reward)-model.MaxEventHistory:]
	}

	return s, nil
}

func (e *Engine) appendRoundLocked(round *model.Round) {
	e.rounds = append(e.rounds, *round)
	if len(e.rounds) > model.MaxRoundHistory {
		e.rounds = e.rounds[len(e.rounds)-model.MaxRoundHistory:]
	}
}

// persistLocked hands copies of the bounded logs to the stores; the flush
// manager writes them out on its debounce interval and at shutdown.
func (e *Engine) persistLocked() {
	e.roundStore.Set(roundState{
		Version: 1,
		Rounds:  append([]model.Round(nil), e.rounds...),
	})
	e.eventStore.Set(eventState{
		Version: 1,
		Slashes: append([]model.SlashEvent(nil), e.slash...),
		Rewards: append([]model.RewardEvent(nil), e.reward...),
	})
}
