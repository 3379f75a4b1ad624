// Package reputation maintains the per-agent trust ledger: scores, running
// hunt/correct/pnl counters, and the staking settlement that rewards
// agreement with consensus and slashes disagreement.
//
// The ledger is the single source of truth other components read reputation
// from. All mutation happens inside Settle, under one mutex, so concurrent
// hunts cannot interleave their settlement updates.
package reputation

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"log/slog"

	"github.com/google/uuid"

	"github.com/alphahunt-ai/alphahunt/internal/model"
	"github.com/alphahunt-ai/alphahunt/internal/statestore"
)

// ErrRoundSettled is returned when a round ID is replayed through Settle.
// Settlement is applied exactly once per round; replays mutate nothing.
var ErrRoundSettled = errors.New("reputation: round already settled")

// settledRoundMemory bounds the replay-guard window. Old round IDs age out
// FIFO; the round history itself is the durable audit record.
const settledRoundMemory = 512

// Entry is one agent's participation handed to Settle.
type Entry struct {
	Key        string
	Direction  model.Direction
	Confidence float64
	// Stake is the explicit staked amount (the ACP engine passes the vote's
	// effective stake). When nil, the ledger stakes
	// BaseStake * confidence * reputation.
	Stake *float64
}

// Result is the per-agent outcome of one settlement.
type Result struct {
	Key            string
	Agreed         bool
	HighConfidence bool
	Staked         float64
	Returned       float64
	ScoreBefore    float64
	ScoreAfter     float64
}

// ReputationDelta is the score movement applied by this settlement.
func (r Result) ReputationDelta() float64 { return r.ScoreAfter - r.ScoreBefore }

type ledgerState struct {
	Version       int                               `json:"version"`
	Agents        map[string]*model.AgentReputation `json:"agents"`
	SettledRounds []string                          `json:"settled_rounds,omitempty"`
}

// Ledger holds every agent's reputation, backed by a statestore blob.
type Ledger struct {
	logger *slog.Logger
	store  *statestore.Store[ledgerState]

	mu      sync.Mutex
	state   ledgerState
	settled map[string]struct{} // index over state.SettledRounds
}

// NewLedger creates a ledger backed by the named blob in dir and loads the
// persisted state (backup and defaults applied by the store on corruption).
func NewLedger(dir string, logger *slog.Logger) *Ledger {
	l := &Ledger{logger: logger}
	l.store = statestore.New(dir, "reputation", logger, func(s *ledgerState) {
		if s.Version == 0 {
			s.Version = 1
		}
		for key, rep := range s.Agents {
			if rep == nil {
				delete(s.Agents, key)
				continue
			}
			rep.Sanitize()
		}
		if len(s.SettledRounds) > settledRoundMemory {
			s.SettledRounds = s.SettledRounds[len(s.SettledRounds)-settledRoundMemory:]
		}
	})

	l.state = l.store.Load(ledgerState{Version: 1, Agents: make(map[string]*model.AgentReputation)})
	if l.state.Agents == nil {
		l.state.Agents = make(map[string]*model.AgentReputation)
	}
	l.settled = make(map[string]struct{}, len(l.state.SettledRounds))
	for _, id := range l.state.SettledRounds {
		l.settled[id] = struct{}{}
	}
	return l
}

// Store exposes the backing store for flush-manager registration.
func (l *Ledger) Store() statestore.Flusher { return l.store }

// Get returns a copy of the agent's reputation, creating the default record
// on first sight.
func (l *Ledger) Get(key string) model.AgentReputation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.getLocked(key)
}

func (l *Ledger) getLocked(key string) *model.AgentReputation {
	rep, ok := l.state.Agents[key]
	if !ok {
		rep = model.NewAgentReputation(key)
		l.state.Agents[key] = rep
	}
	return rep
}

// Score returns the agent's current trust score.
func (l *Ledger) Score(key string) float64 {
	return l.Get(key).Score
}

// Snapshot returns every agent's reputation, sorted by net pnl descending.
// This is the leaderboard order.
func (l *Ledger) Snapshot() []model.AgentReputation {
	l.mu.Lock()
	out := make([]model.AgentReputation, 0, len(l.state.Agents))
	for _, rep := range l.state.Agents {
		cp := *rep
		cp.History = append([]float64(nil), rep.History...)
		out = append(out, cp)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].PnL != out[j].PnL {
			return out[i].PnL > out[j].PnL
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Reset restores an agent's reputation to defaults. The record is kept, never
// deleted.
func (l *Ledger) Reset(key string) {
	l.mu.Lock()
	l.state.Agents[key] = model.NewAgentReputation(key)
	l.persistLocked()
	l.mu.Unlock()
	l.logger.Info("reputation: reset", "agent", key)
}

// Settle applies one round of stakes against the consensus direction and
// returns the per-agent outcomes. A consensus of neutral is treated as
// unanimous agreement. Replaying a round ID returns ErrRoundSettled without
// mutating anything.
func (l *Ledger) Settle(roundID uuid.UUID, entries []Entry, consensus model.Direction) ([]Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := roundID.String()
	if _, dup := l.settled[id]; dup {
		return nil, fmt.Errorf("%w: %s", ErrRoundSettled, id)
	}

	results := make([]Result, 0, len(entries))
	for _, e := range entries {
		results = append(results, l.settleEntryLocked(e, consensus))
	}

	l.settled[id] = struct{}{}
	l.state.SettledRounds = append(l.state.SettledRounds, id)
	if len(l.state.SettledRounds) > settledRoundMemory {
		evicted := l.state.SettledRounds[0]
		delete(l.settled, evicted)
		l.state.SettledRounds = l.state.SettledRounds[1:]
	}

	l.persistLocked()
	return results, nil
}

func (l *Ledger) settleEntryLocked(e Entry, consensus model.Direction) Result {
	rep := l.getLocked(e.Key)
	conf := model.ClampConfidence(e.Confidence)
	agreed := e.Direction == consensus || consensus == model.DirectionNeutral
	highConf := conf > model.HighConfidenceThreshold

	staked := model.BaseStake * conf * rep.Score
	if e.Stake != nil {
		staked = *e.Stake
	}

	var returned float64
	before := rep.Score
	after := before

	if agreed {
		returned = staked * (1 + model.RewardRate*conf)
		if highConf {
			returned += staked * model.HighConfRewardBonus
		}
		after = after*model.ReputationDecay + model.CorrectReward
		if highConf {
			after += model.HighConfRepBonus
		}
		rep.Correct++
	} else {
		returned = staked * (1 - model.SlashRate*conf)
		if highConf {
			returned -= staked * model.HighConfSlashExtra
		}
		if returned < 0 {
			returned = 0
		}
		after = after*model.ReputationDecay - model.IncorrectPenalty
		if highConf {
			after -= model.HighConfRepPenalty
		}
	}
	after = model.ClampScore(after)

	rep.Score = after
	rep.Hunts++
	rep.PnL += returned - staked
	rep.PushScore(after)

	return Result{
		Key:            e.Key,
		Agreed:         agreed,
		HighConfidence: highConf,
		Staked:         staked,
		Returned:       returned,
		ScoreBefore:    before,
		ScoreAfter:     after,
	}
}

// persistLocked hands a deep copy of the state to the store so the flush
// loop never observes a half-applied settlement.
func (l *Ledger) persistLocked() {
	cp := ledgerState{
		Version:       l.state.Version,
		Agents:        make(map[string]*model.AgentReputation, len(l.state.Agents)),
		SettledRounds: append([]string(nil), l.state.SettledRounds...),
	}
	if cp.Version == 0 {
		cp.Version = 1
	}
	for key, rep := range l.state.Agents {
		r := *rep
		r.History = append([]float64(nil), rep.History...)
		cp.Agents[key] = &r
	}
	l.store.Set(cp)
}
