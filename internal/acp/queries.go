package acp

import (
	"github.com/google/uuid"

	"github.com/alphahunt-ai/alphahunt/internal/model"
)

// RoundByID returns the round with the given ID from the bounded history.
func (e *Engine) RoundByID(id uuid.UUID) (*model.Round, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.rounds) - 1; i >= 0; i-- {
		if e.rounds[i].RoundID == id {
			r := e.rounds[i]
			return &r, true
		}
	}
	return nil, false
}

// Rounds returns up to limit rounds, most recent first.
func (e *Engine) Rounds(limit int) []model.Round {
	e.mu.Lock()
	defer e.mu.Unlock()
	if limit <= 0 || limit > len(e.rounds) {
		limit = len(e.rounds)
	}
	out := make([]model.Round, 0, limit)
	for i := len(e.rounds) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, e.rounds[i])
	}
	return out
}

// RoundCount returns the current round-history length. Observability gauge.
func (e *Engine) RoundCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.rounds)
}

// SlashLog returns one page of slash events, most recent first.
func (e *Engine) SlashLog(page, perPage int) []model.SlashEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return paginate(e.slash, page, perPage)
}

// RewardLog returns one page of reward events, most recent first.
func (e *Engine) RewardLog(page, perPage int) []model.RewardEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return paginate(e.reward, page, perPage)
}

// paginate slices a chronological log into most-recent-first pages.
// Page numbering starts at 1.
func paginate[T any](log []T, page, perPage int) []T {
	if perPage <= 0 {
		perPage = 50
	}
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * perPage
	if start >= len(log) {
		return nil
	}
	end := start + perPage
	if end > len(log) {
		end = len(log)
	}
	out := make([]T, 0, end-start)
	for i := len(log) - 1 - start; i >= len(log)-end; i-- {
		out = append(out, log[i])
	}
	return out
}

// AgentStats summarizes one agent's protocol participation, recomputed on
// demand from the bounded round history and event logs.
type AgentStats struct {
	Key           string                `json:"key"`
	Reputation    model.AgentReputation `json:"reputation"`
	Rounds        int                   `json:"rounds"`
	Agreed        int                   `json:"agreed"`
	AgreementRate float64               `json:"agreement_rate"`
	CurrentStreak int                   `json:"current_streak"` // consecutive agreements, most recent backwards
	BestStreak    int                   `json:"best_streak"`
	SlashCount    int                   `json:"slash_count"`
	RewardCount   int                   `json:"reward_count"`
	TotalSlashed  float64               `json:"total_slashed"`
	TotalRewarded float64               `json:"total_rewarded"`
}

// StatsFor derives participation statistics for one agent.
func (e *Engine) StatsFor(key string) AgentStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := AgentStats{Key: key, Reputation: e.ledger.Get(key)}

	streak := 0
	for _, round := range e.rounds {
		for _, v := range round.Votes {
			if v.Key != key {
				continue
			}
			stats.Rounds++
			if v.AgreedWithConsensus {
				stats.Agreed++
				streak++
				if streak > stats.BestStreak {
					stats.BestStreak = streak
				}
			} else {
				streak = 0
			}
		}
	}
	stats.CurrentStreak = streak
	if stats.Rounds > 0 {
		stats.AgreementRate = float64(stats.Agreed) / float64(stats.Rounds)
	}

	for _, ev := range e.slash {
		if ev.Agent == key {
			stats.SlashCount++
			stats.TotalSlashed += ev.Amount
		}
	}
	for _, ev := range e.reward {
		if ev.Agent == key {
			stats.RewardCount++
			stats.TotalRewarded += ev.Amount
		}
	}
	return stats
}

// Leaderboard returns every known agent sorted by net pnl descending.
func (e *Engine) Leaderboard() []model.AgentReputation {
	return e.ledger.Snapshot()
}
