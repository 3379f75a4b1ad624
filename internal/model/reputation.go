package model

// AgentReputation tracks one agent's historical reliability. Mutated only by
// the settlement step; never deleted (Reset restores defaults instead).
type AgentReputation struct {
	Key     string    `json:"key"`
	Score   float64   `json:"score"` // [ScoreMin, ScoreMax]
	Hunts   uint64    `json:"hunts"`
	Correct uint64    `json:"correct"`
	PnL     float64   `json:"pnl"`
	History []float64 `json:"history,omitempty"` // last ScoreHistorySize scores, oldest first
}

// NewAgentReputation returns the default reputation for a first-seen agent.
func NewAgentReputation(key string) *AgentReputation {
	return &AgentReputation{Key: key, Score: ScoreStart}
}

// ClampScore clips a reputation score into [ScoreMin, ScoreMax].
func ClampScore(s float64) float64 {
	if s < ScoreMin {
		return ScoreMin
	}
	if s > ScoreMax {
		return ScoreMax
	}
	return s
}

// PushScore appends a score to the bounded history ring, dropping the oldest
// entry when full.
func (r *AgentReputation) PushScore(score float64) {
	r.History = append(r.History, score)
	if len(r.History) > ScoreHistorySize {
		r.History = r.History[len(r.History)-ScoreHistorySize:]
	}
}

// Sanitize clamps persisted values back into bounds. Tolerates manual edits
// and partial writes from older schema versions.
func (r *AgentReputation) Sanitize() {
	r.Score = ClampScore(r.Score)
	if len(r.History) > ScoreHistorySize {
		r.History = r.History[len(r.History)-ScoreHistorySize:]
	}
	for i, s := range r.History {
		r.History[i] = ClampScore(s)
	}
	if r.Correct > r.Hunts {
		r.Correct = r.Hunts
	}
}
