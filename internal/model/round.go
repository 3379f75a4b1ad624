package model

import (
	"time"

	"github.com/google/uuid"
)

// Vote is one agent's participation in a consensus round. EffectiveStake and
// Weight are derived during the CONSENSUS phase, never set directly.
type Vote struct {
	Key                 string    `json:"key"`
	Direction           Direction `json:"direction"`
	Confidence          float64   `json:"confidence"`
	DeclaredStake       float64   `json:"declared_stake"`
	EffectiveStake      float64   `json:"effective_stake"`
	Reputation          float64   `json:"reputation"`
	Weight              float64   `json:"weight"`
	AgreedWithConsensus bool      `json:"agreed_with_consensus"`
	FromProtocolHeader  bool      `json:"from_protocol_header"`
}

// ConsensusResult is the outcome of the CONSENSUS phase.
// Invariants: sum(WeightBreakdown) == TotalWeight within floating rounding,
// and Strength == agreeing weight / TotalWeight (0 when there are no votes).
type ConsensusResult struct {
	Direction       Direction             `json:"direction"`
	Strength        float64               `json:"strength"` // [0,1]
	Unanimity       bool                  `json:"unanimity"`
	Quorum          uint                  `json:"quorum"` // agents that actually responded
	TotalWeight     float64               `json:"total_weight"`
	WeightBreakdown map[Direction]float64 `json:"weight_breakdown"`
}

// SettlementResult is the outcome of the SETTLE phase.
// Invariant: NetPnL == TotalReturned - TotalStaked, and every vote contributes
// to exactly one of SlashedAgents/RewardedAgents.
type SettlementResult struct {
	TotalStaked    float64       `json:"total_staked"`
	TotalReturned  float64       `json:"total_returned"`
	NetPnL         float64       `json:"net_pnl"`
	SlashedAgents  []string      `json:"slashed_agents"`
	RewardedAgents []string      `json:"rewarded_agents"`
	SlashEvents    []SlashEvent  `json:"slash_events,omitempty"`
	RewardEvents   []RewardEvent `json:"reward_events,omitempty"`
}

// PhaseTimings captures per-phase wall time for observability.
type PhaseTimings struct {
	CollectMs   int64 `json:"collect_ms"`
	ConsensusMs int64 `json:"consensus_ms"`
	SettleMs    int64 `json:"settle_ms"`
}

// Round is one completed consensus round. Immutable once written; appended to
// a bounded history (MaxRoundHistory) with FIFO eviction.
type Round struct {
	RoundID    uuid.UUID        `json:"round_id"`
	Topic      string           `json:"topic"`
	Timestamp  time.Time        `json:"timestamp"`
	Timings    PhaseTimings     `json:"phase_timings"`
	Votes      []Vote           `json:"votes"`
	Consensus  ConsensusResult  `json:"consensus"`
	Settlement SettlementResult `json:"settlement"`
}
