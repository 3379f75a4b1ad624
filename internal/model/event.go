package model

import (
	"time"

	"github.com/google/uuid"
)

// SlashEvent records one agent's loss in a settled round. Append-only,
// bounded to the last MaxEventHistory entries.
type SlashEvent struct {
	RoundID         uuid.UUID `json:"round_id"`
	Agent           string    `json:"agent"`
	Reason          string    `json:"reason"`
	Amount          float64   `json:"amount"` // staked - returned, always >= 0
	ReputationDelta float64   `json:"reputation_delta"`
	Timestamp       time.Time `json:"timestamp"`
}

// RewardEvent records one agent's gain in a settled round. Append-only,
// bounded to the last MaxEventHistory entries.
type RewardEvent struct {
	RoundID         uuid.UUID `json:"round_id"`
	Agent           string    `json:"agent"`
	Reason          string    `json:"reason"`
	Amount          float64   `json:"amount"` // returned - staked, always >= 0
	ReputationDelta float64   `json:"reputation_delta"`
	Timestamp       time.Time `json:"timestamp"`
}
