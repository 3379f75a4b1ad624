package model

import "time"

// Protocol parameters. These are the published constants of the Alpha
// Consensus Protocol; /v1/protocol exposes them to external auditors.
const (
	// Staking.
	BaseStake = 100.0 // notional staked when an agent declares no stake
	MaxStake  = 100.0 // per-round cap on declared stake before reputation scaling

	// Settlement rates.
	RewardRate = 0.5 // returned = staked * (1 + RewardRate*confidence)
	SlashRate  = 0.5 // returned = staked * (1 - SlashRate*confidence)

	// Reputation dynamics.
	ReputationDecay  = 0.95
	CorrectReward    = 0.05
	IncorrectPenalty = 0.10
	ScoreMin         = 0.05
	ScoreMax         = 1.0
	ScoreStart       = 0.5

	// High-confidence tier: votes above the threshold earn an extra share of
	// their staked amount on agreement and lose an extra share on disagreement,
	// with an additional reputation delta on top of the base update.
	HighConfidenceThreshold = 0.7
	HighConfRewardBonus     = 0.15
	HighConfSlashExtra      = 0.20
	HighConfRepBonus        = 0.02
	HighConfRepPenalty      = 0.03

	// Consensus.
	MinWeightFloor = 0.3 // a direction must exceed this accumulated weight to win

	// Bounded history.
	ScoreHistorySize = 20
	MaxRoundHistory  = 200
	MaxEventHistory  = 500
)

// Circuit breaker parameters.
const (
	BreakerFailureThreshold = 3
	BreakerCoolDown         = 120 * time.Second
)

// EffectiveStake caps a declared stake at MaxStake and scales it by the
// agent's current reputation, preventing over-betting by low-trust agents.
func EffectiveStake(declared, reputation float64) float64 {
	if declared < 0 {
		declared = 0
	}
	if declared > MaxStake {
		declared = MaxStake
	}
	return declared * reputation
}
