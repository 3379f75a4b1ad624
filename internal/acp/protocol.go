package acp

import "github.com/alphahunt-ai/alphahunt/internal/model"

// ProtocolPhase describes one phase of the protocol for external auditors.
type ProtocolPhase struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ProtocolSpec is the static, machine-readable description of the Alpha
// Consensus Protocol: phases, formulas, and thresholds. Served at
// /v1/protocol so external agents can verify the rules they are settled
// under.
type ProtocolSpec struct {
	Name       string             `json:"name"`
	Version    string             `json:"version"`
	Phases     []ProtocolPhase    `json:"phases"`
	Formulas   map[string]string  `json:"formulas"`
	Parameters map[string]float64 `json:"parameters"`
	Headers    []string           `json:"headers"`
}

// Spec returns the protocol specification dump.
func Spec() ProtocolSpec {
	return ProtocolSpec{
		Name:    "Alpha Consensus Protocol",
		Version: "1",
		Phases: []ProtocolPhase{
			{Name: "collect", Description: "Build one vote per responding agent. Protocol metadata " +
				"(direction, confidence, stake) is preferred; absent or malformed metadata falls back " +
				"to a per-kind heuristic over the agent's payload. Non-responders are excluded."},
			{Name: "consensus", Description: "Accumulate weight = effectiveStake × reputation per " +
				"direction. The direction with strictly greatest weight above the floor wins; " +
				"otherwise consensus is neutral. Neutral consensus counts every vote as agreeing."},
			{Name: "settle", Description: "Agreeing votes earn staked × (1 + rewardRate × confidence); " +
				"disagreeing votes return staked × (1 − slashRate × confidence), floored at zero. " +
				"Votes above the high-confidence threshold earn a bonus share on agreement and lose " +
				"an extra share on disagreement, with an extra reputation delta."},
		},
		Formulas: map[string]string{
			"effective_stake": "min(declaredStake, maxStake) * reputation",
			"weight":          "effectiveStake * reputation",
			"strength":        "agreeingWeight / totalWeight",
			"reward":          "staked * (1 + rewardRate*confidence) [+ highConfRewardBonus*staked]",
			"slash":           "max(0, staked * (1 - slashRate*confidence) [- highConfSlashExtra*staked])",
			"score_up":        "min(scoreMax, score*decay + correctReward) [+ highConfRepBonus]",
			"score_down":      "max(scoreMin, score*decay - incorrectPenalty) [- highConfRepPenalty]",
		},
		Parameters: map[string]float64{
			"base_stake":                model.BaseStake,
			"max_stake":                 model.MaxStake,
			"reward_rate":               model.RewardRate,
			"slash_rate":                model.SlashRate,
			"decay":                     model.ReputationDecay,
			"correct_reward":            model.CorrectReward,
			"incorrect_penalty":         model.IncorrectPenalty,
			"score_min":                 model.ScoreMin,
			"score_max":                 model.ScoreMax,
			"score_start":               model.ScoreStart,
			"high_confidence_threshold": model.HighConfidenceThreshold,
			"high_conf_reward_bonus":    model.HighConfRewardBonus,
			"high_conf_slash_extra":     model.HighConfSlashExtra,
			"high_conf_rep_bonus":       model.HighConfRepBonus,
			"high_conf_rep_penalty":     model.HighConfRepPenalty,
			"min_weight_floor":          model.MinWeightFloor,
			"max_round_history":         model.MaxRoundHistory,
			"max_event_history":         model.MaxEventHistory,
		},
		Headers: []string{"X-ACP-Version", "X-ACP-Direction", "X-ACP-Confidence", "X-ACP-Stake"},
	}
}
