package model

import "encoding/json"

// Opinion is an agent's raw output for one topic. Immutable once captured.
type Opinion struct {
	Direction     Direction `json:"direction"`
	Confidence    float64   `json:"confidence"` // [0,1]
	Signals       []string  `json:"signals,omitempty"`
	DeclaredStake *float64  `json:"declared_stake,omitempty"`
}

// ProtocolMeta carries the optional ACP response metadata an agent may attach
// to its reply. All fields are optional; absence of a usable direction or
// confidence triggers the COLLECT-phase heuristic extractor.
type ProtocolMeta struct {
	Version    string   `json:"acp_version,omitempty"`
	Direction  string   `json:"direction,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Stake      *float64 `json:"stake,omitempty"`
}

// AgentResponse is one agent's reply to a hunt, as captured by the
// orchestrator. Payload is the agent's domain-specific body, kept raw so the
// per-kind extractor can interpret it when the protocol meta is absent.
type AgentResponse struct {
	AgentKey string          `json:"agent_key"`
	Kind     AgentKind       `json:"kind"`
	Meta     *ProtocolMeta   `json:"meta,omitempty"`
	Opinion  *Opinion        `json:"opinion,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// ClampConfidence clips a confidence value into [0,1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
