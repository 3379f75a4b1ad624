// Package model defines the shared data types for the consensus engine:
// agent opinions, protocol votes, rounds, and the reputation ledger entries.
package model

import "fmt"

// Direction is an agent's directional call on a topic.
type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
	DirectionNeutral Direction = "neutral"
)

// ParseDirection normalizes a raw direction string. Unknown values are an error
// so callers can decide between rejecting and falling back to neutral.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case DirectionBullish, DirectionBearish, DirectionNeutral:
		return Direction(s), nil
	default:
		return "", fmt.Errorf("model: unknown direction %q", s)
	}
}

// AgentKind selects the COLLECT-phase fallback extractor for an agent's
// raw payload. Every kind has exactly one extractor; see acp.extractVote.
type AgentKind string

const (
	KindMarket    AgentKind = "market"
	KindNews      AgentKind = "news"
	KindOnchain   AgentKind = "onchain"
	KindSentiment AgentKind = "sentiment"
	KindExternal  AgentKind = "external"
)

// ValidateAgentKey checks that an agent key conforms to the allowed format.
// Keys must be 1-255 ASCII characters: alphanumeric, dots, hyphens,
// underscores, and @ signs.
func ValidateAgentKey(key string) error {
	if len(key) == 0 {
		return fmt.Errorf("agent key is required")
	}
	if len(key) > 255 {
		return fmt.Errorf("agent key must be at most 255 characters")
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') &&
			c != '.' && c != '-' && c != '_' && c != '@' {
			return fmt.Errorf("agent key contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}
