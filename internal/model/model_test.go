package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDirection(t *testing.T) {
	tests := []struct {
		input   string
		want    Direction
		wantErr bool
	}{
		{"bullish", DirectionBullish, false},
		{"bearish", DirectionBearish, false},
		{"neutral", DirectionNeutral, false},
		{"", "", true},
		{"BULLISH", "", true},
		{"sideways", "", true},
	}
	for _, tt := range tests {
		got, err := ParseDirection(tt.input)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.input)
			continue
		}
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.want, got)
	}
}

func TestValidateAgentKey(t *testing.T) {
	assert.NoError(t, ValidateAgentKey("market-agent.v2"))
	assert.NoError(t, ValidateAgentKey("ops@example"))
	assert.Error(t, ValidateAgentKey(""))
	assert.Error(t, ValidateAgentKey("has space"))
	assert.Error(t, ValidateAgentKey(string(make([]byte, 256))))
}

func TestEffectiveStake(t *testing.T) {
	tests := []struct {
		name       string
		declared   float64
		reputation float64
		want       float64
	}{
		{"under cap", 90, 0.8, 72},
		{"under cap mid rep", 60, 0.6, 36},
		{"under cap low rep", 80, 0.5, 40},
		{"over cap clamps to max", 500, 0.5, 50},
		{"negative clamps to zero", -10, 0.9, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, EffectiveStake(tt.declared, tt.reputation), 1e-9)
		})
	}
}

func TestEffectiveStakeBounds(t *testing.T) {
	// effectiveStake <= declaredStake and <= MaxStake * reputation, always.
	for _, declared := range []float64{0, 1, 50, 99.9, 100, 250} {
		for _, rep := range []float64{ScoreMin, 0.3, 0.5, 0.8, ScoreMax} {
			eff := EffectiveStake(declared, rep)
			assert.LessOrEqual(t, eff, declared+1e-9)
			assert.LessOrEqual(t, eff, MaxStake*rep+1e-9)
		}
	}
}

func TestPushScoreBounded(t *testing.T) {
	r := NewAgentReputation("a")
	for i := 0; i < ScoreHistorySize*2; i++ {
		r.PushScore(float64(i))
	}
	require.Len(t, r.History, ScoreHistorySize)
	// Oldest entries dropped first.
	assert.Equal(t, float64(ScoreHistorySize), r.History[0])
	assert.Equal(t, float64(ScoreHistorySize*2-1), r.History[ScoreHistorySize-1])
}

func TestSanitizeClampsPersistedValues(t *testing.T) {
	r := &AgentReputation{
		Key:     "edited-by-hand",
		Score:   7.5,
		Hunts:   3,
		Correct: 9,
		History: []float64{-1, 0.5, 2.0},
	}
	r.Sanitize()
	assert.Equal(t, ScoreMax, r.Score)
	assert.Equal(t, r.Hunts, r.Correct)
	assert.Equal(t, []float64{ScoreMin, 0.5, ScoreMax}, r.History)
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.0, ClampConfidence(-0.3))
	assert.Equal(t, 1.0, ClampConfidence(1.7))
	assert.Equal(t, 0.42, ClampConfidence(0.42))
}
