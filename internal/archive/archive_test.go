package archive

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphahunt-ai/alphahunt/internal/model"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "archive.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func sampleRound(topic string, settledAt time.Time) *model.Round {
	return &model.Round{
		RoundID:   uuid.New(),
		Topic:     topic,
		Timestamp: settledAt,
		Consensus: model.ConsensusResult{
			Direction:   model.DirectionBullish,
			Strength:    0.8,
			Quorum:      3,
			TotalWeight: 99.2,
		},
		Settlement: model.SettlementResult{NetPnL: 12.5},
	}
}

func TestArchive_InsertAndGet(t *testing.T) {
	a := openTestArchive(t)

	round := sampleRound("btc", time.Now().UTC().Truncate(time.Second))
	require.NoError(t, a.InsertRound(t.Context(), round))

	got, err := a.Round(t.Context(), round.RoundID.String())
	require.NoError(t, err)
	assert.Equal(t, round.RoundID, got.RoundID)
	assert.Equal(t, "btc", got.Topic)
	assert.InDelta(t, 0.8, got.Consensus.Strength, 1e-9)
	assert.InDelta(t, 12.5, got.Settlement.NetPnL, 1e-9)
}

func TestArchive_DuplicateRoundIDRejected(t *testing.T) {
	a := openTestArchive(t)

	round := sampleRound("btc", time.Now())
	require.NoError(t, a.InsertRound(t.Context(), round))
	assert.Error(t, a.InsertRound(t.Context(), round), "round_id is the primary key")
}

func TestArchive_RecentRoundsOrderAndFilter(t *testing.T) {
	a := openTestArchive(t)

	base := time.Now().UTC()
	old := sampleRound("btc", base.Add(-2*time.Hour))
	mid := sampleRound("eth", base.Add(-time.Hour))
	recent := sampleRound("btc", base)
	for _, r := range []*model.Round{old, mid, recent} {
		require.NoError(t, a.InsertRound(t.Context(), r))
	}

	all, err := a.RecentRounds(t.Context(), "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, recent.RoundID, all[0].RoundID, "most recently settled first")
	assert.Equal(t, old.RoundID, all[2].RoundID)

	btc, err := a.RecentRounds(t.Context(), "btc", 10)
	require.NoError(t, err)
	require.Len(t, btc, 2)
	for _, r := range btc {
		assert.Equal(t, "btc", r.Topic)
	}

	limited, err := a.RecentRounds(t.Context(), "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestArchive_CountAndReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := Open(path, logger)
	require.NoError(t, err)
	require.NoError(t, a.InsertRound(t.Context(), sampleRound("btc", time.Now())))
	require.NoError(t, a.Close())

	a2, err := Open(path, logger)
	require.NoError(t, err)
	defer a2.Close()

	n, err := a2.CountRounds(t.Context())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "rows survive reopen")
}
