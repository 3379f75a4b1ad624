// Package archive persists settled consensus rounds to SQLite for retention
// beyond the bounded in-memory history. The archive is append-only and
// optional: the engine treats insert failures as non-fatal.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/alphahunt-ai/alphahunt/internal/model"
)

// Archive is a SQLite-backed store of settled rounds.
type Archive struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the archive database at path and applies the schema.
func Open(path string, logger *slog.Logger) (*Archive, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}

	a := &Archive{db: db, logger: logger}
	if err := a.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	return a, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}

func (a *Archive) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS rounds (
    round_id TEXT PRIMARY KEY,
    topic TEXT NOT NULL,
    direction TEXT NOT NULL,
    strength REAL NOT NULL,
    quorum INTEGER NOT NULL,
    net_pnl REAL NOT NULL,
    settled_at INTEGER NOT NULL,
    payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rounds_topic ON rounds(topic);
CREATE INDEX IF NOT EXISTS idx_rounds_settled ON rounds(settled_at);`
	_, err := a.db.Exec(schema)
	return err
}

// InsertRound appends one settled round. The full round is stored as a JSON
// payload alongside the indexed summary columns.
func (a *Archive) InsertRound(ctx context.Context, round *model.Round) error {
	payload, err := json.Marshal(round)
	if err != nil {
		return fmt.Errorf("archive: marshal round: %w", err)
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO rounds (round_id, topic, direction, strength, quorum, net_pnl, settled_at, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		round.RoundID.String(), round.Topic, string(round.Consensus.Direction),
		round.Consensus.Strength, round.Consensus.Quorum,
		round.Settlement.NetPnL, round.Timestamp.Unix(), string(payload),
	)
	if err != nil {
		return fmt.Errorf("archive: insert round %s: %w", round.RoundID, err)
	}
	return nil
}

// Round retrieves one archived round by ID.
func (a *Archive) Round(ctx context.Context, id string) (*model.Round, error) {
	var payload string
	err := a.db.QueryRowContext(ctx,
		`SELECT payload FROM rounds WHERE round_id = ?`, id,
	).Scan(&payload)
	if err != nil {
		return nil, fmt.Errorf("archive: get round %s: %w", id, err)
	}
	var round model.Round
	if err := json.Unmarshal([]byte(payload), &round); err != nil {
		return nil, fmt.Errorf("archive: unmarshal round %s: %w", id, err)
	}
	return &round, nil
}

// RecentRounds returns up to limit archived rounds, most recently settled
// first. Topic filters when non-empty.
func (a *Archive) RecentRounds(ctx context.Context, topic string, limit int) ([]model.Round, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT payload FROM rounds ORDER BY settled_at DESC, round_id LIMIT ?`
	args := []any{limit}
	if topic != "" {
		query = `SELECT payload FROM rounds WHERE topic = ? ORDER BY settled_at DESC, round_id LIMIT ?`
		args = []any{topic, limit}
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("archive: list rounds: %w", err)
	}
	defer rows.Close()

	var rounds []model.Round
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("archive: scan round: %w", err)
		}
		var round model.Round
		if err := json.Unmarshal([]byte(payload), &round); err != nil {
			a.logger.Warn("archive: skipping unparseable round payload", "error", err)
			continue
		}
		rounds = append(rounds, round)
	}
	return rounds, rows.Err()
}

// CountRounds returns the total number of archived rounds.
func (a *Archive) CountRounds(ctx context.Context) (int64, error) {
	var n int64
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rounds`).Scan(&n); err != nil {
		return 0, fmt.Errorf("archive: count rounds: %w", err)
	}
	return n, nil
}
