package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
)

const progressSchema = `
CREATE TABLE IF NOT EXISTS download_progress (
	file_id    TEXT PRIMARY KEY,
	dataset    INT,
	extension  TEXT,
	status     TEXT NOT NULL DEFAULT 'pending',
	reason     TEXT,
	bytes      BIGINT NOT NULL DEFAULT 0,
	attempts   INT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Ledger keeps per-identifier progress in Postgres so an interrupted batch
// can be resumed. Entirely optional: without DB_URL only the JSON summary
// artifact is written.
type Ledger struct {
	pool *pgxpool.Pool
}

func OpenLedger(ctx context.Context, databaseURL string) (*Ledger, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid database URL: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := pool.Exec(ctx, progressSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &Ledger{pool: pool}, nil
}

func (l *Ledger) Close() {
	l.pool.Close()
}

// Seed registers identifiers as pending; already-known identifiers keep
// whatever state they reached in earlier runs.
func (l *Ledger) Seed(ctx context.Context, ids []FileID) (int64, error) {
	var seeded int64
	for _, id := range ids {
		tag, err := l.pool.Exec(ctx, `
			INSERT INTO download_progress (file_id, dataset)
			VALUES ($1, NULLIF($2, 0))
			ON CONFLICT (file_id) DO NOTHING
		`, id.ID, id.Dataset)
		if err != nil {
			return seeded, fmt.Errorf("seed %s: %w", id.ID, err)
		}
		seeded += tag.RowsAffected()
	}
	return seeded, nil
}

// Pending returns identifiers that never reached a downloaded state, in
// insertion order, with their dataset hints.
func (l *Ledger) Pending(ctx context.Context, limit int) ([]FileID, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT file_id, COALESCE(dataset, 0)
		FROM download_progress
		WHERE status IN ('pending', 'failed')
		ORDER BY updated_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []FileID
	for rows.Next() {
		var id FileID
		if err := rows.Scan(&id.ID, &id.Dataset); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Record upserts the terminal outcome for one identifier.
func (l *Ledger) Record(ctx context.Context, o Outcome) {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO download_progress (file_id, extension, status, reason, bytes, attempts, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''), $5, 1, NOW())
		ON CONFLICT (file_id) DO UPDATE SET
			extension = COALESCE(NULLIF(EXCLUDED.extension, ''), download_progress.extension),
			status = EXCLUDED.status,
			reason = EXCLUDED.reason,
			bytes = EXCLUDED.bytes,
			attempts = download_progress.attempts + 1,
			updated_at = NOW()
	`, o.ID, o.Extension, string(o.Status), string(o.Reason), o.Bytes)
	if err != nil {
		slog.Error("ledger record failed", "id", o.ID, "err", err)
	}
}

// WriteSummary drops the run statistics next to the downloads, once per run.
func WriteSummary(root string, stats RunStats) error {
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(root, "download_summary.json"), append(data, '\n'), 0o644)
}
