package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// StoreSnapshot upserts the snapshot for its bucket. The row is only replaced
// when node count or hash actually changed; an unchanged snapshot reports
// false and nothing is written.
func (s *Store) StoreSnapshot(ctx context.Context, rec SnapshotRecord) (bool, error) {
	var got string
	err := s.db.QueryRow(ctx, `
		INSERT INTO snapshots (
		    snapshot_id, event_id, session_id, snapshot_bucket_ts, node_count, hash_sha256, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id, snapshot_bucket_ts) DO UPDATE
		SET snapshot_id = EXCLUDED.snapshot_id,
		    event_id = EXCLUDED.event_id,
		    node_count = EXCLUDED.node_count,
		    hash_sha256 = EXCLUDED.hash_sha256,
		    created_at = EXCLUDED.created_at,
		    inserted_at = NOW()
		WHERE snapshots.node_count <> EXCLUDED.node_count
		    OR snapshots.hash_sha256 <> EXCLUDED.hash_sha256
		RETURNING snapshot_id
	`, rec.SnapshotID, rec.EventID, rec.SessionID, rec.SnapshotBucketTS,
		rec.NodeCount, rec.HashSHA256, rec.CreatedAt).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: store snapshot %q: %w", rec.SnapshotID, err)
	}
	return true, nil
}

// LatestSnapshot returns the newest snapshot, scoped to a session when
// sessionID is non-empty. Returns nil when none exists.
func (s *Store) LatestSnapshot(ctx context.Context, sessionID string) (*SnapshotRecord, error) {
	query := `
		SELECT snapshot_id, session_id, snapshot_bucket_ts, node_count, hash_sha256, created_at
		FROM snapshots
		%s
		ORDER BY created_at DESC
		LIMIT 1
	`
	var row pgx.Row
	if sessionID != "" {
		row = s.db.QueryRow(ctx, fmt.Sprintf(query, "WHERE session_id = $1"), sessionID)
	} else {
		row = s.db.QueryRow(ctx, fmt.Sprintf(query, ""))
	}

	var rec SnapshotRecord
	err := row.Scan(&rec.SnapshotID, &rec.SessionID, &rec.SnapshotBucketTS,
		&rec.NodeCount, &rec.HashSHA256, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest snapshot: %w", err)
	}
	return &rec, nil
}
