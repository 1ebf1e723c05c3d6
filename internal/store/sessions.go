package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const sessionColumns = `s.session_id, s.device_id, s.status, s.started_at, s.stopped_at, s.updated_at,
       ss.current_main_tail_node_id, COALESCE(ss.main_branch_summary, ''), ss.last_snapshot_at`

// StartSession activates the session, creating it on first sight. A session
// already active is left untouched and reported as false; a stopped session
// is reactivated, keeping the earliest start time but rebinding to the new
// device. The session_state row is created lazily alongside.
func (s *Store) StartSession(ctx context.Context, sessionID, deviceID string, startedAt time.Time) (bool, error) {
	var got string
	err := s.db.QueryRow(ctx, `
		INSERT INTO sessions (session_id, device_id, status, started_at, updated_at)
		VALUES ($1, $2, 'active', $3, NOW())
		ON CONFLICT (session_id) DO UPDATE
		SET status = 'active',
		    device_id = EXCLUDED.device_id,
		    started_at = LEAST(sessions.started_at, EXCLUDED.started_at),
		    stopped_at = NULL,
		    updated_at = NOW()
		WHERE sessions.status <> 'active'
		RETURNING session_id
	`, sessionID, deviceID, startedAt).Scan(&got)
	transitioned := true
	if errors.Is(err, pgx.ErrNoRows) {
		transitioned = false
	} else if err != nil {
		return false, fmt.Errorf("store: start session %q: %w", sessionID, err)
	}

	if _, err := s.db.Exec(ctx, `
		INSERT INTO session_state (session_id)
		VALUES ($1)
		ON CONFLICT (session_id) DO NOTHING
	`, sessionID); err != nil {
		return false, fmt.Errorf("store: init session state %q: %w", sessionID, err)
	}
	return transitioned, nil
}

// StopSession marks the session stopped. Returns false when the session is
// unknown or already stopped.
func (s *Store) StopSession(ctx context.Context, sessionID string, stoppedAt time.Time) (bool, error) {
	var got string
	err := s.db.QueryRow(ctx, `
		UPDATE sessions
		SET status = 'stopped', stopped_at = $1, updated_at = NOW()
		WHERE session_id = $2 AND status <> 'stopped'
		RETURNING session_id
	`, stoppedAt, sessionID).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: stop session %q: %w", sessionID, err)
	}
	return true, nil
}

// GetSession loads a session with its state, or nil when unknown.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions s
		LEFT JOIN session_state ss ON ss.session_id = s.session_id
		WHERE s.session_id = $1
	`, sessionID)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get session %q: %w", sessionID, err)
	}
	return &sess, nil
}

// ListSessions returns the most recently updated sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions s
		LEFT JOIN session_state ss ON ss.session_id = s.session_id
		ORDER BY s.updated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	return collectSessions(rows)
}

// ListActiveSessions returns every active session, newest first.
func (s *Store) ListActiveSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions s
		LEFT JOIN session_state ss ON ss.session_id = s.session_id
		WHERE s.status = 'active'
		ORDER BY s.updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list active sessions: %w", err)
	}
	return collectSessions(rows)
}

// UpdateSessionState upserts the derived per-session state. A nil
// lastSnapshotAt keeps the existing snapshot time.
func (s *Store) UpdateSessionState(ctx context.Context, sessionID string, mainTailNodeID *string, summary string, lastSnapshotAt *time.Time) error {
	if _, err := s.db.Exec(ctx, `
		INSERT INTO session_state (session_id, current_main_tail_node_id, main_branch_summary, last_snapshot_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (session_id) DO UPDATE
		SET current_main_tail_node_id = EXCLUDED.current_main_tail_node_id,
		    main_branch_summary = EXCLUDED.main_branch_summary,
		    last_snapshot_at = COALESCE(EXCLUDED.last_snapshot_at, session_state.last_snapshot_at),
		    updated_at = NOW()
	`, sessionID, mainTailNodeID, summary, lastSnapshotAt); err != nil {
		return fmt.Errorf("store: update session state %q: %w", sessionID, err)
	}
	return nil
}

// MarkSnapshotTime records when the session's graph was last fingerprinted.
func (s *Store) MarkSnapshotTime(ctx context.Context, sessionID string, at time.Time) error {
	if _, err := s.db.Exec(ctx, `
		UPDATE session_state
		SET last_snapshot_at = $1, updated_at = NOW()
		WHERE session_id = $2
	`, at, sessionID); err != nil {
		return fmt.Errorf("store: mark snapshot time %q: %w", sessionID, err)
	}
	return nil
}

func scanSession(row pgx.Row) (Session, error) {
	var sess Session
	err := row.Scan(
		&sess.SessionID,
		&sess.DeviceID,
		&sess.Status,
		&sess.StartedAt,
		&sess.StoppedAt,
		&sess.UpdatedAt,
		&sess.CurrentMainTailNodeID,
		&sess.MainBranchSummary,
		&sess.LastSnapshotAt,
	)
	return sess, err
}

func collectSessions(rows pgx.Rows) ([]Session, error) {
	defer rows.Close()
	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate sessions: %w", err)
	}
	return sessions, nil
}
