package store

import (
	"context"
	"fmt"
)

// The schema makes every idempotency key an explicit constraint:
// sessions and session_state key on session_id, transcripts additionally on
// (session_id, segment_id), graph_nodes on transcript_id (one approved node
// per transcript), snapshots on (session_id, snapshot_bucket_ts).

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id  TEXT         PRIMARY KEY,
    device_id   TEXT         NOT NULL,
    status      TEXT         NOT NULL,
    started_at  TIMESTAMPTZ  NOT NULL,
    stopped_at  TIMESTAMPTZ,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sessions_status_updated
    ON sessions (status, updated_at DESC);
`

const ddlSessionState = `
CREATE TABLE IF NOT EXISTS session_state (
    session_id                 TEXT         PRIMARY KEY,
    current_main_tail_node_id  TEXT,
    main_branch_summary        TEXT         NOT NULL DEFAULT '',
    last_snapshot_at           TIMESTAMPTZ,
    updated_at                 TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlTranscripts = `
CREATE TABLE IF NOT EXISTS transcripts (
    transcript_id  TEXT              PRIMARY KEY,
    event_id       TEXT              NOT NULL,
    session_id     TEXT              NOT NULL,
    device_id      TEXT              NOT NULL,
    segment_id     TEXT              NOT NULL,
    text           TEXT              NOT NULL,
    confidence     DOUBLE PRECISION  NOT NULL,
    created_at     TIMESTAMPTZ       NOT NULL,
    UNIQUE (session_id, segment_id)
);

CREATE INDEX IF NOT EXISTS idx_transcripts_session_created
    ON transcripts (session_id, created_at DESC);
`

const ddlGraphNodes = `
CREATE TABLE IF NOT EXISTS graph_nodes (
    node_id          TEXT         PRIMARY KEY,
    event_id         TEXT         NOT NULL,
    session_id       TEXT         NOT NULL,
    transcript_id    TEXT         NOT NULL UNIQUE,
    parent_node_id   TEXT,
    branch_type      TEXT         NOT NULL,
    branch_slot      INTEGER,
    node_text        TEXT         NOT NULL,
    override_reason  TEXT         NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_graph_nodes_session_created
    ON graph_nodes (session_id, created_at);
`

const ddlSnapshots = `
CREATE TABLE IF NOT EXISTS snapshots (
    snapshot_id         TEXT         PRIMARY KEY,
    event_id            TEXT         NOT NULL,
    session_id          TEXT         NOT NULL,
    snapshot_bucket_ts  TIMESTAMPTZ  NOT NULL,
    node_count          INTEGER      NOT NULL,
    hash_sha256         TEXT         NOT NULL,
    created_at          TIMESTAMPTZ  NOT NULL,
    inserted_at         TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (session_id, snapshot_bucket_ts)
);

CREATE INDEX IF NOT EXISTS idx_snapshots_session_created
    ON snapshots (session_id, created_at DESC);
`

// migrate creates all tables and indexes. Statements are idempotent, so
// every agent can run the migration at startup.
func (s *Store) migrate(ctx context.Context) error {
	for _, ddl := range []string{ddlSessions, ddlSessionState, ddlTranscripts, ddlGraphNodes, ddlSnapshots} {
		if _, err := s.db.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}
