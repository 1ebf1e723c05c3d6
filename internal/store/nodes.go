package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// InsertGraphNode stores an approved node. Returns false when the node id or
// its transcript already produced a node; redelivered approvals collapse here.
func (s *Store) InsertGraphNode(ctx context.Context, rec NodeRecord) (bool, error) {
	var got string
	err := s.db.QueryRow(ctx, `
		INSERT INTO graph_nodes (
		    node_id, event_id, session_id, transcript_id, parent_node_id,
		    branch_type, branch_slot, node_text, override_reason, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING
		RETURNING node_id
	`, rec.NodeID, rec.EventID, rec.SessionID, rec.TranscriptID, rec.ParentNodeID,
		rec.BranchType, rec.BranchSlot, rec.NodeText, rec.OverrideReason, rec.CreatedAt).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: insert graph node %q: %w", rec.NodeID, err)
	}
	return true, nil
}

// FetchRecentNodes returns the session's newest nodes, newest first. This is
// the projection the LLM orchestrator offers as attachment candidates.
func (s *Store) FetchRecentNodes(ctx context.Context, sessionID string, limit int) ([]NodeRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT node_id, transcript_id, parent_node_id, branch_type, branch_slot, node_text, created_at
		FROM graph_nodes
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: fetch recent nodes %q: %w", sessionID, err)
	}
	defer rows.Close()

	var records []NodeRecord
	for rows.Next() {
		rec := NodeRecord{SessionID: sessionID}
		if err := rows.Scan(&rec.NodeID, &rec.TranscriptID, &rec.ParentNodeID,
			&rec.BranchType, &rec.BranchSlot, &rec.NodeText, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan node: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate nodes: %w", err)
	}
	return records, nil
}

// FetchAllNodes returns the session's full graph in insertion order. The
// attachment policy and the snapshot hash both run over this projection.
func (s *Store) FetchAllNodes(ctx context.Context, sessionID string) ([]NodeRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT node_id, transcript_id, parent_node_id, branch_type, branch_slot, node_text, override_reason, created_at
		FROM graph_nodes
		WHERE session_id = $1
		ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: fetch all nodes %q: %w", sessionID, err)
	}
	return collectNodes(rows, sessionID)
}

// LatestNodes returns the session's newest nodes including override reasons,
// newest first. Serves the dashboard detail view.
func (s *Store) LatestNodes(ctx context.Context, sessionID string, limit int) ([]NodeRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT node_id, transcript_id, parent_node_id, branch_type, branch_slot, node_text, override_reason, created_at
		FROM graph_nodes
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: latest nodes %q: %w", sessionID, err)
	}
	return collectNodes(rows, sessionID)
}

func collectNodes(rows pgx.Rows, sessionID string) ([]NodeRecord, error) {
	defer rows.Close()
	var records []NodeRecord
	for rows.Next() {
		rec := NodeRecord{SessionID: sessionID}
		if err := rows.Scan(&rec.NodeID, &rec.TranscriptID, &rec.ParentNodeID, &rec.BranchType,
			&rec.BranchSlot, &rec.NodeText, &rec.OverrideReason, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan node: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate nodes: %w", err)
	}
	return records, nil
}
