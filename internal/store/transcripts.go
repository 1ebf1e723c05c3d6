package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// InsertTranscript stores a transcript row. Returns false when the transcript
// id or the (session_id, segment_id) pair already exists.
func (s *Store) InsertTranscript(ctx context.Context, rec TranscriptRecord) (bool, error) {
	var got string
	err := s.db.QueryRow(ctx, `
		INSERT INTO transcripts (
		    transcript_id, event_id, session_id, device_id, segment_id, text, confidence, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING
		RETURNING transcript_id
	`, rec.TranscriptID, rec.EventID, rec.SessionID, rec.DeviceID, rec.SegmentID,
		rec.Text, rec.Confidence, rec.CreatedAt).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: insert transcript %q: %w", rec.TranscriptID, err)
	}
	return true, nil
}

// LatestTranscripts returns the session's newest transcripts, newest first.
func (s *Store) LatestTranscripts(ctx context.Context, sessionID string, limit int) ([]TranscriptRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT transcript_id, segment_id, text, confidence, created_at
		FROM transcripts
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: latest transcripts %q: %w", sessionID, err)
	}
	defer rows.Close()

	var records []TranscriptRecord
	for rows.Next() {
		rec := TranscriptRecord{SessionID: sessionID}
		if err := rows.Scan(&rec.TranscriptID, &rec.SegmentID, &rec.Text, &rec.Confidence, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan transcript: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate transcripts: %w", err)
	}
	return records, nil
}
