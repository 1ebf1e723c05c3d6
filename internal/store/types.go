package store

import (
	"time"

	"github.com/MrWong99/mindgraph/internal/graph"
)

// Session is a sessions row joined with its session_state row.
type Session struct {
	SessionID             string     `json:"session_id"`
	DeviceID              string     `json:"device_id"`
	Status                string     `json:"status"`
	StartedAt             time.Time  `json:"started_at"`
	StoppedAt             *time.Time `json:"stopped_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	CurrentMainTailNodeID *string    `json:"current_main_tail_node_id"`
	MainBranchSummary     string     `json:"main_branch_summary"`
	LastSnapshotAt        *time.Time `json:"last_snapshot_at"`
}

// Session status values.
const (
	StatusActive  = "active"
	StatusStopped = "stopped"
)

// TranscriptRecord is a transcripts row.
type TranscriptRecord struct {
	TranscriptID string    `json:"transcript_id"`
	EventID      string    `json:"event_id"`
	SessionID    string    `json:"session_id"`
	DeviceID     string    `json:"device_id"`
	SegmentID    string    `json:"segment_id"`
	Text         string    `json:"text"`
	Confidence   float64   `json:"confidence"`
	CreatedAt    time.Time `json:"created_at"`
}

// NodeRecord is a graph_nodes row.
type NodeRecord struct {
	NodeID         string    `json:"node_id"`
	EventID        string    `json:"event_id,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	TranscriptID   string    `json:"transcript_id"`
	ParentNodeID   *string   `json:"parent_node_id"`
	BranchType     string    `json:"branch_type"`
	BranchSlot     *int      `json:"branch_slot"`
	NodeText       string    `json:"node_text"`
	OverrideReason string    `json:"override_reason"`
	CreatedAt      time.Time `json:"created_at"`
}

// Graph converts the record to the projection the graph rules operate on.
func (r NodeRecord) Graph() graph.Node {
	return graph.Node{
		NodeID:       r.NodeID,
		ParentNodeID: r.ParentNodeID,
		BranchType:   r.BranchType,
		BranchSlot:   r.BranchSlot,
		NodeText:     r.NodeText,
		CreatedAt:    r.CreatedAt,
	}
}

// GraphNodes converts a record slice for the graph rules.
func GraphNodes(records []NodeRecord) []graph.Node {
	nodes := make([]graph.Node, 0, len(records))
	for _, r := range records {
		nodes = append(nodes, r.Graph())
	}
	return nodes
}

// SnapshotRecord is a snapshots row.
type SnapshotRecord struct {
	SnapshotID       string    `json:"snapshot_id"`
	EventID          string    `json:"event_id"`
	SessionID        string    `json:"session_id"`
	SnapshotBucketTS time.Time `json:"snapshot_bucket_ts"`
	NodeCount        int       `json:"node_count"`
	HashSHA256       string    `json:"hash_sha256"`
	CreatedAt        time.Time `json:"created_at"`
}
