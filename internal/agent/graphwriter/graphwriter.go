// Package graphwriter implements the graph writer agent: the only writer of
// graph nodes. It persists approved attachments and refreshes the session's
// derived state (main tail, main-branch summary) after every insert.
package graphwriter

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/mindgraph/internal/event"
	"github.com/MrWong99/mindgraph/internal/graph"
	"github.com/MrWong99/mindgraph/internal/observe"
	"github.com/MrWong99/mindgraph/internal/store"
)

// AgentName identifies this agent in heartbeats and metrics.
const AgentName = "graph-writer"

// nodeStore is the slice of the store this agent needs.
type nodeStore interface {
	InsertGraphNode(ctx context.Context, rec store.NodeRecord) (bool, error)
	FetchAllNodes(ctx context.Context, sessionID string) ([]store.NodeRecord, error)
	UpdateSessionState(ctx context.Context, sessionID string, mainTailNodeID *string, summary string, lastSnapshotAt *time.Time) error
}

// toucher marks the agent as having processed work.
type toucher interface {
	Touch()
}

// Agent is the graph writer.
type Agent struct {
	store   nodeStore
	hb      toucher
	metrics *observe.Metrics
	logger  *slog.Logger
}

// New creates the graph writer agent.
func New(st nodeStore, hb toucher, metrics *observe.Metrics, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{store: st, hb: hb, metrics: metrics, logger: logger}
}

// Topics returns the subscriptions this agent needs.
func (a *Agent) Topics() []string {
	return []string{event.TopicTreeApproved}
}

// HandleEvent persists one approved node. The insert is keyed on the
// transcript, so a redelivered approval writes nothing and the derived state
// is left untouched.
func (a *Agent) HandleEvent(ctx context.Context, topic string, env event.Envelope) {
	if topic != event.TopicTreeApproved {
		return
	}

	var approved event.TreeApproved
	if err := env.DecodePayload(&approved); err != nil {
		a.logger.Error("decode approved node", "error", err)
		a.metrics.RecordDrop(ctx, AgentName, "malformed")
		return
	}

	inserted, err := a.store.InsertGraphNode(ctx, store.NodeRecord{
		NodeID:         approved.NodeID,
		EventID:        env.EventID,
		SessionID:      env.SessionID,
		TranscriptID:   approved.TranscriptID,
		ParentNodeID:   approved.ParentNodeID,
		BranchType:     approved.BranchType,
		BranchSlot:     approved.BranchSlot,
		NodeText:       approved.NodeText,
		OverrideReason: approved.OverrideReason,
		CreatedAt:      env.CreatedAt,
	})
	if err != nil {
		a.logger.Error("insert graph node", "node_id", approved.NodeID, "error", err)
		return
	}
	if !inserted {
		a.logger.Info("duplicate approved node ignored", "transcript_id", approved.TranscriptID)
		a.metrics.RecordDrop(ctx, AgentName, "duplicate_node")
		return
	}
	a.metrics.NodesWritten.Add(ctx, 1)

	records, err := a.store.FetchAllNodes(ctx, env.SessionID)
	if err != nil {
		a.logger.Error("fetch graph for state refresh", "session_id", env.SessionID, "error", err)
		return
	}
	nodes := store.GraphNodes(records)
	if err := a.store.UpdateSessionState(ctx, env.SessionID,
		graph.FindMainTail(nodes), graph.BuildMainBranchSummary(nodes), nil); err != nil {
		a.logger.Error("update session state", "session_id", env.SessionID, "error", err)
		return
	}
	a.metrics.RecordEvent(ctx, AgentName, event.TopicTreeApproved)
	a.hb.Touch()
}
