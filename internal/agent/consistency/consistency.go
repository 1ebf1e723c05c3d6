// Package consistency implements the consistency agent: the deterministic
// gate between LLM proposals and the persisted graph. It never rejects a
// proposal; structurally invalid suggestions are repaired by the attachment
// policy and the repair is recorded as an override reason.
package consistency

import (
	"context"
	"log/slog"

	"github.com/MrWong99/mindgraph/internal/bus"
	"github.com/MrWong99/mindgraph/internal/event"
	"github.com/MrWong99/mindgraph/internal/graph"
	"github.com/MrWong99/mindgraph/internal/ids"
	"github.com/MrWong99/mindgraph/internal/observe"
	"github.com/MrWong99/mindgraph/internal/store"
)

// AgentName identifies this agent in heartbeats and metrics.
const AgentName = "consistency"

// graphStore is the slice of the store this agent needs.
type graphStore interface {
	FetchAllNodes(ctx context.Context, sessionID string) ([]store.NodeRecord, error)
	GetSession(ctx context.Context, sessionID string) (*store.Session, error)
}

// toucher marks the agent as having processed work.
type toucher interface {
	Touch()
}

// Agent is the consistency agent.
type Agent struct {
	store   graphStore
	bus     bus.Publisher
	hb      toucher
	metrics *observe.Metrics
	logger  *slog.Logger
}

// New creates the consistency agent.
func New(st graphStore, b bus.Publisher, hb toucher, metrics *observe.Metrics, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{store: st, bus: b, hb: hb, metrics: metrics, logger: logger}
}

// Topics returns the subscriptions this agent needs.
func (a *Agent) Topics() []string {
	return []string{event.TopicTreeProposalCreated}
}

// HandleEvent validates one proposal against the session's current graph and
// emits the approved attachment.
func (a *Agent) HandleEvent(ctx context.Context, topic string, env event.Envelope) {
	if topic != event.TopicTreeProposalCreated {
		return
	}

	var proposal event.TreeProposalCreated
	if err := env.DecodePayload(&proposal); err != nil {
		a.logger.Error("decode proposal", "error", err)
		a.metrics.RecordDrop(ctx, AgentName, "malformed")
		return
	}

	records, err := a.store.FetchAllNodes(ctx, env.SessionID)
	if err != nil {
		a.logger.Error("fetch graph", "session_id", env.SessionID, "error", err)
		return
	}
	session, err := a.store.GetSession(ctx, env.SessionID)
	if err != nil {
		a.logger.Error("load session", "session_id", env.SessionID, "error", err)
		return
	}
	var mainTail *string
	if session != nil {
		mainTail = session.CurrentMainTailNodeID
	}

	preference := proposal.BranchPreference
	if preference == "" {
		preference = graph.BranchMain
	}

	nodeID := ids.NewEntityID("node")
	attachment := graph.ChooseAttachment(store.GraphNodes(records), proposal.CandidateParentID, preference, nodeID, mainTail)
	if attachment.OverrideReason != "" {
		a.logger.Info("proposal repaired",
			"session_id", env.SessionID,
			"proposal_id", proposal.ProposalID,
			"override_reason", attachment.OverrideReason)
	}

	approved, err := event.Build(event.TopicTreeApproved, env.SessionID, env.DeviceID, event.TreeApproved{
		ProposalID:     proposal.ProposalID,
		TranscriptID:   proposal.TranscriptID,
		NodeID:         nodeID,
		ParentNodeID:   attachment.ParentNodeID,
		BranchType:     attachment.BranchType,
		BranchSlot:     attachment.BranchSlot,
		NodeText:       proposal.NodeText,
		OverrideReason: attachment.OverrideReason,
	}, event.WithCause(env))
	if err != nil {
		a.logger.Error("build approved event", "proposal_id", proposal.ProposalID, "error", err)
		return
	}
	if err := a.bus.Publish(ctx, event.TopicTreeApproved, approved); err != nil {
		a.logger.Error("publish approved", "proposal_id", proposal.ProposalID, "error", err)
		return
	}
	a.metrics.RecordEvent(ctx, AgentName, event.TopicTreeProposalCreated)
	a.hb.Touch()
}
