// Package llmtree implements the LLM tree orchestrator agent: for every new
// transcript it gathers the session's recent graph context, asks the LLM
// service where the utterance belongs, and emits the resulting attachment
// proposal. Proposals are suggestions only; the consistency agent validates
// them.
package llmtree

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/mindgraph/internal/bus"
	"github.com/MrWong99/mindgraph/internal/client"
	"github.com/MrWong99/mindgraph/internal/event"
	"github.com/MrWong99/mindgraph/internal/ids"
	"github.com/MrWong99/mindgraph/internal/observe"
	"github.com/MrWong99/mindgraph/internal/store"
)

// AgentName identifies this agent in heartbeats and metrics.
const AgentName = "llm-orchestrator"

// recentNodeLimit caps how many nodes are offered as attachment candidates.
const recentNodeLimit = 20

// graphStore is the slice of the store this agent needs.
type graphStore interface {
	InsertTranscript(ctx context.Context, rec store.TranscriptRecord) (bool, error)
	GetSession(ctx context.Context, sessionID string) (*store.Session, error)
	FetchRecentNodes(ctx context.Context, sessionID string, limit int) ([]store.NodeRecord, error)
}

// proposer calls the LLM service.
type proposer interface {
	Generate(ctx context.Context, req client.ProposalRequest) (client.ProposalResult, error)
}

// toucher marks the agent as having processed work.
type toucher interface {
	Touch()
}

// Agent is the LLM tree orchestrator.
type Agent struct {
	store   graphStore
	llm     proposer
	bus     bus.Publisher
	hb      toucher
	metrics *observe.Metrics
	logger  *slog.Logger
}

// New creates the orchestrator agent.
func New(st graphStore, llm proposer, b bus.Publisher, hb toucher, metrics *observe.Metrics, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{store: st, llm: llm, bus: b, hb: hb, metrics: metrics, logger: logger}
}

// Topics returns the subscriptions this agent needs.
func (a *Agent) Topics() []string {
	return []string{event.TopicSTTTranscriptCreated}
}

// HandleEvent turns one transcript into an attachment proposal.
func (a *Agent) HandleEvent(ctx context.Context, topic string, env event.Envelope) {
	if topic != event.TopicSTTTranscriptCreated {
		return
	}

	var transcript event.STTTranscriptCreated
	if err := env.DecodePayload(&transcript); err != nil {
		a.logger.Error("decode transcript", "error", err)
		a.metrics.RecordDrop(ctx, AgentName, "malformed")
		return
	}

	// The transcript row normally exists already; re-inserting covers the
	// case where this agent sees the event before (or without) the stt
	// agent's write having landed. The insert is idempotent either way.
	if _, err := a.store.InsertTranscript(ctx, store.TranscriptRecord{
		TranscriptID: transcript.TranscriptID,
		EventID:      env.EventID,
		SessionID:    env.SessionID,
		DeviceID:     env.DeviceID,
		SegmentID:    transcript.SegmentID,
		Text:         transcript.Text,
		Confidence:   transcript.Confidence,
		CreatedAt:    env.CreatedAt,
	}); err != nil {
		a.logger.Error("ensure transcript record", "transcript_id", transcript.TranscriptID, "error", err)
	}

	session, err := a.store.GetSession(ctx, env.SessionID)
	if err != nil {
		a.logger.Error("load session", "session_id", env.SessionID, "error", err)
		return
	}
	summary := ""
	var mainTail *string
	if session != nil {
		summary = session.MainBranchSummary
		mainTail = session.CurrentMainTailNodeID
	}

	recent, err := a.store.FetchRecentNodes(ctx, env.SessionID, recentNodeLimit)
	if err != nil {
		a.logger.Error("fetch recent nodes", "session_id", env.SessionID, "error", err)
		return
	}

	start := time.Now()
	result, err := a.llm.Generate(ctx, client.ProposalRequest{
		SessionID:             env.SessionID,
		DeviceID:              env.DeviceID,
		Transcript:            transcript,
		RecentNodes:           client.RecentNodesFrom(recent),
		MainBranchSummary:     summary,
		CurrentMainTailNodeID: mainTail,
	})
	a.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		a.logger.Error("generate proposal", "transcript_id", transcript.TranscriptID, "error", err)
		a.metrics.RecordDrop(ctx, AgentName, "llm_failed")
		return
	}

	out, err := event.Build(event.TopicTreeProposalCreated, env.SessionID, env.DeviceID, event.TreeProposalCreated{
		ProposalID:        ids.NewEntityID("proposal"),
		TranscriptID:      transcript.TranscriptID,
		CandidateParentID: result.CandidateParentID,
		BranchPreference:  result.BranchPreference,
		NodeText:          result.NodeText,
		Rationale:         result.Rationale,
	}, event.WithCause(env))
	if err != nil {
		a.logger.Error("build proposal event", "transcript_id", transcript.TranscriptID, "error", err)
		return
	}
	if err := a.bus.Publish(ctx, event.TopicTreeProposalCreated, out); err != nil {
		a.logger.Error("publish proposal", "transcript_id", transcript.TranscriptID, "error", err)
		return
	}
	a.metrics.RecordEvent(ctx, AgentName, event.TopicSTTTranscriptCreated)
	a.hb.Touch()
}
