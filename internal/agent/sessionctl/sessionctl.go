// Package sessionctl implements the session controller agent: it owns the
// session lifecycle, turning control commands into persisted state
// transitions and confirmed lifecycle events.
package sessionctl

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrWong99/mindgraph/internal/bus"
	"github.com/MrWong99/mindgraph/internal/event"
	"github.com/MrWong99/mindgraph/internal/observe"
)

// AgentName identifies this agent in heartbeats and metrics.
const AgentName = "session-controller"

// sessionStore is the slice of the store this agent needs.
type sessionStore interface {
	StartSession(ctx context.Context, sessionID, deviceID string, startedAt time.Time) (bool, error)
	StopSession(ctx context.Context, sessionID string, stoppedAt time.Time) (bool, error)
}

// toucher marks the agent as having processed work.
type toucher interface {
	Touch()
}

// Agent is the session controller.
type Agent struct {
	store   sessionStore
	bus     bus.Publisher
	hb      toucher
	metrics *observe.Metrics
	logger  *slog.Logger
}

// New creates the session controller agent.
func New(store sessionStore, b bus.Publisher, hb toucher, metrics *observe.Metrics, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{store: store, bus: b, hb: hb, metrics: metrics, logger: logger}
}

// Topics returns the subscriptions this agent needs.
func (a *Agent) Topics() []string {
	return []string{event.TopicSessionControlStart, event.TopicSessionControlStop}
}

// HandleEvent routes a bus event. Duplicate commands (starting an active
// session, stopping a stopped one) are absorbed without emitting anything.
func (a *Agent) HandleEvent(ctx context.Context, topic string, env event.Envelope) {
	switch topic {
	case event.TopicSessionControlStart:
		a.handleStart(ctx, env)
	case event.TopicSessionControlStop:
		a.handleStop(ctx, env)
	}
}

func (a *Agent) handleStart(ctx context.Context, env event.Envelope) {
	var cmd event.SessionControl
	if err := env.DecodePayload(&cmd); err != nil {
		a.logger.Error("decode session start", "error", err)
		a.metrics.RecordDrop(ctx, AgentName, "malformed")
		return
	}

	startedAt := parseTimestamp(cmd.StartedAt, env.CreatedAt)
	transitioned, err := a.store.StartSession(ctx, env.SessionID, env.DeviceID, startedAt)
	if err != nil {
		a.logger.Error("start session", "session_id", env.SessionID, "error", err)
		return
	}
	if !transitioned {
		a.logger.Info("ignored duplicate session start", "session_id", env.SessionID)
		a.metrics.RecordDrop(ctx, AgentName, "duplicate_start")
		return
	}
	a.metrics.ActiveSessions.Add(ctx, 1)

	started, err := event.Build(event.TopicSessionStarted, env.SessionID, env.DeviceID, event.SessionStarted{
		SessionID: env.SessionID,
		DeviceID:  env.DeviceID,
		Status:    "active",
		StartedAt: startedAt.Format(time.RFC3339Nano),
	}, event.WithCause(env))
	if err != nil {
		a.logger.Error("build session started", "session_id", env.SessionID, "error", err)
		return
	}
	if err := a.bus.Publish(ctx, event.TopicSessionStarted, started); err != nil {
		a.logger.Error("publish session started", "session_id", env.SessionID, "error", err)
		return
	}
	a.metrics.RecordEvent(ctx, AgentName, event.TopicSessionControlStart)
	a.hb.Touch()
}

func (a *Agent) handleStop(ctx context.Context, env event.Envelope) {
	var cmd event.SessionControl
	if err := env.DecodePayload(&cmd); err != nil {
		a.logger.Error("decode session stop", "error", err)
		a.metrics.RecordDrop(ctx, AgentName, "malformed")
		return
	}

	stoppedAt := parseTimestamp(cmd.StoppedAt, env.CreatedAt)
	transitioned, err := a.store.StopSession(ctx, env.SessionID, stoppedAt)
	if err != nil {
		a.logger.Error("stop session", "session_id", env.SessionID, "error", err)
		return
	}
	if !transitioned {
		a.logger.Info("ignored duplicate session stop", "session_id", env.SessionID)
		a.metrics.RecordDrop(ctx, AgentName, "duplicate_stop")
		return
	}
	a.metrics.ActiveSessions.Add(ctx, -1)

	stopped, err := event.Build(event.TopicSessionStopped, env.SessionID, env.DeviceID, event.SessionStopped{
		SessionID: env.SessionID,
		DeviceID:  env.DeviceID,
		Status:    "stopped",
		StoppedAt: stoppedAt.Format(time.RFC3339Nano),
	}, event.WithCause(env))
	if err != nil {
		a.logger.Error("build session stopped", "session_id", env.SessionID, "error", err)
		return
	}
	if err := a.bus.Publish(ctx, event.TopicSessionStopped, stopped); err != nil {
		a.logger.Error("publish session stopped", "session_id", env.SessionID, "error", err)
		return
	}
	a.metrics.RecordEvent(ctx, AgentName, event.TopicSessionControlStop)
	a.hb.Touch()
}

// parseTimestamp reads an ISO-8601 payload timestamp, falling back when the
// field is absent or unparseable.
func parseTimestamp(value string, fallback time.Time) time.Time {
	if value == "" {
		return fallback
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return fallback
	}
	return ts
}
