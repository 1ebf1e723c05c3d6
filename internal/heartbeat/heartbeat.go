// Package heartbeat periodically announces agent liveness on the bus.
package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/mindgraph/internal/bus"
	"github.com/MrWong99/mindgraph/internal/event"
)

// Version is reported in every heartbeat payload.
const Version = "0.1.0"

// Publisher emits one heartbeat per interval on the agent heartbeat topic.
// Agents call [Publisher.Touch] after each processed event so the heartbeat
// carries a last-processed timestamp.
type Publisher struct {
	agentName string
	bus       bus.Publisher
	interval  time.Duration
	logger    *slog.Logger

	mu              sync.Mutex
	lastProcessedAt *time.Time
}

// New creates a heartbeat publisher for the named agent.
func New(agentName string, b bus.Publisher, interval time.Duration, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{agentName: agentName, bus: b, interval: interval, logger: logger}
}

// Touch records that the agent just processed work.
func (p *Publisher) Touch() {
	now := time.Now().UTC()
	p.mu.Lock()
	p.lastProcessedAt = &now
	p.mu.Unlock()
}

// Run publishes heartbeats until ctx is cancelled. One beat is sent
// immediately so a freshly started agent shows up without waiting a full
// interval.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.beat(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.beat(ctx)
		}
	}
}

func (p *Publisher) beat(ctx context.Context) {
	p.mu.Lock()
	var last *string
	if p.lastProcessedAt != nil {
		s := p.lastProcessedAt.Format(time.RFC3339Nano)
		last = &s
	}
	p.mu.Unlock()

	env, err := event.Build(event.TopicAgentHeartbeat, "system", p.agentName, event.AgentHeartbeat{
		AgentName:       p.agentName,
		Status:          "ok",
		LastProcessedAt: last,
		Version:         Version,
	})
	if err != nil {
		p.logger.Error("build heartbeat", "agent", p.agentName, "error", err)
		return
	}
	if err := p.bus.Publish(ctx, event.TopicAgentHeartbeat, env); err != nil {
		p.logger.Error("publish heartbeat", "agent", p.agentName, "error", err)
	}
}
