// Package dashboard serves the read-only operator view: an HTML overview, a
// JSON API over the store, agent liveness from heartbeat events, and a
// websocket feed of bus activity.
package dashboard

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/mindgraph/internal/event"
)

// AgentName identifies this process in heartbeats and metrics.
const AgentName = "dashboard"

// feedBuffer is the per-subscriber channel depth. A subscriber that falls
// this far behind starts losing events rather than stalling the bus handler.
const feedBuffer = 64

// FeedItem is one entry on the live websocket feed.
type FeedItem struct {
	Topic    string         `json:"topic"`
	Envelope event.Envelope `json:"envelope"`
}

// State aggregates what the dashboard learns from the bus: the last heartbeat
// per agent, the last snapshot event, and a fan-out feed for websocket
// subscribers.
type State struct {
	logger *slog.Logger

	mu          sync.Mutex
	heartbeats  map[string]event.AgentHeartbeat
	lastBeat    map[string]event.Envelope
	latestSnap  *event.Envelope
	subscribers map[chan FeedItem]struct{}
}

// NewState creates an empty dashboard state.
func NewState(logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{
		logger:      logger,
		heartbeats:  make(map[string]event.AgentHeartbeat),
		lastBeat:    make(map[string]event.Envelope),
		subscribers: make(map[chan FeedItem]struct{}),
	}
}

// Topics returns the subscriptions the dashboard needs.
func (s *State) Topics() []string {
	return []string{event.TopicAgentHeartbeat, event.TopicSnapshotHash}
}

// HandleEvent folds one bus event into the state and forwards it to feed
// subscribers.
func (s *State) HandleEvent(_ context.Context, topic string, env event.Envelope) {
	s.mu.Lock()
	switch topic {
	case event.TopicAgentHeartbeat:
		var hb event.AgentHeartbeat
		if err := env.DecodePayload(&hb); err != nil {
			s.mu.Unlock()
			s.logger.Error("decode heartbeat", "error", err)
			return
		}
		s.heartbeats[hb.AgentName] = hb
		s.lastBeat[hb.AgentName] = env
	case event.TopicSnapshotHash:
		snap := env
		s.latestSnap = &snap
	}
	item := FeedItem{Topic: topic, Envelope: env}
	for ch := range s.subscribers {
		select {
		case ch <- item:
		default:
		}
	}
	s.mu.Unlock()
}

// Heartbeat pairs an agent's last heartbeat payload with the envelope time it
// arrived on.
type Heartbeat struct {
	event.AgentHeartbeat
	SeenAt string `json:"seen_at"`
}

// Heartbeats returns the last heartbeat per agent, sorted by agent name.
func (s *State) Heartbeats() []Heartbeat {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Heartbeat, 0, len(s.heartbeats))
	for name, hb := range s.heartbeats {
		out = append(out, Heartbeat{
			AgentHeartbeat: hb,
			SeenAt:         s.lastBeat[name].CreatedAt.Format(time.RFC3339Nano),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentName < out[j].AgentName })
	return out
}

// LatestSnapshotEvent returns the most recently observed snapshot envelope,
// or nil when none has arrived yet.
func (s *State) LatestSnapshotEvent() *event.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latestSnap == nil {
		return nil
	}
	snap := *s.latestSnap
	return &snap
}

// Subscribe registers a feed channel. The returned cancel function removes
// the subscription and closes the channel.
func (s *State) Subscribe() (<-chan FeedItem, func()) {
	ch := make(chan FeedItem, feedBuffer)
	s.mu.Lock()
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
