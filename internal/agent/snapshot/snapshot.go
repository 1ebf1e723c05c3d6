// Package snapshot implements the snapshot agent: it periodically
// fingerprints every active session's graph and publishes the hash, plus a
// final snapshot when a session stops. Snapshots land in fixed time buckets,
// so replays and restarts collapse onto the same row.
package snapshot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/mindgraph/internal/bus"
	"github.com/MrWong99/mindgraph/internal/event"
	"github.com/MrWong99/mindgraph/internal/graph"
	"github.com/MrWong99/mindgraph/internal/ids"
	"github.com/MrWong99/mindgraph/internal/observe"
	"github.com/MrWong99/mindgraph/internal/store"
)

// AgentName identifies this agent in heartbeats and metrics.
const AgentName = "snapshot"

// snapshotStore is the slice of the store this agent needs.
type snapshotStore interface {
	ListActiveSessions(ctx context.Context) ([]store.Session, error)
	FetchAllNodes(ctx context.Context, sessionID string) ([]store.NodeRecord, error)
	StoreSnapshot(ctx context.Context, rec store.SnapshotRecord) (bool, error)
	MarkSnapshotTime(ctx context.Context, sessionID string, at time.Time) error
}

// toucher marks the agent as having processed work.
type toucher interface {
	Touch()
}

// Agent is the snapshot agent. It keeps an in-memory registry of active
// sessions, seeded from the store at startup and maintained from lifecycle
// events thereafter.
type Agent struct {
	store    snapshotStore
	bus      bus.Publisher
	hb       toucher
	metrics  *observe.Metrics
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	active map[string]string // session id -> device id
}

// New creates the snapshot agent. interval is both the tick period and the
// bucket width.
func New(st snapshotStore, b bus.Publisher, hb toucher, metrics *observe.Metrics, interval time.Duration, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		store:    st,
		bus:      b,
		hb:       hb,
		metrics:  metrics,
		logger:   logger,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		active:   make(map[string]string),
	}
}

// Topics returns the subscriptions this agent needs.
func (a *Agent) Topics() []string {
	return []string{event.TopicSessionStarted, event.TopicSessionStopped}
}

// HandleEvent maintains the active-session registry. A session stop triggers
// one final snapshot before the session leaves the registry.
func (a *Agent) HandleEvent(ctx context.Context, topic string, env event.Envelope) {
	switch topic {
	case event.TopicSessionStarted:
		a.mu.Lock()
		a.active[env.SessionID] = env.DeviceID
		a.mu.Unlock()
	case event.TopicSessionStopped:
		a.emitSnapshot(ctx, env.SessionID, env.DeviceID, &env)
		a.mu.Lock()
		delete(a.active, env.SessionID)
		a.mu.Unlock()
	}
}

// Run seeds the registry from the store and then snapshots every active
// session once per interval until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	sessions, err := a.store.ListActiveSessions(ctx)
	if err != nil {
		a.logger.Error("seed active sessions", "error", err)
	} else {
		a.mu.Lock()
		for _, s := range sessions {
			a.active[s.SessionID] = s.DeviceID
		}
		a.mu.Unlock()
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.snapshotAll(ctx)
		}
	}
}

func (a *Agent) snapshotAll(ctx context.Context) {
	a.mu.Lock()
	current := make(map[string]string, len(a.active))
	for sessionID, deviceID := range a.active {
		current[sessionID] = deviceID
	}
	a.mu.Unlock()

	for sessionID, deviceID := range current {
		a.emitSnapshot(ctx, sessionID, deviceID, nil)
	}
}

// emitSnapshot fingerprints one session. The snapshot event is published only
// when the store actually wrote the row, so an unchanged graph stays silent
// on the bus.
func (a *Agent) emitSnapshot(ctx context.Context, sessionID, deviceID string, cause *event.Envelope) {
	records, err := a.store.FetchAllNodes(ctx, sessionID)
	if err != nil {
		a.logger.Error("fetch graph for snapshot", "session_id", sessionID, "error", err)
		return
	}
	nodes := store.GraphNodes(records)

	now := a.now()
	bucket := BucketTime(now, a.interval)

	var opts []event.Option
	if cause != nil {
		opts = append(opts, event.WithCause(*cause))
	}
	env, err := event.Build(event.TopicSnapshotHash, sessionID, deviceID, event.SnapshotHash{
		SnapshotID:       ids.NewEntityID("snapshot"),
		NodeCount:        len(nodes),
		HashSHA256:       graph.SnapshotHash(nodes),
		SnapshotBucketTS: bucket.Format(time.RFC3339Nano),
	}, opts...)
	if err != nil {
		a.logger.Error("build snapshot event", "session_id", sessionID, "error", err)
		return
	}
	var payload event.SnapshotHash
	if err := env.DecodePayload(&payload); err != nil {
		a.logger.Error("decode snapshot payload", "session_id", sessionID, "error", err)
		return
	}

	stored, err := a.store.StoreSnapshot(ctx, store.SnapshotRecord{
		SnapshotID:       payload.SnapshotID,
		EventID:          env.EventID,
		SessionID:        sessionID,
		SnapshotBucketTS: bucket,
		NodeCount:        payload.NodeCount,
		HashSHA256:       payload.HashSHA256,
		CreatedAt:        env.CreatedAt,
	})
	if err != nil {
		a.logger.Error("store snapshot", "session_id", sessionID, "error", err)
		return
	}
	if !stored {
		return
	}
	if err := a.store.MarkSnapshotTime(ctx, sessionID, now); err != nil {
		a.logger.Error("mark snapshot time", "session_id", sessionID, "error", err)
	}
	if err := a.bus.Publish(ctx, event.TopicSnapshotHash, env); err != nil {
		a.logger.Error("publish snapshot", "session_id", sessionID, "error", err)
		return
	}
	a.metrics.SnapshotsStored.Add(ctx, 1)
	a.hb.Touch()
}

// BucketTime floors t onto the interval grid, in UTC.
func BucketTime(t time.Time, interval time.Duration) time.Time {
	seconds := int64(interval / time.Second)
	if seconds <= 0 {
		seconds = 1
	}
	epoch := t.Unix()
	return time.Unix(epoch-epoch%seconds, 0).UTC()
}
