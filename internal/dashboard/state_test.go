package dashboard

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/MrWong99/mindgraph/internal/event"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func heartbeatEnvelope(t *testing.T, agentName string) event.Envelope {
	t.Helper()
	env, err := event.Build(event.TopicAgentHeartbeat, "system", agentName, event.AgentHeartbeat{
		AgentName: agentName,
		Status:    "ok",
		Version:   "0.1.0",
	})
	if err != nil {
		t.Fatalf("Build() unexpected error: %v", err)
	}
	return env
}

func TestStateHeartbeats(t *testing.T) {
	t.Parallel()

	s := NewState(discardLogger())
	ctx := context.Background()

	s.HandleEvent(ctx, event.TopicAgentHeartbeat, heartbeatEnvelope(t, "stt"))
	s.HandleEvent(ctx, event.TopicAgentHeartbeat, heartbeatEnvelope(t, "consistency"))
	s.HandleEvent(ctx, event.TopicAgentHeartbeat, heartbeatEnvelope(t, "stt"))

	beats := s.Heartbeats()
	if len(beats) != 2 {
		t.Fatalf("heartbeats = %d, want 2 distinct agents", len(beats))
	}
	if beats[0].AgentName != "consistency" || beats[1].AgentName != "stt" {
		t.Errorf("order = [%s %s], want sorted by agent name", beats[0].AgentName, beats[1].AgentName)
	}
	if beats[0].SeenAt == "" {
		t.Errorf("seen at not recorded")
	}
}

func TestStateLatestSnapshot(t *testing.T) {
	t.Parallel()

	s := NewState(discardLogger())
	if s.LatestSnapshotEvent() != nil {
		t.Fatalf("expected no snapshot before any event")
	}

	env, err := event.Build(event.TopicSnapshotHash, "sess-1", "device-a", event.SnapshotHash{
		SnapshotID: "snapshot_0001",
		NodeCount:  3,
	})
	if err != nil {
		t.Fatalf("Build() unexpected error: %v", err)
	}
	s.HandleEvent(context.Background(), event.TopicSnapshotHash, env)

	got := s.LatestSnapshotEvent()
	if got == nil || got.EventID != env.EventID {
		t.Errorf("latest snapshot = %v, want event %s", got, env.EventID)
	}
}

func TestStateFeed(t *testing.T) {
	t.Parallel()

	s := NewState(discardLogger())
	feed, cancel := s.Subscribe()

	env := heartbeatEnvelope(t, "stt")
	s.HandleEvent(context.Background(), event.TopicAgentHeartbeat, env)

	select {
	case item := <-feed:
		if item.Topic != event.TopicAgentHeartbeat || item.Envelope.EventID != env.EventID {
			t.Errorf("item = %+v", item)
		}
	default:
		t.Fatalf("no feed item delivered")
	}

	cancel()
	if _, ok := <-feed; ok {
		t.Errorf("feed channel still open after cancel")
	}
	// Events after cancellation must not panic on the closed channel.
	s.HandleEvent(context.Background(), event.TopicAgentHeartbeat, heartbeatEnvelope(t, "stt"))
	cancel()
}

func TestStateFeedDropsWhenFull(t *testing.T) {
	t.Parallel()

	s := NewState(discardLogger())
	feed, cancel := s.Subscribe()
	defer cancel()

	for i := 0; i < feedBuffer+10; i++ {
		s.HandleEvent(context.Background(), event.TopicAgentHeartbeat, heartbeatEnvelope(t, "stt"))
	}
	if len(feed) != feedBuffer {
		t.Errorf("buffered = %d, want capped at %d", len(feed), feedBuffer)
	}
}
