// Package stt implements the transcription agent: it sends finished audio
// segments to the transcription service and persists the resulting
// transcripts, deduplicating redelivered segments.
package stt

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
const AgentName = "stt"

// transcriptStore is the slice of the store this agent needs.
type transcriptStore interface {
	InsertTranscript(ctx context.Context, rec store.TranscriptRecord) (bool, error)
}

// transcriber calls the transcription service.
type transcriber interface {
	Transcribe(ctx context.Context, req client.TranscribeRequest) (client.Transcription, error)
}

// toucher marks the agent as having processed work.
type toucher interface {
	Touch()
}

// Agent is the transcription agent.
type Agent struct {
	store   transcriptStore
	stt     transcriber
	bus     bus.Publisher
	hb      toucher
	metrics *observe.Metrics
	logger  *slog.Logger
}

// New creates the transcription agent.
func New(st transcriptStore, stt transcriber, b bus.Publisher, hb toucher, metrics *observe.Metrics, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{store: st, stt: stt, bus: b, hb: hb, metrics: metrics, logger: logger}
}

// Topics returns the subscriptions this agent needs.
func (a *Agent) Topics() []string {
	return []string{event.TopicAudioSegmentCreated}
}

// HandleEvent transcribes one audio segment. The transcript insert is keyed
// on (session, segment), so a redelivered segment stores nothing and emits
// nothing.
func (a *Agent) HandleEvent(ctx context.Context, topic string, env event.Envelope) {
	if topic != event.TopicAudioSegmentCreated {
		return
	}

	var segment event.AudioSegmentCreated
	if err := env.DecodePayload(&segment); err != nil {
		a.logger.Error("decode audio segment", "error", err)
		a.metrics.RecordDrop(ctx, AgentName, "malformed")
		return
	}

	start := time.Now()
	result, err := a.stt.Transcribe(ctx, client.TranscribeRequest{
		SessionID: env.SessionID,
		DeviceID:  env.DeviceID,
		SegmentID: segment.SegmentID,
		Encoding:  segment.Encoding,
		AudioB64:  segment.AudioB64,
	})
	a.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		a.logger.Error("transcribe segment", "segment_id", segment.SegmentID, "error", err)
		a.metrics.RecordDrop(ctx, AgentName, "stt_failed")
		return
	}

	transcriptID := ids.NewEntityID("transcript")
	inserted, err := a.store.InsertTranscript(ctx, store.TranscriptRecord{
		TranscriptID: transcriptID,
		EventID:      env.EventID,
		SessionID:    env.SessionID,
		DeviceID:     env.DeviceID,
		SegmentID:    segment.SegmentID,
		Text:         result.Text,
		Confidence:   result.Confidence,
		CreatedAt:    env.CreatedAt,
	})
	if err != nil {
		a.logger.Error("insert transcript", "segment_id", segment.SegmentID, "error", err)
		return
	}
	if !inserted {
		a.logger.Info("duplicate segment ignored", "segment_id", segment.SegmentID)
		a.metrics.RecordDrop(ctx, AgentName, "duplicate_segment")
		return
	}

	out, err := event.Build(event.TopicSTTTranscriptCreated, env.SessionID, env.DeviceID, event.STTTranscriptCreated{
		TranscriptID: transcriptID,
		SegmentID:    segment.SegmentID,
		Text:         result.Text,
		Confidence:   result.Confidence,
	}, event.WithCause(env))
	if err != nil {
		a.logger.Error("build transcript event", "segment_id", segment.SegmentID, "error", err)
		return
	}
	if err := a.bus.Publish(ctx, event.TopicSTTTranscriptCreated, out); err != nil {
		a.logger.Error("publish transcript", "transcript_id", transcriptID, "error", err)
		return
	}
	a.metrics.RecordEvent(ctx, AgentName, event.TopicAudioSegmentCreated)
	a.hb.Touch()
}
