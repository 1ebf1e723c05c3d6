// Package frameagg implements the frame aggregator agent: it buffers raw
// audio frames per (session, device) and flushes them into audio segments on
// an end-of-speech marker, a silence timeout, or session stop.
package frameagg

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/mindgraph/internal/bus"
	"github.com/MrWong99/mindgraph/internal/event"
	"github.com/MrWong99/mindgraph/internal/ids"
	"github.com/MrWong99/mindgraph/internal/observe"
)

// AgentName identifies this agent in heartbeats and metrics.
const AgentName = "frame-aggregator"

// flushTick is how often the silence sweep runs.
const flushTick = 250 * time.Millisecond

// defaultEncoding is assumed when a frame omits its encoding.
const defaultEncoding = "wav_pcm16"

// toucher marks the agent as having processed work.
type toucher interface {
	Touch()
}

// frameBuffer accumulates the frames of one (session, device) pair.
type frameBuffer struct {
	sessionID string
	deviceID  string
	encoding  string
	startedAt time.Time
	lastAt    time.Time
	chunks    [][]byte
	seenSeq   map[int]bool
}

// Agent is the frame aggregator.
type Agent struct {
	bus            bus.Publisher
	hb             toucher
	metrics        *observe.Metrics
	logger         *slog.Logger
	silenceTimeout time.Duration
	now            func() time.Time

	mu      sync.Mutex
	buffers map[string]*frameBuffer
}

// New creates the frame aggregator. silenceTimeout is how long a buffer may
// sit without new frames before it is flushed.
func New(b bus.Publisher, hb toucher, metrics *observe.Metrics, silenceTimeout time.Duration, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		bus:            b,
		hb:             hb,
		metrics:        metrics,
		logger:         logger,
		silenceTimeout: silenceTimeout,
		now:            func() time.Time { return time.Now().UTC() },
		buffers:        make(map[string]*frameBuffer),
	}
}

// Topics returns the subscriptions this agent needs.
func (a *Agent) Topics() []string {
	return []string{event.TopicAudioFrame, event.TopicSessionStopped}
}

// HandleEvent routes a bus event.
func (a *Agent) HandleEvent(ctx context.Context, topic string, env event.Envelope) {
	switch topic {
	case event.TopicSessionStopped:
		a.flush(ctx, bufferKey(env.SessionID, env.DeviceID), &env)
	case event.TopicAudioFrame:
		a.handleFrame(ctx, env)
	}
}

func (a *Agent) handleFrame(ctx context.Context, env event.Envelope) {
	var frame event.AudioFrame
	if err := env.DecodePayload(&frame); err != nil {
		a.logger.Error("decode audio frame", "error", err)
		a.metrics.RecordDrop(ctx, AgentName, "malformed")
		return
	}

	key := bufferKey(env.SessionID, env.DeviceID)

	a.mu.Lock()
	buf, ok := a.buffers[key]
	if !ok {
		encoding := frame.Encoding
		if encoding == "" {
			encoding = defaultEncoding
		}
		buf = &frameBuffer{
			sessionID: env.SessionID,
			deviceID:  env.DeviceID,
			encoding:  encoding,
			startedAt: env.CreatedAt,
			lastAt:    env.CreatedAt,
			seenSeq:   make(map[int]bool),
		}
		a.buffers[key] = buf
		a.metrics.FrameBuffers.Add(ctx, 1)
	}
	if buf.seenSeq[frame.FrameSeq] {
		a.mu.Unlock()
		a.logger.Info("duplicate frame ignored", "session_id", env.SessionID, "frame_seq", frame.FrameSeq)
		a.metrics.RecordDrop(ctx, AgentName, "duplicate_frame")
		return
	}
	buf.seenSeq[frame.FrameSeq] = true
	if frame.AudioB64 != "" {
		chunk, err := base64.StdEncoding.DecodeString(frame.AudioB64)
		if err != nil {
			a.mu.Unlock()
			a.logger.Error("decode frame audio", "session_id", env.SessionID, "frame_seq", frame.FrameSeq, "error", err)
			a.metrics.RecordDrop(ctx, AgentName, "bad_audio")
			return
		}
		buf.chunks = append(buf.chunks, chunk)
	}
	buf.lastAt = env.CreatedAt
	if frame.Encoding != "" {
		buf.encoding = frame.Encoding
	}
	shouldFlush := frame.SpeechFinal && len(buf.chunks) > 0
	a.mu.Unlock()

	a.metrics.RecordEvent(ctx, AgentName, event.TopicAudioFrame)
	if shouldFlush {
		a.flush(ctx, key, &env)
	}
}

// flush drains the buffer under key into one segment event. A nil cause means
// an anonymous timer flush; otherwise trace and causation are taken from the
// triggering event. The publish happens outside the lock.
func (a *Agent) flush(ctx context.Context, key string, cause *event.Envelope) {
	a.mu.Lock()
	buf, ok := a.buffers[key]
	if !ok || len(buf.chunks) == 0 {
		a.mu.Unlock()
		return
	}
	delete(a.buffers, key)
	a.metrics.FrameBuffers.Add(ctx, -1)

	total := 0
	for _, c := range buf.chunks {
		total += len(c)
	}
	segment := make([]byte, 0, total)
	for _, c := range buf.chunks {
		segment = append(segment, c...)
	}
	a.mu.Unlock()

	payload := event.AudioSegmentCreated{
		SegmentID: ids.NewEntityID("segment"),
		Encoding:  buf.encoding,
		StartedAt: buf.startedAt.Format(time.RFC3339Nano),
		EndedAt:   buf.lastAt.Format(time.RFC3339Nano),
		AudioB64:  base64.StdEncoding.EncodeToString(segment),
	}
	var opts []event.Option
	if cause != nil {
		opts = append(opts, event.WithCause(*cause))
	}
	env, err := event.Build(event.TopicAudioSegmentCreated, buf.sessionID, buf.deviceID, payload, opts...)
	if err != nil {
		a.logger.Error("build segment event", "session_id", buf.sessionID, "error", err)
		return
	}
	if err := a.bus.Publish(ctx, event.TopicAudioSegmentCreated, env); err != nil {
		a.logger.Error("publish segment", "session_id", buf.sessionID, "error", err)
		return
	}
	a.hb.Touch()
}

// Run sweeps for silent buffers until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	ticker := time.NewTicker(flushTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.flushExpired(ctx)
		}
	}
}

// flushExpired flushes every buffer whose last frame is older than the
// silence timeout.
func (a *Agent) flushExpired(ctx context.Context) {
	now := a.now()
	a.mu.Lock()
	var expired []string
	for key, buf := range a.buffers {
		if now.Sub(buf.lastAt) >= a.silenceTimeout {
			expired = append(expired, key)
		}
	}
	a.mu.Unlock()

	for _, key := range expired {
		a.flush(ctx, key, nil)
	}
}

func bufferKey(sessionID, deviceID string) string {
	return sessionID + ":" + deviceID
}
