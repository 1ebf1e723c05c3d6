package stt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/mindgraph/internal/client"
	"github.com/MrWong99/mindgraph/internal/event"
	"github.com/MrWong99/mindgraph/internal/observe"
	"github.com/MrWong99/mindgraph/internal/store"
)

type mockStore struct {
	insertFunc func(ctx context.Context, rec store.TranscriptRecord) (bool, error)
	inserted   []store.TranscriptRecord
}

func (m *mockStore) InsertTranscript(ctx context.Context, rec store.TranscriptRecord) (bool, error) {
	m.inserted = append(m.inserted, rec)
	if m.insertFunc != nil {
		return m.insertFunc(ctx, rec)
	}
	return true, nil
}

type mockTranscriber struct {
	result client.Transcription
	err    error
	calls  []client.TranscribeRequest
}

func (m *mockTranscriber) Transcribe(_ context.Context, req client.TranscribeRequest) (client.Transcription, error) {
	m.calls = append(m.calls, req)
	return m.result, m.err
}

type recordingBus struct {
	mu        sync.Mutex
	topics    []string
	envelopes []event.Envelope
}

func (b *recordingBus) Publish(_ context.Context, topic string, env event.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, topic)
	b.envelopes = append(b.envelopes, env)
	return nil
}

type countingToucher struct{ n int }

func (c *countingToucher) Touch() { c.n++ }

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func segmentEnvelope(t *testing.T) event.Envelope {
	t.Helper()
	env, err := event.Build(event.TopicAudioSegmentCreated, "sess-1", "device-a", event.AudioSegmentCreated{
		SegmentID: "seg_0001",
		Encoding:  "wav_pcm16",
		StartedAt: "2026-03-01T09:00:00Z",
		EndedAt:   "2026-03-01T09:00:02Z",
		AudioB64:  "AAAA",
	})
	if err != nil {
		t.Fatalf("Build() unexpected error: %v", err)
	}
	return env
}

func TestHandleSegment(t *testing.T) {
	t.Parallel()

	t.Run("transcribes and emits", func(t *testing.T) {
		t.Parallel()

		st := &mockStore{}
		tr := &mockTranscriber{result: client.Transcription{Text: "hello world", Confidence: 0.9}}
		rec := &recordingBus{}
		hb := &countingToucher{}
		a := New(st, tr, rec, hb, testMetrics(t), discardLogger())

		env := segmentEnvelope(t)
		a.HandleEvent(context.Background(), event.TopicAudioSegmentCreated, env)

		if len(tr.calls) != 1 {
			t.Fatalf("transcriber called %d times, want 1", len(tr.calls))
		}
		call := tr.calls[0]
		if call.SegmentID != "seg_0001" || call.AudioB64 != "AAAA" || call.Encoding != "wav_pcm16" {
			t.Errorf("transcribe request = %+v", call)
		}

		if len(st.inserted) != 1 {
			t.Fatalf("inserted %d transcripts, want 1", len(st.inserted))
		}
		ins := st.inserted[0]
		if !strings.HasPrefix(ins.TranscriptID, "transcript_") {
			t.Errorf("transcript id = %q, want transcript_ prefix", ins.TranscriptID)
		}
		if ins.EventID != env.EventID || !ins.CreatedAt.Equal(env.CreatedAt) {
			t.Errorf("record = %+v, want envelope event id and created_at", ins)
		}
		if ins.Text != "hello world" || ins.Confidence != 0.9 {
			t.Errorf("record text/confidence = %q/%g", ins.Text, ins.Confidence)
		}

		if len(rec.topics) != 1 || rec.topics[0] != event.TopicSTTTranscriptCreated {
			t.Fatalf("published topics = %v", rec.topics)
		}
		out := rec.envelopes[0]
		if out.TraceID != env.TraceID || out.CausationID == nil || *out.CausationID != env.EventID {
			t.Errorf("causation chain broken: trace %q cause %v", out.TraceID, out.CausationID)
		}
		var payload event.STTTranscriptCreated
		if err := out.DecodePayload(&payload); err != nil {
			t.Fatalf("DecodePayload: %v", err)
		}
		if payload.TranscriptID != ins.TranscriptID || payload.SegmentID != "seg_0001" {
			t.Errorf("payload = %+v", payload)
		}
		if hb.n != 1 {
			t.Errorf("touch count = %d, want 1", hb.n)
		}
	})

	t.Run("duplicate segment emits nothing", func(t *testing.T) {
		t.Parallel()

		st := &mockStore{insertFunc: func(context.Context, store.TranscriptRecord) (bool, error) {
			return false, nil
		}}
		tr := &mockTranscriber{result: client.Transcription{Text: "again"}}
		rec := &recordingBus{}
		hb := &countingToucher{}
		a := New(st, tr, rec, hb, testMetrics(t), discardLogger())

		a.HandleEvent(context.Background(), event.TopicAudioSegmentCreated, segmentEnvelope(t))

		if len(rec.topics) != 0 {
			t.Errorf("published %v, want nothing for duplicate", rec.topics)
		}
		if hb.n != 0 {
			t.Errorf("touch count = %d, want 0", hb.n)
		}
	})

	t.Run("transcription failure stores nothing", func(t *testing.T) {
		t.Parallel()

		st := &mockStore{}
		tr := &mockTranscriber{err: errors.New("service down")}
		rec := &recordingBus{}
		a := New(st, tr, rec, &countingToucher{}, testMetrics(t), discardLogger())

		a.HandleEvent(context.Background(), event.TopicAudioSegmentCreated, segmentEnvelope(t))

		if len(st.inserted) != 0 {
			t.Errorf("inserted %d transcripts, want 0 on failure", len(st.inserted))
		}
		if len(rec.topics) != 0 {
			t.Errorf("published %v, want nothing on failure", rec.topics)
		}
	})

	t.Run("other topics ignored", func(t *testing.T) {
		t.Parallel()

		tr := &mockTranscriber{}
		a := New(&mockStore{}, tr, &recordingBus{}, &countingToucher{}, testMetrics(t), discardLogger())

		env, err := event.Build(event.TopicSessionStarted, "sess-1", "device-a",
			event.SessionStarted{SessionID: "sess-1", DeviceID: "device-a", Status: "active"})
		if err != nil {
			t.Fatalf("Build() unexpected error: %v", err)
		}
		a.HandleEvent(context.Background(), event.TopicSessionStarted, env)

		if len(tr.calls) != 0 {
			t.Errorf("transcriber called %d times, want 0", len(tr.calls))
		}
	})
}
