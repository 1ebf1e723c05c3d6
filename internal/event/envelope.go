// Package event defines the envelope that travels on the bus, the topic
// names, and one typed payload per topic.
//
// Every event published by an agent is an [Envelope] serialized to canonical
// JSON. Causation is threaded through envelopes: a downstream event copies
// trace_id from the event that caused it and records that event's id as
// causation_id, so a single external stimulus is reconstructable end to end.
package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/mindgraph/internal/canonical"
	"github.com/MrWong99/mindgraph/internal/ids"
)

// Version is the envelope schema version carried in event_version.
const Version = 1

// Envelope is the wire unit exchanged between agents.
type Envelope struct {
	EventID      string          `json:"event_id"`
	EventType    string          `json:"event_type"`
	EventVersion int             `json:"event_version"`
	TraceID      string          `json:"trace_id"`
	CausationID  *string         `json:"causation_id"`
	SessionID    string          `json:"session_id"`
	DeviceID     string          `json:"device_id"`
	CreatedAt    time.Time       `json:"created_at"`
	Payload      json.RawMessage `json:"payload"`
}

// Option customises a freshly built envelope.
type Option func(*Envelope)

// WithCause links the new envelope to the event that produced it: trace_id is
// copied from the cause and causation_id set to the cause's event id.
func WithCause(cause Envelope) Option {
	return func(e *Envelope) {
		e.TraceID = cause.TraceID
		id := cause.EventID
		e.CausationID = &id
	}
}

// WithTrace sets trace and causation ids explicitly. Either may be empty, in
// which case the corresponding field keeps its default (fresh trace id, nil
// causation).
func WithTrace(traceID, causationID string) Option {
	return func(e *Envelope) {
		if traceID != "" {
			e.TraceID = traceID
		}
		if causationID != "" {
			id := causationID
			e.CausationID = &id
		}
	}
}

// Build creates an envelope for eventType carrying payload. Without options
// the envelope starts a fresh trace with no causation (an external stimulus
// or an anonymous timer flush).
func Build(eventType, sessionID, deviceID string, payload any, opts ...Option) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("event: marshal %s payload: %w", eventType, err)
	}
	e := Envelope{
		EventID:      ids.NewUUID(),
		EventType:    eventType,
		EventVersion: Version,
		TraceID:      ids.NewUUID(),
		SessionID:    sessionID,
		DeviceID:     deviceID,
		CreatedAt:    time.Now().UTC(),
		Payload:      raw,
	}
	for _, o := range opts {
		o(&e)
	}
	return e, nil
}

// Marshal serializes the envelope to canonical JSON (sorted keys, ASCII-only,
// compact separators).
func (e Envelope) Marshal() ([]byte, error) {
	return canonical.Marshal(e)
}

// DecodePayload unmarshals the topic-specific payload into v.
func (e Envelope) DecodePayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("event: decode %s payload: %w", e.EventType, err)
	}
	return nil
}

// Parse decodes and validates an envelope received from the bus.
func Parse(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("event: parse envelope: %w", err)
	}
	if err := e.validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

func (e Envelope) validate() error {
	switch {
	case e.EventID == "":
		return errors.New("event: envelope missing event_id")
	case e.EventType == "":
		return errors.New("event: envelope missing event_type")
	case e.SessionID == "":
		return errors.New("event: envelope missing session_id")
	case e.DeviceID == "":
		return errors.New("event: envelope missing device_id")
	case len(e.Payload) == 0:
		return errors.New("event: envelope missing payload")
	}
	return nil
}

// handlerKey marks contexts whose work originates inside a bus message
// handler. The bus adapter must not block on publish acknowledgements from
// that path; see the bus package.
type handlerKey struct{}

// MarkHandlerContext returns a context flagged as running inside a bus
// message handler.
func MarkHandlerContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, handlerKey{}, true)
}

// FromHandler reports whether ctx originates inside a bus message handler.
func FromHandler(ctx context.Context) bool {
	v, _ := ctx.Value(handlerKey{}).(bool)
	return v
}
