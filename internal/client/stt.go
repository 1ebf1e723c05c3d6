// Package client holds the HTTP clients for the external transcription and
// LLM services the pipeline calls out to.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	requestTimeout = 10 * time.Second
	sttAttempts    = 3
	sttRetryDelay  = time.Second
)

// TranscribeRequest is the transcription service request body.
type TranscribeRequest struct {
	SessionID string `json:"session_id"`
	DeviceID  string `json:"device_id"`
	SegmentID string `json:"segment_id"`
	Encoding  string `json:"encoding"`
	AudioB64  string `json:"audio_b64"`
}

// Transcription is the transcription service result.
type Transcription struct {
	Text       string
	Confidence float64
}

// STT calls the external transcription service.
type STT struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	retryDelay time.Duration
}

// NewSTT creates a transcription client against baseURL.
func NewSTT(baseURL string, logger *slog.Logger) *STT {
	if logger == nil {
		logger = slog.Default()
	}
	return &STT{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger,
		retryDelay: sttRetryDelay,
	}
}

// Transcribe posts the segment to /transcribe. Transient failures are retried
// up to three attempts with a short pause between them.
func (c *STT) Transcribe(ctx context.Context, req TranscribeRequest) (Transcription, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Transcription{}, fmt.Errorf("client: marshal transcribe request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= sttAttempts; attempt++ {
		result, err := c.transcribeOnce(ctx, body)
		if err == nil {
			return result, nil
		}
		lastErr = err
		c.logger.Warn("stt request attempt failed",
			"attempt", attempt, "segment_id", req.SegmentID, "error", err)
		if attempt < sttAttempts {
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return Transcription{}, fmt.Errorf("client: transcribe segment %s: %w", req.SegmentID, ctx.Err())
			}
		}
	}
	return Transcription{}, fmt.Errorf("client: transcribe segment %s: %w", req.SegmentID, lastErr)
}

func (c *STT) transcribeOnce(ctx context.Context, body []byte) (Transcription, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", bytes.NewReader(body))
	if err != nil {
		return Transcription{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Transcription{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Transcription{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var decoded struct {
		Text       string          `json:"text"`
		Confidence json.RawMessage `json:"confidence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Transcription{}, fmt.Errorf("decode response: %w", err)
	}
	return Transcription{
		Text:       decoded.Text,
		Confidence: coerceConfidence(decoded.Confidence),
	}, nil
}

// coerceConfidence accepts a JSON number or a numeric string; anything else
// collapses to 0.0. Mirrors how loosely typed the service contract is.
func coerceConfidence(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return 0
}
