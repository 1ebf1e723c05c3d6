// Command mocksvc serves deterministic stand-ins for the external model
// services: a speech-to-text endpoint that echoes the audio bytes back as
// text, and an LLM endpoint that proposes attachments from simple keyword
// rules. Together with edgesim they make full pipeline runs reproducible
// without any real model.
package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

func main() {
	os.Exit(run())
}

func run() int {
	service := flag.String("service", "", "which mock to run: stt or llm")
	port := flag.Int("port", 0, "listen port (default 8082 for stt, 8081 for llm)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	})

	addr := ""
	switch *service {
	case "stt":
		r.Post("/transcribe", handleTranscribe)
		addr = listenAddr(*port, 8082)
	case "llm":
		r.Post("/generate", handleGenerate)
		addr = listenAddr(*port, 8081)
	default:
		fmt.Fprintln(os.Stderr, "mocksvc: -service must be stt or llm")
		return 1
	}

	logger.Info("mock service listening", "service", *service, "addr", addr)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("serve", "error", err)
		return 1
	}
	return 0
}

func listenAddr(port, fallback int) string {
	if port == 0 {
		port = fallback
	}
	return fmt.Sprintf(":%d", port)
}

// handleTranscribe decodes the audio bytes and returns them as the transcript
// text. Undecodable or empty audio falls back to a text derived from the
// segment id, so the pipeline always moves forward.
func handleTranscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SegmentID string `json:"segment_id"`
		AudioB64  string `json:"audio_b64"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	text := ""
	if raw, err := base64.StdEncoding.DecodeString(req.AudioB64); err == nil {
		text = strings.TrimSpace(string(raw))
	}
	if text == "" {
		text = "transcript for " + req.SegmentID
	}
	writeJSON(w, map[string]any{
		"text":       text,
		"confidence": 0.98,
	})
}

// handleGenerate proposes an attachment from keyword rules: "side" in the
// transcript prefers a side branch, and "override" or "invalid" deliberately
// suggests a parent that does not exist so the repair path gets exercised.
func handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Transcript struct {
			Text string `json:"text"`
		} `json:"transcript"`
		CurrentMainTailNodeID *string `json:"current_main_tail_node_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	text := req.Transcript.Text
	lower := strings.ToLower(text)

	candidateParent := req.CurrentMainTailNodeID
	branchPreference := "main"
	rationale := "default main-branch continuation"
	if strings.Contains(lower, "side") {
		branchPreference = "side"
		rationale = "keyword side triggered a side-branch preference"
	}
	if strings.Contains(lower, "override") || strings.Contains(lower, "invalid") {
		missing := "missing-node"
		candidateParent = &missing
		branchPreference = "main"
		rationale = "intentionally invalid parent for deterministic override testing"
	}

	writeJSON(w, map[string]any{
		"candidate_parent_id": candidateParent,
		"branch_preference":   branchPreference,
		"node_text":           text,
		"rationale":           rationale,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode failure", http.StatusInternalServerError)
	}
}
