package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/mindgraph/internal/event"
	"github.com/MrWong99/mindgraph/internal/store"
)

// RecentNode is the node projection offered to the LLM service as an
// attachment candidate.
type RecentNode struct {
	NodeID       string    `json:"node_id"`
	TranscriptID string    `json:"transcript_id"`
	ParentNodeID *string   `json:"parent_node_id"`
	BranchType   string    `json:"branch_type"`
	BranchSlot   *int      `json:"branch_slot"`
	NodeText     string    `json:"node_text"`
	CreatedAt    time.Time `json:"created_at"`
}

// RecentNodesFrom projects store records into the LLM request shape.
func RecentNodesFrom(records []store.NodeRecord) []RecentNode {
	nodes := make([]RecentNode, 0, len(records))
	for _, r := range records {
		nodes = append(nodes, RecentNode{
			NodeID:       r.NodeID,
			TranscriptID: r.TranscriptID,
			ParentNodeID: r.ParentNodeID,
			BranchType:   r.BranchType,
			BranchSlot:   r.BranchSlot,
			NodeText:     r.NodeText,
			CreatedAt:    r.CreatedAt,
		})
	}
	return nodes
}

// ProposalRequest is the LLM service request body.
type ProposalRequest struct {
	SessionID             string                     `json:"session_id"`
	DeviceID              string                     `json:"device_id"`
	Transcript            event.STTTranscriptCreated `json:"transcript"`
	RecentNodes           []RecentNode               `json:"recent_nodes"`
	MainBranchSummary     string                     `json:"main_branch_summary"`
	CurrentMainTailNodeID *string                    `json:"current_main_tail_node_id"`
}

// ProposalResult is the LLM service response with defaults applied: a missing
// branch preference means main, and a missing node text falls back to the
// transcript text.
type ProposalResult struct {
	CandidateParentID *string `json:"candidate_parent_id"`
	BranchPreference  string  `json:"branch_preference"`
	NodeText          string  `json:"node_text"`
	Rationale         string  `json:"rationale"`
}

// LLM calls the external proposal generation service.
type LLM struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewLLM creates a proposal client against baseURL.
func NewLLM(baseURL string, logger *slog.Logger) *LLM {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLM{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     logger,
	}
}

// Generate posts the transcript and graph context to /generate and returns
// the attachment proposal.
func (c *LLM) Generate(ctx context.Context, req ProposalRequest) (ProposalResult, error) {
	if req.RecentNodes == nil {
		req.RecentNodes = []RecentNode{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return ProposalResult{}, fmt.Errorf("client: marshal proposal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return ProposalResult{}, fmt.Errorf("client: build proposal request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return ProposalResult{}, fmt.Errorf("client: generate proposal for %s: %w", req.Transcript.TranscriptID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ProposalResult{}, fmt.Errorf("client: generate proposal for %s: unexpected status %d",
			req.Transcript.TranscriptID, resp.StatusCode)
	}

	var result ProposalResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ProposalResult{}, fmt.Errorf("client: decode proposal response: %w", err)
	}
	if result.BranchPreference == "" {
		result.BranchPreference = "main"
	}
	if result.NodeText == "" {
		result.NodeText = req.Transcript.Text
	}
	return result, nil
}
