package event

// One payload struct per topic. Timestamps inside payloads travel as
// ISO-8601 strings; the envelope's created_at is the authoritative event
// time.

// SessionControl is the payload of session.control.start and
// session.control.stop. StartedAt/StoppedAt may be empty, in which case the
// controller falls back to the envelope's created_at.
type SessionControl struct {
	SessionID string `json:"session_id"`
	DeviceID  string `json:"device_id"`
	StartedAt string `json:"started_at,omitempty"`
	StoppedAt string `json:"stopped_at,omitempty"`
}

// SessionStarted is the payload of session.started.
type SessionStarted struct {
	SessionID string `json:"session_id"`
	DeviceID  string `json:"device_id"`
	Status    string `json:"status"`
	StartedAt string `json:"started_at"`
}

// SessionStopped is the payload of session.stopped.
type SessionStopped struct {
	SessionID string `json:"session_id"`
	DeviceID  string `json:"device_id"`
	Status    string `json:"status"`
	StoppedAt string `json:"stopped_at"`
}

// AudioFrame is the payload of audio/frame as emitted by edge devices.
type AudioFrame struct {
	FrameSeq    int    `json:"frame_seq"`
	FrameMS     int    `json:"frame_ms"`
	Encoding    string `json:"encoding"`
	VADActive   bool   `json:"vad_active"`
	SpeechFinal bool   `json:"speech_final"`
	AudioB64    string `json:"audio_b64"`
}

// AudioSegmentCreated is the payload of audio.segment.created.
type AudioSegmentCreated struct {
	SegmentID string `json:"segment_id"`
	Encoding  string `json:"encoding"`
	StartedAt string `json:"started_at"`
	EndedAt   string `json:"ended_at"`
	AudioB64  string `json:"audio_b64"`
}

// STTTranscriptCreated is the payload of stt.transcript.created.
type STTTranscriptCreated struct {
	TranscriptID string  `json:"transcript_id"`
	SegmentID    string  `json:"segment_id"`
	Text         string  `json:"text"`
	Confidence   float64 `json:"confidence"`
}

// TreeProposalCreated is the payload of tree.proposal.created. The candidate
// parent is the LLM's suggestion and may be nil, unknown, or structurally
// invalid; the consistency agent repairs it.
type TreeProposalCreated struct {
	ProposalID        string  `json:"proposal_id"`
	TranscriptID      string  `json:"transcript_id"`
	CandidateParentID *string `json:"candidate_parent_id"`
	BranchPreference  string  `json:"branch_preference"`
	NodeText          string  `json:"node_text"`
	Rationale         string  `json:"rationale"`
}

// TreeApproved is the payload of tree.approved: the proposal after the
// deterministic attachment policy has been applied.
type TreeApproved struct {
	ProposalID     string  `json:"proposal_id"`
	TranscriptID   string  `json:"transcript_id"`
	NodeID         string  `json:"node_id"`
	ParentNodeID   *string `json:"parent_node_id"`
	BranchType     string  `json:"branch_type"`
	BranchSlot     *int    `json:"branch_slot"`
	NodeText       string  `json:"node_text"`
	OverrideReason string  `json:"override_reason"`
}

// SnapshotHash is the payload of snapshot.hash.
type SnapshotHash struct {
	SnapshotID       string `json:"snapshot_id"`
	NodeCount        int    `json:"node_count"`
	HashSHA256       string `json:"hash_sha256"`
	SnapshotBucketTS string `json:"snapshot_bucket_ts"`
}

// AgentHeartbeat is the payload of agent.heartbeat.
type AgentHeartbeat struct {
	AgentName       string  `json:"agent_name"`
	Status          string  `json:"status"`
	LastProcessedAt *string `json:"last_processed_at"`
	Version         string  `json:"version"`
}
