package event

// Bus topic names. The audio frame topic uses a slash because edge devices
// publish it directly into an MQTT topic hierarchy; everything downstream
// uses dotted event names.
const (
	TopicSessionControlStart  = "session.control.start"
	TopicSessionControlStop   = "session.control.stop"
	TopicSessionStarted       = "session.started"
	TopicSessionStopped       = "session.stopped"
	TopicAudioFrame           = "audio/frame"
	TopicAudioSegmentCreated  = "audio.segment.created"
	TopicSTTTranscriptCreated = "stt.transcript.created"
	TopicTreeProposalCreated  = "tree.proposal.created"
	TopicTreeApproved         = "tree.approved"
	TopicSnapshotHash         = "snapshot.hash"
	TopicAgentHeartbeat       = "agent.heartbeat"
)
