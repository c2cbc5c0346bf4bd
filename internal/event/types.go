package event

import "github.com/fyp-systems/fyp-core/pkg/types"

// SessionCreatedData is the payload for EventSessionCreated.
type SessionCreatedData struct {
	Info *types.Session `json:"info"`
}

// SessionExitData is the payload for EventSessionExit.
type SessionExitData struct {
	SessionID  string `json:"sessionID"`
	ExitCode   *int   `json:"exitCode,omitempty"`
	ExitSignal string `json:"exitSignal,omitempty"`
}

// SessionRestartData is the payload for EventSessionRestart.
type SessionRestartData struct {
	SessionID string `json:"sessionID"`
	Attempt   int    `json:"attempt"`
}

// SessionToolLinkData is the payload for EventSessionToolLink, emitted when
// supervisor successfully associates a pty session with its tool-native
// session id (Codex rollout id, Claude session id, etc.) via backoff scan.
type SessionToolLinkData struct {
	SessionID     string `json:"sessionID"`
	ToolSessionID string `json:"toolSessionID"`
	Attempt       int    `json:"attempt"`
}

// SessionGitData reports a detected git HEAD change for a session's cwd.
type SessionGitData struct {
	SessionID string `json:"sessionID"`
	Branch    string `json:"branch"`
	Commit    string `json:"commit"`
}

// SessionMetaData carries a free-form metadata update (label, pinned slot).
type SessionMetaData struct {
	SessionID string `json:"sessionID"`
	Label     string `json:"label,omitempty"`
}

// TranscriptChunkData is the payload for output/transcript append events.
type TranscriptChunkData struct {
	Chunk types.TranscriptChunk `json:"chunk"`
}

// InboxItemData is the payload for attention inbox lifecycle events.
type InboxItemData struct {
	Item *types.AttentionItem `json:"item"`
}

// OrchestrationData wraps an Orchestration snapshot for lifecycle events.
type OrchestrationData struct {
	Orchestration *types.Orchestration `json:"orchestration"`
}

// OrchestrationDispatchData is the payload for EventOrchestrationDispatch.
type OrchestrationDispatchData struct {
	OrchestrationID string   `json:"orchestrationID"`
	Target          string   `json:"target"`
	SessionIDs      []string `json:"sessionIDs"`
	Text            string   `json:"text,omitempty"`
}

// OrchestrationCommandData is the payload for command-router executions
// attributed to an orchestration.
type OrchestrationCommandData struct {
	OrchestrationID string `json:"orchestrationID"`
	Command         string `json:"command"`
	IdempotencyKey  string `json:"idempotencyKey,omitempty"`
	Replayed        bool   `json:"replayed"`
}

// OrchestrationQuestionData is the payload for question batching events.
type OrchestrationQuestionData struct {
	OrchestrationID string   `json:"orchestrationID"`
	QuestionIDs     []string `json:"questionIDs,omitempty"`
	Reason          string   `json:"reason,omitempty"`
}

// Stream-notice kinds carried on the bus for subscriber fan-out only;
// never persisted to the per-session event log.
const (
	KindSessionsChanged       types.EventKind = "sessions.changed"
	KindWorkspacesChanged     types.EventKind = "workspaces.changed"
	KindInboxChanged          types.EventKind = "inbox.changed"
	KindTasksChanged          types.EventKind = "tasks.changed"
	KindOrchestrationsChanged types.EventKind = "orchestrations.changed"
	KindSessionPreview        types.EventKind = "session.preview"
	KindOrchCreateProgress    types.EventKind = "orchestration.create.progress"

	KindSessionOutput  types.EventKind = "session.output"
	KindSessionAssist  types.EventKind = "session.assist"
	KindSessionClosing types.EventKind = "session.closing"
	KindSessionClosed  types.EventKind = "session.closed"
)

// SessionOutputData is the payload for session.output notices: one raw
// output chunk fanned out to per-session stream subscribers.
type SessionOutputData struct {
	SessionID string `json:"sessionID"`
	Chunk     []byte `json:"chunk"`
	Ts        int64  `json:"ts"`
}

// SessionAssistData carries a menu-assist snapshot, emitted only when its
// signature changes.
type SessionAssistData struct {
	SessionID string `json:"sessionID"`
	Assist    any    `json:"assist"`
}

// SessionPreviewData is the payload for session.preview notices, throttled
// by the supervisor to at most one per session every 900ms.
type SessionPreviewData struct {
	SessionID string `json:"sessionID"`
	Preview   string `json:"preview"`
	Ts        int64  `json:"ts"`
}

// CreateProgressData is the payload for orchestration.create.progress
// notices emitted between creation steps.
type CreateProgressData struct {
	OrchestrationID string `json:"orchestrationID"`
	Step            string `json:"step"`
	Detail          string `json:"detail,omitempty"`
}
