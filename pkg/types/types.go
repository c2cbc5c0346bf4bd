// Package types holds the shared domain model for the orchestration control
// plane: sessions, transcripts, events, attention items, and orchestrations.
package types

import "time"

// Transport identifies how a Session's subprocess is driven.
type Transport string

const (
	TransportPTY Transport = "pty"
	TransportRPC Transport = "rpc"
)

// ToolKind identifies the kind of CLI coding agent a session wraps.
type ToolKind string

const (
	ToolCodex    ToolKind = "codex"
	ToolClaude   ToolKind = "claude"
	ToolOpenCode ToolKind = "opencode"
)

// Session is one supervised subprocess, pty- or rpc-backed.
type Session struct {
	ID               string     `json:"id"`
	Tool             ToolKind   `json:"tool"`
	ProfileID        string     `json:"profileID,omitempty"`
	Transport        Transport  `json:"transport"`
	CWD              string     `json:"cwd"`
	ToolSessionID    string     `json:"toolSessionID,omitempty"`
	WorkspaceKey     string     `json:"workspaceKey,omitempty"`
	WorkspaceRoot    string     `json:"workspaceRoot,omitempty"`
	Label            string     `json:"label,omitempty"`
	PinnedSlot       int        `json:"pinnedSlot,omitempty"` // 1-6, 0 = none
	HookKey          string     `json:"hookKey,omitempty"`
	CreatedAt        int64      `json:"createdAt"`
	UpdatedAt        int64      `json:"updatedAt"`
	Running          bool       `json:"running"`
	Closing          bool       `json:"closing"`
	PID              int        `json:"pid,omitempty"`
	ExitCode         *int       `json:"exitCode,omitempty"`
	ExitSignal       string     `json:"exitSignal,omitempty"`
	ThreadID         string     `json:"threadID,omitempty"` // rpc transport conversation id
}

// Terminated reports whether the session has an exit recorded.
func (s *Session) Terminated() bool {
	return s.ExitCode != nil || s.ExitSignal != ""
}

// TranscriptChunk is a contiguous slice of subprocess output.
type TranscriptChunk struct {
	SessionID string `json:"sessionID"`
	ID        int64  `json:"id"`
	Ts        int64  `json:"ts"`
	Chunk     []byte `json:"chunk"`
}

// EventKind enumerates the closed set of event kinds.
type EventKind string

const (
	EventSessionCreated              EventKind = "session.created"
	EventSessionRestart              EventKind = "session.restart"
	EventSessionExit                 EventKind = "session.exit"
	EventSessionToolLink             EventKind = "session.tool_link"
	EventSessionGit                  EventKind = "session.git"
	EventSessionMeta                 EventKind = "session.meta"
	EventInput                       EventKind = "input"
	EventInterrupt                   EventKind = "interrupt"
	EventStop                        EventKind = "stop"
	EventKill                        EventKind = "kill"
	EventProfileStartup              EventKind = "profile.startup"
	EventInboxRespond                EventKind = "inbox.respond"
	EventInboxDismiss                EventKind = "inbox.dismiss"
	EventOrchestrationCreated        EventKind = "orchestration.created"
	EventOrchestrationDispatch       EventKind = "orchestration.dispatch"
	EventOrchestrationCmdExecuted    EventKind = "orchestration.command.executed"
	EventOrchestrationQOpen          EventKind = "orchestration.question.open"
	EventOrchestrationQResolved      EventKind = "orchestration.question.resolved"
	EventOrchestrationQTimeout       EventKind = "orchestration.question.timeout"
	EventOrchestrationQBatch         EventKind = "orchestration.question.batch_dispatched"
	EventOrchestrationQDispatchFail  EventKind = "orchestration.question.dispatch_failed"
	EventOrchestrationSteerReview    EventKind = "orchestration.steering.review_dispatched"
	EventOrchestrationSteerFail      EventKind = "orchestration.steering.review_failed"
)

// Event is a typed, per-session-ordered record of an occurrence.
type Event struct {
	SessionID string    `json:"sessionID"`
	ID        int64     `json:"id"`
	Ts        int64     `json:"ts"`
	Kind      EventKind `json:"kind"`
	Data      any       `json:"data"`
}

// Severity of an AttentionItem.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityDanger Severity = "danger"
)

// AttentionStatus is the lifecycle state of an AttentionItem.
type AttentionStatus string

const (
	AttentionOpen      AttentionStatus = "open"
	AttentionSent      AttentionStatus = "sent"
	AttentionDismissed AttentionStatus = "dismissed"
)

// AttentionOption is one selectable resolution of an AttentionItem. Exactly
// one of KeySequence, Decision, RPCReply, or NextQuestion should be set.
type AttentionOption struct {
	ID           string         `json:"id"`
	Label        string         `json:"label"`
	KeySequence  string         `json:"keySequence,omitempty"`
	Decision     map[string]any `json:"decision,omitempty"`
	RPCReply     map[string]any `json:"rpcReply,omitempty"`
	NextQuestion *NestedQuestion `json:"nextQuestion,omitempty"`
}

// NestedQuestion continues an RPC user-input request with further questions
// before the upstream RPC call is finally answered.
type NestedQuestion struct {
	QuestionID string            `json:"questionID"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Options    []AttentionOption `json:"options"`
	Answers    []string          `json:"answers,omitempty"`
}

// AttentionItem is a pending decision surface extracted from agent output.
type AttentionItem struct {
	ID        string            `json:"id"`
	Seq       int64             `json:"seq"` // per-session sequence number; stable external handle for FYP_ANSWER_QUESTION_JSON's numeric attentionId
	SessionID string            `json:"sessionID"`
	Kind      string            `json:"kind"`
	Severity  Severity          `json:"severity"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Signature string            `json:"signature"`
	Options   []AttentionOption `json:"options"`
	Status    AttentionStatus   `json:"status"`
	CreatedAt int64             `json:"createdAt"`
	Meta      map[string]any    `json:"meta,omitempty"` // parsed bash command, diffstat, etc.
}

// OrchestrationStatus is the lifecycle state of an Orchestration.
type OrchestrationStatus string

const (
	OrchActive   OrchestrationStatus = "active"
	OrchCleaning OrchestrationStatus = "cleaning"
	OrchCleaned  OrchestrationStatus = "cleaned"
	OrchError    OrchestrationStatus = "error"
)

// Worker is a non-coordinator session participating in an Orchestration.
type Worker struct {
	WorkerIndex  int      `json:"workerIndex"`
	Name         string   `json:"name"`
	SessionID    string   `json:"sessionID"`
	Tool         ToolKind `json:"tool"`
	ProfileID    string   `json:"profileID,omitempty"`
	WorktreePath string   `json:"worktreePath,omitempty"`
	Branch       string   `json:"branch,omitempty"`
	BaseRef      string   `json:"baseRef,omitempty"`
	ProjectPath  string   `json:"projectPath"`
	TaskPrompt   string   `json:"taskPrompt"`
	Role         string   `json:"role,omitempty"`
}

// Orchestration supervises one coordinator session and N worker sessions.
type Orchestration struct {
	ID                   string              `json:"id"`
	Name                 string              `json:"name"`
	ProjectPath          string              `json:"projectPath"`
	OrchestratorSessionID string             `json:"orchestratorSessionID"`
	Workers              []Worker            `json:"workers"`
	Status               OrchestrationStatus `json:"status"`
	LastError            string              `json:"lastError,omitempty"`
	CleanedAt            int64               `json:"cleanedAt,omitempty"`
	CreatedAt            int64               `json:"createdAt"`
	UpdatedAt            int64               `json:"updatedAt"`
}

// SyncMode controls when the sync digest loop runs.
type SyncMode string

const (
	SyncOff      SyncMode = "off"
	SyncManual   SyncMode = "manual"
	SyncInterval SyncMode = "interval"
)

// SyncPolicy configures an orchestration's digest/sync cadence.
type SyncPolicy struct {
	Mode                SyncMode `json:"mode"`
	IntervalMs          int64    `json:"intervalMs"`
	DeliverToOrchestrator bool   `json:"deliverToOrchestrator"`
	MinDeliveryGapMs    int64    `json:"minDeliveryGapMs"`
}

// DefaultSyncPolicy is {manual, 120s, true, 45s}.
func DefaultSyncPolicy() SyncPolicy {
	return SyncPolicy{
		Mode:                  SyncManual,
		IntervalMs:            120_000,
		DeliverToOrchestrator: true,
		MinDeliveryGapMs:      45_000,
	}
}

// Clamp bounds IntervalMs to [15s, 30min] and MinDeliveryGapMs to
// [10s, 10min].
func (p SyncPolicy) Clamp() SyncPolicy {
	p.IntervalMs = clampMs(p.IntervalMs, 15_000, 30*60_000)
	p.MinDeliveryGapMs = clampMs(p.MinDeliveryGapMs, 10_000, 10*60_000)
	return p
}

// QuestionMode controls automated question batching to the coordinator.
type QuestionMode string

const (
	QuestionOff          QuestionMode = "off"
	QuestionOrchestrator QuestionMode = "orchestrator"
)

// SteeringMode controls the periodic review loop.
type SteeringMode string

const (
	SteeringOff            SteeringMode = "off"
	SteeringPassiveReview  SteeringMode = "passive_review"
	SteeringActiveSteering SteeringMode = "active_steering"
)

// AutomationPolicy configures question batching and steering review cadence.
type AutomationPolicy struct {
	QuestionMode      QuestionMode `json:"questionMode"`
	SteeringMode      SteeringMode `json:"steeringMode"`
	QuestionTimeoutMs int64        `json:"questionTimeoutMs"`
	ReviewIntervalMs  int64        `json:"reviewIntervalMs"`
	YoloMode          bool         `json:"yoloMode"`
}

// DefaultAutomationPolicy is a conservative starting point: no automation.
func DefaultAutomationPolicy() AutomationPolicy {
	return AutomationPolicy{
		QuestionMode:      QuestionOff,
		SteeringMode:      SteeringOff,
		QuestionTimeoutMs: 5 * 60_000,
		ReviewIntervalMs:  5 * 60_000,
		YoloMode:          false,
	}
}

// Clamp bounds QuestionTimeoutMs to [30s, 20min] and ReviewIntervalMs to
// [30s, 30min].
func (p AutomationPolicy) Clamp() AutomationPolicy {
	p.QuestionTimeoutMs = clampMs(p.QuestionTimeoutMs, 30_000, 20*60_000)
	p.ReviewIntervalMs = clampMs(p.ReviewIntervalMs, 30_000, 30*60_000)
	return p
}

func clampMs(v, min, max int64) int64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// ReplayRecord is an idempotency cache entry for a command execution.
type ReplayRecord struct {
	CacheKey string `json:"cacheKey"`
	Ts       int64  `json:"ts"`
	Response []byte `json:"response"`
}

// NowMs returns the current time as epoch milliseconds.
func NowMs() int64 { return time.Now().UnixMilli() }
