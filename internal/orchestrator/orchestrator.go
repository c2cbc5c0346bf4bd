// Package orchestrator implements the Orchestration Engine: a runtime
// supervising one coordinator session plus N worker sessions, with ownership,
// dispatch, question routing, periodic sync/review loops, and per-orchestration
// locking.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/fyp-systems/fyp-core/internal/ctlerr"
	"github.com/fyp-systems/fyp-core/internal/event"
	"github.com/fyp-systems/fyp-core/internal/inbox"
	"github.com/fyp-systems/fyp-core/internal/logging"
	"github.com/fyp-systems/fyp-core/internal/store"
	"github.com/fyp-systems/fyp-core/internal/supervisor"
	"github.com/fyp-systems/fyp-core/pkg/types"
)

// log is the engine's component-scoped logger, shared by every file in this
// package so ticks, directives, cleanup, and question dispatch all surface
// under the same "component":"orchestrator" tag.
var log = logging.Component("orchestrator")

// Sessions is the capability set the Orchestration Engine needs from the
// Session Supervisor. A narrow interface (rather than a concrete
// *supervisor.Supervisor dependency) keeps the engine testable against a
// fake and matches the "interface polymorphism" design note: the engine
// dispatches by capability, not by transport.
type Sessions interface {
	CreateSession(ctx context.Context, opts supervisor.CreateOptions) (types.Session, error)
	Send(ctx context.Context, sessionID, text string) error
	Interrupt(ctx context.Context, sessionID string) error
	Close(sessionID string, opts supervisor.CloseOptions) error
	Status(sessionID string) (types.Session, error)
	Preview(sessionID string) (text string, ts time.Time, ok bool)
	SetBootstrap(sessionID, text string)
	ConsumeBootstrap(sessionID string) string
}

// WorktreeManager creates and removes git worktrees for isolated workers.
// Injected so the engine never shells out to git itself.
type WorktreeManager interface {
	CreateWorktree(ctx context.Context, projectPath, branch, baseRef, destPath string) error
	RemoveWorktree(ctx context.Context, projectPath, worktreePath string) error
	PruneWorktrees(ctx context.Context, projectPath string) error
}

// Scaffolder writes the orchestration/bootstrap docs a new run needs before
// its sessions start talking. Implemented outside the core.
type Scaffolder interface {
	WriteScaffold(ctx context.Context, o types.Orchestration) error
}

// EventLog persists typed per-session events. *transcript.Store satisfies
// it; nil disables persistence (events still reach the bus).
type EventLog interface {
	AppendEvent(ctx context.Context, sessionID string, kind types.EventKind, data any) (int64, error)
	GetLatestEvent(ctx context.Context, sessionID string, kind types.EventKind) (types.Event, bool, error)
}

// Clock abstracts wall-clock time so tests can control ticks.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Engine is the Orchestration Engine: one instance per process, holding the
// live runtime state (locks, sync/automation timers, done-latches) for every
// active orchestration.
type Engine struct {
	sessions   Sessions
	inbox      *inbox.Inbox
	storage    *store.Storage
	bus        *event.Bus
	transcript EventLog
	worktrees  WorktreeManager
	scaffold   Scaffolder
	clock      Clock
	allowRoots []string
	apiBaseURL string
	apiToken   string

	defaultsMu        sync.Mutex
	defaultSync       *types.SyncPolicy
	defaultAutomation *types.AutomationPolicy

	mu    sync.Mutex
	runs  map[string]*orchState // orchestrationID -> runtime state
	owner map[string]string     // sessionID -> orchestrationID (coordinator or worker)

	evidenceMu sync.Mutex
	eventHead  map[string]int64            // sessionID -> latest appended event id
	evidence   map[string]dispatchEvidence // orchestrator sessionID -> cached last dispatch

	tickerStop chan struct{}
	progWatch  *progressWatcher
}

// dispatchEvidence caches the orchestrator session's most recent
// orchestration.dispatch event, valid while no newer event has been
// appended for that session.
type dispatchEvidence struct {
	watermark int64
	event     types.Event
	found     bool
}

// Options configures a new Engine.
type Options struct {
	Sessions        Sessions
	Inbox           *inbox.Inbox
	Storage         *store.Storage
	Bus             *event.Bus
	Transcript      EventLog
	Worktrees       WorktreeManager
	Scaffold        Scaffolder
	Clock           Clock
	AllowedRoots    []string // paths orchestration projectPath/worktreePath must live under
	APIBaseURL      string   // injected into worker/orchestrator sessions as FYP_API_BASE_URL
	APIToken        string   // injected as FYP_API_TOKEN
}

// New builds an Engine. Call Run to start the background ticker.
func New(opts Options) *Engine {
	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}
	return &Engine{
		sessions:   opts.Sessions,
		inbox:      opts.Inbox,
		storage:    opts.Storage,
		bus:        opts.Bus,
		transcript: opts.Transcript,
		worktrees:  opts.Worktrees,
		scaffold:   opts.Scaffold,
		clock:      clock,
		allowRoots: opts.AllowedRoots,
		apiBaseURL: opts.APIBaseURL,
		apiToken:   opts.APIToken,
		runs:       make(map[string]*orchState),
		owner:      make(map[string]string),
		eventHead:  make(map[string]int64),
		evidence:   make(map[string]dispatchEvidence),
	}
}

// SetDefaultPolicy overrides the built-in conservative sync/automation
// defaults applied to orchestrations created without an explicit
// CreateOptions.Sync/Automation, e.g. from the operator's policy.yaml.
func (e *Engine) SetDefaultPolicy(sync types.SyncPolicy, automation types.AutomationPolicy) {
	e.defaultsMu.Lock()
	defer e.defaultsMu.Unlock()
	e.defaultSync = &sync
	e.defaultAutomation = &automation
}

func (e *Engine) defaultPolicy() (types.SyncPolicy, types.AutomationPolicy) {
	e.defaultsMu.Lock()
	defer e.defaultsMu.Unlock()
	sync := types.DefaultSyncPolicy()
	if e.defaultSync != nil {
		sync = *e.defaultSync
	}
	automation := types.DefaultAutomationPolicy()
	if e.defaultAutomation != nil {
		automation = *e.defaultAutomation
	}
	return sync, automation
}

// orchState is the in-memory runtime state for one orchestration, guarded by
// its own mutex so independent orchestrations never contend.
type orchState struct {
	mu sync.Mutex

	rec        types.Orchestration
	syncPolicy types.SyncPolicy
	automation types.AutomationPolicy
	lock       *store.OrchestrationLock

	syncInFlight    bool
	lastDigestHash  string
	lastWorkerHash  map[string]string // worker sessionID -> its digest entry hash as of the last run
	lastSyncRunAt   time.Time
	lastDeliveredAt time.Time

	steeringInFlight  bool
	lastSteeringRunAt time.Time

	questions map[string]*pendingQuestion // attention item id -> state
	batchTimer *time.Timer

	doneLatch map[string]bool // worker sessionID -> latched

	signalTimers map[string]*time.Timer
	lastSignalAt map[string]time.Time
}

type pendingQuestion struct {
	sessionID string
	itemID    string
	seq       int64
	createdAt time.Time
	timer     *time.Timer
}

func newOrchState(rec types.Orchestration, lock *store.OrchestrationLock) *orchState {
	return &orchState{
		rec:          rec,
		syncPolicy:   types.DefaultSyncPolicy(),
		automation:   types.DefaultAutomationPolicy(),
		lock:         lock,
		lastWorkerHash: make(map[string]string),
		questions:    make(map[string]*pendingQuestion),
		doneLatch:    make(map[string]bool),
		signalTimers: make(map[string]*time.Timer),
		lastSignalAt: make(map[string]time.Time),
	}
}

// session helper: find the owning orchestration id for sessionID.
func (e *Engine) ownerOf(sessionID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.owner[sessionID]
	return id, ok
}

func (e *Engine) state(orchestrationID string) (*orchState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.runs[orchestrationID]
	return s, ok
}

// Get returns a snapshot of orchestration id's record, or an error if unknown.
func (e *Engine) Get(orchestrationID string) (types.Orchestration, error) {
	s, ok := e.state(orchestrationID)
	if !ok {
		return types.Orchestration{}, ctlerr.New(ctlerr.CodeNotActive, "orchestration %s not found", orchestrationID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec, nil
}

// List returns a snapshot of every known orchestration record.
func (e *Engine) List() []types.Orchestration {
	e.mu.Lock()
	states := make([]*orchState, 0, len(e.runs))
	for _, s := range e.runs {
		states = append(states, s)
	}
	e.mu.Unlock()

	out := make([]types.Orchestration, 0, len(states))
	for _, s := range states {
		s.mu.Lock()
		out = append(out, s.rec)
		s.mu.Unlock()
	}
	return out
}

// AutomationPolicyOf returns orchestrationID's current automation policy.
func (e *Engine) AutomationPolicyOf(orchestrationID string) (types.AutomationPolicy, error) {
	s, ok := e.state(orchestrationID)
	if !ok {
		return types.AutomationPolicy{}, ctlerr.New(ctlerr.CodeNotActive, "orchestration %s not found", orchestrationID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.automation, nil
}

// SetAutomationPolicy replaces orchestrationID's automation policy.
func (e *Engine) SetAutomationPolicy(orchestrationID string, policy types.AutomationPolicy) error {
	s, ok := e.state(orchestrationID)
	if !ok {
		return ctlerr.New(ctlerr.CodeNotActive, "orchestration %s not found", orchestrationID)
	}
	s.mu.Lock()
	s.automation = policy.Clamp()
	s.mu.Unlock()
	return nil
}

// SyncPolicyOf returns orchestrationID's current sync policy.
func (e *Engine) SyncPolicyOf(orchestrationID string) (types.SyncPolicy, error) {
	s, ok := e.state(orchestrationID)
	if !ok {
		return types.SyncPolicy{}, ctlerr.New(ctlerr.CodeNotActive, "orchestration %s not found", orchestrationID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncPolicy, nil
}

// SetSyncPolicy replaces orchestrationID's sync policy.
func (e *Engine) SetSyncPolicy(orchestrationID string, policy types.SyncPolicy) error {
	s, ok := e.state(orchestrationID)
	if !ok {
		return ctlerr.New(ctlerr.CodeNotActive, "orchestration %s not found", orchestrationID)
	}
	s.mu.Lock()
	s.syncPolicy = policy.Clamp()
	s.mu.Unlock()
	return nil
}

func (e *Engine) persist(ctx context.Context, rec types.Orchestration) error {
	if e.storage == nil {
		return nil
	}
	return e.storage.Put(ctx, []string{"orchestrations", rec.ID}, &rec)
}

// RecordCommandExecuted emits an orchestration.command.executed event for
// a command the Command Router just ran against this orchestration.
func (e *Engine) RecordCommandExecuted(sessionID, orchestrationID, commandID string, data any) {
	e.appendEvent(sessionID, types.EventOrchestrationCmdExecuted, map[string]any{
		"orchestrationId": orchestrationID,
		"commandId":       commandID,
		"data":            data,
	})
}

func (e *Engine) appendEvent(sessionID string, kind types.EventKind, data any) {
	e.publish(event.Event{Kind: kind, Data: data})
	if e.transcript == nil {
		return
	}
	id, err := e.transcript.AppendEvent(context.Background(), sessionID, kind, data)
	if err != nil {
		log.Warn().Err(err).Str("sessionID", sessionID).Str("kind", string(kind)).Msg("event append failed")
		return
	}
	e.evidenceMu.Lock()
	e.eventHead[sessionID] = id
	e.evidenceMu.Unlock()
}

// LastDispatch returns orchestratorSessionID's most recent
// orchestration.dispatch event. The result is cached against the session's
// latest appended event id; a newer event invalidates the cache and forces
// a re-read.
func (e *Engine) LastDispatch(ctx context.Context, orchestratorSessionID string) (types.Event, bool) {
	if e.transcript == nil {
		return types.Event{}, false
	}

	e.evidenceMu.Lock()
	head := e.eventHead[orchestratorSessionID]
	cached, ok := e.evidence[orchestratorSessionID]
	e.evidenceMu.Unlock()
	if ok && cached.watermark == head {
		return cached.event, cached.found
	}

	ev, found, err := e.transcript.GetLatestEvent(ctx, orchestratorSessionID, types.EventOrchestrationDispatch)
	if err != nil {
		return types.Event{}, false
	}
	e.evidenceMu.Lock()
	e.evidence[orchestratorSessionID] = dispatchEvidence{watermark: head, event: ev, found: found}
	e.evidenceMu.Unlock()
	return ev, found
}

// notifyProgress emits an orchestration.create.progress notice on the bus
// so subscribers can follow a long creation step by step.
func (e *Engine) notifyProgress(orchestrationID, step, detail string) {
	e.publish(event.Event{Kind: event.KindOrchCreateProgress, Data: event.CreateProgressData{
		OrchestrationID: orchestrationID,
		Step:            step,
		Detail:          detail,
	}})
}

// notifyOrchestrationsChanged emits an orchestrations.changed notice.
func (e *Engine) notifyOrchestrationsChanged() {
	e.publish(event.Event{Kind: event.KindOrchestrationsChanged})
}

func (e *Engine) publish(ev event.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	} else {
		event.Publish(ev)
	}
}
