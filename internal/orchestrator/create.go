package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fyp-systems/fyp-core/internal/ctlerr"
	"github.com/fyp-systems/fyp-core/internal/idgen"
	"github.com/fyp-systems/fyp-core/internal/store"
	"github.com/fyp-systems/fyp-core/internal/supervisor"
	"github.com/fyp-systems/fyp-core/pkg/types"
)

// DispatchMode controls whether the coordinator or its workers get the
// first initial-prompt dispatch.
type DispatchMode string

const (
	DispatchOrchestratorFirst DispatchMode = "orchestrator-first"
	DispatchWorkerFirst       DispatchMode = "worker-first"
)

// AgentSpec describes one session (coordinator or worker) to spawn as part
// of a new orchestration.
type AgentSpec struct {
	Name         string
	Role         string
	Tool         types.ToolKind
	ProfileID    string
	Prompt       string // bootstrap / task prompt
	Overrides    map[string]string
	Isolated     bool // worker only: create a dedicated git worktree
	ProjectPath  string
	Branch       string
	BaseRef      string
	WorktreePath string // pre-selected, otherwise derived
}

// CreateOptions describes a new orchestration run.
type CreateOptions struct {
	Name                      string
	ProjectPath               string
	Orchestrator              AgentSpec
	Workers                   []AgentSpec
	DispatchMode              DispatchMode
	AutoDispatchInitialPrompts *bool // default true when DispatchMode == orchestrator-first
	Automation                *types.AutomationPolicy
	Sync                      *types.SyncPolicy
}

// createProjectLocks serializes Create calls per projectPath so two
// concurrent creates under the same project never race on worktree naming.
var (
	createLocksMu sync.Mutex
	createLocks   = map[string]*sync.Mutex{}
)

func projectCreateLock(projectPath string) *sync.Mutex {
	createLocksMu.Lock()
	defer createLocksMu.Unlock()
	l, ok := createLocks[projectPath]
	if !ok {
		l = &sync.Mutex{}
		createLocks[projectPath] = l
	}
	return l
}

// Create runs the atomic orchestration-creation sequence:
// validate paths, create worktrees, spawn worker then orchestrator
// sessions, write scaffold docs, wait for readiness, persist the record,
// then warm up and bootstrap every session. Failures before the record is
// persisted roll back in reverse order.
func (e *Engine) Create(ctx context.Context, opts CreateOptions) (types.Orchestration, error) {
	lock := projectCreateLock(opts.ProjectPath)
	lock.Lock()
	defer lock.Unlock()

	if err := e.validatePaths(opts); err != nil {
		return types.Orchestration{}, err
	}

	id := idgen.NewID()
	now := time.Now().UnixMilli()

	var createdWorktrees []AgentSpec // in creation order, for rollback
	var createdSessions []string     // in creation order, for rollback

	rollback := func() {
		for i := len(createdSessions) - 1; i >= 0; i-- {
			_ = e.sessions.Close(createdSessions[i], supervisor.CloseOptions{Force: true})
		}
		for i := len(createdWorktrees) - 1; i >= 0; i-- {
			w := createdWorktrees[i]
			_ = e.worktrees.RemoveWorktree(ctx, w.ProjectPath, w.WorktreePath)
		}
	}

	// Step 2: worktrees for isolated workers.
	for i := range opts.Workers {
		w := &opts.Workers[i]
		if !w.Isolated {
			continue
		}
		if w.ProjectPath == "" {
			w.ProjectPath = opts.ProjectPath
		}
		if w.WorktreePath == "" {
			w.WorktreePath = filepath.Join(filepath.Dir(w.ProjectPath), fmt.Sprintf(".worktrees/%s-%s", sanitizeName(w.Name), idgen.NewToken()[:8]))
		}
		if w.Branch == "" {
			return types.Orchestration{}, ctlerr.New(ctlerr.CodeWorkerBranchRequiresGit, "isolated worker %s requires a branch", w.Name)
		}
		if e.worktrees == nil {
			rollback()
			return types.Orchestration{}, ctlerr.New(ctlerr.CodeWorktreeCreateFailed, "no worktree manager configured")
		}
		if err := e.worktrees.CreateWorktree(ctx, w.ProjectPath, w.Branch, w.BaseRef, w.WorktreePath); err != nil {
			rollback()
			return types.Orchestration{}, ctlerr.Wrap(ctlerr.CodeWorktreeCreateFailed, err)
		}
		createdWorktrees = append(createdWorktrees, *w)
	}

	e.notifyProgress(id, "worktrees", "")

	// Step 3: worker sessions.
	workers := make([]types.Worker, 0, len(opts.Workers))
	for i, w := range opts.Workers {
		sid := idgen.NewID()
		cwd := w.ProjectPath
		if w.WorktreePath != "" {
			cwd = w.WorktreePath
		}
		_, err := e.sessions.CreateSession(ctx, supervisor.CreateOptions{
			ID:        sid,
			Tool:      w.Tool,
			ProfileID: w.ProfileID,
			Transport: types.TransportPTY,
			CWD:       cwd,
			Label:     w.Name,
		})
		if err != nil {
			rollback()
			return types.Orchestration{}, ctlerr.Wrap(ctlerr.CodeOrchestrationFailed, err)
		}
		createdSessions = append(createdSessions, sid)
		workers = append(workers, types.Worker{
			WorkerIndex:  i,
			Name:         w.Name,
			SessionID:    sid,
			Tool:         w.Tool,
			ProfileID:    w.ProfileID,
			WorktreePath: w.WorktreePath,
			Branch:       w.Branch,
			BaseRef:      w.BaseRef,
			ProjectPath:  w.ProjectPath,
			TaskPrompt:   w.Prompt,
			Role:         w.Role,
		})
	}

	// Step 4: orchestrator session, with orchestration-scoped env.
	orchSessionID := idgen.NewID()
	env := []string{
		fmt.Sprintf("FYP_API_BASE_URL=%s", e.apiBaseURL),
		fmt.Sprintf("FYP_API_TOKEN=%s", e.apiToken),
		fmt.Sprintf("FYP_ORCHESTRATION_ID=%s", id),
	}
	_, err := e.sessions.CreateSession(ctx, supervisor.CreateOptions{
		ID:        orchSessionID,
		Tool:      opts.Orchestrator.Tool,
		ProfileID: opts.Orchestrator.ProfileID,
		Transport: types.TransportPTY,
		CWD:       opts.ProjectPath,
		Env:       env,
		Label:     opts.Orchestrator.Name,
	})
	if err != nil {
		rollback()
		return types.Orchestration{}, ctlerr.Wrap(ctlerr.CodeOrchestrationFailed, err)
	}
	createdSessions = append(createdSessions, orchSessionID)

	rec := types.Orchestration{
		ID:                    id,
		Name:                  opts.Name,
		ProjectPath:           opts.ProjectPath,
		OrchestratorSessionID: orchSessionID,
		Workers:               workers,
		Status:                types.OrchActive,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	// Step 5: scaffold docs. A failure here fails the whole creation.
	if e.scaffold != nil {
		if err := e.scaffold.WriteScaffold(ctx, rec); err != nil {
			rollback()
			return types.Orchestration{}, ctlerr.Wrap(ctlerr.CodeOrchestrationFailed, err)
		}
	}

	// Step 6: wait for every session to report running.
	if !e.waitForSessionReady(ctx, orchSessionID, 15*time.Second) {
		rollback()
		return types.Orchestration{}, ctlerr.New(ctlerr.CodeOrchestrationFailed, "orchestrator session %s did not become ready", orchSessionID)
	}
	for _, w := range workers {
		if !e.waitForSessionReady(ctx, w.SessionID, 15*time.Second) {
			rollback()
			return types.Orchestration{}, ctlerr.New(ctlerr.CodeOrchestrationFailed, "worker session %s did not become ready", w.SessionID)
		}
	}

	e.notifyProgress(id, "sessions_ready", "")

	// Step 7: persist the record. Must precede bootstrap sends so early
	// directives (which look the orchestration up by session id) resolve.
	if err := e.persist(ctx, rec); err != nil {
		rollback()
		return types.Orchestration{}, ctlerr.Wrap(ctlerr.CodeOrchestrationFailed, err)
	}
	e.notifyProgress(id, "persisted", "")

	dispatchMode := opts.DispatchMode
	if dispatchMode == "" {
		dispatchMode = DispatchOrchestratorFirst
	}
	autoDispatch := dispatchMode == DispatchOrchestratorFirst
	if opts.AutoDispatchInitialPrompts != nil {
		autoDispatch = *opts.AutoDispatchInitialPrompts
	}

	defaultSync, defaultAutomation := e.defaultPolicy()
	automation := defaultAutomation
	if opts.Automation != nil {
		automation = *opts.Automation
	}
	automation = automation.Clamp()
	syncPolicy := defaultSync
	if opts.Sync != nil {
		syncPolicy = *opts.Sync
	}
	syncPolicy = syncPolicy.Clamp()

	st := newOrchState(rec, store.NewOrchestrationLock(e.storage, id))
	st.syncPolicy = syncPolicy
	st.automation = automation

	e.mu.Lock()
	e.runs[id] = st
	e.owner[orchSessionID] = id
	for _, w := range workers {
		e.owner[w.SessionID] = id
	}
	e.mu.Unlock()

	e.appendEvent(orchSessionID, types.EventOrchestrationCreated, map[string]any{"orchestrationID": id, "workers": len(workers)})

	// Step 8: warm up and bootstrap the orchestrator. Consume the fallback
	// before sending so the supervisor's first-write prepend doesn't fire
	// again on the same text.
	e.warmUp(ctx, orchSessionID, 360*time.Millisecond, 9*time.Second)
	if opts.Orchestrator.Prompt != "" {
		e.sessions.SetBootstrap(orchSessionID, opts.Orchestrator.Prompt)
		text := opts.Orchestrator.Prompt
		if boot := e.sessions.ConsumeBootstrap(orchSessionID); boot != "" {
			text = boot
		}
		_ = e.sessions.Send(ctx, orchSessionID, text)
	}

	// Step 9: warm up and bootstrap every worker.
	for _, w := range opts.Workers {
		idx := -1
		for i, rw := range workers {
			if rw.Name == w.Name {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}
		sid := workers[idx].SessionID
		e.warmUp(ctx, sid, 260*time.Millisecond, 9*time.Second)
		if w.Prompt != "" {
			e.sessions.SetBootstrap(sid, w.Prompt)
		}
	}

	// Step 10: initial send-task dispatch to workers.
	if autoDispatch && dispatchMode == DispatchOrchestratorFirst {
		e.dispatchInitialPrompts(ctx, &rec, opts.Workers, workers)
	}

	e.notifyProgress(id, "done", "")
	e.notifyOrchestrationsChanged()
	return rec, nil
}

// scheduleBackOff replays a fixed duration schedule before stopping,
// implementing backoff.BackOff.
type scheduleBackOff struct {
	schedule []time.Duration
	i        int
}

func (b *scheduleBackOff) NextBackOff() time.Duration {
	if b.i >= len(b.schedule) {
		return backoff.Stop
	}
	d := b.schedule[b.i]
	b.i++
	return d
}

func (b *scheduleBackOff) Reset() { b.i = 0 }

// dispatchInitialPrompts sends each worker's bootstrap task with up to 4
// attempts and the backoff schedule {1.4s, 1.4s, 3.2s, 7s}; any worker that
// exhausts its attempts is recorded as a warning event rather than failing
// the whole creation.
func (e *Engine) dispatchInitialPrompts(ctx context.Context, rec *types.Orchestration, specs []AgentSpec, workers []types.Worker) {
	schedule := []time.Duration{1400 * time.Millisecond, 1400 * time.Millisecond, 3200 * time.Millisecond, 7 * time.Second}

	for i, w := range workers {
		prompt := specs[i].Prompt
		if prompt == "" {
			continue
		}
		op := func() error {
			// Same ordering as Dispatch: consume the registered fallback
			// first so Send's underlying write doesn't prepend it again.
			text := prompt
			if boot := e.sessions.ConsumeBootstrap(w.SessionID); boot != "" {
				text = boot
			}
			return e.sessions.Send(ctx, w.SessionID, text)
		}
		b := &scheduleBackOff{schedule: schedule}
		if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
			e.appendEvent(rec.OrchestratorSessionID, types.EventOrchestrationDispatch, map[string]any{
				"warning": fmt.Sprintf("initial dispatch to worker %s failed after retries: %v", w.Name, err),
			})
		}
	}
}

func sanitizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	s := b.String()
	if s == "" {
		return "worker"
	}
	return s
}

// validatePaths rejects any project or worktree path outside the engine's
// configured allowed roots. No roots configured
// means no restriction.
func (e *Engine) validatePaths(opts CreateOptions) error {
	if len(e.allowRoots) == 0 {
		return nil
	}
	check := func(p string) error {
		if p == "" {
			return nil
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return ctlerr.New(ctlerr.CodeBadPath, "invalid path %q", p)
		}
		for _, root := range e.allowRoots {
			rootAbs, err := filepath.Abs(root)
			if err != nil {
				continue
			}
			if abs == rootAbs || strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) {
				return nil
			}
		}
		return ctlerr.New(ctlerr.CodeBadPath, "path %q is outside allowed roots", p)
	}
	if err := check(opts.ProjectPath); err != nil {
		return err
	}
	for _, w := range opts.Workers {
		if err := check(w.ProjectPath); err != nil {
			return err
		}
		if err := check(w.WorktreePath); err != nil {
			return err
		}
	}
	return nil
}
