package orchestrator

import (
	"context"
	"time"

	"github.com/fyp-systems/fyp-core/internal/ctlerr"
	"github.com/fyp-systems/fyp-core/internal/supervisor"
	"github.com/fyp-systems/fyp-core/pkg/types"
)

// CleanupOptions parameterizes Cleanup.
type CleanupOptions struct {
	StopSessions     bool
	DeleteSessions   bool
	RemoveWorktrees  bool
	RemoveRecord     bool
	KeepCoordinator  bool
}

// CleanupResult reports what Cleanup actually did, including any worktree
// removals that failed after retrying.
type CleanupResult struct {
	SessionsStopped  []string
	SessionsDeleted  []string
	WorktreesRemoved []string
	WorktreeFailures []string
}

const worktreeRemoveAttempts = 3

// supervisorCloseGraceful is the teardown mode Cleanup uses for both workers
// and the coordinator: ordered stop with an escalation grace period rather
// than an immediate kill.
func supervisorCloseGraceful() supervisor.CloseOptions {
	return supervisor.CloseOptions{Force: false, GraceMs: 5000}
}

// Cleanup tears an orchestration down: optionally stopping/deleting its
// sessions, removing worker worktrees (retried, with a prune between
// attempts), and optionally clearing its record and all runtime state. It
// holds the orchestration's advisory lock for the duration.
func (e *Engine) Cleanup(ctx context.Context, orchestrationID string, opts CleanupOptions) (CleanupResult, error) {
	s, ok := e.state(orchestrationID)
	if !ok {
		return CleanupResult{}, ctlerr.New(ctlerr.CodeNotActive, "orchestration %s not found", orchestrationID)
	}

	acquire, err := e.acquireLock(ctx, s)
	if err != nil {
		return CleanupResult{}, err
	}
	if !acquire.OK {
		return CleanupResult{}, ctlerr.New(ctlerr.CodeOrchestrationLocked, "orchestration %s is locked by %s", orchestrationID, acquire.Busy.Owner)
	}
	defer e.releaseLock(ctx, s)

	s.mu.Lock()
	rec := s.rec
	rec.Status = types.OrchCleaning
	rec.UpdatedAt = e.clock.Now().UnixMilli()
	s.rec = rec
	s.mu.Unlock()
	_ = e.persist(ctx, rec)

	result := CleanupResult{}
	var firstErr error

	for _, w := range rec.Workers {
		if opts.KeepCoordinator && w.SessionID == rec.OrchestratorSessionID {
			continue
		}

		if opts.StopSessions || opts.DeleteSessions {
			closeErr := e.sessions.Close(w.SessionID, supervisorCloseGraceful())
			if closeErr == nil {
				result.SessionsStopped = append(result.SessionsStopped, w.SessionID)
			} else if firstErr == nil {
				firstErr = closeErr
			}
		}

		if opts.RemoveWorktrees && w.WorktreePath != "" && e.worktrees != nil {
			if e.removeWorktreeWithRetry(ctx, w.ProjectPath, w.WorktreePath) {
				result.WorktreesRemoved = append(result.WorktreesRemoved, w.WorktreePath)
			} else {
				result.WorktreeFailures = append(result.WorktreeFailures, w.WorktreePath)
			}
		}
	}

	if !opts.KeepCoordinator && (opts.StopSessions || opts.DeleteSessions) {
		if closeErr := e.sessions.Close(rec.OrchestratorSessionID, supervisorCloseGraceful()); closeErr == nil {
			result.SessionsStopped = append(result.SessionsStopped, rec.OrchestratorSessionID)
		} else if firstErr == nil {
			firstErr = closeErr
		}
	}

	if opts.DeleteSessions {
		result.SessionsDeleted = result.SessionsStopped
	}

	s.mu.Lock()
	if len(result.WorktreeFailures) > 0 || firstErr != nil {
		rec.Status = types.OrchError
		if firstErr != nil {
			rec.LastError = firstErr.Error()
		} else {
			rec.LastError = "one or more worktrees could not be removed"
		}
	} else {
		rec.Status = types.OrchCleaned
		rec.CleanedAt = e.clock.Now().UnixMilli()
		rec.LastError = ""
	}
	rec.UpdatedAt = e.clock.Now().UnixMilli()
	s.rec = rec
	s.mu.Unlock()

	if err := e.persist(ctx, rec); err != nil {
		return result, err
	}

	if rec.Status == types.OrchCleaned {
		// A cleaned run has no sessions left to automate.
		s.mu.Lock()
		if s.batchTimer != nil {
			s.batchTimer.Stop()
			s.batchTimer = nil
		}
		for id, pq := range s.questions {
			if pq.timer != nil {
				pq.timer.Stop()
			}
			delete(s.questions, id)
		}
		for k, t := range s.signalTimers {
			t.Stop()
			delete(s.signalTimers, k)
		}
		s.mu.Unlock()
	}

	if opts.RemoveRecord && rec.Status == types.OrchCleaned {
		e.removeRunState(ctx, orchestrationID, rec)
	}

	e.notifyOrchestrationsChanged()
	return result, firstErr
}

func (e *Engine) removeWorktreeWithRetry(ctx context.Context, projectPath, worktreePath string) bool {
	for attempt := 0; attempt < worktreeRemoveAttempts; attempt++ {
		if err := e.worktrees.RemoveWorktree(ctx, projectPath, worktreePath); err == nil {
			return true
		}
		_ = e.worktrees.PruneWorktrees(ctx, projectPath)
		if attempt < worktreeRemoveAttempts-1 {
			time.Sleep(300 * time.Millisecond)
		}
	}
	log.Warn().Str("worktree", worktreePath).Msg("worktree removal failed after retries")
	return false
}

// removeRunState drops orchestrationID's in-memory runtime state, owner-map
// entries, and persisted record.
func (e *Engine) removeRunState(ctx context.Context, orchestrationID string, rec types.Orchestration) {
	e.mu.Lock()
	delete(e.runs, orchestrationID)
	delete(e.owner, rec.OrchestratorSessionID)
	for _, w := range rec.Workers {
		delete(e.owner, w.SessionID)
	}
	e.mu.Unlock()

	e.evidenceMu.Lock()
	delete(e.evidence, rec.OrchestratorSessionID)
	delete(e.eventHead, rec.OrchestratorSessionID)
	e.evidenceMu.Unlock()

	if e.storage != nil {
		_ = e.storage.Delete(ctx, []string{"orchestrations", orchestrationID})
	}
}
