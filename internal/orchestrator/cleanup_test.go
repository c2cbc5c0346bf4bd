package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fyp-systems/fyp-core/pkg/types"
)

func TestCleanupStopsSessionsAndRemovesWorktrees(t *testing.T) {
	e, sessions, _ := newTestEngine(t)
	wt := &fakeWorktrees{}
	e.worktrees = wt
	ctx := context.Background()

	rec := types.Orchestration{
		ID:                    "o1",
		OrchestratorSessionID: "orch",
		Status:                types.OrchActive,
		Workers: []types.Worker{
			{WorkerIndex: 0, Name: "w1", SessionID: "s1", ProjectPath: "/proj", WorktreePath: "/proj/.worktrees/w1"},
		},
	}
	seedOrchestration(t, e, sessions, rec)

	result, err := e.Cleanup(ctx, "o1", CleanupOptions{
		StopSessions:    true,
		RemoveWorktrees: true,
		RemoveRecord:    true,
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"s1", "orch"}, result.SessionsStopped)
	require.Equal(t, []string{"/proj/.worktrees/w1"}, result.WorktreesRemoved)
	require.Empty(t, result.WorktreeFailures)

	st1, err := sessions.Status("s1")
	require.NoError(t, err)
	require.False(t, st1.Running)

	_, ok := e.state("o1")
	require.False(t, ok, "record should be removed from runtime state")
}

func TestCleanupKeepsCoordinatorWhenRequested(t *testing.T) {
	e, sessions, _ := newTestEngine(t)
	e.worktrees = &fakeWorktrees{}
	ctx := context.Background()

	rec := types.Orchestration{
		ID:                    "o1",
		OrchestratorSessionID: "orch",
		Status:                types.OrchActive,
		Workers: []types.Worker{
			{WorkerIndex: 0, Name: "w1", SessionID: "s1"},
		},
	}
	seedOrchestration(t, e, sessions, rec)

	result, err := e.Cleanup(ctx, "o1", CleanupOptions{StopSessions: true, KeepCoordinator: true})
	require.NoError(t, err)
	require.Equal(t, []string{"s1"}, result.SessionsStopped)

	st, err := sessions.Status("orch")
	require.NoError(t, err)
	require.True(t, st.Running)
}

func TestCleanupReportsWorktreeFailureAfterRetries(t *testing.T) {
	e, sessions, _ := newTestEngine(t)
	wt := &fakeWorktrees{removeErr: errors.New("locked by os")}
	e.worktrees = wt
	ctx := context.Background()

	rec := types.Orchestration{
		ID:                    "o1",
		OrchestratorSessionID: "orch",
		Status:                types.OrchActive,
		Workers: []types.Worker{
			{WorkerIndex: 0, Name: "w1", SessionID: "s1", ProjectPath: "/proj", WorktreePath: "/proj/.worktrees/w1"},
		},
	}
	seedOrchestration(t, e, sessions, rec)

	result, err := e.Cleanup(ctx, "o1", CleanupOptions{RemoveWorktrees: true})
	require.NoError(t, err)
	require.Equal(t, []string{"/proj/.worktrees/w1"}, result.WorktreeFailures)
	require.Len(t, wt.pruned, worktreeRemoveAttempts)

	rec2, err := e.Get("o1")
	require.NoError(t, err)
	require.Equal(t, types.OrchError, rec2.Status)
	require.NotEmpty(t, rec2.LastError)
}
