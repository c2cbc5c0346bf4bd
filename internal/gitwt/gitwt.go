// Package gitwt implements the Orchestration Engine's WorktreeManager by
// shelling out to the system git binary.
package gitwt

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/fyp-systems/fyp-core/internal/ctlerr"
)

// Manager creates and removes git worktrees for isolated orchestration
// workers.
type Manager struct{}

// New returns a git-backed WorktreeManager.
func New() *Manager {
	return &Manager{}
}

func (m *Manager) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// CreateWorktree adds a worktree at destPath, checking out branch off
// baseRef (creating branch if it doesn't already exist).
func (m *Manager) CreateWorktree(ctx context.Context, projectPath, branch, baseRef, destPath string) error {
	if baseRef == "" {
		baseRef = "HEAD"
	}
	if _, err := m.run(ctx, projectPath, "worktree", "add", "-B", branch, destPath, baseRef); err != nil {
		return ctlerr.Wrap(ctlerr.CodeWorktreeCreateFailed, err)
	}
	return nil
}

// RemoveWorktree removes worktreePath, forcing removal of any uncommitted
// changes since a worker's scratch worktree is disposable once cleanup
// runs.
func (m *Manager) RemoveWorktree(ctx context.Context, projectPath, worktreePath string) error {
	if _, err := m.run(ctx, projectPath, "worktree", "remove", "--force", worktreePath); err != nil {
		return ctlerr.Wrap(ctlerr.CodeWorktreeCreateFailed, err)
	}
	return nil
}

// PruneWorktrees drops administrative files for worktrees whose directory
// is already gone, called between RemoveWorktree retries so a half-removed
// worktree doesn't keep blocking the path.
func (m *Manager) PruneWorktrees(ctx context.Context, projectPath string) error {
	_, err := m.run(ctx, projectPath, "worktree", "prune")
	return err
}
