package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fyp-systems/fyp-core/internal/supervisor"
	"github.com/fyp-systems/fyp-core/pkg/types"
)

// fakeSessions is an in-memory stand-in for *supervisor.Supervisor used to
// exercise the Orchestration Engine without spawning real processes.
type fakeSessions struct {
	mu         sync.Mutex
	sessions   map[string]*types.Session
	sent       map[string][]string
	interrupts map[string]int
	bootstrap  map[string]string
	preview    map[string]string
	previewTs  map[string]time.Time
	sendErr    map[string]error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		sessions:   make(map[string]*types.Session),
		sent:       make(map[string][]string),
		interrupts: make(map[string]int),
		bootstrap:  make(map[string]string),
		preview:    make(map[string]string),
		previewTs:  make(map[string]time.Time),
		sendErr:    make(map[string]error),
	}
}

func (f *fakeSessions) CreateSession(ctx context.Context, opts supervisor.CreateOptions) (types.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := types.Session{ID: opts.ID, Tool: opts.Tool, Transport: opts.Transport, CWD: opts.CWD, Running: true, CreatedAt: time.Now().UnixMilli(), UpdatedAt: time.Now().UnixMilli()}
	f.sessions[opts.ID] = &s
	if opts.Bootstrap != "" {
		f.bootstrap[opts.ID] = opts.Bootstrap
	}
	return s, nil
}

func (f *fakeSessions) Send(ctx context.Context, sessionID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sendErr[sessionID]; err != nil {
		return err
	}
	f.sent[sessionID] = append(f.sent[sessionID], text)
	if s, ok := f.sessions[sessionID]; ok {
		s.UpdatedAt = time.Now().UnixMilli()
	}
	return nil
}

func (f *fakeSessions) Interrupt(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupts[sessionID]++
	return nil
}

func (f *fakeSessions) Close(sessionID string, opts supervisor.CloseOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return errors.New("session not found")
	}
	s.Running = false
	return nil
}

func (f *fakeSessions) Status(sessionID string) (types.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return types.Session{}, errors.New("session not found")
	}
	return *s, nil
}

func (f *fakeSessions) Preview(sessionID string) (string, time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.preview[sessionID]
	if !ok {
		return "", time.Time{}, false
	}
	return p, f.previewTs[sessionID], true
}

func (f *fakeSessions) SetBootstrap(sessionID, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bootstrap[sessionID] = text
}

func (f *fakeSessions) ConsumeBootstrap(sessionID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.bootstrap[sessionID]
	delete(f.bootstrap, sessionID)
	return b
}

func (f *fakeSessions) setPreview(sessionID, text string, ts time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preview[sessionID] = text
	f.previewTs[sessionID] = ts
}

func (f *fakeSessions) sentTo(sessionID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent[sessionID]...)
}

func (f *fakeSessions) setIdle(sessionID string, age time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok {
		s.UpdatedAt = time.Now().Add(-age).UnixMilli()
	}
}

// fakeClock gives tests control over e.clock.Now().
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeWorktrees is a no-op WorktreeManager recording calls for assertions.
type fakeWorktrees struct {
	mu       sync.Mutex
	removed  []string
	pruned   []string
	removeErr error
}

func (w *fakeWorktrees) CreateWorktree(ctx context.Context, projectPath, branch, baseRef, destPath string) error {
	return nil
}

func (w *fakeWorktrees) RemoveWorktree(ctx context.Context, projectPath, worktreePath string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.removeErr != nil {
		return w.removeErr
	}
	w.removed = append(w.removed, worktreePath)
	return nil
}

func (w *fakeWorktrees) PruneWorktrees(ctx context.Context, projectPath string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruned = append(w.pruned, projectPath)
	return nil
}
