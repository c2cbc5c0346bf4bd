package orchestrator

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// progressWatchDirs are the directories, relative to a worker's root, whose
// progress-file candidates (progress.go's progressCandidates) live under
// them. Watching the directory rather than each candidate file lets a
// worker create its task file after the orchestration starts and still be
// picked up.
var progressWatchDirs = []string{".agents/tasks", ".fyp", "."}

// progressWatcher supplements the 5s ticker (ticker.go) with fsnotify
// change events on worker progress-file directories, so an edit to a task
// markdown file triggers a sync recompute well inside the next tick. It is
// owned by the Engine and refreshed on every tick.
type progressWatcher struct {
	watcher  *fsnotify.Watcher
	watched  map[string]string // dir -> orchestrationID
	pending  map[string]*time.Timer
}

// StartProgressWatch starts the fsnotify-backed supplement to the ticker.
// It is safe to call at most once per Engine; a second call is a no-op.
// Call the returned stop function on shutdown.
func (e *Engine) StartProgressWatch(ctx context.Context) (stop func(), err error) {
	e.mu.Lock()
	if e.progWatch != nil {
		e.mu.Unlock()
		return func() {}, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	pw := &progressWatcher{watcher: w, watched: make(map[string]string), pending: make(map[string]*time.Timer)}
	e.progWatch = pw
	e.mu.Unlock()

	go pw.loop(ctx, e)
	return func() {
		_ = w.Close()
	}, nil
}

// refreshWatchDirs re-scans every active orchestration's worker roots and
// adds any not-yet-watched progress directories. Called once per tick from
// ticker.go so new orchestrations/workers are picked up within 5s.
func (e *Engine) refreshWatchDirs() {
	e.mu.Lock()
	pw := e.progWatch
	if pw == nil {
		e.mu.Unlock()
		return
	}
	states := make([]*orchState, 0, len(e.runs))
	for _, s := range e.runs {
		states = append(states, s)
	}
	e.mu.Unlock()

	for _, s := range states {
		s.mu.Lock()
		rec := s.rec
		s.mu.Unlock()
		for _, w := range rec.Workers {
			root := w.WorktreePath
			if root == "" {
				root = w.ProjectPath
			}
			if root == "" {
				continue
			}
			for _, rel := range progressWatchDirs {
				dir := filepath.Join(root, rel)
				if _, ok := pw.watched[dir]; ok {
					continue
				}
				if err := pw.watcher.Add(dir); err == nil {
					pw.watched[dir] = rec.ID
				}
			}
		}
	}
}

func (pw *progressWatcher) loop(ctx context.Context, e *Engine) {
	defer func() {
		for _, t := range pw.pending {
			t.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-pw.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			orchID, ok := pw.watched[filepath.Dir(ev.Name)]
			if !ok {
				continue
			}
			if t, exists := pw.pending[orchID]; exists {
				t.Stop()
			}
			id := orchID
			pw.pending[id] = time.AfterFunc(250*time.Millisecond, func() {
				_, _ = e.RunSync(context.Background(), id, SyncRequest{Trigger: SyncTrigger("fswatch")})
			})
		case err, ok := <-pw.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("progress watcher error")
		}
	}
}
