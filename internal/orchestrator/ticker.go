package orchestrator

import (
	"context"
	"time"

	"github.com/fyp-systems/fyp-core/pkg/types"
)

const tickInterval = 5 * time.Second

// Run starts the engine's background loop: every tick it drives
// interval-mode sync delivery, due steering reviews, and stale-worker signal
// detection across every active orchestration. It returns immediately; call
// Stop to halt it.
func (e *Engine) Run(ctx context.Context) {
	e.mu.Lock()
	if e.tickerStop != nil {
		e.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	e.tickerStop = stop
	e.mu.Unlock()

	if stopWatch, err := e.StartProgressWatch(ctx); err == nil {
		go func() {
			<-stop
			stopWatch()
		}()
	} else {
		log.Warn().Err(err).Msg("progress watcher unavailable, relying on ticker only")
	}

	go func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				e.tick(ctx)
			}
		}
	}()
}

// Stop halts the background loop started by Run.
func (e *Engine) Stop() {
	e.mu.Lock()
	stop := e.tickerStop
	e.tickerStop = nil
	e.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (e *Engine) tick(ctx context.Context) {
	e.refreshWatchDirs()

	e.mu.Lock()
	states := make([]*orchState, 0, len(e.runs))
	for _, s := range e.runs {
		states = append(states, s)
	}
	e.mu.Unlock()

	now := e.clock.Now()

	for _, s := range states {
		s.mu.Lock()
		rec := s.rec
		syncMode := s.syncPolicy.Mode
		intervalMs := s.syncPolicy.IntervalMs
		lastSync := s.lastSyncRunAt
		steeringMode := s.automation.SteeringMode
		reviewIntervalMs := s.automation.ReviewIntervalMs
		lastSteering := s.lastSteeringRunAt
		s.mu.Unlock()

		if rec.Status != types.OrchActive {
			continue
		}

		if syncMode == types.SyncInterval && now.Sub(lastSync) >= time.Duration(intervalMs)*time.Millisecond {
			go func(id string) {
				_, _ = e.RunSync(ctx, id, SyncRequest{Trigger: SyncTrigger("interval")})
			}(rec.ID)
		}

		if steeringMode != types.SteeringOff && now.Sub(lastSteering) >= time.Duration(reviewIntervalMs)*time.Millisecond {
			go func(id string) {
				_ = e.RunSteeringReview(ctx, id, SteeringReviewRequest{})
			}(rec.ID)
		}

		for _, w := range rec.Workers {
			switch e.ActivityOf(w.SessionID) {
			case ActivityNeedsInput, ActivityWaitingOrDone, ActivityStale:
				e.OnWorkerSignal(w.SessionID, "worker.idle.60s")
			}
		}
	}

	e.pruneRunState(ctx)
}

// pruneRunState drops runtime state for orchestrations whose persisted
// record no longer exists (deleted out from under the engine).
func (e *Engine) pruneRunState(ctx context.Context) {
	if e.storage == nil {
		return
	}
	e.mu.Lock()
	ids := make([]string, 0, len(e.runs))
	for id := range e.runs {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		var rec types.Orchestration
		if err := e.storage.Get(ctx, []string{"orchestrations", id}, &rec); err == nil {
			continue
		}
		e.mu.Lock()
		s, ok := e.runs[id]
		e.mu.Unlock()
		if !ok {
			continue
		}
		s.mu.Lock()
		stale := s.rec
		s.mu.Unlock()
		log.Warn().Str("orchestrationID", id).Msg("pruning state for missing orchestration record")
		e.removeRunState(ctx, id, stale)
	}
}
