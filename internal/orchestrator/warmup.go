package orchestrator

import (
	"context"
	"time"
)

// waitForSessionReady polls Status until sessionID reports running, bounded
// by timeout (15s default, 30s for dispatch targets).
func (e *Engine) waitForSessionReady(ctx context.Context, sessionID string, timeout time.Duration) bool {
	deadline := e.clock.Now().Add(timeout)
	for {
		st, err := e.sessions.Status(sessionID)
		if err == nil && st.Running {
			return true
		}
		if e.clock.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// warmUp settles for settle before probing for interpreter preview
// activity, polling up to probeTimeout. Returns true if a preview line
// newer than the settle point was observed.
func (e *Engine) warmUp(ctx context.Context, sessionID string, settle, probeTimeout time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(settle):
	}

	start := e.clock.Now()
	deadline := start.Add(probeTimeout)
	for {
		if _, ts, ok := e.sessions.Preview(sessionID); ok && ts.After(start) {
			return true
		}
		if e.clock.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(150 * time.Millisecond):
		}
	}
}
