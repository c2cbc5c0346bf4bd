package orchestrator

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/match"

	"github.com/fyp-systems/fyp-core/internal/ctlerr"
	"github.com/fyp-systems/fyp-core/pkg/types"
)

// ActivityState summarizes how recently a worker session has been doing
// anything, used to decide whether a dispatch's interrupt request should
// actually fire.
type ActivityState string

const (
	ActivityLive          ActivityState = "live"
	ActivityNeedsInput    ActivityState = "needs_input"
	ActivityWaitingOrDone ActivityState = "waiting_or_done"
	ActivityStale         ActivityState = "stale"
	ActivityIdle          ActivityState = "idle"
)

const (
	idleThreshold  = 60 * time.Second
	staleThreshold = 5 * time.Minute
)

// ActivityOf computes sessionID's current ActivityState from its running
// status, open attention count, and last-activity timestamp (the more
// recent of its interpreter preview and session metadata update).
func (e *Engine) ActivityOf(sessionID string) ActivityState {
	st, err := e.sessions.Status(sessionID)
	if err != nil || !st.Running {
		return ActivityIdle
	}

	last := time.UnixMilli(st.UpdatedAt)
	if _, ts, ok := e.sessions.Preview(sessionID); ok && ts.After(last) {
		last = ts
	}

	attention := 0
	if e.inbox != nil {
		attention = e.inbox.OpenCounts()[sessionID]
	}

	idleFor := e.clock.Now().Sub(last)
	switch {
	case idleFor >= staleThreshold:
		return ActivityStale
	case idleFor >= idleThreshold && attention > 0:
		return ActivityNeedsInput
	case idleFor >= idleThreshold:
		return ActivityWaitingOrDone
	default:
		return ActivityLive
	}
}

// DispatchRequest is one dispatch call's parameters.
type DispatchRequest struct {
	Text                      string
	Target                    string
	Interrupt                 bool
	ForceInterrupt            bool
	IncludeBootstrapIfPresent bool
	Source                    string
}

// SentTarget reports the outcome of sending to one resolved target.
type SentTarget struct {
	SessionID              string
	WorkerIndex            int
	InterruptIssued        bool
	InterruptSkippedReason string
}

// FailedTarget reports a target that could not be sent to.
type FailedTarget struct {
	SessionID string
	Reason    string
}

// DispatchResult is dispatch's return value.
type DispatchResult struct {
	Sent             []SentTarget
	Failed           []FailedTarget
	AvailableTargets []string
}

var reCanonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

func canonicalize(s string) string {
	return strings.Trim(reCanonAlnum.ReplaceAllString(strings.ToLower(s), ""), "-")
}

func slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return reCanonAlnum.ReplaceAllString(s, "-")
}

// resolveTargets expands a dispatch target string against rec's workers.
func resolveTargets(rec types.Orchestration, target string) []types.Worker {
	switch {
	case target == "all" || target == "*":
		return rec.Workers

	case strings.HasPrefix(target, "worker:"):
		name := target[len("worker:"):]
		canon := canonicalize(name)
		slug := slugify(name)
		isGlob := match.IsPattern(name)
		var globMatches []types.Worker
		for _, w := range rec.Workers {
			if w.Name == name || canonicalize(w.Name) == canon || slugify(w.Name) == slug {
				return []types.Worker{w}
			}
			if isGlob && (match.Match(w.Name, name) || match.Match(slugify(w.Name), slug)) {
				globMatches = append(globMatches, w)
			}
		}
		return globMatches

	case strings.HasPrefix(target, "session:"):
		sid := target[len("session:"):]
		for _, w := range rec.Workers {
			if w.SessionID == sid {
				return []types.Worker{w}
			}
		}
		return nil
	}

	if n, err := strconv.Atoi(target); err == nil {
		idx := n - 1
		for _, w := range rec.Workers {
			if w.WorkerIndex == idx {
				return []types.Worker{w}
			}
		}
		return nil
	}

	// Bare string: try sessionId then name.
	for _, w := range rec.Workers {
		if w.SessionID == target || w.Name == target {
			return []types.Worker{w}
		}
	}
	return nil
}

func availableTargets(rec types.Orchestration) []string {
	out := make([]string, 0, len(rec.Workers))
	for _, w := range rec.Workers {
		out = append(out, w.Name)
	}
	return out
}

// Dispatch sends text to one or more workers of orchestrationID, resolving
// target, gating interrupts on worker activity, optionally prepending a
// pending bootstrap, and recording an orchestration.dispatch event on the
// orchestrator session.
func (e *Engine) Dispatch(ctx context.Context, orchestrationID string, req DispatchRequest) (DispatchResult, error) {
	s, ok := e.state(orchestrationID)
	if !ok {
		return DispatchResult{}, ctlerr.New(ctlerr.CodeNotActive, "orchestration %s not found", orchestrationID)
	}

	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()

	targets := resolveTargets(rec, req.Target)
	result := DispatchResult{AvailableTargets: availableTargets(rec)}

	for _, w := range targets {
		if !e.waitForSessionReady(ctx, w.SessionID, 30*time.Second) {
			result.Failed = append(result.Failed, FailedTarget{SessionID: w.SessionID, Reason: "session_not_running"})
			continue
		}

		sent := SentTarget{SessionID: w.SessionID, WorkerIndex: w.WorkerIndex}

		s.mu.Lock()
		latched := s.doneLatch[w.SessionID]
		s.mu.Unlock()

		if req.Interrupt && !latched {
			state := e.ActivityOf(w.SessionID)
			shouldInterrupt := req.ForceInterrupt ||
				state == ActivityNeedsInput || state == ActivityWaitingOrDone ||
				(state == ActivityStale && e.openAttention(w.SessionID) > 0)

			if shouldInterrupt {
				if err := e.sessions.Interrupt(ctx, w.SessionID); err != nil {
					result.Failed = append(result.Failed, FailedTarget{SessionID: w.SessionID, Reason: err.Error()})
					continue
				}
				sent.InterruptIssued = true
			} else {
				sent.InterruptSkippedReason = "worker_active"
			}
		} else if req.Interrupt && latched {
			sent.InterruptSkippedReason = "done_latch"
		}

		text := req.Text
		if req.IncludeBootstrapIfPresent {
			if boot := e.sessions.ConsumeBootstrap(w.SessionID); boot != "" {
				text = boot + text
			}
		}

		e.warmUp(ctx, w.SessionID, 320*time.Millisecond, 5200*time.Millisecond)

		if err := e.sessions.Send(ctx, w.SessionID, text); err != nil {
			result.Failed = append(result.Failed, FailedTarget{SessionID: w.SessionID, Reason: err.Error()})
			continue
		}

		s.mu.Lock()
		delete(s.doneLatch, w.SessionID)
		s.mu.Unlock()

		result.Sent = append(result.Sent, sent)
	}

	sentIDs := make([]string, 0, len(result.Sent))
	for _, st := range result.Sent {
		sentIDs = append(sentIDs, st.SessionID)
	}
	e.appendEvent(rec.OrchestratorSessionID, types.EventOrchestrationDispatch, map[string]any{
		"sent":      sentIDs,
		"failed":    result.Failed,
		"interrupt": req.Interrupt,
		"source":    req.Source,
	})

	return result, nil
}

// InputOrchestrator sends text directly to orchestrationID's coordinator
// session, bypassing worker target resolution. Used by the Command Router's
// orchestrator.input execution mode.
func (e *Engine) InputOrchestrator(ctx context.Context, orchestrationID, text string) error {
	s, ok := e.state(orchestrationID)
	if !ok {
		return ctlerr.New(ctlerr.CodeNotActive, "orchestration %s not found", orchestrationID)
	}
	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()

	if !e.waitForSessionReady(ctx, rec.OrchestratorSessionID, 30*time.Second) {
		return ctlerr.New(ctlerr.CodeOrchestratorNotRunning, "orchestrator session %s is not running", rec.OrchestratorSessionID)
	}
	return e.sessions.Send(ctx, rec.OrchestratorSessionID, text)
}

func (e *Engine) openAttention(sessionID string) int {
	if e.inbox == nil {
		return 0
	}
	return e.inbox.OpenCounts()[sessionID]
}
