package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fyp-systems/fyp-core/internal/inbox"
	"github.com/fyp-systems/fyp-core/pkg/types"
)

// questionKinds are the attention-item kinds eligible for automated
// batching to the orchestrator when AutomationPolicy.QuestionMode is
// "orchestrator".
var questionKinds = map[string]bool{
	"claude.permission":             true,
	"codex.approval":                true,
	"codex.native.user_input":       true,
}

func isQuestionKind(kind string) bool {
	if questionKinds[kind] {
		return true
	}
	return strings.HasPrefix(kind, "codex.native.approval.")
}

const (
	questionBatchWindow    = 1200 * time.Millisecond
	maxBatchOptionsPerItem = 8
)

// OnInboxChange is wired as the Attention Inbox's OnChange hook. When
// sessionID belongs to a worker of some orchestration whose automation
// policy batches questions to the coordinator, it enqueues any new
// question-kind items and (re)starts that orchestration's batch timer.
func (e *Engine) OnInboxChange(sessionID string) {
	orchestrationID, ok := e.ownerOf(sessionID)
	if !ok {
		return
	}
	s, ok := e.state(orchestrationID)
	if !ok {
		return
	}

	s.mu.Lock()
	if s.rec.OrchestratorSessionID == sessionID {
		s.mu.Unlock()
		return
	}
	if s.automation.QuestionMode != types.QuestionOrchestrator {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if e.inbox == nil {
		return
	}

	items := e.inbox.List(inbox.ListOptions{SessionID: sessionID})

	s.mu.Lock()
	defer s.mu.Unlock()

	added := false
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if !isQuestionKind(item.Kind) {
			continue
		}
		seen[item.ID] = true
		if _, ok := s.questions[item.ID]; ok {
			continue
		}
		pq := &pendingQuestion{
			sessionID: sessionID,
			itemID:    item.ID,
			seq:       item.Seq,
			createdAt: e.clock.Now(),
		}
		timeoutMs := s.automation.QuestionTimeoutMs
		itemID := item.ID
		pq.timer = time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, func() {
			e.expireQuestion(orchestrationID, sessionID, itemID)
		})
		s.questions[item.ID] = pq
		e.appendEvent(sessionID, types.EventOrchestrationQOpen, map[string]any{"attentionId": item.Seq, "itemId": item.ID})
		added = true
	}

	// Drop entries for items that resolved (no longer open) since we last
	// looked: they have already been answered or dismissed.
	for id, pq := range s.questions {
		if pq.sessionID == sessionID && !seen[id] {
			if pq.timer != nil {
				pq.timer.Stop()
			}
			delete(s.questions, id)
			e.appendEvent(sessionID, types.EventOrchestrationQResolved, map[string]any{"attentionId": pq.seq, "itemId": id})
		}
	}

	if !added {
		return
	}

	if s.batchTimer != nil {
		s.batchTimer.Stop()
	}
	s.batchTimer = time.AfterFunc(questionBatchWindow, func() {
		e.dispatchQuestionBatch(context.Background(), orchestrationID)
	})
}

// expireQuestion fires when a batched question goes unanswered for longer
// than AutomationPolicy.QuestionTimeoutMs. It leaves the item itself alone
// (still open, still deliverable) but records the timeout so operators can
// see a worker has been stuck waiting on the coordinator.
func (e *Engine) expireQuestion(orchestrationID, sessionID, itemID string) {
	s, ok := e.state(orchestrationID)
	if !ok {
		return
	}
	s.mu.Lock()
	pq, ok := s.questions[itemID]
	s.mu.Unlock()
	if !ok {
		return
	}
	e.appendEvent(sessionID, types.EventOrchestrationQTimeout, map[string]any{"attentionId": pq.seq, "itemId": itemID})
}

// dispatchQuestionBatch sends the coordinator one message summarizing every
// currently pending batched question, instructing it to resolve each via
// FYP_ANSWER_QUESTION_JSON(attentionId, optionId).
func (e *Engine) dispatchQuestionBatch(ctx context.Context, orchestrationID string) {
	s, ok := e.state(orchestrationID)
	if !ok {
		return
	}

	s.mu.Lock()
	rec := s.rec
	bySession := make(map[string][]*pendingQuestion)
	for _, pq := range s.questions {
		bySession[pq.sessionID] = append(bySession[pq.sessionID], pq)
	}
	s.mu.Unlock()

	if len(bySession) == 0 {
		return
	}

	s.mu.Lock()
	yolo := s.automation.YoloMode
	s.mu.Unlock()

	var b strings.Builder
	b.WriteString("PENDING_QUESTIONS\n")
	b.WriteString("Resolve each with FYP_ANSWER_QUESTION_JSON, matching attentionId exactly. ")
	if yolo {
		b.WriteString("Answer decisively.\n")
	} else {
		b.WriteString("Refuse any destructive option (deletion, force-push, irreversible writes); ")
		b.WriteString("do not guess an answer that changes project scope without checking first.\n")
	}
	for sessionID, pqs := range bySession {
		pendingIDs := make(map[string]bool, len(pqs))
		for _, pq := range pqs {
			pendingIDs[pq.itemID] = true
		}
		for _, item := range e.inbox.List(inbox.ListOptions{SessionID: sessionID}) {
			if !pendingIDs[item.ID] {
				continue
			}
			fmt.Fprintf(&b, "- attentionId=%d worker=%s kind=%s: %s\n", item.Seq, sessionID, item.Kind, item.Title)
			opts := item.Options
			if len(opts) > maxBatchOptionsPerItem {
				opts = opts[:maxBatchOptionsPerItem]
			}
			for _, opt := range opts {
				fmt.Fprintf(&b, "    optionId=%s %s\n", opt.ID, opt.Label)
			}
		}
	}

	if err := e.sessions.Send(ctx, rec.OrchestratorSessionID, b.String()); err != nil {
		log.Warn().Err(err).Str("orchestrationID", orchestrationID).Msg("question batch dispatch failed")
		e.appendEvent(rec.OrchestratorSessionID, types.EventOrchestrationQDispatchFail, map[string]any{"error": err.Error()})
		return
	}
	e.appendEvent(rec.OrchestratorSessionID, types.EventOrchestrationQBatch, map[string]any{"count": len(bySession)})
}

// SteeringReviewRequest parameterizes runSteeringReview.
type SteeringReviewRequest struct {
	Force bool
}

// RunSteeringReview sends the coordinator a periodic review prompt, whose
// wording depends on the configured SteeringMode, unless the coordinator
// itself currently has open attention items (in which case the review is
// skipped unless forced).
func (e *Engine) RunSteeringReview(ctx context.Context, orchestrationID string, req SteeringReviewRequest) error {
	s, ok := e.state(orchestrationID)
	if !ok {
		return nil
	}

	s.mu.Lock()
	if s.steeringInFlight {
		s.mu.Unlock()
		return nil
	}
	mode := s.automation.SteeringMode
	rec := s.rec
	s.steeringInFlight = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.steeringInFlight = false
		s.mu.Unlock()
	}()

	if mode == types.SteeringOff {
		return nil
	}
	if !req.Force && e.openAttention(rec.OrchestratorSessionID) > 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("STEERING_REVIEW\n")
	switch mode {
	case types.SteeringActiveSteering:
		b.WriteString("Review every worker's latest progress and send corrective dispatches where a worker has drifted from its task, is blocked, or is idle with unresolved questions.\n")
	default: // passive_review
		b.WriteString("Review every worker's latest progress. Do not interrupt any worker unless it is clearly blocked or a safety issue demands it.\n")
	}
	b.WriteString(RenderDigestText(e.buildDigest(rec)))
	if last, ok := e.LastDispatch(ctx, rec.OrchestratorSessionID); ok {
		fmt.Fprintf(&b, "Last dispatch: event %d at %d.\n", last.ID, last.Ts)
	}
	prompt := b.String()

	st, err := e.sessions.Status(rec.OrchestratorSessionID)
	if err != nil || !st.Running {
		return nil
	}
	if err := e.sessions.Send(ctx, rec.OrchestratorSessionID, prompt); err != nil {
		e.appendEvent(rec.OrchestratorSessionID, types.EventOrchestrationSteerFail, map[string]any{"error": err.Error()})
		return err
	}
	e.appendEvent(rec.OrchestratorSessionID, types.EventOrchestrationSteerReview, map[string]any{"mode": string(mode)})

	now := e.clock.Now()
	s.mu.Lock()
	s.lastSteeringRunAt = now
	s.mu.Unlock()
	return nil
}

const (
	signalMinGapDefault = 15 * time.Second
	signalMinGapStale   = 90 * time.Second
	signalJitterBase    = 180 * time.Millisecond
	signalJitterSpread  = 240 * time.Millisecond
)

func signalJitter(sessionID, trigger string) time.Duration {
	var h uint32
	for _, c := range sessionID + trigger {
		h = h*31 + uint32(c)
	}
	return signalJitterBase + time.Duration(h%uint32(signalJitterSpread/time.Millisecond))*time.Millisecond
}

// OnWorkerSignal coalesces rapid worker-output signals (e.g. output matching
// a completion or idle cue) into a single debounced sync trigger, enforcing
// a minimum gap between triggers of the same (session, trigger) pair so a
// noisy worker cannot flood the orchestrator with digests.
// trigger "done" additionally sets that worker's done-latch, suppressing the
// next dispatch interrupt until it sends again.
func (e *Engine) OnWorkerSignal(sessionID, trigger string) {
	orchestrationID, ok := e.ownerOf(sessionID)
	if !ok {
		return
	}
	s, ok := e.state(orchestrationID)
	if !ok {
		return
	}

	key := sessionID + "|" + trigger
	minGap := signalMinGapDefault
	if e.ActivityOf(sessionID) == ActivityStale {
		minGap = signalMinGapStale
	}

	s.mu.Lock()
	if last, ok := s.lastSignalAt[key]; ok && e.clock.Now().Sub(last) < minGap {
		s.mu.Unlock()
		return
	}
	switch trigger {
	case "done":
		s.doneLatch[sessionID] = true
	case "question":
		delete(s.doneLatch, sessionID)
	}
	if existing, ok := s.signalTimers[key]; ok {
		existing.Stop()
	}
	s.lastSignalAt[key] = e.clock.Now()
	req := SyncRequest{Trigger: SyncTrigger("worker_signal")}
	if trigger == "worker.idle.60s" {
		// Idle scans only refresh the collected digest; delivery waits for
		// a real completion/question signal or the interval loop.
		noDeliver := false
		req.DeliverToOrchestrator = &noDeliver
	}
	s.signalTimers[key] = time.AfterFunc(signalJitter(sessionID, trigger), func() {
		_, _ = e.RunSync(context.Background(), orchestrationID, req)
	})
	s.mu.Unlock()
}
