package orchestrator

import (
	"context"

	"github.com/fyp-systems/fyp-core/internal/interp"
)

// HandleDirective is wired as the Session Supervisor's OnDirective hook. It
// only acts on directives from a session that is the current orchestrator
// of some orchestration; directives echoed into a worker's own output (rare,
// but not impossible if a worker happens to print matching text) are
// ignored.
func (e *Engine) HandleDirective(sessionID string, d interp.Directive) {
	orchestrationID, ok := e.ownerOf(sessionID)
	if !ok {
		return
	}
	s, ok := e.state(orchestrationID)
	if !ok {
		return
	}
	s.mu.Lock()
	isOrchestrator := s.rec.OrchestratorSessionID == sessionID
	s.mu.Unlock()
	if !isOrchestrator {
		return
	}

	ctx := context.Background()

	switch d.Kind {
	case interp.DirectiveDispatch, interp.DirectiveSendTask:
		if d.Dispatch == nil {
			return
		}
		source := "orchestrator.directive"
		_, err := e.Dispatch(ctx, orchestrationID, DispatchRequest{
			Text:                      d.Dispatch.Text,
			Target:                    d.Dispatch.Target,
			Interrupt:                 d.Dispatch.Interrupt,
			ForceInterrupt:            d.Dispatch.ForceInterrupt,
			IncludeBootstrapIfPresent: d.Dispatch.IncludeBootstrapIfPresent,
			Source:                    source,
		})
		if err != nil {
			log.Warn().Err(err).Str("orchestrationID", orchestrationID).Msg("directive dispatch failed")
		}

	case interp.DirectiveAnswerQuestion:
		if d.Answer == nil || e.inbox == nil {
			return
		}
		targetSessionID, itemID, found := e.inbox.FindBySeq(d.Answer.AttentionID)
		if !found {
			log.Warn().Int64("attentionID", d.Answer.AttentionID).Msg("answer-question directive: no open item with that sequence")
			return
		}
		source := d.Answer.Source
		if source == "" {
			source = "orchestrator-auto"
		}
		if _, err := e.inbox.Respond(ctx, targetSessionID, itemID, d.Answer.OptionID, source, d.Answer.Meta); err != nil {
			log.Warn().Err(err).Str("itemID", itemID).Msg("answer-question directive: respond failed")
		}
	}
}
