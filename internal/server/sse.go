// SSE implementation note: hand-rolled rather than a third-party package
// (r3labs/sse and similar). The per-session/global split here is a thin
// filter over internal/event's Bus.SubscribeAll, and a framework adds
// indirection without buying anything our Bus doesn't already do.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fyp-systems/fyp-core/internal/event"
	"github.com/fyp-systems/fyp-core/internal/logging"
	"github.com/fyp-systems/fyp-core/internal/transcript"
	"github.com/fyp-systems/fyp-core/pkg/types"
)

const sseHeartbeatInterval = 30 * time.Second

// replayTranscriptItems and replayEventItems bound the per-session backlog
// sent on connect, before live events start flowing.
const (
	replayTranscriptItems = 400
	replayEventItems      = 120
)

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	return &sseWriter{w: w, flusher: flusher, rc: http.NewResponseController(w)}, nil
}

func (s *sseWriter) writeEvent(kind string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", kind, body); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil {
		s.flusher.Flush()
	}
	return nil
}

func (s *sseWriter) writeHeartbeat() {
	fmt.Fprint(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

func sseHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// globalKinds is the closed set of event kinds the global channel forwards.
var globalKinds = map[types.EventKind]bool{
	types.EventSessionCreated:       true,
	types.EventSessionExit:          true,
	types.EventSessionMeta:          true,
	types.EventOrchestrationCreated: true,
	types.EventInboxRespond:         true,
	types.EventInboxDismiss:         true,

	event.KindSessionsChanged:       true,
	event.KindWorkspacesChanged:     true,
	event.KindInboxChanged:          true,
	event.KindTasksChanged:          true,
	event.KindOrchestrationsChanged: true,
	event.KindSessionPreview:        true,
	event.KindOrchCreateProgress:    true,
}

// globalEvents streams session/workspace/inbox/task/orchestration change
// notifications to every connected client.
func (s *Server) globalEvents(w http.ResponseWriter, r *http.Request) {
	sseHeaders(w)
	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	events := make(chan event.Event, 16)
	unsub := s.subscribeAll(func(e event.Event) {
		if !globalKinds[e.Kind] {
			return
		}
		select {
		case events <- e:
		default:
			logging.Warn().Str("kind", string(e.Kind)).Msg("global SSE event dropped: channel full")
		}
	})
	defer unsub()

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			if err := sse.writeEvent(string(e.Kind), e); err != nil {
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}

// sessionStream streams one session's replay backlog (transcript + events)
// followed by live output/event frames.
func (s *Server) sessionStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "sessionID required")
		return
	}

	sseHeaders(w)
	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	if _, err := s.supervisor.Status(sessionID); err != nil {
		// Session is already gone: tell the subscriber and hang up.
		_ = sse.writeEvent("session.closed", map[string]any{"type": "session.closed", "sessionID": sessionID})
		return
	}

	if s.transcript != nil {
		if page, err := s.transcript.GetTranscript(r.Context(), sessionID, transcript.PageOptions{Limit: replayTranscriptItems}); err == nil {
			for _, chunk := range page.Items {
				if err := sse.writeEvent("output", map[string]any{"type": "output", "chunk": chunk}); err != nil {
					return
				}
			}
		}
		if page, err := s.transcript.GetEvents(r.Context(), sessionID, transcript.PageOptions{Limit: replayEventItems}); err == nil {
			for _, ev := range page.Items {
				if err := sse.writeEvent("event", map[string]any{"type": "event", "event": ev}); err != nil {
					return
				}
			}
		}
	}

	events := make(chan event.Event, 16)
	unsub := s.subscribeAll(func(e event.Event) {
		if !eventBelongsToSession(e, sessionID) {
			return
		}
		select {
		case events <- e:
		default:
			logging.Warn().Str("sessionID", sessionID).Msg("session SSE event dropped: channel full")
		}
	})
	defer unsub()

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			frameType := "event"
			switch e.Kind {
			case event.KindSessionOutput:
				frameType = "output"
			case event.KindSessionAssist:
				frameType = "assist"
			case event.KindSessionClosing:
				frameType = "session.closing"
			case event.KindSessionClosed:
				frameType = "session.closed"
			}
			if err := sse.writeEvent(frameType, map[string]any{"type": frameType, "event": e}); err != nil {
				return
			}
			if e.Kind == event.KindSessionClosed {
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}

func (s *Server) subscribeAll(fn event.Subscriber) func() {
	if s.bus != nil {
		return s.bus.SubscribeAll(fn)
	}
	return event.SubscribeAll(fn)
}

// eventBelongsToSession reports whether e was recorded against sessionID.
// Our Event carries no sessionID field directly (it's folded into Data by
// the emitting package), so this inspects the common shapes.
func eventBelongsToSession(e event.Event, sessionID string) bool {
	switch d := e.Data.(type) {
	case event.SessionOutputData:
		return d.SessionID == sessionID
	case event.SessionAssistData:
		return d.SessionID == sessionID
	case event.SessionPreviewData:
		return d.SessionID == sessionID
	case map[string]any:
		if sid, ok := d["sessionID"].(string); ok {
			return sid == sessionID
		}
		if sid, ok := d["sessionId"].(string); ok {
			return sid == sessionID
		}
	}
	return true
}
