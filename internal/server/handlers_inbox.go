package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fyp-systems/fyp-core/internal/ctlerr"
	"github.com/fyp-systems/fyp-core/internal/inbox"
	"github.com/fyp-systems/fyp-core/pkg/types"
)

func (s *Server) listInbox(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := inbox.ListOptions{
		Limit:     paginationLimit(r, 0),
		SessionID: q.Get("sessionId"),
	}
	items := s.inbox.List(opts)

	// workspaceKey/cwd filters require consulting session metadata, which
	// the inbox package doesn't carry; post-filter against the supervisor.
	if key := q.Get("workspaceKey"); key != "" {
		items = filterInboxBySession(items, func(meta string) bool { return meta == key }, s, true)
	}
	if cwd := q.Get("cwd"); cwd != "" {
		items = filterInboxBySession(items, func(meta string) bool { return meta == cwd }, s, false)
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func filterInboxBySession(items []types.AttentionItem, match func(string) bool, s *Server, byWorkspaceKey bool) []types.AttentionItem {
	out := items[:0:0]
	for _, item := range items {
		meta, err := s.supervisor.Status(item.SessionID)
		if err != nil {
			continue
		}
		val := meta.CWD
		if byWorkspaceKey {
			val = meta.WorkspaceKey
		}
		if match(val) {
			out = append(out, item)
		}
	}
	return out
}

type respondInboxBody struct {
	OptionID string         `json:"optionId"`
	Source   string         `json:"source"`
	Meta     map[string]any `json:"meta"`
}

func (s *Server) respondInbox(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")
	var body respondInboxBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "malformed request body")
		return
	}
	if body.OptionID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "optionId is required")
		return
	}

	sessionID, ok := s.inbox.FindByID(itemID)
	if !ok {
		writeDomainError(w, ctlerr.New(ctlerr.CodeAttentionItemNotFound, "attention item %s not found", itemID))
		return
	}

	status, err := s.inbox.Respond(r.Context(), sessionID, itemID, body.OptionID, body.Source, body.Meta)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"event": map[string]any{"type": "inbox.respond", "itemId": itemID, "status": status},
	})
}

type dismissInboxBody struct {
	Source string         `json:"source"`
	Meta   map[string]any `json:"meta"`
}

func (s *Server) dismissInbox(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "itemID")
	var body dismissInboxBody
	_ = json.NewDecoder(r.Body).Decode(&body)

	sessionID, ok := s.inbox.FindByID(itemID)
	if !ok {
		writeDomainError(w, ctlerr.New(ctlerr.CodeAttentionItemNotFound, "attention item %s not found", itemID))
		return
	}

	status, err := s.inbox.Dismiss(r.Context(), sessionID, itemID, body.Source, body.Meta)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"event": map[string]any{"type": "inbox.dismiss", "itemId": itemID, "status": status},
	})
}
