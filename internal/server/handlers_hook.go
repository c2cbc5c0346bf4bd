package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fyp-systems/fyp-core/pkg/types"
)

type hookPermissionRequestBody struct {
	SessionID string         `json:"sessionId"`
	Payload   map[string]any `json:"payload"`
}

// hookPermissionRequest lets an external tool-native approval bridge raise
// an attention item without going through the output interpreter: the
// bridge already knows it's a permission prompt, it just needs a
// signature to poll decision-by.
func (s *Server) hookPermissionRequest(w http.ResponseWriter, r *http.Request) {
	var body hookPermissionRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SessionID == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "sessionId is required")
		return
	}

	title, _ := body.Payload["title"].(string)
	if title == "" {
		title = "Approve action"
	}
	text, _ := body.Payload["body"].(string)
	kind, _ := body.Payload["kind"].(string)
	if kind == "" {
		kind = "hook.permission"
	}
	signature := fmt.Sprintf("%s|%s|%s", body.SessionID, kind, hashPayload(body.Payload))

	item := types.AttentionItem{
		SessionID: body.SessionID,
		Kind:      kind,
		Severity:  types.SeverityWarn,
		Title:     title,
		Body:      text,
		Signature: signature,
		Options: []types.AttentionOption{
			{ID: "allow", Label: "Allow", Decision: map[string]any{"signature": signature, "optionId": "allow", "approved": true}},
			{ID: "deny", Label: "Deny", Decision: map[string]any{"signature": signature, "optionId": "deny", "approved": false}},
		},
		Status: types.AttentionOpen,
		Meta:   map[string]any{"hookPayload": body.Payload},
	}

	result, err := s.inbox.Create(r.Context(), item)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"signature": signature, "attentionId": result.ID})
}

// recordHookDecision is wired as Supervisor.OnHookDecision: respondInbox's
// DeliverDecision call lands here, making the decision pollable by
// hookPermissionDecision until it's fetched plus a GC grace period.
func (s *Server) recordHookDecision(sessionID string, decision map[string]any) {
	sig, _ := decision["signature"].(string)
	if sig == "" {
		return
	}
	key := sessionID + "|" + sig
	s.hookMu.Lock()
	s.hookDecisions[key] = &hookDecisionEntry{decision: decision}
	s.hookMu.Unlock()
}

// hookPermissionDecision polls for a decision previously recorded by
// recordHookDecision. Once returned it's marked delivered and GC'd after
// hookDecisionGCGrace so a retried poll (the bridge didn't see the first
// response) still finds it.
func (s *Server) hookPermissionDecision(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	signature := r.URL.Query().Get("signature")
	if sessionID == "" || signature == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "sessionId and signature are required")
		return
	}
	key := sessionID + "|" + signature

	s.hookMu.Lock()
	s.gcHookDecisionsLocked()
	entry, ok := s.hookDecisions[key]
	var decision map[string]any
	if ok {
		decision = entry.decision
		if !entry.delivered {
			entry.delivered = true
			entry.deliveredAt = time.Now()
		}
	}
	s.hookMu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"decision": decision})
}

// gcHookDecisionsLocked drops delivered entries past their grace window.
// Callers must hold s.hookMu.
func (s *Server) gcHookDecisionsLocked() {
	now := time.Now()
	for k, e := range s.hookDecisions {
		if e.delivered && now.Sub(e.deliveredAt) > hookDecisionGCGrace {
			delete(s.hookDecisions, k)
		}
	}
}

func hashPayload(payload map[string]any) string {
	b, _ := json.Marshal(payload)
	return fmt.Sprintf("%x", fnv32(b))[:8]
}

func fnv32(data []byte) uint32 {
	const prime32 = 16777619
	h := uint32(2166136261)
	for _, c := range data {
		h ^= uint32(c)
		h *= prime32
	}
	return h
}
