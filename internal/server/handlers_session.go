package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fyp-systems/fyp-core/internal/idgen"
	"github.com/fyp-systems/fyp-core/internal/ptyproc"
	"github.com/fyp-systems/fyp-core/internal/supervisor"
	"github.com/fyp-systems/fyp-core/internal/transcript"
	"github.com/fyp-systems/fyp-core/pkg/types"
)

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	directory := r.URL.Query().Get("cwd")
	sessions, err := s.supervisor.List(r.Context(), directory)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

type createSessionBody struct {
	Tool          types.ToolKind    `json:"tool"`
	ProfileID     string            `json:"profileId"`
	CWD           string            `json:"cwd"`
	Transport     types.Transport   `json:"transport"`
	Overrides     map[string]string `json:"overrides"`
	Label         string            `json:"label"`
	TaskID        string            `json:"taskId"`
	TaskRole      string            `json:"taskRole"`
	TaskTitle     string            `json:"taskTitle"`
	WorkspaceKey  string            `json:"workspaceKey"`
	WorkspaceRoot string            `json:"workspaceRoot"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var body createSessionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "malformed request body")
		return
	}
	if body.Tool == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "tool is required")
		return
	}

	opts := supervisor.CreateOptions{
		ID:            idgen.NewID(),
		Tool:          body.Tool,
		ProfileID:     body.ProfileID,
		Transport:     body.Transport,
		CWD:           body.CWD,
		WorkspaceKey:  body.WorkspaceKey,
		WorkspaceRoot: body.WorkspaceRoot,
		Label:         body.Label,
	}
	if opts.Transport == "" {
		opts.Transport = types.TransportPTY
	}
	if s.appConfig != nil {
		if p, ok := s.appConfig.Profiles[body.ProfileID]; ok {
			opts.Command = append([]string{p.Command}, p.Args...)
			for k, v := range p.Env {
				opts.Env = append(opts.Env, k+"="+v)
			}
		}
	}
	if len(opts.Command) == 0 {
		// No profile: the tool name doubles as the binary on PATH.
		opts.Command = []string{string(body.Tool)}
	}

	meta, err := s.supervisor.CreateSession(r.Context(), opts)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": meta.ID, "taskId": body.TaskID})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	meta, err := s.supervisor.Status(sessionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id": meta.ID,
		"status": map[string]any{
			"running":  meta.Running,
			"pid":      meta.PID,
			"exitCode": meta.ExitCode,
			"signal":   meta.ExitSignal,
		},
		"meta": meta,
	})
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	force := r.URL.Query().Get("force") == "true"

	meta, err := s.supervisor.Status(sessionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if meta.Running && !force {
		writeError(w, http.StatusConflict, ErrCodeConflict, "session is running; pass force=true")
		return
	}

	opts := supervisor.CloseOptions{Force: force, GraceMs: 3000}
	if err := s.supervisor.Close(sessionID, opts); err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w)
}

type inputSessionBody struct {
	Text string `json:"text"`
}

func (s *Server) inputSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var body inputSessionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "malformed request body")
		return
	}

	meta, err := s.supervisor.Status(sessionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if meta.Transport == types.TransportRPC {
		err = s.supervisor.StartTurn(r.Context(), sessionID, body.Text)
	} else {
		err = s.supervisor.Write(sessionID, []byte(body.Text))
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"event": map[string]any{"type": "input", "sessionID": sessionID, "text": body.Text},
	})
}

func (s *Server) restartSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	meta, err := s.supervisor.Status(sessionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if meta.Running {
		_ = s.supervisor.Close(sessionID, supervisor.CloseOptions{Force: true})
	}
	opts := supervisor.CreateOptions{
		ID:        sessionID,
		Tool:      meta.Tool,
		ProfileID: meta.ProfileID,
		Transport: meta.Transport,
		CWD:       meta.CWD,
		Label:     meta.Label,
	}
	newMeta, err := s.supervisor.CreateSession(r.Context(), opts)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": newMeta.ID})
}

func (s *Server) interruptSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.supervisor.Interrupt(r.Context(), sessionID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.supervisor.Stop(sessionID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) killSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.supervisor.Kill(sessionID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w)
}

type resizeSessionBody struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

func (s *Server) resizeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var body resizeSessionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "malformed request body")
		return
	}
	size := ptyproc.Size{Cols: body.Cols, Rows: body.Rows}
	if size != size.Clamp() {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "cols must be in [12,400] and rows in [6,220]")
		return
	}
	if err := s.supervisor.Resize(sessionID, size); err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w)
}

func paginationLimit(r *http.Request, def int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (s *Server) getTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	opts := transcript.PageOptions{
		Limit:  paginationLimit(r, replayTranscriptItems),
		Cursor: r.URL.Query().Get("cursor"),
	}
	page, err := s.transcript.GetTranscript(r.Context(), sessionID, opts)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": page.Items, "nextCursor": page.NextCursor})
}

func (s *Server) getSessionEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	opts := transcript.PageOptions{
		Limit:  paginationLimit(r, replayEventItems),
		Cursor: r.URL.Query().Get("cursor"),
	}
	page, err := s.transcript.GetEvents(r.Context(), sessionID, opts)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": page.Items, "nextCursor": page.NextCursor})
}
