package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fyp-systems/fyp-core/internal/ctlerr"
	"github.com/fyp-systems/fyp-core/internal/orchestrator"
	"github.com/fyp-systems/fyp-core/internal/router"
	"github.com/fyp-systems/fyp-core/pkg/types"
)

func (s *Server) listOrchestrations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"orchestrations": s.orchestrator.List()})
}

type agentSpecBody struct {
	Name         string            `json:"name"`
	Role         string            `json:"role"`
	Tool         types.ToolKind    `json:"tool"`
	ProfileID    string            `json:"profileId"`
	Prompt       string            `json:"prompt"`
	TaskPrompt   string            `json:"taskPrompt"`
	Overrides    map[string]string `json:"overrides"`
	Isolated     bool              `json:"isolated"`
	ProjectPath  string            `json:"projectPath"`
	Branch       string            `json:"branch"`
	BaseRef      string            `json:"baseRef"`
	WorktreePath string            `json:"worktreePath"`
}

func (b agentSpecBody) toSpec() orchestrator.AgentSpec {
	prompt := b.Prompt
	if prompt == "" {
		prompt = b.TaskPrompt
	}
	return orchestrator.AgentSpec{
		Name:         b.Name,
		Role:         b.Role,
		Tool:         b.Tool,
		ProfileID:    b.ProfileID,
		Prompt:       prompt,
		Overrides:    b.Overrides,
		Isolated:     b.Isolated,
		ProjectPath:  b.ProjectPath,
		Branch:       b.Branch,
		BaseRef:      b.BaseRef,
		WorktreePath: b.WorktreePath,
	}
}

type createOrchestrationBody struct {
	Name                       string                  `json:"name"`
	ProjectPath                string                  `json:"projectPath"`
	Orchestrator               agentSpecBody           `json:"orchestrator"`
	Workers                    []agentSpecBody         `json:"workers"`
	DispatchMode               string                  `json:"dispatchMode"`
	AutoDispatchInitialPrompts *bool                   `json:"autoDispatchInitialPrompts"`
	Automation                 *types.AutomationPolicy `json:"automation"`
	Sync                       *types.SyncPolicy       `json:"sync"`
}

func (s *Server) createOrchestration(w http.ResponseWriter, r *http.Request) {
	var body createOrchestrationBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "malformed request body")
		return
	}
	if body.Name == "" || body.ProjectPath == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "name and projectPath are required")
		return
	}
	if len(body.Workers) == 0 {
		writeDomainError(w, ctlerr.New(ctlerr.CodeMissingWorkers, "at least one worker is required"))
		return
	}

	workers := make([]orchestrator.AgentSpec, 0, len(body.Workers))
	for _, wb := range body.Workers {
		workers = append(workers, wb.toSpec())
	}

	mode := orchestrator.DispatchOrchestratorFirst
	if body.DispatchMode == string(orchestrator.DispatchWorkerFirst) {
		mode = orchestrator.DispatchWorkerFirst
	}

	opts := orchestrator.CreateOptions{
		Name:                       body.Name,
		ProjectPath:                body.ProjectPath,
		Orchestrator:               body.Orchestrator.toSpec(),
		Workers:                    workers,
		DispatchMode:               mode,
		AutoDispatchInitialPrompts: body.AutoDispatchInitialPrompts,
		Automation:                 body.Automation,
		Sync:                       body.Sync,
	}

	rec, err := s.orchestrator.Create(r.Context(), opts)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) getOrchestration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orchestrationID")
	rec, err := s.orchestrator.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) getOrchestrationProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orchestrationID")
	workers, err := s.orchestrator.Progress(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workers": workers})
}

type dispatchBody struct {
	Text                      string `json:"text"`
	Prompt                    string `json:"prompt"`
	Target                    string `json:"target"`
	Interrupt                 bool   `json:"interrupt"`
	ForceInterrupt            bool   `json:"forceInterrupt"`
	IncludeBootstrapIfPresent bool   `json:"includeBootstrapIfPresent"`
}

func (s *Server) dispatchOrchestration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orchestrationID")
	var body dispatchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "malformed request body")
		return
	}
	text := body.Text
	if text == "" {
		text = body.Prompt
	}
	if text == "" {
		writeDomainError(w, ctlerr.New(ctlerr.CodeMissingText, "text or prompt is required"))
		return
	}

	result, err := s.orchestrator.Dispatch(r.Context(), id, orchestrator.DispatchRequest{
		Text:                      text,
		Target:                    body.Target,
		Interrupt:                 body.Interrupt,
		ForceInterrupt:            body.ForceInterrupt,
		IncludeBootstrapIfPresent: body.IncludeBootstrapIfPresent,
		Source:                    "api.dispatch",
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type sendTaskBody struct {
	Task           string `json:"task"`
	Text           string `json:"text"`
	Prompt         string `json:"prompt"`
	Target         string `json:"target"`
	Initialize     *bool  `json:"initialize"`
	Init           *bool  `json:"init"`
	IncludeBoot    *bool  `json:"includeBootstrap"`
	Interrupt      bool   `json:"interrupt"`
	ForceInterrupt bool   `json:"forceInterrupt"`
}

func (s *Server) sendTaskOrchestration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orchestrationID")
	var body sendTaskBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "malformed request body")
		return
	}
	task := body.Task
	if task == "" {
		task = body.Text
	}
	if task == "" {
		task = body.Prompt
	}
	if task == "" {
		writeDomainError(w, ctlerr.New(ctlerr.CodeMissingTask, "task, text, or prompt is required"))
		return
	}

	// worker.send_task defaults includeBootstrapIfPresent=true;
	// any of initialize/init/includeBootstrap explicitly set to false overrides.
	include := true
	for _, v := range []*bool{body.Initialize, body.Init, body.IncludeBoot} {
		if v != nil {
			include = *v
		}
	}

	result, err := s.orchestrator.Dispatch(r.Context(), id, orchestrator.DispatchRequest{
		Text:                      task,
		Target:                    body.Target,
		Interrupt:                 body.Interrupt,
		ForceInterrupt:            body.ForceInterrupt,
		IncludeBootstrapIfPresent: include,
		Source:                    "api.send_task",
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) executeOrchestrationCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orchestrationID")
	raw, err := readAllBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "malformed request body")
		return
	}

	var envelope struct {
		CommandID string `json:"commandId"`
	}
	_ = json.Unmarshal(raw, &envelope)
	if envelope.CommandID == "" {
		writeDomainError(w, ctlerr.New(ctlerr.CodeUnknownCommand, "commandId is required"))
		return
	}

	automation, err := s.orchestrator.AutomationPolicyOf(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp, err := s.cmdRouter.Execute(r.Context(), router.ExecuteRequest{
		OrchestrationID:      id,
		CommandID:            envelope.CommandID,
		RawPayload:           raw,
		Policy:               router.PolicyContext{Automation: automation, Authorized: true},
		HeaderIdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type syncBody struct {
	Force                 bool  `json:"force"`
	DeliverToOrchestrator *bool `json:"deliverToOrchestrator"`
}

func (s *Server) syncOrchestration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orchestrationID")
	var body syncBody
	_ = json.NewDecoder(r.Body).Decode(&body)

	result, err := s.orchestrator.RunSync(r.Context(), id, orchestrator.SyncRequest{
		Trigger:               "api.manual",
		Force:                 body.Force,
		DeliverToOrchestrator: body.DeliverToOrchestrator,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type patchSyncPolicyBody struct {
	types.SyncPolicy
	RunNow bool `json:"runNow"`
}

func (s *Server) patchSyncPolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orchestrationID")
	var body patchSyncPolicyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "malformed request body")
		return
	}
	if err := s.orchestrator.SetSyncPolicy(id, body.SyncPolicy); err != nil {
		writeDomainError(w, err)
		return
	}
	if body.RunNow {
		_, _ = s.orchestrator.RunSync(r.Context(), id, orchestrator.SyncRequest{Trigger: "api.policy_patch", Force: true})
	}
	writeSuccess(w)
}

type patchAutomationPolicyBody struct {
	types.AutomationPolicy
	RunNow bool `json:"runNow"`
}

func (s *Server) patchAutomationPolicy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orchestrationID")
	var body patchAutomationPolicyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "malformed request body")
		return
	}
	if err := s.orchestrator.SetAutomationPolicy(id, body.AutomationPolicy); err != nil {
		writeDomainError(w, err)
		return
	}
	if body.RunNow {
		_ = s.orchestrator.RunSteeringReview(r.Context(), id, orchestrator.SteeringReviewRequest{Force: true})
	}
	writeSuccess(w)
}

type cleanupBody struct {
	StopSessions    bool `json:"stopSessions"`
	DeleteSessions  bool `json:"deleteSessions"`
	RemoveWorktrees bool `json:"removeWorktrees"`
	RemoveRecord    bool `json:"removeRecord"`
	KeepCoordinator bool `json:"keepCoordinator"`
}

func (s *Server) cleanupOrchestration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "orchestrationID")
	var body cleanupBody
	_ = json.NewDecoder(r.Body).Decode(&body)

	result, err := s.orchestrator.Cleanup(r.Context(), id, orchestrator.CleanupOptions{
		StopSessions:    body.StopSessions,
		DeleteSessions:  body.DeleteSessions,
		RemoveWorktrees: body.RemoveWorktrees,
		RemoveRecord:    body.RemoveRecord,
		KeepCoordinator: body.KeepCoordinator,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
