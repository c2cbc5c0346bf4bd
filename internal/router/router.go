package router

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fyp-systems/fyp-core/internal/ctlerr"
	"github.com/fyp-systems/fyp-core/internal/orchestrator"
	"github.com/fyp-systems/fyp-core/internal/store"
	"github.com/fyp-systems/fyp-core/pkg/types"
)

// Engine is the subset of orchestrator.Engine the router dispatches catalog
// commands into. Declared narrow so router tests can fake it instead of
// standing up a real Engine.
type Engine interface {
	RunSync(ctx context.Context, orchestrationID string, req orchestrator.SyncRequest) (orchestrator.SyncResult, error)
	RunSteeringReview(ctx context.Context, orchestrationID string, req orchestrator.SteeringReviewRequest) error
	InputOrchestrator(ctx context.Context, orchestrationID, text string) error
	Dispatch(ctx context.Context, orchestrationID string, req orchestrator.DispatchRequest) (orchestrator.DispatchResult, error)
	AutomationPolicyOf(orchestrationID string) (types.AutomationPolicy, error)
	Get(orchestrationID string) (types.Orchestration, error)
	RecordCommandExecuted(sessionID, orchestrationID, commandID string, data any)
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// clock is the narrow time source Router needs for idempotency TTLs.
type clock interface {
	Now() time.Time
}

// Router validates, policy-gates, and executes catalog commands against an
// Engine, replaying a cached response when the same idempotency key is
// reused within the TTL window.
type Router struct {
	engine Engine
	cache  *idempotencyCache
	clock  clock
}

// New builds a Router. storage may be nil, in which case idempotent replay
// only survives for the lifetime of the in-memory LRU.
func New(engine Engine, storage *store.Storage) *Router {
	return &Router{
		engine: engine,
		cache:  newIdempotencyCache(storage),
		clock:  realClock{},
	}
}

// ExecuteRequest is one call into the router.
type ExecuteRequest struct {
	OrchestrationID string
	CommandID       string
	RawPayload      json.RawMessage
	Policy          PolicyContext

	// HeaderIdempotencyKey is the caller's `Idempotency-Key` header, used
	// only when the payload's own idempotencyKey field is empty.
	HeaderIdempotencyKey string
}

// Response is what a command execution (fresh or replayed) returns to the
// caller.
type Response struct {
	CommandID string `json:"commandId"`
	Replayed  bool   `json:"replayed"`
	Result    any    `json:"result,omitempty"`
}

// Execute looks up req.CommandID in the catalog, validates and clamps its
// payload, evaluates policy, and either replays a cached response for
// req's idempotency key or runs the command against the Engine and caches
// the result.
func (r *Router) Execute(ctx context.Context, req ExecuteRequest) (Response, error) {
	spec, err := Lookup(req.CommandID)
	if err != nil {
		return Response{}, err
	}

	var payload Payload
	if len(req.RawPayload) > 0 {
		if err := json.Unmarshal(req.RawPayload, &payload); err != nil {
			return Response{}, &ctlerr.Error{Code: ctlerr.CodeInvalidCommandPayload, Reason: "malformed command payload: " + err.Error()}
		}
	}
	if payload.IdempotencyKey == "" {
		payload.IdempotencyKey = req.HeaderIdempotencyKey
	}

	if err := validate(spec, &payload); err != nil {
		return Response{}, err
	}
	if err := evaluatePolicy(spec, payload, req.Policy); err != nil {
		return Response{}, err
	}
	payload.clamp()

	now := r.clock.Now()
	if payload.IdempotencyKey != "" {
		key := cacheKey(req.OrchestrationID, req.CommandID, payload.IdempotencyKey)
		if cached, ok := r.cache.Lookup(ctx, key, now); ok {
			var resp Response
			if err := json.Unmarshal(cached, &resp); err == nil {
				resp.Replayed = true
				return resp, nil
			}
		}
	}

	result, err := r.dispatch(ctx, spec, req.OrchestrationID, payload)
	if err != nil {
		return Response{}, err
	}

	sessionID := req.OrchestrationID
	if rec, err := r.engine.Get(req.OrchestrationID); err == nil {
		sessionID = rec.OrchestratorSessionID
	}

	resp := Response{CommandID: req.CommandID, Result: result}
	r.engine.RecordCommandExecuted(sessionID, req.OrchestrationID, req.CommandID, map[string]any{
		"mode":   spec.Mode,
		"result": result,
	})

	if payload.IdempotencyKey != "" {
		if body, err := json.Marshal(resp); err == nil {
			key := cacheKey(req.OrchestrationID, req.CommandID, payload.IdempotencyKey)
			r.cache.Store(ctx, key, body, now)
		}
	}

	return resp, nil
}

// dispatch runs spec's command against the Engine, translating the
// catalog's closed Mode set into the matching Engine call.
func (r *Router) dispatch(ctx context.Context, spec CommandSpec, orchestrationID string, p Payload) (any, error) {
	switch spec.Mode {
	case ModeSystemSync:
		return r.engine.RunSync(ctx, orchestrationID, orchestrator.SyncRequest{
			Trigger:               orchestrator.SyncTrigger("api.command." + spec.ID),
			Force:                 p.Force,
			DeliverToOrchestrator: p.DeliverToOrchestrator,
		})

	case ModeSystemReview:
		err := r.engine.RunSteeringReview(ctx, orchestrationID, orchestrator.SteeringReviewRequest{Force: p.Force})
		return map[string]any{"ok": err == nil}, err

	case ModeOrchestratorInput:
		text := p.effectiveText()
		err := r.engine.InputOrchestrator(ctx, orchestrationID, text)
		return map[string]any{"sent": err == nil}, err

	case ModeWorkerSendTask:
		return r.engine.Dispatch(ctx, orchestrationID, orchestrator.DispatchRequest{
			Text:                      p.effectiveText(),
			Target:                    p.Target,
			Interrupt:                 p.Interrupt,
			ForceInterrupt:            p.ForceInterrupt,
			IncludeBootstrapIfPresent: true,
			Source:                    "router:" + spec.ID,
		})

	case ModeWorkerDispatch:
		return r.engine.Dispatch(ctx, orchestrationID, orchestrator.DispatchRequest{
			Text:           p.effectiveText(),
			Target:         p.Target,
			Interrupt:      p.Interrupt,
			ForceInterrupt: p.ForceInterrupt,
			Source:         "router:" + spec.ID,
		})

	default:
		return nil, ctlerr.New(ctlerr.CodeUnknownCommand, "command %q has no dispatch mode", spec.ID)
	}
}
