package router

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fyp-systems/fyp-core/internal/orchestrator"
	"github.com/fyp-systems/fyp-core/internal/store"
	"github.com/fyp-systems/fyp-core/pkg/types"
)

type fakeEngine struct {
	syncCalls   int
	syncErr     error
	recorded    []string
	automation  types.AutomationPolicy
}

func (f *fakeEngine) RunSync(ctx context.Context, orchestrationID string, req orchestrator.SyncRequest) (orchestrator.SyncResult, error) {
	f.syncCalls++
	if f.syncErr != nil {
		return orchestrator.SyncResult{}, f.syncErr
	}
	return orchestrator.SyncResult{Sent: true, Reason: "ok"}, nil
}

func (f *fakeEngine) RunSteeringReview(ctx context.Context, orchestrationID string, req orchestrator.SteeringReviewRequest) error {
	return nil
}

func (f *fakeEngine) InputOrchestrator(ctx context.Context, orchestrationID, text string) error {
	return nil
}

func (f *fakeEngine) Dispatch(ctx context.Context, orchestrationID string, req orchestrator.DispatchRequest) (orchestrator.DispatchResult, error) {
	return orchestrator.DispatchResult{Sent: []orchestrator.SentTarget{{SessionID: "w1"}}}, nil
}

func (f *fakeEngine) AutomationPolicyOf(orchestrationID string) (types.AutomationPolicy, error) {
	return f.automation, nil
}

func (f *fakeEngine) Get(orchestrationID string) (types.Orchestration, error) {
	return types.Orchestration{ID: orchestrationID, OrchestratorSessionID: "orch"}, nil
}

func (f *fakeEngine) RecordCommandExecuted(sessionID, orchestrationID, commandID string, data any) {
	f.recorded = append(f.recorded, commandID)
}

func authorizedPolicy() PolicyContext {
	return PolicyContext{Authorized: true}
}

func TestExecuteUnknownCommandRejected(t *testing.T) {
	r := New(&fakeEngine{}, nil)
	_, err := r.Execute(context.Background(), ExecuteRequest{
		OrchestrationID: "o1",
		CommandID:       "does-not-exist",
		Policy:          authorizedPolicy(),
	})
	require.Error(t, err)
}

func TestExecuteValidatesRequiredFields(t *testing.T) {
	r := New(&fakeEngine{}, nil)
	_, err := r.Execute(context.Background(), ExecuteRequest{
		OrchestrationID: "o1",
		CommandID:       "worker-task",
		RawPayload:      json.RawMessage(`{"target":"w1"}`),
		Policy:          authorizedPolicy(),
	})
	require.Error(t, err)
}

func TestExecuteRejectsUnauthorizedCaller(t *testing.T) {
	r := New(&fakeEngine{}, nil)
	_, err := r.Execute(context.Background(), ExecuteRequest{
		OrchestrationID: "o1",
		CommandID:       "sync-status",
		Policy:          PolicyContext{Authorized: false},
	})
	require.Error(t, err)
}

func TestExecuteBlocksDestructiveDispatchWithoutYolo(t *testing.T) {
	r := New(&fakeEngine{}, nil)
	_, err := r.Execute(context.Background(), ExecuteRequest{
		OrchestrationID: "o1",
		CommandID:       "worker-dispatch",
		RawPayload:      json.RawMessage(`{"target":"w1","text":"rm -rf the old branch"}`),
		Policy:          authorizedPolicy(),
	})
	require.Error(t, err)
}

func TestExecuteAllowsDestructiveDispatchInYoloMode(t *testing.T) {
	r := New(&fakeEngine{}, nil)
	_, err := r.Execute(context.Background(), ExecuteRequest{
		OrchestrationID: "o1",
		CommandID:       "worker-dispatch",
		RawPayload:      json.RawMessage(`{"target":"w1","text":"rm -rf old branch"}`),
		Policy:          PolicyContext{Authorized: true, Automation: types.AutomationPolicy{YoloMode: true}},
	})
	require.NoError(t, err)
}

func TestExecuteReplaysIdempotentCommand(t *testing.T) {
	storage := store.New(t.TempDir())
	fe := &fakeEngine{}
	r := New(fe, storage)

	req := ExecuteRequest{
		OrchestrationID: "o1",
		CommandID:       "sync-status",
		RawPayload:      json.RawMessage(`{"force":true,"idempotencyKey":"K"}`),
		Policy:          authorizedPolicy(),
	}

	first, err := r.Execute(context.Background(), req)
	require.NoError(t, err)
	require.False(t, first.Replayed)
	require.Equal(t, 1, fe.syncCalls)
	require.Len(t, fe.recorded, 1)

	second, err := r.Execute(context.Background(), req)
	require.NoError(t, err)
	require.True(t, second.Replayed)
	require.Equal(t, 1, fe.syncCalls, "second call must not re-execute")
	require.Len(t, fe.recorded, 1, "replay must not emit a new command-executed event")
}

func TestExecuteReplaysIdempotentCommandFromHeaderKey(t *testing.T) {
	storage := store.New(t.TempDir())
	fe := &fakeEngine{}
	r := New(fe, storage)

	req := ExecuteRequest{
		OrchestrationID:      "o1",
		CommandID:            "sync-status",
		RawPayload:           json.RawMessage(`{"force":true}`),
		Policy:               authorizedPolicy(),
		HeaderIdempotencyKey: "K-header",
	}

	first, err := r.Execute(context.Background(), req)
	require.NoError(t, err)
	require.False(t, first.Replayed)
	require.Equal(t, 1, fe.syncCalls)

	second, err := r.Execute(context.Background(), req)
	require.NoError(t, err)
	require.True(t, second.Replayed)
	require.Equal(t, 1, fe.syncCalls, "second call must not re-execute")
}

func TestExecuteBodyIdempotencyKeyTakesPriorityOverHeader(t *testing.T) {
	storage := store.New(t.TempDir())
	fe := &fakeEngine{}
	r := New(fe, storage)

	bodyReq := ExecuteRequest{
		OrchestrationID:      "o1",
		CommandID:            "sync-status",
		RawPayload:           json.RawMessage(`{"force":true,"idempotencyKey":"K-body"}`),
		Policy:               authorizedPolicy(),
		HeaderIdempotencyKey: "K-header",
	}
	_, err := r.Execute(context.Background(), bodyReq)
	require.NoError(t, err)
	require.Equal(t, 1, fe.syncCalls)

	// A different header key with the same body key must still replay: the
	// body field wins when both are present.
	bodyReq.HeaderIdempotencyKey = "K-different-header"
	replayed, err := r.Execute(context.Background(), bodyReq)
	require.NoError(t, err)
	require.True(t, replayed.Replayed)
	require.Equal(t, 1, fe.syncCalls)
}

func TestExecuteWithoutIdempotencyKeyAlwaysRuns(t *testing.T) {
	fe := &fakeEngine{}
	r := New(fe, nil)

	req := ExecuteRequest{
		OrchestrationID: "o1",
		CommandID:       "sync-status",
		Policy:          authorizedPolicy(),
	}
	_, err := r.Execute(context.Background(), req)
	require.NoError(t, err)
	_, err = r.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 2, fe.syncCalls)
}

func TestExecutePropagatesEngineError(t *testing.T) {
	fe := &fakeEngine{syncErr: errors.New("boom")}
	r := New(fe, nil)
	_, err := r.Execute(context.Background(), ExecuteRequest{
		OrchestrationID: "o1",
		CommandID:       "sync-status",
		Policy:          authorizedPolicy(),
	})
	require.Error(t, err)
}
