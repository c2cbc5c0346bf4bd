package inbox

import (
	"context"
	"testing"

	"github.com/fyp-systems/fyp-core/internal/ctlerr"
	"github.com/fyp-systems/fyp-core/internal/store"
	"github.com/fyp-systems/fyp-core/pkg/types"
)

type fakeDeliverer struct {
	keySequences []string
	decisions    []map[string]any
	rpcReplies   []map[string]any
}

func (f *fakeDeliverer) DeliverKeySequence(ctx context.Context, sessionID, keys string) error {
	f.keySequences = append(f.keySequences, keys)
	return nil
}

func (f *fakeDeliverer) DeliverDecision(ctx context.Context, sessionID string, decision map[string]any) error {
	f.decisions = append(f.decisions, decision)
	return nil
}

func (f *fakeDeliverer) DeliverRPCReply(ctx context.Context, sessionID string, reply map[string]any) error {
	f.rpcReplies = append(f.rpcReplies, reply)
	return nil
}

func newTestInbox(t *testing.T, d Deliverer) *Inbox {
	t.Helper()
	s := store.New(t.TempDir())
	return New(s, d, nil)
}

func TestInbox_CreateThenDedupBySignature(t *testing.T) {
	ib := newTestInbox(t, &fakeDeliverer{})
	ctx := context.Background()

	item := types.AttentionItem{
		SessionID: "s1",
		Kind:      "codex.approval",
		Severity:  types.SeverityDanger,
		Title:     "Approve network access",
		Signature: "s1|codex.approval|net|example.com",
		Options: []types.AttentionOption{
			{ID: "y", Label: "Yes", KeySequence: "y"},
		},
	}

	first, err := ib.Create(ctx, item)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !first.Created {
		t.Error("expected first create to report Created=true")
	}

	item.Title = "Approve network access (updated)"
	second, err := ib.Create(ctx, item)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if second.Created {
		t.Error("expected second create to report Created=false (dedup)")
	}
	if second.ID != first.ID {
		t.Errorf("expected same id, got %s != %s", second.ID, first.ID)
	}

	list := ib.List(ListOptions{SessionID: "s1"})
	if len(list) != 1 {
		t.Fatalf("expected 1 open item, got %d", len(list))
	}
	if list[0].Title != "Approve network access (updated)" {
		t.Errorf("expected updated title, got %q", list[0].Title)
	}
}

func TestInbox_RespondDeliversKeySequenceAndTransitionsTerminal(t *testing.T) {
	deliverer := &fakeDeliverer{}
	ib := newTestInbox(t, deliverer)
	ctx := context.Background()

	item := types.AttentionItem{
		SessionID: "s1",
		Kind:      "codex.approval",
		Severity:  types.SeverityWarn,
		Signature: "sig-1",
		Options: []types.AttentionOption{
			{ID: "y", Label: "Yes", KeySequence: "y"},
		},
	}
	res, err := ib.Create(ctx, item)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	status, err := ib.Respond(ctx, "s1", res.ID, "y", "test", nil)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if status != types.AttentionSent {
		t.Errorf("status = %v, want sent", status)
	}
	if len(deliverer.keySequences) != 1 || deliverer.keySequences[0] != "y" {
		t.Errorf("expected key sequence 'y' delivered, got %v", deliverer.keySequences)
	}

	list := ib.List(ListOptions{SessionID: "s1"})
	if len(list) != 0 {
		t.Errorf("expected 0 open items after respond, got %d", len(list))
	}
}

func TestInbox_RespondUnknownItemVsBadOptionDivergeErrorCodes(t *testing.T) {
	ib := newTestInbox(t, &fakeDeliverer{})
	ctx := context.Background()

	_, err := ib.Respond(ctx, "s1", "no-such-item", "y", "test", nil)
	if !ctlerr.Is(err, ctlerr.CodeAttentionItemNotFound) {
		t.Fatalf("expected CodeAttentionItemNotFound for unknown item, got %v", err)
	}

	item := types.AttentionItem{
		SessionID: "s1",
		Kind:      "codex.approval",
		Severity:  types.SeverityWarn,
		Signature: "sig-bad-option",
		Options: []types.AttentionOption{
			{ID: "y", Label: "Yes", KeySequence: "y"},
		},
	}
	res, err := ib.Create(ctx, item)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err = ib.Respond(ctx, "s1", res.ID, "no-such-option", "test", nil)
	if !ctlerr.Is(err, ctlerr.CodeBadID) {
		t.Fatalf("expected CodeBadID for unknown option, got %v", err)
	}
}

func TestInbox_DoubleRespondIsNoOp(t *testing.T) {
	deliverer := &fakeDeliverer{}
	ib := newTestInbox(t, deliverer)
	ctx := context.Background()

	res, _ := ib.Create(ctx, types.AttentionItem{
		SessionID: "s1",
		Signature: "sig-1",
		Options:   []types.AttentionOption{{ID: "y", Label: "Yes", KeySequence: "y"}},
	})

	first, err := ib.Respond(ctx, "s1", res.ID, "y", "", nil)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	second, err := ib.Respond(ctx, "s1", res.ID, "y", "", nil)
	if err != nil {
		t.Fatalf("second Respond: %v", err)
	}
	if first != second {
		t.Errorf("expected idempotent status, got %v then %v", first, second)
	}
	if len(deliverer.keySequences) != 1 {
		t.Errorf("expected delivery exactly once, got %d", len(deliverer.keySequences))
	}
}

func TestInbox_Dismiss(t *testing.T) {
	ib := newTestInbox(t, &fakeDeliverer{})
	ctx := context.Background()

	res, _ := ib.Create(ctx, types.AttentionItem{SessionID: "s1", Signature: "sig-1"})

	status, err := ib.Dismiss(ctx, "s1", res.ID, "", nil)
	if err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	if status != types.AttentionDismissed {
		t.Errorf("status = %v, want dismissed", status)
	}

	counts := ib.OpenCounts()
	if counts["s1"] != 0 {
		t.Errorf("expected no open items, got %d", counts["s1"])
	}
}

func TestInbox_NestedQuestionContinuation(t *testing.T) {
	deliverer := &fakeDeliverer{}
	ib := newTestInbox(t, deliverer)
	ctx := context.Background()

	item := types.AttentionItem{
		SessionID: "s1",
		Signature: "sig-rpc",
		Title:     "First question",
		Options: []types.AttentionOption{
			{
				ID:    "next",
				Label: "Continue",
				NextQuestion: &types.NestedQuestion{
					QuestionID: "q2",
					Title:      "Second question",
					Options:    []types.AttentionOption{{ID: "done", Label: "Finish", RPCReply: map[string]any{"ok": true}}},
				},
			},
		},
	}
	res, _ := ib.Create(ctx, item)

	status, err := ib.Respond(ctx, "s1", res.ID, "next", "", nil)
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if status != types.AttentionOpen {
		t.Errorf("expected item to remain open after nested continuation, got %v", status)
	}
	if len(deliverer.rpcReplies) != 0 {
		t.Error("expected no RPC reply sent until final question resolved")
	}

	list := ib.List(ListOptions{SessionID: "s1"})
	if len(list) != 1 || list[0].Title != "Second question" {
		t.Fatalf("expected item mutated to second question, got %+v", list)
	}

	finalStatus, err := ib.Respond(ctx, "s1", res.ID, "done", "", nil)
	if err != nil {
		t.Fatalf("Respond (final): %v", err)
	}
	if finalStatus != types.AttentionSent {
		t.Errorf("status = %v, want sent", finalStatus)
	}
	if len(deliverer.rpcReplies) != 1 {
		t.Errorf("expected exactly one RPC reply, got %d", len(deliverer.rpcReplies))
	}
}

func TestInbox_OnChangeCalledOnCreateRespondDismiss(t *testing.T) {
	ib := newTestInbox(t, &fakeDeliverer{})
	ctx := context.Background()

	var changes int
	ib.OnChange = func(sessionID string) { changes++ }

	res, _ := ib.Create(ctx, types.AttentionItem{
		SessionID: "s1",
		Signature: "sig-1",
		Options:   []types.AttentionOption{{ID: "y", Label: "Yes", KeySequence: "y"}},
	})
	if changes != 1 {
		t.Fatalf("expected 1 change after create, got %d", changes)
	}

	ib.Respond(ctx, "s1", res.ID, "y", "", nil)
	if changes != 2 {
		t.Fatalf("expected 2 changes after respond, got %d", changes)
	}

	res2, _ := ib.Create(ctx, types.AttentionItem{
		SessionID: "s1",
		Signature: "sig-2",
		Options:   []types.AttentionOption{{ID: "y", Label: "Yes", KeySequence: "y"}},
	})
	if changes != 3 {
		t.Fatalf("expected 3 changes after second create, got %d", changes)
	}

	ib.Dismiss(ctx, "s1", res2.ID, "", nil)
	if changes != 4 {
		t.Fatalf("expected 4 changes after dismiss, got %d", changes)
	}
}
