package rpcproto

import (
	"context"
	"encoding/json"
	"fmt"
)

// Thread wraps a Transport with the thread/turn method names a rpc-backed
// agent session speaks: thread/start, thread/resume, thread/fork,
// thread/turn, turn/interrupt.
type Thread struct {
	t        *Transport
	threadID string
}

// StartThread begins a new remote conversation and records its threadId.
func StartThread(ctx context.Context, t *Transport, params any) (*Thread, error) {
	raw, err := t.Call(ctx, "thread/start", params)
	if err != nil {
		return nil, err
	}
	id, err := extractThreadID(raw)
	if err != nil {
		return nil, err
	}
	return &Thread{t: t, threadID: id}, nil
}

// ResumeThread reattaches to an existing remote conversation by id.
func ResumeThread(ctx context.Context, t *Transport, threadID string) (*Thread, error) {
	_, err := t.Call(ctx, "thread/resume", map[string]string{"threadId": threadID})
	if err != nil {
		return nil, err
	}
	return &Thread{t: t, threadID: threadID}, nil
}

// Fork branches th into a new thread, leaving th untouched.
func (th *Thread) Fork(ctx context.Context) (*Thread, error) {
	raw, err := th.t.Call(ctx, "thread/fork", map[string]string{"threadId": th.threadID})
	if err != nil {
		return nil, err
	}
	id, err := extractThreadID(raw)
	if err != nil {
		return nil, err
	}
	return &Thread{t: th.t, threadID: id}, nil
}

// ID returns the remote threadId this Thread wraps.
func (th *Thread) ID() string { return th.threadID }

// StartTurn submits text as a new turn on this thread.
func (th *Thread) StartTurn(ctx context.Context, text string) error {
	_, err := th.t.Call(ctx, "thread/turn", map[string]string{"threadId": th.threadID, "text": text})
	return err
}

// Interrupt cancels the active turn, if any.
func (th *Thread) Interrupt(ctx context.Context) error {
	_, err := th.t.Call(ctx, "turn/interrupt", map[string]string{"threadId": th.threadID})
	return err
}

func extractThreadID(raw json.RawMessage) (string, error) {
	var body struct {
		ThreadID string `json:"threadId"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", fmt.Errorf("rpcproto: decode threadId: %w", err)
	}
	if body.ThreadID == "" {
		return "", fmt.Errorf("rpcproto: no_thread")
	}
	return body.ThreadID, nil
}
