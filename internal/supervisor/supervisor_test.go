package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fyp-systems/fyp-core/internal/inbox"
	"github.com/fyp-systems/fyp-core/internal/ptyproc"
	"github.com/fyp-systems/fyp-core/internal/store"
	"github.com/fyp-systems/fyp-core/internal/transcript"
	"github.com/fyp-systems/fyp-core/pkg/types"
)

type noopDeliverer struct{}

func (noopDeliverer) DeliverKeySequence(ctx context.Context, sessionID, keys string) error { return nil }
func (noopDeliverer) DeliverDecision(ctx context.Context, sessionID string, decision map[string]any) error {
	return nil
}
func (noopDeliverer) DeliverRPCReply(ctx context.Context, sessionID string, reply map[string]any) error {
	return nil
}

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	ts, err := transcript.Open(t.TempDir() + "/transcript.db")
	require.NoError(t, err)
	t.Cleanup(func() { ts.Close() })

	st := store.New(t.TempDir())
	ib := inbox.New(st, noopDeliverer{}, nil)

	return New(ts, ib, st, nil)
}

func TestSupervisor_CreateAndWritePTYSession(t *testing.T) {
	sv := newTestSupervisor(t)
	ctx := context.Background()

	meta, err := sv.CreateSession(ctx, CreateOptions{
		ID:        "s1",
		Tool:      types.ToolCodex,
		Transport: types.TransportPTY,
		Command:   []string{"/bin/sh", "-c", "cat"},
		Size:      ptyproc.Size{Cols: 80, Rows: 24},
	})
	require.NoError(t, err)
	require.True(t, meta.Running)

	got := make(chan struct{}, 1)
	require.NoError(t, sv.OnOutput("s1", func(OutputEvent) {
		select {
		case got <- struct{}{}:
		default:
		}
	}))

	require.NoError(t, sv.Write("s1", []byte("hello\n")))

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for output broadcast")
	}

	require.NoError(t, sv.Kill("s1"))
}

func TestSupervisor_WriteToUnknownSessionFails(t *testing.T) {
	sv := newTestSupervisor(t)
	err := sv.Write("missing", []byte("x"))
	require.Error(t, err)
}

func TestSupervisor_WriteAfterExitFailsWithSessionNotRunning(t *testing.T) {
	sv := newTestSupervisor(t)
	ctx := context.Background()

	exited := make(chan struct{})
	_, err := sv.CreateSession(ctx, CreateOptions{
		ID:        "s1",
		Transport: types.TransportPTY,
		Command:   []string{"/bin/sh", "-c", "exit 0"},
		Size:      ptyproc.Size{Cols: 80, Rows: 24},
	})
	require.NoError(t, err)

	require.NoError(t, sv.OnExit("s1", func(ExitEvent) { close(exited) }))

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for exit")
	}
	time.Sleep(50 * time.Millisecond)

	err = sv.Write("s1", []byte("too late"))
	require.Error(t, err)
}

func TestSupervisor_ResizeIsNoOpForRPCTransport(t *testing.T) {
	sv := newTestSupervisor(t)
	ctx := context.Background()

	_, err := sv.CreateSession(ctx, CreateOptions{
		ID:        "s1",
		Transport: types.TransportRPC,
		Command:   []string{"/bin/sh", "-c", `while IFS= read -r line; do
  id=$(echo "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
  [ -n "$id" ] && echo "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{\"threadId\":\"thread-$id\"}}"
done`},
	})
	require.NoError(t, err)
	defer sv.Kill("s1")

	require.NoError(t, sv.Resize("s1", ptyproc.Size{Cols: 100, Rows: 30}))
}

func TestSupervisor_CreateDuplicateIDFails(t *testing.T) {
	sv := newTestSupervisor(t)
	ctx := context.Background()

	_, err := sv.CreateSession(ctx, CreateOptions{
		ID:        "dup",
		Transport: types.TransportPTY,
		Command:   []string{"/bin/sh", "-c", "cat"},
		Size:      ptyproc.Size{Cols: 80, Rows: 24},
	})
	require.NoError(t, err)
	defer sv.Kill("dup")

	_, err = sv.CreateSession(ctx, CreateOptions{
		ID:        "dup",
		Transport: types.TransportPTY,
		Command:   []string{"/bin/sh", "-c", "cat"},
	})
	require.Error(t, err)
}

func TestSupervisor_RunInterpreterFiresOnSignalForCompletionCue(t *testing.T) {
	sv := newTestSupervisor(t)

	var got []string
	sv.OnSignal = func(sessionID, trigger string) {
		got = append(got, sessionID+"|"+trigger)
	}

	sv.runInterpreter("s1", "Final summary: all done\nnext: ship it", nil)
	require.Equal(t, []string{"s1|done"}, got)
}

func TestSupervisor_RunInterpreterFiresOnSignalForQuestionCue(t *testing.T) {
	sv := newTestSupervisor(t)

	var got []string
	sv.OnSignal = func(sessionID, trigger string) {
		got = append(got, sessionID+"|"+trigger)
	}

	sv.runInterpreter("s1", "QUESTION: proceed?\nOPTIONS: yes, no\nBLOCKING: true", nil)
	require.Equal(t, []string{"s1|question"}, got)
}

func TestSupervisor_RunInterpreterPrefersQuestionOverCompletion(t *testing.T) {
	sv := newTestSupervisor(t)

	var got []string
	sv.OnSignal = func(sessionID, trigger string) {
		got = append(got, sessionID+"|"+trigger)
	}

	sv.runInterpreter("s1", "final summary: done\nQUESTION: which approach?\nOPTIONS: a, b\nBLOCKING: true", nil)
	require.Equal(t, []string{"s1|question"}, got)
}

func TestSupervisor_BootstrapPrependsOnFirstWriteBeforeActivity(t *testing.T) {
	sv := newTestSupervisor(t)
	ctx := context.Background()

	_, err := sv.CreateSession(ctx, CreateOptions{
		ID:        "s1",
		Tool:      types.ToolCodex,
		Transport: types.TransportPTY,
		Command:   []string{"/bin/sh", "-c", "cat"},
		Bootstrap: "bootstrap doc\r",
	})
	require.NoError(t, err)

	s, err := sv.get("s1")
	require.NoError(t, err)

	require.NoError(t, sv.Write("s1", []byte("hi\n")))

	s.mu.Lock()
	sent := s.bootstrapSent
	s.mu.Unlock()
	require.True(t, sent)

	require.NoError(t, sv.Kill("s1"))
}

func TestSupervisor_BootstrapSkippedAfterPreviewActivity(t *testing.T) {
	sv := newTestSupervisor(t)
	ctx := context.Background()

	_, err := sv.CreateSession(ctx, CreateOptions{
		ID:        "s1",
		Tool:      types.ToolCodex,
		Transport: types.TransportPTY,
		Command:   []string{"/bin/sh", "-c", "cat"},
		Bootstrap: "bootstrap doc\r",
	})
	require.NoError(t, err)

	s, err := sv.get("s1")
	require.NoError(t, err)
	s.mu.Lock()
	s.lastPreviewTs = s.queuedAt.Add(time.Second)
	s.mu.Unlock()

	require.NoError(t, sv.Write("s1", []byte("hi\n")))

	s.mu.Lock()
	sent := s.bootstrapSent
	s.mu.Unlock()
	require.False(t, sent)

	require.NoError(t, sv.Kill("s1"))
}

func TestSupervisor_ConsumeBootstrapIsOnce(t *testing.T) {
	sv := newTestSupervisor(t)
	ctx := context.Background()

	_, err := sv.CreateSession(ctx, CreateOptions{
		ID:        "s1",
		Tool:      types.ToolCodex,
		Transport: types.TransportPTY,
		Command:   []string{"/bin/sh", "-c", "cat"},
		Bootstrap: "bootstrap doc\r",
	})
	require.NoError(t, err)

	require.Equal(t, "bootstrap doc\r", sv.ConsumeBootstrap("s1"))
	require.Equal(t, "", sv.ConsumeBootstrap("s1"))

	require.NoError(t, sv.Kill("s1"))
}
