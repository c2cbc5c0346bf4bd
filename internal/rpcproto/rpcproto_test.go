package rpcproto

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// echoServerScript reads newline-delimited JSON-RPC requests and replies to
// each with a result echoing the request id, simulating a minimal rpc
// agent for transport-level tests.
const echoServerScript = `
while IFS= read -r line; do
  id=$(echo "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
  if [ -n "$id" ]; then
    echo "{\"jsonrpc\":\"2.0\",\"id\":$id,\"result\":{\"threadId\":\"thread-$id\"}}"
  fi
done
`

func startEcho(t *testing.T) *Transport {
	t.Helper()
	tr, err := Start(context.Background(), Options{Command: []string{"/bin/sh", "-c", echoServerScript}})
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestTransport_CallReturnsMatchingResult(t *testing.T) {
	tr := startEcho(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	raw, err := tr.Call(ctx, "thread/start", map[string]string{"tool": "codex"})
	require.NoError(t, err)
	require.Contains(t, string(raw), "thread-1")
}

func TestTransport_CallTimesOutViaContext(t *testing.T) {
	tr, err := Start(context.Background(), Options{Command: []string{"/bin/sh", "-c", "cat >/dev/null"}})
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = tr.Call(ctx, "thread/start", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTransport_CloseFailsPendingCalls(t *testing.T) {
	tr, err := Start(context.Background(), Options{Command: []string{"/bin/sh", "-c", "cat >/dev/null"}})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := tr.Call(context.Background(), "thread/start", nil)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, tr.Close())

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Call did not unblock after Close")
	}
}

func TestStartThread_ExtractsThreadID(t *testing.T) {
	tr := startEcho(t)

	th, err := StartThread(context.Background(), tr, map[string]string{"tool": "codex"})
	require.NoError(t, err)
	require.Equal(t, "thread-1", th.ID())
}

func TestThread_ForkReturnsNewThreadID(t *testing.T) {
	tr := startEcho(t)

	th, err := StartThread(context.Background(), tr, nil)
	require.NoError(t, err)

	forked, err := th.Fork(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, th.ID(), forked.ID())
}

func TestExtractThreadID_MissingFieldIsNoThread(t *testing.T) {
	_, err := extractThreadID([]byte(`{}`))
	require.ErrorContains(t, err, "no_thread")
}
