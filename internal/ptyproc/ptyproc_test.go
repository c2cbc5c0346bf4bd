package ptyproc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProcess_StartWriteAndReceiveOutput(t *testing.T) {
	var mu sync.Mutex
	var chunks [][]byte
	got := make(chan struct{}, 1)

	p, err := Start(Options{
		Command: []string{"/bin/sh", "-c", "cat"},
		Size:    Size{Cols: 80, Rows: 24},
		OnOutput: func(b []byte) {
			mu.Lock()
			chunks = append(chunks, append([]byte(nil), b...))
			mu.Unlock()
			select {
			case got <- struct{}{}:
			default:
			}
		},
	})
	require.NoError(t, err)
	defer p.Kill()

	require.True(t, p.Running())
	require.NoError(t, p.Write([]byte("ping\n")))

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed output")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, chunks)
}

func TestProcess_KillStopsRunning(t *testing.T) {
	exited := make(chan ExitInfo, 1)
	p, err := Start(Options{
		Command: []string{"/bin/sh", "-c", "sleep 30"},
		Size:    Size{Cols: 80, Rows: 24},
		OnExit:  func(info ExitInfo) { exited <- info },
	})
	require.NoError(t, err)

	require.NoError(t, p.Kill())

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for exit callback")
	}
	require.False(t, p.Running())
}

func TestProcess_WriteAfterExitFails(t *testing.T) {
	exited := make(chan struct{})
	p, err := Start(Options{
		Command: []string{"/bin/sh", "-c", "exit 0"},
		Size:    Size{Cols: 80, Rows: 24},
		OnExit:  func(ExitInfo) { close(exited) },
	})
	require.NoError(t, err)

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for process to exit")
	}

	require.Error(t, p.Write([]byte("too late")))
}

func TestSize_Clamp(t *testing.T) {
	require.Equal(t, Size{Cols: 12, Rows: 6}, Size{Cols: 1, Rows: 1}.Clamp())
	require.Equal(t, Size{Cols: 400, Rows: 220}, Size{Cols: 9999, Rows: 9999}.Clamp())
	require.Equal(t, Size{Cols: 80, Rows: 24}, Size{Cols: 80, Rows: 24}.Clamp())
}
