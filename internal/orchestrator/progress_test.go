package orchestrator

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIsPlaceholderPreview(t *testing.T) {
	cases := map[string]bool{
		"# Worker 1 Task Card":             true,
		"## worker 12 task card":           true,
		"BOOTSTRAP-ACK received at start":  true,
		"# Status 2026-07-31T10:00:00Z":    true,
		"Finished wiring the auth handler": false,
		"":                                 false,
	}
	for in, want := range cases {
		require.Equal(t, want, IsPlaceholderPreview(in), "line=%q", in)
	}
}

func TestReadWorkerProgressFindsFirstCandidate(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".agents", "tasks"), 0o755))
	content := "# Plan\n\n- [x] setup\n- [x] wiring\n- [ ] tests\n\nWired the auth handler end to end.\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, ".agents", "tasks", "worker-1-w1.md"), []byte(content), 0o644))

	progress, ok := readWorkerProgress(root, 0, "w1")
	require.True(t, ok)
	require.Equal(t, 2, progress.ChecklistDone)
	require.Equal(t, 3, progress.ChecklistTotal)
	require.Equal(t, "# Plan - [x] setup - [x] wiring", progress.Preview)
	require.False(t, progress.PreviewIsPlaceholder)
}

func TestReadWorkerProgressMissingFile(t *testing.T) {
	_, ok := readWorkerProgress(t.TempDir(), 0, "nope")
	require.False(t, ok)
}

func TestSelectPreviewPrefersProgressUnlessStalePlaceholder(t *testing.T) {
	now := time.Now()

	// No progress file at all: live wins.
	text, source := selectPreview(WorkerProgress{}, false, "live text", now)
	require.Equal(t, "live text", text)
	require.Equal(t, PreviewFromLive, source)

	// Progress file present, not a placeholder: progress wins even if live
	// is newer.
	progress := WorkerProgress{Preview: "authored progress", UpdatedAt: now.Add(-time.Minute).UnixMilli()}
	text, source = selectPreview(progress, true, "live text", now)
	require.Equal(t, "authored progress", text)
	require.Equal(t, PreviewFromProgress, source)

	// Placeholder progress, live output within 250ms of the file mtime:
	// still prefer progress (not enough margin to trust live over the file).
	placeholder := WorkerProgress{
		Preview:              "# Worker 1 Task Card",
		PreviewIsPlaceholder: true,
		UpdatedAt:            now.Add(-100 * time.Millisecond).UnixMilli(),
	}
	text, source = selectPreview(placeholder, true, "live text", now)
	require.Equal(t, "# Worker 1 Task Card", text)
	require.Equal(t, PreviewFromProgress, source)

	// Placeholder progress, live output clearly newer than mtime+250ms:
	// live wins.
	placeholder.UpdatedAt = now.Add(-time.Second).UnixMilli()
	text, source = selectPreview(placeholder, true, "live text", now)
	require.Equal(t, "live text", text)
	require.Equal(t, PreviewFromLive, source)
}
