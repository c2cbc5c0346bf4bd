package transcript

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fyp-systems/fyp-core/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transcript.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_AppendOutputThenFlushIsReadable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AppendOutput("s1", []byte("hello ")); err != nil {
		t.Fatalf("AppendOutput: %v", err)
	}
	if err := s.AppendOutput("s1", []byte("world")); err != nil {
		t.Fatalf("AppendOutput: %v", err)
	}

	page, err := s.GetTranscript(ctx, "s1", PageOptions{})
	if err != nil {
		t.Fatalf("GetTranscript: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("got %d chunks, want 2", len(page.Items))
	}
	if string(page.Items[0].Chunk) != "hello " || string(page.Items[1].Chunk) != "world" {
		t.Errorf("unexpected chunk contents: %+v", page.Items)
	}
}

func TestStore_FlushTriggeredByByteThreshold(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	big := make([]byte, flushBytesThreshold+1)
	for i := range big {
		big[i] = 'x'
	}
	if err := s.AppendOutput("s1", big); err != nil {
		t.Fatalf("AppendOutput: %v", err)
	}

	b := s.bufferFor("s1")
	b.mu.Lock()
	pending := len(b.chunks)
	b.mu.Unlock()
	if pending != 0 {
		t.Errorf("expected immediate flush on byte threshold, buffer still has %d chunks", pending)
	}

	page, err := s.GetTranscript(ctx, "s1", PageOptions{})
	if err != nil {
		t.Fatalf("GetTranscript: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("got %d chunks, want 1", len(page.Items))
	}
}

func TestStore_FlushTriggeredByTimer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AppendOutput("s1", []byte("small")); err != nil {
		t.Fatalf("AppendOutput: %v", err)
	}

	time.Sleep(150 * time.Millisecond)

	page, err := s.GetTranscript(ctx, "s1", PageOptions{})
	if err != nil {
		t.Fatalf("GetTranscript: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected timer-triggered flush to make chunk readable, got %d items", len(page.Items))
	}
}

func TestStore_GetTranscriptFlushesBeforeReading(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AppendOutput("s1", []byte("pending")); err != nil {
		t.Fatalf("AppendOutput: %v", err)
	}

	page, err := s.GetTranscript(ctx, "s1", PageOptions{})
	if err != nil {
		t.Fatalf("GetTranscript: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected read-time flush to surface pending chunk, got %d items", len(page.Items))
	}
}

func TestStore_TranscriptPaginationCursor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// The transcript limit floor is 50, so write more than one page of
	// single-byte chunks: 'A', 'B', ... one per flush.
	for i := 0; i < 55; i++ {
		if err := s.AppendOutput("s1", []byte{byte('A' + i)}); err != nil {
			t.Fatalf("AppendOutput: %v", err)
		}
		if err := s.Flush("s1"); err != nil {
			t.Fatalf("Flush: %v", err)
		}
	}

	first, err := s.GetTranscript(ctx, "s1", PageOptions{Limit: 50})
	if err != nil {
		t.Fatalf("GetTranscript: %v", err)
	}
	if len(first.Items) != 50 || first.NextCursor == "" {
		t.Fatalf("expected a 50-item page with a cursor, got %d items, cursor %q", len(first.Items), first.NextCursor)
	}
	if string(first.Items[0].Chunk) != "A" || string(first.Items[1].Chunk) != "B" {
		t.Errorf("expected oldest-first order, got %+v", first.Items[:2])
	}

	second, err := s.GetTranscript(ctx, "s1", PageOptions{Limit: 50, Cursor: first.NextCursor})
	if err != nil {
		t.Fatalf("GetTranscript (page 2): %v", err)
	}
	if len(second.Items) != 5 {
		t.Fatalf("expected 5 items on page 2, got %d", len(second.Items))
	}
	if string(second.Items[0].Chunk) != string(rune('A'+50)) || string(second.Items[1].Chunk) != string(rune('A'+51)) {
		t.Errorf("expected continuation from cursor, got %+v", second.Items)
	}
}

func TestStore_AppendEventMonotonicPerSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.AppendEvent(ctx, "s1", types.EventSessionCreated, map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	id2, err := s.AppendEvent(ctx, "s1", types.EventSessionExit, map[string]any{"x": 2})
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if id1 != 1 || id2 != 2 {
		t.Errorf("expected monotonic ids 1,2, got %d,%d", id1, id2)
	}

	otherID, err := s.AppendEvent(ctx, "s2", types.EventSessionCreated, nil)
	if err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	if otherID != 1 {
		t.Errorf("expected independent per-session counter starting at 1, got %d", otherID)
	}
}

func TestStore_GetEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.AppendEvent(ctx, "s1", types.EventSessionCreated, nil)
	s.AppendEvent(ctx, "s1", types.EventInput, nil)

	page, err := s.GetEvents(ctx, "s1", PageOptions{})
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("got %d events, want 2", len(page.Items))
	}
	if page.Items[0].Kind != types.EventSessionCreated || page.Items[1].Kind != types.EventInput {
		t.Errorf("unexpected event order: %+v", page.Items)
	}
}

func TestStore_GetLatestEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, ok, err := s.GetLatestEvent(ctx, "s1", types.EventSessionExit); ok || err != nil {
		t.Fatalf("expected no event, got ok=%v err=%v", ok, err)
	}

	s.AppendEvent(ctx, "s1", types.EventSessionExit, map[string]any{"exitCode": 0})
	s.AppendEvent(ctx, "s1", types.EventSessionExit, map[string]any{"exitCode": 1})

	latest, ok, err := s.GetLatestEvent(ctx, "s1", types.EventSessionExit)
	if err != nil || !ok {
		t.Fatalf("GetLatestEvent: ok=%v err=%v", ok, err)
	}
	if latest.ID != 2 {
		t.Errorf("expected latest event id 2, got %d", latest.ID)
	}
}

func TestNormalizeTranscriptLimitClampsToFiftyTwoThousand(t *testing.T) {
	cases := map[int]int{0: 200, -5: 200, 1: 50, 49: 50, 50: 50, 2000: 2000, 5000: 2000}
	for in, want := range cases {
		if got := normalizeTranscriptLimit(in); got != want {
			t.Errorf("normalizeTranscriptLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestNormalizeEventLimitClampsToTwentyFiveHundred(t *testing.T) {
	cases := map[int]int{0: 50, -5: 50, 1: 20, 19: 20, 20: 20, 500: 500, 5000: 500}
	for in, want := range cases {
		if got := normalizeEventLimit(in); got != want {
			t.Errorf("normalizeEventLimit(%d) = %d, want %d", in, got, want)
		}
	}
}
