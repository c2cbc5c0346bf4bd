package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fyp-systems/fyp-core/internal/ctlerr"
	"github.com/fyp-systems/fyp-core/pkg/types"
)

// WorkerDigestEntry is one worker's snapshot inside a sync Digest.
type WorkerDigestEntry struct {
	Name        string
	SessionID   string
	Running     bool
	Attention   int
	LastPreview string
	Branch      string
	LastEventAt int64
	Progress    WorkerProgress
	HaveProgress bool
	Hash        string
}

// Digest is a deterministic summary of every worker's state, used to detect
// change between sync runs.
type Digest struct {
	Workers []WorkerDigestEntry
	Hash    string
}

func hashString(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// buildDigest snapshots every worker of rec: running state, open attention
// count, last preview, branch, last event time, and progress-file-derived
// checklist/preview/excerpt.
func (e *Engine) buildDigest(rec types.Orchestration) Digest {
	entries := make([]WorkerDigestEntry, 0, len(rec.Workers))
	for _, w := range rec.Workers {
		st, _ := e.sessions.Status(w.SessionID)
		preview, _, _ := e.sessions.Preview(w.SessionID)
		attention := e.openAttention(w.SessionID)

		root := w.WorktreePath
		if root == "" {
			root = w.ProjectPath
		}
		progress, haveProgress := readWorkerProgress(root, w.WorkerIndex, w.Name)

		entry := WorkerDigestEntry{
			Name:         w.Name,
			SessionID:    w.SessionID,
			Running:      st.Running,
			Attention:    attention,
			LastPreview:  preview,
			Branch:       w.Branch,
			LastEventAt:  st.UpdatedAt,
			Progress:     progress,
			HaveProgress: haveProgress,
		}
		entry.Hash = hashString(
			entry.Name, entry.SessionID,
			fmt.Sprintf("%v", entry.Running),
			fmt.Sprintf("%d", entry.Attention),
			entry.LastPreview,
			fmt.Sprintf("%d", progress.ChecklistDone),
			fmt.Sprintf("%d", progress.ChecklistTotal),
			progress.Preview,
		)
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	hashes := make([]string, 0, len(entries))
	for _, e := range entries {
		hashes = append(hashes, e.Hash)
	}
	return Digest{Workers: entries, Hash: hashString(hashes...)}
}

// RenderDigestText turns a Digest into the plain-text form sent to the
// orchestrator session as its sync input.
func RenderDigestText(d Digest) string {
	var b strings.Builder
	b.WriteString("SYNC_DIGEST\n")
	for _, w := range d.Workers {
		status := "idle"
		if w.Running {
			status = "running"
		}
		fmt.Fprintf(&b, "- %s [%s] attention=%d", w.Name, status, w.Attention)
		if w.Branch != "" {
			fmt.Fprintf(&b, " branch=%s", w.Branch)
		}
		if w.HaveProgress {
			fmt.Fprintf(&b, " checklist=%d/%d preview=%q", w.Progress.ChecklistDone, w.Progress.ChecklistTotal, w.Progress.Preview)
		} else if w.LastPreview != "" {
			fmt.Fprintf(&b, " preview=%q", w.LastPreview)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// SyncTrigger names what caused a runSync call.
type SyncTrigger string

// SyncRequest parameterizes runSync.
type SyncRequest struct {
	Trigger               SyncTrigger
	Force                 bool
	DeliverToOrchestrator *bool // nil means "use the orchestration's policy"
}

// SyncResult is runSync's outcome.
type SyncResult struct {
	Sent   bool
	Reason string
	Digest Digest
}

// RunSync builds a worker digest and, depending on policy and change
// detection, delivers it to the orchestrator as input.
func (e *Engine) RunSync(ctx context.Context, orchestrationID string, req SyncRequest) (SyncResult, error) {
	s, ok := e.state(orchestrationID)
	if !ok {
		return SyncResult{}, ctlerr.New(ctlerr.CodeNotActive, "orchestration %s not found", orchestrationID)
	}

	s.mu.Lock()
	if s.syncInFlight {
		s.mu.Unlock()
		return SyncResult{Sent: false, Reason: "in_flight"}, nil
	}
	s.syncInFlight = true
	rec := s.rec
	policy := s.syncPolicy
	lastHash := s.lastDigestHash
	lastDelivered := s.lastDeliveredAt
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncInFlight = false
		s.mu.Unlock()
	}()

	acquire, err := e.acquireLock(ctx, s)
	if err != nil {
		return SyncResult{}, err
	}
	if !acquire.OK {
		return SyncResult{Sent: false, Reason: "locked"}, nil
	}
	defer e.releaseLock(ctx, s)

	digest := e.buildDigest(rec)

	if !req.Force && digest.Hash == lastHash {
		return SyncResult{Sent: false, Reason: "unchanged", Digest: digest}, nil
	}

	deliver := policy.DeliverToOrchestrator
	if req.DeliverToOrchestrator != nil {
		deliver = *req.DeliverToOrchestrator
	}
	if !deliver {
		s.mu.Lock()
		s.lastDigestHash = digest.Hash
		updateWorkerHashesLocked(s, digest)
		s.mu.Unlock()
		return SyncResult{Sent: false, Reason: "collect_only", Digest: digest}, nil
	}

	if req.Trigger == "interval" && !req.Force {
		changed := 0
		s.mu.Lock()
		for _, w := range digest.Workers {
			if s.lastWorkerHash[w.SessionID] != w.Hash {
				changed++
			}
		}
		s.mu.Unlock()
		if changed == 0 {
			return SyncResult{Sent: false, Reason: "unchanged", Digest: digest}, nil
		}
		if time.Since(lastDelivered) < time.Duration(policy.MinDeliveryGapMs)*time.Millisecond {
			return SyncResult{Sent: false, Reason: "cooldown", Digest: digest}, nil
		}
		if e.openAttention(rec.OrchestratorSessionID) > 0 {
			return SyncResult{Sent: false, Reason: "orchestrator_pending_attention", Digest: digest}, nil
		}
	}

	st, err := e.sessions.Status(rec.OrchestratorSessionID)
	if err != nil || !st.Running {
		return SyncResult{Sent: false, Reason: "orchestrator_not_running", Digest: digest}, nil
	}

	if err := e.sessions.Send(ctx, rec.OrchestratorSessionID, RenderDigestText(digest)); err != nil {
		return SyncResult{Sent: false, Reason: "deliver_failed", Digest: digest}, nil
	}

	now := e.clock.Now()
	s.mu.Lock()
	s.lastDigestHash = digest.Hash
	updateWorkerHashesLocked(s, digest)
	s.lastSyncRunAt = now
	s.lastDeliveredAt = now
	s.mu.Unlock()

	return SyncResult{Sent: true, Digest: digest}, nil
}

// updateWorkerHashesLocked records digest's per-worker hashes as the
// baseline for the next interval-trigger changed-worker comparison. Callers
// must hold s.mu. Workers no longer present in rec (e.g. removed between
// runs) are dropped so their stale hash doesn't linger forever.
func updateWorkerHashesLocked(s *orchState, digest Digest) {
	if s.lastWorkerHash == nil {
		s.lastWorkerHash = make(map[string]string, len(digest.Workers))
	}
	next := make(map[string]string, len(digest.Workers))
	for _, w := range digest.Workers {
		next[w.SessionID] = w.Hash
	}
	s.lastWorkerHash = next
}

// Progress returns a control-surface-friendly per-worker progress view for
// orchestrationID, backing the orchestration progress endpoint.
func (e *Engine) Progress(orchestrationID string) ([]WorkerDigestEntry, error) {
	s, ok := e.state(orchestrationID)
	if !ok {
		return nil, ctlerr.New(ctlerr.CodeNotActive, "orchestration %s not found", orchestrationID)
	}
	s.mu.Lock()
	rec := s.rec
	s.mu.Unlock()
	return e.buildDigest(rec).Workers, nil
}
