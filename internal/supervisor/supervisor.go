// Package supervisor implements the Session Supervisor: lifecycle
// management for interactive subprocess sessions over two transports
// (pty and rpc), with an ordering-preserving output pipeline feeding the
// transcript store, the output interpreter, and the attention inbox, and
// subscriber fan-out of raw output chunks.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fyp-systems/fyp-core/internal/ctlerr"
	"github.com/fyp-systems/fyp-core/internal/event"
	"github.com/fyp-systems/fyp-core/internal/idgen"
	"github.com/fyp-systems/fyp-core/internal/inbox"
	"github.com/fyp-systems/fyp-core/internal/interp"
	"github.com/fyp-systems/fyp-core/internal/logging"
	"github.com/fyp-systems/fyp-core/internal/ptyproc"
	"github.com/fyp-systems/fyp-core/internal/rpcproto"
	"github.com/fyp-systems/fyp-core/internal/store"
	"github.com/fyp-systems/fyp-core/internal/transcript"
	"github.com/fyp-systems/fyp-core/pkg/types"
)

// interpreterTailBytes is how much of the recent output tail is re-run
// through the output interpreter on every chunk.
const interpreterTailBytes = 9 * 1024

// CreateOptions describes a new session to spawn.
type CreateOptions struct {
	ID            string
	Tool          types.ToolKind
	ProfileID     string
	Transport     types.Transport
	CWD           string
	Command       []string
	Env           []string
	Size          ptyproc.Size
	WorkspaceKey  string
	WorkspaceRoot string
	Label         string
	PinnedSlot    int
	Bootstrap     string // large startup prompt, if any
}

// OutputEvent is broadcast to subscribers on every output chunk.
type OutputEvent struct {
	SessionID string
	Chunk     []byte
	Ts        int64
}

// ExitEvent is broadcast to subscribers when a session terminates.
type ExitEvent struct {
	SessionID  string
	ExitCode   *int
	ExitSignal string
}

type session struct {
	mu      sync.Mutex
	meta    types.Session
	pty     *ptyproc.Process
	rpc     *rpcproto.Transport
	thread  *rpcproto.Thread
	closing bool

	tail             []byte
	lastPreview      string
	lastPreviewTs    time.Time
	lastPreviewBcast time.Time
	lastAssistSig    string
	bootstrap        string
	bootstrapSent  bool
	bootstrapTimer *time.Timer
	firstInputSeen bool
	queuedAt       time.Time

	outputSubs []func(OutputEvent)
	exitSubs   []func(ExitEvent)
}

// Supervisor manages every live session's subprocess and output pipeline.
type Supervisor struct {
	transcript *transcript.Store
	inbox      *inbox.Inbox
	bus        *event.Bus
	storage    *store.Storage

	directives *interp.DirectiveExtractor

	mu       sync.Mutex
	sessions map[string]*session

	// OnDirective is invoked for every directive extracted from a
	// coordinator session's output (wired to the orchestration engine).
	OnDirective func(sessionID string, d interp.Directive)

	// OnHookDecision is invoked when a hook-bridge permission decision is
	// delivered (DeliverDecision), so the Control Surface's polling
	// endpoint can hand it back to the waiting hook script.
	OnHookDecision func(sessionID string, decision map[string]any)

	// OnSignal is invoked when the interpreter recognizes a completion or
	// question cue in a session's output tail (wired to the orchestration
	// engine's worker-signal coalescer), with trigger one of "done" or
	// "question".
	OnSignal func(sessionID, trigger string)
}

// DeliverKeySequence satisfies inbox.Deliverer: types keys into the
// session's pty.
func (sv *Supervisor) DeliverKeySequence(ctx context.Context, sessionID, keys string) error {
	return sv.Write(sessionID, []byte(keys))
}

// DeliverDecision satisfies inbox.Deliverer: hands decision to whoever is
// polling on behalf of a hook-bridge permission request.
func (sv *Supervisor) DeliverDecision(ctx context.Context, sessionID string, decision map[string]any) error {
	if sv.OnHookDecision != nil {
		sv.OnHookDecision(sessionID, decision)
	}
	return nil
}

// DeliverRPCReply satisfies inbox.Deliverer. The rpc transport has no
// generic "reply to an arbitrary prior request" primitive yet (only
// StartTurn/Interrupt on the active thread), so this is a no-op until one
// exists.
func (sv *Supervisor) DeliverRPCReply(ctx context.Context, sessionID string, reply map[string]any) error {
	return nil
}

// New builds a Supervisor. bus may be nil to use the global event bus.
func New(ts *transcript.Store, ib *inbox.Inbox, st *store.Storage, bus *event.Bus) *Supervisor {
	return &Supervisor{
		transcript: ts,
		inbox:      ib,
		storage:    st,
		bus:        bus,
		directives: interp.NewDirectiveExtractor(),
		sessions:   make(map[string]*session),
	}
}

func (sv *Supervisor) publish(sessionID string, kind types.EventKind, data any) {
	sv.publishNotice(event.Event{Kind: kind, Data: data})
	if sv.transcript != nil {
		_, _ = sv.transcript.AppendEvent(context.Background(), sessionID, kind, data)
	}
}

// publishNotice puts e on the bus without persisting it, for stream-notice
// kinds that are fan-out-only.
func (sv *Supervisor) publishNotice(e event.Event) {
	if sv.bus != nil {
		sv.bus.Publish(e)
	} else {
		event.Publish(e)
	}
}

// previewBroadcastGap throttles session.preview notices so a chatty TUI
// redrawing its status line doesn't flood the global channel.
const previewBroadcastGap = 900 * time.Millisecond

// CreateSession spawns a new pty- or rpc-backed session.
func (sv *Supervisor) CreateSession(ctx context.Context, opts CreateOptions) (types.Session, error) {
	if opts.ID == "" {
		return types.Session{}, ctlerr.New(ctlerr.CodeBadID, "session id required")
	}

	sv.mu.Lock()
	if _, exists := sv.sessions[opts.ID]; exists {
		sv.mu.Unlock()
		return types.Session{}, ctlerr.New(ctlerr.CodeBadID, "session %s already exists", opts.ID)
	}
	sv.mu.Unlock()

	now := time.Now().UnixMilli()
	meta := types.Session{
		ID:            opts.ID,
		Tool:          opts.Tool,
		ProfileID:     opts.ProfileID,
		Transport:     opts.Transport,
		CWD:           opts.CWD,
		WorkspaceKey:  opts.WorkspaceKey,
		WorkspaceRoot: opts.WorkspaceRoot,
		Label:         opts.Label,
		PinnedSlot:    opts.PinnedSlot,
		HookKey:       idgen.NewToken(),
		CreatedAt:     now,
		UpdatedAt:     now,
		Running:       true,
	}

	s := &session{meta: meta, bootstrap: opts.Bootstrap, queuedAt: time.Now()}

	switch opts.Transport {
	case types.TransportPTY:
		p, err := ptyproc.Start(ptyproc.Options{
			Command: opts.Command,
			Dir:     opts.CWD,
			Env:     opts.Env,
			Size:    opts.Size,
			OnOutput: func(b []byte) {
				sv.handleOutput(opts.ID, b)
			},
			OnExit: func(info ptyproc.ExitInfo) {
				sv.handleExit(opts.ID, info)
			},
		})
		if err != nil {
			return types.Session{}, ctlerr.Wrap(ctlerr.CodeSpawnFailed, err)
		}
		s.pty = p

	case types.TransportRPC:
		tr, err := rpcproto.Start(ctx, rpcproto.Options{
			Command: opts.Command,
			Dir:     opts.CWD,
			Env:     opts.Env,
			OnNotification: func(n rpcproto.Notification) {
				if n.Params != nil {
					sv.handleOutput(opts.ID, n.Params)
				}
			},
			OnExit: func(err error) {
				code := 0
				if err != nil {
					code = 1
				}
				sv.handleExit(opts.ID, ptyproc.ExitInfo{Code: code})
			},
		})
		if err != nil {
			return types.Session{}, ctlerr.Wrap(ctlerr.CodeSpawnFailed, err)
		}
		th, err := rpcproto.StartThread(ctx, tr, map[string]any{"tool": opts.Tool, "cwd": opts.CWD})
		if err != nil {
			tr.Close()
			return types.Session{}, ctlerr.Wrap(ctlerr.CodeSpawnFailed, err)
		}
		s.rpc = tr
		s.thread = th
		meta.ThreadID = th.ID()
		s.meta = meta

	default:
		return types.Session{}, ctlerr.New(ctlerr.CodeUnsupportedTransport, "transport %q is not supported", opts.Transport)
	}

	sv.mu.Lock()
	sv.sessions[opts.ID] = s
	sv.mu.Unlock()

	if opts.Bootstrap != "" {
		sv.SetBootstrap(opts.ID, opts.Bootstrap)
	}

	if sv.storage != nil {
		_ = sv.storage.Put(ctx, []string{"sessions", opts.ID}, &meta)
	}
	sv.publish(opts.ID, types.EventSessionCreated, meta)
	sv.publishNotice(event.Event{Kind: event.KindSessionsChanged, Data: map[string]any{"sessionID": opts.ID}})

	sessionLogger := logging.ForSession(opts.ID)
	sessionLogger.Info().
		Str("tool", string(opts.Tool)).
		Str("transport", string(opts.Transport)).
		Msg("session created")

	return meta, nil
}

func (sv *Supervisor) get(sessionID string) (*session, error) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	s, ok := sv.sessions[sessionID]
	if !ok {
		return nil, ctlerr.New(ctlerr.CodeSessionNotFound, "session %s not found", sessionID)
	}
	return s, nil
}

func (sv *Supervisor) running(s *session) bool {
	switch s.meta.Transport {
	case types.TransportPTY:
		return s.pty != nil && s.pty.Running()
	case types.TransportRPC:
		return s.rpc != nil && !s.rpc.Closed()
	}
	return false
}

// closingErr reports session_closing for a session mid-teardown.
func (sv *Supervisor) closingErr(s *session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return ctlerr.New(ctlerr.CodeSessionClosing, "session %s is closing", s.meta.ID)
	}
	return nil
}

// Write sends raw bytes to a pty session.
func (sv *Supervisor) Write(sessionID string, b []byte) error {
	s, err := sv.get(sessionID)
	if err != nil {
		return err
	}
	if cerr := sv.closingErr(s); cerr != nil {
		return cerr
	}
	if s.meta.Transport != types.TransportPTY {
		return ctlerr.New(ctlerr.CodeUnsupportedTransport, "write is pty-only")
	}
	if !sv.running(s) {
		return ctlerr.New(ctlerr.CodeSessionNotRunning, "session %s not running", sessionID)
	}

	s.mu.Lock()
	if !s.firstInputSeen {
		s.firstInputSeen = true
		if s.bootstrap != "" && !s.bootstrapSent && sv.shouldPrependBootstrap(s) {
			s.bootstrapSent = true
			b = append([]byte(s.bootstrap), b...)
		}
	}
	s.mu.Unlock()

	sv.publish(sessionID, types.EventInput, map[string]any{"bytes": len(b)})
	return s.pty.Write(b)
}

// shouldPrependBootstrap reports whether the queued bootstrap text should
// be prepended to the first interactive write: true when the user's first
// message arrives before any interpreter preview activity postdating the
// time the session was queued. Caller holds s.mu.
func (sv *Supervisor) shouldPrependBootstrap(s *session) bool {
	return !s.lastPreviewTs.After(s.queuedAt)
}

// StartTurn submits text on an rpc session's active thread.
func (sv *Supervisor) StartTurn(ctx context.Context, sessionID, text string) error {
	s, err := sv.get(sessionID)
	if err != nil {
		return err
	}
	if cerr := sv.closingErr(s); cerr != nil {
		return cerr
	}
	if s.meta.Transport != types.TransportRPC {
		return ctlerr.New(ctlerr.CodeUnsupportedTransport, "startTurn is rpc-only")
	}
	if !sv.running(s) {
		return ctlerr.New(ctlerr.CodeSessionNotRunning, "session %s not running", sessionID)
	}
	if s.thread == nil {
		return ctlerr.New(ctlerr.CodeNoThread, "session %s has no active thread", sessionID)
	}

	sv.publish(sessionID, types.EventInput, map[string]any{"text": text})
	return s.thread.StartTurn(ctx, text)
}

// interruptByte is the tool-specific byte sent to interrupt a pty session.
// Every supported tool uses the terminal's Ctrl-C (ETX) to request
// cancellation of the current turn.
const interruptByte = 0x03

// Interrupt cancels the active turn on a session, pty or rpc.
func (sv *Supervisor) Interrupt(ctx context.Context, sessionID string) error {
	s, err := sv.get(sessionID)
	if err != nil {
		return err
	}
	if cerr := sv.closingErr(s); cerr != nil {
		return cerr
	}
	if !sv.running(s) {
		return ctlerr.New(ctlerr.CodeSessionNotRunning, "session %s not running", sessionID)
	}

	sv.publish(sessionID, types.EventInterrupt, nil)

	switch s.meta.Transport {
	case types.TransportPTY:
		return s.pty.Interrupt(interruptByte)
	case types.TransportRPC:
		if s.thread == nil {
			return nil
		}
		return s.thread.Interrupt(ctx)
	}
	return nil
}

// Resize applies a new terminal size to a pty session; a no-op on rpc.
func (sv *Supervisor) Resize(sessionID string, size ptyproc.Size) error {
	s, err := sv.get(sessionID)
	if err != nil {
		return err
	}
	if s.meta.Transport != types.TransportPTY {
		return nil
	}
	return s.pty.Resize(size)
}

// Stop gracefully terminates a session.
func (sv *Supervisor) Stop(sessionID string) error {
	s, err := sv.get(sessionID)
	if err != nil {
		return err
	}
	if cerr := sv.closingErr(s); cerr != nil {
		return cerr
	}
	sv.publish(sessionID, types.EventStop, nil)
	return sv.close(s, CloseOptions{})
}

// Kill immediately terminates a session.
func (sv *Supervisor) Kill(sessionID string) error {
	s, err := sv.get(sessionID)
	if err != nil {
		return err
	}
	if cerr := sv.closingErr(s); cerr != nil {
		return cerr
	}
	sv.publish(sessionID, types.EventKill, nil)
	return sv.close(s, CloseOptions{Force: true})
}

// CloseOptions bounds a Close teardown.
type CloseOptions struct {
	Force   bool
	GraceMs int
}

// Close tears a session down: ordered if !Force (stop, then escalate to
// kill after GraceMs), immediate if Force.
func (sv *Supervisor) Close(sessionID string, opts CloseOptions) error {
	s, err := sv.get(sessionID)
	if err != nil {
		return err
	}
	return sv.close(s, opts)
}

// defaultCloseGraceMs is how long a graceful close waits before escalating
// to SIGKILL when the caller doesn't pick a grace period.
const defaultCloseGraceMs = 1400

func (sv *Supervisor) close(s *session, opts CloseOptions) error {
	s.mu.Lock()
	alreadyClosing := s.closing
	s.closing = true
	sessionID := s.meta.ID
	s.mu.Unlock()

	if !alreadyClosing {
		sv.publishNotice(event.Event{Kind: event.KindSessionClosing, Data: map[string]any{"sessionID": sessionID}})
	}

	if opts.GraceMs <= 0 {
		opts.GraceMs = defaultCloseGraceMs
	}

	switch s.meta.Transport {
	case types.TransportPTY:
		if opts.Force {
			return s.pty.Kill()
		}
		s.pty.Stop(opts.GraceMs)
		return nil
	case types.TransportRPC:
		if s.rpc == nil {
			return nil
		}
		return s.rpc.Close()
	}
	return nil
}

func (sv *Supervisor) handleOutput(sessionID string, chunk []byte) {
	if sv.transcript != nil {
		_ = sv.transcript.AppendOutput(sessionID, chunk)
	}

	s, err := sv.get(sessionID)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.tail = append(s.tail, chunk...)
	if len(s.tail) > interpreterTailBytes {
		s.tail = s.tail[len(s.tail)-interpreterTailBytes:]
	}
	stripped := interp.Strip(s.tail)
	var previewOut string
	if line := interp.LastLine(stripped, 220); line != "" {
		s.lastPreview = line
		s.lastPreviewTs = time.Now()
		if s.lastPreviewTs.Sub(s.lastPreviewBcast) >= previewBroadcastGap {
			s.lastPreviewBcast = s.lastPreviewTs
			previewOut = line
		}
	}
	tailStr := string(stripped)
	subs := append([]func(OutputEvent){}, s.outputSubs...)
	s.mu.Unlock()

	if previewOut != "" {
		sv.publishNotice(event.Event{Kind: event.KindSessionPreview, Data: event.SessionPreviewData{
			SessionID: sessionID,
			Preview:   previewOut,
			Ts:        time.Now().UnixMilli(),
		}})
	}

	sv.runInterpreter(sessionID, tailStr, chunk)

	evt := OutputEvent{SessionID: sessionID, Chunk: chunk, Ts: time.Now().UnixMilli()}
	for _, fn := range subs {
		fn(evt)
	}
	sv.publishNotice(event.Event{Kind: event.KindSessionOutput, Data: event.SessionOutputData{
		SessionID: sessionID,
		Chunk:     chunk,
		Ts:        evt.Ts,
	}})
}

func (sv *Supervisor) runInterpreter(sessionID, tail string, rawChunk []byte) {
	if item, ok := interp.DetectApproval(sessionID, tail); ok && sv.inbox != nil {
		_, _ = sv.inbox.Create(context.Background(), item)
	}

	if assist, ok := interp.DetectMenuAssist(tail); ok {
		if s, err := sv.get(sessionID); err == nil {
			s.mu.Lock()
			changed := s.lastAssistSig != assist.Signature
			s.lastAssistSig = assist.Signature
			s.mu.Unlock()
			if changed {
				sv.publishNotice(event.Event{Kind: event.KindSessionAssist, Data: event.SessionAssistData{
					SessionID: sessionID,
					Assist:    assist,
				}})
			}
		}
	}

	if sv.directives != nil {
		for _, d := range sv.directives.Feed(sessionID, rawChunk, time.Now()) {
			if sv.OnDirective != nil {
				sv.OnDirective(sessionID, d)
			}
		}
	}

	if sv.OnSignal != nil {
		// Question cue takes priority: a worker that just asked something
		// isn't "done" even if stale completion vocabulary lingers in the
		// tail window.
		if interp.HasQuestionCue(tail) {
			sv.OnSignal(sessionID, "question")
		} else if interp.HasCompletionCue(tail) {
			sv.OnSignal(sessionID, "done")
		}
	}
}

func (sv *Supervisor) handleExit(sessionID string, info ptyproc.ExitInfo) {
	s, err := sv.get(sessionID)
	if err != nil {
		return
	}

	if sv.transcript != nil {
		_ = sv.transcript.Flush(sessionID)
	}

	s.mu.Lock()
	s.meta.Running = false
	s.meta.UpdatedAt = time.Now().UnixMilli()
	if info.Signal != "" {
		s.meta.ExitSignal = info.Signal
	} else {
		code := info.Code
		s.meta.ExitCode = &code
	}
	if s.bootstrapTimer != nil {
		s.bootstrapTimer.Stop()
		s.bootstrapTimer = nil
	}
	s.bootstrap = ""
	subs := append([]func(ExitEvent){}, s.exitSubs...)
	meta := s.meta
	s.mu.Unlock()

	if sv.storage != nil {
		_ = sv.storage.Put(context.Background(), []string{"sessions", sessionID}, &meta)
	}
	sv.publish(sessionID, types.EventSessionExit, map[string]any{"exitCode": meta.ExitCode, "exitSignal": meta.ExitSignal})
	sv.publishNotice(event.Event{Kind: event.KindSessionClosed, Data: map[string]any{"sessionID": sessionID}})
	sv.publishNotice(event.Event{Kind: event.KindSessionsChanged, Data: map[string]any{"sessionID": sessionID}})

	evt := ExitEvent{SessionID: sessionID, ExitCode: meta.ExitCode, ExitSignal: meta.ExitSignal}
	for _, fn := range subs {
		fn(evt)
	}

	exitLogger := logging.ForSession(sessionID)
	exitLogger.Info().
		Interface("exitCode", meta.ExitCode).
		Str("exitSignal", meta.ExitSignal).
		Msg("session exited")
	logging.CloseSession(sessionID)
}

// OnOutput subscribes fn to every output chunk broadcast for sessionID.
func (sv *Supervisor) OnOutput(sessionID string, fn func(OutputEvent)) error {
	s, err := sv.get(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.outputSubs = append(s.outputSubs, fn)
	s.mu.Unlock()
	return nil
}

// OnExit subscribes fn to sessionID's exit broadcast.
func (sv *Supervisor) OnExit(sessionID string, fn func(ExitEvent)) error {
	s, err := sv.get(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.exitSubs = append(s.exitSubs, fn)
	s.mu.Unlock()
	return nil
}

// Preview returns a session's last interpreter preview line and the time it
// was last updated. ok is false when no output has been observed yet.
func (sv *Supervisor) Preview(sessionID string) (text string, ts time.Time, ok bool) {
	s, err := sv.get(sessionID)
	if err != nil {
		return "", time.Time{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastPreviewTs.IsZero() {
		return "", time.Time{}, false
	}
	return s.lastPreview, s.lastPreviewTs, true
}

// bootstrapRetryDelay is how long a registered bootstrap waits for
// interpreter activity before the fallback auto-sends it once.
const bootstrapRetryDelay = 2600 * time.Millisecond

// SetBootstrap registers (or replaces) a pending bootstrap-fallback text for
// sessionID, to be prepended at most once by ConsumeBootstrap or by the
// first interactive Write, and arms a one-shot auto-retry that sends the
// text itself if no interpreter activity shows up in time.
func (sv *Supervisor) SetBootstrap(sessionID, text string) {
	s, err := sv.get(sessionID)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.bootstrap = text
	s.bootstrapSent = false
	if s.bootstrapTimer != nil {
		s.bootstrapTimer.Stop()
	}
	s.bootstrapTimer = time.AfterFunc(bootstrapRetryDelay, func() {
		sv.retryBootstrap(sessionID)
	})
	s.mu.Unlock()
}

// retryBootstrap fires once per SetBootstrap: if the session still shows no
// interpreter activity newer than its queue time and the bootstrap was
// never consumed, send it directly.
func (sv *Supervisor) retryBootstrap(sessionID string) {
	s, err := sv.get(sessionID)
	if err != nil {
		return
	}
	s.mu.Lock()
	if s.bootstrap == "" || s.bootstrapSent || s.lastPreviewTs.After(s.queuedAt) {
		s.mu.Unlock()
		return
	}
	s.bootstrapSent = true
	text := s.bootstrap
	s.mu.Unlock()

	if err := sv.Send(context.Background(), sessionID, text); err != nil {
		retryLogger := logging.ForSession(sessionID)
		retryLogger.Warn().Err(err).Msg("bootstrap auto-retry failed")
	}
}

// ConsumeBootstrap returns and clears sessionID's pending bootstrap-fallback
// text, if any and not already consumed. Used by the orchestration engine's
// dispatch step 4 (includeBootstrapIfPresent).
func (sv *Supervisor) ConsumeBootstrap(sessionID string) string {
	s, err := sv.get(sessionID)
	if err != nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bootstrap == "" || s.bootstrapSent {
		return ""
	}
	s.bootstrapSent = true
	return s.bootstrap
}

// Send submits text to a session via whichever transport it uses,
// normalizing pty input to end with a trailing CR (never a bare LF).
func (sv *Supervisor) Send(ctx context.Context, sessionID, text string) error {
	s, err := sv.get(sessionID)
	if err != nil {
		return err
	}
	switch s.meta.Transport {
	case types.TransportPTY:
		return sv.Write(sessionID, []byte(normalizeCR(text)))
	case types.TransportRPC:
		return sv.StartTurn(ctx, sessionID, text)
	}
	return ctlerr.New(ctlerr.CodeUnsupportedTransport, "session %s has unknown transport", sessionID)
}

// normalizeCR ensures text ends with a trailing CR: a trailing LF with no CR
// is replaced, and text with neither gets one appended.
func normalizeCR(text string) string {
	switch {
	case len(text) == 0:
		return "\r"
	case text[len(text)-1] == '\r':
		return text
	case text[len(text)-1] == '\n':
		return text[:len(text)-1] + "\r"
	default:
		return text + "\r"
	}
}

// Status returns a session's current metadata snapshot.
func (sv *Supervisor) Status(sessionID string) (types.Session, error) {
	s, err := sv.get(sessionID)
	if err != nil {
		return types.Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	meta := s.meta
	meta.Running = sv.running(s)
	return meta, nil
}

// List returns every known session's metadata, filtered to directory when
// non-empty, with Running reflecting current in-memory state where the
// session is still live. Sessions that exist only on disk (process exited
// in a prior run) are reported with their last-persisted Running value.
func (sv *Supervisor) List(ctx context.Context, directory string) ([]types.Session, error) {
	if sv.storage == nil {
		return nil, nil
	}
	var out []types.Session
	err := sv.storage.Scan(ctx, []string{"sessions"}, func(key string, data json.RawMessage) error {
		var meta types.Session
		if err := json.Unmarshal(data, &meta); err != nil {
			return nil
		}
		if directory != "" && meta.CWD != directory {
			return nil
		}
		if s, err := sv.get(meta.ID); err == nil {
			s.mu.Lock()
			meta = s.meta
			meta.Running = sv.running(s)
			s.mu.Unlock()
		}
		out = append(out, meta)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ToolSessionIndex looks up the newest candidate tool-native session id
// under cwd, used by LinkToolSession's backoff scan.
type ToolSessionIndex interface {
	NewestSince(ctx context.Context, cwd string, since time.Time, exclude map[string]bool) (id string, updatedAt time.Time, ok bool)
}

// linkScanBackoff paces the tool-session index scan: a 250ms base plus a
// random slice of a 650ms step per attempt, so concurrent spawns don't
// poll the index in lockstep.
type linkScanBackoff struct{}

func (linkScanBackoff) NextBackOff() time.Duration {
	return 250*time.Millisecond + time.Duration(rand.Int63n(int64(650*time.Millisecond)))
}

func (linkScanBackoff) Reset() {}

// LinkToolSession runs a bounded scan of the agent's own session index,
// looking for the newest session under cwd created or updated no earlier
// than 12s before spawnTime, not already linked by another session and not
// present in the pre-spawn snapshot. Up to 30 attempts.
func (sv *Supervisor) LinkToolSession(ctx context.Context, sessionID string, idx ToolSessionIndex, cwd string, spawnTime time.Time, preSpawn map[string]bool) (string, error) {
	linked := map[string]bool{}
	sv.mu.Lock()
	for _, other := range sv.sessions {
		other.mu.Lock()
		if other.meta.ToolSessionID != "" {
			linked[other.meta.ToolSessionID] = true
		}
		other.mu.Unlock()
	}
	sv.mu.Unlock()

	since := spawnTime.Add(-12 * time.Second)

	b := backoff.WithMaxRetries(linkScanBackoff{}, 29)
	var found string

	op := func() error {
		id, _, ok := idx.NewestSince(ctx, cwd, since, linked)
		if !ok || preSpawn[id] || linked[id] {
			return fmt.Errorf("no candidate tool session yet")
		}
		found = id
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return "", ctlerr.New(ctlerr.CodeNoThread, "no tool-native session linked for %s", sessionID)
	}

	s, err := sv.get(sessionID)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.meta.ToolSessionID = found
	s.meta.UpdatedAt = time.Now().UnixMilli()
	meta := s.meta
	s.mu.Unlock()

	sv.publish(sessionID, types.EventSessionToolLink, map[string]any{"toolSessionID": found})
	if sv.storage != nil {
		_ = sv.storage.Put(ctx, []string{"sessions", sessionID}, &meta)
	}

	return found, nil
}
