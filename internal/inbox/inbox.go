// Package inbox implements the attention inbox: a
// deduplicated, signatured store of pending decisions extracted from agent
// output, with create-or-update dedup, terminal status transitions, and
// delivery of a chosen option's effect back into the originating session.
// State is held in mutex-guarded per-session maps with event-bus broadcast
// on resolution, generalized from single-permission-prompt gating to the
// full AttentionItem model (arbitrary option sets, nested follow-up
// questions, pluggable delivery mechanisms).
package inbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fyp-systems/fyp-core/internal/ctlerr"
	"github.com/fyp-systems/fyp-core/internal/event"
	"github.com/fyp-systems/fyp-core/internal/idgen"
	"github.com/fyp-systems/fyp-core/internal/store"
	"github.com/fyp-systems/fyp-core/pkg/types"
)

// Deliverer resolves a chosen AttentionOption's effect against the session
// that raised the item: typing a key sequence into a pty, posting a
// structured decision for an external hook bridge to poll, or sending an
// RPC reply through the rpc transport. Exactly one method is called per
// respond, matching whichever field the option set.
type Deliverer interface {
	DeliverKeySequence(ctx context.Context, sessionID, keys string) error
	DeliverDecision(ctx context.Context, sessionID string, decision map[string]any) error
	DeliverRPCReply(ctx context.Context, sessionID string, reply map[string]any) error
}

// EventLog persists typed per-session events; *transcript.Store satisfies it.
type EventLog interface {
	AppendEvent(ctx context.Context, sessionID string, kind types.EventKind, data any) (int64, error)
}

// Inbox tracks attention items in memory, persists them to storage for
// durability across restarts, and serializes respond/dismiss against
// concurrent re-detections of the same signature by locking per sessionId.
//
// OnChange, if set, is called after every create/respond/dismiss so the
// Control Surface can forward an "inbox.changed" notice on its global SSE
// channel. Events, if set, records the inbox.respond/inbox.dismiss audit
// events on the session's own event log in addition to the bus broadcast.
type Inbox struct {
	storage   *store.Storage
	deliverer Deliverer
	bus       *event.Bus
	OnChange  func(sessionID string)
	Events    EventLog

	mu       sync.Mutex
	sessions map[string]*sessionState
}

type sessionState struct {
	mu       sync.Mutex
	byID     map[string]*types.AttentionItem
	openSig  map[string]string // signature -> id, open items only
	nextSeq  int64
}

// New returns an Inbox backed by storage for persistence, deliverer for
// resolving responses, and bus for change broadcasts.
func New(storage *store.Storage, deliverer Deliverer, bus *event.Bus) *Inbox {
	return &Inbox{
		storage:   storage,
		deliverer: deliverer,
		bus:       bus,
		sessions:  make(map[string]*sessionState),
	}
}

// SetDeliverer (re)assigns the Deliverer after construction, for callers
// whose Deliverer (the Session Supervisor) itself needs a constructed Inbox
// to be built.
func (ib *Inbox) SetDeliverer(deliverer Deliverer) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	ib.deliverer = deliverer
}

func (ib *Inbox) session(sessionID string) *sessionState {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	s, ok := ib.sessions[sessionID]
	if !ok {
		s = &sessionState{
			byID:    make(map[string]*types.AttentionItem),
			openSig: make(map[string]string),
		}
		ib.sessions[sessionID] = s
	}
	return s
}

// CreateResult reports whether Create found an existing open item.
type CreateResult struct {
	ID      string
	Created bool
}

// Create inserts a new open item. If an open item with the same
// (sessionID, signature) already exists, it updates that item's
// title/body/options in place and returns the existing id instead of
// creating a duplicate.
func (ib *Inbox) Create(ctx context.Context, item types.AttentionItem) (CreateResult, error) {
	if item.SessionID == "" || item.Signature == "" {
		return CreateResult{}, ctlerr.New(ctlerr.CodeBadID, "attention item requires sessionId and signature")
	}

	s := ib.session(item.SessionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.openSig[item.Signature]; ok {
		existing := s.byID[existingID]
		existing.Title = item.Title
		existing.Body = item.Body
		existing.Options = item.Options
		if err := ib.persist(ctx, existing); err != nil {
			return CreateResult{}, err
		}
		ib.broadcast(item.SessionID)
		return CreateResult{ID: existingID, Created: false}, nil
	}

	id := idgen.NewID()
	item.ID = id
	item.Status = types.AttentionOpen
	item.CreatedAt = time.Now().UnixMilli()
	s.nextSeq++
	item.Seq = s.nextSeq

	stored := item
	s.byID[id] = &stored
	s.openSig[item.Signature] = id

	if err := ib.persist(ctx, &stored); err != nil {
		delete(s.byID, id)
		delete(s.openSig, item.Signature)
		return CreateResult{}, err
	}

	ib.broadcast(item.SessionID)
	return CreateResult{ID: id, Created: true}, nil
}

// Respond resolves item id by delivering the chosen option's effect, then
// transitions the item to status sent. When the option carries a
// NextQuestion and the request has further questions pending, it mutates
// the item in place to present the next question instead of resolving;
// only the final question triggers the RPC response.
func (ib *Inbox) Respond(ctx context.Context, sessionID, id, optionID, source string, meta map[string]any) (types.AttentionStatus, error) {
	s := ib.session(sessionID)
	s.mu.Lock()
	item, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return "", ctlerr.New(ctlerr.CodeAttentionItemNotFound, "attention item %s not found", id)
	}

	if item.Status != types.AttentionOpen {
		status := item.Status
		s.mu.Unlock()
		return status, nil
	}

	var chosen *types.AttentionOption
	for i := range item.Options {
		if item.Options[i].ID == optionID {
			chosen = &item.Options[i]
			break
		}
	}
	if chosen == nil {
		s.mu.Unlock()
		return "", ctlerr.New(ctlerr.CodeBadID, "option %s not found on item %s", optionID, id)
	}

	if chosen.NextQuestion != nil {
		nq := chosen.NextQuestion
		item.Title = nq.Title
		item.Body = nq.Body
		item.Options = nq.Options
		s.mu.Unlock()

		if err := ib.persist(ctx, item); err != nil {
			return "", err
		}
		ib.broadcast(sessionID)
		return types.AttentionOpen, nil
	}

	s.mu.Unlock()

	if err := ib.deliver(ctx, sessionID, *chosen); err != nil {
		return "", ctlerr.Wrap(ctlerr.CodeDeliverFailed, err)
	}

	s.mu.Lock()
	item.Status = types.AttentionSent
	delete(s.openSig, item.Signature)
	s.mu.Unlock()

	if err := ib.persist(ctx, item); err != nil {
		return "", err
	}

	ib.publish(event.Event{Kind: types.EventInboxRespond, Data: event.InboxItemData{Item: item}})
	ib.appendAudit(ctx, sessionID, types.EventInboxRespond, map[string]any{
		"itemId": id, "optionId": optionID, "source": source, "meta": meta,
	})
	ib.broadcast(sessionID)
	return types.AttentionSent, nil
}

func (ib *Inbox) appendAudit(ctx context.Context, sessionID string, kind types.EventKind, data any) {
	if ib.Events == nil {
		return
	}
	_, _ = ib.Events.AppendEvent(ctx, sessionID, kind, data)
}

func (ib *Inbox) deliver(ctx context.Context, sessionID string, opt types.AttentionOption) error {
	if ib.deliverer == nil {
		return nil
	}
	switch {
	case opt.KeySequence != "":
		return ib.deliverer.DeliverKeySequence(ctx, sessionID, opt.KeySequence)
	case opt.Decision != nil:
		return ib.deliverer.DeliverDecision(ctx, sessionID, opt.Decision)
	case opt.RPCReply != nil:
		return ib.deliverer.DeliverRPCReply(ctx, sessionID, opt.RPCReply)
	}
	return nil
}

// FindBySeq returns the sessionID and id of the open item carrying
// sequence number seq, scanning every tracked session. Used to resolve
// FYP_ANSWER_QUESTION_JSON's numeric attentionId field back to an item.
func (ib *Inbox) FindBySeq(seq int64) (sessionID, id string, ok bool) {
	ib.mu.Lock()
	sessionIDs := make([]string, 0, len(ib.sessions))
	for sid := range ib.sessions {
		sessionIDs = append(sessionIDs, sid)
	}
	ib.mu.Unlock()

	for _, sid := range sessionIDs {
		s := ib.session(sid)
		s.mu.Lock()
		for itemID, item := range s.byID {
			if item.Seq == seq && item.Status == types.AttentionOpen {
				s.mu.Unlock()
				return sid, itemID, true
			}
		}
		s.mu.Unlock()
	}
	return "", "", false
}

// FindByID returns the sessionID owning item id, scanning every tracked
// session. Used by endpoints that address an item by id alone.
func (ib *Inbox) FindByID(id string) (sessionID string, ok bool) {
	ib.mu.Lock()
	sessionIDs := make([]string, 0, len(ib.sessions))
	for sid := range ib.sessions {
		sessionIDs = append(sessionIDs, sid)
	}
	ib.mu.Unlock()

	for _, sid := range sessionIDs {
		s := ib.session(sid)
		s.mu.Lock()
		_, found := s.byID[id]
		s.mu.Unlock()
		if found {
			return sid, true
		}
	}
	return "", false
}

// Dismiss transitions item id to status dismissed without delivering any
// effect. Double-resolve (item already terminal) is a no-op returning the
// current status.
func (ib *Inbox) Dismiss(ctx context.Context, sessionID, id, source string, meta map[string]any) (types.AttentionStatus, error) {
	s := ib.session(sessionID)
	s.mu.Lock()
	item, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return "", ctlerr.New(ctlerr.CodeAttentionItemNotFound, "attention item %s not found", id)
	}
	if item.Status != types.AttentionOpen {
		status := item.Status
		s.mu.Unlock()
		return status, nil
	}
	item.Status = types.AttentionDismissed
	delete(s.openSig, item.Signature)
	s.mu.Unlock()

	if err := ib.persist(ctx, item); err != nil {
		return "", err
	}

	ib.publish(event.Event{Kind: types.EventInboxDismiss, Data: event.InboxItemData{Item: item}})
	ib.appendAudit(ctx, sessionID, types.EventInboxDismiss, map[string]any{
		"itemId": id, "source": source, "meta": meta,
	})
	ib.broadcast(sessionID)
	return types.AttentionDismissed, nil
}

// ListOptions filters List.
type ListOptions struct {
	Limit     int
	SessionID string
}

// List returns open items, newest first, optionally restricted to one
// session and capped at Limit (0 means unlimited).
func (ib *Inbox) List(opts ListOptions) []types.AttentionItem {
	ib.mu.Lock()
	var sessionIDs []string
	if opts.SessionID != "" {
		sessionIDs = []string{opts.SessionID}
	} else {
		for sid := range ib.sessions {
			sessionIDs = append(sessionIDs, sid)
		}
	}
	ib.mu.Unlock()

	var out []types.AttentionItem
	for _, sid := range sessionIDs {
		s := ib.session(sid)
		s.mu.Lock()
		for _, id := range s.openSig {
			out = append(out, *s.byID[id])
		}
		s.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })

	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

// OpenCounts returns the number of open items per sessionId.
func (ib *Inbox) OpenCounts() map[string]int {
	ib.mu.Lock()
	sessionIDs := make([]string, 0, len(ib.sessions))
	for sid := range ib.sessions {
		sessionIDs = append(sessionIDs, sid)
	}
	ib.mu.Unlock()

	counts := make(map[string]int)
	for _, sid := range sessionIDs {
		s := ib.session(sid)
		s.mu.Lock()
		if n := len(s.openSig); n > 0 {
			counts[sid] = n
		}
		s.mu.Unlock()
	}
	return counts
}

func (ib *Inbox) persist(ctx context.Context, item *types.AttentionItem) error {
	if ib.storage == nil {
		return nil
	}
	return ib.storage.Put(ctx, []string{"attention", item.SessionID, item.ID}, item)
}

func (ib *Inbox) publish(e event.Event) {
	if ib.bus != nil {
		ib.bus.Publish(e)
	} else {
		event.Publish(e)
	}
}

func (ib *Inbox) broadcast(sessionID string) {
	if ib.OnChange != nil {
		ib.OnChange(sessionID)
	}
}
