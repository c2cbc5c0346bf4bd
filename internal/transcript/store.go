// Package transcript implements a sqlite-backed, per-session append-only
// log of output chunks and typed
// events, with in-memory write batching so bursty subprocess output does
// not serialize one sqlite transaction per chunk. Grounded on the pack's
// sqlite storage layer (mote's internal/storage), adapted from a chat
// history/session store into a byte-chunk-and-event transcript.
package transcript

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/fyp-systems/fyp-core/pkg/types"
)

const (
	flushBytesThreshold = 96 * 1024
	flushCountThreshold = 120
	flushDelay          = 90 * time.Millisecond
)

// Store is the sqlite-backed transcript store.
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	buffers map[string]*sessionBuffer
}

type bufferedChunk struct {
	data []byte
	ts   int64
}

type sessionBuffer struct {
	mu     sync.Mutex
	chunks []bufferedChunk
	bytes  int
	timer  *time.Timer
}

// Open opens (creating if absent) the sqlite database at path and applies
// pending migrations.
func Open(path string) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, buffers: make(map[string]*sessionBuffer)}, nil
}

// Close flushes every buffered session and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	sessionIDs := make([]string, 0, len(s.buffers))
	for id := range s.buffers {
		sessionIDs = append(sessionIDs, id)
	}
	s.mu.Unlock()

	for _, id := range sessionIDs {
		if err := s.Flush(id); err != nil {
			return err
		}
	}
	return s.db.Close()
}

func (s *Store) bufferFor(sessionID string) *sessionBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buffers[sessionID]
	if !ok {
		b = &sessionBuffer{}
		s.buffers[sessionID] = b
	}
	return b
}

// AppendOutput buffers chunk for sessionID, flushing immediately if the
// buffer crosses the byte or count threshold, and otherwise arming a 90 ms
// timer from the first buffered chunk so output is never held indefinitely.
func (s *Store) AppendOutput(sessionID string, chunk []byte) error {
	b := s.bufferFor(sessionID)

	b.mu.Lock()
	first := len(b.chunks) == 0
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	b.chunks = append(b.chunks, bufferedChunk{data: cp, ts: time.Now().UnixMilli()})
	b.bytes += len(cp)

	overThreshold := b.bytes > flushBytesThreshold || len(b.chunks) > flushCountThreshold
	if first && !overThreshold {
		b.timer = time.AfterFunc(flushDelay, func() { _ = s.Flush(sessionID) })
	}
	b.mu.Unlock()

	if overThreshold {
		return s.Flush(sessionID)
	}
	return nil
}

// Flush durably writes sessionID's buffered output chunks. After Flush
// returns, all previously accepted output is readable via GetTranscript.
func (s *Store) Flush(sessionID string) error {
	b := s.bufferFor(sessionID)

	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	pending := b.chunks
	b.chunks = nil
	b.bytes = 0
	b.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin flush tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT INTO transcript_chunks (session_id, ts, data) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range pending {
		if _, err := stmt.Exec(sessionID, c.ts, c.data); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}

	return tx.Commit()
}

// AppendEvent records a typed event for sessionID and returns its
// monotonic-per-session id.
func (s *Store) AppendEvent(ctx context.Context, sessionID string, kind types.EventKind, data any) (int64, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("marshal event data: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin event tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var nextSeq int64
	row := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM session_events WHERE session_id = ?`, sessionID)
	if err := row.Scan(&nextSeq); err != nil {
		return 0, fmt.Errorf("compute next seq: %w", err)
	}

	ts := time.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx, `INSERT INTO session_events (session_id, seq, ts, kind, data) VALUES (?, ?, ?, ?, ?)`,
		sessionID, nextSeq, ts, string(kind), string(payload)); err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit event tx: %w", err)
	}

	return nextSeq, nil
}

// Page is a page of transcript chunks or events, oldest first.
type Page[T any] struct {
	Items      []T
	NextCursor string
}

// PageOptions bounds a GetTranscript/GetEvents call.
type PageOptions struct {
	Limit  int
	Cursor string
}

// GetTranscript returns a page of sessionID's output chunks, oldest first,
// flushing any buffered output first so the page reflects everything
// accepted before the call.
func (s *Store) GetTranscript(ctx context.Context, sessionID string, opts PageOptions) (Page[types.TranscriptChunk], error) {
	if err := s.Flush(sessionID); err != nil {
		return Page[types.TranscriptChunk]{}, err
	}

	limit := normalizeTranscriptLimit(opts.Limit)
	afterID, err := decodeCursor(opts.Cursor)
	if err != nil {
		return Page[types.TranscriptChunk]{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, data FROM transcript_chunks WHERE session_id = ? AND id > ? ORDER BY id ASC LIMIT ?`,
		sessionID, afterID, limit+1)
	if err != nil {
		return Page[types.TranscriptChunk]{}, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var items []types.TranscriptChunk
	for rows.Next() {
		var c types.TranscriptChunk
		c.SessionID = sessionID
		if err := rows.Scan(&c.ID, &c.Ts, &c.Chunk); err != nil {
			return Page[types.TranscriptChunk]{}, fmt.Errorf("scan chunk: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return Page[types.TranscriptChunk]{}, err
	}

	return paginate(items, limit, func(c types.TranscriptChunk) int64 { return c.ID }), nil
}

// GetEvents returns a page of sessionID's events, oldest first.
func (s *Store) GetEvents(ctx context.Context, sessionID string, opts PageOptions) (Page[types.Event], error) {
	limit := normalizeEventLimit(opts.Limit)
	afterID, err := decodeCursor(opts.Cursor)
	if err != nil {
		return Page[types.Event]{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, seq, ts, kind, data FROM session_events WHERE session_id = ? AND id > ? ORDER BY id ASC LIMIT ?`,
		sessionID, afterID, limit+1)
	if err != nil {
		return Page[types.Event]{}, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var items []types.Event
	var cursorIDs []int64
	for rows.Next() {
		var rowID int64
		var kind, data string
		e := types.Event{SessionID: sessionID}
		if err := rows.Scan(&rowID, &e.ID, &e.Ts, &kind, &data); err != nil {
			return Page[types.Event]{}, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = types.EventKind(kind)
		var payload any
		if err := json.Unmarshal([]byte(data), &payload); err == nil {
			e.Data = payload
		}
		items = append(items, e)
		cursorIDs = append(cursorIDs, rowID)
	}
	if err := rows.Err(); err != nil {
		return Page[types.Event]{}, err
	}

	if len(items) > limit {
		return Page[types.Event]{Items: items[:limit], NextCursor: encodeCursor(cursorIDs[limit-1])}, nil
	}
	return Page[types.Event]{Items: items}, nil
}

// GetLatestEvent returns the most recent event of kind for sessionID, or
// ok=false if none exists.
func (s *Store) GetLatestEvent(ctx context.Context, sessionID string, kind types.EventKind) (types.Event, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT seq, ts, data FROM session_events WHERE session_id = ? AND kind = ? ORDER BY seq DESC LIMIT 1`,
		sessionID, string(kind))

	var data string
	e := types.Event{SessionID: sessionID, Kind: kind}
	if err := row.Scan(&e.ID, &e.Ts, &data); err != nil {
		if err == sql.ErrNoRows {
			return types.Event{}, false, nil
		}
		return types.Event{}, false, fmt.Errorf("scan latest event: %w", err)
	}

	var payload any
	if err := json.Unmarshal([]byte(data), &payload); err == nil {
		e.Data = payload
	}
	return e, true, nil
}

// Transcript read limits clamp to [50, 2000], event limits to [20, 500] -
// distinct bounds per entity type.
const (
	transcriptLimitDefault = 200
	transcriptLimitMin     = 50
	transcriptLimitMax     = 2000

	eventLimitDefault = 50
	eventLimitMin      = 20
	eventLimitMax      = 500
)

func clampLimit(limit, def, min, max int) int {
	if limit <= 0 {
		return def
	}
	if limit < min {
		return min
	}
	if limit > max {
		return max
	}
	return limit
}

func normalizeTranscriptLimit(limit int) int {
	return clampLimit(limit, transcriptLimitDefault, transcriptLimitMin, transcriptLimitMax)
}

func normalizeEventLimit(limit int) int {
	return clampLimit(limit, eventLimitDefault, eventLimitMin, eventLimitMax)
}

func paginate[T any](items []T, limit int, idOf func(T) int64) Page[T] {
	if len(items) > limit {
		last := items[limit-1]
		return Page[T]{Items: items[:limit], NextCursor: encodeCursor(idOf(last))}
	}
	return Page[T]{Items: items}
}

func encodeCursor(id int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(id, 10)))
}

func decodeCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("decode cursor: %w", err)
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode cursor: %w", err)
	}
	return id, nil
}
