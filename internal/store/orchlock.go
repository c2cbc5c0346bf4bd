package store

import (
	"context"
	"fmt"
	"time"

	"github.com/fyp-systems/fyp-core/internal/idgen"
)

// orchLockStaleAfter is how long an orchestration lock is honored before a
// new acquirer is allowed to steal it, guarding against a crashed holder
// wedging an orchestration forever.
const orchLockStaleAfter = 30 * time.Minute

// orchLockRecord is the on-disk body of an orchestration advisory lock.
type orchLockRecord struct {
	Owner     string `json:"owner"`
	AcquiredAt int64 `json:"acquiredAt"`
}

// OrchestrationLock is a timestamped advisory lock over one orchestration's
// id, acquired via the metadata Storage so every control-plane process
// (CLI, server) observes the same state. Unlike FileLock it is not held by
// blocking a process for its lifetime: Acquire returns immediately, and
// staleness is judged by wall-clock comparison rather than OS lock release,
// since the holder may be a request handler that already returned.
type OrchestrationLock struct {
	storage *Storage
	path    []string
	owner   string
}

// NewOrchestrationLock returns a lock handle for orchestrationID.
func NewOrchestrationLock(storage *Storage, orchestrationID string) *OrchestrationLock {
	return &OrchestrationLock{
		storage: storage,
		path:    []string{"orchestration-locks", orchestrationID},
		owner:   idgen.NewToken(),
	}
}

// Acquire claims the lock if unheld or stale, returning false if another
// live owner currently holds it.
func (l *OrchestrationLock) Acquire(ctx context.Context) (bool, error) {
	var existing orchLockRecord
	err := l.storage.Get(ctx, l.path, &existing)
	if err != nil && err != ErrNotFound {
		return false, fmt.Errorf("read lock record: %w", err)
	}

	held := err == nil
	if held && time.Since(time.UnixMilli(existing.AcquiredAt)) < orchLockStaleAfter {
		return false, nil
	}

	record := orchLockRecord{Owner: l.owner, AcquiredAt: time.Now().UnixMilli()}
	if err := l.storage.Put(ctx, l.path, &record); err != nil {
		return false, fmt.Errorf("write lock record: %w", err)
	}
	return true, nil
}

// Info reports the current holder of the lock, if any, regardless of
// whether this handle owns it. held is false when no record exists.
func (l *OrchestrationLock) Info(ctx context.Context) (owner string, acquiredAt int64, held bool, err error) {
	var existing orchLockRecord
	err = l.storage.Get(ctx, l.path, &existing)
	if err == ErrNotFound {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, err
	}
	return existing.Owner, existing.AcquiredAt, true, nil
}

// Renew refreshes the lock's timestamp so a long-running holder does not go stale.
func (l *OrchestrationLock) Renew(ctx context.Context) error {
	record := orchLockRecord{Owner: l.owner, AcquiredAt: time.Now().UnixMilli()}
	return l.storage.Put(ctx, l.path, &record)
}

// Release drops the lock if still owned by this handle.
func (l *OrchestrationLock) Release(ctx context.Context) error {
	var existing orchLockRecord
	if err := l.storage.Get(ctx, l.path, &existing); err != nil {
		if err == ErrNotFound {
			return nil
		}
		return err
	}
	if existing.Owner != l.owner {
		return nil
	}
	return l.storage.Delete(ctx, l.path)
}
