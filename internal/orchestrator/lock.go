package orchestrator

import (
	"context"
)

// LockInfo describes the current holder of an orchestration lock, returned
// when acquisition fails because another owner holds it.
type LockInfo struct {
	Owner      string
	AcquiredAt int64
}

// AcquireResult is the outcome of a lock acquisition attempt.
type AcquireResult struct {
	OK    bool
	Owner string   // left empty by acquireLock, including when OK
	Busy  LockInfo // set when !OK
}

// acquireLock claims orchestrationID's advisory lock, returning busy info
// (the holder's owner token and acquisition time) when
// another live owner currently holds it.
func (e *Engine) acquireLock(ctx context.Context, s *orchState) (AcquireResult, error) {
	ok, err := s.lock.Acquire(ctx)
	if err != nil {
		return AcquireResult{}, err
	}
	if !ok {
		owner, acquiredAt, held, infoErr := s.lock.Info(ctx)
		if infoErr != nil {
			return AcquireResult{}, infoErr
		}
		if !held {
			// Raced with a concurrent release: report not acquired, with
			// empty busy info. acquireLock does not retry.
			return AcquireResult{OK: false}, nil
		}
		return AcquireResult{Busy: LockInfo{Owner: owner, AcquiredAt: acquiredAt}}, nil
	}
	return AcquireResult{OK: true}, nil
}

func (e *Engine) releaseLock(ctx context.Context, s *orchState) error {
	return s.lock.Release(ctx)
}
