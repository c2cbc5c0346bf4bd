// Package idgen centralizes opaque ID generation. Entity IDs use ulid
// (lexically sortable); ephemeral coordination tokens (locks, worktree
// suffixes) use google/uuid.
package idgen

import (
	"crypto/rand"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID returns a new monotonic ULID string.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewToken returns a new random UUID string, for lock owners and worktree
// directory suffixes where sortability is not needed.
func NewToken() string {
	return uuid.NewString()
}

// JitterMs returns a uniform random duration in [0, maxMs) milliseconds,
// used by backoff/jitter calculations that cannot use math/rand directly
// (kept deterministic-seed-free via crypto/rand).
func JitterMs(maxMs int64) int64 {
	if maxMs <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(maxMs))
	if err != nil {
		return 0
	}
	return n.Int64()
}
