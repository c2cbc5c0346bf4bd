package router

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIdempotencyCacheRoundtrip(t *testing.T) {
	c := newIdempotencyCache(nil)
	now := time.Now()

	_, ok := c.Lookup(context.Background(), "k1", now)
	require.False(t, ok)

	c.Store(context.Background(), "k1", []byte(`{"a":1}`), now)
	got, ok := c.Lookup(context.Background(), "k1", now)
	require.True(t, ok)
	require.Equal(t, `{"a":1,"cacheKey":"k1"}`, string(got))
}

func TestIdempotencyCacheExpiresAfterTTL(t *testing.T) {
	c := newIdempotencyCache(nil)
	now := time.Now()
	c.Store(context.Background(), "k1", []byte("v"), now)

	_, ok := c.Lookup(context.Background(), "k1", now.Add(25*time.Hour))
	require.False(t, ok)
}

func TestIdempotencyCachePrunesToTrimTarget(t *testing.T) {
	c := newIdempotencyCache(nil)
	now := time.Now()
	for i := 0; i < lruMaxEntries+10; i++ {
		c.Store(context.Background(), fmt.Sprintf("k%d", i), []byte("v"), now)
	}
	require.LessOrEqual(t, c.ll.Len(), lruMaxEntries)
	require.GreaterOrEqual(t, c.ll.Len(), lruTrimTo)

	// Oldest entries were evicted first.
	_, ok := c.Lookup(context.Background(), "k0", now)
	require.False(t, ok)

	last := fmt.Sprintf("k%d", lruMaxEntries+9)
	_, ok = c.Lookup(context.Background(), last, now)
	require.True(t, ok)
}
