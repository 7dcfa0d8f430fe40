package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xai-tools/grok-mcp/internal/storage"
)

func newTestCache(t *testing.T, capacity int, onEvict func(id string)) (*cache, *storage.Store) {
	t.Helper()
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	return newCache(capacity, store, time.Now, onEvict), store
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	c, store := newTestCache(t, 2, func(id string) { evicted = append(evicted, id) })
	ctx := context.Background()

	c.insert(ctx, &Session{ID: "a", Status: StatusPaused})
	c.insert(ctx, &Session{ID: "b", Status: StatusPaused})

	// Touch "a" so "b" becomes the oldest.
	require.NotNil(t, c.lookup("a"))

	c.insert(ctx, &Session{ID: "c", Status: StatusPaused})

	assert.Equal(t, []string{"b"}, evicted)
	assert.Equal(t, 2, c.len())
	assert.Nil(t, c.peek("b"))
	assert.NotNil(t, c.peek("a"))
	assert.NotNil(t, c.peek("c"))

	// The victim was flushed before leaving memory.
	var flushed Session
	require.NoError(t, store.Load(ctx, "b", &flushed))
	assert.Equal(t, "b", flushed.ID)
}

func TestCacheSkipsEntriesMidGeneration(t *testing.T) {
	var evicted []string
	c, _ := newTestCache(t, 2, func(id string) { evicted = append(evicted, id) })
	ctx := context.Background()

	a := c.insert(ctx, &Session{ID: "a", Status: StatusActive})
	c.insert(ctx, &Session{ID: "b", Status: StatusActive})

	// "a" is the LRU entry but is mid-generation; "b" goes instead.
	a.genMu.Lock()
	defer a.genMu.Unlock()
	c.insert(ctx, &Session{ID: "c", Status: StatusActive})

	assert.Equal(t, []string{"b"}, evicted)
	assert.NotNil(t, c.peek("a"))
}

func TestCacheInsertExistingKeepsEntry(t *testing.T) {
	c, _ := newTestCache(t, 4, nil)
	ctx := context.Background()

	first := c.insert(ctx, &Session{ID: "a", Topic: "original"})
	second := c.insert(ctx, &Session{ID: "a", Topic: "imposter"})

	assert.Same(t, first, second)
	assert.Equal(t, "original", second.session.Topic)
	assert.Equal(t, 1, c.len())
}

func TestCacheIdleEntries(t *testing.T) {
	c, _ := newTestCache(t, 10, nil)
	ctx := context.Background()

	c.insert(ctx, &Session{ID: "busy", Status: StatusActive})
	c.insert(ctx, &Session{ID: "stale", Status: StatusPaused})
	c.insert(ctx, &Session{ID: "done", Status: StatusCompleted})

	// Everything is idle relative to a future cutoff, but active sessions
	// are never reported.
	ids := c.idleEntries(time.Now().Add(time.Minute))
	assert.ElementsMatch(t, []string{"stale", "done"}, ids)

	assert.Empty(t, c.idleEntries(time.Now().Add(-time.Minute)))
}

func TestCacheIdleEntriesSkipsMidGeneration(t *testing.T) {
	c, _ := newTestCache(t, 10, nil)
	ctx := context.Background()

	busy := c.insert(ctx, &Session{ID: "busy", Status: StatusPaused})
	c.insert(ctx, &Session{ID: "stale", Status: StatusPaused})

	// An entry whose generation lock is held is in use, not idle.
	busy.genMu.Lock()
	defer busy.genMu.Unlock()

	ids := c.idleEntries(time.Now().Add(time.Minute))
	assert.ElementsMatch(t, []string{"stale"}, ids)
}
