package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(t *testing.T, capacity int) (*SemanticCache[string], *fakeClock) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Capacity = capacity
	c := NewSemanticCache[string](cfg)
	clock := newFakeClock()
	c.now = clock.Now
	return c, clock
}

func TestSemanticCache_HitMiss(t *testing.T) {
	c, _ := newTestCache(t, 10)

	c.Set("What is AOMA?", "v", "s")

	t.Run("paraphrase hits exact key", func(t *testing.T) {
		r := c.Lookup("what is aoma", "s")
		assert.Equal(t, MatchExact, r.Kind)
		assert.Equal(t, "v", r.Payload)
		assert.Equal(t, 1.0, r.Score)
		assert.Equal(t, int64(1), r.Entry.HitCount)
		assert.Equal(t, "What is AOMA?", r.Entry.RawQuery)
		assert.Equal(t, "aoma is what", r.Entry.NormalizedQuery)
	})

	t.Run("other strategy misses", func(t *testing.T) {
		_, ok := c.Get("What is AOMA?", "t")
		assert.False(t, ok)
	})

	t.Run("different subject misses", func(t *testing.T) {
		_, ok := c.Get("What is USM?", "s")
		assert.False(t, ok, "jaccard 0.5 is below threshold")
	})
}

func TestSemanticCache_KeyIsStrategyScoped(t *testing.T) {
	assert.NotEqual(t, Key("aoma is what", "rapid"), Key("aoma is what", "deep"))
	assert.Equal(t, Key("aoma is what", "rapid"), Key("aoma is what", "rapid"))
	assert.Len(t, Key("aoma is what", "rapid"), 16)
}

func TestSemanticCache_LRUByUse(t *testing.T) {
	c, _ := newTestCache(t, 3)

	c.Set("alpha", "a", "s")
	c.Set("bravo", "b", "s")
	c.Set("charlie", "c", "s")

	_, ok := c.Get("alpha", "s")
	require.True(t, ok)

	c.Set("delta", "d", "s")

	_, ok = c.Get("bravo", "s")
	assert.False(t, ok, "bravo was least recently used")
	for _, q := range []string{"alpha", "charlie", "delta"} {
		_, ok := c.Get(q, "s")
		assert.True(t, ok, q)
	}
	assert.Equal(t, int64(1), c.Stats().Evictions)
	assert.Equal(t, 3, c.Len())
}

func TestSemanticCache_OverwriteKeepsSlot(t *testing.T) {
	c, clock := newTestCache(t, 2)

	c.Set("alpha", "a1", "s")
	c.Set("bravo", "b", "s")
	_, _ = c.Get("alpha", "s")

	clock.Advance(time.Minute)
	c.Set("ALPHA!", "a2", "s")

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, int64(0), c.Stats().Evictions, "overwrite never evicts")

	r := c.Lookup("alpha", "s")
	require.Equal(t, MatchExact, r.Kind)
	assert.Equal(t, "a2", r.Payload)
	assert.Equal(t, clock.Now(), r.Entry.CreatedAt, "overwrite restarts the lifetime")
	assert.Equal(t, int64(2), r.Entry.HitCount, "hit count is monotonic across overwrites")

	c.Set("charlie", "c", "s")
	_, ok := c.Get("bravo", "s")
	assert.False(t, ok, "overwrite promoted alpha, so bravo is evicted")
}

func TestSemanticCache_TTLExpiry(t *testing.T) {
	c, clock := newTestCache(t, 10)

	c.Set("agentic answer", "a", StrategyAgentic)
	c.Set("rapid answer", "r", StrategyRapid)

	clock.Advance(5*time.Minute - time.Second)
	_, ok := c.Get("agentic answer", StrategyAgentic)
	assert.True(t, ok, "still inside the agentic TTL")

	clock.Advance(time.Second)
	_, ok = c.Get("agentic answer", StrategyAgentic)
	assert.False(t, ok, "entry is stale once age reaches the TTL")
	assert.Equal(t, 1, c.Len(), "stale exact entry removed lazily")

	_, ok = c.Get("rapid answer", StrategyRapid)
	assert.True(t, ok)
}

func TestSemanticCache_PruneExpired(t *testing.T) {
	c, clock := newTestCache(t, 10)

	c.Set("one", "1", StrategyAgentic)
	c.Set("two", "2", StrategyAgentic)
	c.Set("three", "3", StrategyRapid)

	assert.Equal(t, 0, c.PruneExpired())

	clock.Advance(10 * time.Minute)
	assert.Equal(t, 2, c.PruneExpired())
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 0, c.PruneExpired())
}

func TestSemanticCache_SimilarityFallback(t *testing.T) {
	c, _ := newTestCache(t, 10)

	c.Set("How do I upload an asset to AOMA", "upload-aoma", "s")

	r := c.Lookup("how do I upload an asset to DAM", "s")
	require.Equal(t, MatchSimilar, r.Kind)
	assert.Equal(t, "upload-aoma", r.Payload)
	assert.InDelta(t, 7.0/9.0, r.Score, 1e-9)
	assert.Equal(t, int64(1), r.Entry.HitCount)
	assert.Equal(t, 1, c.Len(), "similarity hit does not insert")

	r = c.Lookup("how do I upload an asset to DAM", "other")
	assert.Equal(t, MatchNone, r.Kind, "similarity scan is strategy scoped")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.SimilarityHits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestSemanticCache_PartitionIsolation(t *testing.T) {
	c, _ := newTestCache(t, 10)

	c.SetIn("tenant-a", "How do I upload an asset to AOMA", "a", "s")

	r := c.LookupIn("tenant-b", "How do I upload an asset to AOMA", "s")
	assert.Equal(t, MatchNone, r.Kind, "exact key is partition scoped")
	r = c.LookupIn("tenant-b", "how do I upload an asset to DAM", "s")
	assert.Equal(t, MatchNone, r.Kind, "similarity scan is partition scoped")
	r = c.Lookup("How do I upload an asset to AOMA", "s")
	assert.Equal(t, MatchNone, r.Kind, "default partition is separate")

	c.SetIn("tenant-b", "How do I upload an asset to AOMA", "b", "s")
	assert.Equal(t, 2, c.Len())

	r = c.LookupIn("tenant-a", "How do I upload an asset to AOMA", "s")
	require.Equal(t, MatchExact, r.Kind)
	assert.Equal(t, "a", r.Payload)
	assert.Equal(t, "tenant-a", r.Entry.Partition)

	r = c.LookupIn("tenant-b", "how do I upload an asset to DAM", "s")
	require.Equal(t, MatchSimilar, r.Kind)
	assert.Equal(t, "b", r.Payload)
}

func TestPartitionKey(t *testing.T) {
	assert.Equal(t, Key("aoma is what", "rapid"), partitionKey("", "aoma is what", "rapid"))
	assert.NotEqual(t, partitionKey("a", "aoma is what", "rapid"), partitionKey("b", "aoma is what", "rapid"))
	assert.Len(t, partitionKey("a", "aoma is what", "rapid"), 16)
}

func TestSemanticCache_SimilarityPicksBestMatch(t *testing.T) {
	c, _ := newTestCache(t, 10)

	c.Set("alpha bravo charlie delta echo", "five", "s")
	c.Set("alpha bravo charlie delta", "four", "s")

	r := c.Lookup("alpha bravo charlie delta foxtrot", "s")
	require.Equal(t, MatchSimilar, r.Kind)
	assert.Equal(t, "four", r.Payload)
}

func TestSemanticCache_SimilarityHitNotPromoted(t *testing.T) {
	c, _ := newTestCache(t, 2)

	c.Set("alpha bravo charlie delta", "a", "s")
	c.Set("echo foxtrot", "e", "s")

	r := c.Lookup("alpha bravo charlie delta golf", "s")
	require.Equal(t, MatchSimilar, r.Kind)

	c.Set("hotel", "h", "s")

	_, ok := c.Get("alpha bravo charlie delta", "s")
	assert.False(t, ok, "similarity hit left alpha as least recently used")
}

func TestSemanticCache_StaleEntriesIgnoredBySimilarity(t *testing.T) {
	c, clock := newTestCache(t, 10)

	c.Set("alpha bravo charlie delta", "a", StrategyAgentic)
	clock.Advance(time.Hour)

	_, ok := c.Get("alpha bravo charlie delta golf", StrategyAgentic)
	assert.False(t, ok)
}

func TestSemanticCache_Clear(t *testing.T) {
	c, _ := newTestCache(t, 10)

	c.Set("alpha", "a", "s")
	_, _ = c.Get("alpha", "s")
	c.Clear()

	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("alpha", "s")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Hits, "counters survive Clear")
}

func TestSemanticCache_Stats(t *testing.T) {
	c, _ := newTestCache(t, 5)

	c.Set("alpha", "a", "s")
	_, _ = c.Get("alpha", "s")
	_, _ = c.Get("alpha", "s")
	_, _ = c.Get("bravo", "s")

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 5, stats.Capacity)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)
}

func TestSemanticCache_PanicDuringLookupIsMiss(t *testing.T) {
	c, clock := newTestCache(t, 5)
	c.Set("alpha", "a", "s")

	c.now = func() time.Time { panic("clock failure") }
	r := c.Lookup("alpha", "s")
	assert.Equal(t, MatchNone, r.Kind)

	c.now = clock.Now
	_, ok := c.Get("alpha", "s")
	assert.True(t, ok, "lock released after recovered panic")
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestSemanticCache_DefaultsApplied(t *testing.T) {
	c := NewSemanticCache[int](Config{})
	stats := c.Stats()
	assert.Equal(t, DefaultCapacity, stats.Capacity)
	assert.Equal(t, DefaultSimilarityThreshold, c.threshold)
}

func TestSemanticCache_Concurrent(t *testing.T) {
	c, _ := newTestCache(t, 20)

	const workers = 16
	const perWorker = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				q := fmt.Sprintf("query %d", (w*perWorker+i)%50)
				if i%3 == 0 {
					c.Set(q, q, "s")
				} else {
					_, _ = c.Get(q, "s")
				}
				if i%50 == 0 {
					_ = c.Stats()
				}
			}
		}(w)
	}
	wg.Wait()

	stats := c.Stats()
	lookups := int64(0)
	for i := 0; i < perWorker; i++ {
		if i%3 != 0 {
			lookups++
		}
	}
	assert.Equal(t, lookups*workers, stats.Hits+stats.Misses)
	assert.LessOrEqual(t, stats.Size, 20)
}
