package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/ragcache/internal/profile"
)

type answer struct {
	Text    string   `json:"text"`
	Sources []string `json:"sources"`
}

func newTestDurable(t *testing.T) (*miniredis.Miniredis, *DurableCache[answer]) {
	t.Helper()
	mr := miniredis.RunT(t)

	store, err := NewRedisStore(context.Background(), &RemoteConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := DefaultDurableConfig()
	cfg.OpTimeout = 500 * time.Millisecond
	return mr, NewDurableCache[answer](store, cfg)
}

func TestDurableCache_SetGet(t *testing.T) {
	_, c := newTestDurable(t)
	ctx := context.Background()
	scope := Scope{TenantID: "sony", DivisionID: "music", ApplicationID: "aoma"}
	want := answer{Text: "Open the upload page", Sources: []string{"kb/upload.md"}}

	before := time.Now().UTC()
	require.NoError(t, c.Set(ctx, "How do I upload an asset?", want, scope))

	record, err := c.Get(ctx, "upload an asset how do I?", scope)
	require.NoError(t, err)
	assert.Equal(t, want, record.Value)
	assert.Equal(t, c.Key("How do I upload an asset?", scope), record.Key)
	assert.Contains(t, record.Key, DefaultNamespace)
	assert.False(t, record.CachedAt.Before(before.Truncate(time.Second)))
	assert.Less(t, record.Age(time.Now()), time.Minute)

	stats := c.Stats(ctx)
	assert.True(t, stats.Available)
	assert.Equal(t, int64(1), stats.KeyCount)
	assert.Equal(t, int64(1), stats.Hits)
}

func TestDurableCache_Miss(t *testing.T) {
	_, c := newTestDurable(t)

	record, err := c.Get(context.Background(), "never stored", Scope{})
	assert.Nil(t, record)
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Equal(t, int64(1), c.Stats(context.Background()).Misses)
}

func TestDurableCache_ScopeIsolation(t *testing.T) {
	_, c := newTestDurable(t)
	ctx := context.Background()

	a := Scope{TenantID: "tenant-a", ApplicationID: "aoma"}
	b := Scope{TenantID: "tenant-b", ApplicationID: "aoma"}

	require.NoError(t, c.Set(ctx, "What is AOMA?", answer{Text: "for a"}, a))

	_, err := c.Get(ctx, "What is AOMA?", b)
	assert.ErrorIs(t, err, ErrCacheMiss)

	record, err := c.Get(ctx, "what is aoma", a)
	require.NoError(t, err)
	assert.Equal(t, "for a", record.Value.Text)

	assert.NotEqual(t, c.Key("What is AOMA?", a), c.Key("What is AOMA?", b))
}

func TestDurableCache_TTLTiers(t *testing.T) {
	mr, c := newTestDurable(t)
	ctx := context.Background()

	static := Scope{TenantID: "t"}
	session := Scope{TenantID: "t", SessionID: "conv-42"}

	require.NoError(t, c.Set(ctx, "static question", answer{Text: "s"}, static))
	require.NoError(t, c.Set(ctx, "session question", answer{Text: "c"}, session))

	assert.Equal(t, time.Hour, mr.TTL(c.Key("static question", static)))
	assert.Equal(t, 5*time.Minute, mr.TTL(c.Key("session question", session)))

	mr.FastForward(6 * time.Minute)
	_, err := c.Get(ctx, "session question", session)
	assert.ErrorIs(t, err, ErrCacheMiss, "session tier expired")
	_, err = c.Get(ctx, "static question", static)
	assert.NoError(t, err)
}

func TestDurableCache_SessionDoesNotChangeKey(t *testing.T) {
	_, c := newTestDurable(t)
	assert.Equal(t,
		c.Key("q", Scope{TenantID: "t"}),
		c.Key("q", Scope{TenantID: "t", SessionID: "s"}),
	)
}

func TestDurableCache_InvalidateAll(t *testing.T) {
	mr, c := newTestDurable(t)
	ctx := context.Background()

	for _, q := range []string{"alpha", "bravo", "charlie"} {
		require.NoError(t, c.Set(ctx, q, answer{Text: q}, Scope{}))
	}
	require.NoError(t, mr.Set("other:key", "untouched"))

	removed, err := c.Invalidate(ctx, InvalidateAll)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.True(t, mr.Exists("other:key"), "keys outside the namespace survive")
	assert.Equal(t, int64(0), c.Stats(ctx).KeyCount)
}

func TestDurableCache_InvalidatePrefix(t *testing.T) {
	mr, c := newTestDurable(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(DefaultNamespace+"abc1", "{}"))
	require.NoError(t, mr.Set(DefaultNamespace+"abc2", "{}"))
	require.NoError(t, mr.Set(DefaultNamespace+"zzz1", "{}"))

	removed, err := c.Invalidate(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	removed, err = c.Invalidate(ctx, DefaultNamespace+"zzz")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	removed, err = c.Invalidate(ctx, "nothing-here")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestDurableCache_InvalidatePrefixIsLiteral(t *testing.T) {
	mr, c := newTestDurable(t)
	ctx := context.Background()

	require.NoError(t, mr.Set(DefaultNamespace+"a*b1", "{}"))
	require.NoError(t, mr.Set(DefaultNamespace+"axb2", "{}"))
	require.NoError(t, mr.Set(DefaultNamespace+`q[1]\?`, "{}"))
	require.NoError(t, mr.Set(DefaultNamespace+"q1x", "{}"))

	removed, err := c.Invalidate(ctx, "a*b")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.True(t, mr.Exists(DefaultNamespace+"axb2"))

	removed, err = c.Invalidate(ctx, `q[1]\?`)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.True(t, mr.Exists(DefaultNamespace+"q1x"))
}

func TestDurableCache_MatchPattern(t *testing.T) {
	c := NewDurableCache[answer](nil, DefaultDurableConfig())

	assert.Equal(t, "rag:query:*", c.matchPattern(""))
	assert.Equal(t, "rag:query:*", c.matchPattern(InvalidateAll))
	assert.Equal(t, "rag:query:abc*", c.matchPattern("abc"))
	assert.Equal(t, "rag:query:abc*", c.matchPattern("rag:query:abc"))
	assert.Equal(t, `rag:query:a\*b\?\[c\]\\*`, c.matchPattern(`a*b?[c]\`))
}

func TestDurableCache_CorruptRecordIsMiss(t *testing.T) {
	mr, c := newTestDurable(t)
	ctx := context.Background()

	key := c.Key("broken", Scope{})
	require.NoError(t, mr.Set(key, "not json"))

	_, err := c.Get(ctx, "broken", Scope{})
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Equal(t, int64(1), c.Stats(ctx).Errors)
}

func TestDurableCache_Unconfigured(t *testing.T) {
	c := NewDurableCache[answer](nil, DefaultDurableConfig())
	ctx := context.Background()

	assert.False(t, c.Enabled())

	_, err := c.Get(ctx, "q", Scope{})
	assert.ErrorIs(t, err, ErrCacheUnavailable)
	assert.ErrorIs(t, c.Set(ctx, "q", answer{}, Scope{}), ErrCacheUnavailable)

	removed, err := c.Invalidate(ctx, InvalidateAll)
	assert.Equal(t, 0, removed)
	assert.ErrorIs(t, err, ErrCacheUnavailable)

	stats := c.Stats(ctx)
	assert.False(t, stats.Available)
	assert.Zero(t, stats.KeyCount)
	assert.NoError(t, c.Close())
}

func TestDurableCache_StoreOutage(t *testing.T) {
	mr, c := newTestDurable(t)
	ctx := context.Background()

	mr.SetError("ERR simulated outage")

	_, err := c.Get(ctx, "q", Scope{})
	assert.ErrorIs(t, err, ErrCacheUnavailable)
	assert.ErrorIs(t, c.Set(ctx, "q", answer{}, Scope{}), ErrCacheUnavailable)
	assert.False(t, c.Stats(ctx).Available)

	mr.SetError("")
	_, err = c.Get(ctx, "q", Scope{})
	assert.ErrorIs(t, err, ErrCacheMiss, "recovers once the store answers again")
}

// flakyStore is an in-memory RemoteStore with injectable failures.
type flakyStore struct {
	mu       sync.Mutex
	data     map[string][]byte
	calls    int
	getErr   error
	delErr   error
	delCalls int
	failDel  int // fail the Nth Del call (1-based), 0 never
}

func newFlakyStore() *flakyStore {
	return &flakyStore{data: make(map[string][]byte)}
}

func (f *flakyStore) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	v, ok := f.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return v, nil
}

func (f *flakyStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.data[key] = value
	return nil
}

// Scan returns one fixed key per page.
func (f *flakyStore) Scan(_ context.Context, cursor uint64, _ string, _ int64) ([]string, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	keys := []string{DefaultNamespace + "k1", DefaultNamespace + "k2", DefaultNamespace + "k3"}
	if int(cursor) >= len(keys) {
		return nil, 0, nil
	}
	next := cursor + 1
	if int(next) == len(keys) {
		next = 0
	}
	return []string{keys[cursor]}, next, nil
}

func (f *flakyStore) Del(_ context.Context, keys ...string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.delCalls++
	if f.failDel == f.delCalls {
		return 0, f.delErr
	}
	return int64(len(keys)), nil
}

func (f *flakyStore) Ping(context.Context) error { return nil }
func (f *flakyStore) Close() error               { return nil }

func TestDurableCache_PartialInvalidation(t *testing.T) {
	store := newFlakyStore()
	store.failDel = 2
	store.delErr = errors.New("connection reset")
	c := NewDurableCache[answer](store, DefaultDurableConfig())

	removed, err := c.Invalidate(context.Background(), InvalidateAll)
	assert.Equal(t, 1, removed)

	var invErr *InvalidationError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, 1, invErr.Removed)
	assert.Equal(t, DefaultNamespace+"*", invErr.Pattern)
	assert.ErrorContains(t, err, "connection reset")
}

func TestDurableCache_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	store := newFlakyStore()
	store.getErr = errors.New("i/o timeout")

	cfg := DefaultDurableConfig()
	cfg.Breaker = BreakerConfig{FailureThreshold: 5, OpenTimeout: time.Hour}
	c := NewDurableCache[answer](store, cfg)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := c.Get(ctx, "q", Scope{})
		require.ErrorIs(t, err, ErrCacheUnavailable)
	}
	require.Equal(t, 5, store.calls)

	_, err := c.Get(ctx, "q", Scope{})
	assert.ErrorIs(t, err, ErrCacheUnavailable)
	assert.Equal(t, 5, store.calls, "open breaker must not reach the store")

	removed, err := c.Invalidate(ctx, InvalidateAll)
	assert.Equal(t, 0, removed)
	assert.ErrorIs(t, err, ErrCacheUnavailable)
}

func TestDurableCache_MissesDoNotTripBreaker(t *testing.T) {
	store := newFlakyStore()
	c := NewDurableCache[answer](store, DefaultDurableConfig())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := c.Get(ctx, "absent", Scope{})
		require.ErrorIs(t, err, ErrCacheMiss)
	}
	assert.Equal(t, 10, store.calls)
}

func TestDurableCache_CanceledCallersDoNotTripBreaker(t *testing.T) {
	mr, c := newTestDurable(t)
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 5; i++ {
		_, err := c.Get(canceled, "q", Scope{})
		require.ErrorIs(t, err, ErrCacheUnavailable)
	}
	assert.Zero(t, c.Stats(context.Background()).Errors)

	_, err := c.Get(context.Background(), "q", Scope{})
	assert.ErrorIs(t, err, ErrCacheMiss, "store is still reachable")
	assert.Empty(t, mr.Keys())
}

func TestDurableCache_StoreCancellationDoesNotTripBreaker(t *testing.T) {
	store := newFlakyStore()
	store.getErr = context.Canceled

	cfg := DefaultDurableConfig()
	cfg.Breaker = BreakerConfig{FailureThreshold: 5, OpenTimeout: time.Hour}
	c := NewDurableCache[answer](store, cfg)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := c.Get(ctx, "q", Scope{})
		require.ErrorIs(t, err, ErrCacheUnavailable)
	}
	assert.Equal(t, 6, store.calls, "breaker stays closed")
}

func TestOpenDurableCache(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	t.Run("configured", func(t *testing.T) {
		p := profile.Default()
		p.RemoteAddr = mr.Addr()
		p.SessionTTL = 2 * time.Minute

		c := OpenDurableCache[answer](ctx, p)
		defer c.Close()
		assert.True(t, c.Enabled())
		assert.Equal(t, 2*time.Minute, c.TTLFor(Scope{SessionID: "s"}))
		assert.Equal(t, time.Hour, c.TTLFor(Scope{}))
	})

	t.Run("not configured", func(t *testing.T) {
		c := OpenDurableCache[answer](ctx, profile.Default())
		assert.False(t, c.Enabled())
	})

	t.Run("unreachable", func(t *testing.T) {
		p := profile.Default()
		p.RemoteAddr = "127.0.0.1:1"
		c := OpenDurableCache[answer](ctx, p)
		assert.False(t, c.Enabled())
	})
}
