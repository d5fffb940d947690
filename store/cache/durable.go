package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"

	"github.com/hrygo/ragcache/internal/profile"
	"github.com/hrygo/ragcache/plugin/ai/query"
	"github.com/hrygo/ragcache/plugin/ai/timeout"
)

// InvalidateAll removes every key under the cache namespace.
const InvalidateAll = "all"

// scanBatch is the COUNT hint for each SCAN page.
const scanBatch = 100

// DurableConfig configures a DurableCache.
type DurableConfig struct {
	Namespace  string            // key prefix (default: rag:query:)
	SessionTTL time.Duration     // TTL for session-scoped results (default: 5m)
	StaticTTL  time.Duration     // TTL for everything else (default: 1h)
	OpTimeout  time.Duration     // per remote call (default: 2s)
	Breaker    BreakerConfig     // circuit breaker around the store
	Normalizer *query.Normalizer // canonicalizes queries before keying
}

// DefaultDurableConfig returns the default durable cache configuration.
func DefaultDurableConfig() DurableConfig {
	return DurableConfig{
		Namespace:  DefaultNamespace,
		SessionTTL: 5 * time.Minute,
		StaticTTL:  time.Hour,
		OpTimeout:  timeout.RemoteOpTimeout,
		Breaker:    DefaultBreakerConfig(),
	}
}

// DurableConfigFromProfile creates durable cache config from the profile.
func DurableConfigFromProfile(p *profile.Profile) DurableConfig {
	cfg := DefaultDurableConfig()
	cfg.Namespace = p.Namespace
	cfg.SessionTTL = p.SessionTTL
	cfg.StaticTTL = p.StaticTTL
	cfg.OpTimeout = p.RemoteTimeout
	cfg.Normalizer = query.NewNormalizer(nil, p.MaxVariants)
	return cfg
}

// Record is what the durable tier stores: the caller's value plus the write
// time and key, so a read can report its own age and origin.
type Record[P any] struct {
	Value    P         `json:"value"`
	CachedAt time.Time `json:"cachedAt"`
	Key      string    `json:"key"`
}

// Age returns how long ago the record was written.
func (r *Record[P]) Age(now time.Time) time.Duration {
	return now.Sub(r.CachedAt)
}

// Stats is a snapshot of the durable tier.
type Stats struct {
	Available bool  `json:"available"`
	KeyCount  int64 `json:"key_count"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Errors    int64 `json:"errors"`
}

// DurableCache stores results in a shared remote store, keyed by the
// canonical query and scope. Remote failures never escape as errors other
// than ErrCacheMiss, ErrCacheUnavailable, ErrNotStored or *InvalidationError.
// With a nil store every call reports ErrCacheUnavailable.
type DurableCache[P any] struct {
	store   RemoteStore
	config  DurableConfig
	breaker *gobreaker.CircuitBreaker
	now     func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
	errs   atomic.Int64
}

// NewDurableCache creates a durable cache over store. A nil store disables
// the tier; this is logged once here rather than on every call.
func NewDurableCache[P any](store RemoteStore, config DurableConfig) *DurableCache[P] {
	def := DefaultDurableConfig()
	if config.Namespace == "" {
		config.Namespace = def.Namespace
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = def.SessionTTL
	}
	if config.StaticTTL <= 0 {
		config.StaticTTL = def.StaticTTL
	}
	if config.OpTimeout <= 0 {
		config.OpTimeout = def.OpTimeout
	}
	if config.Normalizer == nil {
		config.Normalizer = query.NewNormalizer(nil, query.DefaultMaxVariants)
	}

	if store == nil {
		slog.Info("durable cache disabled, running with in-process cache only",
			"namespace", config.Namespace,
		)
	}

	return &DurableCache[P]{
		store:   store,
		config:  config,
		breaker: newBreaker(config.Breaker),
		now:     time.Now,
	}
}

// OpenDurableCache connects to the remote store described by the profile.
// Connection failures are logged and produce a disabled cache.
func OpenDurableCache[P any](ctx context.Context, p *profile.Profile) *DurableCache[P] {
	var store RemoteStore
	if remote := RemoteConfigFromProfile(p); remote != nil {
		s, err := OpenRemoteStore(ctx, remote)
		if err != nil {
			slog.Warn("durable cache unreachable at startup",
				"driver", remote.Driver,
				"addr", remote.Addr,
				"error", err,
			)
		} else {
			store = s
		}
	}
	return NewDurableCache[P](store, DurableConfigFromProfile(p))
}

// Enabled reports whether a remote store is configured.
func (c *DurableCache[P]) Enabled() bool {
	return c.store != nil
}

// Namespace returns the key prefix.
func (c *DurableCache[P]) Namespace() string {
	return c.config.Namespace
}

// Key returns the remote key for query under scope.
func (c *DurableCache[P]) Key(q string, scope Scope) string {
	return BuildKey(c.config.Namespace, c.config.Normalizer.Normalize(q).Normalized, scope)
}

// TTLFor returns the lifetime a result written under scope receives.
func (c *DurableCache[P]) TTLFor(scope Scope) time.Duration {
	if scope.IsSession() {
		return c.config.SessionTTL
	}
	return c.config.StaticTTL
}

// Get returns the record for query under scope, ErrCacheMiss when there is
// none, or ErrCacheUnavailable when the store cannot answer.
func (c *DurableCache[P]) Get(ctx context.Context, q string, scope Scope) (*Record[P], error) {
	if c.store == nil {
		return nil, ErrCacheUnavailable
	}

	key := c.Key(q, scope)
	out, err := c.call(ctx, func(ctx context.Context) (any, error) {
		return c.store.Get(ctx, key)
	})
	if errors.Is(err, ErrKeyNotFound) {
		c.misses.Add(1)
		return nil, ErrCacheMiss
	}
	if err != nil {
		c.fail("get", key, err)
		return nil, ErrCacheUnavailable
	}

	var record Record[P]
	if err := json.Unmarshal(out.([]byte), &record); err != nil {
		// An undecodable record is as good as absent; the next write replaces it.
		c.errs.Add(1)
		slog.Warn("failed to unmarshal cache record", "key", key, "error", err)
		c.misses.Add(1)
		return nil, ErrCacheMiss
	}

	c.hits.Add(1)
	return &record, nil
}

// Set writes value for query under scope with the scope's TTL tier.
func (c *DurableCache[P]) Set(ctx context.Context, q string, value P, scope Scope) error {
	if c.store == nil {
		return ErrCacheUnavailable
	}

	key := c.Key(q, scope)
	data, err := json.Marshal(Record[P]{Value: value, CachedAt: c.now().UTC(), Key: key})
	if err != nil {
		c.errs.Add(1)
		slog.Warn("failed to marshal cache record", "key", key, "error", err)
		return ErrNotStored
	}

	ttl := c.TTLFor(scope)
	if _, err := c.call(ctx, func(ctx context.Context) (any, error) {
		return nil, c.store.Set(ctx, key, data, ttl)
	}); err != nil {
		c.fail("set", key, err)
		return ErrCacheUnavailable
	}
	return nil
}

// Invalidate deletes keys by cursor scan. "all" removes the whole namespace;
// anything else is a key prefix, with the namespace prepended when missing.
// A failure part way returns the count removed so far and an *InvalidationError.
func (c *DurableCache[P]) Invalidate(ctx context.Context, pattern string) (int, error) {
	if c.store == nil {
		return 0, ErrCacheUnavailable
	}

	match := c.matchPattern(pattern)
	removed := 0
	var cursor uint64

	for {
		keys, next, err := c.scan(ctx, cursor, match)
		if err != nil {
			c.fail("scan", match, err)
			if removed == 0 && isBreakerRejection(err) {
				return 0, ErrCacheUnavailable
			}
			return removed, &InvalidationError{Pattern: match, Removed: removed, Cause: err}
		}

		if len(keys) > 0 {
			out, err := c.call(ctx, func(ctx context.Context) (any, error) {
				return c.store.Del(ctx, keys...)
			})
			if err != nil {
				c.fail("del", match, err)
				return removed, &InvalidationError{Pattern: match, Removed: removed, Cause: err}
			}
			removed += int(out.(int64))
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	slog.Info("durable cache invalidated", "pattern", match, "removed", removed)
	return removed, nil
}

// Stats reports availability and the number of keys under the namespace.
func (c *DurableCache[P]) Stats(ctx context.Context) Stats {
	s := Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.errs.Load(),
	}
	if c.store == nil {
		return s
	}

	if _, err := c.call(ctx, func(ctx context.Context) (any, error) {
		return nil, c.store.Ping(ctx)
	}); err != nil {
		c.fail("ping", "", err)
		s.Errors = c.errs.Load()
		return s
	}
	s.Available = true

	match := c.config.Namespace + "*"
	var cursor uint64
	for {
		keys, next, err := c.scan(ctx, cursor, match)
		if err != nil {
			c.fail("scan", match, err)
			s.Errors = c.errs.Load()
			break
		}
		s.KeyCount += int64(len(keys))
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return s
}

// Close releases the remote store connection.
func (c *DurableCache[P]) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

// matchPattern turns an invalidation prefix into a SCAN glob. The prefix is
// literal: glob metacharacters in it are escaped.
func (c *DurableCache[P]) matchPattern(pattern string) string {
	if pattern == "" || pattern == InvalidateAll {
		return c.config.Namespace + "*"
	}
	pattern = strings.TrimPrefix(pattern, c.config.Namespace)
	return c.config.Namespace + globEscaper.Replace(pattern) + "*"
}

var globEscaper = strings.NewReplacer(
	`\`, `\\`,
	`*`, `\*`,
	`?`, `\?`,
	`[`, `\[`,
	`]`, `\]`,
)

func (c *DurableCache[P]) scan(ctx context.Context, cursor uint64, match string) ([]string, uint64, error) {
	type page struct {
		keys []string
		next uint64
	}
	out, err := c.call(ctx, func(ctx context.Context) (any, error) {
		keys, next, err := c.store.Scan(ctx, cursor, match, scanBatch)
		return page{keys: keys, next: next}, err
	})
	if err != nil {
		return nil, 0, err
	}
	p := out.(page)
	return p.keys, p.next, nil
}

// call runs one remote operation under its own timeout, through the breaker.
// A panic inside the store driver is converted to an error. A caller whose
// context has ended never reaches the store, and an operation cut short by
// the caller's context is not held against the store.
func (c *DurableCache[P]) call(ctx context.Context, fn func(ctx context.Context) (any, error)) (out any, err error) {
	if err := ctx.Err(); err != nil {
		return nil, &callerDoneError{cause: err}
	}
	opCtx, cancel := context.WithTimeout(ctx, c.config.OpTimeout)
	defer cancel()

	return c.breaker.Execute(func() (result interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.Errorf("remote store panic: %v", r)
			}
		}()
		result, err = fn(opCtx)
		if err != nil && ctx.Err() != nil {
			err = &callerDoneError{cause: ctx.Err()}
		}
		return result, err
	})
}

func (c *DurableCache[P]) fail(op, key string, err error) {
	if isCallerDone(err) {
		slog.Debug("durable cache call abandoned by caller", "op", op, "key", key, "error", err)
		return
	}
	c.errs.Add(1)
	if isBreakerRejection(err) {
		slog.Debug("durable cache call rejected by breaker", "op", op, "key", key)
		return
	}
	slog.Warn("durable cache call failed", "op", op, "key", key, "error", err)
}
