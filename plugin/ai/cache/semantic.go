package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/hrygo/ragcache/plugin/ai/query"
)

const (
	// DefaultCapacity is the default maximum number of entries.
	DefaultCapacity = 100
	// DefaultSimilarityThreshold is the minimum Jaccard score for a similarity hit.
	DefaultSimilarityThreshold = 0.7
)

// Config configures a SemanticCache.
type Config struct {
	Capacity            int               // Maximum number of entries (default: 100)
	SimilarityThreshold float64           // Minimum token-set similarity (default: 0.7)
	TTL                 *TTLPolicy        // Per-strategy lifetimes (default: DefaultTTLPolicy)
	Normalizer          *query.Normalizer // Canonicalizes queries (default: built-in dictionary)
}

// DefaultConfig returns default semantic cache configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:            DefaultCapacity,
		SimilarityThreshold: DefaultSimilarityThreshold,
		TTL:                 DefaultTTLPolicy(),
	}
}

// Entry is one cached response. It is owned by the cache table.
type Entry[P any] struct {
	Key             string
	Partition       string
	RawQuery        string
	NormalizedQuery string
	Strategy        string
	Payload         P
	CreatedAt       time.Time
	HitCount        int64

	tokens []string
}

// EntryInfo is a copy of an entry's metadata handed to callers.
type EntryInfo struct {
	Key             string
	Partition       string
	RawQuery        string
	NormalizedQuery string
	Strategy        string
	CreatedAt       time.Time
	HitCount        int64
}

func (e *Entry[P]) info() EntryInfo {
	return EntryInfo{
		Key:             e.Key,
		Partition:       e.Partition,
		RawQuery:        e.RawQuery,
		NormalizedQuery: e.NormalizedQuery,
		Strategy:        e.Strategy,
		CreatedAt:       e.CreatedAt,
		HitCount:        e.HitCount,
	}
}

// MatchKind says how a lookup was satisfied.
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchExact
	MatchSimilar
)

func (k MatchKind) String() string {
	switch k {
	case MatchExact:
		return "exact"
	case MatchSimilar:
		return "similar"
	default:
		return "none"
	}
}

// Result is the outcome of a Lookup.
type Result[P any] struct {
	Kind    MatchKind
	Payload P
	Score   float64 // 1 for exact hits, the Jaccard score for similarity hits
	Entry   EntryInfo
}

// Hit reports whether the lookup found an entry.
func (r Result[P]) Hit() bool {
	return r.Kind != MatchNone
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits           int64 // includes similarity hits
	SimilarityHits int64
	Misses         int64
	Evictions      int64
	Size           int
	Capacity       int
	HitRate        float64
}

// SemanticCache is a bounded LRU response cache keyed by the canonical form of
// a query and its strategy tag, with a lexical similarity fallback.
// It is safe for concurrent use.
type SemanticCache[P any] struct {
	mu  sync.RWMutex
	lru *simplelru.LRU[string, *Entry[P]]

	capacity   int
	threshold  float64
	ttl        *TTLPolicy
	normalizer *query.Normalizer
	now        func() time.Time

	hits           int64
	similarityHits int64
	misses         int64
	evictions      int64
}

// NewSemanticCache creates a new semantic cache.
func NewSemanticCache[P any](cfg Config) *SemanticCache[P] {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.TTL == nil {
		cfg.TTL = DefaultTTLPolicy()
	}
	if cfg.Normalizer == nil {
		cfg.Normalizer = query.NewNormalizer(nil, query.DefaultMaxVariants)
	}

	// Only fails for a non-positive size.
	lru, _ := simplelru.NewLRU[string, *Entry[P]](cfg.Capacity, nil)

	return &SemanticCache[P]{
		lru:        lru,
		capacity:   cfg.Capacity,
		threshold:  cfg.SimilarityThreshold,
		ttl:        cfg.TTL,
		normalizer: cfg.Normalizer,
		now:        time.Now,
	}
}

// Key returns the table key for a normalized query under strategy.
func Key(normalized, strategy string) string {
	sum := sha256.Sum256([]byte(strategy + "\x00" + normalized))
	return hex.EncodeToString(sum[:])[:16]
}

// partitionKey is Key for the default partition and a partition-qualified
// digest otherwise.
func partitionKey(partition, normalized, strategy string) string {
	if partition == "" {
		return Key(normalized, strategy)
	}
	sum := sha256.Sum256([]byte(partition + "\x00" + strategy + "\x00" + normalized))
	return hex.EncodeToString(sum[:])[:16]
}

// Get returns the payload for query under strategy, exact or similar.
func (c *SemanticCache[P]) Get(q, strategy string) (P, bool) {
	r := c.Lookup(q, strategy)
	return r.Payload, r.Hit()
}

// Lookup resolves query under strategy in the default partition.
func (c *SemanticCache[P]) Lookup(q, strategy string) Result[P] {
	return c.LookupIn("", q, strategy)
}

// LookupIn resolves query under strategy within partition: exact key first,
// then the best same-partition, same-strategy entry by token-set similarity.
// Exact hits are promoted to most recently used; similarity hits are not.
func (c *SemanticCache[P]) LookupIn(partition, q, strategy string) (result Result[P]) {
	canonical := c.normalizer.Normalize(q)
	key := partitionKey(partition, canonical.Normalized, strategy)

	c.mu.Lock()
	defer c.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("semantic cache lookup panicked",
				"strategy", strategy,
				"panic", r,
			)
			c.misses++
			result = Result[P]{Kind: MatchNone}
		}
	}()

	now := c.now()

	if e, ok := c.lru.Get(key); ok {
		if c.valid(e, now) {
			e.HitCount++
			c.hits++
			return Result[P]{Kind: MatchExact, Payload: e.Payload, Score: 1, Entry: e.info()}
		}
		// Lazy expiry.
		c.lru.Remove(key)
	}

	if best, score := c.mostSimilar(canonical.Tokens, partition, strategy, now); best != nil {
		best.HitCount++
		c.hits++
		c.similarityHits++
		return Result[P]{Kind: MatchSimilar, Payload: best.Payload, Score: score, Entry: best.info()}
	}

	c.misses++
	return Result[P]{Kind: MatchNone}
}

// mostSimilar scans valid entries of one partition and strategy without
// touching recency. Caller must hold c.mu.
func (c *SemanticCache[P]) mostSimilar(tokens []string, partition, strategy string, now time.Time) (*Entry[P], float64) {
	if len(tokens) == 0 {
		return nil, 0
	}

	var best *Entry[P]
	var bestScore float64
	for _, k := range c.lru.Keys() {
		e, ok := c.lru.Peek(k)
		if !ok || e.Partition != partition || e.Strategy != strategy || !c.valid(e, now) {
			continue
		}
		score := query.Jaccard(tokens, e.tokens)
		if score >= c.threshold && score > bestScore {
			best, bestScore = e, score
		}
	}
	return best, bestScore
}

// Set stores payload for query under strategy in the default partition.
func (c *SemanticCache[P]) Set(q string, payload P, strategy string) {
	c.SetIn("", q, payload, strategy)
}

// SetIn stores payload for query under strategy within partition.
// Overwriting an existing key keeps its slot and hit count and restarts its
// lifetime; a new key at capacity evicts the least recently used entry.
func (c *SemanticCache[P]) SetIn(partition, q string, payload P, strategy string) {
	canonical := c.normalizer.Normalize(q)
	key := partitionKey(partition, canonical.Normalized, strategy)

	c.mu.Lock()
	defer c.mu.Unlock()

	e := &Entry[P]{
		Key:             key,
		Partition:       partition,
		RawQuery:        q,
		NormalizedQuery: canonical.Normalized,
		Strategy:        strategy,
		Payload:         payload,
		CreatedAt:       c.now(),
		tokens:          canonical.Tokens,
	}
	if old, ok := c.lru.Peek(key); ok {
		e.HitCount = old.HitCount
	}

	if evicted := c.lru.Add(key, e); evicted {
		c.evictions++
	}
}

// Clear removes all entries. Counters are kept.
func (c *SemanticCache[P]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Purge()
}

// PruneExpired removes every stale entry in one pass.
func (c *SemanticCache[P]) PruneExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, k := range c.lru.Keys() {
		e, ok := c.lru.Peek(k)
		if ok && !c.valid(e, now) {
			c.lru.Remove(k)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, including stale ones not yet pruned.
func (c *SemanticCache[P]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.lru.Len()
}

// Stats returns a snapshot of the cache counters.
func (c *SemanticCache[P]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{
		Hits:           c.hits,
		SimilarityHits: c.similarityHits,
		Misses:         c.misses,
		Evictions:      c.evictions,
		Size:           c.lru.Len(),
		Capacity:       c.capacity,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

func (c *SemanticCache[P]) valid(e *Entry[P], now time.Time) bool {
	return now.Sub(e.CreatedAt) < c.ttl.For(e.Strategy)
}
