package profile

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/ragcache/plugin/ai/timeout"
)

// Profile is the configuration shared by the cache library and the ragcache CLI.
type Profile struct {
	// Mode can be "prod" or "dev"
	Mode string
	// Version is the current version of the cache
	Version string
	// LogLevel is one of debug, info, warn, error
	LogLevel string

	// Embedding configuration
	EmbeddingProvider       string  // RAGCACHE_EMBEDDING_PROVIDER (default: openai)
	EmbeddingModel          string  // RAGCACHE_EMBEDDING_MODEL (default: text-embedding-3-small)
	EmbeddingDimensions     int     // RAGCACHE_EMBEDDING_DIMENSIONS (default: 768)
	EmbeddingAPIKey         string  // RAGCACHE_EMBEDDING_API_KEY
	EmbeddingBaseURL        string  // RAGCACHE_EMBEDDING_BASE_URL
	EmbeddingQueryPrefix    string  // RAGCACHE_EMBEDDING_QUERY_PREFIX
	EmbeddingDocumentPrefix string  // RAGCACHE_EMBEDDING_DOCUMENT_PREFIX
	EmbeddingRPS            float64 // RAGCACHE_EMBEDDING_RPS (0 disables rate limiting)
	EmbeddingBurst          int     // RAGCACHE_EMBEDDING_BURST (default: 5)

	// Durable (remote) cache configuration. An empty RemoteAddr disables the tier.
	RemoteDriver   string        // RAGCACHE_REMOTE_DRIVER (redis or valkey, default: redis)
	RemoteAddr     string        // RAGCACHE_REMOTE_ADDR
	RemotePassword string        // RAGCACHE_REMOTE_PASSWORD
	RemoteDB       int           // RAGCACHE_REMOTE_DB (default: 0)
	RemoteTimeout  time.Duration // RAGCACHE_REMOTE_TIMEOUT (default: 2s)
	Namespace      string        // RAGCACHE_NAMESPACE (default: rag:query:)
	SessionTTL     time.Duration // RAGCACHE_SESSION_TTL (default: 5m)
	StaticTTL      time.Duration // RAGCACHE_STATIC_TTL (default: 1h)

	// In-process cache configuration
	Capacity            int                      // RAGCACHE_CAPACITY (default: 100)
	SimilarityThreshold float64                  // RAGCACHE_SIMILARITY_THRESHOLD (default: 0.7)
	MaxVariants         int                      // RAGCACHE_MAX_VARIANTS (default: 3)
	DefaultTTL          time.Duration            // RAGCACHE_DEFAULT_TTL (default: 10m)
	StrategyTTLs        map[string]time.Duration // RAGCACHE_STRATEGY_TTLS (e.g. rapid=30m,deep=10m)
	PruneInterval       time.Duration            // RAGCACHE_PRUNE_INTERVAL (default: 5m)
}

// Default returns a profile populated with the built-in defaults.
func Default() *Profile {
	return &Profile{
		Mode:                "dev",
		LogLevel:            "info",
		EmbeddingProvider:   "openai",
		EmbeddingModel:      "text-embedding-3-small",
		EmbeddingDimensions: 768,
		EmbeddingBurst:      5,
		RemoteDriver:        "redis",
		RemoteTimeout:       timeout.RemoteOpTimeout,
		Namespace:           "rag:query:",
		SessionTTL:          5 * time.Minute,
		StaticTTL:           time.Hour,
		Capacity:            100,
		SimilarityThreshold: 0.7,
		MaxVariants:         3,
		DefaultTTL:          10 * time.Minute,
		StrategyTTLs: map[string]time.Duration{
			"rapid":    30 * time.Minute,
			"standard": 15 * time.Minute,
			"deep":     10 * time.Minute,
			"agentic":  5 * time.Minute,
		},
		PruneInterval: 5 * time.Minute,
	}
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsRemoteEnabled returns true if a remote store endpoint is configured.
func (p *Profile) IsRemoteEnabled() bool {
	return p.RemoteAddr != ""
}

// IsEmbeddingEnabled returns true if the embedding provider can be reached.
// Ollama needs only a base URL, hosted providers need an API key.
func (p *Profile) IsEmbeddingEnabled() bool {
	if p.EmbeddingProvider == "ollama" {
		return p.EmbeddingBaseURL != ""
	}
	return p.EmbeddingAPIKey != ""
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FromEnv loads configuration from RAGCACHE_* environment variables on top of
// the defaults. Unparseable values are logged and ignored.
func (p *Profile) FromEnv() {
	def := Default()

	getInt := func(key string, fallback int) int {
		raw := os.Getenv(key)
		if raw == "" {
			return fallback
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			slog.Warn("ignoring invalid integer setting", slog.String("key", key), slog.String("value", raw))
			return fallback
		}
		return v
	}
	getFloat := func(key string, fallback float64) float64 {
		raw := os.Getenv(key)
		if raw == "" {
			return fallback
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			slog.Warn("ignoring invalid float setting", slog.String("key", key), slog.String("value", raw))
			return fallback
		}
		return v
	}
	getDuration := func(key string, fallback time.Duration) time.Duration {
		raw := os.Getenv(key)
		if raw == "" {
			return fallback
		}
		v, err := time.ParseDuration(raw)
		if err != nil {
			slog.Warn("ignoring invalid duration setting", slog.String("key", key), slog.String("value", raw))
			return fallback
		}
		return v
	}

	p.Mode = getEnvOrDefault("RAGCACHE_MODE", def.Mode)
	p.LogLevel = getEnvOrDefault("RAGCACHE_LOG_LEVEL", def.LogLevel)

	p.EmbeddingProvider = getEnvOrDefault("RAGCACHE_EMBEDDING_PROVIDER", def.EmbeddingProvider)
	p.EmbeddingModel = getEnvOrDefault("RAGCACHE_EMBEDDING_MODEL", def.EmbeddingModel)
	p.EmbeddingDimensions = getInt("RAGCACHE_EMBEDDING_DIMENSIONS", def.EmbeddingDimensions)
	p.EmbeddingAPIKey = os.Getenv("RAGCACHE_EMBEDDING_API_KEY")
	p.EmbeddingBaseURL = os.Getenv("RAGCACHE_EMBEDDING_BASE_URL")
	p.EmbeddingQueryPrefix = os.Getenv("RAGCACHE_EMBEDDING_QUERY_PREFIX")
	p.EmbeddingDocumentPrefix = os.Getenv("RAGCACHE_EMBEDDING_DOCUMENT_PREFIX")
	p.EmbeddingRPS = getFloat("RAGCACHE_EMBEDDING_RPS", def.EmbeddingRPS)
	p.EmbeddingBurst = getInt("RAGCACHE_EMBEDDING_BURST", def.EmbeddingBurst)

	p.RemoteDriver = getEnvOrDefault("RAGCACHE_REMOTE_DRIVER", def.RemoteDriver)
	p.RemoteAddr = os.Getenv("RAGCACHE_REMOTE_ADDR")
	p.RemotePassword = os.Getenv("RAGCACHE_REMOTE_PASSWORD")
	p.RemoteDB = getInt("RAGCACHE_REMOTE_DB", def.RemoteDB)
	p.RemoteTimeout = getDuration("RAGCACHE_REMOTE_TIMEOUT", def.RemoteTimeout)
	p.Namespace = getEnvOrDefault("RAGCACHE_NAMESPACE", def.Namespace)
	p.SessionTTL = getDuration("RAGCACHE_SESSION_TTL", def.SessionTTL)
	p.StaticTTL = getDuration("RAGCACHE_STATIC_TTL", def.StaticTTL)

	p.Capacity = getInt("RAGCACHE_CAPACITY", def.Capacity)
	p.SimilarityThreshold = getFloat("RAGCACHE_SIMILARITY_THRESHOLD", def.SimilarityThreshold)
	p.MaxVariants = getInt("RAGCACHE_MAX_VARIANTS", def.MaxVariants)
	p.DefaultTTL = getDuration("RAGCACHE_DEFAULT_TTL", def.DefaultTTL)
	p.PruneInterval = getDuration("RAGCACHE_PRUNE_INTERVAL", def.PruneInterval)

	p.StrategyTTLs = def.StrategyTTLs
	if raw := os.Getenv("RAGCACHE_STRATEGY_TTLS"); raw != "" {
		ttls, err := ParseStrategyTTLs(raw)
		if err != nil {
			slog.Warn("ignoring invalid strategy TTLs", slog.String("value", raw), slog.String("error", err.Error()))
		} else {
			for strategy, ttl := range ttls {
				p.StrategyTTLs[strategy] = ttl
			}
		}
	}
}

// ParseStrategyTTLs parses "rapid=30m,deep=10m" into a strategy->TTL table.
func ParseStrategyTTLs(raw string) (map[string]time.Duration, error) {
	ttls := make(map[string]time.Duration)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, errors.Errorf("malformed strategy TTL %q, want name=duration", pair)
		}
		ttl, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid TTL for strategy %s", name)
		}
		if ttl <= 0 {
			return nil, errors.Errorf("TTL for strategy %s must be positive", name)
		}
		ttls[name] = ttl
	}
	return ttls, nil
}

// FormatStrategyTTLs renders a strategy TTL table in the form accepted by
// ParseStrategyTTLs, sorted by strategy name.
func FormatStrategyTTLs(ttls map[string]time.Duration) string {
	names := make([]string, 0, len(ttls))
	for name := range ttls {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%s", name, ttls[name]))
	}
	return strings.Join(parts, ",")
}

func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}

	if p.Capacity <= 0 {
		return errors.Errorf("capacity must be positive, got %d", p.Capacity)
	}
	if p.SimilarityThreshold <= 0 || p.SimilarityThreshold > 1 {
		return errors.Errorf("similarity threshold must be in (0, 1], got %v", p.SimilarityThreshold)
	}
	if p.MaxVariants <= 0 {
		return errors.Errorf("max variants must be positive, got %d", p.MaxVariants)
	}
	if p.SessionTTL <= 0 || p.StaticTTL <= 0 {
		return errors.New("session and static TTLs must be positive")
	}
	if p.RemoteTimeout <= 0 {
		return errors.New("remote timeout must be positive")
	}
	if p.RemoteDriver != "redis" && p.RemoteDriver != "valkey" {
		return errors.Errorf("unsupported remote driver: %s", p.RemoteDriver)
	}
	if p.Namespace == "" {
		return errors.New("namespace is required")
	}
	if p.EmbeddingDimensions <= 0 {
		return errors.Errorf("embedding dimensions must be positive, got %d", p.EmbeddingDimensions)
	}

	if p.IsRemoteEnabled() {
		slog.Debug("durable cache configured", slog.String("driver", p.RemoteDriver), slog.String("addr", p.RemoteAddr))
	}

	return nil
}

// ParseLogLevel maps the configured log level to a slog level.
func (p *Profile) ParseLogLevel() slog.Level {
	switch strings.ToLower(p.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
