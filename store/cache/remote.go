package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/hrygo/ragcache/internal/profile"
	"github.com/hrygo/ragcache/plugin/ai/timeout"
)

// RemoteStore is the key-value protocol the durable cache needs.
// Get returns ErrKeyNotFound for absent keys.
type RemoteStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Scan(ctx context.Context, cursor uint64, match string, count int64) (keys []string, next uint64, err error)
	Del(ctx context.Context, keys ...string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Supported remote store drivers.
const (
	DriverRedis  = "redis"
	DriverValkey = "valkey"
)

// RemoteConfig holds the remote store connection configuration.
type RemoteConfig struct {
	Driver       string
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
}

// DefaultRemoteConfig returns the default remote store configuration.
func DefaultRemoteConfig() *RemoteConfig {
	return &RemoteConfig{
		Driver:       DriverRedis,
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  timeout.RemoteDialTimeout,
	}
}

// RemoteConfigFromProfile creates remote store config from the profile.
// It returns nil when no remote address is configured.
func RemoteConfigFromProfile(p *profile.Profile) *RemoteConfig {
	if !p.IsRemoteEnabled() {
		return nil
	}

	config := DefaultRemoteConfig()
	config.Driver = p.RemoteDriver
	config.Addr = p.RemoteAddr
	config.Password = p.RemotePassword
	config.DB = p.RemoteDB
	return config
}

// OpenRemoteStore connects to the configured driver and verifies the
// connection with a ping.
func OpenRemoteStore(ctx context.Context, config *RemoteConfig) (RemoteStore, error) {
	if config == nil || config.Addr == "" {
		return nil, errors.Wrap(ErrCacheUnavailable, "no remote address configured")
	}

	switch config.Driver {
	case "", DriverRedis:
		return NewRedisStore(ctx, config)
	case DriverValkey:
		return NewValkeyStore(ctx, config)
	default:
		return nil, errors.Errorf("unsupported remote driver: %s", config.Driver)
	}
}

// RedisStore is a RemoteStore backed by go-redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed store and pings it.
func NewRedisStore(ctx context.Context, config *RemoteConfig) (*RedisStore, error) {
	dialTimeout := config.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = timeout.RemoteDialTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  timeout.RemoteIOTimeout,
		WriteTimeout: timeout.RemoteIOTimeout,
		PoolTimeout:  4 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	slog.Info("Redis cache connected", "addr", config.Addr)

	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrKeyNotFound
	}
	return data, err
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisStore) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	return r.client.Scan(ctx, cursor, match, count).Result()
}

func (r *RedisStore) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return r.client.Del(ctx, keys...).Result()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Ensure stores implement RemoteStore
var (
	_ RemoteStore = (*RedisStore)(nil)
	_ RemoteStore = (*ValkeyStore)(nil)
)
