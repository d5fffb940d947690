package cache

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/pkg/errors"
	valkeylib "github.com/valkey-io/valkey-go"

	"github.com/hrygo/ragcache/plugin/ai/timeout"
)

// ValkeyStore is a RemoteStore backed by valkey-go.
type ValkeyStore struct {
	client valkeylib.Client
}

// NewValkeyStore creates a Valkey-backed store and pings it.
func NewValkeyStore(ctx context.Context, config *RemoteConfig) (*ValkeyStore, error) {
	dialTimeout := config.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = timeout.RemoteDialTimeout
	}

	opts := valkeylib.ClientOption{
		InitAddress:  []string{config.Addr},
		SelectDB:     config.DB,
		DisableCache: true,
		Dialer:       net.Dialer{Timeout: dialTimeout},
	}
	if config.Password != "" {
		opts.Password = config.Password
	}

	client, err := valkeylib.NewClient(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create valkey client")
	}

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "failed to ping valkey (timeout: %v)", dialTimeout)
	}

	slog.Info("Valkey cache connected", "addr", config.Addr)

	return &ValkeyStore{client: client}, nil
}

func (v *ValkeyStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := v.client.Do(ctx, v.client.B().Get().Key(key).Build()).AsBytes()
	if valkeylib.IsValkeyNil(err) {
		return nil, ErrKeyNotFound
	}
	return data, err
}

// Set stores value under key. A non-positive ttl stores it without expiry,
// as go-redis does.
func (v *ValkeyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	set := v.client.B().Set().Key(key).Value(valkeylib.BinaryString(value))
	if ttl <= 0 {
		return v.client.Do(ctx, set.Build()).Error()
	}
	return v.client.Do(ctx, set.Px(ttl).Build()).Error()
}

func (v *ValkeyStore) Scan(ctx context.Context, cursor uint64, match string, count int64) ([]string, uint64, error) {
	cmd := v.client.B().Scan().Cursor(cursor).Match(match).Count(count).Build()
	entry, err := v.client.Do(ctx, cmd).AsScanEntry()
	if err != nil {
		return nil, 0, err
	}
	return entry.Elements, entry.Cursor, nil
}

func (v *ValkeyStore) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return v.client.Do(ctx, v.client.B().Del().Key(keys...).Build()).AsInt64()
}

func (v *ValkeyStore) Ping(ctx context.Context) error {
	return v.client.Do(ctx, v.client.B().Ping().Build()).Error()
}

func (v *ValkeyStore) Close() error {
	v.client.Close()
	return nil
}
