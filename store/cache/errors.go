package cache

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrCacheMiss means the store was reachable and holds no record for the key.
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheUnavailable means the durable tier is unconfigured, unreachable,
	// or its circuit breaker is open. Callers treat it like a miss.
	ErrCacheUnavailable = errors.New("durable cache unavailable")

	// ErrNotStored means the record could not be encoded for storage.
	ErrNotStored = errors.New("cache record not stored")

	// ErrKeyNotFound is returned by a RemoteStore for absent keys.
	ErrKeyNotFound = errors.New("key not found")
)

// InvalidationError reports a bulk invalidation that stopped part way.
// Removed counts the keys deleted before the failure.
type InvalidationError struct {
	Pattern string
	Removed int
	Cause   error
}

func (e *InvalidationError) Error() string {
	return fmt.Sprintf("invalidate %q stopped after %d keys: %v", e.Pattern, e.Removed, e.Cause)
}

func (e *InvalidationError) Unwrap() error {
	return e.Cause
}
