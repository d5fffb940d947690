// Package timeout defines centralized timeout constants for cache and embedding operations.
package timeout

import "time"

const (
	// EmbeddingTimeout bounds a single embedding provider call.
	EmbeddingTimeout = 30 * time.Second

	// RemoteOpTimeout bounds a single durable store command.
	RemoteOpTimeout = 2 * time.Second

	// RemoteDialTimeout bounds connecting to the durable store.
	RemoteDialTimeout = 5 * time.Second

	// RemoteIOTimeout is the socket read and write deadline for the durable store.
	RemoteIOTimeout = 3 * time.Second
)
