// Package cache provides the in-process semantic response cache.
// It is consumed by the retrieval orchestrator in server/retrieval.
package cache

// Cache defines the in-process tier as seen by the orchestrator.
type Cache[P any] interface {
	// Lookup finds an exact or similar entry for query under strategy.
	Lookup(query, strategy string) Result[P]

	// LookupIn is Lookup restricted to one partition.
	LookupIn(partition, query, strategy string) Result[P]

	// Set stores payload for query under strategy.
	Set(query string, payload P, strategy string)

	// SetIn is Set within one partition.
	SetIn(partition, query string, payload P, strategy string)

	// Clear removes all entries.
	Clear()

	// Stats returns a snapshot of the counters.
	Stats() Stats
}

// Prunable is anything a Pruner can sweep.
type Prunable interface {
	// PruneExpired removes stale entries and returns how many were removed.
	PruneExpired() int
}

// Ensure SemanticCache implements Cache and Prunable
var (
	_ Cache[[]byte] = (*SemanticCache[[]byte])(nil)
	_ Prunable      = (*SemanticCache[[]byte])(nil)
)
