package cache

import "time"

// Retrieval strategies with a built-in TTL.
const (
	StrategyRapid    = "rapid"
	StrategyStandard = "standard"
	StrategyDeep     = "deep"
	StrategyAgentic  = "agentic"
)

// DefaultStrategyTTL applies to strategies missing from the table.
const DefaultStrategyTTL = 10 * time.Minute

// TTLPolicy maps a strategy tag to the lifetime of entries it produced.
// Cheaper strategies are cached longer. A TTLPolicy is immutable.
type TTLPolicy struct {
	ttls       map[string]time.Duration
	defaultTTL time.Duration
}

// DefaultTTLPolicy returns the built-in strategy table.
func DefaultTTLPolicy() *TTLPolicy {
	return NewTTLPolicy(DefaultStrategyTTL, nil)
}

// NewTTLPolicy builds a policy from the built-in table, overridden by ttls.
// Non-positive durations are ignored.
func NewTTLPolicy(defaultTTL time.Duration, ttls map[string]time.Duration) *TTLPolicy {
	if defaultTTL <= 0 {
		defaultTTL = DefaultStrategyTTL
	}

	p := &TTLPolicy{
		ttls: map[string]time.Duration{
			StrategyRapid:    30 * time.Minute,
			StrategyStandard: 15 * time.Minute,
			StrategyDeep:     10 * time.Minute,
			StrategyAgentic:  5 * time.Minute,
		},
		defaultTTL: defaultTTL,
	}
	for strategy, ttl := range ttls {
		if ttl > 0 {
			p.ttls[strategy] = ttl
		}
	}
	return p
}

// For returns the TTL for strategy.
func (p *TTLPolicy) For(strategy string) time.Duration {
	if ttl, ok := p.ttls[strategy]; ok {
		return ttl
	}
	return p.defaultTTL
}
