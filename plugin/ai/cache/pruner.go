package cache

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPruneInterval is the default interval between expiry sweeps.
const DefaultPruneInterval = 5 * time.Minute

// Pruner periodically sweeps expired entries from a Prunable.
// It is owned by the process supervisor: Start it once, Close it at shutdown.
type Pruner struct {
	target   Prunable
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running   atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
}

// NewPruner creates a pruner for target. A non-positive interval uses
// DefaultPruneInterval.
func NewPruner(target Prunable, interval time.Duration) *Pruner {
	if interval <= 0 {
		interval = DefaultPruneInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pruner{
		target:   target,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the background sweep loop. Calling it more than once is a no-op.
func (p *Pruner) Start() {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.pruneLoop()
	})
}

// Close stops the sweep loop and waits for it to exit.
func (p *Pruner) Close() {
	p.closeOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
	})
}

// RunOnce performs one sweep. It returns false without sweeping when another
// sweep is still in progress.
func (p *Pruner) RunOnce() (int, bool) {
	if !p.running.CompareAndSwap(false, true) {
		return 0, false
	}
	defer p.running.Store(false)

	removed := p.target.PruneExpired()
	if removed > 0 {
		slog.Debug("pruned expired cache entries", "removed", removed)
	}
	return removed, true
}

// pruneLoop periodically removes expired entries.
func (p *Pruner) pruneLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if _, ran := p.RunOnce(); !ran {
				slog.Warn("skipping cache prune, previous sweep still running")
			}
		}
	}
}
