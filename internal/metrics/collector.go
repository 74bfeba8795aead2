package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// MiningStatus reports the live state of the mining workers
type MiningStatus interface {
	Running() bool
	Hashrate() float64
	Algorithm() string
	Settings() (threads int, intensity float64)
}

// ConnStatus reports connectivity of an external collaborator
type ConnStatus interface {
	Connected() bool
}

// Collector assembles snapshots on demand: resource readings from the
// sampler, health flags from the mining/wallet/pool collaborators and the
// latest profitability estimates pushed by the profit switcher.
//
// Snapshots taken within the freshness window are shared between callers,
// so the fastest polling engine sets the effective sampling rate.
type Collector struct {
	logger    *zap.Logger
	sampler   Sampler
	freshness time.Duration

	mining MiningStatus
	wallet ConnStatus
	pool   ConnStatus

	profitMu      sync.RWMutex
	profitability map[string]*AlgorithmProfit

	latest atomic.Value // *Snapshot

	sampleMu    sync.Mutex
	historyMu   sync.RWMutex
	history     []*Snapshot
	historySize int

	samples atomic.Uint64
}

// CollectorOption configures optional collaborator sources
type CollectorOption func(*Collector)

// WithMiningStatus wires the mining worker pool as a flag source
func WithMiningStatus(m MiningStatus) CollectorOption {
	return func(c *Collector) { c.mining = m }
}

// WithWalletStatus wires the wallet watcher as a flag source
func WithWalletStatus(w ConnStatus) CollectorOption {
	return func(c *Collector) { c.wallet = w }
}

// WithPoolStatus wires the pool connection as a flag source
func WithPoolStatus(p ConnStatus) CollectorOption {
	return func(c *Collector) { c.pool = p }
}

// NewCollector creates a collector. freshness bounds how old a shared
// snapshot may be before a new sample is taken; historySize bounds the
// in-memory ring used for rolling averages.
func NewCollector(logger *zap.Logger, sampler Sampler, freshness time.Duration, historySize int, opts ...CollectorOption) *Collector {
	if freshness <= 0 {
		freshness = 500 * time.Millisecond
	}
	if historySize <= 0 {
		historySize = 3600
	}

	c := &Collector{
		logger:      logger,
		sampler:     sampler,
		freshness:   freshness,
		historySize: historySize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns the current snapshot, sampling a fresh one if the cached
// snapshot is older than the freshness window.
func (c *Collector) Snapshot(ctx context.Context) (*Snapshot, error) {
	if snap := c.Latest(); snap != nil && time.Since(snap.Timestamp) < c.freshness {
		return snap, nil
	}

	c.sampleMu.Lock()
	defer c.sampleMu.Unlock()

	// Another caller may have sampled while we waited for the lock
	if snap := c.Latest(); snap != nil && time.Since(snap.Timestamp) < c.freshness {
		return snap, nil
	}

	snap := &Snapshot{}
	if err := c.sampler.Sample(ctx, snap); err != nil {
		return nil, err
	}

	c.fillCollaborators(snap)

	c.latest.Store(snap)
	c.samples.Add(1)
	c.appendHistory(snap)

	return snap, nil
}

// Latest returns the most recent snapshot without sampling, or nil when no
// sample has been taken yet.
func (c *Collector) Latest() *Snapshot {
	if v := c.latest.Load(); v != nil {
		return v.(*Snapshot)
	}
	return nil
}

// SetProfitability stores the latest per-algorithm estimates for inclusion
// in subsequent snapshots. Called by the profit switcher each cycle.
func (c *Collector) SetProfitability(estimates map[string]*AlgorithmProfit) {
	c.profitMu.Lock()
	c.profitability = estimates
	c.profitMu.Unlock()
}

// History returns up to n most recent snapshots, oldest first
func (c *Collector) History(n int) []*Snapshot {
	c.historyMu.RLock()
	defer c.historyMu.RUnlock()

	if n <= 0 || n > len(c.history) {
		n = len(c.history)
	}
	out := make([]*Snapshot, n)
	copy(out, c.history[len(c.history)-n:])
	return out
}

// Averages returns mean CPU and memory usage over the trailing window
func (c *Collector) Averages(window time.Duration) (cpuAvg, memAvg float64) {
	cutoff := time.Now().Add(-window)

	c.historyMu.RLock()
	defer c.historyMu.RUnlock()

	var cpuVals, memVals []float64
	for _, snap := range c.history {
		if snap.Timestamp.Before(cutoff) {
			continue
		}
		cpuVals = append(cpuVals, snap.CPUPercent)
		memVals = append(memVals, snap.MemoryPercent)
	}
	if len(cpuVals) == 0 {
		return 0, 0
	}
	return stat.Mean(cpuVals, nil), stat.Mean(memVals, nil)
}

// GetStats returns collector statistics
func (c *Collector) GetStats() map[string]interface{} {
	c.historyMu.RLock()
	historyLen := len(c.history)
	c.historyMu.RUnlock()

	stats := map[string]interface{}{
		"samples":      c.samples.Load(),
		"history_size": historyLen,
	}
	if snap := c.Latest(); snap != nil {
		stats["last_sample"] = snap.Timestamp
		stats["cpu_percent"] = snap.CPUPercent
		stats["memory_percent"] = snap.MemoryPercent
		stats["status"] = string(snap.Status())
	}
	return stats
}

func (c *Collector) fillCollaborators(snap *Snapshot) {
	if c.mining != nil {
		snap.MiningStopped = !c.mining.Running()
		snap.Hashrate = c.mining.Hashrate()
		snap.CurrentAlgorithm = c.mining.Algorithm()
		snap.Threads, snap.Intensity = c.mining.Settings()
	}
	if c.wallet != nil {
		snap.WalletDisconnected = !c.wallet.Connected()
	}
	if c.pool != nil {
		snap.PoolDisconnected = !c.pool.Connected()
	}

	c.profitMu.RLock()
	if len(c.profitability) > 0 {
		snap.Profitability = c.profitability
	}
	c.profitMu.RUnlock()
}

func (c *Collector) appendHistory(snap *Snapshot) {
	c.historyMu.Lock()
	c.history = append(c.history, snap)
	if len(c.history) > c.historySize {
		c.history = c.history[len(c.history)-c.historySize:]
	}
	c.historyMu.Unlock()
}
