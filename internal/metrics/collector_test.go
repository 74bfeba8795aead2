package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// stubSampler fills snapshots from canned values. stale controls whether
// the produced timestamps immediately fall outside the freshness window.
type stubSampler struct {
	mu    sync.Mutex
	calls int
	cpu   float64
	mem   float64
	step  float64
	stale bool
	err   error
}

func (s *stubSampler) Sample(ctx context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.calls++
	s.cpu += s.step
	s.mem += s.step

	snap.CPUPercent = s.cpu
	snap.MemoryPercent = s.mem
	snap.Timestamp = time.Now()
	if s.stale {
		snap.Timestamp = snap.Timestamp.Add(-time.Minute)
	}
	return nil
}

func (s *stubSampler) sampleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubMining struct {
	running   bool
	hashrate  float64
	algorithm string
	threads   int
	intensity float64
}

func (s stubMining) Running() bool { return s.running }
func (s stubMining) Hashrate() float64 { return s.hashrate }
func (s stubMining) Algorithm() string { return s.algorithm }
func (s stubMining) Settings() (int, float64) { return s.threads, s.intensity }

type stubConn bool

func (s stubConn) Connected() bool { return bool(s) }

func TestCollector_LatestNilBeforeFirstSample(t *testing.T) {
	c := NewCollector(zaptest.NewLogger(t), &stubSampler{}, time.Second, 10)
	assert.Nil(t, c.Latest())
}

func TestCollector_SharesFreshSnapshots(t *testing.T) {
	sampler := &stubSampler{cpu: 40}
	c := NewCollector(zaptest.NewLogger(t), sampler, time.Hour, 10)

	first, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	second, err := c.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, sampler.sampleCount())
}

func TestCollector_ResamplesWhenStale(t *testing.T) {
	sampler := &stubSampler{stale: true}
	c := NewCollector(zaptest.NewLogger(t), sampler, time.Second, 10)

	_, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	_, err = c.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, sampler.sampleCount())
}

func TestCollector_FillsCollaboratorState(t *testing.T) {
	c := NewCollector(zaptest.NewLogger(t), &stubSampler{}, time.Hour, 10,
		WithMiningStatus(stubMining{running: false, hashrate: 1234, algorithm: "scrypt", threads: 3, intensity: 0.7}),
		WithWalletStatus(stubConn(false)),
		WithPoolStatus(stubConn(true)),
	)

	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)

	assert.True(t, snap.MiningStopped)
	assert.True(t, snap.WalletDisconnected)
	assert.False(t, snap.PoolDisconnected)
	assert.Equal(t, float64(1234), snap.Hashrate)
	assert.Equal(t, "scrypt", snap.CurrentAlgorithm)
	assert.Equal(t, 3, snap.Threads)
	assert.InDelta(t, 0.7, snap.Intensity, 1e-9)
}

func TestCollector_ProfitabilityIncludedAfterPush(t *testing.T) {
	c := NewCollector(zaptest.NewLogger(t), &stubSampler{stale: true}, time.Second, 10)

	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap.Profitability)

	c.SetProfitability(map[string]*AlgorithmProfit{
		"sha256d": {Algorithm: "sha256d", ProfitPerHour: 0.4},
	})

	snap, err = c.Snapshot(context.Background())
	require.NoError(t, err)
	require.Contains(t, snap.Profitability, "sha256d")
	assert.InDelta(t, 0.4, snap.Profitability["sha256d"].ProfitPerHour, 1e-9)
}

func TestCollector_HistoryBoundedAndAveraged(t *testing.T) {
	sampler := &stubSampler{step: 10, stale: true}
	c := NewCollector(zaptest.NewLogger(t), sampler, time.Second, 3)

	// cpu runs 10, 20, 30, 40, 50; the ring keeps the last three
	for i := 0; i < 5; i++ {
		_, err := c.Snapshot(context.Background())
		require.NoError(t, err)
	}

	history := c.History(0)
	require.Len(t, history, 3)
	assert.Equal(t, float64(30), history[0].CPUPercent)
	assert.Equal(t, float64(50), history[2].CPUPercent)

	cpuAvg, memAvg := c.Averages(time.Hour)
	assert.InDelta(t, 40, cpuAvg, 1e-9)
	assert.InDelta(t, 40, memAvg, 1e-9)
}

func TestCollector_AveragesEmptyWindow(t *testing.T) {
	c := NewCollector(zaptest.NewLogger(t), &stubSampler{}, time.Second, 10)
	cpuAvg, memAvg := c.Averages(time.Hour)
	assert.Zero(t, cpuAvg)
	assert.Zero(t, memAvg)
}

func TestCollector_SamplerErrorPropagates(t *testing.T) {
	sampler := &stubSampler{err: errors.New("probe failed")}
	c := NewCollector(zaptest.NewLogger(t), sampler, time.Second, 10)

	_, err := c.Snapshot(context.Background())
	require.Error(t, err)
	assert.Nil(t, c.Latest())
}

func TestCollector_GetStats(t *testing.T) {
	c := NewCollector(zaptest.NewLogger(t), &stubSampler{cpu: 32}, time.Hour, 10)

	stats := c.GetStats()
	assert.Equal(t, uint64(0), stats["samples"])
	assert.NotContains(t, stats, "status")

	_, err := c.Snapshot(context.Background())
	require.NoError(t, err)

	stats = c.GetStats()
	assert.Equal(t, uint64(1), stats["samples"])
	assert.Equal(t, "normal", stats["status"])
}

func TestSystemSampler_FillsSnapshot(t *testing.T) {
	sampler := NewSystemSampler(zaptest.NewLogger(t), "", 65)

	snap := &Snapshot{}
	require.NoError(t, sampler.Sample(context.Background(), snap))
	assert.False(t, snap.Timestamp.IsZero())
}
