package profit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shizukutanaka/Banto/internal/common"
	"github.com/shizukutanaka/Banto/internal/metrics"
)

type stubEstimator struct {
	mu        sync.Mutex
	estimates map[string]*metrics.AlgorithmProfit
	err       error
}

func newStubEstimator(profits map[string]float64) *stubEstimator {
	s := &stubEstimator{estimates: make(map[string]*metrics.AlgorithmProfit)}
	for name, profit := range profits {
		s.set(name, profit)
	}
	return s
}

func (s *stubEstimator) set(name string, profit float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.estimates[name] = &metrics.AlgorithmProfit{
		Algorithm:     name,
		ProfitPerHour: profit,
		Timestamp:     time.Now(),
	}
}

func (s *stubEstimator) Estimate(context.Context) (map[string]*metrics.AlgorithmProfit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]*metrics.AlgorithmProfit, len(s.estimates))
	for name, est := range s.estimates {
		out[name] = est
	}
	return out, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []common.Event
}

func (r *recordingSink) Publish(e common.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) all() []common.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]common.Event(nil), r.events...)
}

func newTestSwitcher(t *testing.T, estimator Estimator, opts ...SwitcherOption) *Switcher {
	t.Helper()
	cfg := DefaultConfig()
	s, err := NewSwitcher(zaptest.NewLogger(t), cfg, estimator, opts...)
	require.NoError(t, err)
	return s
}

func TestSwitcher_SwitchesToBetterAlgorithm(t *testing.T) {
	estimator := newStubEstimator(map[string]float64{"sha256d": 100, "randomx": 115})
	s := newTestSwitcher(t, estimator)

	require.Equal(t, "sha256d", s.CurrentAlgorithm())

	s.Evaluate(context.Background())

	assert.Equal(t, "randomx", s.CurrentAlgorithm())

	history := s.SwitchHistory(10)
	require.Len(t, history, 1)
	assert.Equal(t, "sha256d", history[0].From)
	assert.Equal(t, "randomx", history[0].To)
	assert.Equal(t, StrategyThreshold, history[0].Reason)
}

func TestSwitcher_HoldsBelowThreshold(t *testing.T) {
	estimator := newStubEstimator(map[string]float64{"sha256d": 100, "randomx": 105})
	s := newTestSwitcher(t, estimator)

	s.Evaluate(context.Background())

	assert.Equal(t, "sha256d", s.CurrentAlgorithm())
	assert.Empty(t, s.SwitchHistory(10))
}

func TestSwitcher_HysteresisBlocksSecondSwitch(t *testing.T) {
	estimator := newStubEstimator(map[string]float64{"sha256d": 100, "randomx": 115, "scrypt": 50})
	s := newTestSwitcher(t, estimator)

	s.Evaluate(context.Background())
	require.Equal(t, "randomx", s.CurrentAlgorithm())

	// A huge jump elsewhere inside the window still cannot move the pointer
	estimator.set("scrypt", 500)
	s.Evaluate(context.Background())

	assert.Equal(t, "randomx", s.CurrentAlgorithm())
	assert.Len(t, s.SwitchHistory(0), 1)
}

func TestSwitcher_ForceSwitch(t *testing.T) {
	estimator := newStubEstimator(map[string]float64{"sha256d": 100, "randomx": 90})
	s := newTestSwitcher(t, estimator)

	require.NoError(t, s.ForceSwitch("randomx"))
	assert.Equal(t, "randomx", s.CurrentAlgorithm())

	history := s.SwitchHistory(0)
	require.Len(t, history, 1)
	assert.Equal(t, "manual", history[0].Reason)

	// Same target again is a no-op
	err := s.ForceSwitch("randomx")
	assert.ErrorIs(t, err, common.ErrNoChange)

	// Unknown algorithms are rejected outright
	err = s.ForceSwitch("kawpow")
	assert.ErrorIs(t, err, common.ErrUnknownAlgorithm)

	// The hysteresis window binds manual switches too
	err = s.ForceSwitch("sha256d")
	assert.ErrorIs(t, err, common.ErrSuppressed)
	assert.Equal(t, "randomx", s.CurrentAlgorithm())
}

func TestSwitcher_SwitchLogBounded(t *testing.T) {
	estimator := newStubEstimator(map[string]float64{"sha256d": 100})
	s := newTestSwitcher(t, estimator)

	base := time.Now()
	algos := []string{"sha256d", "randomx"}
	for i := 0; i < 150; i++ {
		rec := SwitchRecord{
			Time:   base.Add(time.Duration(i) * time.Hour),
			To:     algos[i%2],
			Reason: "test",
		}
		require.NoError(t, s.apply(rec))
	}

	history := s.SwitchHistory(0)
	assert.Len(t, history, switchHistoryCap)

	// Hysteresis invariant holds across the whole retained log
	for i := 1; i < len(history); i++ {
		gap := history[i].Time.Sub(history[i-1].Time)
		assert.GreaterOrEqual(t, gap, s.config.MinSwitchInterval)
	}
}

func TestSwitcher_HooksAndEvents(t *testing.T) {
	estimator := newStubEstimator(map[string]float64{"sha256d": 100, "randomx": 120})
	sink := &recordingSink{}

	var estimateCalls int
	var recorded []SwitchRecord
	s := newTestSwitcher(t, estimator,
		WithEventSink(sink),
		WithEstimateHook(func(map[string]*metrics.AlgorithmProfit) { estimateCalls++ }),
		WithSwitchHook(func(rec SwitchRecord) { recorded = append(recorded, rec) }),
	)

	s.Evaluate(context.Background())

	assert.Equal(t, 1, estimateCalls)
	require.Len(t, recorded, 1)
	assert.Equal(t, "randomx", recorded[0].To)

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, EventAlgorithmSwitch, events[0].Type)
	assert.Equal(t, "profit", events[0].Source)
}

func TestSwitcher_EstimatorErrorSkipsPass(t *testing.T) {
	estimator := newStubEstimator(map[string]float64{"sha256d": 100, "randomx": 150})
	estimator.err = errors.New("price api down")
	s := newTestSwitcher(t, estimator)

	s.Evaluate(context.Background())

	assert.Equal(t, "sha256d", s.CurrentAlgorithm())
	assert.Empty(t, s.SwitchHistory(0))
}

func TestSwitcher_StartStop(t *testing.T) {
	estimator := newStubEstimator(map[string]float64{"sha256d": 100})
	s := newTestSwitcher(t, estimator)

	require.NoError(t, s.Start())
	assert.ErrorIs(t, s.Start(), common.ErrAlreadyStarted)

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), common.ErrAlreadyStopped)
}

func TestSwitcher_GetStats(t *testing.T) {
	estimator := newStubEstimator(map[string]float64{"sha256d": 100, "randomx": 115})
	s := newTestSwitcher(t, estimator)

	s.Evaluate(context.Background())

	stats := s.GetStats()
	assert.Equal(t, "randomx", stats["current_algorithm"])
	assert.Equal(t, StrategyThreshold, stats["strategy"])
	assert.Equal(t, uint64(1), stats["switches"])
	assert.Contains(t, stats, "last_switch")
}

func BenchmarkSwitcherEvaluate(b *testing.B) {
	estimator := newStubEstimator(map[string]float64{
		"sha256d": 100, "randomx": 101, "scrypt": 99, "ethash": 0,
	})
	cfg := DefaultConfig()
	s, err := NewSwitcher(zaptest.NewLogger(b), cfg, estimator)
	if err != nil {
		b.Fatal(err)
	}

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Evaluate(ctx)
	}
}
