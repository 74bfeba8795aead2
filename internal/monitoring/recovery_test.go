package monitoring

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shizukutanaka/Banto/internal/engine"
	"github.com/shizukutanaka/Banto/internal/metrics"
	"github.com/shizukutanaka/Banto/internal/mining"
)

var errAlways = errors.New("still broken")

type stubRestarter struct {
	calls atomic.Uint64
	err   error
}

func (s *stubRestarter) Restart(ctx context.Context) error {
	s.calls.Add(1)
	return s.err
}

type stubResetter struct {
	resets atomic.Uint64
	err    error
}

func (s *stubResetter) Reset() error {
	s.resets.Add(1)
	return s.err
}

// orderedAction records the order recovery actions run in
type orderedAction struct {
	mu    sync.Mutex
	order []string
}

func (o *orderedAction) action(name string, err error) *RecoveryAction {
	return NewRecoveryAction(name, 100, 0, func(ctx context.Context) error {
		o.mu.Lock()
		o.order = append(o.order, name)
		o.mu.Unlock()
		return err
	})
}

func (o *orderedAction) ran() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.order...)
}

func newTestRecovery(t *testing.T, cfg RecoveryConfig, snap *metrics.Snapshot, opts ...RecoveryOption) *RecoveryManager {
	t.Helper()
	m, err := NewRecoveryManager(zaptest.NewLogger(t), cfg, staticSnapshot(snap), opts...)
	require.NoError(t, err)
	return m
}

func TestRecoveryAction_ExhaustionIsPermanent(t *testing.T) {
	action := NewRecoveryAction("flaky", 3, 0, func(ctx context.Context) error { return errAlways })
	now := time.Now()

	for i := 0; i < 3; i++ {
		require.True(t, action.CanAttempt(now))
		assert.Error(t, action.Attempt(context.Background(), now))
	}

	// Three failures burn the whole budget. No amount of elapsed time
	// re-arms the action.
	assert.True(t, action.Exhausted())
	assert.False(t, action.CanAttempt(now.Add(24*time.Hour)))
	assert.True(t, action.Stats()["exhausted"].(bool))
}

func TestRecoveryAction_CooldownGate(t *testing.T) {
	action := NewRecoveryAction("steady", 3, time.Hour, func(ctx context.Context) error { return nil })
	now := time.Now()

	require.True(t, action.CanAttempt(now))
	require.NoError(t, action.Attempt(context.Background(), now))

	assert.False(t, action.CanAttempt(now.Add(time.Minute)))
	assert.True(t, action.CanAttempt(now.Add(2*time.Hour)))

	// Successes never count against the attempt budget.
	for i := 0; i < 5; i++ {
		require.NoError(t, action.Attempt(context.Background(), now.Add(time.Duration(i+3)*time.Hour)))
	}
	assert.False(t, action.Exhausted())
}

func TestRecoveryAction_PanicIsContained(t *testing.T) {
	action := NewRecoveryAction("panicky", 3, 0, func(ctx context.Context) error { panic("boom") })

	err := action.Attempt(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRecoveryManager_ComponentChainRunsBeforeGeneral(t *testing.T) {
	tracker := &orderedAction{}
	m := newTestRecovery(t, DefaultRecoveryConfig(), &metrics.Snapshot{})
	m.Register("miner", tracker.action("miner-fix", errAlways))
	m.Register("general", tracker.action("general-fix", nil))

	event := m.HandleError(context.Background(), "miner", errAlways, engine.SeverityError)

	require.NotNil(t, event)
	assert.Equal(t, []string{"miner-fix", "general-fix"}, tracker.ran())
	assert.True(t, event.Resolved)
	assert.Equal(t, "general-fix", event.ResolvedBy)
	assert.Equal(t, 2, event.RecoveryAttempts)
	assert.Equal(t, uint64(1), m.GetStats()["resolved_errors"])
}

func TestRecoveryManager_FirstSuccessStopsTheChain(t *testing.T) {
	tracker := &orderedAction{}
	m := newTestRecovery(t, DefaultRecoveryConfig(), &metrics.Snapshot{})
	m.Register("miner", tracker.action("first", nil))
	m.Register("miner", tracker.action("second", nil))
	m.Register("general", tracker.action("fallback", nil))

	event := m.HandleError(context.Background(), "miner", errAlways, engine.SeverityError)

	assert.Equal(t, []string{"first"}, tracker.ran())
	assert.Equal(t, "first", event.ResolvedBy)
	assert.Equal(t, 1, event.RecoveryAttempts)
}

func TestRecoveryManager_CriticalErrorsAreNotAutoRecovered(t *testing.T) {
	tracker := &orderedAction{}
	m := newTestRecovery(t, DefaultRecoveryConfig(), &metrics.Snapshot{})
	m.Register("miner", tracker.action("miner-fix", nil))

	event := m.HandleError(context.Background(), "miner", errAlways, engine.SeverityCritical)

	assert.Empty(t, tracker.ran())
	assert.False(t, event.Resolved)
	stats := m.GetStats()
	assert.Equal(t, uint64(1), stats["critical_errors"])
	assert.Equal(t, uint64(0), stats["resolved_errors"])
}

func TestRecoveryManager_ErrorBurstSkipsRecovery(t *testing.T) {
	cfg := DefaultRecoveryConfig()
	cfg.BurstLimit = 2
	tracker := &orderedAction{}
	m := newTestRecovery(t, cfg, &metrics.Snapshot{})
	m.Register("pool", tracker.action("pool-fix", errAlways))

	for i := 0; i < 3; i++ {
		m.HandleError(context.Background(), "pool", errAlways, engine.SeverityError)
	}

	// The third error in the window exceeds the limit and is recorded
	// without an attempt.
	assert.Len(t, tracker.ran(), 2)
	assert.Equal(t, uint64(1), m.GetStats()["burst_skips"])

	// Another component is unaffected by the pool burst.
	m.HandleError(context.Background(), "wallet", errAlways, engine.SeverityError)
	assert.Equal(t, uint64(1), m.GetStats()["burst_skips"])
}

func TestRecoveryManager_EventRingIsBounded(t *testing.T) {
	cfg := DefaultRecoveryConfig()
	cfg.RingSize = 5
	m := newTestRecovery(t, cfg, &metrics.Snapshot{})

	for i := 0; i < 7; i++ {
		m.HandleError(context.Background(), "misc", errors.New(string(rune('a'+i))), engine.SeverityWarning)
	}

	events := m.Errors(0)
	require.Len(t, events, 5)
	assert.Equal(t, "c", events[0].Message)
	assert.Equal(t, "g", events[4].Message)
	assert.Len(t, m.Errors(2), 2)
	assert.Equal(t, uint64(7), m.GetStats()["total_errors"])
}

func TestRecoveryManager_HealthWatchTriggersRecovery(t *testing.T) {
	restarter := &stubRestarter{}
	snap := &metrics.Snapshot{MiningStopped: true}
	m := newTestRecovery(t, DefaultRecoveryConfig(), snap)
	m.Register("miner", RestartMinerAction(restarter))

	m.Evaluate(context.Background())

	require.Equal(t, uint64(1), restarter.calls.Load())
	events := m.Errors(0)
	require.Len(t, events, 1)
	assert.Equal(t, "miner", events[0].Component)
	assert.True(t, events[0].Resolved)
	assert.Equal(t, "restart-miner", events[0].ResolvedBy)

	// The health rule is inside its cooldown, so an immediate second pass
	// does not re-report.
	m.Evaluate(context.Background())
	assert.Len(t, m.Errors(0), 1)
}

func TestRecoveryManager_SystemPressureReportedAsSystem(t *testing.T) {
	snap := &metrics.Snapshot{MemoryPercent: 91, CPUPercent: 96}
	m := newTestRecovery(t, DefaultRecoveryConfig(), snap)

	m.Evaluate(context.Background())

	events := m.Errors(0)
	require.Len(t, events, 2)
	for _, event := range events {
		assert.Equal(t, "system", event.Component)
		assert.Equal(t, engine.SeverityWarning, event.Severity)
	}
}

func TestReduceResourcesAction(t *testing.T) {
	miningCfg, err := mining.NewConfig(8, 1.0)
	require.NoError(t, err)
	action := ReduceResourcesAction(miningCfg)

	now := time.Now()
	require.NoError(t, action.Attempt(context.Background(), now))
	threads, intensity := miningCfg.Snapshot()
	assert.Equal(t, 4, threads)
	assert.InDelta(t, 0.8, intensity, 1e-9)

	require.NoError(t, action.Attempt(context.Background(), now.Add(2*time.Minute)))
	threads, intensity = miningCfg.Snapshot()
	assert.Equal(t, 2, threads)
	assert.InDelta(t, 0.64, intensity, 1e-9)

	// At one thread and low intensity there is nothing left to shed, and
	// that still counts as success.
	single, err := mining.NewConfig(1, 0.4)
	require.NoError(t, err)
	floor := ReduceResourcesAction(single)
	require.NoError(t, floor.Attempt(context.Background(), now))
	threads, intensity = single.Snapshot()
	assert.Equal(t, 1, threads)
	assert.InDelta(t, 0.4, intensity, 1e-9)
}

func TestClearCacheAction(t *testing.T) {
	healthy := &stubResetter{}
	action := ClearCacheAction(healthy)
	require.NoError(t, action.Attempt(context.Background(), time.Now()))
	assert.Equal(t, uint64(1), healthy.resets.Load())

	broken := &stubResetter{err: errAlways}
	failing := ClearCacheAction(broken)
	assert.Error(t, failing.Attempt(context.Background(), time.Now()))
}

func BenchmarkHandleError(b *testing.B) {
	m, err := NewRecoveryManager(zaptest.NewLogger(b), DefaultRecoveryConfig(),
		staticSnapshot(&metrics.Snapshot{}))
	if err != nil {
		b.Fatal(err)
	}
	m.Register("general", NewRecoveryAction("noop", 1, 0, func(ctx context.Context) error { return nil }))
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.HandleError(ctx, "bench", errAlways, engine.SeverityWarning)
	}
}
