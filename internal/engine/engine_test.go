package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shizukutanaka/Banto/internal/common"
	"github.com/shizukutanaka/Banto/internal/metrics"
)

func staticSnapshot(snap *metrics.Snapshot) SnapshotFunc {
	return func(context.Context) (*metrics.Snapshot, error) {
		return snap, nil
	}
}

func TestRule_CooldownInvariant(t *testing.T) {
	rule := &Rule{
		Name:     "cpu-high",
		Severity: SeverityWarning,
		Cooldown: 2 * time.Minute,
		Condition: func(snap *metrics.Snapshot) (bool, error) {
			return snap.CPUPercent > 85, nil
		},
	}

	snap := &metrics.Snapshot{CPUPercent: 96}
	now := time.Now()

	fire, err := rule.ShouldFire(snap, now)
	require.NoError(t, err)
	require.True(t, fire)
	rule.Fire(snap, now)

	// Still inside the cooldown window: must not fire again
	fire, err = rule.ShouldFire(snap, now.Add(1*time.Minute))
	require.NoError(t, err)
	assert.False(t, fire)

	// Past the cooldown window: fires again
	fire, err = rule.ShouldFire(snap, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, fire)
}

func TestRule_SuppressionGate(t *testing.T) {
	rule := &Rule{
		Name:     "mem-high",
		Severity: SeverityWarning,
		Cooldown: time.Millisecond,
		Condition: func(*metrics.Snapshot) (bool, error) {
			return true, nil
		},
	}

	snap := &metrics.Snapshot{}
	now := time.Now()

	rule.Suppress(time.Hour)
	fire, err := rule.ShouldFire(snap, now)
	require.NoError(t, err)
	assert.False(t, fire)
	assert.True(t, rule.Suppressed(now))

	// Last call wins: shrinking the window re-enables the rule
	rule.Suppress(-time.Second)
	fire, err = rule.ShouldFire(snap, time.Now())
	require.NoError(t, err)
	assert.True(t, fire)
}

func TestRule_FireBuildsTrigger(t *testing.T) {
	rule := &Rule{
		Name:      "disk-high",
		Component: "system",
		Severity:  SeverityCritical,
		Cooldown:  time.Minute,
		Message: func(snap *metrics.Snapshot) (string, map[string]interface{}) {
			return "disk almost full", map[string]interface{}{"disk_percent": snap.DiskPercent}
		},
	}

	snap := &metrics.Snapshot{DiskPercent: 97}
	trigger := rule.Fire(snap, time.Now())

	require.NotNil(t, trigger)
	assert.NotEmpty(t, trigger.ID)
	assert.Equal(t, "disk-high", trigger.Rule)
	assert.Equal(t, "system", trigger.Component)
	assert.Equal(t, SeverityCritical, trigger.Severity)
	assert.Equal(t, "disk almost full", trigger.Message)
	assert.Equal(t, 97.0, trigger.Metadata["disk_percent"])
	assert.Equal(t, uint64(1), rule.TriggerCount())
}

func TestRuleSet_EvaluateFiresAndHandles(t *testing.T) {
	logger := zaptest.NewLogger(t)
	snap := &metrics.Snapshot{CPUPercent: 90}

	var handled atomic.Uint64
	rs := NewRuleSet("test", logger, time.Second, staticSnapshot(snap),
		func(ctx context.Context, rule *Rule, trigger *Trigger) Result {
			handled.Add(1)
			return Success("handled")
		},
	)

	require.NoError(t, rs.Register(&Rule{
		Name:     "cpu",
		Cooldown: time.Hour,
		Condition: func(s *metrics.Snapshot) (bool, error) {
			return s.CPUPercent > 85, nil
		},
	}))

	rs.Evaluate(context.Background())
	assert.Equal(t, uint64(1), handled.Load())

	// Second pass inside the cooldown: no new trigger
	rs.Evaluate(context.Background())
	assert.Equal(t, uint64(1), handled.Load())

	stats := rs.GetStats()
	assert.Equal(t, uint64(2), stats["iterations"])
	assert.Equal(t, uint64(1), stats["triggers"])
}

func TestRuleSet_FailingRuleDoesNotHaltPass(t *testing.T) {
	logger := zaptest.NewLogger(t)
	snap := &metrics.Snapshot{}

	var secondEvaluated atomic.Bool
	rs := NewRuleSet("test", logger, time.Second, staticSnapshot(snap), nil)

	require.NoError(t, rs.Register(&Rule{
		Name:     "broken",
		Cooldown: time.Minute,
		Condition: func(*metrics.Snapshot) (bool, error) {
			return false, errors.New("sensor unavailable")
		},
	}))
	require.NoError(t, rs.Register(&Rule{
		Name:     "panicky",
		Cooldown: time.Minute,
		Condition: func(*metrics.Snapshot) (bool, error) {
			panic("boom")
		},
	}))
	require.NoError(t, rs.Register(&Rule{
		Name:     "healthy",
		Cooldown: time.Minute,
		Condition: func(*metrics.Snapshot) (bool, error) {
			secondEvaluated.Store(true)
			return false, nil
		},
	}))

	rs.Evaluate(context.Background())

	assert.True(t, secondEvaluated.Load(), "later rules must still run")
	stats := rs.GetStats()
	assert.Equal(t, uint64(2), stats["eval_errors"])
}

func TestRuleSet_ActionPanicContained(t *testing.T) {
	logger := zaptest.NewLogger(t)
	snap := &metrics.Snapshot{}

	rs := NewRuleSet("test", logger, time.Second, staticSnapshot(snap),
		func(ctx context.Context, rule *Rule, trigger *Trigger) Result {
			panic("action exploded")
		},
	)

	require.NoError(t, rs.Register(&Rule{
		Name:      "always",
		Cooldown:  time.Hour,
		Condition: func(*metrics.Snapshot) (bool, error) { return true, nil },
	}))

	rs.Evaluate(context.Background())

	stats := rs.GetStats()
	assert.Equal(t, uint64(1), stats["triggers"])
	assert.Equal(t, uint64(1), stats["action_failures"])
}

func TestRuleSet_NoChangeRearmsRule(t *testing.T) {
	logger := zaptest.NewLogger(t)
	snap := &metrics.Snapshot{CPUPercent: 96}

	var attempts atomic.Uint64
	rs := NewRuleSet("test", logger, time.Second, staticSnapshot(snap),
		func(ctx context.Context, rule *Rule, trigger *Trigger) Result {
			attempts.Add(1)
			return NoChange("already at floor")
		},
	)

	require.NoError(t, rs.Register(&Rule{
		Name:     "cpu",
		Cooldown: time.Hour,
		Condition: func(s *metrics.Snapshot) (bool, error) {
			return s.CPUPercent > 85, nil
		},
	}))

	// A no-change action hands the cooldown back, so the next pass tries
	// again instead of waiting out the window.
	rs.Evaluate(context.Background())
	rs.Evaluate(context.Background())
	assert.Equal(t, uint64(2), attempts.Load())

	stats := rs.GetStats()
	assert.Equal(t, uint64(2), stats["action_failures"])
}

func TestRuleSet_ReconcileRuns(t *testing.T) {
	logger := zaptest.NewLogger(t)
	snap := &metrics.Snapshot{}

	var reconciled atomic.Uint64
	rs := NewRuleSet("test", logger, time.Second, staticSnapshot(snap), nil,
		WithReconcile(func(ctx context.Context, s *metrics.Snapshot) {
			reconciled.Add(1)
		}),
	)

	rs.Evaluate(context.Background())
	rs.Evaluate(context.Background())
	assert.Equal(t, uint64(2), reconciled.Load())
}

func TestRuleSet_StartStop(t *testing.T) {
	logger := zaptest.NewLogger(t)
	snap := &metrics.Snapshot{CPUPercent: 99}

	var handled atomic.Uint64
	rs := NewRuleSet("test", logger, 20*time.Millisecond, staticSnapshot(snap),
		func(ctx context.Context, rule *Rule, trigger *Trigger) Result {
			handled.Add(1)
			return Success("ok")
		},
	)
	require.NoError(t, rs.Register(&Rule{
		Name:      "cpu",
		Cooldown:  time.Millisecond,
		Condition: func(s *metrics.Snapshot) (bool, error) { return s.CPUPercent > 90, nil },
	}))

	require.NoError(t, rs.Start())
	assert.True(t, rs.Running())
	assert.ErrorIs(t, rs.Start(), common.ErrAlreadyStarted)

	time.Sleep(100 * time.Millisecond)

	require.NoError(t, rs.Stop())
	assert.False(t, rs.Running())
	assert.ErrorIs(t, rs.Stop(), common.ErrAlreadyStopped)

	assert.Greater(t, handled.Load(), uint64(0))
}

func TestRuleSet_RegisterDuplicate(t *testing.T) {
	logger := zaptest.NewLogger(t)
	rs := NewRuleSet("test", logger, time.Second, staticSnapshot(&metrics.Snapshot{}), nil)

	rule := &Rule{Name: "dup", Cooldown: time.Minute}
	require.NoError(t, rs.Register(rule))
	assert.ErrorIs(t, rs.Register(&Rule{Name: "dup"}), common.ErrAlreadyExists)
}

func TestRuleSet_SuppressByName(t *testing.T) {
	logger := zaptest.NewLogger(t)
	snap := &metrics.Snapshot{CPUPercent: 99}

	rs := NewRuleSet("test", logger, time.Second, staticSnapshot(snap), nil)
	require.NoError(t, rs.Register(&Rule{
		Name:      "cpu",
		Cooldown:  time.Millisecond,
		Condition: func(s *metrics.Snapshot) (bool, error) { return true, nil },
	}))

	require.NoError(t, rs.Suppress("cpu", time.Hour))
	rs.Evaluate(context.Background())

	stats := rs.GetStats()
	assert.Equal(t, uint64(0), stats["triggers"])

	assert.ErrorIs(t, rs.Suppress("missing", time.Minute), common.ErrUnknownRule)
}

func BenchmarkRuleSet_Evaluate(b *testing.B) {
	logger := zaptest.NewLogger(b)
	snap := &metrics.Snapshot{CPUPercent: 50}

	rs := NewRuleSet("bench", logger, time.Second, staticSnapshot(snap), nil)
	for i := 0; i < 16; i++ {
		rs.Register(&Rule{
			Name:      "rule-" + string(rune('a'+i)),
			Cooldown:  time.Hour,
			Condition: func(s *metrics.Snapshot) (bool, error) { return s.CPUPercent > 85, nil },
		})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rs.Evaluate(context.Background())
	}
}
