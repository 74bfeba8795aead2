package store

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shizukutanaka/Banto/internal/engine"
	"github.com/shizukutanaka/Banto/internal/metrics"
	"github.com/shizukutanaka/Banto/internal/monitoring"
	"github.com/shizukutanaka/Banto/internal/profit"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Driver = "sqlite3"
	cfg.DSN = ":memory:"
	s, err := New(zaptest.NewLogger(t), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew_UnsupportedDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Driver = "oracle"
	s, err := New(zaptest.NewLogger(t), cfg)
	assert.Error(t, err)
	assert.Nil(t, s)
}

func TestSwitchRepository_RoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	records := []profit.SwitchRecord{
		{Time: base.Add(-2 * time.Hour), From: "sha256d", To: "scrypt", Reason: "profit 0.80 -> 1.10"},
		{Time: base.Add(-time.Hour), From: "scrypt", To: "kawpow", Reason: "profit 1.10 -> 1.40"},
		{Time: base, From: "kawpow", To: "etchash", Reason: "forced"},
	}
	for _, record := range records {
		require.NoError(t, s.Switches.Save(ctx, record))
	}

	got, err := s.Switches.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "etchash", got[0].To)
	assert.Equal(t, "sha256d", got[2].From)
	assert.WithinDuration(t, base, got[0].Time, time.Second)

	pruned, err := s.Switches.Prune(ctx, base.Add(-90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	got, err = s.Switches.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestAlertRepository_UpsertByAlertID(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	created := time.Now().UTC().Truncate(time.Second)

	alert := &monitoring.Alert{
		ID:        "cpu-critical_1700000000",
		Rule:      "cpu-critical",
		Title:     "High CPU Usage",
		Message:   "CPU usage at 96.0% exceeds the 95% threshold",
		Severity:  engine.SeverityCritical,
		Status:    monitoring.StatusActive,
		Component: "cpu",
		CreatedAt: created,
		Metadata:  map[string]interface{}{"threshold": 95.0, "value": 96.0},
	}
	require.NoError(t, s.Alerts.Save(ctx, alert))

	// The same alert resolves: the row updates in place.
	resolvedAt := created.Add(5 * time.Minute)
	alert.Status = monitoring.StatusResolved
	alert.Message = "CPU usage back to normal"
	alert.ResolvedAt = &resolvedAt
	require.NoError(t, s.Alerts.Save(ctx, alert))

	got, err := s.Alerts.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, monitoring.StatusResolved, got[0].Status)
	assert.Equal(t, "CPU usage back to normal", got[0].Message)
	require.NotNil(t, got[0].ResolvedAt)
	assert.WithinDuration(t, resolvedAt, *got[0].ResolvedAt, time.Second)
	assert.Equal(t, 95.0, got[0].Metadata["threshold"])

	other := &monitoring.Alert{
		ID:        "manual_1",
		Title:     "Operator Note",
		Severity:  engine.SeverityInfo,
		Status:    monitoring.StatusActive,
		Component: "manual",
		CreatedAt: created.Add(time.Minute),
	}
	require.NoError(t, s.Alerts.Save(ctx, other))

	active, err := s.Alerts.List(ctx, "active", 0)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "manual_1", active[0].ID)
	assert.Nil(t, active[0].ResolvedAt)
}

func TestErrorRepository_UpsertTracksOutcome(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	event := &monitoring.ErrorEvent{
		ID:        "evt-1",
		Timestamp: time.Now().UTC().Truncate(time.Second),
		Severity:  engine.SeverityError,
		Component: "miner",
		Message:   "miner is not running",
		Trace:     "goroutine 1 [running]",
	}
	require.NoError(t, s.Errors.Save(ctx, event))

	event.RecoveryAttempts = 2
	event.Resolved = true
	event.ResolvedBy = "restart-miner"
	require.NoError(t, s.Errors.Save(ctx, event))

	got, err := s.Errors.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "miner", got[0].Component)
	assert.Equal(t, 2, got[0].RecoveryAttempts)
	assert.True(t, got[0].Resolved)
	assert.Equal(t, "restart-miner", got[0].ResolvedBy)
	assert.Equal(t, "goroutine 1 [running]", got[0].Trace)
}

func TestSampleRepository_HistoryWindow(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i, cpu := range []float64{10, 20, 30} {
		snap := &metrics.Snapshot{
			Timestamp:        base.Add(time.Duration(i) * time.Minute),
			CPUPercent:       cpu,
			MemoryPercent:    50,
			MemoryUsed:       8 << 30,
			MemoryTotal:      16 << 30,
			Hashrate:         1000,
			Threads:          4,
			Intensity:        0.8,
			CurrentAlgorithm: "kawpow",
		}
		require.NoError(t, s.Samples.Save(ctx, snap))
	}

	got, err := s.Samples.History(ctx, base.Add(time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 20.0, got[0].CPUPercent)
	assert.Equal(t, 30.0, got[1].CPUPercent)
	assert.Equal(t, uint64(8<<30), got[0].MemoryUsed)
	assert.Equal(t, "kawpow", got[0].CurrentAlgorithm)

	pruned, err := s.Samples.Prune(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	require.NoError(t, s.Samples.Save(ctx, nil))
}

func TestStore_PruneAllTables(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)
	old := base.Add(-48 * time.Hour)

	require.NoError(t, s.Switches.Save(ctx, profit.SwitchRecord{Time: old, From: "a", To: "b"}))
	require.NoError(t, s.Switches.Save(ctx, profit.SwitchRecord{Time: base, From: "b", To: "c"}))
	require.NoError(t, s.Alerts.Save(ctx, &monitoring.Alert{
		ID: "old", Title: "Old", Severity: engine.SeverityInfo,
		Status: monitoring.StatusResolved, CreatedAt: old,
	}))
	require.NoError(t, s.Alerts.Save(ctx, &monitoring.Alert{
		ID: "new", Title: "New", Severity: engine.SeverityInfo,
		Status: monitoring.StatusActive, CreatedAt: base,
	}))
	require.NoError(t, s.Errors.Save(ctx, &monitoring.ErrorEvent{
		ID: "e-old", Timestamp: old, Severity: engine.SeverityWarning, Component: "x", Message: "m",
	}))
	require.NoError(t, s.Samples.Save(ctx, &metrics.Snapshot{Timestamp: old}))

	counts, err := s.Prune(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["switches"])
	assert.Equal(t, int64(1), counts["alerts"])
	assert.Equal(t, int64(1), counts["error_events"])
	assert.Equal(t, int64(1), counts["metrics_samples"])

	remaining, err := s.Alerts.List(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "new", remaining[0].ID)
}

func TestStore_Export(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.Switches.Save(ctx, profit.SwitchRecord{Time: now, From: "a", To: "b", Reason: "r"}))
	require.NoError(t, s.Alerts.Save(ctx, &monitoring.Alert{
		ID: "a1", Title: "T", Severity: engine.SeverityWarning,
		Status: monitoring.StatusActive, CreatedAt: now,
	}))
	require.NoError(t, s.Errors.Save(ctx, &monitoring.ErrorEvent{
		ID: "e1", Timestamp: now, Severity: engine.SeverityError, Component: "c", Message: "m",
	}))
	require.NoError(t, s.Samples.Save(ctx, &metrics.Snapshot{Timestamp: now, CPUPercent: 42}))

	var buf bytes.Buffer
	require.NoError(t, s.Export(ctx, &buf))

	gz, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	var doc ExportDocument
	require.NoError(t, json.NewDecoder(gz).Decode(&doc))
	require.NoError(t, gz.Close())

	assert.False(t, doc.ExportedAt.IsZero())
	assert.Len(t, doc.Switches, 1)
	assert.Len(t, doc.Alerts, 1)
	assert.Len(t, doc.Errors, 1)
	assert.Len(t, doc.Samples, 1)
	assert.Equal(t, 42.0, doc.Samples[0].CPUPercent)
}

func BenchmarkSampleSave(b *testing.B) {
	cfg := DefaultConfig()
	cfg.DSN = ":memory:"
	s, err := New(zaptest.NewLogger(b), cfg)
	if err != nil {
		b.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	snap := &metrics.Snapshot{Timestamp: time.Now(), CPUPercent: 50, Threads: 4}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := s.Samples.Save(ctx, snap); err != nil {
			b.Fatal(err)
		}
	}
}
