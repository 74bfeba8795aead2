package mining

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/shizukutanaka/Banto/internal/common"
)

type stubSource struct{ algorithm string }

func (s *stubSource) CurrentAlgorithm() string { return s.algorithm }

func newTestMiner(t *testing.T, threads int, maxWorkers int) *Miner {
	t.Helper()
	cfg, err := NewConfig(threads, 1.0)
	require.NoError(t, err)

	m, err := NewMiner(zaptest.NewLogger(t), cfg, &stubSource{algorithm: "sha256d"}, maxWorkers)
	require.NoError(t, err)
	t.Cleanup(func() {
		if m.Running() {
			m.Stop()
		}
	})
	return m
}

func TestNewMiner_NilInputs(t *testing.T) {
	cfg, err := NewConfig(1, 0.5)
	require.NoError(t, err)

	_, err = NewMiner(zaptest.NewLogger(t), nil, &stubSource{}, 4)
	assert.ErrorIs(t, err, common.ErrNilInput)

	_, err = NewMiner(zaptest.NewLogger(t), cfg, nil, 4)
	assert.ErrorIs(t, err, common.ErrNilInput)
}

func TestMiner_StartStop(t *testing.T) {
	m := newTestMiner(t, 1, 2)

	require.NoError(t, m.Start())
	assert.True(t, m.Running())
	assert.ErrorIs(t, m.Start(), common.ErrAlreadyStarted)

	// Workers must actually produce hashes
	require.Eventually(t, func() bool {
		return m.GetStats()["total_hashes"].(uint64) > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Stop())
	assert.False(t, m.Running())
	assert.Zero(t, m.Hashrate())
	assert.ErrorIs(t, m.Stop(), common.ErrAlreadyStopped)
}

func TestMiner_Restart(t *testing.T) {
	m := newTestMiner(t, 1, 1)

	require.NoError(t, m.Start())
	require.NoError(t, m.Restart(context.Background()))
	assert.True(t, m.Running())

	// Restart from stopped brings the workers back
	require.NoError(t, m.Stop())
	require.NoError(t, m.Restart(context.Background()))
	assert.True(t, m.Running())

	assert.Equal(t, uint64(2), m.GetStats()["restarts"])
}

func TestMiner_Passthroughs(t *testing.T) {
	m := newTestMiner(t, 2, 4)

	assert.Equal(t, "sha256d", m.Algorithm())

	threads, intensity := m.Settings()
	assert.Equal(t, 2, threads)
	assert.InDelta(t, 1.0, intensity, 1e-9)

	stats := m.GetStats()
	assert.Equal(t, 4, stats["max_workers"])
	assert.Equal(t, false, stats["running"])
}

func TestMiner_MaxWorkersAtLeastThreads(t *testing.T) {
	m := newTestMiner(t, 4, 2)
	assert.Equal(t, 4, m.GetStats()["max_workers"])
}
