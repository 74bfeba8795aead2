package mining

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validation(t *testing.T) {
	_, err := NewConfig(0, 0.8)
	assert.Error(t, err)

	_, err = NewConfig(4, 1.5)
	assert.Error(t, err)

	cfg, err := NewConfig(4, 0.8)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Threads())
	assert.Equal(t, 0.8, cfg.Intensity())
}

func TestConfig_ReduceThreadsFloor(t *testing.T) {
	cfg, err := NewConfig(2, 0.8)
	require.NoError(t, err)

	threads, changed := cfg.ReduceThreads(1, 1)
	assert.True(t, changed)
	assert.Equal(t, 1, threads)

	// Already at the floor: no change reported
	threads, changed = cfg.ReduceThreads(1, 1)
	assert.False(t, changed)
	assert.Equal(t, 1, threads)
}

func TestConfig_ScaleIntensityFloor(t *testing.T) {
	cfg, err := NewConfig(4, 0.4)
	require.NoError(t, err)

	intensity, changed := cfg.ScaleIntensity(0.8, 0.3)
	assert.True(t, changed)
	assert.InDelta(t, 0.32, intensity, 1e-9)

	intensity, changed = cfg.ScaleIntensity(0.8, 0.3)
	assert.True(t, changed)
	assert.Equal(t, 0.3, intensity)

	// Clamped at the floor now
	_, changed = cfg.ScaleIntensity(0.8, 0.3)
	assert.False(t, changed)
}

func TestConfig_SetterValidation(t *testing.T) {
	cfg, err := NewConfig(4, 0.8)
	require.NoError(t, err)

	assert.Error(t, cfg.SetThreads(0))
	assert.Error(t, cfg.SetIntensity(1.2))

	require.NoError(t, cfg.SetThreads(2))
	require.NoError(t, cfg.SetIntensity(0.5))

	threads, intensity := cfg.Snapshot()
	assert.Equal(t, 2, threads)
	assert.Equal(t, 0.5, intensity)
}
