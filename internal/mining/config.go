package mining

import (
	"sync"

	"github.com/shizukutanaka/Banto/internal/common"
)

// Config is the mutable mining configuration shared between the worker pool
// and the resource scaler. The scaler shrinks Threads and Intensity under
// pressure; the workers re-read both every batch.
type Config struct {
	mu        sync.RWMutex
	threads   int
	intensity float64
}

// NewConfig creates a config with validated starting values
func NewConfig(threads int, intensity float64) (*Config, error) {
	if threads < 1 {
		return nil, common.ValidationError{Field: "threads", Value: threads, Message: "must be at least 1"}
	}
	if intensity <= 0 || intensity > 1 {
		return nil, common.ValidationError{Field: "intensity", Value: intensity, Message: "must be in (0, 1]"}
	}
	return &Config{threads: threads, intensity: intensity}, nil
}

// Threads returns the current worker thread count
func (c *Config) Threads() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.threads
}

// Intensity returns the current duty-cycle intensity in (0, 1]
func (c *Config) Intensity() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.intensity
}

// Snapshot returns both settings consistently
func (c *Config) Snapshot() (threads int, intensity float64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.threads, c.intensity
}

// ReduceThreads lowers the thread count by delta, never below floor.
// Returns the new count and whether a real change happened.
func (c *Config) ReduceThreads(delta, floor int) (int, bool) {
	if floor < 1 {
		floor = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.threads - delta
	if next < floor {
		next = floor
	}
	if next == c.threads {
		return c.threads, false
	}
	c.threads = next
	return c.threads, true
}

// ScaleIntensity multiplies intensity by factor, never below floor.
// Returns the new intensity and whether a real change happened.
func (c *Config) ScaleIntensity(factor, floor float64) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.intensity * factor
	if next < floor {
		next = floor
	}
	if next == c.intensity {
		return c.intensity, false
	}
	c.intensity = next
	return c.intensity, true
}

// SetThreads overrides the thread count, used by operator paths
func (c *Config) SetThreads(threads int) error {
	if threads < 1 {
		return common.ValidationError{Field: "threads", Value: threads, Message: "must be at least 1"}
	}
	c.mu.Lock()
	c.threads = threads
	c.mu.Unlock()
	return nil
}

// SetIntensity overrides the intensity, used by operator paths
func (c *Config) SetIntensity(intensity float64) error {
	if intensity <= 0 || intensity > 1 {
		return common.ValidationError{Field: "intensity", Value: intensity, Message: "must be in (0, 1]"}
	}
	c.mu.Lock()
	c.intensity = intensity
	c.mu.Unlock()
	return nil
}
