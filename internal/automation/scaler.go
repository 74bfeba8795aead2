// Package automation backs mining load off when the host is under
// pressure. Each policy is a rule and action pair: the rule compares one
// resource reading against its threshold, the action mutates the shared
// mining configuration. Detection runs every second while action cooldowns
// are minutes long, which keeps resource usage from oscillating in steps.
package automation

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shizukutanaka/Banto/internal/common"
	"github.com/shizukutanaka/Banto/internal/engine"
	"github.com/shizukutanaka/Banto/internal/metrics"
	"github.com/shizukutanaka/Banto/internal/mining"
)

// EventScaleAction is published on every applied scaling action
const EventScaleAction = "scale_action"

// Rule names registered by the scaler
const (
	RuleCPUPressure    = "cpu-pressure"
	RuleMemoryPressure = "memory-pressure"
	RuleLoadIntensity  = "load-intensity"
)

// Config holds the scaler thresholds and cooldowns
type Config struct {
	Enabled            bool          `yaml:"enabled"`
	Interval           time.Duration `yaml:"interval"`
	CPUThreshold       float64       `yaml:"cpu_threshold"`
	CPUCooldown        time.Duration `yaml:"cpu_cooldown"`
	MemoryThreshold    float64       `yaml:"memory_threshold"`
	MemoryCooldown     time.Duration `yaml:"memory_cooldown"`
	IntensityThreshold float64       `yaml:"intensity_threshold"`
	IntensityCooldown  time.Duration `yaml:"intensity_cooldown"`
	MinThreads         int           `yaml:"min_threads"`
	MinIntensity       float64       `yaml:"min_intensity"`
	IntensityStep      float64       `yaml:"intensity_step"`
}

// DefaultConfig returns the stock scaler configuration
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		Interval:           time.Second,
		CPUThreshold:       85,
		CPUCooldown:        120 * time.Second,
		MemoryThreshold:    80,
		MemoryCooldown:     180 * time.Second,
		IntensityThreshold: 75,
		IntensityCooldown:  240 * time.Second,
		MinThreads:         1,
		MinIntensity:       0.3,
		IntensityStep:      0.9,
	}
}

// MemoryReleaser is anything whose memory the scaler may drop under
// pressure.
type MemoryReleaser interface {
	Reset() error
}

// Scaler owns the resource policies and the fast detection loop
type Scaler struct {
	logger *zap.Logger
	config Config
	mining *mining.Config
	caches []MemoryReleaser
	sink   common.EventSink
	rules  *engine.RuleSet

	threadReductions    atomic.Uint64
	intensityReductions atomic.Uint64
	memoryReleases      atomic.Uint64
}

// ScalerOption configures optional collaborators
type ScalerOption func(*Scaler)

// WithCaches registers caches to clear during memory release passes
func WithCaches(caches ...MemoryReleaser) ScalerOption {
	return func(s *Scaler) { s.caches = append(s.caches, caches...) }
}

// WithScalerEventSink publishes scaling events to the given sink
func WithScalerEventSink(sink common.EventSink) ScalerOption {
	return func(s *Scaler) { s.sink = sink }
}

// NewScaler creates the scaler. snapshot supplies the resource readings,
// miningCfg is the shared configuration the actions mutate.
func NewScaler(logger *zap.Logger, config Config, miningCfg *mining.Config, snapshot engine.SnapshotFunc, opts ...ScalerOption) (*Scaler, error) {
	if miningCfg == nil || snapshot == nil {
		return nil, common.ErrNilInput
	}
	if config.Interval <= 0 {
		config.Interval = time.Second
	}
	if config.MinThreads < 1 {
		config.MinThreads = 1
	}
	if config.MinIntensity <= 0 {
		config.MinIntensity = 0.3
	}
	if config.IntensityStep <= 0 || config.IntensityStep >= 1 {
		config.IntensityStep = 0.9
	}

	s := &Scaler{
		logger: logger,
		config: config,
		mining: miningCfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.rules = engine.NewRuleSet("scaler", logger, config.Interval, snapshot, s.handleTrigger)
	if err := s.registerPolicies(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scaler) registerPolicies() error {
	policies := []*engine.Rule{
		{
			Name:      RuleCPUPressure,
			Component: "system",
			Severity:  engine.SeverityWarning,
			Cooldown:  s.config.CPUCooldown,
			Condition: func(snap *metrics.Snapshot) (bool, error) {
				return snap.CPUPercent > s.config.CPUThreshold, nil
			},
			Message: func(snap *metrics.Snapshot) (string, map[string]interface{}) {
				return fmt.Sprintf("CPU at %.1f%%, reducing thread count", snap.CPUPercent),
					map[string]interface{}{"cpu_percent": snap.CPUPercent, "threads": snap.Threads}
			},
		},
		{
			Name:      RuleMemoryPressure,
			Component: "system",
			Severity:  engine.SeverityWarning,
			Cooldown:  s.config.MemoryCooldown,
			Condition: func(snap *metrics.Snapshot) (bool, error) {
				return snap.MemoryPercent > s.config.MemoryThreshold, nil
			},
			Message: func(snap *metrics.Snapshot) (string, map[string]interface{}) {
				return fmt.Sprintf("memory at %.1f%%, releasing caches", snap.MemoryPercent),
					map[string]interface{}{"memory_percent": snap.MemoryPercent}
			},
		},
		{
			Name:      RuleLoadIntensity,
			Component: "system",
			Severity:  engine.SeverityWarning,
			Cooldown:  s.config.IntensityCooldown,
			Condition: func(snap *metrics.Snapshot) (bool, error) {
				return snap.CPUPercent > s.config.IntensityThreshold ||
					snap.MemoryPercent > s.config.IntensityThreshold, nil
			},
			Message: func(snap *metrics.Snapshot) (string, map[string]interface{}) {
				return fmt.Sprintf("sustained load (cpu %.1f%%, mem %.1f%%), easing intensity",
						snap.CPUPercent, snap.MemoryPercent),
					map[string]interface{}{
						"cpu_percent":    snap.CPUPercent,
						"memory_percent": snap.MemoryPercent,
						"intensity":      snap.Intensity,
					}
			},
		},
	}

	for _, rule := range policies {
		if err := s.rules.Register(rule); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the detection loop
func (s *Scaler) Start() error {
	if !s.config.Enabled {
		s.logger.Info("Auto-scaling disabled")
		return nil
	}
	return s.rules.Start()
}

// Stop halts the detection loop
func (s *Scaler) Stop() error {
	if !s.config.Enabled {
		return nil
	}
	return s.rules.Stop()
}

// Evaluate drives one detection pass outside the ticker
func (s *Scaler) Evaluate(ctx context.Context) {
	s.rules.Evaluate(ctx)
}

// Suppress silences one policy for the given duration
func (s *Scaler) Suppress(rule string, d time.Duration) error {
	return s.rules.Suppress(rule, d)
}

// handleTrigger dispatches a fired policy to its action
func (s *Scaler) handleTrigger(_ context.Context, rule *engine.Rule, trigger *engine.Trigger) engine.Result {
	switch rule.Name {
	case RuleCPUPressure:
		return s.reduceThreads(trigger)
	case RuleMemoryPressure:
		return s.releaseMemory(trigger)
	case RuleLoadIntensity:
		return s.reduceIntensity(trigger)
	default:
		return engine.Failure("no action for rule " + rule.Name)
	}
}

// reduceThreads drops one worker thread, honoring the floor. Success only
// on a real change, so a pool already at the floor keeps its policy armed.
func (s *Scaler) reduceThreads(trigger *engine.Trigger) engine.Result {
	threads, changed := s.mining.ReduceThreads(1, s.config.MinThreads)
	if !changed {
		return engine.NoChange(fmt.Sprintf("thread count already at floor %d", s.config.MinThreads))
	}

	s.threadReductions.Add(1)
	s.logger.Info("Scaled thread count down",
		zap.Int("threads", threads),
		zap.String("trigger", trigger.ID),
	)
	s.publish(trigger, "reduce_threads", threads)
	return engine.Success(fmt.Sprintf("thread count reduced to %d", threads))
}

// releaseMemory forces a garbage collection pass and clears registered
// caches. Running the pass is the change, so this action always succeeds.
func (s *Scaler) releaseMemory(trigger *engine.Trigger) engine.Result {
	runtime.GC()

	cleared := 0
	for _, cache := range s.caches {
		if err := cache.Reset(); err != nil {
			s.logger.Warn("Cache reset failed", zap.Error(err))
			continue
		}
		cleared++
	}

	s.memoryReleases.Add(1)
	s.logger.Info("Released memory",
		zap.Int("caches_cleared", cleared),
		zap.String("trigger", trigger.ID),
	)
	s.publish(trigger, "release_memory", cleared)
	return engine.Success(fmt.Sprintf("gc forced, %d caches cleared", cleared))
}

// reduceIntensity eases the worker duty cycle multiplicatively, honoring
// the floor.
func (s *Scaler) reduceIntensity(trigger *engine.Trigger) engine.Result {
	intensity, changed := s.mining.ScaleIntensity(s.config.IntensityStep, s.config.MinIntensity)
	if !changed {
		return engine.NoChange(fmt.Sprintf("intensity already at floor %.2f", s.config.MinIntensity))
	}

	s.intensityReductions.Add(1)
	s.logger.Info("Scaled intensity down",
		zap.Float64("intensity", intensity),
		zap.String("trigger", trigger.ID),
	)
	s.publish(trigger, "reduce_intensity", intensity)
	return engine.Success(fmt.Sprintf("intensity reduced to %.2f", intensity))
}

func (s *Scaler) publish(trigger *engine.Trigger, action string, value interface{}) {
	if s.sink == nil {
		return
	}
	s.sink.Publish(common.Event{
		Type:   EventScaleAction,
		Source: "scaler",
		Time:   trigger.Time,
		Payload: map[string]interface{}{
			"action":  action,
			"value":   value,
			"rule":    trigger.Rule,
			"message": trigger.Message,
		},
	})
}

// GetStats returns scaler counters plus the underlying engine stats
func (s *Scaler) GetStats() map[string]interface{} {
	threads, intensity := s.mining.Snapshot()
	return map[string]interface{}{
		"enabled":              s.config.Enabled,
		"threads":              threads,
		"intensity":            intensity,
		"thread_reductions":    s.threadReductions.Load(),
		"intensity_reductions": s.intensityReductions.Load(),
		"memory_releases":      s.memoryReleases.Load(),
		"engine":               s.rules.GetStats(),
	}
}
