package monitoring

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shizukutanaka/Banto/internal/common"
	"github.com/shizukutanaka/Banto/internal/engine"
	"github.com/shizukutanaka/Banto/internal/metrics"
	"github.com/shizukutanaka/Banto/internal/mining"
)

// EventRecovery is the event type published per recovery attempt
const EventRecovery = "recovery"

// RecoveryConfig configures the recovery manager
type RecoveryConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Interval       time.Duration `yaml:"interval"`
	RingSize       int           `yaml:"ring_size"`
	BurstLimit     int           `yaml:"burst_limit"`
	BurstWindow    time.Duration `yaml:"burst_window"`
	HealthCooldown time.Duration `yaml:"health_cooldown"`
}

// DefaultRecoveryConfig returns the recovery settings used when no
// configuration file overrides them.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		Enabled:        true,
		Interval:       30 * time.Second,
		RingSize:       1000,
		BurstLimit:     10,
		BurstWindow:    5 * time.Minute,
		HealthCooldown: time.Minute,
	}
}

// ErrorEvent records one handled error and the outcome of its recovery
type ErrorEvent struct {
	ID               string          `json:"id"`
	Timestamp        time.Time       `json:"timestamp"`
	Severity         engine.Severity `json:"severity"`
	Component        string          `json:"component"`
	Message          string          `json:"message"`
	Trace            string          `json:"trace,omitempty"`
	RecoveryAttempts int             `json:"recovery_attempts"`
	Resolved         bool            `json:"resolved"`
	ResolvedBy       string          `json:"resolved_by,omitempty"`
}

// RecoveryFunc performs one recovery attempt
type RecoveryFunc func(ctx context.Context) error

// RecoveryAction is a named recovery procedure with a per-action cooldown
// and a lifetime attempt budget. Failures never reset, so an action that
// keeps failing is eventually retired.
type RecoveryAction struct {
	Name        string
	MaxAttempts int
	Cooldown    time.Duration

	run RecoveryFunc

	mu          sync.Mutex
	lastAttempt time.Time
	successes   uint64
	failures    uint64
}

// NewRecoveryAction builds a recovery action
func NewRecoveryAction(name string, maxAttempts int, cooldown time.Duration, run RecoveryFunc) *RecoveryAction {
	return &RecoveryAction{
		Name:        name,
		MaxAttempts: maxAttempts,
		Cooldown:    cooldown,
		run:         run,
	}
}

// CanAttempt reports whether the action may run now
func (a *RecoveryAction) CanAttempt(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failures >= uint64(a.MaxAttempts) {
		return false
	}
	return a.lastAttempt.IsZero() || now.Sub(a.lastAttempt) >= a.Cooldown
}

// Attempt runs the action once. The attempt timestamp is recorded before the
// run so a slow action cannot be re-entered during its own cooldown.
func (a *RecoveryAction) Attempt(ctx context.Context, now time.Time) error {
	a.mu.Lock()
	a.lastAttempt = now
	a.mu.Unlock()

	err := common.SafeFunc(func() error { return a.run(ctx) })

	a.mu.Lock()
	if err != nil {
		a.failures++
	} else {
		a.successes++
	}
	a.mu.Unlock()
	return err
}

// Exhausted reports whether the action has used up its attempt budget
func (a *RecoveryAction) Exhausted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failures >= uint64(a.MaxAttempts)
}

// Stats returns the action counters
func (a *RecoveryAction) Stats() map[string]interface{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return map[string]interface{}{
		"successes":    a.successes,
		"failures":     a.failures,
		"max_attempts": a.MaxAttempts,
		"exhausted":    a.failures >= uint64(a.MaxAttempts),
	}
}

// Restarter restarts a mining process
type Restarter interface {
	Restart(ctx context.Context) error
}

// Reconnecter re-establishes a dropped connection
type Reconnecter interface {
	Reconnect(ctx context.Context) error
}

// CacheResetter drops cached state
type CacheResetter interface {
	Reset() error
}

// RestartMinerAction restarts the miner process
func RestartMinerAction(miner Restarter) *RecoveryAction {
	return NewRecoveryAction("restart-miner", 3, 30*time.Second, func(ctx context.Context) error {
		return miner.Restart(ctx)
	})
}

// ReconnectWalletAction re-establishes the wallet RPC connection
func ReconnectWalletAction(wallet Reconnecter) *RecoveryAction {
	return NewRecoveryAction("reconnect-wallet", 5, 10*time.Second, func(ctx context.Context) error {
		return wallet.Reconnect(ctx)
	})
}

// ClearCacheAction forces a garbage collection and resets the given caches
func ClearCacheAction(caches ...CacheResetter) *RecoveryAction {
	return NewRecoveryAction("clear-cache", 10, 5*time.Second, func(ctx context.Context) error {
		runtime.GC()
		for _, cache := range caches {
			if err := cache.Reset(); err != nil {
				return fmt.Errorf("reset cache: %w", err)
			}
		}
		return nil
	})
}

// ReduceResourcesAction halves mining threads and backs intensity off by
// 20%. It reports success even when both values are already at their floor,
// since shedding nothing is an acceptable outcome under pressure.
func ReduceResourcesAction(config *mining.Config) *RecoveryAction {
	return NewRecoveryAction("reduce-resources", 3, time.Minute, func(ctx context.Context) error {
		threads, intensity := config.Snapshot()
		if half := threads / 2; half >= 1 && half < threads {
			_ = config.SetThreads(half)
		}
		if intensity > 0.5 {
			_ = config.SetIntensity(intensity * 0.8)
		}
		return nil
	})
}

// RecoveryManager records handled errors in a bounded ring, runs the
// registered recovery actions for the failing component, and watches system
// health through its own rule set. Per-component recovery chains run before
// the catch-all "general" chain; the first successful action stops the run.
type RecoveryManager struct {
	logger *zap.Logger
	config RecoveryConfig
	health *engine.RuleSet

	mu       sync.Mutex
	events   []*ErrorEvent
	actions  map[string][]*RecoveryAction
	patterns map[string]uint64

	totalErrors    atomic.Uint64
	resolvedErrors atomic.Uint64
	criticalErrors atomic.Uint64
	burstSkips     atomic.Uint64

	sink    common.EventSink
	onError func(*ErrorEvent)
}

// RecoveryOption configures optional collaborators
type RecoveryOption func(*RecoveryManager)

// WithRecoveryEventSink publishes recovery attempts as events
func WithRecoveryEventSink(sink common.EventSink) RecoveryOption {
	return func(m *RecoveryManager) { m.sink = sink }
}

// WithErrorHook observes every handled error after recovery concludes
func WithErrorHook(fn func(*ErrorEvent)) RecoveryOption {
	return func(m *RecoveryManager) { m.onError = fn }
}

// NewRecoveryManager builds the recovery manager and its health rule set
func NewRecoveryManager(logger *zap.Logger, config RecoveryConfig, snapshot engine.SnapshotFunc, opts ...RecoveryOption) (*RecoveryManager, error) {
	if logger == nil {
		return nil, common.ErrNilInput
	}
	if snapshot == nil {
		return nil, fmt.Errorf("snapshot source: %w", common.ErrNilInput)
	}
	defaults := DefaultRecoveryConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.RingSize <= 0 {
		config.RingSize = defaults.RingSize
	}
	if config.BurstLimit <= 0 {
		config.BurstLimit = defaults.BurstLimit
	}
	if config.BurstWindow <= 0 {
		config.BurstWindow = defaults.BurstWindow
	}
	if config.HealthCooldown <= 0 {
		config.HealthCooldown = defaults.HealthCooldown
	}

	m := &RecoveryManager{
		logger:   logger.Named("recovery"),
		config:   config,
		actions:  make(map[string][]*RecoveryAction),
		patterns: make(map[string]uint64),
		sink:     common.NopSink{},
	}
	for _, opt := range opts {
		opt(m)
	}

	m.health = engine.NewRuleSet("health", logger, config.Interval, snapshot, m.handleHealth)
	for _, rule := range m.healthRules() {
		if err := m.health.Register(rule); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// healthRules watches the mining flags and hard system pressure. The
// cooldown keeps a persistent condition from tripping the burst guard and
// starving recovery of its attempts.
func (m *RecoveryManager) healthRules() []*engine.Rule {
	cooldown := m.config.HealthCooldown
	return []*engine.Rule{
		{
			Name:      "miner-down",
			Component: "miner",
			Severity:  engine.SeverityError,
			Cooldown:  cooldown,
			Condition: func(s *metrics.Snapshot) (bool, error) { return s.MiningStopped, nil },
			Message: func(s *metrics.Snapshot) (string, map[string]interface{}) {
				return "miner is not running", nil
			},
		},
		{
			Name:      "wallet-down",
			Component: "wallet",
			Severity:  engine.SeverityError,
			Cooldown:  cooldown,
			Condition: func(s *metrics.Snapshot) (bool, error) { return s.WalletDisconnected, nil },
			Message: func(s *metrics.Snapshot) (string, map[string]interface{}) {
				return "wallet connection lost", nil
			},
		},
		{
			Name:      "system-memory",
			Component: "system",
			Severity:  engine.SeverityWarning,
			Cooldown:  cooldown,
			Condition: func(s *metrics.Snapshot) (bool, error) { return s.MemoryPercent > 90, nil },
			Message: func(s *metrics.Snapshot) (string, map[string]interface{}) {
				return fmt.Sprintf("memory usage at %.1f%%", s.MemoryPercent), nil
			},
		},
		{
			Name:      "system-cpu",
			Component: "system",
			Severity:  engine.SeverityWarning,
			Cooldown:  cooldown,
			Condition: func(s *metrics.Snapshot) (bool, error) { return s.CPUPercent > 95, nil },
			Message: func(s *metrics.Snapshot) (string, map[string]interface{}) {
				return fmt.Sprintf("cpu usage at %.1f%%", s.CPUPercent), nil
			},
		},
		{
			Name:      "system-disk",
			Component: "system",
			Severity:  engine.SeverityWarning,
			Cooldown:  cooldown,
			Condition: func(s *metrics.Snapshot) (bool, error) { return s.DiskPercent > 95, nil },
			Message: func(s *metrics.Snapshot) (string, map[string]interface{}) {
				return fmt.Sprintf("disk usage at %.1f%%", s.DiskPercent), nil
			},
		},
	}
}

func (m *RecoveryManager) handleHealth(ctx context.Context, rule *engine.Rule, trigger *engine.Trigger) engine.Result {
	event := m.HandleError(ctx, trigger.Component, errors.New(trigger.Message), trigger.Severity)
	if event != nil && event.Resolved {
		return engine.Success("recovered via " + event.ResolvedBy)
	}
	return engine.Failure("unrecovered")
}

// Register adds a recovery action to a component's chain. The "general"
// chain runs for every component after its own chain.
func (m *RecoveryManager) Register(component string, action *RecoveryAction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions[component] = append(m.actions[component], action)
}

// Start launches the health watch loop
func (m *RecoveryManager) Start() error {
	if !m.config.Enabled {
		m.logger.Info("Auto recovery disabled")
		return nil
	}
	return m.health.Start()
}

// Stop halts the health watch loop
func (m *RecoveryManager) Stop() error {
	if !m.config.Enabled {
		return nil
	}
	return m.health.Stop()
}

// Evaluate runs one synchronous health pass
func (m *RecoveryManager) Evaluate(ctx context.Context) {
	m.health.Evaluate(ctx)
}

// HandleError records an error and synchronously runs the recovery chain
// for its component. Critical errors are recorded but never auto-recovered.
// A burst of errors from one component beyond the configured limit skips
// recovery so a flapping component cannot exhaust its action budgets.
func (m *RecoveryManager) HandleError(ctx context.Context, component string, err error, severity engine.Severity) *ErrorEvent {
	if err == nil {
		return nil
	}
	now := time.Now()
	event := &ErrorEvent{
		ID:        uuid.NewString(),
		Timestamp: now,
		Severity:  severity,
		Component: component,
		Message:   err.Error(),
		Trace:     string(debug.Stack()),
	}

	m.totalErrors.Add(1)
	if severity == engine.SeverityCritical {
		m.criticalErrors.Add(1)
	}

	m.mu.Lock()
	m.events = append(m.events, event)
	if len(m.events) > m.config.RingSize {
		n := copy(m.events, m.events[1:])
		m.events[n] = nil
		m.events = m.events[:n]
	}
	m.patterns[component+": "+event.Message]++
	recent := 0
	cutoff := now.Add(-m.config.BurstWindow)
	for _, e := range m.events {
		if e.Component == component && !e.Timestamp.Before(cutoff) {
			recent++
		}
	}
	m.mu.Unlock()

	m.logger.Error("Error handled",
		zap.String("error_id", event.ID),
		zap.String("component", component),
		zap.String("severity", string(severity)),
		zap.Error(err),
	)

	switch {
	case severity == engine.SeverityCritical:
		m.logger.Error("Critical error requires manual intervention",
			zap.String("error_id", event.ID))
	case recent > m.config.BurstLimit:
		m.burstSkips.Add(1)
		m.logger.Warn("Error burst detected, skipping recovery",
			zap.String("component", component),
			zap.Int("recent_errors", recent),
		)
	default:
		m.attemptRecovery(ctx, event)
	}

	if m.onError != nil {
		m.onError(event)
	}
	return event
}

// attemptRecovery runs the component chain, then the general chain,
// stopping at the first action that succeeds.
func (m *RecoveryManager) attemptRecovery(ctx context.Context, event *ErrorEvent) {
	m.mu.Lock()
	chain := make([]*RecoveryAction, 0, len(m.actions[event.Component])+len(m.actions["general"]))
	chain = append(chain, m.actions[event.Component]...)
	if event.Component != "general" {
		chain = append(chain, m.actions["general"]...)
	}
	m.mu.Unlock()

	for _, action := range chain {
		now := time.Now()
		if !action.CanAttempt(now) {
			if action.Exhausted() {
				m.logger.Debug("Recovery action exhausted",
					zap.String("action", action.Name),
					zap.String("component", event.Component),
				)
			}
			continue
		}

		err := action.Attempt(ctx, now)

		m.mu.Lock()
		event.RecoveryAttempts++
		if err == nil {
			event.Resolved = true
			event.ResolvedBy = action.Name
		}
		m.mu.Unlock()

		m.sink.Publish(common.Event{
			Type:   EventRecovery,
			Source: "recovery",
			Time:   now,
			Payload: map[string]interface{}{
				"error_id":  event.ID,
				"component": event.Component,
				"action":    action.Name,
				"ok":        err == nil,
			},
		})

		if err == nil {
			m.resolvedErrors.Add(1)
			m.logger.Info("Recovery succeeded",
				zap.String("action", action.Name),
				zap.String("component", event.Component),
				zap.String("error_id", event.ID),
			)
			return
		}
		m.logger.Warn("Recovery action failed",
			zap.String("action", action.Name),
			zap.String("component", event.Component),
			zap.Error(err),
		)
	}
}

// Errors returns up to limit recent error events in chronological order
func (m *RecoveryManager) Errors(limit int) []ErrorEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := 0
	if limit > 0 && len(m.events) > limit {
		start = len(m.events) - limit
	}
	events := make([]ErrorEvent, 0, len(m.events)-start)
	for _, event := range m.events[start:] {
		events = append(events, *event)
	}
	return events
}

// GetStats returns recovery statistics
func (m *RecoveryManager) GetStats() map[string]interface{} {
	total := m.totalErrors.Load()
	resolved := m.resolvedErrors.Load()
	rate := 0.0
	if total > 0 {
		rate = float64(resolved) / float64(total)
	}

	m.mu.Lock()
	patterns := make(map[string]uint64, len(m.patterns))
	for pattern, count := range m.patterns {
		patterns[pattern] = count
	}
	actions := make(map[string]interface{})
	for component, chain := range m.actions {
		for _, action := range chain {
			actions[component+"/"+action.Name] = action.Stats()
		}
	}
	buffered := len(m.events)
	m.mu.Unlock()

	return map[string]interface{}{
		"total_errors":    total,
		"resolved_errors": resolved,
		"critical_errors": m.criticalErrors.Load(),
		"burst_skips":     m.burstSkips.Load(),
		"recovery_rate":   rate,
		"buffered_events": buffered,
		"error_patterns":  patterns,
		"actions":         actions,
		"health":          m.health.GetStats(),
	}
}
