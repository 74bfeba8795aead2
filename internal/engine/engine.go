// Package engine provides the shared rule evaluation loop behind the
// profit switcher, the resource scaler, the alerting system and the
// recovery manager. Each subsystem owns one RuleSet: a periodically
// scheduled pass that evaluates every registered rule against the current
// metrics snapshot, executes actions for firing rules and reconciles
// open items afterwards. A failing rule or action never stops the loop.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shizukutanaka/Banto/internal/common"
	"github.com/shizukutanaka/Banto/internal/metrics"
)

// SnapshotFunc supplies the snapshot for one evaluation pass
type SnapshotFunc func(ctx context.Context) (*metrics.Snapshot, error)

// TriggerHandler executes the action for a fired rule and reports the
// outcome as an explicit result rather than a thrown failure.
type TriggerHandler func(ctx context.Context, rule *Rule, trigger *Trigger) Result

// ReconcileFunc runs after the rule pass to close out previously triggered
// items whose governing condition no longer holds (alert resolution,
// recovery bookkeeping). Engines without an open/closed lifecycle leave it
// unset.
type ReconcileFunc func(ctx context.Context, snap *metrics.Snapshot)

// Result is the explicit outcome of one action execution. Rearm asks the
// engine to hand back the cooldown window that firing consumed, so an
// action that changed nothing does not silence its rule for a full
// cooldown.
type Result struct {
	OK     bool
	Reason string
	Err    error
	Rearm  bool
}

// Success builds a successful result
func Success(reason string) Result {
	return Result{OK: true, Reason: reason}
}

// Failure builds a failed result without an underlying error
func Failure(reason string) Result {
	return Result{OK: false, Reason: reason}
}

// Errored builds a failed result from an error
func Errored(err error) Result {
	return Result{OK: false, Reason: err.Error(), Err: err}
}

// NoChange builds a failed result that rearms the rule. Used by actions
// already at their floor.
func NoChange(reason string) Result {
	return Result{OK: false, Reason: reason, Rearm: true}
}

// RuleSet runs one polling loop over a set of rules
type RuleSet struct {
	name      string
	logger    *zap.Logger
	interval  time.Duration
	snapshot  SnapshotFunc
	handler   TriggerHandler
	reconcile ReconcileFunc

	mu          sync.RWMutex
	rules       []*Rule
	rulesByName map[string]*Rule

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	iterations     atomic.Uint64
	triggers       atomic.Uint64
	actionFailures atomic.Uint64
	evalErrors     atomic.Uint64
	snapshotErrors atomic.Uint64
	lastRun        atomic.Int64
	startedAt      time.Time
}

// Option configures a RuleSet
type Option func(*RuleSet)

// WithReconcile sets the post-evaluation reconciliation hook
func WithReconcile(fn ReconcileFunc) Option {
	return func(e *RuleSet) { e.reconcile = fn }
}

// NewRuleSet creates an engine named for logging and stats. The handler may
// be nil for engines that only want trigger records via reconciliation.
func NewRuleSet(name string, logger *zap.Logger, interval time.Duration, snapshot SnapshotFunc, handler TriggerHandler, opts ...Option) *RuleSet {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	e := &RuleSet{
		name:        name,
		logger:      logger,
		interval:    interval,
		snapshot:    snapshot,
		handler:     handler,
		rulesByName: make(map[string]*Rule),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the engine name
func (e *RuleSet) Name() string {
	return e.name
}

// Register adds a rule. Rule names are unique within one engine.
func (e *RuleSet) Register(rule *Rule) error {
	if rule == nil || rule.Name == "" {
		return common.ErrInvalidInput
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.rulesByName[rule.Name]; exists {
		return fmt.Errorf("rule %s: %w", rule.Name, common.ErrAlreadyExists)
	}
	e.rules = append(e.rules, rule)
	e.rulesByName[rule.Name] = rule
	return nil
}

// Rule looks up a registered rule by name
func (e *RuleSet) Rule(name string) (*Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rule, ok := e.rulesByName[name]
	return rule, ok
}

// Rules returns the registered rules in registration order
func (e *RuleSet) Rules() []*Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Start launches the polling loop
func (e *RuleSet) Start() error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("engine %s: %w", e.name, common.ErrAlreadyStarted)
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.startedAt = time.Now()

	e.wg.Add(1)
	go e.run()

	e.logger.Info("Engine started",
		zap.String("engine", e.name),
		zap.Duration("interval", e.interval),
		zap.Int("rules", len(e.Rules())),
	)
	return nil
}

// Stop cancels the loop and waits for the current iteration to finish.
// The loop observes cancellation within one interval.
func (e *RuleSet) Stop() error {
	if !e.running.CompareAndSwap(true, false) {
		return fmt.Errorf("engine %s: %w", e.name, common.ErrAlreadyStopped)
	}

	e.cancel()
	e.wg.Wait()

	e.logger.Info("Engine stopped", zap.String("engine", e.name))
	return nil
}

// Running reports whether the loop is active
func (e *RuleSet) Running() bool {
	return e.running.Load()
}

// Suppress silences one rule for the given duration
func (e *RuleSet) Suppress(name string, d time.Duration) error {
	rule, ok := e.Rule(name)
	if !ok {
		return fmt.Errorf("%s: %w", name, common.ErrUnknownRule)
	}
	rule.Suppress(d)
	e.logger.Info("Rule suppressed",
		zap.String("engine", e.name),
		zap.String("rule", name),
		zap.Duration("duration", d),
	)
	return nil
}

func (e *RuleSet) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.Evaluate(e.ctx)
		}
	}
}

// Evaluate runs one full pass: snapshot, every rule in order, then the
// reconciliation hook. Exported so callers can drive a pass outside the
// ticker (startup warmup, tests).
func (e *RuleSet) Evaluate(ctx context.Context) {
	snap, err := e.snapshot(ctx)
	if err != nil {
		e.snapshotErrors.Add(1)
		e.logger.Warn("Snapshot failed, skipping pass",
			zap.String("engine", e.name),
			zap.Error(err),
		)
		return
	}

	// One consistent now for every gate check in this pass
	now := time.Now()

	for _, rule := range e.Rules() {
		e.evaluateRule(ctx, rule, snap, now)
	}

	if e.reconcile != nil {
		e.safeReconcile(ctx, snap)
	}

	e.iterations.Add(1)
	e.lastRun.Store(now.UnixNano())
}

// evaluateRule evaluates and possibly fires a single rule. Condition
// errors, action failures and panics are contained here so the pass
// continues with the next rule.
func (e *RuleSet) evaluateRule(ctx context.Context, rule *Rule, snap *metrics.Snapshot, now time.Time) {
	fire, err := e.safeShouldFire(rule, snap, now)
	if err != nil {
		e.evalErrors.Add(1)
		e.logger.Warn("Rule evaluation failed",
			zap.String("engine", e.name),
			zap.String("rule", rule.Name),
			zap.Error(err),
		)
		return
	}
	if !fire {
		return
	}

	prevTrigger := rule.LastTrigger()
	trigger := rule.Fire(snap, now)
	e.triggers.Add(1)

	e.logger.Debug("Rule fired",
		zap.String("engine", e.name),
		zap.String("rule", rule.Name),
		zap.String("trigger_id", trigger.ID),
	)

	if e.handler == nil {
		return
	}

	result := e.safeHandle(ctx, rule, trigger)
	if !result.OK {
		e.actionFailures.Add(1)
		if result.Rearm {
			rule.rearm(prevTrigger)
			e.logger.Debug("Action made no change, rule rearmed",
				zap.String("engine", e.name),
				zap.String("rule", rule.Name),
				zap.String("reason", result.Reason),
			)
		} else {
			e.logger.Warn("Action failed",
				zap.String("engine", e.name),
				zap.String("rule", rule.Name),
				zap.String("reason", result.Reason),
				zap.Error(result.Err),
			)
		}
	}
}

func (e *RuleSet) safeShouldFire(rule *Rule, snap *metrics.Snapshot, now time.Time) (fire bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			fire = false
			err = fmt.Errorf("condition panic: %w", common.PanicError(r))
		}
	}()
	return rule.ShouldFire(snap, now)
}

func (e *RuleSet) safeHandle(ctx context.Context, rule *Rule, trigger *Trigger) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Errored(fmt.Errorf("action panic: %w", common.PanicError(r)))
		}
	}()
	return e.handler(ctx, rule, trigger)
}

func (e *RuleSet) safeReconcile(ctx context.Context, snap *metrics.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Reconcile panic",
				zap.String("engine", e.name),
				zap.Error(common.PanicError(r)),
			)
		}
	}()
	e.reconcile(ctx, snap)
}

// GetStats returns engine counters plus per-rule statistics
func (e *RuleSet) GetStats() map[string]interface{} {
	ruleStats := make(map[string]interface{})
	for _, rule := range e.Rules() {
		ruleStats[rule.Name] = rule.Stats()
	}

	stats := map[string]interface{}{
		"engine":          e.name,
		"running":         e.running.Load(),
		"interval":        e.interval.String(),
		"iterations":      e.iterations.Load(),
		"triggers":        e.triggers.Load(),
		"action_failures": e.actionFailures.Load(),
		"eval_errors":     e.evalErrors.Load(),
		"snapshot_errors": e.snapshotErrors.Load(),
		"rules":           ruleStats,
	}
	if e.running.Load() {
		stats["started_at"] = e.startedAt
	}
	if last := e.lastRun.Load(); last > 0 {
		stats["last_run"] = time.Unix(0, last)
	}
	return stats
}
