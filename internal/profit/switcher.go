// Package profit estimates per-algorithm profitability and moves the
// current-algorithm pointer when a configured strategy says a candidate
// earns enough more to justify the switch. Hysteresis keeps the pointer
// from thrashing: no two switches land closer together than the minimum
// switch interval, whatever the strategy or the inputs say.
package profit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shizukutanaka/Banto/internal/common"
	"github.com/shizukutanaka/Banto/internal/engine"
	"github.com/shizukutanaka/Banto/internal/metrics"
)

// EventAlgorithmSwitch is published on every applied switch
const EventAlgorithmSwitch = "algorithm_switch"

const switchHistoryCap = 100

// Config holds the switcher tunables
type Config struct {
	Strategy          string        `yaml:"strategy"`
	UpdateInterval    time.Duration `yaml:"update_interval"`
	SwitchThreshold   float64       `yaml:"switch_threshold"`
	MinSwitchInterval time.Duration `yaml:"min_switch_interval"`
	TrendHorizon      float64       `yaml:"trend_horizon"`
	TrendMargin       float64       `yaml:"trend_margin"`
	DefaultAlgorithm  string        `yaml:"default_algorithm"`
	ElectricityCost   float64       `yaml:"electricity_cost"`
	HistorySize       int           `yaml:"history_size"`

	// Prices pins coin prices in USD per symbol. When set, estimation
	// runs offline on these instead of fetching live quotes.
	Prices map[string]float64 `yaml:"prices,omitempty"`
}

// DefaultConfig returns the stock switcher configuration
func DefaultConfig() Config {
	return Config{
		Strategy:          StrategyThreshold,
		UpdateInterval:    60 * time.Second,
		SwitchThreshold:   DefaultSwitchThreshold,
		MinSwitchInterval: 5 * time.Minute,
		TrendHorizon:      DefaultTrendHorizon,
		TrendMargin:       DefaultTrendMargin,
		DefaultAlgorithm:  "sha256d",
		ElectricityCost:   DefaultElectricityCost,
		HistorySize:       120,
	}
}

// SwitchRecord is one entry in the bounded switch history log
type SwitchRecord struct {
	Time   time.Time `json:"time"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Reason string    `json:"reason"`
}

// Switcher owns the current-algorithm pointer. Decisions run inside its
// rule engine pass; the mining workers only ever read the pointer through
// CurrentAlgorithm, which satisfies the miner's algorithm source.
type Switcher struct {
	logger    *zap.Logger
	config    Config
	estimator Estimator
	strategy  Strategy
	history   *History
	rules     *engine.RuleSet

	sink        common.EventSink
	onEstimates func(map[string]*metrics.AlgorithmProfit)
	onSwitch    func(SwitchRecord)

	mu         sync.RWMutex
	current    string
	lastSwitch time.Time
	estimates  map[string]*metrics.AlgorithmProfit
	switches   []SwitchRecord
	pending    *SwitchRecord

	cycles      atomic.Uint64
	switchCount atomic.Uint64
	forced      atomic.Uint64
}

// SwitcherOption configures optional collaborators
type SwitcherOption func(*Switcher)

// WithEventSink publishes switch events to the given sink
func WithEventSink(sink common.EventSink) SwitcherOption {
	return func(s *Switcher) { s.sink = sink }
}

// WithEstimateHook is called with every fresh estimate set, before the
// switch decision runs. The collector uses it to include profitability in
// system snapshots.
func WithEstimateHook(fn func(map[string]*metrics.AlgorithmProfit)) SwitcherOption {
	return func(s *Switcher) { s.onEstimates = fn }
}

// WithSwitchHook is called after every applied switch. Used for
// persistence.
func WithSwitchHook(fn func(SwitchRecord)) SwitcherOption {
	return func(s *Switcher) { s.onSwitch = fn }
}

// NewSwitcher creates a switcher starting on the configured default
// algorithm.
func NewSwitcher(logger *zap.Logger, config Config, estimator Estimator, opts ...SwitcherOption) (*Switcher, error) {
	if estimator == nil {
		return nil, common.ErrNilInput
	}
	if config.UpdateInterval <= 0 {
		config.UpdateInterval = 60 * time.Second
	}
	if config.MinSwitchInterval <= 0 {
		config.MinSwitchInterval = 5 * time.Minute
	}
	if config.DefaultAlgorithm == "" {
		config.DefaultAlgorithm = "sha256d"
	}

	strategy, err := NewStrategy(config.Strategy, config.SwitchThreshold, config.TrendHorizon, config.TrendMargin)
	if err != nil {
		return nil, err
	}

	s := &Switcher{
		logger:    logger,
		config:    config,
		estimator: estimator,
		strategy:  strategy,
		history:   NewHistory(config.HistorySize),
		current:   config.DefaultAlgorithm,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.rules = engine.NewRuleSet("profit", logger, config.UpdateInterval, s.refresh, s.handleTrigger)
	rule := &engine.Rule{
		Name:      "algorithm-switch",
		Component: "profit",
		Severity:  engine.SeverityInfo,
		Condition: s.switchNeeded,
		Message:   s.describePending,
	}
	if err := s.rules.Register(rule); err != nil {
		return nil, err
	}

	logger.Info("Profit switcher initialized",
		zap.String("strategy", strategy.Name()),
		zap.String("algorithm", s.current),
		zap.Duration("min_switch_interval", config.MinSwitchInterval),
	)
	return s, nil
}

// Start launches the evaluation loop
func (s *Switcher) Start() error {
	return s.rules.Start()
}

// Stop halts the evaluation loop
func (s *Switcher) Stop() error {
	return s.rules.Stop()
}

// Evaluate drives one decision pass outside the ticker
func (s *Switcher) Evaluate(ctx context.Context) {
	s.rules.Evaluate(ctx)
}

// CurrentAlgorithm returns the algorithm mining should run right now
func (s *Switcher) CurrentAlgorithm() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Estimates returns the latest per-algorithm estimates
func (s *Switcher) Estimates() map[string]*metrics.AlgorithmProfit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*metrics.AlgorithmProfit, len(s.estimates))
	for name, est := range s.estimates {
		out[name] = est
	}
	return out
}

// SwitchHistory returns up to limit most recent switches, oldest first
func (s *Switcher) SwitchHistory(limit int) []SwitchRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.switches) {
		limit = len(s.switches)
	}
	out := make([]SwitchRecord, limit)
	copy(out, s.switches[len(s.switches)-limit:])
	return out
}

// ForceSwitch moves the pointer to the named algorithm. The hysteresis
// window still applies: a forced switch inside it is rejected, keeping the
// switch log free of close pairs.
func (s *Switcher) ForceSwitch(algorithm string) error {
	if !s.known(algorithm) {
		return fmt.Errorf("%s: %w", algorithm, common.ErrUnknownAlgorithm)
	}
	if s.CurrentAlgorithm() == algorithm {
		return fmt.Errorf("already mining %s: %w", algorithm, common.ErrNoChange)
	}

	if err := s.apply(SwitchRecord{Time: time.Now(), To: algorithm, Reason: "manual"}); err != nil {
		return err
	}
	s.forced.Add(1)
	return nil
}

// GetStats returns switcher statistics
func (s *Switcher) GetStats() map[string]interface{} {
	s.mu.RLock()
	current := s.current
	lastSwitch := s.lastSwitch
	recorded := len(s.switches)
	s.mu.RUnlock()

	stats := map[string]interface{}{
		"current_algorithm": current,
		"strategy":          s.strategy.Name(),
		"cycles":            s.cycles.Load(),
		"switches":          s.switchCount.Load(),
		"forced_switches":   s.forced.Load(),
		"recorded_switches": recorded,
		"engine":            s.rules.GetStats(),
	}
	if !lastSwitch.IsZero() {
		stats["last_switch"] = lastSwitch
	}
	return stats
}

// refresh produces the snapshot for one decision pass: fresh estimates,
// history appended, hooks notified.
func (s *Switcher) refresh(ctx context.Context) (*metrics.Snapshot, error) {
	estimates, err := s.estimator.Estimate(ctx)
	if err != nil {
		return nil, err
	}
	s.cycles.Add(1)

	for name, est := range estimates {
		s.history.Append(name, est.ProfitPerHour)
	}

	s.mu.Lock()
	s.estimates = estimates
	current := s.current
	s.mu.Unlock()

	if s.onEstimates != nil {
		s.onEstimates(estimates)
	}

	return &metrics.Snapshot{
		Timestamp:        time.Now(),
		CurrentAlgorithm: current,
		Profitability:    estimates,
	}, nil
}

// switchNeeded is the rule condition: it computes the pending decision for
// this pass and reports whether there is one.
func (s *Switcher) switchNeeded(snap *metrics.Snapshot) (bool, error) {
	decision := s.decide(snap)

	s.mu.Lock()
	s.pending = decision
	s.mu.Unlock()

	return decision != nil, nil
}

// decide runs the full decision procedure: hysteresis gate, then best
// candidate, then the strategy comparison.
func (s *Switcher) decide(snap *metrics.Snapshot) *SwitchRecord {
	estimates := snap.Profitability
	if len(estimates) == 0 {
		return nil
	}

	now := snap.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	s.mu.RLock()
	current := s.current
	lastSwitch := s.lastSwitch
	s.mu.RUnlock()

	if !lastSwitch.IsZero() && now.Sub(lastSwitch) < s.config.MinSwitchInterval {
		return nil
	}

	best := bestAlgorithm(estimates)
	if best == "" || best == current {
		return nil
	}

	currentEst, ok := estimates[current]
	if !ok {
		// Nothing to compare against; only an unset pointer may move
		if current == "" {
			return &SwitchRecord{Time: now, To: best, Reason: "initial"}
		}
		return nil
	}

	if !s.strategy.ShouldSwitch(currentEst, estimates[best], s.history) {
		return nil
	}
	return &SwitchRecord{Time: now, From: current, To: best, Reason: s.strategy.Name()}
}

// describePending builds the trigger message from the decision computed by
// switchNeeded in the same pass.
func (s *Switcher) describePending(snap *metrics.Snapshot) (string, map[string]interface{}) {
	s.mu.RLock()
	rec := s.pending
	estimates := s.estimates
	s.mu.RUnlock()

	if rec == nil {
		return "algorithm switch requested", nil
	}

	metadata := map[string]interface{}{
		"from":   rec.From,
		"to":     rec.To,
		"reason": rec.Reason,
	}
	if est, ok := estimates[rec.From]; ok {
		metadata["current_profit"] = est.ProfitPerHour
	}
	if est, ok := estimates[rec.To]; ok {
		metadata["candidate_profit"] = est.ProfitPerHour
	}
	return fmt.Sprintf("switching algorithm %s -> %s (%s)", rec.From, rec.To, rec.Reason), metadata
}

// handleTrigger applies the pending decision as the rule action
func (s *Switcher) handleTrigger(_ context.Context, _ *engine.Rule, trigger *engine.Trigger) engine.Result {
	s.mu.Lock()
	rec := s.pending
	s.pending = nil
	s.mu.Unlock()

	if rec == nil {
		return engine.Failure("no pending switch")
	}

	rec.Time = trigger.Time
	if err := s.apply(*rec); err != nil {
		return engine.Errored(err)
	}
	return engine.Success(fmt.Sprintf("switched to %s", rec.To))
}

// apply is the single mutation path for the current-algorithm pointer. It
// re-checks hysteresis under the lock so racing callers cannot squeeze two
// switches inside one window.
func (s *Switcher) apply(rec SwitchRecord) error {
	s.mu.Lock()
	if !s.lastSwitch.IsZero() && rec.Time.Sub(s.lastSwitch) < s.config.MinSwitchInterval {
		remaining := s.config.MinSwitchInterval - rec.Time.Sub(s.lastSwitch)
		s.mu.Unlock()
		return fmt.Errorf("switch to %s rejected, %s left in hysteresis window: %w",
			rec.To, remaining.Round(time.Second), common.ErrSuppressed)
	}

	rec.From = s.current
	s.current = rec.To
	s.lastSwitch = rec.Time
	s.switches = append(s.switches, rec)
	if len(s.switches) > switchHistoryCap {
		s.switches = s.switches[len(s.switches)-switchHistoryCap:]
	}
	s.mu.Unlock()

	s.switchCount.Add(1)
	s.logger.Info("Algorithm switched",
		zap.String("from", rec.From),
		zap.String("to", rec.To),
		zap.String("reason", rec.Reason),
	)

	if s.sink != nil {
		s.sink.Publish(common.Event{
			Type:   EventAlgorithmSwitch,
			Source: "profit",
			Time:   rec.Time,
			Payload: map[string]interface{}{
				"from":   rec.From,
				"to":     rec.To,
				"reason": rec.Reason,
			},
		})
	}
	if s.onSwitch != nil {
		s.onSwitch(rec)
	}
	return nil
}

// known reports whether an algorithm name is part of the estimate universe
func (s *Switcher) known(algorithm string) bool {
	s.mu.RLock()
	_, ok := s.estimates[algorithm]
	s.mu.RUnlock()
	if ok {
		return true
	}
	_, ok = defaultEconomics[algorithm]
	return ok
}

// bestAlgorithm picks the highest earner, breaking ties by name so map
// iteration order never flips the answer.
func bestAlgorithm(estimates map[string]*metrics.AlgorithmProfit) string {
	best := ""
	bestProfit := 0.0
	for name, est := range estimates {
		if best == "" || est.ProfitPerHour > bestProfit ||
			(est.ProfitPerHour == bestProfit && name < best) {
			best = name
			bestProfit = est.ProfitPerHour
		}
	}
	return best
}
