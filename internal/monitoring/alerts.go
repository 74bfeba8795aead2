package monitoring

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/shizukutanaka/Banto/internal/common"
	"github.com/shizukutanaka/Banto/internal/engine"
	"github.com/shizukutanaka/Banto/internal/metrics"
)

// EventAlert is the event type published on alert transitions
const EventAlert = "alert"

// AlertStatus is the lifecycle state of an alert
type AlertStatus string

const (
	StatusActive     AlertStatus = "active"
	StatusResolved   AlertStatus = "resolved"
	StatusSuppressed AlertStatus = "suppressed"
)

// Alert is one alert instance. Rule-driven alerts are keyed by their rule
// name in the active set, so a persisting condition refreshes the existing
// alert instead of duplicating it.
type Alert struct {
	ID         string                 `json:"id"`
	Rule       string                 `json:"rule,omitempty"`
	Title      string                 `json:"title"`
	Message    string                 `json:"message"`
	Severity   engine.Severity        `json:"severity"`
	Status     AlertStatus            `json:"status"`
	Component  string                 `json:"component"`
	CreatedAt  time.Time              `json:"created_at"`
	ResolvedAt *time.Time             `json:"resolved_at,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// AlertConfig configures the alert manager
type AlertConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`

	CPUWarning     float64 `yaml:"cpu_warning"`
	CPUCritical    float64 `yaml:"cpu_critical"`
	MemoryWarning  float64 `yaml:"memory_warning"`
	MemoryCritical float64 `yaml:"memory_critical"`
	DiskWarning    float64 `yaml:"disk_warning"`
	DiskCritical   float64 `yaml:"disk_critical"`
	TempWarning    float64 `yaml:"temp_warning"`
	TempCritical   float64 `yaml:"temp_critical"`

	WarningCooldown  time.Duration `yaml:"warning_cooldown"`
	CriticalCooldown time.Duration `yaml:"critical_cooldown"`
	AckSuppression   time.Duration `yaml:"ack_suppression"`

	NotifyRetries int           `yaml:"notify_retries"`
	NotifyBackoff time.Duration `yaml:"notify_backoff"`
	NotifyTimeout time.Duration `yaml:"notify_timeout"`

	HistorySize int `yaml:"history_size"`
}

// DefaultAlertConfig returns the alert thresholds and cadences used when no
// configuration file overrides them.
func DefaultAlertConfig() AlertConfig {
	return AlertConfig{
		Enabled:          true,
		Interval:         30 * time.Second,
		CPUWarning:       85,
		CPUCritical:      95,
		MemoryWarning:    80,
		MemoryCritical:   90,
		DiskWarning:      85,
		DiskCritical:     95,
		TempWarning:      70,
		TempCritical:     80,
		WarningCooldown:  5 * time.Minute,
		CriticalCooldown: 10 * time.Minute,
		AckSuppression:   time.Hour,
		NotifyRetries:    3,
		NotifyBackoff:    2 * time.Second,
		NotifyTimeout:    10 * time.Second,
		HistorySize:      1000,
	}
}

// AlertManager evaluates alert rules against metrics snapshots, maintains
// the active alert set, and dispatches notifications. Active alerts are
// keyed by rule name; manual alerts are keyed by their own ID.
type AlertManager struct {
	logger *zap.Logger
	config AlertConfig
	engine *engine.RuleSet

	notifiers   []Notifier
	sink        common.EventSink
	onAlert     func(*Alert)
	countNotify func(channel string, ok bool)

	mu          sync.Mutex
	active      map[string]*Alert
	history     []*Alert
	titles      map[string]string
	total       uint64
	bySeverity  map[engine.Severity]uint64
	byComponent map[string]uint64

	notificationsSent   atomic.Uint64
	notificationsFailed atomic.Uint64
}

// AlertOption configures optional collaborators
type AlertOption func(*AlertManager)

// WithNotifiers registers notification channels
func WithNotifiers(notifiers ...Notifier) AlertOption {
	return func(m *AlertManager) { m.notifiers = append(m.notifiers, notifiers...) }
}

// WithAlertEventSink publishes alert transitions as events
func WithAlertEventSink(sink common.EventSink) AlertOption {
	return func(m *AlertManager) { m.sink = sink }
}

// WithAlertHook observes every alert state change, for persistence
func WithAlertHook(fn func(*Alert)) AlertOption {
	return func(m *AlertManager) { m.onAlert = fn }
}

// WithNotifyCounter observes notification outcomes per channel
func WithNotifyCounter(fn func(channel string, ok bool)) AlertOption {
	return func(m *AlertManager) { m.countNotify = fn }
}

// NewAlertManager builds the alert manager with the default rule set
func NewAlertManager(logger *zap.Logger, config AlertConfig, snapshot engine.SnapshotFunc, opts ...AlertOption) (*AlertManager, error) {
	if logger == nil {
		return nil, common.ErrNilInput
	}
	if snapshot == nil {
		return nil, fmt.Errorf("snapshot source: %w", common.ErrNilInput)
	}
	defaults := DefaultAlertConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.WarningCooldown <= 0 {
		config.WarningCooldown = defaults.WarningCooldown
	}
	if config.CriticalCooldown <= 0 {
		config.CriticalCooldown = defaults.CriticalCooldown
	}
	if config.AckSuppression <= 0 {
		config.AckSuppression = defaults.AckSuppression
	}
	if config.NotifyRetries <= 0 {
		config.NotifyRetries = defaults.NotifyRetries
	}
	if config.NotifyBackoff <= 0 {
		config.NotifyBackoff = defaults.NotifyBackoff
	}
	if config.NotifyTimeout <= 0 {
		config.NotifyTimeout = defaults.NotifyTimeout
	}
	if config.HistorySize <= 0 {
		config.HistorySize = defaults.HistorySize
	}

	m := &AlertManager{
		logger:      logger.Named("alerts"),
		config:      config,
		sink:        common.NopSink{},
		active:      make(map[string]*Alert),
		titles:      make(map[string]string),
		bySeverity:  make(map[engine.Severity]uint64),
		byComponent: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.engine = engine.NewRuleSet("alerts", logger, config.Interval, snapshot,
		m.handleTrigger, engine.WithReconcile(m.reconcile))

	for _, rule := range m.buildRules() {
		if err := m.engine.Register(rule); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// buildRules enumerates the built-in alert rules: warning/critical pairs for
// each resource gauge, plus the mining health flags. At a reading above the
// critical threshold both rules of the pair fire.
func (m *AlertManager) buildRules() []*engine.Rule {
	cfg := m.config

	cpu := func(s *metrics.Snapshot) float64 { return s.CPUPercent }
	mem := func(s *metrics.Snapshot) float64 { return s.MemoryPercent }
	disk := func(s *metrics.Snapshot) float64 { return s.DiskPercent }

	cpuMsg := func(s *metrics.Snapshot, threshold float64) string {
		return fmt.Sprintf("CPU usage at %.1f%% exceeds the %.0f%% threshold", s.CPUPercent, threshold)
	}
	memMsg := func(s *metrics.Snapshot, threshold float64) string {
		return fmt.Sprintf("Memory usage at %.1f%% (%s of %s) exceeds the %.0f%% threshold",
			s.MemoryPercent, humanize.IBytes(s.MemoryUsed), humanize.IBytes(s.MemoryTotal), threshold)
	}
	diskMsg := func(s *metrics.Snapshot, threshold float64) string {
		return fmt.Sprintf("Disk usage at %.1f%% exceeds the %.0f%% threshold", s.DiskPercent, threshold)
	}

	rules := []*engine.Rule{
		m.usageRule("cpu-warning", "High CPU Usage", "cpu", engine.SeverityWarning, cfg.WarningCooldown, cfg.CPUWarning, cpu, cpuMsg),
		m.usageRule("cpu-critical", "High CPU Usage", "cpu", engine.SeverityCritical, cfg.CriticalCooldown, cfg.CPUCritical, cpu, cpuMsg),
		m.usageRule("memory-warning", "High Memory Usage", "memory", engine.SeverityWarning, cfg.WarningCooldown, cfg.MemoryWarning, mem, memMsg),
		m.usageRule("memory-critical", "High Memory Usage", "memory", engine.SeverityCritical, cfg.CriticalCooldown, cfg.MemoryCritical, mem, memMsg),
		m.usageRule("disk-warning", "Low Disk Space", "disk", engine.SeverityWarning, cfg.WarningCooldown, cfg.DiskWarning, disk, diskMsg),
		m.usageRule("disk-critical", "Low Disk Space", "disk", engine.SeverityCritical, cfg.CriticalCooldown, cfg.DiskCritical, disk, diskMsg),
		m.temperatureRule("temperature-warning", engine.SeverityWarning, cfg.WarningCooldown, cfg.TempWarning),
		m.temperatureRule("temperature-critical", engine.SeverityCritical, cfg.CriticalCooldown, cfg.TempCritical),
		m.flagRule("mining-stopped", "Mining Stopped", "mining",
			func(s *metrics.Snapshot) bool { return s.MiningStopped },
			"Mining is stopped while it is expected to run"),
		m.flagRule("wallet-disconnected", "Wallet Disconnected", "wallet",
			func(s *metrics.Snapshot) bool { return s.WalletDisconnected },
			"Wallet RPC connection lost"),
		m.flagRule("pool-connection-lost", "Pool Connection Lost", "pool",
			func(s *metrics.Snapshot) bool { return s.PoolDisconnected },
			"Stratum pool connection lost"),
	}
	return rules
}

func (m *AlertManager) usageRule(name, title, component string, severity engine.Severity, cooldown time.Duration,
	threshold float64, read func(*metrics.Snapshot) float64, describe func(*metrics.Snapshot, float64) string) *engine.Rule {
	m.titles[name] = title
	return &engine.Rule{
		Name:      name,
		Component: component,
		Severity:  severity,
		Cooldown:  cooldown,
		Condition: func(s *metrics.Snapshot) (bool, error) {
			return read(s) > threshold, nil
		},
		Message: func(s *metrics.Snapshot) (string, map[string]interface{}) {
			return describe(s, threshold), map[string]interface{}{
				"threshold": threshold,
				"value":     read(s),
			}
		},
	}
}

// temperatureRule guards against a zero reading, which means the sensor is
// unavailable rather than cold.
func (m *AlertManager) temperatureRule(name string, severity engine.Severity, cooldown time.Duration, threshold float64) *engine.Rule {
	m.titles[name] = "High Temperature"
	return &engine.Rule{
		Name:      name,
		Component: "temperature",
		Severity:  severity,
		Cooldown:  cooldown,
		Condition: func(s *metrics.Snapshot) (bool, error) {
			return s.Temperature > 0 && s.Temperature > threshold, nil
		},
		Message: func(s *metrics.Snapshot) (string, map[string]interface{}) {
			msg := fmt.Sprintf("System temperature at %.1f°C exceeds the %.0f°C threshold", s.Temperature, threshold)
			return msg, map[string]interface{}{
				"threshold": threshold,
				"value":     s.Temperature,
			}
		},
	}
}

func (m *AlertManager) flagRule(name, title, component string, flag func(*metrics.Snapshot) bool, message string) *engine.Rule {
	m.titles[name] = title
	return &engine.Rule{
		Name:      name,
		Component: component,
		Severity:  engine.SeverityError,
		Cooldown:  m.config.CriticalCooldown,
		Condition: func(s *metrics.Snapshot) (bool, error) { return flag(s), nil },
		Message: func(s *metrics.Snapshot) (string, map[string]interface{}) {
			return message, nil
		},
	}
}

// Start launches the evaluation loop
func (m *AlertManager) Start() error {
	if !m.config.Enabled {
		m.logger.Info("Alerting disabled")
		return nil
	}
	return m.engine.Start()
}

// Stop halts the evaluation loop
func (m *AlertManager) Stop() error {
	if !m.config.Enabled {
		return nil
	}
	return m.engine.Stop()
}

// Evaluate runs one synchronous evaluation pass
func (m *AlertManager) Evaluate(ctx context.Context) {
	m.engine.Evaluate(ctx)
}

// SuppressRule silences one alert rule for the given duration
func (m *AlertManager) SuppressRule(rule string, d time.Duration) error {
	return m.engine.Suppress(rule, d)
}

// handleTrigger turns a fired rule into a new active alert, or refreshes the
// one already active for that rule.
func (m *AlertManager) handleTrigger(ctx context.Context, rule *engine.Rule, trigger *engine.Trigger) engine.Result {
	m.mu.Lock()
	alert, exists := m.active[trigger.Rule]
	if exists {
		alert.Status = StatusActive
		alert.Message = trigger.Message
		alert.Metadata = trigger.Metadata
	} else {
		title := m.titles[trigger.Rule]
		if title == "" {
			title = trigger.Rule
		}
		alert = &Alert{
			ID:        fmt.Sprintf("%s_%d", trigger.Rule, trigger.Time.Unix()),
			Rule:      trigger.Rule,
			Title:     title,
			Message:   trigger.Message,
			Severity:  trigger.Severity,
			Status:    StatusActive,
			Component: trigger.Component,
			CreatedAt: trigger.Time,
			Metadata:  trigger.Metadata,
		}
		m.active[trigger.Rule] = alert
		m.rememberLocked(alert)
	}
	notice := *alert
	m.mu.Unlock()

	m.logger.Warn("Alert triggered",
		zap.String("alert", notice.ID),
		zap.String("rule", notice.Rule),
		zap.String("severity", string(notice.Severity)),
		zap.String("component", notice.Component),
		zap.String("message", notice.Message),
	)
	m.dispatch(ctx, notice)
	m.publish(notice)
	if m.onAlert != nil {
		m.onAlert(&notice)
	}
	return engine.Success("alert " + notice.ID)
}

// reconcile resolves active alerts whose condition no longer holds. Only the
// raw condition is consulted, so a rule inside its cooldown or suppression
// window still resolves. Each resolution notifies exactly once.
func (m *AlertManager) reconcile(ctx context.Context, snap *metrics.Snapshot) {
	now := time.Now()

	m.mu.Lock()
	var resolved []Alert
	for key, alert := range m.active {
		if alert.Rule == "" {
			continue
		}
		rule, ok := m.engine.Rule(alert.Rule)
		if !ok || rule.Condition == nil {
			continue
		}
		firing, err := rule.Condition(snap)
		if err != nil || firing {
			continue
		}
		ts := now
		alert.Status = StatusResolved
		alert.ResolvedAt = &ts
		delete(m.active, key)
		resolved = append(resolved, *alert)
	}
	m.mu.Unlock()

	for i := range resolved {
		alert := resolved[i]
		m.logger.Info("Alert resolved",
			zap.String("alert", alert.ID),
			zap.String("rule", alert.Rule),
			zap.Duration("active_for", alert.ResolvedAt.Sub(alert.CreatedAt)),
		)
		m.dispatch(ctx, alert)
		m.publish(alert)
		if m.onAlert != nil {
			m.onAlert(&alert)
		}
	}
}

// CreateAlert raises an alert outside the rule set, for operator or API use.
// Manual alerts stay active until acknowledged.
func (m *AlertManager) CreateAlert(title, message string, severity engine.Severity, component string, metadata map[string]interface{}) string {
	if component == "" {
		component = "manual"
	}
	now := time.Now()
	alert := &Alert{
		ID:        fmt.Sprintf("manual_%d", now.UnixNano()),
		Title:     title,
		Message:   message,
		Severity:  severity,
		Status:    StatusActive,
		Component: component,
		CreatedAt: now,
		Metadata:  metadata,
	}

	m.mu.Lock()
	m.active[alert.ID] = alert
	m.rememberLocked(alert)
	notice := *alert
	m.mu.Unlock()

	m.logger.Warn("Manual alert created",
		zap.String("alert", notice.ID),
		zap.String("title", notice.Title),
		zap.String("severity", string(notice.Severity)),
	)
	m.dispatch(context.Background(), notice)
	m.publish(notice)
	if m.onAlert != nil {
		m.onAlert(&notice)
	}
	return notice.ID
}

// Acknowledge marks an active alert suppressed and silences its rule for the
// configured suppression window.
func (m *AlertManager) Acknowledge(id string) error {
	m.mu.Lock()
	var target *Alert
	for _, alert := range m.active {
		if alert.ID == id {
			target = alert
			break
		}
	}
	if target == nil {
		m.mu.Unlock()
		return fmt.Errorf("alert %s: %w", id, common.ErrNotFound)
	}
	target.Status = StatusSuppressed
	notice := *target
	m.mu.Unlock()

	if notice.Rule != "" {
		if err := m.engine.Suppress(notice.Rule, m.config.AckSuppression); err != nil {
			m.logger.Warn("Failed to suppress rule for acknowledged alert",
				zap.String("rule", notice.Rule), zap.Error(err))
		}
	}
	m.logger.Info("Alert acknowledged",
		zap.String("alert", notice.ID),
		zap.Duration("suppressed_for", m.config.AckSuppression),
	)
	m.publish(notice)
	if m.onAlert != nil {
		m.onAlert(&notice)
	}
	return nil
}

// rememberLocked appends to the bounded history and bumps counters.
// Callers hold m.mu.
func (m *AlertManager) rememberLocked(alert *Alert) {
	m.history = append(m.history, alert)
	if len(m.history) > m.config.HistorySize {
		n := copy(m.history, m.history[1:])
		m.history[n] = nil
		m.history = m.history[:n]
	}
	m.total++
	m.bySeverity[alert.Severity]++
	m.byComponent[alert.Component]++
}

// dispatch sends one alert to every channel. Failures are retried with a
// linear backoff and isolated per channel.
func (m *AlertManager) dispatch(ctx context.Context, alert Alert) {
	for _, notifier := range m.notifiers {
		err := m.notifyWithRetry(ctx, notifier, &alert)
		ok := err == nil
		if ok {
			m.notificationsSent.Add(1)
		} else {
			m.notificationsFailed.Add(1)
			m.logger.Warn("Notification failed",
				zap.String("channel", notifier.Name()),
				zap.String("alert", alert.ID),
				zap.Error(err),
			)
		}
		if m.countNotify != nil {
			m.countNotify(notifier.Name(), ok)
		}
	}
}

func (m *AlertManager) notifyWithRetry(ctx context.Context, notifier Notifier, alert *Alert) error {
	var err error
	for attempt := 1; attempt <= m.config.NotifyRetries; attempt++ {
		nctx, cancel := context.WithTimeout(ctx, m.config.NotifyTimeout)
		err = notifier.Notify(nctx, alert)
		cancel()
		if err == nil {
			return nil
		}
		if attempt < m.config.NotifyRetries {
			select {
			case <-ctx.Done():
				return err
			case <-time.After(time.Duration(attempt) * m.config.NotifyBackoff):
			}
		}
	}
	return err
}

func (m *AlertManager) publish(alert Alert) {
	m.sink.Publish(common.Event{
		Type:   EventAlert,
		Source: "alerts",
		Time:   time.Now(),
		Payload: map[string]interface{}{
			"id":        alert.ID,
			"rule":      alert.Rule,
			"title":     alert.Title,
			"severity":  string(alert.Severity),
			"status":    string(alert.Status),
			"component": alert.Component,
		},
	})
}

// Active returns the active alerts ordered by creation time
func (m *AlertManager) Active() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	alerts := make([]Alert, 0, len(m.active))
	for _, alert := range m.active {
		alerts = append(alerts, *alert)
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].CreatedAt.Before(alerts[j].CreatedAt) })
	return alerts
}

// ActiveCount returns the number of active alerts
func (m *AlertManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// History returns up to limit recent alerts in chronological order
func (m *AlertManager) History(limit int) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := 0
	if limit > 0 && len(m.history) > limit {
		start = len(m.history) - limit
	}
	alerts := make([]Alert, 0, len(m.history)-start)
	for _, alert := range m.history[start:] {
		alerts = append(alerts, *alert)
	}
	return alerts
}

// GetStats returns alerting statistics
func (m *AlertManager) GetStats() map[string]interface{} {
	m.mu.Lock()
	bySeverity := make(map[string]uint64, len(m.bySeverity))
	for severity, count := range m.bySeverity {
		bySeverity[string(severity)] = count
	}
	byComponent := make(map[string]uint64, len(m.byComponent))
	for component, count := range m.byComponent {
		byComponent[component] = count
	}
	stats := map[string]interface{}{
		"total_alerts":          m.total,
		"active_alerts":         len(m.active),
		"alerts_by_severity":    bySeverity,
		"alerts_by_component":   byComponent,
		"notification_channels": len(m.notifiers),
	}
	m.mu.Unlock()

	stats["notifications_sent"] = m.notificationsSent.Load()
	stats["notifications_failed"] = m.notificationsFailed.Load()
	stats["engine"] = m.engine.GetStats()
	return stats
}
