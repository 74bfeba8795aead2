// Package app wires the controller together: the metrics collector feeding
// four rule-driven engines, the history store, the Prometheus exporter, and
// the HTTP API. Construction follows the dependency chain; Shutdown
// unwinds it in reverse.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shizukutanaka/Banto/internal/api"
	"github.com/shizukutanaka/Banto/internal/automation"
	"github.com/shizukutanaka/Banto/internal/cache"
	"github.com/shizukutanaka/Banto/internal/common"
	"github.com/shizukutanaka/Banto/internal/config"
	"github.com/shizukutanaka/Banto/internal/logging"
	"github.com/shizukutanaka/Banto/internal/metrics"
	"github.com/shizukutanaka/Banto/internal/mining"
	"github.com/shizukutanaka/Banto/internal/monitoring"
	"github.com/shizukutanaka/Banto/internal/pool"
	"github.com/shizukutanaka/Banto/internal/profit"
	"github.com/shizukutanaka/Banto/internal/store"
	"github.com/shizukutanaka/Banto/internal/wallet"
)

// Version is stamped into status responses and the CLI banner
const Version = "1.0.0"

const (
	// defaultStatsInterval drives the stats loop when the API section
	// leaves it unset
	defaultStatsInterval = 10 * time.Second

	// pruneInterval is how often the janitor enforces store retention
	pruneInterval = time.Hour

	// persistTimeout bounds hook writes so a slow database cannot stall
	// an engine loop
	persistTimeout = 5 * time.Second

	// warmupTimeout bounds the first metrics sample at startup
	warmupTimeout = 5 * time.Second
)

// Application owns every component and their boot order
type Application struct {
	logs    *logging.Factory
	logger  *zap.Logger
	manager *config.Manager
	config  *config.Config
	host    *metrics.HostInfo

	events    *common.Broadcaster
	store     *store.Store
	cache     *cache.Cache
	exporter  *monitoring.Exporter
	estimator *profit.BenchmarkEstimator
	switcher  *profit.Switcher
	miningCfg *mining.Config
	miner     *mining.Miner
	wallet    *wallet.Watcher
	pool      *pool.Prober
	collector *metrics.Collector
	scaler    *automation.Scaler
	alerts    *monitoring.AlertManager
	recovery  *monitoring.RecoveryManager
	apiServer *api.Server

	mu      sync.Mutex
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started time.Time
}

// New builds the full component graph from the active configuration. The
// configuration stays fixed for the life of the process except for the
// settings applyConfig hot-swaps.
func New(logs *logging.Factory, manager *config.Manager) (*Application, error) {
	if logs == nil || manager == nil {
		return nil, common.ErrNilInput
	}

	a := &Application{
		logs:    logs,
		logger:  logs.Logger("app"),
		manager: manager,
		config:  manager.Get(),
		events:  common.NewBroadcaster(),
	}
	a.host = metrics.DetectHost(logs.Logger("metrics"))

	if err := a.initStorage(); err != nil {
		return nil, fmt.Errorf("initialize storage: %w", err)
	}
	if err := a.initProfit(); err != nil {
		return nil, fmt.Errorf("initialize profit engine: %w", err)
	}
	if err := a.initMining(); err != nil {
		return nil, fmt.Errorf("initialize mining: %w", err)
	}
	if err := a.initMetrics(); err != nil {
		return nil, fmt.Errorf("initialize metrics: %w", err)
	}
	if err := a.initAutomation(); err != nil {
		return nil, fmt.Errorf("initialize automation: %w", err)
	}
	if err := a.initMonitoring(); err != nil {
		return nil, fmt.Errorf("initialize monitoring: %w", err)
	}
	if err := a.initAPI(); err != nil {
		return nil, fmt.Errorf("initialize api: %w", err)
	}

	manager.OnChange(a.applyConfig)

	a.logger.Info("Application initialized",
		zap.String("version", Version),
		zap.String("algorithm", a.switcher.CurrentAlgorithm()),
		zap.String("strategy", a.config.Profit.Strategy),
		zap.String("store_driver", a.config.Store.Driver),
		zap.Bool("api_enabled", a.config.API.Enabled),
	)
	return a, nil
}

func (a *Application) initStorage() error {
	st, err := store.New(a.logs.Logger("store"), a.config.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.store = st

	ch, err := cache.New(a.logs.Logger("cache"), a.config.Cache)
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	a.cache = ch

	a.exporter = monitoring.NewExporter("banto")
	a.events.Attach(a.exporter)
	return nil
}

func (a *Application) initProfit() error {
	var prices profit.PriceProvider
	if len(a.config.Profit.Prices) > 0 {
		prices = profit.NewStaticProvider(a.config.Profit.Prices)
	} else {
		prices = profit.NewCoinGeckoProvider(a.logs.Logger("prices"), a.cache)
	}
	a.estimator = profit.NewBenchmarkEstimator(a.logs.Logger("profit"), prices, a.config.Profit.ElectricityCost)

	switcher, err := profit.NewSwitcher(a.logs.Logger("profit"), a.config.Profit, a.estimator,
		profit.WithEventSink(a.events),
		profit.WithEstimateHook(func(estimates map[string]*metrics.AlgorithmProfit) {
			// The collector is built after the switcher; hooks only fire
			// once everything is running.
			if a.collector != nil {
				a.collector.SetProfitability(estimates)
			}
		}),
		profit.WithSwitchHook(a.persistSwitch),
	)
	if err != nil {
		return err
	}
	a.switcher = switcher
	return nil
}

func (a *Application) initMining() error {
	threads := a.config.Mining.Threads
	if threads <= 0 {
		threads = a.host.PhysicalCores
	}
	miningCfg, err := mining.NewConfig(threads, a.config.Mining.Intensity)
	if err != nil {
		return err
	}
	a.miningCfg = miningCfg

	miner, err := mining.NewMiner(a.logs.Logger("mining"), miningCfg, a.switcher, a.config.Mining.MaxWorkers)
	if err != nil {
		return err
	}
	a.miner = miner
	a.estimator.SetLiveSource(miner)

	a.wallet = wallet.NewWatcher(a.logs.Logger("wallet"), a.config.Wallet.RPCURL, a.config.Wallet.CheckInterval)
	a.pool = pool.NewProber(a.logs.Logger("pool"), a.config.Pool.Address, a.config.Pool.CheckInterval)
	return nil
}

func (a *Application) initMetrics() error {
	sampler := metrics.NewSystemSampler(a.logs.Logger("metrics"), a.config.Metrics.DiskPath, a.config.Metrics.PowerTDP)
	a.collector = metrics.NewCollector(a.logs.Logger("metrics"), sampler,
		a.config.Metrics.Freshness, a.config.Metrics.HistorySize,
		metrics.WithMiningStatus(a.miner),
		metrics.WithWalletStatus(a.wallet),
		metrics.WithPoolStatus(a.pool),
	)
	return nil
}

func (a *Application) initAutomation() error {
	scaler, err := automation.NewScaler(a.logs.Logger("automation"), a.config.Scaler, a.miningCfg, a.collector.Snapshot,
		automation.WithCaches(a.cache),
		automation.WithScalerEventSink(a.events),
	)
	if err != nil {
		return err
	}
	a.scaler = scaler
	return nil
}

func (a *Application) initMonitoring() error {
	notifiers := monitoring.BuildNotifiers(a.logs.Logger("alerts"), a.config.Notifiers)
	alerts, err := monitoring.NewAlertManager(a.logs.Logger("alerts"), a.config.Alerts, a.collector.Snapshot,
		monitoring.WithNotifiers(notifiers...),
		monitoring.WithAlertEventSink(a.events),
		monitoring.WithAlertHook(a.persistAlert),
		monitoring.WithNotifyCounter(a.exporter.CountNotification),
	)
	if err != nil {
		return err
	}
	a.alerts = alerts

	recovery, err := monitoring.NewRecoveryManager(a.logs.Logger("recovery"), a.config.Recovery, a.collector.Snapshot,
		monitoring.WithRecoveryEventSink(a.events),
		monitoring.WithErrorHook(a.persistError),
	)
	if err != nil {
		return err
	}
	recovery.Register("miner", monitoring.RestartMinerAction(a.miner))
	recovery.Register("wallet", monitoring.ReconnectWalletAction(a.wallet))
	recovery.Register("general", monitoring.ClearCacheAction(a.cache))
	recovery.Register("general", monitoring.ReduceResourcesAction(a.miningCfg))
	a.recovery = recovery
	return nil
}

func (a *Application) initAPI() error {
	if !a.config.API.Enabled {
		a.logger.Info("API server disabled")
		return nil
	}

	server, err := api.NewServer(a.logs.Logger("api"), a.config.API, api.Deps{
		Collector: a.collector,
		Miner:     a.miner,
		Switcher:  a.switcher,
		Scaler:    a.scaler,
		Alerts:    a.alerts,
		Recovery:  a.recovery,
		Store:     a.store,
		Exporter:  a.exporter,
		Stats:     a.GetStats,
		Version:   Version,
	})
	if err != nil {
		return err
	}
	a.apiServer = server
	a.events.Attach(server.Hub())
	return nil
}

// Start brings the components up in dependency order: collaborators first,
// then the engines that read them, then the API, then the background loops.
func (a *Application) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running.Load() {
		return common.ErrAlreadyStarted
	}

	a.logger.Info("Starting application", zap.String("version", Version))
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.started = time.Now()

	if err := a.miner.Start(); err != nil {
		return a.failStart("miner", err)
	}
	if err := a.wallet.Start(); err != nil {
		return a.failStart("wallet watcher", err)
	}
	if err := a.pool.Start(); err != nil {
		return a.failStart("pool prober", err)
	}

	// Prime the collector so the engines see a snapshot on their first pass
	warmCtx, warmCancel := context.WithTimeout(a.ctx, warmupTimeout)
	if _, err := a.collector.Snapshot(warmCtx); err != nil {
		a.logger.Warn("Initial metrics sample failed", zap.Error(err))
	}
	warmCancel()

	if err := a.switcher.Start(); err != nil {
		return a.failStart("profit switcher", err)
	}
	if err := a.scaler.Start(); err != nil {
		return a.failStart("scaler", err)
	}
	if err := a.alerts.Start(); err != nil {
		return a.failStart("alert manager", err)
	}
	if err := a.recovery.Start(); err != nil {
		return a.failStart("recovery manager", err)
	}

	if a.apiServer != nil {
		if err := a.apiServer.Start(); err != nil {
			return a.failStart("api server", err)
		}
	}

	if err := a.manager.StartWatcher(); err != nil {
		a.logger.Warn("Config watcher unavailable", zap.Error(err))
	}

	a.wg.Add(2)
	go a.observe()
	go a.janitor()

	a.running.Store(true)
	a.logger.Info("Application started",
		zap.String("algorithm", a.switcher.CurrentAlgorithm()),
		zap.Int("threads", a.miningCfg.Threads()),
	)
	return nil
}

func (a *Application) failStart(component string, err error) error {
	a.cancel()
	return fmt.Errorf("start %s: %w", component, err)
}

// Shutdown stops everything in reverse order: background loops first, then
// the API, the engines, the collaborators, and finally the stores.
func (a *Application) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running.Load() {
		return common.ErrAlreadyStopped
	}
	a.logger.Info("Shutting down application")
	a.running.Store(false)

	a.manager.StopWatcher()
	a.cancel()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("Background loops did not drain in time")
	}

	if a.apiServer != nil {
		if err := a.apiServer.Shutdown(ctx); err != nil {
			a.logger.Error("API shutdown error", zap.Error(err))
		}
	}

	stops := []struct {
		name string
		fn   func() error
	}{
		{"recovery", a.recovery.Stop},
		{"alerts", a.alerts.Stop},
		{"scaler", a.scaler.Stop},
		{"profit", a.switcher.Stop},
		{"pool", a.pool.Stop},
		{"wallet", a.wallet.Stop},
		{"miner", a.miner.Stop},
	}
	for _, stop := range stops {
		if err := stop.fn(); err != nil && !errors.Is(err, common.ErrAlreadyStopped) {
			a.logger.Error("Component stop error", zap.String("component", stop.name), zap.Error(err))
		}
	}

	if err := a.cache.Close(); err != nil {
		a.logger.Error("Cache close error", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("Store close error", zap.Error(err))
	}

	a.logger.Info("Application stopped")
	return nil
}

// Running reports whether Start has completed and Shutdown has not begun
func (a *Application) Running() bool {
	return a.running.Load()
}

// GetStats aggregates component statistics for /api/v1/stats and the
// WebSocket stats push.
func (a *Application) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"service": "banto",
		"version": Version,
		"running": a.running.Load(),
		"host": map[string]interface{}{
			"cpu_model":      a.host.CPUModel,
			"physical_cores": a.host.PhysicalCores,
			"logical_cores":  a.host.LogicalCores,
			"total_memory":   a.host.TotalMemory,
		},
		"mining":    a.miner.GetStats(),
		"profit":    a.switcher.GetStats(),
		"scaler":    a.scaler.GetStats(),
		"alerts":    a.alerts.GetStats(),
		"recovery":  a.recovery.GetStats(),
		"collector": a.collector.GetStats(),
		"store":     a.store.GetStats(),
		"cache":     a.cache.GetStats(),
		"wallet":    a.wallet.GetStats(),
		"pool":      a.pool.GetStats(),
	}
	if !a.started.IsZero() {
		stats["uptime_seconds"] = int64(time.Since(a.started).Seconds())
	}
	if a.apiServer != nil {
		stats["api"] = a.apiServer.GetStats()
	}
	return stats
}

// observe periodically pushes component state to the exporter, the sample
// store, and WebSocket clients.
func (a *Application) observe() {
	defer a.wg.Done()

	interval := a.config.API.StatsInterval
	if interval <= 0 {
		interval = defaultStatsInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.observeOnce()
		}
	}
}

func (a *Application) observeOnce() {
	ctx, cancel := context.WithTimeout(a.ctx, persistTimeout)
	defer cancel()

	snap, err := a.collector.Snapshot(ctx)
	if err != nil {
		a.logger.Warn("Metrics sample failed", zap.Error(err))
	} else {
		a.exporter.ObserveSnapshot(snap)
		if err := a.store.Samples.Save(ctx, snap); err != nil {
			a.logger.Warn("Failed to persist sample", zap.Error(err))
		}
	}

	a.exporter.SetActiveAlerts(a.alerts.ActiveCount())
	engines := map[string]map[string]interface{}{
		"profit":   a.switcher.GetStats(),
		"scaler":   a.scaler.GetStats(),
		"alerts":   a.alerts.GetStats(),
		"recovery": a.recovery.GetStats(),
	}
	for name, stats := range engines {
		a.exporter.SetEngineTriggers(name, engineTriggers(stats))
	}

	if a.apiServer != nil {
		a.apiServer.UpdateStats(a.GetStats())
	}
}

// engineTriggers digs the trigger counter out of a component's stats map.
// The recovery manager reports its rule set under "health", the others
// under "engine".
func engineTriggers(stats map[string]interface{}) uint64 {
	for _, key := range []string{"engine", "health"} {
		if sub, ok := stats[key].(map[string]interface{}); ok {
			count, _ := sub["triggers"].(uint64)
			return count
		}
	}
	return 0
}

// janitor enforces the store retention window
func (a *Application) janitor() {
	defer a.wg.Done()

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.pruneOnce()
		}
	}
}

func (a *Application) pruneOnce() {
	ctx, cancel := context.WithTimeout(a.ctx, time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-a.store.Retention())
	deleted, err := a.store.Prune(ctx, cutoff)
	if err != nil {
		a.logger.Warn("Store prune failed", zap.Error(err))
		return
	}
	var total int64
	for _, n := range deleted {
		total += n
	}
	if total > 0 {
		a.logger.Info("Pruned history", zap.Int64("rows", total), zap.Time("cutoff", cutoff))
	}
}

// applyConfig handles a hot reload. Only settings designed for live
// mutation apply in place; everything else takes effect on restart.
func (a *Application) applyConfig(cfg *config.Config) {
	if err := a.logs.SetLevel(cfg.Logging.Level); err != nil {
		a.logger.Warn("Cannot apply log level", zap.String("level", cfg.Logging.Level), zap.Error(err))
	}

	threads := cfg.Mining.Threads
	if threads <= 0 {
		threads = a.host.PhysicalCores
	}
	if err := a.miningCfg.SetThreads(threads); err != nil {
		a.logger.Warn("Cannot apply thread count", zap.Int("threads", threads), zap.Error(err))
	}
	if err := a.miningCfg.SetIntensity(cfg.Mining.Intensity); err != nil {
		a.logger.Warn("Cannot apply intensity", zap.Float64("intensity", cfg.Mining.Intensity), zap.Error(err))
	}

	a.logger.Info("Configuration reloaded",
		zap.String("log_level", cfg.Logging.Level),
		zap.Int("threads", threads),
		zap.Float64("intensity", cfg.Mining.Intensity),
	)
}

// persistSwitch records an applied algorithm switch. Persistence failures
// are logged and dropped; a dead database must not block switching.
func (a *Application) persistSwitch(record profit.SwitchRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := a.store.Switches.Save(ctx, record); err != nil {
		a.logger.Warn("Failed to persist switch",
			zap.String("from", record.From),
			zap.String("to", record.To),
			zap.Error(err),
		)
	}
}

func (a *Application) persistAlert(alert *monitoring.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := a.store.Alerts.Save(ctx, alert); err != nil {
		a.logger.Warn("Failed to persist alert", zap.String("alert_id", alert.ID), zap.Error(err))
	}
}

func (a *Application) persistError(event *monitoring.ErrorEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := a.store.Errors.Save(ctx, event); err != nil {
		a.logger.Warn("Failed to persist error event", zap.String("event_id", event.ID), zap.Error(err))
	}
}
