package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shizukutanaka/Banto/internal/common"
	"github.com/shizukutanaka/Banto/internal/metrics"
)

// Exporter exposes gauges for the latest metrics snapshot and counters for
// the event stream on a dedicated Prometheus registry. It implements
// common.EventSink so every published event increments events_total.
type Exporter struct {
	registry *prometheus.Registry

	// System
	cpuUsage    prometheus.Gauge
	memoryUsage prometheus.Gauge
	diskUsage   prometheus.Gauge
	temperature prometheus.Gauge
	powerDraw   prometheus.Gauge

	// Mining
	hashrate  prometheus.Gauge
	threads   prometheus.Gauge
	intensity prometheus.Gauge
	profit    *prometheus.GaugeVec

	// Alerting
	activeAlerts  prometheus.Gauge
	notifications *prometheus.CounterVec

	// Engines
	ruleTriggers *prometheus.GaugeVec
	events       *prometheus.CounterVec
}

// NewExporter builds the exporter with all metrics registered under the
// given namespace. An empty namespace defaults to "banto".
func NewExporter(namespace string) *Exporter {
	if namespace == "" {
		namespace = "banto"
	}
	e := &Exporter{registry: prometheus.NewRegistry()}

	e.cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "system",
		Name:      "cpu_usage_percent",
		Help:      "CPU usage percentage",
	})
	e.memoryUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "system",
		Name:      "memory_usage_percent",
		Help:      "Memory usage percentage",
	})
	e.diskUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "system",
		Name:      "disk_usage_percent",
		Help:      "Disk usage percentage",
	})
	e.temperature = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "system",
		Name:      "temperature_celsius",
		Help:      "System temperature",
	})
	e.powerDraw = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "system",
		Name:      "power_watts",
		Help:      "Power draw",
	})

	e.hashrate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "mining",
		Name:      "hashrate_hashes_per_second",
		Help:      "Current hashrate",
	})
	e.threads = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "mining",
		Name:      "threads",
		Help:      "Mining threads in use",
	})
	e.intensity = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "mining",
		Name:      "intensity",
		Help:      "Mining intensity between 0 and 1",
	})
	e.profit = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "mining",
		Name:      "profit_usd_per_hour",
		Help:      "Estimated net profit per algorithm",
	}, []string{"algorithm"})

	e.activeAlerts = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "alerting",
		Name:      "active_alerts",
		Help:      "Currently active alerts",
	})
	e.notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alerting",
		Name:      "notifications_total",
		Help:      "Notification deliveries by channel and result",
	}, []string{"channel", "result"})

	e.ruleTriggers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rule_triggers_total",
		Help:      "Cumulative rule triggers per engine",
	}, []string{"engine"})
	e.events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Published events by type",
	}, []string{"type"})

	// Register all metrics
	e.registry.MustRegister(
		// System
		e.cpuUsage,
		e.memoryUsage,
		e.diskUsage,
		e.temperature,
		e.powerDraw,
		// Mining
		e.hashrate,
		e.threads,
		e.intensity,
		e.profit,
		// Alerting
		e.activeAlerts,
		e.notifications,
		// Engines
		e.ruleTriggers,
		e.events,
	)

	// Register standard Go metrics
	e.registry.MustRegister(prometheus.NewGoCollector())

	return e
}

// ObserveSnapshot updates the gauges from one metrics snapshot. Stale
// profit series are dropped so retired algorithms disappear from scrapes.
func (e *Exporter) ObserveSnapshot(snap *metrics.Snapshot) {
	if snap == nil {
		return
	}
	e.cpuUsage.Set(snap.CPUPercent)
	e.memoryUsage.Set(snap.MemoryPercent)
	e.diskUsage.Set(snap.DiskPercent)
	e.temperature.Set(snap.Temperature)
	e.powerDraw.Set(snap.PowerDraw)

	e.hashrate.Set(snap.Hashrate)
	e.threads.Set(float64(snap.Threads))
	e.intensity.Set(snap.Intensity)

	e.profit.Reset()
	for algorithm, estimate := range snap.Profitability {
		if estimate == nil {
			continue
		}
		e.profit.WithLabelValues(algorithm).Set(estimate.ProfitPerHour)
	}
}

// SetActiveAlerts records the current active alert count
func (e *Exporter) SetActiveAlerts(count int) {
	e.activeAlerts.Set(float64(count))
}

// SetEngineTriggers mirrors a rule engine's cumulative trigger count
func (e *Exporter) SetEngineTriggers(engine string, count uint64) {
	e.ruleTriggers.WithLabelValues(engine).Set(float64(count))
}

// CountNotification records one notification delivery outcome
func (e *Exporter) CountNotification(channel string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	e.notifications.WithLabelValues(channel, result).Inc()
}

// Publish implements common.EventSink
func (e *Exporter) Publish(event common.Event) {
	e.events.WithLabelValues(event.Type).Inc()
}

// Handler returns the scrape handler for this exporter's registry
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
