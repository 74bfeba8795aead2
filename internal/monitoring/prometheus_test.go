package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shizukutanaka/Banto/internal/common"
	"github.com/shizukutanaka/Banto/internal/metrics"
)

func scrape(t *testing.T, e *Exporter) string {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	e.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestExporter_Scrape(t *testing.T) {
	e := NewExporter("")

	e.ObserveSnapshot(&metrics.Snapshot{
		CPUPercent:    42.5,
		MemoryPercent: 61.25,
		DiskPercent:   12.5,
		Temperature:   55.5,
		PowerDraw:     120,
		Hashrate:      1500000,
		Threads:       4,
		Intensity:     0.8,
		Profitability: map[string]*metrics.AlgorithmProfit{
			"kawpow": {Algorithm: "kawpow", ProfitPerHour: 1.25},
		},
	})
	e.SetActiveAlerts(3)
	e.SetEngineTriggers("alerts", 7)
	e.CountNotification("webhook", true)
	e.CountNotification("webhook", false)
	e.Publish(common.Event{Type: EventAlert})
	e.Publish(common.Event{Type: EventAlert})
	e.Publish(common.Event{Type: EventRecovery})

	body := scrape(t, e)
	assert.Contains(t, body, "banto_system_cpu_usage_percent 42.5")
	assert.Contains(t, body, "banto_system_memory_usage_percent 61.25")
	assert.Contains(t, body, "banto_system_temperature_celsius 55.5")
	assert.Contains(t, body, "banto_mining_hashrate_hashes_per_second 1.5e+06")
	assert.Contains(t, body, "banto_mining_threads 4")
	assert.Contains(t, body, "banto_mining_intensity 0.8")
	assert.Contains(t, body, `banto_mining_profit_usd_per_hour{algorithm="kawpow"} 1.25`)
	assert.Contains(t, body, "banto_alerting_active_alerts 3")
	assert.Contains(t, body, `banto_rule_triggers_total{engine="alerts"} 7`)
	assert.Contains(t, body, `banto_alerting_notifications_total{channel="webhook",result="ok"} 1`)
	assert.Contains(t, body, `banto_alerting_notifications_total{channel="webhook",result="error"} 1`)
	assert.Contains(t, body, `banto_events_total{type="alert"} 2`)
	assert.Contains(t, body, `banto_events_total{type="recovery"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestExporter_StaleProfitSeriesAreDropped(t *testing.T) {
	e := NewExporter("banto")

	e.ObserveSnapshot(&metrics.Snapshot{
		Profitability: map[string]*metrics.AlgorithmProfit{
			"kawpow":  {Algorithm: "kawpow", ProfitPerHour: 1.25},
			"etchash": {Algorithm: "etchash", ProfitPerHour: 0.75},
		},
	})
	body := scrape(t, e)
	assert.Contains(t, body, `algorithm="kawpow"`)
	assert.Contains(t, body, `algorithm="etchash"`)

	// The next snapshot only knows one algorithm; the other series must
	// not linger at its old value.
	e.ObserveSnapshot(&metrics.Snapshot{
		Profitability: map[string]*metrics.AlgorithmProfit{
			"kawpow": {Algorithm: "kawpow", ProfitPerHour: 1.10},
		},
	})
	body = scrape(t, e)
	assert.Contains(t, body, `banto_mining_profit_usd_per_hour{algorithm="kawpow"} 1.1`)
	assert.NotContains(t, body, "etchash")
}

func TestExporter_NilSnapshotIsIgnored(t *testing.T) {
	e := NewExporter("")
	assert.NotPanics(t, func() { e.ObserveSnapshot(nil) })
}
