package metrics

import (
	"context"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"go.uber.org/zap"
)

// Sampler produces resource readings for snapshots
type Sampler interface {
	Sample(ctx context.Context, snap *Snapshot) error
}

// SystemSampler reads host resource usage via gopsutil. CPU percentages are
// measured since the previous call, so the caller's polling cadence defines
// the averaging window.
type SystemSampler struct {
	logger   *zap.Logger
	diskPath string
	cpuTDP   float64
}

// NewSystemSampler creates a sampler. tdp is the assumed full-load CPU power
// draw in watts, used for the power estimate.
func NewSystemSampler(logger *zap.Logger, diskPath string, tdp float64) *SystemSampler {
	if diskPath == "" {
		diskPath = "/"
	}
	if tdp <= 0 {
		tdp = 65.0
	}
	return &SystemSampler{
		logger:   logger,
		diskPath: diskPath,
		cpuTDP:   tdp,
	}
}

// Sample fills the resource fields of the snapshot. Individual probe
// failures are logged and leave their fields at zero; they never fail the
// whole sample.
func (s *SystemSampler) Sample(ctx context.Context, snap *Snapshot) error {
	if percent, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percent) > 0 {
		snap.CPUPercent = percent[0]
	} else if err != nil {
		s.logger.Debug("CPU sample failed", zap.Error(err))
	}

	if vmem, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemoryPercent = vmem.UsedPercent
		snap.MemoryUsed = vmem.Used
		snap.MemoryTotal = vmem.Total
	} else {
		s.logger.Debug("memory sample failed", zap.Error(err))
	}

	if usage, err := disk.UsageWithContext(ctx, s.diskPath); err == nil {
		snap.DiskPercent = usage.UsedPercent
	} else {
		s.logger.Debug("disk sample failed", zap.Error(err))
	}

	if iostats, err := net.IOCountersWithContext(ctx, false); err == nil && len(iostats) > 0 {
		snap.NetBytesSent = iostats[0].BytesSent
		snap.NetBytesRecv = iostats[0].BytesRecv
	}

	snap.Temperature = s.sampleTemperature(ctx)

	// Rough electrical estimate from CPU load against the configured TDP
	snap.PowerDraw = s.cpuTDP * snap.CPUPercent / 100.0

	snap.Timestamp = time.Now()
	return nil
}

// sampleTemperature picks the hottest CPU-related sensor. Platforms without
// readable sensors report zero.
func (s *SystemSampler) sampleTemperature(ctx context.Context) float64 {
	sensors, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil || len(sensors) == 0 {
		return 0
	}

	var hottest float64
	for _, sensor := range sensors {
		key := strings.ToLower(sensor.SensorKey)
		if !strings.Contains(key, "cpu") && !strings.Contains(key, "core") &&
			!strings.Contains(key, "k10temp") && !strings.Contains(key, "package") {
			continue
		}
		if sensor.Temperature > hottest {
			hottest = sensor.Temperature
		}
	}
	return hottest
}
