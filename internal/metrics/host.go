package metrics

import (
	"github.com/jaypipes/ghw"
	"github.com/pbnjay/memory"
	"github.com/shirou/gopsutil/v3/cpu"
	"go.uber.org/zap"
)

// HostInfo describes the hardware the controller runs on. Detected once at
// startup; physical core count seeds the default mining thread count.
type HostInfo struct {
	CPUModel      string `json:"cpu_model"`
	PhysicalCores int    `json:"physical_cores"`
	LogicalCores  int    `json:"logical_cores"`
	TotalMemory   uint64 `json:"total_memory"`
}

// DetectHost inventories the local machine. Detection failures degrade to
// conservative fallbacks rather than failing startup.
func DetectHost(logger *zap.Logger) *HostInfo {
	info := &HostInfo{
		PhysicalCores: 1,
		LogicalCores:  1,
		TotalMemory:   memory.TotalMemory(),
	}

	if cpuInfo, err := ghw.CPU(); err == nil && cpuInfo != nil {
		info.PhysicalCores = int(cpuInfo.TotalCores)
		info.LogicalCores = int(cpuInfo.TotalThreads)
		if len(cpuInfo.Processors) > 0 {
			info.CPUModel = cpuInfo.Processors[0].Model
		}
	} else {
		logger.Debug("ghw CPU inventory failed, falling back to gopsutil", zap.Error(err))
		if physical, err := cpu.Counts(false); err == nil && physical > 0 {
			info.PhysicalCores = physical
		}
		if logical, err := cpu.Counts(true); err == nil && logical > 0 {
			info.LogicalCores = logical
		}
	}

	if info.PhysicalCores < 1 {
		info.PhysicalCores = 1
	}
	if info.LogicalCores < info.PhysicalCores {
		info.LogicalCores = info.PhysicalCores
	}

	return info
}
