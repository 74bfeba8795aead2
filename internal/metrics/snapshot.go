package metrics

import "time"

// Snapshot is one immutable, timestamped read of system and profitability
// metrics. Engines receive the same snapshot pointer concurrently and must
// never mutate it.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	// Resource metrics
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsed    uint64  `json:"memory_used"`
	MemoryTotal   uint64  `json:"memory_total"`
	DiskPercent   float64 `json:"disk_percent"`
	Temperature   float64 `json:"temperature"`
	PowerDraw     float64 `json:"power_draw"`
	NetBytesSent  uint64  `json:"net_bytes_sent"`
	NetBytesRecv  uint64  `json:"net_bytes_recv"`

	// Mining metrics
	Hashrate         float64                     `json:"hashrate"`
	Threads          int                         `json:"threads"`
	Intensity        float64                     `json:"intensity"`
	CurrentAlgorithm string                      `json:"current_algorithm"`
	Profitability    map[string]*AlgorithmProfit `json:"profitability,omitempty"`

	// Health flags
	MiningStopped      bool `json:"mining_stopped"`
	WalletDisconnected bool `json:"wallet_disconnected"`
	PoolDisconnected   bool `json:"pool_disconnected"`
}

// AlgorithmProfit holds the profitability estimate for one algorithm.
// Replaced wholesale each estimate cycle.
type AlgorithmProfit struct {
	Algorithm      string    `json:"algorithm"`
	Coin           string    `json:"coin"`
	Hashrate       float64   `json:"hashrate"`
	PowerDraw      float64   `json:"power_draw"`
	RevenuePerHour float64   `json:"revenue_per_hour"`
	CostPerHour    float64   `json:"cost_per_hour"`
	ProfitPerHour  float64   `json:"profit_per_hour"`
	Efficiency     float64   `json:"efficiency"`
	Timestamp      time.Time `json:"timestamp"`
}

// ResourceStatus classifies overall load from a snapshot
type ResourceStatus string

const (
	StatusNormal     ResourceStatus = "normal"
	StatusWarning    ResourceStatus = "warning"
	StatusCritical   ResourceStatus = "critical"
	StatusOverloaded ResourceStatus = "overloaded"
)

// Status returns the load band for the snapshot, judged on the highest
// of CPU and memory usage.
func (s *Snapshot) Status() ResourceStatus {
	usage := s.CPUPercent
	if s.MemoryPercent > usage {
		usage = s.MemoryPercent
	}

	switch {
	case usage > 95:
		return StatusOverloaded
	case usage > 85:
		return StatusCritical
	case usage > 70:
		return StatusWarning
	default:
		return StatusNormal
	}
}
