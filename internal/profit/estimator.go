package profit

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/klauspost/cpuid/v2"
	"go.uber.org/zap"

	"github.com/shizukutanaka/Banto/internal/metrics"
)

// DefaultElectricityCost is the assumed tariff in USD per kWh
const DefaultElectricityCost = 0.12

// economics holds the chain parameters used to turn a hashrate into
// expected earnings.
type economics struct {
	Coin         string
	Difficulty   float64
	BlockSeconds float64
	Reward       float64
}

var defaultEconomics = map[string]economics{
	"sha256d": {Coin: "BTC", Difficulty: 40000000000000, BlockSeconds: 600, Reward: 6.25},
	"scrypt":  {Coin: "LTC", Difficulty: 30000000, BlockSeconds: 150, Reward: 12.5},
	"ethash":  {Coin: "ETC", Difficulty: 15000000000000000, BlockSeconds: 13, Reward: 2.0},
	"randomx": {Coin: "XMR", Difficulty: 300000000000, BlockSeconds: 120, Reward: 0.6},
}

// Per logical core on a reference desktop CPU, before feature scaling.
// Ethash is memory-hard and not viable on CPUs, so it estimates to zero
// unless live measurements say otherwise.
var baselineHashrates = map[string]float64{
	"sha256d": 6.0e6,
	"scrypt":  12.5e3,
	"ethash":  0,
	"randomx": 1800,
}

// Watts per active core while hashing
var baselinePower = map[string]float64{
	"sha256d": 10,
	"scrypt":  9,
	"ethash":  0,
	"randomx": 8,
}

// Estimator produces per-algorithm profitability estimates
type Estimator interface {
	Estimate(ctx context.Context) (map[string]*metrics.AlgorithmProfit, error)
}

// BenchmarkEstimator derives estimates from the calibrated baseline scaled
// to the host CPU's core count and instruction set extensions. When a live
// source is wired, its measured hashrate overrides the baseline for the
// algorithm currently mining, and its thread/intensity settings scale the
// others so comparisons stay like for like.
type BenchmarkEstimator struct {
	logger *zap.Logger
	prices PriceProvider
	live   metrics.MiningStatus

	electricityCost float64
	cores           int
	hashrates       map[string]float64
	power           map[string]float64
	econ            map[string]economics
}

// EstimatorOption configures a BenchmarkEstimator
type EstimatorOption func(*BenchmarkEstimator)

// WithLiveSource wires the mining pool so measured hashrates replace
// baseline estimates.
func WithLiveSource(live metrics.MiningStatus) EstimatorOption {
	return func(e *BenchmarkEstimator) { e.live = live }
}

// NewBenchmarkEstimator creates an estimator. electricityCost is in USD per
// kWh; zero selects the default tariff.
func NewBenchmarkEstimator(logger *zap.Logger, prices PriceProvider, electricityCost float64, opts ...EstimatorOption) *BenchmarkEstimator {
	if electricityCost <= 0 {
		electricityCost = DefaultElectricityCost
	}

	cores := cpuid.CPU.LogicalCores
	if cores <= 0 {
		cores = runtime.NumCPU()
	}

	e := &BenchmarkEstimator{
		logger:          logger,
		prices:          prices,
		electricityCost: electricityCost,
		cores:           cores,
		hashrates:       make(map[string]float64, len(baselineHashrates)),
		power:           baselinePower,
		econ:            defaultEconomics,
	}
	for name, perCore := range baselineHashrates {
		e.hashrates[name] = perCore * featureScale(name)
	}
	for _, opt := range opts {
		opt(e)
	}

	logger.Info("Profitability estimator ready",
		zap.Int("cores", cores),
		zap.Bool("avx2", cpuid.CPU.Supports(cpuid.AVX2)),
		zap.Bool("sha_ext", cpuid.CPU.Supports(cpuid.SHA)),
		zap.Float64("electricity_cost", electricityCost),
	)
	return e
}

// SetLiveSource wires the mining pool after construction. The pool needs
// the switcher as its algorithm source and the switcher needs the
// estimator, so this link closes last. Must be called before evaluation
// starts.
func (e *BenchmarkEstimator) SetLiveSource(live metrics.MiningStatus) {
	e.live = live
}

// featureScale adjusts the per-core baseline for instruction set support
func featureScale(algorithm string) float64 {
	scale := 1.0
	if cpuid.CPU.Supports(cpuid.AVX2) {
		scale *= 1.4
	}
	switch algorithm {
	case "sha256d":
		if cpuid.CPU.Supports(cpuid.SHA) {
			scale *= 2.0
		}
	case "randomx":
		if cpuid.CPU.Supports(cpuid.AES) {
			scale *= 1.3
		}
	}
	return scale
}

// Estimate computes profitability for every known algorithm
func (e *BenchmarkEstimator) Estimate(ctx context.Context) (map[string]*metrics.AlgorithmProfit, error) {
	symbols := make([]string, 0, len(e.econ))
	seen := make(map[string]bool, len(e.econ))
	for _, econ := range e.econ {
		if !seen[econ.Coin] {
			seen[econ.Coin] = true
			symbols = append(symbols, econ.Coin)
		}
	}

	prices, err := e.prices.GetPrices(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("price lookup failed: %w", err)
	}

	threads := e.cores
	intensity := 1.0
	liveAlgo := ""
	liveRate := 0.0
	if e.live != nil && e.live.Running() {
		liveAlgo = e.live.Algorithm()
		liveRate = e.live.Hashrate()
		threads, intensity = e.live.Settings()
	}
	utilization := float64(threads) / float64(e.cores) * intensity

	now := time.Now()
	estimates := make(map[string]*metrics.AlgorithmProfit, len(e.econ))

	for name, econ := range e.econ {
		price, ok := prices[econ.Coin]
		if !ok {
			e.logger.Warn("No price for coin, assuming zero revenue",
				zap.String("algorithm", name),
				zap.String("coin", econ.Coin),
			)
		}

		hashrate := e.hashrates[name] * float64(e.cores) * utilization
		if name == liveAlgo && liveRate > 0 {
			hashrate = liveRate
		}
		power := e.power[name] * float64(threads) * intensity

		networkRate := econ.Difficulty * 2 / econ.BlockSeconds
		share := 0.0
		if networkRate > 0 {
			share = hashrate / networkRate
		}

		blocksPerHour := 3600.0 / econ.BlockSeconds
		revenue := blocksPerHour * share * econ.Reward * price
		cost := power / 1000 * e.electricityCost

		efficiency := 0.0
		if power > 0 {
			efficiency = hashrate / power
		}

		estimates[name] = &metrics.AlgorithmProfit{
			Algorithm:      name,
			Coin:           econ.Coin,
			Hashrate:       hashrate,
			PowerDraw:      power,
			RevenuePerHour: revenue,
			CostPerHour:    cost,
			ProfitPerHour:  revenue - cost,
			Efficiency:     efficiency,
			Timestamp:      now,
		}
	}

	return estimates, nil
}
