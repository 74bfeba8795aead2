package profit

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/shizukutanaka/Banto/internal/common"
	"github.com/shizukutanaka/Banto/internal/metrics"
)

// Strategy names accepted by NewStrategy
const (
	StrategyImmediate  = "immediate"
	StrategyThreshold  = "threshold"
	StrategyGradual    = "gradual"
	StrategyPredictive = "predictive"
)

// Default strategy tunables
const (
	DefaultSwitchThreshold = 0.1
	DefaultTrendHorizon    = 10.0
	DefaultTrendMargin     = 0.05

	// Minimum samples per algorithm before a trend is worth fitting
	minTrendSamples = 3
)

// Strategy decides whether mining should move from the current algorithm to
// a candidate. Implementations are stateless; profit series come in through
// the history argument so decisions stay reproducible from their inputs.
type Strategy interface {
	Name() string
	ShouldSwitch(current, candidate *metrics.AlgorithmProfit, history *History) bool
}

// NewStrategy creates a strategy by name, filling zero tunables with
// defaults.
func NewStrategy(name string, threshold, horizon, margin float64) (Strategy, error) {
	if threshold <= 0 {
		threshold = DefaultSwitchThreshold
	}
	if horizon <= 0 {
		horizon = DefaultTrendHorizon
	}
	if margin <= 0 {
		margin = DefaultTrendMargin
	}

	switch name {
	case StrategyImmediate:
		return &ImmediateStrategy{}, nil
	case StrategyThreshold:
		return &ThresholdStrategy{Threshold: threshold}, nil
	case StrategyGradual:
		return &GradualStrategy{Threshold: threshold}, nil
	case StrategyPredictive:
		return &PredictiveStrategy{Threshold: threshold, Horizon: horizon, Margin: margin}, nil
	default:
		return nil, fmt.Errorf("%s: %w", name, common.ErrUnknownStrategy)
	}
}

// ImmediateStrategy switches whenever the candidate earns strictly more
type ImmediateStrategy struct{}

func (s *ImmediateStrategy) Name() string { return StrategyImmediate }

func (s *ImmediateStrategy) ShouldSwitch(current, candidate *metrics.AlgorithmProfit, _ *History) bool {
	return candidate.ProfitPerHour > current.ProfitPerHour
}

// ThresholdStrategy switches only on a fractional improvement of at least
// Threshold, which keeps noise-level gains from causing churn.
type ThresholdStrategy struct {
	Threshold float64
}

func (s *ThresholdStrategy) Name() string { return StrategyThreshold }

func (s *ThresholdStrategy) ShouldSwitch(current, candidate *metrics.AlgorithmProfit, _ *History) bool {
	return improvementAtLeast(current.ProfitPerHour, candidate.ProfitPerHour, s.Threshold)
}

// GradualStrategy is the threshold comparison with the gate halved, for
// setups where switching is cheap.
type GradualStrategy struct {
	Threshold float64
}

func (s *GradualStrategy) Name() string { return StrategyGradual }

func (s *GradualStrategy) ShouldSwitch(current, candidate *metrics.AlgorithmProfit, _ *History) bool {
	return improvementAtLeast(current.ProfitPerHour, candidate.ProfitPerHour, s.Threshold*0.5)
}

// PredictiveStrategy extrapolates both profit series Horizon samples ahead
// with a least-squares trend and switches when the candidate's projection
// beats the current one by Margin. With fewer than three samples on either
// side it behaves exactly like ThresholdStrategy.
type PredictiveStrategy struct {
	Threshold float64
	Horizon   float64
	Margin    float64
}

func (s *PredictiveStrategy) Name() string { return StrategyPredictive }

func (s *PredictiveStrategy) ShouldSwitch(current, candidate *metrics.AlgorithmProfit, history *History) bool {
	var curSeries, candSeries []float64
	if history != nil {
		curSeries = history.Samples(current.Algorithm)
		candSeries = history.Samples(candidate.Algorithm)
	}

	if len(curSeries) < minTrendSamples || len(candSeries) < minTrendSamples {
		return improvementAtLeast(current.ProfitPerHour, candidate.ProfitPerHour, s.Threshold)
	}

	curProjected := current.ProfitPerHour + trendSlope(curSeries)*s.Horizon
	candProjected := candidate.ProfitPerHour + trendSlope(candSeries)*s.Horizon

	return candProjected > curProjected*(1+s.Margin)
}

// improvementAtLeast reports whether candidate beats current by the given
// fraction. A non-positive current profit makes the ratio meaningless, so
// any strict improvement passes there.
func improvementAtLeast(current, candidate, threshold float64) bool {
	if current <= 0 {
		return candidate > current
	}
	return (candidate-current)/current >= threshold
}

// trendSlope fits an ordinary least-squares line over the series indexed
// 0..n-1 and returns its slope.
func trendSlope(series []float64) float64 {
	if len(series) < 2 {
		return 0
	}

	xs := make([]float64, len(series))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, series, nil, false)
	return slope
}
