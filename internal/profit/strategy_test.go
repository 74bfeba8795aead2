package profit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shizukutanaka/Banto/internal/common"
	"github.com/shizukutanaka/Banto/internal/metrics"
)

func estimate(algorithm string, profit float64) *metrics.AlgorithmProfit {
	return &metrics.AlgorithmProfit{Algorithm: algorithm, ProfitPerHour: profit}
}

func TestThresholdStrategy_Gate(t *testing.T) {
	s := &ThresholdStrategy{Threshold: 0.1}

	// 15% improvement clears a 10% gate
	assert.True(t, s.ShouldSwitch(estimate("sha256d", 100), estimate("randomx", 115), nil))

	// 5% does not
	assert.False(t, s.ShouldSwitch(estimate("sha256d", 100), estimate("randomx", 105), nil))

	// Exactly at the gate counts
	assert.True(t, s.ShouldSwitch(estimate("sha256d", 100), estimate("randomx", 110), nil))
}

func TestThresholdStrategy_NonPositiveCurrent(t *testing.T) {
	s := &ThresholdStrategy{Threshold: 0.1}

	// A losing current algorithm yields to any strict improvement
	assert.True(t, s.ShouldSwitch(estimate("sha256d", -5), estimate("randomx", -1), nil))
	assert.True(t, s.ShouldSwitch(estimate("sha256d", 0), estimate("randomx", 1), nil))
	assert.False(t, s.ShouldSwitch(estimate("sha256d", -1), estimate("randomx", -2), nil))
}

func TestImmediateStrategy(t *testing.T) {
	s := &ImmediateStrategy{}

	assert.True(t, s.ShouldSwitch(estimate("sha256d", 100), estimate("randomx", 100.01), nil))
	assert.False(t, s.ShouldSwitch(estimate("sha256d", 100), estimate("randomx", 100), nil))
	assert.False(t, s.ShouldSwitch(estimate("sha256d", 100), estimate("randomx", 99), nil))
}

func TestGradualStrategy_HalvedGate(t *testing.T) {
	s := &GradualStrategy{Threshold: 0.1}

	// Half the threshold gate: 5% is enough
	assert.True(t, s.ShouldSwitch(estimate("sha256d", 100), estimate("randomx", 105), nil))
	assert.False(t, s.ShouldSwitch(estimate("sha256d", 100), estimate("randomx", 104), nil))
}

func TestPredictiveStrategy_FallbackMatchesThreshold(t *testing.T) {
	threshold := &ThresholdStrategy{Threshold: 0.1}
	predictive := &PredictiveStrategy{Threshold: 0.1, Horizon: 10, Margin: 0.05}

	history := NewHistory(10)
	history.Append("sha256d", 100)
	history.Append("sha256d", 100)
	history.Append("randomx", 110)

	// Under three samples on either side the decisions must be identical
	cases := []struct{ current, candidate float64 }{
		{100, 115},
		{100, 105},
		{100, 110},
		{50, 70},
	}
	for _, tc := range cases {
		cur := estimate("sha256d", tc.current)
		cand := estimate("randomx", tc.candidate)
		assert.Equal(t,
			threshold.ShouldSwitch(cur, cand, history),
			predictive.ShouldSwitch(cur, cand, history),
			"current=%v candidate=%v", tc.current, tc.candidate,
		)
	}
}

func TestPredictiveStrategy_FollowsTrend(t *testing.T) {
	s := &PredictiveStrategy{Threshold: 0.1, Horizon: 10, Margin: 0.05}

	history := NewHistory(10)
	for _, v := range []float64{120, 110, 100} {
		history.Append("sha256d", v)
	}
	for _, v := range []float64{80, 90, 100} {
		history.Append("randomx", v)
	}

	// Equal right now, but the candidate is climbing while the current
	// algorithm is sinking.
	assert.True(t, s.ShouldSwitch(estimate("sha256d", 100), estimate("randomx", 100), history))

	// The reverse: the candidate leads today but its projection loses
	reverse := NewHistory(10)
	for _, v := range []float64{100, 110, 120} {
		reverse.Append("sha256d", v)
	}
	for _, v := range []float64{160, 145, 130} {
		reverse.Append("randomx", v)
	}
	assert.False(t, s.ShouldSwitch(estimate("sha256d", 120), estimate("randomx", 130), reverse))
}

func TestNewStrategy_Defaults(t *testing.T) {
	s, err := NewStrategy(StrategyPredictive, 0, 0, 0)
	require.NoError(t, err)

	p, ok := s.(*PredictiveStrategy)
	require.True(t, ok)
	assert.Equal(t, DefaultSwitchThreshold, p.Threshold)
	assert.Equal(t, DefaultTrendHorizon, p.Horizon)
	assert.Equal(t, DefaultTrendMargin, p.Margin)
}

func TestNewStrategy_Unknown(t *testing.T) {
	_, err := NewStrategy("martingale", 0.1, 10, 0.05)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrUnknownStrategy)
}

func TestTrendSlope(t *testing.T) {
	assert.InDelta(t, 1.0, trendSlope([]float64{1, 2, 3, 4}), 1e-9)
	assert.InDelta(t, -2.0, trendSlope([]float64{10, 8, 6, 4}), 1e-9)
	assert.Zero(t, trendSlope([]float64{5}))
}

func TestHistory_Bounded(t *testing.T) {
	h := NewHistory(5)
	for i := 0; i < 12; i++ {
		h.Append("sha256d", float64(i))
	}

	samples := h.Samples("sha256d")
	require.Len(t, samples, 5)
	assert.Equal(t, []float64{7, 8, 9, 10, 11}, samples)
}

func BenchmarkPredictiveStrategy(b *testing.B) {
	s := &PredictiveStrategy{Threshold: 0.1, Horizon: 10, Margin: 0.05}
	history := NewHistory(120)
	for i := 0; i < 120; i++ {
		history.Append("sha256d", 100+float64(i%7))
		history.Append("randomx", 95+float64(i%5))
	}
	cur := estimate("sha256d", 100)
	cand := estimate("randomx", 112)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.ShouldSwitch(cur, cand, history)
	}
}
