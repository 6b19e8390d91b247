package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krakenfall/conclave/internal/market"
)

type stubPerf map[Kind]KindStats

func (s stubPerf) SignalStats(kind Kind) (KindStats, bool) {
	stats, ok := s[kind]
	return stats, ok
}

func validContext(vol float64) market.Context {
	return market.Context{
		Volatility:   vol,
		RiskAppetite: 0.5,
		VolumeTrend:  market.VolumeDecreasing,
		UpdatedAt:    time.Now().UTC(),
	}
}

func rawSignal(kind Kind, strength float64) Signal {
	return Signal{Kind: kind, Strength: strength, Source: "test", Timestamp: time.Now()}
}

func TestEnhance_VolatilityBoostWorkedExample(t *testing.T) {
	// base weight 0.7 for volume_spike, volatility 0.9:
	// 0.7 * (1 + 0.9*0.2) = 0.826
	engine := NewEngine(DefaultEngineConfig(), nil)

	enhanced := engine.Enhance(rawSignal(VolumeSpike, 0.8), validContext(0.9))
	assert.InDelta(t, 0.826, enhanced.Weight, 1e-9)
}

func TestEnhance_AdjustedWeightMonotonicInVolatility(t *testing.T) {
	engine := NewEngine(DefaultEngineConfig(), nil)

	for _, kind := range []Kind{VolumeSpike, PriceMomentum, WhaleTransfer} {
		base := BaseWeight(kind)
		prev := base
		for vol := 0.0; vol <= 1.0; vol += 0.1 {
			w := engine.Enhance(rawSignal(kind, 0.5), validContext(vol)).Weight
			assert.GreaterOrEqual(t, w, base, "adjusted weight below base for %s at vol %.1f", kind, vol)
			assert.GreaterOrEqual(t, w+1e-12, prev, "weight not monotonic for %s at vol %.1f", kind, vol)
			prev = w
		}
	}
}

func TestEnhance_SeasonBoosts(t *testing.T) {
	engine := NewEngine(DefaultEngineConfig(), nil)
	mctx := validContext(0.0)
	mctx.HighActivity = true

	// Season-correlated kind gets +30%
	spike := engine.Enhance(rawSignal(HighLiquidity, 0.5), mctx)
	assert.InDelta(t, BaseWeight(HighLiquidity)*1.3, spike.Weight, 1e-9)

	// Sentiment kind gets the smaller +20%
	sentiment := engine.Enhance(rawSignal(SocialSentiment, 0.5), mctx)
	assert.InDelta(t, BaseWeight(SocialSentiment)*1.2, sentiment.Weight, 1e-9)
}

func TestEnhance_HighVolumeTrendDampensSpikes(t *testing.T) {
	engine := NewEngine(DefaultEngineConfig(), nil)
	mctx := validContext(0.0)
	mctx.VolumeTrend = market.VolumeIncreasing

	enhanced := engine.Enhance(rawSignal(VolumeSpike, 0.5), mctx)
	assert.InDelta(t, BaseWeight(VolumeSpike)*0.8, enhanced.Weight, 1e-9)

	// Non-volume kinds are untouched by the damp
	other := engine.Enhance(rawSignal(ContractVerified, 0.5), mctx)
	assert.InDelta(t, BaseWeight(ContractVerified), other.Weight, 1e-9)
}

func TestEnhance_PerformanceAdjustsConfidence(t *testing.T) {
	perf := stubPerf{
		VolumeSpike:   {SuccessRate: 0.9, Samples: 40},
		PriceMomentum: {SuccessRate: 0.1, Samples: 40},
	}
	engine := NewEngine(DefaultEngineConfig(), perf)
	mctx := validContext(0.0)

	// (0.9 - 0.5) * 0.4 = +0.16
	up := engine.Enhance(rawSignal(VolumeSpike, 0.5), mctx)
	assert.InDelta(t, 0.66, up.Confidence, 1e-9)

	// (0.1 - 0.5) * 0.4 = -0.16
	down := engine.Enhance(rawSignal(PriceMomentum, 0.5), mctx)
	assert.InDelta(t, 0.34, down.Confidence, 1e-9)

	// Unknown kind falls back to neutral: confidence == strength
	neutral := engine.Enhance(rawSignal(WhaleTransfer, 0.5), mctx)
	assert.InDelta(t, 0.5, neutral.Confidence, 1e-9)
}

func TestEnhance_ConfidenceClamped(t *testing.T) {
	perf := stubPerf{VolumeSpike: {SuccessRate: 1.0, Samples: 10}}
	engine := NewEngine(DefaultEngineConfig(), perf)

	enhanced := engine.Enhance(rawSignal(VolumeSpike, 0.95), validContext(0.0))
	assert.LessOrEqual(t, enhanced.Confidence, 1.0)
}

func TestEnhance_RiskWeightNeverFlipsSign(t *testing.T) {
	perf := stubPerf{RugIndicator: {SuccessRate: 1.0, Samples: 100}}
	engine := NewEngine(DefaultEngineConfig(), perf)

	mctx := validContext(1.0)
	mctx.HighActivity = true

	enhanced := engine.Enhance(rawSignal(RugIndicator, 0.9), mctx)
	assert.Negative(t, enhanced.Weight)
}

func TestEnhance_InvalidContextFallsBackToBaseWeight(t *testing.T) {
	engine := NewEngine(DefaultEngineConfig(), nil)

	enhanced := engine.Enhance(rawSignal(VolumeSpike, 0.6), market.Context{})
	assert.InDelta(t, BaseWeight(VolumeSpike), enhanced.Weight, 1e-9)
	assert.InDelta(t, 0.6, enhanced.Confidence, 1e-9) // neutral adjustment
	assert.InDelta(t, 0.5, enhanced.Relevance, 1e-9)
}

func TestRelevance(t *testing.T) {
	// Risk indicators are always relevant, even without context
	assert.Equal(t, 1.0, Relevance(RugIndicator, market.Context{}))
	assert.Equal(t, 1.0, Relevance(HoneypotIndicator, validContext(0.1)))

	// Volume kinds are near-irrelevant in a flat-volume regime
	flat := validContext(0.2)
	flat.VolumeTrend = market.VolumeStable
	assert.Equal(t, 0.3, Relevance(VolumeSpike, flat))

	// Momentum relevance grows with volatility
	low := Relevance(PriceMomentum, validContext(0.1))
	high := Relevance(PriceMomentum, validContext(0.9))
	assert.Greater(t, high, low)
}

func TestSignal_Validate(t *testing.T) {
	require.NoError(t, rawSignal(VolumeSpike, 0.5).Validate())

	assert.Error(t, rawSignal(VolumeSpike, 1.5).Validate())
	assert.Error(t, rawSignal(Kind(99), 0.5).Validate())
	assert.Error(t, Signal{Kind: VolumeSpike, Strength: 0.5}.Validate()) // zero timestamp
}

func TestParseKind_RoundTrip(t *testing.T) {
	for _, k := range Kinds() {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	_, err := ParseKind("astrology")
	assert.Error(t, err)
}
