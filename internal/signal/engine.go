package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/krakenfall/conclave/internal/market"
)

// KindStats is the slice of a signal kind's performance record the engine
// consumes. SuccessRate is an EMA in [0,1]; Samples is the outcome count.
type KindStats struct {
	SuccessRate float64
	Samples     int
}

// PerformanceSource supplies historical success statistics per signal kind.
// Stale reads are fine: weighting is advisory, not safety-critical.
type PerformanceSource interface {
	SignalStats(kind Kind) (KindStats, bool)
}

// EngineConfig holds the weighting sensitivity constants.
type EngineConfig struct {
	VolatilityBoost      float64 `yaml:"volatility_boost"`       // default 0.2
	SeasonBoost          float64 `yaml:"season_boost"`           // default 0.3
	SentimentSeasonBoost float64 `yaml:"sentiment_season_boost"` // default 0.2
	HighVolumeDamp       float64 `yaml:"high_volume_damp"`       // default 0.8
	PerfSensitivity      float64 `yaml:"perf_sensitivity"`       // default 0.4
}

// DefaultEngineConfig returns the standard sensitivity constants.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		VolatilityBoost:      0.2,
		SeasonBoost:          0.3,
		SentimentSeasonBoost: 0.2,
		HighVolumeDamp:       0.8,
		PerfSensitivity:      0.4,
	}
}

// Engine derives Enhanced signals from raw signals, the current market
// context, and per-kind performance records.
type Engine struct {
	cfg  EngineConfig
	perf PerformanceSource
}

// NewEngine creates a weighting engine. perf may be nil; weighting then uses
// the neutral adjustment for every kind.
func NewEngine(cfg EngineConfig, perf PerformanceSource) *Engine {
	return &Engine{cfg: cfg, perf: perf}
}

// Enhance produces the context- and performance-adjusted view of one signal.
// A missing or invalid market context never blocks the pipeline: the static
// base weight and a neutral confidence adjustment are used instead.
func (e *Engine) Enhance(sig Signal, mctx market.Context) Enhanced {
	weight := BaseWeight(sig.Kind)

	if mctx.Valid() {
		weight = e.adjustForContext(sig.Kind, weight, mctx)
	}

	confidence := e.adjustConfidence(sig)

	return Enhanced{
		Signal:     sig,
		Weight:     weight,
		Confidence: confidence,
		Relevance:  Relevance(sig.Kind, mctx),
	}
}

// EnhanceAll runs a weighting pass over a batch against one snapshot.
func (e *Engine) EnhanceAll(signals []Signal, mctx market.Context) []Enhanced {
	out := make([]Enhanced, 0, len(signals))
	for _, sig := range signals {
		out = append(out, e.Enhance(sig, mctx))
	}
	log.Debug().Int("signals", len(out)).Str("context", mctx.String()).Msg("weighting pass complete")
	return out
}

// adjustForContext applies the regime multipliers. All multipliers scale the
// magnitude, so a negative risk weight stays negative.
func (e *Engine) adjustForContext(kind Kind, weight float64, mctx market.Context) float64 {
	if isMomentumClass(kind) {
		weight *= 1 + mctx.Volatility*e.cfg.VolatilityBoost
	}

	if mctx.HighActivity {
		switch {
		case isSeasonCorrelated(kind):
			weight *= 1 + e.cfg.SeasonBoost
		case isSentimentClass(kind):
			weight *= 1 + e.cfg.SentimentSeasonBoost
		}
	}

	// Spikes are less informative when volume is already elevated.
	if mctx.VolumeTrend == market.VolumeIncreasing && isVolumeClass(kind) {
		weight *= e.cfg.HighVolumeDamp
	}

	return weight
}

// adjustConfidence shifts the signal's strength by the kind's historical
// success rate: (success_rate - 0.5) * sensitivity, clamped to [0,1]. An
// unknown kind or empty record gets the neutral adjustment.
func (e *Engine) adjustConfidence(sig Signal) float64 {
	success := 0.5
	if e.perf != nil {
		if stats, ok := e.perf.SignalStats(sig.Kind); ok && stats.Samples > 0 {
			success = stats.SuccessRate
		}
	}
	return clamp01(sig.Strength + (success-0.5)*e.cfg.PerfSensitivity)
}

// Relevance scores how applicable a kind is to the current regime. Risk
// indicators are always relevant; volume-driven kinds lose relevance in a
// flat-volume regime; momentum kinds gain relevance with volatility. An
// invalid context yields the neutral 0.5.
func Relevance(kind Kind, mctx market.Context) float64 {
	if isRiskClass(kind) {
		return 1.0
	}
	if !mctx.Valid() {
		return 0.5
	}

	switch {
	case isVolumeClass(kind) && mctx.VolumeTrend == market.VolumeStable:
		return 0.3
	case isMomentumClass(kind):
		return clamp01(0.6 + mctx.Volatility*0.4)
	case isSentimentClass(kind) && mctx.HighActivity:
		return 0.9
	default:
		return 0.7
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
