package perf

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/krakenfall/conclave/internal/signal"
)

// DefaultDecay is the EMA decay applied to success rates: recent outcomes
// dominate, but no single outcome causes a discontinuous jump.
const DefaultDecay = 0.9

// DefaultWindow is the trailing ROI window used for reporting metrics.
const DefaultWindow = 50

// SignalAggregates is the durable view of one signal kind's record.
type SignalAggregates struct {
	SuccessRate  float64   `json:"success_rate"`
	ProfitImpact float64   `json:"profit_impact"`
	Samples      int       `json:"samples"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AgentAggregates is the durable view of one agent's record.
type AgentAggregates struct {
	SuccessRate  float64   `json:"success_rate"`
	ProfitImpact float64   `json:"profit_impact"`
	Samples      int       `json:"samples"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Report carries the derived metrics recomputed for reporting. These feed
// dashboards, never the weighting formula (which reads SuccessRate directly).
type Report struct {
	WinRate float64 `json:"win_rate"`
	AvgROI  float64 `json:"avg_roi"`
	Sharpe  float64 `json:"sharpe"` // mean(roi)/stddev(roi), trailing window
	Samples int     `json:"samples"`
}

// signalRecord holds one kind's state behind its own lock so unrelated kinds
// never serialize against each other.
type signalRecord struct {
	mu   sync.Mutex
	aggr SignalAggregates
	rois []float64
}

type agentRecord struct {
	mu   sync.Mutex
	aggr AgentAggregates
	rois []float64
	wins int
}

// Tracker maintains rolling success statistics per signal kind and per
// agent. Writes are serialized per key; reads take snapshots and may be
// slightly stale, which weighting tolerates.
type Tracker struct {
	decay  float64
	window int

	mu      sync.RWMutex // guards the maps, not the records
	signals map[signal.Kind]*signalRecord
	agents  map[string]*agentRecord
}

// NewTracker creates a tracker with the given EMA decay (0 < decay < 1).
func NewTracker(decay float64, window int) *Tracker {
	if decay <= 0 || decay >= 1 {
		decay = DefaultDecay
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{
		decay:   decay,
		window:  window,
		signals: make(map[signal.Kind]*signalRecord),
		agents:  make(map[string]*agentRecord),
	}
}

func (t *Tracker) signalRecordFor(kind signal.Kind) *signalRecord {
	t.mu.RLock()
	rec, ok := t.signals[kind]
	t.mu.RUnlock()
	if ok {
		return rec
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok = t.signals[kind]; ok {
		return rec
	}
	rec = &signalRecord{aggr: SignalAggregates{SuccessRate: 0.5}}
	t.signals[kind] = rec
	return rec
}

func (t *Tracker) agentRecordFor(id string) *agentRecord {
	t.mu.RLock()
	rec, ok := t.agents[id]
	t.mu.RUnlock()
	if ok {
		return rec
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if rec, ok = t.agents[id]; ok {
		return rec
	}
	rec = &agentRecord{aggr: AgentAggregates{SuccessRate: 0.5}}
	t.agents[id] = rec
	return rec
}

// RecordSignalOutcome folds one realized outcome into the kind's EMA.
func (t *Tracker) RecordSignalOutcome(kind signal.Kind, profitable bool, pnl float64, roi float64) SignalAggregates {
	rec := t.signalRecordFor(kind)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.aggr.SuccessRate = ema(rec.aggr.SuccessRate, indicator(profitable), t.decay)
	rec.aggr.ProfitImpact += pnl
	rec.aggr.Samples++
	rec.aggr.UpdatedAt = time.Now().UTC()
	rec.rois = appendWindow(rec.rois, roi, t.window)

	log.Debug().
		Str("kind", kind.String()).
		Float64("success_rate", rec.aggr.SuccessRate).
		Int("samples", rec.aggr.Samples).
		Msg("signal performance updated")

	return rec.aggr
}

// RecordAgentOutcome folds one realized outcome into the agent's EMA.
func (t *Tracker) RecordAgentOutcome(agentID string, profitable bool, roi float64, latency time.Duration) AgentAggregates {
	rec := t.agentRecordFor(agentID)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.aggr.SuccessRate = ema(rec.aggr.SuccessRate, indicator(profitable), t.decay)
	rec.aggr.ProfitImpact += roi
	rec.aggr.Samples++
	rec.aggr.AvgLatencyMs = ema(rec.aggr.AvgLatencyMs, float64(latency.Milliseconds()), t.decay)
	rec.aggr.UpdatedAt = time.Now().UTC()
	rec.rois = appendWindow(rec.rois, roi, t.window)
	if profitable {
		rec.wins++
	}

	return rec.aggr
}

// SignalStats implements signal.PerformanceSource.
func (t *Tracker) SignalStats(kind signal.Kind) (signal.KindStats, bool) {
	t.mu.RLock()
	rec, ok := t.signals[kind]
	t.mu.RUnlock()
	if !ok {
		return signal.KindStats{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return signal.KindStats{SuccessRate: rec.aggr.SuccessRate, Samples: rec.aggr.Samples}, true
}

// SignalAggregatesFor returns the durable view of one kind's record.
func (t *Tracker) SignalAggregatesFor(kind signal.Kind) (SignalAggregates, bool) {
	t.mu.RLock()
	rec, ok := t.signals[kind]
	t.mu.RUnlock()
	if !ok {
		return SignalAggregates{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.aggr, true
}

// AgentAggregatesFor returns the durable view of one agent's record.
func (t *Tracker) AgentAggregatesFor(id string) (AgentAggregates, bool) {
	t.mu.RLock()
	rec, ok := t.agents[id]
	t.mu.RUnlock()
	if !ok {
		return AgentAggregates{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.aggr, true
}

// AgentSuccessRate implements the delegation performance source.
func (t *Tracker) AgentSuccessRate(id string) (float64, bool) {
	aggr, ok := t.AgentAggregatesFor(id)
	if !ok {
		return 0, false
	}
	return aggr.SuccessRate, true
}

// AgentReport recomputes the derived reporting metrics for one agent.
func (t *Tracker) AgentReport(id string) (Report, bool) {
	t.mu.RLock()
	rec, ok := t.agents[id]
	t.mu.RUnlock()
	if !ok {
		return Report{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	r := Report{Samples: rec.aggr.Samples}
	if rec.aggr.Samples > 0 {
		r.WinRate = float64(rec.wins) / float64(rec.aggr.Samples)
	}
	r.AvgROI = mean(rec.rois)
	r.Sharpe = sharpe(rec.rois)
	return r, true
}

func indicator(profitable bool) float64 {
	if profitable {
		return 1
	}
	return 0
}

func ema(prev, sample, decay float64) float64 {
	return prev*decay + sample*(1-decay)
}

func appendWindow(window []float64, v float64, max int) []float64 {
	window = append(window, v)
	if len(window) > max {
		window = window[len(window)-max:]
	}
	return window
}
