package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// MetricsRegistry holds all Prometheus metrics for the decision engine. It
// carries its own registry so parallel test servers never collide on
// registration.
type MetricsRegistry struct {
	registry *prometheus.Registry

	GoalsSubmitted  *prometheus.CounterVec
	GoalsActive     prometheus.Gauge
	DecisionsTotal  *prometheus.CounterVec
	SynthesisTime   prometheus.Histogram
	TaskTimeouts    prometheus.Counter
	ResponsesTotal  *prometheus.CounterVec
	TradeResults    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RateLimited     prometheus.Counter
}

// NewMetricsRegistry creates and registers the engine's metric set.
func NewMetricsRegistry() *MetricsRegistry {
	m := &MetricsRegistry{
		registry: prometheus.NewRegistry(),

		GoalsSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conclave_goals_submitted_total",
				Help: "Total goals accepted for decomposition, by kind",
			},
			[]string{"kind"},
		),

		GoalsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "conclave_goals_active",
				Help: "Goals currently in fan-out awaiting their join",
			},
		),

		DecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conclave_decisions_total",
				Help: "Decisions emitted, by action and veto flag",
			},
			[]string{"action", "vetoed"},
		),

		SynthesisTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "conclave_synthesis_duration_seconds",
				Help:    "Time from join close to decision emission",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
		),

		TaskTimeouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "conclave_task_timeouts_total",
				Help: "Delegated tasks that missed the goal deadline",
			},
		),

		ResponsesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conclave_agent_responses_total",
				Help: "Agent responses received, by outcome (accepted, late, invalid)",
			},
			[]string{"outcome"},
		),

		TradeResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conclave_trade_results_total",
				Help: "Trade results fed back, by profitability",
			},
			[]string{"profitable"},
		),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conclave_http_request_duration_seconds",
				Help:    "HTTP request duration by route and status",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"route", "status"},
		),

		RateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "conclave_http_rate_limited_total",
				Help: "Requests rejected by the ingestion rate limiter",
			},
		),
	}

	m.registry.MustRegister(
		m.GoalsSubmitted,
		m.GoalsActive,
		m.DecisionsTotal,
		m.SynthesisTime,
		m.TaskTimeouts,
		m.ResponsesTotal,
		m.TradeResults,
		m.RequestDuration,
		m.RateLimited,
	)

	return m
}

// Handler serves the Prometheus exposition format.
func (m *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SummaryHandler serves a compact JSON snapshot of every gathered metric,
// for dashboards that do not speak the exposition format.
func (m *MetricsRegistry) SummaryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		families, err := m.registry.Gather()
		if err != nil {
			log.Error().Err(err).Msg("metrics gather failed")
			http.Error(w, `{"error":"metrics unavailable"}`, http.StatusInternalServerError)
			return
		}

		summary := map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"metrics":   flattenFamilies(families),
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(summary); err != nil {
			log.Error().Err(err).Msg("metrics summary encode failed")
		}
	}
}

// flattenFamilies reduces gathered metric families to name -> value pairs.
// Histograms report their sample count and sum.
func flattenFamilies(families []*dto.MetricFamily) map[string]float64 {
	out := make(map[string]float64, len(families))
	for _, mf := range families {
		for _, metric := range mf.Metric {
			name := mf.GetName() + labelSuffix(metric)
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				out[name] = metric.GetCounter().GetValue()
			case dto.MetricType_GAUGE:
				out[name] = metric.GetGauge().GetValue()
			case dto.MetricType_HISTOGRAM:
				out[name+"_count"] = float64(metric.GetHistogram().GetSampleCount())
				out[name+"_sum"] = metric.GetHistogram().GetSampleSum()
			}
		}
	}
	return out
}

func labelSuffix(metric *dto.Metric) string {
	suffix := ""
	for _, lp := range metric.Label {
		suffix += "{" + lp.GetName() + "=" + lp.GetValue() + "}"
	}
	return suffix
}
