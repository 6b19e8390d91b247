package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/krakenfall/conclave/internal/engine"
	"github.com/krakenfall/conclave/internal/feedback"
	"github.com/krakenfall/conclave/internal/goal"
	"github.com/krakenfall/conclave/internal/market"
	"github.com/krakenfall/conclave/internal/signal"
	"github.com/krakenfall/conclave/internal/synth"
)

// Handlers binds the HTTP routes to the engine.
type Handlers struct {
	engine  *engine.Engine
	market  *market.Store
	metrics *MetricsRegistry
}

// NewHandlers creates the handler set.
func NewHandlers(eng *engine.Engine, store *market.Store, metrics *MetricsRegistry) *Handlers {
	return &Handlers{engine: eng, market: store, metrics: metrics}
}

type submitGoalRequest struct {
	Title    string          `json:"title"`
	Kind     string          `json:"kind"`
	Priority string          `json:"priority"`
	Context  map[string]any  `json:"context,omitempty"`
	Signals  []signalPayload `json:"signals,omitempty"`
}

type signalPayload struct {
	Kind      string    `json:"kind"`
	Strength  float64   `json:"strength"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// SubmitGoal accepts a goal, decomposes and delegates it, and returns 202
// with the goal id. The decision is produced asynchronously.
func (h *Handlers) SubmitGoal(w http.ResponseWriter, r *http.Request) {
	var req submitGoalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	priority, err := goal.ParsePriority(req.Priority)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	signals := make([]signal.Signal, 0, len(req.Signals))
	for _, sp := range req.Signals {
		kind, err := signal.ParseKind(sp.Kind)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		ts := sp.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		signals = append(signals, signal.Signal{
			Kind:      kind,
			Strength:  sp.Strength,
			Source:    sp.Source,
			Timestamp: ts,
		})
	}

	g := goal.New(req.Title, goal.Kind(req.Kind), priority, req.Context)
	id, err := h.engine.SubmitGoal(r.Context(), g, signals)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.metrics.GoalsSubmitted.WithLabelValues(req.Kind).Inc()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"goal_id": id,
		"status":  g.Status.String(),
	})
}

// GoalStatus reports where a goal is in its lifecycle.
func (h *Handlers) GoalStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	status, found := h.engine.GoalStatus(id)
	if !found {
		writeError(w, http.StatusNotFound, "unknown goal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"goal_id": id,
		"status":  status.String(),
	})
}

// CancelGoal aborts an in-flight goal.
func (h *Handlers) CancelGoal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	if err := h.engine.CancelGoal(id); err != nil {
		writeError(w, http.StatusNotFound, "goal not cancellable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"goal_id": id,
		"status":  goal.Cancelled.String(),
	})
}

type taskResponseRequest struct {
	AgentID    string             `json:"agent_id"`
	Action     string             `json:"action"`
	Params     map[string]float64 `json:"params,omitempty"`
	Confidence float64            `json:"confidence"`
	Reasoning  string             `json:"reasoning"`
}

// TaskResponse ingests an agent's report for a delegated task.
func (h *Handlers) TaskResponse(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathUUID(w, r)
	if !ok {
		return
	}

	var req taskResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	action, err := synth.ParseAction(req.Action)
	if err != nil {
		h.metrics.ResponsesTotal.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := synth.Response{
		TaskID:  taskID,
		AgentID: req.AgentID,
		Recommendation: synth.Recommendation{
			Action: action,
			Params: req.Params,
		},
		Confidence: req.Confidence,
		Reasoning:  req.Reasoning,
		ReceivedAt: time.Now().UTC(),
	}

	switch err := h.engine.ReportAgentResponse(resp); {
	case err == nil:
		h.metrics.ResponsesTotal.WithLabelValues("accepted").Inc()
		writeJSON(w, http.StatusAccepted, map[string]any{"task_id": taskID})
	case errors.Is(err, engine.ErrUnknownTask):
		h.metrics.ResponsesTotal.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusNotFound, "unknown task")
	case errors.Is(err, engine.ErrTaskClosed):
		h.metrics.ResponsesTotal.WithLabelValues("late").Inc()
		writeError(w, http.StatusConflict, "task no longer accepts responses")
	default:
		h.metrics.ResponsesTotal.WithLabelValues("invalid").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

type tradeResultRequest struct {
	PnL       float64 `json:"pnl"`
	ROI       float64 `json:"roi"`
	LatencyMs int64   `json:"latency_ms"`
	Slippage  float64 `json:"slippage"`
}

// TradeResult feeds an execution outcome back into the learning loop.
func (h *Handlers) TradeResult(w http.ResponseWriter, r *http.Request) {
	decisionID, ok := pathUUID(w, r)
	if !ok {
		return
	}

	var req tradeResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	res := feedback.TradeResult{
		DecisionID: decisionID,
		PnL:        req.PnL,
		ROI:        req.ROI,
		LatencyMs:  req.LatencyMs,
		Slippage:   req.Slippage,
		ReportedAt: time.Now().UTC(),
	}

	err := h.engine.ReportTradeResult(r.Context(), res)
	switch {
	case err == nil:
		h.metrics.TradeResults.WithLabelValues(profitLabel(req.PnL)).Inc()
		writeJSON(w, http.StatusAccepted, map[string]any{"decision_id": decisionID})
	case errors.Is(err, engine.ErrUnknownDecision):
		writeError(w, http.StatusNotFound, "unknown decision")
	case errors.Is(err, feedback.ErrDuplicateResult):
		writeError(w, http.StatusConflict, "result already recorded")
	case errors.Is(err, feedback.ErrPersistExhausted):
		// Learning state updated; durable write flagged for reconciliation.
		h.metrics.TradeResults.WithLabelValues(profitLabel(req.PnL)).Inc()
		log.Warn().Str("decision", decisionID.String()).
			Msg("trade result accepted with deferred persistence")
		writeJSON(w, http.StatusAccepted, map[string]any{
			"decision_id": decisionID,
			"warning":     "durable write deferred for reconciliation",
		})
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

// GetDecision returns an emitted decision with its full rationale.
func (h *Handlers) GetDecision(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r)
	if !ok {
		return
	}
	d, err := h.engine.Decision(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, d)
	case errors.Is(err, engine.ErrUnknownDecision):
		writeError(w, http.StatusNotFound, "unknown decision")
	default:
		log.Error().Err(err).Str("decision", id.String()).Msg("decision lookup failed")
		writeError(w, http.StatusInternalServerError, "decision lookup failed")
	}
}

// MarketContext returns the current market snapshot.
func (h *Handlers) MarketContext(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.market.Snapshot())
}

// Health is the liveness probe.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func pathUUID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed id")
		return uuid.Nil, false
	}
	return id, true
}

func profitLabel(pnl float64) string {
	if pnl > 0 {
		return "true"
	}
	return "false"
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
