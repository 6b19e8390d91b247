package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/krakenfall/conclave/internal/agent"
	"github.com/krakenfall/conclave/internal/delegate"
	"github.com/krakenfall/conclave/internal/engine"
	"github.com/krakenfall/conclave/internal/feedback"
	"github.com/krakenfall/conclave/internal/goal"
	"github.com/krakenfall/conclave/internal/market"
	"github.com/krakenfall/conclave/internal/perf"
	"github.com/krakenfall/conclave/internal/signal"
	"github.com/krakenfall/conclave/internal/synth"
)

type stubInputs struct{}

func (stubInputs) RealizedVolatility(context.Context) (float64, error) { return 0.5, nil }
func (stubInputs) VolumeTrend(context.Context) (market.VolumeTrend, error) {
	return market.VolumeStable, nil
}
func (stubInputs) RiskAppetite(context.Context) (float64, error) { return 0.6, nil }
func (stubInputs) SeasonActive(context.Context) (bool, error)    { return false, nil }

type captureGateway struct {
	mu          sync.Mutex
	assignments []engine.TaskAssignment
}

func (g *captureGateway) Assign(_ context.Context, a engine.TaskAssignment) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.assignments = append(g.assignments, a)
	return nil
}

func (g *captureGateway) wait(t *testing.T, n int) []engine.TaskAssignment {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		g.mu.Lock()
		if len(g.assignments) >= n {
			out := append([]engine.TaskAssignment(nil), g.assignments...)
			g.mu.Unlock()
			return out
		}
		g.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d assignments", n)
	return nil
}

type apiHarness struct {
	ts      *httptest.Server
	gateway *captureGateway
}

func newAPIHarness(t *testing.T, cfg ServerConfig) *apiHarness {
	t.Helper()

	registry, err := agent.NewRegistry([]agent.Agent{
		{ID: "strateg-1", Name: "Strateg", Specialization: agent.Strategic, Weight: 0.40, MaxConcurrent: 8},
		{ID: "analyst-1", Name: "Analityk", Specialization: agent.Analytical, Weight: 0.25, MaxConcurrent: 8},
		{ID: "quant-1", Name: "Quant", Specialization: agent.Quantitative, Weight: 0.30, MaxConcurrent: 8},
		{ID: "guardian-1", Name: "Nadzorca", Specialization: agent.Oversight, Weight: 0.05, MaxConcurrent: 8},
	})
	require.NoError(t, err)

	tracker := perf.NewTracker(perf.DefaultDecay, perf.DefaultWindow)
	store := market.NewStore(stubInputs{}, time.Minute)
	gw := &captureGateway{}

	eng := engine.New(engine.Config{
		TaskDeadline: 2 * time.Second,
		GoalDeadline: 2 * time.Second,
		Policy:       delegate.SpecializationBased,
	}, engine.Deps{
		Registry:    registry,
		Decomposer:  goal.NewDecomposer(),
		Delegator:   delegate.NewDelegator(registry, tracker),
		Synthesizer: synth.NewSynthesizer(synth.DefaultConfig(), registry),
		Weighting:   signal.NewEngine(signal.DefaultEngineConfig(), tracker),
		Market:      store,
		Feedback:    feedback.NewLoop(feedback.DefaultConfig(), tracker, nil, nil),
		Gateway:     gw,
	})

	metrics := NewMetricsRegistry()
	srv := NewServer(cfg, NewHandlers(eng, store, metrics), metrics)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &apiHarness{ts: ts, gateway: gw}
}

func (h *apiHarness) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(h.ts.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func (h *apiHarness) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(h.ts.URL + path)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestSubmitGoalAccepted(t *testing.T) {
	h := newAPIHarness(t, DefaultServerConfig())

	resp := h.post(t, "/api/v1/goals", map[string]any{
		"title":    "assess PEPE listing",
		"kind":     "token_assessment",
		"priority": "high",
		"signals": []map[string]any{
			{"kind": "volume_spike", "strength": 0.8, "source": "dex"},
		},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	body := decodeBody(t, resp)
	goalID, err := uuid.Parse(body["goal_id"].(string))
	require.NoError(t, err)

	h.gateway.wait(t, 4)

	status := h.get(t, "/api/v1/goals/"+goalID.String())
	require.Equal(t, http.StatusOK, status.StatusCode)
	assert.Equal(t, "awaiting_reports", decodeBody(t, status)["status"])
}

func TestSubmitGoalRejectsUnknownKind(t *testing.T) {
	h := newAPIHarness(t, DefaultServerConfig())

	resp := h.post(t, "/api/v1/goals", map[string]any{
		"title": "bad",
		"kind":  "yolo_trade",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTaskResponseLifecycle(t *testing.T) {
	h := newAPIHarness(t, DefaultServerConfig())

	resp := h.post(t, "/api/v1/goals", map[string]any{
		"title":    "assess WIF",
		"kind":     "token_assessment",
		"priority": "medium",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeBody(t, resp)
	goalID := body["goal_id"].(string)

	assignments := h.gateway.wait(t, 4)
	for _, a := range assignments {
		r := h.post(t, fmt.Sprintf("/api/v1/tasks/%s/response", a.TaskID), map[string]any{
			"agent_id":   a.AgentID,
			"action":     "execute",
			"params":     map[string]float64{"exposure": 0.2},
			"confidence": 0.9,
			"reasoning":  "looks strong",
		})
		assert.Equal(t, http.StatusAccepted, r.StatusCode)
		r.Body.Close()
	}

	// The join closes and the goal reaches synthesized.
	require.Eventually(t, func() bool {
		r := h.get(t, "/api/v1/goals/"+goalID)
		defer r.Body.Close()
		var out map[string]any
		if json.NewDecoder(r.Body).Decode(&out) != nil {
			return false
		}
		return out["status"] == "synthesized"
	}, 3*time.Second, 20*time.Millisecond)

	// A second report for the same task is late.
	late := h.post(t, fmt.Sprintf("/api/v1/tasks/%s/response", assignments[0].TaskID), map[string]any{
		"agent_id":   assignments[0].AgentID,
		"action":     "execute",
		"confidence": 0.5,
	})
	defer late.Body.Close()
	assert.Equal(t, http.StatusConflict, late.StatusCode)
}

func TestTaskResponseUnknownTask(t *testing.T) {
	h := newAPIHarness(t, DefaultServerConfig())

	resp := h.post(t, fmt.Sprintf("/api/v1/tasks/%s/response", uuid.New()), map[string]any{
		"agent_id":   "quant-1",
		"action":     "abstain",
		"confidence": 0.5,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelGoal(t *testing.T) {
	h := newAPIHarness(t, DefaultServerConfig())

	resp := h.post(t, "/api/v1/goals", map[string]any{
		"title": "audit venue",
		"kind":  "risk_audit",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	goalID := decodeBody(t, resp)["goal_id"].(string)
	h.gateway.wait(t, 2)

	req, err := http.NewRequest(http.MethodDelete, h.ts.URL+"/api/v1/goals/"+goalID, nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, del.StatusCode)
	assert.Equal(t, "cancelled", decodeBody(t, del)["status"])
}

func TestGetDecisionNotFound(t *testing.T) {
	h := newAPIHarness(t, DefaultServerConfig())

	resp := h.get(t, "/api/v1/decisions/"+uuid.New().String())
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTradeResultUnknownDecision(t *testing.T) {
	h := newAPIHarness(t, DefaultServerConfig())

	resp := h.post(t, fmt.Sprintf("/api/v1/decisions/%s/result", uuid.New()), map[string]any{
		"pnl": 10.0,
		"roi": 0.01,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	h := newAPIHarness(t, DefaultServerConfig())

	health := h.get(t, "/health")
	require.Equal(t, http.StatusOK, health.StatusCode)
	assert.Equal(t, "ok", decodeBody(t, health)["status"])

	metrics := h.get(t, "/metrics")
	defer metrics.Body.Close()
	assert.Equal(t, http.StatusOK, metrics.StatusCode)

	summary := h.get(t, "/metrics/summary")
	require.Equal(t, http.StatusOK, summary.StatusCode)
	body := decodeBody(t, summary)
	assert.Contains(t, body, "metrics")
	assert.Contains(t, body, "timestamp")
}

func TestRateLimitRejectsBursts(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.RateLimit = rate.Limit(1)
	cfg.RateBurst = 1
	h := newAPIHarness(t, cfg)

	first := h.get(t, "/api/v1/decisions/"+uuid.New().String())
	first.Body.Close()
	assert.NotEqual(t, http.StatusTooManyRequests, first.StatusCode)

	second := h.get(t, "/api/v1/decisions/"+uuid.New().String())
	defer second.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}

func TestMalformedIDRejected(t *testing.T) {
	h := newAPIHarness(t, DefaultServerConfig())

	resp := h.get(t, "/api/v1/goals/not-a-uuid")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
