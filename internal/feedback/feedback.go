package feedback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/krakenfall/conclave/internal/perf"
	"github.com/krakenfall/conclave/internal/persistence"
	"github.com/krakenfall/conclave/internal/signal"
	"github.com/krakenfall/conclave/internal/synth"
)

// TradeResult is the executor's realized outcome for one decision.
type TradeResult struct {
	DecisionID uuid.UUID `json:"decision_id"`
	PnL        float64   `json:"pnl"`
	ROI        float64   `json:"roi"`
	LatencyMs  int64     `json:"latency_ms"`
	Slippage   float64   `json:"slippage"`
	ReportedAt time.Time `json:"reported_at"`
}

// Validate rejects malformed results at ingestion.
func (r TradeResult) Validate() error {
	if r.DecisionID == uuid.Nil {
		return fmt.Errorf("trade result missing decision id")
	}
	if r.LatencyMs < 0 {
		return fmt.Errorf("trade result latency must be non-negative")
	}
	return nil
}

// ErrDuplicateResult is returned when a decision's outcome is reported twice.
// Each TradeResult triggers exactly one feedback update.
var ErrDuplicateResult = errors.New("trade result already recorded for decision")

// ErrPersistExhausted signals that the durable write failed after all
// retries. The in-memory performance numbers remain valid; the decision is
// flagged for reconciliation.
var ErrPersistExhausted = errors.New("feedback persistence exhausted retries")

// Config tunes the durable-write retry behavior.
type Config struct {
	MaxRetries     int           // attempts after the first failure
	InitialBackoff time.Duration // doubled per attempt
}

// DefaultConfig returns the standard retry settings.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, InitialBackoff: 100 * time.Millisecond}
}

// Loop closes the outcome feedback cycle: realized results update the
// in-memory tracker first (always), then the durable aggregates behind a
// circuit breaker with backoff.
type Loop struct {
	cfg       Config
	tracker   *perf.Tracker
	decisions persistence.DecisionsRepo
	perfRepo  persistence.PerformanceRepo
	breaker   *gobreaker.CircuitBreaker

	mu   sync.Mutex
	seen map[uuid.UUID]struct{}
}

// NewLoop creates a feedback loop over the tracker and repositories.
func NewLoop(cfg Config, tracker *perf.Tracker, decisions persistence.DecisionsRepo, perfRepo persistence.PerformanceRepo) *Loop {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "feedback-persistence",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("feedback persistence breaker state change")
		},
	})
	return &Loop{
		cfg:       cfg,
		tracker:   tracker,
		decisions: decisions,
		perfRepo:  perfRepo,
		breaker:   breaker,
		seen:      make(map[uuid.UUID]struct{}),
	}
}

// RecordOutcome updates the performance records for every signal kind and
// agent that contributed to the decision, then persists the result and the
// refreshed aggregates. In-memory updates always happen; a durable-write
// failure is retried and, if exhausted, flagged for reconciliation rather
// than losing the in-process state.
func (l *Loop) RecordOutcome(ctx context.Context, d *synth.Decision, res TradeResult) error {
	if err := res.Validate(); err != nil {
		return fmt.Errorf("invalid trade result: %w", err)
	}
	if res.DecisionID != d.ID {
		return fmt.Errorf("trade result decision %s does not match decision %s", res.DecisionID, d.ID)
	}

	l.mu.Lock()
	if _, dup := l.seen[d.ID]; dup {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateResult, d.ID)
	}
	l.seen[d.ID] = struct{}{}
	l.mu.Unlock()

	profitable := res.PnL > 0
	latency := time.Duration(res.LatencyMs) * time.Millisecond

	var signalRecs []persistence.SignalPerformanceRecord
	for _, kind := range uniqueKinds(d) {
		aggr := l.tracker.RecordSignalOutcome(kind, profitable, res.PnL, res.ROI)
		signalRecs = append(signalRecs, persistence.SignalPerformanceRecord{
			Kind:         kind.String(),
			SuccessRate:  aggr.SuccessRate,
			ProfitImpact: aggr.ProfitImpact,
			Samples:      aggr.Samples,
			UpdatedAt:    aggr.UpdatedAt,
		})
	}

	var agentRecs []persistence.AgentPerformanceRecord
	for _, agentID := range uniqueAgents(d) {
		aggr := l.tracker.RecordAgentOutcome(agentID, profitable, res.ROI, latency)
		agentRecs = append(agentRecs, persistence.AgentPerformanceRecord{
			AgentID:      agentID,
			SuccessRate:  aggr.SuccessRate,
			ProfitImpact: aggr.ProfitImpact,
			Samples:      aggr.Samples,
			AvgLatencyMs: aggr.AvgLatencyMs,
			UpdatedAt:    aggr.UpdatedAt,
		})
	}

	log.Info().
		Str("decision", d.ID.String()).
		Bool("profitable", profitable).
		Float64("pnl", res.PnL).
		Int("signal_kinds", len(signalRecs)).
		Int("agents", len(agentRecs)).
		Msg("outcome recorded")

	if err := l.persist(ctx, d, res, signalRecs, agentRecs); err != nil {
		l.flagInconsistent(ctx, d.ID, err)
		return fmt.Errorf("%w: %v", ErrPersistExhausted, err)
	}
	return nil
}

// persist writes the result and aggregates with retries behind the breaker.
func (l *Loop) persist(ctx context.Context, d *synth.Decision, res TradeResult,
	signalRecs []persistence.SignalPerformanceRecord, agentRecs []persistence.AgentPerformanceRecord) error {

	// Memory-only mode: no durable store configured.
	if l.decisions == nil || l.perfRepo == nil {
		return nil
	}

	write := func() error {
		_, err := l.breaker.Execute(func() (interface{}, error) {
			if err := l.decisions.InsertTradeResult(ctx, persistence.TradeResultRecord{
				DecisionID: res.DecisionID,
				PnL:        res.PnL,
				ROI:        res.ROI,
				LatencyMs:  res.LatencyMs,
				Slippage:   res.Slippage,
				ReportedAt: res.ReportedAt,
			}); err != nil {
				return nil, err
			}
			for _, rec := range signalRecs {
				if err := l.perfRepo.UpsertSignal(ctx, rec); err != nil {
					return nil, err
				}
			}
			for _, rec := range agentRecs {
				if err := l.perfRepo.UpsertAgent(ctx, rec); err != nil {
					return nil, err
				}
			}
			return nil, nil
		})
		return err
	}

	var err error
	backoff := l.cfg.InitialBackoff
	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		if err = write(); err == nil {
			return nil
		}
		if attempt == l.cfg.MaxRetries {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", backoff).
			Str("decision", d.ID.String()).Msg("feedback persistence retry")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

func (l *Loop) flagInconsistent(ctx context.Context, decisionID uuid.UUID, cause error) {
	if err := l.decisions.MarkInconsistent(ctx, decisionID, cause.Error()); err != nil {
		log.Error().Err(err).Str("decision", decisionID.String()).
			Msg("failed to flag decision for reconciliation")
		return
	}
	log.Warn().Str("decision", decisionID.String()).
		Msg("durable feedback record flagged inconsistent; in-memory state remains valid")
}

func uniqueKinds(d *synth.Decision) []signal.Kind {
	seen := make(map[signal.Kind]struct{}, len(d.SignalKinds))
	var out []signal.Kind
	for _, k := range d.SignalKinds {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func uniqueAgents(d *synth.Decision) []string {
	seen := make(map[string]struct{}, len(d.Responses))
	var out []string
	for _, r := range d.Responses {
		if _, ok := seen[r.AgentID]; ok {
			continue
		}
		seen[r.AgentID] = struct{}{}
		out = append(out, r.AgentID)
	}
	return out
}
