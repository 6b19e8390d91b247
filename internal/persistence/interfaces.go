package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by lookups for records that do not exist.
var ErrNotFound = errors.New("record not found")

// DecisionRecord is the durable form of a synthesized decision, keyed by
// decision id. Responses and rationale travel as JSONB documents: the record
// must preserve the exact contributing set for audit.
type DecisionRecord struct {
	ID         uuid.UUID `json:"id" db:"id"`
	GoalID     uuid.UUID `json:"goal_id" db:"goal_id"`
	Action     string    `json:"action" db:"action"`
	Confidence float64   `json:"confidence" db:"confidence"`
	Vetoed     bool      `json:"vetoed" db:"vetoed"`
	Clipped    bool      `json:"clipped" db:"clipped"`
	Params     []byte    `json:"params" db:"params"`       // JSONB
	Responses  []byte    `json:"responses" db:"responses"` // JSONB, exact contributing set
	Rationale  []byte    `json:"rationale" db:"rationale"` // JSONB

	// SignalKinds preserves the contributing signal kinds so an evicted
	// decision can still drive the feedback loop after a reload.
	SignalKinds []byte `json:"signal_kinds" db:"signal_kinds"` // JSONB

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TradeResultRecord is the executor's realized outcome for one decision.
type TradeResultRecord struct {
	DecisionID uuid.UUID `json:"decision_id" db:"decision_id"`
	PnL        float64   `json:"pnl" db:"pnl"`
	ROI        float64   `json:"roi" db:"roi"`
	LatencyMs  int64     `json:"latency_ms" db:"latency_ms"`
	Slippage   float64   `json:"slippage" db:"slippage"`
	ReportedAt time.Time `json:"reported_at" db:"reported_at"`
}

// SignalPerformanceRecord is the durable per-kind aggregate. Rows are
// idempotent upserts so the table can be rebuilt from the trade-result
// stream.
type SignalPerformanceRecord struct {
	Kind         string    `json:"kind" db:"kind"`
	SuccessRate  float64   `json:"success_rate" db:"success_rate"`
	ProfitImpact float64   `json:"profit_impact" db:"profit_impact"`
	Samples      int       `json:"samples" db:"samples"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// AgentPerformanceRecord is the durable per-agent aggregate.
type AgentPerformanceRecord struct {
	AgentID      string    `json:"agent_id" db:"agent_id"`
	SuccessRate  float64   `json:"success_rate" db:"success_rate"`
	ProfitImpact float64   `json:"profit_impact" db:"profit_impact"`
	Samples      int       `json:"samples" db:"samples"`
	AvgLatencyMs float64   `json:"avg_latency_ms" db:"avg_latency_ms"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// DecisionsRepo persists decisions and their realized outcomes.
type DecisionsRepo interface {
	// Insert stores a newly synthesized decision. Duplicate ids are an error.
	Insert(ctx context.Context, rec DecisionRecord) error

	// Get retrieves a decision by id.
	Get(ctx context.Context, id uuid.UUID) (DecisionRecord, error)

	// InsertTradeResult stores the executor's outcome report. At most one
	// result per decision id.
	InsertTradeResult(ctx context.Context, rec TradeResultRecord) error

	// MarkInconsistent flags a decision whose feedback write exhausted its
	// retries, for later reconciliation.
	MarkInconsistent(ctx context.Context, decisionID uuid.UUID, reason string) error
}

// PerformanceRepo persists the per-key performance aggregates.
type PerformanceRepo interface {
	// UpsertSignal writes the aggregate for one signal kind idempotently.
	UpsertSignal(ctx context.Context, rec SignalPerformanceRecord) error

	// UpsertAgent writes the aggregate for one agent idempotently.
	UpsertAgent(ctx context.Context, rec AgentPerformanceRecord) error
}
