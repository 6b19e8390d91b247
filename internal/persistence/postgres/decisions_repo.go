package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/krakenfall/conclave/internal/persistence"
)

// ErrNotFound is returned when no row exists for the requested id.
var ErrNotFound = persistence.ErrNotFound

// ErrDuplicate is returned for unique-constraint violations.
var ErrDuplicate = errors.New("duplicate record")

const uniqueViolation = "23505"

// decisionsRepo implements persistence.DecisionsRepo for PostgreSQL.
type decisionsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewDecisionsRepo creates a PostgreSQL decisions repository.
func NewDecisionsRepo(db *sqlx.DB, timeout time.Duration) persistence.DecisionsRepo {
	return &decisionsRepo{db: db, timeout: timeout}
}

// Insert stores a newly synthesized decision.
func (r *decisionsRepo) Insert(ctx context.Context, rec persistence.DecisionRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO decisions (id, goal_id, action, confidence, vetoed, clipped, params, responses, rationale, signal_kinds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.GoalID, rec.Action, rec.Confidence, rec.Vetoed, rec.Clipped,
		rec.Params, rec.Responses, rec.Rationale, rec.SignalKinds, rec.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: decision %s", ErrDuplicate, rec.ID)
		}
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

// Get retrieves a decision by id.
func (r *decisionsRepo) Get(ctx context.Context, id uuid.UUID) (persistence.DecisionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, goal_id, action, confidence, vetoed, clipped, params, responses, rationale, signal_kinds, created_at
		FROM decisions
		WHERE id = $1`

	var rec persistence.DecisionRecord
	if err := r.db.GetContext(ctx, &rec, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.DecisionRecord{}, fmt.Errorf("%w: decision %s", ErrNotFound, id)
		}
		return persistence.DecisionRecord{}, fmt.Errorf("failed to get decision: %w", err)
	}
	return rec, nil
}

// InsertTradeResult stores the executor's outcome report for a decision.
func (r *decisionsRepo) InsertTradeResult(ctx context.Context, rec persistence.TradeResultRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO trade_results (decision_id, pnl, roi, latency_ms, slippage, reported_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query,
		rec.DecisionID, rec.PnL, rec.ROI, rec.LatencyMs, rec.Slippage, rec.ReportedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: trade result for decision %s", ErrDuplicate, rec.DecisionID)
		}
		return fmt.Errorf("failed to insert trade result: %w", err)
	}
	return nil
}

// MarkInconsistent flags a decision for reconciliation after feedback
// persistence exhausted its retries.
func (r *decisionsRepo) MarkInconsistent(ctx context.Context, decisionID uuid.UUID, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO reconciliation_flags (decision_id, reason, flagged_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (decision_id) DO UPDATE SET reason = EXCLUDED.reason, flagged_at = EXCLUDED.flagged_at`

	if _, err := r.db.ExecContext(ctx, query, decisionID, reason, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to flag decision inconsistent: %w", err)
	}
	return nil
}
