package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/krakenfall/conclave/internal/persistence"
)

// performanceRepo implements persistence.PerformanceRepo for PostgreSQL.
// Aggregates upsert by key so replaying the trade-result stream rebuilds the
// same rows.
type performanceRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPerformanceRepo creates a PostgreSQL performance repository.
func NewPerformanceRepo(db *sqlx.DB, timeout time.Duration) persistence.PerformanceRepo {
	return &performanceRepo{db: db, timeout: timeout}
}

// UpsertSignal writes the per-kind aggregate idempotently.
func (r *performanceRepo) UpsertSignal(ctx context.Context, rec persistence.SignalPerformanceRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO signal_performance (kind, success_rate, profit_impact, samples, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kind) DO UPDATE SET
			success_rate = EXCLUDED.success_rate,
			profit_impact = EXCLUDED.profit_impact,
			samples = EXCLUDED.samples,
			updated_at = EXCLUDED.updated_at`

	if _, err := r.db.ExecContext(ctx, query,
		rec.Kind, rec.SuccessRate, rec.ProfitImpact, rec.Samples, rec.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert signal performance: %w", err)
	}
	return nil
}

// UpsertAgent writes the per-agent aggregate idempotently.
func (r *performanceRepo) UpsertAgent(ctx context.Context, rec persistence.AgentPerformanceRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO agent_performance (agent_id, success_rate, profit_impact, samples, avg_latency_ms, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (agent_id) DO UPDATE SET
			success_rate = EXCLUDED.success_rate,
			profit_impact = EXCLUDED.profit_impact,
			samples = EXCLUDED.samples,
			avg_latency_ms = EXCLUDED.avg_latency_ms,
			updated_at = EXCLUDED.updated_at`

	if _, err := r.db.ExecContext(ctx, query,
		rec.AgentID, rec.SuccessRate, rec.ProfitImpact, rec.Samples, rec.AvgLatencyMs, rec.UpdatedAt); err != nil {
		return fmt.Errorf("failed to upsert agent performance: %w", err)
	}
	return nil
}
