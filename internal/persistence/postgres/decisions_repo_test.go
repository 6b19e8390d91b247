package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krakenfall/conclave/internal/persistence"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func sampleDecision(t *testing.T) persistence.DecisionRecord {
	t.Helper()
	responses, err := json.Marshal([]map[string]any{{"agent_id": "quant-1"}})
	require.NoError(t, err)
	rationale, err := json.Marshal([]string{"quant-1 (quantitative, weight 0.30) → execute conf 0.90"})
	require.NoError(t, err)

	return persistence.DecisionRecord{
		ID:          uuid.New(),
		GoalID:      uuid.New(),
		Action:      "execute",
		Confidence:  0.81,
		Params:      []byte(`{"exposure":0.5}`),
		Responses:   responses,
		Rationale:   rationale,
		SignalKinds: []byte(`[0,2]`),
		CreatedAt:   time.Now().UTC(),
	}
}

func TestDecisionsRepo_Insert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDecisionsRepo(db, time.Second)
	rec := sampleDecision(t)

	mock.ExpectExec("INSERT INTO decisions").
		WithArgs(rec.ID, rec.GoalID, rec.Action, rec.Confidence, rec.Vetoed, rec.Clipped,
			rec.Params, rec.Responses, rec.Rationale, rec.SignalKinds, rec.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Insert(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDecisionsRepo_InsertDuplicate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDecisionsRepo(db, time.Second)
	rec := sampleDecision(t)

	mock.ExpectExec("INSERT INTO decisions").
		WillReturnError(&pq.Error{Code: uniqueViolation})

	err := repo.Insert(context.Background(), rec)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestDecisionsRepo_Get(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDecisionsRepo(db, time.Second)
	rec := sampleDecision(t)

	rows := sqlmock.NewRows([]string{
		"id", "goal_id", "action", "confidence", "vetoed", "clipped",
		"params", "responses", "rationale", "signal_kinds", "created_at",
	}).AddRow(rec.ID, rec.GoalID, rec.Action, rec.Confidence, rec.Vetoed, rec.Clipped,
		rec.Params, rec.Responses, rec.Rationale, rec.SignalKinds, rec.CreatedAt)

	mock.ExpectQuery("SELECT (.+) FROM decisions").
		WithArgs(rec.ID).
		WillReturnRows(rows)

	got, err := repo.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Action, got.Action)
	assert.Equal(t, rec.SignalKinds, got.SignalKinds)
}

func TestDecisionsRepo_GetNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDecisionsRepo(db, time.Second)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM decisions").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDecisionsRepo_InsertTradeResultDuplicate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDecisionsRepo(db, time.Second)

	mock.ExpectExec("INSERT INTO trade_results").
		WillReturnError(&pq.Error{Code: uniqueViolation})

	err := repo.InsertTradeResult(context.Background(), persistence.TradeResultRecord{
		DecisionID: uuid.New(),
		PnL:        1.2,
		ROI:        0.04,
		ReportedAt: time.Now().UTC(),
	})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestDecisionsRepo_MarkInconsistent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDecisionsRepo(db, time.Second)
	id := uuid.New()

	mock.ExpectExec("INSERT INTO reconciliation_flags").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.MarkInconsistent(context.Background(), id, "feedback write exhausted"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPerformanceRepo_Upserts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPerformanceRepo(db, time.Second)

	mock.ExpectExec("INSERT INTO signal_performance").
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, repo.UpsertSignal(context.Background(), persistence.SignalPerformanceRecord{
		Kind:        "volume_spike",
		SuccessRate: 0.62,
		Samples:     14,
		UpdatedAt:   time.Now().UTC(),
	}))

	mock.ExpectExec("INSERT INTO agent_performance").
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, repo.UpsertAgent(context.Background(), persistence.AgentPerformanceRecord{
		AgentID:     "quant-1",
		SuccessRate: 0.58,
		Samples:     9,
		UpdatedAt:   time.Now().UTC(),
	}))

	assert.NoError(t, mock.ExpectationsWereMet())
}
