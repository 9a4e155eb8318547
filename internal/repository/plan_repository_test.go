package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newPlanRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestWashPlanRepositoryFindByIDFiltersDeleted(t *testing.T) {
	db, mock, cleanup := newPlanRepoMock(t)
	defer cleanup()
	repo := NewWashPlanRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "student_id", "batch_id", "year_no", "total_units", "used_units", "remaining_units", "unit_weight_kg", "policy_id", "start_date", "end_date", "active", "deleted", "created_at", "updated_at"}).
		AddRow("plan-1", "stu-1", "batch-1", 1, 30, 5, 25, 7.0, "pol-1", now, nil, true, false, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, student_id, batch_id, year_no, total_units, used_units, remaining_units, unit_weight_kg, policy_id, start_date, end_date, active, deleted, created_at, updated_at FROM wash_plans WHERE id = $1 AND deleted = FALSE")).
		WithArgs("plan-1").
		WillReturnRows(rows)

	plan, err := repo.FindByID(context.Background(), "plan-1")
	require.NoError(t, err)
	require.Equal(t, uint(25), plan.RemainingUnits)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWashPlanRepositoryApplyDelta(t *testing.T) {
	db, mock, cleanup := newPlanRepoMock(t)
	defer cleanup()
	repo := NewWashPlanRepository(db)

	mock.ExpectExec(`UPDATE wash_plans`).
		WithArgs("plan-1", 2, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.ApplyDelta(context.Background(), db, "plan-1", 2)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWashPlanRepositoryApplyDeltaBalanceConflict(t *testing.T) {
	db, mock, cleanup := newPlanRepoMock(t)
	defer cleanup()
	repo := NewWashPlanRepository(db)

	// Guard predicate fails, so no row updates.
	mock.ExpectExec(`UPDATE wash_plans`).
		WithArgs("plan-1", 99, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.ApplyDelta(context.Background(), db, "plan-1", 99)
	require.ErrorIs(t, err, ErrBalanceConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWashPlanRepositoryCloseActiveForYear(t *testing.T) {
	db, mock, cleanup := newPlanRepoMock(t)
	defer cleanup()
	repo := NewWashPlanRepository(db)

	closedAt := time.Now().UTC()
	mock.ExpectExec(`UPDATE wash_plans SET active = FALSE`).
		WithArgs("batch-1", 2, closedAt).
		WillReturnResult(sqlmock.NewResult(0, 12))

	closed, err := repo.CloseActiveForYear(context.Background(), db, "batch-1", 2, closedAt)
	require.NoError(t, err)
	require.Equal(t, 12, closed)
	require.NoError(t, mock.ExpectationsWereMet())
}
