package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-laundry-api/internal/models"
)

func newRequestRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestWashRequestRepositoryFindByIDFiltersDeleted(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewWashRequestRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM wash_requests WHERE id = $1 AND deleted = FALSE")).
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindByID(context.Background(), "req-1")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWashRequestRepositoryFindByIDIncludeDeleted(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewWashRequestRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "plan_id", "student_id", "weight_kg", "unit_cost", "status", "given_date", "returned_date", "cancellation_reason", "notes", "deleted", "created_at", "updated_at"}).
		AddRow("req-1", "plan-1", "stu-1", 7.5, 2, string(models.StatusCancelled), now, nil, "duplicate entry", "", true, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM wash_requests WHERE id = $1")).
		WithArgs("req-1").
		WillReturnRows(rows)

	request, err := repo.FindByIDIncludeDeleted(context.Background(), "req-1")
	require.NoError(t, err)
	require.True(t, request.Deleted)
	require.Equal(t, models.StatusCancelled, request.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWashRequestRepositoryUpdateStatus(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewWashRequestRepository(db)

	returned := time.Now().UTC()
	mock.ExpectExec(`UPDATE wash_requests SET status`).
		WithArgs("req-1", string(models.StatusReturned), returned, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateStatus(context.Background(), "req-1", models.StatusReturned, &returned, nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
