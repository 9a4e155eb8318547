package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newPolicyRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestWashPolicyRepositoryExistsActiveExcludesDeleted(t *testing.T) {
	db, mock, cleanup := newPolicyRepoMock(t)
	defer cleanup()
	repo := NewWashPolicyRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM wash_policies WHERE active = TRUE AND deleted = FALSE AND id <> $1 LIMIT 1")).
		WithArgs("pol-2").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	exists, err := repo.ExistsActive(context.Background(), "pol-2")
	require.NoError(t, err)
	require.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWashPolicyRepositoryActivateCheckedRejectsSecondActive(t *testing.T) {
	db, mock, cleanup := newPolicyRepoMock(t)
	defer cleanup()
	repo := NewWashPolicyRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM wash_policies WHERE active = TRUE AND deleted = FALSE AND id <> $1 LIMIT 1 FOR UPDATE")).
		WithArgs("pol-2").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectRollback()

	err := repo.ActivateChecked(context.Background(), "pol-2")
	require.ErrorIs(t, err, ErrActivePolicyExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWashPolicyRepositoryActivateChecked(t *testing.T) {
	db, mock, cleanup := newPolicyRepoMock(t)
	defer cleanup()
	repo := NewWashPolicyRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT 1 FROM wash_policies WHERE active = TRUE AND deleted = FALSE AND id <> $1 LIMIT 1 FOR UPDATE")).
		WithArgs("pol-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE wash_policies SET active = TRUE, updated_at = $2 WHERE id = $1 AND deleted = FALSE")).
		WithArgs("pol-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.ActivateChecked(context.Background(), "pol-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
