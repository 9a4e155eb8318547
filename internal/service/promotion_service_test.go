package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-laundry-api/internal/models"
	appErrors "github.com/noah-isme/sma-laundry-api/pkg/errors"
)

type mockPromotionBatches struct {
	batch      *models.Batch
	years      map[int]*models.BatchYear
	advanced   []int
	graduated  bool
	closedYear int
}

func (m *mockPromotionBatches) FindByID(ctx context.Context, id string) (*models.Batch, error) {
	if m.batch == nil || m.batch.ID != id {
		return nil, sql.ErrNoRows
	}
	b := *m.batch
	return &b, nil
}

func (m *mockPromotionBatches) FindYear(ctx context.Context, batchID string, yearNo int) (*models.BatchYear, error) {
	if y, ok := m.years[yearNo]; ok {
		copied := *y
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockPromotionBatches) AdvanceYear(ctx context.Context, exec sqlx.ExtContext, id string, newYear int) error {
	m.advanced = append(m.advanced, newYear)
	m.batch.CurrentYear = newYear
	return nil
}

func (m *mockPromotionBatches) MarkGraduatedTx(ctx context.Context, exec sqlx.ExtContext, id string) error {
	m.graduated = true
	m.batch.Active = false
	return nil
}

func (m *mockPromotionBatches) StampYearClosed(ctx context.Context, exec sqlx.ExtContext, batchID string, yearNo int, closedAt time.Time) error {
	m.closedYear = yearNo
	if y, ok := m.years[yearNo]; ok {
		y.ClosedAt = &closedAt
	}
	return nil
}

type mockPromotionPlans struct {
	closedCount int
	created     []models.WashPlan
	closeErr    error
}

func (m *mockPromotionPlans) CloseActiveForYear(ctx context.Context, exec sqlx.ExtContext, batchID string, yearNo int, closedAt time.Time) (int, error) {
	if m.closeErr != nil {
		return 0, m.closeErr
	}
	return m.closedCount, nil
}

func (m *mockPromotionPlans) CreateTx(ctx context.Context, exec sqlx.ExtContext, plan *models.WashPlan) error {
	m.created = append(m.created, *plan)
	return nil
}

type mockPromotionStudents struct {
	students []models.Student
}

func (m *mockPromotionStudents) ListActiveByBatch(ctx context.Context, batchID string) ([]models.Student, error) {
	return m.students, nil
}

type mockPolicyReader struct {
	policy *models.WashPolicy
}

func (m *mockPolicyReader) FindActive(ctx context.Context) (*models.WashPolicy, error) {
	if m.policy == nil {
		return nil, sql.ErrNoRows
	}
	return m.policy, nil
}

type mockCachePurger struct {
	patterns []string
}

func (m *mockCachePurger) DeleteByPattern(ctx context.Context, pattern string) error {
	m.patterns = append(m.patterns, pattern)
	return nil
}

func promotionFixture(t *testing.T) (*mockPromotionBatches, *mockPromotionPlans, *mockPromotionStudents, *mockPolicyReader, *mockCachePurger, *sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	batches := &mockPromotionBatches{
		batch: &models.Batch{ID: "batch-1", CurrentYear: 1, TotalYears: 3, Active: true},
		years: map[int]*models.BatchYear{
			1: {BatchID: "batch-1", YearNo: 1, StartDate: start.AddDate(-1, 0, 0)},
			2: {BatchID: "batch-1", YearNo: 2, StartDate: start},
			3: {BatchID: "batch-1", YearNo: 3, StartDate: start.AddDate(1, 0, 0)},
		},
	}
	plans := &mockPromotionPlans{closedCount: 2}
	students := &mockPromotionStudents{students: []models.Student{
		{ID: "stu-1", Active: true}, {ID: "stu-2", Active: true},
	}}
	policies := &mockPolicyReader{policy: &models.WashPolicy{ID: "pol-1", TotalUnits: 96, UnitWeightKg: 5, Active: true}}
	cache := &mockCachePurger{}
	return batches, plans, students, policies, cache, sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestPromotionServicePromoteOpensNextYear(t *testing.T) {
	batches, plans, students, policies, cache, db, mock, cleanup := promotionFixture(t)
	defer cleanup()
	svc := NewPromotionService(batches, plans, students, policies, cache, db, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectCommit()

	result, err := svc.Promote(context.Background(), "batch-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ClosedYear)
	assert.Equal(t, 2, result.NewYear)
	assert.Equal(t, 2, result.ClosedCount)
	assert.Equal(t, 2, result.CreatedCount)
	assert.False(t, result.Graduated)

	require.Len(t, plans.created, 2)
	for _, plan := range plans.created {
		assert.Equal(t, 2, plan.YearNo)
		assert.Equal(t, uint(96), plan.TotalUnits)
		assert.Equal(t, "pol-1", plan.PolicyID)
		assert.True(t, plan.Active)
	}
	assert.Equal(t, []int{2}, batches.advanced)
	assert.Equal(t, 1, batches.closedYear)
	assert.Contains(t, cache.patterns, "wash:balance:*")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPromotionServicePromoteWithPolicyOverride(t *testing.T) {
	batches, plans, students, policies, cache, db, mock, cleanup := promotionFixture(t)
	defer cleanup()
	svc := NewPromotionService(batches, plans, students, policies, cache, db, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectCommit()

	override := &PromotePolicyOverride{TotalUnits: 120, UnitWeightKg: 6}
	result, err := svc.Promote(context.Background(), "batch-1", override)
	require.NoError(t, err)
	assert.Equal(t, 2, result.CreatedCount)

	// Override replaces the allocation numbers but the active policy row
	// stays the snapshot's reference.
	require.Len(t, plans.created, 2)
	for _, plan := range plans.created {
		assert.Equal(t, uint(120), plan.TotalUnits)
		assert.Equal(t, 6.0, plan.UnitWeightKg)
		assert.Equal(t, "pol-1", plan.PolicyID)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPromotionServicePromoteRejectsInvalidOverride(t *testing.T) {
	batches, plans, students, policies, cache, db, _, cleanup := promotionFixture(t)
	defer cleanup()
	svc := NewPromotionService(batches, plans, students, policies, cache, db, zap.NewNop())

	_, err := svc.Promote(context.Background(), "batch-1", &PromotePolicyOverride{TotalUnits: 0, UnitWeightKg: 5})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	assert.Empty(t, plans.created)
}

func TestPromotionServiceGraduatesFinalYear(t *testing.T) {
	batches, plans, students, policies, cache, db, mock, cleanup := promotionFixture(t)
	defer cleanup()
	batches.batch.CurrentYear = 3
	svc := NewPromotionService(batches, plans, students, policies, cache, db, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectCommit()

	result, err := svc.Promote(context.Background(), "batch-1", nil)
	require.NoError(t, err)
	assert.True(t, result.Graduated)
	assert.Equal(t, 3, result.ClosedYear)
	assert.Equal(t, 3, result.NewYear)
	assert.Zero(t, result.CreatedCount)
	assert.True(t, batches.graduated)
	assert.Empty(t, plans.created)
	assert.Empty(t, batches.advanced)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPromotionServiceRequiresOpenYear(t *testing.T) {
	batches, plans, students, policies, cache, db, _, cleanup := promotionFixture(t)
	defer cleanup()
	closed := time.Now().UTC()
	batches.years[1].ClosedAt = &closed
	svc := NewPromotionService(batches, plans, students, policies, cache, db, zap.NewNop())

	_, err := svc.Promote(context.Background(), "batch-1", nil)
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErr.Code)
}

func TestPromotionServiceRequiresActivePolicy(t *testing.T) {
	batches, plans, students, policies, cache, db, _, cleanup := promotionFixture(t)
	defer cleanup()
	policies.policy = nil
	svc := NewPromotionService(batches, plans, students, policies, cache, db, zap.NewNop())

	_, err := svc.Promote(context.Background(), "batch-1", nil)
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErr.Code)
	assert.Empty(t, plans.created)
}

func TestPromotionServiceRollsBackOnFailure(t *testing.T) {
	batches, plans, students, policies, cache, db, mock, cleanup := promotionFixture(t)
	defer cleanup()
	plans.closeErr = sql.ErrConnDone
	svc := NewPromotionService(batches, plans, students, policies, cache, db, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.Promote(context.Background(), "batch-1", nil)
	require.Error(t, err)
	assert.Empty(t, plans.created)
	assert.Empty(t, cache.patterns)
	require.NoError(t, mock.ExpectationsWereMet())
}
