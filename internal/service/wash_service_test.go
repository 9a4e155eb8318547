package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-laundry-api/internal/models"
	"github.com/noah-isme/sma-laundry-api/internal/repository"
	appErrors "github.com/noah-isme/sma-laundry-api/pkg/errors"
)

type mockRequestStore struct {
	requests     map[string]models.WashRequest
	created      *models.WashRequest
	statusCalls  []models.WashStatus
	lastReason   *string
	lastReturned *time.Time
	deleted      []string
}

func (m *mockRequestStore) List(ctx context.Context, filter models.WashRequestFilter) ([]models.WashRequestDetail, int, error) {
	return nil, 0, nil
}

func (m *mockRequestStore) FindByID(ctx context.Context, id string) (*models.WashRequest, error) {
	if r, ok := m.requests[id]; ok && !r.Deleted {
		return &r, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRequestStore) FindByIDIncludeDeleted(ctx context.Context, id string) (*models.WashRequest, error) {
	if r, ok := m.requests[id]; ok {
		return &r, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRequestStore) CreateTx(ctx context.Context, exec sqlx.ExtContext, request *models.WashRequest) error {
	if m.requests == nil {
		m.requests = make(map[string]models.WashRequest)
	}
	if request.ID == "" {
		request.ID = "new-request"
	}
	if request.GivenDate.IsZero() {
		request.GivenDate = time.Now().UTC()
	}
	m.requests[request.ID] = *request
	m.created = request
	return nil
}

func (m *mockRequestStore) UpdateWeightTx(ctx context.Context, exec sqlx.ExtContext, id string, weightKg float64, unitCost uint) error {
	if r, ok := m.requests[id]; ok {
		r.WeightKg = weightKg
		r.UnitCost = unitCost
		m.requests[id] = r
	}
	return nil
}

func (m *mockRequestStore) UpdateStatus(ctx context.Context, id string, status models.WashStatus, returnedDate *time.Time, reason *string) error {
	m.statusCalls = append(m.statusCalls, status)
	m.lastReturned = returnedDate
	m.lastReason = reason
	if r, ok := m.requests[id]; ok {
		r.Status = status
		if returnedDate != nil {
			r.ReturnedDate = returnedDate
		}
		if reason != nil {
			r.CancellationReason = reason
		}
		m.requests[id] = r
	}
	return nil
}

func (m *mockRequestStore) SoftDeleteTx(ctx context.Context, exec sqlx.ExtContext, id string) error {
	m.deleted = append(m.deleted, id)
	if r, ok := m.requests[id]; ok {
		r.Deleted = true
		m.requests[id] = r
	}
	return nil
}

type mockPlanLedger struct {
	plans    map[string]models.WashPlan
	byOwner  map[string]string
	deltas   []int
	deltaErr error
}

func (m *mockPlanLedger) FindByID(ctx context.Context, id string) (*models.WashPlan, error) {
	if p, ok := m.plans[id]; ok {
		return &p, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockPlanLedger) FindActiveByStudent(ctx context.Context, studentID string) (*models.WashPlan, error) {
	if id, ok := m.byOwner[studentID]; ok {
		return m.FindByID(ctx, id)
	}
	return nil, sql.ErrNoRows
}

func (m *mockPlanLedger) ApplyDelta(ctx context.Context, exec sqlx.ExtContext, planID string, delta int) error {
	if m.deltaErr != nil {
		return m.deltaErr
	}
	m.deltas = append(m.deltas, delta)
	if p, ok := m.plans[planID]; ok {
		p.UsedUnits = uint(int(p.UsedUnits) + delta)
		p.RemainingUnits = p.TotalUnits - p.UsedUnits
		m.plans[planID] = p
	}
	return nil
}

type mockBalanceCache struct {
	deletedKeys []string
}

func (m *mockBalanceCache) Delete(ctx context.Context, key string) error {
	m.deletedKeys = append(m.deletedKeys, key)
	return nil
}

func newWashFixture(t *testing.T) (*mockRequestStore, *mockPlanLedger, *mockBalanceCache, *sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	requests := &mockRequestStore{requests: make(map[string]models.WashRequest)}
	plans := &mockPlanLedger{
		plans: map[string]models.WashPlan{
			"plan-1": {ID: "plan-1", StudentID: "stu-1", TotalUnits: 20, UsedUnits: 10, RemainingUnits: 10, UnitWeightKg: 5, Active: true},
		},
		byOwner: map[string]string{"stu-1": "plan-1"},
	}
	cache := &mockBalanceCache{}
	return requests, plans, cache, sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestWashServiceCreateDebitsPlan(t *testing.T) {
	requests, plans, cache, db, mock, cleanup := newWashFixture(t)
	defer cleanup()
	svc := NewWashService(requests, plans, cache, db, validator.New(), zap.NewNop(), WashConfig{MaxWeightKg: 50})

	mock.ExpectBegin()
	mock.ExpectCommit()

	request, err := svc.Create(context.Background(), CreateWashRequestInput{StudentID: "stu-1", WeightKg: 7.5})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPendingPickup, request.Status)
	assert.Equal(t, uint(2), request.UnitCost)
	assert.Equal(t, []int{2}, plans.deltas)
	assert.Contains(t, cache.deletedKeys, balanceCacheKey("plan-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWashServiceCreateInsufficientBalance(t *testing.T) {
	requests, plans, cache, db, mock, cleanup := newWashFixture(t)
	defer cleanup()
	plan := plans.plans["plan-1"]
	plan.UsedUnits = 19
	plan.RemainingUnits = 1
	plans.plans["plan-1"] = plan
	svc := NewWashService(requests, plans, cache, db, validator.New(), zap.NewNop(), WashConfig{MaxWeightKg: 50})

	_, err := svc.Create(context.Background(), CreateWashRequestInput{StudentID: "stu-1", WeightKg: 12})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrInsufficientBalance.Code, appErr.Code)
	assert.Equal(t, "insufficient balance; required 3, available 1", appErr.Message)
	assert.Nil(t, requests.created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWashServiceCreateBalanceConflictRollsBack(t *testing.T) {
	requests, plans, cache, db, mock, cleanup := newWashFixture(t)
	defer cleanup()
	plans.deltaErr = repository.ErrBalanceConflict
	svc := NewWashService(requests, plans, cache, db, validator.New(), zap.NewNop(), WashConfig{MaxWeightKg: 50})

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := svc.Create(context.Background(), CreateWashRequestInput{StudentID: "stu-1", WeightKg: 7.5})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrInsufficientBalance.Code, appErr.Code)
	assert.Empty(t, cache.deletedKeys)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWashServiceCreateRejectsOverweight(t *testing.T) {
	requests, plans, cache, db, _, cleanup := newWashFixture(t)
	defer cleanup()
	svc := NewWashService(requests, plans, cache, db, validator.New(), zap.NewNop(), WashConfig{MaxWeightKg: 10})

	_, err := svc.Create(context.Background(), CreateWashRequestInput{StudentID: "stu-1", WeightKg: 12})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestWashServiceReweighAppliesDelta(t *testing.T) {
	requests, plans, cache, db, mock, cleanup := newWashFixture(t)
	defer cleanup()
	requests.requests["req-1"] = models.WashRequest{
		ID: "req-1", PlanID: "plan-1", StudentID: "stu-1",
		WeightKg: 7.5, UnitCost: 2, Status: models.StatusPendingPickup,
		GivenDate: time.Now().UTC().Add(-time.Hour),
	}
	svc := NewWashService(requests, plans, cache, db, validator.New(), zap.NewNop(), WashConfig{MaxWeightKg: 50})

	mock.ExpectBegin()
	mock.ExpectCommit()

	outcome, err := svc.Reweigh(context.Background(), "req-1", ReweighWashRequestInput{WeightKg: 12})
	require.NoError(t, err)
	assert.False(t, outcome.Cancelled)
	assert.Equal(t, uint(3), outcome.Request.UnitCost)
	assert.Equal(t, []int{1}, plans.deltas)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWashServiceReweighAutoCancelOnShortfall(t *testing.T) {
	requests, plans, cache, db, mock, cleanup := newWashFixture(t)
	defer cleanup()
	plan := plans.plans["plan-1"]
	plan.UsedUnits = 20
	plan.RemainingUnits = 0
	plans.plans["plan-1"] = plan
	plans.deltaErr = repository.ErrBalanceConflict
	requests.requests["req-1"] = models.WashRequest{
		ID: "req-1", PlanID: "plan-1", StudentID: "stu-1",
		WeightKg: 7.5, UnitCost: 2, Status: models.StatusPickedUp,
		GivenDate: time.Now().UTC().Add(-time.Hour),
	}
	svc := NewWashService(requests, plans, cache, db, validator.New(), zap.NewNop(), WashConfig{MaxWeightKg: 50})

	mock.ExpectBegin()
	mock.ExpectRollback()

	outcome, err := svc.Reweigh(context.Background(), "req-1", ReweighWashRequestInput{WeightKg: 18})
	require.NoError(t, err)
	assert.True(t, outcome.Cancelled)
	assert.Equal(t, "insufficient balance; required 4, available 2", outcome.Reason)
	assert.Equal(t, models.StatusCancelled, requests.requests["req-1"].Status)
	require.NotNil(t, requests.lastReason)
	assert.Equal(t, outcome.Reason, *requests.lastReason)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWashServiceReweighRejectedOnTerminalRequest(t *testing.T) {
	requests, plans, cache, db, _, cleanup := newWashFixture(t)
	defer cleanup()
	for _, status := range []models.WashStatus{models.StatusCancelled, models.StatusReturned} {
		requests.requests["req-1"] = models.WashRequest{
			ID: "req-1", PlanID: "plan-1", StudentID: "stu-1",
			WeightKg: 7.5, UnitCost: 2, Status: status,
		}
		svc := NewWashService(requests, plans, cache, db, validator.New(), zap.NewNop(), WashConfig{})

		_, err := svc.Reweigh(context.Background(), "req-1", ReweighWashRequestInput{WeightKg: 5})
		require.Error(t, err)
		var appErr *appErrors.Error
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, appErrors.ErrTerminalState.Code, appErr.Code)
	}
}

func TestWashServiceReweighAllowedWhileWashing(t *testing.T) {
	requests, plans, cache, db, mock, cleanup := newWashFixture(t)
	defer cleanup()
	requests.requests["req-1"] = models.WashRequest{
		ID: "req-1", PlanID: "plan-1", StudentID: "stu-1",
		WeightKg: 7.5, UnitCost: 2, Status: models.StatusWashing,
		GivenDate: time.Now().UTC().Add(-time.Hour),
	}
	svc := NewWashService(requests, plans, cache, db, validator.New(), zap.NewNop(), WashConfig{MaxWeightKg: 50})

	mock.ExpectBegin()
	mock.ExpectCommit()

	outcome, err := svc.Reweigh(context.Background(), "req-1", ReweighWashRequestInput{WeightKg: 4.5})
	require.NoError(t, err)
	assert.False(t, outcome.Cancelled)
	assert.Equal(t, uint(1), outcome.Request.UnitCost)
	assert.Equal(t, []int{-1}, plans.deltas)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWashServiceTransitionHappyPath(t *testing.T) {
	requests, plans, cache, db, _, cleanup := newWashFixture(t)
	defer cleanup()
	given := time.Now().UTC().Add(-24 * time.Hour)
	requests.requests["req-1"] = models.WashRequest{
		ID: "req-1", PlanID: "plan-1", Status: models.StatusCompleted, GivenDate: given,
	}
	svc := NewWashService(requests, plans, cache, db, validator.New(), zap.NewNop(), WashConfig{})

	request, err := svc.Transition(context.Background(), "req-1", TransitionWashRequestInput{Status: models.StatusReturned})
	require.NoError(t, err)
	assert.Equal(t, models.StatusReturned, request.Status)
	require.NotNil(t, request.ReturnedDate)
	assert.True(t, request.ReturnedDate.After(given))
}

func TestWashServiceTransitionRejectsSkips(t *testing.T) {
	requests, plans, cache, db, _, cleanup := newWashFixture(t)
	defer cleanup()
	requests.requests["req-1"] = models.WashRequest{
		ID: "req-1", PlanID: "plan-1", Status: models.StatusPendingPickup, GivenDate: time.Now().UTC(),
	}
	svc := NewWashService(requests, plans, cache, db, validator.New(), zap.NewNop(), WashConfig{})

	_, err := svc.Transition(context.Background(), "req-1", TransitionWashRequestInput{Status: models.StatusCompleted})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErr.Code)
}

func TestWashServiceTransitionTerminalState(t *testing.T) {
	requests, plans, cache, db, _, cleanup := newWashFixture(t)
	defer cleanup()
	requests.requests["req-1"] = models.WashRequest{
		ID: "req-1", PlanID: "plan-1", Status: models.StatusReturned, GivenDate: time.Now().UTC(),
	}
	svc := NewWashService(requests, plans, cache, db, validator.New(), zap.NewNop(), WashConfig{})

	_, err := svc.Transition(context.Background(), "req-1", TransitionWashRequestInput{Status: models.StatusCancelled, Reason: "late"})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrTerminalState.Code, appErr.Code)
}

func TestWashServiceCancelRequiresReason(t *testing.T) {
	requests, plans, cache, db, _, cleanup := newWashFixture(t)
	defer cleanup()
	requests.requests["req-1"] = models.WashRequest{
		ID: "req-1", PlanID: "plan-1", Status: models.StatusWashing, GivenDate: time.Now().UTC(),
	}
	svc := NewWashService(requests, plans, cache, db, validator.New(), zap.NewNop(), WashConfig{})

	_, err := svc.Transition(context.Background(), "req-1", TransitionWashRequestInput{Status: models.StatusCancelled})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)

	request, err := svc.Transition(context.Background(), "req-1", TransitionWashRequestInput{Status: models.StatusCancelled, Reason: "machine breakdown"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, request.Status)
	// Cancellation never credits back consumed units.
	assert.Empty(t, plans.deltas)
}

func TestWashServiceCancelKeepsRecordedReason(t *testing.T) {
	requests, plans, cache, db, _, cleanup := newWashFixture(t)
	defer cleanup()
	recorded := "insufficient balance after weight correction"
	requests.requests["req-1"] = models.WashRequest{
		ID: "req-1", PlanID: "plan-1", Status: models.StatusWashing, GivenDate: time.Now().UTC(),
		CancellationReason: &recorded,
	}
	svc := NewWashService(requests, plans, cache, db, validator.New(), zap.NewNop(), WashConfig{})

	request, err := svc.Transition(context.Background(), "req-1", TransitionWashRequestInput{Status: models.StatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, request.Status)
	require.NotNil(t, request.CancellationReason)
	assert.Equal(t, recorded, *request.CancellationReason)
}

func TestWashServiceReturnedDateMustFollowGivenDate(t *testing.T) {
	requests, plans, cache, db, _, cleanup := newWashFixture(t)
	defer cleanup()
	given := time.Now().UTC()
	requests.requests["req-1"] = models.WashRequest{
		ID: "req-1", PlanID: "plan-1", Status: models.StatusCompleted, GivenDate: given,
	}
	svc := NewWashService(requests, plans, cache, db, validator.New(), zap.NewNop(), WashConfig{})

	early := given.Add(-time.Minute)
	_, err := svc.Transition(context.Background(), "req-1", TransitionWashRequestInput{Status: models.StatusReturned, ReturnedDate: &early})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestWashServiceDeleteRefundsHeldUnits(t *testing.T) {
	requests, plans, cache, db, mock, cleanup := newWashFixture(t)
	defer cleanup()
	requests.requests["req-1"] = models.WashRequest{
		ID: "req-1", PlanID: "plan-1", UnitCost: 2, Status: models.StatusPendingPickup, GivenDate: time.Now().UTC(),
	}
	svc := NewWashService(requests, plans, cache, db, validator.New(), zap.NewNop(), WashConfig{})

	mock.ExpectBegin()
	mock.ExpectCommit()

	require.NoError(t, svc.Delete(context.Background(), "req-1"))
	assert.Equal(t, []int{-2}, plans.deltas)
	assert.Contains(t, requests.deleted, "req-1")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWashServiceDeleteCancelledKeepsLedger(t *testing.T) {
	requests, plans, cache, db, mock, cleanup := newWashFixture(t)
	defer cleanup()
	requests.requests["req-1"] = models.WashRequest{
		ID: "req-1", PlanID: "plan-1", UnitCost: 2, Status: models.StatusCancelled, GivenDate: time.Now().UTC(),
	}
	svc := NewWashService(requests, plans, cache, db, validator.New(), zap.NewNop(), WashConfig{})

	mock.ExpectBegin()
	mock.ExpectCommit()

	require.NoError(t, svc.Delete(context.Background(), "req-1"))
	assert.Empty(t, plans.deltas)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWashServiceDeleteRejectedMidCycle(t *testing.T) {
	requests, plans, cache, db, _, cleanup := newWashFixture(t)
	defer cleanup()
	requests.requests["req-1"] = models.WashRequest{
		ID: "req-1", PlanID: "plan-1", UnitCost: 2, Status: models.StatusWashing, GivenDate: time.Now().UTC(),
	}
	svc := NewWashService(requests, plans, cache, db, validator.New(), zap.NewNop(), WashConfig{})

	err := svc.Delete(context.Background(), "req-1")
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErr.Code)
}
