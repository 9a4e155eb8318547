package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-laundry-api/internal/middleware"
	"github.com/noah-isme/sma-laundry-api/internal/models"
	"github.com/noah-isme/sma-laundry-api/internal/service"
	"github.com/noah-isme/sma-laundry-api/pkg/response"
)

type washRequestStoreMock struct {
	requests map[string]*models.WashRequest
	created  *models.WashRequest
}

func (m *washRequestStoreMock) List(ctx context.Context, filter models.WashRequestFilter) ([]models.WashRequestDetail, int, error) {
	return nil, 0, nil
}

func (m *washRequestStoreMock) FindByID(ctx context.Context, id string) (*models.WashRequest, error) {
	request, ok := m.requests[id]
	if !ok || request.Deleted {
		return nil, sql.ErrNoRows
	}
	return request, nil
}

func (m *washRequestStoreMock) FindByIDIncludeDeleted(ctx context.Context, id string) (*models.WashRequest, error) {
	request, ok := m.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return request, nil
}

func (m *washRequestStoreMock) CreateTx(ctx context.Context, exec sqlx.ExtContext, request *models.WashRequest) error {
	m.created = request
	return nil
}

func (m *washRequestStoreMock) UpdateWeightTx(ctx context.Context, exec sqlx.ExtContext, id string, weightKg float64, unitCost uint) error {
	return nil
}

func (m *washRequestStoreMock) UpdateStatus(ctx context.Context, id string, status models.WashStatus, returnedDate *time.Time, reason *string) error {
	if request, ok := m.requests[id]; ok {
		request.Status = status
	}
	return nil
}

func (m *washRequestStoreMock) SoftDeleteTx(ctx context.Context, exec sqlx.ExtContext, id string) error {
	return nil
}

type washPlanLedgerMock struct {
	plan *models.WashPlan
}

func (m *washPlanLedgerMock) FindByID(ctx context.Context, id string) (*models.WashPlan, error) {
	return m.plan, nil
}

func (m *washPlanLedgerMock) FindActiveByStudent(ctx context.Context, studentID string) (*models.WashPlan, error) {
	if m.plan == nil {
		return nil, sql.ErrNoRows
	}
	return m.plan, nil
}

func (m *washPlanLedgerMock) ApplyDelta(ctx context.Context, exec sqlx.ExtContext, planID string, delta int) error {
	return nil
}

type noopCacheMock struct{}

func (noopCacheMock) Delete(ctx context.Context, key string) error { return nil }

func newRequestHandlerFixture(t *testing.T, plan *models.WashPlan) (*RequestHandler, sqlmock.Sqlmock, *washRequestStoreMock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := &washRequestStoreMock{requests: map[string]*models.WashRequest{}}
	svc := service.NewWashService(store, &washPlanLedgerMock{plan: plan}, noopCacheMock{}, sqlx.NewDb(db, "sqlmock"), nil, nil, service.WashConfig{})
	return NewRequestHandler(svc), mock, store
}

func TestRequestHandlerCreate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	plan := &models.WashPlan{ID: "plan-1", StudentID: "stu-1", TotalUnits: 20, UsedUnits: 5, RemainingUnits: 15, UnitWeightKg: 5, Active: true}
	handler, mock, store := newRequestHandlerFixture(t, plan)
	mock.ExpectBegin()
	mock.ExpectCommit()

	payload, _ := json.Marshal(service.CreateWashRequestInput{StudentID: "stu-1", WeightKg: 7.5})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/requests", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, store.created)
	assert.Equal(t, uint(2), store.created.UnitCost)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestHandlerCreateInsufficientBalance(t *testing.T) {
	gin.SetMode(gin.TestMode)
	plan := &models.WashPlan{ID: "plan-1", StudentID: "stu-1", TotalUnits: 20, UsedUnits: 19, RemainingUnits: 1, UnitWeightKg: 5, Active: true}
	handler, _, _ := newRequestHandlerFixture(t, plan)

	payload, _ := json.Marshal(service.CreateWashRequestInput{StudentID: "stu-1", WeightKg: 12})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/requests", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Create(c)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "INSUFFICIENT_BALANCE", envelope.Error.Code)
}

func TestRequestHandlerCreatePinsStudentToClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	plan := &models.WashPlan{ID: "plan-1", StudentID: "stu-1", TotalUnits: 20, UsedUnits: 5, RemainingUnits: 15, UnitWeightKg: 5, Active: true}
	handler, mock, store := newRequestHandlerFixture(t, plan)
	mock.ExpectBegin()
	mock.ExpectCommit()

	payload, _ := json.Marshal(service.CreateWashRequestInput{StudentID: "someone-else", WeightKg: 4})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/requests", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	studentID := "stu-1"
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "user-1", Role: models.RoleStudent, StudentID: &studentID})

	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, store.created)
	assert.Equal(t, "stu-1", store.created.StudentID)
}

func TestRequestHandlerTransitionConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, _, store := newRequestHandlerFixture(t, nil)
	store.requests["req-1"] = &models.WashRequest{ID: "req-1", PlanID: "plan-1", Status: models.StatusPendingPickup, GivenDate: time.Now()}

	payload, _ := json.Marshal(service.TransitionWashRequestInput{Status: models.StatusCompleted})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPut, "/requests/req-1/status", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}

	handler.Transition(c)
	require.Equal(t, http.StatusConflict, w.Code)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, "INVALID_TRANSITION", envelope.Error.Code)
}
