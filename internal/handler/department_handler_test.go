package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-laundry-api/internal/models"
	"github.com/noah-isme/sma-laundry-api/internal/service"
	"github.com/noah-isme/sma-laundry-api/pkg/response"
)

type departmentStoreMock struct {
	listResp   []models.Department
	listErr    error
	findResp   *models.Department
	findErr    error
	createErr  error
	lastFilter models.DepartmentFilter
	created    *models.Department
}

func (m *departmentStoreMock) List(ctx context.Context, filter models.DepartmentFilter) ([]models.Department, int, error) {
	m.lastFilter = filter
	return m.listResp, len(m.listResp), m.listErr
}

func (m *departmentStoreMock) FindByID(ctx context.Context, id string) (*models.Department, error) {
	return m.findResp, m.findErr
}

func (m *departmentStoreMock) Create(ctx context.Context, department *models.Department) error {
	m.created = department
	return m.createErr
}

func (m *departmentStoreMock) Update(ctx context.Context, department *models.Department) error {
	return nil
}

func (m *departmentStoreMock) SoftDelete(ctx context.Context, id string) error {
	return nil
}

func newDepartmentHandler(store *departmentStoreMock) *DepartmentHandler {
	return NewDepartmentHandler(service.NewDepartmentService(store, nil, nil))
}

func TestDepartmentHandlerList(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := &departmentStoreMock{
		listResp: []models.Department{{ID: "dep-1", Name: "Boarding", Code: "BRD"}},
	}
	handler := newDepartmentHandler(store)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/departments?search=boa&page=2&limit=5", nil)
	c.Request = req

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "boa", store.lastFilter.Search)
	assert.Equal(t, 2, store.lastFilter.Page)
	assert.Equal(t, 5, store.lastFilter.PageSize)

	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Nil(t, envelope.Error)
	assert.NotNil(t, envelope.Data)
}

func TestDepartmentHandlerGetNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newDepartmentHandler(&departmentStoreMock{findErr: sql.ErrNoRows})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/departments/missing", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "missing"}}

	handler.Get(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestDepartmentHandlerCreate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := &departmentStoreMock{}
	handler := newDepartmentHandler(store)

	payload, _ := json.Marshal(service.DepartmentInput{Name: "Boarding", Code: "BRD"})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/departments", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, store.created)
	assert.Equal(t, "BRD", store.created.Code)
}

func TestDepartmentHandlerCreateInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := newDepartmentHandler(&departmentStoreMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/departments", bytes.NewBufferString(`{"name":"Boarding"`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Create(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDepartmentHandlerCreateMissingCode(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := &departmentStoreMock{}
	handler := newDepartmentHandler(store)

	payload, _ := json.Marshal(service.DepartmentInput{Name: "Boarding"})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/departments", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Create(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, store.created)
}
