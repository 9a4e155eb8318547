package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-laundry-api/internal/models"
	appErrors "github.com/noah-isme/sma-laundry-api/pkg/errors"
)

type mockBatchStore struct {
	batches      map[string]models.Batch
	years        map[string][]models.BatchYear
	createdYears int
}

func (m *mockBatchStore) List(ctx context.Context, filter models.BatchFilter) ([]models.BatchDetail, int, error) {
	return nil, 0, nil
}

func (m *mockBatchStore) FindByID(ctx context.Context, id string) (*models.Batch, error) {
	if b, ok := m.batches[id]; ok {
		return &b, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockBatchStore) Create(ctx context.Context, batch *models.Batch) error {
	if m.batches == nil {
		m.batches = make(map[string]models.Batch)
	}
	if batch.ID == "" {
		batch.ID = "new-batch"
	}
	m.batches[batch.ID] = *batch
	return nil
}

func (m *mockBatchStore) Update(ctx context.Context, batch *models.Batch) error {
	m.batches[batch.ID] = *batch
	return nil
}

func (m *mockBatchStore) SoftDelete(ctx context.Context, id string) error {
	delete(m.batches, id)
	return nil
}

func (m *mockBatchStore) ListYears(ctx context.Context, batchID string) ([]models.BatchYear, error) {
	return m.years[batchID], nil
}

func (m *mockBatchStore) FindYear(ctx context.Context, batchID string, yearNo int) (*models.BatchYear, error) {
	for i := range m.years[batchID] {
		if m.years[batchID][i].YearNo == yearNo {
			y := m.years[batchID][i]
			return &y, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockBatchStore) YearExists(ctx context.Context, batchID string, yearNo int) (bool, error) {
	_, err := m.FindYear(ctx, batchID, yearNo)
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (m *mockBatchStore) CreateYear(ctx context.Context, year *models.BatchYear) error {
	if m.years == nil {
		m.years = make(map[string][]models.BatchYear)
	}
	m.createdYears++
	m.years[year.BatchID] = append(m.years[year.BatchID], *year)
	return nil
}

func (m *mockBatchStore) UpdateYear(ctx context.Context, year *models.BatchYear) error {
	for i := range m.years[year.BatchID] {
		if m.years[year.BatchID][i].YearNo == year.YearNo {
			m.years[year.BatchID][i] = *year
		}
	}
	return nil
}

type mockDepartmentReader struct{}

func (m *mockDepartmentReader) FindByID(ctx context.Context, id string) (*models.Department, error) {
	if id == "missing" {
		return nil, sql.ErrNoRows
	}
	return &models.Department{ID: id}, nil
}

func batchYearInputs(totalYears int) []YearScheduleInput {
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	years := make([]YearScheduleInput, 0, totalYears)
	for i := 1; i <= totalYears; i++ {
		years = append(years, YearScheduleInput{YearNo: i, StartDate: start.AddDate(i-1, 0, 0)})
	}
	return years
}

func TestBatchServiceCreateWithSchedule(t *testing.T) {
	store := &mockBatchStore{}
	svc := NewBatchService(store, &mockDepartmentReader{}, validator.New(), zap.NewNop())

	detail, err := svc.Create(context.Background(), CreateBatchInput{
		Name:         "Angkatan 2026",
		DepartmentID: "dep-1",
		TotalYears:   3,
		Years:        batchYearInputs(3),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, detail.CurrentYear)
	assert.True(t, detail.Active)
	assert.Len(t, detail.Years, 3)
	assert.Equal(t, 3, store.createdYears)
}

func TestBatchServiceCreateRejectsBadSchedules(t *testing.T) {
	store := &mockBatchStore{}
	svc := NewBatchService(store, &mockDepartmentReader{}, validator.New(), zap.NewNop())
	start := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		years []YearScheduleInput
	}{
		{"missing year", batchYearInputs(2)},
		{"duplicate year", []YearScheduleInput{
			{YearNo: 1, StartDate: start},
			{YearNo: 1, StartDate: start.AddDate(1, 0, 0)},
			{YearNo: 2, StartDate: start.AddDate(2, 0, 0)},
		}},
		{"gap in numbering", []YearScheduleInput{
			{YearNo: 1, StartDate: start},
			{YearNo: 2, StartDate: start.AddDate(1, 0, 0)},
			{YearNo: 4, StartDate: start.AddDate(2, 0, 0)},
		}},
		{"overlapping ranges", func() []YearScheduleInput {
			end := start.AddDate(1, 2, 0)
			return []YearScheduleInput{
				{YearNo: 1, StartDate: start, EndDate: &end},
				{YearNo: 2, StartDate: start.AddDate(1, 0, 0)},
				{YearNo: 3, StartDate: start.AddDate(2, 0, 0)},
			}
		}()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), CreateBatchInput{
				Name:         "Angkatan 2026",
				DepartmentID: "dep-1",
				TotalYears:   3,
				Years:        tc.years,
			})
			require.Error(t, err)
			var appErr *appErrors.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
		})
	}
}

func TestBatchServiceUpdateGuardsCurrentYear(t *testing.T) {
	store := &mockBatchStore{batches: map[string]models.Batch{
		"batch-1": {ID: "batch-1", Name: "Angkatan 2024", DepartmentID: "dep-1", CurrentYear: 2, TotalYears: 3, Active: true},
	}}
	svc := NewBatchService(store, &mockDepartmentReader{}, validator.New(), zap.NewNop())

	_, err := svc.Update(context.Background(), "batch-1", UpdateBatchInput{Name: "Angkatan 2024", DepartmentID: "dep-1", TotalYears: 1})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErr.Code)
}

func TestBatchServiceUpdateYearRejectsClosed(t *testing.T) {
	closed := time.Now().UTC()
	start := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	store := &mockBatchStore{
		batches: map[string]models.Batch{"batch-1": {ID: "batch-1", CurrentYear: 2, TotalYears: 3, Active: true}},
		years: map[string][]models.BatchYear{"batch-1": {
			{BatchID: "batch-1", YearNo: 1, StartDate: start, ClosedAt: &closed},
		}},
	}
	svc := NewBatchService(store, &mockDepartmentReader{}, validator.New(), zap.NewNop())

	_, err := svc.UpdateYear(context.Background(), "batch-1", 1, YearScheduleInput{YearNo: 1, StartDate: start.AddDate(0, 1, 0)})
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErr.Code)
}
