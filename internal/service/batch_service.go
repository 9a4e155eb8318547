package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-laundry-api/internal/models"
	appErrors "github.com/noah-isme/sma-laundry-api/pkg/errors"
)

type batchStore interface {
	List(ctx context.Context, filter models.BatchFilter) ([]models.BatchDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Batch, error)
	Create(ctx context.Context, batch *models.Batch) error
	Update(ctx context.Context, batch *models.Batch) error
	SoftDelete(ctx context.Context, id string) error
	ListYears(ctx context.Context, batchID string) ([]models.BatchYear, error)
	FindYear(ctx context.Context, batchID string, yearNo int) (*models.BatchYear, error)
	YearExists(ctx context.Context, batchID string, yearNo int) (bool, error)
	CreateYear(ctx context.Context, year *models.BatchYear) error
	UpdateYear(ctx context.Context, year *models.BatchYear) error
}

type departmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Department, error)
}

// YearScheduleInput is one entry of a batch's year calendar.
type YearScheduleInput struct {
	YearNo    int        `json:"year_no" validate:"required,gt=0"`
	StartDate time.Time  `json:"start_date" validate:"required"`
	EndDate   *time.Time `json:"end_date"`
}

// CreateBatchInput is the payload for registering a cohort. The year
// schedule must cover years 1..TotalYears exactly once.
type CreateBatchInput struct {
	Name         string              `json:"name" validate:"required"`
	DepartmentID string              `json:"department_id" validate:"required"`
	TotalYears   int                 `json:"total_years" validate:"required,gt=0"`
	Years        []YearScheduleInput `json:"years" validate:"required,min=1,dive"`
}

// UpdateBatchInput edits cohort metadata. The year pointer is owned by
// promotion and not editable here.
type UpdateBatchInput struct {
	Name         string `json:"name" validate:"required"`
	DepartmentID string `json:"department_id" validate:"required"`
	TotalYears   int    `json:"total_years" validate:"required,gt=0"`
	Active       *bool  `json:"active"`
}

// BatchService manages cohorts and their year schedules.
type BatchService struct {
	batches     batchStore
	departments departmentReader
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewBatchService constructs a BatchService.
func NewBatchService(batches batchStore, departments departmentReader, validate *validator.Validate, logger *zap.Logger) *BatchService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchService{batches: batches, departments: departments, validator: validate, logger: logger}
}

// List returns batches matching the filter with pagination metadata.
func (s *BatchService) List(ctx context.Context, filter models.BatchFilter) ([]models.BatchDetail, *models.Pagination, error) {
	batches, total, err := s.batches.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list batches")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return batches, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a batch together with its year schedule.
func (s *BatchService) Get(ctx context.Context, id string) (*models.BatchDetail, error) {
	batch, err := s.batches.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "batch not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch")
	}
	years, err := s.batches.ListYears(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load year schedule")
	}
	return &models.BatchDetail{Batch: *batch, Years: years}, nil
}

// Create registers a cohort with its full year schedule.
func (s *BatchService) Create(ctx context.Context, input CreateBatchInput) (*models.BatchDetail, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid batch payload")
	}
	if err := validateYearSchedule(input.Years, input.TotalYears); err != nil {
		return nil, err
	}
	if _, err := s.departments.FindByID(ctx, input.DepartmentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "department not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load department")
	}

	batch := &models.Batch{
		Name:         input.Name,
		DepartmentID: input.DepartmentID,
		CurrentYear:  1,
		TotalYears:   input.TotalYears,
		Active:       true,
	}
	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create batch")
	}

	years := make([]models.BatchYear, 0, len(input.Years))
	for _, entry := range input.Years {
		year := models.BatchYear{
			BatchID:   batch.ID,
			YearNo:    entry.YearNo,
			StartDate: entry.StartDate.UTC(),
			EndDate:   entry.EndDate,
		}
		if err := s.batches.CreateYear(ctx, &year); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create year schedule")
		}
		years = append(years, year)
	}
	return &models.BatchDetail{Batch: *batch, Years: years}, nil
}

// Update edits cohort metadata.
func (s *BatchService) Update(ctx context.Context, id string, input UpdateBatchInput) (*models.Batch, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid batch payload")
	}
	batch, err := s.batches.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "batch not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch")
	}
	if input.TotalYears < batch.CurrentYear {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "total years cannot drop below the current year")
	}
	if _, err := s.departments.FindByID(ctx, input.DepartmentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "department not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load department")
	}

	batch.Name = input.Name
	batch.DepartmentID = input.DepartmentID
	batch.TotalYears = input.TotalYears
	if input.Active != nil {
		batch.Active = *input.Active
	}
	if err := s.batches.Update(ctx, batch); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update batch")
	}
	return batch, nil
}

// Delete soft-deletes a batch.
func (s *BatchService) Delete(ctx context.Context, id string) error {
	if _, err := s.batches.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "batch not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch")
	}
	if err := s.batches.SoftDelete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete batch")
	}
	return nil
}

// Years returns the batch's year schedule.
func (s *BatchService) Years(ctx context.Context, batchID string) ([]models.BatchYear, error) {
	if _, err := s.batches.FindByID(ctx, batchID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "batch not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch")
	}
	years, err := s.batches.ListYears(ctx, batchID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load year schedule")
	}
	return years, nil
}

// UpdateYear edits one entry of the year schedule. Closed years are
// frozen.
func (s *BatchService) UpdateYear(ctx context.Context, batchID string, yearNo int, input YearScheduleInput) (*models.BatchYear, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid year schedule payload")
	}
	if input.YearNo != yearNo {
		return nil, appErrors.Clone(appErrors.ErrValidation, "year number cannot change")
	}
	year, err := s.batches.FindYear(ctx, batchID, yearNo)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "year schedule entry not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load year schedule")
	}
	if year.ClosedAt != nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "closed years cannot be edited")
	}
	if input.EndDate != nil && !input.EndDate.After(input.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end date must be after start date")
	}

	year.StartDate = input.StartDate.UTC()
	year.EndDate = input.EndDate
	if err := s.batches.UpdateYear(ctx, year); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update year schedule")
	}
	return year, nil
}

// validateYearSchedule enforces the calendar invariants: year numbers
// cover 1..totalYears exactly once and date ranges do not overlap.
func validateYearSchedule(years []YearScheduleInput, totalYears int) error {
	if len(years) != totalYears {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("year schedule must have exactly %d entries", totalYears))
	}
	seen := make(map[int]struct{}, len(years))
	sorted := make([]YearScheduleInput, len(years))
	copy(sorted, years)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].YearNo < sorted[j].YearNo })

	for i, entry := range sorted {
		if _, dup := seen[entry.YearNo]; dup {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("duplicate year number %d", entry.YearNo))
		}
		seen[entry.YearNo] = struct{}{}
		if entry.YearNo != i+1 {
			return appErrors.Clone(appErrors.ErrValidation, "year numbers must run contiguously from 1")
		}
		if entry.EndDate != nil && !entry.EndDate.After(entry.StartDate) {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("year %d end date must be after its start date", entry.YearNo))
		}
		if i > 0 {
			prev := sorted[i-1]
			if !entry.StartDate.After(prev.StartDate) {
				return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("year %d must start after year %d", entry.YearNo, prev.YearNo))
			}
			if prev.EndDate != nil && entry.StartDate.Before(*prev.EndDate) {
				return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("year %d overlaps year %d", entry.YearNo, prev.YearNo))
			}
		}
	}
	return nil
}
