package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-laundry-api/internal/models"
	appErrors "github.com/noah-isme/sma-laundry-api/pkg/errors"
)

type studentStore interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	ExistsByNIS(ctx context.Context, nis string, excludeID string) (bool, error)
	CreateTx(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error
	Update(ctx context.Context, student *models.Student) error
	SoftDelete(ctx context.Context, id string) error
}

type enrollmentBatchReader interface {
	FindByID(ctx context.Context, id string) (*models.Batch, error)
	FindYear(ctx context.Context, batchID string, yearNo int) (*models.BatchYear, error)
}

type enrollmentPlanStore interface {
	CreateTx(ctx context.Context, exec sqlx.ExtContext, plan *models.WashPlan) error
}

// CreateStudentInput is the payload for enrolling a student. Enrollment
// opens the student's plan for the batch's current year from the active
// policy in the same transaction.
type CreateStudentInput struct {
	NIS      string `json:"nis" validate:"required"`
	FullName string `json:"full_name" validate:"required"`
	Gender   string `json:"gender" validate:"required,oneof=M F"`
	BatchID  string `json:"batch_id" validate:"required"`
	RoomNo   string `json:"room_no"`
	Phone    string `json:"phone"`
}

// UpdateStudentInput edits student master data.
type UpdateStudentInput struct {
	NIS      string `json:"nis" validate:"required"`
	FullName string `json:"full_name" validate:"required"`
	Gender   string `json:"gender" validate:"required,oneof=M F"`
	RoomNo   string `json:"room_no"`
	Phone    string `json:"phone"`
	Active   *bool  `json:"active"`
}

// StudentService manages student master data and enrollment.
type StudentService struct {
	students  studentStore
	batches   enrollmentBatchReader
	plans     enrollmentPlanStore
	policies  activePolicyReader
	tx        txProvider
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs a StudentService.
func NewStudentService(students studentStore, batches enrollmentBatchReader, plans enrollmentPlanStore, policies activePolicyReader, tx txProvider, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StudentService{students: students, batches: batches, plans: plans, policies: policies, tx: tx, validator: validate, logger: logger}
}

// List returns students matching the filter with pagination metadata.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, *models.Pagination, error) {
	students, total, err := s.students.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return students, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a single student by ID.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.students.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// Enroll registers a student and opens their wash plan for the batch's
// current year. Both rows are written in one transaction; if the plan
// cannot be opened the student is not created either.
func (s *StudentService) Enroll(ctx context.Context, input CreateStudentInput) (*models.Student, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}

	batch, err := s.batches.FindByID(ctx, input.BatchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "batch not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch")
	}
	if !batch.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "batch is not active")
	}

	exists, err := s.students.ExistsByNIS(ctx, input.NIS, "")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate student number")
	}
	if exists {
		return nil, appErrors.Clone(appErrors.ErrConflict, "student number already registered")
	}

	policy, err := s.policies.FindActive(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no active wash policy to open a plan from")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load wash policy")
	}

	year, err := s.batches.FindYear(ctx, input.BatchID, batch.CurrentYear)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "batch has no schedule entry for its current year")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load year schedule")
	}

	student := &models.Student{
		NIS:      input.NIS,
		FullName: input.FullName,
		Gender:   input.Gender,
		BatchID:  input.BatchID,
		RoomNo:   input.RoomNo,
		Phone:    input.Phone,
		Active:   true,
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.students.CreateTx(ctx, tx, student); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
		return nil, err
	}
	plan := &models.WashPlan{
		StudentID:    student.ID,
		BatchID:      input.BatchID,
		YearNo:       batch.CurrentYear,
		TotalUnits:   policy.TotalUnits,
		UnitWeightKg: policy.UnitWeightKg,
		PolicyID:     policy.ID,
		StartDate:    year.StartDate,
		EndDate:      year.EndDate,
		Active:       true,
	}
	if err = s.plans.CreateTx(ctx, tx, plan); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open wash plan")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit enrollment")
		return nil, err
	}

	s.logger.Info("student enrolled",
		zap.String("studentId", student.ID),
		zap.String("batchId", input.BatchID),
		zap.Int("yearNo", batch.CurrentYear))
	return student, nil
}

// Update edits student master data.
func (s *StudentService) Update(ctx context.Context, id string, input UpdateStudentInput) (*models.Student, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	student, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if input.NIS != student.NIS {
		exists, err := s.students.ExistsByNIS(ctx, input.NIS, id)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to validate student number")
		}
		if exists {
			return nil, appErrors.Clone(appErrors.ErrConflict, "student number already registered")
		}
	}

	student.NIS = input.NIS
	student.FullName = input.FullName
	student.Gender = input.Gender
	student.RoomNo = input.RoomNo
	student.Phone = input.Phone
	if input.Active != nil {
		student.Active = *input.Active
	}
	if err := s.students.Update(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}
	return student, nil
}

// Delete soft-deletes a student and marks them inactive.
func (s *StudentService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.students.SoftDelete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
	}
	return nil
}
