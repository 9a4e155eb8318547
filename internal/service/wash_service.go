package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-laundry-api/internal/models"
	"github.com/noah-isme/sma-laundry-api/internal/repository"
	appErrors "github.com/noah-isme/sma-laundry-api/pkg/errors"
)

type washRequestStore interface {
	List(ctx context.Context, filter models.WashRequestFilter) ([]models.WashRequestDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.WashRequest, error)
	FindByIDIncludeDeleted(ctx context.Context, id string) (*models.WashRequest, error)
	CreateTx(ctx context.Context, exec sqlx.ExtContext, request *models.WashRequest) error
	UpdateWeightTx(ctx context.Context, exec sqlx.ExtContext, id string, weightKg float64, unitCost uint) error
	UpdateStatus(ctx context.Context, id string, status models.WashStatus, returnedDate *time.Time, reason *string) error
	SoftDeleteTx(ctx context.Context, exec sqlx.ExtContext, id string) error
}

type washPlanLedger interface {
	FindByID(ctx context.Context, id string) (*models.WashPlan, error)
	FindActiveByStudent(ctx context.Context, studentID string) (*models.WashPlan, error)
	ApplyDelta(ctx context.Context, exec sqlx.ExtContext, planID string, delta int) error
}

type balanceCacheInvalidator interface {
	Delete(ctx context.Context, key string) error
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// CreateWashRequestInput is the payload for dropping off laundry.
type CreateWashRequestInput struct {
	StudentID string     `json:"student_id" validate:"required"`
	WeightKg  float64    `json:"weight_kg" validate:"required,gt=0"`
	GivenDate *time.Time `json:"given_date"`
	Notes     string     `json:"notes"`
}

// ReweighWashRequestInput corrects the weight recorded at drop-off.
type ReweighWashRequestInput struct {
	WeightKg float64 `json:"weight_kg" validate:"required,gt=0"`
}

// TransitionWashRequestInput moves a request through its lifecycle.
type TransitionWashRequestInput struct {
	Status       models.WashStatus `json:"status" validate:"required"`
	ReturnedDate *time.Time        `json:"returned_date"`
	Reason       string            `json:"reason"`
}

// ReweighOutcome reports the result of a weight correction. When the
// plan could not cover the corrected cost the request is auto-cancelled
// and Cancelled is set.
type ReweighOutcome struct {
	Request   *models.WashRequest `json:"request"`
	Cancelled bool                `json:"cancelled"`
	Reason    string              `json:"reason,omitempty"`
}

// WashConfig tunes wash request handling.
type WashConfig struct {
	MaxWeightKg float64
}

// WashService runs the wash request lifecycle and keeps plan counters
// consistent with it. Every debit and credit happens in the same
// transaction as the request row it belongs to.
type WashService struct {
	requests  washRequestStore
	plans     washPlanLedger
	cache     balanceCacheInvalidator
	tx        txProvider
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       WashConfig
}

// NewWashService constructs a WashService.
func NewWashService(requests washRequestStore, plans washPlanLedger, cache balanceCacheInvalidator, tx txProvider, validate *validator.Validate, logger *zap.Logger, cfg WashConfig) *WashService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxWeightKg <= 0 {
		cfg.MaxWeightKg = 50
	}
	return &WashService{requests: requests, plans: plans, cache: cache, tx: tx, validator: validate, logger: logger, cfg: cfg}
}

// WithMetrics attaches balance conflict instrumentation.
func (s *WashService) WithMetrics(metrics *MetricsService) *WashService {
	s.metrics = metrics
	return s
}

// List returns requests matching the filter with pagination metadata.
func (s *WashService) List(ctx context.Context, filter models.WashRequestFilter) ([]models.WashRequestDetail, *models.Pagination, error) {
	requests, total, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list wash requests")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return requests, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a single request by ID. Deleted requests are only visible
// when includeDeleted is set.
func (s *WashService) Get(ctx context.Context, id string, includeDeleted bool) (*models.WashRequest, error) {
	var (
		request *models.WashRequest
		err     error
	)
	if includeDeleted {
		request, err = s.requests.FindByIDIncludeDeleted(ctx, id)
	} else {
		request, err = s.requests.FindByID(ctx, id)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "wash request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load wash request")
	}
	return request, nil
}

// Create registers a laundry drop-off against the student's active plan
// and debits the derived unit cost in the same transaction.
func (s *WashService) Create(ctx context.Context, input CreateWashRequestInput) (*models.WashRequest, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid wash request payload")
	}
	if input.WeightKg > s.cfg.MaxWeightKg {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("weight exceeds maximum of %.1f kg", s.cfg.MaxWeightKg))
	}

	plan, err := s.plans.FindActiveByStudent(ctx, input.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student has no active wash plan")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load wash plan")
	}

	unitCost := models.DeriveUnitCost(input.WeightKg, plan.UnitWeightKg)
	if unitCost > plan.RemainingUnits {
		s.metrics.RecordBalanceConflict()
		return nil, appErrors.Clone(appErrors.ErrInsufficientBalance, insufficientBalanceMessage(unitCost, plan.RemainingUnits))
	}

	request := &models.WashRequest{
		PlanID:    plan.ID,
		StudentID: input.StudentID,
		WeightKg:  input.WeightKg,
		UnitCost:  unitCost,
		Status:    models.StatusPendingPickup,
		Notes:     input.Notes,
	}
	if input.GivenDate != nil {
		request.GivenDate = input.GivenDate.UTC()
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

	if err = s.requests.CreateTx(ctx, tx, request); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist wash request")
		return nil, err
	}
	if err = s.plans.ApplyDelta(ctx, tx, plan.ID, int(unitCost)); err != nil {
		if errors.Is(err, repository.ErrBalanceConflict) {
			s.metrics.RecordBalanceConflict()
			err = appErrors.Clone(appErrors.ErrInsufficientBalance, insufficientBalanceMessage(unitCost, plan.RemainingUnits))
			return nil, err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to debit wash plan")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit wash request")
		return nil, err
	}

	s.invalidateBalance(ctx, plan.ID)
	s.logger.Info("wash request created",
		zap.String("requestId", request.ID),
		zap.String("planId", plan.ID),
		zap.Uint("unitCost", unitCost))
	return request, nil
}

// Reweigh corrects the recorded weight of a non-terminal request and applies
// the cost difference to the plan. When the plan cannot cover a higher
// corrected cost the request is cancelled instead and the plan counters
// are left untouched.
func (s *WashService) Reweigh(ctx context.Context, id string, input ReweighWashRequestInput) (*ReweighOutcome, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reweigh payload")
	}
	if input.WeightKg > s.cfg.MaxWeightKg {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("weight exceeds maximum of %.1f kg", s.cfg.MaxWeightKg))
	}

	request, err := s.requests.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "wash request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load wash request")
	}
	if request.Status.IsTerminal() {
		return nil, appErrors.Clone(appErrors.ErrTerminalState, fmt.Sprintf("request is already %s", request.Status))
	}

	plan, err := s.plans.FindByID(ctx, request.PlanID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load wash plan")
	}

	newCost := models.DeriveUnitCost(input.WeightKg, plan.UnitWeightKg)
	delta := int(newCost) - int(request.UnitCost)

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}

	if err = s.requests.UpdateWeightTx(ctx, tx, id, input.WeightKg, newCost); err != nil {
		_ = tx.Rollback()
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update wash request weight")
	}
	if delta != 0 {
		if err = s.plans.ApplyDelta(ctx, tx, plan.ID, delta); err != nil {
			_ = tx.Rollback()
			if errors.Is(err, repository.ErrBalanceConflict) {
				s.metrics.RecordBalanceConflict()
				return s.cancelOnReweighShortfall(ctx, request, newCost)
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply wash plan delta")
		}
	}
	if err = tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit reweigh")
	}

	s.invalidateBalance(ctx, plan.ID)
	request.WeightKg = input.WeightKg
	request.UnitCost = newCost
	return &ReweighOutcome{Request: request}, nil
}

// cancelOnReweighShortfall handles the reweigh path where the corrected
// cost no longer fits the plan. The original debit stays in place and
// the request is cancelled with a reason recording the shortfall.
func (s *WashService) cancelOnReweighShortfall(ctx context.Context, request *models.WashRequest, requiredCost uint) (*ReweighOutcome, error) {
	plan, err := s.plans.FindByID(ctx, request.PlanID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reload wash plan")
	}
	// Available for the corrected cost is what remains plus the units
	// this request already holds.
	available := plan.RemainingUnits + request.UnitCost
	reason := insufficientBalanceMessage(requiredCost, available)

	if err := s.requests.UpdateStatus(ctx, request.ID, models.StatusCancelled, nil, &reason); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel wash request")
	}
	s.logger.Warn("wash request auto-cancelled on reweigh",
		zap.String("requestId", request.ID),
		zap.Uint("requiredCost", requiredCost),
		zap.Uint("available", available))

	request.Status = models.StatusCancelled
	request.CancellationReason = &reason
	return &ReweighOutcome{Request: request, Cancelled: true, Reason: reason}, nil
}

// Transition moves a request along its lifecycle. RETURNED stamps a
// return date strictly after the drop-off date; CANCELLED requires a
// reason unless one is already recorded, and never refunds consumed units.
func (s *WashService) Transition(ctx context.Context, id string, input TransitionWashRequestInput) (*models.WashRequest, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transition payload")
	}
	if !input.Status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", input.Status))
	}

	request, err := s.requests.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "wash request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load wash request")
	}
	if request.Status.IsTerminal() {
		return nil, appErrors.Clone(appErrors.ErrTerminalState, fmt.Sprintf("request is already %s", request.Status))
	}
	if !models.CanTransition(request.Status, input.Status) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot move from %s to %s", request.Status, input.Status))
	}

	var returnedDate *time.Time
	var reason *string
	switch input.Status {
	case models.StatusReturned:
		ts := time.Now().UTC()
		if input.ReturnedDate != nil {
			ts = input.ReturnedDate.UTC()
		}
		if !ts.After(request.GivenDate) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "returned date must be after the drop-off date")
		}
		returnedDate = &ts
	case models.StatusCancelled:
		if input.Reason != "" {
			reason = &input.Reason
		} else if request.CancellationReason == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "cancellation requires a reason")
		}
	}

	if err := s.requests.UpdateStatus(ctx, id, input.Status, returnedDate, reason); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update wash request status")
	}

	request.Status = input.Status
	request.ReturnedDate = returnedDate
	if reason != nil {
		request.CancellationReason = reason
	}
	return request, nil
}

// Delete soft-deletes a request. Only states where the laundry has not
// entered the wash cycle permit removal, and any units the request still
// holds are credited back to the plan in the same transaction.
func (s *WashService) Delete(ctx context.Context, id string) error {
	request, err := s.requests.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "wash request not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load wash request")
	}
	if !request.Status.Removable() {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("request in status %s cannot be removed", request.Status))
	}

	refund := request.Status != models.StatusCancelled

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.requests.SoftDeleteTx(ctx, tx, id); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete wash request")
		return err
	}
	if refund {
		if err = s.plans.ApplyDelta(ctx, tx, request.PlanID, -int(request.UnitCost)); err != nil {
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to credit wash plan")
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit wash request deletion")
		return err
	}

	s.invalidateBalance(ctx, request.PlanID)
	return nil
}

func (s *WashService) invalidateBalance(ctx context.Context, planID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, balanceCacheKey(planID)); err != nil {
		s.logger.Warn("failed to invalidate balance cache", zap.String("planId", planID), zap.Error(err))
	}
}

func insufficientBalanceMessage(required, available uint) string {
	return fmt.Sprintf("insufficient balance; required %d, available %d", required, available)
}
