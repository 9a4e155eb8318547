package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-laundry-api/internal/models"
	appErrors "github.com/noah-isme/sma-laundry-api/pkg/errors"
)

type promotionBatchStore interface {
	FindByID(ctx context.Context, id string) (*models.Batch, error)
	FindYear(ctx context.Context, batchID string, yearNo int) (*models.BatchYear, error)
	AdvanceYear(ctx context.Context, exec sqlx.ExtContext, id string, newYear int) error
	MarkGraduatedTx(ctx context.Context, exec sqlx.ExtContext, id string) error
	StampYearClosed(ctx context.Context, exec sqlx.ExtContext, batchID string, yearNo int, closedAt time.Time) error
}

type promotionPlanStore interface {
	CloseActiveForYear(ctx context.Context, exec sqlx.ExtContext, batchID string, yearNo int, closedAt time.Time) (int, error)
	CreateTx(ctx context.Context, exec sqlx.ExtContext, plan *models.WashPlan) error
}

type promotionStudentStore interface {
	ListActiveByBatch(ctx context.Context, batchID string) ([]models.Student, error)
}

type activePolicyReader interface {
	FindActive(ctx context.Context) (*models.WashPolicy, error)
}

type balanceCachePurger interface {
	DeleteByPattern(ctx context.Context, pattern string) error
}

// PromotePolicyOverride swaps the active policy's allocation numbers for
// the plans opened by a single promotion. The active policy row is still
// required and stays the snapshot's policy reference.
type PromotePolicyOverride struct {
	TotalUnits   uint    `json:"total_units" validate:"required,gt=0"`
	UnitWeightKg float64 `json:"unit_weight_kg" validate:"required,gt=0"`
}

// PromotionService closes out a batch's current year and opens the next
// one. All plan closures, plan creations and pointer moves for a batch
// happen in a single transaction; a failure anywhere leaves the batch in
// its pre-promotion state.
type PromotionService struct {
	batches  promotionBatchStore
	plans    promotionPlanStore
	students promotionStudentStore
	policies activePolicyReader
	cache    balanceCachePurger
	tx       txProvider
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewPromotionService constructs a PromotionService.
func NewPromotionService(batches promotionBatchStore, plans promotionPlanStore, students promotionStudentStore, policies activePolicyReader, cache balanceCachePurger, tx txProvider, logger *zap.Logger) *PromotionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PromotionService{batches: batches, plans: plans, students: students, policies: policies, cache: cache, tx: tx, logger: logger}
}

// WithMetrics attaches promotion outcome instrumentation.
func (s *PromotionService) WithMetrics(metrics *MetricsService) *PromotionService {
	s.metrics = metrics
	return s
}

// Promote closes the batch's current year. When the batch has years left
// it opens a fresh plan for every active student from the active policy,
// or from the override's allocation when one is given, and advances the
// year pointer; when the final year closes the batch is deactivated
// instead.
func (s *PromotionService) Promote(ctx context.Context, batchID string, override *PromotePolicyOverride) (*models.PromotionResult, error) {
	if override != nil && (override.TotalUnits == 0 || override.UnitWeightKg <= 0) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "policy override requires positive total units and unit weight")
	}

	batch, err := s.batches.FindByID(ctx, batchID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "batch not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch")
	}
	if !batch.Active {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "batch is not active")
	}

	currentYear, err := s.batches.FindYear(ctx, batchID, batch.CurrentYear)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "current year has no schedule entry")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load year schedule")
	}
	if currentYear.ClosedAt != nil {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "current year is already closed")
	}

	nextYearNo := batch.CurrentYear + 1
	graduated := nextYearNo > batch.TotalYears

	var (
		nextYear *models.BatchYear
		policy   *models.WashPolicy
		students []models.Student
	)
	if !graduated {
		nextYear, err = s.batches.FindYear(ctx, batchID, nextYearNo)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "next year has no schedule entry")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load year schedule")
		}
		policy, err = s.policies.FindActive(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no active wash policy to open plans from")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load wash policy")
		}
		students, err = s.students.ListActiveByBatch(ctx, batchID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list batch students")
		}
	}

	closedAt := time.Now().UTC()

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	closedCount, err := s.plans.CloseActiveForYear(ctx, tx, batchID, batch.CurrentYear, closedAt)
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to close year plans")
		return nil, err
	}
	if err = s.batches.StampYearClosed(ctx, tx, batchID, batch.CurrentYear, closedAt); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to close year schedule")
		return nil, err
	}

	createdCount := 0
	if graduated {
		if err = s.batches.MarkGraduatedTx(ctx, tx, batchID); err != nil {
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate graduated batch")
			return nil, err
		}
	} else {
		totalUnits := policy.TotalUnits
		unitWeightKg := policy.UnitWeightKg
		if override != nil {
			totalUnits = override.TotalUnits
			unitWeightKg = override.UnitWeightKg
		}
		for i := range students {
			plan := &models.WashPlan{
				StudentID:    students[i].ID,
				BatchID:      batchID,
				YearNo:       nextYearNo,
				TotalUnits:   totalUnits,
				UnitWeightKg: unitWeightKg,
				PolicyID:     policy.ID,
				StartDate:    nextYear.StartDate,
				EndDate:      nextYear.EndDate,
				Active:       true,
			}
			if err = s.plans.CreateTx(ctx, tx, plan); err != nil {
				err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open next year plan")
				return nil, err
			}
			createdCount++
		}
		if err = s.batches.AdvanceYear(ctx, tx, batchID, nextYearNo); err != nil {
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to advance batch year")
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit promotion")
		return nil, err
	}

	if s.cache != nil {
		if cacheErr := s.cache.DeleteByPattern(ctx, "wash:balance:*"); cacheErr != nil {
			s.logger.Warn("failed to purge balance cache after promotion", zap.Error(cacheErr))
		}
	}

	result := &models.PromotionResult{
		BatchID:      batchID,
		ClosedYear:   batch.CurrentYear,
		NewYear:      nextYearNo,
		ClosedCount:  closedCount,
		CreatedCount: createdCount,
		Graduated:    graduated,
	}
	if graduated {
		result.NewYear = batch.CurrentYear
		s.metrics.RecordPromotion("graduated")
	} else {
		s.metrics.RecordPromotion("advanced")
	}
	s.logger.Info("batch promoted",
		zap.String("batchId", batchID),
		zap.Int("closedYear", result.ClosedYear),
		zap.Int("closedPlans", closedCount),
		zap.Int("createdPlans", createdCount),
		zap.Bool("graduated", graduated))
	return result, nil
}
