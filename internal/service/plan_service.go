package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-laundry-api/internal/models"
	appErrors "github.com/noah-isme/sma-laundry-api/pkg/errors"
)

type washPlanReader interface {
	List(ctx context.Context, filter models.WashPlanFilter) ([]models.WashPlanDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.WashPlan, error)
	FindActiveByStudent(ctx context.Context, studentID string) (*models.WashPlan, error)
	SoftDelete(ctx context.Context, id string) error
}

type balanceCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// PlanConfig tunes plan read behaviour.
type PlanConfig struct {
	BalanceCacheTTL time.Duration
}

// WashPlanService serves plan reads and the cached balance projection.
// Plans are opened by enrollment and promotion, never directly, so the
// write surface here is limited to soft deletion.
type WashPlanService struct {
	plans   washPlanReader
	cache   balanceCache
	metrics *MetricsService
	logger  *zap.Logger
	cfg     PlanConfig
}

// NewWashPlanService constructs a WashPlanService.
func NewWashPlanService(plans washPlanReader, cache balanceCache, logger *zap.Logger, cfg PlanConfig) *WashPlanService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BalanceCacheTTL <= 0 {
		cfg.BalanceCacheTTL = 5 * time.Minute
	}
	return &WashPlanService{plans: plans, cache: cache, logger: logger, cfg: cfg}
}

// WithMetrics attaches cache hit rate instrumentation.
func (s *WashPlanService) WithMetrics(metrics *MetricsService) *WashPlanService {
	s.metrics = metrics
	return s
}

// List returns plans matching the filter with pagination metadata.
func (s *WashPlanService) List(ctx context.Context, filter models.WashPlanFilter) ([]models.WashPlanDetail, *models.Pagination, error) {
	plans, total, err := s.plans.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list wash plans")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return plans, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a single plan by ID.
func (s *WashPlanService) Get(ctx context.Context, id string) (*models.WashPlan, error) {
	plan, err := s.plans.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "wash plan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load wash plan")
	}
	return plan, nil
}

// StudentBalance returns the balance of the student's active plan,
// served from cache when fresh.
func (s *WashPlanService) StudentBalance(ctx context.Context, studentID string) (*models.PlanBalance, error) {
	plan, err := s.plans.FindActiveByStudent(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student has no active wash plan")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load wash plan")
	}
	return s.Balance(ctx, plan.ID)
}

// Balance returns the cached balance projection for a plan, refreshing
// the cache on a miss.
func (s *WashPlanService) Balance(ctx context.Context, planID string) (*models.PlanBalance, error) {
	key := balanceCacheKey(planID)
	if s.cache != nil {
		var cached models.PlanBalance
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			s.metrics.RecordCacheLookup(true)
			return &cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("balance cache read failed", zap.String("planId", planID), zap.Error(err))
		}
		s.metrics.RecordCacheLookup(false)
	}

	plan, err := s.plans.FindByID(ctx, planID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "wash plan not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load wash plan")
	}

	balance := &models.PlanBalance{
		PlanID:         plan.ID,
		StudentID:      plan.StudentID,
		YearNo:         plan.YearNo,
		TotalUnits:     plan.TotalUnits,
		UsedUnits:      plan.UsedUnits,
		RemainingUnits: plan.RemainingUnits,
		UnitWeightKg:   plan.UnitWeightKg,
		FetchedAt:      time.Now().UTC(),
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, balance, s.cfg.BalanceCacheTTL); err != nil {
			s.logger.Warn("balance cache write failed", zap.String("planId", planID), zap.Error(err))
		}
	}
	return balance, nil
}

// Delete soft-deletes a plan. Deleted plans stay out of reads and reject
// further debits through the ledger's deleted filter.
func (s *WashPlanService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.plans.SoftDelete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete wash plan")
	}
	if s.cache != nil {
		if err := s.cache.Delete(ctx, balanceCacheKey(id)); err != nil {
			s.logger.Warn("failed to invalidate balance cache", zap.String("planId", id), zap.Error(err))
		}
	}
	return nil
}

func balanceCacheKey(planID string) string {
	return fmt.Sprintf("wash:balance:%s", planID)
}
