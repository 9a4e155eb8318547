package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-laundry-api/internal/models"
	"github.com/noah-isme/sma-laundry-api/internal/repository"
	appErrors "github.com/noah-isme/sma-laundry-api/pkg/errors"
)

type washPolicyStore interface {
	List(ctx context.Context, filter models.WashPolicyFilter) ([]models.WashPolicy, int, error)
	FindByID(ctx context.Context, id string) (*models.WashPolicy, error)
	FindByIDIncludeDeleted(ctx context.Context, id string) (*models.WashPolicy, error)
	FindActive(ctx context.Context) (*models.WashPolicy, error)
	Create(ctx context.Context, policy *models.WashPolicy) error
	Update(ctx context.Context, policy *models.WashPolicy) error
	ActivateChecked(ctx context.Context, id string) error
	Deactivate(ctx context.Context, id string) error
	SoftDelete(ctx context.Context, id string) error
	Restore(ctx context.Context, id string) error
}

// CreatePolicyInput is the payload for defining a wash policy.
type CreatePolicyInput struct {
	Name         string  `json:"name" validate:"required"`
	TotalUnits   uint    `json:"total_units" validate:"required,gt=0"`
	UnitWeightKg float64 `json:"unit_weight_kg" validate:"required,gt=0"`
}

// UpdatePolicyInput is the payload for editing a wash policy. Edits only
// affect plans opened afterwards; existing plans keep their snapshot.
type UpdatePolicyInput struct {
	Name         string  `json:"name" validate:"required"`
	TotalUnits   uint    `json:"total_units" validate:"required,gt=0"`
	UnitWeightKg float64 `json:"unit_weight_kg" validate:"required,gt=0"`
}

// WashPolicyService manages policy definitions and the single-active
// invariant.
type WashPolicyService struct {
	policies  washPolicyStore
	validator *validator.Validate
	logger    *zap.Logger
}

// NewWashPolicyService constructs a WashPolicyService.
func NewWashPolicyService(policies washPolicyStore, validate *validator.Validate, logger *zap.Logger) *WashPolicyService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WashPolicyService{policies: policies, validator: validate, logger: logger}
}

// List returns policies matching the filter with pagination metadata.
func (s *WashPolicyService) List(ctx context.Context, filter models.WashPolicyFilter) ([]models.WashPolicy, *models.Pagination, error) {
	policies, total, err := s.policies.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list wash policies")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return policies, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Get returns a single policy by ID.
func (s *WashPolicyService) Get(ctx context.Context, id string) (*models.WashPolicy, error) {
	policy, err := s.policies.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "wash policy not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load wash policy")
	}
	return policy, nil
}

// GetActive returns the currently active policy.
func (s *WashPolicyService) GetActive(ctx context.Context) (*models.WashPolicy, error) {
	policy, err := s.policies.FindActive(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no active wash policy")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load wash policy")
	}
	return policy, nil
}

// Create defines a new policy. Policies start inactive; activation is a
// separate step guarded by the single-active check.
func (s *WashPolicyService) Create(ctx context.Context, input CreatePolicyInput) (*models.WashPolicy, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid policy payload")
	}
	policy := &models.WashPolicy{
		Name:         input.Name,
		TotalUnits:   input.TotalUnits,
		UnitWeightKg: input.UnitWeightKg,
	}
	if err := s.policies.Create(ctx, policy); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create wash policy")
	}
	return policy, nil
}

// Update edits a policy definition. Plans already opened from it are
// unaffected.
func (s *WashPolicyService) Update(ctx context.Context, id string, input UpdatePolicyInput) (*models.WashPolicy, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid policy payload")
	}
	policy, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	policy.Name = input.Name
	policy.TotalUnits = input.TotalUnits
	policy.UnitWeightKg = input.UnitWeightKg
	if err := s.policies.Update(ctx, policy); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update wash policy")
	}
	return policy, nil
}

// Activate makes a policy the active one. Activation is rejected while
// another policy is active; the caller must deactivate it first.
func (s *WashPolicyService) Activate(ctx context.Context, id string) (*models.WashPolicy, error) {
	policy, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if policy.Active {
		return policy, nil
	}
	if err := s.policies.ActivateChecked(ctx, id); err != nil {
		if errors.Is(err, repository.ErrActivePolicyExists) {
			return nil, appErrors.Clone(appErrors.ErrDuplicateActivePolicy, "another wash policy is already active")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate wash policy")
	}
	policy.Active = true
	s.logger.Info("wash policy activated", zap.String("policyId", id))
	return policy, nil
}

// Deactivate retires the policy from active use. New plans cannot be
// opened until another policy is activated.
func (s *WashPolicyService) Deactivate(ctx context.Context, id string) (*models.WashPolicy, error) {
	policy, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !policy.Active {
		return policy, nil
	}
	if err := s.policies.Deactivate(ctx, id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate wash policy")
	}
	policy.Active = false
	s.logger.Info("wash policy deactivated", zap.String("policyId", id))
	return policy, nil
}

// Delete soft-deletes a policy, clearing its active flag. Plans opened
// from it keep functioning on their snapshot.
func (s *WashPolicyService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.policies.SoftDelete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete wash policy")
	}
	return nil
}

// Restore brings a soft-deleted policy back in an inactive state.
func (s *WashPolicyService) Restore(ctx context.Context, id string) (*models.WashPolicy, error) {
	policy, err := s.policies.FindByIDIncludeDeleted(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "wash policy not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load wash policy")
	}
	if !policy.Deleted {
		return policy, nil
	}
	if err := s.policies.Restore(ctx, id); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to restore wash policy")
	}
	policy.Deleted = false
	policy.Active = false
	return policy, nil
}
