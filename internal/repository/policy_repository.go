package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-laundry-api/internal/models"
)

// ErrActivePolicyExists signals the single-active invariant would be
// violated by the attempted activation.
var ErrActivePolicyExists = errors.New("another active policy exists")

const policyColumns = `id, name, total_units, unit_weight_kg, active, deleted, created_at, updated_at`

// WashPolicyRepository handles persistence for wash policies.
type WashPolicyRepository struct {
	db *sqlx.DB
}

// NewWashPolicyRepository instantiates a policy repository.
func NewWashPolicyRepository(db *sqlx.DB) *WashPolicyRepository {
	return &WashPolicyRepository{db: db}
}

// List returns policies matching provided filters.
func (r *WashPolicyRepository) List(ctx context.Context, filter models.WashPolicyFilter) ([]models.WashPolicy, int, error) {
	base := "FROM wash_policies WHERE 1=1"
	var conditions []string
	var args []interface{}

	if !filter.IncludeDeleted {
		conditions = append(conditions, "deleted = FALSE")
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{
		"name":       true,
		"created_at": true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", policyColumns, base, sortBy, order, size, offset)

	var policies []models.WashPolicy
	if err := r.db.SelectContext(ctx, &policies, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list wash policies: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count wash policies: %w", err)
	}

	return policies, total, nil
}

// FindByID loads a non-deleted policy by identifier.
func (r *WashPolicyRepository) FindByID(ctx context.Context, id string) (*models.WashPolicy, error) {
	query := fmt.Sprintf("SELECT %s FROM wash_policies WHERE id = $1 AND deleted = FALSE", policyColumns)
	var policy models.WashPolicy
	if err := r.db.GetContext(ctx, &policy, query, id); err != nil {
		return nil, err
	}
	return &policy, nil
}

// FindByIDIncludeDeleted loads a policy regardless of the deleted flag,
// used by the restore path.
func (r *WashPolicyRepository) FindByIDIncludeDeleted(ctx context.Context, id string) (*models.WashPolicy, error) {
	query := fmt.Sprintf("SELECT %s FROM wash_policies WHERE id = $1", policyColumns)
	var policy models.WashPolicy
	if err := r.db.GetContext(ctx, &policy, query, id); err != nil {
		return nil, err
	}
	return &policy, nil
}

// FindActive returns the currently active non-deleted policy.
func (r *WashPolicyRepository) FindActive(ctx context.Context) (*models.WashPolicy, error) {
	query := fmt.Sprintf("SELECT %s FROM wash_policies WHERE active = TRUE AND deleted = FALSE LIMIT 1", policyColumns)
	var policy models.WashPolicy
	if err := r.db.GetContext(ctx, &policy, query); err != nil {
		return nil, err
	}
	return &policy, nil
}

// ExistsActive checks whether a different non-deleted policy is active.
// Soft-deleted rows never count towards the single-active invariant.
func (r *WashPolicyRepository) ExistsActive(ctx context.Context, excludeID string) (bool, error) {
	base := "SELECT 1 FROM wash_policies WHERE active = TRUE AND deleted = FALSE"
	var args []interface{}
	if excludeID != "" {
		base += " AND id <> $1"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, base+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check active policy: %w", err)
	}
	return true, nil
}

// Create inserts a new policy record.
func (r *WashPolicyRepository) Create(ctx context.Context, policy *models.WashPolicy) error {
	if policy.ID == "" {
		policy.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = now
	}
	policy.UpdatedAt = now

	const query = `INSERT INTO wash_policies (id, name, total_units, unit_weight_kg, active, deleted, created_at, updated_at)
        VALUES (:id, :name, :total_units, :unit_weight_kg, :active, :deleted, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, policy); err != nil {
		return fmt.Errorf("create wash policy: %w", err)
	}
	return nil
}

// Update modifies an existing policy.
func (r *WashPolicyRepository) Update(ctx context.Context, policy *models.WashPolicy) error {
	policy.UpdatedAt = time.Now().UTC()
	const query = `UPDATE wash_policies SET name = :name, total_units = :total_units, unit_weight_kg = :unit_weight_kg, active = :active, updated_at = :updated_at WHERE id = :id AND deleted = FALSE`
	if _, err := r.db.NamedExecContext(ctx, query, policy); err != nil {
		return fmt.Errorf("update wash policy: %w", err)
	}
	return nil
}

// ActivateChecked activates the policy inside one transaction, first
// verifying no other non-deleted policy is active. The check and the
// write share the same atomic scope so concurrent activations cannot
// both pass.
func (r *WashPolicyRepository) ActivateChecked(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin activate tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists int
	err = tx.GetContext(ctx, &exists, `SELECT 1 FROM wash_policies WHERE active = TRUE AND deleted = FALSE AND id <> $1 LIMIT 1 FOR UPDATE`, id)
	if err == nil {
		err = ErrActivePolicyExists
		return err
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("check active policy: %w", err)
	}
	err = nil

	if _, err = tx.ExecContext(ctx, `UPDATE wash_policies SET active = TRUE, updated_at = $2 WHERE id = $1 AND deleted = FALSE`, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("activate policy: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit activate tx: %w", err)
	}
	return nil
}

// Deactivate clears the active flag on a policy.
func (r *WashPolicyRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE wash_policies SET active = FALSE, updated_at = $2 WHERE id = $1 AND deleted = FALSE`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("deactivate policy: %w", err)
	}
	return nil
}

// SoftDelete flags a policy as deleted and clears its active flag.
func (r *WashPolicyRepository) SoftDelete(ctx context.Context, id string) error {
	const query = `UPDATE wash_policies SET deleted = TRUE, active = FALSE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("soft delete policy: %w", err)
	}
	return nil
}

// Restore clears the deleted flag. Restored policies come back inactive;
// reactivation goes through ActivateChecked.
func (r *WashPolicyRepository) Restore(ctx context.Context, id string) error {
	const query = `UPDATE wash_policies SET deleted = FALSE, active = FALSE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("restore policy: %w", err)
	}
	return nil
}
