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

// ErrBalanceConflict signals that a conditional debit found the plan's
// counters unable to absorb the requested delta.
var ErrBalanceConflict = errors.New("plan balance conflict")

const planColumns = `id, student_id, batch_id, year_no, total_units, used_units, remaining_units, unit_weight_kg, policy_id, start_date, end_date, active, deleted, created_at, updated_at`

// WashPlanRepository manages persistence for wash plans.
type WashPlanRepository struct {
	db *sqlx.DB
}

// NewWashPlanRepository constructs a WashPlanRepository.
func NewWashPlanRepository(db *sqlx.DB) *WashPlanRepository {
	return &WashPlanRepository{db: db}
}

// List returns plans matching the provided filters.
func (r *WashPlanRepository) List(ctx context.Context, filter models.WashPlanFilter) ([]models.WashPlanDetail, int, error) {
	base := "FROM wash_plans p JOIN students s ON s.id = p.student_id"
	conditions := []string{"1=1"}
	var args []interface{}

	if !filter.IncludeDeleted {
		conditions = append(conditions, "p.deleted = FALSE")
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("p.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.BatchID != "" {
		conditions = append(conditions, fmt.Sprintf("p.batch_id = $%d", len(args)+1))
		args = append(args, filter.BatchID)
	}
	if filter.YearNo != nil {
		conditions = append(conditions, fmt.Sprintf("p.year_no = $%d", len(args)+1))
		args = append(args, *filter.YearNo)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("p.active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}

	base = fmt.Sprintf("%s WHERE %s", base, strings.Join(conditions, " AND "))

	sortBy := filter.SortBy
	allowedSorts := map[string]string{
		"year_no":         "p.year_no",
		"start_date":      "p.start_date",
		"remaining_units": "p.remaining_units",
		"created_at":      "p.created_at",
	}
	column, ok := allowedSorts[sortBy]
	if !ok {
		column = "p.created_at"
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

	query := fmt.Sprintf(`SELECT p.id, p.student_id, p.batch_id, p.year_no, p.total_units, p.used_units, p.remaining_units, p.unit_weight_kg, p.policy_id, p.start_date, p.end_date, p.active, p.deleted, p.created_at, p.updated_at,
        s.full_name AS student_name, s.nis AS student_nis
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base, column, order, size, offset)

	var plans []models.WashPlanDetail
	if err := r.db.SelectContext(ctx, &plans, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list wash plans: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count wash plans: %w", err)
	}
	return plans, total, nil
}

// FindByID loads a non-deleted plan by identifier.
func (r *WashPlanRepository) FindByID(ctx context.Context, id string) (*models.WashPlan, error) {
	query := fmt.Sprintf("SELECT %s FROM wash_plans WHERE id = $1 AND deleted = FALSE", planColumns)
	var plan models.WashPlan
	if err := r.db.GetContext(ctx, &plan, query, id); err != nil {
		return nil, err
	}
	return &plan, nil
}

// FindActiveByStudent returns the student's currently active plan.
func (r *WashPlanRepository) FindActiveByStudent(ctx context.Context, studentID string) (*models.WashPlan, error) {
	query := fmt.Sprintf("SELECT %s FROM wash_plans WHERE student_id = $1 AND active = TRUE AND deleted = FALSE LIMIT 1", planColumns)
	var plan models.WashPlan
	if err := r.db.GetContext(ctx, &plan, query, studentID); err != nil {
		return nil, err
	}
	return &plan, nil
}

// ExistsForYear checks plan uniqueness per (student, year) among
// non-deleted plans of the batch enrollment.
func (r *WashPlanRepository) ExistsForYear(ctx context.Context, studentID, batchID string, yearNo int) (bool, error) {
	const query = `SELECT 1 FROM wash_plans WHERE student_id = $1 AND batch_id = $2 AND year_no = $3 AND deleted = FALSE LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, batchID, yearNo); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check plan uniqueness: %w", err)
	}
	return true, nil
}

// Create inserts a new plan. RemainingUnits is always recomputed from
// the source counters before the write.
func (r *WashPlanRepository) Create(ctx context.Context, plan *models.WashPlan) error {
	return r.CreateTx(ctx, r.db, plan)
}

// CreateTx inserts a new plan using the provided execution scope.
func (r *WashPlanRepository) CreateTx(ctx context.Context, exec sqlx.ExtContext, plan *models.WashPlan) error {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}
	plan.UpdatedAt = now
	plan.RemainingUnits = plan.TotalUnits - plan.UsedUnits

	const query = `INSERT INTO wash_plans (id, student_id, batch_id, year_no, total_units, used_units, remaining_units, unit_weight_kg, policy_id, start_date, end_date, active, deleted, created_at, updated_at)
        VALUES (:id, :student_id, :batch_id, :year_no, :total_units, :used_units, :remaining_units, :unit_weight_kg, :policy_id, :start_date, :end_date, :active, :deleted, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, plan); err != nil {
		return fmt.Errorf("create wash plan: %w", err)
	}
	return nil
}

// ApplyDelta adjusts a plan's used counter by delta inside the caller's
// execution scope. The guard expression serializes concurrent debits:
// the row only updates while the counters stay within 0..total_units,
// and remaining_units is recomputed in the same statement. A zero row
// count surfaces as ErrBalanceConflict.
func (r *WashPlanRepository) ApplyDelta(ctx context.Context, exec sqlx.ExtContext, planID string, delta int) error {
	const query = `UPDATE wash_plans
        SET used_units = used_units + $2,
            remaining_units = total_units - (used_units + $2),
            updated_at = $3
        WHERE id = $1 AND active = TRUE AND deleted = FALSE
          AND used_units + $2 >= 0
          AND used_units + $2 <= total_units`
	res, err := exec.ExecContext(ctx, query, planID, delta, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("apply plan delta: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("apply plan delta rows: %w", err)
	}
	if affected == 0 {
		return ErrBalanceConflict
	}
	return nil
}

// CloseActiveForYear closes every active plan of the batch's given year
// and returns the number of plans closed. Used by the promotion
// transaction, the only writer allowed to touch closed plans.
func (r *WashPlanRepository) CloseActiveForYear(ctx context.Context, exec sqlx.ExtContext, batchID string, yearNo int, closedAt time.Time) (int, error) {
	const query = `UPDATE wash_plans SET active = FALSE, end_date = $3, updated_at = $3
        WHERE batch_id = $1 AND year_no = $2 AND active = TRUE AND deleted = FALSE`
	res, err := exec.ExecContext(ctx, query, batchID, yearNo, closedAt)
	if err != nil {
		return 0, fmt.Errorf("close plans for year: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("close plans rows: %w", err)
	}
	return int(affected), nil
}

// SoftDelete flags a plan as deleted.
func (r *WashPlanRepository) SoftDelete(ctx context.Context, id string) error {
	const query = `UPDATE wash_plans SET deleted = TRUE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("soft delete wash plan: %w", err)
	}
	return nil
}
