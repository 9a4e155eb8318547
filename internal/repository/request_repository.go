package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-laundry-api/internal/models"
)

const requestColumns = `id, plan_id, student_id, weight_kg, unit_cost, status, given_date, returned_date, cancellation_reason, notes, deleted, created_at, updated_at`

// WashRequestRepository manages persistence for wash requests.
type WashRequestRepository struct {
	db *sqlx.DB
}

// NewWashRequestRepository constructs a WashRequestRepository.
func NewWashRequestRepository(db *sqlx.DB) *WashRequestRepository {
	return &WashRequestRepository{db: db}
}

// List returns requests matching the provided filters.
func (r *WashRequestRepository) List(ctx context.Context, filter models.WashRequestFilter) ([]models.WashRequestDetail, int, error) {
	base := "FROM wash_requests w JOIN students s ON s.id = w.student_id"
	conditions := []string{"1=1"}
	var args []interface{}

	if !filter.IncludeDeleted {
		conditions = append(conditions, "w.deleted = FALSE")
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("w.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.PlanID != "" {
		conditions = append(conditions, fmt.Sprintf("w.plan_id = $%d", len(args)+1))
		args = append(args, filter.PlanID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("w.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("w.given_date >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("w.given_date <= $%d", len(args)+1))
		args = append(args, *filter.To)
	}

	base = fmt.Sprintf("%s WHERE %s", base, strings.Join(conditions, " AND "))

	sortBy := filter.SortBy
	allowedSorts := map[string]string{
		"given_date": "w.given_date",
		"status":     "w.status",
		"weight_kg":  "w.weight_kg",
		"created_at": "w.created_at",
	}
	column, ok := allowedSorts[sortBy]
	if !ok {
		column = "w.given_date"
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

	query := fmt.Sprintf(`SELECT w.id, w.plan_id, w.student_id, w.weight_kg, w.unit_cost, w.status, w.given_date, w.returned_date, w.cancellation_reason, w.notes, w.deleted, w.created_at, w.updated_at,
        s.full_name AS student_name, s.nis AS student_nis
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base, column, order, size, offset)

	var requests []models.WashRequestDetail
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list wash requests: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count wash requests: %w", err)
	}
	return requests, total, nil
}

// FindByID loads a non-deleted request by identifier.
func (r *WashRequestRepository) FindByID(ctx context.Context, id string) (*models.WashRequest, error) {
	query := fmt.Sprintf("SELECT %s FROM wash_requests WHERE id = $1 AND deleted = FALSE", requestColumns)
	var request models.WashRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// FindByIDIncludeDeleted loads a request regardless of its deleted flag.
func (r *WashRequestRepository) FindByIDIncludeDeleted(ctx context.Context, id string) (*models.WashRequest, error) {
	query := fmt.Sprintf("SELECT %s FROM wash_requests WHERE id = $1", requestColumns)
	var request models.WashRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// CreateTx inserts a new request using the provided execution scope so
// the insert can share a transaction with the plan debit.
func (r *WashRequestRepository) CreateTx(ctx context.Context, exec sqlx.ExtContext, request *models.WashRequest) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if request.CreatedAt.IsZero() {
		request.CreatedAt = now
	}
	request.UpdatedAt = now
	if request.GivenDate.IsZero() {
		request.GivenDate = now
	}

	const query = `INSERT INTO wash_requests (id, plan_id, student_id, weight_kg, unit_cost, status, given_date, returned_date, cancellation_reason, notes, deleted, created_at, updated_at)
        VALUES (:id, :plan_id, :student_id, :weight_kg, :unit_cost, :status, :given_date, :returned_date, :cancellation_reason, :notes, :deleted, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, request); err != nil {
		return fmt.Errorf("create wash request: %w", err)
	}
	return nil
}

// UpdateWeightTx rewrites a request's weight and derived cost inside the
// caller's execution scope, paired with the plan delta in one tx.
func (r *WashRequestRepository) UpdateWeightTx(ctx context.Context, exec sqlx.ExtContext, id string, weightKg float64, unitCost uint) error {
	const query = `UPDATE wash_requests SET weight_kg = $2, unit_cost = $3, updated_at = $4 WHERE id = $1 AND deleted = FALSE`
	if _, err := exec.ExecContext(ctx, query, id, weightKg, unitCost, time.Now().UTC()); err != nil {
		return fmt.Errorf("update wash request weight: %w", err)
	}
	return nil
}

// UpdateStatus transitions a request's status, stamping the return date
// or the cancellation reason when provided.
func (r *WashRequestRepository) UpdateStatus(ctx context.Context, id string, status models.WashStatus, returnedDate *time.Time, reason *string) error {
	const query = `UPDATE wash_requests SET status = $2,
        returned_date = COALESCE($3, returned_date),
        cancellation_reason = COALESCE($4, cancellation_reason),
        updated_at = $5
        WHERE id = $1 AND deleted = FALSE`
	if _, err := r.db.ExecContext(ctx, query, id, status, returnedDate, reason, time.Now().UTC()); err != nil {
		return fmt.Errorf("update wash request status: %w", err)
	}
	return nil
}

// SoftDelete flags a request as deleted.
func (r *WashRequestRepository) SoftDelete(ctx context.Context, id string) error {
	return r.SoftDeleteTx(ctx, r.db, id)
}

// SoftDeleteTx flags a request as deleted within the caller's execution
// scope so the removal can share a transaction with a plan credit.
func (r *WashRequestRepository) SoftDeleteTx(ctx context.Context, exec sqlx.ExtContext, id string) error {
	const query = `UPDATE wash_requests SET deleted = TRUE, updated_at = $2 WHERE id = $1`
	if _, err := exec.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("soft delete wash request: %w", err)
	}
	return nil
}

// CountByPlan returns the number of non-deleted requests drawn against a plan.
func (r *WashRequestRepository) CountByPlan(ctx context.Context, planID string) (int, error) {
	const query = `SELECT COUNT(*) FROM wash_requests WHERE plan_id = $1 AND deleted = FALSE`
	var count int
	if err := r.db.GetContext(ctx, &count, query, planID); err != nil {
		return 0, fmt.Errorf("count plan requests: %w", err)
	}
	return count, nil
}
