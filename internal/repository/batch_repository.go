package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-laundry-api/internal/models"
)

const batchColumns = `id, name, department_id, current_year, total_years, active, deleted, created_at, updated_at`

// BatchRepository handles persistence for batches and their year schedules.
type BatchRepository struct {
	db *sqlx.DB
}

// NewBatchRepository instantiates a batch repository.
func NewBatchRepository(db *sqlx.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

// List returns batches matching provided filters.
func (r *BatchRepository) List(ctx context.Context, filter models.BatchFilter) ([]models.BatchDetail, int, error) {
	base := "FROM batches b JOIN departments d ON d.id = b.department_id"
	conditions := []string{"1=1"}
	var args []interface{}

	if !filter.IncludeDeleted {
		conditions = append(conditions, "b.deleted = FALSE")
	}
	if filter.DepartmentID != "" {
		conditions = append(conditions, fmt.Sprintf("b.department_id = $%d", len(args)+1))
		args = append(args, filter.DepartmentID)
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("b.active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(b.name) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	base = fmt.Sprintf("%s WHERE %s", base, strings.Join(conditions, " AND "))

	sortBy := filter.SortBy
	allowedSorts := map[string]string{
		"name":         "b.name",
		"current_year": "b.current_year",
		"created_at":   "b.created_at",
	}
	column, ok := allowedSorts[sortBy]
	if !ok {
		column = "b.created_at"
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

	query := fmt.Sprintf(`SELECT b.id, b.name, b.department_id, b.current_year, b.total_years, b.active, b.deleted, b.created_at, b.updated_at,
        d.name AS department_name
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base, column, order, size, offset)

	var batches []models.BatchDetail
	if err := r.db.SelectContext(ctx, &batches, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list batches: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count batches: %w", err)
	}
	return batches, total, nil
}

// FindByID loads a non-deleted batch by identifier.
func (r *BatchRepository) FindByID(ctx context.Context, id string) (*models.Batch, error) {
	query := fmt.Sprintf("SELECT %s FROM batches WHERE id = $1 AND deleted = FALSE", batchColumns)
	var batch models.Batch
	if err := r.db.GetContext(ctx, &batch, query, id); err != nil {
		return nil, err
	}
	return &batch, nil
}

// Create inserts a new batch record.
func (r *BatchRepository) Create(ctx context.Context, batch *models.Batch) error {
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = now
	}
	batch.UpdatedAt = now

	const query = `INSERT INTO batches (id, name, department_id, current_year, total_years, active, deleted, created_at, updated_at)
        VALUES (:id, :name, :department_id, :current_year, :total_years, :active, :deleted, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, batch); err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

// Update modifies an existing batch.
func (r *BatchRepository) Update(ctx context.Context, batch *models.Batch) error {
	batch.UpdatedAt = time.Now().UTC()
	const query = `UPDATE batches SET name = :name, department_id = :department_id, total_years = :total_years, active = :active, updated_at = :updated_at WHERE id = :id AND deleted = FALSE`
	if _, err := r.db.NamedExecContext(ctx, query, batch); err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	return nil
}

// AdvanceYear moves the batch's current-year pointer inside the caller's
// execution scope. Promotion is the only caller.
func (r *BatchRepository) AdvanceYear(ctx context.Context, exec sqlx.ExtContext, id string, newYear int) error {
	const query = `UPDATE batches SET current_year = $2, updated_at = $3 WHERE id = $1 AND deleted = FALSE`
	if _, err := exec.ExecContext(ctx, query, id, newYear, time.Now().UTC()); err != nil {
		return fmt.Errorf("advance batch year: %w", err)
	}
	return nil
}

// MarkGraduatedTx deactivates a batch whose final year just closed,
// inside the caller's execution scope.
func (r *BatchRepository) MarkGraduatedTx(ctx context.Context, exec sqlx.ExtContext, id string) error {
	const query = `UPDATE batches SET active = FALSE, updated_at = $2 WHERE id = $1 AND deleted = FALSE`
	if _, err := exec.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark batch graduated: %w", err)
	}
	return nil
}

// SoftDelete flags a batch as deleted.
func (r *BatchRepository) SoftDelete(ctx context.Context, id string) error {
	const query = `UPDATE batches SET deleted = TRUE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("soft delete batch: %w", err)
	}
	return nil
}

// ListYears returns the batch's year schedule ordered by year number.
func (r *BatchRepository) ListYears(ctx context.Context, batchID string) ([]models.BatchYear, error) {
	const query = `SELECT id, batch_id, year_no, start_date, end_date, closed_at, created_at, updated_at FROM batch_years WHERE batch_id = $1 ORDER BY year_no ASC`
	var years []models.BatchYear
	if err := r.db.SelectContext(ctx, &years, query, batchID); err != nil {
		return nil, fmt.Errorf("list batch years: %w", err)
	}
	return years, nil
}

// FindYear loads a single year schedule entry.
func (r *BatchRepository) FindYear(ctx context.Context, batchID string, yearNo int) (*models.BatchYear, error) {
	const query = `SELECT id, batch_id, year_no, start_date, end_date, closed_at, created_at, updated_at FROM batch_years WHERE batch_id = $1 AND year_no = $2`
	var year models.BatchYear
	if err := r.db.GetContext(ctx, &year, query, batchID, yearNo); err != nil {
		return nil, err
	}
	return &year, nil
}

// YearExists checks whether the batch already has a schedule entry for
// the year number.
func (r *BatchRepository) YearExists(ctx context.Context, batchID string, yearNo int) (bool, error) {
	const query = `SELECT 1 FROM batch_years WHERE batch_id = $1 AND year_no = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, batchID, yearNo); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check batch year: %w", err)
	}
	return true, nil
}

// CreateYear inserts a year schedule entry.
func (r *BatchRepository) CreateYear(ctx context.Context, year *models.BatchYear) error {
	if year.ID == "" {
		year.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if year.CreatedAt.IsZero() {
		year.CreatedAt = now
	}
	year.UpdatedAt = now

	const query = `INSERT INTO batch_years (id, batch_id, year_no, start_date, end_date, closed_at, created_at, updated_at)
        VALUES (:id, :batch_id, :year_no, :start_date, :end_date, :closed_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, year); err != nil {
		return fmt.Errorf("create batch year: %w", err)
	}
	return nil
}

// UpdateYear rewrites a year schedule entry's window.
func (r *BatchRepository) UpdateYear(ctx context.Context, year *models.BatchYear) error {
	year.UpdatedAt = time.Now().UTC()
	const query = `UPDATE batch_years SET start_date = :start_date, end_date = :end_date, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, year); err != nil {
		return fmt.Errorf("update batch year: %w", err)
	}
	return nil
}

// StampYearClosed records the closing moment on a year schedule entry
// inside the caller's execution scope.
func (r *BatchRepository) StampYearClosed(ctx context.Context, exec sqlx.ExtContext, batchID string, yearNo int, closedAt time.Time) error {
	const query = `UPDATE batch_years SET closed_at = $3, end_date = COALESCE(end_date, $3), updated_at = $3 WHERE batch_id = $1 AND year_no = $2`
	if _, err := exec.ExecContext(ctx, query, batchID, yearNo, closedAt); err != nil {
		return fmt.Errorf("stamp batch year closed: %w", err)
	}
	return nil
}
