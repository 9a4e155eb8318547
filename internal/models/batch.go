package models

import "time"

// Batch represents a student cohort progressing through academic years.
type Batch struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	DepartmentID string    `db:"department_id" json:"department_id"`
	CurrentYear  int       `db:"current_year" json:"current_year"`
	TotalYears   int       `db:"total_years" json:"total_years"`
	Active       bool      `db:"active" json:"active"`
	Deleted      bool      `db:"deleted" json:"deleted"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// BatchYear is one entry of a batch's year schedule, keyed by year number.
type BatchYear struct {
	ID        string     `db:"id" json:"id"`
	BatchID   string     `db:"batch_id" json:"batch_id"`
	YearNo    int        `db:"year_no" json:"year_no"`
	StartDate time.Time  `db:"start_date" json:"start_date"`
	EndDate   *time.Time `db:"end_date" json:"end_date,omitempty"`
	ClosedAt  *time.Time `db:"closed_at" json:"closed_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// BatchDetail enriches a batch with its department name and year schedule.
type BatchDetail struct {
	Batch
	DepartmentName string      `db:"department_name" json:"department_name"`
	Years          []BatchYear `db:"-" json:"years,omitempty"`
}

// BatchFilter encapsulates list parameters for batches.
type BatchFilter struct {
	DepartmentID   string
	Active         *bool
	Search         string
	IncludeDeleted bool
	Page           int
	PageSize       int
	SortBy         string
	SortOrder      string
}

// PromotionResult summarises a year-end batch promotion.
type PromotionResult struct {
	BatchID      string `json:"batch_id"`
	ClosedYear   int    `json:"closed_year"`
	NewYear      int    `json:"new_year"`
	ClosedCount  int    `json:"closed_count"`
	CreatedCount int    `json:"created_count"`
	Graduated    bool   `json:"graduated"`
}
