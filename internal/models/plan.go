package models

import (
	"math"
	"time"
)

// WashPlan is the per-student per-year ledger account for wash units.
// TotalUnits and UnitWeightKg are snapshotted from the policy at
// creation time; later policy edits never re-derive an existing plan.
type WashPlan struct {
	ID             string     `db:"id" json:"id"`
	StudentID      string     `db:"student_id" json:"student_id"`
	BatchID        string     `db:"batch_id" json:"batch_id"`
	YearNo         int        `db:"year_no" json:"year_no"`
	TotalUnits     uint       `db:"total_units" json:"total_units"`
	UsedUnits      uint       `db:"used_units" json:"used_units"`
	RemainingUnits uint       `db:"remaining_units" json:"remaining_units"`
	UnitWeightKg   float64    `db:"unit_weight_kg" json:"unit_weight_kg"`
	PolicyID       string     `db:"policy_id" json:"policy_id"`
	StartDate      time.Time  `db:"start_date" json:"start_date"`
	EndDate        *time.Time `db:"end_date" json:"end_date,omitempty"`
	Active         bool       `db:"active" json:"active"`
	Deleted        bool       `db:"deleted" json:"deleted"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// WashPlanDetail enriches a plan with the owning student for read paths.
type WashPlanDetail struct {
	WashPlan
	StudentName *string `db:"student_name" json:"student_name,omitempty"`
	StudentNIS  *string `db:"student_nis" json:"student_nis,omitempty"`
}

// WashPlanFilter encapsulates list parameters for plans.
type WashPlanFilter struct {
	StudentID      string
	BatchID        string
	YearNo         *int
	Active         *bool
	IncludeDeleted bool
	Page           int
	PageSize       int
	SortBy         string
	SortOrder      string
}

// PlanBalance is the cached balance projection for a plan.
type PlanBalance struct {
	PlanID         string    `json:"plan_id"`
	StudentID      string    `json:"student_id"`
	YearNo         int       `json:"year_no"`
	TotalUnits     uint      `json:"total_units"`
	UsedUnits      uint      `json:"used_units"`
	RemainingUnits uint      `json:"remaining_units"`
	UnitWeightKg   float64   `json:"unit_weight_kg"`
	FetchedAt      time.Time `json:"fetched_at"`
}

// DeriveUnitCost converts a laundry weight into the number of wash units
// it consumes: ceil(weightKg / unitWeightKg), with a minimum of one unit.
func DeriveUnitCost(weightKg, unitWeightKg float64) uint {
	if weightKg <= 0 || unitWeightKg <= 0 {
		return 1
	}
	units := uint(math.Ceil(weightKg / unitWeightKg))
	if units < 1 {
		return 1
	}
	return units
}
