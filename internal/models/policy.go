package models

import "time"

// WashPolicy defines the yearly wash unit grant and the weight counted
// as a single unit. At most one non-deleted policy may be active.
type WashPolicy struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	TotalUnits   uint      `db:"total_units" json:"total_units"`
	UnitWeightKg float64   `db:"unit_weight_kg" json:"unit_weight_kg"`
	Active       bool      `db:"active" json:"active"`
	Deleted      bool      `db:"deleted" json:"deleted"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// WashPolicyFilter encapsulates list parameters for policies.
type WashPolicyFilter struct {
	Active         *bool
	IncludeDeleted bool
	Page           int
	PageSize       int
	SortBy         string
	SortOrder      string
}
