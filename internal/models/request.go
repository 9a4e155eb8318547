package models

import "time"

// WashStatus is the lifecycle state of a wash request.
type WashStatus string

const (
	StatusPendingPickup WashStatus = "PENDING_PICKUP"
	StatusPickedUp      WashStatus = "PICKED_UP"
	StatusWashing       WashStatus = "WASHING"
	StatusCompleted     WashStatus = "COMPLETED"
	StatusReturned      WashStatus = "RETURNED"
	StatusCancelled     WashStatus = "CANCELLED"
)

// allowedTransitions is the directed graph of permitted status moves.
// RETURNED and CANCELLED are terminal.
var allowedTransitions = map[WashStatus][]WashStatus{
	StatusPendingPickup: {StatusPickedUp, StatusCancelled},
	StatusPickedUp:      {StatusWashing, StatusCancelled},
	StatusWashing:       {StatusCompleted, StatusCancelled},
	StatusCompleted:     {StatusReturned, StatusCancelled},
	StatusReturned:      {},
	StatusCancelled:     {},
}

// CanTransition reports whether from -> to is a permitted status move.
func CanTransition(from, to WashStatus) bool {
	allowed, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status accepts no further mutation.
func (s WashStatus) IsTerminal() bool {
	return s == StatusReturned || s == StatusCancelled
}

// Valid reports whether the status is a known lifecycle state.
func (s WashStatus) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// removableStatuses are the states in which no units are considered
// debited for good, so a soft delete is still permitted.
var removableStatuses = map[WashStatus]struct{}{
	StatusPendingPickup: {},
	StatusPickedUp:      {},
	StatusCancelled:     {},
}

// Removable reports whether a request in this status may be soft deleted.
func (s WashStatus) Removable() bool {
	_, ok := removableStatuses[s]
	return ok
}

// WashRequest is one laundry drop-off drawn against a plan. UnitCost is
// always derived from the owning plan's weight-to-unit ratio, never
// supplied by the caller.
type WashRequest struct {
	ID                 string     `db:"id" json:"id"`
	PlanID             string     `db:"plan_id" json:"plan_id"`
	StudentID          string     `db:"student_id" json:"student_id"`
	WeightKg           float64    `db:"weight_kg" json:"weight_kg"`
	UnitCost           uint       `db:"unit_cost" json:"unit_cost"`
	Status             WashStatus `db:"status" json:"status"`
	GivenDate          time.Time  `db:"given_date" json:"given_date"`
	ReturnedDate       *time.Time `db:"returned_date" json:"returned_date,omitempty"`
	CancellationReason *string    `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	Notes              string     `db:"notes" json:"notes"`
	Deleted            bool       `db:"deleted" json:"deleted"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// WashRequestDetail enriches a request with student context for listings.
type WashRequestDetail struct {
	WashRequest
	StudentName *string `db:"student_name" json:"student_name,omitempty"`
	StudentNIS  *string `db:"student_nis" json:"student_nis,omitempty"`
}

// WashRequestFilter encapsulates list parameters for wash requests.
type WashRequestFilter struct {
	StudentID      string
	PlanID         string
	Status         WashStatus
	From           *time.Time
	To             *time.Time
	IncludeDeleted bool
	Page           int
	PageSize       int
	SortBy         string
	SortOrder      string
}
