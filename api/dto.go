/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal ledger model from the external API contract.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO / *Response: Types returned to clients

VALIDATION:
  Request types carry go-playground/validator struct tags; handlers run
  them through a shared validator before touching the ledger. Money fields
  travel as decimal strings to keep fixed-point precision on the wire.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/budget-ledger/budget"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// ReserveRequest asks for a new budget hold.
type ReserveRequest struct {
	FiscalYear   int    `json:"fiscal_year" validate:"required,gte=2000,lte=2100"`
	BudgetLineID string `json:"budget_line_id" validate:"required"`
	DepartmentID string `json:"department_id" validate:"required"`
	PRID         string `json:"pr_id" validate:"required"`
	Quarter      int    `json:"quarter" validate:"required,min=1,max=4"`
	Amount       string `json:"amount" validate:"required"`
	Description  string `json:"description,omitempty"`
	TTLDays      int    `json:"ttl_days,omitempty" validate:"omitempty,min=1,max=365"`
}

// CommitRequest converts a hold into spend.
type CommitRequest struct {
	ActualAmount string `json:"actual_amount" validate:"required"`
}

// ReleaseRequest cancels a hold.
type ReleaseRequest struct {
	Reason string `json:"reason,omitempty"`
}

// SweepRequest triggers an expiry sweep.
type SweepRequest struct {
	BatchSize int `json:"batch_size,omitempty" validate:"omitempty,min=1,max=10000"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// AvailabilityDTO is the read-only headroom snapshot.
type AvailabilityDTO struct {
	Available bool   `json:"available"`
	Remaining string `json:"remaining"`
	Allocated string `json:"allocated"`
	Spent     string `json:"spent"`
	Reserved  string `json:"reserved"`
}

// ReserveResponse reports a created hold.
type ReserveResponse struct {
	ReservationID string    `json:"reservation_id"`
	AllocationID  string    `json:"allocation_id"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// CommitResponse reports the spend mutation.
type CommitResponse struct {
	AllocationID  string `json:"allocation_id"`
	ReservationID string `json:"reservation_id"`
	Quarter       int    `json:"quarter"`
	PreviousSpent string `json:"previous_spent"`
	NewSpent      string `json:"new_spent"`
}

// ReleaseResponse reports a cancelled hold.
type ReleaseResponse struct {
	ReservationID  string `json:"reservation_id"`
	ReleasedAmount string `json:"released_amount"`
}

// SweepResponse aggregates one sweep run.
type SweepResponse struct {
	ReleasedCount int                `json:"released_count"`
	TotalAmount   string             `json:"total_amount"`
	Errors        int                `json:"errors,omitempty"`
	Details       []SweptDetailDTO   `json:"details,omitempty"`
}

// SweptDetailDTO is one released row in a sweep report.
type SweptDetailDTO struct {
	ReservationID string `json:"reservation_id"`
	PRID          string `json:"pr_id"`
	AllocationID  string `json:"allocation_id"`
	Quarter       int    `json:"quarter"`
	Amount        string `json:"amount"`
	ExpiredAt     string `json:"expired_at"`
}

// AllocationDTO is the dashboard read view of one allocation.
type AllocationDTO struct {
	ID              string   `json:"id"`
	FiscalYear      int      `json:"fiscal_year"`
	BudgetLineID    string   `json:"budget_line_id"`
	DepartmentID    string   `json:"department_id"`
	QuarterBudget   [4]string `json:"quarter_budget"`
	QuarterSpent    [4]string `json:"quarter_spent"`
	TotalBudget     string   `json:"total_budget"`
	TotalSpent      string   `json:"total_spent"`
	RemainingBudget string   `json:"remaining_budget"`
	IsActive        bool     `json:"is_active"`
}

// ReservationDTO is the read view of one reservation.
type ReservationDTO struct {
	ID             string     `json:"id"`
	AllocationID   string     `json:"allocation_id"`
	PRID           string     `json:"pr_id"`
	Quarter        int        `json:"quarter"`
	ReservedAmount string     `json:"reserved_amount"`
	Description    string     `json:"description,omitempty"`
	ReservedAt     time.Time  `json:"reserved_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	IsReleased     bool       `json:"is_released"`
	ReleasedAt     *time.Time `json:"released_at,omitempty"`
	ReleaseReason  string     `json:"release_reason,omitempty"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Available string `json:"available,omitempty"`
	Requested string `json:"requested,omitempty"`
}

func toAllocationDTO(a budget.Allocation) AllocationDTO {
	dto := AllocationDTO{
		ID:              string(a.ID),
		FiscalYear:      a.Key.FiscalYear,
		BudgetLineID:    a.Key.BudgetLineID,
		DepartmentID:    a.Key.DepartmentID,
		TotalBudget:     a.TotalBudget.String(),
		TotalSpent:      a.TotalSpent.String(),
		RemainingBudget: a.RemainingBudget.String(),
		IsActive:        a.IsActive,
	}
	for i := 0; i < 4; i++ {
		dto.QuarterBudget[i] = a.QuarterBudget[i].String()
		dto.QuarterSpent[i] = a.QuarterSpent[i].String()
	}
	return dto
}

func toReservationDTO(r budget.Reservation) ReservationDTO {
	return ReservationDTO{
		ID:             string(r.ID),
		AllocationID:   string(r.AllocationID),
		PRID:           string(r.PRID),
		Quarter:        int(r.Quarter),
		ReservedAmount: r.ReservedAmount.String(),
		Description:    r.Description,
		ReservedAt:     r.ReservedAt,
		ExpiresAt:      r.ExpiresAt,
		IsReleased:     r.IsReleased,
		ReleasedAt:     r.ReleasedAt,
		ReleaseReason:  r.ReleaseReason,
	}
}
