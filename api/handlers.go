/*
handlers.go - HTTP API handlers for the budget reservation ledger

PURPOSE:
  Exposes the ledger via REST. Handles HTTP request/response, JSON
  serialization, and delegates to the Manager, Engine, and Sweeper.

ENDPOINTS:
  GET    /api/budget/availability                  Check quarter headroom
  POST   /api/budget/reservations                  Reserve
  POST   /api/budget/reservations/{prID}/commit    Commit
  POST   /api/budget/reservations/{prID}/release   Release
  POST   /api/budget/sweep                         Sweep expired holds
  GET    /api/budget/allocations/{year}/{line}/{dept}  Allocation + holds

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Allocation or active reservation not found
  - 409: Insufficient budget, duplicate active reservation
  - 500: Internal errors

  InsufficientBudget responses include the actual available amount so the
  caller can offer a reduced request.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/warp/budget-ledger/budget"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   budget.Store
	Manager *budget.Manager
	Engine  *budget.Engine
	Sweeper *budget.Sweeper

	validate *validator.Validate
}

// NewHandler wires the ledger components around one store.
func NewHandler(store budget.Store, manager *budget.Manager) *Handler {
	return &Handler{
		Store:    store,
		Manager:  manager,
		Engine:   budget.NewEngine(store),
		Sweeper:  budget.NewSweeper(store),
		validate: validator.New(),
	}
}

// =============================================================================
// AVAILABILITY
// =============================================================================

// CheckAvailability reports a quarter's headroom.
// GET /api/budget/availability?fiscal_year=&budget_line_id=&department_id=&quarter=&amount=
func (h *Handler) CheckAvailability(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	fiscalYear, err := strconv.Atoi(q.Get("fiscal_year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid fiscal_year", err)
		return
	}
	quarter, err := strconv.Atoi(q.Get("quarter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid quarter", err)
		return
	}
	amount := budget.Zero
	if raw := q.Get("amount"); raw != "" {
		amount, err = budget.ParseMoney(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid amount", err)
			return
		}
	}

	key := budget.AllocationKey{
		FiscalYear:   fiscalYear,
		BudgetLineID: q.Get("budget_line_id"),
		DepartmentID: q.Get("department_id"),
	}

	avail, err := h.Manager.CheckAvailability(ctx, key, budget.Quarter(quarter), amount)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, AvailabilityDTO{
		Available: avail.Available,
		Remaining: avail.Remaining.String(),
		Allocated: avail.Allocated.String(),
		Spent:     avail.Spent.String(),
		Reserved:  avail.Reserved.String(),
	})
}

// =============================================================================
// RESERVE / COMMIT / RELEASE
// =============================================================================

// Reserve creates a budget hold for a purchase request.
// POST /api/budget/reservations
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}
	amount, err := budget.ParseMoney(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	result, err := h.Manager.Reserve(ctx, budget.ReserveRequest{
		Key: budget.AllocationKey{
			FiscalYear:   req.FiscalYear,
			BudgetLineID: req.BudgetLineID,
			DepartmentID: req.DepartmentID,
		},
		PRID:        budget.PRID(req.PRID),
		Quarter:     budget.Quarter(req.Quarter),
		Amount:      amount,
		Description: req.Description,
		TTL:         time.Duration(req.TTLDays) * 24 * time.Hour,
	})
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, ReserveResponse{
		ReservationID: string(result.ReservationID),
		AllocationID:  string(result.AllocationID),
		ExpiresAt:     result.ExpiresAt,
	})
}

// Commit converts a hold into real spend.
// POST /api/budget/reservations/{prID}/commit
func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	prID := budget.PRID(chi.URLParam(r, "prID"))

	var req CommitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}
	actual, err := budget.ParseMoney(req.ActualAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid actual_amount", err)
		return
	}

	result, err := h.Engine.Commit(ctx, prID, actual)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, CommitResponse{
		AllocationID:  string(result.AllocationID),
		ReservationID: string(result.ReservationID),
		Quarter:       int(result.Quarter),
		PreviousSpent: result.PreviousSpent.String(),
		NewSpent:      result.NewSpent.String(),
	})
}

// Release cancels a hold without spending.
// POST /api/budget/reservations/{prID}/release
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	prID := budget.PRID(chi.URLParam(r, "prID"))

	var req ReleaseRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	result, err := h.Engine.Release(ctx, prID, req.Reason)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ReleaseResponse{
		ReservationID:  string(result.ReservationID),
		ReleasedAmount: result.ReleasedAmount.String(),
	})
}

// =============================================================================
// SWEEP
// =============================================================================

// Sweep releases expired reservations.
// POST /api/budget/sweep
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SweepRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	report, err := h.Sweeper.SweepExpired(ctx, req.BatchSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Sweep failed", err)
		return
	}

	resp := SweepResponse{
		ReleasedCount: report.ReleasedCount,
		TotalAmount:   report.TotalAmount.String(),
		Errors:        report.Errors,
	}
	for _, d := range report.Details {
		resp.Details = append(resp.Details, SweptDetailDTO{
			ReservationID: string(d.ReservationID),
			PRID:          string(d.PRID),
			AllocationID:  string(d.AllocationID),
			Quarter:       int(d.Quarter),
			Amount:        d.Amount.String(),
			ExpiredAt:     d.ExpiredAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// ALLOCATION READ VIEW
// =============================================================================

// GetAllocation returns one allocation with its reservations.
// GET /api/budget/allocations/{fiscalYear}/{budgetLineID}/{departmentID}
func (h *Handler) GetAllocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	fiscalYear, err := strconv.Atoi(chi.URLParam(r, "fiscalYear"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid fiscal year", err)
		return
	}
	key := budget.AllocationKey{
		FiscalYear:   fiscalYear,
		BudgetLineID: chi.URLParam(r, "budgetLineID"),
		DepartmentID: chi.URLParam(r, "departmentID"),
	}

	alloc, found, err := h.Store.GetAllocation(ctx, key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get allocation", err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "Allocation not found", nil)
		return
	}

	reservations, err := h.Store.ListByAllocation(ctx, alloc.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list reservations", err)
		return
	}

	resp := struct {
		Allocation   AllocationDTO    `json:"allocation"`
		Reservations []ReservationDTO `json:"reservations"`
	}{Allocation: toAllocationDTO(alloc)}
	for _, res := range reservations {
		resp.Reservations = append(resp.Reservations, toReservationDTO(res))
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func (h *Handler) writeLedgerError(w http.ResponseWriter, err error) {
	var insufficient *budget.InsufficientBudgetError
	if errors.As(err, &insufficient) {
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:     "Insufficient budget",
			Details:   insufficient.Error(),
			Available: insufficient.Available.String(),
			Requested: insufficient.Requested.String(),
		})
		return
	}

	switch {
	case errors.Is(err, budget.ErrAllocationNotFound):
		writeError(w, http.StatusNotFound, "Budget allocation not found", nil)
	case errors.Is(err, budget.ErrNoActiveReservation):
		writeError(w, http.StatusNotFound, "No active reservation for purchase request", nil)
	case errors.Is(err, budget.ErrDuplicateActiveReservation):
		writeError(w, http.StatusConflict, "Purchase request already holds an active reservation", err)
	case budget.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		writeError(w, http.StatusInternalServerError, "Ledger operation failed", err)
	}
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
