package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/budget-ledger/budget"
	"github.com/warp/budget-ledger/budget/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Memory) {
	t.Helper()

	s := store.NewMemory()
	s.PutAllocation(budget.Allocation{
		ID: "alloc-1",
		Key: budget.AllocationKey{
			FiscalYear:   2026,
			BudgetLineID: "bl-pharma",
			DepartmentID: "dept-icu",
		},
		QuarterBudget: [4]budget.Money{
			budget.MoneyFromInt(1000), budget.MoneyFromInt(1000),
			budget.MoneyFromInt(1000), budget.MoneyFromInt(1000),
		},
		IsActive: true,
	})

	h := NewHandler(s, budget.NewManager(s))
	srv := httptest.NewServer(NewRouter(h, nil))
	t.Cleanup(srv.Close)
	return srv, s
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(url, "application/json", &buf)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func reserveViaAPI(t *testing.T, srv *httptest.Server, prID, amount string) ReserveResponse {
	t.Helper()
	resp := postJSON(t, srv.URL+"/api/budget/reservations", ReserveRequest{
		FiscalYear:   2026,
		BudgetLineID: "bl-pharma",
		DepartmentID: "dept-icu",
		PRID:         prID,
		Quarter:      1,
		Amount:       amount,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out ReserveResponse
	decodeBody(t, resp, &out)
	return out
}

// =============================================================================
// AVAILABILITY
// =============================================================================

func TestAPI_CheckAvailability(t *testing.T) {
	// GIVEN: a 1000 Q1 budget with a 600 hold
	// WHEN:  checking availability for 500
	// THEN:  available=false and the breakdown shows the hold

	srv, _ := newTestServer(t)
	reserveViaAPI(t, srv, "pr-100", "600")

	url := srv.URL + "/api/budget/availability?fiscal_year=2026&budget_line_id=bl-pharma&department_id=dept-icu&quarter=1&amount=500"
	resp, err := http.Get(url)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out AvailabilityDTO
	decodeBody(t, resp, &out)
	assert.False(t, out.Available)
	assert.Equal(t, "400", out.Remaining)
	assert.Equal(t, "1000", out.Allocated)
	assert.Equal(t, "0", out.Spent)
	assert.Equal(t, "600", out.Reserved)
}

func TestAPI_CheckAvailability_BadQuarter(t *testing.T) {
	srv, _ := newTestServer(t)

	url := srv.URL + "/api/budget/availability?fiscal_year=2026&budget_line_id=bl-pharma&department_id=dept-icu&quarter=five"
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_CheckAvailability_UnknownAllocation(t *testing.T) {
	srv, _ := newTestServer(t)

	url := srv.URL + "/api/budget/availability?fiscal_year=2026&budget_line_id=bl-nope&department_id=dept-icu&quarter=1"
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// =============================================================================
// RESERVE
// =============================================================================

func TestAPI_Reserve_Created(t *testing.T) {
	srv, _ := newTestServer(t)

	out := reserveViaAPI(t, srv, "pr-100", "600")
	assert.NotEmpty(t, out.ReservationID)
	assert.Equal(t, "alloc-1", out.AllocationID)
	assert.False(t, out.ExpiresAt.IsZero())
}

func TestAPI_Reserve_InsufficientBudget_Conflict(t *testing.T) {
	// The 409 body carries the available amount so the caller can retry
	// with a reduced request.

	srv, _ := newTestServer(t)
	reserveViaAPI(t, srv, "pr-100", "600")

	resp := postJSON(t, srv.URL+"/api/budget/reservations", ReserveRequest{
		FiscalYear:   2026,
		BudgetLineID: "bl-pharma",
		DepartmentID: "dept-icu",
		PRID:         "pr-101",
		Quarter:      1,
		Amount:       "500",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var out ErrorResponse
	decodeBody(t, resp, &out)
	assert.Equal(t, "Insufficient budget", out.Error)
	assert.Equal(t, "400", out.Available)
	assert.Equal(t, "500", out.Requested)
}

func TestAPI_Reserve_DuplicatePR_Conflict(t *testing.T) {
	srv, _ := newTestServer(t)
	reserveViaAPI(t, srv, "pr-100", "100")

	resp := postJSON(t, srv.URL+"/api/budget/reservations", ReserveRequest{
		FiscalYear:   2026,
		BudgetLineID: "bl-pharma",
		DepartmentID: "dept-icu",
		PRID:         "pr-100",
		Quarter:      1,
		Amount:       "100",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAPI_Reserve_ValidationFailures(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := []struct {
		name string
		req  ReserveRequest
	}{
		{"missing pr_id", ReserveRequest{FiscalYear: 2026, BudgetLineID: "bl", DepartmentID: "d", Quarter: 1, Amount: "10"}},
		{"quarter out of range", ReserveRequest{FiscalYear: 2026, BudgetLineID: "bl", DepartmentID: "d", PRID: "pr", Quarter: 5, Amount: "10"}},
		{"missing amount", ReserveRequest{FiscalYear: 2026, BudgetLineID: "bl", DepartmentID: "d", PRID: "pr", Quarter: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/api/budget/reservations", tc.req)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestAPI_Reserve_NonPositiveAmount(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/budget/reservations", ReserveRequest{
		FiscalYear:   2026,
		BudgetLineID: "bl-pharma",
		DepartmentID: "dept-icu",
		PRID:         "pr-100",
		Quarter:      1,
		Amount:       "-5",
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// COMMIT / RELEASE
// =============================================================================

func TestAPI_Commit_ActualAmount(t *testing.T) {
	srv, _ := newTestServer(t)
	reserveViaAPI(t, srv, "pr-100", "600")

	resp := postJSON(t, srv.URL+"/api/budget/reservations/pr-100/commit",
		CommitRequest{ActualAmount: "450"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out CommitResponse
	decodeBody(t, resp, &out)
	assert.Equal(t, "alloc-1", out.AllocationID)
	assert.Equal(t, 1, out.Quarter)
	assert.Equal(t, "0", out.PreviousSpent)
	assert.Equal(t, "450", out.NewSpent)
}

func TestAPI_Commit_NoReservation_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/budget/reservations/pr-ghost/commit",
		CommitRequest{ActualAmount: "450"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_Release_ReturnsHeldAmount(t *testing.T) {
	srv, _ := newTestServer(t)
	reserved := reserveViaAPI(t, srv, "pr-100", "600")

	resp := postJSON(t, srv.URL+"/api/budget/reservations/pr-100/release",
		ReleaseRequest{Reason: "rejected by finance"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out ReleaseResponse
	decodeBody(t, resp, &out)
	assert.Equal(t, reserved.ReservationID, out.ReservationID)
	assert.Equal(t, "600", out.ReleasedAmount)

	// The headroom is back.
	url := srv.URL + "/api/budget/availability?fiscal_year=2026&budget_line_id=bl-pharma&department_id=dept-icu&quarter=1&amount=1000"
	availResp, err := http.Get(url)
	require.NoError(t, err)
	var avail AvailabilityDTO
	decodeBody(t, availResp, &avail)
	assert.True(t, avail.Available)
}

func TestAPI_Release_EmptyBody(t *testing.T) {
	srv, _ := newTestServer(t)
	reserveViaAPI(t, srv, "pr-100", "600")

	resp := postJSON(t, srv.URL+"/api/budget/reservations/pr-100/release", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_Release_Twice_SecondNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	reserveViaAPI(t, srv, "pr-100", "600")

	first := postJSON(t, srv.URL+"/api/budget/reservations/pr-100/release", nil)
	first.Body.Close()
	require.Equal(t, http.StatusOK, first.StatusCode)

	second := postJSON(t, srv.URL+"/api/budget/reservations/pr-100/release", nil)
	defer second.Body.Close()
	assert.Equal(t, http.StatusNotFound, second.StatusCode)
}

// =============================================================================
// SWEEP
// =============================================================================

func TestAPI_Sweep_NothingExpired(t *testing.T) {
	srv, _ := newTestServer(t)
	reserveViaAPI(t, srv, "pr-100", "600")

	resp := postJSON(t, srv.URL+"/api/budget/sweep", SweepRequest{BatchSize: 50})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out SweepResponse
	decodeBody(t, resp, &out)
	assert.Zero(t, out.ReleasedCount)
	assert.Equal(t, "0", out.TotalAmount)
	assert.Empty(t, out.Details)
}

// =============================================================================
// ALLOCATION READ VIEW
// =============================================================================

func TestAPI_GetAllocation_WithReservations(t *testing.T) {
	srv, _ := newTestServer(t)
	reserveViaAPI(t, srv, "pr-100", "600")

	resp, err := http.Get(srv.URL + "/api/budget/allocations/2026/bl-pharma/dept-icu")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Allocation   AllocationDTO    `json:"allocation"`
		Reservations []ReservationDTO `json:"reservations"`
	}
	decodeBody(t, resp, &out)
	assert.Equal(t, "alloc-1", out.Allocation.ID)
	assert.Equal(t, "4000", out.Allocation.TotalBudget)
	assert.Equal(t, [4]string{"1000", "1000", "1000", "1000"}, out.Allocation.QuarterBudget)
	require.Len(t, out.Reservations, 1)
	assert.Equal(t, "pr-100", out.Reservations[0].PRID)
	assert.Equal(t, "600", out.Reservations[0].ReservedAmount)
	assert.False(t, out.Reservations[0].IsReleased)
}

func TestAPI_GetAllocation_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(fmt.Sprintf("%s/api/budget/allocations/2026/bl-nope/dept-icu", srv.URL))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
