/*
Package factory provides JSON to Go allocation conversion.

PURPOSE:
  Converts JSON budget plan definitions into budget.Allocation objects.
  This enables budget provisioning without code changes - finance can
  define the yearly plan in JSON, and the factory creates the proper Go
  structs for seeding the ledger.

WHY JSON?
  - Non-developers can author the yearly plan
  - Easy integration with the planning workflow that owns allocations
  - Version control for plan definitions
  - One file seeds a whole fiscal year

JSON SCHEMA:
  {
    "fiscal_year": 2026,
    "allocations": [
      {
        "budget_line_id": "bl-pharma",
        "department_id": "dept-icu",
        "q1_budget": "250000",
        "q2_budget": "250000",
        "q3_budget": "250000",
        "q4_budget": "250000"
      }
    ]
  }

KEY FEATURES:
  - Validates structure and decimal amounts
  - Top-level fiscal_year is the default for every entry
  - Generates allocation IDs when omitted
  - Computes cached totals from the quarter budgets

USAGE:
  factory := NewAllocationFactory()

  // From JSON string
  allocations, err := factory.ParsePlan(jsonString)

  // Seed the store
  for _, a := range allocations {
      if err := store.SaveAllocation(ctx, a); err != nil { ... }
  }

SEE ALSO:
  - budget/types.go: Allocation type definition
  - cmd/budgetd: `seed` command loads a plan file into SQLite
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/warp/budget-ledger/budget"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PlanJSON is the JSON representation of one fiscal year's budget plan.
type PlanJSON struct {
	FiscalYear  int              `json:"fiscal_year,omitempty"` // Default for entries
	Allocations []AllocationJSON `json:"allocations"`
}

// AllocationJSON is the JSON representation of one allocation.
type AllocationJSON struct {
	ID           string `json:"id,omitempty"` // Generated when omitted
	FiscalYear   int    `json:"fiscal_year,omitempty"`
	BudgetLineID string `json:"budget_line_id"`
	DepartmentID string `json:"department_id"`
	Q1Budget     string `json:"q1_budget"`
	Q2Budget     string `json:"q2_budget"`
	Q3Budget     string `json:"q3_budget"`
	Q4Budget     string `json:"q4_budget"`
	IsActive     *bool  `json:"is_active,omitempty"` // Default true
}

// =============================================================================
// ALLOCATION FACTORY
// =============================================================================

// AllocationFactory converts JSON budget plans to Go structs.
type AllocationFactory struct{}

// NewAllocationFactory creates a new allocation factory.
func NewAllocationFactory() *AllocationFactory {
	return &AllocationFactory{}
}

// ParsePlan parses a JSON string into a slice of Allocations.
func (f *AllocationFactory) ParsePlan(jsonStr string) ([]budget.Allocation, error) {
	var plan PlanJSON
	if err := json.Unmarshal([]byte(jsonStr), &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan JSON: %w", err)
	}
	if len(plan.Allocations) == 0 {
		return nil, fmt.Errorf("plan has no allocations")
	}

	allocations := make([]budget.Allocation, 0, len(plan.Allocations))
	seen := make(map[budget.AllocationKey]bool, len(plan.Allocations))
	for i, aj := range plan.Allocations {
		if aj.FiscalYear == 0 {
			aj.FiscalYear = plan.FiscalYear
		}

		alloc, err := f.FromJSON(aj)
		if err != nil {
			return nil, fmt.Errorf("allocation %d: %w", i, err)
		}
		if seen[alloc.Key] {
			return nil, fmt.Errorf("allocation %d: duplicate key %+v", i, alloc.Key)
		}
		seen[alloc.Key] = true

		allocations = append(allocations, alloc)
	}
	return allocations, nil
}

// FromJSON converts AllocationJSON to a budget.Allocation with computed
// totals. Spent amounts always start at zero; spend only moves through
// the commit path.
func (f *AllocationFactory) FromJSON(aj AllocationJSON) (budget.Allocation, error) {
	if aj.FiscalYear < 2000 || aj.FiscalYear > 2100 {
		return budget.Allocation{}, fmt.Errorf("invalid fiscal_year %d", aj.FiscalYear)
	}
	if aj.BudgetLineID == "" {
		return budget.Allocation{}, fmt.Errorf("budget_line_id is required")
	}
	if aj.DepartmentID == "" {
		return budget.Allocation{}, fmt.Errorf("department_id is required")
	}

	alloc := budget.Allocation{
		ID: budget.AllocationID(aj.ID),
		Key: budget.AllocationKey{
			FiscalYear:   aj.FiscalYear,
			BudgetLineID: aj.BudgetLineID,
			DepartmentID: aj.DepartmentID,
		},
		IsActive: true,
	}
	if alloc.ID == "" {
		alloc.ID = budget.AllocationID(uuid.NewString())
	}
	if aj.IsActive != nil {
		alloc.IsActive = *aj.IsActive
	}

	for i, raw := range [4]string{aj.Q1Budget, aj.Q2Budget, aj.Q3Budget, aj.Q4Budget} {
		amount, err := parseQuarterBudget(raw)
		if err != nil {
			return budget.Allocation{}, fmt.Errorf("q%d_budget: %w", i+1, err)
		}
		alloc.QuarterBudget[i] = amount
		alloc.QuarterSpent[i] = budget.Zero
	}

	alloc.TotalBudget = alloc.SumBudget()
	alloc.TotalSpent = budget.Zero
	alloc.RemainingBudget = alloc.TotalBudget
	return alloc, nil
}

// ToJSON converts an Allocation back to its JSON representation.
func (f *AllocationFactory) ToJSON(a budget.Allocation) AllocationJSON {
	active := a.IsActive
	return AllocationJSON{
		ID:           string(a.ID),
		FiscalYear:   a.Key.FiscalYear,
		BudgetLineID: a.Key.BudgetLineID,
		DepartmentID: a.Key.DepartmentID,
		Q1Budget:     a.QuarterBudget[0].String(),
		Q2Budget:     a.QuarterBudget[1].String(),
		Q3Budget:     a.QuarterBudget[2].String(),
		Q4Budget:     a.QuarterBudget[3].String(),
		IsActive:     &active,
	}
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

// parseQuarterBudget accepts a decimal string; an empty field means a zero
// budget for that quarter.
func parseQuarterBudget(raw string) (budget.Money, error) {
	if raw == "" {
		return budget.Zero, nil
	}
	amount, err := budget.ParseMoney(raw)
	if err != nil {
		return budget.Zero, err
	}
	if amount.IsNegative() {
		return budget.Zero, fmt.Errorf("amount %s is negative", raw)
	}
	return amount, nil
}
