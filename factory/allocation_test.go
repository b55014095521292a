package factory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/budget-ledger/budget"
)

func TestParsePlan_FullPlan(t *testing.T) {
	// GIVEN: a plan with a top-level fiscal year and two lines
	// WHEN:  parsing it
	// THEN:  both allocations carry the year, IDs, and computed totals

	f := NewAllocationFactory()

	allocations, err := f.ParsePlan(`{
		"fiscal_year": 2026,
		"allocations": [
			{
				"budget_line_id": "bl-pharma",
				"department_id": "dept-icu",
				"q1_budget": "250000",
				"q2_budget": "250000",
				"q3_budget": "250000",
				"q4_budget": "250000"
			},
			{
				"id": "alloc-surgery",
				"budget_line_id": "bl-equipment",
				"department_id": "dept-surgery",
				"q1_budget": "100000.50",
				"q3_budget": "50000"
			}
		]
	}`)
	require.NoError(t, err)
	require.Len(t, allocations, 2)

	pharma := allocations[0]
	assert.NotEmpty(t, pharma.ID)
	assert.Equal(t, 2026, pharma.Key.FiscalYear)
	assert.Equal(t, "1000000", pharma.TotalBudget.String())
	assert.Equal(t, "1000000", pharma.RemainingBudget.String())
	assert.Equal(t, "0", pharma.TotalSpent.String())
	assert.True(t, pharma.IsActive)

	surgery := allocations[1]
	assert.Equal(t, budget.AllocationID("alloc-surgery"), surgery.ID)
	assert.Equal(t, "100000.5", surgery.BudgetFor(budget.Q1).String())
	// Unlisted quarters default to zero.
	assert.Equal(t, "0", surgery.BudgetFor(budget.Q2).String())
	assert.Equal(t, "150000.5", surgery.TotalBudget.String())
}

func TestParsePlan_EntryYearOverridesPlanYear(t *testing.T) {
	f := NewAllocationFactory()

	allocations, err := f.ParsePlan(`{
		"fiscal_year": 2026,
		"allocations": [
			{"fiscal_year": 2027, "budget_line_id": "bl", "department_id": "d", "q1_budget": "1"}
		]
	}`)
	require.NoError(t, err)
	assert.Equal(t, 2027, allocations[0].Key.FiscalYear)
}

func TestParsePlan_Rejections(t *testing.T) {
	f := NewAllocationFactory()

	cases := []struct {
		name string
		json string
	}{
		{"malformed", `{"allocations": [`},
		{"empty plan", `{"fiscal_year": 2026, "allocations": []}`},
		{"missing year", `{"allocations": [{"budget_line_id": "bl", "department_id": "d"}]}`},
		{"missing line", `{"fiscal_year": 2026, "allocations": [{"department_id": "d"}]}`},
		{"missing department", `{"fiscal_year": 2026, "allocations": [{"budget_line_id": "bl"}]}`},
		{"bad amount", `{"fiscal_year": 2026, "allocations": [{"budget_line_id": "bl", "department_id": "d", "q1_budget": "lots"}]}`},
		{"negative amount", `{"fiscal_year": 2026, "allocations": [{"budget_line_id": "bl", "department_id": "d", "q2_budget": "-10"}]}`},
		{"duplicate key", `{"fiscal_year": 2026, "allocations": [
			{"budget_line_id": "bl", "department_id": "d", "q1_budget": "1"},
			{"budget_line_id": "bl", "department_id": "d", "q1_budget": "2"}
		]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.ParsePlan(tc.json)
			assert.Error(t, err)
		})
	}
}

func TestToJSON_RoundTrip(t *testing.T) {
	f := NewAllocationFactory()

	original, err := f.FromJSON(AllocationJSON{
		ID:           "alloc-1",
		FiscalYear:   2026,
		BudgetLineID: "bl-pharma",
		DepartmentID: "dept-icu",
		Q1Budget:     "1000",
		Q2Budget:     "2000",
		Q3Budget:     "3000",
		Q4Budget:     "4000",
	})
	require.NoError(t, err)

	back, err := f.FromJSON(f.ToJSON(original))
	require.NoError(t, err)
	assert.Equal(t, original.Key, back.Key)
	assert.Equal(t, original.TotalBudget.String(), back.TotalBudget.String())
}

func TestFromJSON_InactiveFlag(t *testing.T) {
	f := NewAllocationFactory()
	inactive := false

	alloc, err := f.FromJSON(AllocationJSON{
		FiscalYear:   2026,
		BudgetLineID: "bl",
		DepartmentID: "d",
		IsActive:     &inactive,
	})
	require.NoError(t, err)
	assert.False(t, alloc.IsActive)
}
