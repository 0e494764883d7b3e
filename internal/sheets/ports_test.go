package sheets

import (
	"testing"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
)

func TestRow(t *testing.T) {
	e := core.Expense{
		Description: "Dinner",
		Amount:      decimal.RequireFromString("30"),
		Currency:    "eur",
		Date:        core.NewDate(2024, 3, 10),
		Category:    core.StringPtr("Food"),
		ExpenseType: core.Lent,
		ExternalID:  "sw-1",
	}
	row := Row(e)
	if len(row) != len(Header) {
		t.Fatalf("row has %d cells, header %d", len(row), len(Header))
	}
	want := []any{"2024-03-10", "Dinner", "30.00", "EUR", "Food", "", "lent", "sw-1"}
	for i := range want {
		if row[i] != want[i] {
			t.Errorf("cell %d (%v) = %v, want %v", i, Header[i], row[i], want[i])
		}
	}
}
