package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
)

func TestExporterAppend(t *testing.T) {
	x := New()
	ctx := context.Background()
	e := core.Expense{
		ID:          "e1",
		Description: "Taxi",
		Amount:      decimal.RequireFromString("12.5"),
		Currency:    "USD",
		Date:        core.NewDate(2024, 3, 1),
	}

	ref, err := x.AppendExpense(ctx, e)
	if err != nil || ref != "mem!A1:H1" {
		t.Fatalf("ref=%q err=%v", ref, err)
	}

	x.FailNext = 1
	if _, err := x.AppendExpense(ctx, e); err == nil {
		t.Fatal("expected injected failure")
	}

	e.Description = ""
	if _, err := x.AppendExpense(ctx, e); !errors.Is(err, core.ErrEmptyDescription) {
		t.Fatalf("invalid expense: %v", err)
	}

	rows := x.Rows()
	if len(rows) != 1 || rows[0][2] != "12.50" {
		t.Fatalf("rows = %v", rows)
	}
}
