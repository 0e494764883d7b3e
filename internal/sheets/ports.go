// Package sheets exports imported expenses to a spreadsheet.
package sheets

import (
	"context"

	"saldo/internal/core"
)

// ExpenseExporter appends one expense as a row and returns a reference to it.
type ExpenseExporter interface {
	AppendExpense(ctx context.Context, e core.Expense) (ref string, err error)
}

// Header names the exported columns, in order.
var Header = []any{"Date", "Description", "Amount", "Currency", "Category", "Group", "Type", "External ID"}

// Row lays an expense out in Header order. Empty optional fields are blank cells.
func Row(e core.Expense) []any {
	return []any{
		e.Date.String(),
		e.Description,
		e.Amount.StringFixed(2),
		core.NormalizeCurrency(e.Currency),
		deref(e.Category),
		deref(e.GroupName),
		string(e.ExpenseType),
		e.ExternalID,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
