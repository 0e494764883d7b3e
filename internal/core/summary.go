package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

const uncategorized = "Uncategorized"

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
	Count  int             `json:"count"`
}

// BalanceSummary holds the dashboard figures derived from one snapshot of
// a user's expenses and incomes.
type BalanceSummary struct {
	TotalIncome  decimal.Decimal `json:"total_income"`
	TotalOwed    decimal.Decimal `json:"total_owed"`
	NetBalance   decimal.Decimal `json:"net_balance"`
	ExpenseCount int             `json:"expense_count"`
	IncomeCount  int             `json:"income_count"`
}

// Aggregate computes the balance summary.
//
// Every expense contributes its liability (owed share, else amount) to
// TotalOwed whatever its type; lent expenses are not netted against
// borrowed ones. Amounts are summed without currency conversion.
func Aggregate(expenses []Expense, incomes []Income) BalanceSummary {
	income := decimal.Zero
	for _, in := range incomes {
		income = income.Add(in.Amount)
	}
	owed := decimal.Zero
	for _, e := range expenses {
		owed = owed.Add(e.Liability())
	}
	return BalanceSummary{
		TotalIncome:  income,
		TotalOwed:    owed,
		NetBalance:   income.Sub(owed),
		ExpenseCount: len(expenses),
		IncomeCount:  len(incomes),
	}
}

// CategoryTotals groups expense liabilities by category, largest first.
// Ties are ordered by name so the output does not depend on input order.
func CategoryTotals(expenses []Expense) []CategoryAmount {
	byName := map[string]*CategoryAmount{}
	for _, e := range expenses {
		name := uncategorized
		if e.Category != nil {
			name = *e.Category
		}
		ca, ok := byName[name]
		if !ok {
			ca = &CategoryAmount{Name: name, Amount: decimal.Zero}
			byName[name] = ca
		}
		ca.Amount = ca.Amount.Add(e.Liability())
		ca.Count++
	}
	out := make([]CategoryAmount, 0, len(byName))
	for _, ca := range byName {
		out = append(out, *ca)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Amount.Cmp(out[j].Amount); c != 0 {
			return c > 0
		}
		return out[i].Name < out[j].Name
	})
	return out
}
