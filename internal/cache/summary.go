package cache

import (
	"context"
	"time"

	"saldo/internal/core"
	"saldo/internal/events"
)

// DashboardSummary is the cached dashboard read model for one user.
type DashboardSummary struct {
	Balance    core.BalanceSummary   `json:"balance"`
	Categories []core.CategoryAmount `json:"categories"`
	Currency   string                `json:"currency"`
	Display    map[string]string     `json:"display"`
	ComputedAt time.Time             `json:"computed_at"`
}

// NewDashboardSummary computes the summary from one snapshot of a user's
// expenses and incomes. Display strings use the dominant currency.
func NewDashboardSummary(expenses []core.Expense, incomes []core.Income, now time.Time) DashboardSummary {
	balance := core.Aggregate(expenses, incomes)
	currency := DominantCurrency(expenses, incomes)
	return DashboardSummary{
		Balance:    balance,
		Categories: core.CategoryTotals(expenses),
		Currency:   currency,
		Display: map[string]string{
			"total_income": core.FormatAmount(balance.TotalIncome, currency),
			"total_owed":   core.FormatAmount(balance.TotalOwed, currency),
			"net_balance":  core.FormatAmount(balance.NetBalance, currency),
		},
		ComputedAt: now,
	}
}

// DominantCurrency picks the most used currency. Ties go to the
// alphabetically first code.
func DominantCurrency(expenses []core.Expense, incomes []core.Income) string {
	counts := map[string]int{}
	for _, e := range expenses {
		counts[core.NormalizeCurrency(e.Currency)]++
	}
	for _, in := range incomes {
		counts[core.NormalizeCurrency(in.Currency)]++
	}
	best, n := core.DefaultCurrency, 0
	for code, c := range counts {
		if c > n || (c == n && code < best) {
			best, n = code, c
		}
	}
	return best
}

// Summaries caches dashboard summaries per user. It is also an
// events.Notifier: a finished import drops the user's entry.
type Summaries struct {
	*LRUCache[DashboardSummary]
}

func NewSummaries(maxUsers int, ttl time.Duration) *Summaries {
	return &Summaries{LRUCache: NewLRUCache[DashboardSummary]("summary", maxUsers, ttl)}
}

func (s *Summaries) Invalidate(userID string) {
	s.Delete(userID)
}

func (s *Summaries) Notify(_ context.Context, ev events.BatchImported) error {
	s.Invalidate(ev.UserID)
	return nil
}
