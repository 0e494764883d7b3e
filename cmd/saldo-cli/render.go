package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"

	"saldo/internal/cache"
	"saldo/internal/core"
	"saldo/internal/importer"
)

// renderMarkdown styles md for the terminal, falling back to the raw text.
func renderMarkdown(md string) string {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: render markdown: %v\n", err)
		return md
	}
	return out
}

func summaryMarkdown(sum cache.DashboardSummary) string {
	var b strings.Builder
	b.WriteString("# Balance\n\n")
	b.WriteString("| | Amount |\n|---|---:|\n")
	fmt.Fprintf(&b, "| Income | %s |\n", sum.Display["total_income"])
	fmt.Fprintf(&b, "| Owed | %s |\n", sum.Display["total_owed"])
	fmt.Fprintf(&b, "| **Net** | **%s** |\n\n", sum.Display["net_balance"])
	fmt.Fprintf(&b, "%d expenses, %d incomes. Amounts in %s, not converted.\n\n",
		sum.Balance.ExpenseCount, sum.Balance.IncomeCount, sum.Currency)

	if len(sum.Categories) > 0 {
		b.WriteString("## By category\n\n| Category | Amount | Count |\n|---|---:|---:|\n")
		for _, c := range sum.Categories {
			fmt.Fprintf(&b, "| %s | %s | %d |\n", escapeCell(c.Name), core.FormatAmount(c.Amount, sum.Currency), c.Count)
		}
	}
	return b.String()
}

func batchMarkdown(b importer.Batch) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Batch %s\n\n", b.ID)
	if len(b.Candidates) == 0 {
		sb.WriteString("No expenses found in this window.\n")
	} else {
		sb.WriteString("| # | Date | Description | Share | Type | Status |\n|---:|---|---|---:|---|---|\n")
		for i, c := range b.Candidates {
			status := "new"
			if c.AlreadyImported {
				status = "imported"
			}
			fmt.Fprintf(&sb, "| %d | %s | %s | %s | %s | %s |\n",
				i, c.Date, escapeCell(c.Description), core.FormatAmount(c.Liability(), c.Currency), c.ExpenseType, status)
		}
	}
	if len(b.Dropped) > 0 {
		sb.WriteString("\n## Dropped\n\n")
		for _, r := range b.Dropped {
			fmt.Fprintf(&sb, "- `%s` %s: %s\n", r.ExternalID, r.Description, r.Reason)
		}
	}
	if b.IgnoredCount > 0 {
		fmt.Fprintf(&sb, "\n%d records ignored (payments, deleted, or not involving you).\n", b.IgnoredCount)
	}
	return sb.String()
}

func itemMarkdown(it importer.Item) string {
	c := it.Candidate
	var b strings.Builder
	fmt.Fprintf(&b, "## %d of %d: %s\n\n", it.Index+1, it.Total, escapeCell(c.Description))
	fmt.Fprintf(&b, "- Date: %s\n", c.Date)
	fmt.Fprintf(&b, "- Share: %s (%s)\n", core.FormatAmount(c.Liability(), c.Currency), c.ExpenseType)
	if c.TotalExpense.Valid {
		fmt.Fprintf(&b, "- Total: %s\n", core.FormatAmount(c.TotalExpense.Decimal, c.Currency))
	}
	if c.Category != nil {
		fmt.Fprintf(&b, "- Category: %s\n", *c.Category)
	}
	if c.GroupID != nil {
		fmt.Fprintf(&b, "- Group: %s\n", *c.GroupID)
	}
	fmt.Fprintf(&b, "- External id: `%s`\n", c.ExternalID)
	return b.String()
}

func expensesMarkdown(p core.Page[core.Expense]) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Expenses (page %d of %d, %d total)\n\n", p.Page, max(p.TotalPages, 1), p.Total)
	if len(p.Items) == 0 {
		b.WriteString("Nothing here yet.\n")
		return b.String()
	}
	b.WriteString("| Date | Description | Amount | Category | Group | Source |\n|---|---|---:|---|---|---|\n")
	for _, e := range p.Items {
		source := "manual"
		if e.Imported() {
			source = "imported"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s |\n",
			e.Date, escapeCell(e.Description), core.FormatAmount(e.Liability(), e.Currency),
			escapeCell(deref(e.Category)), escapeCell(deref(e.GroupName)), source)
	}
	return b.String()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
