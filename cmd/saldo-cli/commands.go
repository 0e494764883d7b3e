package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"

	"saldo/internal/cache"
	"saldo/internal/core"
	"saldo/internal/events"
)

func requireUser(user string) bool {
	if strings.TrimSpace(user) == "" {
		fmt.Fprintln(os.Stderr, "Error: -user is required")
		return false
	}
	return true
}

type credentialsCmd struct {
	user  string
	token string
}

func (*credentialsCmd) Name() string     { return "credentials" }
func (*credentialsCmd) Synopsis() string { return "store the provider API token for a user" }
func (*credentialsCmd) Usage() string {
	return `saldo-cli credentials -user <id> -token <token>

  Stores the token used to fetch the user's shared expenses.
`
}

func (c *credentialsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "user id")
	f.StringVar(&c.token, "token", "", "provider API token")
}

func (c *credentialsCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if !requireUser(c.user) {
		return subcommands.ExitUsageError
	}
	a, err := openApp(ctx, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	if err := a.importer.SaveCredentials(ctx, c.user, c.token); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Fprintln(a.out, "Credentials saved.")
	return subcommands.ExitSuccess
}

type importCmd struct {
	user string
	from string
	to   string
}

func (*importCmd) Name() string     { return "import" }
func (*importCmd) Synopsis() string { return "fetch shared expenses and review them one by one" }
func (*importCmd) Usage() string {
	return `saldo-cli import -user <id> [-from YYYY-MM-DD] [-to YYYY-MM-DD]

  Fetches the user's expenses from the provider, lists them, and walks
  through the selected ones. At each item: s to save, k to skip,
  e field=value to edit (description, share, currency, date, category,
  group, type), q to quit.
`
}

func (c *importCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "user id")
	f.StringVar(&c.from, "from", "", "first day to fetch (inclusive)")
	f.StringVar(&c.to, "to", "", "last day to fetch (inclusive)")
}

func (c *importCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if !requireUser(c.user) {
		return subcommands.ExitUsageError
	}
	window, err := parseWindow(c.from, c.to)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}

	var done events.BatchImported
	a, err := openApp(ctx, events.NotifierFunc(func(_ context.Context, ev events.BatchImported) error {
		done = ev
		return nil
	}))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	r := &reviewer{app: a, in: os.Stdin, render: renderMarkdown}
	if err := r.run(ctx, c.user, window); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	if done.BatchID != "" {
		fmt.Fprintf(a.out, "Imported %d of %d (%d skipped).\n", done.Saved, done.Total, done.Skipped)
	}
	return subcommands.ExitSuccess
}

type summaryCmd struct {
	user string
}

func (*summaryCmd) Name() string     { return "summary" }
func (*summaryCmd) Synopsis() string { return "show the balance summary for a user" }
func (*summaryCmd) Usage() string {
	return `saldo-cli summary -user <id>

  Prints income, owed and net balance, then totals by category.
`
}

func (c *summaryCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "user id")
}

func (c *summaryCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if !requireUser(c.user) {
		return subcommands.ExitUsageError
	}
	a, err := openApp(ctx, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	sum, err := loadSummary(ctx, a, c.user)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Fprint(a.out, renderMarkdown(summaryMarkdown(sum)))
	return subcommands.ExitSuccess
}

func loadSummary(ctx context.Context, a *app, userID string) (cache.DashboardSummary, error) {
	var (
		expenses []core.Expense
		incomes  []core.Income
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		expenses, err = a.store.AllExpenses(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		incomes, err = a.store.AllIncomes(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return cache.DashboardSummary{}, err
	}
	return cache.NewDashboardSummary(expenses, incomes, time.Now().UTC()), nil
}

type expensesCmd struct {
	user string
	page int
	size int
}

func (*expensesCmd) Name() string     { return "expenses" }
func (*expensesCmd) Synopsis() string { return "list a user's expenses, newest first" }
func (*expensesCmd) Usage() string {
	return `saldo-cli expenses -user <id> [-page n] [-size n]
`
}

func (c *expensesCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "user id")
	f.IntVar(&c.page, "page", 1, "page number")
	f.IntVar(&c.size, "size", core.DefaultPageSize, "page size")
}

func (c *expensesCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if !requireUser(c.user) {
		return subcommands.ExitUsageError
	}
	a, err := openApp(ctx, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	defer a.Close()

	page, err := a.store.ListExpenses(ctx, c.user, core.PageRequest{Page: c.page, Size: c.size})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Fprint(a.out, renderMarkdown(expensesMarkdown(page)))
	return subcommands.ExitSuccess
}
