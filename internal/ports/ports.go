// Package ports declares the persistence boundary. Every call is scoped to
// one user; ids belonging to another user behave as if they did not exist.
package ports

import (
	"context"

	"saldo/internal/core"
)

type (
	ExpenseStore interface {
		// CreateExpense assigns an id and timestamps. A second expense with the
		// same non-empty external id for the user fails with core.ErrDuplicateExternalID.
		CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error)
		GetExpense(ctx context.Context, userID, id string) (core.Expense, error)
		// ListExpenses returns newest first.
		ListExpenses(ctx context.Context, userID string, page core.PageRequest) (core.Page[core.Expense], error)
		AllExpenses(ctx context.Context, userID string) ([]core.Expense, error)
		UpdateExpense(ctx context.Context, userID, id string, p core.ExpensePatch) (core.Expense, error)
		DeleteExpense(ctx context.Context, userID, id string) error
		DeleteAllExpenses(ctx context.Context, userID string) (int, error)

		KnownExternalIDs(ctx context.Context, userID string) (map[string]struct{}, error)
		HasExternalID(ctx context.Context, userID, externalID string) (bool, error)
	}

	GroupStore interface {
		CreateGroup(ctx context.Context, g core.Group) (core.Group, error)
		GetGroup(ctx context.Context, userID, id string) (core.Group, error)
		ListGroups(ctx context.Context, userID string) ([]core.Group, error)
		UpdateGroup(ctx context.Context, userID, id string, p core.GroupPatch) (core.Group, error)
		// DeleteGroup detaches the group's expenses; the expenses are kept.
		DeleteGroup(ctx context.Context, userID, id string) error
	}

	IncomeStore interface {
		CreateIncome(ctx context.Context, i core.Income) (core.Income, error)
		ListIncomes(ctx context.Context, userID string, page core.PageRequest) (core.Page[core.Income], error)
		AllIncomes(ctx context.Context, userID string) ([]core.Income, error)
		UpdateIncome(ctx context.Context, userID, id string, p core.IncomePatch) (core.Income, error)
		DeleteIncome(ctx context.Context, userID, id string) error
	}

	CredentialStore interface {
		SaveProviderToken(ctx context.Context, userID, token string) error
		// ProviderToken fails with core.ErrNotFound when none was saved.
		ProviderToken(ctx context.Context, userID string) (string, error)
	}

	Store interface {
		ExpenseStore
		GroupStore
		IncomeStore
		CredentialStore
		Ping(ctx context.Context) error
		Close() error
	}
)
