// Package storetest runs the same behavioural checks against every
// ports.Store implementation.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
	"saldo/internal/ports"
)

// Run exercises store semantics. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) ports.Store) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(t *testing.T, s ports.Store)
	}{
		{"ExpenseCRUD", testExpenseCRUD},
		{"ExternalIDUniqueness", testExternalIDUniqueness},
		{"ConcurrentDuplicateCreate", testConcurrentDuplicateCreate},
		{"UserScoping", testUserScoping},
		{"Pagination", testPagination},
		{"Groups", testGroups},
		{"Incomes", testIncomes},
		{"Credentials", testCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func expense(userID, extID, amount string, day int) core.Expense {
	e := core.Expense{
		UserID:      userID,
		Description: "expense " + extID,
		Amount:      decimal.RequireFromString(amount),
		Currency:    "USD",
		Date:        core.NewDate(2024, 3, day),
		ExpenseType: core.Borrowed,
		ExternalID:  extID,
	}
	if extID != "" {
		e.OwedShare = decimal.NewNullDecimal(e.Amount)
		e.TotalExpense = decimal.NewNullDecimal(e.Amount.Mul(decimal.NewFromInt(2)))
	}
	return e
}

func testExpenseCRUD(t *testing.T, s ports.Store) {
	ctx := context.Background()
	created, err := s.CreateExpense(ctx, expense("u1", "sw-1", "12.34", 5))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.CreatedAt.IsZero() {
		t.Fatalf("create did not assign id/timestamps: %+v", created)
	}

	got, err := s.GetExpense(ctx, "u1", created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Amount.Equal(decimal.RequireFromString("12.34")) || got.ExternalID != "sw-1" ||
		got.Date.String() != "2024-03-05" || got.ExpenseType != core.Borrowed || got.Category != nil {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if !got.OwedShare.Valid || !got.TotalExpense.Decimal.Equal(decimal.RequireFromString("24.68")) {
		t.Fatalf("shares not stored: %+v", got)
	}

	cat := "Food"
	amount := decimal.NewFromInt(20)
	updated, err := s.UpdateExpense(ctx, "u1", created.ID, core.ExpensePatch{Category: &cat, Amount: &amount})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Category == nil || *updated.Category != "Food" || !updated.Amount.Equal(amount) || updated.OwedShare.Valid {
		t.Fatalf("update mismatch: %+v", updated)
	}
	if updated.ExternalID != "sw-1" {
		t.Fatal("update must keep the external id")
	}
	got, _ = s.GetExpense(ctx, "u1", created.ID)
	if !got.Liability().Equal(amount) {
		t.Fatalf("persisted liability = %s, want 20", got.Liability())
	}

	neg := decimal.NewFromInt(-1)
	if _, err := s.UpdateExpense(ctx, "u1", created.ID, core.ExpensePatch{Amount: &neg}); !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("invalid update: %v", err)
	}
	missing := "no-such-group"
	if _, err := s.UpdateExpense(ctx, "u1", created.ID, core.ExpensePatch{GroupID: &missing}); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("unknown group: %v", err)
	}

	if err := s.DeleteExpense(ctx, "u1", created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetExpense(ctx, "u1", created.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get after delete: %v", err)
	}
	if err := s.DeleteExpense(ctx, "u1", created.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
	// Deleting frees the external id for a later import.
	if _, err := s.CreateExpense(ctx, expense("u1", "sw-1", "1", 5)); err != nil {
		t.Fatalf("re-create after delete: %v", err)
	}
}

func testExternalIDUniqueness(t *testing.T, s ports.Store) {
	ctx := context.Background()
	if _, err := s.CreateExpense(ctx, expense("u1", "sw-1", "1", 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateExpense(ctx, expense("u1", "sw-1", "2", 2)); !errors.Is(err, core.ErrDuplicateExternalID) {
		t.Fatalf("duplicate: got %v", err)
	}
	// Same id for another user is fine.
	if _, err := s.CreateExpense(ctx, expense("u2", "sw-1", "1", 1)); err != nil {
		t.Fatalf("other user: %v", err)
	}
	// Manual expenses have no external id and never collide.
	for i := 0; i < 2; i++ {
		if _, err := s.CreateExpense(ctx, expense("u1", "", "3", 3)); err != nil {
			t.Fatalf("manual %d: %v", i, err)
		}
	}

	ok, err := s.HasExternalID(ctx, "u1", "sw-1")
	if err != nil || !ok {
		t.Fatalf("has sw-1: %v %v", ok, err)
	}
	ok, err = s.HasExternalID(ctx, "u1", "")
	if err != nil || ok {
		t.Fatalf("has empty: %v %v", ok, err)
	}
	known, err := s.KnownExternalIDs(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := known["sw-1"]; !ok || len(known) != 1 {
		t.Fatalf("known = %v", known)
	}
}

func testConcurrentDuplicateCreate(t *testing.T, s ports.Store) {
	ctx := context.Background()
	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		oks  int
		dups int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateExpense(ctx, expense("u1", "sw-race", "5", 9))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				oks++
			case errors.Is(err, core.ErrDuplicateExternalID):
				dups++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if oks != 1 || dups != n-1 {
		t.Fatalf("oks = %d, dups = %d", oks, dups)
	}
}

func testUserScoping(t *testing.T, s ports.Store) {
	ctx := context.Background()
	e, err := s.CreateExpense(ctx, expense("u1", "sw-1", "1", 1))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetExpense(ctx, "u2", e.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get as other user: %v", err)
	}
	desc := "hijack"
	if _, err := s.UpdateExpense(ctx, "u2", e.ID, core.ExpensePatch{Description: &desc}); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("update as other user: %v", err)
	}
	if err := s.DeleteExpense(ctx, "u2", e.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("delete as other user: %v", err)
	}
	if n, err := s.DeleteAllExpenses(ctx, "u2"); err != nil || n != 0 {
		t.Fatalf("delete all as other user: %d %v", n, err)
	}
	known, _ := s.KnownExternalIDs(ctx, "u2")
	if len(known) != 0 {
		t.Fatalf("u2 known = %v", known)
	}
	if n, err := s.DeleteAllExpenses(ctx, "u1"); err != nil || n != 1 {
		t.Fatalf("delete all: %d %v", n, err)
	}
}

func testPagination(t *testing.T, s ports.Store) {
	ctx := context.Background()
	for day := 1; day <= 5; day++ {
		if _, err := s.CreateExpense(ctx, expense("u1", fmt.Sprintf("sw-%d", day), "1", day)); err != nil {
			t.Fatal(err)
		}
	}
	page, err := s.ListExpenses(ctx, "u1", core.PageRequest{Page: 1, Size: 2})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 5 || page.TotalPages != 3 || len(page.Items) != 2 {
		t.Fatalf("page 1 = %+v", page)
	}
	if page.Items[0].ExternalID != "sw-5" || page.Items[1].ExternalID != "sw-4" {
		t.Fatalf("expected newest first, got %s, %s", page.Items[0].ExternalID, page.Items[1].ExternalID)
	}
	last, err := s.ListExpenses(ctx, "u1", core.PageRequest{Page: 3, Size: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(last.Items) != 1 || last.Items[0].ExternalID != "sw-1" {
		t.Fatalf("last page = %+v", last.Items)
	}
	beyond, err := s.ListExpenses(ctx, "u1", core.PageRequest{Page: 9, Size: 2})
	if err != nil {
		t.Fatal(err)
	}
	if beyond.Items == nil || len(beyond.Items) != 0 {
		t.Fatalf("beyond last page = %+v", beyond.Items)
	}
	empty, err := s.ListExpenses(ctx, "nobody", core.PageRequest{})
	if err != nil || empty.Total != 0 || empty.TotalPages != 0 {
		t.Fatalf("empty = %+v %v", empty, err)
	}
	all, err := s.AllExpenses(ctx, "u1")
	if err != nil || len(all) != 5 {
		t.Fatalf("all = %d %v", len(all), err)
	}
}

func testGroups(t *testing.T, s ports.Store) {
	ctx := context.Background()
	if _, err := s.CreateGroup(ctx, core.Group{UserID: "u1", Name: " "}); !errors.Is(err, core.ErrEmptyGroupName) {
		t.Fatalf("blank name: %v", err)
	}
	g, err := s.CreateGroup(ctx, core.Group{UserID: "u1", Name: "Trip"})
	if err != nil {
		t.Fatal(err)
	}
	if g.Color != core.DefaultGroupColor {
		t.Fatalf("color = %q", g.Color)
	}
	if _, err := s.GetGroup(ctx, "u2", g.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("other user's group: %v", err)
	}

	e := expense("u1", "sw-1", "10", 1)
	e.GroupID, e.GroupName = &g.ID, &g.Name
	saved, err := s.CreateExpense(ctx, e)
	if err != nil {
		t.Fatal(err)
	}

	groups, err := s.ListGroups(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(groups) != 1 || groups[0].ExpenseCount != 1 {
		t.Fatalf("groups = %+v", groups)
	}

	name := "Holiday"
	if _, err := s.UpdateGroup(ctx, "u1", g.ID, core.GroupPatch{Name: &name}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetExpense(ctx, "u1", saved.ID)
	if got.GroupName == nil || *got.GroupName != "Holiday" {
		t.Fatalf("group name not propagated: %+v", got.GroupName)
	}

	if err := s.DeleteGroup(ctx, "u2", g.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("delete other user's group: %v", err)
	}
	if err := s.DeleteGroup(ctx, "u1", g.ID); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetExpense(ctx, "u1", saved.ID)
	if err != nil {
		t.Fatalf("expense must survive group deletion: %v", err)
	}
	if got.GroupID != nil || got.GroupName != nil {
		t.Fatalf("group not detached: %+v", got)
	}
	if groups, _ := s.ListGroups(ctx, "u1"); len(groups) != 0 {
		t.Fatalf("groups after delete = %+v", groups)
	}
}

func testIncomes(t *testing.T, s ports.Store) {
	ctx := context.Background()
	if _, err := s.CreateIncome(ctx, core.Income{UserID: "u1", Description: "zero", Amount: decimal.Zero, Currency: "USD", Date: core.NewDate(2024, 1, 1)}); !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("zero income: %v", err)
	}
	in, err := s.CreateIncome(ctx, core.Income{UserID: "u1", Description: "Salary", Amount: decimal.NewFromInt(3000), Currency: "USD", Date: core.NewDate(2024, 1, 31)})
	if err != nil {
		t.Fatal(err)
	}
	src := "Employer"
	updated, err := s.UpdateIncome(ctx, "u1", in.ID, core.IncomePatch{Source: &src})
	if err != nil || updated.Source == nil || *updated.Source != "Employer" {
		t.Fatalf("update income: %+v %v", updated, err)
	}
	page, err := s.ListIncomes(ctx, "u1", core.PageRequest{})
	if err != nil || page.Total != 1 || !page.Items[0].Amount.Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("list incomes: %+v %v", page, err)
	}
	if all, _ := s.AllIncomes(ctx, "u2"); len(all) != 0 {
		t.Fatal("incomes leaked across users")
	}
	if err := s.DeleteIncome(ctx, "u2", in.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("delete as other user: %v", err)
	}
	if err := s.DeleteIncome(ctx, "u1", in.ID); err != nil {
		t.Fatal(err)
	}
}

func testCredentials(t *testing.T, s ports.Store) {
	ctx := context.Background()
	if _, err := s.ProviderToken(ctx, "u1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("missing token: %v", err)
	}
	for _, tok := range []string{"first", "second"} {
		if err := s.SaveProviderToken(ctx, "u1", tok); err != nil {
			t.Fatal(err)
		}
	}
	tok, err := s.ProviderToken(ctx, "u1")
	if err != nil || tok != "second" {
		t.Fatalf("token = %q %v", tok, err)
	}
	if _, err := s.ProviderToken(ctx, "u2"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("token leaked: %v", err)
	}
}
