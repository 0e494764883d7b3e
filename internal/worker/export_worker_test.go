package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
	"saldo/internal/events"
	"saldo/internal/sheets/memory"
	storemem "saldo/internal/storage/memory"
)

type failingStore struct{}

func (failingStore) GetExpense(context.Context, string, string) (core.Expense, error) {
	return core.Expense{}, errors.New("database is locked")
}

func seed(t *testing.T, store *storemem.Store, userID, externalID string) core.Expense {
	t.Helper()
	e, err := store.CreateExpense(context.Background(), core.Expense{
		UserID:      userID,
		Description: "Imported " + externalID,
		Amount:      decimal.RequireFromString("10"),
		Currency:    "USD",
		Date:        core.NewDate(2024, 3, 1),
		ExpenseType: core.Personal,
		ExternalID:  externalID,
	})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestHandleBatchImported(t *testing.T) {
	store := storemem.New()
	a := seed(t, store, "u1", "sw-1")
	b := seed(t, store, "u1", "sw-2")
	foreign := seed(t, store, "u2", "sw-3")

	tests := []struct {
		name     string
		ids      []string
		failNext int
		wantRows int
		wantErr  bool
	}{
		{"all exported", []string{a.ID, b.ID}, 0, 2, false},
		{"deleted and foreign skipped", []string{a.ID, "gone", foreign.ID}, 0, 1, false},
		{"partial failure acknowledged", []string{a.ID, b.ID}, 1, 1, false},
		{"nothing written", []string{a.ID}, 1, 0, true},
		{"empty batch", nil, 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := memory.New()
			x.FailNext = tt.failNext
			w := NewExportWorker(store, x, nil)

			err := w.HandleBatchImported(context.Background(), events.BatchImported{
				UserID:     "u1",
				BatchID:    "b1",
				ExpenseIDs: tt.ids,
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if rows := x.Rows(); len(rows) != tt.wantRows {
				t.Fatalf("rows = %d, want %d", len(rows), tt.wantRows)
			}
		})
	}
}

func TestHandleBatchImportedStoreFailureWritesNothing(t *testing.T) {
	x := memory.New()
	w := NewExportWorker(failingStore{}, x, nil)
	err := w.HandleBatchImported(context.Background(), events.BatchImported{UserID: "u1", ExpenseIDs: []string{"e1"}})
	if err == nil {
		t.Fatal("expected store error")
	}
	if len(x.Rows()) != 0 {
		t.Fatal("no rows may be written when loading fails")
	}
}
