package importer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
)

func candidate(id, share string) core.ImportCandidate {
	return core.ImportCandidate{
		ExternalID:   id,
		Description:  "expense " + id,
		Date:         core.NewDate(2024, 3, 10),
		Currency:     "USD",
		ExpenseType:  core.Borrowed,
		TotalExpense: decimal.NewNullDecimal(decimal.RequireFromString(share)),
		OwedShare:    decimal.NewNullDecimal(decimal.RequireFromString(share)),
		Amount:       decimal.RequireFromString(share),
	}
}

func loadedSession(t *testing.T, store *fakeStore, n *recordingNotifier, cands ...core.ImportCandidate) *Session {
	t.Helper()
	if n == nil {
		n = &recordingNotifier{}
	}
	s := NewSession("u1", store, n)
	if err := s.Load(Batch{ID: "batch-1", Candidates: cands}); err != nil {
		t.Fatalf("load: %v", err)
	}
	return s
}

func TestStartPreconditions(t *testing.T) {
	store := newFakeStore()
	imported := candidate("sw-0", "5")
	imported.AlreadyImported = true

	s := NewSession("u1", store, nil) // nil notifier falls back to a no-op
	if _, err := s.Start([]int{0}); !errors.Is(err, ErrNoBatch) {
		t.Fatalf("start without batch: %v", err)
	}

	s = loadedSession(t, store, nil, imported, candidate("sw-1", "10"))
	cases := []struct {
		name      string
		positions []int
		want      error
	}{
		{"empty selection", nil, ErrEmptySelection},
		{"unknown position", []int{5}, ErrUnknownCandidate},
		{"negative position", []int{-1}, ErrUnknownCandidate},
		{"already imported", []int{0}, ErrAlreadyImported},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.Start(tc.positions); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
			if st := s.Status(); st.State != StateFetchedBatch {
				t.Fatalf("state = %s, want fetched_batch", st.State)
			}
		})
	}

	st, err := s.Start([]int{1, 1})
	if err != nil {
		t.Fatal(err)
	}
	if st.State != StateReviewing || st.Total != 1 || st.Index != 0 {
		t.Fatalf("status = %+v", st)
	}
	if _, err := s.Start([]int{1}); !errors.Is(err, ErrReviewInProgress) {
		t.Fatalf("second start: %v", err)
	}
	if err := s.Load(Batch{ID: "other"}); !errors.Is(err, ErrReviewInProgress) {
		t.Fatalf("load during review: %v", err)
	}
}

func TestStartOrdersPositions(t *testing.T) {
	s := loadedSession(t, newFakeStore(), nil, candidate("a", "1"), candidate("b", "2"), candidate("c", "3"))
	if _, err := s.Start([]int{2, 0}); err != nil {
		t.Fatal(err)
	}
	item, err := s.Current()
	if err != nil {
		t.Fatal(err)
	}
	if item.Candidate.ExternalID != "a" || item.Position != 0 || item.Total != 2 {
		t.Fatalf("current = %+v", item)
	}
}

// Skip the first, edit the second from 10 to 15 and save, save the third:
// two expenses are stored and the edited amount wins.
func TestReviewSkipEditSave(t *testing.T) {
	store := newFakeStore()
	n := &recordingNotifier{}
	s := loadedSession(t, store, n, candidate("sw-1", "7"), candidate("sw-2", "10"), candidate("sw-3", "3"))
	ctx := context.Background()

	if _, err := s.Start([]int{0, 1, 2}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Skip(ctx, 0); err != nil {
		t.Fatal(err)
	}

	fifteen := decimal.NewFromInt(15)
	item, err := s.Edit(CandidatePatch{OwedShare: &fifteen})
	if err != nil {
		t.Fatal(err)
	}
	if item.Index != 1 || !item.Candidate.OwedShare.Decimal.Equal(fifteen) {
		t.Fatalf("edited item = %+v", item)
	}
	res, err := s.Save(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Expense.Amount.Equal(fifteen) || res.Expense.ExternalID != "sw-2" {
		t.Fatalf("saved expense = %+v", res.Expense)
	}
	res, err = s.Save(ctx, CurrentIndex)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status.State != StateComplete || res.Status.Saved != 2 || res.Status.Skipped != 1 {
		t.Fatalf("final status = %+v", res.Status)
	}

	saved := store.saved("u1")
	if len(saved) != 2 {
		t.Fatalf("stored %d expenses, want 2", len(saved))
	}
	if !saved[0].Amount.Equal(fifteen) {
		t.Fatalf("sw-2 stored amount = %s, want 15", saved[0].Amount)
	}
	if n.count() != 1 {
		t.Fatalf("notifications = %d, want 1", n.count())
	}
	ev := n.events[0]
	if ev.UserID != "u1" || ev.BatchID != "batch-1" || ev.Total != 3 || len(ev.ExpenseIDs) != 2 {
		t.Fatalf("event = %+v", ev)
	}

	if _, err := s.Skip(ctx, CurrentIndex); !errors.Is(err, ErrNotReviewing) {
		t.Fatalf("skip after complete: %v", err)
	}
	if n.count() != 1 {
		t.Fatal("completion must notify once")
	}
}

// A failed save stays on the item; the retry succeeds and moves on.
func TestSaveFailureStaysOnItem(t *testing.T) {
	store := newFakeStore()
	s := loadedSession(t, store, nil, candidate("sw-1", "1"), candidate("sw-2", "2"), candidate("sw-3", "3"))
	ctx := context.Background()
	if _, err := s.Start([]int{0, 1, 2}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Save(ctx, 0); err != nil {
		t.Fatal(err)
	}

	store.failCreates = 1
	res, err := s.Save(ctx, 1)
	if !errors.Is(err, ErrPersistenceFailed) || !errors.Is(err, errDiskFull) {
		t.Fatalf("got %v, want persistence failure wrapping disk full", err)
	}
	if res.Status.Index != 1 || res.Status.State != StateReviewing {
		t.Fatalf("status after failure = %+v", res.Status)
	}
	item, _ := s.Current()
	if item.Candidate.ExternalID != "sw-2" {
		t.Fatalf("current = %s, want sw-2", item.Candidate.ExternalID)
	}

	res, err = s.Save(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status.Index != 2 {
		t.Fatalf("index = %d, want 2", res.Status.Index)
	}
	item, _ = s.Current()
	if item.Candidate.ExternalID != "sw-3" {
		t.Fatalf("current = %s, want sw-3", item.Candidate.ExternalID)
	}
	if got := len(store.saved("u1")); got != 2 {
		t.Fatalf("stored %d, want 2", got)
	}
}

func TestSaveRejectsStaleIndex(t *testing.T) {
	store := newFakeStore()
	s := loadedSession(t, store, nil, candidate("sw-1", "1"), candidate("sw-2", "2"))
	ctx := context.Background()
	if _, err := s.Start([]int{0, 1}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Save(ctx, 0); err != nil {
		t.Fatal(err)
	}
	// A repeated submit of the same item must not save the next one.
	if _, err := s.Save(ctx, 0); !errors.Is(err, ErrStaleIndex) {
		t.Fatalf("got %v, want stale index", err)
	}
	if _, err := s.Skip(ctx, 0); !errors.Is(err, ErrStaleIndex) {
		t.Fatalf("got %v, want stale index", err)
	}
	if got := len(store.saved("u1")); got != 1 {
		t.Fatalf("stored %d, want 1", got)
	}
}

func TestSaveConcurrentSubmitsAdvanceOnce(t *testing.T) {
	store := newFakeStore()
	s := loadedSession(t, store, nil, candidate("sw-1", "1"), candidate("sw-2", "2"))
	if _, err := s.Start([]int{0, 1}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Save(context.Background(), 0)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else if !errors.Is(err, ErrStaleIndex) {
			t.Errorf("unexpected error %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("%d saves succeeded, want 1", ok)
	}
	if st := s.Status(); st.Index != 1 {
		t.Fatalf("index = %d, want 1", st.Index)
	}
}

func TestSaveDuplicateExternalID(t *testing.T) {
	ctx := context.Background()

	t.Run("precheck", func(t *testing.T) {
		store := newFakeStore()
		store.expenses = append(store.expenses, core.Expense{ID: "old", UserID: "u1", ExternalID: "sw-1"})
		s := loadedSession(t, store, nil, candidate("sw-1", "1"))
		if _, err := s.Start([]int{0}); err != nil {
			t.Fatal(err)
		}
		_, err := s.Save(ctx, 0)
		if !errors.Is(err, core.ErrDuplicateExternalID) || !errors.Is(err, ErrPersistenceFailed) {
			t.Fatalf("got %v", err)
		}
		if st := s.Status(); st.State != StateReviewing || st.Index != 0 {
			t.Fatalf("status = %+v", st)
		}
	})

	t.Run("storage constraint", func(t *testing.T) {
		store := newFakeStore()
		store.skipPrecheck = true
		store.expenses = append(store.expenses, core.Expense{ID: "old", UserID: "u1", ExternalID: "sw-1"})
		s := loadedSession(t, store, nil, candidate("sw-1", "1"))
		if _, err := s.Start([]int{0}); err != nil {
			t.Fatal(err)
		}
		_, err := s.Save(ctx, 0)
		if !errors.Is(err, core.ErrDuplicateExternalID) {
			t.Fatalf("got %v", err)
		}
		// Skipping still works after the rejection.
		st, err := s.Skip(ctx, 0)
		if err != nil || st.State != StateComplete {
			t.Fatalf("skip: %+v %v", st, err)
		}
	})
}

func TestSaveResolvesGroupName(t *testing.T) {
	store := newFakeStore()
	store.groups["g1"] = core.Group{ID: "g1", UserID: "u1", Name: "Trip"}
	store.groups["g2"] = core.Group{ID: "g2", UserID: "u2", Name: "Other user"}
	s := loadedSession(t, store, nil, candidate("sw-1", "1"), candidate("sw-2", "2"))
	ctx := context.Background()
	if _, err := s.Start([]int{0, 1}); err != nil {
		t.Fatal(err)
	}

	g1 := "g1"
	if _, err := s.Edit(CandidatePatch{GroupID: &g1}); err != nil {
		t.Fatal(err)
	}
	res, err := s.Save(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Expense.GroupID == nil || *res.Expense.GroupID != "g1" || res.Expense.GroupName == nil || *res.Expense.GroupName != "Trip" {
		t.Fatalf("expense = %+v", res.Expense)
	}

	g2 := "g2"
	if _, err := s.Edit(CandidatePatch{GroupID: &g2}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Save(ctx, 1); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("foreign group: %v", err)
	}
	if st := s.Status(); st.Index != 1 {
		t.Fatalf("index = %d, want 1", st.Index)
	}
}

func TestEditValidation(t *testing.T) {
	s := loadedSession(t, newFakeStore(), nil, candidate("sw-1", "10"))
	if _, err := s.Edit(CandidatePatch{}); !errors.Is(err, ErrNotReviewing) {
		t.Fatalf("edit before start: %v", err)
	}
	if _, err := s.Start([]int{0}); err != nil {
		t.Fatal(err)
	}

	blank := "  "
	neg := decimal.NewFromInt(-1)
	badCur := "dollars"
	badType := core.ExpenseType("gift")
	cases := []struct {
		name  string
		patch CandidatePatch
		want  error
	}{
		{"blank description", CandidatePatch{Description: &blank}, core.ErrEmptyDescription},
		{"negative share", CandidatePatch{OwedShare: &neg}, core.ErrInvalidAmount},
		{"bad currency", CandidatePatch{Currency: &badCur}, core.ErrInvalidCurrency},
		{"zero date", CandidatePatch{Date: &core.Date{}}, core.ErrInvalidDate},
		{"bad type", CandidatePatch{ExpenseType: &badType}, core.ErrInvalidExpenseType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			item, err := s.Edit(tc.patch)
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
			if item.Candidate.Description != "expense sw-1" || !item.Candidate.OwedShare.Decimal.Equal(decimal.NewFromInt(10)) {
				t.Fatalf("failed edit changed candidate: %+v", item.Candidate)
			}
		})
	}

	cat := "Food"
	item, err := s.Edit(CandidatePatch{Category: &cat})
	if err != nil || item.Candidate.Category == nil || *item.Candidate.Category != "Food" {
		t.Fatalf("set category: %+v %v", item.Candidate, err)
	}
	empty := ""
	item, err = s.Edit(CandidatePatch{Category: &empty})
	if err != nil || item.Candidate.Category != nil {
		t.Fatalf("clear category: %+v %v", item.Candidate, err)
	}
	if item.Candidate.ExternalID != "sw-1" {
		t.Fatal("external id changed")
	}
}

func TestCloseCancelsInflightSave(t *testing.T) {
	store := newFakeStore()
	s := loadedSession(t, store, nil, candidate("sw-1", "1"))
	if _, err := s.Start([]int{0}); err != nil {
		t.Fatal(err)
	}

	ctx, done := s.track(context.Background())
	defer done()
	s.Close()
	if ctx.Err() == nil {
		t.Fatal("close must cancel tracked operations")
	}
	if st := s.Status(); st.State != StateIdle || st.Total != 0 {
		t.Fatalf("status after close = %+v", st)
	}
	if _, err := s.Save(context.Background(), CurrentIndex); !errors.Is(err, ErrNotReviewing) {
		t.Fatalf("save after close: %v", err)
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateIdle:                "idle",
		StateAwaitingCredentials: "awaiting_credentials",
		StateFetchedBatch:        "fetched_batch",
		StateReviewing:           "reviewing",
		StateComplete:            "complete",
		State(42):                "state(42)",
	}
	for st, want := range cases {
		if st.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(st), st.String(), want)
		}
	}
}

func TestStateTextRoundTrip(t *testing.T) {
	var st State
	if err := st.UnmarshalText([]byte("reviewing")); err != nil || st != StateReviewing {
		t.Fatalf("got %s, %v", st, err)
	}
	if err := st.UnmarshalText([]byte("paused")); err == nil {
		t.Fatal("unknown state should fail")
	}
}
