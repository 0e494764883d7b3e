package importer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"saldo/internal/provider"
)

func newTestService(store *fakeStore, p *fakeProvider) (*Service, *recordingNotifier) {
	n := &recordingNotifier{}
	return NewService(store, p, n, nil), n
}

func TestFetchMissingCredentials(t *testing.T) {
	store := newFakeStore()
	p := &fakeProvider{}
	svc, _ := newTestService(store, p)
	ctx := context.Background()

	_, err := svc.Fetch(ctx, "u1", provider.DateWindow{})
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("got %v, want missing credentials", err)
	}
	if st := svc.Status("u1"); st.State != StateAwaitingCredentials {
		t.Fatalf("state = %s", st.State)
	}
	if p.calls != 0 {
		t.Fatal("provider must not be called without credentials")
	}

	if err := svc.SaveCredentials(ctx, "u1", "   "); !errors.Is(err, ErrEmptyToken) {
		t.Fatalf("blank token: %v", err)
	}
	if err := svc.SaveCredentials(ctx, "u1", " tok "); err != nil {
		t.Fatal(err)
	}
	if st := svc.Status("u1"); st.State != StateIdle {
		t.Fatalf("state after credentials = %s", st.State)
	}
	if _, err := svc.Fetch(ctx, "u1", provider.DateWindow{}); err != nil {
		t.Fatal(err)
	}
	if p.gotTok != "tok" {
		t.Fatalf("token passed = %q", p.gotTok)
	}
}

func TestFetchProviderErrorsLeaveSession(t *testing.T) {
	for _, perr := range []error{provider.ErrAuthenticationFailed, provider.ErrProviderUnavailable} {
		t.Run(perr.Error(), func(t *testing.T) {
			store := newFakeStore()
			store.tokens["u1"] = "tok"
			p := &fakeProvider{records: []provider.Record{record("sw-1", "10", "0", "10")}}
			svc, _ := newTestService(store, p)
			ctx := context.Background()

			first, err := svc.Fetch(ctx, "u1", provider.DateWindow{})
			if err != nil {
				t.Fatal(err)
			}
			p.err = fmt.Errorf("fetch: %w", perr)
			if _, err := svc.Fetch(ctx, "u1", provider.DateWindow{}); !errors.Is(err, perr) {
				t.Fatalf("got %v, want %v", err, perr)
			}
			b, err := svc.Batch("u1")
			if err != nil || b.ID != first.ID {
				t.Fatalf("batch replaced after failed fetch: %+v %v", b, err)
			}
			if st := svc.Status("u1"); st.State != StateFetchedBatch {
				t.Fatalf("state = %s", st.State)
			}
		})
	}
}

func TestFetchRejectedWhileReviewing(t *testing.T) {
	store := newFakeStore()
	store.tokens["u1"] = "tok"
	p := &fakeProvider{records: []provider.Record{record("sw-1", "10", "0", "10")}}
	svc, _ := newTestService(store, p)
	ctx := context.Background()

	if _, err := svc.Fetch(ctx, "u1", provider.DateWindow{}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Start(ctx, "u1", []int{0}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Fetch(ctx, "u1", provider.DateWindow{}); !errors.Is(err, ErrReviewInProgress) {
		t.Fatalf("got %v", err)
	}
	if p.calls != 1 {
		t.Fatalf("provider calls = %d, want 1", p.calls)
	}
}

// Saving everything and fetching the same records again yields no new
// candidates for the saved items; skipped ones come back.
func TestImportIsIdempotent(t *testing.T) {
	store := newFakeStore()
	store.tokens["u1"] = "tok"
	p := &fakeProvider{records: []provider.Record{
		record("sw-1", "10", "0", "10"),
		record("sw-2", "20", "20", "5"),
		record("sw-3", "abc", "0", "1"),
		record("sw-4", "8", "8", "8"),
	}}
	svc, n := newTestService(store, p)
	ctx := context.Background()

	b, err := svc.Fetch(ctx, "u1", provider.DateWindow{})
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Candidates) != 3 || len(b.Dropped) != 1 || b.NewCount() != 3 {
		t.Fatalf("batch = %+v", b)
	}
	if _, err := svc.Start(ctx, "u1", NewPositions(b.Candidates)); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Save(ctx, "u1", CurrentIndex); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Skip(ctx, "u1", CurrentIndex); err != nil {
		t.Fatal(err)
	}
	res, err := svc.Save(ctx, "u1", CurrentIndex)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status.State != StateComplete || n.count() != 1 {
		t.Fatalf("status = %+v, notifications = %d", res.Status, n.count())
	}

	b2, err := svc.Fetch(ctx, "u1", provider.DateWindow{})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{"sw-1": true, "sw-2": false, "sw-4": true}
	for _, c := range b2.Candidates {
		if c.AlreadyImported != want[c.ExternalID] {
			t.Errorf("%s already_imported = %v, want %v", c.ExternalID, c.AlreadyImported, want[c.ExternalID])
		}
	}
	if b2.NewCount() != 1 {
		t.Fatalf("new after re-fetch = %d, want 1", b2.NewCount())
	}
	if b2.ID == b.ID {
		t.Fatal("each fetch gets its own batch id")
	}
}

func TestSessionsAreIsolatedPerUser(t *testing.T) {
	store := newFakeStore()
	store.tokens["u1"] = "tok1"
	store.tokens["u2"] = "tok2"
	p := &fakeProvider{records: []provider.Record{record("sw-1", "10", "0", "10")}}
	svc, _ := newTestService(store, p)
	ctx := context.Background()

	for _, u := range []string{"u1", "u2"} {
		if _, err := svc.Fetch(ctx, u, provider.DateWindow{}); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.Start(ctx, u, []int{0}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := svc.Save(ctx, "u1", 0); err != nil {
		t.Fatal(err)
	}
	if st := svc.Status("u2"); st.State != StateReviewing || st.Index != 0 {
		t.Fatalf("u2 status = %+v", st)
	}
	// u1 saving sw-1 does not mark it imported for u2.
	if _, err := svc.Save(ctx, "u2", 0); err != nil {
		t.Fatalf("u2 save: %v", err)
	}
	if len(store.saved("u1")) != 1 || len(store.saved("u2")) != 1 {
		t.Fatal("each user must have one expense")
	}
}

func TestCloseCancelsFetch(t *testing.T) {
	store := newFakeStore()
	store.tokens["u1"] = "tok"
	p := &fakeProvider{block: true}
	svc, _ := newTestService(store, p)

	errc := make(chan error, 1)
	go func() {
		_, err := svc.Fetch(context.Background(), "u1", provider.DateWindow{})
		errc <- err
	}()

	deadline := time.After(2 * time.Second)
	for {
		sess := svc.Session("u1")
		sess.inflightMu.Lock()
		n := len(sess.inflight)
		sess.inflightMu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("fetch never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	svc.Close(context.Background(), "u1")
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("got %v, want canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fetch was not cancelled")
	}
	if st := svc.Status("u1"); st.State != StateIdle {
		t.Fatalf("state = %s", st.State)
	}
}

func TestCloseAfterProviderReturnsDropsBatch(t *testing.T) {
	store := newFakeStore()
	store.tokens["u1"] = "tok"
	p := &fakeProvider{records: []provider.Record{record("sw-1", "10", "0", "10")}}
	svc, _ := newTestService(store, p)
	p.afterFetch = func() { svc.Close(context.Background(), "u1") }

	if _, err := svc.Fetch(context.Background(), "u1", provider.DateWindow{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want canceled", err)
	}
	if st := svc.Status("u1"); st.State != StateIdle {
		t.Fatalf("state = %s, want %s", st.State, StateIdle)
	}

	p.afterFetch = nil
	batch, err := svc.Fetch(context.Background(), "u1", provider.DateWindow{})
	if err != nil {
		t.Fatal(err)
	}
	if len(batch.Candidates) != 1 || svc.Status("u1").State != StateFetchedBatch {
		t.Fatalf("batch = %+v, state = %s", batch, svc.Status("u1").State)
	}
}
