package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"saldo/internal/core"
	"saldo/internal/events"
	"saldo/internal/provider"
)

type fakeStore struct {
	mu       sync.Mutex
	expenses []core.Expense
	groups   map[string]core.Group
	tokens   map[string]string

	// failCreates makes the next n CreateExpense calls fail.
	failCreates int
	// skipPrecheck makes HasExternalID always report false.
	skipPrecheck bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{groups: map[string]core.Group{}, tokens: map[string]string{}}
}

var errDiskFull = errors.New("disk full")

func (f *fakeStore) HasExternalID(ctx context.Context, userID, externalID string) (bool, error) {
	if f.skipPrecheck {
		return false, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.expenses {
		if e.UserID == userID && e.ExternalID == externalID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return core.Expense{}, err
	}
	if f.failCreates > 0 {
		f.failCreates--
		return core.Expense{}, errDiskFull
	}
	if e.ExternalID != "" {
		for _, x := range f.expenses {
			if x.UserID == e.UserID && x.ExternalID == e.ExternalID {
				return core.Expense{}, core.ErrDuplicateExternalID
			}
		}
	}
	e.ID = fmt.Sprintf("exp-%d", len(f.expenses)+1)
	f.expenses = append(f.expenses, e)
	return e, nil
}

func (f *fakeStore) GetGroup(ctx context.Context, userID, id string) (core.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[id]
	if !ok || g.UserID != userID {
		return core.Group{}, core.ErrNotFound
	}
	return g, nil
}

func (f *fakeStore) KnownExternalIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	known := make(map[string]struct{})
	for _, e := range f.expenses {
		if e.UserID == userID && e.ExternalID != "" {
			known[e.ExternalID] = struct{}{}
		}
	}
	return known, nil
}

func (f *fakeStore) SaveProviderToken(ctx context.Context, userID, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[userID] = token
	return nil
}

func (f *fakeStore) ProviderToken(ctx context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok, ok := f.tokens[userID]
	if !ok {
		return "", core.ErrNotFound
	}
	return tok, nil
}

func (f *fakeStore) saved(userID string) []core.Expense {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.Expense
	for _, e := range f.expenses {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

type fakeProvider struct {
	records []provider.Record
	err     error
	gotTok  string
	calls   int
	// block, when set, waits for the context to end.
	block bool
	// afterFetch runs once the records are in hand, before returning them.
	afterFetch func()
}

func (p *fakeProvider) FetchExpenses(ctx context.Context, creds provider.Credentials, window provider.DateWindow) ([]provider.Record, error) {
	p.calls++
	p.gotTok = creds.Token
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.err != nil {
		return nil, p.err
	}
	if p.afterFetch != nil {
		p.afterFetch()
	}
	return p.records, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []events.BatchImported
}

func (n *recordingNotifier) Notify(ctx context.Context, e events.BatchImported) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

func record(id, cost, paid, owed string) provider.Record {
	return provider.Record{
		ID:          id,
		Description: "expense " + id,
		Cost:        cost,
		Currency:    "USD",
		Date:        "2024-03-10",
		PaidShare:   paid,
		OwedShare:   owed,
		Participant: true,
	}
}
