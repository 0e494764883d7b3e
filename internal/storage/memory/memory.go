// Package memory is an in-process store with the same semantics as the SQL
// repository, including the per-user external id uniqueness.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"saldo/internal/core"
)

type Store struct {
	mu       sync.Mutex
	now      func() time.Time
	expenses map[string]core.Expense
	groups   map[string]core.Group
	incomes  map[string]core.Income
	tokens   map[string]string
	// external maps user id + external id to the expense id.
	external map[extKey]string
}

type extKey struct{ userID, externalID string }

func New() *Store {
	return &Store{
		now:      func() time.Time { return time.Now().UTC() },
		expenses: make(map[string]core.Expense),
		groups:   make(map[string]core.Group),
		incomes:  make(map[string]core.Income),
		tokens:   make(map[string]string),
		external: make(map[extKey]string),
	}
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

func (s *Store) CreateExpense(_ context.Context, e core.Expense) (core.Expense, error) {
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ExternalID != "" {
		if _, dup := s.external[extKey{e.UserID, e.ExternalID}]; dup {
			return core.Expense{}, core.ErrDuplicateExternalID
		}
	}
	e.ID = uuid.NewString()
	e.CreatedAt = s.now()
	e.UpdatedAt = e.CreatedAt
	s.expenses[e.ID] = e
	if e.ExternalID != "" {
		s.external[extKey{e.UserID, e.ExternalID}] = e.ID
	}
	return e, nil
}

func (s *Store) GetExpense(_ context.Context, userID, id string) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.expenses[id]
	if !ok || e.UserID != userID {
		return core.Expense{}, core.ErrNotFound
	}
	return e, nil
}

func (s *Store) ListExpenses(ctx context.Context, userID string, page core.PageRequest) (core.Page[core.Expense], error) {
	all, err := s.AllExpenses(ctx, userID)
	if err != nil {
		return core.Page[core.Expense]{}, err
	}
	return core.Paginate(all, page), nil
}

// AllExpenses returns the user's expenses, newest first.
func (s *Store) AllExpenses(_ context.Context, userID string) ([]core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Expense
	for _, e := range s.expenses {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date.Time) {
			return out[i].Date.After(out[j].Date.Time)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) UpdateExpense(_ context.Context, userID, id string, p core.ExpensePatch) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.expenses[id]
	if !ok || e.UserID != userID {
		return core.Expense{}, core.ErrNotFound
	}

	updated := p.Apply(e)
	if p.GroupID != nil && updated.GroupID != nil {
		g, ok := s.groups[*updated.GroupID]
		if !ok || g.UserID != userID {
			return core.Expense{}, core.ErrNotFound
		}
		updated.GroupName = &g.Name
	}
	if err := updated.Validate(); err != nil {
		return core.Expense{}, err
	}
	updated.UpdatedAt = s.now()
	s.expenses[id] = updated
	return updated, nil
}

func (s *Store) DeleteExpense(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.expenses[id]
	if !ok || e.UserID != userID {
		return core.ErrNotFound
	}
	s.deleteLocked(e)
	return nil
}

func (s *Store) DeleteAllExpenses(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.expenses {
		if e.UserID == userID {
			s.deleteLocked(e)
			n++
		}
	}
	return n, nil
}

func (s *Store) deleteLocked(e core.Expense) {
	delete(s.expenses, e.ID)
	if e.ExternalID != "" {
		delete(s.external, extKey{e.UserID, e.ExternalID})
	}
}

func (s *Store) KnownExternalIDs(_ context.Context, userID string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	known := make(map[string]struct{})
	for k := range s.external {
		if k.userID == userID {
			known[k.externalID] = struct{}{}
		}
	}
	return known, nil
}

func (s *Store) HasExternalID(_ context.Context, userID, externalID string) (bool, error) {
	if externalID == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.external[extKey{userID, externalID}]
	return ok, nil
}

func (s *Store) CreateGroup(_ context.Context, g core.Group) (core.Group, error) {
	if err := g.Validate(); err != nil {
		return core.Group{}, err
	}
	g.Name = strings.TrimSpace(g.Name)
	if g.Color == "" {
		g.Color = core.DefaultGroupColor
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g.ID = uuid.NewString()
	g.CreatedAt = s.now()
	g.ExpenseCount = 0
	s.groups[g.ID] = g
	return g, nil
}

func (s *Store) GetGroup(_ context.Context, userID, id string) (core.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok || g.UserID != userID {
		return core.Group{}, core.ErrNotFound
	}
	g.ExpenseCount = s.countLocked(id)
	return g, nil
}

// ListGroups returns the user's groups sorted by name.
func (s *Store) ListGroups(_ context.Context, userID string) ([]core.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.Group{}
	for _, g := range s.groups {
		if g.UserID == userID {
			g.ExpenseCount = s.countLocked(g.ID)
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) countLocked(groupID string) int {
	n := 0
	for _, e := range s.expenses {
		if e.GroupID != nil && *e.GroupID == groupID {
			n++
		}
	}
	return n
}

func (s *Store) UpdateGroup(_ context.Context, userID, id string, p core.GroupPatch) (core.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok || g.UserID != userID {
		return core.Group{}, core.ErrNotFound
	}
	updated := p.Apply(g)
	if err := updated.Validate(); err != nil {
		return core.Group{}, err
	}
	s.groups[id] = updated
	if updated.Name != g.Name {
		for eid, e := range s.expenses {
			if e.GroupID != nil && *e.GroupID == id {
				name := updated.Name
				e.GroupName = &name
				s.expenses[eid] = e
			}
		}
	}
	updated.ExpenseCount = s.countLocked(id)
	return updated, nil
}

func (s *Store) DeleteGroup(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok || g.UserID != userID {
		return core.ErrNotFound
	}
	delete(s.groups, id)
	for eid, e := range s.expenses {
		if e.UserID == userID && e.GroupID != nil && *e.GroupID == id {
			e.GroupID = nil
			e.GroupName = nil
			s.expenses[eid] = e
		}
	}
	return nil
}

func (s *Store) CreateIncome(_ context.Context, i core.Income) (core.Income, error) {
	if err := i.Validate(); err != nil {
		return core.Income{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i.ID = uuid.NewString()
	i.CreatedAt = s.now()
	s.incomes[i.ID] = i
	return i, nil
}

func (s *Store) ListIncomes(ctx context.Context, userID string, page core.PageRequest) (core.Page[core.Income], error) {
	all, err := s.AllIncomes(ctx, userID)
	if err != nil {
		return core.Page[core.Income]{}, err
	}
	return core.Paginate(all, page), nil
}

func (s *Store) AllIncomes(_ context.Context, userID string) ([]core.Income, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Income
	for _, i := range s.incomes {
		if i.UserID == userID {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].Date.Equal(out[b].Date.Time) {
			return out[a].Date.After(out[b].Date.Time)
		}
		return out[a].ID > out[b].ID
	})
	return out, nil
}

func (s *Store) UpdateIncome(_ context.Context, userID, id string, p core.IncomePatch) (core.Income, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.incomes[id]
	if !ok || i.UserID != userID {
		return core.Income{}, core.ErrNotFound
	}
	updated := p.Apply(i)
	if err := updated.Validate(); err != nil {
		return core.Income{}, err
	}
	s.incomes[id] = updated
	return updated, nil
}

func (s *Store) DeleteIncome(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.incomes[id]
	if !ok || i.UserID != userID {
		return core.ErrNotFound
	}
	delete(s.incomes, id)
	return nil
}

func (s *Store) SaveProviderToken(_ context.Context, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[userID] = token
	return nil
}

func (s *Store) ProviderToken(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[userID]
	if !ok {
		return "", core.ErrNotFound
	}
	return tok, nil
}
