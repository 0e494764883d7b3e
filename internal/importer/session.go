package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"saldo/internal/core"
	"saldo/internal/events"
	"saldo/internal/metrics"
)

type State int

const (
	StateIdle State = iota
	StateAwaitingCredentials
	StateFetchedBatch
	StateReviewing
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingCredentials:
		return "awaiting_credentials"
	case StateFetchedBatch:
		return "fetched_batch"
	case StateReviewing:
		return "reviewing"
	case StateComplete:
		return "complete"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for st := StateIdle; st <= StateComplete; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown review state %q", b)
}

// CurrentIndex can be passed to Save and Skip to act on whatever item is current.
const CurrentIndex = -1

var (
	ErrNoBatch            = errors.New("no fetched batch to review")
	ErrEmptySelection     = errors.New("select at least one candidate to review")
	ErrUnknownCandidate   = errors.New("unknown candidate position")
	ErrAlreadyImported    = errors.New("candidate already imported")
	ErrReviewInProgress   = errors.New("a review is already in progress")
	ErrNotReviewing       = errors.New("no review in progress")
	ErrStaleIndex         = errors.New("review has moved past this item")
	ErrPersistenceFailed  = errors.New("failed to save expense")
	ErrMissingCredentials = errors.New("provider credentials not configured")
)

// ExpenseSaver is the slice of the store a review session writes through.
type ExpenseSaver interface {
	HasExternalID(ctx context.Context, userID, externalID string) (bool, error)
	CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error)
	GetGroup(ctx context.Context, userID, id string) (core.Group, error)
}

// Batch is the labelled result of one provider fetch.
type Batch struct {
	ID           string                 `json:"id"`
	FetchedAt    time.Time              `json:"fetched_at"`
	Candidates   []core.ImportCandidate `json:"candidates"`
	Dropped      []Rejected             `json:"dropped"`
	Ignored      []Rejected             `json:"ignored"`
	IgnoredCount int                    `json:"ignored_count"`
}

// NewCount is the number of candidates not imported before.
func (b Batch) NewCount() int {
	return len(NewPositions(b.Candidates))
}

type Status struct {
	State   State  `json:"state"`
	BatchID string `json:"batch_id,omitempty"`
	Index   int    `json:"index"`
	Total   int    `json:"total"`
	Saved   int    `json:"saved"`
	Skipped int    `json:"skipped"`
}

// Item is the candidate currently under review.
type Item struct {
	Candidate core.ImportCandidate `json:"candidate"`
	Position  int                  `json:"position"` // position in the batch
	Index     int                  `json:"index"`
	Total     int                  `json:"total"`
}

type SaveResult struct {
	Expense core.Expense `json:"expense"`
	Status  Status       `json:"status"`
}

// CandidatePatch edits the current candidate. The external id is not editable.
// An empty Category or GroupID clears the field.
type CandidatePatch struct {
	Description *string           `json:"description"`
	OwedShare   *decimal.Decimal  `json:"owed_share"`
	Currency    *string           `json:"currency"`
	Date        *core.Date        `json:"date"`
	Category    *string           `json:"category"`
	GroupID     *string           `json:"group_id"`
	ExpenseType *core.ExpenseType `json:"expense_type"`
}

type queued struct {
	position  int
	candidate core.ImportCandidate
}

// Session is one user's review state machine:
//
//	Idle -> FetchedBatch -> Reviewing(0..N-1) -> Complete
//
// Review only moves forward. Save and Skip advance; a failed save stays put.
type Session struct {
	mu       sync.Mutex
	userID   string
	store    ExpenseSaver
	notifier events.Notifier
	now      func() time.Time

	state    State
	batch    Batch
	queue    []queued
	index    int
	savedIDs []string
	skipped  int
	notified bool

	// inflight cancels the running fetch or save when the session is closed.
	inflightMu sync.Mutex
	inflight   map[int]context.CancelFunc
	nextOp     int
}

func NewSession(userID string, store ExpenseSaver, notifier events.Notifier) *Session {
	if notifier == nil {
		notifier = events.Nop
	}
	return &Session{
		userID:   userID,
		store:    store,
		notifier: notifier,
		now:      time.Now,
		inflight: make(map[int]context.CancelFunc),
	}
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() Status {
	return Status{
		State:   s.state,
		BatchID: s.batch.ID,
		Index:   s.index,
		Total:   len(s.queue),
		Saved:   len(s.savedIDs),
		Skipped: s.skipped,
	}
}

// Batch returns the batch being reviewed, if any.
func (s *Session) Batch() (Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batch.ID == "" {
		return Batch{}, ErrNoBatch
	}
	return s.batch, nil
}

// AwaitCredentials records that a fetch needs credentials first.
func (s *Session) AwaitCredentials() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateReviewing {
		return ErrReviewInProgress
	}
	s.reset()
	s.state = StateAwaitingCredentials
	return nil
}

// Load replaces any previous batch. It is rejected while a review is running.
func (s *Session) Load(b Batch) error {
	return s.loadLive(context.Background(), b)
}

// loadLive is Load for a tracked fetch. A Close that cancelled ctx wins:
// the batch is dropped and ctx's error returned.
func (s *Session) loadLive(ctx context.Context, b Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.state == StateReviewing {
		return ErrReviewInProgress
	}
	s.reset()
	s.batch = b
	s.state = StateFetchedBatch
	return nil
}

// Start begins reviewing the selected batch positions, in batch order.
func (s *Session) Start(positions []int) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateFetchedBatch:
	case StateReviewing:
		return s.statusLocked(), ErrReviewInProgress
	default:
		return s.statusLocked(), ErrNoBatch
	}
	if len(positions) == 0 {
		return s.statusLocked(), ErrEmptySelection
	}

	sorted := append([]int(nil), positions...)
	sort.Ints(sorted)
	queue := make([]queued, 0, len(sorted))
	for i, pos := range sorted {
		if pos < 0 || pos >= len(s.batch.Candidates) {
			return s.statusLocked(), fmt.Errorf("%w: %d", ErrUnknownCandidate, pos)
		}
		if i > 0 && sorted[i-1] == pos {
			continue
		}
		cand := s.batch.Candidates[pos]
		if cand.AlreadyImported {
			return s.statusLocked(), fmt.Errorf("%w: %s", ErrAlreadyImported, cand.ExternalID)
		}
		queue = append(queue, queued{position: pos, candidate: cand})
	}

	s.queue = queue
	s.index = 0
	s.state = StateReviewing
	return s.statusLocked(), nil
}

func (s *Session) Current() (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReviewing {
		return Item{}, ErrNotReviewing
	}
	return s.itemLocked(), nil
}

func (s *Session) itemLocked() Item {
	q := s.queue[s.index]
	return Item{Candidate: q.candidate, Position: q.position, Index: s.index, Total: len(s.queue)}
}

// Edit applies the patch to the current candidate. On error nothing changes.
func (s *Session) Edit(p CandidatePatch) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReviewing {
		return Item{}, ErrNotReviewing
	}

	c := s.queue[s.index].candidate
	if p.Description != nil {
		desc := strings.TrimSpace(*p.Description)
		if desc == "" {
			return s.itemLocked(), core.ErrEmptyDescription
		}
		c.Description = desc
	}
	if p.OwedShare != nil {
		if p.OwedShare.IsNegative() {
			return s.itemLocked(), fmt.Errorf("%w: %s is negative", core.ErrInvalidAmount, p.OwedShare)
		}
		c.OwedShare = decimal.NewNullDecimal(*p.OwedShare)
	}
	if p.Currency != nil {
		cur := core.NormalizeCurrency(*p.Currency)
		if !core.ValidCurrency(cur) {
			return s.itemLocked(), fmt.Errorf("%w: %q", core.ErrInvalidCurrency, *p.Currency)
		}
		c.Currency = cur
	}
	if p.Date != nil {
		if err := p.Date.Validate(); err != nil {
			return s.itemLocked(), err
		}
		c.Date = *p.Date
	}
	if p.Category != nil {
		c.Category = nonEmpty(*p.Category)
	}
	if p.GroupID != nil {
		c.GroupID = nonEmpty(*p.GroupID)
	}
	if p.ExpenseType != nil {
		if !p.ExpenseType.Valid() {
			return s.itemLocked(), fmt.Errorf("%w: %q", core.ErrInvalidExpenseType, *p.ExpenseType)
		}
		c.ExpenseType = *p.ExpenseType
	}

	s.queue[s.index].candidate = c
	return s.itemLocked(), nil
}

// Save persists the current candidate and advances. at must be the index
// the caller is looking at, or CurrentIndex.
func (s *Session) Save(ctx context.Context, at int) (SaveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIndexLocked(at); err != nil {
		return SaveResult{Status: s.statusLocked()}, err
	}

	ctx, done := s.track(ctx)
	defer done()

	saved, err := s.persistLocked(ctx, s.queue[s.index].candidate)
	if err != nil {
		metrics.ReviewActions.WithLabelValues("save_failed").Inc()
		slog.WarnContext(ctx, "Import save failed, staying on item",
			"component", "importer",
			"user_id", s.userID,
			"index", s.index,
			"error", err)
		return SaveResult{Status: s.statusLocked()}, err
	}

	metrics.ReviewActions.WithLabelValues("saved").Inc()
	s.savedIDs = append(s.savedIDs, saved.ID)
	return SaveResult{Expense: saved, Status: s.advanceLocked(ctx)}, nil
}

// Skip discards the current candidate and advances.
func (s *Session) Skip(ctx context.Context, at int) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkIndexLocked(at); err != nil {
		return s.statusLocked(), err
	}
	metrics.ReviewActions.WithLabelValues("skipped").Inc()
	s.skipped++
	return s.advanceLocked(ctx), nil
}

// Close cancels any running fetch or save and discards the session.
// Expenses already saved stay saved.
func (s *Session) Close() {
	s.cancelInflight()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *Session) reset() {
	s.state = StateIdle
	s.batch = Batch{}
	s.queue = nil
	s.index = 0
	s.savedIDs = nil
	s.skipped = 0
	s.notified = false
}

func (s *Session) checkIndexLocked(at int) error {
	if s.state != StateReviewing {
		return ErrNotReviewing
	}
	if at != CurrentIndex && at != s.index {
		return fmt.Errorf("%w: at %d, current %d", ErrStaleIndex, at, s.index)
	}
	return nil
}

func (s *Session) persistLocked(ctx context.Context, c core.ImportCandidate) (core.Expense, error) {
	exp := core.Expense{
		UserID:       s.userID,
		Description:  c.Description,
		Amount:       c.Liability(),
		Currency:     core.NormalizeCurrency(c.Currency),
		Date:         c.Date,
		Category:     c.Category,
		GroupID:      c.GroupID,
		ExpenseType:  c.ExpenseType,
		ExternalID:   c.ExternalID,
		OwedShare:    c.OwedShare,
		TotalExpense: c.TotalExpense,
	}
	if err := exp.Validate(); err != nil {
		return core.Expense{}, err
	}

	if c.GroupID != nil {
		g, err := s.store.GetGroup(ctx, s.userID, *c.GroupID)
		if err != nil {
			return core.Expense{}, fmt.Errorf("resolve group %s: %w", *c.GroupID, err)
		}
		exp.GroupName = &g.Name
	}

	if c.ExternalID != "" {
		exists, err := s.store.HasExternalID(ctx, s.userID, c.ExternalID)
		if err != nil {
			return core.Expense{}, fmt.Errorf("%w: check external id: %w", ErrPersistenceFailed, err)
		}
		if exists {
			return core.Expense{}, fmt.Errorf("%w: %w", ErrPersistenceFailed, core.ErrDuplicateExternalID)
		}
	}

	saved, err := s.store.CreateExpense(ctx, exp)
	if err != nil {
		return core.Expense{}, fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}
	return saved, nil
}

func (s *Session) advanceLocked(ctx context.Context) Status {
	s.index++
	if s.index < len(s.queue) {
		return s.statusLocked()
	}

	s.state = StateComplete
	if !s.notified {
		s.notified = true
		metrics.BatchesCompleted.Inc()
		ev := events.BatchImported{
			UserID:      s.userID,
			BatchID:     s.batch.ID,
			Total:       len(s.queue),
			Saved:       len(s.savedIDs),
			Skipped:     s.skipped,
			ExpenseIDs:  append([]string(nil), s.savedIDs...),
			CompletedAt: s.now().UTC(),
		}
		if err := s.notifier.Notify(context.WithoutCancel(ctx), ev); err != nil {
			slog.WarnContext(ctx, "Batch imported notification failed",
				"component", "importer",
				"user_id", s.userID,
				"batch_id", s.batch.ID,
				"error", err)
		}
	}
	return s.statusLocked()
}

// track derives a context that Close can cancel.
func (s *Session) track(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	s.inflightMu.Lock()
	id := s.nextOp
	s.nextOp++
	s.inflight[id] = cancel
	s.inflightMu.Unlock()

	return ctx, func() {
		s.inflightMu.Lock()
		delete(s.inflight, id)
		s.inflightMu.Unlock()
		cancel()
	}
}

func (s *Session) cancelInflight() {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	for _, cancel := range s.inflight {
		cancel()
	}
}

func nonEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
