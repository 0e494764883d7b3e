// Package importer reconciles provider expenses into the local ledger:
// project raw records, flag the ones already imported, and walk the user
// through a one-by-one review that persists what they keep.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"saldo/internal/core"
	"saldo/internal/events"
	"saldo/internal/metrics"
	"saldo/internal/provider"
)

var ErrEmptyToken = errors.New("provider token is empty")

// Store is what the importer needs from persistence.
type Store interface {
	ExpenseSaver
	KnownExternalIDs(ctx context.Context, userID string) (map[string]struct{}, error)
	SaveProviderToken(ctx context.Context, userID, token string) error
	ProviderToken(ctx context.Context, userID string) (string, error)
}

// Service owns one review session per user.
type Service struct {
	store    Store
	client   provider.Client
	notifier events.Notifier
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewService(store Store, client provider.Client, notifier events.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		client:   client,
		notifier: notifier,
		logger:   logger.With("component", "importer"),
		sessions: make(map[string]*Session),
	}
}

// Session returns the user's session, creating an idle one on first use.
func (s *Service) Session(userID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		sess = NewSession(userID, s.store, s.notifier)
		s.sessions[userID] = sess
	}
	return sess
}

func (s *Service) SaveCredentials(ctx context.Context, userID, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}
	if err := s.store.SaveProviderToken(ctx, userID, token); err != nil {
		return fmt.Errorf("save provider token: %w", err)
	}

	sess := s.Session(userID)
	sess.mu.Lock()
	if sess.state == StateAwaitingCredentials {
		sess.state = StateIdle
	}
	sess.mu.Unlock()

	s.logger.InfoContext(ctx, "Provider credentials saved", "user_id", userID)
	return nil
}

// Fetch pulls the user's provider expenses in the window and loads them as
// a new batch. Provider failures leave the current session untouched.
func (s *Service) Fetch(ctx context.Context, userID string, window provider.DateWindow) (Batch, error) {
	sess := s.Session(userID)
	if sess.Status().State == StateReviewing {
		return Batch{}, ErrReviewInProgress
	}

	token, err := s.store.ProviderToken(ctx, userID)
	if errors.Is(err, core.ErrNotFound) || (err == nil && token == "") {
		metrics.ImportFetches.WithLabelValues("missing_credentials").Inc()
		if err := sess.AwaitCredentials(); err != nil {
			return Batch{}, err
		}
		return Batch{}, ErrMissingCredentials
	}
	if err != nil {
		return Batch{}, fmt.Errorf("load provider token: %w", err)
	}

	fetchCtx, done := sess.track(ctx)
	defer done()

	start := time.Now()
	records, err := s.client.FetchExpenses(fetchCtx, provider.Credentials{Token: token}, window)
	if err != nil {
		switch {
		case errors.Is(err, provider.ErrAuthenticationFailed):
			metrics.ImportFetches.WithLabelValues("auth_failed").Inc()
		case errors.Is(err, context.Canceled):
			metrics.ImportFetches.WithLabelValues("canceled").Inc()
		default:
			metrics.ImportFetches.WithLabelValues("unavailable").Inc()
		}
		s.logger.WarnContext(ctx, "Provider fetch failed", "user_id", userID, "error", err)
		return Batch{}, err
	}

	proj := ProjectBatch(records)
	known, err := s.store.KnownExternalIDs(ctx, userID)
	if err != nil {
		metrics.ImportFetches.WithLabelValues("error").Inc()
		return Batch{}, fmt.Errorf("load known external ids: %w", err)
	}

	batch := Batch{
		ID:           uuid.NewString(),
		FetchedAt:    time.Now().UTC(),
		Candidates:   Partition(proj.Candidates, known),
		Dropped:      proj.Dropped,
		Ignored:      proj.Ignored,
		IgnoredCount: proj.IgnoredCount,
	}
	if err := sess.loadLive(fetchCtx, batch); err != nil {
		if errors.Is(err, context.Canceled) {
			metrics.ImportFetches.WithLabelValues("canceled").Inc()
		}
		return Batch{}, err
	}

	metrics.ImportFetches.WithLabelValues("ok").Inc()
	metrics.ImportRecords.WithLabelValues("candidate").Add(float64(len(batch.Candidates)))
	metrics.ImportRecords.WithLabelValues("dropped").Add(float64(len(batch.Dropped)))
	metrics.ImportRecords.WithLabelValues("ignored").Add(float64(batch.IgnoredCount))

	s.logger.InfoContext(ctx, "Provider batch fetched",
		"user_id", userID,
		"batch_id", batch.ID,
		"records", len(records),
		"candidates", len(batch.Candidates),
		"new", batch.NewCount(),
		"dropped", len(batch.Dropped),
		"ignored", batch.IgnoredCount,
		"duration", time.Since(start))
	return batch, nil
}

func (s *Service) Start(ctx context.Context, userID string, positions []int) (Status, error) {
	st, err := s.Session(userID).Start(positions)
	if err == nil {
		s.logger.InfoContext(ctx, "Review started", "user_id", userID, "batch_id", st.BatchID, "total", st.Total)
	}
	return st, err
}

func (s *Service) Current(userID string) (Item, error) {
	return s.Session(userID).Current()
}

func (s *Service) Edit(userID string, p CandidatePatch) (Item, error) {
	return s.Session(userID).Edit(p)
}

func (s *Service) Save(ctx context.Context, userID string, at int) (SaveResult, error) {
	return s.Session(userID).Save(ctx, at)
}

func (s *Service) Skip(ctx context.Context, userID string, at int) (Status, error) {
	return s.Session(userID).Skip(ctx, at)
}

func (s *Service) Status(userID string) Status {
	return s.Session(userID).Status()
}

func (s *Service) Batch(userID string) (Batch, error) {
	return s.Session(userID).Batch()
}

// Close discards the user's session. Saved expenses are kept.
func (s *Service) Close(ctx context.Context, userID string) {
	s.Session(userID).Close()
	s.logger.InfoContext(ctx, "Review session closed", "user_id", userID)
}
