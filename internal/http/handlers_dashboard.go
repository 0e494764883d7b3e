package http

import (
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"saldo/internal/cache"
	"saldo/internal/core"
	applog "saldo/internal/log"
)

// handleSummary serves the cached dashboard summary, recomputing it from a
// fresh snapshot of expenses and incomes on a miss.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request, userID string) {
	if sum, ok := s.summaries.Get(userID); ok {
		w.Header().Set("X-Cache", "HIT")
		writeJSON(w, http.StatusOK, sum)
		return
	}

	var (
		expenses []core.Expense
		incomes  []core.Income
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		expenses, err = s.store.AllExpenses(ctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		incomes, err = s.store.AllIncomes(ctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		writeError(w, r, err)
		return
	}

	sum := cache.NewDashboardSummary(expenses, incomes, time.Now().UTC())
	s.summaries.Set(userID, sum)
	w.Header().Set("X-Cache", "MISS")
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request, userID string) {
	if s.hub == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "realtime updates disabled", Code: "unavailable"})
		return
	}
	if err := s.hub.ServeWS(w, r, userID); err != nil {
		applog.FromContext(r.Context()).WarnContext(r.Context(), "WebSocket upgrade failed", "error", err)
	}
}
