package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"saldo/internal/cache"
	"saldo/internal/importer"
	applog "saldo/internal/log"
	"saldo/internal/metrics"
	"saldo/internal/middleware/ratelimit"
	"saldo/internal/middleware/security"
	"saldo/internal/middleware/trace"
	"saldo/internal/ports"
	"saldo/internal/realtime"
)

// HeaderUserID carries the caller's identity, set by the authenticating
// proxy in front of the service.
const HeaderUserID = "X-User-ID"

type Options struct {
	Logger             *applog.Logger
	RateLimitPerMinute int
	// Summaries is shared with the import notifier so a finished batch
	// drops the cached dashboard. Nil means a private cache.
	Summaries *cache.Summaries
	Hub       *realtime.Hub
}

type Server struct {
	http.Server
	store     ports.Store
	importer  *importer.Service
	hub       *realtime.Hub
	logger    *applog.Logger
	summaries *cache.Summaries
	caches    *cache.Manager
	limiter   *ratelimit.Limiter
	detector  *security.Detector
	started   time.Time

	shutdownOnce sync.Once
}

// NewServer wires routes and middleware, returning a ready-to-run server.
func NewServer(addr string, store ports.Store, imp *importer.Service, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	summaries := opts.Summaries
	if summaries == nil {
		summaries = cache.NewSummaries(1000, 2*time.Minute)
	}

	mux := http.NewServeMux()
	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		store:     store,
		importer:  imp,
		hub:       opts.Hub,
		logger:    logger.WithComponent(applog.ComponentHTTP),
		summaries: summaries,
		caches:    cache.NewManager(),
		limiter:   ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		detector:  security.NewDetector(),
		started:   time.Now(),
	}
	s.caches.Register(summaries)
	s.caches.StartCleanup(10 * time.Minute)

	s.routes(mux)

	var h http.Handler = mux
	h = s.limiter.Middleware(s.rateLimitKey, ratelimit.Mutating, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded", Code: "rate_limited"})
	})(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = s.detector.Middleware(s.logger.Slog())(h)
	h = trace.NewMiddleware(logger, s.detector.ClientIP).Middleware(h)
	s.Handler = h

	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.handle(mux, "PUT /provider/credentials", s.handleSaveCredentials)

	s.handle(mux, "POST /import/fetch", s.handleFetch)
	s.handle(mux, "GET /import/batch", s.handleBatch)
	s.handle(mux, "POST /import/review", s.handleStartReview)
	s.handle(mux, "GET /import/review", s.handleReviewStatus)
	s.handle(mux, "PATCH /import/review/current", s.handleEditCurrent)
	s.handle(mux, "POST /import/review/save", s.handleSaveCurrent)
	s.handle(mux, "POST /import/review/skip", s.handleSkipCurrent)
	s.handle(mux, "DELETE /import/review", s.handleCloseReview)

	s.handle(mux, "GET /expenses", s.handleListExpenses)
	s.handle(mux, "GET /expenses/{id}", s.handleGetExpense)
	s.handle(mux, "PATCH /expenses/{id}", s.handleUpdateExpense)
	s.handle(mux, "DELETE /expenses/{id}", s.handleDeleteExpense)
	s.handle(mux, "DELETE /expenses", s.handleDeleteAllExpenses)

	s.handle(mux, "GET /groups", s.handleListGroups)
	s.handle(mux, "POST /groups", s.handleCreateGroup)
	s.handle(mux, "PATCH /groups/{id}", s.handleUpdateGroup)
	s.handle(mux, "DELETE /groups/{id}", s.handleDeleteGroup)

	s.handle(mux, "GET /incomes", s.handleListIncomes)
	s.handle(mux, "POST /incomes", s.handleCreateIncome)
	s.handle(mux, "PATCH /incomes/{id}", s.handleUpdateIncome)
	s.handle(mux, "DELETE /incomes/{id}", s.handleDeleteIncome)

	s.handle(mux, "GET /dashboard/summary", s.handleSummary)
	s.handle(mux, "GET /ws", s.handleWebsocket)
}

// userHandler is a handler for an identified caller.
type userHandler func(w http.ResponseWriter, r *http.Request, userID string)

// handle registers h behind the identity check and records per-route metrics.
func (s *Server) handle(mux *http.ServeMux, pattern string, h userHandler) {
	method, route, _ := strings.Cut(pattern, " ")
	mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		if userID := userIDFrom(r); userID == "" {
			writeJSON(rec, http.StatusUnauthorized, errorBody{Error: "missing " + HeaderUserID, Code: "unauthenticated"})
		} else {
			h(rec, r, userID)
		}

		metrics.HTTPRequests.WithLabelValues(method, route, statusClass(rec.status)).Inc()
		metrics.HTTPDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}))
}

func userIDFrom(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(HeaderUserID))
}

func (s *Server) rateLimitKey(r *http.Request) string {
	if id := userIDFrom(r); id != "" {
		return "user:" + id
	}
	return "ip:" + s.detector.ClientIP(r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

// handleReady checks the store and reports cache and limiter state.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, code := "ready", http.StatusOK
	checks := map[string]any{
		"summary_cache_entries": s.summaries.Size(),
		"rate_limited_clients":  s.limiter.ActiveClients(),
	}
	if err := s.store.Ping(ctx); err != nil {
		checks["store"] = "failed: " + err.Error()
		status, code = "not_ready", http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}
	if s.hub != nil {
		checks["websocket_sessions"] = s.hub.Sessions()
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}

// Shutdown stops background routines and then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.caches.Stop()
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
		if s.hub != nil {
			err = errors.Join(err, s.hub.Close())
		}
	})
	return err
}
