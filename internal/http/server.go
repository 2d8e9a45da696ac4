// Package http exposes the creator finance API over JSON.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"

	"creatorbank/internal/core"
	applog "creatorbank/internal/log"
	"creatorbank/internal/middleware/ratelimit"
	"creatorbank/internal/middleware/security"
	"creatorbank/internal/middleware/trace"
	"creatorbank/internal/services"
)

// EarningsReader is the aggregator surface the API uses.
type EarningsReader interface {
	Summarize(ctx context.Context, userID int64, asOf time.Time) (core.EarningsSummary, error)
	ListEarnings(ctx context.Context, userID int64, filter core.EarningFilter, page core.Page) ([]core.Earning, error)
	UpcomingPayouts(ctx context.Context, userID int64, now time.Time, windowDays int) ([]core.PayoutDay, error)
	Dashboard(ctx context.Context, userID int64, now time.Time) (core.Dashboard, error)
}

type TaxEngine interface {
	WithholdByID(ctx context.Context, earningID int64) (*core.LedgerTransaction, error)
	EstimateQuarter(ctx context.Context, userID int64, quarter, year int) (core.QuarterlyEstimate, error)
	YearToDate(ctx context.Context, userID int64) (core.YearToDate, error)
}

type Intake interface {
	RegisterUser(ctx context.Context, in services.NewUser) (core.User, error)
	ConnectPlatform(ctx context.Context, p core.ConnectedPlatform) (core.ConnectedPlatform, error)
	ConnectedPlatforms(ctx context.Context, userID int64) ([]core.ConnectedPlatform, error)
	DisconnectPlatform(ctx context.Context, userID, platformID int64) (core.ConnectedPlatform, error)
	Profile(ctx context.Context, userID int64) (core.User, error)
	RecordEarning(ctx context.Context, e core.Earning) (core.Earning, error)
	UpdateWithholdingRate(ctx context.Context, userID int64, rate decimal.Decimal) (core.User, error)
}

// Ledger is the direct store access for reads no service wraps.
type Ledger interface {
	GetUser(ctx context.Context, userID int64) (core.User, error)
	GetEarning(ctx context.Context, earningID int64) (core.Earning, error)
	ListTransactions(ctx context.Context, userID int64, page core.Page) ([]core.LedgerTransaction, error)
}

// Deps carries everything the server needs. Metrics, Observer and Ready are
// optional.
type Deps struct {
	Earnings         EarningsReader
	Tax              TaxEngine
	Intake           Intake
	Ledger           Ledger
	Logger           *applog.Logger
	Metrics          http.Handler
	Observer         trace.Observer
	Ready            func(ctx context.Context) error
	MaxPageSize      int
	PayoutWindowDays int
	WriteRateLimit   int
	CORSOrigins      []string // empty disables CORS handling
	Now              func() time.Time
}

type Server struct {
	http.Server
	deps    Deps
	limiter *ratelimit.Limiter

	shutdownOnce sync.Once
}

// NewServer configures routes and returns a ready-to-run server.
func NewServer(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = applog.New(applog.DefaultConfig()).WithComponent(applog.ComponentHTTP)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MaxPageSize <= 0 {
		deps.MaxPageSize = core.MaxPageLimit
	}

	s := &Server{
		deps:    deps,
		limiter: ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: deps.WriteRateLimit}),
	}
	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	clientIP := security.NewClientIP()
	tracer := trace.NewMiddleware(s.deps.Logger, clientIP.Extract, s.deps.Observer)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(tracer.Middleware)
	r.Use(applog.Middleware(s.deps.Logger))
	r.Use(applog.RequestIDMiddleware(func(r *http.Request) string { return trace.GetRequestID(r.Context()) }))
	r.Use(security.Headers(security.DefaultHeadersConfig()))
	if len(s.deps.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.deps.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
			MaxAge:         300,
		}))
	}
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", handleHealth)
	r.Get("/readyz", s.handleReady)
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics)
	}

	r.Route("/api/v1/users", func(r chi.Router) {
		r.Use(s.limiter.Middleware(clientIP.Extract, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
		}))

		r.Post("/", s.handleCreateUser)
		r.Route("/{userID}", func(r chi.Router) {
			r.Get("/", s.handleGetUser)
			r.Get("/platforms", s.handleListPlatforms)
			r.Post("/platforms", s.handleConnectPlatform)
			r.Delete("/platforms/{platformID}", s.handleDisconnectPlatform)
			r.Get("/earnings", s.handleListEarnings)
			r.Post("/earnings", s.handleRecordEarning)
			r.Get("/earnings/summary", s.handleSummary)
			r.Post("/earnings/{earningID}/withhold", s.handleWithhold)
			r.Get("/payouts/upcoming", s.handleUpcomingPayouts)
			r.Get("/dashboard", s.handleDashboard)
			r.Get("/transactions", s.handleTransactions)
			r.Get("/tax/quarterly", s.handleQuarterlyEstimate)
			r.Get("/tax/ytd", s.handleYearToDate)
			r.Put("/withholding-rate", s.handleUpdateWithholdingRate)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "route not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	})

	return r
}

// Shutdown gracefully shuts down the server and the limiter's cleanup loop.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", applog.ErrorAttrs(err)...)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
