// Package api exposes the reputation ledger over HTTP/JSON.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ocx/agentrep/internal/ledger"
	"github.com/ocx/agentrep/internal/middleware"
	"github.com/ocx/agentrep/internal/reputation"
	"github.com/ocx/agentrep/internal/websocket"
)

// Server routes ledger requests to the program. Mutations on an agent's
// records must come from that agent: the X-Agent-Identity header has to
// name the owner or voucher. Decay and reads are open to anyone.
type Server struct {
	program  *reputation.Program
	audit    *ledger.Ledger
	stream   *websocket.EventStreamer
	limiter  *middleware.RateLimiter
	gatherer prometheus.Gatherer
	checks   map[string]func(context.Context) error
	logger   *slog.Logger
	started  time.Time
}

type Option func(*Server)

// WithAuditLog serves the audit root and inclusion proofs.
func WithAuditLog(l *ledger.Ledger) Option { return func(s *Server) { s.audit = l } }

// WithEventStream serves GET /v1/events.
func WithEventStream(es *websocket.EventStreamer) Option { return func(s *Server) { s.stream = es } }

func WithRateLimiter(rl *middleware.RateLimiter) Option { return func(s *Server) { s.limiter = rl } }

// WithMetrics serves /metrics from g.
func WithMetrics(g prometheus.Gatherer) Option { return func(s *Server) { s.gatherer = g } }

// WithHealthCheck adds a dependency check to /health. Any failing check
// turns the response into a 503.
func WithHealthCheck(name string, fn func(context.Context) error) Option {
	return func(s *Server) { s.checks[name] = fn }
}

func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

func NewServer(p *reputation.Program, opts ...Option) *Server {
	s := &Server{
		program: p,
		checks:  make(map[string]func(context.Context) error),
		logger:  slog.Default(),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "api")
	return s
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(corsMiddleware)
	r.Use(s.logMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
	if s.stream != nil {
		r.HandleFunc("/v1/events", s.stream.HandleWebSocket).Methods("GET")
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	if s.limiter != nil {
		v1.Use(s.limiter.Middleware)
	}

	v1.HandleFunc("/protocol", s.handleInitialize).Methods("POST")
	v1.HandleFunc("/protocol", s.handleGetConfig).Methods("GET")

	v1.HandleFunc("/agents", s.handleRegister).Methods("POST")
	v1.HandleFunc("/agents", s.handleListAgents).Methods("GET")
	v1.HandleFunc("/agents/{owner}", s.handleGetProfile).Methods("GET")
	v1.HandleFunc("/agents/{owner}/reputation", s.handleGetReputation).Methods("GET")
	v1.HandleFunc("/agents/{owner}/bonus", s.handleVouchBonus).Methods("GET")
	v1.HandleFunc("/agents/{owner}/tasks", s.handleCompleteTask).Methods("POST")
	v1.HandleFunc("/agents/{owner}/tasks/{taskId}", s.handleGetTask).Methods("GET")
	v1.HandleFunc("/agents/{owner}/decay", s.handleApplyDecay).Methods("POST")

	v1.HandleFunc("/vouches", s.handleVouch).Methods("POST")
	v1.HandleFunc("/vouches/{voucher}/{target}", s.handleGetVouch).Methods("GET")
	v1.HandleFunc("/vouches/{voucher}/{target}", s.handleWithdrawVouch).Methods("DELETE")

	if s.audit != nil {
		v1.HandleFunc("/audit/root", s.handleAuditRoot).Methods("GET")
		v1.HandleFunc("/audit/entries/{index}", s.handleAuditEntry).Methods("GET")
	}
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("[API] Listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("[API] Shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != http.ErrServerClosed {
		return err
	}
	return nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+middleware.IdentityHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The websocket upgrade needs the raw writer for hijacking.
		if r.URL.Path == "/v1/events" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("[API] Request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
