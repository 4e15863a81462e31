package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"VaultKeeper-Claude/internal/llm"
	"VaultKeeper-Claude/internal/observability/metrics"
	"VaultKeeper-Claude/internal/task"
	"VaultKeeper-Claude/pkg/logger"
)

const (
	serviceName    = "VaultKeeper Claude Integration"
	serviceVersion = "1.0.0"

	defaultProbeTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	maxBodyBytes           = 1 << 20
)

// Dispatcher processes tasks on behalf of the routes.
type Dispatcher interface {
	Process(ctx context.Context, t task.Task) task.Envelope
	ProcessBatch(ctx context.Context, tasks []task.Task) task.BatchEnvelope
}

// Server exposes the agent routes over HTTP.
type Server struct {
	addr       string
	dispatcher Dispatcher

	prober           llm.Prober
	apiKeyConfigured bool
	probeTimeout     time.Duration

	metrics *metrics.Metrics
	logger  *slog.Logger
	audit   *slog.Logger

	now     func() time.Time
	started time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithProber sets the upstream health probe.
func WithProber(p llm.Prober, apiKeyConfigured bool) Option {
	return func(s *Server) {
		s.prober = p
		s.apiKeyConfigured = apiKeyConfigured
	}
}

// WithProbeTimeout bounds the health probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.probeTimeout = d
		}
	}
}

// WithMetrics enables request metrics and the /metrics route.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAuditLogger sets the access log destination.
func WithAuditLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.audit = l
		}
	}
}

// WithClock overrides the time source used for response timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// NewServer builds a Server listening on addr.
func NewServer(addr string, d Dispatcher, opts ...Option) *Server {
	s := &Server{
		addr:         addr,
		dispatcher:   d,
		probeTimeout: defaultProbeTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = logger.Named("api")
	}
	if s.audit == nil {
		s.audit = logger.Audit()
	}
	s.started = s.now()
	return s
}

// Handler returns the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(s.accessLog)
	r.Use(s.recoverer)

	r.NotFound(s.handleNotFound)
	r.MethodNotAllowed(s.handleMethodNotAllowed)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Post("/claude/monique/delegate", s.handleAgent(task.MoniqueProfile))
	r.Post("/claude/coordinator/handoff", s.handleAgent(task.CoordinatorProfile))
	r.Post("/claude/patent/collaborate", s.handleAgent(task.PatentProfile))
	r.Post("/claude/cfo/consult", s.handleAgent(task.CFOProfile))
	r.Post("/claude/batch/process", s.handleBatch)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("http server listening", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("http server shutdown", slog.Any("error", err))
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
