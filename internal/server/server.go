// Package server exposes the quiz answer endpoint, health and metrics on a
// local HTTP listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/abhisek/notebrief/internal/dispatcher"
	"github.com/abhisek/notebrief/internal/jobs"
	"github.com/abhisek/notebrief/internal/metrics"
	"github.com/abhisek/notebrief/internal/quiz"
	"github.com/abhisek/notebrief/internal/state"
)

// maxBodyBytes bounds a submission body.
const maxBodyBytes = 64 << 10

// corsMaxAge is how long browsers may cache a preflight, in seconds.
const corsMaxAge = 300

// Scorer scores answers and lists open quizzes.
type Scorer interface {
	Submit(ctx context.Context, sub quiz.Submission) (jobs.ScoreResult, error)
	Pending(ctx context.Context) ([]state.PendingQuiz, error)
}

// StatusReporter describes the dispatcher for /healthz.
type StatusReporter interface {
	Snapshot() dispatcher.Status
}

// Config configures the listener.
type Config struct {
	Addr            string
	RateLimit       int // requests per window and client IP; 0 disables
	RateLimitWindow time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	Logger          zerolog.Logger
}

// Server is the HTTP front of the scoring service.
type Server struct {
	cfg      Config
	scorer   Scorer
	status   StatusReporter
	validate *validator.Validate
	router   chi.Router
	started  time.Time
}

// New builds the router. status may be nil.
func New(cfg Config, scorer Scorer, status StatusReporter) *Server {
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 90 * time.Second
	}
	s := &Server{
		cfg:      cfg,
		scorer:   scorer,
		status:   status,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		started:  time.Now(),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)
	// Briefings opened from disk post answers with Origin: null.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         corsMaxAge,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/quiz", func(r chi.Router) {
		if s.cfg.RateLimit > 0 {
			r.Use(httprate.LimitByIP(s.cfg.RateLimit, s.cfg.RateLimitWindow))
		}
		r.Get("/pending", s.handlePending)
		r.Post("/submit", s.handleSubmit)
	})
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// String names the service in the supervisor tree.
func (s *Server) String() string { return "http-server" }

// Serve listens on cfg.Addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on an existing listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.cfg.Logger.Info().Str("addr", ln.Addr().String()).Msg("answer endpoint listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		s.cfg.Logger.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
