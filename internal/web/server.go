// Package web serves the HTTP invocation surface: phase entry points for
// external schedulers and a small task API over the ledger.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/hugo-lorenzo-mato/docforge/internal/config"
	"github.com/hugo-lorenzo-mato/docforge/internal/core"
	"github.com/hugo-lorenzo-mato/docforge/internal/service/pipeline"
)

// Pipeline is the subset of the phase pipeline the server drives.
type Pipeline interface {
	Invoke(ctx context.Context, phase core.Phase) (pipeline.Report, error)
	Cancel(ctx context.Context, id core.TaskID) (*core.Task, error)
	Retry(ctx context.Context, id core.TaskID) (*core.Task, error)
}

// Server represents the docforge HTTP server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	config     Config
	logger     *slog.Logger
	pipeline   Pipeline
	ledger     core.TaskLedger
}

// Config holds the server configuration.
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	EnableCORS      bool
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            8080,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    6 * time.Minute,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		CORSOrigins:     []string{"http://localhost:5173"},
		EnableCORS:      true,
	}
}

// writeMargin is added to the execution budget so a phase invocation can
// finish its slice and commit before the response deadline.
const writeMargin = time.Minute

// ConfigFrom builds a server configuration from the application settings.
// The write timeout covers one full phase invocation.
func ConfigFrom(sc config.ServerConfig, pc config.PipelineConfig, lockTimeout time.Duration) Config {
	cfg := DefaultConfig()
	if sc.Host != "" {
		cfg.Host = sc.Host
	}
	if sc.Port != 0 {
		cfg.Port = sc.Port
	}
	cfg.EnableCORS = sc.EnableCORS
	if len(sc.CORSOrigins) > 0 {
		cfg.CORSOrigins = sc.CORSOrigins
	}
	if pc.ExecutionBudget > 0 {
		cfg.WriteTimeout = pc.ExecutionBudget + lockTimeout + writeMargin
	}
	return cfg
}

// New creates a new Server instance with the given configuration.
func New(cfg Config, p Pipeline, ledger core.TaskLedger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:   cfg,
		logger:   logger,
		pipeline: p,
		ledger:   ledger,
	}

	s.router = s.setupRouter()
	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		Handler:           s.router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	return s
}

// setupRouter configures the Chi router with middleware and routes.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	if s.config.EnableCORS {
		corsMiddleware := cors.New(cors.Options{
			AllowedOrigins:   s.config.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		})
		r.Use(corsMiddleware.Handler)
	}

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleAPIRoot)
		r.Post("/phases/{phase}/invoke", s.handleInvoke)

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)
			r.Get("/{id}", s.handleGetTask)
			r.Post("/{id}/cancel", s.handleCancelTask)
			r.Post("/{id}/retry", s.handleRetryTask)
		})
	})

	return r
}

// loggingMiddleware logs HTTP requests using structured logging.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("remote_addr", r.RemoteAddr),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// Serve listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}
	s.logger.Info("starting http server", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.WithoutCancel(ctx))
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("http server stopped")
	return nil
}

// Router returns the underlying chi router.
func (s *Server) Router() chi.Router {
	return s.router
}

// Addr returns the server address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}
