// Package dispatcher implements the Request Dispatcher: the HTTP
// boundary that classifies, confines, executes, records, and — for
// escalated commands — routes through the approval broker.
package dispatcher

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/talos-sh/terminal-adapter/internal/approval"
	"github.com/talos-sh/terminal-adapter/internal/classifier"
	"github.com/talos-sh/terminal-adapter/internal/logging"
	"github.com/talos-sh/terminal-adapter/internal/ptyexec"
	"github.com/talos-sh/terminal-adapter/internal/session"
)

// MaxOutputBytes is the per-stream truncation bound applied at the
// response boundary.
const MaxOutputBytes = 100 * 1024

// Config configures a Server.
type Config struct {
	Port        int
	ProjectRoot string
	AgentID     string
	IsDev       bool
	EnableCORS  bool
}

// Server wires the Classifier, Session Manager, both executors, and the
// approval broker behind an HTTP API.
type Server struct {
	cfg        Config
	router     *chi.Mux
	httpSrv    *http.Server
	classifier atomic.Pointer[classifier.Classifier]
	sessions   *session.Manager
	pty        *ptyexec.Executor
	broker     approval.Broker
}

// New constructs a Server. broker may be nil, in which case a
// NoopBroker (deny-everything) is used.
func New(cfg Config, c *classifier.Classifier, sessions *session.Manager, pty *ptyexec.Executor, broker approval.Broker) *Server {
	if broker == nil {
		broker = approval.NoopBroker{}
	}

	s := &Server{
		cfg:      cfg,
		router:   chi.NewRouter(),
		sessions: sessions,
		pty:      pty,
		broker:   broker,
	}
	s.classifier.Store(c)

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// SetClassifier atomically swaps the classifier in use, e.g. after a
// manifest hot-reload.
func (s *Server) SetClassifier(c *classifier.Classifier) {
	s.classifier.Store(c)
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	if s.cfg.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID", "X-Escalation"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

// Router exposes the underlying chi router, chiefly for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start begins serving HTTP on the configured port and blocks until the
// server stops or fails. Use Shutdown from another goroutine to stop it
// gracefully.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.router,
	}

	logging.Info().Int("port", s.cfg.Port).Msg("dispatcher listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dispatcher: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
