// Package httpapi exposes the Task Scheduler over HTTP for callers that
// are not the CLI itself: submit a batch, poll its progress, or cancel
// it mid-flight. Routing and middleware follow the teacher's
// internal/api.Server (chi + rs/cors), narrowed to the three endpoints
// this subsystem owns.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/theerud/taskcore/internal/control"
	"github.com/theerud/taskcore/internal/core"
	"github.com/theerud/taskcore/internal/logging"
	"github.com/theerud/taskcore/internal/scheduler"
)

// Server is the HTTP control plane fronting one Scheduler.
type Server struct {
	router         chi.Router
	scheduler      *scheduler.Scheduler
	logger         *logging.Logger
	allowedOrigins []string

	mu      sync.RWMutex
	batches map[string]*batchRecord
}

// batchRecord tracks one submitted batch's lifecycle so GET/cancel can
// act on it after the POST that created it has returned.
type batchRecord struct {
	id          string
	status      string // "running", "completed"
	result      *core.BatchResult
	token       *control.Token
	submittedAt time.Time
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithLogger overrides the server's logger (default: a no-op logger).
func WithLogger(logger *logging.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithAllowedOrigins restricts CORS to a specific origin list instead of
// the open-by-default "*".
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.allowedOrigins = origins
		}
	}
}

// NewServer builds a Server fronting sched. Call Router or
// ListenAndServe to start serving.
func NewServer(sched *scheduler.Scheduler, opts ...Option) *Server {
	s := &Server{
		scheduler: sched,
		logger:    logging.NewNop(),
		batches:   make(map[string]*batchRecord),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRouter()
	return s
}

// Router returns the underlying chi router, e.g. for tests using
// httptest.NewServer.
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.corsOrigins(),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	r.Get("/health", s.handleHealth)

	r.Route("/v1/batches", func(r chi.Router) {
		r.Post("/", s.handleCreateBatch)
		r.Route("/{batchID}", func(r chi.Router) {
			r.Get("/", s.handleGetBatch)
			r.Post("/cancel", s.handleCancelBatch)
		})
	})

	return r
}

func (s *Server) corsOrigins() []string {
	if len(s.allowedOrigins) > 0 {
		return s.allowedOrigins
	}
	return []string{"*"}
}

// ListenAndServe starts the HTTP server and shuts it down gracefully
// when ctx is cancelled, mirroring the teacher's api.Server.ListenAndServe.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting taskcore control API", "addr", addr)
	return srv.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func newBatchID() string {
	return uuid.NewString()
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
