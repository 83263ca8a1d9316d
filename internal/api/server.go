package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/loanbridge/lendmatch/internal/catalog"
	"github.com/loanbridge/lendmatch/internal/domain"
	"github.com/loanbridge/lendmatch/internal/engine"
)

// defaultRateLimitPerMin is the per-tenant request budget. Scoring is cheap
// but catalog reloads are not, so the budget covers the whole API surface.
const defaultRateLimitPerMin = 600

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, cat *catalog.Service, eng *engine.Engine, engineCfg domain.EngineConfig, version string) *Server {
	handler := NewHandler(repo, cache, bus, cat, eng, engineCfg, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// API routes (tenant required)
	router.Route("/", func(r chi.Router) {
		r.Use(TenantMiddleware)
		r.Use(RateLimitMiddleware(cache, defaultRateLimitPerMin))

		// Scoring
		r.Post("/score", handler.Score)

		// Run history
		r.Get("/runs/{id}", handler.GetRun)
		r.Get("/cases/{caseID}/runs", handler.ListRuns)

		// Borrower profiles
		r.Put("/borrowers/{caseID}", handler.UpsertBorrower)
		r.Get("/borrowers/{caseID}", handler.GetBorrower)

		// Lender catalog management
		r.Get("/lenders", handler.ListLenders)
		r.Post("/lenders", handler.CreateLender)
		r.Get("/lenders/{id}", handler.GetLender)
		r.Put("/lenders/{id}/pincodes", handler.ReplacePincodes)
		r.Post("/lenders/reload", handler.ReloadCatalog)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
