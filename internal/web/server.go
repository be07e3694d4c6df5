package web

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/locmaster/internal/store"
	"github.com/locmaster/internal/web/handlers"
	"github.com/locmaster/internal/web/middleware"
)

// Server represents the web server
type Server struct {
	config     *Config
	store      store.Store
	audit      handlers.AuditTrail
	registry   *prometheus.Registry
	httpServer *http.Server
	router     *mux.Router
	handler    http.Handler
}

// NewServer creates a new web server over st. audit may be nil.
func NewServer(config *Config, st store.Store, audit handlers.AuditTrail) *Server {
	server := &Server{
		config:   config,
		store:    st,
		audit:    audit,
		registry: prometheus.NewRegistry(),
	}
	server.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port),
		Handler:      server.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.handler
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	var writer store.Writer
	if s.config.Features.MergeApplyEnabled {
		writer = s.store
	}

	locations := handlers.NewLocationsHandler(s.store, writer)
	locations.Audit = s.audit
	locations.Metrics = handlers.NewMetrics(s.registry)
	locations.Debug = s.config.Debug

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/parse", locations.Parse).Methods("POST")
	api.HandleFunc("/match", locations.Match).Methods("POST")
	api.HandleFunc("/duplicates", locations.Duplicates).Methods("GET")
	api.HandleFunc("/duplicates/{group}/plan", locations.Plan).Methods("POST")
	api.HandleFunc("/audit/{subject}", locations.History).Methods("GET")

	// Modification endpoints (if enabled)
	if s.config.Features.MergeApplyEnabled {
		api.HandleFunc("/duplicates/{group}/merge", locations.Merge).Methods("POST")
	}

	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods("GET")

	// wrapped outside the router so preflight and 405 responses pass through too
	s.handler = middleware.CORS()(middleware.RequestLogging(s.config.Features.RequestLogging)(s.router))
}

// Start serves until ctx is cancelled or SIGINT/SIGTERM arrives, then shuts
// down gracefully
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("Starting server on http://%s\n", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	fmt.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	fmt.Println("Server stopped")
	return nil
}
