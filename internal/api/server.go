// Package api exposes the kernel registry over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seantiz/kernelgate/internal/engine"
	"github.com/seantiz/kernelgate/internal/images"
	"github.com/seantiz/kernelgate/internal/kernel"
	"github.com/seantiz/kernelgate/internal/store"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
)

// Deps are the long-lived components the server routes requests to.
type Deps struct {
	Registry *engine.Registry
	Catalog  *kernel.Catalog
	Images   *images.Store
	Store    store.Store
}

// Server wraps the chi router and application dependencies.
type Server struct {
	router   *chi.Mux
	registry *engine.Registry
	catalog  *kernel.Catalog
	images   *images.Store
	store    store.Store
	logger   *slog.Logger
	addr     string
}

// NewServer creates and configures a new HTTP server. An empty origins
// list allows any origin.
func NewServer(addr string, deps Deps, origins []string, logger *slog.Logger) *Server {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	srv := &Server{
		router:   chi.NewRouter(),
		registry: deps.Registry,
		catalog:  deps.Catalog,
		images:   deps.Images,
		store:    deps.Store,
		logger:   logger,
		addr:     addr,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/robots.txt", s.handleRobots)
	s.router.Handle("/metrics", metricsHandler())
	s.router.Get(images.URLPath+"{name}", s.handleGetImage)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/kernelspecs", s.handleListKernelSpecs)
		r.Post("/kernels", s.handleCreateKernel)
		r.Get("/kernels", s.handleListKernels)
		r.Post("/run-cell", s.handleRunCell)
		r.Delete("/images", s.handleClearImages)
		r.Get("/executions", s.handleListExecutions)
		r.Get("/executions/{id}", s.handleGetExecution)
		r.Get("/stats", s.handleGetStats)
	})
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests
// and shuts down every kernel.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down", "reason", context.Cause(ctx).Error())
	case err := <-errCh:
		if err != nil {
			s.shutdownKernels()
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown: %w", err))
	}
	if err := s.shutdownKernels(); err != nil {
		errs = append(errs, err)
	}

	s.logger.Info("server stopped")
	return errors.Join(errs...)
}

func (s *Server) shutdownKernels() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.registry.ShutdownAll(ctx); err != nil {
		return fmt.Errorf("shutdown kernels: %w", err)
	}
	return nil
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
