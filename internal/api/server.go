// Package api provides the HTTP gateway in front of the deployment API.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/multicloud-portal/portal/internal/api/handlers"
	"github.com/multicloud-portal/portal/internal/api/health"
	"github.com/multicloud-portal/portal/internal/api/middleware"
	"github.com/multicloud-portal/portal/internal/auth"
	"github.com/multicloud-portal/portal/internal/forms"
	"github.com/multicloud-portal/portal/internal/metrics"
	"github.com/multicloud-portal/portal/internal/models"
	"github.com/multicloud-portal/portal/internal/relay"
	"github.com/multicloud-portal/portal/internal/secrets"
	"github.com/multicloud-portal/portal/internal/store"
	"github.com/multicloud-portal/portal/internal/submit"
	"github.com/multicloud-portal/portal/internal/tracing"
	"github.com/multicloud-portal/portal/internal/upstream"
	"github.com/multicloud-portal/portal/pkg/config"
)

// Version is the current version of the gateway.
// This should be set at build time using ldflags.
var Version = "dev"

// Dependencies are the services the gateway routes to.
type Dependencies struct {
	Store        store.Store
	Auth         *auth.Service
	Upstream     *upstream.Client
	Lookups      *upstream.LookupCache
	Hub          *relay.Hub
	Orchestrator *submit.Orchestrator
	Autosavers   *forms.Autosavers
	Cipher       *secrets.Cipher
	Catalog      *forms.Catalog
	Metrics      *metrics.Metrics
}

// Server represents the HTTP gateway server.
type Server struct {
	router        chi.Router
	httpServer    *http.Server
	deps          Dependencies
	config        *config.Config
	logger        *slog.Logger
	healthChecker *health.Checker
}

// NewServer creates a new gateway server with the given dependencies.
func NewServer(cfg *config.Config, deps Dependencies, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}

	s := &Server{
		deps:   deps,
		config: cfg,
		logger: logger,
	}

	s.healthChecker = health.NewChecker(Version).Critical("database", deps.Store)
	if deps.Upstream != nil {
		s.healthChecker.Optional("upstream", deps.Upstream)
	}

	s.setupRouter()
	return s
}

// setupRouter configures the router with middleware and routes.
func (s *Server) setupRouter() {
	r := chi.NewRouter()
	d := s.deps

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(tracing.Middleware(middleware.RoutePattern))
	r.Use(middleware.Metrics(d.Metrics))
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recovery(s.logger))

	gw := handlers.NewGateway(d.Upstream, d.Auth, s.logger)
	authHandler := handlers.NewAuthHandler(gw, d.Auth, s.logger)
	usersHandler := handlers.NewUsersHandler(gw, s.logger)
	templateHandler := handlers.NewTemplateHandler(gw, d.Store.Drafts(), d.Autosavers, d.Catalog, s.logger)
	settingsHandler := handlers.NewSettingsHandler(d.Store, d.Cipher, d.Autosavers, s.logger)
	paramSetHandler := handlers.NewParameterSetHandler(gw, s.logger)
	resourceHandler := handlers.NewResourceHandler(gw, d.Lookups, s.logger)
	deploymentHandler := handlers.NewDeploymentHandler(gw, d.Store, d.Orchestrator, d.Hub, d.Autosavers, s.logger)
	eventsHandler := handlers.NewEventsHandler(gw, d.Hub, s.logger)
	logHandler := handlers.NewLogHandler(d.Store.Logs(), d.Hub, s.logger)

	// Public endpoints
	r.Get("/health", s.healthChecker.Handler())
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(60 * time.Second))
		r.Post("/login", authHandler.Login)
		r.Post("/register", authHandler.Register)
	})

	authMiddleware := middleware.NewAuthMiddleware(d.Auth, s.logger)
	read := middleware.RequirePermission(models.PermRead)
	write := middleware.RequirePermission(models.PermWrite)
	deploy := middleware.RequirePermission(models.PermDeploy)
	del := middleware.RequirePermission(models.PermDelete)

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		// Long-lived relay streams run without the request timeout.
		r.With(read).Get("/deployments/{id}/events", eventsHandler.Stream)
		r.With(read).Get("/deployments/{id}/ws", eventsHandler.Socket)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(60 * time.Second))

			r.Post("/auth/logout", authHandler.Logout)
			r.Get("/auth/me", authHandler.Me)

			r.Route("/users", func(r chi.Router) {
				r.Use(middleware.RequirePermission(models.PermManageUsers))
				r.Get("/", usersHandler.List)
				r.Put("/{email}", usersHandler.Update)
				r.Delete("/{email}", usersHandler.Delete)
			})

			r.With(read).Get("/providers", templateHandler.Providers)
			r.Route("/templates", func(r chi.Router) {
				r.Use(read)
				r.Get("/", templateHandler.List)
				r.Route("/{providerType}/{name}", func(r chi.Router) {
					r.Get("/", templateHandler.Get)
					r.Get("/metadata", templateHandler.Metadata)
					r.Get("/form", templateHandler.Form)
					r.With(write).Post("/form/changes", templateHandler.ApplyChange)
					r.Post("/estimate-cost", templateHandler.EstimateCost)
				})
			})

			r.Route("/drafts/{name}", func(r chi.Router) {
				r.With(read).Get("/", settingsHandler.GetDraft)
				r.With(write).Put("/", settingsHandler.PutDraft)
				r.With(write).Delete("/", settingsHandler.DeleteDraft)
			})

			r.Route("/credentials", func(r chi.Router) {
				r.Use(write)
				r.Get("/", settingsHandler.ListCredentials)
				r.Put("/{cloud}", settingsHandler.PutCredential)
				r.Delete("/{cloud}", settingsHandler.DeleteCredential)
			})

			r.Route("/parameter-sets", func(r chi.Router) {
				r.With(read).Get("/", paramSetHandler.List)
				r.With(write).Post("/", paramSetHandler.Create)
				r.With(read).Get("/{id}", paramSetHandler.Get)
				r.With(write).Put("/{id}", paramSetHandler.Update)
				r.With(del).Delete("/{id}", paramSetHandler.Delete)
			})

			r.With(read).Get("/tags", deploymentHandler.Tags)
			r.Route("/deployments", func(r chi.Router) {
				r.With(read).Get("/", deploymentHandler.List)
				r.With(deploy).Post("/", deploymentHandler.Submit)
				r.Route("/{id}", func(r chi.Router) {
					r.With(read).Get("/", deploymentHandler.Get)
					r.With(read).Get("/status", deploymentHandler.Status)
					r.With(read).Get("/logs", logHandler.Get)
					r.With(write).Put("/tags", deploymentHandler.UpdateTags)
					r.With(del).Delete("/", deploymentHandler.Delete)
				})
			})

			r.Route("/resource-groups", func(r chi.Router) {
				r.With(read).Get("/", resourceHandler.ListGroups)
				r.With(deploy).Post("/", resourceHandler.CreateGroup)
				r.With(read).Get("/{name}/resources", resourceHandler.ListResources)
				r.With(del).Delete("/{name}", resourceHandler.DeleteGroup)
			})

			r.With(read).Get("/subscriptions", resourceHandler.Subscriptions)
			r.With(read).Get("/locations", resourceHandler.Locations)
		})
	})

	s.router = r
}

// Start starts the HTTP server.
func (s *Server) Start(ctx context.Context) error {
	addr := s.config.Addr()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting gateway", "addr", addr, "upstream", s.config.UpstreamURL, "version", Version)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("shutting down gateway")
	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Router returns the chi router for testing purposes.
func (s *Server) Router() chi.Router {
	return s.router
}

// Health returns the health checker.
func (s *Server) Health() *health.Checker {
	return s.healthChecker
}
