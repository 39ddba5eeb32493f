// Package main provides the entry point for the portal gateway.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/multicloud-portal/portal/internal/api"
	"github.com/multicloud-portal/portal/internal/auth"
	"github.com/multicloud-portal/portal/internal/forms"
	"github.com/multicloud-portal/portal/internal/metrics"
	"github.com/multicloud-portal/portal/internal/relay"
	"github.com/multicloud-portal/portal/internal/schedule"
	"github.com/multicloud-portal/portal/internal/secrets"
	"github.com/multicloud-portal/portal/internal/shutdown"
	"github.com/multicloud-portal/portal/internal/store"
	"github.com/multicloud-portal/portal/internal/store/memory"
	pgstore "github.com/multicloud-portal/portal/internal/store/postgres"
	"github.com/multicloud-portal/portal/internal/submit"
	"github.com/multicloud-portal/portal/internal/tracing"
	"github.com/multicloud-portal/portal/internal/upstream"
	"github.com/multicloud-portal/portal/pkg/config"
	"github.com/multicloud-portal/portal/pkg/logger"
)

const sessionSweepInterval = time.Hour

func main() {
	log := logger.Default()

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log = logger.New(logger.ParseLevel(cfg.LogLevel), cfg.LogJSON)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log.Logger),
	)

	st, err := openStore(ctx, cfg, log.Logger)
	if err != nil {
		log.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	coord.Register(shutdown.NewCloserComponent("store", st))

	tracer, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		log.Warn("tracing disabled", "error", err)
	} else if tracer != nil {
		coord.Register(shutdown.NewServerComponent("tracing", tracer))
	}

	cipher, err := secrets.NewCipher(&secrets.Config{
		AgePublicKey:  cfg.Secrets.AgePublicKey,
		AgePrivateKey: cfg.Secrets.AgePrivateKey,
	}, log.Logger)
	if err != nil {
		log.Error("failed to initialize credential encryption", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	authService := auth.NewService(&auth.Config{
		JWTSecret:   []byte(cfg.JWTSecret),
		TokenExpiry: cfg.JWTExpiry,
	}, st.Sessions(), log.Logger)

	sweeper := schedule.Every(ctx, sessionSweepInterval, func(ctx context.Context) bool {
		n, err := st.Sessions().DeleteExpired(ctx)
		if err != nil {
			log.Warn("failed to remove expired sessions", "error", err)
		} else if n > 0 {
			log.Info("removed expired sessions", "count", n)
		}
		return true
	})
	coord.Register(shutdown.NewFuncComponent("session-sweeper", sweeper.Stop))

	autosavers := forms.NewAutosavers(st.Drafts(), cfg.Forms.AutosaveDelay, log.Logger)
	coord.Register(shutdown.NewFuncComponent("drafts", autosavers.FlushAll))

	hub := relay.NewHub(relay.Config{
		StatusInterval:  cfg.Relay.StatusInterval,
		MaxPollAttempts: cfg.Relay.MaxPollAttempts,
		NavigateDelay:   cfg.Relay.NavigateDelay,
	}, cfg.Relay.SubscriberBuffer, st, m, log.Logger)

	server := api.NewServer(cfg, api.Dependencies{
		Store:        st,
		Auth:         authService,
		Upstream:     upstream.NewClient(cfg.UpstreamURL, cfg.UpstreamTimeout),
		Lookups:      upstream.NewLookupCache(upstream.DefaultLookupTTL),
		Hub:          hub,
		Orchestrator: submit.New(st.Credentials(), cipher, m, log.Logger),
		Autosavers:   autosavers,
		Catalog:      forms.DefaultCatalog(),
		Metrics:      m,
	}, log.Logger)
	coord.Register(shutdown.NewServerComponent("http", server))
	// Live streams hold connections open; ending them first lets the server drain.
	coord.Register(shutdown.NewFuncComponent("relay-hub", hub.Close))

	go func() {
		if err := server.Start(context.Background()); err != nil {
			log.Error("server error", "error", err)
			cancel()
		}
	}()

	coord.WaitForSignal(ctx)
	if err := coord.Err(); err != nil {
		log.Warn("shutdown finished with errors", "error", err)
	}
	log.Info("gateway stopped")
	os.Exit(coord.ExitCode())
}

// openStore connects to PostgreSQL, or keeps everything in memory when
// DATABASE_URL is "memory".
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.DatabaseDSN == "memory" {
		logger.Warn("using in-memory store, sessions and drafts are lost on restart")
		return memory.New(), nil
	}
	return pgstore.NewPostgresStore(ctx, pgstore.DefaultConfig(cfg.DatabaseDSN), logger)
}
