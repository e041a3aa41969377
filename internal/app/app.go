package app

import (
	"context"
	"fmt"

	httpx "github.com/lullabyte/lullabyte-backend/internal/http"
	"github.com/lullabyte/lullabyte-backend/internal/observability"
	"github.com/lullabyte/lullabyte-backend/internal/platform/envutil"
	"github.com/lullabyte/lullabyte-backend/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	Cfg      Config
	Clients  Clients
	Services Services
	Server   *httpx.Server

	cancel       context.CancelFunc
	otelShutdown func(context.Context) error
}

func New() (*App, error) {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg := LoadConfig()
	log.Info("Configuration loaded",
		"env", cfg.Environment,
		"session_store", cfg.SessionStoreMode,
		"media_store", cfg.MediaStoreMode,
		"fake_generation", cfg.FakeGeneration,
	)

	otelShutdown := observability.Init(context.Background(), log, observability.Config{
		ServiceName: "lullabyte",
		Environment: cfg.Environment,
		Version:     envutil.String("APP_VERSION", "dev"),
	})

	clients, err := wireClients(log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}
	svc, err := wireServices(log, cfg, clients)
	if err != nil {
		log.Sync()
		return nil, err
	}
	handlers := wireHandlers(log, clients, svc)

	server := httpx.NewServer(httpx.RouterConfig{
		Log:            log,
		StoryHandler:   handlers.Story,
		MediaHandler:   handlers.Media,
		HealthHandler:  handlers.Health,
		TracingEnabled: observability.Enabled(),
	})

	return &App{
		Log:          log,
		Cfg:          cfg,
		Clients:      clients,
		Services:     svc,
		Server:       server,
		otelShutdown: otelShutdown,
	}, nil
}

// Run starts the worker pool and serves HTTP until the listener fails.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.Services.Pool.Start(ctx)

	addr := ":" + a.Cfg.Port
	a.Log.Info("Starting HTTP server", "addr", addr)
	return a.Server.Run(addr)
}

func (a *App) Shutdown(ctx context.Context) {
	if a.cancel != nil {
		a.cancel()
	}
	a.Services.Pool.Wait()
	if a.otelShutdown != nil {
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("OTel shutdown failed", "error", err)
		}
	}
	a.Log.Sync()
}
