package engine

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/notifhub/notifhub/internal/api"
	"github.com/notifhub/notifhub/internal/config"
	"github.com/notifhub/notifhub/internal/event"
	"github.com/notifhub/notifhub/internal/store"
	"github.com/notifhub/notifhub/internal/subscription"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Engine wires the store, subscription registry, event manager and API
// together and owns their lifecycle.
type Engine struct {
	config   *config.Config
	store    *store.RedisStore
	registry *subscription.Registry
	events   *event.Manager
	api      *api.API
	logger   zerolog.Logger
}

// New connects to the backing store and builds all components.
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	logger := log.With().Str("component", "engine").Logger()

	st, err := store.Connect(ctx, store.Config{
		URL:            cfg.Redis.URL,
		RetryAttempts:  cfg.Redis.RetryAttempts,
		RetryInterval:  time.Duration(cfg.Redis.RetryInterval) * time.Second,
		ConnectTimeout: time.Duration(cfg.Redis.ConnectTimeout) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: connect store: %w", err)
	}

	registry := subscription.NewRegistry(st)
	events := event.NewManager(st, registry)

	a := api.New(api.Config{
		Addr:             cfg.Server.Addr,
		ReadTimeout:      time.Duration(cfg.Server.ReadTimeout) * time.Second,
		IdleTimeout:      time.Duration(cfg.Server.IdleTimeout) * time.Second,
		SessionQueueSize: cfg.Notifier.SessionQueueSize,
	}, st, registry, events)

	return &Engine{
		config:   cfg,
		store:    st,
		registry: registry,
		events:   events,
		api:      a,
		logger:   logger,
	}, nil
}

// Run starts the API server and blocks until a shutdown signal or a
// fatal server error, then tears everything down in order: sessions,
// server, change feeds, store.
func (e *Engine) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.api.Start(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := e.api.Shutdown(shutdownCtx); err != nil {
			e.logger.Error().Err(err).Msg("API shutdown error")
		}
		e.registry.Close()
		if err := e.store.Close(); err != nil {
			e.logger.Error().Err(err).Msg("Store close error")
		}
		return nil
	})

	e.logger.Info().Str("addr", e.config.Server.Addr).Msg("Engine running")
	return g.Wait()
}
