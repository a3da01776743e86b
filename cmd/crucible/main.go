// Command crucible runs the task scheduling engine and its compute API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/crucibleproj/crucible/internal/api"
	"github.com/crucibleproj/crucible/internal/auth"
	"github.com/crucibleproj/crucible/internal/config"
	"github.com/crucibleproj/crucible/internal/events"
	"github.com/crucibleproj/crucible/internal/hub"
	"github.com/crucibleproj/crucible/internal/observability"
	"github.com/crucibleproj/crucible/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fatal", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.CrucibleConfig, logger *zap.Logger) error {
	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()
	logger.Info("store opened", zap.String("driver", cfg.Store.Driver))

	bus := events.NewBus()
	defer bus.Close()

	authenticator, err := auth.NewAuthenticator(
		[]byte(cfg.API.JWTSecret),
		time.Duration(cfg.API.JWTExpireSeconds)*time.Second)
	if err != nil {
		return fmt.Errorf("building authenticator: %w", err)
	}

	svc := hub.New(st, bus, logger.Named("hub"))
	server := api.NewServer(svc, authenticator, logger.Named("api"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, cfg.API.Addr)
	})
	g.Go(func() error {
		logEvents(gctx, bus, logger.Named("events"))
		return nil
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return store.NewSQLiteStore(ctx, cfg.Path)
	case "memory":
		return store.NewMemoryStore(ctx)
	case "neo4j":
		return store.NewNeo4jStore(ctx, cfg.URI, cfg.User, cfg.Password)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// logEvents mirrors the task lifecycle onto the log until ctx ends.
func logEvents(ctx context.Context, bus *events.Bus, logger *zap.Logger) {
	ch := bus.SubscribeAll(256)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			logger.Info(e.EventType(), zap.String("task", e.TaskKey()))
		}
	}
}
