package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"PeopleChat/internal/backend"
	"PeopleChat/internal/cache"
	"PeopleChat/internal/chatbot"
	"PeopleChat/internal/config"
	"PeopleChat/internal/server"
	"PeopleChat/internal/store"
	"PeopleChat/internal/telemetry"
)

const cacheMaxAge = 30 * 24 * time.Hour

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, config.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, logCloser, err := telemetry.InitLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logCloser.Close()

	tracer, meter, shutdown, err := telemetry.InitTelemetry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer shutdown()

	db, err := store.Open(cfg.DB.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	raw, err := backend.New(ctx, cfg, logger, meter)
	if err != nil {
		return fmt.Errorf("failed to create %s backend: %w", cfg.Provider, err)
	}
	if c, ok := raw.(io.Closer); ok {
		defer c.Close()
	}

	adapter, err := wrapAdapter(ctx, cfg, raw, db, logger, tracer, meter)
	if err != nil {
		return err
	}

	// audio and model listing go straight to the provider
	speaker, _ := raw.(backend.Speaker)
	transcriber, _ := raw.(backend.Transcriber)
	models, _ := raw.(backend.ModelLister)

	logger.Info("starting peoplechat",
		"provider", cfg.Provider,
		"model", cfg.Model,
		"assistant_id", cfg.AssistantID,
		"server", cfg.Server.Listen != "",
	)

	if cfg.Server.Listen != "" {
		srv := server.New(cfg, server.Deps{
			Adapter:     adapter,
			Speaker:     speaker,
			Transcriber: transcriber,
			Logger:      logger,
		})
		return srv.ListenAndServe(ctx)
	}

	bot, err := chatbot.NewChatBot(ctx, cfg, chatbot.Deps{
		Adapter:     adapter,
		Speaker:     speaker,
		Transcriber: transcriber,
		Models:      models,
		Store:       db,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize chatbot: %w", err)
	}
	return bot.Run(ctx)
}

// wrapAdapter layers retries, the response cache and instrumentation over
// the provider adapter. Instrumentation is outermost so cache hits are
// measured too.
func wrapAdapter(ctx context.Context, cfg *config.Config, raw backend.Adapter, db *store.SQLiteStore,
	logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) (backend.Adapter, error) {
	adapter := raw

	if cfg.Retry.Enabled {
		retry := backend.DefaultRetryConfig()
		retry.MaxElapsedTime = cfg.Retry.MaxElapsed
		adapter = backend.WithRetry(adapter, cfg.Provider, retry, logger)
	}

	if cfg.Cache.Enabled {
		var responses cache.Store = cache.NewMemoryStore()
		if cfg.Cache.Persist {
			gdb, err := cache.OpenGorm(db.DB())
			if err != nil {
				return nil, err
			}
			gs, err := cache.NewGormStore(gdb)
			if err != nil {
				return nil, err
			}
			if n, err := gs.Purge(ctx, cacheMaxAge); err != nil {
				logger.Warn("failed to purge response cache", "error", err)
			} else if n > 0 {
				logger.Debug("purged stale cached responses", "count", n)
			}
			responses = gs
		}
		adapter = cache.Wrap(adapter, responses, logger)
	}

	return backend.Instrument(adapter, cfg.Provider, tracer, meter)
}
