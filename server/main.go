package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/meikuraledutech/checkpoint"
	"github.com/meikuraledutech/checkpoint/collector"
	"github.com/meikuraledutech/checkpoint/postgres"
	"github.com/meikuraledutech/checkpoint/redisstore"
)

type serverFlags struct {
	addr        string
	store       string
	databaseURL string
	redisURL    string
	token       string
	logLevel    string
	logFormat   string
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	f := &serverFlags{}
	cmd := &cobra.Command{
		Use:           "checkpoint-collector",
		Short:         "Collector that receives and stores execution checkpoints.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.addr, "addr", envOr("COLLECTOR_ADDR", ":3000"), "listen address")
	flags.StringVar(&f.store, "store", envOr("COLLECTOR_STORE", "memory"), "trace store: memory, postgres or redis")
	flags.StringVar(&f.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	flags.StringVar(&f.redisURL, "redis-url", os.Getenv("REDIS_URL"), "Redis connection URL")
	flags.StringVar(&f.token, "token", os.Getenv("COLLECTOR_TOKEN"), "bearer token required from writers")
	flags.StringVar(&f.logLevel, "log-level", envOr("COLLECTOR_LOG_LEVEL", "info"), "log level")
	flags.StringVar(&f.logFormat, "log-format", envOr("COLLECTOR_LOG_FORMAT", "console"), "log format: json or console")
	return cmd
}

func run(ctx context.Context, f *serverFlags) error {
	logger, err := checkpoint.NewLogger(f.logLevel, f.logFormat, os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, f)
	if err != nil {
		logger.Error().Err(err).Str("store", f.store).Msg("open store")
		return err
	}
	defer closeStore()

	// ── Schema ────────────────────────────────────────────────────────
	if err := store.CreateSchema(ctx); err != nil {
		logger.Error().Err(err).Msg("create schema")
		return err
	}

	app := collector.New(store, collector.Options{
		Token:     f.token,
		BodyLimit: 32 << 20,
		Logger:    logger,
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("shutdown")
		}
	}()

	logger.Info().Str("addr", f.addr).Str("store", f.store).Bool("auth", f.token != "").Msg("collector listening")
	return app.Listen(f.addr)
}

func openStore(ctx context.Context, f *serverFlags) (collector.Store, func(), error) {
	switch f.store {
	case "memory":
		return collector.NewMemoryStore(), func() {}, nil
	case "postgres":
		if f.databaseURL == "" {
			return nil, nil, fmt.Errorf("DATABASE_URL is not set")
		}
		pool, err := pgxpool.New(ctx, f.databaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect: %w", err)
		}
		return postgres.New(pool), pool.Close, nil
	case "redis":
		if f.redisURL == "" {
			return nil, nil, fmt.Errorf("REDIS_URL is not set")
		}
		store, err := redisstore.Open(ctx, f.redisURL)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", f.store)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
