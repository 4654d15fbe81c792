package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"qrattend/internal/archive"
	"qrattend/internal/config"
	"qrattend/internal/mirror"
	"qrattend/internal/queue"
	"qrattend/internal/store"
)

// Worker drains the redis check-in queue into the archive database.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, envFile string
	flags := pflag.NewFlagSet("qrattend-worker", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "YAML config file (environment variables override it)")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	_ = godotenv.Load(envFile)

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for the worker")
	}
	if cfg.QueueBackend != "redis" {
		return errors.New("the worker needs QUEUE_BACKEND=redis; the memory backend archives inside the api process")
	}

	logger := cfg.NewLogger(os.Stderr).With("component", "worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db connect failed: %w", err)
	}
	defer db.Close()

	repo := archive.FromStore(db)
	if err := repo.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate archive: %w", err)
	}

	rdb := store.NewRedis(cfg.RedisAddr)
	defer rdb.Close()
	if !rdb.Healthy(ctx) {
		logger.Warn("redis not reachable yet, will keep polling", "addr", cfg.RedisAddr)
	}

	q := queue.NewRedisQueue(rdb.Client, queue.DefaultKey, logger)
	messages, err := q.Consume(ctx)
	if err != nil {
		return fmt.Errorf("queue consume init failed: %w", err)
	}

	logger.Info("worker started, waiting for check-ins", "driver", db.Driver, "queue", queue.DefaultKey)
	n := mirror.New(repo, logger).Run(ctx, messages)
	logger.Info("worker stopped", "archived", n)
	return nil
}
