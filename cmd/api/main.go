package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skip2/go-qrcode"
	"github.com/spf13/pflag"

	"qrattend/internal/archive"
	"qrattend/internal/attendance"
	"qrattend/internal/cloudinary"
	"qrattend/internal/codes"
	"qrattend/internal/config"
	"qrattend/internal/export"
	"qrattend/internal/handler"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/live"
	"qrattend/internal/metrics"
	"qrattend/internal/mirror"
	"qrattend/internal/queue"
	"qrattend/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, envFile, port string
	flags := pflag.NewFlagSet("qrattend-api", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "YAML config file (environment variables override it)")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	flags.StringVar(&port, "port", "", "HTTP port (overrides HTTP_PORT)")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	// a missing .env is normal outside local development
	_ = godotenv.Load(envFile)

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}
	if port != "" {
		cfg.HTTPPort = port
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, logger)
}

func serve(ctx context.Context, cfg config.App, logger *slog.Logger) error {
	m := metrics.New(prometheus.DefaultRegisterer)

	registry := codes.New(
		codes.WithWindow(cfg.CodeValidity),
		codes.WithLength(cfg.CodeLength),
		codes.WithEncoder(codes.QREncoder{Size: cfg.QRSize, Level: qrcode.Medium}),
	)
	svc := attendance.NewService(registry, attendance.NewLedger(),
		attendance.WithLogger(logger),
		attendance.WithObserver(m),
	)

	hub := live.NewHub(logger.With("component", "live"))
	go hub.Run(ctx)

	health := map[string]handler.HealthCheck{}

	// Archive database (optional)
	var archiveRepo *archive.Repository
	if cfg.DatabaseURL != "" {
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Warn("archive database not reachable, archiving disabled", "error", err)
		} else {
			defer db.Close()
			archiveRepo = archive.FromStore(db)
			if err := archiveRepo.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate archive: %w", err)
			}
			health["db"] = db.Healthy
			logger.Info("archive enabled", "driver", db.Driver)
		}
	}

	// Check-in queue: redis hands records to cmd/worker, memory keeps the
	// mirror inside this process.
	var q queue.Queue
	switch cfg.QueueBackend {
	case "redis":
		rdb := store.NewRedis(cfg.RedisAddr)
		defer rdb.Close()
		q = queue.NewRedisQueue(rdb.Client, queue.DefaultKey, logger)
		health["redis"] = rdb.Healthy
	default:
		if archiveRepo != nil {
			mem := queue.NewInMemory(256)
			msgs, err := mem.Consume(ctx)
			if err != nil {
				return fmt.Errorf("queue consume init failed: %w", err)
			}
			go mirror.New(archiveRepo, logger.With("component", "mirror")).Run(ctx, msgs)
			q = mem
		}
	}
	var publisher *mirror.Publisher
	if q != nil {
		publisher = &mirror.Publisher{Queue: q, Log: logger}
	}

	// Cloudinary client (nil when not configured)
	var uploader export.Uploader
	if cfg.CloudinaryEnabled() {
		uploader = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		logger.Info("cloudinary configured", "cloud", cfg.CloudinaryCloudName)
	}

	if cfg.ExportCron != "" {
		job := &export.Job{
			Source:     svc,
			Dir:        cfg.ExportDir,
			RosterPath: cfg.RosterPath,
			IDHeaders:  cfg.RosterIDHeaders,
			Uploader:   uploader,
			Recorder:   m,
			Log:        logger.With("component", "export"),
		}
		c, err := job.Schedule(cfg.ExportCron)
		if err != nil {
			return err
		}
		defer c.Stop()
		logger.Info("scheduled export started", "schedule", cfg.ExportCron, "dir", cfg.ExportDir)
	}

	h := handler.New(svc, handler.Options{
		Hub:       hub,
		Publisher: publisher,
		Archive:   listerOrNil(archiveRepo),
		Exports:   m,
		IDHeaders: cfg.RosterIDHeaders,
		Health:    health,
		Log:       logger,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(httpmiddleware.CORS(cfg.CORSOrigins))
	r.Use(httpmiddleware.SecurityHeaders())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limited := r.Group("/", httpmiddleware.NewIPRateLimiter(cfg.RateLimitPerMin).GinMiddleware("/healthz"))
	h.Register(limited)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.HTTPPort, "tls", cfg.TLSEnabled(), "code_validity", cfg.CodeValidity)
		var err error
		if cfg.TLSEnabled() {
			err = srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	logger.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", "error", err)
	}
	logger.Info("server exited")
	return nil
}

// listerOrNil keeps a nil repository from becoming a non-nil interface.
func listerOrNil(r *archive.Repository) handler.ArchiveLister {
	if r == nil {
		return nil
	}
	return r
}
