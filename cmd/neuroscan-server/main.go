package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/neuroscan/neuroscan/internal/config"
	"github.com/neuroscan/neuroscan/internal/domain/credential"
	"github.com/neuroscan/neuroscan/internal/domain/patient"
	"github.com/neuroscan/neuroscan/internal/domain/prediction"
	"github.com/neuroscan/neuroscan/internal/platform/db"
	"github.com/neuroscan/neuroscan/internal/platform/events"
	"github.com/neuroscan/neuroscan/internal/platform/httpclient"
	"github.com/neuroscan/neuroscan/internal/platform/middleware"
)

const eventSource = "neuroscan-server"

func main() {
	rootCmd := &cobra.Command{
		Use:   "neuroscan-server",
		Short: "Clinical record and scan prediction server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			ctx := context.Background()

			migrator, closePool, err := openMigrator(ctx, dir)
			if err != nil {
				return err
			}
			defer closePool()

			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			ctx := context.Background()

			migrator, closePool, err := openMigrator(ctx, dir)
			if err != nil {
				return err
			}
			defer closePool()

			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func openMigrator(ctx context.Context, dir string) (*db.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, dir), pool.Close, nil
}

func printStatus(cmd *cobra.Command, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{
		DatabaseURL:      cfg.DatabaseURL,
		MaxConns:         cfg.DBMaxConns,
		MinConns:         cfg.DBMinConns,
		StatementTimeout: cfg.DBStatementTimeout,
	}
}

// newLogger builds the process logger: JSON on stdout, or the console
// writer in development, at the configured level.
func newLogger(dev bool, level string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if dev {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

// newAuthLimiter returns a Redis backed limiter when REDIS_URL is set and
// reachable, otherwise an in-process token bucket. The returned func
// releases the Redis client.
func newAuthLimiter(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (middleware.Limiter, func()) {
	rl := middleware.DefaultRateLimitConfig()
	if cfg.AuthRateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.AuthRateLimitRPS
	}
	if cfg.AuthRateLimitBurst > 0 {
		rl.BurstSize = cfg.AuthRateLimitBurst
	}
	memory := func() (middleware.Limiter, func()) {
		return middleware.NewMemoryLimiter(rl), func() {}
	}
	if cfg.RedisURL == "" {
		return memory()
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn().Err(err).Msg("invalid REDIS_URL, using in-memory rate limiter")
		return memory()
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis unreachable, using in-memory rate limiter")
		client.Close()
		return memory()
	}

	logger.Info().Str("addr", opts.Addr).Msg("connected to redis")
	return middleware.NewRedisLimiter(client, rl), func() { client.Close() }
}

// newPublisher returns a Kafka publisher when brokers are configured and a
// no-op publisher otherwise.
func newPublisher(cfg *config.Config, logger zerolog.Logger) (events.Publisher, func()) {
	if len(cfg.KafkaBrokers) == 0 {
		return events.Nop{}, func() {}
	}
	p := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, eventSource, logger)
	logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing events to kafka")
	return p, func() {
		if err := p.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to flush event publisher")
		}
	}
}

type serverDeps struct {
	credentials *credential.Handler
	patients    *patient.Handler
	predictions *prediction.Handler
	authLimiter middleware.Limiter
	dbHealth    echo.HandlerFunc
}

// newServer assembles the echo instance: global middleware, API routes and
// the static pages.
func newServer(cfg *config.Config, logger zerolog.Logger, d serverDeps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{echo.HeaderContentType, middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	d.credentials.RegisterRoutes(e, middleware.RateLimit(d.authLimiter, logger))
	d.patients.RegisterRoutes(e)
	d.predictions.RegisterRoutes(e)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if d.dbHealth != nil {
		e.GET("/health/db", d.dbHealth)
	}

	e.File("/", filepath.Join(cfg.StaticDir, "index.html"))
	e.Static("/", cfg.StaticDir)

	return e
}

func runServer() error {
	// JSON until the config says otherwise.
	logger := newLogger(false, os.Getenv("LOG_LEVEL"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger = newLogger(cfg.IsDev(), cfg.LogLevel)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	publisher, closePublisher := newPublisher(cfg, logger)
	defer closePublisher()

	limiter, closeLimiter := newAuthLimiter(ctx, cfg, logger)
	defer closeLimiter()

	relay, err := prediction.NewRelay(prediction.RelayConfig{
		Dir:      cfg.UploadDir,
		Endpoint: cfg.PredictURL,
		Client:   httpclient.New(cfg.PredictTimeout),
		Events:   publisher,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to prepare upload directory")
	}

	credentialSvc := credential.NewService(credential.NewRepo(pool), publisher, bcrypt.DefaultCost)
	patientSvc := patient.NewService(patient.NewRepo(pool), publisher)

	e := newServer(cfg, logger, serverDeps{
		credentials: credential.NewHandler(credentialSvc, logger),
		patients:    patient.NewHandler(patientSvc, logger),
		predictions: prediction.NewHandler(relay, logger),
		authLimiter: limiter,
		dbHealth:    db.HealthHandler(pool),
	})

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("predict_url", cfg.PredictURL).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
