package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hackgods/hospital-appointment-booking/internal/api"
	"github.com/hackgods/hospital-appointment-booking/internal/appointment"
	"github.com/hackgods/hospital-appointment-booking/internal/auth"
	"github.com/hackgods/hospital-appointment-booking/internal/config"
	"github.com/hackgods/hospital-appointment-booking/internal/db"
	"github.com/hackgods/hospital-appointment-booking/internal/metrics"
	redisclient "github.com/hackgods/hospital-appointment-booking/internal/redis"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:          "api-server",
		Short:        "Hospital appointment booking API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).
			With().Timestamp().Str("service", "api-server").Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", "api-server").Logger()
}

func serveCmd() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config load: %w", err)
			}
			return runServer(cmd.Context(), cfg, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending migrations before serving")
	return cmd
}

func runServer(ctx context.Context, cfg config.Config, migrate bool) error {
	logger := newLogger(cfg)
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("clinic_tz", cfg.Location().String()).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.DBMaxConns)
	cancelPg()
	if err != nil {
		return fmt.Errorf("postgres connection: %w", err)
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	if migrate {
		if err := db.MigrateUp(rootCtx, pgPool); err != nil {
			return err
		}
		logger.Info().Msg("migrations applied")
	}

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		return fmt.Errorf("redis connection: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

	m := metrics.New()
	opts := []appointment.Option{
		appointment.WithLogger(logger.With().Str("component", "appointment").Logger()),
		appointment.WithObserver(m),
	}
	if cfg.BookingWindow {
		opts = append(opts, appointment.WithBookingWindow())
	}
	svc := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL),
		cfg,
		opts...,
	)

	var limiter *api.IPRateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = api.NewIPRateLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	handler := api.NewRouter(api.RouterConfig{
		Service: svc,
		Auth:    auth.NewVerifier([]byte(cfg.JWTSecret)),
		Metrics: m,
		Logger:  logger,
		Dependencies: []api.Dependency{
			{Name: "postgres", Ping: pgPool.Ping, Critical: true},
			{Name: "redis", Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
		},
		Env:         cfg.Env,
		Version:     version,
		RateLimiter: limiter,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if limiter != nil {
		g.Go(func() error {
			limiter.Run(logger.WithContext(gctx), time.Minute, cfg.RateLimitIdle)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down api-server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("api-server stopped with error")
		return err
	}
	logger.Info().Msg("api-server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), func(ctx context.Context, pool *pgxpool.Pool) error {
				if err := db.MigrateUp(ctx, pool); err != nil {
					return err
				}
				fmt.Println("Migrations applied successfully.")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(cmd.Context(), db.MigrationStatus)
		},
	})

	return cmd
}

func withPool(ctx context.Context, fn func(context.Context, *pgxpool.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(connectCtx, cfg.PostgresDSN, cfg.DBMaxConns)
	cancel()
	if err != nil {
		return fmt.Errorf("postgres connection: %w", err)
	}
	defer pool.Close()

	return fn(ctx, pool)
}
