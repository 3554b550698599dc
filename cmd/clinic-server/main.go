package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinicrecords/api/internal/config"
	"github.com/clinicrecords/api/internal/domain/identity"
	"github.com/clinicrecords/api/internal/domain/records"
	"github.com/clinicrecords/api/internal/platform/auth"
	"github.com/clinicrecords/api/internal/platform/db"
	"github.com/clinicrecords/api/internal/platform/middleware"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinic-server",
		Short: "Clinic records API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(rolesCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the clinic records API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// withPool loads the config, opens a pool and passes both to fn.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func migrationsDir(cmd *cobra.Command, cfg *config.Config) string {
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		return dir
	}
	return cfg.MigrationsDir
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				count, err := db.NewMigrator(pool, migrationsDir(cmd, cfg)).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool, migrationsDir(cmd, cfg)).Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}

				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Println("---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					status := "pending"
					appliedAt := ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func rolesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Manage roles",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Create the Doctor and Patient roles if they are missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				revoked := auth.NewMemoryRevocationStore()
				defer revoked.Close()
				svc := newIdentityService(pool, auth.NewTokenIssuer(nil, cfg.SessionTTL), revoked)
				roles, err := svc.SeedRoles(ctx)
				if err != nil {
					return err
				}
				for _, r := range roles {
					fmt.Printf("%s\t%s\n", r.ID, r.Name)
				}
				return nil
			})
		},
	})
	return cmd
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// resolveSigningKey returns SESSION_SIGNING_KEY, or a random 32-byte key
// when it is unset. The second return value is true for a random key.
func resolveSigningKey(value string) ([]byte, bool, error) {
	if value != "" {
		return []byte(value), false, nil
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("generate session signing key: %w", err)
	}
	return key, true, nil
}

// newRevocationStore uses redis when url is set so that logouts are shared
// between replicas. The returned func releases the store.
func newRevocationStore(ctx context.Context, url string) (auth.RevocationStore, func(), error) {
	if url == "" {
		store := auth.NewMemoryRevocationStore()
		return store, store.Close, nil
	}
	client, err := auth.NewRedisClient(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	return auth.NewRedisRevocationStore(client), func() { _ = client.Close() }, nil
}

func newIdentityService(pool *pgxpool.Pool, tokens *auth.TokenIssuer, revoked auth.RevocationStore) *identity.Service {
	users := identity.NewUserRepo(pool)
	access := identity.NewAccessRules(users, identity.NewRoleRepo(pool), identity.NewDoctorRepo(pool))
	return identity.NewService(users, access, tokens, revoked, db.NewTxRunner(pool))
}

// app holds everything newServer mounts.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	identity *identity.Service
	records  *records.Service
	metrics  *middleware.Metrics
	db       db.Pinger
}

func newServer(a app) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderAuthorization, echo.HeaderContentType, middleware.RequestIDHeader},
	}))
	e.Use(a.metrics.Middleware())
	e.Use(echomw.BodyLimit("1M"))
	e.Use(middleware.RequestTimeout(a.cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(a.db))
	e.GET("/metrics", a.metrics.Handler())

	apiV1 := e.Group("/api/v1", auth.SessionMiddleware(a.identity, auth.AuthSkipper))
	identity.NewHandler(a.identity).RegisterRoutes(apiV1)
	records.NewHandler(a.records).RegisterRoutes(apiV1)

	return e
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Sessions
	key, generated, err := resolveSigningKey(cfg.SessionSigningKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve session signing key")
	}
	if generated {
		logger.Warn().Msg("SESSION_SIGNING_KEY not set; using a random key, sessions will not survive restart")
	}
	revoked, closeRevoked, err := newRevocationStore(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer closeRevoked()
	if cfg.RedisURL != "" {
		logger.Info().Msg("session revocation backed by redis")
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := middleware.NewMetrics(reg)

	// Services
	identitySvc := newIdentityService(pool, auth.NewTokenIssuer(key, cfg.SessionTTL), revoked)
	identitySvc.ObserveLogins(metrics)
	recordsSvc := records.NewService(records.NewPatientRepo(pool), records.NewVisitRepo(pool), identitySvc,
		db.NewTxRunner(pool), records.Options{
			DeletePolicy: records.DeletePolicy(cfg.PatientDeletePolicy),
			Location:     loc,
		})

	e := newServer(app{
		cfg:      cfg,
		logger:   logger,
		identity: identitySvc,
		records:  recordsSvc,
		metrics:  metrics,
		db:       pool,
	})

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("delete_policy", cfg.PatientDeletePolicy).Msg("starting server")
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
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
