package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/upstac/upstac/internal/config"
	"github.com/upstac/upstac/internal/domain/testrequest"
	"github.com/upstac/upstac/internal/platform/auth"
	"github.com/upstac/upstac/internal/platform/cache"
	"github.com/upstac/upstac/internal/platform/db"
	"github.com/upstac/upstac/internal/platform/middleware"
)

const (
	version     = "0.1.0"
	cachePrefix = "upstac"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "upstac-server",
		Short: "COVID-19 test request workflow API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run PostgreSQL database migrations",
	}

	withMigrator := func(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator, schema string) error) error {
		schema, _ := cmd.Flags().GetString("schema")
		dir, _ := cmd.Flags().GetString("dir")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.StoreDriver != config.StorePostgres {
			return fmt.Errorf("migrations apply to STORE_DRIVER=%s only; sqlite schemas are created on serve", config.StorePostgres)
		}

		ctx := context.Background()
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		defer pool.Close()

		return fn(ctx, db.NewMigrator(pool, dir), schema)
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				fmt.Printf("Running migrations on schema: %s\n", schema)
				count, err := m.Up(ctx, schema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				statuses, err := m.Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(os.Stdout, schema, statuses)
				return nil
			})
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().String("schema", db.DefaultSchema, "Target schema for migrations")
		c.Flags().String("dir", "./migrations", "Path to migrations directory")
		cmd.AddCommand(c)
	}
	return cmd
}

func printStatus(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

// tokenCmd mints a bearer token signed with AUTH_SIGNING_KEY, for local
// testing against a server running outside development mode.
func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, _ := cmd.Flags().GetString("sub")
			roles, _ := cmd.Flags().GetStringSlice("roles")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if cfg.AuthSigningKey == "" {
				return fmt.Errorf("AUTH_SIGNING_KEY is required to issue tokens")
			}

			token, err := issueToken(cfg, sub, roles, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().String("sub", "", "User id placed in the subject claim")
	cmd.Flags().StringSlice("roles", []string{auth.RoleUser}, "Roles granted to the user")
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}

func issueToken(cfg *config.Config, sub string, roles []string, ttl time.Duration, now time.Time) (string, error) {
	if sub == "" {
		return "", fmt.Errorf("subject is required")
	}
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    cfg.AuthIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles: roles,
	}
	if cfg.AuthAudience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.AuthAudience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.AuthSigningKey))
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// store bundles the persistence adapters selected by STORE_DRIVER.
type store struct {
	requests testrequest.Repository
	flows    testrequest.FlowRepository
	tx       testrequest.Transactor
	pinger   db.Pinger
	stats    func() any
	close    func()
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*store, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		return &store{
			requests: testrequest.NewTestRequestRepoPG(pool),
			flows:    testrequest.NewFlowRepoPG(pool),
			tx:       db.NewTransactor(pool),
			pinger:   pool,
			stats:    func() any { return db.GetPoolStats(pool) },
			close:    pool.Close,
		}, nil
	case config.StoreSQLite:
		gdb, err := db.OpenSQLite(cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		if err := testrequest.MigrateSQLite(gdb); err != nil {
			_ = db.CloseSQLite(gdb)
			return nil, fmt.Errorf("migrate sqlite schema: %w", err)
		}
		return &store{
			requests: testrequest.NewTestRequestRepoSQLite(gdb),
			flows:    testrequest.NewFlowRepoSQLite(gdb),
			tx:       db.NewGormTransactor(gdb),
			pinger:   db.SQLitePinger{DB: gdb},
			close:    func() { _ = db.CloseSQLite(gdb) },
		}, nil
	}
	return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
}

// newServer wires middleware, health checks and the workflow routes. rc may be nil.
func newServer(cfg *config.Config, logger zerolog.Logger, st *store, rc testrequest.Cache) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, auth.DevUserHeader, auth.DevRolesHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(st.pinger, cfg.StoreDriver, st.stats))

	var jwtMW echo.MiddlewareFunc
	if cfg.AuthSigningKey != "" {
		jwtMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
	}
	authMW := jwtMW
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware(jwtMW)
	}

	apiV1 := e.Group("/api/v1", authMW)

	requests := testrequest.NewRequestService(st.requests, st.flows, st.tx, logger)
	query := testrequest.NewQueryService(st.requests, st.flows, logger)
	lab := testrequest.NewLabService(st.requests, st.flows, st.tx, logger)
	consultations := testrequest.NewConsultationService(st.requests, st.flows, st.tx, logger)
	if rc != nil {
		query.SetCache(rc, cfg.CacheTTL)
		lab.SetCache(rc, cfg.CacheTTL)
		consultations.SetCache(rc, cfg.CacheTTL)
	}
	testrequest.NewHandler(requests, query, lab, consultations).RegisterRoutes(apiV1)

	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: requests without a bearer token run as the X-Dev-User identity")
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
	}
	defer st.close()
	logger.Info().Str("driver", cfg.StoreDriver).Msg("connected to store")

	var rc testrequest.Cache
	if cfg.CacheEnabled() {
		client, err := cache.New(cfg.CacheAddr, cachePrefix)
		if err != nil {
			logger.Warn().Err(err).Str("addr", cfg.CacheAddr).Msg("cache unavailable, serving reads from the store")
		} else {
			defer client.Close()
			rc = client
			logger.Info().Str("addr", cfg.CacheAddr).Dur("ttl", cfg.CacheTTL).Msg("read cache enabled")
		}
	}

	e := newServer(cfg, logger, st, rc)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
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
