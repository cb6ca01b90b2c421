package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meridian-crm/meridian/internal/admin"
	"github.com/meridian-crm/meridian/internal/audit"
	"github.com/meridian-crm/meridian/internal/auth"
	"github.com/meridian-crm/meridian/internal/customers"
	"github.com/meridian-crm/meridian/internal/impersonation"
	"github.com/meridian-crm/meridian/internal/platform/config"
	"github.com/meridian-crm/meridian/internal/platform/database"
	"github.com/meridian-crm/meridian/internal/platform/server"
	"github.com/meridian-crm/meridian/internal/platform/telemetry"
	"github.com/meridian-crm/meridian/internal/rbac"
	"github.com/meridian-crm/meridian/internal/tenant"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const devSigningKey = "meridian-dev-signing-key-not-for-production"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := telemetry.NewLogger(cfg.Log.Level, cfg.Log.Format)
	telemetry.SetDefault(logger)

	slog.Info("meridian starting", "port", cfg.Server.Port)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Database is optional: without one every store runs in process.
	var pool *database.Pool
	if cfg.Database.URL != "" {
		slog.Info("connecting to database")
		p, err := database.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			slog.Warn("database connection failed, starting with in-memory stores", "error", err)
		} else {
			pool = p
			defer pool.Close()

			migrationsURL := fmt.Sprintf("file://%s", cfg.Database.MigrationsPath)
			if err := database.RunMigrations(cfg.Database.URL, migrationsURL); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}
			slog.Info("migrations complete")
		}
	}

	signingKey, err := jwtSigningKey(cfg.Auth)
	if err != nil {
		return err
	}
	tokenSvc := auth.NewTokenService(signingKey, cfg.Auth.JWT.Issuer, cfg.Auth.JWT.ExpiryHours)

	auditLogger := buildAuditLogger(pool, cfg.Audit)
	defer auditLogger.Close()

	st := buildStores(pool, impersonationDefaults(cfg.Impersonation))

	// Roles and permission evaluation. The evaluator resolves roles through
	// the service, and the service invalidates the evaluator's cache.
	roleService := tenant.NewRoleService(st.roles, nil, auditLogger)
	cache, closeCache, err := buildPermissionCache(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer closeCache()
	rbacEngine := rbac.NewEvaluator(roleService, rbac.WithCache(cache))
	roleService.SetInvalidator(rbacEngine)

	registry := telemetry.NewRegistry()
	limiter := impersonation.NewLimiter(st.sessions, st.configs,
		impersonation.WithMetrics(impersonation.NewMetrics(registry)),
		impersonation.WithAuditLogger(auditLogger),
		impersonation.WithDirectory(st.users),
	)
	if !cfg.Impersonation.Enabled {
		slog.Warn("impersonation rate limiting disabled by the default policy")
	}

	var tenantHandler *tenant.Handler
	var auditHandler *audit.Handler
	if pool != nil {
		tenantHandler = tenant.NewHandler(st.tenants, auditLogger)
		auditHandler = audit.NewHandler(pool, audit.NewStore())
	}

	var devPrincipal *auth.Principal
	if cfg.Auth.DevMode {
		slog.Warn("running in dev mode, 'Bearer dev' authenticates as a super-admin")
		devPrincipal = &auth.Principal{
			UserID:       "00000000-0000-0000-0000-00000000d001",
			Role:         auth.RoleSuperAdmin,
			IsSuperAdmin: true,
		}
	}

	watchHandler := impersonation.NewWatchHandler(limiter, tokenSvc,
		time.Duration(cfg.Impersonation.WatchIntervalSecs)*time.Second, cfg.Server.CORSAllowedOrigins)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := server.New(addr, server.Dependencies{
		Pool:                         pool,
		Auth:                         tokenSvc,
		DevPrincipal:                 devPrincipal,
		RBAC:                         rbacEngine,
		RBACAuditLogger:              auditLogger,
		Pins:                         limiter,
		TenantHandler:                tenantHandler,
		UserHandler:                  tenant.NewUserHandler(st.users, roleService, rbacEngine),
		RoleHandler:                  tenant.NewRoleHandler(roleService),
		CustomerHandler:              customers.NewHandler(st.customers, auditLogger),
		AdminHandler:                 admin.NewHandler(st.catalog, st.customers),
		ImpersonationHandler:         impersonation.NewHandler(limiter),
		ImpersonationWatch:           watchHandler,
		AuditHandler:                 auditHandler,
		Metrics:                      registry,
		Logger:                       logger,
		CORSAllowedOrigins:           cfg.Server.CORSAllowedOrigins,
		RequestsPerMinute:            cfg.Server.RequestsPerMinute,
		ImpersonationStartsPerMinute: cfg.Impersonation.StartRatePerMinute,
	})

	sweeper := impersonation.NewSweeper(limiter, time.Duration(cfg.Impersonation.SweepIntervalSecs)*time.Second)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })

	slog.Info("server ready", "addr", addr, "dev_mode", cfg.Auth.DevMode, "postgres", pool != nil, "redis", cfg.Redis.Enabled)
	return g.Wait()
}

// stores bundles the persistence of every component, Postgres-backed when
// a pool is available.
type stores struct {
	tenants   *tenant.Store
	roles     tenant.RoleRepository
	users     tenant.UserRepository
	customers customers.Repository
	catalog   admin.TenantCatalog
	sessions  impersonation.Store
	configs   impersonation.ConfigStore
}

func buildStores(pool *database.Pool, defaults impersonation.Config) stores {
	if pool != nil {
		tenants := tenant.NewStore(pool)
		return stores{
			tenants:   tenants,
			roles:     tenant.NewRoleStore(pool),
			users:     tenant.NewUserStore(pool),
			customers: customers.NewStore(pool),
			catalog:   tenants,
			sessions:  impersonation.NewPGStore(pool),
			configs:   impersonation.NewPGConfigStore(pool, defaults),
		}
	}

	mem := customers.NewMemoryStore()
	return stores{
		roles:     tenant.NewMemoryRoleStore(),
		users:     tenant.NewMemoryUserStore(),
		customers: mem,
		catalog:   admin.CatalogFunc(mem.Tenants),
		sessions:  impersonation.NewMemoryStore(),
		configs:   impersonation.NewMemoryConfigStore(defaults),
	}
}

func impersonationDefaults(c config.ImpersonationConfig) impersonation.Config {
	return impersonation.Config{
		MaxImpersonationsPerHour:  c.MaxPerHour,
		MaxConcurrentSessions:     c.MaxConcurrent,
		MaxSessionDurationMinutes: c.MaxDurationMinutes,
		Enabled:                   c.Enabled,
	}
}

func buildAuditLogger(pool *database.Pool, c config.AuditConfig) audit.Logger {
	if pool == nil {
		return audit.SlogLogger{}
	}
	return audit.NewAsyncLogger(audit.NewPoolWriter(pool, audit.NewStore()), audit.LoggerConfig{
		BufferSize:    c.BufferSize,
		BatchSize:     c.BatchSize,
		FlushInterval: time.Duration(c.FlushIntervalMS) * time.Millisecond,
	})
}

// buildPermissionCache returns the shared Redis cache when enabled and
// reachable, and the per-process cache otherwise.
func buildPermissionCache(ctx context.Context, c config.RedisConfig) (rbac.PermissionCache, func(), error) {
	if !c.Enabled {
		return rbac.NewMemoryCache(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: c.Addr})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connecting to redis at %s: %w", c.Addr, err)
	}

	slog.Info("permission cache", "backend", "redis", "addr", c.Addr)
	return rbac.NewRedisCache(client, c.KeyPrefix), func() { _ = client.Close() }, nil
}

func jwtSigningKey(c config.AuthConfig) (string, error) {
	switch {
	case len(c.JWT.SigningKey) >= 32:
		return c.JWT.SigningKey, nil
	case c.DevMode && c.JWT.SigningKey == "":
		return devSigningKey, nil
	case c.JWT.SigningKey == "":
		return "", errors.New("auth.jwt.signingkey is required outside dev mode")
	default:
		return "", errors.New("auth.jwt.signingkey must be at least 32 characters")
	}
}
