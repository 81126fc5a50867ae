package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/stayforge/identity-service/internal/config"
	"github.com/stayforge/identity-service/internal/directory"
	"github.com/stayforge/identity-service/internal/domain"
	"github.com/stayforge/identity-service/internal/http/router"
	"github.com/stayforge/identity-service/internal/observability"
	"github.com/stayforge/identity-service/internal/repository"
	"github.com/stayforge/identity-service/internal/security"
	"github.com/stayforge/identity-service/internal/service"
)

const shutdownGrace = 15 * time.Second

// App wires configuration, storage, the service graph and the HTTP server
// into one startable unit.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	db      *gorm.DB
	obs     *observability.Runtime
	server  *http.Server
	redisCl *redis.Client
}

// New builds the full dependency graph. Everything that can fail at startup
// fails here, before the listener opens.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	obs, err := observability.InitRuntime(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&domain.Role{}, &domain.User{}, &domain.RefreshSession{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	users := repository.NewUserRepository(db)
	roles := repository.NewRoleRepository(db)
	sessions := repository.NewSessionRepository(db)

	if err := seedRoles(roles, cfg.RolePriority); err != nil {
		return nil, fmt.Errorf("seed roles: %w", err)
	}

	jwtMgr, err := security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTSigningKey)
	if err != nil {
		return nil, err
	}
	issuer := service.NewTokenIssuer(jwtMgr, cfg.AccessTokenTTL)
	ledger := service.NewSessionLedger(sessions, cfg.RefreshTokenPepper, cfg.RefreshTokenTTL, cfg.SessionCap, cfg.SessionRetention, logger)
	sync := service.NewIdentitySynchronizer(users, roles, cfg.DirectoryDomain)

	dirClient := directory.NewLDAPClient(directory.Config{
		Addr:               cfg.DirectoryAddr,
		Domain:             cfg.DirectoryDomain,
		BaseDN:             cfg.DirectoryBaseDN,
		BindDN:             cfg.DirectoryBindDN,
		BindSecret:         cfg.DirectoryBindSecret,
		Timeout:            cfg.DirectoryTimeout,
		StartTLS:           cfg.DirectoryStartTLS,
		InsecureSkipVerify: cfg.DirectorySkipVerify,
	}, logger)

	var guard service.AuthAbuseGuard
	var redisCl *redis.Client
	if cfg.RedisAddr != "" {
		redisCl = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		guard = service.NewRedisAuthAbuseGuard(redisCl, "identity:abuse", service.DefaultAuthAbusePolicy())
	} else {
		logger.Warn("redis address not configured, using in-process auth abuse guard")
		guard = service.NewMemoryAuthAbuseGuard(service.DefaultAuthAbusePolicy())
	}

	roleCfg := service.RoleMappingConfig{
		GroupToRole: cfg.GroupRoleMap,
		Priority:    cfg.RolePriority,
		Fallback:    cfg.FallbackRole,
	}
	auth := service.NewAuthService(users, sync, issuer, ledger, dirClient, roleCfg, cfg.DefaultLocalRole, guard, logger)

	mux := router.New(auth, router.Options{
		APIRateLimitRPM:  cfg.APIRateLimitRPM,
		AuthRateLimitRPM: cfg.AuthRateLimitRPM,
		TraceHTTP:        cfg.OTELHTTPEnabled,
	})

	return &App{
		Config: cfg,
		Logger: logger,
		db:     db,
		obs:    obs,
		server: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		redisCl: redisCl,
	}, nil
}

// Run serves until the context is cancelled, then drains in-flight requests
// and flushes the metrics pipeline.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.Logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	err := g.Wait()

	if a.redisCl != nil {
		_ = a.redisCl.Close()
	}
	if a.obs != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if shutdownErr := a.obs.Shutdown(flushCtx); shutdownErr != nil {
			a.Logger.Warn("metrics shutdown failed", "error", shutdownErr)
		}
	}
	return err
}

// openDatabase picks the driver from the DSN. An empty DSN falls back to an
// on-disk sqlite file so development needs no external services.
func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	if dsn := cfg.DatabaseDSN; dsn != "" {
		return gorm.Open(postgres.Open(dsn), gormCfg)
	}
	return gorm.Open(sqlite.Open("identity.db"), gormCfg)
}

// seedRoles makes sure every role the priority list names exists, so group
// mapping never resolves to a role the database does not know.
func seedRoles(roles repository.RoleRepository, names []string) error {
	for _, name := range names {
		if _, err := roles.EnsureByName(name); err != nil {
			return fmt.Errorf("ensure role %q: %w", name, err)
		}
	}
	return nil
}
