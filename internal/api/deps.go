package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/routedesk/routedesk/internal/api/admin"
	"github.com/routedesk/routedesk/internal/audit"
	"github.com/routedesk/routedesk/internal/auth/oidc"
	"github.com/routedesk/routedesk/internal/config"
	"github.com/routedesk/routedesk/internal/db/mongostore"
	"github.com/routedesk/routedesk/internal/db/repositories"
	"github.com/routedesk/routedesk/internal/middleware"
	"github.com/routedesk/routedesk/internal/plugins"
	"github.com/routedesk/routedesk/internal/settings"
	"github.com/routedesk/routedesk/internal/storage"

	// Import storage backends to register them
	_ "github.com/routedesk/routedesk/internal/storage/azure"
	_ "github.com/routedesk/routedesk/internal/storage/gcs"
	_ "github.com/routedesk/routedesk/internal/storage/local"
	_ "github.com/routedesk/routedesk/internal/storage/s3"

	// Import plugins to register them via init()
	_ "github.com/routedesk/routedesk/internal/plugins/auditlogs"
	_ "github.com/routedesk/routedesk/internal/plugins/statuspage"
)

// UserRepository is the user persistence the router needs.
// Implemented by repositories.UserRepository.
type UserRepository interface {
	middleware.UserLookup
	admin.UserStore
}

// Deps are the external resources the router is built on.
type Deps struct {
	DB       *sql.DB
	Storage  storage.Storage
	Users    UserRepository
	Settings settings.Repository
	// Records is the audit record store; nil disables persistence and the
	// audit record endpoints
	Records audit.RecordStore
	// Redis shares rate limits and OIDC login state between replicas; may be nil
	Redis *redis.Client
	// OIDC is nil when OIDC login is disabled
	OIDC    admin.OIDCAuthenticator
	Plugins *plugins.Registry
	Version string
}

type pinger interface {
	Ping(ctx context.Context) error
}

type contextCloser interface {
	Close(ctx context.Context) error
}

// BuildDeps connects everything configured in cfg. On error, whatever was
// already opened is closed again.
func BuildDeps(ctx context.Context, cfg *config.Config, db *sql.DB, version string) (deps *Deps, err error) {
	deps = &Deps{
		DB:       db,
		Users:    repositories.NewUserRepository(db),
		Settings: repositories.NewSettingRepository(sqlx.NewDb(db, "postgres")),
		Plugins:  plugins.Default(),
		Version:  version,
	}
	defer func() {
		if err != nil {
			deps.Close(context.Background())
			deps = nil
		}
	}()

	deps.Storage, err = storage.NewStorage(cfg)
	if err != nil {
		return deps, fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	slog.Info("initialized storage backend", "backend", cfg.Storage.DefaultBackend)

	switch cfg.Audit.Store {
	case "", "postgres":
		deps.Records = repositories.NewAuditRecordRepository(db)
	case "mongo":
		store, cerr := mongostore.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.ConnectTimeout)
		if cerr != nil {
			return deps, fmt.Errorf("failed to connect audit record store: %w", cerr)
		}
		deps.Records = store
	default:
		return deps, fmt.Errorf("unsupported audit store: %s (must be 'postgres' or 'mongo')", cfg.Audit.Store)
	}
	slog.Info("audit record store selected", "store", deps.Records.Name())

	if url := cfg.Security.RateLimiting.RedisURL; url != "" {
		opts, perr := redis.ParseURL(url)
		if perr != nil {
			return deps, fmt.Errorf("invalid redis_url: %w", perr)
		}
		deps.Redis = redis.NewClient(opts)
		if perr := deps.Redis.Ping(ctx).Err(); perr != nil {
			// limiters fail open and the login state store reports errors per request
			slog.Warn("redis not reachable at startup", "error", perr)
		}
	}

	if cfg.Auth.OIDC.Enabled {
		provider, perr := oidc.NewProvider(ctx, &cfg.Auth.OIDC)
		if perr != nil {
			return deps, fmt.Errorf("failed to initialize OIDC provider: %w", perr)
		}
		deps.OIDC = provider
		slog.Info("OIDC login enabled", "issuer", cfg.Auth.OIDC.IssuerURL)
	}

	return deps, nil
}

// Close releases the connections BuildDeps opened. The SQL database belongs
// to the caller and is left open.
func (d *Deps) Close(ctx context.Context) error {
	var errs []error
	if c, ok := d.Records.(contextCloser); ok {
		errs = append(errs, c.Close(ctx))
	}
	if d.Redis != nil {
		errs = append(errs, d.Redis.Close())
	}
	return errors.Join(errs...)
}
