// @title           routedesk API
// @version         0.1.0
// @description     Audit record sink, system settings and route table administration
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                         Authorization
// @description                  "JWT: 'Bearer {token}'"
//
// @tag.name         System
// @tag.description  Health, readiness, settings and plugin endpoints.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics and profiling are served on dedicated side-channel ports, separate from the main API server. Configure them with RD_TELEMETRY_METRICS_PROMETHEUS_PORT and RD_TELEMETRY_PROFILING_PORT.

// Package main is the entry point for the routedesk server binary.
// It dispatches its subcommands (serve, migrate, version, user, token) via a
// switch on os.Args so the binary's full CLI surface is readable in one place.
// The serve command runs auto-migration on startup so freshly deployed
// containers never need a separate migration step.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // #nosec G108 -- pprof is only served on the internal profiling port
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/routedesk/routedesk/internal/api"
	"github.com/routedesk/routedesk/internal/auth"
	"github.com/routedesk/routedesk/internal/config"
	"github.com/routedesk/routedesk/internal/db"
	"github.com/routedesk/routedesk/internal/db/models"
	"github.com/routedesk/routedesk/internal/db/repositories"
	"github.com/routedesk/routedesk/internal/safego"
	"github.com/routedesk/routedesk/internal/telemetry"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "0.1.0"

const usage = `usage: routedesk <command>

commands:
  serve                                       run the server (default)
  migrate up|down                             apply or roll back migrations
  version                                     print the version
  user create -login L -email E -password P [-admin]
  token -login L [-ttl 24h] [-scopes a,b]     mint a JWT for an existing user`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run(args []string) error {
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	if command == "version" {
		fmt.Printf("routedesk v%s\n", version)
		return nil
	}

	configPath := os.Getenv("CONFIG_PATH")

	switch command {
	case "serve":
		return serve(configPath)
	case "migrate":
		if len(args) < 1 {
			return errors.New("usage: routedesk migrate <up|down>")
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return runMigrations(cfg, args[0])
	case "user":
		if len(args) < 1 || args[0] != "create" {
			return errors.New("usage: routedesk user create -login L -email E -password P [-admin]")
		}
		opts, err := parseUserCreate(args[1:])
		if err != nil {
			return err
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return createUser(cfg, opts)
	case "token":
		opts, err := parseToken(args)
		if err != nil {
			return err
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return mintToken(cfg, opts)
	default:
		return fmt.Errorf("unknown command: %s\n%s", command, usage)
	}
}

func connect(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	database, err := db.Connect(ctx, cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return database, nil
}

func serve(configPath string) error {
	// The log level follows the config file; other changes need a restart.
	cfg, err := config.Watch(configPath, func(next *config.Config) {
		telemetry.SetLevel(next.Logging.Level)
	})
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialise structured logger as early as possible so all subsequent log output
	// uses the configured format (json / text) and level.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Validate JWT secret configuration (fails in production if not set)
	if err := auth.ValidateJWTSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("connecting to database",
		"host", cfg.Database.Host, "port", cfg.Database.Port,
		"user", cfg.Database.User, "dbname", cfg.Database.Name, "sslmode", cfg.Database.SSLMode)
	database, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	// Begin exporting DB pool statistics to Prometheus.
	telemetry.StartDBStatsCollector(ctx, database)

	slog.Info("running database migrations")
	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if v, dirty, err := db.GetMigrationVersion(database); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", v, "dirty", dirty)
	}

	// Side-channel servers stay off the public listener.
	if cfg.Telemetry.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		startSideServer("metrics", fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort), mux, 10*time.Second)
	}
	if cfg.Telemetry.Profiling.Enabled {
		// net/http/pprof registers its handlers on http.DefaultServeMux at init time.
		startSideServer("pprof", fmt.Sprintf(":%d", cfg.Telemetry.Profiling.Port), http.DefaultServeMux, 30*time.Second) // #nosec G108
	}

	deps, err := api.BuildDeps(ctx, cfg, database, version)
	if err != nil {
		return err
	}
	router, bgServices, err := api.NewRouter(ctx, cfg, deps)
	if err != nil {
		_ = deps.Close(context.Background())
		return err
	}

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	safego.Go("http-server", func() {
		slog.Info("starting server",
			"addr", server.Addr, "base_url", cfg.Server.BaseURL,
			"storage", cfg.Storage.DefaultBackend, "tls", cfg.Security.TLS.Enabled)
		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	})

	select {
	case <-ctx.Done():
		slog.Info("shutting down server")
	case err := <-serveErr:
		slog.Error("server failed", "error", err)
		stop()
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
	}
	// drain queued audit records after the last request has finished
	if err := bgServices.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	slog.Info("server stopped")
	return errors.Join(errs...)
}

func startSideServer(name, addr string, h http.Handler, timeout time.Duration) {
	safego.Go(name+"-server", func() {
		slog.Info("starting "+name+" server", "addr", addr)
		srv := &http.Server{
			Addr:         addr,
			Handler:      h,
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		}
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error(name+" server error", "error", err)
		}
	})
}

func runMigrations(cfg *config.Config, direction string) error {
	ctx := context.Background()
	database, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	log.Printf("Running migrations: %s", direction) // #nosec G706 -- operator-supplied CLI argument

	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	v, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	log.Printf("Migration completed successfully. Current version: %d (dirty: %v)", v, dirty)
	return nil
}

type userCreateOptions struct {
	login    string
	email    string
	password string
	name     string
	admin    bool
}

func parseUserCreate(args []string) (*userCreateOptions, error) {
	fs := flag.NewFlagSet("user create", flag.ContinueOnError)
	opts := &userCreateOptions{}
	fs.StringVar(&opts.login, "login", "", "login name (required)")
	fs.StringVar(&opts.email, "email", "", "email address (required)")
	fs.StringVar(&opts.password, "password", "", "password (required)")
	fs.StringVar(&opts.name, "name", "", "display name")
	fs.BoolVar(&opts.admin, "admin", false, "grant the admin scope")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.login == "" || opts.email == "" || opts.password == "" {
		return nil, errors.New("user create: -login, -email and -password are required")
	}
	if len(opts.password) < 8 {
		return nil, errors.New("user create: password must be at least 8 characters")
	}
	return opts, nil
}

func createUser(cfg *config.Config, opts *userCreateOptions) error {
	ctx := context.Background()
	database, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	users := repositories.NewUserRepository(database)
	existing, err := users.GetUserByLogin(ctx, opts.login)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("user %q already exists", opts.login)
	}

	hash, err := auth.HashPassword(opts.password)
	if err != nil {
		return err
	}
	user := &models.User{
		Login:        opts.login,
		Email:        opts.email,
		Name:         opts.name,
		PasswordHash: &hash,
		Admin:        opts.admin,
	}
	if err := users.CreateUser(ctx, user); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	fmt.Printf("created user %s (id %s, admin %v)\n", user.Login, user.ID, user.Admin)
	return nil
}

type tokenOptions struct {
	login  string
	ttl    time.Duration
	scopes []string
}

func parseToken(args []string) (*tokenOptions, error) {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	opts := &tokenOptions{}
	var scopes string
	fs.StringVar(&opts.login, "login", "", "login of an existing user (required)")
	fs.DurationVar(&opts.ttl, "ttl", 24*time.Hour, "token lifetime")
	fs.StringVar(&scopes, "scopes", "", "comma-separated scopes narrowing the token")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if opts.login == "" {
		return nil, errors.New("token: -login is required")
	}
	if opts.ttl <= 0 {
		return nil, errors.New("token: -ttl must be positive")
	}
	opts.scopes = splitScopes(scopes)
	if err := auth.ValidateScopes(opts.scopes); err != nil {
		return nil, fmt.Errorf("token: %w", err)
	}
	return opts, nil
}

func mintToken(cfg *config.Config, opts *tokenOptions) error {
	if err := auth.ValidateJWTSecret(); err != nil {
		return err
	}
	ctx := context.Background()
	database, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	user, err := repositories.NewUserRepository(database).GetUserByLogin(ctx, opts.login)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("user %q not found", opts.login)
	}

	token, err := auth.GenerateJWT(user.ID, user.Login, opts.scopes, opts.ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func splitScopes(s string) []string {
	var scopes []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			scopes = append(scopes, part)
		}
	}
	return scopes
}
