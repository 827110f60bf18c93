// Package api wires together all HTTP routes for routedesk.
//
// Route grouping:
//   - /health, /ready and /version are unauthenticated probes.
//   - /api/v1/ is the JSON API. Sign-in endpoints are public and rate limited;
//     everything else requires a JWT and the scope noted on the route.
//   - Every other path is served by the route table: the client application,
//     static assets and plugin webroots, mounted under admin-configurable
//     prefixes.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/routedesk/routedesk/internal/api/admin"
	"github.com/routedesk/routedesk/internal/api/webroot"
	"github.com/routedesk/routedesk/internal/audit"
	"github.com/routedesk/routedesk/internal/auth"
	"github.com/routedesk/routedesk/internal/config"
	"github.com/routedesk/routedesk/internal/middleware"
	"github.com/routedesk/routedesk/internal/plugins"
	"github.com/routedesk/routedesk/internal/routetable"
	"github.com/routedesk/routedesk/internal/settings"
)

type stopper interface {
	Stop()
}

// BackgroundServices holds references to background workers and resources that
// must be stopped during graceful shutdown. The caller (cmd/server) is
// responsible for calling Shutdown() when the process receives a termination
// signal.
type BackgroundServices struct {
	writer   *audit.Dispatcher
	limiters []middleware.Limiter
	deps     *Deps
}

// Shutdown drains the audit queue, then stops the limiters and closes the
// connections in deps. It should be called after the HTTP server has been shut
// down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown(ctx context.Context) error {
	slog.Info("stopping background services")
	var errs []error
	if bg.writer != nil {
		if err := bg.writer.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("audit dispatcher: %w", err))
		}
	}
	for _, l := range bg.limiters {
		if s, ok := l.(stopper); ok {
			s.Stop()
		}
	}
	if bg.deps != nil {
		if err := bg.deps.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	slog.Info("all background services stopped")
	return errors.Join(errs...)
}

// Writer returns the audit record dispatcher, or nil when no record store is
// configured.
func (bg *BackgroundServices) Writer() *audit.Dispatcher { return bg.writer }

// shipperConfigs converts the configured shippers to audit.ShipperConfig.
func shipperConfigs(in []config.AuditShipperConfig) []audit.ShipperConfig {
	out := make([]audit.ShipperConfig, 0, len(in))
	for _, c := range in {
		sc := audit.ShipperConfig{Enabled: c.Enabled, Type: c.Type}
		if w := c.Webhook; w != nil {
			sc.Webhook = &audit.WebhookConfig{
				URL:           w.URL,
				Headers:       w.Headers,
				Timeout:       time.Duration(w.TimeoutSecs) * time.Second,
				BatchSize:     w.BatchSize,
				FlushInterval: time.Duration(w.FlushInterval) * time.Second,
			}
		}
		if f := c.File; f != nil {
			sc.File = &audit.FileConfig{
				Path:       f.Path,
				MaxSizeMB:  f.MaxSizeMB,
				MaxBackups: f.MaxBackups,
				MaxAgeDays: f.MaxAgeDays,
				Compress:   f.Compress,
			}
		}
		if a := c.Archive; a != nil {
			sc.Archive = &audit.ArchiveConfig{
				Prefix:        a.Prefix,
				BatchSize:     a.BatchSize,
				FlushInterval: time.Duration(a.FlushInterval) * time.Second,
			}
		}
		out = append(out, sc)
	}
	return out
}

// NewRouter creates and configures the Gin router. It loads the enabled
// plugins and the stored settings, so the route table is installed before the
// first request. On error the audit writer is closed again; deps stay open.
func NewRouter(ctx context.Context, cfg *config.Config, deps *Deps) (*gin.Engine, *BackgroundServices, error) {
	bg := &BackgroundServices{deps: deps}

	// audit channel and record writer
	channel := audit.NewChannel()
	if cfg.Audit.LogToStdout {
		channel.AddHandler(slog.NewJSONHandler(os.Stdout, nil))
	}
	if deps.Records != nil {
		shipper, err := audit.NewMultiShipper(shipperConfigs(cfg.Audit.Shippers), deps.Storage)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize audit shippers: %w", err)
		}
		bg.writer = audit.NewDispatcher(audit.NewSink(deps.Records, shipper), audit.DispatcherConfig{
			QueueSize:    cfg.Audit.QueueSize,
			Workers:      cfg.Audit.Workers,
			MaxRetries:   cfg.Audit.MaxRetries,
			RetryBackoff: cfg.Audit.RetryBackoff,
			WriteTimeout: cfg.Audit.WriteTimeout,
		})
	}
	fail := func(err error) (*gin.Engine, *BackgroundServices, error) {
		if bg.writer != nil {
			_ = bg.writer.Close(context.Background())
		}
		return nil, nil, err
	}

	// settings and the route table
	svc := settings.NewService(deps.Settings, channel)
	routes := routetable.NewDispatcher(routetable.Default())
	webroots := plugins.NewWebroots(routes)
	webroots.Mount(routetable.AppID, "/", webroot.NewAppHandler(svc))
	webroots.Mount(routetable.StaticRootID, "/static",
		webroot.NewStaticHandler(deps.Storage, cfg.Static.Prefix, cfg.Static.MaxAge))
	settings.DefineCore(svc, webroots.Defaults)
	svc.OnChange(settings.KeyRouteTable, func(_ context.Context, _ string, value any) {
		t, err := routetable.FromValue(value)
		if err != nil {
			slog.Error("ignoring unusable route table", "error", err)
			return
		}
		routes.SetTable(t)
	})

	registry := deps.Plugins
	if registry == nil {
		registry = plugins.Default()
	}
	err := registry.Load(cfg.Plugins.Enabled, &plugins.Info{
		Config:   cfg,
		Audit:    channel,
		Writer:   bg.writer,
		Settings: svc,
		Webroots: webroots,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to load plugins: %w", err))
	}
	if err := svc.Load(ctx); err != nil {
		return fail(err)
	}

	// rate limiters
	rl := cfg.Security.RateLimiting
	var generalLimiter, authLimiter, settingsLimiter middleware.Limiter
	if rl.Enabled {
		generalLimiter = middleware.NewLimiter(deps.Redis, middleware.DefaultRateLimitConfig().Apply(rl))
		authLimiter = middleware.NewLimiter(deps.Redis, middleware.AuthRateLimitConfig())
		settingsLimiter = middleware.NewLimiter(deps.Redis, middleware.SettingsRateLimitConfig())
		bg.limiters = []middleware.Limiter{generalLimiter, authLimiter, settingsLimiter}
	}
	limit := func(l middleware.Limiter) gin.HandlerFunc {
		if l == nil {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimitMiddleware(l)
	}

	router := gin.New()

	// Add middleware
	tls := cfg.Security.TLS.Enabled
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SplitSecurityHeadersMiddleware(webroot.APIRoot,
		middleware.APISecurityHeadersConfig(tls),
		middleware.WebrootSecurityHeadersConfig(tls)))
	if cfg.Audit.Enabled {
		router.Use(middleware.AuditMiddleware(channel, svc, &cfg.Audit))
	}

	router.GET("/health", healthCheckHandler(deps.DB))
	router.GET("/ready", readinessHandler(deps.DB, deps.Records, deps.Storage))
	router.GET("/version", versionHandler(deps.Version))

	authHandlers := admin.NewAuthHandlers(cfg, deps.Users, deps.OIDC, admin.NewStateStore(deps.Redis), channel)
	settingsHandlers := admin.NewSettingsHandlers(svc)

	apiV1 := router.Group(webroot.APIRoot)
	{
		// Public authentication endpoints (no auth required, but rate limited)
		authGroup := apiV1.Group("/auth")
		authGroup.Use(limit(authLimiter))
		{
			authGroup.POST("/token", authHandlers.TokenHandler())
			authGroup.GET("/oidc/login", authHandlers.OIDCLoginHandler())
			authGroup.GET("/oidc/callback", authHandlers.OIDCCallbackHandler())
		}

		authenticatedGroup := apiV1.Group("")
		authenticatedGroup.Use(limit(generalLimiter))
		authenticatedGroup.Use(middleware.AuthMiddleware(deps.Users))
		{
			authenticatedGroup.GET("/user/me", authHandlers.MeHandler())

			systemGroup := authenticatedGroup.Group("/system")
			{
				systemGroup.GET("/setting",
					middleware.RequireScope(auth.ScopeSettingsRead),
					settingsHandlers.GetHandler())
				systemGroup.PUT("/setting",
					limit(settingsLimiter),
					middleware.RequireScope(auth.ScopeSettingsWrite),
					settingsHandlers.PutHandler())
				systemGroup.DELETE("/setting",
					middleware.RequireScope(auth.ScopeSettingsWrite),
					settingsHandlers.DeleteHandler())
				systemGroup.GET("/plugins",
					middleware.RequireAdmin(),
					admin.PluginsHandler(registry))
			}

			if deps.Records != nil {
				auditHandlers := admin.NewAuditHandlers(deps.Records)
				auditGroup := authenticatedGroup.Group("/audit")
				auditGroup.Use(middleware.RequireScope(auth.ScopeAuditRead))
				{
					auditGroup.GET("/records", auditHandlers.ListHandler())
					auditGroup.GET("/records/:id", auditHandlers.GetHandler())
				}
			}
		}
	}

	// Everything else goes through the route table. Handlers that write a
	// body without calling WriteHeader get 200, not gin's NoRoute 404.
	router.NoRoute(middleware.OptionalAuthMiddleware(deps.Users), func(c *gin.Context) {
		if id, _, ok := routes.Resolve(c.Request.URL.Path); ok {
			c.Set(middleware.RouteLabelKey, "webroot:"+id)
		}
		c.Status(http.StatusOK)
		routes.ServeHTTP(c.Writer, c.Request)
	})

	slog.Info("router ready", "plugins", len(registry.Loaded()), "routes", routes.Table().String())
	return router, bg, nil
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.LogAttrs(
			c.Request.Context(),
			level,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", c.GetString(middleware.RequestIDKey)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	methods := "GET, POST, PUT, DELETE, OPTIONS"
	if m := cfg.Security.CORS.AllowedMethods; len(m) > 0 {
		methods = strings.Join(m, ", ")
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Check if origin is allowed
		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
