// Package main is the entrypoint for the Keygate API server.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	apidocs "github.com/keygate/keygate/docs/api"
	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/cache"
	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/handler"
	"github.com/keygate/keygate/internal/metrics"
	"github.com/keygate/keygate/internal/middleware"
	"github.com/keygate/keygate/internal/repository"
	"github.com/keygate/keygate/internal/server"
	"github.com/keygate/keygate/internal/service"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	if cfg.MigrateOnStart {
		if err := repository.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Error("failed to run migrations",
				slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			)
			os.Exit(1)
		}
		logger.Info("database migrations applied")
	}

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	logger.Info("connected to database")

	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		repo.Close()
		os.Exit(1)
	}
	logger.Info("connected to Redis")

	hasher, err := auth.NewHasher(cfg.HashAlgorithm, cfg.BcryptCost)
	if err != nil {
		logger.Error("failed to configure key hashing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	docs, err := handler.NewDocsHandler(apidocs.OpenAPI)
	if err != nil {
		logger.Error("failed to load API docs", slog.String("error", err.Error()))
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewPrometheus(registry)

	svcCfg := service.UserServiceConfig{
		BootstrapKey: cfg.BootstrapKey,
		KeyTTL:       cfg.KeyTTL,
		Hasher:       hasher,
		Metrics:      recorder,
		Logger:       logger,
	}
	if cfg.AuthCacheEnabled {
		svcCfg.Cache = cacheClient
		svcCfg.CacheTTL = cfg.AuthCacheTTL
	}
	userService := service.NewUserService(repo, svcCfg)

	r := setupRouter(routerDeps{
		cfg:      cfg,
		logger:   logger,
		users:    userService,
		db:       repo,
		cache:    cacheClient,
		limiter:  cacheClient,
		docs:     docs,
		gatherer: registry,
	})

	srv := server.New(r, server.Config{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	srv.OnShutdown("postgres", func(context.Context) error {
		repo.Close()
		return nil
	})
	srv.OnShutdown("redis", func(context.Context) error {
		return cacheClient.Close()
	})

	logger.Info("starting server",
		slog.Int("port", cfg.AppPort),
		slog.String("env", cfg.AppEnv),
		slog.String("version", version),
		slog.String("hash_algorithm", hasher.Algorithm()),
		slog.Bool("auth_cache", cfg.AuthCacheEnabled),
	)

	if err := srv.Run(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h).With(slog.String("service", "keygate"))
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// userAPI is what the router needs from the user service.
type userAPI interface {
	handler.UserRegistrar
	middleware.UserAuthenticator
}

type routerDeps struct {
	cfg      *config.Config
	logger   *slog.Logger
	users    userAPI
	db       handler.HealthChecker
	cache    handler.HealthChecker
	limiter  middleware.IPLimiter
	docs     *handler.DocsHandler
	gatherer prometheus.Gatherer
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(d routerDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(d.logger))
	r.Use(middleware.Recoverer(d.logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: d.cfg.IsDevelopment()}))
	r.Use(middleware.MaxBodySize(d.cfg.MaxRequestBodySize))

	h := handler.New(version)
	healthHandler := handler.NewHealthHandler(d.db, d.cache)
	userHandler := handler.NewUserHandler(d.logger, d.users)

	r.Get("/", h.Root)
	r.Get("/docs", d.docs.YAML)
	r.Get("/docs/openapi.json", d.docs.JSON)
	r.Get("/healthz", healthHandler.Healthz)
	r.Get("/readyz", healthHandler.Readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(d.gatherer))

	registerLimit := middleware.RateLimitIP(middleware.RateLimitConfig{
		Logger:  d.logger,
		Limiter: d.limiter,
		Enabled: d.cfg.RateLimitRegisterEnabled,
		Scope:   "register",
		RPS:     d.cfg.RateLimitRegisterRPS,
		Burst:   d.cfg.RateLimitRegisterBurst,
	})
	requireKey := middleware.Auth(middleware.AuthConfig{
		Logger:        d.logger,
		Authenticator: d.users,
		MinDuration:   d.cfg.AuthMinDuration,
	})

	r.Route("/users", func(r chi.Router) {
		r.With(registerLimit).Post("/", userHandler.Register)
		r.With(requireKey).Get("/me", userHandler.Me)
	})

	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	return r
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s&]+`)

// redactURL strips the password from a connection URL.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		if username := parsed.User.Username(); username != "" {
			parsed.User = url.User(username)
		} else {
			parsed.User = url.User("redacted")
		}
	}

	return parsed.String()
}

// sanitizeError replaces any secret found in err's message with its redacted form.
func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
