package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/atriumhq/atrium/pkg/api"
	"github.com/atriumhq/atrium/pkg/audit"
	"github.com/atriumhq/atrium/pkg/config"
	"github.com/atriumhq/atrium/pkg/identity"
	"github.com/atriumhq/atrium/pkg/observability"
	"github.com/atriumhq/atrium/pkg/secrets"
	"github.com/atriumhq/atrium/pkg/sso"
	"github.com/atriumhq/atrium/pkg/storage"
	"github.com/atriumhq/atrium/pkg/storage/postgres"
	"github.com/atriumhq/atrium/pkg/tokens"
	"github.com/atriumhq/atrium/pkg/workspaces"
)

// auditRetention bounds how long audit events are kept before the nightly
// purge removes them.
const auditRetention = 90 * 24 * time.Hour

const providerCacheSize = 128

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx := observability.WithLogger(context.Background(), logger)

	otel, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("otel init failed")
		os.Exit(1)
	}

	db, err := postgres.Connect(ctx, postgres.ConnectionConfig{
		URL:         cfg.Database.URL,
		MaxConns:    cfg.Database.MaxConns,
		MaxIdle:     cfg.Database.MaxIdle,
		MaxLifetime: cfg.Database.MaxLifetime,
	})
	if err != nil {
		logger.WithError(err).Error("postgres connection failed")
		os.Exit(1)
	}
	defer db.Close()

	if err := postgres.RunMigrations(ctx, db); err != nil {
		logger.WithError(err).Error("migrations failed")
		os.Exit(1)
	}

	redisClient, err := storage.ConnectRedis(ctx, storage.RedisConfig{
		URL:        cfg.Redis.URL,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		MaxRetries: cfg.Redis.MaxRetries,
		PoolSize:   cfg.Redis.PoolSize,
	})
	if err != nil {
		logger.WithError(err).Error("redis connection failed")
		os.Exit(1)
	}
	defer redisClient.Close()

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
		go postgres.ReportPoolStats(ctx, db, metrics, 0)
	}

	box, err := secrets.NewBox([]byte(cfg.Auth.EncryptionKey))
	if err != nil {
		logger.WithError(err).Error("bad encryption key")
		os.Exit(1)
	}

	auditLogger := audit.NewDBLogger(db)

	tokenSvc := tokens.NewService(tokens.ServiceConfig{
		Issuer:        cfg.Auth.Issuer,
		AccessSecret:  []byte(cfg.Auth.AccessSecret),
		RefreshSecret: []byte(cfg.Auth.RefreshSecret),
		AccessTTL:     cfg.Auth.AccessTokenTTL,
		RefreshTTL:    cfg.Auth.RefreshTokenTTL,
	}, tokens.NewFamilyStore(redisClient), auditLogger, metrics)

	ssoStorage := sso.NewStorage(db, box)
	userStore := identity.NewStore(db)
	identitySvc := identity.NewService(userStore, identity.NewOneTimeTokens(redisClient),
		ssoStorage, tokenSvc, auditLogger, identity.ServiceConfig{
			BcryptCost:       cfg.Auth.BcryptCost,
			PasswordResetTTL: cfg.Auth.PasswordResetTTL,
			EmailVerifyTTL:   cfg.Auth.EmailVerifyTTL,
		})

	workspaceStore := workspaces.NewStore(db)
	workspaceSvc := workspaces.NewService(workspaceStore, auditLogger)

	factory := sso.NewProviderFactory(cfg.Server.BaseURL, cfg.SSO.IdPTimeout, cfg.SSO.ClockSkew)
	providerCache, err := sso.NewProviderCache(factory, providerCacheSize)
	if err != nil {
		logger.WithError(err).Error("provider cache init failed")
		os.Exit(1)
	}
	engine := sso.NewEngine(ssoStorage, providerCache,
		sso.NewRequestTracker(redisClient, cfg.SSO.RequestWindow),
		sso.NewProvisioner(userStore, workspaceStore, auditLogger, metrics),
		auditLogger, metrics)

	server := api.NewServer(api.Deps{
		Identity:       identitySvc,
		Tokens:         tokenSvc,
		Workspaces:     workspaceSvc,
		SSOEngine:      engine,
		SSOStorage:     ssoStorage,
		Audit:          auditLogger,
		Metrics:        metrics,
		Redis:          redisClient,
		TracingEnabled: cfg.Observability.OTelEnabled,
		LoginRateLimit: cfg.RateLimit.Enabled,
	})

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@daily", func() {
		purgeCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		purged, err := auditLogger.PurgeOlderThan(purgeCtx, auditRetention)
		if err != nil {
			logger.WithError(err).Warn("audit purge failed")
			return
		}
		logger.WithField("purged", purged).Info("audit events purged")
	}); err != nil {
		logger.WithError(err).Error("cron setup failed")
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	health := observability.NewHealthHandler(
		observability.HealthCheck{Name: "postgres", Check: db.PingContext},
		observability.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}},
	)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Live)
	healthMux.HandleFunc("/readyz", health.Ready)
	if metrics != nil {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	go func() {
		logger.WithField("addr", apiServer.Addr).Info("atrium listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("server failed")
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("api shutdown incomplete")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("health shutdown incomplete")
	}
	if otel != nil {
		if err := otel.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("otel shutdown incomplete")
		}
	}
}
