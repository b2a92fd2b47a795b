package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/beaconhq/beacon/pkg/async"
	"github.com/beaconhq/beacon/pkg/authn"
	"github.com/beaconhq/beacon/pkg/authz"
	"github.com/beaconhq/beacon/pkg/config"
	"github.com/beaconhq/beacon/pkg/gate"
	"github.com/beaconhq/beacon/pkg/httputil"
	"github.com/beaconhq/beacon/pkg/observability"
	"github.com/beaconhq/beacon/pkg/presence"
	"github.com/beaconhq/beacon/pkg/store"
	"github.com/beaconhq/beacon/pkg/token"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Service exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// User accounts live in SQLite; token records in the expiring store.
	users, err := authn.NewUserStore(cfg.Auth.UsersDBPath)
	if err != nil {
		return err
	}
	defer users.Close()

	records, redisClient, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	tokens, err := token.NewManager(
		records,
		[]byte(cfg.Auth.SigningKey),
		cfg.Auth.AccessTTL,
		cfg.Auth.RefreshTTL,
		users.RolesFor,
		logger,
		token.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	hub := presence.NewHub(logger, presence.WithHubMetrics(metrics))

	records.OnExpired(expiryCascade(ctx, logger, metrics, hub))

	authSvc := authn.NewService(users, tokens, hub, records, cfg.Auth.ResetTTL, logger)
	admission := gate.NewGate(tokens, hub, logger, metrics)
	wsHandler := gate.NewHandler(admission, hub, logger, gate.WithWriteTimeout(cfg.Presence.WriteTimeout))

	router := buildRouter(cfg, logger, metrics, tokens, authSvc, wsHandler)

	apiServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var metricsHandler http.Handler
	if cfg.Observability.MetricsEnabled {
		metricsHandler = observability.Handler(registry)
	}
	checker := observability.NewHealthChecker(users.DB(), redisClient)
	healthServer := observability.NewHealthServer(cfg.Server.Host+":"+cfg.Server.HealthPort, checker, metricsHandler)

	// Heartbeat: ping every live connection on a fixed schedule; sessions
	// that fail the ping are evicted by the hub.
	scheduler := cron.New()
	heartbeat := func() {
		defer observability.RecoverPanic(logger, "presence heartbeat")
		hub.PingAll()
	}
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.Presence.HeartbeatInterval), heartbeat); err != nil {
		return fmt.Errorf("failed to schedule heartbeat: %w", err)
	}
	scheduler.Start()

	shutdown := observability.NewShutdownManager(logger, apiServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(shutdownCtx context.Context) error {
		return healthServer.Shutdown(shutdownCtx)
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		<-scheduler.Stop().Done()
		return nil
	})
	if closer, ok := records.(interface{ Close() error }); ok {
		shutdown.RegisterShutdownFunc(func(context.Context) error {
			return closer.Close()
		})
	}

	var g errgroup.Group
	g.Go(func() error {
		logger.Infof("API server listening on %s", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("Health server listening on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(shutdown.WaitForShutdown)

	return g.Wait()
}

// expiryCascade builds the TTL-eviction handler. Evictions are counted,
// and a session whose access token aged out is disconnected instead of
// lingering until the next ping. The drop runs off the store's eviction
// goroutine since it fans out broadcasts to every remaining connection.
func expiryCascade(
	ctx context.Context,
	logger *observability.Logger,
	metrics *observability.Metrics,
	hub *presence.Hub,
) store.ExpiryFunc {
	return func(rec store.ExpiredRecord) {
		switch rec.Kind {
		case store.ExpiredToken:
			if metrics != nil {
				metrics.StoreExpiriesTotal.WithLabelValues(string(rec.Token.Kind)).Inc()
			}
			if rec.Token.Kind == store.KindAccess {
				email := rec.Token.Email
				async.SafeGo(ctx, 10*time.Second, func(err error) {
					logger.WithError(err).Error("Presence cleanup after token expiry failed")
				}, func(context.Context) error {
					hub.Drop(email)
					return nil
				})
			}
		case store.ExpiredPasswordReset:
			if metrics != nil {
				metrics.StoreExpiriesTotal.WithLabelValues("password_reset").Inc()
			}
		}
	}
}

// buildStore selects the token store backend. Redis when configured,
// otherwise the in-process store; both deliver TTL eviction events.
func buildStore(ctx context.Context, cfg *config.Config, logger *observability.Logger) (store.Store, *redis.Client, error) {
	if cfg.Store.RedisURL == "" {
		logger.Info("Using in-memory token store")
		return store.NewMemoryStore(), nil, nil
	}

	rs, err := store.NewRedisStore(store.RedisConfig{
		URL:       cfg.Store.RedisURL,
		OpTimeout: cfg.Store.OpTimeout,
		IndexTTL:  cfg.Store.IndexTTL,
		DB:        cfg.Store.RedisDB,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := rs.Start(ctx); err != nil {
		return nil, nil, err
	}
	logger.Infof("Using Redis token store at %s", cfg.Store.RedisURL)
	return rs, rs.Client(), nil
}

func buildRouter(
	cfg *config.Config,
	logger *observability.Logger,
	metrics *observability.Metrics,
	tokens *token.Manager,
	authSvc *authn.Service,
	wsHandler *gate.Handler,
) http.Handler {
	table := authz.NewTable(
		authz.Rule{Method: http.MethodPost, Path: "/api/v1/auth/logout"},
		authz.Rule{Method: http.MethodGet, Path: "/api/v1/user/me"},
		authz.Rule{Method: http.MethodGet, Path: "/api/v1/admin/*", Roles: []string{authz.RoleAdmin}},
	)

	router := mux.NewRouter()
	router.Use(httputil.RecoveryMiddleware(logger))
	router.Use(httputil.CORSMiddleware)
	router.Use(httputil.LoggingMiddleware(logger, metrics))
	router.Use(authz.Middleware(table, tokens, logger))

	api := router.PathPrefix("/api/v1").Subrouter()

	// Per-IP limiter over the API, mainly to slow down credential guessing.
	limiter := httputil.NewRateLimiter(httputil.DefaultRateLimitConfig())
	limiter.StartCleanup(context.Background())
	api.Use(httputil.RateLimitMiddleware(limiter))

	authn.NewHandlers(authSvc, logger).RegisterRoutes(api)

	// Websocket handshake carries its credential in the query string, so
	// it stays outside the bearer-token route table.
	router.Handle("/ws", wsHandler)

	return router
}
