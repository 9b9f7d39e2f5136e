package main

import (
	"context"
	"net/http"
	"time"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/cache"
	"github.com/pitabwire/frame/cache/jetstreamkv"
	"github.com/pitabwire/frame/cache/valkey"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/frame/data"
	"github.com/pitabwire/util"

	rtconfig "github.com/hausops/service-realtime/apps/realtime/config"
	"github.com/hausops/service-realtime/apps/realtime/service/business"
	"github.com/hausops/service-realtime/apps/realtime/service/handlers"
	"github.com/hausops/service-realtime/apps/realtime/service/queues"
	"github.com/hausops/service-realtime/internal/auth"
	"github.com/hausops/service-realtime/internal/health"
)

const (
	gracefulShutdownTimeout = 30 * time.Second
	healthCheckTimeout      = 5 * time.Second
)

func main() {
	ctx := context.Background()

	// Initialize configuration
	cfg, err := config.LoadWithOIDC[rtconfig.RealtimeConfig](ctx)
	if err != nil {
		util.Log(ctx).With("err", err).Error("could not process configs")
		return
	}

	// Validate configuration (fail-fast on invalid config)
	if err = cfg.Validate(); err != nil {
		util.Log(ctx).With("err", err).Error("invalid configuration")
		return
	}

	if cfg.Name() == "" {
		cfg.ServiceName = "service_realtime"
	}

	rawCache, err := setupCache(ctx, cfg)
	if err != nil {
		util.Log(ctx).WithError(err).Fatal("could not setup cache")
	}

	// Create service
	ctx, svc := frame.NewServiceWithContext(ctx, frame.WithConfig(&cfg),
		frame.WithCache(cfg.CacheName, rawCache))
	defer svc.Stop(ctx)
	log := svc.Log(ctx)

	// Connection manager owns the registry, topic index, identity map and
	// broadcast fan-out.
	connectionManager := business.NewConnectionManager(
		ctx,
		rawCache,
		int32(cfg.MaxConnections),
		cfg.ConnectionTimeoutSec,
		cfg.HeartbeatIntervalSec,
		cfg.MaxEventsPerSecond,
	)
	// Graceful shutdown: drain connections and stop background tasks.
	// Defers run LIFO: connectionManager shuts down before svc.Stop.
	defer func() {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer drainCancel()
		connectionManager.DrainConnections(drainCtx)
		if shutdownErr := connectionManager.Shutdown(drainCtx); shutdownErr != nil {
			util.Log(drainCtx).WithError(shutdownErr).Error("connection manager shutdown error")
		}
	}()

	verifier := auth.NewJWTVerifier(cfg.TokenSigningSecret, cfg.TokenIssuer)

	realtimeEventQueueSubscriber := frame.WithRegisterSubscriber(
		cfg.QueueRealtimeEventDeliveryName, cfg.QueueRealtimeEventDeliveryURI,
		queues.NewRealtimeEventsQueueHandler(&cfg, connectionManager),
	)

	// HTTP surface: WebSocket upgrades, REST notify, health probes.
	mux := setupRoutes(connectionManager, verifier, rawCache)

	svc.Init(ctx, realtimeEventQueueSubscriber, frame.WithHTTPHandler(mux))

	err = svc.Run(ctx, "")
	if err != nil {
		log.WithError(err).Fatal("could not run server")
	}
}

func setupCache(_ context.Context, cfg rtconfig.RealtimeConfig) (cache.RawCache, error) {
	cacheDSN := data.DSN(cfg.CacheURI)

	cacheOptions := []cache.Option{
		cache.WithDSN(cacheDSN),
	}

	if cfg.CacheCredentialsFile != "" {
		cacheOptions = append(cacheOptions, cache.WithCredsFile(cfg.CacheCredentialsFile))
	}

	switch {
	case cacheDSN.IsNats():
		return jetstreamkv.New(cacheOptions...)
	case cacheDSN.IsRedis():
		return valkey.New(cacheOptions...)
	default:
		return cache.NewInMemoryCache(), nil
	}
}

func setupRoutes(
	connectionManager business.ConnectionManager,
	verifier auth.Verifier,
	rawCache cache.RawCache,
) http.Handler {
	wsHandler := handlers.NewWebSocketHandler(connectionManager, verifier)
	notifyHandler := handlers.NewNotifyHandler(connectionManager, verifier)

	healthHandler := health.NewHandler()
	healthHandler.AddChecker(health.NewCacheChecker(rawCache, healthCheckTimeout))

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.ServeAnonymous)
	mux.HandleFunc("/api/ws", wsHandler.ServeAuthenticated)
	mux.Handle("/api/websocket/notify", notifyHandler)
	mux.HandleFunc("/healthz", healthHandler.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	return mux
}
