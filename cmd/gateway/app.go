package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/urbansense/trafficgw/internal/auth"
	"github.com/urbansense/trafficgw/internal/cache"
	"github.com/urbansense/trafficgw/internal/circuitbreaker"
	"github.com/urbansense/trafficgw/internal/config"
	"github.com/urbansense/trafficgw/internal/gateway"
	"github.com/urbansense/trafficgw/internal/middleware"
	"github.com/urbansense/trafficgw/internal/observability"
	"github.com/urbansense/trafficgw/internal/ratelimit"
	"github.com/urbansense/trafficgw/internal/ratelimit/store"
	"github.com/urbansense/trafficgw/internal/router"
)

// application wires the gateway components and owns their lifecycle.
type application struct {
	cfg    *config.Config
	logger observability.Logger

	server    *http.Server
	limiter   *ratelimit.Limiter
	responses *cache.ResponseCache
}

// newApplication assembles all gateway components from configuration.
func newApplication(cfg *config.Config, logger observability.Logger) (*application, error) {
	table, err := router.NewTable(cfg.Routes, logger)
	if err != nil {
		return nil, fmt.Errorf("building route table: %w", err)
	}

	authenticator, err := auth.NewAuthenticator(&cfg.Authentication, auth.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("building authenticator: %w", err)
	}

	limiter, err := buildLimiter(cfg, logger)
	if err != nil {
		return nil, err
	}

	responses, err := buildResponseCache(cfg, logger)
	if err != nil {
		return nil, err
	}

	breakers := circuitbreaker.NewRegistry(&cfg.CircuitBreaker, logger)

	gw := gateway.New(cfg, table, authenticator, limiter, responses, breakers,
		gateway.WithLogger(logger),
		gateway.WithVersion(version))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", handleHealthz)
	mux.Handle("/", middleware.Chain(gw,
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Logging(logger),
		middleware.CORS(&cfg.CORS),
	))

	server := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &application{
		cfg:       cfg,
		logger:    logger,
		server:    server,
		limiter:   limiter,
		responses: responses,
	}, nil
}

// buildLimiter creates the rate limiter with the configured storage.
func buildLimiter(cfg *config.Config, logger observability.Logger) (*ratelimit.Limiter, error) {
	if !cfg.RateLimiting.Enabled {
		return nil, nil
	}

	opts := []ratelimit.LimiterOption{ratelimit.WithLimiterLogger(logger)}

	if cfg.RateLimiting.Storage == config.StorageRedis {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s, err := store.NewRedisStore(ctx, store.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("connecting rate limit store: %w", err)
		}
		opts = append(opts, ratelimit.WithStore(s))
	}

	return ratelimit.NewLimiter(&cfg.RateLimiting, opts...), nil
}

// buildResponseCache creates the response cache with the configured backend.
func buildResponseCache(cfg *config.Config, logger observability.Logger) (*cache.ResponseCache, error) {
	var backend cache.Cache

	if cfg.Caching.Enabled && cfg.Caching.Storage == config.StorageRedis {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		c, err := cache.NewRedisCache(ctx, cache.RedisOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting cache backend: %w", err)
		}
		backend = c
	} else {
		backend = cache.NewMemoryCache(cfg.Caching.MaxEntries, logger)
	}

	return cache.NewResponseCache(backend, &cfg.Caching, logger), nil
}

// handleHealthz answers liveness probes.
func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Start runs the HTTP server until it stops.
func (a *application) Start() error {
	a.logger.Info("gateway listening",
		observability.String("address", a.server.Addr),
		observability.Int("routes", len(a.cfg.Routes)),
	)

	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and releases component resources.
func (a *application) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)

	if a.limiter != nil {
		_ = a.limiter.Close()
	}
	if a.responses != nil {
		_ = a.responses.Close()
	}

	return err
}
