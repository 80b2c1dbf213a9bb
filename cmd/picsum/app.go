package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/picsum-client/internal/config"
	"github.com/Sternrassler/picsum-client/pkg/cache"
	"github.com/Sternrassler/picsum-client/pkg/client"
	"github.com/Sternrassler/picsum-client/pkg/metrics"
	"github.com/Sternrassler/picsum-client/pkg/pagination"
	"github.com/Sternrassler/picsum-client/pkg/resolver"
	"github.com/Sternrassler/picsum-client/pkg/worker"
)

// app holds the wired components shared by all commands.
type app struct {
	cfg         config.Config
	client      *client.Client
	pool        *worker.Pool
	store       cache.Store
	redis       *redis.Client
	coordinator *pagination.Coordinator
	resolver    *resolver.Resolver
	metricsSrv  *http.Server
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	c, err := client.New(cfg.Client())
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	a := &app{cfg: cfg, client: c}

	if cfg.RedisURL != "" {
		rdb, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			c.Close()
			return nil, err
		}
		store := cache.NewRedisStore(rdb, cache.DefaultRedisPrefix)
		if err := store.Ping(ctx); err != nil {
			rdb.Close()
			c.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		log.Info().Str("redis", redactURL(cfg.RedisURL)).Msg("Using Redis image cache")
		a.redis = rdb
		a.store = store
	} else {
		a.store = cache.NewMemoryStore()
	}

	a.pool = worker.New(c, cfg.Pool())
	a.coordinator = pagination.NewCoordinator(c, cfg.Pagination())
	a.resolver = resolver.New(a.store, a.pool, resolver.DefaultConfig())

	if cfg.MetricsAddr != "" {
		a.startMetrics(cfg.MetricsAddr)
	}

	return a, nil
}

// newRedisClient accepts a redis:// URL or a bare host:port address.
func newRedisClient(raw string) (*redis.Client, error) {
	if !strings.Contains(raw, "://") {
		return redis.NewClient(&redis.Options{Addr: raw}), nil
	}
	opts, err := redis.ParseURL(raw)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func redactURL(raw string) string {
	if at := strings.LastIndex(raw, "@"); at >= 0 {
		if scheme := strings.Index(raw, "://"); scheme >= 0 && scheme < at {
			return raw[:scheme+3] + "***" + raw[at:]
		}
	}
	return raw
}

func (a *app) startMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	a.metricsSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info().Str("addr", addr).Msg("Metrics endpoint listening")
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("Metrics endpoint failed")
		}
	}()
}

// newCoordinator returns a coordinator with its own session state, sharing
// the client.
func (a *app) newCoordinator() *pagination.Coordinator {
	return pagination.NewCoordinator(a.client, a.cfg.Pagination())
}

// ping checks the Redis connection when one is configured.
func (a *app) ping(ctx context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Ping(ctx).Err()
}

// Close releases all components.
func (a *app) Close() {
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		a.metricsSrv.Shutdown(ctx)
		cancel()
	}
	a.pool.Close()
	if a.redis != nil {
		a.redis.Close()
	}
	a.client.Close()
}
