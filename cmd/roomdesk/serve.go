package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/roomdesk/pkg/api"
	"github.com/platinummonkey/roomdesk/pkg/audit"
	"github.com/platinummonkey/roomdesk/pkg/auth"
	"github.com/platinummonkey/roomdesk/pkg/middleware"
	"github.com/platinummonkey/roomdesk/pkg/observability"
	"github.com/platinummonkey/roomdesk/pkg/rbac"
)

const dbStatsInterval = 15 * time.Second

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", true, "apply pending migrations before serving")
}

func runServe(ctx context.Context) error {
	tp, err := observability.InitTracing(ctx, cfg.Tracing.OTel(version), logger)
	if err != nil {
		return err
	}

	db, dialect, err := openDatabase(ctx, serveMigrate)
	if err != nil {
		return err
	}
	defer db.Close()

	client, err := newRedis(ctx)
	if err != nil {
		return err
	}

	mp, err := observability.InitMetrics(ctx, cfg.Tracing.OTel(version), logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)
	if mp != nil {
		mirror, err := observability.NewOTelMetrics()
		if err != nil {
			return err
		}
		metrics.WithOTel(mirror)
	}

	service, _, err := newAuthService(db, client, metrics)
	if err != nil {
		return err
	}

	upstream, err := api.NewResourceProxy(cfg.Upstream.URL, cfg.Upstream.Timeout)
	if err != nil {
		return err
	}
	if !upstream.Configured() {
		logger.Warn("no upstream configured, resource routes will answer 501")
	}

	trusted, err := cfg.RateLimit.TrustedProxyPrefixes()
	if err != nil {
		return err
	}

	server := api.NewServer(api.Options{
		DB:             db,
		Redis:          client,
		Service:        service,
		Store:          rbac.NewStore(db, metrics),
		Logger:         logger,
		Metrics:        metrics,
		Audit:          audit.NewStructuredLogger(logger),
		LoginLimiter:   newLoginLimiter(ctx, client),
		TrustedProxies: trusted,
		Upstream:       upstream,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		Version:        version,
		Tracing:        cfg.Tracing.Enabled,
	})

	servers := []*http.Server{
		server.HTTPServer(cfg.Server.Addr(), cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
	}
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		observability.RegisterMetricsEndpoint(mux, registry)
		servers = append(servers, &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Metrics.Port)),
			Handler:           mux,
			ReadHeaderTimeout: cfg.Server.ReadTimeout,
		})
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, servers...)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownTracing(ctx, tp, logger)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownMetrics(ctx, mp, logger)
	})
	if client != nil {
		shutdown.RegisterShutdownFunc(func(context.Context) error { return client.Close() })
	}

	if cfg.Auth.CleanupSchedule != "" {
		sweeper, err := auth.NewSweeper(service, cfg.Auth.CleanupSchedule, logger)
		if err != nil {
			return err
		}
		sweeper.Start()
		shutdown.RegisterShutdownFunc(sweeper.Stop)
	}

	logger.WithFields(map[string]interface{}{
		"addr":        cfg.Server.Addr(),
		"dialect":     string(dialect),
		"token_store": cfg.Auth.TokenStore,
		"version":     version,
	}).Info("starting roomdesk")

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			logger.WithField("addr", srv.Addr).Info("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server %s failed: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		recordDBStats(gctx, db, metrics)
		return nil
	})
	g.Go(func() error {
		return shutdown.WaitForShutdown(gctx)
	})

	return g.Wait()
}

// newLoginLimiter returns nil when rate limiting is disabled
func newLoginLimiter(ctx context.Context, client *redis.Client) middleware.Limiter {
	if !cfg.RateLimit.Enabled {
		return nil
	}

	limits := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RateLimit.LoginPerMinute,
		WindowDuration:    time.Minute,
	}
	if cfg.RateLimit.Backend == "redis" {
		return middleware.NewDistributedRateLimiter(client, limits, "")
	}

	limiter := middleware.NewRateLimiter(limits)
	limiter.StartCleanup(ctx)
	return limiter
}

func recordDBStats(ctx context.Context, db *sql.DB, metrics *observability.Metrics) {
	ticker := time.NewTicker(dbStatsInterval)
	defer ticker.Stop()

	for {
		metrics.RecordDBStats(db.Stats())
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
