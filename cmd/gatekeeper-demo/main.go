// Package main runs a demo web app whose pages are protected by a
// gatekeeper Gate.
//
// Without REDIS_ADDR it starts an in-process miniredis; with DATABASE_URL
// profiles live in PostgreSQL and change notifications arrive over
// LISTEN/NOTIFY. With KAFKA_BROKERS audit events are published to Kafka.
//
// Endpoints:
//
//	POST /auth/register             JSON {"email":"...","password":"..."}
//	POST /auth/sign-in              sets the gk_token cookie
//	POST /auth/sign-out
//	POST /auth/verify-email         JSON {"token":"..."}
//	POST /auth/verify-email/request
//	GET  /dashboard                 full guard chain
//	GET  /beta                      requires the "beta" feature flag
//	GET  /api/me                    the combined user as JSON
//	GET  /api/me/events             server-sent events of the combined user
//	POST /admin/users/{id}/approve  admin only; also block, unblock, PUT roles
//	GET  /metrics                   Prometheus
//
// Run:
//
//	JWT_SECRET=0123456789abcdef0123456789abcdef ADMIN_EMAIL=root@example.com \
//	  go run ./cmd/gatekeeper-demo
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/zsportal/gatekeeper"
	"github.com/zsportal/gatekeeper/internal/audit"
	"github.com/zsportal/gatekeeper/internal/config"
	"github.com/zsportal/gatekeeper/internal/logger"
	"github.com/zsportal/gatekeeper/metrics/export/prometheus"
	"github.com/zsportal/gatekeeper/middleware"
	"github.com/zsportal/gatekeeper/profile/pgstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.Setup(os.Stdout, logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------- redis ----------
	redisAddr := cfg.RedisAddr
	if redisAddr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		defer mr.Close()
		redisAddr = mr.Addr()
		log.Info("using in-process miniredis", slog.String("addr", redisAddr))
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	builder := gatekeeper.New().
		WithConfig(gateConfig(cfg)).
		WithRedis(rdb).
		WithLogger(log)

	// ---------- postgres profiles ----------
	if cfg.DatabaseURL != "" {
		if err := pgstore.RunMigrations(cfg.DatabaseURL); err != nil {
			return err
		}
		db, err := pgstore.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		profiles := pgstore.New(db, pgstore.PgxListener{DatabaseURL: cfg.DatabaseURL})
		defer profiles.Close()
		builder.WithProfileStore(profiles)
		log.Info("profiles stored in postgres")
	}

	// ---------- kafka audit ----------
	if len(cfg.KafkaBrokers) > 0 {
		client, err := audit.NewKafkaClient(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return fmt.Errorf("kafka client: %w", err)
		}
		defer func() {
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Flush(fctx); err != nil {
				log.Warn("kafka flush failed", slog.String("error", err.Error()))
			}
			client.Close()
		}()
		sink := gatekeeper.NewKafkaSink(client, cfg.KafkaTopic)
		sink.OnError = func(err error) {
			log.Warn("audit publish failed", slog.String("error", err.Error()))
		}
		builder.WithAuditSink(sink)
	}

	gate, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build gate: %w", err)
	}
	defer gate.Close()

	metricsHandler, err := prometheus.Handler(gate)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:              rate.Limit(cfg.RateLimitPerSecond),
		Burst:             cfg.RateLimitBurst,
		CleanupInterval:   5 * time.Minute,
		TrustForwardedFor: cfg.TrustProxy,
	})
	defer limiter.Stop()

	srv := &http.Server{
		Addr: ":" + cfg.ServerPort,
		Handler: (&server{
			gate:         gate,
			logger:       log,
			cookieSecure: cfg.CookieSecure,
			trustProxy:   cfg.TrustProxy,
			metrics:      metricsHandler,
			limiter:      limiter,
		}).routes(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", slog.String("addr", srv.Addr), slog.String("base_url", cfg.BaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

func gateConfig(cfg *config.Config) gatekeeper.Config {
	gc := gatekeeper.DefaultConfig()
	gc.JWT.SigningMethod = "hs256"
	gc.JWT.PrivateKey = []byte(cfg.JWTSecret)
	gc.JWT.Issuer = cfg.JWTIssuer
	gc.JWT.AccessTTL = cfg.AccessTTL
	gc.Session.TTL = cfg.SessionTTL
	gc.Guard.ProfileTimeout = cfg.ProfileTimeout
	gc.SignIn.MaxAttempts = cfg.MaxSignInAttempts
	gc.SignIn.EnableIPThrottle = true
	gc.Audit.BufferSize = cfg.AuditBuffer
	gc.Metrics.Enabled = true
	gc.Metrics.EnableLatencyHistograms = true
	gc.Account.AutoApprove = cfg.AutoApprove
	if cfg.AdminEmail != "" {
		gc.Account.AdminEmails = []string{cfg.AdminEmail}
	}
	return gc
}
