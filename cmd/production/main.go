// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package main provides a production-ready fProxy deployment example
// with metrics, health checks, a send circuit breaker, hook sampling,
// a WebSocket tap and a Redis audit stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/absmach/fproxy"
	"github.com/absmach/fproxy/examples/simple"
	"github.com/absmach/fproxy/pkg/breaker"
	"github.com/absmach/fproxy/pkg/health"
	"github.com/absmach/fproxy/pkg/hook"
	"github.com/absmach/fproxy/pkg/hook/audit"
	"github.com/absmach/fproxy/pkg/hook/wstap"
	"github.com/absmach/fproxy/pkg/metrics"
	"github.com/absmach/fproxy/pkg/proxy"
	"github.com/absmach/fproxy/pkg/ratelimit"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const envPrefix = "FPROXY_"

// Config holds the application configuration.
type Config struct {
	// Observability
	MetricsPort int    `env:"METRICS_PORT" envDefault:"9090"`
	HealthPort  int    `env:"HEALTH_PORT"  envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL"    envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT"   envDefault:"json"`

	// Resource Limits
	MaxGoroutines int `env:"MAX_GOROUTINES" envDefault:"50000"`

	// Circuit Breaker
	BreakerMaxFailures  int           `env:"BREAKER_MAX_FAILURES"  envDefault:"5"`
	BreakerResetTimeout time.Duration `env:"BREAKER_RESET_TIMEOUT" envDefault:"10s"`

	// Hook sampling, per topic
	SampleRate  float64 `env:"SAMPLE_RATE"  envDefault:"100"`
	SampleBurst int     `env:"SAMPLE_BURST" envDefault:"200"`

	// WebSocket tap, disabled when 0
	TapPort int `env:"TAP_PORT" envDefault:"0"`

	// Redis audit stream, disabled when empty
	RedisURL    string `env:"REDIS_URL"     envDefault:""`
	AuditStream string `env:"AUDIT_STREAM"  envDefault:"fproxy:messages"`
	AuditMaxLen int64  `env:"AUDIT_MAX_LEN" envDefault:"10000"`
	AuditBuffer int    `env:"AUDIT_BUFFER"  envDefault:"1024"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

func main() {
	// Load configuration
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file found, using environment variables")
	}
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse config: %v\n", err)
		os.Exit(1)
	}
	proxyCfg, err := fproxy.NewConfig(env.Options{Prefix: envPrefix})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse proxy config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("Starting fProxy in production mode",
		slog.String("inbound", proxyCfg.InboundAddress),
		slog.String("outbound", proxyCfg.OutboundAddress))

	m := metrics.New("fproxy", prometheus.DefaultRegisterer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	// Create circuit breaker guarding the outbound endpoint
	cb := breaker.New(breaker.Config{
		MaxFailures:      cfg.BreakerMaxFailures,
		ResetTimeout:     cfg.BreakerResetTimeout,
		SuccessThreshold: 2,
	})
	cb.OnStateChange(func(from, to breaker.State) {
		logger.Warn("Circuit breaker state changed",
			slog.String("from", from.String()),
			slog.String("to", to.String()))
		m.CircuitBreakerState.WithLabelValues(proxyCfg.OutboundAddress).Set(float64(to))
		if to == breaker.StateOpen {
			m.CircuitBreakerTrips.WithLabelValues(proxyCfg.OutboundAddress).Inc()
		}
	})

	// Per-topic sampling of the logging hook
	limiter := ratelimit.New(ratelimit.Config{Rate: cfg.SampleRate, Burst: cfg.SampleBurst})
	defer limiter.Close()

	hooks := []hook.Hook{
		&SampledHook{
			name:    "log",
			hook:    simple.New(logger),
			limiter: limiter,
			metrics: m,
			logger:  logger,
		},
	}

	healthChecker := health.NewChecker(time.Second)

	if cfg.TapPort > 0 {
		tap := wstap.New(wstap.Config{Logger: logger})
		hooks = append(hooks, tap)
		registerTapMetrics(m, tap)

		mux := http.NewServeMux()
		mux.Handle("/tap", tap)
		g.Go(func() error {
			defer tap.Close()
			return serveHTTP(ctx, "tap", cfg.TapPort, mux, cfg.ShutdownTimeout, logger)
		})
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("Invalid Redis URL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		client := redis.NewClient(opts)
		defer client.Close()

		auditor := audit.New(client, audit.Config{
			Stream: cfg.AuditStream,
			MaxLen: cfg.AuditMaxLen,
			Buffer: cfg.AuditBuffer,
			Logger: logger,
		})
		hooks = append(hooks, auditor)
		registerAuditMetrics(m, auditor)

		healthChecker.Register("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		g.Go(func() error {
			return auditor.Run(ctx)
		})
	}

	pcfg := proxyCfg.Proxy()
	pcfg.Logger = logger
	pcfg.Metrics = m
	pcfg.Breaker = cb

	p, err := proxy.NewZMQ(pcfg, hook.Chain(hooks...))
	if err != nil {
		logger.Error("Failed to create forwarding proxy", slog.String("error", err.Error()))
		os.Exit(1)
	}

	healthChecker.RegisterCritical("proxy", func(ctx context.Context) error {
		if s := p.State(); s != proxy.StateRunning {
			return fmt.Errorf("proxy is %s", s)
		}
		return nil
	})
	healthChecker.Register("goroutines", func(ctx context.Context) error {
		count := runtime.NumGoroutine()
		m.GoroutinesActive.WithLabelValues("all").Set(float64(count))
		if count > cfg.MaxGoroutines {
			return fmt.Errorf("too many goroutines: %d > %d", count, cfg.MaxGoroutines)
		}
		return nil
	})
	healthChecker.Register("memory", func(ctx context.Context) error {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		m.MemoryAllocated.WithLabelValues("heap").Set(float64(stats.HeapAlloc))
		m.MemoryAllocated.WithLabelValues("sys").Set(float64(stats.Sys))
		return nil
	})

	g.Go(func() error {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		return serveHTTP(ctx, "metrics", cfg.MetricsPort, mux, cfg.ShutdownTimeout, logger)
	})
	g.Go(func() error {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", healthChecker.HTTPHandler())
		mux.HandleFunc("/ready", healthChecker.ReadinessHandler())
		mux.HandleFunc("/live", health.LivenessHandler())
		return serveHTTP(ctx, "health", cfg.HealthPort, mux, cfg.ShutdownTimeout, logger)
	})
	g.Go(func() error {
		return p.Listen(ctx)
	})

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Error("Shutdown error", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("Graceful shutdown completed")
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout exceeded, forcing exit")
		os.Exit(1)
	}
}

// setupLogger creates a structured logger with the specified level and format.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// serveHTTP runs an HTTP server until ctx is done.
func serveHTTP(ctx context.Context, name string, port int, handler http.Handler, shutdownTimeout time.Duration, logger *slog.Logger) error {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server", slog.String("server", name), slog.String("address", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s server: %w", name, err)
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
