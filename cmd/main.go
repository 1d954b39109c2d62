// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/absmach/fproxy"
	"github.com/absmach/fproxy/examples/simple"
	"github.com/absmach/fproxy/pkg/hook"
	"github.com/absmach/fproxy/pkg/proxy"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

const envPrefix = "FPROXY_"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	logger := slog.New(logHandler)

	// Create hook
	h := simple.New(logger)

	// Load .env file
	if err := godotenv.Load(); err != nil {
		logger.Warn("no .env file found, using environment variables")
	}

	if err := startProxy(g, ctx, envPrefix, h, logger); err != nil {
		logger.Error("forwarding proxy not started", slog.String("error", err.Error()))
		cancel()
		os.Exit(1)
	}

	// Signal handler
	g.Go(func() error {
		return StopSignalHandler(ctx, cancel, logger)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("fProxy service terminated with error: %s", err))
	} else {
		logger.Info("fProxy service stopped")
	}
}

func startProxy(g *errgroup.Group, ctx context.Context, envPrefix string, h hook.Hook, logger *slog.Logger) error {
	cfg, err := fproxy.NewConfig(env.Options{Prefix: envPrefix})
	if err != nil {
		return err
	}

	pcfg := cfg.Proxy()
	pcfg.Logger = logger

	p, err := proxy.NewZMQ(pcfg, h)
	if err != nil {
		return err
	}

	g.Go(func() error {
		return p.Listen(ctx)
	})

	logger.Info("forwarding proxy started",
		slog.String("prefix", envPrefix),
		slog.String("inbound", cfg.InboundAddress),
		slog.String("outbound", cfg.OutboundAddress))
	return nil
}

func StopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM, syscall.SIGABRT)
	select {
	case <-c:
		logger.Info("received shutdown signal")
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
