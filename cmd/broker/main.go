package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/subscription-broker/internal/broker/config"
	"github.com/adred-codev/subscription-broker/internal/broker/core"
	"github.com/adred-codev/subscription-broker/internal/broker/logging"
	"github.com/adred-codev/subscription-broker/internal/broker/metrics"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: broker <port>")
		os.Exit(1)
	}
	port, err := strconv.ParseUint(os.Args[1], 10, 16)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid port %q: %v\n", os.Args[1], err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{Level: "info", Format: "json"}, "broker")

	cfg, err := config.Load(&logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger = logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}, "broker")
	cfg.LogConfig(logger)

	stats, registry := metrics.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("signal received, shutting down")
		cancel()
	}()

	go func() {
		if err := metrics.Serve(ctx, cfg.MetricsAddr, registry, logger); err != nil {
			logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()
	go metrics.SampleProcess(ctx, cfg.MetricsSampleInterval, stats, logger)

	addr := fmt.Sprintf(":%d", port)
	srv := core.New(logger, cfg, stats)
	if err := srv.ListenAndServe(ctx, addr, addr); err != nil {
		logger.Fatal().Err(err).Msg("broker failed to start")
	}

	logger.Info().Msg("broker exited cleanly")
}
