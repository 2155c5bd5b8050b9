// Package main runs a StrandCast Subcoordinator: the process that owns one
// strand, admits peers forwarded by the Coordinator, and streams source
// videos down the strand frame-by-frame.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/strandcast/strandcast/internal/config"
	"github.com/strandcast/strandcast/internal/logging"
	"github.com/strandcast/strandcast/internal/subcoordinator"
)

func main() {
	configPath := flag.String("config", "/etc/strandcast/subcoordinator.yaml", "path to subcoordinator config file")
	flag.Parse()

	cfg, err := config.LoadSubcoordinatorConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := subcoordinator.Run(ctx, cfg, logger); err != nil {
		logger.Error("subcoordinator error", "error", err)
		os.Exit(1)
	}
}
