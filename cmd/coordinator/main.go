// Package main runs the StrandCast Coordinator: the root admission process
// that registers Subcoordinators and dispatches batches of peers to them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/strandcast/strandcast/internal/config"
	"github.com/strandcast/strandcast/internal/coordinator"
	"github.com/strandcast/strandcast/internal/logging"
)

func main() {
	configPath := flag.String("config", "/etc/strandcast/coordinator.yaml", "path to coordinator config file")
	flag.Parse()

	cfg, err := config.LoadCoordinatorConfig(*configPath)
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

	if err := coordinator.Run(ctx, cfg, logger); err != nil {
		logger.Error("coordinator error", "error", err)
		os.Exit(1)
	}
}
