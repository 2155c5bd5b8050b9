// Package main runs a StrandCast Peer: it registers with a Coordinator,
// receives video frames relayed down its strand, and plays them back in
// strict per-video order while forwarding to its own next-hop peers.
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
	"github.com/strandcast/strandcast/internal/peer"
)

func main() {
	configPath := flag.String("config", "/etc/strandcast/peer.yaml", "path to peer config file")
	flag.Parse()

	cfg, err := config.LoadPeerConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	baseLogger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	logger, peerLogCloser, peerLogPath, err := logging.NewPeerLogger(baseLogger, cfg.LogDir, cfg.Name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening peer log: %v\n", err)
		os.Exit(1)
	}
	defer peerLogCloser.Close()
	if peerLogPath != "" {
		logger.Info("writing per-peer log", "path", peerLogPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := peer.Run(ctx, cfg, logger); err != nil {
		logger.Error("peer error", "error", err)
		os.Exit(1)
	}
}
