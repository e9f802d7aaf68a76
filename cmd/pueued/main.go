package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/veyh/pueue/internal/config"
	"github.com/veyh/pueue/internal/daemon"
	"github.com/veyh/pueue/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	level := cfg.LogLevel
	if *verbose {
		level = "debug"
	}
	logger.Init(level, os.Getenv("ENV") != "production")

	log := logger.Get()
	log.Info().Str("dir", cfg.Shared.PueueDirectory).Msg("Starting daemon...")

	d, err := daemon.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize daemon")
	}

	// Shut down gracefully on SIGINT/SIGTERM: the scheduler kills all
	// children, waits for reaps, and persists a final snapshot.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Daemon failed")
	}

	log.Info().Msg("Daemon stopped")
}
