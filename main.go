package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/b0bbywan/go-portal-backend/backend"
	"github.com/b0bbywan/go-portal-backend/config"
	"github.com/b0bbywan/go-portal-backend/logger"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		logger.Fatal("[%s] Failed to load config: %v", config.AppName, err)
	}

	// Set log level from config
	logger.SetLevel(cfg.LogLevel)

	// Global context for the entire application
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize portals and bus connections
	b, err := backend.New(ctx, cfg)
	if err != nil {
		logger.Fatal("[%s] Backend initialization failed: %v", config.AppName, err)
	}

	// Export the portals and claim the bus name
	if err := b.Start(); err != nil {
		logger.Fatal("[%s] Backend start failed: %v", config.AppName, err)
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Debug("[%s] sd_notify not delivered: %v", config.AppName, err)
	}

	logger.Info("[%s] started", config.AppName)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("[%s] Shutdown signal received, stopping...", config.AppName)

	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		logger.Debug("[%s] sd_notify not delivered: %v", config.AppName, err)
	}

	// Cancel the global context - stops all listeners
	cancel()

	// Cleanup connections and portals
	b.Close()

	logger.Info("[%s] stopped", config.AppName)
}
