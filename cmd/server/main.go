package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/KevinKickass/OpenSensorCore/internal/acquisition"
	"github.com/KevinKickass/OpenSensorCore/internal/config"
	"github.com/KevinKickass/OpenSensorCore/internal/storage"
	"github.com/KevinKickass/OpenSensorCore/internal/system"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	printConfig := flag.Bool("print-config", false, "print the effective configuration and exit")
	debug := flag.Bool("debug", false, "enable development logging")
	flag.Parse()

	newLogger := zap.NewProduction
	if *debug {
		newLogger = zap.NewDevelopment
	}
	logger, err := newLogger()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.String("path", *configPath), zap.Error(err))
	}

	if *printConfig {
		if err := config.Dump(os.Stdout, cfg); err != nil {
			logger.Fatal("Failed to print config", zap.Error(err))
		}
		return
	}

	if err := config.Validate(cfg); err != nil {
		logger.Fatal("Invalid config", zap.Error(err))
	}

	logger.Info("Config loaded successfully", zap.String("path", *configPath))

	ctx := context.Background()

	store, err := storage.Open(ctx, cfg, logger.Named("storage"))
	if err != nil {
		logger.Fatal("Failed to open result store",
			zap.String("backend", cfg.Storage.Backend),
			zap.Error(err))
	}

	opener := acquisition.ModbusOpener(cfg.Device, logger.Named("modbus"))
	lifecycle := system.NewLifecycleManager(store, cfg, opener, logger)

	if err := lifecycle.Start(); err != nil {
		logger.Fatal("Failed to start system", zap.Error(err))
	}

	logger.Info("OpenSensorCore started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
	case <-lifecycle.Done():
		// shut down through the API
		logger.Info("OpenSensorCore stopped successfully")
		return
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := lifecycle.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("OpenSensorCore stopped successfully")
}
