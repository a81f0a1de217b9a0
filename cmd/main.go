package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"qc-vision/config"
	"qc-vision/internal/container"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (overrides QC_CONFIG)")
	autostart := flag.Bool("autostart", false, "start the station right after launch")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Собираем станцию и внешние интерфейсы
	c, err := container.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build application", "error", err)
		os.Exit(1)
	}

	if *autostart {
		if err := c.Station.Start(); err != nil {
			logger.Error("autostart failed", "error", err)
		}
	}

	logger.Info("qc station is running",
		"camera", cfg.Camera,
		"device", cfg.DeviceID,
		"ng_labels", cfg.NGLabels,
		"debounce", cfg.DebounceWindow)

	runErr := c.Run(ctx)
	if runErr != nil {
		logger.Error("service failed", "error", runErr)
	}

	logger.Info("shutting down")
	if err := c.Shutdown(); err != nil {
		logger.Error("shutdown finished with errors", "error", err)
		os.Exit(1)
	}
	if runErr != nil {
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
