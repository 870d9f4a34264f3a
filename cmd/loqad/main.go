// Command loqad runs the render daemon: the session controller behind the
// NATS bus service and the HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-render/internal/config"
	"github.com/loqalabs/loqa-render/internal/runtime"
)

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "loqa-render.yaml", "Path to the render daemon configuration (LOQA_* variables override it)")
	flag.BoolVar(&showVersion, "version", false, "Print the loqad version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("loqad %s\n", runtime.Version)
		return
	}

	bootLog := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	cfg, err := config.Load(configPath)
	if err != nil {
		bootLog.Error("failed to load config", slog.String("path", configPath), slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := runtime.NewLogger(cfg.Telemetry, os.Stdout, true).With(slog.String("runtime", cfg.RuntimeName))
	logger.Info("starting render daemon",
		slog.String("version", runtime.Version),
		slog.String("config", configPath),
		slog.String("engine_mode", cfg.Engine.Mode),
		slog.String("g2p_mode", cfg.G2P.Mode),
		slog.String("temp_root", cfg.Render.TempRoot),
		slog.Bool("bus_service", cfg.Service.Enabled))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runtime.New(cfg, logger).Start(ctx); err != nil {
		logger.Error("render daemon exited with error", slog.String("error", err.Error()))
		// Give the batch span exporter a moment to flush before exiting.
		time.Sleep(time.Second)
		os.Exit(1)
	}

	logger.Info("render daemon stopped")
}
