package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/smartbiopk/cliamapp/internal/application"
	"github.com/smartbiopk/cliamapp/internal/config"
	"github.com/smartbiopk/cliamapp/internal/logging"
)

var signalNotify = signal.Notify

func main() {
	kingpinApp := kingpin.New("cliamapp", "Claim/expenses calculator and payment form generator for Maryam Nawaz Health Clinics")
	configFile := kingpinApp.Flag("config", "Path to YAML configuration file").String()
	port := kingpinApp.Flag("port", "HTTP port exposed by the service").String()
	adsFile := kingpinApp.Flag("ads-file", "Path to the YAML district ads inventory").String()
	backendsFlag := kingpinApp.Flag("analytics-backends", "Comma-separated usage analytics backends (none, memory, file, sqlite, postgres)").String()
	rateLimitRPSFlag := kingpinApp.Flag("rate-limit-rps", "Requests per second allowed (set 0 to disable)").Default("-1").Float64()
	rateLimitBurstFlag := kingpinApp.Flag("rate-limit-burst", "Burst capacity for rate limiter (set 0 to disable)").Default("-1").Int()
	debug := kingpinApp.Flag("debug", "Enable debug logging").Bool()

	kingpin.MustParse(kingpinApp.Parse(os.Args[1:]))

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(fmt.Sprintf("failed to load .env file: %v", err))
	}

	overrides := &config.CLIOverrides{
		ConfigFile: *configFile,
	}

	if *port != "" {
		overrides.Port = port
	}

	if *adsFile != "" {
		overrides.AdsFile = adsFile
	}

	if *backendsFlag != "" {
		overrides.AnalyticsBackends = backendsFlag
	}

	if *rateLimitRPSFlag >= 0 {
		overrides.RateLimitRPS = rateLimitRPSFlag
	}

	if *rateLimitBurstFlag >= 0 {
		overrides.RateLimitBurst = rateLimitBurstFlag
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger, err := logging.New(*debug)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	app, err := application.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	if err := app.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	shutdown(app, cfg.ShutdownGracePeriod, logger)
}

func shutdown(app *application.App, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := app.Server().Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}
