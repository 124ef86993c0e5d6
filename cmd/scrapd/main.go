// Package main runs the ScrapCrafters settlement API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ScrapCrafters/scrap_layer/internal/app"
	"github.com/ScrapCrafters/scrap_layer/internal/app/httpapi"
	"github.com/ScrapCrafters/scrap_layer/internal/config"
	"github.com/ScrapCrafters/scrap_layer/internal/logging"
)

func main() {
	envFile := flag.String("env", ".env", "Path to an optional .env file")
	flag.Parse()

	if err := run(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "scrapd: %v\n", err)
		os.Exit(1)
	}
}

func run(envFile string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}

	log := logging.NewWithConfig("scrapd", logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backends, err := app.OpenBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := backends.Close(); err != nil {
			log.WithError(err).Warn("close backends")
		}
	}()

	opts, err := app.OptionsFromConfig(cfg, true)
	if err != nil {
		return err
	}
	application, err := app.New(backends.Stores, opts, log)
	if err != nil {
		return err
	}

	handlerCfg := httpapi.Config{
		AuthSecret:  cfg.Auth.JWTSecret,
		CORSOrigins: cfg.CORS.Origins(),
		Logger:      log,
	}
	if cfg.RateLimit.Enabled {
		handlerCfg.RateLimit = &httpapi.RateLimit{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}
	}
	if cfg.Auth.JWTSecret == "" {
		log.Warn("SUPABASE_JWT_SECRET not set; bearer tokens are not verified")
	}

	server := httpapi.NewServer(httpapi.ServerConfig{
		Addr:         cfg.Server.Addr(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, httpapi.NewHandler(application, handlerCfg), log)
	if err := application.Attach(server); err != nil {
		return err
	}

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	log.WithField("addr", server.Addr()).Info("scrapd started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case serveErr = <-server.Done():
		log.WithError(serveErr).Error("http server exited")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("stop")
	}
	log.Info("scrapd stopped")
	return serveErr
}
