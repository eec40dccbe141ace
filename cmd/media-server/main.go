package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tendant/simple-media/pkg/simplemedia/api"
	"github.com/tendant/simple-media/pkg/simplemedia/config"
)

func main() {
	envFile := flag.String("env", ".env", "dotenv file loaded before reading the environment")
	help := flag.Bool("help", false, "print the configuration reference")
	flag.Parse()

	if *help {
		fmt.Println(config.Usage())
		return
	}
	if err := run(*envFile); err != nil {
		slog.Error("media-server failed", "err", err)
		os.Exit(1)
	}
}

func run(envFile string) error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := cfg.BuildLogger(os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := cfg.Build(ctx, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	runner := cfg.BuildRunner(rt.Service, logger)
	dispatcher, drain, err := cfg.BuildDispatcher(runner, logger)
	if err != nil {
		return err
	}

	handler := api.NewHandler(rt.Service, dispatcher,
		api.WithLogger(logger),
		api.WithMaxUploadBytes(cfg.Media.MaxUploadBytes),
		api.WithBlobUploads(rt.BlobUploads),
		api.WithMetrics(rt.MetricsHandler()),
	)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("media-server starting",
			"port", cfg.Server.Port,
			"environment", cfg.Server.Environment,
			"storage", cfg.Storage.Backend,
			"records", cfg.Records.Backend,
			"trigger", cfg.Trigger.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "err", err)
	}
	if err := drain(shutdownCtx); err != nil {
		logger.Warn("ingestion runs still in flight at exit", "err", err)
	}
	logger.Info("server exiting")
	return nil
}
