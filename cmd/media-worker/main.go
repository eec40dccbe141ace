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

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/tendant/simple-media/pkg/simplemedia/config"
)

func main() {
	envFile := flag.String("env", ".env", "dotenv file loaded before reading the environment")
	flag.Parse()

	if err := run(*envFile); err != nil {
		slog.Error("media-worker failed", "err", err)
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
	logger := cfg.BuildLogger(os.Stdout).With("component", "media-worker")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := cfg.Build(ctx, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	consumer, err := cfg.BuildConsumer(cfg.BuildRunner(rt.Service, logger), logger)
	if err != nil {
		return err
	}
	defer consumer.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("consuming ingestion jobs", "topic", cfg.Trigger.KafkaTopic, "group", cfg.Trigger.KafkaGroupID)
		return consumer.Run(gctx)
	})

	if h := rt.MetricsHandler(); h != nil {
		r := chi.NewRouter()
		r.Method(http.MethodGet, "/metrics", h)
		r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
		server := &http.Server{Addr: cfg.Metrics.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

		g.Go(func() error {
			logger.Info("metrics listening", "addr", cfg.Metrics.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("worker exiting")
	return nil
}
