package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BenRachmiel/e4e/internal/artifact"
	"github.com/BenRachmiel/e4e/internal/config"
	"github.com/BenRachmiel/e4e/internal/configcache"
	"github.com/BenRachmiel/e4e/internal/executor"
	"github.com/BenRachmiel/e4e/internal/httpapi"
	"github.com/BenRachmiel/e4e/internal/jobs"
	"github.com/BenRachmiel/e4e/internal/portage"
	"github.com/BenRachmiel/e4e/internal/webhook"
)

func main() {
	_ = godotenv.Load()

	level := parseLogLevel(getenv("LOG_LEVEL", "INFO"))
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load(getenv("E4E_CONFIG", "config.yaml"))
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	addr := getenv("API_ADDR", cfg.Server.Addr)

	cache, err := configcache.New(cfg.Storage.ConfigCacheDir)
	if err != nil {
		slog.Error("failed to initialize config cache", "error", err)
		os.Exit(1)
	}

	stager := portage.NewStager(cfg.Portage.Root, cfg.Portage.BackupDir)
	packager := artifact.NewPackager(cfg.Portage.BinpkgDir, cfg.Storage.ArtifactDir)
	runner := executor.NewExecRunner()
	builder := jobs.NewEmergeBuilder(jobs.BuilderConfig{
		TimestampFile: cfg.Portage.TimestampFile,
		SyncMaxAge:    time.Duration(cfg.Portage.SyncMaxAgeHours) * time.Hour,
		EmergeJobs:    cfg.Portage.EmergeJobs,
		LoadAverage:   cfg.Portage.LoadAverage,
	}, runner, stager, packager)

	sender := webhook.NewHTTPSender(time.Duration(cfg.Webhook.TimeoutSec)*time.Second, cfg.Webhook.MaxRetries)
	streamer := jobs.NewLogStreamer()
	queue := jobs.NewQueue(cfg.Queue.Size, builder, sender, streamer)

	// The single worker loop. Builds mutate the shared host
	// environment, so there must never be more than one.
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	go queue.Run(workerCtx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           httpapi.NewRouter(queue, cache, streamer),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	stopWorker()
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "DEBUG", "debug":
		return slog.LevelDebug
	case "WARN", "warning", "warn":
		return slog.LevelWarn
	case "ERROR", "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
