package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/KotFed0t/portfolio_ledger_api/config"
	"github.com/KotFed0t/portfolio_ledger_api/data"
	"github.com/KotFed0t/portfolio_ledger_api/data/cache"
	"github.com/KotFed0t/portfolio_ledger_api/data/repository/postgres"
	"github.com/KotFed0t/portfolio_ledger_api/data/session"
	"github.com/KotFed0t/portfolio_ledger_api/internal/externalApi/cloudStorageApi/googleDriveApi"
	"github.com/KotFed0t/portfolio_ledger_api/internal/externalApi/marketdataApi"
	"github.com/KotFed0t/portfolio_ledger_api/internal/reportGenerator/xlsxGenerator"
	"github.com/KotFed0t/portfolio_ledger_api/internal/scheduler"
	"github.com/KotFed0t/portfolio_ledger_api/internal/service/ledgerService"
	"github.com/KotFed0t/portfolio_ledger_api/internal/transport/rest"
)

func main() {
	cfg := config.MustLoad()

	setupLogger(cfg)

	slog.Debug("config", slog.Any("cfg", cfg))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pgClient := data.NewPostgresClient(cfg)
	defer pgClient.Close()

	pgRepo := postgres.NewPostgres(cfg, pgClient)

	redisClient := data.NewRedisClient(cfg)
	defer redisClient.Close()

	redisCache := cache.NewRedisCache(redisClient, cfg)
	redisSession := session.NewRedisSession(redisClient, cfg)

	marketdataApiClient := marketdataApi.New(cfg)

	reportGenerator := xlsxGenerator.New()

	googleCloudStorage := googleDriveApi.New(ctx, cfg)

	ledgerSrv := ledgerService.New(cfg, pgRepo, redisCache, marketdataApiClient, reportGenerator, googleCloudStorage)

	sched := scheduler.New()
	sched.NewIntervalJob("warm price cache", ledgerSrv.WarmPriceCache, cfg.Jobs.WarmPriceCacheInterval, true)
	sched.NewIntervalJob("drive cleanup", googleCloudStorage.DeleteOldFiles, cfg.Jobs.DriveCleanupInterval, false)
	sched.Start()
	defer sched.Stop()

	ctrl := rest.NewController(ledgerSrv, redisSession)
	router := rest.NewRouter(cfg, ctrl, redisSession)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		slog.Info("http server starting", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", slog.String("err", err.Error()))
			cancel()
		}
	}()

	// Waiting interruption signal
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	select {
	case <-interrupt:
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", slog.String("err", err.Error()))
	}
}

func setupLogger(cfg *config.Config) {
	var logLevel slog.Level

	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(log)
}
