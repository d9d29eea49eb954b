package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/recimport/internal/config"
	"github.com/JonMunkholm/recimport/internal/importer"
	"github.com/JonMunkholm/recimport/internal/logging"
	"github.com/JonMunkholm/recimport/internal/schema"
	_ "github.com/JonMunkholm/recimport/internal/tables" // Register all tables
	"github.com/JonMunkholm/recimport/internal/web"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()
	resources := &importer.Resources{}
	defer resources.Close()

	var history *importer.History
	if cfg.Database.URL != "" {
		pool, err := connect(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		resources.Postgres = pool

		if cfg.Database.History {
			history = importer.NewHistory(pool)
			if err := history.EnsureSchema(ctx); err != nil {
				logger.Error("failed to prepare run history", "error", err)
				os.Exit(1)
			}
		}
	} else {
		logger.Warn("DATABASE_URL not set: postgres destinations and run history disabled")
	}

	logger.Info("tables registered", "count", schema.TableCount(), "groups", len(schema.Groups()))

	jobs, err := importer.LoadJobs(cfg.Import.JobsDir)
	if err != nil {
		logger.Error("failed to load jobs", "dir", cfg.Import.JobsDir, "error", err)
		os.Exit(1)
	}
	for _, j := range jobs {
		logger.Debug("job loaded", "job", j.Name, "table", j.Table, "destinations", len(j.Destinations))
	}
	logger.Info("jobs loaded", "count", len(jobs))

	service, err := importer.NewService(jobs, importer.Options{
		MaxConcurrentRuns:   cfg.Import.MaxConcurrentRuns,
		MaxWaitTime:         cfg.Import.MaxWaitTime,
		MaxConcurrentWrites: cfg.Import.MaxConcurrentWrites,
		Timeout:             cfg.Import.Timeout,
		ResultTTL:           cfg.Import.ResultTTL,
		Resources:           resources,
		History:             history,
		Logger:              logger,
	})
	if err != nil {
		logger.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	server := web.NewServer(service, history, *cfg, logger)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}

		if status := service.LimiterStatus(); status.Active > 0 {
			logger.Info("waiting for imports to complete", "active", status.Active)
			if err := service.WaitForRuns(shutdownCtx); err != nil {
				logger.Warn("imports did not complete in time, cancelling", "error", err)
				service.CancelAll()
				waitCtx, cancelWait := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
				defer cancelWait()
				if err := service.WaitForRuns(waitCtx); err != nil {
					logger.Error("imports still running at exit", "error", err)
				}
			} else {
				logger.Info("all imports completed")
			}
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-stopped
}

func connect(ctx context.Context, dc config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dc.URL)
	if err != nil {
		return nil, err
	}
	poolConfig.MaxConns = int32(dc.MaxConns)
	poolConfig.MinConns = int32(dc.MinConns)
	poolConfig.MaxConnLifetime = dc.MaxConnLifetime
	poolConfig.MaxConnIdleTime = dc.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if u, err := url.Parse(dc.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}
	return pool, nil
}
