package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/skytower/alignments/internal/composition"
	"github.com/skytower/alignments/internal/log"
	"github.com/skytower/alignments/internal/observability"
)

var logger = log.Logger()

func main() {
	ctx := context.Background()
	observer := observability.Observer()
	defer func() {
		if err := observer.Shutdown(ctx); err != nil {
			logger.Error("failed to shutdown observability", "error", err)
		}
	}()

	cfg := configFromEnv()

	app, err := composition.Build(ctx, cfg)
	if err != nil {
		logger.Error("failed to build composition root", "error", err)
		os.Exit(1)
	}

	app.PingBroker(ctx)

	go func() {
		if err := app.HTTPServer().Start(":" + cfg.Port); err != nil {
			logger.Error("http server stopped", "error", err)
		}
	}()
	logger.Info("alignments server started", "port", cfg.Port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received shutdown signal", "signal", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	app.Shutdown(shutdownCtx)

	logger.Info("alignments server stopped")
}

func configFromEnv() composition.Config {
	cfg := composition.DefaultConfig()

	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.RedisHost = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		cfg.RedisPort = v
	}
	cfg.DisableRedis = envBool("DISABLE_REDIS", false)
	cfg.DisableWorker = envBool("DISABLE_WORKER", false)
	cfg.EnableBackgroundScheduler = envBool("ENABLE_BACKGROUND_SCHEDULER", false)
	cfg.SkipDirectCalculation = envBool("SKIP_DIRECT_CALCULATION", false)

	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorkerConcurrency = n
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.SQLitePath = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		cfg.AdminToken = v
	}
	if v := os.Getenv("APEX_LATITUDE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ApexLatitude = f
		}
	}
	if v := os.Getenv("APEX_LONGITUDE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ApexLongitude = f
		}
	}

	return cfg
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
