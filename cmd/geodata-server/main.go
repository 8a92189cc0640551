package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/openterra/geodata-tools/internal/core/config"
	"github.com/openterra/geodata-tools/internal/core/executor"
	"github.com/openterra/geodata-tools/internal/core/observability"
	"github.com/openterra/geodata-tools/internal/core/router"
	"github.com/openterra/geodata-tools/internal/core/server"
	"github.com/openterra/geodata-tools/internal/engine"
	"github.com/openterra/geodata-tools/internal/logger"
	"github.com/openterra/geodata-tools/internal/resultcache"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	addrFlag := flag.String("addr", "", "listen address override")
	flag.Parse()

	_ = godotenv.Load()

	cfg := config.FromEnv()
	if *addrFlag != "" {
		cfg.Addr = strings.TrimSpace(*addrFlag)
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "geodata-server",
	}, os.Stdout)

	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting geodata server",
		"addr", cfg.Addr,
		"version", Version,
		"cache_dir", cfg.CacheDir,
		"cache_ttl", cfg.CacheTTL.String())

	cache, err := resultcache.New(resultcache.Config{RootDir: cfg.CacheDir, TTL: cfg.CacheTTL}, appLog)
	if err != nil {
		appLog.Error("failed to initialize result cache", "err", err)
		return 1
	}

	pool := executor.New(cfg.OpWorkers, cfg.OpQueue, appLog)
	defer pool.Shutdown()

	deps := router.Deps{
		Logger: appLog,
		Engine: engine.New(appLog),
		Cache:  cache,
		Pool:   pool,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, cfg, appLog, deps); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
