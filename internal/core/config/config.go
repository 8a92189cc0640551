package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr     string
	LogLevel string

	// result cache
	CacheDir string
	CacheTTL time.Duration

	// bounded operation pool
	OpWorkers int
	OpQueue   int
}

func FromEnv() Config {
	return Config{
		Addr:      getenv("ADDR", ":8090"),
		LogLevel:  getenv("LOG_LEVEL", "info"),
		CacheDir:  getenv("CACHE_DIR", defaultCacheDir()),
		CacheTTL:  getduration("CACHE_TTL", 24*time.Hour),
		OpWorkers: getint("OP_WORKERS", 8),
		OpQueue:   getint("OP_QUEUE", 64),
	}
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + "/geodata-tools"
	}
	return os.TempDir() + "/geodata-tools"
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
