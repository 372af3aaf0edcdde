// Package config holds the explicit settings value passed into each
// component at construction. There is no package-level singleton; main
// loads a Settings once and hands it down.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Settings struct {
	ListenAddr  string
	MetricsAddr string
	DBPath      string

	RedisAddr string // empty disables the cache
	CacheTTL  time.Duration

	PageSize    int
	MaxPageSize int

	RateLimitCalls  int
	RateLimitWindow time.Duration

	SweepInterval time.Duration
	NotifyWorkers int
	NotifyQueue   int
}

// Load reads settings from the environment, falling back to development
// defaults.
func Load() (Settings, error) {
	s := Settings{
		ListenAddr:      getenv("LISTEN_ADDR", ":8080"),
		MetricsAddr:     getenv("METRICS_ADDR", ":9090"),
		DBPath:          getenv("DB_PATH", "emprestimo.db"),
		RedisAddr:       getenv("REDIS_ADDR", ""),
		CacheTTL:        getenvDuration("CACHE_TTL", time.Hour),
		PageSize:        getenvInt("PAGINATION_PAGE_SIZE", 20),
		MaxPageSize:     getenvInt("PAGINATION_MAX_PAGE_SIZE", 100),
		RateLimitCalls:  getenvInt("RATE_LIMIT_MAX_CALLS", 60),
		RateLimitWindow: getenvDuration("RATE_LIMIT_TIME_FRAME", time.Minute),
		SweepInterval:   getenvDuration("OVERDUE_SWEEP_INTERVAL", time.Hour),
		NotifyWorkers:   getenvInt("NOTIFY_WORKERS", 3),
		NotifyQueue:     getenvInt("NOTIFY_QUEUE_SIZE", 1000),
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) Validate() error {
	if s.DBPath == "" {
		return fmt.Errorf("DB_PATH must be set")
	}
	if s.PageSize < 1 || s.PageSize > s.MaxPageSize {
		return fmt.Errorf("invalid pagination settings: page size %d, max %d", s.PageSize, s.MaxPageSize)
	}
	if s.RateLimitCalls < 1 {
		return fmt.Errorf("RATE_LIMIT_MAX_CALLS must be positive, got %d", s.RateLimitCalls)
	}
	if s.SweepInterval <= 0 {
		return fmt.Errorf("OVERDUE_SWEEP_INTERVAL must be positive, got %s", s.SweepInterval)
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
