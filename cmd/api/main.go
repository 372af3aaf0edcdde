package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/CDourado10/Emprestimo-Facil/pkg/cache"
	"github.com/CDourado10/Emprestimo-Facil/pkg/config"
	"github.com/CDourado10/Emprestimo-Facil/pkg/ledger"
	"github.com/CDourado10/Emprestimo-Facil/pkg/metrics"
	"github.com/CDourado10/Emprestimo-Facil/pkg/notify"
	"github.com/CDourado10/Emprestimo-Facil/pkg/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("Invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sqliteStore, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		logger.Error("Failed to open database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer sqliteStore.Close()

	collector := metrics.NewCollector(logger)
	metricsServer := collector.StartServer(cfg.MetricsAddr)

	dispatcher := notify.NewDispatcher(map[notify.Channel]notify.Sender{
		notify.ChannelEmail: &notify.LogSender{Logger: logger},
	}, cfg.NotifyWorkers, cfg.NotifyQueue, logger)

	loanLedger := ledger.NewLedger(sqliteStore, logger).
		WithNotifier(dispatcher).
		WithMetrics(collector)

	var loanCache *cache.Cache
	if cfg.RedisAddr != "" {
		loanCache = cache.New(cfg.RedisAddr, cfg.CacheTTL)
		defer loanCache.Close()
		loanLedger.WithCache(loanCache)
		logger.Info("Loan cache enabled", slog.String("redis_addr", cfg.RedisAddr))
	}

	server := NewServer(loanLedger, sqliteStore, cfg, logger)
	router := mux.NewRouter()
	server.Routes(router)

	limiter := NewRateLimiter(cfg.RateLimitCalls, cfg.RateLimitWindow)
	defer limiter.Stop()

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      RateLimitMiddleware(limiter, router),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Periodic overdue sweep.
	sweepDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := loanLedger.SweepOverdue(); err != nil {
					logger.Error("Overdue sweep failed", slog.String("error", err.Error()))
				}
			case <-sweepDone:
				return
			}
		}
	}()

	go func() {
		logger.Info("Server starting", slog.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("Shutting down")
	close(sweepDone)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown failed", slog.String("error", err.Error()))
	}
	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Error("Metrics shutdown failed", slog.String("error", err.Error()))
	}
	if err := dispatcher.Shutdown(ctx); err != nil {
		logger.Error("Dispatcher shutdown failed", slog.String("error", err.Error()))
	}
	logger.Info("Shutdown complete")
}
