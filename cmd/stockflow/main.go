// Command stockflow runs the offline-first inventory pipeline for one POS
// terminal: local durable store, reference cache, transaction queue,
// connectivity-driven synchronizer, report scheduler, and the local admin
// API in front of them.
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

	_ "modernc.org/sqlite"

	"github.com/vizionmakeit-commits/stockflow/cache"
	"github.com/vizionmakeit-commits/stockflow/config"
	"github.com/vizionmakeit-commits/stockflow/connectivity"
	"github.com/vizionmakeit-commits/stockflow/dbopen"
	"github.com/vizionmakeit-commits/stockflow/eventlog"
	"github.com/vizionmakeit-commits/stockflow/httpapi"
	"github.com/vizionmakeit-commits/stockflow/localstore"
	"github.com/vizionmakeit-commits/stockflow/queue"
	"github.com/vizionmakeit-commits/stockflow/remote"
	"github.com/vizionmakeit-commits/stockflow/schedule"
	"github.com/vizionmakeit-commits/stockflow/syncer"
)

func main() {
	cfgPath := env("STOCKFLOW_CONFIG", "stockflow.yaml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	// Logging.
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Local database: blob store, queue, and event trail share it.
	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store, err := localstore.NewSQLite(db, localstore.WithQuota(cfg.Cache.QuotaBytes))
	if err != nil {
		slog.Error("local store", "error", err)
		os.Exit(1)
	}

	trail, err := eventlog.New(db)
	if err != nil {
		slog.Error("event log", "error", err)
		os.Exit(1)
	}

	// Backend client, breaker-guarded on the commit path.
	client, err := remote.NewClient(cfg.Remote.BaseURL,
		remote.WithHTTPClient(&http.Client{Timeout: cfg.Remote.Timeout}),
		remote.WithBreaker(connectivity.NewBreaker()),
		remote.WithLogger(logger),
	)
	if err != nil {
		slog.Error("remote client", "error", err)
		os.Exit(1)
	}

	monitor := connectivity.NewMonitor(client,
		connectivity.WithInterval(cfg.Sync.ProbeInterval),
		connectivity.WithMonitorLogger(logger),
	)

	q := queue.New(store, queue.WithLogger(logger))

	cacheMgr := cache.New(store, client, monitor.Online,
		cache.WithTTL(cfg.Cache.TTL),
		cache.WithLogger(logger),
	)

	sync := syncer.New(monitor, client, q,
		syncer.WithMaxAttempts(cfg.Sync.MaxAttempts),
		syncer.WithSettleDelay(cfg.Sync.SettleDelay),
		syncer.WithRetryBackoff(cfg.Sync.RetryBackoff),
		syncer.WithLogger(logger),
	)
	sync.Start(ctx)
	defer sync.Close()

	go monitor.Start(ctx)

	sched := schedule.New(client, client, schedule.WithLogger(logger))
	if err := sched.Initialize(ctx); err != nil {
		// The backend may simply be unreachable at boot; the scheduler
		// re-arms on the next report-config save.
		slog.Warn("scheduler not armed at startup", "error", err)
	}
	defer sched.Stop()

	// Retention sweep for the event trail, once a day.
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := trail.Cleanup(ctx, 30); err != nil {
					slog.Warn("event trail cleanup", "error", err)
				} else if n > 0 {
					slog.Info("event trail cleaned", "removed", n)
				}
			}
		}
	}()

	api := httpapi.NewServer(sync, cacheMgr, client, sched, q,
		httpapi.WithTrail(trail),
	)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Router(cfg.Admin.User, cfg.Admin.PasswordHash),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("stockflow listening", "addr", cfg.ListenAddr, "db", cfg.DBPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
