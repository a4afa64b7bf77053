package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/uptimerhq/uptimer/internal/api"
	"github.com/uptimerhq/uptimer/internal/config"
	"github.com/uptimerhq/uptimer/internal/db"
	"github.com/uptimerhq/uptimer/internal/logging"
	"github.com/uptimerhq/uptimer/internal/notify"
	"github.com/uptimerhq/uptimer/internal/probe"
	"github.com/uptimerhq/uptimer/internal/status"
	"github.com/uptimerhq/uptimer/internal/uptime"
)

func main() {
	logger := logging.New("uptimer")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := db.NewStore(db.DBConfig{Type: cfg.DBType, Path: cfg.DBPath, URL: cfg.DBURL})
	if err != nil {
		logger.Fatalf("init database: %v", err)
	}
	defer func() { _ = store.Close() }()

	notifier := notify.NewNotifier(store, cfg.NotifyConcurrency)

	policy := probe.TargetPolicy{AllowPrivate: cfg.AllowPrivateTargets}
	scheduler := uptime.NewScheduler(store, notifier, policy, uptime.SchedulerConfig{
		TickIntervalSec:  int64(cfg.TickInterval / time.Second),
		MonitorCap:       cfg.TickMonitorCap,
		ProbeConcurrency: cfg.ProbeConcurrency,
		RetentionDays:    cfg.RetentionCheckResultsDays,
	})

	agg := status.NewAggregator(store)
	agg.FreshSec = cfg.SnapshotFreshSec
	agg.RefreshSec = cfg.SnapshotRefreshSec
	agg.MaxStaleSec = cfg.SnapshotMaxStale

	// Cron fires the tick; the DB lease keeps concurrent instances from
	// doing duplicate work. Each tick gets a budget of one interval.
	c := cron.New()
	_, err = c.AddFunc(fmt.Sprintf("@every %s", cfg.TickInterval), func() {
		tickCtx, cancel := context.WithTimeout(ctx, cfg.TickInterval)
		defer cancel()
		if err := scheduler.RunTick(tickCtx); err != nil {
			logger.Printf("tick: %v", err)
		}
	})
	if err != nil {
		logger.Fatalf("schedule tick: %v", err)
	}
	c.Start()
	defer c.Stop()

	r := api.NewRouter(store, agg)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("server shutdown: %v", err)
	}

	logger.Println("bye")
}
