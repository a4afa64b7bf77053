package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config carries everything the binary needs from the environment.
// All durations that the core reasons about are kept in seconds to match
// the storage model; TickInterval stays a time.Duration because it feeds
// the cron entry directly.
type Config struct {
	ListenAddr string

	DBType string // "sqlite" or "postgres"
	DBPath string // SQLite file path
	DBURL  string // PostgreSQL connection URL

	TickInterval      time.Duration
	TickMonitorCap    int
	ProbeConcurrency  int
	NotifyConcurrency int

	RetentionCheckResultsDays int

	// AllowPrivateTargets disables the private/reserved address rejection.
	// Meant for self-hosted deployments probing their own LAN.
	AllowPrivateTargets bool

	SnapshotFreshSec   int64
	SnapshotRefreshSec int64
	SnapshotMaxStale   int64
}

func Default() Config {
	return Config{
		ListenAddr:                ":8080",
		DBType:                    "sqlite",
		DBPath:                    "uptimer.db",
		TickInterval:              60 * time.Second,
		TickMonitorCap:            200,
		ProbeConcurrency:          5,
		NotifyConcurrency:         5,
		RetentionCheckResultsDays: 90,
		SnapshotFreshSec:          60,
		SnapshotRefreshSec:        30,
		SnapshotMaxStale:          600,
	}
}

// Load builds the configuration from the environment. A .env file in the
// working directory is applied first when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DB_TYPE"); v != "" {
		cfg.DBType = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DBURL = v
	}

	if v := os.Getenv("TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TICK_INTERVAL: %w", err)
		}
		if d < time.Second {
			return Config{}, fmt.Errorf("TICK_INTERVAL too small: %s", d)
		}
		cfg.TickInterval = d
	}

	intVars := []struct {
		name string
		dst  *int
		min  int
	}{
		{"TICK_MONITOR_CAP", &cfg.TickMonitorCap, 1},
		{"PROBE_CONCURRENCY", &cfg.ProbeConcurrency, 1},
		{"NOTIFY_CONCURRENCY", &cfg.NotifyConcurrency, 1},
		{"RETENTION_CHECK_RESULTS_DAYS", &cfg.RetentionCheckResultsDays, 1},
	}
	for _, iv := range intVars {
		v := os.Getenv(iv.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", iv.name, err)
		}
		if n < iv.min {
			return Config{}, fmt.Errorf("%s must be >= %d", iv.name, iv.min)
		}
		*iv.dst = n
	}

	secVars := []struct {
		name string
		dst  *int64
	}{
		{"SNAPSHOT_FRESH_SEC", &cfg.SnapshotFreshSec},
		{"SNAPSHOT_REFRESH_SEC", &cfg.SnapshotRefreshSec},
		{"SNAPSHOT_MAX_STALE_SEC", &cfg.SnapshotMaxStale},
	}
	for _, sv := range secVars {
		v := os.Getenv(sv.name)
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("invalid %s: %q", sv.name, v)
		}
		*sv.dst = n
	}

	if v := os.Getenv("PROBE_ALLOW_PRIVATE_TARGETS"); v == "1" || v == "true" {
		cfg.AllowPrivateTargets = true
	}

	return cfg, nil
}
