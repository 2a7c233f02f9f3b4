// Package config loads the pipeline's environment-driven configuration
// (spec §6), applying the documented defaults for anything unset.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/luis4nge1/geo-ingest/pkg/drainer"
	"github.com/luis4nge1/geo-ingest/pkg/log"
)

// Config is the full set of environment-driven settings.
type Config struct {
	// Queue store
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	QueueKeys     drainer.Keys

	// Scheduler
	TickInterval       time.Duration
	LockTTL            time.Duration
	LockMaxWait        time.Duration
	CleanupIntervalMin int

	// Retry / retention
	MaxRetries         int
	BackupRetention    time.Duration
	RegistryRetention  time.Duration // completed entries
	RegistryTermFactor int           // failed entries retained RegistryRetention * this factor

	// Backends
	ObjectStoreDir string
	WarehouseDir   string
	RegistryDir    string
	BackupDir      string

	// Logging
	LogLevel  log.Level
	LogJSON   bool

	// HTTP
	MetricsAddr string
}

// Default returns the documented defaults (spec §6). LockTTL follows spec
// §4.B's policy of tickInterval + 30s, so a tick can never outlive its own
// lock and let a second instance acquire it mid-tick.
func Default() Config {
	tickInterval := 60 * time.Second
	return Config{
		RedisAddr:          "localhost:6379",
		RedisDB:            0,
		QueueKeys:          drainer.DefaultKeys(),
		TickInterval:       tickInterval,
		LockTTL:            tickInterval + 30*time.Second,
		LockMaxWait:        5 * time.Second,
		CleanupIntervalMin: 30,
		MaxRetries:         5,
		BackupRetention:    24 * time.Hour,
		RegistryRetention:  24 * time.Hour,
		RegistryTermFactor: 7,
		ObjectStoreDir:     "tmp/atomic-backups/gcs-sim",
		WarehouseDir:       "tmp/warehouse-sim",
		RegistryDir:        "tmp/atomic-backups/gcs-recovery",
		BackupDir:          "tmp/atomic-backups",
		LogLevel:           log.InfoLevel,
		LogJSON:            true,
		MetricsAddr:        ":9090",
	}
}

// FromEnv overlays environment variables onto Default().
func FromEnv() (Config, error) {
	cfg := Default()

	if v := os.Getenv("INGEST_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("INGEST_REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v, ok, err := envInt("INGEST_REDIS_DB"); err != nil {
		return cfg, err
	} else if ok {
		cfg.RedisDB = v
	}
	if v := os.Getenv("INGEST_GPS_QUEUE_KEY"); v != "" {
		cfg.QueueKeys.GPS = v
	}
	if v := os.Getenv("INGEST_MOBILE_QUEUE_KEY"); v != "" {
		cfg.QueueKeys.Mobile = v
	}

	if d, ok, err := envDuration("INGEST_TICK_INTERVAL"); err != nil {
		return cfg, err
	} else if ok {
		cfg.TickInterval = d
	}
	if d, ok, err := envDuration("INGEST_LOCK_TTL"); err != nil {
		return cfg, err
	} else if ok {
		cfg.LockTTL = d
	}
	if d, ok, err := envDuration("INGEST_LOCK_MAX_WAIT"); err != nil {
		return cfg, err
	} else if ok {
		cfg.LockMaxWait = d
	}
	if v, ok, err := envInt("INGEST_CLEANUP_INTERVAL_MIN"); err != nil {
		return cfg, err
	} else if ok {
		cfg.CleanupIntervalMin = v
	}

	if v, ok, err := envInt("INGEST_MAX_RETRIES"); err != nil {
		return cfg, err
	} else if ok {
		cfg.MaxRetries = v
	}
	if d, ok, err := envDuration("INGEST_BACKUP_RETENTION"); err != nil {
		return cfg, err
	} else if ok {
		cfg.BackupRetention = d
	}
	if d, ok, err := envDuration("INGEST_REGISTRY_RETENTION"); err != nil {
		return cfg, err
	} else if ok {
		cfg.RegistryRetention = d
	}

	if v := os.Getenv("INGEST_OBJECT_STORE_DIR"); v != "" {
		cfg.ObjectStoreDir = v
	}
	if v := os.Getenv("INGEST_WAREHOUSE_DIR"); v != "" {
		cfg.WarehouseDir = v
	}
	if v := os.Getenv("INGEST_REGISTRY_DIR"); v != "" {
		cfg.RegistryDir = v
	}
	if v := os.Getenv("INGEST_BACKUP_DIR"); v != "" {
		cfg.BackupDir = v
	}

	if v := os.Getenv("INGEST_LOG_LEVEL"); v != "" {
		cfg.LogLevel = log.Level(v)
	}
	if v, ok, err := envBool("INGEST_LOG_JSON"); err != nil {
		return cfg, err
	} else if ok {
		cfg.LogJSON = v
	}
	if v := os.Getenv("INGEST_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}

	return cfg, nil
}

func envInt(key string) (int, bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

func envDuration(key string) (time.Duration, bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return d, true, nil
}

func envBool(key string) (bool, bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return false, false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return b, true, nil
}
