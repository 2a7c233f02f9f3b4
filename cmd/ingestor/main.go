package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/luis4nge1/geo-ingest/pkg/alerts"
	"github.com/luis4nge1/geo-ingest/pkg/config"
	"github.com/luis4nge1/geo-ingest/pkg/drainer"
	"github.com/luis4nge1/geo-ingest/pkg/health"
	"github.com/luis4nge1/geo-ingest/pkg/localbackup"
	"github.com/luis4nge1/geo-ingest/pkg/log"
	"github.com/luis4nge1/geo-ingest/pkg/metrics"
	"github.com/luis4nge1/geo-ingest/pkg/objectstore"
	"github.com/luis4nge1/geo-ingest/pkg/orchestrator"
	"github.com/luis4nge1/geo-ingest/pkg/queuestore"
	"github.com/luis4nge1/geo-ingest/pkg/recovery"
	"github.com/luis4nge1/geo-ingest/pkg/scheduler"
	"github.com/luis4nge1/geo-ingest/pkg/warehouse"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var runOnce bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "geo-ingest",
	Short: "Periodic GPS/mobile location ingestion pipeline",
	Long: `geo-ingest drains queued GPS and mobile-user location records,
stages them as NDJSON in an object store, and loads them into a columnar
warehouse, guaranteeing at-least-once delivery without duplication via a
local backup store, a recovery registry, and a distributed lock.`,
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("geo-ingest version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))
	rootCmd.Flags().BoolVar(&runOnce, "once", false, "run a single tick and exit instead of starting the scheduler")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", true, "output logs in JSON format")
	cobra.OnInitialize(initLogging)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()

	queue := queuestore.NewFromAddr(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := queue.Ping(ctx); err != nil {
		return fmt.Errorf("queue store unreachable: %w", err)
	}

	objStore, err := objectstore.NewSimBackend(cfg.ObjectStoreDir)
	if err != nil {
		return fmt.Errorf("init object store: %w", err)
	}

	loader, err := warehouse.NewSimLoader(cfg.WarehouseDir)
	if err != nil {
		return fmt.Errorf("init warehouse loader: %w", err)
	}

	backups, err := localbackup.New(cfg.BackupDir)
	if err != nil {
		return fmt.Errorf("init local backup store: %w", err)
	}

	registry, err := recovery.New(cfg.RegistryDir)
	if err != nil {
		return fmt.Errorf("init recovery registry: %w", err)
	}
	defer registry.Close()

	broker := alerts.NewBroker()
	broker.Start()
	defer broker.Stop()

	d := drainer.New(queue, cfg.QueueKeys)

	orchOpts := orchestrator.DefaultOptions()
	orchOpts.MaxRetries = cfg.MaxRetries
	orch := orchestrator.New(d, objStore, loader, backups, registry, broker, orchOpts)

	lock := queuestore.NewLock(queue, "ingest:scheduler:lock")

	schedOpts := scheduler.DefaultOptions()
	schedOpts.TickInterval = cfg.TickInterval
	schedOpts.LockTTL = cfg.LockTTL
	schedOpts.LockMaxWait = cfg.LockMaxWait
	schedOpts.CleanupIntervalMin = cfg.CleanupIntervalMin
	schedOpts.BackupRetention = cfg.BackupRetention
	schedOpts.RegistryRetention = cfg.RegistryRetention
	schedOpts.RegistryTermFactor = cfg.RegistryTermFactor
	sched := scheduler.New(orch, lock, backups, registry, broker, schedOpts)

	if runOnce {
		log.Info("running a single tick")
		return sched.RunOnce(ctx)
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsHandler(queue, objStore, loader, d, backups, cfg)}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server failed: %v", err)
		}
	}()

	sched.Start(ctx)
	fmt.Printf("geo-ingest scheduler running, tick interval %s, metrics on %s\n", cfg.TickInterval, cfg.MetricsAddr)
	fmt.Println("Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down...")
	sched.Stop()
	_ = metricsSrv.Shutdown(ctx)
	fmt.Println("Shutdown complete")
	return nil
}

func metricsHandler(queue queuestore.Store, objStore *objectstore.SimBackend, loader warehouse.Loader, d *drainer.Drainer, backups *localbackup.Store, cfg config.Config) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		res := health.Check(r.Context(), health.Dependencies{
			Queue:        queue,
			ObjectStore:  objStore,
			Warehouse:    loader,
			Drainer:      d,
			OldestBackup: backups.OldestPending,
			Retention:    cfg.BackupRetention,
		})
		if !res.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintf(w, "healthy=%v reasons=%v\n", res.Healthy, res.Reasons)
	})
	return mux
}
