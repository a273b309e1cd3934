package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/calm-otter-ops/siren/internal/api"
	"github.com/calm-otter-ops/siren/internal/api/health"
	"github.com/calm-otter-ops/siren/internal/escalation"
	"github.com/calm-otter-ops/siren/internal/ingest"
	"github.com/calm-otter-ops/siren/internal/lifecycle"
	"github.com/calm-otter-ops/siren/internal/metrics"
	"github.com/calm-otter-ops/siren/internal/provision"
	"github.com/calm-otter-ops/siren/internal/scheduler"
	"github.com/calm-otter-ops/siren/internal/sla"
	"github.com/calm-otter-ops/siren/internal/storage"
	"github.com/calm-otter-ops/siren/pkg/config"
)

var (
	configFile string
	httpAddr   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "siren-server",
	Short: "Siren Server - Alert lifecycle and escalation engine",
	Long: `Siren Server ingests detections from monitoring producers,
deduplicates them into alerts, tracks SLA clocks, and escalates
unacknowledged alerts through on-call rotations.`,
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("siren-server %s\n", config.Version)
		fmt.Printf("  commit: %s\n", config.Commit)
		fmt.Printf("  built:  %s\n", config.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().StringVarP(&httpAddr, "address", "a", "", "HTTP API listen address")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	var cfg *Config

	if configFile != "" {
		var err error
		cfg, err = LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = DefaultConfig()
	}

	// Override with CLI flags
	if httpAddr != "" {
		cfg.Server.Address = httpAddr
	}
	cfg.Verbose = verbose

	jwtSecret := os.Getenv("SIREN_JWT_SECRET")
	if jwtSecret == "" {
		return fmt.Errorf("SIREN_JWT_SECRET environment variable is required")
	}

	// Auto-create data directory
	dbDir := filepath.Dir(cfg.Database.Path)
	if err := os.MkdirAll(dbDir, 0750); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	// Initialize storage
	store := storage.NewSQLiteStorage(cfg.Database.Path)
	if err := store.Open(); err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	log.Printf("database initialized at %s", cfg.Database.Path)

	// Apply provisioned policies/schedules before accepting traffic so
	// the default policy exists on first ingest.
	if cfg.Policy.ProvisioningFile != "" {
		n, err := provision.ApplyFile(context.Background(), store, cfg.Policy.ProvisioningFile)
		if err != nil {
			return fmt.Errorf("apply provisioning file: %w", err)
		}
		log.Printf("provisioned %d policies/schedules from %s", n, cfg.Policy.ProvisioningFile)
	}

	// Build the engine stack
	targets, err := cfg.SLATargets()
	if err != nil {
		return err
	}
	tracker := sla.NewTracker(store, targets)
	machine := lifecycle.NewMachine(store, tracker)
	ingestor := ingest.NewIngestor(store, tracker, cfg.Policy.Default)
	engine := escalation.NewEngine(store)

	tickInterval, _ := time.ParseDuration(cfg.Scheduler.Interval)
	degradedAfter, _ := time.ParseDuration(cfg.Scheduler.DegradedAfter)
	sched := scheduler.New(store, tracker, engine, ingestor, scheduler.Options{
		Interval:      tickInterval,
		DegradedAfter: degradedAfter,
	})

	tokenTTL, _ := time.ParseDuration(cfg.Server.TokenTTL)
	apiCfg := &api.Config{
		Address:       cfg.Server.Address,
		JWTSecret:     []byte(jwtSecret),
		ProducerToken: cfg.Server.ProducerToken,
		TokenTTL:      tokenTTL,
		Verbose:       cfg.Verbose,
	}
	srv, err := api.New(apiCfg, store, machine, tracker, ingestor)
	if err != nil {
		return fmt.Errorf("create API server: %w", err)
	}
	srv.RegisterHealthChecker(health.NewSQLiteChecker(store.DB()))
	srv.RegisterHealthChecker(health.NewSchedulerChecker(sched.Running))

	metricsSrv := metrics.NewServer(cfg.Server.MetricsAddress)

	// Setup signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("received signal %v, shutting down...", sig)
		cancel()
	}()

	log.Printf("starting siren-server %s", config.Version)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return metricsSrv.Start() })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})
	if cfg.Policy.ProvisioningFile != "" {
		g.Go(func() error { return provision.Watch(gctx, store, cfg.Policy.ProvisioningFile) })
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run server: %w", err)
	}

	log.Printf("server stopped")
	return nil
}
