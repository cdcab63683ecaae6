package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"marketCollector/config"
	"marketCollector/internal/adapters/logger"
	"marketCollector/internal/adapters/sqlite"
	"marketCollector/internal/collector"
	"marketCollector/internal/ports"
)

// collect_once runs a single collection pass and prints the per-symbol
// outcome. Useful for backfills and for smoke-testing source connectivity
// without starting the daemon.
func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	appLogger := logger.NewStdLogger(logger.ParseLevel(cfg.LogLevel))
	ctx := context.Background()

	var archive ports.BarRepository
	if cfg.DataCollector.ArchiveDB != "" {
		repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DataCollector.ArchiveDB, Logger: appLogger})
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize bar archive: %v", err)
		}
		defer repo.Close()
		archive = repo
	}

	orch, err := collector.NewOrchestrator(collector.OrchestratorConfig{
		Config:  cfg,
		Logger:  appLogger,
		Archive: archive,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to create orchestrator: %v", err)
	}
	if err := orch.Initialize(ctx); err != nil {
		log.Fatalf("FATAL: Failed to initialize orchestrator: %v", err)
	}
	defer orch.Shutdown(ctx)

	results, err := orch.CollectAll(ctx)
	if err != nil {
		log.Fatalf("Collection run failed: %v", err)
	}

	for _, r := range results {
		status := "ok"
		if r.Err != nil {
			status = r.Err.Error()
		} else if !r.Persisted {
			status = "no data"
		}
		fmt.Printf("%-10s valid=%-5d invalid=%-5d persisted=%-5t %s\n",
			r.Symbol, r.ValidCount, r.InvalidCount, r.Persisted, status)
	}
}
