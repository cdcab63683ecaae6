package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"marketCollector/config"
	"marketCollector/internal/adapters/logger"
	"marketCollector/internal/adapters/sqlite"
	"marketCollector/internal/collector"
	"marketCollector/internal/ports"
)

func main() {
	// 1. Load Configuration
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(logger.ParseLevel(cfg.LogLevel))
	ctx := context.Background()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": cfg.LogLevel})

	// 3. Optional bar archive
	var archive ports.BarRepository
	if cfg.DataCollector.ArchiveDB != "" {
		repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DataCollector.ArchiveDB, Logger: appLogger})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize bar archive")
			log.Fatalf("FATAL: Failed to initialize bar archive: %v", err)
		}
		defer repo.Close()
		archive = repo
	}

	// 4. Orchestrator
	orch, err := collector.NewOrchestrator(collector.OrchestratorConfig{
		Config:  cfg,
		Logger:  appLogger,
		Archive: archive,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to create orchestrator")
		log.Fatalf("FATAL: Failed to create orchestrator: %v", err)
	}

	if err := orch.Initialize(ctx); err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize orchestrator")
		log.Fatalf("FATAL: Failed to initialize orchestrator: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLogger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
		cancel()
	}()

	runOnce := func() {
		results, err := orch.CollectAll(runCtx)
		if err != nil {
			appLogger.Error(runCtx, err, "Collection run failed")
			return
		}
		reportResults(runCtx, appLogger, results)
	}

	if spec := cfg.DataCollector.Schedule; spec != "" {
		// Scheduled mode: run on the cron spec until a signal arrives.
		c := cron.New()
		if _, err := c.AddFunc(spec, runOnce); err != nil {
			appLogger.Error(ctx, err, "FATAL: Invalid collection schedule", map[string]interface{}{"schedule": spec})
			log.Fatalf("FATAL: Invalid collection schedule %q: %v", spec, err)
		}
		c.Start()
		appLogger.Info(ctx, "Scheduler started", map[string]interface{}{"schedule": spec})
		<-runCtx.Done()
		c.Stop()
	} else {
		runOnce()
	}

	if err := orch.Shutdown(ctx); err != nil {
		appLogger.Error(ctx, err, "Shutdown reported an error")
		os.Exit(1)
	}
	appLogger.Info(ctx, "Application finished gracefully.")
}

func reportResults(ctx context.Context, l ports.Logger, results []collector.Result) {
	for _, r := range results {
		fields := map[string]interface{}{
			"symbol": r.Symbol, "valid": r.ValidCount, "invalid": r.InvalidCount, "persisted": r.Persisted,
		}
		if r.Err != nil {
			l.Warn(ctx, "Symbol finished with errors", fields)
			continue
		}
		l.Info(ctx, "Symbol finished", fields)
	}
}
