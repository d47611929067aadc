package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yejikwon7/multi-agent/internal/api"
	"github.com/yejikwon7/multi-agent/internal/config"
	"github.com/yejikwon7/multi-agent/internal/domain"
	"github.com/yejikwon7/multi-agent/internal/generator"
	"github.com/yejikwon7/multi-agent/internal/pipeline"
	"github.com/yejikwon7/multi-agent/internal/registrar"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API (and the local scheduler when SCHEDULER_BACKEND=local)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return status(runServe())
		},
	}
}

// staticRunner runs the pipeline over stage outputs posted to /runs.
type staticRunner struct {
	orch *pipeline.Orchestrator
}

func (r staticRunner) Run(ctx context.Context, outputs map[domain.Stage]string) *pipeline.Result {
	return r.orch.WithGenerator(generator.Static(outputs)).Run(ctx)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}
	logConfigWarnings(&cfg)

	ctx := context.Background()

	store, db, err := openHistory(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open history: %v\n", err)
		return exitRuntimeError
	}
	if db != nil {
		defer db.Close()
	}

	metricsSink, metricsServer := startMetrics(cfg)

	rdb := redisClient(cfg)
	if rdb != nil {
		defer rdb.Close()
	}

	var (
		local  *localBackend
		client registrar.Client
	)
	if cfg.SchedulerBackend == config.BackendLocal {
		local = newLocalBackend(cfg, metricsSink)
		client = local.scheduler
	} else {
		client = eventBridgeClient(ctx, cfg)
	}
	reg := newRegistrar(cfg, client, metricsSink, rdb)

	orch, err := newOrchestrator(cfg, generator.Static{}, reg, store, metricsSink)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	apiHandler := api.NewHandler(staticRunner{orch: orch}, store)
	if db != nil {
		apiHandler = apiHandler.WithHealthChecker(db)
	}
	if local != nil {
		apiHandler = apiHandler.WithJobStore(local.store)
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiHandler,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Printf("concierge: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Separate contexts for scheduler and dispatcher to enable ordered shutdown.
	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelScheduler()
	defer cancelDispatcher()

	var schedulerWg sync.WaitGroup
	var dispatcherWg sync.WaitGroup
	var reconcilerWg sync.WaitGroup

	if local != nil {
		schedulerWg.Add(1)
		go func() {
			defer schedulerWg.Done()
			local.scheduler.Run(schedulerCtx)
		}()

		dispatcherWg.Add(1)
		go func() {
			defer dispatcherWg.Done()
			local.dispatcher.Run(dispatcherCtx, local.bus.Channel())
		}()
		log.Printf("concierge: local scheduler started (tick=%s, webhook=%s)", cfg.TickInterval, cfg.NotifyWebhookURL)

		// Reconciler shares the scheduler context; it emits into the same bus.
		if local.reconciler != nil {
			reconcilerWg.Add(1)
			go func() {
				defer reconcilerWg.Done()
				local.reconciler.Run(schedulerCtx)
			}()
			log.Printf("concierge: reconciler started (interval=%s, threshold=%s)", cfg.ReconcileInterval, cfg.ReconcileThreshold)
		}
	}

	log.Printf("concierge: started (backend=%s, scheduler_enabled=%t, http=%s)",
		cfg.SchedulerBackend, cfg.SchedulerEnabled, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)
	exit := waitForShutdown(sig, serverErr)

	// Phase 1: Stop HTTP server so no new runs register alerts
	log.Println("concierge: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("concierge: http server shutdown error: %v", err)
	}
	log.Println("concierge: http server stopped")

	if local != nil {
		// Phase 2: Stop scheduler and reconciler (no new events emitted)
		log.Println("concierge: stopping scheduler...")
		cancelScheduler()
		schedulerWg.Wait()
		reconcilerWg.Wait()
		log.Println("concierge: scheduler stopped")

		// Phase 3: Stop dispatcher (will drain buffered events before returning)
		log.Println("concierge: stopping dispatcher (draining events)...")
		cancelDispatcher()
		dispatcherWg.Wait()
		log.Println("concierge: dispatcher stopped")

		if pending, err := local.store.PendingJobs(context.Background()); err == nil && len(pending) > 0 {
			log.Printf("concierge: %d pending alerts discarded on shutdown", len(pending))
		}
	}

	// Phase 4: Stop metrics server if running (with same timeout)
	if metricsServer != nil {
		log.Println("concierge: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("concierge: metrics server shutdown error: %v", err)
		}
		log.Println("concierge: metrics server stopped")
	}

	log.Println("concierge: stopped")
	return exit
}

// waitForShutdown blocks until a signal arrives or the HTTP server fails and
// returns the exit code for the process.
func waitForShutdown(sig <-chan os.Signal, serverErr <-chan error) int {
	select {
	case received := <-sig:
		log.Printf("concierge: received signal %v, shutting down", received)
		return exitSuccess
	case err := <-serverErr:
		log.Printf("concierge: http server error: %v, shutting down", err)
		return exitRuntimeError
	}
}
