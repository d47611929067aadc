package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/yejikwon7/multi-agent/internal/config"
	"github.com/yejikwon7/multi-agent/internal/domain"
	"github.com/yejikwon7/multi-agent/internal/generator"
	"github.com/yejikwon7/multi-agent/internal/history"
	"github.com/yejikwon7/multi-agent/internal/pipeline"
	"github.com/yejikwon7/multi-agent/internal/registrar"
)

func runCmd() *cobra.Command {
	var stageDir string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once over the stage outputs in STAGE_DIR",
		Long: `Run reads <stage>.txt for profile, flight, parking, gate and notification
from the stage directory, registers the departure alerts and appends the
trip to the history.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return status(runPipeline(cmd.OutOrStdout(), stageDir))
		},
	}
	cmd.Flags().StringVar(&stageDir, "stage-dir", "", "directory of stage outputs (overrides STAGE_DIR)")
	return cmd
}

func runPipeline(out io.Writer, stageDir string) int {
	cfg := config.Load()
	if stageDir != "" {
		cfg.StageDir = stageDir
	}

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}
	logConfigWarnings(&cfg)

	if info, err := os.Stat(cfg.StageDir); err != nil || !info.IsDir() {
		fmt.Fprintf(os.Stderr, "stage directory %s not found\n", cfg.StageDir)
		return exitRuntimeError
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A history backend that cannot be reached only costs this run its entry.
	store, db, err := openHistory(ctx, cfg)
	if err != nil {
		log.Printf("concierge: history unavailable, this run will not be saved: %v", err)
		store = history.Unavailable{Err: err}
	}
	if db != nil {
		defer db.Close()
	}

	rdb := redisClient(cfg)
	if rdb != nil {
		defer rdb.Close()
	}

	// A single run exits before any local job could fire.
	var client registrar.Client
	if cfg.SchedulerBackend == config.BackendLocal {
		log.Println("concierge: SCHEDULER_BACKEND=local needs a long-running process; use serve. Alerts will be skipped")
	} else {
		client = eventBridgeClient(ctx, cfg)
	}
	reg := newRegistrar(cfg, client, nil, rdb)

	orch, err := newOrchestrator(cfg, generator.Dir{Path: cfg.StageDir}, reg, store, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	res := orch.Run(ctx)
	printSummary(out, res)
	return exitSuccess
}

// printSummary writes a human-readable report of one run.
func printSummary(w io.Writer, res *pipeline.Result) {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	bold.Fprintln(w, "Trip plan")

	trace := make([]string, len(res.Trace))
	for i, s := range res.Trace {
		trace[i] = string(s)
	}
	fmt.Fprintf(w, "  states: %s\n", strings.Join(trace, " -> "))

	for _, stage := range domain.Stages {
		if err, ok := res.StageErrors[stage]; ok {
			fmt.Fprintf(w, "  %s: %s\n", stage, red.Sprintf("failed (%v)", err))
		}
	}

	if res.Flight != nil {
		fmt.Fprintf(w, "  flight: %s %s departs %s\n", res.Flight.Airline, res.Flight.FlightNumber, res.Flight.DepartureTimeLocal)
	} else {
		fmt.Fprintf(w, "  flight: %s\n", yellow.Sprint("none selected"))
	}

	bold.Fprintln(w, "Alerts")
	switch {
	case res.SchedulingErr != nil:
		fmt.Fprintf(w, "  %s\n", red.Sprintf("scheduling failed: %v", res.SchedulingErr))
	case res.SchedulingSkip != "":
		fmt.Fprintf(w, "  %s\n", yellow.Sprintf("scheduling skipped: %s", res.SchedulingSkip))
	}
	for _, o := range res.Outcomes {
		line := fmt.Sprintf("%s at %s", o.Tag, o.RunAt.UTC().Format(time.RFC3339))
		switch o.Status {
		case domain.RegistrationRegistered:
			fmt.Fprintf(w, "  %s %s (%s)\n", green.Sprint("REGISTERED"), line, o.ScheduleName)
		case domain.RegistrationSkipped:
			fmt.Fprintf(w, "  %s %s (%s)\n", yellow.Sprint("SKIPPED   "), line, o.Reason)
		case domain.RegistrationFailed:
			fmt.Fprintf(w, "  %s %s (%v)\n", red.Sprint("FAILED    "), line, o.Err)
		}
	}

	bold.Fprintln(w, "History")
	switch {
	case res.History == nil:
		fmt.Fprintf(w, "  %s\n", yellow.Sprint("not recorded"))
	case res.HistoryErr != nil:
		fmt.Fprintf(w, "  %s\n", red.Sprintf("not saved: %v", res.HistoryErr))
	default:
		fmt.Fprintf(w, "  %s\n", green.Sprint("saved"))
	}
}
