package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yejikwon7/multi-agent/internal/config"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

// exitCode carries a process exit status out of a command.
type exitCode int

func (c exitCode) Error() string {
	return fmt.Sprintf("exit status %d", int(c))
}

func status(code int) error {
	if code == exitSuccess {
		return nil
	}
	return exitCode(code)
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)

	err := root.Execute()
	if err == nil {
		return exitSuccess
	}
	var code exitCode
	if errors.As(err, &code) {
		return int(code)
	}
	fmt.Fprintln(os.Stderr, err)
	return exitRuntimeError
}

func newRootCmd() *cobra.Command {
	var envFiles []string

	root := &cobra.Command{
		Use:   "concierge",
		Short: "concierge - departure planner and flight alert scheduler",
		Long: `concierge runs the trip recommendation pipeline, registers the 5h/2h
departure alerts with a scheduler and keeps a short trip history.

Environment Variables:
  SCHEDULER_ENABLED          Register alerts at all (default: "false")
  SCHEDULER_BACKEND          "eventbridge" or "local" (default: "eventbridge")
  AWS_REGION                 EventBridge Scheduler region (default: "us-east-1")
  SCHEDULER_TARGET_ARN       Target invoked by each schedule (eventbridge)
  SCHEDULER_ROLE_ARN         Role the scheduler assumes (eventbridge)
  SCHEDULER_GROUP            Schedule group (default: "default")
  SCHEDULE_NAME_PREFIX       Schedule name prefix (default: "flight-email-reminder")
  SCHEDULER_CALL_TIMEOUT     Per-registration timeout (default: "10s")
  ALERT_RECIPIENT_EMAIL      Alert recipient (default: profile email)
  DEPARTURE_TIMEZONE         Zone for departures without offset (default: "Asia/Seoul")

  HISTORY_FILE               Trip history file (default: "trip_history.json")
  HISTORY_DATABASE_URL       PostgreSQL history backend (optional)
  HISTORY_OP_TIMEOUT         History operation timeout (default: "5s")
  STAGE_DIR                  Directory of <stage>.txt outputs (default: "stages")
  STAGE_TIMEOUT              Per-stage generation timeout (default: "2m")

  HTTP_ADDR                  HTTP server address (default: ":8080")
  HTTP_SHUTDOWN_TIMEOUT      Graceful HTTP shutdown timeout (default: "10s")
  METRICS_ENABLED            Enable Prometheus metrics (default: "false")
  METRICS_PATH               Metrics endpoint path (default: "/metrics")
  METRICS_PORT               Metrics server port (default: "9090")
  REDIS_ADDR                 Redis address for registration analytics (optional)

  TICK_INTERVAL              Local scheduler tick interval (default: "1s")
  NOTIFY_WEBHOOK_URL         Local backend notification endpoint
  NOTIFY_WEBHOOK_SECRET      HMAC secret for notification requests
  EVENTBUS_BUFFER_SIZE       Local event bus buffer (default: "100")
  DISPATCHER_DRAIN_TIMEOUT   Dispatcher event drain timeout (default: "30s")
  CIRCUIT_BREAKER_THRESHOLD  Failures before the breaker opens, 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN   Open breaker cooldown (default: "2m")
  RECONCILE_ENABLED          Re-emit fired alerts that never reached the dispatcher (default: "false")
  RECONCILE_INTERVAL         Reconciler cycle interval (default: "5m")
  RECONCILE_THRESHOLD        Age before a fired alert counts as orphaned (default: "20m")
  RECONCILE_BATCH_SIZE       Orphans re-emitted per cycle (default: "100")
  JOB_RETENTION              Age after which finished local alerts are dropped (default: "24h")`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(envFiles...); err != nil {
				fmt.Fprintf(os.Stderr, "failed to load env file: %v\n", err)
				return exitCode(exitInvalidConfig)
			}
			return nil
		},
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files loaded before reading the environment (default .env)")

	root.AddCommand(runCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(validateCmd())
	root.AddCommand(configCmd())
	root.AddCommand(versionCmd())
	return root
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration (no connections made)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if err := config.Validate(cfg); err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				return exitCode(exitInvalidConfig)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration valid")
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print effective configuration as JSON (secrets masked)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			data, err := cfg.MaskedJSON()
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
				return exitCode(exitRuntimeError)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "concierge version %s (commit: %s)\n", version, commit)
			return nil
		},
	}
}
