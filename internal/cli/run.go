package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"deskgate/internal/audit"
	"deskgate/internal/modules"
	"deskgate/internal/pipeline"
	"deskgate/internal/verify"
)

var (
	runConfig   string
	runMaxIter  int
	runInterval float64
	runLive     bool
	runCaller   string
	runJSON     bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runConfig, "config", "", "Path to pipeline JSON config (required)")
	runCmd.Flags().IntVar(&runMaxIter, "max-iterations", 1, "Ticks to run (0 = until interrupted)")
	runCmd.Flags().Float64Var(&runInterval, "interval", -1, "Seconds between ticks (default: config interval_s)")
	runCmd.Flags().BoolVar(&runLive, "live", false, "Execute actions for real (default: dry run)")
	runCmd.Flags().StringVar(&runCaller, "caller", "deskgate", "Identity compared against the lease owner")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the run report as JSON")
	_ = runCmd.MarkFlagRequired("config")
}

var runCmd = &cobra.Command{
	Use:   "run --config <pipeline.json>",
	Short: "Run a configured pipeline tick loop",
	Long: "Builds the module pipeline from the config file and runs it tick by tick.\n" +
		"Every proposed action passes the safety gate; denials are deferred to the\n" +
		"queue. Exit code 2 means at least one tick ended FAIL; 78 means bad config.",
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	log := logger()

	cfg, err := pipeline.LoadConfig(runConfig)
	if err != nil {
		return exitConfig(err)
	}
	if cfg.Root == "" || cfg.Root == "." {
		cfg.Root = rootDir
	}

	st, err := openStores()
	if err != nil {
		return err
	}

	auditLog, err := audit.Open(audit.DefaultPath(rootDir))
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditLog.Close()

	gate := newGate(st, runCaller)
	deps := modules.Deps{
		Gate:      gate,
		Queue:     st.Queue,
		QueueOpts: st.queueOptions(),
		Audit:     auditLog,
		VerifyPolicy: verify.Policy{
			Settle:      st.Safety.Verify.Settle.Std(),
			MaxAttempts: st.Safety.Verify.MaxAttempts,
			Backoff:     st.Safety.Verify.Backoff.Std(),
		},
	}

	instances, err := cfg.Build(modules.DefaultRegistry(deps), runLive)
	if err != nil {
		return exitConfig(err)
	}

	interval := time.Duration(cfg.Interval * float64(time.Second))
	if runInterval >= 0 {
		interval = time.Duration(runInterval * float64(time.Second))
	}

	runner := &pipeline.Runner{
		Instances:     instances,
		MaxIterations: runMaxIter,
		Interval:      interval,
		CarryOver:     cfg.CarryOver,
		Live:          runLive,
		Stop:          st.Stop,
		Audit:         auditLog,
		Log:           log,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	report := runner.Run(ctx)

	if runJSON {
		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))
	} else {
		fmt.Printf("run %s: %d ticks, %d pass, %d deferred, %d fail\n",
			report.RunID, len(report.Ticks), report.Pass, report.Deferred, report.Fail)
		if report.Stopped {
			fmt.Println("run ended early (cancelled or emergency stop)")
		}
	}

	if code := report.ExitCode(); code != 0 {
		os.Exit(code)
	}
	return nil
}

// exitConfig prints a configuration error and exits with EX_CONFIG.
func exitConfig(err error) error {
	var ce *pipeline.ConfigError
	if errors.As(err, &ce) {
		fmt.Fprintln(os.Stderr, "config error:", ce.Error())
		os.Exit(78)
	}
	return err
}
