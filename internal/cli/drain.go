package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"deskgate/internal/audit"
	"deskgate/internal/lease"
	"deskgate/internal/model"
	"deskgate/internal/modules"
	"deskgate/internal/queue"
)

var (
	drainList   bool
	drainDryRun bool
	drainLive   bool
	drainPrune  bool
	drainRunID  string
	drainID     string
	drainMax    int
	drainCaller string
)

func init() {
	rootCmd.AddCommand(drainCmd)
	drainCmd.Flags().BoolVar(&drainList, "list", false, "List pending records without evaluating")
	drainCmd.Flags().BoolVar(&drainDryRun, "dry-run", false, "Re-evaluate the gate per record, execute nothing")
	drainCmd.Flags().BoolVar(&drainLive, "live", false, "Execute allowed records and mark them completed")
	drainCmd.Flags().BoolVar(&drainPrune, "prune", false, "Compact the queue log (keeps a backup)")
	drainCmd.Flags().StringVar(&drainRunID, "run-id", "", "Only records from this run")
	drainCmd.Flags().StringVar(&drainID, "id", "", "Only the record with this action id")
	drainCmd.Flags().IntVar(&drainMax, "max", 0, "Stop after this many records (0 = all)")
	drainCmd.Flags().StringVar(&drainCaller, "caller", "deskgate", "Identity compared against the lease owner")
	drainCmd.MarkFlagsMutuallyExclusive("list", "dry-run", "live", "prune")
}

var drainCmd = &cobra.Command{
	Use:   "drain [--list | --dry-run | --live | --prune]",
	Short: "Inspect or flush the deferred-action queue",
	Long: "Replays pending deferred actions through the safety gate. The default is\n" +
		"--dry-run. --live re-executes allowed records, appending a completion line\n" +
		"per success, and requires a fresh unpaused lease (exit 77 otherwise).",
	RunE: runDrain,
}

func runDrain(cmd *cobra.Command, args []string) error {
	st, err := openStores()
	if err != nil {
		return err
	}
	filter := queue.Filter{RunID: drainRunID, ID: drainID}

	switch {
	case drainList:
		return drainListPending(st, filter)
	case drainPrune:
		dropped, err := st.Queue.Prune()
		if err != nil {
			return fmt.Errorf("prune queue: %w", err)
		}
		fmt.Printf("pruned %d superseded lines from %s\n", dropped, st.Queue.Path())
		return nil
	}

	mode := queue.DryRun
	if drainLive {
		if err := requireDrainLease(st, drainCaller); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(77)
		}
		mode = queue.Live
	}

	auditLog, err := audit.Open(audit.DefaultPath(rootDir))
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditLog.Close()

	gate := newGate(st, drainCaller)
	effector := &modules.ExecEffector{Dir: rootDir}

	ctx := context.Background()
	report, err := st.Queue.Drain(ctx, mode, filter, drainMax,
		func(ctx context.Context, action model.Action) model.Verdict {
			return gate.Check(ctx, action)
		}, effector)
	if report != nil {
		recordDrain(auditLog, report)
		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))
	}
	if err != nil {
		return fmt.Errorf("drain: %w", err)
	}
	if report.Failed > 0 {
		os.Exit(2)
	}
	return nil
}

func drainListPending(st *stores, filter queue.Filter) error {
	records, err := st.Queue.List(filter, drainMax)
	if err != nil {
		return fmt.Errorf("list queue: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("no pending deferred actions")
		return nil
	}
	for _, rec := range records {
		age := time.Since(time.Unix(int64(rec.EnqueuedAt), 0)).Round(time.Second)
		fmt.Printf("%s  %-20s  run=%s  reason=%s  age=%s\n",
			rec.Action.ID, rec.Action.Type, rec.RunID, rec.Reason, age)
	}
	fmt.Printf("%d pending\n", len(records))
	return nil
}

// requireDrainLease enforces the live-drain precondition: a fresh, unpaused
// lease not held by anyone else. A stale lease refuses too: nobody has
// renewed control recently, so replaying queued input is not safe.
func requireDrainLease(st *stores, caller string) error {
	rec, err := st.Leases.Read()
	if err != nil {
		return fmt.Errorf("live drain refused: lease unreadable: %w", err)
	}
	if rec.Paused {
		return fmt.Errorf("live drain refused: control is paused")
	}
	if lease.IsStale(rec, time.Now(), st.Safety.StaleAfter.Std()) {
		return fmt.Errorf("live drain refused: lease is stale (last update %.0fs ago)",
			time.Since(time.Unix(int64(rec.UpdatedAt), 0)).Seconds())
	}
	if rec.Owner != "" && rec.Owner != caller {
		return fmt.Errorf("live drain refused: lease held by %q", rec.Owner)
	}
	return nil
}

func recordDrain(log *audit.Log, report *queue.DrainReport) {
	entry := audit.Entry{
		Event:   audit.EventDrain,
		Outcome: string(report.Mode),
		Fields: map[string]string{
			"pending":   fmt.Sprint(report.Pending),
			"attempted": fmt.Sprint(report.Attempted),
			"executed":  fmt.Sprint(report.Executed),
			"denied":    fmt.Sprint(report.Denied),
			"failed":    fmt.Sprint(report.Failed),
		},
	}
	_ = log.Record(entry)
}
