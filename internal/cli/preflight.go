package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"deskgate/internal/lease"
	"deskgate/internal/queue"
	"deskgate/internal/safety"
)

func init() {
	rootCmd.AddCommand(preflightCmd)
}

// preflightReport is the JSON snapshot operators check before starting a
// workflow: is anything going to block, and what should be done first.
type preflightReport struct {
	Ready       bool              `json:"ready"`
	Lease       lease.Record      `json:"lease"`
	LeaseStale  bool              `json:"lease_stale"`
	Stop        safety.StopRecord `json:"emergency_stop"`
	Queue       queue.Summary     `json:"queue"`
	Warnings    []string          `json:"warnings,omitempty"`
	Suggestions []string          `json:"suggestions,omitempty"`
}

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Snapshot lease, kill-switch, and queue state before a workflow",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStores()
		if err != nil {
			return err
		}

		report := preflightReport{Ready: true}

		rec, err := st.Leases.Read()
		if err != nil {
			report.Ready = false
			report.Warnings = append(report.Warnings, "lease unreadable: "+err.Error())
		}
		report.Lease = rec
		report.LeaseStale = lease.IsStale(rec, time.Now(), st.Safety.StaleAfter.Std())

		stop, err := st.Stop.Read()
		if err != nil {
			report.Ready = false
			report.Warnings = append(report.Warnings, "emergency stop unreadable: "+err.Error())
		}
		report.Stop = stop

		sum, err := st.Queue.Summarize()
		if err != nil {
			report.Warnings = append(report.Warnings, "queue unreadable: "+err.Error())
		}
		report.Queue = sum

		if stop.Stopped {
			report.Ready = false
			report.Warnings = append(report.Warnings, "emergency stop is engaged: "+stop.Reason)
			report.Suggestions = append(report.Suggestions, "deskgate stop clear")
		}
		if rec.Paused {
			report.Ready = false
			report.Warnings = append(report.Warnings, "control is paused")
			report.Suggestions = append(report.Suggestions, "deskgate lease resume")
		}
		if report.LeaseStale {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("lease held by %q is stale and will be treated as unclaimed", rec.Owner))
		} else if !rec.InControlWindow {
			report.Warnings = append(report.Warnings, "control window is closed; live actions will defer")
		}
		if sum.Pending > 0 {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("%d deferred actions pending", sum.Pending))
			report.Suggestions = append(report.Suggestions, "deskgate drain --dry-run")
		}
		if sum.TotalLines > 0 && sum.TotalLines > 4*sum.Unique {
			report.Suggestions = append(report.Suggestions, "deskgate drain --prune")
		}

		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))
		if !report.Ready {
			os.Exit(1)
		}
		return nil
	},
}
