package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"deskgate/internal/audit"
)

var stopReason string

func init() {
	rootCmd.AddCommand(stopCmd)
	stopCmd.AddCommand(stopSetCmd, stopClearCmd, stopStatusCmd)
	stopSetCmd.Flags().StringVar(&stopReason, "reason", "", "Why execution must halt (required)")
	_ = stopSetCmd.MarkFlagRequired("reason")
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Engage or clear the emergency stop",
	Long: "The emergency stop is a persisted kill-switch checked before every action\n" +
		"and at every tick boundary. While engaged, nothing executes anywhere.",
}

var stopSetCmd = &cobra.Command{
	Use:   "set --reason <text>",
	Short: "Engage the emergency stop",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStores()
		if err != nil {
			return err
		}
		if err := st.Stop.Set(stopReason, time.Now()); err != nil {
			return err
		}
		recordStop("engaged", stopReason)
		fmt.Printf("emergency stop engaged: %s\n", stopReason)
		return nil
	},
}

var stopClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the emergency stop",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStores()
		if err != nil {
			return err
		}
		if err := st.Stop.Clear(time.Now()); err != nil {
			return err
		}
		recordStop("cleared", "")
		fmt.Println("emergency stop cleared")
		return nil
	},
}

var stopStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the emergency stop state",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStores()
		if err != nil {
			return err
		}
		rec, err := st.Stop.Read()
		if err != nil {
			return err
		}
		if !rec.Stopped {
			fmt.Println("emergency stop: not engaged")
			return nil
		}
		fmt.Printf("emergency stop: ENGAGED\nreason:  %s\nsince:   %s\n",
			rec.Reason, time.Unix(int64(rec.Timestamp), 0).Format(time.RFC3339))
		os.Exit(1)
		return nil
	},
}

func recordStop(outcome, reason string) {
	log, err := audit.Open(audit.DefaultPath(rootDir))
	if err != nil {
		return
	}
	defer log.Close()
	entry := audit.Entry{Event: audit.EventStop, Outcome: outcome}
	if reason != "" {
		entry.Fields = map[string]string{"reason": reason}
	}
	_ = log.Record(entry)
}
