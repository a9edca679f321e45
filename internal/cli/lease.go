package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"deskgate/internal/lease"
)

var (
	leaseOwner   string
	leaseForce   bool
	leaseWindow  bool
	leaseRemain  float64
	leaseJSONOut bool
)

func init() {
	rootCmd.AddCommand(leaseCmd)
	leaseCmd.AddCommand(leaseClaimCmd, leaseReleaseCmd, leaseStatusCmd, leasePauseCmd, leaseResumeCmd)

	leaseClaimCmd.Flags().StringVar(&leaseOwner, "owner", "", "Owner identity (required)")
	leaseClaimCmd.Flags().BoolVar(&leaseWindow, "window", false, "Also open the control window")
	leaseClaimCmd.Flags().Float64Var(&leaseRemain, "remaining", 0, "Seconds of control remaining (advisory)")
	_ = leaseClaimCmd.MarkFlagRequired("owner")

	leaseReleaseCmd.Flags().StringVar(&leaseOwner, "owner", "", "Owner releasing the lease")
	leaseReleaseCmd.Flags().BoolVar(&leaseForce, "force", false, "Release regardless of current owner")

	leaseStatusCmd.Flags().BoolVar(&leaseJSONOut, "json", false, "Print the raw record as JSON")
}

var leaseCmd = &cobra.Command{
	Use:   "lease",
	Short: "Inspect and control the input ownership lease",
}

var leaseClaimCmd = &cobra.Command{
	Use:   "claim --owner <name>",
	Short: "Claim the lease if unclaimed or already held by this owner",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStores()
		if err != nil {
			return err
		}
		now := time.Now()
		ok, err := st.Leases.TryClaim(leaseOwner, now)
		if err != nil {
			return err
		}
		if !ok {
			rec, _ := st.Leases.Read()
			fmt.Fprintf(os.Stderr, "claim refused: lease held by %q\n", rec.Owner)
			os.Exit(1)
		}
		if leaseWindow {
			if err := st.Leases.UpdateWindow(true, leaseRemain, now); err != nil {
				return err
			}
		}
		fmt.Printf("lease claimed by %s\n", leaseOwner)
		return nil
	},
}

var leaseReleaseCmd = &cobra.Command{
	Use:   "release [--owner <name> | --force]",
	Short: "Release the lease and close the control window",
	RunE: func(cmd *cobra.Command, args []string) error {
		if leaseOwner == "" && !leaseForce {
			return fmt.Errorf("release needs --owner or --force")
		}
		st, err := openStores()
		if err != nil {
			return err
		}
		ok, err := st.Leases.Release(leaseOwner, leaseForce, time.Now())
		if err != nil {
			return err
		}
		if !ok {
			rec, _ := st.Leases.Read()
			fmt.Fprintf(os.Stderr, "release refused: lease held by %q, not %q\n", rec.Owner, leaseOwner)
			os.Exit(1)
		}
		fmt.Println("lease released")
		return nil
	},
}

var leaseStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current lease record and its staleness",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStores()
		if err != nil {
			return err
		}
		rec, err := st.Leases.Read()
		if err != nil {
			return err
		}
		if leaseJSONOut {
			out, _ := json.MarshalIndent(rec, "", "  ")
			fmt.Println(string(out))
			return nil
		}
		printLease(rec, st)
		return nil
	},
}

var leasePauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause all effectors regardless of owner",
	RunE:  func(cmd *cobra.Command, args []string) error { return setPaused(true) },
}

var leaseResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Clear the paused flag",
	RunE:  func(cmd *cobra.Command, args []string) error { return setPaused(false) },
}

func setPaused(paused bool) error {
	st, err := openStores()
	if err != nil {
		return err
	}
	if err := st.Leases.SetPaused(paused, time.Now()); err != nil {
		return err
	}
	if paused {
		fmt.Println("control paused")
	} else {
		fmt.Println("control resumed")
	}
	return nil
}

func printLease(rec lease.Record, st *stores) {
	owner := rec.Owner
	if owner == "" {
		owner = "(unclaimed)"
	}
	fmt.Printf("owner:              %s\n", owner)
	fmt.Printf("paused:             %t\n", rec.Paused)
	fmt.Printf("in_control_window:  %t\n", rec.InControlWindow)
	fmt.Printf("control_remaining:  %.1fs\n", rec.ControlRemaining)
	if rec.UpdatedAt > 0 {
		age := time.Since(time.Unix(int64(rec.UpdatedAt), 0)).Round(time.Second)
		stale := lease.IsStale(rec, time.Now(), st.Safety.StaleAfter.Std())
		fmt.Printf("updated:            %s ago (stale: %t)\n", age, stale)
	} else {
		fmt.Println("updated:            never")
	}
}
