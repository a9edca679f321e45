package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"deskgate/internal/scenario"
)

var simulateJSON bool

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().BoolVar(&simulateJSON, "json", false, "Print full results as JSON")
}

var simulateCmd = &cobra.Command{
	Use:   "simulate <scenario.yaml>...",
	Short: "Check gate verdicts against expected outcomes",
	Long: "Runs each scenario file's cases through the gate decision with the\n" +
		"described lease, kill-switch, rate, and requirement state, comparing the\n" +
		"verdict against the expected string. Exit 1 if any case fails.",
	Args: cobra.MinimumNArgs(1),
	RunE: runSimulate,
}

func runSimulate(cmd *cobra.Command, args []string) error {
	failed := 0
	var results []*scenario.RunResult
	for _, path := range args {
		result, err := scenario.LoadAndRun(path)
		if err != nil {
			return err
		}
		results = append(results, result)
		failed += result.Failed
	}

	if simulateJSON {
		out, _ := json.MarshalIndent(results, "", "  ")
		fmt.Println(string(out))
	} else {
		for _, result := range results {
			fmt.Printf("%s: %d/%d passed\n", result.File, result.Passed, result.Total)
			for _, c := range result.Cases {
				if c.Passed {
					continue
				}
				name := c.Name
				if name == "" {
					name = fmt.Sprintf("case %d", c.Index)
				}
				fmt.Printf("  FAIL %s: expected %s, got %s\n", name, c.Expected, c.Actual)
			}
		}
	}

	if failed > 0 {
		os.Exit(1)
	}
	return nil
}
