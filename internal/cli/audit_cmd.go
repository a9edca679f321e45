package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"deskgate/internal/audit"
)

var auditTailLines int

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd, auditTailCmd)
	auditTailCmd.Flags().IntVarP(&auditTailLines, "lines", "n", 10, "Number of recent entries to show")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the hash-chained audit log",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify the audit log's hash chain",
	Long: "Walks the JSONL audit log and validates that every entry's prev_hash\n" +
		"matches the hash of the previous line. Exits 0 if intact, 1 if not.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := audit.DefaultPath(rootDir)
		if len(args) == 1 {
			path = args[0]
		}
		entries, err := audit.Verify(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "chain broken: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("OK: %d entries verified\n", entries)
		return nil
	},
}

var auditTailCmd = &cobra.Command{
	Use:   "tail [path]",
	Short: "Show recent audit entries",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := audit.DefaultPath(rootDir)
		if len(args) == 1 {
			path = args[0]
		}
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		defer f.Close()

		var lines [][]byte
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			lines = append(lines, bytes.Clone(scanner.Bytes()))
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("read audit log: %w", err)
		}

		start := len(lines) - auditTailLines
		if start < 0 {
			start = 0
		}
		for _, line := range lines[start:] {
			var entry map[string]any
			if err := json.Unmarshal(line, &entry); err != nil {
				fmt.Println(string(line))
				continue
			}
			out, _ := json.MarshalIndent(entry, "", "  ")
			fmt.Println(string(out))
		}
		return nil
	},
}
