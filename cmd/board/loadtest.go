package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/steveyegge/launchboard/internal/board/loadtest"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "maint",
	Short:   "Run concurrent sessions against a scratch store",
	Long: `Simulate concurrent sessions, each submitting updateItems batches for
its own disjoint set of items, then verify the store holds the union of every
session's last accepted batch with the orders it submitted.

By default a temporary SQLite database is used; pass --target to load-test a
specific DSN. The target should be a scratch store: load test items are
written to it and never removed.

Example usage:
  board loadtest --sessions 50 --updates 20
  board loadtest --target postgres://localhost/board_scratch --json`,
	Run: func(cmd *cobra.Command, args []string) {
		sessions, _ := cmd.Flags().GetInt("sessions")
		items, _ := cmd.Flags().GetInt("items")
		updates, _ := cmd.Flags().GetInt("updates")
		folderPct, _ := cmd.Flags().GetFloat64("folders")
		target, _ := cmd.Flags().GetString("target")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		if target == "" {
			dir, err := os.MkdirTemp("", "board-loadtest-")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to create temp dir: %v\n", err)
				os.Exit(1)
			}
			defer os.RemoveAll(dir)
			target = filepath.Join(dir, "load.db")
		}

		ctx := context.Background()
		tb, err := loadtest.CreateTestBoard(ctx, target, loadtest.Options{
			Sessions:        sessions,
			ItemsPerSession: items,
			FolderPct:       folderPct,
			Seed:            42,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer tb.Close()

		if !jsonOutput {
			fmt.Printf("Running %d sessions x %d updates of %d items...\n", sessions, updates, items)
		}
		stats, err := tb.RunConcurrentSessions(ctx, updates)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		verifyErr := tb.Verify(ctx)

		if jsonOutput {
			out := map[string]interface{}{
				"board":    tb.GetStats(),
				"intents":  stats.TotalIntents,
				"errors":   stats.Errors,
				"p50_ms":   stats.P50.Seconds() * 1000,
				"p95_ms":   stats.P95.Seconds() * 1000,
				"p99_ms":   stats.P99.Seconds() * 1000,
				"mean_ms":  stats.Mean.Seconds() * 1000,
				"verified": verifyErr == nil,
			}
			data, _ := json.MarshalIndent(out, "", "  ")
			fmt.Println(string(data))
		} else {
			stats.PrintStats(os.Stdout)
		}

		if verifyErr != nil {
			fmt.Fprintf(os.Stderr, "Error: verification failed: %v\n", verifyErr)
			os.Exit(1)
		}
		if !jsonOutput {
			fmt.Println("✓ Board holds every session's last accepted batch")
		}
	},
}

func init() {
	loadtestCmd.Flags().Int("sessions", 20, "Number of concurrent sessions to simulate")
	loadtestCmd.Flags().Int("items", 10, "Items owned by each session")
	loadtestCmd.Flags().Int("updates", 10, "Batches submitted by each session")
	loadtestCmd.Flags().Float64("folders", 0.3, "Share of sessions keeping their items in a folder (0.0-1.0)")
	loadtestCmd.Flags().String("target", "", "Store DSN to load (default: temporary SQLite database)")
	loadtestCmd.Flags().Bool("json", false, "Output results as JSON")

	rootCmd.AddCommand(loadtestCmd)
}
