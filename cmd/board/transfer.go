package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/steveyegge/launchboard/internal/board/db"
	"github.com/steveyegge/launchboard/internal/board/migrate"
)

var exportCmd = &cobra.Command{
	Use:     "export <file.jsonl>",
	GroupID: "data",
	Short:   "Dump the board to a JSONL file",
	Long: `Write every folder, then every item, one JSON record per line.

Example usage:
  board export backup.jsonl
  board export --dsn postgres://localhost/board board.jsonl`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store, err := db.Open(ctx, viper.GetString("dsn"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		result, err := migrate.ExportFile(ctx, store, args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: export failed: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("✓ Exported %s folders and %s items (revision %d) to %s\n",
			humanize.Comma(int64(result.Folders)), humanize.Comma(int64(result.Items)), result.Revision, args[0])
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file.jsonl>",
	GroupID: "data",
	Short:   "Load a JSONL dump into the board",
	Long: `Load a dump written by 'board export'. Folders are written first, then
items, each as one transaction. Records for ids that already exist replace
them; nothing is deleted.

Connected sessions are not notified; restart the server or have clients
refetch after importing into a live store.

Example usage:
  board import backup.jsonl --dry-run
  board import backup.jsonl --backup`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backup, _ := cmd.Flags().GetBool("backup")
		renumber, _ := cmd.Flags().GetBool("renumber")

		ctx := context.Background()
		store, err := db.Open(ctx, viper.GetString("dsn"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		result, err := migrate.Import(ctx, store, args[0], migrate.ImportOptions{
			DryRun:   dryRun,
			Backup:   backup,
			Renumber: renumber,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: import failed: %v\n", err)
			os.Exit(1)
		}

		if dryRun {
			fmt.Printf("Dry run: %d folders and %d items would be imported\n", result.Folders, result.Items)
			return
		}
		if result.BackupCreated != "" {
			fmt.Printf("Backup written to %s\n", result.BackupCreated)
		}
		fmt.Printf("✓ Imported %s folders and %s items (revision %d)\n",
			humanize.Comma(int64(result.Folders)), humanize.Comma(int64(result.Items)), result.Revision)
	},
}

func init() {
	importCmd.Flags().Bool("dry-run", false, "Check the dump without writing")
	importCmd.Flags().Bool("backup", false, "Export the current board next to the dump first")
	importCmd.Flags().Bool("renumber", false, "Re-sequence touched sibling groups to dense order")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
}
