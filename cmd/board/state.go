package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/steveyegge/launchboard/internal/board/db"
	"github.com/steveyegge/launchboard/internal/board/schema"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	folderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Faint(true)
	treeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

var stateCmd = &cobra.Command{
	Use:     "state",
	GroupID: "data",
	Short:   "Print the board held by a store",
	Long: `Print the canonical board held by the store named by --dsn, folders
first with their items, then the items at the root.

Example usage:
  board state
  board state --dsn postgres://localhost/board --json`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store, err := db.Open(ctx, viper.GetString("dsn"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()

		state, err := loadState(ctx, store)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(state)
			return
		}
		fmt.Println(renderState(state))
	},
}

func init() {
	stateCmd.Flags().Bool("json", false, "Output the board as JSON")
	rootCmd.AddCommand(stateCmd)
}

// loadState reads the board the same way the bootstrap fetch does.
func loadState(ctx context.Context, store db.Store) (schema.State, error) {
	var state schema.State
	var err error
	if state.Revision, err = store.Revision(ctx); err != nil {
		return state, err
	}
	if state.Items, err = store.ListItems(ctx); err != nil {
		return state, err
	}
	if state.Folders, err = store.ListFoldersWithItems(ctx); err != nil {
		return state, err
	}
	return state, nil
}

func renderState(state schema.State) string {
	root := tree.Root(titleStyle.Render(fmt.Sprintf("Board (revision %d)", state.Revision))).
		Enumerator(tree.RoundedEnumerator).
		EnumeratorStyle(treeStyle)

	for _, folder := range state.Folders {
		marker := "▸"
		if folder.IsOpen {
			marker = "▾"
		}
		label := fmt.Sprintf("%s %s %s", marker, folderStyle.Render(folder.Name),
			mutedStyle.Render(fmt.Sprintf("[%s, %s]", folder.ID, itemCount(len(folder.Items)))))
		branch := tree.Root(label).Enumerator(tree.RoundedEnumerator).EnumeratorStyle(treeStyle)
		for _, item := range folder.Items {
			branch.Child(itemLabel(item))
		}
		root.Child(branch)
	}
	for _, item := range state.Items {
		if item.FolderID == nil {
			root.Child(itemLabel(item))
		}
	}

	summary := mutedStyle.Render(fmt.Sprintf("%s %s, %s", humanize.Comma(int64(len(state.Folders))),
		plural(len(state.Folders), "folder", "folders"), itemCount(len(state.Items))))
	return root.String() + "\n" + summary
}

func itemLabel(item schema.Item) string {
	icon := item.Icon
	if _, ok := item.AssetKey(); ok {
		icon = "🖼"
	}
	return fmt.Sprintf("%s %s %s", icon, item.Title, mutedStyle.Render(fmt.Sprintf("[%s #%d]", item.ID, item.Order)))
}

func itemCount(n int) string {
	return humanize.Comma(int64(n)) + " " + plural(n, "item", "items")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
