package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/steveyegge/launchboard/internal/board/client"
	"github.com/steveyegge/launchboard/internal/board/logging"
	"github.com/steveyegge/launchboard/internal/board/schema"
)

var watchCmd = &cobra.Command{
	Use:     "watch [server-url]",
	GroupID: "server",
	Short:   "Join a board as a session and print every change",
	Long: `Connect to a running board server the way a browser does (live channel
first, then the bootstrap fetch) and print the board after every event.

Example usage:
  board watch
  board watch http://board.internal:3001 --events`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		serverURL := "http://localhost:3001"
		if len(args) == 1 {
			serverURL = args[0]
		}
		eventsOnly, _ := cmd.Flags().GetBool("events")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		events := make(chan schema.Envelope, 64)
		c, err := client.Dial(ctx, serverURL, &client.Options{
			Logger: logging.Component("watch"),
			OnEvent: func(env schema.Envelope) {
				select {
				case events <- env:
				default:
				}
			},
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer c.Close()

		fmt.Printf("Joined %s as session %s\n\n", serverURL, c.SessionID())
		if !eventsOnly {
			printView(c.View())
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.Done():
				fmt.Fprintf(os.Stderr, "Error: live channel closed: %v\n", c.Err())
				os.Exit(1)
			case env := <-events:
				fmt.Println(describeEvent(env))
				if !eventsOnly && env.Type != schema.EventError {
					printView(c.View())
				}
			}
		}
	},
}

func init() {
	watchCmd.Flags().Bool("events", false, "Print event summaries only, not the board")
	rootCmd.AddCommand(watchCmd)
}

func printView(v *client.View) {
	itemsRev, foldersRev := v.Revisions()
	rev := itemsRev
	if foldersRev > rev {
		rev = foldersRev
	}
	fmt.Println(renderState(schema.State{Items: v.Items(), Folders: v.Folders(), Revision: rev}))
	fmt.Println()
}

func describeEvent(env schema.Envelope) string {
	when := mutedStyle.Render(humanize.Time(env.Timestamp))
	switch env.Type {
	case schema.EventUpdateState:
		var update schema.StateUpdate
		_ = json.Unmarshal(env.Data, &update)
		var parts []string
		if update.Items != nil {
			parts = append(parts, itemCount(len(*update.Items)))
		}
		if update.Folders != nil {
			parts = append(parts, fmt.Sprintf("%d %s", len(*update.Folders), plural(len(*update.Folders), "folder", "folders")))
		}
		return fmt.Sprintf("%s updateState r%d %v", when, update.Revision, parts)
	case schema.EventNewItem:
		var ev schema.NewItemEvent
		_ = json.Unmarshal(env.Data, &ev)
		return fmt.Sprintf("%s newItem %s (%s)", when, ev.NewItem.Title, ev.NewItem.ID)
	case schema.EventError:
		var ev schema.ErrorEvent
		_ = json.Unmarshal(env.Data, &ev)
		return fmt.Sprintf("%s error %s", when, ev.Message)
	default:
		return fmt.Sprintf("%s %s", when, env.Type)
	}
}
