package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/matheus3301/socialchat/internal/store"
	"github.com/spf13/cobra"
)

var (
	outboxStatus string
	outboxLimit  int
)

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "List journaled sends, newest first",
	Args:  cobra.NoArgs,
	RunE:  runOutbox,
}

func init() {
	outboxCmd.Flags().StringVar(&outboxStatus, "status", "", "filter by status: pending, sent or failed")
	outboxCmd.Flags().IntVar(&outboxLimit, "limit", 20, "maximum number of entries")
}

func runOutbox(cmd *cobra.Command, _ []string) error {
	switch outboxStatus {
	case "", store.OutboxPending, store.OutboxSent, store.OutboxFailed:
	default:
		return fmt.Errorf("unknown status %q", outboxStatus)
	}

	var db *store.DB
	return runApp(cmd.Context(), false, func(context.Context) error {
		entries, err := db.ListOutbox(outboxStatus, outboxLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No journaled sends.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "LOCAL ID\tCONVERSATION\tSTATUS\tCREATED\tDETAIL")
		for _, e := range entries {
			detail := e.ServerMsgID
			if e.Status == store.OutboxFailed {
				detail = e.ErrorMessage
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				e.LocalID, e.ConversationID, e.Status, e.CreatedAt.Local().Format(time.DateTime), detail)
		}
		return w.Flush()
	}, &db)
}
