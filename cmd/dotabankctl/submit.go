package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dotabank/dotabank/internal/app"
	"github.com/spf13/cobra"
)

var submitCmd = cobra.Command{
	Use:   "submit <match-id>",
	Short: "Validate a match id and queue it for archival",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		matchID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || matchID <= 0 {
			return fmt.Errorf("invalid match id %q", args[0])
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			replay, created, err := a.Ingest.Submit(ctx, matchID)
			if err != nil {
				return err
			}
			verb := "already tracked"
			if created {
				verb = "queued"
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Replay %d %s (state %s)\n", replay.ID, verb, replay.State)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(&submitCmd)
}
