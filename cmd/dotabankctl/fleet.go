package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dotabank/dotabank/internal/app"
	"github.com/spf13/cobra"
)

var fleetCmd = cobra.Command{
	Use:   "fleet",
	Short: "Inspect the worker fleet",
}

var fleetLoadCmd = cobra.Command{
	Use:   "load",
	Short: "Show quota usage per job type over the governor window",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			rows, err := a.Governor.Overview(ctx)
			if err != nil {
				return err
			}
			out := make([][]string, 0, len(rows))
			for _, r := range rows {
				out = append(out, []string{
					string(r.JobType),
					strconv.FormatInt(r.Limit, 10),
					strconv.FormatInt(r.Capacity, 10),
					fmt.Sprintf("%.1f%%", r.LoadPercent),
				})
			}
			printTable(cmd.OutOrStdout(), []string{"JOB TYPE", "LIMIT/WORKER", "CAPACITY", "LOAD"}, out)
			return nil
		})
	},
}

func init() {
	fleetCmd.AddCommand(&fleetLoadCmd)
	rootCmd.AddCommand(&fleetCmd)
}
