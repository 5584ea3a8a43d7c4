package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dotabank/dotabank/internal/app"
	"github.com/spf13/cobra"
)

var workerCmd = cobra.Command{
	Use:   "worker",
	Short: "Manage fleet workers",
}

var workerAddCmd = cobra.Command{
	Use:   "add <username>",
	Short: "Register a worker and print its secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			w, password, err := a.Registry.Register(ctx, args[0], workerDisplayName)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Worker %d registered as %s\n", w.ID, w.Username)
			_, _ = fmt.Fprintf(out, "Secret (shown once): %s\n", password)
			return nil
		})
	},
}

var workerRemoveCmd = cobra.Command{
	Use:   "remove <worker-id>",
	Short: "Deregister a worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid worker id %q", args[0])
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Registry.Deregister(ctx, uint(id)); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Worker %d removed\n", id)
			return nil
		})
	},
}

var workerListCmd = cobra.Command{
	Use:   "list",
	Short: "List registered workers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			workers, err := a.Registry.List(ctx)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(workers))
			for _, w := range workers {
				rows = append(rows, []string{
					strconv.FormatUint(uint64(w.ID), 10),
					w.Username,
					w.DisplayName,
					w.CreatedAt.Format(time.DateTime),
				})
			}
			printTable(cmd.OutOrStdout(), []string{"ID", "USERNAME", "DISPLAY NAME", "CREATED"}, rows)
			return nil
		})
	},
}

var workerDisplayName string

func init() {
	workerAddCmd.Flags().StringVar(&workerDisplayName, "display-name", "", "Human readable name")

	workerCmd.AddCommand(&workerAddCmd)
	workerCmd.AddCommand(&workerRemoveCmd)
	workerCmd.AddCommand(&workerListCmd)
	rootCmd.AddCommand(&workerCmd)
}
