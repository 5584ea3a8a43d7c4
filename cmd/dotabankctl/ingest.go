package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dotabank/dotabank/internal/app"
	"github.com/dotabank/dotabank/internal/service"
	"github.com/spf13/cobra"
)

var ingestCmd = cobra.Command{
	Use:   "ingest",
	Short: "Walk match history and submit every match found",
}

var ingestLeagueCmd = cobra.Command{
	Use:   "league <league-id>",
	Short: "Ingest every match of a league",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		leagueID, err := strconv.Atoi(args[0])
		if err != nil || leagueID <= 0 {
			return fmt.Errorf("invalid league id %q", args[0])
		}
		return runIngest(cmd, func(ctx context.Context, s *service.IngestService, opts *service.IngestOptions) (*service.IngestStats, error) {
			return s.IngestLeague(ctx, leagueID, opts)
		})
	},
}

var ingestAccountCmd = cobra.Command{
	Use:   "account <account-id>",
	Short: "Ingest the recent matches of a player account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || accountID <= 0 {
			return fmt.Errorf("invalid account id %q", args[0])
		}
		return runIngest(cmd, func(ctx context.Context, s *service.IngestService, opts *service.IngestOptions) (*service.IngestStats, error) {
			return s.IngestAccount(ctx, accountID, opts)
		})
	},
}

var (
	ingestLimit int
	ingestSince string
)

func init() {
	flags := ingestCmd.PersistentFlags()
	flags.IntVar(&ingestLimit, "limit", 0, "Stop after this many matches (0 = no limit)")
	flags.StringVar(&ingestSince, "since", "", "Skip matches started before this date (YYYY-MM-DD or RFC3339)")

	ingestCmd.AddCommand(&ingestLeagueCmd)
	ingestCmd.AddCommand(&ingestAccountCmd)
	rootCmd.AddCommand(&ingestCmd)
}

func parseSince(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q", s)
	}
	return t, nil
}

type ingestFunc func(ctx context.Context, s *service.IngestService, opts *service.IngestOptions) (*service.IngestStats, error)

func runIngest(cmd *cobra.Command, run ingestFunc) error {
	since, err := parseSince(ingestSince)
	if err != nil {
		return err
	}
	opts := &service.IngestOptions{Limit: ingestLimit, Since: since}

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		stats, err := run(ctx, a.Ingest, opts)
		if stats != nil {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Processed %d matches: %d created, %d already tracked, %d failed (%s)\n",
				stats.TotalItems, stats.CreatedItems, stats.SkippedItems, stats.FailedItems,
				stats.EndTime.Sub(stats.StartTime).Round(time.Millisecond))
		}
		return err
	})
}
