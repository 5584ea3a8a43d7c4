package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dotabank/dotabank/internal/app"
	"github.com/dotabank/dotabank/internal/domain"
	"github.com/dotabank/dotabank/internal/service"
	"github.com/spf13/cobra"
)

var sweepCmd = cobra.Command{
	Use:   "sweep [check...]",
	Short: "Run reconciliation checks",
	Long: "Runs the named checks, or every check when none is given.\n" +
		"With --loop the whole set repeats every --interval until interrupted.",
	RunE: runSweep,
}

var (
	sweepLoop     bool
	sweepInterval time.Duration
)

func init() {
	flags := sweepCmd.Flags()
	flags.BoolVar(&sweepLoop, "loop", false, "Repeat every --interval until interrupted")
	flags.DurationVar(&sweepInterval, "interval", 0, "Loop interval (default sweeper.interval)")
	rootCmd.AddCommand(&sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	kinds := make([]domain.CheckKind, 0, len(args))
	for _, name := range args {
		kind, ok := domain.ParseCheckKind(name)
		if !ok {
			return fmt.Errorf("unknown check %q", name)
		}
		kinds = append(kinds, kind)
	}

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if sweepLoop {
			if len(kinds) > 0 {
				return errors.New("--loop always runs every check")
			}
			interval := sweepInterval
			if interval <= 0 {
				interval = cfg.Sweeper.Interval
			}
			err := a.Sweeper.RunLoop(ctx, interval)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		var (
			reports []*service.CheckReport
			err     error
		)
		if len(kinds) == 0 {
			reports, err = a.Sweeper.RunAll(ctx)
		} else {
			for _, kind := range kinds {
				report, checkErr := a.Sweeper.RunCheck(ctx, kind)
				if checkErr != nil {
					err = errors.Join(err, checkErr)
					continue
				}
				reports = append(reports, report)
			}
		}
		printReports(cmd, reports)
		return err
	})
}

func printReports(cmd *cobra.Command, reports []*service.CheckReport) {
	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		rows = append(rows, []string{
			string(r.Check),
			strconv.Itoa(r.Found),
			strconv.Itoa(r.Fixed),
			strconv.Itoa(r.Exhausted),
			strconv.Itoa(r.Failed),
			r.Duration.Round(time.Millisecond).String(),
		})
	}
	printTable(cmd.OutOrStdout(), []string{"CHECK", "FOUND", "FIXED", "EXHAUSTED", "FAILED", "TOOK"}, rows)
}
