package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dotabank/dotabank/internal/app"
	"github.com/dotabank/dotabank/internal/config"
	"github.com/dotabank/dotabank/internal/logger"
	"github.com/spf13/cobra"
)

var rootCmd = cobra.Command{
	Use:           "dotabankctl",
	Short:         "Operator tool for the dotabank replay pipeline",
	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		opts := app.LoggerOptions(&cfg.Log, "dotabankctl")
		if verbose {
			opts.Level = "debug"
		}
		log = logger.New(opts)
		logger.SetDefaultLogger(log)
		return nil
	},
}

var (
	configPath string
	verbose    bool

	cfg *config.Config
	log *logger.Logger
)

func init() {
	persistentFlags := rootCmd.PersistentFlags()
	persistentFlags.StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "Path to config file")
	persistentFlags.BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
}

// withApp builds the service graph, runs fn and releases it again.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := log.WithContext(cmd.Context())
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	_ = logger.Sync()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
