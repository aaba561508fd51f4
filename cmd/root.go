// Package cmd defines the scraper command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// newRootCmd creates the root command and attaches its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "scraper",
		Short: "Scrape company profile pages into CSV records and logo assets.",
		Long: `scraper reads company URLs from screener CSV exports, renders each
company profile page on a bounded worker pool, extracts the profile fields,
saves the company logo and checkpoints the collected records as it goes.`,
		SilenceUsage: true,
		// .env values are loaded before viper reads the environment; a missing
		// file is not an error.
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("load .env: %w", err)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	cmd.AddCommand(newRunCmd(&cfgFile))
	return cmd
}

// Execute runs the CLI until completion or SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
