package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/company-profile-scraper/internal/app"
	"github.com/JakeFAU/company-profile-scraper/internal/config"
	"github.com/JakeFAU/company-profile-scraper/internal/logging"
)

type runFlags struct {
	inputs      []string
	concurrency int
	engine      string
}

// newRunCmd creates the 'run' subcommand, which processes every configured
// input file once.
func newRunCmd(cfgFile *string) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scrape every company listed in the input files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, *cfgFile, flags)
			if err != nil {
				return err
			}
			return runScrape(cmd, cfg)
		},
	}
	cmd.Flags().StringSliceVar(&flags.inputs, "input", nil, "input CSV file (repeatable); replaces input.files")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 0, "worker pool size; replaces scrape.concurrency")
	cmd.Flags().StringVar(&flags.engine, "engine", "", "render engine (chromedp|static); replaces render.engine")
	return cmd
}

func loadConfig(cmd *cobra.Command, path string, flags runFlags) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if cmd.Flags().Changed("input") {
		cfg.Input.Files = flags.inputs
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Scrape.Concurrency = flags.concurrency
	}
	if cmd.Flags().Changed("engine") {
		cfg.Render.Engine = flags.engine
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func runScrape(cmd *cobra.Command, cfg config.Config) error {
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		File:        cfg.Logging.File,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	a, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer a.Close()

	summary, err := a.Run(cmd.Context())
	if err != nil {
		a.Logger().Error("scrape run failed", zap.Error(err), zap.Int("succeeded", summary.Succeeded))
		return fmt.Errorf("run scraper: %w", err)
	}
	return nil
}
