package cli

import (
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"optionchain/internal/broker"
	"optionchain/internal/config"
	"optionchain/internal/logging"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-03-01"
)

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, configDir string, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config:    cfg,
		ConfigDir: configDir,
		Logger:    logger,
	}

	if cfg.HasCredentials() {
		app.Kite = broker.NewKiteClient(broker.KiteConfig{
			APIKey:      cfg.Credentials.Kite.APIKey,
			APISecret:   cfg.Credentials.Kite.APISecret,
			AccessToken: cfg.Credentials.Kite.AccessToken,
			TokenPath:   filepath.Join(configDir, "session.json"),
			HTTPTimeout: cfg.Engine.HTTPTimeout,
			Logger:      logger,
		})
		logger.Debug().Bool("authenticated", app.Kite.IsAuthenticated()).Msg("Kite client initialized")
	}

	rootCmd := &cobra.Command{
		Use:   "optionchain",
		Short: "Option-chain aggregation engine for Indian derivatives",
		Long: `optionchain assembles live option chains for NSE, BSE and MCX underlyings.

Each chain merges batched quotes, previous-day candles, intraday
reconstruction and session extremes, then adds Black-Scholes IV, Greeks,
PCR and max pain.

Use 'optionchain auth login' once per trading day before building chains.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.Close()
		},
	}

	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newAuthCmd(app))
	addChainCommands(rootCmd, app)
	rootCmd.AddCommand(newCacheCmd(app))

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("optionchain v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": app.ConfigDir})
			}
			output.Println(app.ConfigDir)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("✓ Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Engine")
	output.Printf("  Quote batch:     %d (retry after %s, pacing %s)\n", cfg.Engine.QuoteBatchSize, cfg.Engine.QuoteRetryDelay, cfg.Engine.QuoteBatchPacing)
	output.Printf("  Build timeout:   %s\n", cfg.Engine.BuildTimeout)
	output.Printf("  Stage budgets:   prefetch %s, intraday %s\n", cfg.Engine.PrefetchBudget, cfg.Engine.IntradayBudget)
	output.Printf("  Risk-free rate:  %.2f%%\n", cfg.Engine.RiskFreeRate*100)
	output.Printf("  Exchanges:       %v\n", cfg.Engine.Exchanges)
	output.Println()

	output.Bold("Previous Day")
	output.Printf("  Cache dir:       %s\n", cfg.PrevDay.CacheDir)
	output.Printf("  Prefetch cap:    %d\n", cfg.PrevDay.PrefetchCap)
	output.Printf("  Warm shards:     %d (threshold %s)\n", cfg.PrevDay.Shards, FormatCoverage(cfg.PrevDay.CoverageThreshold))
	output.Printf("  Cooldown:        %s\n", cfg.PrevDay.Cooldown)
	output.Printf("  Holiday rule:    %s (%d holidays)\n", cfg.PrevDay.HolidayRule, len(cfg.PrevDay.Holidays))
	output.Printf("  Retention:       %d days\n", cfg.PrevDay.RetentionDays)
	output.Println()

	output.Bold("Intraday")
	output.Printf("  Max tokens:      %d\n", cfg.Intraday.MaxTokens)
	output.Printf("  Chain subset:    %d\n", cfg.Intraday.ChainSubset)
	output.Printf("  Max age:         %s\n", cfg.Intraday.MaxAge)
	output.Printf("  Cooldown:        %s\n", cfg.Intraday.Cooldown)
	output.Println()

	output.Bold("Historical")
	output.Printf("  Rate:            %.1f req/s (burst %d)\n", cfg.Historical.RatePerSecond, cfg.Historical.Burst)
	output.Println()

	output.Bold("Metrics")
	output.Printf("  Enabled:         %v\n", cfg.Metrics.Enabled)
	output.Printf("  Address:         %s\n", cfg.Metrics.Addr)
}
