// Command optionchain builds live option chains from Kite Connect market data.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"optionchain/internal/cli"
	"optionchain/internal/config"
	"optionchain/internal/logging"
	"optionchain/internal/metrics"
)

func main() {
	// A .env file is optional; credentials may come from the environment.
	_ = godotenv.Load()

	configDir := os.Getenv("OPTIONCHAIN_CONFIG_DIR")
	if configDir == "" {
		configDir = config.DefaultConfigDir()
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Check %s\n", filepath.Join(configDir, "config.toml"))
		os.Exit(1)
	}

	logCfg := logging.DefaultLogConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Console = cfg.Logging.Console
	logCfg.File = cfg.Logging.File
	logCfg.FilePath = cfg.Logging.Path
	logger := logging.NewLoggerWithConfig(logCfg)

	metrics.Init()

	if err := cli.NewRootCmd(cfg, configDir, logger).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
