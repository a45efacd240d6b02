package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/massfinder/parish-ingest/internal/config"
	"github.com/massfinder/parish-ingest/internal/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:     "parish-ingest",
	Version: version,
	Short:   "Parish directory ingest pipeline",
	Long:    "Scrapes diocesan parish directories, normalizes and geocodes addresses, and stores deduplicated parish records with a per-source run ledger.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		if _, err := telemetry.Init(cfg.Telemetry, "parish-ingest@"+version, nil); err != nil {
			zap.L().Warn("telemetry disabled", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		telemetry.Flush(2 * time.Second)
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if cmd, err := rootCmd.ExecuteC(); err != nil {
		name := rootCmd.Name()
		if cmd != nil {
			name = cmd.Name()
		}
		telemetry.Error(name, err)
		telemetry.Flush(2 * time.Second)
		os.Exit(1)
	}
}
