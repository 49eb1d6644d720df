// Package config assembles per-component configurations from viper values
// and CLI overrides.
package config

import (
	"fmt"
	"time"

	"property-reconciliation-service/internal/dedup"
	"property-reconciliation-service/internal/importer"
	"property-reconciliation-service/pkg/logger"

	"github.com/spf13/viper"
)

// CreateLoggerConfig creates a logger configuration honoring the verbose flag
func CreateLoggerConfig(verbose bool) *logger.Config {
	cfg := logger.DefaultConfig()
	if verbose {
		cfg = logger.DebugConfig()
	}
	if format := viper.GetString("log-format"); format != "" {
		cfg.Format = logger.Format(format)
	}
	return cfg
}

// CreateImporterConfig creates an importer configuration with the CLI
// threshold override applied
func CreateImporterConfig(acceptThreshold float64) (*importer.Config, error) {
	cfg := importer.DefaultConfig()

	if acceptThreshold > 0 {
		cfg.AcceptThreshold = acceptThreshold
	} else if viper.IsSet("accept-threshold") {
		cfg.AcceptThreshold = viper.GetFloat64("accept-threshold")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid importer config: %w", err)
	}
	return cfg, nil
}

// CreateDedupConfig creates a dedup configuration with the undo window
// override applied
func CreateDedupConfig() (*dedup.Config, error) {
	cfg := dedup.DefaultConfig()

	if viper.IsSet("undo-window-minutes") {
		cfg.UndoWindow = time.Duration(viper.GetInt("undo-window-minutes")) * time.Minute
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dedup config: %w", err)
	}
	return cfg, nil
}
