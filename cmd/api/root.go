package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"orgchart/api/internal/config"
	"orgchart/api/internal/logging"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "orgchart-api",
		Short:         "Org chart builder API",
		SilenceUsage: true,
	}
	cmd.AddCommand(newServeCmd(), newMigrateCmd())
	return cmd
}

// bootstrap loads configuration and builds the process logger.
func bootstrap() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "orgchart-api")
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}
