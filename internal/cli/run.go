package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/e7canasta/orion-facemesh/internal/config"
	"github.com/e7canasta/orion-facemesh/internal/core"
)

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the capture, tracking and delivery pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), opts, cmd)
		},
	}
}

func runPipeline(ctx context.Context, opts *options, cmd *cobra.Command) error {
	logger := newLogger(cmd.OutOrStdout(), opts.debug)

	logger.Info("starting facemeshd",
		"version", Version,
		"config", opts.configPath,
		"debug", opts.debug,
	)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pipeline, err := core.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	// Run returns on signal or when the source is exhausted
	runErr := pipeline.Run(ctx)
	if runErr != nil {
		logger.Error("pipeline error", "error", runErr)
	}

	shutdownTimeout := pipeline.ShutdownTimeout()
	logger.Info("shutting down gracefully", "timeout", shutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := pipeline.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	if runErr != nil {
		return runErr
	}

	logger.Info("facemeshd stopped successfully")
	return nil
}
