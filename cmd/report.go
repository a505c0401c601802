// cmd/report.go
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/config"
	"github.com/xkilldash9x/cartpilot/internal/observability"
	"github.com/xkilldash9x/cartpilot/internal/reporting"
	"github.com/xkilldash9x/cartpilot/internal/store"
)

// storeProvider defines an interface for creating a run store.
// This abstraction allows for mocking the database dependency in tests.
type storeProvider interface {
	Create(ctx context.Context, cfg config.Interface) (schemas.RunStore, func(), error)
}

type defaultStoreProvider struct{}

// NewStoreProvider returns the PostgreSQL-backed provider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

// Create connects using the configured DSN.
func (p *defaultStoreProvider) Create(ctx context.Context, cfg config.Interface) (schemas.RunStore, func(), error) {
	s, cleanup, err := store.Connect(ctx, cfg.Store(), observability.GetLogger())
	if err != nil {
		return nil, nil, err
	}
	return s, cleanup, nil
}

// newReportCmd creates and configures the `report` command.
func newReportCmd(provider storeProvider) *cobra.Command {
	var runID, outputPath, format string

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Render a stored run as a JSON or JUnit report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runReport(ctx, observability.GetLogger(), cfg, runID, outputPath, format, provider)
		},
	}

	reportCmd.Flags().StringVar(&runID, "run-id", "", "ID of the run to render (required)")
	_ = reportCmd.MarkFlagRequired("run-id")
	reportCmd.Flags().StringVarP(&outputPath, "output", "o", "stdout", "Output file path")
	reportCmd.Flags().StringVarP(&format, "format", "f", "json", "Report format (json, junit)")
	return reportCmd
}

// runReport contains the core, testable logic for rendering a stored run.
func runReport(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	runID, outputPath, format string,
	provider storeProvider,
) error {
	logger.Info("Rendering stored run.", zap.String("run_id", runID))

	runStore, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer cleanup()

	report, err := runStore.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	reporter, err := reporting.New(format, outputPath)
	if err != nil {
		return err
	}
	if err := reporter.Write(report); err != nil {
		reporter.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return reporter.Close()
}
