// cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cartpilot/api/schemas"
	"github.com/xkilldash9x/cartpilot/internal/action"
	"github.com/xkilldash9x/cartpilot/internal/browser"
	"github.com/xkilldash9x/cartpilot/internal/browser/htmlpage"
	"github.com/xkilldash9x/cartpilot/internal/config"
	"github.com/xkilldash9x/cartpilot/internal/fallback"
	"github.com/xkilldash9x/cartpilot/internal/locators"
	"github.com/xkilldash9x/cartpilot/internal/observability"
	"github.com/xkilldash9x/cartpilot/internal/reporting"
	"github.com/xkilldash9x/cartpilot/internal/resolve"
	"github.com/xkilldash9x/cartpilot/internal/runner"
	"github.com/xkilldash9x/cartpilot/internal/steps"
)

// runOptions are the per-invocation settings of the run command.
type runOptions struct {
	StepsFile string
	URL       string
	HTMLFile  string
}

// pageProvider opens the page a run drives and returns its cleanup.
type pageProvider interface {
	Open(ctx context.Context, cfg config.Interface, opts runOptions) (schemas.Page, func(), error)
}

type defaultPageProvider struct{}

func newPageProvider() pageProvider { return defaultPageProvider{} }

// Open loads an offline snapshot when HTMLFile is set and otherwise starts
// Chrome and opens one tab.
func (defaultPageProvider) Open(ctx context.Context, cfg config.Interface, opts runOptions) (schemas.Page, func(), error) {
	logger := observability.GetLogger()
	if opts.HTMLFile != "" {
		page, err := htmlpage.Open(logger, opts.HTMLFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open snapshot: %w", err)
		}
		return page, func() {}, nil
	}

	manager, err := browser.NewManager(ctx, cfg.Browser(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start browser: %w", err)
	}
	sess, err := manager.NewSession(ctx)
	if err != nil {
		_ = manager.Shutdown(context.Background())
		return nil, nil, err
	}
	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := sess.Close(shutdownCtx); err != nil {
			logger.Warn("Failed to close browser session.", zap.Error(err))
		}
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Browser shutdown did not complete cleanly.", zap.Error(err))
		}
	}
	if opts.URL != "" {
		if err := sess.Navigate(ctx, opts.URL); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to open %s: %w", opts.URL, err)
		}
	}
	return sess, cleanup, nil
}

// newRunCmd creates and configures the `run` command.
func newRunCmd(pages pageProvider, stores storeProvider) *cobra.Command {
	var opts runOptions
	var (
		format, output, screenshotDir string
		maxStepTime                   time.Duration
		noFallback, headed            bool
	)

	runCmd := &cobra.Command{
		Use:   "run <steps-file>",
		Short: "Execute a step file against a live page or an offline snapshot",
		Long: `Loads a YAML, JSON or CSV step file and executes it step by step. Each step
resolves its target through generated candidate selectors, acts with an
escalating strategy ladder and, when enabled, hands unresolved steps to the
natural-language fallback. Execution stops at the first failing step.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("format") {
				cfg.SetReportFormat(format)
			}
			if flags.Changed("output") {
				cfg.SetReportOutput(output)
			}
			if flags.Changed("max-step-time") {
				cfg.SetRunnerMaxStepTime(maxStepTime)
			}
			if noFallback {
				cfg.SetFallbackEnabled(false)
			}
			if headed {
				cfg.SetBrowserHeadless(false)
			}
			if flags.Changed("screenshot-dir") {
				cfg.SetReportScreenshotDir(screenshotDir)
			}

			opts.StepsFile = args[0]
			return runSteps(ctx, observability.GetLogger(), cfg, opts, pages, stores, cmd.OutOrStdout())
		},
	}

	runCmd.Flags().StringVar(&opts.URL, "url", "", "URL to open before the first step")
	runCmd.Flags().StringVar(&opts.HTMLFile, "html", "", "run against a local HTML snapshot instead of Chrome")
	runCmd.Flags().StringVarP(&format, "format", "f", "json", "report format (json, junit)")
	runCmd.Flags().StringVarP(&output, "output", "o", "stdout", "report destination")
	runCmd.Flags().StringVar(&screenshotDir, "screenshot-dir", "", "directory for failure screenshots")
	runCmd.Flags().DurationVar(&maxStepTime, "max-step-time", 0, "hard limit per step")
	runCmd.Flags().BoolVar(&noFallback, "no-fallback", false, "never hand steps to the natural-language executor")
	runCmd.Flags().BoolVar(&headed, "headed", false, "show the browser window")
	return runCmd
}

// runSteps contains the core, testable logic of the run command.
func runSteps(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	opts runOptions,
	pages pageProvider,
	stores storeProvider,
	progress io.Writer,
) error {
	source, err := steps.Load(opts.StepsFile)
	if err != nil {
		return err
	}
	logger.Info("Step file loaded.", zap.String("source", source.Name()), zap.Int("steps", source.Len()))

	// Validate the output before spending time in the browser.
	reporter, err := reporting.New(cfg.Report().Format, cfg.Report().Output)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := reporter.Close(); cerr != nil {
			logger.Error("Failed to finalize report.", zap.Error(cerr))
		}
	}()

	page, closePage, err := pages.Open(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer closePage()

	locatorManager, err := locators.NewManagerFromConfig(logger, cfg.Locators())
	if err != nil {
		return fmt.Errorf("failed to load locators: %w", err)
	}
	prober := resolve.NewProber(logger, cfg.Probe())
	resolver := resolve.NewResolver(logger, prober, locatorManager)
	executor := action.NewExecutor(logger, cfg.Action())

	dispatcher, err := newDispatcher(ctx, cfg.Fallback(), logger)
	if err != nil {
		return err
	}

	var runStore schemas.RunStore
	if cfg.Store().DSN != "" {
		s, cleanup, err := stores.Create(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		defer cleanup()
		runStore = s
	}

	stepRunner := runner.New(logger, cfg.Runner(), page, resolver, executor, dispatcher,
		reporting.NewProgressHook(progress, logger))
	report, runErr := runner.NewSuite(logger, stepRunner, runStore).Run(ctx, source)

	if err := reporting.SaveAttachments(cfg.Report().ScreenshotDir, report); err != nil {
		logger.Warn("Failed to save attachments.", zap.Error(err))
	}
	if err := reporter.Write(report); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if runErr != nil {
		return runErr
	}
	if !report.Passed {
		_, failed, skipped := report.Counts()
		return fmt.Errorf("run %s failed: %d failed, %d skipped", report.RunID, failed, skipped)
	}
	return nil
}

// newDispatcher returns nil when the fallback is disabled.
func newDispatcher(ctx context.Context, cfg config.FallbackConfig, logger *zap.Logger) (*fallback.Dispatcher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	gemini, err := fallback.NewGeminiExecutor(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize fallback executor: %w", err)
	}
	return fallback.NewDispatcher(gemini, logger, cfg.Timeout), nil
}
