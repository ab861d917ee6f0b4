// Package cmd defines and implements the CLI commands for the tickercrawl executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/tickercrawl/internal/app"
	"github.com/JakeFAU/tickercrawl/internal/config"
	"github.com/JakeFAU/tickercrawl/internal/crawler"
	"github.com/JakeFAU/tickercrawl/internal/estimate"
	"github.com/JakeFAU/tickercrawl/internal/harvest"
	"github.com/JakeFAU/tickercrawl/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Bootstrap(ctx context.Context, pattern string) (int, error)
	Harvest(ctx context.Context, startURL string, maxPages int) (harvest.Result, error)
	RunCrawl(ctx context.Context, concurrency int) (crawler.RunSummary, error)
	ReportProgress(ctx context.Context) (estimate.Report, error)
	Serve(ctx context.Context) error
	Close(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "tickercrawl",
		Short: "Resumable crawler for per-ticker daily price history.",
		Long: `tickercrawl registers a list of tickers, fetches each one's daily price
history exactly once, and records completion so an interrupted crawl
resumes where it stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Build the application before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env TICKERCRAWL_* overrides)")

	cmd.AddCommand(
		newBootstrapCmd(),
		newHarvestCmd(),
		newCrawlCmd(),
		newProgressCmd(),
		newServeCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// run executes root and closes the application the subcommand built, whether
// or not the subcommand succeeded, so buffered progress events are flushed.
func run(ctx context.Context, root *cobra.Command) error {
	executed, err := root.ExecuteContextC(ctx)
	if executed == nil || executed.Context() == nil {
		return err
	}
	appInstance, resolveErr := resolveApp(executed.Context())
	if resolveErr != nil {
		return err
	}
	if closeErr := appInstance.Close(context.WithoutCancel(executed.Context())); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("close application: %w", closeErr))
	}
	return err
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signalContext()
	defer stop()
	if err := run(ctx, newRootCmd()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
