package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newBootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap [glob]",
		Short: "Registers tickers from Symbol,Company CSV files",
		Long: `Reads every CSV file matching the glob (or bootstrap.files from the
config) and registers each ticker as a pending entity. Tickers that are
already registered keep their completion state.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			pattern := ""
			if len(args) == 1 {
				pattern = args[0]
			}
			n, err := appInstance.Bootstrap(cmd.Context(), pattern)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %d entities\n", n)
			return nil
		},
	}
}

func newHarvestCmd() *cobra.Command {
	var maxPages int
	cmd := &cobra.Command{
		Use:   "harvest [url]",
		Short: "Registers tickers from a paginated listing site",
		Long: `Walks the listing at url (or harvest.start_url), following the "next"
link page by page, and registers the symbol and company of every row as a
pending entity.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			startURL := ""
			if len(args) == 1 {
				startURL = args[0]
			}
			res, err := appInstance.Harvest(cmd.Context(), startURL, maxPages)
			fmt.Fprintf(cmd.OutOrStdout(), "harvested %d entities from %d pages\n", res.Entities, res.Pages)
			return err
		},
	}
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "page limit (default harvest.max_pages)")
	return cmd
}

func newCrawlCmd() *cobra.Command {
	var concurrency int
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Fetches history for every pending ticker",
		Long: `Runs one crawl pass over the pending tickers with a bounded worker pool.
Tickers that fail stay pending and are retried by the next pass.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			summary, err := appInstance.RunCrawl(cmd.Context(), concurrency)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "done=%d failed=%d skipped=%d duration=%s\n",
				summary.Done, summary.Failed, summary.Skipped, summary.Duration)
			for _, f := range summary.Failures {
				fmt.Fprintf(out, "  failed %s: %v\n", f.Symbol, f.Err)
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run crawl: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "number of workers (default crawler.concurrency)")
	return cmd
}

func newProgressCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Prints completion and projected storage size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, err := appInstance.ReportProgress(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return fmt.Errorf("encode report: %w", err)
				}
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves health, metrics, progress and entity browsing over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return appInstance.Serve(cmd.Context())
		},
	}
}
