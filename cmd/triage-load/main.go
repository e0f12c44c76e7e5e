// Command triage-load replays duplicate and burst traffic against a running
// triage server and prints a summary.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AlexBiobelemo/Project-Andrew/internal/loadtest"
	"github.com/AlexBiobelemo/Project-Andrew/pkg/logger"
)

var cfg = loadtest.Config{
	BaseURL:     loadtest.DefaultBaseURL,
	Workers:     runtime.NumCPU() * 2,
	Timeout:     loadtest.DefaultTimeout,
	Seed:        1,
	Clusters:    loadtest.DefaultClusters,
	ClusterSize: loadtest.DefaultClusterSize,
	Burst:       loadtest.DefaultBurst,
	TopN:        loadtest.DefaultTopN,
}

var rootCmd = &cobra.Command{
	Use:   "triage-load",
	Short: "Replay duplicate and burst traffic against a triage server",
	Long: `Replay synthetic civic issue traffic against a running server.

Examples:
  # Run every scenario against a local server
  triage-load all

  # Larger duplicate run with a fixed seed, saving the generated reports
  triage-load duplicates --clusters 200 --cluster-size 5 --seed 7 --output reports.json

  # Hammer check-duplicates as one identity
  triage-load burst --burst 100 --url http://localhost:8080`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := logger.Init(); err != nil {
			return err
		}
		if !cfg.Verbose {
			_ = logger.SetLevelString("warn")
		}
		return cfg.Validate()
	},
}

var duplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "File clusters of near-identical reports and measure rejections",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRunner(cmd, func(ctx context.Context, r *loadtest.Runner) error {
			stats, err := r.Duplicates(ctx)
			loadtest.PrintDuplicates(cmd.OutOrStdout(), stats)
			return err
		})
	},
}

var burstCmd = &cobra.Command{
	Use:   "burst",
	Short: "Send a burst of duplicate checks as one identity",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRunner(cmd, func(ctx context.Context, r *loadtest.Runner) error {
			stats, err := r.Burst(ctx)
			loadtest.PrintBurst(cmd.OutOrStdout(), stats)
			return err
		})
	},
}

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Fetch the priority board and check its ordering",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRunner(cmd, func(ctx context.Context, r *loadtest.Runner) error {
			return board(ctx, cmd, r)
		})
	},
}

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Run duplicates, burst and board in order",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withRunner(cmd, func(ctx context.Context, r *loadtest.Runner) error {
			dup, err := r.Duplicates(ctx)
			loadtest.PrintDuplicates(cmd.OutOrStdout(), dup)
			if err != nil {
				return err
			}
			burst, err := r.Burst(ctx)
			loadtest.PrintBurst(cmd.OutOrStdout(), burst)
			if err != nil {
				return err
			}
			return board(ctx, cmd, r)
		})
	},
}

func board(ctx context.Context, cmd *cobra.Command, r *loadtest.Runner) error {
	stats, entries, err := r.Board(ctx)
	if err != nil {
		return err
	}
	loadtest.PrintBoard(cmd.OutOrStdout(), stats, entries, cfg.Verbose)
	if !stats.Ordered {
		return fmt.Errorf("priority board is out of order")
	}
	return nil
}

func withRunner(cmd *cobra.Command, fn func(context.Context, *loadtest.Runner) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := loadtest.NewRunner(cfg, logger.Get())
	if err != nil {
		return err
	}
	if err := r.CheckHealth(ctx); err != nil {
		return err
	}
	return fn(ctx, r)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfg.BaseURL, "url", cfg.BaseURL, "base URL of the service")
	pf.IntVar(&cfg.Workers, "workers", cfg.Workers, "concurrent requests")
	pf.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "per-request timeout")
	pf.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "generator seed")
	pf.BoolVarP(&cfg.Verbose, "verbose", "v", false, "verbose output")

	for _, c := range []*cobra.Command{duplicatesCmd, allCmd} {
		c.Flags().IntVar(&cfg.Clusters, "clusters", cfg.Clusters, "number of distinct sites")
		c.Flags().IntVar(&cfg.ClusterSize, "cluster-size", cfg.ClusterSize, "reports per site, the first being the original")
		c.Flags().StringVar(&cfg.Output, "output", "", "write generated reports to this JSON file")
	}
	for _, c := range []*cobra.Command{burstCmd, allCmd} {
		c.Flags().IntVar(&cfg.Burst, "burst", cfg.Burst, "requests sent by the burst identity")
	}
	for _, c := range []*cobra.Command{boardCmd, allCmd} {
		c.Flags().IntVar(&cfg.TopN, "top", cfg.TopN, "board entries to fetch")
	}

	rootCmd.AddCommand(duplicatesCmd, burstCmd, boardCmd, allCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
