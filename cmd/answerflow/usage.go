package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/BaSui01/answerflow/internal/database"
	"github.com/BaSui01/answerflow/internal/usage"
)

// =============================================================================
// 💰 usage 命令
// =============================================================================

type usageOptions struct {
	since  time.Duration
	recent int
}

func newUsageCommand(global *globalOptions) *cobra.Command {
	opts := &usageOptions{}
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Summarize persisted token usage and cost per tier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global.configPath)
			if err != nil {
				return err
			}
			logger := initLogger(cfg.Log)
			defer func() { _ = logger.Sync() }()

			pool, err := database.Open(cfg.Usage.Database, logger)
			if err != nil {
				return fmt.Errorf("open usage database: %w", err)
			}
			defer pool.Close()

			ledger, err := usage.NewLedger(pool, logger)
			if err != nil {
				return err
			}
			return printUsage(cmd.Context(), cmd.OutOrStdout(), ledger, opts, time.Now())
		},
	}
	cmd.Flags().DurationVar(&opts.since, "since", 24*time.Hour, "Aggregation window (0 for all time)")
	cmd.Flags().IntVar(&opts.recent, "recent", 0, "Also list the N most recent generations")
	return cmd
}

// usageReader 用量查询能力（usage.Ledger）
type usageReader interface {
	Totals(ctx context.Context, since time.Time) ([]usage.TierTotal, error)
	Recent(ctx context.Context, limit int) ([]usage.Record, error)
}

func printUsage(ctx context.Context, out io.Writer, ledger usageReader, opts *usageOptions, now time.Time) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var since time.Time
	if opts.since > 0 {
		since = now.Add(-opts.since)
	}

	totals, err := ledger.Totals(ctx, since)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIER\tREQUESTS\tTOKENS IN\tTOKENS OUT\tCOST (USD)")
	var sum usage.TierTotal
	for _, t := range totals {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.6f\n", t.Tier, t.Requests, t.TokensIn, t.TokensOut, t.Cost)
		sum.Requests += t.Requests
		sum.TokensIn += t.TokensIn
		sum.TokensOut += t.TokensOut
		sum.Cost += t.Cost
	}
	fmt.Fprintf(tw, "total\t%d\t%d\t%d\t%.6f\n", sum.Requests, sum.TokensIn, sum.TokensOut, sum.Cost)
	if err := tw.Flush(); err != nil {
		return err
	}

	if opts.recent <= 0 {
		return nil
	}
	records, err := ledger.Recent(ctx, opts.recent)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tREQUEST\tTIER\tMODEL\tTOKENS\tCOST (USD)\tATTEMPTS")
	for _, r := range records {
		tokens := fmt.Sprintf("%d/%d", r.TokensIn, r.TokensOut)
		if r.Estimated {
			tokens += "~"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.6f\t%d\n",
			r.CreatedAt.Format(time.RFC3339), r.RequestID, r.Tier, r.Model, tokens, r.Cost, r.Attempts)
	}
	return tw.Flush()
}
