package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Isagog/copertinefull/internal/edition"
	"github.com/Isagog/copertinefull/internal/metrics"
	"github.com/Isagog/copertinefull/internal/pipeline"
)

type ingestOptions struct {
	date      string
	days      int
	dateFile  string
	source    string
	overwrite bool
}

func newIngestCmd() *cobra.Command {
	var opts ingestOptions
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest editions for a date, a trailing window or a date file",
		Example: `  copertine ingest --date 2024-01-15
  copertine ingest -n 7 --source cms
  copertine gaps > missing.txt && copertine ingest --date-file missing.txt`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIngest(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.date, "date", "", "single edition date (YYYY-MM-DD)")
	cmd.Flags().IntVarP(&opts.days, "days", "n", 0, "ingest the last N days including today")
	cmd.Flags().StringVar(&opts.dateFile, "date-file", "", "file with one YYYY-MM-DD date per line")
	cmd.Flags().StringVar(&opts.source, "source", string(edition.SourceHTML), "edition source: html or cms")
	cmd.Flags().BoolVar(&opts.overwrite, "overwrite", false, "replace editions that already exist in window mode")
	cmd.MarkFlagsMutuallyExclusive("date", "days", "date-file")
	cmd.MarkFlagsOneRequired("date", "days", "date-file")
	return cmd
}

func (o ingestOptions) selector() pipeline.Selector {
	switch {
	case o.date != "":
		return pipeline.SingleDate(o.date)
	case o.dateFile != "":
		return pipeline.DateFile(o.dateFile)
	default:
		return pipeline.Window(o.days)
	}
}

func runIngest(cmd *cobra.Command, opts ingestOptions) error {
	rt, err := runtimeFrom(cmd.Context())
	if err != nil {
		return err
	}
	source, err := edition.ParseSourceKind(opts.source)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer a.Close()

	p, err := a.Pipeline(source)
	if err != nil {
		return err
	}

	sel := opts.selector()
	policy := pipeline.DefaultPolicy(sel)
	if opts.overwrite {
		policy = pipeline.Overwrite
	}

	stats, err := p.Run(ctx, sel, source, policy)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	printSummary(cmd.OutOrStdout(), stats)

	if url := rt.cfg.Metrics.PushgatewayURL; url != "" && sel.Batch() {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := metrics.Push(pushCtx, url, rt.cfg.Metrics.Job); err != nil {
			rt.logger.Warn("Metrics push failed", zap.Error(err))
		}
	}
	return nil
}

func printSummary(w io.Writer, stats pipeline.RunStats) {
	fmt.Fprintf(w, "attempted=%d skipped=%d succeeded=%d failed=%d\n",
		stats.Attempted, stats.Skipped, stats.Succeeded, stats.Failed)
	for _, f := range stats.Failures {
		fmt.Fprintf(w, "  %s %s: %v\n", f.Key, f.Kind, f.Err)
	}
	if stats.Interrupted {
		fmt.Fprintln(w, "interrupted before all dates were processed")
	}
}
