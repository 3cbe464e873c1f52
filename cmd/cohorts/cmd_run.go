package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cohort-retention-service/internal/cohorts/core/usecase"
)

func newRunCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Compute cohorts for a date range once and exit",
		Long: `run computes every cohort period between --from and --to (inclusive) for the
configured granularities. Rows are upserted, so re-running a range is safe.
The exit status is non-zero when any period failed.`,
		Example: `  cohorts run --granularity weekly --from 2024-01-01 --to 2024-03-31
  cohorts run --granularity all --from 2024-05-01 --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd)
		},
	}
	cmd.Flags().String("from", "", "first date of the range, YYYY-MM-DD (overrides COHORTS_FROM)")
	cmd.Flags().String("to", "", "last date of the range, YYYY-MM-DD, defaults to --from (overrides COHORTS_TO)")
	return cmd
}

func (c *cli) run(cmd *cobra.Command) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	granularities, err := c.cfg.Granularities()
	if err != nil {
		return err
	}
	from, to, err := c.cfg.DateRange()
	if err != nil {
		return err
	}

	// In-flight periods finish after a signal; queued ones are skipped.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := c.build(ctx, nil, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer p.Close()

	report, err := p.uc.Execute(ctx, usecase.RunInput{
		Granularities: granularities,
		From:          from,
		To:            to,
	})
	if err != nil {
		return err
	}
	return c.summarize(report)
}

func (c *cli) summarize(report *usecase.RunReport) error {
	failed := report.Failed()
	for _, r := range failed {
		c.log.Error("cohort period failed",
			zap.String("run_id", report.RunID),
			zap.Stringer("granularity", r.Granularity),
			zap.Time("cohort_start", r.CohortStart),
			zap.String("kind", string(r.Kind)),
			zap.Error(r.Err),
		)
	}
	if len(failed) > 0 {
		return fmt.Errorf("run %s: %d of %d periods failed", report.RunID, len(failed), len(report.Results))
	}
	return nil
}
