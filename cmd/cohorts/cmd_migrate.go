package main

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cohort-retention-service/internal/cohorts/adapters/sqlstore"
)

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the cohort tables in the stats database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.SinkDSN == "" {
				return errors.New("COHORTS_SINK_DSN is not set")
			}

			db, err := sqlstore.Open(cmd.Context(), c.cfg.SinkDriver, c.cfg.SinkDSN)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := sqlstore.Migrate(cmd.Context(), sqlstore.NewSQLDB(db)); err != nil {
				return err
			}
			c.log.Info("migrations applied", zap.String("driver", c.cfg.SinkDriver))
			return nil
		},
	}
}
