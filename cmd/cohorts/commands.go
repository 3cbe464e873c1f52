package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cohort-retention-service/internal/platform/config"
	"cohort-retention-service/internal/platform/logging"
)

// cli carries the loaded configuration into every subcommand.
type cli struct {
	cfg config.Config
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "cohorts",
		Short: "Compute user-retention cohorts from homeserver activity",
		Long: `cohorts reads registrations and daily visits from the homeserver database,
groups users into cohorts by registration period and writes 12 retention
buckets per (client, sso_idp) slice to the stats database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.log != nil {
				_ = c.log.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.String("granularity", "", "daily, weekly, monthly, a comma list or all (overrides COHORTS_GRANULARITY)")
	pf.String("log-level", "", "debug, info, warn or error (overrides COHORTS_LOG_LEVEL)")
	pf.Bool("dry-run", false, "print upsert statements instead of writing them (overrides COHORTS_DRY_RUN)")

	root.AddCommand(
		newRunCmd(c),
		newServeCmd(c),
		newMigrateCmd(c),
	)
	return root
}

// load reads the environment, then lets explicitly set flags win.
func (c *cli) load(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyFlags(cmd, &cfg)

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.log = log
	return nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("granularity") {
		cfg.Granularity, _ = flags.GetString("granularity")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("dry-run") {
		cfg.DryRun, _ = flags.GetBool("dry-run")
	}
	if flags.Changed("from") {
		cfg.From, _ = flags.GetString("from")
	}
	if flags.Changed("to") {
		cfg.To, _ = flags.GetString("to")
	}
}
