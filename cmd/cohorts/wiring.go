package main

import (
	"context"
	"errors"
	"io"

	"github.com/jmoiron/sqlx"

	"cohort-retention-service/internal/cohorts/adapters/sqlstore"
	"cohort-retention-service/internal/cohorts/core/ports"
	"cohort-retention-service/internal/cohorts/core/usecase"
)

// pipeline is the wired use case plus the connections it owns.
type pipeline struct {
	uc     *usecase.ComputeCohortsUseCase
	source *sqlstore.ActivityRepository
	sink   *sqlstore.CohortRepository // nil on dry runs
	dbs    []*sqlx.DB
}

func (p *pipeline) Close() error {
	var errs []error
	for _, db := range p.dbs {
		errs = append(errs, db.Close())
	}
	return errors.Join(errs...)
}

// build opens the source and, unless this is a dry run, the sink. Dry runs
// print statements for the sink's dialect to out.
func (c *cli) build(ctx context.Context, rec usecase.Recorder, out io.Writer) (*pipeline, error) {
	p := &pipeline{}

	srcDB, err := sqlstore.Open(ctx, c.cfg.SourceDriver, c.cfg.SourceDSN)
	if err != nil {
		return nil, err
	}
	p.dbs = append(p.dbs, srcDB)
	p.source = sqlstore.NewActivityRepository(sqlstore.NewSQLDB(srcDB), c.log.Named("source"))

	var sink ports.CohortSinkPort
	if c.cfg.DryRun {
		dialect, err := sqlstore.DialectFor(c.cfg.SinkDriver)
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		sink = sqlstore.NewStatementPrinter(out, dialect)
	} else {
		sinkDB, err := sqlstore.Open(ctx, c.cfg.SinkDriver, c.cfg.SinkDSN)
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		p.dbs = append(p.dbs, sinkDB)
		p.sink, err = sqlstore.NewCohortRepository(sqlstore.NewSQLDB(sinkDB))
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		sink = p.sink
	}

	p.uc = usecase.NewComputeCohortsUseCase(p.source, sink, usecase.Options{
		Clients:       c.cfg.Clients,
		QueryTimeout:  c.cfg.QueryTimeout,
		Retries:       c.cfg.Retries,
		PeriodWorkers: c.cfg.PeriodWorkers,
		OffsetWorkers: c.cfg.OffsetWorkers,
		Logger:        c.log,
		Recorder:      rec,
	})
	return p, nil
}
