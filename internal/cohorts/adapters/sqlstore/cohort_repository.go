package sqlstore

import (
	"context"
	"fmt"

	"cohort-retention-service/internal/cohorts/core/domain"
	"cohort-retention-service/internal/cohorts/core/ports"
)

// CohortRepository writes cohort rows to the reporting database.
type CohortRepository struct {
	db      DB
	dialect Dialect
}

func NewCohortRepository(db DB) (*CohortRepository, error) {
	d, err := DialectFor(db.DriverName())
	if err != nil {
		return nil, err
	}
	return &CohortRepository{db: db, dialect: d}, nil
}

var _ ports.CohortSinkPort = (*CohortRepository)(nil)

// UpsertCohort replaces the row in one transaction, so a concurrent reader
// sees either the previous row or the new one.
func (r *CohortRepository) UpsertCohort(ctx context.Context, row domain.Row) error {
	if err := row.Validate(); err != nil {
		return err
	}
	stmt, err := upsertStatement(r.dialect, row.Granularity)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return sinkErr("begin", err)
	}
	if _, err := tx.ExecContext(ctx, r.db.Rebind(stmt), rowArgs(row)...); err != nil {
		_ = tx.Rollback()
		return sinkErr("upsert "+row.Granularity.Table(), err)
	}
	if err := tx.Commit(); err != nil {
		return sinkErr("commit", err)
	}
	return nil
}

func (r *CohortRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return sinkErr("ping", err)
	}
	return nil
}

func sinkErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrSinkUnavailable, op, err)
}
