package ports

import (
	"context"

	"cohort-retention-service/internal/cohorts/core/domain"
)

type ActivitySourcePort interface {
	// ExtractCohort returns the members of the cohort registered in p, sliced by
	// (client, sso_idp), read from a single consistent snapshot. Users without a
	// recognizable client are counted in Cohort.Excluded.
	ExtractCohort(ctx context.Context, p domain.Period) (*domain.Cohort, error)

	// CountActive counts the distinct ids with at least one activity event in p.
	// An empty id set yields 0.
	CountActive(ctx context.Context, ids []string, p domain.Period) (int64, error)

	// IdentityProviders lists the known SSO providers, excluding the empty one.
	IdentityProviders(ctx context.Context) ([]string, error)
}

type CohortSinkPort interface {
	// UpsertCohort replaces the row keyed by (client, sso_idp, date) in the
	// table of row.Granularity, all columns at once.
	UpsertCohort(ctx context.Context, row domain.Row) error
}
