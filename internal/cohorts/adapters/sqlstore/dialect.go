package sqlstore

import (
	"fmt"
	"strings"
	"time"

	"cohort-retention-service/internal/cohorts/core/domain"
)

type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
)

// DialectFor maps a database/sql driver name to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch Dialect(driver) {
	case Postgres, MySQL, SQLite:
		return Dialect(driver), nil
	default:
		return "", fmt.Errorf("unsupported driver %q", driver)
	}
}

var cohortColumns = func() []string {
	cols := []string{"date", "client", "sso_idp"}
	for i := 1; i <= domain.BucketCount; i++ {
		cols = append(cols, fmt.Sprintf("b%d", i))
	}
	return append(cols, "cohort_size")
}()

// upsertStatement builds the whole-row replace for g's table in '?' form.
func upsertStatement(d Dialect, g domain.Granularity) (string, error) {
	if !g.Valid() {
		return "", fmt.Errorf("%w: %d", domain.ErrInvalidGranularity, int(g))
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cohortColumns)), ", ")
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		g.Table(), strings.Join(cohortColumns, ", "), placeholders)

	updated := cohortColumns[3:]
	sets := make([]string, len(updated))
	switch d {
	case Postgres, SQLite:
		for i, c := range updated {
			sets[i] = fmt.Sprintf("%s = excluded.%s", c, c)
		}
		return insert + " ON CONFLICT (client, sso_idp, date) DO UPDATE SET " + strings.Join(sets, ", "), nil
	case MySQL:
		for i, c := range updated {
			sets[i] = fmt.Sprintf("%s = VALUES(%s)", c, c)
		}
		return insert + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", "), nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", d)
	}
}

// rowArgs orders row values like cohortColumns. Dates are bound as
// YYYY-MM-DD text so every driver stores the same value.
func rowArgs(row domain.Row) []any {
	args := make([]any, 0, len(cohortColumns))
	args = append(args, row.Date.UTC().Format(time.DateOnly), row.Client, row.SSOIdP)
	for _, b := range row.Buckets {
		args = append(args, b)
	}
	return append(args, row.CohortSize)
}
