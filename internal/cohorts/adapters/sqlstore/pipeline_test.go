package sqlstore_test

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cohort-retention-service/internal/cohorts/adapters/sqlstore"
	"cohort-retention-service/internal/cohorts/core/domain"
	"cohort-retention-service/internal/cohorts/core/usecase"
)

const sourceSchema = `
CREATE TABLE users (
    name TEXT NOT NULL,
    creation_ts BIGINT NOT NULL,
    is_guest SMALLINT NOT NULL DEFAULT 0,
    appservice_id TEXT
);
CREATE TABLE user_daily_visits (
    user_id TEXT NOT NULL,
    device_id TEXT,
    timestamp BIGINT NOT NULL,
    user_agent TEXT
);
CREATE TABLE user_external_ids (
    auth_provider TEXT NOT NULL,
    external_id TEXT NOT NULL,
    user_id TEXT NOT NULL
);`

const (
	androidUA = "Element/1.6.0 (Linux; U; Android 12)"
	webUA     = "Mozilla/5.0 (X11; Linux x86_64) Gecko/20100101 Firefox/118.0"
)

type fixture struct {
	t      *testing.T
	source *sqlx.DB
	sink   *sqlx.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	source, err := sqlstore.Open(ctx, "sqlite", sqlstore.SQLiteDSN(filepath.Join(dir, "synapse.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = source.Close() })
	for _, stmt := range strings.Split(sourceSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err := source.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}

	sink, err := sqlstore.Open(ctx, "sqlite", sqlstore.SQLiteDSN(filepath.Join(dir, "stats.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	require.NoError(t, sqlstore.Migrate(ctx, sqlstore.NewSQLDB(sink)))

	return &fixture{t: t, source: source, sink: sink}
}

func (f *fixture) register(user string, at time.Time) {
	f.t.Helper()
	_, err := f.source.Exec(`INSERT INTO users (name, creation_ts) VALUES (?, ?)`, user, at.Unix())
	require.NoError(f.t, err)
}

func (f *fixture) visit(user string, at time.Time, ua string) {
	f.t.Helper()
	_, err := f.source.Exec(`INSERT INTO user_daily_visits (user_id, device_id, timestamp, user_agent) VALUES (?, 'DEV', ?, ?)`,
		user, at.UnixMilli(), ua)
	require.NoError(f.t, err)
}

func (f *fixture) sso(user, provider string) {
	f.t.Helper()
	_, err := f.source.Exec(`INSERT INTO user_external_ids (auth_provider, external_id, user_id) VALUES (?, ?, ?)`,
		provider, user+"-ext", user)
	require.NoError(f.t, err)
}

func (f *fixture) run(g domain.Granularity, from, to time.Time, clients ...string) *usecase.RunReport {
	f.t.Helper()
	sink, err := sqlstore.NewCohortRepository(sqlstore.NewSQLDB(f.sink))
	require.NoError(f.t, err)
	uc := usecase.NewComputeCohortsUseCase(
		sqlstore.NewActivityRepository(sqlstore.NewSQLDB(f.source), nil),
		sink,
		usecase.Options{
			Clients:       clients,
			QueryTimeout:  10 * time.Second,
			Retries:       1,
			PeriodWorkers: 2,
			OffsetWorkers: 4,
			NewBackOff:    func() backoff.BackOff { return &backoff.ZeroBackOff{} },
		},
	)
	report, err := uc.Execute(context.Background(), usecase.RunInput{
		Granularities: []domain.Granularity{g},
		From:          from,
		To:            to,
	})
	require.NoError(f.t, err)
	require.Empty(f.t, report.Failed())
	return report
}

type storedRow struct {
	Date       time.Time
	Client     string
	SSOIdP     string
	Buckets    [domain.BucketCount]int64
	CohortSize int64
}

func (f *fixture) rows(g domain.Granularity) []storedRow {
	f.t.Helper()
	rs, err := f.sink.Query(`SELECT date, client, sso_idp, b1, b2, b3, b4, b5, b6, b7, b8, b9, b10, b11, b12, cohort_size
FROM ` + g.Table() + ` ORDER BY date, client, sso_idp`)
	require.NoError(f.t, err)
	defer rs.Close()

	var out []storedRow
	for rs.Next() {
		var r storedRow
		dest := []any{&r.Date, &r.Client, &r.SSOIdP}
		for i := range r.Buckets {
			dest = append(dest, &r.Buckets[i])
		}
		dest = append(dest, &r.CohortSize)
		require.NoError(f.t, rs.Scan(dest...))
		out = append(out, r)
	}
	require.NoError(f.t, rs.Err())
	return out
}

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

// ------------------------------------------------------------
// END TO END
// ------------------------------------------------------------

func TestPipeline_DailyRetention(t *testing.T) {
	f := newFixture(t)
	d := day("2024-05-01")
	for _, u := range []string{"@u1:hs", "@u2:hs", "@u3:hs"} {
		f.register(u, d.Add(8*time.Hour))
		f.visit(u, d.Add(9*time.Hour), androidUA)
	}
	f.visit("@u1:hs", d.AddDate(0, 0, 1), androidUA)
	f.visit("@u1:hs", d.AddDate(0, 0, 3), androidUA)
	f.visit("@u2:hs", d.AddDate(0, 0, 1).Add(12*time.Hour), webUA)

	f.run(domain.Daily, d, d, "android")

	rows := f.rows(domain.Daily)
	require.Len(t, rows, 1)
	assert.Equal(t, "android", rows[0].Client)
	assert.Equal(t, "", rows[0].SSOIdP)
	assert.True(t, d.Equal(rows[0].Date))
	assert.Equal(t, int64(3), rows[0].CohortSize)
	assert.Equal(t, [domain.BucketCount]int64{2, 0, 1}, rows[0].Buckets)

	// A late activity record for u3 is picked up by the rerun.
	f.visit("@u3:hs", d.AddDate(0, 0, 1).Add(time.Hour), androidUA)
	f.run(domain.Daily, d, d, "android")

	rows = f.rows(domain.Daily)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0].Buckets[0])
}

func TestPipeline_RerunIsByteIdentical(t *testing.T) {
	f := newFixture(t)
	d := day("2024-03-04")
	f.register("@a:hs", d)
	f.visit("@a:hs", d, webUA)
	f.visit("@a:hs", d.AddDate(0, 0, 9), webUA)
	f.register("@b:hs", d.AddDate(0, 0, 1))
	f.visit("@b:hs", d.AddDate(0, 0, 1), androidUA)
	f.sso("@b:hs", "saml")

	f.run(domain.Weekly, d, d.AddDate(0, 0, 7), "android", "web")
	first := f.rows(domain.Weekly)
	f.run(domain.Weekly, d, d.AddDate(0, 0, 7), "android", "web")
	second := f.rows(domain.Weekly)

	assert.Equal(t, first, second)
	// 2 weeks x 2 clients x {"", "saml"}
	assert.Len(t, second, 8)
}

func TestPipeline_SlicesAreDisjoint(t *testing.T) {
	f := newFixture(t)
	d := day("2024-07-10")
	f.register("@a:hs", d)
	f.visit("@a:hs", d, webUA)
	f.register("@b:hs", d)
	f.visit("@b:hs", d.Add(time.Hour), androidUA)
	f.visit("@b:hs", d.Add(2*time.Hour), webUA) // registration client is the earliest
	f.register("@c:hs", d)
	f.visit("@c:hs", d, webUA)
	f.sso("@c:hs", "oidc")
	f.sso("@c:hs", "github") // smallest provider wins
	f.register("@bot:hs", d)
	f.visit("@bot:hs", d, "Synapse/1.90") // no client, excluded

	f.run(domain.Daily, d, d, "android", "web")

	sizes := map[string]int64{}
	var total int64
	for _, r := range f.rows(domain.Daily) {
		sizes[r.Client+"/"+r.SSOIdP] = r.CohortSize
		total += r.CohortSize
	}
	assert.Equal(t, int64(3), total)
	assert.Equal(t, int64(1), sizes["web/"])
	assert.Equal(t, int64(1), sizes["android/"])
	assert.Equal(t, int64(1), sizes["web/github"])
	assert.Equal(t, int64(0), sizes["web/oidc"])
}

func TestPipeline_LongProviderFallsBackToValidOne(t *testing.T) {
	f := newFixture(t)
	d := day("2024-08-05")
	f.register("@c:hs", d)
	f.visit("@c:hs", d, webUA)
	f.sso("@c:hs", "saml")
	f.sso("@c:hs", "a-very-long-provider-x")

	// Only a provider that does not fit the key: no slice can hold this user.
	f.register("@d:hs", d)
	f.visit("@d:hs", d, webUA)
	f.sso("@d:hs", "another-long-provider")

	f.run(domain.Daily, d, d, "web")

	rows := f.rows(domain.Daily)
	require.Len(t, rows, 2)
	assert.Equal(t, "", rows[0].SSOIdP)
	assert.Equal(t, int64(0), rows[0].CohortSize)
	assert.Equal(t, "saml", rows[1].SSOIdP)
	assert.Equal(t, int64(1), rows[1].CohortSize)
}

func TestPipeline_MonthBoundary(t *testing.T) {
	f := newFixture(t)
	last := time.Date(2024, 1, 31, 23, 30, 0, 0, time.UTC)
	f.register("@jan:hs", last)
	f.visit("@jan:hs", last, webUA)
	f.visit("@jan:hs", day("2024-02-01"), webUA)
	f.register("@feb:hs", day("2024-02-01"))
	f.visit("@feb:hs", day("2024-02-01"), webUA)

	f.run(domain.Monthly, day("2024-01-15"), day("2024-02-15"), "web")

	rows := f.rows(domain.Monthly)
	require.Len(t, rows, 2)
	assert.True(t, day("2024-01-01").Equal(rows[0].Date))
	assert.Equal(t, int64(1), rows[0].CohortSize)
	assert.Equal(t, int64(1), rows[0].Buckets[0])
	assert.True(t, day("2024-02-01").Equal(rows[1].Date))
	assert.Equal(t, int64(1), rows[1].CohortSize)
	assert.Equal(t, int64(0), rows[1].Buckets[0])
}

func TestPipeline_GuestsAndAppservicesAreIgnored(t *testing.T) {
	f := newFixture(t)
	d := day("2024-08-01")
	_, err := f.source.Exec(`INSERT INTO users (name, creation_ts, is_guest) VALUES ('@guest:hs', ?, 1)`, d.Unix())
	require.NoError(t, err)
	_, err = f.source.Exec(`INSERT INTO users (name, creation_ts, appservice_id) VALUES ('@bridge:hs', ?, 'irc')`, d.Unix())
	require.NoError(t, err)
	f.visit("@guest:hs", d, webUA)
	f.visit("@bridge:hs", d, webUA)

	f.run(domain.Daily, d, d, "web")

	rows := f.rows(domain.Daily)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(0), rows[0].CohortSize)
}

// ------------------------------------------------------------
// DRY RUN
// ------------------------------------------------------------

func TestPipeline_DryRunPrintsWithoutWriting(t *testing.T) {
	f := newFixture(t)
	d := day("2024-05-01")
	f.register("@u1:hs", d)
	f.visit("@u1:hs", d, webUA)

	var out bytes.Buffer
	uc := usecase.NewComputeCohortsUseCase(
		sqlstore.NewActivityRepository(sqlstore.NewSQLDB(f.source), nil),
		sqlstore.NewStatementPrinter(&out, sqlstore.MySQL),
		usecase.Options{Clients: []string{"web"}},
	)
	report, err := uc.Execute(context.Background(), usecase.RunInput{
		Granularities: []domain.Granularity{domain.Daily},
		From:          d,
		To:            d,
	})
	require.NoError(t, err)
	require.Empty(t, report.Failed())

	assert.Contains(t, out.String(), "INSERT INTO cohorts_daily")
	assert.Contains(t, out.String(), "'2024-05-01', 'web', '', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1)")
	assert.Empty(t, f.rows(domain.Daily))
}

func TestMigrate_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, sqlstore.Migrate(context.Background(), sqlstore.NewSQLDB(f.sink)))

	var n int
	require.NoError(t, f.sink.Get(&n, `SELECT COUNT(*) FROM schema_migrations`))
	assert.Equal(t, 1, n)
}
