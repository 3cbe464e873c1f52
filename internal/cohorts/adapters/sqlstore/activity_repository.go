package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sort"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"cohort-retention-service/internal/cohorts/core/clients"
	"cohort-retention-service/internal/cohorts/core/domain"
	"cohort-retention-service/internal/cohorts/core/ports"
)

// defaultChunkSize keeps IN lists well below every driver's parameter limit.
const defaultChunkSize = 1000

// ActivityRepository reads registrations and daily visits from a Synapse
// database. creation_ts is in seconds, visit timestamps in milliseconds.
type ActivityRepository struct {
	db        DB
	log       *zap.Logger
	chunkSize int
}

func NewActivityRepository(db DB, log *zap.Logger) *ActivityRepository {
	if log == nil {
		log = zap.NewNop()
	}
	return &ActivityRepository{db: db, log: log, chunkSize: defaultChunkSize}
}

var _ ports.ActivitySourcePort = (*ActivityRepository)(nil)

// One row per (user, provider, visit in the cohort period). Users without
// visits still appear with NULL visit columns.
const extractCohortSQL = `
SELECT
    u.name,
    COALESCE(x.auth_provider, '') AS sso_idp,
    v.user_agent,
    v.timestamp
FROM users u
LEFT JOIN user_external_ids x
    ON x.user_id = u.name
LEFT JOIN user_daily_visits v
    ON v.user_id = u.name
    AND v.timestamp >= ? AND v.timestamp < ?
WHERE u.appservice_id IS NULL
    AND u.is_guest = 0
    AND u.creation_ts >= ? AND u.creation_ts < ?`

const countActiveSQL = `
SELECT COUNT(DISTINCT user_id)
FROM user_daily_visits
WHERE timestamp >= ? AND timestamp < ?
    AND user_id IN (?)`

const identityProvidersSQL = `
SELECT DISTINCT auth_provider
FROM user_external_ids
WHERE auth_provider <> ''`

type registrant struct {
	idp       string
	client    string
	firstSeen int64
	// longIdP is set when a provider was skipped for exceeding the key length.
	longIdP bool
}

// offerIdP keeps the smallest provider that fits the sink key.
func (u *registrant) offerIdP(idp string) {
	switch {
	case idp == "":
	case len(idp) > domain.MaxKeyLength:
		u.longIdP = true
	case u.idp == "" || idp < u.idp:
		u.idp = idp
	}
}

func (r *ActivityRepository) ExtractCohort(ctx context.Context, p domain.Period) (*domain.Cohort, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, sourceErr("begin snapshot", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, r.db.Rebind(extractCohortSQL),
		p.Start.UnixMilli(), p.End.UnixMilli(),
		p.Start.Unix(), p.End.Unix(),
	)
	if err != nil {
		return nil, sourceErr("extract cohort", err)
	}
	defer rows.Close()

	users := make(map[string]*registrant)
	for rows.Next() {
		var (
			name, idp string
			ua        sql.NullString
			ts        sql.NullInt64
		)
		if err := rows.Scan(&name, &idp, &ua, &ts); err != nil {
			return nil, sourceErr("scan cohort row", err)
		}

		u, ok := users[name]
		if !ok {
			u = &registrant{}
			users[name] = u
		}
		u.offerIdP(idp)

		if !ua.Valid || !ts.Valid {
			continue
		}
		client := clients.FromUserAgent(ua.String)
		if client == clients.Missing {
			continue
		}
		if u.client == "" || ts.Int64 < u.firstSeen {
			u.client = client
			u.firstSeen = ts.Int64
		}
	}
	if err := rows.Err(); err != nil {
		return nil, sourceErr("read cohort rows", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, sourceErr("end snapshot", err)
	}

	cohort := &domain.Cohort{Period: p, Members: make(map[domain.SliceKey][]string)}
	for name, u := range users {
		// A user whose only providers are too long cannot be placed in a slice.
		if u.client == "" || (u.idp == "" && u.longIdP) {
			cohort.Excluded++
			r.log.Debug("excluding user from cohort",
				zap.String("user", name),
				zap.Bool("missing_client", u.client == ""),
				zap.Bool("sso_idp_too_long", u.idp == "" && u.longIdP),
				zap.Error(domain.ErrMalformedRecord),
			)
			continue
		}
		key := domain.SliceKey{Client: u.client, SSOIdP: u.idp}
		cohort.Members[key] = append(cohort.Members[key], name)
	}
	for key, ids := range cohort.Members {
		cohort.Members[key] = domain.NewIdentitySet(ids)
	}
	return cohort, nil
}

// CountActive issues one grouped count per chunk of ids. Chunks are disjoint,
// so their distinct counts add up.
func (r *ActivityRepository) CountActive(ctx context.Context, ids []string, p domain.Period) (int64, error) {
	var total int64
	for chunk := range slices.Chunk(ids, r.chunkSize) {
		query, args, err := sqlx.In(countActiveSQL, p.Start.UnixMilli(), p.End.UnixMilli(), chunk)
		if err != nil {
			return 0, fmt.Errorf("build count query: %w", err)
		}

		rows, err := r.db.QueryContext(ctx, r.db.Rebind(query), args...)
		if err != nil {
			return 0, sourceErr("count active", err)
		}

		var n int64
		if rows.Next() {
			if err := rows.Scan(&n); err != nil {
				_ = rows.Close()
				return 0, sourceErr("scan active count", err)
			}
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return 0, sourceErr("read active count", err)
		}
		total += n
	}
	return total, nil
}

func (r *ActivityRepository) IdentityProviders(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(identityProvidersSQL))
	if err != nil {
		return nil, sourceErr("list identity providers", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var idp string
		if err := rows.Scan(&idp); err != nil {
			return nil, sourceErr("scan identity provider", err)
		}
		if len(idp) > domain.MaxKeyLength {
			r.log.Warn("skipping identity provider longer than storage key",
				zap.String("sso_idp", idp),
				zap.Error(domain.ErrMalformedRecord),
			)
			continue
		}
		out = append(out, idp)
	}
	if err := rows.Err(); err != nil {
		return nil, sourceErr("read identity providers", err)
	}
	sort.Strings(out)
	return out, nil
}

func (r *ActivityRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return sourceErr("ping", err)
	}
	return nil
}

func sourceErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrSourceUnavailable, op, err)
}
