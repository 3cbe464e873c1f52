package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func init() {
	// modernc registers as "sqlite", which sqlx does not know by default.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

type RowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (RowScanner, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Tx interface {
	Querier
	Commit() error
	Rollback() error
}

// DB is the subset of *sqlx.DB the repositories need. Queries are written with
// '?' placeholders and passed through Rebind for the underlying driver.
type DB interface {
	Querier
	BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error)
	PingContext(ctx context.Context) error
	DriverName() string
	Rebind(query string) string
}

type sqlDB struct {
	db *sqlx.DB
}

func NewSQLDB(db *sqlx.DB) DB {
	return &sqlDB{db: db}
}

func (s *sqlDB) QueryContext(ctx context.Context, query string, args ...any) (RowScanner, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (Tx, error) {
	tx, err := s.db.BeginTxx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx}, nil
}

func (s *sqlDB) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlDB) DriverName() string {
	return s.db.DriverName()
}

func (s *sqlDB) Rebind(query string) string {
	return s.db.Rebind(query)
}

type sqlTx struct {
	tx *sqlx.Tx
}

func (t *sqlTx) QueryContext(ctx context.Context, query string, args ...any) (RowScanner, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (t *sqlTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

func (t *sqlTx) Commit() error   { return t.tx.Commit() }
func (t *sqlTx) Rollback() error { return t.tx.Rollback() }

// Open connects to driver ("postgres", "mysql" or "sqlite") and verifies the
// connection.
func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	if _, err := DialectFor(driver); err != nil {
		return nil, err
	}
	if dsn == "" {
		return nil, fmt.Errorf("%s dsn is required", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

// SQLiteDSN builds a modernc DSN for path with WAL and a busy timeout so
// concurrent unit writers wait instead of failing.
func SQLiteDSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
}
