package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

//go:embed migrations
var migrationsFS embed.FS

const migrationTable = "schema_migrations"

// Migrate applies the embedded migrations of db's dialect at most once per file.
func Migrate(ctx context.Context, db DB) error {
	d, err := DialectFor(db.DriverName())
	if err != nil {
		return err
	}
	root := path.Join("migrations", string(d))

	entries, err := fs.ReadDir(migrationsFS, root)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	createSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    name VARCHAR(255) PRIMARY KEY,
    applied_at BIGINT NOT NULL
)`, migrationTable)
	if _, err := db.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		name := path.Join(string(d), file)
		applied, err := isApplied(ctx, db, name)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if applied {
			continue
		}

		content, err := fs.ReadFile(migrationsFS, path.Join(root, file))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", name, err)
		}
		for _, stmt := range splitStatements(upSection(string(content))) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("exec migration %s: %w", name, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			db.Rebind(fmt.Sprintf("INSERT INTO %s (name, applied_at) VALUES (?, ?)", migrationTable)),
			name, time.Now().UTC().UnixMilli(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}
	return nil
}

func isApplied(ctx context.Context, db DB, name string) (bool, error) {
	rows, err := db.QueryContext(ctx, db.Rebind("SELECT 1 FROM "+migrationTable+" WHERE name = ?"), name)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	found := rows.Next()
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}
	return found, nil
}

// upSection returns the SQL between "-- +migrate Up" and "-- +migrate Down".
func upSection(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	if i := strings.Index(content, up); i >= 0 {
		content = content[i+len(up):]
	}
	if i := strings.Index(content, down); i >= 0 {
		content = content[:i]
	}
	return content
}

// splitStatements splits on ';'. Migration files keep semicolons out of literals.
func splitStatements(sqlText string) []string {
	var out []string
	for _, part := range strings.Split(sqlText, ";") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
