// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

package backup

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const sqliteDriver = "sqlite3"

// readOnlyDSN builds a SQLite URI that opens path without write access.
// immutable additionally disables locking and sidecar creation, which is
// only safe for files nothing else is writing (stored artifacts).
func readOnlyDSN(path string, immutable bool) string {
	q := url.Values{}
	q.Set("mode", "ro")
	q.Set("_busy_timeout", "5000")
	if immutable {
		q.Set("immutable", "1")
	}
	u := url.URL{Scheme: "file", Path: path, RawQuery: q.Encode()}
	return u.String()
}

// openReadOnly opens a single-connection read-only handle to a SQLite file.
func openReadOnly(ctx context.Context, path string, immutable bool) (*sql.DB, error) {
	db, err := sql.Open(sqliteDriver, readOnlyDSN(path, immutable))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// listTables returns the user tables of an open SQLite database.
func listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return tables, nil
}

// hasRows reports whether table contains at least one row.
func hasRows(ctx context.Context, db *sql.DB, table string) (bool, error) {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s LIMIT 1)`, quoteIdent(table))
	if err := db.QueryRowContext(ctx, query).Scan(&exists); err != nil {
		return false, fmt.Errorf("probe %s: %w", table, err)
	}
	return exists, nil
}

// quoteIdent quotes a SQLite identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// checkStructure reports which essential tables are missing from tables.
// Every required table must be present, and at least one dependent table
// when any are configured.
func checkStructure(tables, required, dependent []string) (missing []string) {
	present := make(map[string]bool, len(tables))
	for _, t := range tables {
		present[strings.ToLower(t)] = true
	}
	for _, r := range required {
		if !present[strings.ToLower(r)] {
			missing = append(missing, r)
		}
	}
	if len(dependent) > 0 {
		found := false
		for _, d := range dependent {
			if present[strings.ToLower(d)] {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, "one of "+strings.Join(dependent, ","))
		}
	}
	return missing
}
