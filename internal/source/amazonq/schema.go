package amazonq

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// Expected layout; discovery falls back to these when the live schema
// matches loosely but not exactly.
const (
	defaultTable  = "conversations"
	defaultKeyCol = "key"
	defaultValCol = "value"
)

// discoverSchema finds the conversations table and its key/value columns,
// matching names case-insensitively so schema tweaks between Q CLI releases
// don't break us.
func discoverSchema(ctx context.Context, db *sql.DB) (table, keyCol, valCol string, err error) {
	tables, err := listTables(ctx, db)
	if err != nil {
		return "", "", "", err
	}

	table, ok := lo.Find(tables, func(t string) bool {
		return strings.EqualFold(t, defaultTable)
	})
	if !ok {
		// Any table with a text key column and a blob-ish value column will do.
		for _, t := range tables {
			if k, v, colErr := matchColumns(ctx, db, t); colErr == nil {
				return t, k, v, nil
			}
		}
		return "", "", "", fmt.Errorf("amazonq: no conversations-like table among %v", tables)
	}

	keyCol, valCol, err = matchColumns(ctx, db, table)
	if err != nil {
		return "", "", "", err
	}
	return table, keyCol, valCol, nil
}

func listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		return nil, fmt.Errorf("amazonq: listing tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("amazonq: scanning table name: %w", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func matchColumns(ctx context.Context, db *sql.DB, table string) (keyCol, valCol string, err error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, table))
	if err != nil {
		return "", "", fmt.Errorf("amazonq: table_info(%s): %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			dflt       sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &primaryKey); err != nil {
			return "", "", fmt.Errorf("amazonq: scanning table_info(%s): %w", table, err)
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return "", "", err
	}

	find := func(want string) (string, bool) {
		return lo.Find(cols, func(c string) bool { return strings.EqualFold(c, want) })
	}
	keyCol, keyOK := find(defaultKeyCol)
	valCol, valOK := find(defaultValCol)
	if !keyOK || !valOK {
		return "", "", fmt.Errorf("amazonq: table %s has no key/value columns (saw %v)", table, cols)
	}
	return keyCol, valCol, nil
}
