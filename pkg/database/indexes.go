package database

import (
	"context"
	"fmt"
)

// ListIndexes returns the index names on table.
func ListIndexes(ctx context.Context, db *DB, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx, db.Dialect.IndexQuery(), table)
	if err != nil {
		return nil, fmt.Errorf("list indexes: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan index: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
