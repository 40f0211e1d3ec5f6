// Package delta keeps only records whose id is not already stored.
package delta

import (
	"context"
	"fmt"

	"animehub/pkg/database"
	"animehub/pkg/models"
)

// IDSet is a set of anime ids.
type IDSet map[int64]struct{}

// NewIDSet builds a set from ids.
func NewIDSet(ids ...int64) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s IDSet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

// NewRecords returns the records of fetched whose id is not in existing,
// in fetched order. Repeated ids within fetched keep their first occurrence.
func NewRecords(fetched []models.Record, existing IDSet) []models.Record {
	out := make([]models.Record, 0, len(fetched))
	seen := make(IDSet, len(fetched))
	for _, r := range fetched {
		if existing.Has(r.ID) || seen.Has(r.ID) {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Lookup loads the ids already persisted. It is called fresh on every
// Detect; nothing is cached between runs.
type Lookup func(ctx context.Context) (IDSet, error)

// Detector filters a fetched batch against the store.
type Detector struct {
	Existing Lookup
}

// Detect returns the new records. An empty batch returns immediately
// without calling Existing.
func (d Detector) Detect(ctx context.Context, fetched []models.Record) ([]models.Record, error) {
	if len(fetched) == 0 {
		return nil, nil
	}
	existing, err := d.Existing(ctx)
	if err != nil {
		return nil, err
	}
	return NewRecords(fetched, existing), nil
}

// StoreLookup reads every mal_id from the anime table on a dedicated
// connection that is released before returning.
func StoreLookup(db *database.DB) Lookup {
	return func(ctx context.Context) (IDSet, error) {
		conn, err := db.Conn(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire conn: %w", err)
		}
		defer conn.Close()

		rows, err := conn.QueryContext(ctx, `SELECT mal_id FROM anime`)
		if err != nil {
			return nil, fmt.Errorf("query ids: %w", err)
		}
		defer rows.Close()

		ids := make(IDSet)
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return nil, fmt.Errorf("scan id: %w", err)
			}
			ids[id] = struct{}{}
		}
		return ids, rows.Err()
	}
}
