package loader

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/stdlib"

	"animehub/internal/animecsv"
	"animehub/pkg/apperrors"
	"animehub/pkg/database"
	"animehub/pkg/models"
)

const stagingTable = "anime_staging"

var (
	mergeSQL = `INSERT INTO anime (` + columnList + `)
		SELECT ` + columnList + ` FROM ` + stagingTable + ` WHERE true
		ON CONFLICT (mal_id) DO NOTHING`

	copySQL = `COPY ` + stagingTable + ` (` + columnList + `)
		FROM STDIN WITH (FORMAT csv, HEADER true, FORCE_NOT_NULL (title))`
)

// loadBulk stages the batch into a temporary table and merges it into
// anime in one statement. Everything the merge skips is a duplicate.
func (l *Loader) loadBulk(ctx context.Context, conn *sql.Conn, recs []models.BucketedRecord) (Result, error) {
	uniq := firstByID(recs)

	var (
		persisted int64
		err       error
	)
	switch l.DB.Dialect {
	case database.Postgres:
		persisted, err = copyPostgres(ctx, conn, uniq)
	default:
		persisted, err = stageSQLite(ctx, conn, uniq)
	}
	if err != nil {
		return Result{}, err
	}
	return Result{
		Persisted:  int(persisted),
		Duplicates: len(recs) - int(persisted),
	}, nil
}

// copyPostgres streams the batch as CSV through COPY on the connection's
// native pgx handle.
func copyPostgres(ctx context.Context, conn *sql.Conn, recs []models.BucketedRecord) (int64, error) {
	var buf bytes.Buffer
	if err := animecsv.Write(&buf, recs); err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrorTypeData, "encode staging csv")
	}

	var persisted int64
	err := conn.Raw(func(driverConn any) error {
		sc, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		pc := sc.Conn()

		tx, err := pc.Begin(ctx)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeConnection, "begin tx")
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, `CREATE TEMP TABLE `+stagingTable+` (LIKE anime INCLUDING DEFAULTS) ON COMMIT DROP`); err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeQuery, "create staging table")
		}
		if _, err := pc.PgConn().CopyFrom(ctx, &buf, copySQL); err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeQuery, "copy into staging")
		}
		tag, err := tx.Exec(ctx, mergeSQL)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrorTypeQuery, "merge staging")
		}
		persisted = tag.RowsAffected()
		return tx.Commit(ctx)
	})
	return persisted, err
}

// stageSQLite has no COPY, so rows go into the temp table through a
// prepared statement inside the same transaction as the merge.
func stageSQLite(ctx context.Context, conn *sql.Conn, recs []models.BucketedRecord) (int64, error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrorTypeConnection, "begin tx")
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TEMP TABLE IF NOT EXISTS ` + stagingTable + ` AS SELECT * FROM anime WHERE 0`,
		`DELETE FROM ` + stagingTable,
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			return 0, apperrors.Wrap(err, apperrors.ErrorTypeQuery, "prepare staging table")
		}
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO `+stagingTable+` (`+columnList+`) VALUES (`+valueList+`)`)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrorTypeQuery, "prepare staging insert")
	}
	defer stmt.Close()
	for _, r := range recs {
		if _, err := stmt.ExecContext(ctx, args(r)...); err != nil {
			return 0, apperrors.Wrap(err, apperrors.ErrorTypeQuery, fmt.Sprintf("stage mal_id %d", r.ID))
		}
	}

	out, err := tx.ExecContext(ctx, mergeSQL)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrorTypeQuery, "merge staging")
	}
	n, err := out.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrorTypeQuery, "rows affected")
	}
	if _, err := tx.ExecContext(ctx, `DROP TABLE `+stagingTable); err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrorTypeQuery, "drop staging table")
	}
	if err := tx.Commit(); err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrorTypeQuery, "commit")
	}
	return n, nil
}

// firstByID drops repeated ids within a batch, keeping the first.
func firstByID(recs []models.BucketedRecord) []models.BucketedRecord {
	seen := make(map[int64]struct{}, len(recs))
	out := make([]models.BucketedRecord, 0, len(recs))
	for _, r := range recs {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}
