// Package loader persists bucketed records, skipping records whose id is
// already stored. Two paths share that contract: a per-record safe path
// and a staged bulk path.
package loader

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"animehub/internal/animecsv"
	"animehub/pkg/apperrors"
	"animehub/pkg/database"
	"animehub/pkg/logger"
	"animehub/pkg/metrics"
	"animehub/pkg/models"
)

// Mode selects the load path.
type Mode string

const (
	ModeSafe Mode = "safe"
	ModeBulk Mode = "bulk"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeSafe:
		return ModeSafe, nil
	case ModeBulk:
		return ModeBulk, nil
	default:
		return "", apperrors.Newf(apperrors.ErrorTypeConfig, "unknown load mode %q", s)
	}
}

// ErrorPolicy decides what happens to a record that fails for a reason
// other than a duplicate id.
type ErrorPolicy string

const (
	// SkipOnError counts the record as failed and moves on.
	SkipOnError ErrorPolicy = "skip"
	// PropagateOnError commits what was persisted so far and returns the error.
	PropagateOnError ErrorPolicy = "propagate"
)

func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch ErrorPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", SkipOnError:
		return SkipOnError, nil
	case PropagateOnError:
		return PropagateOnError, nil
	default:
		return "", apperrors.Newf(apperrors.ErrorTypeConfig, "unknown error policy %q", s)
	}
}

const defaultBatchSize = 500

// Result counts what happened to each input record.
type Result struct {
	Persisted  int `json:"persisted"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

func (r *Result) add(o Result) {
	r.Persisted += o.Persisted
	r.Duplicates += o.Duplicates
	r.Failed += o.Failed
}

type Loader struct {
	DB        *database.DB
	OnError   ErrorPolicy
	BatchSize int
	Metrics   *metrics.Pipeline
}

func New(db *database.DB, policy ErrorPolicy) *Loader {
	return &Loader{DB: db, OnError: policy, BatchSize: defaultBatchSize}
}

var (
	columnList = strings.Join(animecsv.Header, ", ")
	valueList  = strings.TrimSuffix(strings.Repeat("?, ", len(animecsv.Header)), ", ")
	insertSQL  = `INSERT INTO anime (` + columnList + `) VALUES (` + valueList + `)`
)

// Load persists recs using the given mode. The store is pinged first; an
// unreachable store is a connection error and nothing is attempted. The
// returned Result is valid even when err is non-nil.
func (l *Loader) Load(ctx context.Context, recs []models.BucketedRecord, mode Mode) (Result, error) {
	log := logger.WithContext(ctx)
	var res Result

	if err := l.DB.PingContext(ctx); err != nil {
		return res, apperrors.Wrap(err, apperrors.ErrorTypeConnection, "store unreachable")
	}
	if len(recs) == 0 {
		return res, nil
	}

	conn, err := l.DB.Conn(ctx)
	if err != nil {
		return res, apperrors.Wrap(err, apperrors.ErrorTypeConnection, "acquire connection")
	}
	defer conn.Close()

	switch mode {
	case ModeBulk:
		res, err = l.loadBulk(ctx, conn, recs)
		if err != nil && !apperrors.IsType(err, apperrors.ErrorTypeConnection) {
			log.Warn("bulk load failed, falling back to per-record inserts", zap.Error(err))
			res, err = l.loadSafe(ctx, conn, recs)
		}
	default:
		res, err = l.loadSafe(ctx, conn, recs)
	}

	l.count(res)
	log.Info("load finished",
		zap.String("mode", string(mode)),
		zap.Int("persisted", res.Persisted),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("failed", res.Failed))
	return res, err
}

// loadSafe inserts one record at a time, one transaction per batch and a
// savepoint per record, so a failing record rolls back alone.
func (l *Loader) loadSafe(ctx context.Context, conn *sql.Conn, recs []models.BucketedRecord) (Result, error) {
	size := l.BatchSize
	if size <= 0 {
		size = defaultBatchSize
	}

	var total Result
	for start := 0; start < len(recs); start += size {
		end := min(start+size, len(recs))
		res, err := l.safeBatch(ctx, conn, recs[start:end])
		total.add(res)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (l *Loader) safeBatch(ctx context.Context, conn *sql.Conn, batch []models.BucketedRecord) (Result, error) {
	log := logger.WithContext(ctx)
	var res Result

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return res, apperrors.Wrap(err, apperrors.ErrorTypeConnection, "begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, l.DB.Rebind(insertSQL))
	if err != nil {
		return res, apperrors.Wrap(err, apperrors.ErrorTypeQuery, "prepare insert")
	}
	defer stmt.Close()

	var propagated error
	for _, r := range batch {
		if _, err := tx.ExecContext(ctx, `SAVEPOINT record`); err != nil {
			return Result{}, apperrors.Wrap(err, apperrors.ErrorTypeQuery, "savepoint")
		}

		_, err := stmt.ExecContext(ctx, args(r)...)
		if err == nil {
			if _, err := tx.ExecContext(ctx, `RELEASE SAVEPOINT record`); err != nil {
				return Result{}, apperrors.Wrap(err, apperrors.ErrorTypeQuery, "release savepoint")
			}
			res.Persisted++
			continue
		}

		if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT record`); rbErr != nil {
			return Result{}, apperrors.Wrap(rbErr, apperrors.ErrorTypeQuery, "rollback to savepoint")
		}
		if _, rbErr := tx.ExecContext(ctx, `RELEASE SAVEPOINT record`); rbErr != nil {
			return Result{}, apperrors.Wrap(rbErr, apperrors.ErrorTypeQuery, "release savepoint")
		}
		if database.IsUniqueViolation(err) {
			res.Duplicates++
			log.Debug("skipping duplicate", zap.Int64("mal_id", r.ID))
			continue
		}

		res.Failed++
		if l.OnError == PropagateOnError {
			propagated = apperrors.Wrap(err, apperrors.ErrorTypeQuery, fmt.Sprintf("insert mal_id %d", r.ID))
			break
		}
		log.Warn("skipping record", zap.Int64("mal_id", r.ID), zap.Error(err))
	}

	if err := tx.Commit(); err != nil {
		return Result{Failed: len(batch)}, apperrors.Wrap(err, apperrors.ErrorTypeQuery, "commit")
	}
	return res, propagated
}

// args renders r in column order. Empty text becomes NULL.
func args(r models.BucketedRecord) []any {
	var score sql.NullFloat64
	if r.Score != nil {
		score = sql.NullFloat64{Float64: *r.Score, Valid: true}
	}
	var episodes sql.NullInt64
	if r.Episodes != nil {
		episodes = sql.NullInt64{Int64: int64(*r.Episodes), Valid: true}
	}
	return []any{
		r.ID,
		r.Title,
		score,
		episodes,
		nullString(r.Status),
		nullString(r.GenreText()),
		nullString(r.Source),
		nullString(r.Rating),
		r.FavoriteCount,
		nullString(r.RatingCategory),
		nullString(r.EpisodeRange),
		nullString(r.Popularity),
		nullString(r.AiredFrom),
		nullString(r.AiredTo),
	}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func (l *Loader) count(res Result) {
	if l.Metrics == nil {
		return
	}
	l.Metrics.Records.WithLabelValues("loaded").Add(float64(res.Persisted))
	l.Metrics.Records.WithLabelValues("duplicate").Add(float64(res.Duplicates))
	l.Metrics.Records.WithLabelValues("failed").Add(float64(res.Failed))
}
