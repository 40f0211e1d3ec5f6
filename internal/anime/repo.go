package anime

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"

	"animehub/internal/animecsv"
	"animehub/pkg/database"
	"animehub/pkg/models"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// ClampLimit keeps a requested page size within 1..MaxLimit.
func ClampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultLimit
	case n > MaxLimit:
		return MaxLimit
	}
	return n
}

type Repo struct {
	DB *database.DB
}

// FilterQuery narrows the table by score range and exact category
// matches. Empty or "all" disables a category constraint.
type FilterQuery struct {
	ScoreMin       float64
	ScoreMax       float64
	RatingCategory string
	EpisodeRange   string
	Popularity     string
	Source         string
	Limit          int
}

func NewRepo(db *database.DB) *Repo {
	return &Repo{DB: db}
}

// NULL scores sort last on both dialects.
const byScore = ` ORDER BY score IS NULL, score DESC, mal_id`

const summaryColumns = `mal_id, title, score, episodes, rating_category, popularity, source, genres`

var recordColumns = strings.Join(animecsv.Header, ", ")

func (r *Repo) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return r.DB.QueryContext(ctx, r.DB.Rebind(q), args...)
}

func (r *Repo) summaries(ctx context.Context, q string, args ...any) ([]models.AnimeSummary, error) {
	rows, err := r.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("summary query: %w", err)
	}
	defer rows.Close()

	out := []models.AnimeSummary{}
	for rows.Next() {
		var (
			s        models.AnimeSummary
			score    sql.NullFloat64
			episodes sql.NullInt64
			rating   sql.NullString
			pop      sql.NullString
			source   sql.NullString
			genres   sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.Title, &score, &episodes, &rating, &pop, &source, &genres); err != nil {
			return nil, fmt.Errorf("summary scan: %w", err)
		}
		if score.Valid {
			s.Score = &score.Float64
		}
		s.Episodes = int(episodes.Int64)
		s.RatingCategory = orUnknown(rating)
		s.Popularity = orUnknown(pop)
		s.Source = orUnknown(source)
		s.Genres = genres.String
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

func orUnknown(s sql.NullString) string {
	if v := strings.TrimSpace(s.String); s.Valid && v != "" {
		return v
	}
	return "Unknown"
}

// Top returns the highest scored titles.
func (r *Repo) Top(ctx context.Context, limit int) ([]models.AnimeSummary, error) {
	return r.summaries(ctx, `SELECT `+summaryColumns+` FROM anime`+byScore+` LIMIT ?`, ClampLimit(limit))
}

// Search matches q case-insensitively against title or genres. An empty
// q matches nothing.
func (r *Repo) Search(ctx context.Context, q string, limit int) ([]models.AnimeSummary, error) {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return []models.AnimeSummary{}, nil
	}
	kw := containsPattern(q)
	return r.summaries(ctx, `
		SELECT `+summaryColumns+` FROM anime
		WHERE LOWER(TRIM(title)) LIKE ? ESCAPE '\' OR LOWER(TRIM(genres)) LIKE ? ESCAPE '\'`+byScore+` LIMIT ?`,
		kw, kw, ClampLimit(limit))
}

func (r *Repo) Filter(ctx context.Context, f FilterQuery) ([]models.AnimeSummary, error) {
	where := []string{"score BETWEEN ? AND ?"}
	args := []any{f.ScoreMin, f.ScoreMax}

	for _, c := range []struct {
		column, value string
	}{
		{"rating_category", f.RatingCategory},
		{"episode_range", f.EpisodeRange},
		{"popularity", f.Popularity},
		{"source", f.Source},
	} {
		v := strings.TrimSpace(c.value)
		if v == "" || strings.EqualFold(v, "all") {
			continue
		}
		where = append(where, c.column+" = ?")
		args = append(args, v)
	}
	args = append(args, ClampLimit(f.Limit))

	return r.summaries(ctx,
		`SELECT `+summaryColumns+` FROM anime WHERE `+strings.Join(where, " AND ")+byScore+` LIMIT ?`,
		args...)
}

// ByGenre returns titles whose genre list contains genre.
func (r *Repo) ByGenre(ctx context.Context, genre string, limit int) ([]models.AnimeSummary, error) {
	kw := containsPattern(strings.ToLower(strings.TrimSpace(genre)))
	return r.summaries(ctx,
		`SELECT `+summaryColumns+` FROM anime WHERE LOWER(genres) LIKE ? ESCAPE '\'`+byScore+` LIMIT ?`,
		kw, ClampLimit(limit))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern matches s literally anywhere; LIKE wildcards in s are
// escaped with a backslash.
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

// GetByID returns nil, nil when no row matches.
func (r *Repo) GetByID(ctx context.Context, id int64) (*models.BucketedRecord, error) {
	rows, err := r.query(ctx, `SELECT `+recordColumns+` FROM anime WHERE mal_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get by id: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	rec, err := scanRecord(rows)
	if err != nil {
		return nil, err
	}
	return &rec, rows.Err()
}

// Each streams every stored record in id order.
func (r *Repo) Each(ctx context.Context, fn func(models.BucketedRecord) error) error {
	rows, err := r.query(ctx, `SELECT `+recordColumns+` FROM anime ORDER BY mal_id`)
	if err != nil {
		return fmt.Errorf("export query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

func scanRecord(rows *sql.Rows) (models.BucketedRecord, error) {
	var (
		rec                                 models.BucketedRecord
		score                               sql.NullFloat64
		episodes                            sql.NullInt64
		status, genres, source, rating      sql.NullString
		ratingCat, episodeRange, popularity sql.NullString
		airedFrom, airedTo                  sql.NullString
	)
	if err := rows.Scan(
		&rec.ID, &rec.Title, &score, &episodes, &status, &genres, &source, &rating,
		&rec.FavoriteCount, &ratingCat, &episodeRange, &popularity, &airedFrom, &airedTo,
	); err != nil {
		return rec, fmt.Errorf("record scan: %w", err)
	}
	if score.Valid {
		rec.Score = &score.Float64
	}
	if episodes.Valid {
		n := int(episodes.Int64)
		rec.Episodes = &n
	}
	rec.Status = status.String
	rec.Genres = models.SplitGenres(genres.String)
	rec.Source = source.String
	rec.Rating = rating.String
	rec.RatingCategory = ratingCat.String
	rec.EpisodeRange = episodeRange.String
	rec.Popularity = popularity.String
	rec.AiredFrom = airedFrom.String
	rec.AiredTo = airedTo.String
	return rec, nil
}

var distColumns = map[string]bool{
	"rating_category": true,
	"episode_range":   true,
	"popularity":      true,
	"source":          true,
}

// Distribution counts rows per value of column, most frequent first.
func (r *Repo) Distribution(ctx context.Context, column string) ([]models.Bucket, error) {
	if !distColumns[column] {
		return nil, fmt.Errorf("distribution: unsupported column %q", column)
	}
	rows, err := r.query(ctx, `
		SELECT COALESCE(`+column+`, 'Unknown'), COUNT(*)
		FROM anime GROUP BY 1 ORDER BY 2 DESC, 1`)
	if err != nil {
		return nil, fmt.Errorf("distribution query: %w", err)
	}
	defer rows.Close()

	out := []models.Bucket{}
	for rows.Next() {
		var b models.Bucket
		if err := rows.Scan(&b.Label, &b.Count); err != nil {
			return nil, fmt.Errorf("distribution scan: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Sources returns the most common sources with their average score.
func (r *Repo) Sources(ctx context.Context, limit int) ([]models.SourceStat, error) {
	rows, err := r.query(ctx, `
		SELECT COALESCE(source, 'Unknown'), COUNT(*), AVG(score)
		FROM anime GROUP BY 1 ORDER BY 2 DESC, 1 LIMIT ?`, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("sources query: %w", err)
	}
	defer rows.Close()

	out := []models.SourceStat{}
	for rows.Next() {
		var (
			s   models.SourceStat
			avg sql.NullFloat64
		)
		if err := rows.Scan(&s.Source, &s.Count, &avg); err != nil {
			return nil, fmt.Errorf("sources scan: %w", err)
		}
		s.AvgScore = round2(avg.Float64)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repo) Stats(ctx context.Context) (models.Stats, error) {
	var (
		st                           models.Stats
		avgScore, maxScore, minScore sql.NullFloat64
		avgEpisodes                  sql.NullFloat64
	)
	err := r.DB.QueryRowContext(ctx, `
		SELECT COUNT(*), AVG(score), MAX(score), MIN(score),
		       AVG(CAST(episodes AS DOUBLE PRECISION))
		FROM anime`).Scan(&st.Total, &avgScore, &maxScore, &minScore, &avgEpisodes)
	if err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	st.AvgScore = round2(avgScore.Float64)
	st.MaxScore = maxScore.Float64
	st.MinScore = minScore.Float64
	st.AvgEpisodes = round2(avgEpisodes.Float64)
	return st, nil
}

// Genres returns up to limit distinct genre names, sorted. The stored
// lists are scanned from a bounded sample of distinct values.
func (r *Repo) Genres(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.query(ctx, `SELECT DISTINCT genres FROM anime WHERE genres IS NOT NULL LIMIT 200`)
	if err != nil {
		return nil, fmt.Errorf("genres query: %w", err)
	}
	defer rows.Close()

	set := map[string]struct{}{}
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("genres scan: %w", err)
		}
		for _, name := range models.SplitGenres(g) {
			if name != "Unknown" {
				set[name] = struct{}{}
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(set))
	for g := range set {
		out = append(out, g)
	}
	sort.Strings(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Dashboard collects every aggregate the dashboard page shows.
func (r *Repo) Dashboard(ctx context.Context) (models.Dashboard, error) {
	var (
		d   models.Dashboard
		err error
	)
	if d.Top, err = r.Top(ctx, 10); err != nil {
		return d, err
	}
	if d.RatingDist, err = r.Distribution(ctx, "rating_category"); err != nil {
		return d, err
	}
	if d.EpisodeDist, err = r.Distribution(ctx, "episode_range"); err != nil {
		return d, err
	}
	if d.PopularityDist, err = r.Distribution(ctx, "popularity"); err != nil {
		return d, err
	}
	if d.Sources, err = r.Sources(ctx, 8); err != nil {
		return d, err
	}
	if d.Stats, err = r.Stats(ctx); err != nil {
		return d, err
	}
	if d.Genres, err = r.Genres(ctx, 20); err != nil {
		return d, err
	}
	return d, nil
}

func (r *Repo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM anime`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// Clear deletes every row and returns how many were removed.
func (r *Repo) Clear(ctx context.Context) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM anime`)
	if err != nil {
		return 0, fmt.Errorf("clear: %w", err)
	}
	return res.RowsAffected()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
