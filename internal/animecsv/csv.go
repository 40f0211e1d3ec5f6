// Package animecsv reads and writes the run artifact files. The column
// order is fixed by Header; readers look columns up by name so raw files
// without the derived columns load as well.
package animecsv

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"animehub/pkg/apperrors"
	"animehub/pkg/models"
)

var Header = []string{
	"mal_id", "title", "score", "episodes", "status", "genres", "source", "rating",
	"favorite_count", "rating_category", "episode_range", "popularity", "aired_from", "aired_to",
}

// Row renders one record in Header order. Missing numeric values are empty.
func Row(r models.BucketedRecord) []string {
	score := ""
	if r.Score != nil {
		score = strconv.FormatFloat(*r.Score, 'f', -1, 64)
	}
	episodes := ""
	if r.Episodes != nil {
		episodes = strconv.Itoa(*r.Episodes)
	}
	return []string{
		strconv.FormatInt(r.ID, 10),
		r.Title,
		score,
		episodes,
		r.Status,
		r.GenreText(),
		r.Source,
		r.Rating,
		strconv.Itoa(r.FavoriteCount),
		r.RatingCategory,
		r.EpisodeRange,
		r.Popularity,
		r.AiredFrom,
		r.AiredTo,
	}
}

// Write emits the header followed by one row per record.
func Write(w io.Writer, recs []models.BucketedRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range recs {
		if err := cw.Write(Row(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes recs to path, creating parent directories. An existing
// file is replaced.
func WriteFile(path string, recs []models.BucketedRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, recs); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Raw wraps plain records for writing; the derived columns stay empty.
func Raw(recs []models.Record) []models.BucketedRecord {
	out := make([]models.BucketedRecord, len(recs))
	for i, r := range recs {
		out[i] = models.BucketedRecord{Record: r}
	}
	return out
}

// Read parses a file produced by Write. Columns are matched by header name
// and unknown columns are ignored. Rows without an id are skipped.
func Read(r io.Reader) ([]models.BucketedRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	head, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeData, "read csv header")
	}
	idx := make(map[string]int, len(head))
	for i, h := range head {
		idx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	if _, ok := idx["mal_id"]; !ok {
		return nil, apperrors.New(apperrors.ErrorTypeData, "csv has no mal_id column")
	}

	var out []models.BucketedRecord
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeData, "read csv").WithDetail("line", line)
		}
		get := func(col string) string {
			i, ok := idx[col]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		if get("mal_id") == "" {
			continue
		}
		rec, err := parseRow(get)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrorTypeData, "parse csv row").WithDetail("line", line)
		}
		out = append(out, rec)
	}
	return out, nil
}

func ReadFile(path string) ([]models.BucketedRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

func parseRow(get func(string) string) (models.BucketedRecord, error) {
	var rec models.BucketedRecord

	id, err := strconv.ParseInt(get("mal_id"), 10, 64)
	if err != nil {
		return rec, fmt.Errorf("mal_id: %w", err)
	}
	rec.ID = id
	rec.Title = get("title")

	if s := get("score"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return rec, fmt.Errorf("score: %w", err)
		}
		rec.Score = &v
	}
	if s := get("episodes"); s != "" {
		v, err := parseInt(s)
		if err != nil {
			return rec, fmt.Errorf("episodes: %w", err)
		}
		rec.Episodes = &v
	}
	if s := get("favorite_count"); s != "" {
		v, err := parseInt(s)
		if err != nil {
			return rec, fmt.Errorf("favorite_count: %w", err)
		}
		rec.FavoriteCount = v
	}

	rec.Status = get("status")
	rec.Genres = models.SplitGenres(get("genres"))
	rec.Source = get("source")
	rec.Rating = get("rating")
	rec.RatingCategory = get("rating_category")
	rec.EpisodeRange = get("episode_range")
	rec.Popularity = get("popularity")
	rec.AiredFrom = get("aired_from")
	rec.AiredTo = get("aired_to")
	return rec, nil
}

// parseInt accepts "12" and "12.0"; dataframe exports write integer
// columns with missing values as floats.
func parseInt(s string) (int, error) {
	if v, err := strconv.Atoi(s); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f != float64(int(f)) {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	return int(f), nil
}
