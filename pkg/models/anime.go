package models

import "strings"

// GenreSeparator joins genre names in the stored genre_list column.
const GenreSeparator = ", "

// Record is one anime entry as delivered by the source API, after mapping
// into our internal shape. ID is the natural key (MyAnimeList id).
type Record struct {
	ID            int64    `json:"mal_id"`
	Title         string   `json:"title"`
	Score         *float64 `json:"score,omitempty"`
	Episodes      *int     `json:"episodes,omitempty"`
	Status        string   `json:"status,omitempty"`
	Genres        []string `json:"genres"`
	Source        string   `json:"source,omitempty"`
	Rating        string   `json:"rating,omitempty"`
	FavoriteCount int      `json:"favorite_count"`
	AiredFrom     string   `json:"aired_from,omitempty"`
	AiredTo       string   `json:"aired_to,omitempty"`
}

// GenreText renders Genres in the delimited form stored in the table.
func (r Record) GenreText() string {
	return strings.Join(r.Genres, GenreSeparator)
}

// SplitGenres is the inverse of GenreText. Empty parts are dropped.
func SplitGenres(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// BucketedRecord is a Record plus the categorical fields derived from it.
// The derived fields are a pure function of Score, Episodes and
// FavoriteCount; see package bucket.
type BucketedRecord struct {
	Record
	RatingCategory string `json:"rating_category"`
	EpisodeRange   string `json:"episode_range"`
	Popularity     string `json:"popularity"`
}

// Float64Ptr and IntPtr are small helpers for the nullable numeric fields.
func Float64Ptr(v float64) *float64 { return &v }

func IntPtr(v int) *int { return &v }
