package models

// AnimeSummary is the row shape returned by search/filter endpoints.
type AnimeSummary struct {
	ID             int64    `json:"mal_id"`
	Title          string   `json:"title"`
	Score          *float64 `json:"score"`
	Episodes       int      `json:"episodes"`
	RatingCategory string   `json:"rating_category"`
	Popularity     string   `json:"popularity"`
	Source         string   `json:"source,omitempty"`
	Genres         string   `json:"genres,omitempty"`
}

// Bucket is one row of a GROUP BY distribution.
type Bucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// SourceStat aggregates titles per adaptation source.
type SourceStat struct {
	Source   string  `json:"source"`
	Count    int     `json:"count"`
	AvgScore float64 `json:"avg_score"`
}

// Stats holds the table-wide aggregates shown on the dashboard.
type Stats struct {
	Total       int     `json:"total"`
	AvgScore    float64 `json:"avg_score"`
	MaxScore    float64 `json:"max_score"`
	MinScore    float64 `json:"min_score"`
	AvgEpisodes float64 `json:"avg_episodes"`
}

// Dashboard bundles every aggregate the dashboard renders.
type Dashboard struct {
	Top            []AnimeSummary `json:"top"`
	RatingDist     []Bucket       `json:"rating_distribution"`
	EpisodeDist    []Bucket       `json:"episode_distribution"`
	PopularityDist []Bucket       `json:"popularity_distribution"`
	Sources        []SourceStat   `json:"sources"`
	Stats          Stats          `json:"stats"`
	Genres         []string       `json:"genres"`
}
