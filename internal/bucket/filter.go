package bucket

import "animehub/pkg/models"

// Filter drops records that cannot be bucketed meaningfully or that fall
// below the configured score floor.
type Filter struct {
	RequireScore    bool
	RequireEpisodes bool
	MinScore        float64 // 0 disables
}

// Drops counts filtered records per reason.
type Drops struct {
	MissingScore    int `json:"missing_score"`
	MissingEpisodes int `json:"missing_episodes"`
	BelowMinScore   int `json:"below_min_score"`
}

func (d Drops) Total() int {
	return d.MissingScore + d.MissingEpisodes + d.BelowMinScore
}

// Apply returns the records that pass, in order.
func (f Filter) Apply(recs []models.Record) ([]models.Record, Drops) {
	var drops Drops
	out := make([]models.Record, 0, len(recs))
	for _, r := range recs {
		switch {
		case f.RequireScore && r.Score == nil:
			drops.MissingScore++
		case f.RequireEpisodes && r.Episodes == nil:
			drops.MissingEpisodes++
		case f.MinScore > 0 && (r.Score == nil || *r.Score < f.MinScore):
			drops.BelowMinScore++
		default:
			out = append(out, r)
		}
	}
	return out, drops
}
