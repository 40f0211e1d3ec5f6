package bucket

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"animehub/pkg/models"
)

func TestRatingCategory(t *testing.T) {
	tests := []struct {
		score *float64
		want  string
	}{
		{models.Float64Ptr(0), "Average"},
		{models.Float64Ptr(6.49), "Average"},
		{models.Float64Ptr(6.5), "Good"},
		{models.Float64Ptr(7.5), "Great"},
		{models.Float64Ptr(8.49), "Great"},
		{models.Float64Ptr(8.5), "Masterpiece"},
		{models.Float64Ptr(9.0), "Masterpiece"},
		{models.Float64Ptr(10), "Masterpiece"},
		{models.Float64Ptr(10.01), Unknown},
		{models.Float64Ptr(-1), Unknown},
		{models.Float64Ptr(math.NaN()), Unknown},
		{nil, Unknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RatingCategory(tt.score))
	}
}

func TestEpisodeRange(t *testing.T) {
	tests := []struct {
		episodes *int
		want     string
	}{
		{models.IntPtr(0), "Very Short"},
		{models.IntPtr(2), "Very Short"},
		{models.IntPtr(3), "Short"},
		{models.IntPtr(11), "Short"},
		{models.IntPtr(12), "Standard"},
		{models.IntPtr(23), "Standard"},
		{models.IntPtr(24), "Long Series"},
		{models.IntPtr(999), "Long Series"},
		{models.IntPtr(1000), Unknown},
		{models.IntPtr(-3), Unknown},
		{nil, Unknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EpisodeRange(tt.episodes))
	}
}

func TestPopularity(t *testing.T) {
	tests := []struct {
		favorites int
		want      string
	}{
		{0, "Less Popular"},
		{9999, "Less Popular"},
		{10000, "Moderately Popular"},
		{50000, "Popular"},
		{99999, "Popular"},
		{100000, "Very Popular"},
		{200000, "Very Popular"},
		{10000000, Unknown},
		{-1, Unknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Popularity(tt.favorites), "favorites=%d", tt.favorites)
	}
}

func TestRatingCategoryIsMonotonic(t *testing.T) {
	rank := map[string]int{"Average": 0, "Good": 1, "Great": 2, "Masterpiece": 3}
	prev := -1
	for s := 0.0; s <= 10.0; s += 0.01 {
		label := RatingCategory(models.Float64Ptr(s))
		r, ok := rank[label]
		if !assert.True(t, ok, "score %.2f got %q", s, label) {
			return
		}
		assert.GreaterOrEqual(t, r, prev, "score %.2f", s)
		prev = r
	}
}

func TestApplyScenario(t *testing.T) {
	b := Apply(models.Record{
		ID:            4,
		Score:         models.Float64Ptr(9.0),
		Episodes:      models.IntPtr(12),
		FavoriteCount: 200000,
	})
	assert.Equal(t, "Masterpiece", b.RatingCategory)
	assert.Equal(t, "Standard", b.EpisodeRange)
	assert.Equal(t, "Very Popular", b.Popularity)
}

func TestRebucketIsIdempotent(t *testing.T) {
	recs := []models.Record{
		{ID: 1, Score: models.Float64Ptr(7.2), Episodes: models.IntPtr(26), FavoriteCount: 60000},
		{ID: 2},
		{ID: 3, Score: models.Float64Ptr(11), Episodes: models.IntPtr(5000), FavoriteCount: -5},
	}
	for _, b := range ApplyAll(recs) {
		assert.Equal(t, b, Rebucket(b))
		assert.Equal(t, b, Rebucket(Rebucket(b)))
	}
}

func TestFilter(t *testing.T) {
	recs := []models.Record{
		{ID: 1, Score: models.Float64Ptr(8), Episodes: models.IntPtr(12)},
		{ID: 2, Episodes: models.IntPtr(12)},
		{ID: 3, Score: models.Float64Ptr(8)},
		{ID: 4, Score: models.Float64Ptr(5), Episodes: models.IntPtr(1)},
	}

	kept, drops := Filter{RequireScore: true, RequireEpisodes: true, MinScore: 6.5}.Apply(recs)
	assert.Len(t, kept, 1)
	assert.Equal(t, Drops{MissingScore: 1, MissingEpisodes: 1, BelowMinScore: 1}, drops)
	assert.Equal(t, 3, drops.Total())

	kept, drops = Filter{}.Apply(recs)
	assert.Len(t, kept, 4)
	assert.Zero(t, drops.Total())
}
