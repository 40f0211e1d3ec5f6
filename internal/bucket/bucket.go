// Package bucket derives the categorical columns from raw numeric fields
// using fixed, left-inclusive bin tables.
package bucket

import (
	"math"

	"animehub/pkg/models"
)

// Unknown labels values that fall outside every bin, including missing ones.
const Unknown = "Unknown"

// Bin is the interval [Lo, Hi), or [Lo, Hi] when Closed is set.
type Bin struct {
	Lo, Hi float64
	Label  string
	Closed bool
}

func (b Bin) contains(v float64) bool {
	if v < b.Lo {
		return false
	}
	if b.Closed {
		return v <= b.Hi
	}
	return v < b.Hi
}

// Table is an ordered, non-overlapping partition.
type Table []Bin

// Label returns the label of the bin containing v, or Unknown.
func (t Table) Label(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Unknown
	}
	for _, b := range t {
		if b.contains(v) {
			return b.Label
		}
	}
	return Unknown
}

// Labels lists the bin labels in ascending order.
func (t Table) Labels() []string {
	out := make([]string, len(t))
	for i, b := range t {
		out[i] = b.Label
	}
	return out
}

var (
	RatingBins = Table{
		{Lo: 0, Hi: 6.5, Label: "Average"},
		{Lo: 6.5, Hi: 7.5, Label: "Good"},
		{Lo: 7.5, Hi: 8.5, Label: "Great"},
		{Lo: 8.5, Hi: 10, Label: "Masterpiece", Closed: true},
	}

	EpisodeBins = Table{
		{Lo: 0, Hi: 3, Label: "Very Short"},
		{Lo: 3, Hi: 12, Label: "Short"},
		{Lo: 12, Hi: 24, Label: "Standard"},
		{Lo: 24, Hi: 1000, Label: "Long Series"},
	}

	PopularityBins = Table{
		{Lo: 0, Hi: 10000, Label: "Less Popular"},
		{Lo: 10000, Hi: 50000, Label: "Moderately Popular"},
		{Lo: 50000, Hi: 100000, Label: "Popular"},
		{Lo: 100000, Hi: 10000000, Label: "Very Popular"},
	}
)

func RatingCategory(score *float64) string {
	if score == nil {
		return Unknown
	}
	return RatingBins.Label(*score)
}

func EpisodeRange(episodes *int) string {
	if episodes == nil {
		return Unknown
	}
	return EpisodeBins.Label(float64(*episodes))
}

func Popularity(favorites int) string {
	return PopularityBins.Label(float64(favorites))
}

// Apply derives the three categorical fields for r.
func Apply(r models.Record) models.BucketedRecord {
	return models.BucketedRecord{
		Record:         r,
		RatingCategory: RatingCategory(r.Score),
		EpisodeRange:   EpisodeRange(r.Episodes),
		Popularity:     Popularity(r.FavoriteCount),
	}
}

// ApplyAll buckets every record, preserving order.
func ApplyAll(recs []models.Record) []models.BucketedRecord {
	out := make([]models.BucketedRecord, len(recs))
	for i, r := range recs {
		out[i] = Apply(r)
	}
	return out
}

// Rebucket recomputes the categorical fields from the raw ones; for any
// BucketedRecord produced by Apply it is a no-op.
func Rebucket(b models.BucketedRecord) models.BucketedRecord {
	return Apply(b.Record)
}
