package delta

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"animehub/pkg/models"
	"animehub/pkg/testutil"
)

func recs(ids ...int64) []models.Record {
	out := make([]models.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Record{ID: id, Title: "t"})
	}
	return out
}

func idsOf(rs []models.Record) []int64 {
	out := make([]int64, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}

func TestNewRecordsScenario(t *testing.T) {
	got := NewRecords(recs(2, 3, 4, 5), NewIDSet(1, 2, 3))
	assert.Equal(t, []int64{4, 5}, idsOf(got))
}

func TestNewRecordsDropsRepeatsWithinBatch(t *testing.T) {
	batch := recs(7, 8, 7)
	batch[2].Title = "second copy"
	got := NewRecords(batch, NewIDSet())
	require.Len(t, got, 2)
	assert.Equal(t, "t", got[0].Title)
}

func TestNewRecordsSetProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		var fetched []models.Record
		for n := rng.Intn(30); n > 0; n-- {
			fetched = append(fetched, models.Record{ID: int64(rng.Intn(40))})
		}
		existing := NewIDSet()
		for n := rng.Intn(30); n > 0; n-- {
			existing[int64(rng.Intn(40))] = struct{}{}
		}

		fetchedIDs := NewIDSet(idsOf(fetched)...)
		for _, r := range NewRecords(fetched, existing) {
			assert.False(t, existing.Has(r.ID), "result must not intersect existing")
			assert.True(t, fetchedIDs.Has(r.ID), "result must be a subset of fetched")
		}
	}
}

func TestDetectEmptySkipsLookup(t *testing.T) {
	called := false
	d := Detector{Existing: func(context.Context) (IDSet, error) {
		called = true
		return nil, errors.New("should not be called")
	}}
	got, err := d.Detect(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.False(t, called)
}

func TestDetectPropagatesLookupError(t *testing.T) {
	d := Detector{Existing: func(context.Context) (IDSet, error) {
		return nil, errors.New("db down")
	}}
	_, err := d.Detect(context.Background(), recs(1))
	assert.Error(t, err)
}

func TestStoreLookup(t *testing.T) {
	db := testutil.NewSQLite(t)
	for _, id := range []int64{1, 2, 3} {
		_, err := db.Exec(`INSERT INTO anime (mal_id, title) VALUES (?, ?)`, id, "x")
		require.NoError(t, err)
	}

	d := Detector{Existing: StoreLookup(db)}
	got, err := d.Detect(context.Background(), recs(2, 3, 4, 5))
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5}, idsOf(got))
}
