// Package testutil holds helpers shared by store-backed tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"animehub/pkg/config"
	"animehub/pkg/database"
	"animehub/pkg/models"
)

// NewSQLite opens a migrated sqlite database in a temp dir and closes it
// when the test ends.
func NewSQLite(t testing.TB) *database.DB {
	t.Helper()
	db, err := database.Open(config.Database{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "anime.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.Migrate(context.Background(), db))
	return db
}

// Anime builds a fully populated record for tests.
func Anime(id int64, title string, score float64, episodes, favorites int) models.Record {
	return models.Record{
		ID:            id,
		Title:         title,
		Score:         models.Float64Ptr(score),
		Episodes:      models.IntPtr(episodes),
		Status:        "Finished Airing",
		Genres:        []string{"Action", "Drama"},
		Source:        "Manga",
		Rating:        "PG-13 - Teens 13 or older",
		FavoriteCount: favorites,
		AiredFrom:     "2009-04-05T00:00:00+00:00",
		AiredTo:       "2010-07-04T00:00:00+00:00",
	}
}

// CountAnime returns the number of rows in the anime table.
func CountAnime(t testing.TB, db *database.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM anime`).Scan(&n))
	return n
}
