package loader

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"animehub/pkg/config"
	"animehub/pkg/database"
	"animehub/pkg/models"
	"animehub/pkg/testutil"
)

// openPostgres connects to ANIMEHUB_TEST_PG_DSN. The anime table in that
// database is emptied before and after the test.
func openPostgres(t *testing.T) *database.DB {
	t.Helper()
	dsn := os.Getenv("ANIMEHUB_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("ANIMEHUB_TEST_PG_DSN not set")
	}
	db, err := database.Open(config.Database{Driver: "postgres", DSN: dsn})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, database.Migrate(ctx, db))

	wipe := func() {
		_, err := db.ExecContext(ctx, `DELETE FROM anime`)
		require.NoError(t, err)
	}
	wipe()
	t.Cleanup(func() {
		wipe()
		_ = db.Close()
	})
	return db
}

func TestPostgresLoad(t *testing.T) {
	db := openPostgres(t)
	ctx := context.Background()

	for _, mode := range []Mode{ModeBulk, ModeSafe} {
		t.Run(string(mode), func(t *testing.T) {
			_, err := db.ExecContext(ctx, `DELETE FROM anime`)
			require.NoError(t, err)
			l := New(db, SkipOnError)

			_, err = l.Load(ctx, bucketed(testutil.Anime(2, "Existing", 7, 12, 100)), mode)
			require.NoError(t, err)

			res, err := l.Load(ctx, bucketed(
				testutil.Anime(1, "One, with a comma", 8, 24, 5000),
				testutil.Anime(2, "Existing again", 8, 24, 5000),
				models.Record{ID: 3, Title: "", FavoriteCount: 0},
				testutil.Anime(1, "One repeated", 8, 24, 5000),
			), mode)
			require.NoError(t, err)
			assert.Equal(t, Result{Persisted: 2, Duplicates: 2}, res)

			var title string
			require.NoError(t, db.QueryRowContext(ctx, `SELECT title FROM anime WHERE mal_id = 1`).Scan(&title))
			assert.Equal(t, "One, with a comma", title)

			var (
				emptyTitle string
				score      sql.NullFloat64
				episodes   sql.NullInt64
				status     sql.NullString
				rating     string
			)
			require.NoError(t, db.QueryRowContext(ctx,
				`SELECT title, score, episodes, status, rating_category FROM anime WHERE mal_id = 3`,
			).Scan(&emptyTitle, &score, &episodes, &status, &rating))
			assert.Empty(t, emptyTitle)
			assert.False(t, score.Valid)
			assert.False(t, episodes.Valid)
			assert.False(t, status.Valid)
			assert.Equal(t, "Unknown", rating)

			require.NoError(t, db.QueryRowContext(ctx, `SELECT title FROM anime WHERE mal_id = 2`).Scan(&title))
			assert.Equal(t, "Existing", title)
		})
	}
}
