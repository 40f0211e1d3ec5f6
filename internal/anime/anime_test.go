package anime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"animehub/internal/bucket"
	"animehub/internal/loader"
	"animehub/pkg/database"
	"animehub/pkg/models"
	"animehub/pkg/testutil"
)

func seeded(t *testing.T) *database.DB {
	t.Helper()
	db := testutil.NewSQLite(t)

	recs := []models.Record{
		testutil.Anime(1, "Cowboy Bebop", 8.8, 26, 80000),
		testutil.Anime(2, "Trigun", 8.2, 26, 12000),
		testutil.Anime(3, "Short Film", 6.1, 1, 300),
		testutil.Anime(4, "Frieren", 9.3, 28, 150000),
		{ID: 5, Title: "Unscored", Genres: []string{"Comedy"}, Source: "Original"},
	}
	recs[2].Genres = []string{"Romance"}
	recs[2].Source = "Original"

	_, err := loader.New(db, loader.SkipOnError).Load(context.Background(), bucket.ApplyAll(recs), loader.ModeSafe)
	require.NoError(t, err)
	return db
}

func ids(items []models.AnimeSummary) []int64 {
	out := make([]int64, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, ClampLimit(0))
	assert.Equal(t, DefaultLimit, ClampLimit(-4))
	assert.Equal(t, 7, ClampLimit(7))
	assert.Equal(t, MaxLimit, ClampLimit(10000))
}

func TestRepoQueries(t *testing.T) {
	repo := NewRepo(seeded(t))
	ctx := context.Background()

	top, err := repo.Top(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 1, 2, 3, 5}, ids(top), "unscored titles sort last")
	assert.Nil(t, top[4].Score)
	assert.Equal(t, "Unknown", top[4].RatingCategory)

	found, err := repo.Search(ctx, "  TRI ", 50)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids(found))

	found, err = repo.Search(ctx, "romance", 50)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids(found))

	found, err = repo.Search(ctx, "", 50)
	require.NoError(t, err)
	assert.Empty(t, found)

	filtered, err := repo.Filter(ctx, FilterQuery{ScoreMin: 6.5, ScoreMax: 10, EpisodeRange: "Long Series", RatingCategory: "all"})
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 1, 2}, ids(filtered))

	filtered, err = repo.Filter(ctx, FilterQuery{ScoreMin: 0, ScoreMax: 10, Popularity: "Popular"})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids(filtered))

	byGenre, err := repo.ByGenre(ctx, "action", 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 1}, ids(byGenre))

	rec, err := repo.GetByID(ctx, 4)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Frieren", rec.Title)
	assert.Equal(t, "Masterpiece", rec.RatingCategory)
	assert.Equal(t, []string{"Action", "Drama"}, rec.Genres)

	rec, err = repo.GetByID(ctx, 404)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSearchTreatsWildcardsLiterally(t *testing.T) {
	db := testutil.NewSQLite(t)
	_, err := loader.New(db, loader.SkipOnError).Load(context.Background(), bucket.ApplyAll([]models.Record{
		testutil.Anime(1, "100% Orange", 7, 12, 1),
		testutil.Anime(2, "1000 Nights", 7, 12, 1),
		testutil.Anime(3, "Sword_Art", 7, 12, 1),
		testutil.Anime(4, "SwordXArt", 7, 12, 1),
	}), loader.ModeSafe)
	require.NoError(t, err)
	repo := NewRepo(db)
	ctx := context.Background()

	found, err := repo.Search(ctx, "100%", 50)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids(found))

	found, err = repo.Search(ctx, "d_a", 50)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids(found))

	found, err = repo.Search(ctx, `\`, 50)
	require.NoError(t, err)
	assert.Empty(t, found)

	byGenre, err := repo.ByGenre(ctx, "%", 50)
	require.NoError(t, err)
	assert.Empty(t, byGenre)

	byGenre, err = repo.ByGenre(ctx, "Act_on", 50)
	require.NoError(t, err)
	assert.Empty(t, byGenre)
}

func TestRepoAggregates(t *testing.T) {
	repo := NewRepo(seeded(t))
	ctx := context.Background()

	d, err := repo.Dashboard(ctx)
	require.NoError(t, err)

	assert.Equal(t, 5, d.Stats.Total)
	assert.Equal(t, 8.1, d.Stats.AvgScore)
	assert.Equal(t, 9.3, d.Stats.MaxScore)
	assert.Equal(t, 6.1, d.Stats.MinScore)
	assert.Equal(t, 20.25, d.Stats.AvgEpisodes)

	assert.Equal(t, []models.Bucket{
		{Label: "Masterpiece", Count: 2},
		{Label: "Average", Count: 1},
		{Label: "Great", Count: 1},
		{Label: "Unknown", Count: 1},
	}, d.RatingDist)
	assert.Equal(t, []models.Bucket{
		{Label: "Long Series", Count: 3},
		{Label: "Unknown", Count: 1},
		{Label: "Very Short", Count: 1},
	}, d.EpisodeDist)

	require.Len(t, d.Sources, 2)
	assert.Equal(t, models.SourceStat{Source: "Manga", Count: 3, AvgScore: 8.77}, d.Sources[0])
	assert.Equal(t, models.SourceStat{Source: "Original", Count: 2, AvgScore: 6.1}, d.Sources[1])

	assert.Equal(t, []string{"Action", "Comedy", "Drama", "Romance"}, d.Genres)
	assert.Len(t, d.Top, 5)
}

func TestRepoEachAndClear(t *testing.T) {
	repo := NewRepo(seeded(t))
	ctx := context.Background()

	var seen []int64
	require.NoError(t, repo.Each(ctx, func(r models.BucketedRecord) error {
		seen = append(seen, r.ID)
		return nil
	}))
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, seen)

	n, err := repo.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	d, err := repo.Dashboard(ctx)
	require.NoError(t, err)
	assert.Zero(t, d.Stats.Total)
	assert.Empty(t, d.Top)
}

func router(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(NewRepo(seeded(t)))
	h.RegisterDashboard(r)
	h.RegisterRoutes(r.Group("/api"))
	return r
}

func get(r http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestHandlerEndpoints(t *testing.T) {
	r := router(t)

	w := get(r, "/api/search?q=bebop")
	require.Equal(t, http.StatusOK, w.Code)
	var items []models.AnimeSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	assert.Equal(t, []int64{1}, ids(items))

	w = get(r, "/api/search")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = get(r, "/api/filter?score_min=8&rating_category=Masterpiece")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	assert.Equal(t, []int64{4, 1}, ids(items))

	w = get(r, "/api/genre?genre=Drama&limit=1")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	assert.Equal(t, []int64{4}, ids(items))

	w = get(r, "/api/anime/2")
	require.Equal(t, http.StatusOK, w.Code)
	var rec models.BucketedRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "Trigun", rec.Title)

	assert.Equal(t, http.StatusNotFound, get(r, "/api/anime/99").Code)
	assert.Equal(t, http.StatusBadRequest, get(r, "/api/anime/abc").Code)

	w = get(r, "/api/stats")
	require.Equal(t, http.StatusOK, w.Code)
	var d models.Dashboard
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	assert.Equal(t, 5, d.Stats.Total)
}

func TestDashboardPage(t *testing.T) {
	w := get(router(t), "/")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Frieren")
	assert.Contains(t, body, "9.30")
	assert.Contains(t, body, "Long Series")
	assert.Contains(t, body, "/ws/runs")
}
