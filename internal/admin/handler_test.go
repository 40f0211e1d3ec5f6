package admin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"animehub/internal/anime"
	"animehub/internal/auth"
	"animehub/internal/bucket"
	"animehub/internal/delta"
	"animehub/internal/loader"
	"animehub/internal/pipeline"
	"animehub/internal/scraper"
	"animehub/internal/state"
	"animehub/pkg/models"
	"animehub/pkg/testutil"
)

type gatedFetcher struct {
	gate chan struct{}
	recs []models.Record
}

func (f *gatedFetcher) FetchAll(ctx context.Context, start int) (scraper.Result, error) {
	<-f.gate
	return scraper.Result{Records: f.recs, StartPage: start, FinalPage: start}, nil
}

type fixture struct {
	router  *gin.Engine
	token   string
	runner  *pipeline.Runner
	fetcher *gatedFetcher
	state   *state.File
}

func setup(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.NewSQLite(t)

	f := &gatedFetcher{gate: make(chan struct{}), recs: []models.Record{testutil.Anime(1, "a", 8, 12, 1)}}
	st := state.NewFile(t.TempDir())
	p := &pipeline.Pipeline{
		Fetcher:  f,
		State:    st,
		Detector: delta.Detector{Existing: delta.StoreLookup(db)},
		Filter:   bucket.Filter{RequireScore: true},
		Sink:     loader.New(db, loader.SkipOnError),
		Mode:     loader.ModeSafe,
	}
	runner := pipeline.NewRunner(p)
	t.Cleanup(func() {
		select {
		case <-f.gate:
		default:
			close(f.gate)
		}
		runner.Wait()
	})

	tokens := auth.TokenService{Secret: []byte("s3cret"), Issuer: "animehub", Duration: time.Hour}
	tok, _, err := tokens.Sign("tester")
	require.NoError(t, err)

	r := gin.New()
	g := r.Group("/admin", auth.AdminMiddleware(tokens))
	NewHandler(runner, anime.NewRepo(db), db, st).RegisterRoutes(g)

	return &fixture{router: r, token: tok, runner: runner, fetcher: f, state: st}
}

func (f *fixture) do(method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("Authorization", "Bearer "+f.token)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestRequiresToken(t *testing.T) {
	fx := setup(t)
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/indexes", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRunLifecycle(t *testing.T) {
	fx := setup(t)

	assert.Equal(t, http.StatusNotFound, fx.do(http.MethodGet, "/admin/runs/last").Code)

	w := fx.do(http.MethodPost, "/admin/runs")
	require.Equal(t, http.StatusAccepted, w.Code)
	var started struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &started))
	assert.NotEmpty(t, started.RunID)

	assert.Equal(t, http.StatusConflict, fx.do(http.MethodPost, "/admin/runs").Code)
	assert.Equal(t, http.StatusConflict, fx.do(http.MethodDelete, "/admin/anime").Code)
	assert.Equal(t, http.StatusConflict, fx.do(http.MethodDelete, "/admin/state").Code)

	close(fx.fetcher.gate)
	fx.runner.Wait()

	w = fx.do(http.MethodGet, "/admin/runs/last")
	require.Equal(t, http.StatusOK, w.Code)
	var last struct {
		Running bool             `json:"running"`
		Last    pipeline.Summary `json:"last"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &last))
	assert.False(t, last.Running)
	assert.Equal(t, started.RunID, last.Last.RunID)
	assert.Equal(t, 1, last.Last.Counts.Loaded)

	w = fx.do(http.MethodDelete, "/admin/anime")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":1}`, w.Body.String())
}

func TestIndexes(t *testing.T) {
	fx := setup(t)
	w := fx.do(http.MethodGet, "/admin/indexes")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Table   string   `json:"table"`
		Indexes []string `json:"indexes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "anime", body.Table)
	assert.Contains(t, body.Indexes, "idx_anime_score")
	assert.Contains(t, body.Indexes, "idx_anime_rating_category")
}

func TestStateEndpoints(t *testing.T) {
	fx := setup(t)
	require.NoError(t, fx.state.Save(models.IngestionState{LastPage: 41}))

	w := fx.do(http.MethodGet, "/admin/state")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		State    models.IngestionState `json:"state"`
		NextPage int                   `json:"next_page"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 41, body.State.LastPage)
	assert.Equal(t, 42, body.NextPage)

	assert.Equal(t, http.StatusNoContent, fx.do(http.MethodDelete, "/admin/state").Code)

	st, err := fx.state.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, st.NextPage())
}
