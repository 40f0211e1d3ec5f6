// Package anime serves the read side: the HTML dashboard and the JSON
// search, filter and lookup endpoints.
package anime

import (
	"embed"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"animehub/pkg/logger"
)

//go:embed templates/*.html
var templateFS embed.FS

// Templates parses the embedded dashboard templates.
func Templates() *template.Template {
	return template.Must(template.New("").Funcs(template.FuncMap{
		"score": func(p *float64) string {
			if p == nil {
				return "-"
			}
			return strconv.FormatFloat(*p, 'f', 2, 64)
		},
		"inc": func(i int) int { return i + 1 },
	}).ParseFS(templateFS, "templates/*.html"))
}

type Handler struct {
	Repo *Repo
}

func NewHandler(repo *Repo) *Handler {
	return &Handler{Repo: repo}
}

// RegisterDashboard installs the templates on r and serves GET /.
func (h *Handler) RegisterDashboard(r *gin.Engine) {
	r.SetHTMLTemplate(Templates())
	r.GET("/", h.dashboard)
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/stats", h.stats)       // GET /api/stats
	rg.GET("/search", h.search)     // GET /api/search?q=
	rg.GET("/filter", h.filter)     // GET /api/filter?score_min=&score_max=&...
	rg.GET("/genre", h.genre)       // GET /api/genre?genre=
	rg.GET("/anime/:id", h.getByID) // GET /api/anime/:id
}

func (h *Handler) dashboard(c *gin.Context) {
	d, err := h.Repo.Dashboard(c.Request.Context())
	if err != nil {
		logger.WithContext(c.Request.Context()).Error("dashboard query failed", zap.Error(err))
		c.String(http.StatusInternalServerError, "dashboard unavailable")
		return
	}
	c.HTML(http.StatusOK, "dashboard.html", d)
}

func (h *Handler) stats(c *gin.Context) {
	d, err := h.Repo.Dashboard(c.Request.Context())
	if err != nil {
		h.fail(c, "stats failed", err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) search(c *gin.Context) {
	items, err := h.Repo.Search(c.Request.Context(), c.Query("q"), parseInt(c.Query("limit"), DefaultLimit))
	if err != nil {
		h.fail(c, "search failed", err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) filter(c *gin.Context) {
	q := FilterQuery{
		ScoreMin:       parseFloat(c.Query("score_min"), 6.5),
		ScoreMax:       parseFloat(c.Query("score_max"), 10),
		RatingCategory: c.Query("rating_category"),
		EpisodeRange:   c.Query("episode_range"),
		Popularity:     c.Query("popularity"),
		Source:         c.Query("source"),
		Limit:          parseInt(c.Query("limit"), DefaultLimit),
	}
	items, err := h.Repo.Filter(c.Request.Context(), q)
	if err != nil {
		h.fail(c, "filter failed", err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) genre(c *gin.Context) {
	items, err := h.Repo.ByGenre(c.Request.Context(), c.Query("genre"), parseInt(c.Query("limit"), DefaultLimit))
	if err != nil {
		h.fail(c, "genre failed", err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) getByID(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	rec, err := h.Repo.GetByID(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "get failed", err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) fail(c *gin.Context, msg string, err error) {
	logger.WithContext(c.Request.Context()).Error(msg, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}

func parseInt(s string, def int) int {
	if strings.TrimSpace(s) == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func parseFloat(s string, def float64) float64 {
	if strings.TrimSpace(s) == "" {
		return def
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return f
}
