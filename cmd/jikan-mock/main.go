// Command jikan-mock serves canned Jikan list pages so the pipeline can be
// run offline. Page N is read from <dir>/page_N.json; pages without a file
// come back empty, which ends a scrape after a few requests.
package main

import (
	"errors"
	"flag"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"animehub/pkg/logger"
)

var emptyPage = []byte(`{"data":[],"pagination":{"last_visible_page":0,"has_next_page":false}}`)

func main() {
	addr := flag.String("addr", ":8090", "listen address")
	dir := flag.String("dir", "data/mock", "directory holding page_N.json files")
	throttle := flag.Int("throttle", 0, "answer every Nth request with 429 (0 = never)")
	flag.Parse()

	if err := logger.Init(logger.Config{Level: "info", Encoding: "console", Development: true}); err != nil {
		panic(err)
	}
	defer logger.Sync()

	gin.SetMode(gin.ReleaseMode)
	r := newRouter(*dir, *throttle)

	logger.Get().Info("jikan mock listening", zap.String("addr", *addr), zap.String("dir", *dir))
	if err := http.ListenAndServe(*addr, r); err != nil {
		logger.Get().Fatal("listen", zap.Error(err))
	}
}

func newRouter(dir string, throttle int) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	var requests atomic.Int64
	r.GET("/anime", func(c *gin.Context) {
		n := requests.Add(1)
		if throttle > 0 && n%int64(throttle) == 0 {
			c.JSON(http.StatusTooManyRequests, gin.H{"status": 429, "message": "You are being rate limited"})
			return
		}

		page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
		if err != nil || page < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"status": 400, "message": "invalid page"})
			return
		}

		b, err := os.ReadFile(filepath.Join(dir, "page_"+strconv.Itoa(page)+".json"))
		if errors.Is(err, fs.ErrNotExist) {
			c.Data(http.StatusOK, "application/json", emptyPage)
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"status": 500, "message": err.Error()})
			return
		}
		// a broken fixture should fail loudly, not look like the end of data
		if !json.Valid(b) {
			c.JSON(http.StatusInternalServerError, gin.H{"status": 500, "message": "invalid fixture JSON"})
			return
		}
		c.Data(http.StatusOK, "application/json", b)
	})
	return r
}
