// Package admin exposes the operator endpoints: trigger a run, inspect
// the last one, clear the table, list indexes and manage ingestion state.
package admin

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"animehub/internal/pipeline"
	"animehub/pkg/database"
	"animehub/pkg/logger"
	"animehub/pkg/models"
)

// StateStore is the ingestion state as the admin API sees it.
type StateStore interface {
	Load() (models.IngestionState, error)
	Reset() error
}

// Clearer empties the anime table.
type Clearer interface {
	Clear(ctx context.Context) (int64, error)
}

type Handler struct {
	Runner *pipeline.Runner
	Store  Clearer
	DB     *database.DB
	State  StateStore
}

func NewHandler(runner *pipeline.Runner, store Clearer, db *database.DB, st StateStore) *Handler {
	return &Handler{Runner: runner, Store: store, DB: db, State: st}
}

// RegisterRoutes mounts the handlers on rg; the caller installs auth.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/runs", h.startRun)
	rg.GET("/runs/last", h.lastRun)
	rg.DELETE("/anime", h.clear)
	rg.GET("/indexes", h.indexes)
	rg.GET("/state", h.getState)
	rg.DELETE("/state", h.resetState)
}

func (h *Handler) startRun(c *gin.Context) {
	id, err := h.Runner.Start(c.Request.Context())
	if errors.Is(err, pipeline.ErrRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.fail(c, "start run failed", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": id})
}

func (h *Handler) lastRun(c *gin.Context) {
	sum, ok := h.Runner.Last()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no finished run", "running": h.Runner.Running()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"running": h.Runner.Running(), "last": sum})
}

func (h *Handler) clear(c *gin.Context) {
	if h.Runner.Running() {
		c.JSON(http.StatusConflict, gin.H{"error": pipeline.ErrRunning.Error()})
		return
	}
	n, err := h.Store.Clear(c.Request.Context())
	if err != nil {
		h.fail(c, "clear failed", err)
		return
	}
	logger.WithContext(c.Request.Context()).Info("anime table cleared", zap.Int64("deleted", n))
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (h *Handler) indexes(c *gin.Context) {
	names, err := database.ListIndexes(c.Request.Context(), h.DB, "anime")
	if err != nil {
		h.fail(c, "list indexes failed", err)
		return
	}
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"table": "anime", "indexes": names})
}

func (h *Handler) getState(c *gin.Context) {
	st, err := h.State.Load()
	if err != nil {
		h.fail(c, "read state failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": st, "next_page": st.NextPage()})
}

func (h *Handler) resetState(c *gin.Context) {
	if h.Runner.Running() {
		c.JSON(http.StatusConflict, gin.H{"error": pipeline.ErrRunning.Error()})
		return
	}
	if err := h.State.Reset(); err != nil {
		h.fail(c, "reset state failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) fail(c *gin.Context, msg string, err error) {
	logger.WithContext(c.Request.Context()).Error(msg, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
