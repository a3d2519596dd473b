package app

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"embeddb/internal/shared"
)

// statementRequest is the body of /v1/query and /v1/exec.
type statementRequest struct {
	SQL    string `json:"sql" binding:"required"`
	Params []any  `json:"params"`
}

func (a *App) router() *gin.Engine {
	if a.cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", a.handleHealth)

	v1 := r.Group("/v1")
	v1.POST("/query", a.handleQuery)
	v1.POST("/exec", a.handleExec)
	v1.POST("/reset", a.handleReset)
	v1.POST("/retry", a.handleRetry)

	return r
}

func (a *App) handleHealth(c *gin.Context) {
	state, reason := a.manager.State()
	body := gin.H{
		"state": state.String(),
		"ready": a.manager.IsReady(),
	}
	if reason != nil {
		body["reason"] = reason.Error()
	}
	status := http.StatusOK
	if !a.manager.IsReady() {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, body)
}

func (a *App) handleQuery(c *gin.Context) {
	var req statementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := a.gateway.Query(c.Request.Context(), req.SQL, req.Params...)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *App) handleExec(c *gin.Context) {
	var req statementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := a.gateway.Exec(c.Request.Context(), req.SQL, req.Params...); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *App) handleReset(c *gin.Context) {
	if err := a.manager.Reset(c.Request.Context()); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *App) handleRetry(c *gin.Context) {
	if err := a.manager.RetryConnection(c.Request.Context()); err != nil {
		a.fail(c, err)
		return
	}
	state, _ := a.manager.State()
	c.JSON(http.StatusOK, gin.H{"state": state.String(), "ready": a.manager.IsReady()})
}

// fail maps a domain error onto an HTTP status.
func (a *App) fail(c *gin.Context, err error) {
	status := http.StatusBadRequest
	switch shared.KindOf(err) {
	case shared.KindNotReady, shared.KindCapability:
		status = http.StatusServiceUnavailable
	case shared.KindConstruction, shared.KindSchema:
		status = http.StatusInternalServerError
	case shared.KindTransaction:
		status = http.StatusConflict
	}
	a.log.Debug("request failed", slog.Int("status", status), slog.Any("err", err))
	c.JSON(status, gin.H{"error": err.Error(), "kind": shared.KindOf(err).String()})
}
