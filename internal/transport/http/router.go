package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quizzer/internal/app"
	"quizzer/internal/domain"
)

const defaultLeaderboardLimit = 10

// NewRouter exposes the engine over HTTP: read-only JSON endpoints, the
// websocket entry point, metrics and pprof.
func NewRouter(engine *app.Engine, ws *WSHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	e.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "activeSessions": len(engine.ActiveChannels())})
	})

	e.GET("/leaderboard", func(c *gin.Context) {
		limit := defaultLeaderboardLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}
		records, err := engine.Leaderboard(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, records)
	})

	e.GET("/players/:identity", func(c *gin.Context) {
		rec, err := engine.Record(c.Request.Context(), c.Param("identity"))
		if errors.Is(err, domain.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	e.GET("/sessions", func(c *gin.Context) {
		channel := c.Query("channel")
		if channel == "" {
			c.JSON(http.StatusOK, gin.H{"channels": engine.ActiveChannels()})
			return
		}
		snap, err := engine.Snapshot(c.Request.Context(), channel)
		if errors.Is(err, domain.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, snap)
	})

	e.GET("/categories", func(c *gin.Context) {
		categories, err := engine.Categories(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, categories)
	})

	e.GET("/ws", gin.WrapF(ws.ServeWS))
	return e
}
