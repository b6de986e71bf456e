// ABOUTME: REST API wrapping the supervisor's programmatic operations
// ABOUTME: The caller is pre-authenticated upstream; tenant identity arrives in headers

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shreyanshjain7174/agent-runtime/internal/supervisor"
)

// Router holds the API dependencies and routes.
type Router struct {
	engine     *gin.Engine
	supervisor *supervisor.Supervisor
}

// NewRouter creates the API router around a supervisor instance.
func NewRouter(sup *supervisor.Supervisor) *Router {
	gin.SetMode(gin.ReleaseMode)
	r := &Router{
		engine:     gin.New(),
		supervisor: sup,
	}
	r.engine.Use(gin.Recovery())
	r.setupRoutes()
	return r
}

// Engine exposes the underlying gin engine for serving and tests.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) setupRoutes() {
	v1 := r.engine.Group("/api/v1", requireTenant)

	agents := v1.Group("/agents")
	agents.GET("", r.listInstalledAgents)
	agents.POST("/install", r.installAgent)
	agents.DELETE("/:installationID", r.uninstallAgent)
	agents.POST("/:installationID/start", r.startAgent)
	agents.POST("/:installationID/stop", r.stopAgent)
	agents.POST("/:installationID/pause", r.pauseAgent)
	agents.POST("/:installationID/resume", r.resumeAgent)
	agents.POST("/:installationID/heartbeat", r.recordHeartbeat)
	agents.POST("/:installationID/events", r.sendEvent)
	agents.GET("/:installationID/events", r.listEvents)
	agents.GET("/:installationID/receive", r.receiveFromAgent)
	agents.GET("/:installationID/usage", r.getUsage)
	agents.POST("/:installationID/usage", r.trackUsage)

	v1.GET("/sessions", r.listSessions)
	v1.GET("/audit", r.listAudit)

	r.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// requireTenant resolves the pre-authenticated caller's tenant and identity
// from headers set by the upstream request layer.
func requireTenant(c *gin.Context) {
	businessID := c.GetHeader("X-Business-ID")
	if businessID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "X-Business-ID header is required"})
		return
	}
	c.Set("businessID", businessID)

	actor := c.GetHeader("X-Actor-ID")
	if actor == "" {
		actor = "system"
	}
	c.Set("actor", actor)
	c.Next()
}
