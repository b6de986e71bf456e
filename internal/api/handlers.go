// ABOUTME: HTTP handlers translating requests into supervisor operations
// ABOUTME: Maps the supervisor's typed errors onto HTTP status codes

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/shreyanshjain7174/agent-runtime/internal/store"
	"github.com/shreyanshjain7174/agent-runtime/internal/supervisor"
)

type installRequest struct {
	AgentID      string          `json:"agent_id" binding:"required"`
	InstanceName string          `json:"instance_name"`
	Permissions  []string        `json:"permissions"`
	Config       json.RawMessage `json:"config"`
}

type sendEventRequest struct {
	EventType     string          `json:"event_type" binding:"required"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlation_id"`
}

func (r *Router) installAgent(c *gin.Context) {
	var req installRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	inst, err := r.supervisor.InstallAgent(c.Request.Context(), supervisor.InstallRequest{
		BusinessID:   c.GetString("businessID"),
		AgentID:      req.AgentID,
		Actor:        c.GetString("actor"),
		InstanceName: req.InstanceName,
		Permissions:  req.Permissions,
		Config:       req.Config,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inst)
}

func (r *Router) uninstallAgent(c *gin.Context) {
	err := r.supervisor.UninstallAgent(c.Request.Context(), c.Param("installationID"), c.GetString("actor"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "uninstalling"})
}

func (r *Router) startAgent(c *gin.Context) {
	sess, err := r.supervisor.StartAgent(c.Request.Context(), c.Param("installationID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (r *Router) stopAgent(c *gin.Context) {
	if err := r.supervisor.StopAgent(c.Request.Context(), c.Param("installationID")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func (r *Router) pauseAgent(c *gin.Context) {
	if err := r.supervisor.PauseAgent(c.Request.Context(), c.Param("installationID")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

func (r *Router) resumeAgent(c *gin.Context) {
	if err := r.supervisor.ResumeAgent(c.Request.Context(), c.Param("installationID")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "running"})
}

func (r *Router) recordHeartbeat(c *gin.Context) {
	if err := r.supervisor.RecordHeartbeat(c.Request.Context(), c.Param("installationID")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Router) sendEvent(c *gin.Context) {
	var req sendEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event, err := r.supervisor.SendEventToAgent(c.Request.Context(),
		c.Param("installationID"), req.EventType, req.Payload, req.CorrelationID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, event)
}

func (r *Router) receiveFromAgent(c *gin.Context) {
	payload, err := r.supervisor.ReceiveFromAgent(c.Request.Context(), c.Param("installationID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", payload)
}

func (r *Router) listInstalledAgents(c *gin.Context) {
	insts, err := r.supervisor.GetInstalledAgents(c.Request.Context(), c.GetString("businessID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"installations": insts})
}

func (r *Router) listSessions(c *gin.Context) {
	sessions, err := r.supervisor.GetAgentSessions(c.Request.Context(), c.GetString("businessID"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (r *Router) listEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := r.supervisor.GetAgentEvents(c.Request.Context(), c.Param("installationID"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (r *Router) getUsage(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))
	periods, err := r.supervisor.GetResourceUsage(c.Request.Context(), c.Param("installationID"), days)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage": periods})
}

func (r *Router) trackUsage(c *gin.Context) {
	var sample store.UsageSample
	if err := c.ShouldBindJSON(&sample); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := r.supervisor.TrackResourceUsage(c.Request.Context(), c.Param("installationID"), sample); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Router) listAudit(c *gin.Context) {
	businessID := c.GetString("businessID")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	entries, err := r.supervisor.GetAuditLog(c.Request.Context(), store.AuditFilter{
		BusinessID: &businessID,
		Limit:      limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// writeError maps the supervisor's error taxonomy onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	var (
		notFound      *supervisor.NotFoundError
		invalidState  *supervisor.InvalidStateError
		permission    *supervisor.PermissionError
		notRunning    *supervisor.AgentNotRunningError
		adapterFailed *supervisor.AdapterError
	)

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &invalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &permission):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "missing_permissions": permission.Missing})
	case errors.As(err, &notRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrInstallationExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &adapterFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
