package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/conductor/internal/notify"
	"github.com/zulandar/conductor/internal/runbook"
)

// registerRoutes sets up all API routes on the Gin router.
func (s *Server) registerRoutes() {
	r := s.router
	auth := authenticate(s.opts.Auth)

	// Public.
	r.GET("/health", s.handleHealth)
	r.GET("/api/projects", s.handleProjectList)
	r.POST("/api/projects/import", s.handleProjectImport)
	r.GET("/api/projects/:id", s.handleProjectGet)
	r.POST("/api/projects/:id/login", s.handleLogin)

	r.GET("/ws", auth, s.handleWS)

	// Any member of the project.
	p := r.Group("/api/projects/:id", auth, s.scopeProject())
	{
		p.GET("/table-data", s.handleTable)
		p.GET("/roles", s.handleRoleList)
		p.GET("/periodic-scripts", s.handleScriptList)

		p.POST("/pending-changes", s.handleSubmit)
		p.GET("/pending-changes", s.handlePendingList)

		p.GET("/action-logs", s.handleLogList)
		p.GET("/action-logs/epochs", s.handleLogEpochs)

		p.PUT("/rows/:rowId", s.handleRowUpdate)
		p.POST("/rows/:rowId/run-script", s.handleRowRunScript)

		p.POST("/heartbeat", s.handleHeartbeat)
		p.POST("/leave", s.handleLeave)
		p.GET("/presence", s.handlePresence)
	}

	// Manager only.
	m := p.Group("", requireManager())
	{
		m.DELETE("", s.handleProjectDelete)
		m.PUT("/version", s.handleVersion)
		m.PUT("/table-data", s.handleTableSave)

		m.POST("/phases", s.handlePhaseCreate)
		m.DELETE("/phases/:number", s.handlePhaseDelete)
		m.PUT("/phases/:number/toggle-active", s.handlePhaseToggle)
		m.POST("/phases/:number/rows", s.handleRowCreate)
		m.DELETE("/rows/:rowId", s.handleRowDelete)

		m.POST("/roles", s.handleRoleAdd)
		m.DELETE("/roles/:role", s.handleRoleDelete)

		m.POST("/periodic-scripts", s.handleScriptAdd)
		m.PUT("/periodic-scripts/bulk", s.handleScriptSaveAll)
		m.PUT("/periodic-scripts/:scriptId", s.handleScriptUpdate)
		m.DELETE("/periodic-scripts/:scriptId", s.handleScriptDelete)
		m.POST("/periodic-scripts/:scriptId/execute", s.handleScriptExecute)

		m.POST("/pending-changes/:changeId/accept", s.handleAccept)
		m.POST("/pending-changes/:changeId/decline", s.handleDecline)
		m.POST("/submissions/:submissionId/accept-all", s.handleAcceptAll)
		m.POST("/submissions/:submissionId/decline-all", s.handleDeclineAll)

		m.DELETE("/action-logs", s.handleLogClear)
		m.POST("/reset-statuses", s.handleResetStatuses)
	}
}

// scopeProject loads the :id project and rejects tokens issued for a
// different one.
func (s *Server) scopeProject() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := paramID(c, "id")
		if err != nil {
			respondError(c, err)
			c.Abort()
			return
		}
		if callerOf(c).ProjectID != id {
			respondError(c, fmt.Errorf("token is not valid for project %d: %w", id, ErrForbidden))
			c.Abort()
			return
		}
		project, err := s.opts.Store.Project(id)
		if err != nil {
			respondError(c, err)
			c.Abort()
			return
		}
		c.Set(projectKey, project)
		c.Next()
	}
}

func paramID(c *gin.Context, name string) (uint, error) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("invalid %s %q: %w", name, c.Param(name), runbook.ErrInvalid)
	}
	return uint(v), nil
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, fmt.Errorf("invalid request body: %v: %w", err, runbook.ErrInvalid))
		return false
	}
	return true
}

// changed tells the project's clients to reload.
func (s *Server) changed(c *gin.Context, reason string) {
	p := projectOf(c)
	if p == nil {
		return
	}
	err := s.opts.Notifier.Notify(c.Request.Context(), notify.ProjectRoom(p.ID), notify.EventDataChanged, notify.DataChanged{
		ProjectID: p.ID,
		Reason:    reason,
		UserName:  callerOf(c).Name,
	})
	if err != nil {
		s.log.Warn("notify failed", "project", p.ID, "reason", reason, "error", err)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if s.opts.Hub != nil {
		body["connections"] = s.opts.Hub.ConnectionCount()
	}
	c.JSON(http.StatusOK, body)
}
