package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/conductor/internal/notify"
	"github.com/zulandar/conductor/internal/presence"
)

// handleLogin registers the user in the project under one of its roles
// and returns a token for that identity.
func (s *Server) handleLogin(c *gin.Context) {
	id, err := paramID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	var req struct {
		UserName string `json:"user_name"`
		Role     string `json:"role"`
	}
	if !bindJSON(c, &req) {
		return
	}
	user, err := s.opts.Store.Login(id, req.UserName, req.Role)
	if err != nil {
		respondError(c, err)
		return
	}
	token, expires, err := s.opts.Auth.Issue(id, user.Name, user.Role)
	if err != nil {
		respondError(c, err)
		return
	}
	s.join(c.Request.Context(), id, user.Name, user.Role)
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expires,
		"user_name":  user.Name,
		"role":       user.Role,
	})
}

func (s *Server) handleHeartbeat(c *gin.Context) {
	caller := callerOf(c)
	if err := s.opts.Presence.Heartbeat(c.Request.Context(), caller.ProjectID, caller.Name, caller.Role); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleLeave(c *gin.Context) {
	caller := callerOf(c)
	if err := s.opts.Presence.Leave(c.Request.Context(), caller.ProjectID, caller.Name); err != nil {
		respondError(c, err)
		return
	}
	s.presenceChanged(c.Request.Context(), caller.ProjectID)
	c.Status(http.StatusNoContent)
}

func (s *Server) handlePresence(c *gin.Context) {
	users, err := s.opts.Presence.Online(c.Request.Context(), projectOf(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	if users == nil {
		users = []presence.User{}
	}
	c.JSON(http.StatusOK, users)
}

// handleWS subscribes the caller to the project room, and managers to the
// manager room as well.
func (s *Server) handleWS(c *gin.Context) {
	if s.opts.Hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "live updates are not enabled"})
		return
	}
	caller := callerOf(c)
	project, err := s.opts.Store.Project(caller.ProjectID)
	if err != nil {
		respondError(c, err)
		return
	}
	rooms := []string{notify.ProjectRoom(project.ID)}
	if caller.Role == project.ManagerRole {
		rooms = append(rooms, notify.ManagerRoom(project.ID))
	}
	if err := s.opts.Hub.ServeWS(c.Writer, c.Request, caller.Name, rooms); err != nil {
		s.log.Warn("websocket setup failed", "user", caller.Name, "project", project.ID, "error", err)
		return
	}
	s.join(c.Request.Context(), project.ID, caller.Name, caller.Role)
}

// join marks the user online and tells the project's clients.
func (s *Server) join(ctx context.Context, projectID uint, name, role string) {
	if err := s.opts.Presence.Heartbeat(ctx, projectID, name, role); err != nil {
		s.log.Warn("presence heartbeat failed", "project", projectID, "user", name, "error", err)
		return
	}
	s.presenceChanged(ctx, projectID)
}

func (s *Server) presenceChanged(ctx context.Context, projectID uint) {
	users, err := s.opts.Presence.Online(ctx, projectID)
	if err != nil {
		s.log.Warn("presence lookup failed", "project", projectID, "error", err)
		return
	}
	if err := s.opts.Notifier.Notify(ctx, notify.ProjectRoom(projectID), notify.EventPresenceUpdated, gin.H{
		"project_id": projectID,
		"users":      users,
	}); err != nil {
		s.log.Warn("notify failed", "project", projectID, "event", notify.EventPresenceUpdated, "error", err)
	}
}
