package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/conductor/internal/diff"
	"github.com/zulandar/conductor/internal/runbook"
	"github.com/zulandar/conductor/internal/snapshot"
)

func (s *Server) handleProjectList(c *gin.Context) {
	projects, err := s.opts.Store.Projects()
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]projectView, len(projects))
	for i := range projects {
		out[i] = viewProject(&projects[i], nil)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleProjectGet(c *gin.Context) {
	id, err := paramID(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	p, err := s.opts.Store.Project(id)
	if err != nil {
		respondError(c, err)
		return
	}
	roles, err := s.opts.Store.Roles(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewProject(p, roles))
}

// handleProjectImport creates a project. The importer becomes its first
// manager and receives a token for it.
func (s *Server) handleProjectImport(c *gin.Context) {
	var req struct {
		runbook.ImportInput
		UserName string `json:"user_name"`
	}
	if !bindJSON(c, &req) {
		return
	}
	req.UserName = strings.TrimSpace(req.UserName)
	if req.UserName == "" {
		respondError(c, fmt.Errorf("user_name is required: %w", runbook.ErrInvalid))
		return
	}
	manager := req.ManagerRole
	if manager == "" {
		manager = "Manager"
	}
	p, err := s.opts.Store.Import(req.ImportInput, Caller{Name: req.UserName, Role: manager}.Actor())
	if err != nil {
		respondError(c, err)
		return
	}
	if _, err := s.opts.Store.Login(p.ID, req.UserName, p.ManagerRole); err != nil {
		respondError(c, err)
		return
	}
	token, expires, err := s.opts.Auth.Issue(p.ID, req.UserName, p.ManagerRole)
	if err != nil {
		respondError(c, err)
		return
	}
	s.log.Info("project imported", "project", p.ID, "name", p.Name, "user", req.UserName)
	c.JSON(http.StatusCreated, gin.H{
		"project":    viewProject(p, nil),
		"token":      token,
		"expires_at": expires,
	})
}

func (s *Server) handleProjectDelete(c *gin.Context) {
	p := projectOf(c)
	if err := s.opts.Store.DeleteProject(p.ID); err != nil {
		respondError(c, err)
		return
	}
	s.log.Info("project deleted", "project", p.ID, "user", callerOf(c).Name)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleVersion(c *gin.Context) {
	var req struct {
		Version string `json:"version"`
	}
	if !bindJSON(c, &req) {
		return
	}
	p := projectOf(c)
	if err := s.opts.Store.SetVersion(p.ID, req.Version, callerOf(c).Actor()); err != nil {
		respondError(c, err)
		return
	}
	s.changed(c, "version_change")
	c.JSON(http.StatusOK, gin.H{"version": req.Version})
}

func (s *Server) handleTable(c *gin.Context) {
	p := projectOf(c)
	table, err := s.opts.Store.Table(p.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": p.Version, "table_data": table})
}

// handleTableSave applies a manager's edited table without review.
func (s *Server) handleTableSave(c *gin.Context) {
	var req struct {
		Proposal diff.Proposal `json:"proposal"`
		Ops      diff.Ops      `json:"ops"`
	}
	if !bindJSON(c, &req) {
		return
	}
	p := projectOf(c)
	table, outcomes, err := s.opts.Store.SaveTable(p.ID, req.Proposal, req.Ops, callerOf(c).Actor())
	if err != nil {
		respondError(c, err)
		return
	}
	if len(outcomes) > 0 {
		s.changed(c, "table_saved")
	}
	c.JSON(http.StatusOK, gin.H{"table_data": table, "outcomes": outcomes})
}

func (s *Server) handlePhaseCreate(c *gin.Context) {
	p := projectOf(c)
	phase, err := s.opts.Store.CreatePhase(p.ID, callerOf(c).Actor())
	if err != nil {
		respondError(c, err)
		return
	}
	s.changed(c, "phase_add")
	c.JSON(http.StatusCreated, phaseView{ID: phase.ID, PhaseNumber: phase.PhaseNumber, IsActive: phase.IsActive})
}

func phaseNumber(c *gin.Context) (int, error) {
	n, err := strconv.Atoi(c.Param("number"))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid phase number %q: %w", c.Param("number"), runbook.ErrInvalid)
	}
	return n, nil
}

func (s *Server) handlePhaseDelete(c *gin.Context) {
	n, err := phaseNumber(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := s.opts.Store.DeletePhase(projectOf(c).ID, n, callerOf(c).Actor()); err != nil {
		respondError(c, err)
		return
	}
	s.changed(c, "phase_delete")
	c.Status(http.StatusNoContent)
}

func (s *Server) handlePhaseToggle(c *gin.Context) {
	n, err := phaseNumber(c)
	if err != nil {
		respondError(c, err)
		return
	}
	phase, err := s.opts.Store.TogglePhase(projectOf(c).ID, n, callerOf(c).Actor())
	if err != nil {
		respondError(c, err)
		return
	}
	s.changed(c, "phase_activation")
	c.JSON(http.StatusOK, phaseView{ID: phase.ID, PhaseNumber: phase.PhaseNumber, IsActive: phase.IsActive})
}

func (s *Server) handleRowCreate(c *gin.Context) {
	n, err := phaseNumber(c)
	if err != nil {
		respondError(c, err)
		return
	}
	var content snapshot.Row
	if !bindJSON(c, &content) {
		return
	}
	row, err := s.opts.Store.CreateRow(projectOf(c).ID, n, content, callerOf(c).Actor())
	if err != nil {
		respondError(c, err)
		return
	}
	s.changed(c, "row_add")
	c.JSON(http.StatusCreated, snapshot.FromModel(*row))
}

// handleRowUpdate lets managers edit any field. Everyone else may only
// record status and script results; content edits go through review.
func (s *Server) handleRowUpdate(c *gin.Context) {
	rowID, err := paramID(c, "rowId")
	if err != nil {
		respondError(c, err)
		return
	}
	var patch runbook.RowPatch
	if !bindJSON(c, &patch) {
		return
	}
	if !patch.StatusOnly() && !isManager(c) {
		respondError(c, fmt.Errorf("only status changes may be made directly; submit other edits for review: %w", ErrForbidden))
		return
	}
	row, err := s.opts.Store.UpdateRow(projectOf(c).ID, rowID, patch, callerOf(c).Actor())
	if err != nil {
		respondError(c, err)
		return
	}
	s.changed(c, "row_update")
	c.JSON(http.StatusOK, snapshot.FromModel(*row))
}

func (s *Server) handleRowDelete(c *gin.Context) {
	rowID, err := paramID(c, "rowId")
	if err != nil {
		respondError(c, err)
		return
	}
	if err := s.opts.Store.DeleteRow(projectOf(c).ID, rowID, callerOf(c).Actor()); err != nil {
		respondError(c, err)
		return
	}
	s.changed(c, "row_delete")
	c.Status(http.StatusNoContent)
}

func (s *Server) handleRoleList(c *gin.Context) {
	roles, err := s.opts.Store.Roles(projectOf(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, roles)
}

func (s *Server) handleRoleAdd(c *gin.Context) {
	var req struct {
		Role string `json:"role"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if err := s.opts.Store.AddRole(projectOf(c).ID, req.Role, callerOf(c).Actor()); err != nil {
		respondError(c, err)
		return
	}
	s.changed(c, "role_add")
	c.JSON(http.StatusCreated, gin.H{"role": strings.TrimSpace(req.Role)})
}

func (s *Server) handleRoleDelete(c *gin.Context) {
	if err := s.opts.Store.DeleteRole(projectOf(c).ID, c.Param("role"), callerOf(c).Actor()); err != nil {
		respondError(c, err)
		return
	}
	s.changed(c, "role_delete")
	c.Status(http.StatusNoContent)
}
