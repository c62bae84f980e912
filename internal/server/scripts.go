package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/conductor/internal/snapshot"
)

var errScriptsDisabled = errors.New("script execution is not configured")

func (s *Server) handleScriptList(c *gin.Context) {
	list, err := s.opts.Store.Scripts(projectOf(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]scriptView, len(list))
	for i, sc := range list {
		out[i] = viewScript(sc)
	}
	c.JSON(http.StatusOK, out)
}

type scriptRequest struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

func (s *Server) handleScriptAdd(c *gin.Context) {
	var req scriptRequest
	if !bindJSON(c, &req) {
		return
	}
	sc, err := s.opts.Store.AddScript(projectOf(c).ID, req.Name, req.Path, callerOf(c).Actor())
	if err != nil {
		respondError(c, err)
		return
	}
	s.changed(c, "script_add")
	c.JSON(http.StatusCreated, viewScript(*sc))
}

func (s *Server) handleScriptUpdate(c *gin.Context) {
	id, err := paramID(c, "scriptId")
	if err != nil {
		respondError(c, err)
		return
	}
	var req scriptRequest
	if !bindJSON(c, &req) {
		return
	}
	sc, err := s.opts.Store.UpdateScript(projectOf(c).ID, id, req.Name, req.Path, callerOf(c).Actor())
	if err != nil {
		respondError(c, err)
		return
	}
	s.changed(c, "script_update")
	c.JSON(http.StatusOK, viewScript(*sc))
}

func (s *Server) handleScriptDelete(c *gin.Context) {
	id, err := paramID(c, "scriptId")
	if err != nil {
		respondError(c, err)
		return
	}
	if err := s.opts.Store.DeleteScript(projectOf(c).ID, id, callerOf(c).Actor()); err != nil {
		respondError(c, err)
		return
	}
	s.changed(c, "script_delete")
	c.Status(http.StatusNoContent)
}

func (s *Server) handleScriptSaveAll(c *gin.Context) {
	var req []snapshot.Script
	if !bindJSON(c, &req) {
		return
	}
	list, outcomes, err := s.opts.Store.SaveScripts(projectOf(c).ID, req, callerOf(c).Actor())
	if err != nil {
		respondError(c, err)
		return
	}
	if len(outcomes) > 0 {
		s.changed(c, "scripts_saved")
	}
	out := make([]scriptView, len(list))
	for i, sc := range list {
		out[i] = viewScript(sc)
	}
	c.JSON(http.StatusOK, gin.H{"periodic_scripts": out, "outcomes": outcomes})
}

func (s *Server) handleScriptExecute(c *gin.Context) {
	if s.opts.Scripts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": errScriptsDisabled.Error()})
		return
	}
	id, err := paramID(c, "scriptId")
	if err != nil {
		respondError(c, err)
		return
	}
	sc, res, err := s.opts.Scripts.RunPeriodic(c.Request.Context(), projectOf(c).ID, id, callerOf(c).Actor())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"script": viewScript(*sc), "result": res})
}

func (s *Server) handleRowRunScript(c *gin.Context) {
	if s.opts.Scripts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": errScriptsDisabled.Error()})
		return
	}
	rowID, err := paramID(c, "rowId")
	if err != nil {
		respondError(c, err)
		return
	}
	row, res, err := s.opts.Scripts.RunRow(c.Request.Context(), projectOf(c).ID, rowID, callerOf(c).Actor())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"row": snapshot.FromModel(*row), "result": res})
}
