package server

import (
	"encoding/json"
	"time"

	"github.com/zulandar/conductor/internal/models"
)

type projectView struct {
	ID          uint      `json:"id"`
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	ManagerRole string    `json:"manager_role"`
	ResetEpoch  int       `json:"reset_epoch"`
	Roles       []string  `json:"roles,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func viewProject(p *models.Project, roles []string) projectView {
	return projectView{
		ID:          p.ID,
		Name:        p.Name,
		Version:     p.Version,
		ManagerRole: p.ManagerRole,
		ResetEpoch:  p.ResetEpoch,
		Roles:       roles,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

type phaseView struct {
	ID          uint `json:"id"`
	PhaseNumber int  `json:"phase_number"`
	IsActive    bool `json:"is_active"`
}

type scriptView struct {
	ID           uint       `json:"id"`
	Name         string     `json:"name"`
	Path         string     `json:"path"`
	Status       bool       `json:"status"`
	LastExecuted *time.Time `json:"last_executed"`
}

func viewScript(s models.PeriodicScript) scriptView {
	return scriptView{ID: s.ID, Name: s.Name, Path: s.Path, Status: s.Status, LastExecuted: s.LastExecuted}
}

type logView struct {
	ID            uint            `json:"id"`
	ResetEpoch    int             `json:"reset_epoch"`
	UserName      string          `json:"user_name"`
	UserRole      string          `json:"user_role"`
	ActionType    string          `json:"action_type"`
	ActionDetails json.RawMessage `json:"action_details"`
	RowID         *uint           `json:"row_id,omitempty"`
	PhaseID       *uint           `json:"phase_id,omitempty"`
	ScriptResult  *bool           `json:"script_result,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

func viewLog(l models.ActionLog) logView {
	return logView{
		ID:            l.ID,
		ResetEpoch:    l.ResetEpoch,
		UserName:      l.UserName,
		UserRole:      l.UserRole,
		ActionType:    l.ActionType,
		ActionDetails: json.RawMessage(l.ActionDetails),
		RowID:         l.RowID,
		PhaseID:       l.PhaseID,
		ScriptResult:  l.ScriptResult,
		Timestamp:     l.Timestamp,
	}
}
