// Package audit appends and queries the project action log. Entries are
// grouped into reset epochs; every query reads exactly one epoch.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/zulandar/conductor/internal/models"
	"github.com/zulandar/conductor/internal/snapshot"
	"gorm.io/gorm"
)

// Action types.
const (
	ActionRowAdd          = "row_add"
	ActionRowUpdate       = "row_update"
	ActionRowStatus       = "row_status_change"
	ActionRowDelete       = "row_delete"
	ActionRowMove         = "row_move"
	ActionRowDuplicate    = "row_duplicate"
	ActionPhaseAdd        = "phase_add"
	ActionPhaseDelete     = "phase_delete"
	ActionPhaseActivation = "phase_activation"
	ActionRoleAdd         = "role_add"
	ActionRoleDelete      = "role_delete"
	ActionScriptAdd       = "script_add"
	ActionScriptUpdate    = "script_update"
	ActionScriptDelete    = "script_delete"
	ActionScriptExecution = "script_execution"
	ActionPeriodicScript  = "periodic_script_execution"
	ActionVersionChange   = "version_change"
	ActionResetStatuses   = "reset_statuses"
	ActionProjectImport   = "project_import"
)

// Actor identifies who performed an action.
type Actor struct {
	Name string `json:"user_name"`
	Role string `json:"user_role"`
}

// Entry is one action to record.
type Entry struct {
	Action       string
	Details      map[string]any
	RowID        uint
	PhaseID      uint
	ScriptResult *bool
}

// Recorder appends entries for one actor to one project inside a
// transaction. Entries carry the epoch the project had when the recorder
// was created.
type Recorder struct {
	tx      *gorm.DB
	project *models.Project
	actor   Actor
	now     time.Time
}

// NewRecorder returns a Recorder. project must have been read inside tx.
func NewRecorder(tx *gorm.DB, project *models.Project, actor Actor, now time.Time) *Recorder {
	return &Recorder{tx: tx, project: project, actor: actor, now: now}
}

// Record appends a single entry.
func (r *Recorder) Record(e Entry) error {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	data, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("audit: marshal %s details: %w", e.Action, err)
	}
	log := models.ActionLog{
		ProjectID:     r.project.ID,
		ResetEpoch:    r.project.ResetEpoch,
		UserName:      r.actor.Name,
		UserRole:      r.actor.Role,
		ActionType:    e.Action,
		ActionDetails: data,
		ScriptResult:  e.ScriptResult,
		Timestamp:     r.now,
	}
	if e.RowID != 0 {
		id := e.RowID
		log.RowID = &id
	}
	if e.PhaseID != 0 {
		id := e.PhaseID
		log.PhaseID = &id
	}
	if err := r.tx.Create(&log).Error; err != nil {
		return fmt.Errorf("audit: record %s: %w", e.Action, err)
	}
	return nil
}

// RowFields records one entry per changed row field. Status changes are
// logged as row_status_change, everything else as row_update.
func (r *Recorder) RowFields(row models.Row, oldFields, newFields map[string]string) error {
	for _, f := range snapshot.ContentFields {
		nv, ok := newFields[f]
		if !ok {
			continue
		}
		ov := oldFields[f]
		if ov == nv {
			continue
		}
		e := Entry{
			Action:  ActionRowUpdate,
			RowID:   row.ID,
			PhaseID: row.PhaseID,
			Details: map[string]any{
				"row_id":    row.ID,
				"field":     f,
				"old_value": map[string]string{f: ov},
				"new_value": map[string]string{f: nv},
			},
		}
		if f == "status" {
			e.Action = ActionRowStatus
			e.Details["old_status"] = ov
			e.Details["new_status"] = nv
		}
		if err := r.Record(e); err != nil {
			return err
		}
	}
	return nil
}

// Position returns the 1-based display position of a row across the whole
// project: rows of lower-numbered phases come first.
func Position(tx *gorm.DB, projectID uint, rowID uint) (int, error) {
	table, err := snapshot.Load(tx, projectID)
	if err != nil {
		return 0, err
	}
	pos := 0
	for _, p := range table {
		for _, r := range p.Rows {
			pos++
			if r.ID == int64(rowID) {
				return pos, nil
			}
		}
	}
	return 0, fmt.Errorf("audit: row %d not in project %d", rowID, projectID)
}
