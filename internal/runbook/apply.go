package runbook

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/conductor/internal/audit"
	"github.com/zulandar/conductor/internal/diff"
	"github.com/zulandar/conductor/internal/models"
	"github.com/zulandar/conductor/internal/ordering"
	"github.com/zulandar/conductor/internal/snapshot"
	"gorm.io/gorm"
)

// Outcome describes what applying one change did.
type Outcome struct {
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
	RowID   uint   `json:"row_id,omitempty"`
	TempID  int64  `json:"temp_id,omitempty"`
}

func skip(format string, args ...any) Outcome {
	return Outcome{Skipped: true, Reason: fmt.Sprintf(format, args...)}
}

// Applier applies changes to one project inside one transaction and logs
// each mutation.
type Applier struct {
	tx      *gorm.DB
	project *models.Project
	rec     *audit.Recorder
	order   *ordering.Maintainer

	snapshotOrder bool
}

// NewApplier returns an Applier. project must have been read inside tx.
func NewApplier(tx *gorm.DB, project *models.Project, actor audit.Actor, order *ordering.Maintainer, now time.Time) *Applier {
	return &Applier{
		tx:      tx,
		project: project,
		rec:     audit.NewRecorder(tx, project, actor, now),
		order:   order,
	}
}

// FollowSnapshot tells the applier that row order will be rebuilt from a
// table snapshot with Reconcile. Moves then only change a row's phase and
// copies are appended; stored target indexes are ignored.
func (a *Applier) FollowSnapshot() { a.snapshotOrder = true }

// Recorder exposes the audit recorder used by the applier.
func (a *Applier) Recorder() *audit.Recorder { return a.rec }

// Apply applies a single change. Changes whose target no longer exists are
// skipped; a move or copy into a phase that no longer exists is a conflict.
func (a *Applier) Apply(c diff.Change) (Outcome, error) {
	switch p := c.Payload.(type) {
	case diff.Version:
		return a.setVersion(p.NewVersion)
	case diff.PhaseAdd:
		return a.addPhase(p.PhaseNumber, p.IsActive)
	case diff.PhaseDelete:
		return a.deletePhase(p.PhaseNumber)
	case diff.RowAdd:
		return a.addRow(p)
	case diff.RowUpdate:
		row, err := a.findRow(uint(p.RowID))
		if errors.Is(err, ErrNotFound) {
			return skip("row %d no longer exists", p.RowID), nil
		}
		if err != nil {
			return Outcome{}, err
		}
		return a.updateRow(row, p.NewFields, nil)
	case diff.RowDelete:
		return a.deleteRow(uint(p.RowID))
	case diff.RowMove:
		return a.moveRow(p)
	case diff.RowDuplicate:
		return a.duplicateRow(p)
	case diff.Role:
		if c.Type == diff.TypeRoleDelete {
			return a.deleteRole(p.Role)
		}
		return a.addRole(p.Role)
	case diff.ScriptAdd:
		return a.addScript(p.Script)
	case diff.ScriptUpdate:
		return a.updateScript(uint(p.ScriptID), p.NewFields)
	case diff.ScriptDelete:
		return a.deleteScript(uint(p.ScriptID))
	case diff.TableData:
		return skip("table_data is applied through reconciliation"), nil
	}
	return Outcome{}, fmt.Errorf("runbook: apply %s: unsupported payload %T", c.Type, c.Payload)
}

func (a *Applier) setVersion(version string) (Outcome, error) {
	if version == "" {
		return Outcome{}, fmt.Errorf("runbook: version is required: %w", ErrInvalid)
	}
	old := a.project.Version
	if old == version {
		return skip("version already %s", version), nil
	}
	if err := a.tx.Model(&models.Project{}).Where("id = ?", a.project.ID).Update("version", version).Error; err != nil {
		return Outcome{}, fmt.Errorf("runbook: set version: %w", err)
	}
	a.project.Version = version
	return Outcome{}, a.rec.Record(audit.Entry{
		Action:  audit.ActionVersionChange,
		Details: map[string]any{"old_version": old, "new_version": version},
	})
}

func (a *Applier) findPhase(number int) (*models.Phase, error) {
	var phase models.Phase
	err := a.tx.Where("project_id = ? AND phase_number = ?", a.project.ID, number).First(&phase).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("runbook: phase %d: %w", number, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("runbook: find phase %d: %w", number, err)
	}
	return &phase, nil
}

func (a *Applier) addPhase(number int, active bool) (Outcome, error) {
	if number <= 0 {
		return Outcome{}, fmt.Errorf("runbook: phase number %d: %w", number, ErrInvalid)
	}
	if _, err := a.findPhase(number); err == nil {
		return skip("phase %d already exists", number), nil
	} else if !errors.Is(err, ErrNotFound) {
		return Outcome{}, err
	}
	_, err := a.createPhase(number, active)
	return Outcome{}, err
}

func (a *Applier) createPhase(number int, active bool) (*models.Phase, error) {
	phase := models.Phase{ProjectID: a.project.ID, PhaseNumber: number, IsActive: active}
	if err := a.tx.Create(&phase).Error; err != nil {
		return nil, fmt.Errorf("runbook: create phase %d: %w", number, err)
	}
	err := a.rec.Record(audit.Entry{
		Action:  audit.ActionPhaseAdd,
		PhaseID: phase.ID,
		Details: map[string]any{"phase_number": number, "is_active": active},
	})
	return &phase, err
}

// ensurePhase returns the phase with the given number, creating it first
// if needed.
func (a *Applier) ensurePhase(number int) (*models.Phase, error) {
	phase, err := a.findPhase(number)
	if errors.Is(err, ErrNotFound) {
		return a.createPhase(number, false)
	}
	return phase, err
}

func (a *Applier) deletePhase(number int) (Outcome, error) {
	phase, err := a.findPhase(number)
	if errors.Is(err, ErrNotFound) {
		return skip("phase %d no longer exists", number), nil
	}
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{}, a.removePhase(phase)
}

func (a *Applier) removePhase(phase *models.Phase) error {
	rows := a.tx.Where("phase_id = ?", phase.ID).Delete(&models.Row{})
	if rows.Error != nil {
		return fmt.Errorf("runbook: delete rows of phase %d: %w", phase.PhaseNumber, rows.Error)
	}
	if err := a.tx.Delete(&models.Phase{}, phase.ID).Error; err != nil {
		return fmt.Errorf("runbook: delete phase %d: %w", phase.PhaseNumber, err)
	}
	return a.rec.Record(audit.Entry{
		Action:  audit.ActionPhaseDelete,
		PhaseID: phase.ID,
		Details: map[string]any{"phase_number": phase.PhaseNumber, "rows_count": rows.RowsAffected},
	})
}

// findRow loads a row of this project.
func (a *Applier) findRow(id uint) (models.Row, error) {
	var row models.Row
	err := a.tx.First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return row, fmt.Errorf("runbook: row %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return row, fmt.Errorf("runbook: find row %d: %w", id, err)
	}
	var n int64
	if err := a.tx.Model(&models.Phase{}).Where("id = ? AND project_id = ?", row.PhaseID, a.project.ID).Count(&n).Error; err != nil {
		return row, fmt.Errorf("runbook: find row %d: %w", id, err)
	}
	if n == 0 {
		return row, fmt.Errorf("runbook: row %d: %w", id, ErrNotFound)
	}
	return row, nil
}

func (a *Applier) phaseNumber(phaseID uint) int {
	var phase models.Phase
	if err := a.tx.Select("phase_number").First(&phase, phaseID).Error; err != nil {
		return 0
	}
	return phase.PhaseNumber
}

// newRow builds a stored row from client content, filling defaults.
func newRow(phaseID uint, content snapshot.Row) (models.Row, error) {
	r := models.Row{
		PhaseID:      phaseID,
		Role:         content.Role,
		Time:         content.Time,
		Duration:     content.Duration,
		Description:  content.Description,
		Script:       content.Script,
		Status:       content.Status,
		ScriptResult: content.ScriptResult,
	}
	if r.Role == "" {
		r.Role = models.DefaultRowRole
	}
	if r.Time == "" {
		r.Time = models.DefaultRowTime
	}
	if r.Duration == "" {
		r.Duration = models.DefaultRowDuration
	}
	if r.Status == "" {
		r.Status = models.StatusNA
	}
	if !validStatus(r.Status) {
		return r, fmt.Errorf("runbook: status %q: %w", r.Status, ErrInvalid)
	}
	return r, nil
}

func validStatus(s string) bool {
	switch s {
	case models.StatusNA, models.StatusPassed, models.StatusFailed:
		return true
	}
	return false
}

func (a *Applier) addRow(p diff.RowAdd) (Outcome, error) {
	if p.PhaseNumber <= 0 {
		return Outcome{}, fmt.Errorf("runbook: row without phase: %w", ErrInvalid)
	}
	phase, err := a.ensurePhase(p.PhaseNumber)
	if err != nil {
		return Outcome{}, err
	}
	row, err := newRow(phase.ID, p.Row)
	if err != nil {
		return Outcome{}, err
	}
	if row.LastModified, err = a.order.Latest(a.tx, phase.ID); err != nil {
		return Outcome{}, err
	}
	if err := a.tx.Create(&row).Error; err != nil {
		return Outcome{}, fmt.Errorf("runbook: create row: %w", err)
	}
	pos, err := audit.Position(a.tx, a.project.ID, row.ID)
	if err != nil {
		return Outcome{}, err
	}
	err = a.rec.Record(audit.Entry{
		Action:  audit.ActionRowAdd,
		RowID:   row.ID,
		PhaseID: phase.ID,
		Details: map[string]any{
			"row_id":       row.ID,
			"phase_number": p.PhaseNumber,
			"position":     pos,
			"role":         row.Role,
			"description":  row.Description,
		},
	})
	return Outcome{RowID: row.ID, TempID: p.TempID}, err
}

// scriptResultPatch sets or clears a row's script result.
type scriptResultPatch struct {
	value *bool
}

var columnOf = map[string]string{
	"role":        "role",
	"time":        "time",
	"duration":    "duration",
	"description": "description",
	"script":      "script",
	"status":      "status",
}

// updateRow writes the given content fields (and optionally the script
// result), stamps order according to the fields that actually changed, and
// logs one entry per field.
func (a *Applier) updateRow(row models.Row, fields map[string]string, result *scriptResultPatch) (Outcome, error) {
	current := snapshot.FromModel(row)
	updates := map[string]interface{}{}
	oldFields := map[string]string{}
	newFields := map[string]string{}
	var columns []string
	for _, f := range snapshot.ContentFields {
		nv, ok := fields[f]
		if !ok || current.Field(f) == nv {
			continue
		}
		if f == "status" && !validStatus(nv) {
			return Outcome{}, fmt.Errorf("runbook: status %q: %w", nv, ErrInvalid)
		}
		updates[columnOf[f]] = nv
		columns = append(columns, columnOf[f])
		oldFields[f] = current.Field(f)
		newFields[f] = nv
	}
	if result != nil && !sameResult(row.ScriptResult, result.value) {
		updates["script_result"] = result.value
		columns = append(columns, "script_result")
	}
	if len(updates) == 0 {
		return skip("row %d already up to date", row.ID), nil
	}

	stamp, err := a.order.Stamp(a.tx, row, columns)
	if err != nil {
		return Outcome{}, err
	}
	updates["last_modified"] = stamp
	if err := a.tx.Model(&models.Row{}).Where("id = ?", row.ID).UpdateColumns(updates).Error; err != nil {
		return Outcome{}, fmt.Errorf("runbook: update row %d: %w", row.ID, err)
	}
	return Outcome{RowID: row.ID}, a.rec.RowFields(row, oldFields, newFields)
}

func sameResult(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (a *Applier) deleteRow(id uint) (Outcome, error) {
	row, err := a.findRow(id)
	if errors.Is(err, ErrNotFound) {
		return skip("row %d no longer exists", id), nil
	}
	if err != nil {
		return Outcome{}, err
	}
	pos, err := audit.Position(a.tx, a.project.ID, row.ID)
	if err != nil {
		return Outcome{}, err
	}
	if err := a.tx.Delete(&models.Row{}, row.ID).Error; err != nil {
		return Outcome{}, fmt.Errorf("runbook: delete row %d: %w", row.ID, err)
	}
	return Outcome{RowID: row.ID}, a.rec.Record(audit.Entry{
		Action:  audit.ActionRowDelete,
		RowID:   row.ID,
		PhaseID: row.PhaseID,
		Details: map[string]any{
			"row_id":       row.ID,
			"phase_number": a.phaseNumber(row.PhaseID),
			"position":     pos,
			"role":         row.Role,
			"description":  row.Description,
		},
	})
}

// placeAt puts row at index within phase and resequences the phase.
func (a *Applier) placeAt(rowID uint, phaseID uint, index int) error {
	var rows []models.Row
	if err := a.tx.Where("phase_id = ? AND id <> ?", phaseID, rowID).Order(snapshot.RowOrder).Find(&rows).Error; err != nil {
		return fmt.Errorf("runbook: load phase rows: %w", err)
	}
	index = max(0, min(index, len(rows)))
	ids := make([]uint, 0, len(rows)+1)
	for i, r := range rows {
		if i == index {
			ids = append(ids, rowID)
		}
		ids = append(ids, r.ID)
	}
	if index == len(rows) {
		ids = append(ids, rowID)
	}
	return a.order.Resequence(a.tx, map[uint][]uint{phaseID: ids})
}

func (a *Applier) moveRow(p diff.RowMove) (Outcome, error) {
	row, err := a.findRow(uint(p.RowID))
	if errors.Is(err, ErrNotFound) {
		return skip("row %d no longer exists", p.RowID), nil
	}
	if err != nil {
		return Outcome{}, err
	}
	target, err := a.findPhase(p.TargetPhase)
	if errors.Is(err, ErrNotFound) {
		return Outcome{}, fmt.Errorf("runbook: move row %d to phase %d: %w", p.RowID, p.TargetPhase, ErrConflict)
	}
	if err != nil {
		return Outcome{}, err
	}
	if target.ID != row.PhaseID {
		if err := a.tx.Model(&models.Row{}).Where("id = ?", row.ID).UpdateColumn("phase_id", target.ID).Error; err != nil {
			return Outcome{}, fmt.Errorf("runbook: move row %d: %w", row.ID, err)
		}
	}
	if !a.snapshotOrder {
		if err := a.placeAt(row.ID, target.ID, p.TargetIndex); err != nil {
			return Outcome{}, err
		}
	}
	return Outcome{RowID: row.ID}, a.rec.Record(audit.Entry{
		Action:  audit.ActionRowMove,
		RowID:   row.ID,
		PhaseID: target.ID,
		Details: map[string]any{
			"row_id":       row.ID,
			"source_phase": p.SourcePhase,
			"target_phase": p.TargetPhase,
			"source_index": p.SourceIndex,
			"target_index": p.TargetIndex,
		},
	})
}

func (a *Applier) duplicateRow(p diff.RowDuplicate) (Outcome, error) {
	target, err := a.findPhase(p.TargetPhase)
	if errors.Is(err, ErrNotFound) {
		return Outcome{}, fmt.Errorf("runbook: copy row %d to phase %d: %w", p.SourceRowID, p.TargetPhase, ErrConflict)
	}
	if err != nil {
		return Outcome{}, err
	}
	content := p.Row
	if src, err := a.findRow(uint(p.SourceRowID)); err == nil {
		content = snapshot.FromModel(src)
	} else if !errors.Is(err, ErrNotFound) {
		return Outcome{}, err
	}
	content.Status = models.StatusNA
	content.ScriptResult = nil

	row, err := newRow(target.ID, content)
	if err != nil {
		return Outcome{}, err
	}
	if row.LastModified, err = a.order.Latest(a.tx, target.ID); err != nil {
		return Outcome{}, err
	}
	if err := a.tx.Create(&row).Error; err != nil {
		return Outcome{}, fmt.Errorf("runbook: copy row %d: %w", p.SourceRowID, err)
	}
	if !a.snapshotOrder {
		if err := a.placeAt(row.ID, target.ID, p.TargetIndex); err != nil {
			return Outcome{}, err
		}
	}
	pos, err := audit.Position(a.tx, a.project.ID, row.ID)
	if err != nil {
		return Outcome{}, err
	}
	err = a.rec.Record(audit.Entry{
		Action:  audit.ActionRowDuplicate,
		RowID:   row.ID,
		PhaseID: target.ID,
		Details: map[string]any{
			"source_row_id": p.SourceRowID,
			"new_row_id":    row.ID,
			"phase_number":  p.TargetPhase,
			"position":      pos,
		},
	})
	return Outcome{RowID: row.ID, TempID: p.NewTempID}, err
}

func (a *Applier) addRole(name string) (Outcome, error) {
	if name == "" {
		return Outcome{}, fmt.Errorf("runbook: role name is required: %w", ErrInvalid)
	}
	var n int64
	if err := a.tx.Model(&models.ProjectRole{}).Where("project_id = ? AND role_name = ?", a.project.ID, name).Count(&n).Error; err != nil {
		return Outcome{}, fmt.Errorf("runbook: find role %q: %w", name, err)
	}
	if n > 0 {
		return skip("role %q already exists", name), nil
	}
	if err := a.tx.Create(&models.ProjectRole{ProjectID: a.project.ID, RoleName: name}).Error; err != nil {
		return Outcome{}, fmt.Errorf("runbook: add role %q: %w", name, err)
	}
	return Outcome{}, a.rec.Record(audit.Entry{Action: audit.ActionRoleAdd, Details: map[string]any{"role": name}})
}

func (a *Applier) deleteRole(name string) (Outcome, error) {
	if name == a.project.ManagerRole {
		return skip("the manager role cannot be removed"), nil
	}
	res := a.tx.Where("project_id = ? AND role_name = ?", a.project.ID, name).Delete(&models.ProjectRole{})
	if res.Error != nil {
		return Outcome{}, fmt.Errorf("runbook: delete role %q: %w", name, res.Error)
	}
	if res.RowsAffected == 0 {
		return skip("role %q no longer exists", name), nil
	}
	return Outcome{}, a.rec.Record(audit.Entry{Action: audit.ActionRoleDelete, Details: map[string]any{"role": name}})
}

func (a *Applier) findScript(id uint) (*models.PeriodicScript, error) {
	var s models.PeriodicScript
	err := a.tx.Where("id = ? AND project_id = ?", id, a.project.ID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("runbook: script %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("runbook: find script %d: %w", id, err)
	}
	return &s, nil
}

func (a *Applier) addScript(s snapshot.Script) (Outcome, error) {
	if s.Name == "" || s.Path == "" {
		return Outcome{}, fmt.Errorf("runbook: script name and path are required: %w", ErrInvalid)
	}
	ps := models.PeriodicScript{ProjectID: a.project.ID, Name: s.Name, Path: s.Path}
	if err := a.tx.Create(&ps).Error; err != nil {
		return Outcome{}, fmt.Errorf("runbook: add script %q: %w", s.Name, err)
	}
	return Outcome{}, a.rec.Record(audit.Entry{
		Action:  audit.ActionScriptAdd,
		Details: map[string]any{"script_id": ps.ID, "name": ps.Name, "path": ps.Path},
	})
}

func (a *Applier) updateScript(id uint, fields map[string]string) (Outcome, error) {
	s, err := a.findScript(id)
	if errors.Is(err, ErrNotFound) {
		return skip("script %d no longer exists", id), nil
	}
	if err != nil {
		return Outcome{}, err
	}
	updates := map[string]interface{}{}
	if v, ok := fields["name"]; ok && v != "" && v != s.Name {
		updates["name"] = v
	}
	if v, ok := fields["path"]; ok && v != "" && v != s.Path {
		updates["path"] = v
	}
	if len(updates) == 0 {
		return skip("script %d already up to date", id), nil
	}
	if err := a.tx.Model(s).Updates(updates).Error; err != nil {
		return Outcome{}, fmt.Errorf("runbook: update script %d: %w", id, err)
	}
	return Outcome{}, a.rec.Record(audit.Entry{
		Action:  audit.ActionScriptUpdate,
		Details: map[string]any{"script_id": id, "changes": updates},
	})
}

func (a *Applier) deleteScript(id uint) (Outcome, error) {
	s, err := a.findScript(id)
	if errors.Is(err, ErrNotFound) {
		return skip("script %d no longer exists", id), nil
	}
	if err != nil {
		return Outcome{}, err
	}
	if err := a.tx.Delete(&models.PeriodicScript{}, s.ID).Error; err != nil {
		return Outcome{}, fmt.Errorf("runbook: delete script %d: %w", id, err)
	}
	return Outcome{}, a.rec.Record(audit.Entry{
		Action:  audit.ActionScriptDelete,
		Details: map[string]any{"script_id": id, "name": s.Name},
	})
}
