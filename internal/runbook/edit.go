package runbook

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zulandar/conductor/internal/audit"
	"github.com/zulandar/conductor/internal/diff"
	"github.com/zulandar/conductor/internal/models"
	"github.com/zulandar/conductor/internal/snapshot"
	"gorm.io/gorm"
)

// SetVersion changes the project version.
func (s *Store) SetVersion(projectID uint, version string, actor audit.Actor) error {
	return s.Within(projectID, actor, func(a *Applier) error {
		_, err := a.setVersion(strings.TrimSpace(version))
		return err
	})
}

// CreatePhase appends a phase numbered one past the highest existing one.
func (s *Store) CreatePhase(projectID uint, actor audit.Actor) (*models.Phase, error) {
	var phase *models.Phase
	err := s.Within(projectID, actor, func(a *Applier) error {
		var highest int
		if err := a.tx.Model(&models.Phase{}).Where("project_id = ?", projectID).
			Select("COALESCE(MAX(phase_number), 0)").Scan(&highest).Error; err != nil {
			return fmt.Errorf("runbook: highest phase: %w", err)
		}
		var err error
		phase, err = a.createPhase(highest+1, false)
		return err
	})
	return phase, err
}

// DeletePhase removes a phase and all of its rows.
func (s *Store) DeletePhase(projectID uint, number int, actor audit.Actor) error {
	return s.Within(projectID, actor, func(a *Applier) error {
		phase, err := a.findPhase(number)
		if err != nil {
			return err
		}
		return a.removePhase(phase)
	})
}

// TogglePhase flips a phase's active flag.
func (s *Store) TogglePhase(projectID uint, number int, actor audit.Actor) (*models.Phase, error) {
	var phase *models.Phase
	err := s.Within(projectID, actor, func(a *Applier) error {
		var err error
		if phase, err = a.findPhase(number); err != nil {
			return err
		}
		phase.IsActive = !phase.IsActive
		if err := a.tx.Model(phase).Update("is_active", phase.IsActive).Error; err != nil {
			return fmt.Errorf("runbook: toggle phase %d: %w", number, err)
		}
		return a.rec.Record(audit.Entry{
			Action:  audit.ActionPhaseActivation,
			PhaseID: phase.ID,
			Details: map[string]any{"phase_number": number, "is_active": phase.IsActive},
		})
	})
	return phase, err
}

// CreateRow appends a row to a phase, creating the phase if needed.
func (s *Store) CreateRow(projectID uint, phaseNumber int, content snapshot.Row, actor audit.Actor) (*models.Row, error) {
	var row models.Row
	err := s.Within(projectID, actor, func(a *Applier) error {
		out, err := a.addRow(diff.RowAdd{PhaseNumber: phaseNumber, Row: content})
		if err != nil {
			return err
		}
		return a.tx.First(&row, out.RowID).Error
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// RowPatch is a partial row update. Nil fields are left alone. ClearResult
// resets the script result to unknown.
type RowPatch struct {
	Role         *string `json:"role"`
	Time         *string `json:"time"`
	Duration     *string `json:"duration"`
	Description  *string `json:"description"`
	Script       *string `json:"script"`
	Status       *string `json:"status"`
	ScriptResult *bool   `json:"scriptResult"`
	ClearResult  bool    `json:"clearResult"`
}

// Fields returns the content fields set by the patch.
func (p RowPatch) Fields() map[string]string {
	fields := map[string]string{}
	for name, v := range map[string]*string{
		"role":        p.Role,
		"time":        p.Time,
		"duration":    p.Duration,
		"description": p.Description,
		"script":      p.Script,
		"status":      p.Status,
	} {
		if v != nil {
			fields[name] = *v
		}
	}
	return fields
}

// StatusOnly reports whether the patch touches nothing but status and
// script result.
func (p RowPatch) StatusOnly() bool {
	return p.Role == nil && p.Time == nil && p.Duration == nil &&
		p.Description == nil && p.Script == nil
}

func (p RowPatch) result() *scriptResultPatch {
	switch {
	case p.ClearResult:
		return &scriptResultPatch{}
	case p.ScriptResult != nil:
		v := *p.ScriptResult
		return &scriptResultPatch{value: &v}
	}
	return nil
}

// UpdateRow applies a patch to a row. Status and script result writes keep
// the row's position; any other field moves it to the end of its phase.
func (s *Store) UpdateRow(projectID, rowID uint, patch RowPatch, actor audit.Actor) (*models.Row, error) {
	var row models.Row
	err := s.Within(projectID, actor, func(a *Applier) error {
		current, err := a.findRow(rowID)
		if err != nil {
			return err
		}
		if _, err := a.updateRow(current, patch.Fields(), patch.result()); err != nil {
			return err
		}
		return a.tx.First(&row, rowID).Error
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// DeleteRow removes a row.
func (s *Store) DeleteRow(projectID, rowID uint, actor audit.Actor) error {
	return s.Within(projectID, actor, func(a *Applier) error {
		out, err := a.deleteRow(rowID)
		if err != nil {
			return err
		}
		if out.Skipped {
			return fmt.Errorf("runbook: row %d: %w", rowID, ErrNotFound)
		}
		return nil
	})
}

// Row returns a row of the project.
func (s *Store) Row(projectID, rowID uint) (*models.Row, error) {
	var row models.Row
	err := s.Within(projectID, audit.Actor{}, func(a *Applier) error {
		var err error
		row, err = a.findRow(rowID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// RecordScriptResult stores the outcome of running a row's script. The
// status follows the result and the row keeps its position.
func (s *Store) RecordScriptResult(projectID, rowID uint, passed bool, output string, actor audit.Actor) (*models.Row, error) {
	var row models.Row
	err := s.Within(projectID, actor, func(a *Applier) error {
		current, err := a.findRow(rowID)
		if err != nil {
			return err
		}
		status := models.StatusFailed
		if passed {
			status = models.StatusPassed
		}
		if _, err := a.updateRow(current, map[string]string{"status": status}, &scriptResultPatch{value: &passed}); err != nil {
			return err
		}
		err = a.rec.Record(audit.Entry{
			Action:       audit.ActionScriptExecution,
			RowID:        current.ID,
			PhaseID:      current.PhaseID,
			ScriptResult: &passed,
			Details: map[string]any{
				"row_id": current.ID,
				"script": current.Script,
				"result": passed,
				"output": output,
			},
		})
		if err != nil {
			return err
		}
		return a.tx.First(&row, rowID).Error
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Roles lists the project's roles by name.
func (s *Store) Roles(projectID uint) ([]string, error) {
	if _, err := s.Project(projectID); err != nil {
		return nil, err
	}
	return snapshot.LoadRoles(s.DB, projectID)
}

// AddRole adds a role to the project.
func (s *Store) AddRole(projectID uint, name string, actor audit.Actor) error {
	return s.Within(projectID, actor, func(a *Applier) error {
		out, err := a.addRole(strings.TrimSpace(name))
		if err == nil && out.Skipped {
			return fmt.Errorf("runbook: %s: %w", out.Reason, ErrConflict)
		}
		return err
	})
}

// DeleteRole removes a role. The manager role cannot be removed.
func (s *Store) DeleteRole(projectID uint, name string, actor audit.Actor) error {
	return s.Within(projectID, actor, func(a *Applier) error {
		if name == a.project.ManagerRole {
			return fmt.Errorf("runbook: manager role %q cannot be removed: %w", name, ErrInvalid)
		}
		out, err := a.deleteRole(name)
		if err == nil && out.Skipped {
			return fmt.Errorf("runbook: role %q: %w", name, ErrNotFound)
		}
		return err
	})
}

// Scripts lists the project's periodic scripts.
func (s *Store) Scripts(projectID uint) ([]models.PeriodicScript, error) {
	var scripts []models.PeriodicScript
	if err := s.DB.Where("project_id = ?", projectID).Order("id ASC").Find(&scripts).Error; err != nil {
		return nil, fmt.Errorf("runbook: list scripts: %w", err)
	}
	return scripts, nil
}

// AllScripts lists every periodic script of every project.
func (s *Store) AllScripts() ([]models.PeriodicScript, error) {
	var scripts []models.PeriodicScript
	if err := s.DB.Order("project_id ASC, id ASC").Find(&scripts).Error; err != nil {
		return nil, fmt.Errorf("runbook: list all scripts: %w", err)
	}
	return scripts, nil
}

// SaveScripts replaces the project's periodic script list. The list is
// diffed against the stored one and every resulting change applied in one
// transaction; entries without a known id are added, missing ones deleted.
func (s *Store) SaveScripts(projectID uint, scripts []snapshot.Script, actor audit.Actor) ([]models.PeriodicScript, []Outcome, error) {
	if scripts == nil {
		return nil, nil, fmt.Errorf("runbook: scripts list is required: %w", ErrInvalid)
	}
	proposed := make([]snapshot.Script, len(scripts))
	for i, sc := range scripts {
		proposed[i] = snapshot.Script{ID: sc.ID, Name: strings.TrimSpace(sc.Name), Path: strings.TrimSpace(sc.Path)}
	}

	var (
		saved    []models.PeriodicScript
		outcomes []Outcome
	)
	err := s.Within(projectID, actor, func(a *Applier) error {
		old, err := snapshot.LoadState(a.tx, a.project)
		if err != nil {
			return err
		}
		for _, c := range diff.Compute(old, diff.Proposal{Scripts: proposed}, diff.Ops{}, diff.Options{EphemeralThreshold: s.Threshold}) {
			out, err := a.Apply(c)
			if err != nil {
				return err
			}
			outcomes = append(outcomes, out)
		}
		if err := a.tx.Where("project_id = ?", projectID).Order("id ASC").Find(&saved).Error; err != nil {
			return fmt.Errorf("runbook: list scripts: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return saved, outcomes, nil
}

// AddScript registers a periodic script.
func (s *Store) AddScript(projectID uint, name, path string, actor audit.Actor) (*models.PeriodicScript, error) {
	var script models.PeriodicScript
	err := s.Within(projectID, actor, func(a *Applier) error {
		if _, err := a.addScript(snapshot.Script{Name: strings.TrimSpace(name), Path: strings.TrimSpace(path)}); err != nil {
			return err
		}
		return a.tx.Where("project_id = ?", projectID).Order("id DESC").First(&script).Error
	})
	if err != nil {
		return nil, err
	}
	return &script, nil
}

// UpdateScript renames or repoints a periodic script.
func (s *Store) UpdateScript(projectID, scriptID uint, name, path string, actor audit.Actor) (*models.PeriodicScript, error) {
	var script *models.PeriodicScript
	err := s.Within(projectID, actor, func(a *Applier) error {
		if _, err := a.findScript(scriptID); err != nil {
			return err
		}
		if _, err := a.updateScript(scriptID, map[string]string{"name": name, "path": path}); err != nil {
			return err
		}
		var err error
		script, err = a.findScript(scriptID)
		return err
	})
	return script, err
}

// DeleteScript removes a periodic script.
func (s *Store) DeleteScript(projectID, scriptID uint, actor audit.Actor) error {
	return s.Within(projectID, actor, func(a *Applier) error {
		if _, err := a.findScript(scriptID); err != nil {
			return err
		}
		_, err := a.deleteScript(scriptID)
		return err
	})
}

// RecordPeriodicResult stores the outcome of a periodic script run.
func (s *Store) RecordPeriodicResult(projectID, scriptID uint, passed bool, output string, actor audit.Actor) (*models.PeriodicScript, error) {
	var script *models.PeriodicScript
	err := s.Within(projectID, actor, func(a *Applier) error {
		var err error
		if script, err = a.findScript(scriptID); err != nil {
			return err
		}
		now := s.now()
		script.Status = passed
		script.LastExecuted = &now
		if err := a.tx.Model(script).Updates(map[string]interface{}{"status": passed, "last_executed": now}).Error; err != nil {
			return fmt.Errorf("runbook: record script %d: %w", scriptID, err)
		}
		return a.rec.Record(audit.Entry{
			Action:       audit.ActionPeriodicScript,
			ScriptResult: &passed,
			Details: map[string]any{
				"script_id": scriptID,
				"name":      script.Name,
				"result":    passed,
				"output":    output,
			},
		})
	})
	return script, err
}

// ProjectOfRow returns the id of the project owning a row.
func (s *Store) ProjectOfRow(rowID uint) (uint, error) {
	var row models.Row
	if err := s.DB.Select("id", "phase_id").First(&row, rowID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("runbook: row %d: %w", rowID, ErrNotFound)
		}
		return 0, fmt.Errorf("runbook: find row %d: %w", rowID, err)
	}
	var phase models.Phase
	if err := s.DB.Select("id", "project_id").First(&phase, row.PhaseID).Error; err != nil {
		return 0, fmt.Errorf("runbook: find phase of row %d: %w", rowID, err)
	}
	return phase.ProjectID, nil
}
