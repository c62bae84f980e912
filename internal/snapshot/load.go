package snapshot

import (
	"fmt"

	"github.com/zulandar/conductor/internal/models"
	"gorm.io/gorm"
)

// RowOrder is the display order of rows within a phase.
const RowOrder = "last_modified ASC, id ASC"

// Load reads the project's phases and rows in display order.
func Load(db *gorm.DB, projectID uint) (Table, error) {
	var phases []models.Phase
	if err := db.Where("project_id = ?", projectID).Order("phase_number ASC").Find(&phases).Error; err != nil {
		return nil, fmt.Errorf("snapshot: load phases for project %d: %w", projectID, err)
	}
	if len(phases) == 0 {
		return Table{}, nil
	}

	ids := make([]uint, len(phases))
	for i, p := range phases {
		ids[i] = p.ID
	}
	var rows []models.Row
	if err := db.Where("phase_id IN ?", ids).Order(RowOrder).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("snapshot: load rows for project %d: %w", projectID, err)
	}
	byPhase := make(map[uint][]Row, len(phases))
	for _, r := range rows {
		byPhase[r.PhaseID] = append(byPhase[r.PhaseID], FromModel(r))
	}

	table := make(Table, 0, len(phases))
	for _, p := range phases {
		table = append(table, Phase{
			Phase:    p.PhaseNumber,
			IsActive: p.IsActive,
			Rows:     append([]Row{}, byPhase[p.ID]...),
		})
	}
	return table, nil
}

// LoadRoles returns the project's role names in insertion order.
func LoadRoles(db *gorm.DB, projectID uint) ([]string, error) {
	var roles []models.ProjectRole
	if err := db.Where("project_id = ?", projectID).Order("id ASC").Find(&roles).Error; err != nil {
		return nil, fmt.Errorf("snapshot: load roles for project %d: %w", projectID, err)
	}
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.RoleName
	}
	return names, nil
}

// LoadScripts returns the project's periodic scripts.
func LoadScripts(db *gorm.DB, projectID uint) ([]Script, error) {
	var scripts []models.PeriodicScript
	if err := db.Where("project_id = ?", projectID).Order("id ASC").Find(&scripts).Error; err != nil {
		return nil, fmt.Errorf("snapshot: load scripts for project %d: %w", projectID, err)
	}
	out := make([]Script, len(scripts))
	for i, s := range scripts {
		out[i] = Script{ID: int64(s.ID), Name: s.Name, Path: s.Path, Status: s.Status}
	}
	return out, nil
}

// LoadState reads everything of the project the diff engine compares.
func LoadState(db *gorm.DB, project *models.Project) (State, error) {
	table, err := Load(db, project.ID)
	if err != nil {
		return State{}, err
	}
	roles, err := LoadRoles(db, project.ID)
	if err != nil {
		return State{}, err
	}
	scripts, err := LoadScripts(db, project.ID)
	if err != nil {
		return State{}, err
	}
	return State{Version: project.Version, Table: table, Roles: roles, Scripts: scripts}, nil
}
