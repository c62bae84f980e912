// Package runbook performs durable mutations of projects: manager edits,
// application of accepted changes, imports and script results. Every
// mutation is logged through the audit package in the same transaction.
package runbook

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/conductor/internal/audit"
	"github.com/zulandar/conductor/internal/diff"
	"github.com/zulandar/conductor/internal/models"
	"github.com/zulandar/conductor/internal/ordering"
	"github.com/zulandar/conductor/internal/snapshot"
	"gorm.io/gorm"
)

// Store is the entry point for direct project mutations.
type Store struct {
	DB        *gorm.DB
	Order     *ordering.Maintainer
	Threshold int64
	Now       func() time.Time
}

// New returns a Store with the wall clock.
func New(db *gorm.DB, order *ordering.Maintainer, threshold int64) *Store {
	return &Store{DB: db, Order: order, Threshold: threshold, Now: time.Now}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Within runs fn with an Applier for the project inside one transaction.
func (s *Store) Within(projectID uint, actor audit.Actor, fn func(a *Applier) error) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		project, err := loadProject(tx, projectID)
		if err != nil {
			return err
		}
		return fn(NewApplier(tx, project, actor, s.Order, s.now()))
	})
}

func loadProject(tx *gorm.DB, id uint) (*models.Project, error) {
	var project models.Project
	err := tx.First(&project, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("runbook: project %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("runbook: load project %d: %w", id, err)
	}
	return &project, nil
}

// Project returns a project by id.
func (s *Store) Project(id uint) (*models.Project, error) {
	return loadProject(s.DB, id)
}

// Projects lists all projects by name.
func (s *Store) Projects() ([]models.Project, error) {
	var projects []models.Project
	if err := s.DB.Order("name ASC").Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("runbook: list projects: %w", err)
	}
	return projects, nil
}

// Table returns the project's phases and rows in display order.
func (s *Store) Table(projectID uint) (snapshot.Table, error) {
	if _, err := s.Project(projectID); err != nil {
		return nil, err
	}
	return snapshot.Load(s.DB, projectID)
}

// ImportRow is one row of an imported runbook.
type ImportRow struct {
	Phase       int    `json:"phase"`
	Role        string `json:"role"`
	Time        string `json:"time"`
	Duration    string `json:"duration"`
	Description string `json:"description"`
	Script      string `json:"script"`
	Status      string `json:"status"`
}

// ImportInput describes a project to create from a flat row list.
type ImportInput struct {
	Name        string      `json:"name"`
	Version     string      `json:"version"`
	ManagerRole string      `json:"manager_role"`
	Rows        []ImportRow `json:"rows"`
}

// Import creates a project from a flat list of rows. Rows without a phase
// are skipped; phases and roles are derived from the rows. The manager
// role is always a project role.
func (s *Store) Import(in ImportInput, actor audit.Actor) (*models.Project, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, fmt.Errorf("runbook: project name is required: %w", ErrInvalid)
	}
	if in.Version == "" {
		in.Version = "v1.0.0"
	}
	if in.ManagerRole == "" {
		in.ManagerRole = "Manager"
	}

	var project models.Project
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Project{}).Where("name = ?", in.Name).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("runbook: project %q already exists: %w", in.Name, ErrConflict)
		}
		project = models.Project{Name: in.Name, Version: in.Version, ManagerRole: in.ManagerRole}
		if err := tx.Create(&project).Error; err != nil {
			return fmt.Errorf("runbook: create project: %w", err)
		}

		roles := []string{in.ManagerRole}
		seenRole := map[string]bool{in.ManagerRole: true}
		phases := map[int]uint{}
		base := s.now()
		imported := 0
		for _, ir := range in.Rows {
			if ir.Phase <= 0 {
				continue
			}
			phaseID, ok := phases[ir.Phase]
			if !ok {
				ph := models.Phase{ProjectID: project.ID, PhaseNumber: ir.Phase}
				if err := tx.Create(&ph).Error; err != nil {
					return fmt.Errorf("runbook: create phase %d: %w", ir.Phase, err)
				}
				phaseID = ph.ID
				phases[ir.Phase] = ph.ID
			}
			row, err := newRow(phaseID, snapshot.Row{
				Role:        strings.TrimSpace(ir.Role),
				Time:        ir.Time,
				Duration:    ir.Duration,
				Description: ir.Description,
				Script:      ir.Script,
				Status:      ir.Status,
			})
			if err != nil {
				return err
			}
			row.LastModified = base.Add(time.Duration(imported) * s.Order.Step)
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("runbook: import row: %w", err)
			}
			imported++
			if !seenRole[row.Role] {
				seenRole[row.Role] = true
				roles = append(roles, row.Role)
			}
		}
		for _, r := range roles {
			if err := tx.Create(&models.ProjectRole{ProjectID: project.ID, RoleName: r}).Error; err != nil {
				return fmt.Errorf("runbook: create role %q: %w", r, err)
			}
		}
		return audit.NewRecorder(tx, &project, actor, s.now()).Record(audit.Entry{
			Action: audit.ActionProjectImport,
			Details: map[string]any{
				"rows_count":   imported,
				"phases_count": len(phases),
				"roles":        roles,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// DeleteProject removes a project and everything it owns.
func (s *Store) DeleteProject(id uint) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		if _, err := loadProject(tx, id); err != nil {
			return err
		}
		phaseIDs := tx.Model(&models.Phase{}).Select("id").Where("project_id = ?", id)
		if err := tx.Where("phase_id IN (?)", phaseIDs).Delete(&models.Row{}).Error; err != nil {
			return fmt.Errorf("runbook: delete rows of project %d: %w", id, err)
		}
		for _, m := range []interface{}{
			&models.Phase{}, &models.ProjectRole{}, &models.PeriodicScript{},
			&models.User{}, &models.PendingChange{}, &models.ActionLog{},
		} {
			if err := tx.Where("project_id = ?", id).Delete(m).Error; err != nil {
				return fmt.Errorf("runbook: delete %T of project %d: %w", m, id, err)
			}
		}
		if err := tx.Delete(&models.Project{}, id).Error; err != nil {
			return fmt.Errorf("runbook: delete project %d: %w", id, err)
		}
		return nil
	})
}

// Login records that a user joined a project under a role. The role must
// be one of the project's roles.
func (s *Store) Login(projectID uint, name, role string) (*models.User, error) {
	name, role = strings.TrimSpace(name), strings.TrimSpace(role)
	if name == "" || role == "" {
		return nil, fmt.Errorf("runbook: user name and role are required: %w", ErrInvalid)
	}
	var user models.User
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if _, err := loadProject(tx, projectID); err != nil {
			return err
		}
		var n int64
		if err := tx.Model(&models.ProjectRole{}).Where("project_id = ? AND role_name = ?", projectID, role).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("runbook: role %q is not defined for project %d: %w", role, projectID, ErrInvalid)
		}
		now := s.now()
		err := tx.Where("project_id = ? AND name = ?", projectID, name).First(&user).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			user = models.User{ProjectID: projectID, Name: name, Role: role, LastLogin: &now}
			return tx.Create(&user).Error
		case err != nil:
			return err
		}
		user.Role = role
		user.LastLogin = &now
		return tx.Save(&user).Error
	})
	if err != nil {
		return nil, fmt.Errorf("runbook: login %q: %w", name, err)
	}
	return &user, nil
}

// SaveTable applies a manager's edited table directly: the difference to
// the stored state is computed and every change applied at once, then row
// order is reconciled with the table.
func (s *Store) SaveTable(projectID uint, p diff.Proposal, ops diff.Ops, actor audit.Actor) (snapshot.Table, []Outcome, error) {
	var (
		table    snapshot.Table
		outcomes []Outcome
	)
	err := s.Within(projectID, actor, func(a *Applier) error {
		old, err := snapshot.LoadState(a.tx, a.project)
		if err != nil {
			return err
		}
		changes := diff.Compute(old, p, ops, diff.Options{EphemeralThreshold: s.Threshold})
		if p.Table != nil {
			a.FollowSnapshot()
		}
		structural := false
		for _, c := range changes {
			if c.Type.Internal() {
				continue
			}
			structural = structural || c.Type.Structural()
			out, err := a.Apply(c)
			if err != nil {
				return err
			}
			if out.TempID != 0 && out.RowID != 0 {
				p.Table.ReplaceID(out.TempID, int64(out.RowID))
			}
			outcomes = append(outcomes, out)
		}
		if structural && p.Table != nil {
			table, err = a.Reconcile(p.Table, s.Threshold)
			return err
		}
		table, err = snapshot.Load(a.tx, projectID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return table, outcomes, nil
}

// ResetStatuses sets every row to N/A and starts a new log epoch.
func (s *Store) ResetStatuses(projectID uint, actor audit.Actor) (*audit.ResetResult, error) {
	if _, err := s.Project(projectID); err != nil {
		return nil, err
	}
	return audit.ResetStatuses(s.DB, projectID, actor, s.now())
}
