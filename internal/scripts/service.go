package scripts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zulandar/conductor/internal/audit"
	"github.com/zulandar/conductor/internal/models"
	"github.com/zulandar/conductor/internal/notify"
	"github.com/zulandar/conductor/internal/runbook"
)

// SystemActor is recorded for scheduled runs.
var SystemActor = audit.Actor{Name: "scheduler", Role: "system"}

// Service runs scripts and stores their results.
type Service struct {
	Store    *runbook.Store
	Runner   Runner
	Notifier notify.Notifier
	Log      *slog.Logger
}

func (s *Service) notify(ctx context.Context, projectID uint, event string, payload any) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Notify(ctx, notify.ProjectRoom(projectID), event, payload); err != nil {
		s.Log.Warn("notify failed", "project", projectID, "event", event, "error", err)
	}
}

// RunRow executes a row's script and records the result on the row.
func (s *Service) RunRow(ctx context.Context, projectID, rowID uint, actor audit.Actor) (*models.Row, Result, error) {
	row, err := s.Store.Row(projectID, rowID)
	if err != nil {
		return nil, Result{}, err
	}
	if row.Script == "" {
		return nil, Result{}, fmt.Errorf("scripts: row %d has no script: %w", rowID, runbook.ErrInvalid)
	}
	res, err := s.Runner.Run(ctx, row.Script)
	if err != nil {
		return nil, res, err
	}
	row, err = s.Store.RecordScriptResult(projectID, rowID, res.Passed, res.Output, actor)
	if err != nil {
		return nil, res, err
	}
	s.Log.Info("row script executed", "project", projectID, "row", rowID, "passed", res.Passed, "duration", res.Duration)
	s.notify(ctx, projectID, notify.EventDataChanged, notify.DataChanged{ProjectID: projectID, Reason: audit.ActionScriptExecution, UserName: actor.Name})
	return row, res, nil
}

// RunPeriodic executes one periodic script and records the result.
func (s *Service) RunPeriodic(ctx context.Context, projectID, scriptID uint, actor audit.Actor) (*models.PeriodicScript, Result, error) {
	project, err := s.Store.Project(projectID)
	if err != nil {
		return nil, Result{}, err
	}
	var script *models.PeriodicScript
	scripts, err := s.Store.Scripts(projectID)
	if err != nil {
		return nil, Result{}, err
	}
	for i := range scripts {
		if scripts[i].ID == scriptID {
			script = &scripts[i]
		}
	}
	if script == nil {
		return nil, Result{}, fmt.Errorf("scripts: script %d: %w", scriptID, runbook.ErrNotFound)
	}
	return s.runPeriodic(ctx, project, *script, actor)
}

func (s *Service) runPeriodic(ctx context.Context, project *models.Project, script models.PeriodicScript, actor audit.Actor) (*models.PeriodicScript, Result, error) {
	res, err := s.Runner.Run(ctx, script.Path)
	if err != nil {
		res = Result{Output: err.Error(), ExitCode: -1}
	}
	updated, err := s.Store.RecordPeriodicResult(project.ID, script.ID, res.Passed, res.Output, actor)
	if err != nil {
		return nil, res, err
	}
	s.notify(ctx, project.ID, notify.EventScriptExecuted, notify.ScriptRun{
		ProjectID: project.ID,
		Project:   project.Name,
		ScriptID:  script.ID,
		Name:      script.Name,
		Passed:    res.Passed,
		Output:    res.Output,
	})
	return updated, res, nil
}

// Sweep runs every periodic script of every project once. Failures are
// logged and do not stop the sweep; the number of scripts run is returned.
func (s *Service) Sweep(ctx context.Context) int {
	all, err := s.Store.AllScripts()
	if err != nil {
		s.Log.Error("list periodic scripts", "error", err)
		return 0
	}
	projects := map[uint]*models.Project{}
	ran := 0
	for _, script := range all {
		if ctx.Err() != nil {
			break
		}
		project, ok := projects[script.ProjectID]
		if !ok {
			if project, err = s.Store.Project(script.ProjectID); err != nil {
				s.Log.Error("load project", "project", script.ProjectID, "error", err)
				continue
			}
			projects[script.ProjectID] = project
		}
		_, res, err := s.runPeriodic(ctx, project, script, SystemActor)
		if err != nil {
			s.Log.Error("periodic script", "project", project.ID, "script", script.Name, "error", err)
			continue
		}
		ran++
		s.Log.Debug("periodic script executed", "project", project.ID, "script", script.Name, "passed", res.Passed)
	}
	return ran
}
