package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/conductor/internal/audit"
	"github.com/zulandar/conductor/internal/diff"
	"github.com/zulandar/conductor/internal/models"
	"github.com/zulandar/conductor/internal/notify"
	"github.com/zulandar/conductor/internal/runbook"
	"github.com/zulandar/conductor/internal/snapshot"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Decision is the result of accepting or declining one change.
type Decision struct {
	Change           ChangeView      `json:"change"`
	Outcome          runbook.Outcome `json:"outcome"`
	RemainingPending int64           `json:"remaining_pending"`
	AllProcessed     bool            `json:"all_processed"`
	Table            snapshot.Table  `json:"table_data,omitempty"`
}

// Accept applies a pending change and marks it accepted. If applying
// fails the transaction rolls back and the change stays pending.
func (s *Service) Accept(ctx context.Context, projectID, changeID uint, reviewer string) (*Decision, error) {
	return s.decide(ctx, projectID, changeID, reviewer, models.ChangeAccepted)
}

// Decline marks a pending change declined without touching the project.
func (s *Service) Decline(ctx context.Context, projectID, changeID uint, reviewer string) (*Decision, error) {
	return s.decide(ctx, projectID, changeID, reviewer, models.ChangeDeclined)
}

// AcceptAll accepts every pending change of a submission in order. It
// stops at the first failure and returns the decisions made so far.
func (s *Service) AcceptAll(ctx context.Context, projectID uint, submissionID, reviewer string) ([]Decision, error) {
	return s.decideAll(ctx, projectID, submissionID, reviewer, models.ChangeAccepted)
}

// DeclineAll declines every pending change of a submission.
func (s *Service) DeclineAll(ctx context.Context, projectID uint, submissionID, reviewer string) ([]Decision, error) {
	return s.decideAll(ctx, projectID, submissionID, reviewer, models.ChangeDeclined)
}

func (s *Service) decideAll(ctx context.Context, projectID uint, submissionID, reviewer, status string) ([]Decision, error) {
	if strings.TrimSpace(submissionID) == "" {
		return nil, fmt.Errorf("review: submission id is required: %w", runbook.ErrInvalid)
	}
	var total int64
	if err := s.DB.Model(&models.PendingChange{}).
		Where("project_id = ? AND submission_id = ?", projectID, submissionID).
		Count(&total).Error; err != nil {
		return nil, fmt.Errorf("review: count submission: %w", err)
	}
	if total == 0 {
		return nil, fmt.Errorf("review: submission %s: %w", submissionID, runbook.ErrNotFound)
	}

	var ids []uint
	if err := s.DB.Model(&models.PendingChange{}).
		Where("project_id = ? AND submission_id = ? AND status = ? AND change_type <> ?",
			projectID, submissionID, models.ChangePending, string(diff.TypeTableData)).
		Order("id ASC").Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("review: list submission: %w", err)
	}
	out := make([]Decision, 0, len(ids))
	for _, id := range ids {
		d, err := s.decide(ctx, projectID, id, reviewer, status)
		if err != nil {
			return out, err
		}
		out = append(out, *d)
	}
	return out, nil
}

func (s *Service) decide(ctx context.Context, projectID, changeID uint, reviewer, status string) (*Decision, error) {
	reviewer = strings.TrimSpace(reviewer)
	if reviewer == "" {
		return nil, fmt.Errorf("review: reviewer is required: %w", runbook.ErrInvalid)
	}

	var d Decision
	var project models.Project
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&project, projectID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("review: project %d: %w", projectID, runbook.ErrNotFound)
			}
			return fmt.Errorf("review: load project %d: %w", projectID, err)
		}
		var pc models.PendingChange
		err := tx.Where("id = ? AND project_id = ?", changeID, projectID).First(&pc).Error
		if errors.Is(err, gorm.ErrRecordNotFound) || pc.ChangeType == string(diff.TypeTableData) {
			return fmt.Errorf("review: change %d: %w", changeID, runbook.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("review: load change %d: %w", changeID, err)
		}
		if !isValidTransition(pc.Status, status) {
			return fmt.Errorf("review: change %d is %s: %w", changeID, pc.Status, ErrNotPending)
		}

		change, err := diff.Decode(diff.ChangeType(pc.ChangeType), pc.ChangesData)
		if err != nil {
			return err
		}

		if status == models.ChangeAccepted {
			rec, td, err := loadTableData(tx, projectID, pc.SubmissionID)
			if err != nil {
				return err
			}
			actor := audit.Actor{Name: reviewer, Role: project.ManagerRole}
			a := runbook.NewApplier(tx, &project, actor, s.Order, s.now())
			if rec != nil {
				a.FollowSnapshot()
			}
			out, err := a.Apply(change)
			if err != nil {
				return err
			}
			d.Outcome = out
			if out.Skipped {
				s.log().Debug("accepted change skipped", "change", pc.ID, "reason", out.Reason)
			}
			if rec != nil {
				if d.Table, err = s.followTable(tx, a, rec, td, change.Type, out); err != nil {
					return err
				}
			}
		}

		now := s.now()
		if err := tx.Model(&pc).Updates(map[string]any{
			"status":      status,
			"reviewed_by": reviewer,
			"reviewed_at": now,
		}).Error; err != nil {
			return fmt.Errorf("review: mark change %d %s: %w", pc.ID, status, err)
		}
		pc.Status, pc.ReviewedBy, pc.ReviewedAt = status, reviewer, &now

		if change.Type.Reorders() {
			if err := settleTableData(tx, pc, status, reviewer, now); err != nil {
				return err
			}
		}

		if err := tx.Model(&models.PendingChange{}).
			Where("project_id = ? AND submission_id = ? AND status = ? AND change_type <> ?",
				projectID, pc.SubmissionID, models.ChangePending, string(diff.TypeTableData)).
			Count(&d.RemainingPending).Error; err != nil {
			return fmt.Errorf("review: count remaining: %w", err)
		}
		d.AllProcessed = d.RemainingPending == 0
		if d.AllProcessed {
			if err := finalizeTableData(tx, pc, reviewer, now); err != nil {
				return err
			}
		}
		d.Change = View(pc)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log().Info("change reviewed",
		"project", projectID, "change", changeID, "type", d.Change.ChangeType,
		"status", status, "reviewer", reviewer, "remaining", d.RemainingPending)

	room := notify.ProjectRoom(projectID)
	s.notify(ctx, room, notify.EventPendingUpdated, notify.Reviewed{
		ProjectID:        projectID,
		ChangeID:         changeID,
		SubmissionID:     d.Change.SubmissionID,
		ChangeType:       d.Change.ChangeType,
		Status:           status,
		ReviewedBy:       reviewer,
		RemainingPending: d.RemainingPending,
		AllProcessed:     d.AllProcessed,
	})
	if status == models.ChangeAccepted && !d.Outcome.Skipped {
		s.notify(ctx, room, notify.EventDataChanged, notify.DataChanged{
			ProjectID: projectID,
			Reason:    "change_accepted",
			UserName:  reviewer,
		})
	}
	return &d, nil
}

// followTable keeps the submission's table_data in step with an accepted
// change: new row ids replace the client token, and reordering changes
// rebuild the stored order from it whatever the record's own status.
func (s *Service) followTable(tx *gorm.DB, a *runbook.Applier, rec *models.PendingChange, td diff.TableData, t diff.ChangeType, out runbook.Outcome) (snapshot.Table, error) {
	dirty := false
	if out.TempID != 0 && out.RowID != 0 {
		dirty = td.Table.ReplaceID(out.TempID, int64(out.RowID))
	}
	if !t.Reorders() || out.Skipped {
		if dirty {
			return nil, saveTableData(tx, rec, td)
		}
		return nil, nil
	}
	rebuilt, err := a.Reconcile(td.Table, s.Threshold)
	if err != nil {
		return nil, err
	}
	td.Table = rebuilt
	if err := saveTableData(tx, rec, td); err != nil {
		return nil, err
	}
	return rebuilt, nil
}

func loadTableData(tx *gorm.DB, projectID uint, submissionID string) (*models.PendingChange, diff.TableData, error) {
	var rec models.PendingChange
	err := tx.Where("project_id = ? AND submission_id = ? AND change_type = ?",
		projectID, submissionID, string(diff.TypeTableData)).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, diff.TableData{}, nil
	}
	if err != nil {
		return nil, diff.TableData{}, fmt.Errorf("review: load table_data: %w", err)
	}
	c, err := diff.Decode(diff.TypeTableData, rec.ChangesData)
	if err != nil {
		return nil, diff.TableData{}, err
	}
	return &rec, c.Payload.(diff.TableData), nil
}

func saveTableData(tx *gorm.DB, rec *models.PendingChange, td diff.TableData) error {
	data, err := diff.Change{Type: diff.TypeTableData, Payload: td}.Encode()
	if err != nil {
		return err
	}
	if err := tx.Model(rec).Update("changes_data", datatypes.JSON(data)).Error; err != nil {
		return fmt.Errorf("review: store table_data: %w", err)
	}
	return nil
}

// settleTableData moves the table_data record with a reordering change of
// its submission. An accept only resolves a pending record; a decline
// always wins, even over an earlier accept.
func settleTableData(tx *gorm.DB, pc models.PendingChange, status, reviewer string, now time.Time) error {
	q := tx.Model(&models.PendingChange{}).
		Where("project_id = ? AND submission_id = ? AND change_type = ?",
			pc.ProjectID, pc.SubmissionID, string(diff.TypeTableData))
	if status == models.ChangeDeclined {
		q = q.Where("status <> ?", models.ChangeDeclined)
	} else {
		q = q.Where("status = ?", models.ChangePending)
	}
	err := q.Updates(map[string]any{"status": status, "reviewed_by": reviewer, "reviewed_at": now}).Error
	if err != nil {
		return fmt.Errorf("review: settle table_data: %w", err)
	}
	return nil
}

// finalizeTableData closes the table_data record once nothing reviewable
// is pending: accepted if any structural change was accepted.
func finalizeTableData(tx *gorm.DB, pc models.PendingChange, reviewer string, now time.Time) error {
	structural := []string{
		string(diff.TypeRowAdd), string(diff.TypeRowDelete),
		string(diff.TypeRowMove), string(diff.TypeRowDuplicate),
	}
	var accepted int64
	if err := tx.Model(&models.PendingChange{}).
		Where("project_id = ? AND submission_id = ? AND status = ? AND change_type IN ?",
			pc.ProjectID, pc.SubmissionID, models.ChangeAccepted, structural).
		Count(&accepted).Error; err != nil {
		return fmt.Errorf("review: count accepted: %w", err)
	}
	status := models.ChangeDeclined
	if accepted > 0 {
		status = models.ChangeAccepted
	}
	err := tx.Model(&models.PendingChange{}).
		Where("project_id = ? AND submission_id = ? AND change_type = ? AND status = ?",
			pc.ProjectID, pc.SubmissionID, string(diff.TypeTableData), models.ChangePending).
		Updates(map[string]any{"status": status, "reviewed_by": reviewer, "reviewed_at": now}).Error
	if err != nil {
		return fmt.Errorf("review: finalize table_data: %w", err)
	}
	return nil
}
