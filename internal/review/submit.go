package review

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/zulandar/conductor/internal/diff"
	"github.com/zulandar/conductor/internal/models"
	"github.com/zulandar/conductor/internal/notify"
	"github.com/zulandar/conductor/internal/presence"
	"github.com/zulandar/conductor/internal/runbook"
	"github.com/zulandar/conductor/internal/snapshot"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SubmitInput is a proposed state for a project.
type SubmitInput struct {
	SubmittedBy     string        `json:"submitted_by"`
	SubmittedByRole string        `json:"submitted_by_role"`
	Proposal        diff.Proposal `json:"proposal"`
	Ops             diff.Ops      `json:"ops"`
}

// SubmitResult lists the stored reviewable changes. SubmissionID is empty
// when the proposal matched the stored state.
type SubmitResult struct {
	SubmissionID string       `json:"submission_id,omitempty"`
	ChangesCount int          `json:"changes_count"`
	Changes      []ChangeView `json:"changes"`
}

// Submit diffs the proposal against the stored state and persists every
// change under one new submission id, in one transaction.
func (s *Service) Submit(ctx context.Context, projectID uint, in SubmitInput) (*SubmitResult, error) {
	in.SubmittedBy = strings.TrimSpace(in.SubmittedBy)
	in.SubmittedByRole = strings.TrimSpace(in.SubmittedByRole)
	if in.SubmittedBy == "" || in.SubmittedByRole == "" {
		return nil, fmt.Errorf("review: submitted_by and submitted_by_role are required: %w", runbook.ErrInvalid)
	}

	res := &SubmitResult{Changes: []ChangeView{}}
	var project models.Project
	counts := map[string]int{}
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&project, projectID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("review: project %d: %w", projectID, runbook.ErrNotFound)
			}
			return err
		}
		old, err := snapshot.LoadState(tx, &project)
		if err != nil {
			return err
		}
		changes := diff.Compute(old, in.Proposal, in.Ops, diff.Options{EphemeralThreshold: s.Threshold})
		if len(changes) == 0 {
			return nil
		}

		res.SubmissionID = uuid.NewString()
		for _, c := range changes {
			data, err := c.Encode()
			if err != nil {
				return err
			}
			pc := models.PendingChange{
				ProjectID:       projectID,
				SubmissionID:    res.SubmissionID,
				ChangeType:      string(c.Type),
				ChangesData:     datatypes.JSON(data),
				Status:          models.ChangePending,
				SubmittedBy:     in.SubmittedBy,
				SubmittedByRole: in.SubmittedByRole,
				CreatedAt:       s.now(),
			}
			if err := tx.Create(&pc).Error; err != nil {
				return fmt.Errorf("review: store %s: %w", c.Type, err)
			}
			if c.Type.Internal() {
				continue
			}
			counts[pc.ChangeType]++
			res.Changes = append(res.Changes, View(pc))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.ChangesCount = len(res.Changes)
	if res.ChangesCount == 0 {
		return res, nil
	}

	s.log().Info("changes submitted",
		"project", projectID, "submission", res.SubmissionID,
		"user", in.SubmittedBy, "role", in.SubmittedByRole, "changes", res.ChangesCount)

	payload := notify.Submitted{
		ProjectID:       projectID,
		Project:         project.Name,
		SubmissionID:    res.SubmissionID,
		SubmittedBy:     in.SubmittedBy,
		SubmittedByRole: in.SubmittedByRole,
		ChangesCount:    res.ChangesCount,
		Counts:          counts,
	}
	s.notify(ctx, notify.ProjectRoom(projectID), notify.EventNewPendingChanges, payload)
	if s.managerOnline(ctx, &project) {
		s.notify(ctx, notify.ManagerRoom(projectID), notify.EventNewPendingChanges, payload)
	}
	return res, nil
}

func (s *Service) managerOnline(ctx context.Context, project *models.Project) bool {
	if s.Presence == nil {
		return false
	}
	online, err := presence.RoleOnline(ctx, s.Presence, project.ID, project.ManagerRole)
	if err != nil {
		s.log().Warn("presence lookup failed", "project", project.ID, "error", err)
		return false
	}
	return online
}

func (s *Service) notify(ctx context.Context, room, event string, payload any) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Notify(ctx, room, event, payload); err != nil {
		s.log().Warn("notify failed", "room", room, "event", event, "error", err)
	}
}
