// Package review stores submitted change sets and drives each change
// through pending -> accepted | declined. Accepting applies the change;
// declining leaves the project untouched.
package review

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zulandar/conductor/internal/diff"
	"github.com/zulandar/conductor/internal/models"
	"github.com/zulandar/conductor/internal/notify"
	"github.com/zulandar/conductor/internal/ordering"
	"github.com/zulandar/conductor/internal/presence"
	"github.com/zulandar/conductor/internal/runbook"
	"gorm.io/gorm"
)

// ErrNotPending is returned when reviewing a change that was already
// accepted or declined.
var ErrNotPending = errors.New("change is not pending")

// ValidTransitions maps each change status to its valid next statuses.
var ValidTransitions = map[string][]string{
	models.ChangePending:  {models.ChangeAccepted, models.ChangeDeclined},
	models.ChangeAccepted: {},
	models.ChangeDeclined: {},
}

// isValidTransition checks whether a status transition is allowed.
func isValidTransition(from, to string) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Service implements submission and review.
type Service struct {
	DB        *gorm.DB
	Order     *ordering.Maintainer
	Notifier  notify.Notifier
	Presence  presence.Tracker
	Log       *slog.Logger
	Threshold int64
	Now       func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// ChangeView is a stored change as clients see it.
type ChangeView struct {
	ID              uint            `json:"id"`
	ProjectID       uint            `json:"project_id"`
	SubmissionID    string          `json:"submission_id"`
	ChangeType      string          `json:"change_type"`
	ChangesData     json.RawMessage `json:"changes_data"`
	Status          string          `json:"status"`
	SubmittedBy     string          `json:"submitted_by"`
	SubmittedByRole string          `json:"submitted_by_role"`
	ReviewedBy      string          `json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time      `json:"reviewed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// View converts a stored change.
func View(c models.PendingChange) ChangeView {
	return ChangeView{
		ID:              c.ID,
		ProjectID:       c.ProjectID,
		SubmissionID:    c.SubmissionID,
		ChangeType:      c.ChangeType,
		ChangesData:     json.RawMessage(c.ChangesData),
		Status:          c.Status,
		SubmittedBy:     c.SubmittedBy,
		SubmittedByRole: c.SubmittedByRole,
		ReviewedBy:      c.ReviewedBy,
		ReviewedAt:      c.ReviewedAt,
		CreatedAt:       c.CreatedAt,
	}
}

// Query filters List. Empty fields match everything.
type Query struct {
	Status       string
	SubmissionID string
}

// List returns the project's reviewable changes in submission order.
// table_data bookkeeping records are never listed.
func (s *Service) List(projectID uint, q Query) ([]ChangeView, error) {
	if err := s.DB.First(&models.Project{}, projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("review: project %d: %w", projectID, runbook.ErrNotFound)
		}
		return nil, fmt.Errorf("review: load project %d: %w", projectID, err)
	}
	tx := s.DB.Where("project_id = ? AND change_type <> ?", projectID, string(diff.TypeTableData))
	if q.Status != "" {
		if _, ok := ValidTransitions[q.Status]; !ok {
			return nil, fmt.Errorf("review: status %q: %w", q.Status, runbook.ErrInvalid)
		}
		tx = tx.Where("status = ?", q.Status)
	}
	if q.SubmissionID != "" {
		tx = tx.Where("submission_id = ?", q.SubmissionID)
	}
	var changes []models.PendingChange
	if err := tx.Order("id ASC").Find(&changes).Error; err != nil {
		return nil, fmt.Errorf("review: list changes: %w", err)
	}
	out := make([]ChangeView, len(changes))
	for i, c := range changes {
		out[i] = View(c)
	}
	return out, nil
}
