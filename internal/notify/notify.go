// Package notify fans "data changed" events out to connected clients and
// chat channels. Delivery is best-effort: callers log failures and move on.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Event names.
const (
	EventNewPendingChanges = "new_pending_changes"
	EventPendingUpdated    = "pending_changes_updated"
	EventDataChanged       = "data_changed"
	EventPresenceUpdated   = "presence_updated"
	EventScriptExecuted    = "script_executed"
)

// Notifier publishes an event to a room.
type Notifier interface {
	Notify(ctx context.Context, room, event string, payload any) error
}

// ProjectRoom is the room every client of a project joins.
func ProjectRoom(projectID uint) string {
	return fmt.Sprintf("project:%d", projectID)
}

// ManagerRoom is the room only the project's managers join.
func ManagerRoom(projectID uint) string {
	return fmt.Sprintf("project:%d:manager", projectID)
}

// IsManagerRoom reports whether room is a manager room.
func IsManagerRoom(room string) bool {
	return strings.HasSuffix(room, ":manager")
}

// Nop discards every event.
type Nop struct{}

// Notify does nothing.
func (Nop) Notify(context.Context, string, string, any) error { return nil }

// Multi delivers every event to each notifier in turn. All notifiers are
// tried; their errors are joined.
type Multi []Notifier

// Notify fans the event out.
func (m Multi) Notify(ctx context.Context, room, event string, payload any) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, room, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Submitted is the payload of EventNewPendingChanges.
type Submitted struct {
	ProjectID       uint           `json:"project_id"`
	Project         string         `json:"project"`
	SubmissionID    string         `json:"submission_id"`
	SubmittedBy     string         `json:"submitted_by"`
	SubmittedByRole string         `json:"submitted_by_role"`
	ChangesCount    int            `json:"changes_count"`
	Counts          map[string]int `json:"counts"`
}

// Reviewed is the payload of EventPendingUpdated.
type Reviewed struct {
	ProjectID        uint   `json:"project_id"`
	ChangeID         uint   `json:"change_id"`
	SubmissionID     string `json:"submission_id"`
	ChangeType       string `json:"change_type"`
	Status           string `json:"status"`
	ReviewedBy       string `json:"reviewed_by"`
	RemainingPending int64  `json:"remaining_pending"`
	AllProcessed     bool   `json:"all_processed"`
}

// DataChanged is the payload of EventDataChanged.
type DataChanged struct {
	ProjectID uint   `json:"project_id"`
	Reason    string `json:"reason"`
	UserName  string `json:"user_name,omitempty"`
}

// ScriptRun is the payload of EventScriptExecuted.
type ScriptRun struct {
	ProjectID uint   `json:"project_id"`
	Project   string `json:"project"`
	ScriptID  uint   `json:"script_id"`
	Name      string `json:"name"`
	Passed    bool   `json:"passed"`
	Output    string `json:"output,omitempty"`
}
