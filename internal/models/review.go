package models

import (
	"time"

	"gorm.io/datatypes"
)

// PendingChange status values.
const (
	ChangePending  = "pending"
	ChangeAccepted = "accepted"
	ChangeDeclined = "declined"
)

// PendingChange is one reviewable change of a submission. All changes
// produced by a single submit share SubmissionID.
type PendingChange struct {
	ID              uint           `gorm:"primaryKey;autoIncrement"`
	ProjectID       uint           `gorm:"not null;index:idx_change_submission,priority:1"`
	SubmissionID    string         `gorm:"size:36;not null;index:idx_change_submission,priority:2"`
	ChangeType      string         `gorm:"size:32;not null"`
	ChangesData     datatypes.JSON `gorm:"not null"`
	Status          string         `gorm:"size:16;not null;default:pending;index"`
	SubmittedBy     string         `gorm:"size:100;not null"`
	SubmittedByRole string         `gorm:"size:100;not null"`
	ReviewedBy      string         `gorm:"size:100"`
	ReviewedAt      *time.Time
	CreatedAt       time.Time
}

// ActionLog is one audit entry. Entries are grouped into eras by
// ResetEpoch; queries never mix epochs.
type ActionLog struct {
	ID            uint           `gorm:"primaryKey;autoIncrement"`
	ProjectID     uint           `gorm:"not null;index:idx_log_epoch,priority:1"`
	ResetEpoch    int            `gorm:"not null;index:idx_log_epoch,priority:2"`
	UserName      string         `gorm:"size:100;not null"`
	UserRole      string         `gorm:"size:100;not null"`
	ActionType    string         `gorm:"size:50;not null;index"`
	ActionDetails datatypes.JSON `gorm:"not null"`
	RowID         *uint
	PhaseID       *uint
	ScriptResult  *bool
	Timestamp     time.Time `gorm:"not null;index"`
}
