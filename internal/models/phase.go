package models

import "time"

// Row status values.
const (
	StatusNA     = "N/A"
	StatusPassed = "Passed"
	StatusFailed = "Failed"
)

// Row defaults applied when a caller leaves a field empty.
const (
	DefaultRowTime     = "00:00:00"
	DefaultRowDuration = "00:00"
	DefaultRowRole     = "Role"
)

// Phase groups rows of a project. PhaseNumber is unique within a project.
type Phase struct {
	ID          uint `gorm:"primaryKey;autoIncrement"`
	ProjectID   uint `gorm:"not null;uniqueIndex:idx_project_phase"`
	PhaseNumber int  `gorm:"not null;uniqueIndex:idx_project_phase"`
	IsActive    bool `gorm:"default:false"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Rows []Row `gorm:"foreignKey:PhaseID"`
}

// Row is a single checklist step. Display order within a phase is
// (LastModified, ID) ascending; LastModified is maintained explicitly
// by the ordering package and never auto-updated by GORM.
type Row struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	PhaseID      uint   `gorm:"not null;index:idx_phase_order,priority:1"`
	Role         string `gorm:"size:100;not null"`
	Time         string `gorm:"size:20;not null"`
	Duration     string `gorm:"size:20;not null"`
	Description  string `gorm:"type:text"`
	Script       string `gorm:"size:500"`
	Status       string `gorm:"size:50;not null;default:N/A"`
	ScriptResult *bool
	CreatedAt    time.Time
	LastModified time.Time `gorm:"not null;index:idx_phase_order,priority:2"`
}

// PeriodicScript is a project-level script run on a schedule.
// Status holds the result of the last execution.
type PeriodicScript struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	ProjectID    uint   `gorm:"not null;index"`
	Name         string `gorm:"size:255;not null"`
	Path         string `gorm:"size:500;not null"`
	Status       bool   `gorm:"default:false"`
	LastExecuted *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
