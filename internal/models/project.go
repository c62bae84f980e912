package models

import "time"

// Project is a runbook: an ordered list of phases owned by one manager role.
type Project struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	Name        string `gorm:"size:255;not null;uniqueIndex"`
	Version     string `gorm:"size:50;not null;default:v1.0.0"`
	ManagerRole string `gorm:"size:100;not null;default:Manager"`
	ResetEpoch  int    `gorm:"not null;default:0"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Phases          []Phase          `gorm:"foreignKey:ProjectID"`
	Roles           []ProjectRole    `gorm:"foreignKey:ProjectID"`
	PeriodicScripts []PeriodicScript `gorm:"foreignKey:ProjectID"`
}

// ProjectRole is a role name rows of a project may be assigned to.
type ProjectRole struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	ProjectID uint   `gorm:"not null;uniqueIndex:idx_project_role"`
	RoleName  string `gorm:"size:100;not null;uniqueIndex:idx_project_role"`
}

// User tracks who has logged into a project and under which role.
type User struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	ProjectID uint   `gorm:"not null;uniqueIndex:idx_project_user"`
	Name      string `gorm:"size:100;not null;uniqueIndex:idx_project_user"`
	Role      string `gorm:"size:100;not null"`
	LastLogin *time.Time
	CreatedAt time.Time
}
