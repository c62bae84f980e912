package db

import (
	"fmt"

	"github.com/zulandar/conductor/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Project{},
		&models.ProjectRole{},
		&models.Phase{},
		&models.Row{},
		&models.PeriodicScript{},
		&models.User{},
		&models.PendingChange{},
		&models.ActionLog{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedProject creates an empty project with its manager role unless a
// project of that name already exists, and returns the stored project.
func SeedProject(db *gorm.DB, name, managerRole string) (*models.Project, error) {
	if managerRole == "" {
		managerRole = "Manager"
	}
	var project models.Project
	err := db.Transaction(func(tx *gorm.DB) error {
		seed := models.Project{Name: name, Version: "v1.0.0", ManagerRole: managerRole}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).Create(&seed).Error; err != nil {
			return err
		}
		if err := tx.Where("name = ?", name).First(&project).Error; err != nil {
			return err
		}
		role := models.ProjectRole{ProjectID: project.ID, RoleName: project.ManagerRole}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&role).Error
	})
	if err != nil {
		return nil, fmt.Errorf("db: seed project %q: %w", name, err)
	}
	return &project, nil
}
