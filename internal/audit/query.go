package audit

import (
	"fmt"
	"time"

	"github.com/zulandar/conductor/internal/models"
	"gorm.io/gorm"
)

// Query filters an action log listing. Epoch nil means the project's
// current epoch.
type Query struct {
	Epoch      *int
	ActionType string
	UserName   string
	RowID      uint
	Limit      int
}

// List returns entries of one epoch, newest first.
func List(db *gorm.DB, project *models.Project, q Query) ([]models.ActionLog, error) {
	epoch := project.ResetEpoch
	if q.Epoch != nil {
		epoch = *q.Epoch
	}
	tx := db.Where("project_id = ? AND reset_epoch = ?", project.ID, epoch)
	if q.ActionType != "" {
		tx = tx.Where("action_type = ?", q.ActionType)
	}
	if q.UserName != "" {
		tx = tx.Where("user_name = ?", q.UserName)
	}
	if q.RowID != 0 {
		tx = tx.Where("row_id = ?", q.RowID)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	var logs []models.ActionLog
	if err := tx.Order("timestamp DESC, id DESC").Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("audit: list project %d epoch %d: %w", project.ID, epoch, err)
	}
	return logs, nil
}

// Epochs returns the epochs that have entries, newest first.
func Epochs(db *gorm.DB, projectID uint) ([]int, error) {
	var epochs []int
	err := db.Model(&models.ActionLog{}).
		Where("project_id = ?", projectID).
		Distinct("reset_epoch").
		Order("reset_epoch DESC").
		Pluck("reset_epoch", &epochs).Error
	if err != nil {
		return nil, fmt.Errorf("audit: list epochs for project %d: %w", projectID, err)
	}
	return epochs, nil
}

// Clear deletes every entry of the project across all epochs.
func Clear(db *gorm.DB, projectID uint) (int64, error) {
	result := db.Where("project_id = ?", projectID).Delete(&models.ActionLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("audit: clear project %d: %w", projectID, result.Error)
	}
	return result.RowsAffected, nil
}

// ResetResult reports what ResetStatuses did.
type ResetResult struct {
	RowsCount int64 `json:"rows_count"`
	Epoch     int   `json:"reset_epoch"`
}

// ResetStatuses sets every row of the project back to N/A, clears script
// results, and starts a new epoch, all in one transaction. Row order is
// untouched. The reset itself is the first entry of the new epoch.
func ResetStatuses(db *gorm.DB, projectID uint, actor Actor, now time.Time) (*ResetResult, error) {
	var res ResetResult
	err := db.Transaction(func(tx *gorm.DB) error {
		var project models.Project
		if err := tx.First(&project, projectID).Error; err != nil {
			return err
		}

		phaseIDs := tx.Model(&models.Phase{}).Select("id").Where("project_id = ?", projectID)
		update := tx.Model(&models.Row{}).Where("phase_id IN (?)", phaseIDs).
			UpdateColumns(map[string]interface{}{"status": models.StatusNA, "script_result": nil})
		if update.Error != nil {
			return update.Error
		}
		res.RowsCount = update.RowsAffected

		if err := tx.Model(&models.Project{}).Where("id = ?", projectID).
			UpdateColumn("reset_epoch", gorm.Expr("reset_epoch + ?", 1)).Error; err != nil {
			return err
		}
		project.ResetEpoch++
		res.Epoch = project.ResetEpoch

		return NewRecorder(tx, &project, actor, now).Record(Entry{
			Action: ActionResetStatuses,
			Details: map[string]any{
				"rows_count": res.RowsCount,
				"new_status": models.StatusNA,
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("audit: reset statuses for project %d: %w", projectID, err)
	}
	return &res, nil
}
