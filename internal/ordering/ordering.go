// Package ordering maintains the per-row timestamp that defines display
// order within a phase.
package ordering

import (
	"fmt"
	"sort"
	"time"

	"github.com/zulandar/conductor/internal/models"
	"gorm.io/gorm"
)

// DefaultStep spaces consecutive rows when a phase is resequenced.
const DefaultStep = time.Second

// orderNeutral lists the row columns whose writes leave order untouched.
var orderNeutral = map[string]bool{
	"status":        true,
	"script_result": true,
}

// PreservesOrder reports whether a write touching only the given columns
// must keep the row's ordering timestamp.
func PreservesOrder(columns []string) bool {
	for _, c := range columns {
		if !orderNeutral[c] {
			return false
		}
	}
	return true
}

// Maintainer stamps and resequences rows.
type Maintainer struct {
	Step time.Duration
	Now  func() time.Time
}

// New returns a Maintainer using the given step (DefaultStep when zero) and
// the wall clock.
func New(step time.Duration) *Maintainer {
	if step <= 0 {
		step = DefaultStep
	}
	return &Maintainer{Step: step, Now: time.Now}
}

func (m *Maintainer) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Latest returns a timestamp that sorts after every row currently in the
// phase: now, or the phase's newest timestamp plus one step if that is
// later.
func (m *Maintainer) Latest(tx *gorm.DB, phaseID uint) (time.Time, error) {
	now := m.now()
	var newest models.Row
	err := tx.Where("phase_id = ?", phaseID).Order("last_modified DESC, id DESC").Limit(1).Find(&newest).Error
	if err != nil {
		return time.Time{}, fmt.Errorf("ordering: newest row in phase %d: %w", phaseID, err)
	}
	if newest.ID != 0 && !now.After(newest.LastModified) {
		return newest.LastModified.Add(m.Step), nil
	}
	return now, nil
}

// Stamp returns the ordering timestamp a row should carry after a write to
// the given columns: its current one for status-only writes, otherwise
// Latest of the phase it ends up in.
func (m *Maintainer) Stamp(tx *gorm.DB, row models.Row, columns []string) (time.Time, error) {
	if PreservesOrder(columns) {
		return row.LastModified, nil
	}
	return m.Latest(tx, row.PhaseID)
}

// Resequence rewrites the ordering timestamps of each phase's rows to
// base + i*step in the given order.
func (m *Maintainer) Resequence(tx *gorm.DB, order map[uint][]uint) error {
	base := m.now()
	phaseIDs := make([]uint, 0, len(order))
	for id := range order {
		phaseIDs = append(phaseIDs, id)
	}
	sort.Slice(phaseIDs, func(i, j int) bool { return phaseIDs[i] < phaseIDs[j] })

	for _, phaseID := range phaseIDs {
		for i, rowID := range order[phaseID] {
			ts := base.Add(time.Duration(i) * m.Step)
			err := tx.Model(&models.Row{}).
				Where("id = ? AND phase_id = ?", rowID, phaseID).
				UpdateColumn("last_modified", ts).Error
			if err != nil {
				return fmt.Errorf("ordering: resequence row %d: %w", rowID, err)
			}
		}
	}
	return nil
}

// Sort orders rows for display: by timestamp, then id.
func Sort(rows []models.Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].LastModified.Equal(rows[j].LastModified) {
			return rows[i].LastModified.Before(rows[j].LastModified)
		}
		return rows[i].ID < rows[j].ID
	})
}
