package runbook

import (
	"fmt"
	"slices"

	"github.com/zulandar/conductor/internal/models"
	"github.com/zulandar/conductor/internal/snapshot"
)

// Reconcile makes the store's row order follow table. Rows are resolved to
// their current durable id and current content: durable ids directly,
// anything else by signature among rows not yet claimed. Resolved rows are
// grouped under the phase they live in now. A row the table does not
// mention goes right after the row that precedes it in the stored order,
// or first in its phase when nothing does. Every phase is resequenced and
// the rebuilt table is returned.
func (a *Applier) Reconcile(table snapshot.Table, threshold int64) (snapshot.Table, error) {
	var phases []models.Phase
	if err := a.tx.Where("project_id = ?", a.project.ID).Order("phase_number ASC").Find(&phases).Error; err != nil {
		return nil, fmt.Errorf("runbook: reconcile phases: %w", err)
	}
	phaseIDs := make([]uint, len(phases))
	phaseByNumber := make(map[int]uint, len(phases))
	for i, p := range phases {
		phaseIDs[i] = p.ID
		phaseByNumber[p.PhaseNumber] = p.ID
	}

	var rows []models.Row
	if len(phaseIDs) > 0 {
		if err := a.tx.Where("phase_id IN ?", phaseIDs).Order(snapshot.RowOrder).Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("runbook: reconcile rows: %w", err)
		}
	}
	byID := make(map[int64]*models.Row, len(rows))
	for i := range rows {
		byID[int64(rows[i].ID)] = &rows[i]
	}

	used := map[uint]bool{}
	order := map[uint][]uint{}
	claim := func(r *models.Row) {
		used[r.ID] = true
		order[r.PhaseID] = append(order[r.PhaseID], r.ID)
	}
	bySignature := func(want snapshot.Signature, preferPhase uint) *models.Row {
		var fallback *models.Row
		for i := range rows {
			r := &rows[i]
			if used[r.ID] || snapshot.FromModel(*r).Signature() != want {
				continue
			}
			if r.PhaseID == preferPhase {
				return r
			}
			if fallback == nil {
				fallback = r
			}
		}
		return fallback
	}

	for _, p := range table {
		for _, sr := range p.Rows {
			ref := sr.Ref(threshold)
			if ref.IsDurable() {
				if r, ok := byID[ref.ID]; ok && !used[r.ID] {
					claim(r)
				}
				continue
			}
			if r := bySignature(sr.Signature(), phaseByNumber[p.Phase]); r != nil {
				claim(r)
			}
		}
	}
	for _, p := range phases {
		ids := order[p.ID]
		var prev uint
		for i := range rows {
			r := &rows[i]
			if r.PhaseID != p.ID {
				continue
			}
			if !used[r.ID] {
				used[r.ID] = true
				ids = insertAfter(ids, prev, r.ID)
			}
			prev = r.ID
		}
		order[p.ID] = ids
	}

	if err := a.order.Resequence(a.tx, order); err != nil {
		return nil, err
	}

	out := make(snapshot.Table, 0, len(phases))
	for _, p := range phases {
		ph := snapshot.Phase{Phase: p.PhaseNumber, IsActive: p.IsActive, Rows: []snapshot.Row{}}
		for _, id := range order[p.ID] {
			ph.Rows = append(ph.Rows, snapshot.FromModel(*byID[int64(id)]))
		}
		out = append(out, ph)
	}
	return out, nil
}

// insertAfter places id right after prev in ids, or first when prev is 0.
func insertAfter(ids []uint, prev, id uint) []uint {
	at := 0
	if prev != 0 {
		at = slices.Index(ids, prev) + 1
	}
	return slices.Insert(ids, at, id)
}
