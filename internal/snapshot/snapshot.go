// Package snapshot defines the ordered phase/row view of a project that
// clients edit and the diff engine compares.
package snapshot

import (
	"github.com/zulandar/conductor/internal/models"
)

// Row is one row as seen by a client. ID carries either a durable row id,
// a client-generated temporary token, or zero; use Ref to tell them apart.
type Row struct {
	ID           int64  `json:"id,omitempty"`
	Role         string `json:"role"`
	Time         string `json:"time"`
	Duration     string `json:"duration"`
	Description  string `json:"description"`
	Script       string `json:"script"`
	Status       string `json:"status"`
	ScriptResult *bool  `json:"scriptResult"`
}

// Phase is an ordered group of rows. Phase numbers <= 0 mean "no phase".
type Phase struct {
	Phase    int   `json:"phase"`
	IsActive bool  `json:"is_active"`
	Rows     []Row `json:"rows"`
}

// Table is the full ordered view of a project's phases.
type Table []Phase

// Script is a periodic script as seen by a client.
type Script struct {
	ID     int64  `json:"id,omitempty"`
	Name   string `json:"name"`
	Path   string `json:"path"`
	Status bool   `json:"status"`
}

// State is everything of a project the diff engine compares.
type State struct {
	Version string
	Table   Table
	Roles   []string
	Scripts []Script
}

// Signature is the content tuple used to recognise a row when its
// identifier is missing or untrustworthy. Status is deliberately absent.
type Signature struct {
	Role        string
	Time        string
	Duration    string
	Description string
	Script      string
}

// Signature returns the row's content signature.
func (r Row) Signature() Signature {
	return Signature{
		Role:        r.Role,
		Time:        r.Time,
		Duration:    r.Duration,
		Description: r.Description,
		Script:      r.Script,
	}
}

// ContentFields lists the row fields compared for updates, in log order.
var ContentFields = []string{"role", "time", "duration", "description", "script", "status"}

// Field returns the value of a content field by its wire name.
func (r Row) Field(name string) string {
	switch name {
	case "role":
		return r.Role
	case "time":
		return r.Time
	case "duration":
		return r.Duration
	case "description":
		return r.Description
	case "script":
		return r.Script
	case "status":
		return r.Status
	}
	return ""
}

// FromModel converts a stored row into its client view.
func FromModel(m models.Row) Row {
	return Row{
		ID:           int64(m.ID),
		Role:         m.Role,
		Time:         m.Time,
		Duration:     m.Duration,
		Description:  m.Description,
		Script:       m.Script,
		Status:       m.Status,
		ScriptResult: m.ScriptResult,
	}
}

// Find returns the phase with the given number, or nil.
func (t Table) Find(number int) *Phase {
	for i := range t {
		if t[i].Phase == number {
			return &t[i]
		}
	}
	return nil
}

// RowCount returns the number of rows across all phases.
func (t Table) RowCount() int {
	n := 0
	for _, p := range t {
		n += len(p.Rows)
	}
	return n
}

// ReplaceID rewrites every row carrying id from to id to and reports
// whether anything changed.
func (t Table) ReplaceID(from, to int64) bool {
	changed := false
	for i := range t {
		for j := range t[i].Rows {
			if t[i].Rows[j].ID == from {
				t[i].Rows[j].ID = to
				changed = true
			}
		}
	}
	return changed
}
