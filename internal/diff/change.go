// Package diff compares a project's stored state with a proposed state and
// produces the ordered list of reviewable changes between them.
package diff

import (
	"encoding/json"
	"fmt"

	"github.com/zulandar/conductor/internal/snapshot"
)

// ChangeType names the kind of a Change. The values are stored verbatim in
// pending_changes.change_type.
type ChangeType string

const (
	TypeVersion      ChangeType = "version"
	TypePhaseAdd     ChangeType = "phase_add"
	TypePhaseDelete  ChangeType = "phase_delete"
	TypeRowAdd       ChangeType = "row_add"
	TypeRowUpdate    ChangeType = "row_update"
	TypeRowDelete    ChangeType = "row_delete"
	TypeRowMove      ChangeType = "row_move"
	TypeRowDuplicate ChangeType = "row_duplicate"
	TypeRoleAdd      ChangeType = "role_add"
	TypeRoleDelete   ChangeType = "role_delete"
	TypeScriptAdd    ChangeType = "script_add"
	TypeScriptUpdate ChangeType = "script_update"
	TypeScriptDelete ChangeType = "script_delete"
	TypeTableData    ChangeType = "table_data"
)

// Internal reports whether changes of this type are bookkeeping that is
// never shown to or reviewed by the manager.
func (t ChangeType) Internal() bool { return t == TypeTableData }

// Structural reports whether the change alters row order or membership.
func (t ChangeType) Structural() bool {
	switch t {
	case TypeRowAdd, TypeRowDelete, TypeRowMove, TypeRowDuplicate:
		return true
	}
	return false
}

// Reorders reports whether accepting the change needs order reconstruction
// from the submission's table_data.
func (t ChangeType) Reorders() bool {
	return t == TypeRowMove || t == TypeRowDuplicate
}

// Change is one atomic, independently reviewable edit.
type Change struct {
	Type    ChangeType
	Payload any
}

// Version changes the project's version string.
type Version struct {
	OldVersion string `json:"old_version"`
	NewVersion string `json:"new_version"`
}

// PhaseAdd creates an empty phase.
type PhaseAdd struct {
	PhaseNumber int  `json:"phase_number"`
	IsActive    bool `json:"is_active"`
}

// PhaseDelete removes a phase together with the rows still in it.
type PhaseDelete struct {
	PhaseNumber int            `json:"phase_number"`
	Rows        []snapshot.Row `json:"rows"`
}

// RowAdd inserts a new row into a phase.
type RowAdd struct {
	PhaseNumber int          `json:"phase_number"`
	TargetIndex int          `json:"target_index"`
	TempID      int64        `json:"temp_id,omitempty"`
	Row         snapshot.Row `json:"row_content"`
}

// RowUpdate changes content fields of an existing row.
type RowUpdate struct {
	RowID       int64             `json:"row_id"`
	PhaseNumber int               `json:"phase_number"`
	OldFields   map[string]string `json:"old_fields"`
	NewFields   map[string]string `json:"new_fields"`
}

// RowDelete removes an existing row.
type RowDelete struct {
	RowID       int64        `json:"row_id"`
	PhaseNumber int          `json:"phase_number"`
	SourceIndex int          `json:"source_index"`
	Row         snapshot.Row `json:"row_content"`
}

// RowMove relocates an existing row.
type RowMove struct {
	RowID       int64 `json:"row_id"`
	SourcePhase int   `json:"source_phase"`
	TargetPhase int   `json:"target_phase"`
	SourceIndex int   `json:"source_index"`
	TargetIndex int   `json:"target_index"`
	Explicit    bool  `json:"explicit,omitempty"`
}

// RowDuplicate creates a copy of an existing row. Row carries the copied
// content so the change can be applied even after the source is gone.
type RowDuplicate struct {
	SourceRowID int64        `json:"source_row_id"`
	NewTempID   int64        `json:"new_temp_id,omitempty"`
	TargetPhase int          `json:"target_phase"`
	TargetIndex int          `json:"target_index"`
	Row         snapshot.Row `json:"row_content"`
}

// Role adds or removes a project role.
type Role struct {
	Role string `json:"role"`
}

// ScriptAdd creates a periodic script.
type ScriptAdd struct {
	Script snapshot.Script `json:"script"`
}

// ScriptUpdate changes a periodic script's name or path.
type ScriptUpdate struct {
	ScriptID  int64             `json:"script_id"`
	OldFields map[string]string `json:"old_fields"`
	NewFields map[string]string `json:"new_fields"`
}

// ScriptDelete removes a periodic script.
type ScriptDelete struct {
	ScriptID int64           `json:"script_id"`
	Script   snapshot.Script `json:"script"`
}

// TableData is the submitter's full ordered table, kept to reconstruct row
// order when moves and duplicates are accepted.
type TableData struct {
	Table snapshot.Table `json:"table_data"`
}

// Encode marshals the change payload for storage.
func (c Change) Encode() ([]byte, error) {
	data, err := json.Marshal(c.Payload)
	if err != nil {
		return nil, fmt.Errorf("diff: encode %s: %w", c.Type, err)
	}
	return data, nil
}

// Decode rebuilds a Change from its stored type and payload.
func Decode(t ChangeType, data []byte) (Change, error) {
	var payload any
	switch t {
	case TypeVersion:
		payload = &Version{}
	case TypePhaseAdd:
		payload = &PhaseAdd{}
	case TypePhaseDelete:
		payload = &PhaseDelete{}
	case TypeRowAdd:
		payload = &RowAdd{}
	case TypeRowUpdate:
		payload = &RowUpdate{}
	case TypeRowDelete:
		payload = &RowDelete{}
	case TypeRowMove:
		payload = &RowMove{}
	case TypeRowDuplicate:
		payload = &RowDuplicate{}
	case TypeRoleAdd, TypeRoleDelete:
		payload = &Role{}
	case TypeScriptAdd:
		payload = &ScriptAdd{}
	case TypeScriptUpdate:
		payload = &ScriptUpdate{}
	case TypeScriptDelete:
		payload = &ScriptDelete{}
	case TypeTableData:
		payload = &TableData{}
	default:
		return Change{}, fmt.Errorf("diff: unknown change type %q", t)
	}
	if err := json.Unmarshal(data, payload); err != nil {
		return Change{}, fmt.Errorf("diff: decode %s: %w", t, err)
	}
	return Change{Type: t, Payload: deref(payload)}, nil
}

func deref(p any) any {
	switch v := p.(type) {
	case *Version:
		return *v
	case *PhaseAdd:
		return *v
	case *PhaseDelete:
		return *v
	case *RowAdd:
		return *v
	case *RowUpdate:
		return *v
	case *RowDelete:
		return *v
	case *RowMove:
		return *v
	case *RowDuplicate:
		return *v
	case *Role:
		return *v
	case *ScriptAdd:
		return *v
	case *ScriptUpdate:
		return *v
	case *ScriptDelete:
		return *v
	case *TableData:
		return *v
	}
	return p
}
