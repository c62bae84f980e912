package models

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestProject_Fields(t *testing.T) {
	typ := reflect.TypeOf(Project{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "Name", "uniqueIndex")
	assertGormTag(t, typ, "Version", "default:v1.0.0")
	assertGormTag(t, typ, "ManagerRole", "default:Manager")
	assertGormTag(t, typ, "ResetEpoch", "default:0")
	assertFieldType(t, typ, "ResetEpoch", "int")
	assertFieldType(t, typ, "Phases", "[]models.Phase")
}

func TestPhase_UniqueNumberPerProject(t *testing.T) {
	typ := reflect.TypeOf(Phase{})

	assertGormTag(t, typ, "ProjectID", "uniqueIndex:idx_project_phase")
	assertGormTag(t, typ, "PhaseNumber", "uniqueIndex:idx_project_phase")
	assertGormTag(t, typ, "IsActive", "default:false")
}

func TestRow_Fields(t *testing.T) {
	typ := reflect.TypeOf(Row{})

	assertGormTag(t, typ, "PhaseID", "index:idx_phase_order")
	assertGormTag(t, typ, "LastModified", "index:idx_phase_order")
	assertGormTag(t, typ, "Description", "type:text")
	assertGormTag(t, typ, "Status", "default:N/A")
	assertFieldType(t, typ, "ScriptResult", "*bool")
	assertFieldType(t, typ, "LastModified", "time.Time")

	if _, ok := typ.FieldByName("UpdatedAt"); ok {
		t.Error("Row must not carry an auto-managed UpdatedAt field")
	}
}

func TestPendingChange_Fields(t *testing.T) {
	typ := reflect.TypeOf(PendingChange{})

	assertGormTag(t, typ, "SubmissionID", "size:36")
	assertGormTag(t, typ, "SubmissionID", "index:idx_change_submission")
	assertGormTag(t, typ, "Status", "default:pending")
	assertFieldType(t, typ, "ChangesData", "datatypes.JSON")
	assertFieldType(t, typ, "ReviewedAt", "*time.Time")
}

func TestActionLog_Fields(t *testing.T) {
	typ := reflect.TypeOf(ActionLog{})

	assertGormTag(t, typ, "ProjectID", "index:idx_log_epoch")
	assertGormTag(t, typ, "ResetEpoch", "index:idx_log_epoch")
	assertGormTag(t, typ, "ActionType", "index")
	assertFieldType(t, typ, "RowID", "*uint")
	assertFieldType(t, typ, "Timestamp", "time.Time")
}

func TestStatusConstants(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{StatusNA, "N/A"},
		{StatusPassed, "Passed"},
		{StatusFailed, "Failed"},
		{ChangePending, "pending"},
		{ChangeAccepted, "accepted"},
		{ChangeDeclined, "declined"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("constant = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestPeriodicScript_LastExecutedNullable(t *testing.T) {
	var s PeriodicScript
	if s.LastExecuted != nil {
		t.Error("zero PeriodicScript.LastExecuted should be nil")
	}
	now := time.Now()
	s.LastExecuted = &now
	if !s.LastExecuted.Equal(now) {
		t.Error("LastExecuted did not round-trip")
	}
}
