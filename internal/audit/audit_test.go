package audit

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/zulandar/conductor/internal/db"
	"github.com/zulandar/conductor/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := gdb.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

var (
	t0      = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	manager = Actor{Name: "alice", Role: "Manager"}
)

type fixture struct {
	project models.Project
	phases  []models.Phase
	rows    []models.Row
}

// seed creates phases 1 and 2 with two rows each.
func seed(t *testing.T, gdb *gorm.DB) fixture {
	t.Helper()
	f := fixture{project: models.Project{Name: "p", Version: "v1", ManagerRole: "Manager"}}
	gdb.Create(&f.project)
	for n := 1; n <= 2; n++ {
		ph := models.Phase{ProjectID: f.project.ID, PhaseNumber: n}
		gdb.Create(&ph)
		f.phases = append(f.phases, ph)
		for i := 0; i < 2; i++ {
			r := models.Row{PhaseID: ph.ID, Role: "Ops", Status: models.StatusPassed, LastModified: t0.Add(time.Duration(i) * time.Second)}
			gdb.Create(&r)
			f.rows = append(f.rows, r)
		}
	}
	return f
}

func TestRowFields_OneEntryPerField(t *testing.T) {
	gdb := testDB(t)
	f := seed(t, gdb)

	rec := NewRecorder(gdb, &f.project, manager, t0)
	err := rec.RowFields(f.rows[0],
		map[string]string{"role": "Ops", "description": "old"},
		map[string]string{"role": "DBA", "description": "new"},
	)
	if err != nil {
		t.Fatalf("RowFields: %v", err)
	}

	logs, err := List(gdb, &f.project, Query{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("got %d entries, want 2", len(logs))
	}
	fields := map[string]bool{}
	for _, l := range logs {
		if l.ActionType != ActionRowUpdate {
			t.Errorf("ActionType = %q", l.ActionType)
		}
		var d map[string]any
		if err := json.Unmarshal(l.ActionDetails, &d); err != nil {
			t.Fatalf("details: %v", err)
		}
		field := d["field"].(string)
		fields[field] = true
		oldVal := d["old_value"].(map[string]any)
		if _, ok := oldVal[field]; !ok {
			t.Errorf("old_value %v missing key %q", oldVal, field)
		}
	}
	if !fields["role"] || !fields["description"] {
		t.Errorf("fields = %v, want role and description", fields)
	}
}

func TestRowFields_StatusIsStatusChange(t *testing.T) {
	gdb := testDB(t)
	f := seed(t, gdb)

	rec := NewRecorder(gdb, &f.project, Actor{Name: "bob", Role: "Ops"}, t0)
	if err := rec.RowFields(f.rows[1], map[string]string{"status": "N/A"}, map[string]string{"status": "Passed"}); err != nil {
		t.Fatalf("RowFields: %v", err)
	}
	logs, _ := List(gdb, &f.project, Query{ActionType: ActionRowStatus})
	if len(logs) != 1 {
		t.Fatalf("got %d status entries, want 1", len(logs))
	}
	if logs[0].RowID == nil || *logs[0].RowID != f.rows[1].ID {
		t.Errorf("RowID = %v, want %d", logs[0].RowID, f.rows[1].ID)
	}
	if logs[0].UserName != "bob" || logs[0].UserRole != "Ops" {
		t.Errorf("actor = %s/%s", logs[0].UserName, logs[0].UserRole)
	}
}

func TestPosition(t *testing.T) {
	gdb := testDB(t)
	f := seed(t, gdb)

	tests := []struct {
		row  models.Row
		want int
	}{
		{f.rows[0], 1},
		{f.rows[1], 2},
		{f.rows[2], 3},
		{f.rows[3], 4},
	}
	for _, tt := range tests {
		got, err := Position(gdb, f.project.ID, tt.row.ID)
		if err != nil {
			t.Fatalf("Position(%d): %v", tt.row.ID, err)
		}
		if got != tt.want {
			t.Errorf("Position(%d) = %d, want %d", tt.row.ID, got, tt.want)
		}
	}
	if _, err := Position(gdb, f.project.ID, 999); err == nil {
		t.Error("expected error for unknown row")
	}
}

func TestResetStatuses_StartsNewEpoch(t *testing.T) {
	gdb := testDB(t)
	f := seed(t, gdb)

	rec := NewRecorder(gdb, &f.project, manager, t0)
	for i := 0; i < 3; i++ {
		rec.Record(Entry{Action: ActionPhaseActivation, PhaseID: f.phases[0].ID})
	}

	res, err := ResetStatuses(gdb, f.project.ID, manager, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("ResetStatuses: %v", err)
	}
	if res.RowsCount != 4 || res.Epoch != 1 {
		t.Errorf("result = %+v, want 4 rows, epoch 1", res)
	}

	var project models.Project
	gdb.First(&project, f.project.ID)
	if project.ResetEpoch != 1 {
		t.Fatalf("ResetEpoch = %d, want 1", project.ResetEpoch)
	}

	current, _ := List(gdb, &project, Query{})
	if len(current) != 1 || current[0].ActionType != ActionResetStatuses {
		t.Fatalf("current epoch entries = %+v, want just the reset", current)
	}
	var d map[string]any
	json.Unmarshal(current[0].ActionDetails, &d)
	if d["rows_count"] != float64(4) || d["new_status"] != "N/A" {
		t.Errorf("reset details = %v", d)
	}

	zero := 0
	previous, _ := List(gdb, &project, Query{Epoch: &zero})
	if len(previous) != 3 {
		t.Errorf("epoch 0 entries = %d, want 3", len(previous))
	}

	var rows []models.Row
	gdb.Find(&rows)
	for i, r := range rows {
		if r.Status != models.StatusNA || r.ScriptResult != nil {
			t.Errorf("row %d = %s/%v, want N/A/nil", r.ID, r.Status, r.ScriptResult)
		}
		if !r.LastModified.Equal(f.rows[i].LastModified) {
			t.Errorf("row %d order timestamp changed by reset", r.ID)
		}
	}

	epochs, err := Epochs(gdb, f.project.ID)
	if err != nil {
		t.Fatalf("Epochs: %v", err)
	}
	if len(epochs) != 2 || epochs[0] != 1 || epochs[1] != 0 {
		t.Errorf("Epochs = %v, want [1 0]", epochs)
	}
}

func TestList_Filters(t *testing.T) {
	gdb := testDB(t)
	f := seed(t, gdb)

	NewRecorder(gdb, &f.project, manager, t0).Record(Entry{Action: ActionRowAdd, RowID: f.rows[0].ID})
	NewRecorder(gdb, &f.project, Actor{Name: "bob", Role: "Ops"}, t0.Add(time.Second)).Record(Entry{Action: ActionRowAdd, RowID: f.rows[1].ID})
	NewRecorder(gdb, &f.project, manager, t0.Add(2*time.Second)).Record(Entry{Action: ActionVersionChange})

	tests := []struct {
		name string
		q    Query
		want int
	}{
		{"all", Query{}, 3},
		{"by type", Query{ActionType: ActionRowAdd}, 2},
		{"by user", Query{UserName: "bob"}, 1},
		{"by row", Query{RowID: f.rows[0].ID}, 1},
		{"limit", Query{Limit: 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs, err := List(gdb, &f.project, tt.q)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(logs) != tt.want {
				t.Errorf("got %d entries, want %d", len(logs), tt.want)
			}
		})
	}

	logs, _ := List(gdb, &f.project, Query{})
	if logs[0].ActionType != ActionVersionChange {
		t.Errorf("newest entry = %q, want version_change first", logs[0].ActionType)
	}
}

func TestClear(t *testing.T) {
	gdb := testDB(t)
	f := seed(t, gdb)
	NewRecorder(gdb, &f.project, manager, t0).Record(Entry{Action: ActionRoleAdd})
	ResetStatuses(gdb, f.project.ID, manager, t0)

	n, err := Clear(gdb, f.project.ID)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d, want 2", n)
	}
	epochs, _ := Epochs(gdb, f.project.ID)
	if len(epochs) != 0 {
		t.Errorf("Epochs after clear = %v", epochs)
	}
}
