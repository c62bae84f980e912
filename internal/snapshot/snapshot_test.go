package snapshot

import (
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

func TestClassify(t *testing.T) {
	tests := []struct {
		id        int64
		threshold int64
		want      RowRef
	}{
		{0, 0, RowRef{}},
		{-5, 0, RowRef{}},
		{42, 0, Durable(42)},
		{DefaultEphemeralThreshold, 0, Durable(DefaultEphemeralThreshold)},
		{1_700_000_000_123, 0, Ephemeral(1_700_000_000_123)},
		{5001, 5000, Ephemeral(5001)},
		{5000, 5000, Durable(5000)},
	}
	for _, tt := range tests {
		if got := Classify(tt.id, tt.threshold); got != tt.want {
			t.Errorf("Classify(%d, %d) = %v, want %v", tt.id, tt.threshold, got, tt.want)
		}
	}
}

func TestRowRef_String(t *testing.T) {
	if got := Durable(3).String(); got != "durable:3" {
		t.Errorf("String() = %q", got)
	}
	if got := (RowRef{}).String(); got != "none" {
		t.Errorf("String() = %q", got)
	}
}

func TestSignature_IgnoresStatusAndID(t *testing.T) {
	a := Row{ID: 1, Role: "DBA", Time: "00:10:00", Duration: "05:00", Description: "backup", Script: "b.sh", Status: "N/A"}
	b := a
	b.ID = 1_700_000_000_000
	b.Status = "Passed"
	if a.Signature() != b.Signature() {
		t.Error("signatures differ on id/status only")
	}
	b.Description = "restore"
	if a.Signature() == b.Signature() {
		t.Error("signatures equal despite description change")
	}
}

func TestRow_Field(t *testing.T) {
	r := Row{Role: "r", Time: "t", Duration: "d", Description: "x", Script: "s", Status: "Passed"}
	for _, f := range ContentFields {
		if r.Field(f) == "" {
			t.Errorf("Field(%q) empty", f)
		}
	}
	if r.Field("bogus") != "" {
		t.Error("unknown field should be empty")
	}
}

func TestLoad_OrdersPhasesAndRows(t *testing.T) {
	gdb := testDB(t)
	project := models.Project{Name: "p", Version: "v1", ManagerRole: "Manager"}
	gdb.Create(&project)
	p2 := models.Phase{ProjectID: project.ID, PhaseNumber: 2}
	p1 := models.Phase{ProjectID: project.ID, PhaseNumber: 1, IsActive: true}
	gdb.Create(&p2)
	gdb.Create(&p1)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []models.Row{
		{PhaseID: p1.ID, Role: "A", Description: "third", Status: "N/A", LastModified: base.Add(3 * time.Second)},
		{PhaseID: p1.ID, Role: "A", Description: "first", Status: "N/A", LastModified: base},
		{PhaseID: p1.ID, Role: "A", Description: "second", Status: "N/A", LastModified: base},
		{PhaseID: p2.ID, Role: "B", Description: "only", Status: "N/A", LastModified: base},
	}
	for i := range rows {
		if err := gdb.Create(&rows[i]).Error; err != nil {
			t.Fatalf("create row: %v", err)
		}
	}

	table, err := Load(gdb, project.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(table) != 2 || table[0].Phase != 1 || table[1].Phase != 2 {
		t.Fatalf("phases = %+v, want [1 2]", table)
	}
	if !table[0].IsActive {
		t.Error("phase 1 should be active")
	}
	var got []string
	for _, r := range table[0].Rows {
		got = append(got, r.Description)
	}
	want := []string{"first", "second", "third"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("phase 1 order = %v, want %v", got, want)
		}
	}
	if table.RowCount() != 4 {
		t.Errorf("RowCount = %d, want 4", table.RowCount())
	}
	if table.Find(2) == nil || table.Find(9) != nil {
		t.Error("Find returned wrong phases")
	}
}

func TestLoadState(t *testing.T) {
	gdb := testDB(t)
	project := models.Project{Name: "p", Version: "v2.1", ManagerRole: "Manager"}
	gdb.Create(&project)
	gdb.Create(&models.ProjectRole{ProjectID: project.ID, RoleName: "Manager"})
	gdb.Create(&models.ProjectRole{ProjectID: project.ID, RoleName: "DBA"})
	gdb.Create(&models.PeriodicScript{ProjectID: project.ID, Name: "health", Path: "health.sh"})

	st, err := LoadState(gdb, &project)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if st.Version != "v2.1" {
		t.Errorf("Version = %q", st.Version)
	}
	if len(st.Roles) != 2 || st.Roles[1] != "DBA" {
		t.Errorf("Roles = %v", st.Roles)
	}
	if len(st.Scripts) != 1 || st.Scripts[0].Name != "health" {
		t.Errorf("Scripts = %+v", st.Scripts)
	}
	if len(st.Table) != 0 {
		t.Errorf("Table = %+v, want empty", st.Table)
	}
}

func TestTable_ReplaceID(t *testing.T) {
	table := Table{
		{Phase: 1, Rows: []Row{{ID: 1}, {ID: 1_700_000_000_001}}},
		{Phase: 2, Rows: []Row{{ID: 3}}},
	}
	if !table.ReplaceID(1_700_000_000_001, 9) {
		t.Fatal("ReplaceID reported no change")
	}
	if table[0].Rows[1].ID != 9 {
		t.Errorf("id = %d, want 9", table[0].Rows[1].ID)
	}
	if table.ReplaceID(42, 43) {
		t.Error("ReplaceID of absent id reported a change")
	}
}
