package db

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/zulandar/conductor/internal/config"
	"github.com/zulandar/conductor/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.DatabaseConfig
		database string
		want     string
	}{
		{
			name:     "default local",
			cfg:      config.DatabaseConfig{Host: "127.0.0.1", Port: 3306, User: "root"},
			database: "conductor",
			want:     "root@tcp(127.0.0.1:3306)/conductor?parseTime=true",
		},
		{
			name:     "with password",
			cfg:      config.DatabaseConfig{Host: "10.0.0.5", Port: 3307, User: "app", Password: "pw"},
			database: "runbooks",
			want:     "app:pw@tcp(10.0.0.5:3307)/runbooks?parseTime=true",
		},
		{
			name:     "admin without database",
			cfg:      config.DatabaseConfig{Host: "db.internal", Port: 3306, User: "root"},
			database: "",
			want:     "root@tcp(db.internal:3306)/?parseTime=true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DSN(tt.cfg, tt.database)
			if got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDSN_ParseTimeFlag(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{Host: "localhost", Port: 3306, User: "root"}, "test")
	if !strings.Contains(dsn, "parseTime=true") {
		t.Errorf("DSN missing parseTime=true: %s", dsn)
	}
}

func TestConnect_UnsupportedDriver(t *testing.T) {
	_, err := Connect(config.DatabaseConfig{Driver: "oracle"})
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if !strings.Contains(err.Error(), `unsupported driver "oracle"`) {
		t.Errorf("error = %q", err.Error())
	}
}

func TestConnect_SQLiteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conductor.db")
	cfg := config.DatabaseConfig{Driver: "sqlite", Path: path}

	db, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.Close()

	if err := Drop(cfg); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if err := Drop(cfg); err != nil {
		t.Errorf("Drop of missing file = %v, want nil", err)
	}
}

func TestAllModels_Count(t *testing.T) {
	models := AllModels()
	if len(models) != 8 {
		t.Errorf("AllModels() returned %d models, want 8", len(models))
	}
}

func TestAutoMigrate_CreatesTables(t *testing.T) {
	db := testDB(t)
	for _, m := range AllModels() {
		if !db.Migrator().HasTable(m) {
			t.Errorf("table for %T not created", m)
		}
	}
}

func TestSeedProject_Idempotent(t *testing.T) {
	db := testDB(t)

	first, err := SeedProject(db, "release-42", "")
	if err != nil {
		t.Fatalf("SeedProject: %v", err)
	}
	if first.ManagerRole != "Manager" {
		t.Errorf("ManagerRole = %q, want Manager", first.ManagerRole)
	}
	second, err := SeedProject(db, "release-42", "Lead")
	if err != nil {
		t.Fatalf("SeedProject again: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second seed ID = %d, want %d", second.ID, first.ID)
	}
	if second.ManagerRole != "Manager" {
		t.Errorf("existing project ManagerRole changed to %q", second.ManagerRole)
	}

	var roles []models.ProjectRole
	db.Where("project_id = ?", first.ID).Find(&roles)
	if len(roles) != 1 || roles[0].RoleName != "Manager" {
		t.Errorf("roles = %+v, want single Manager role", roles)
	}
}
