//go:build integration

package db

import (
	"os"
	"strconv"
	"testing"

	"github.com/zulandar/conductor/internal/config"
)

// mysqlConfig returns connection settings for a disposable MySQL server
// taken from CONDUCTOR_TEST_MYSQL_HOST / _PORT / _PASSWORD.
func mysqlConfig(t *testing.T) config.DatabaseConfig {
	t.Helper()
	host := os.Getenv("CONDUCTOR_TEST_MYSQL_HOST")
	if host == "" {
		t.Skip("CONDUCTOR_TEST_MYSQL_HOST not set")
	}
	port := 3306
	if p := os.Getenv("CONDUCTOR_TEST_MYSQL_PORT"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			t.Fatalf("bad port %q: %v", p, err)
		}
		port = n
	}
	return config.DatabaseConfig{
		Driver:   "mysql",
		Host:     host,
		Port:     port,
		User:     "root",
		Password: os.Getenv("CONDUCTOR_TEST_MYSQL_PASSWORD"),
		Name:     "conductor_integration",
	}
}

func TestIntegration_PrepareMigrateDrop(t *testing.T) {
	cfg := mysqlConfig(t)

	if err := Prepare(cfg); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	t.Cleanup(func() {
		if err := Drop(cfg); err != nil {
			t.Errorf("Drop: %v", err)
		}
	})

	db, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	p, err := SeedProject(db, "integration", "Manager")
	if err != nil {
		t.Fatalf("SeedProject: %v", err)
	}
	if p.ID == 0 {
		t.Error("seeded project has zero ID")
	}
}
