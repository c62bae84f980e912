package db

import (
	"fmt"
	"net"
	"os"
	"strconv"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/zulandar/conductor/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds a MySQL DSN for the configured database. An empty database
// name addresses the server without selecting a schema.
func DSN(cfg config.DatabaseConfig, database string) string {
	c := mysqldrv.NewConfig()
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	c.DBName = database
	c.ParseTime = true
	return c.FormatDSN()
}

func gormConfig(cfg config.DatabaseConfig) *gorm.Config {
	level := logger.Silent
	if cfg.Debug {
		level = logger.Info
	}
	return &gorm.Config{Logger: logger.Default.LogMode(level)}
}

// Connect opens a GORM connection using the configured driver.
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	switch cfg.Driver {
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(cfg.Path), gormConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("db: open sqlite %s: %w", cfg.Path, err)
		}
		return db, nil
	case "mysql", "":
		db, err := gorm.Open(mysql.Open(DSN(cfg, cfg.Name)), gormConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Name, err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}
}

// ConnectAdmin opens a GORM connection to the MySQL server without selecting
// a specific database, used for CREATE DATABASE operations.
func ConnectAdmin(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(DSN(cfg, "")), gormConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("db: admin connect to %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return db, nil
}

// DropDatabase drops the named database if it exists.
func DropDatabase(adminDB *gorm.DB, name string) error {
	sql := fmt.Sprintf("DROP DATABASE IF EXISTS `%s`", name)
	if err := adminDB.Exec(sql).Error; err != nil {
		return fmt.Errorf("db: drop database %s: %w", name, err)
	}
	return nil
}

// CreateDatabase creates the named database if it doesn't already exist.
func CreateDatabase(adminDB *gorm.DB, name string) error {
	sql := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4", name)
	if err := adminDB.Exec(sql).Error; err != nil {
		return fmt.Errorf("db: create database %s: %w", name, err)
	}
	return nil
}

// Prepare makes sure the configured database exists. For MySQL this creates
// the schema; SQLite files are created on first open.
func Prepare(cfg config.DatabaseConfig) error {
	if cfg.Driver == "sqlite" {
		return nil
	}
	adminDB, err := ConnectAdmin(cfg)
	if err != nil {
		return err
	}
	return CreateDatabase(adminDB, cfg.Name)
}

// Drop removes the configured database: the MySQL schema or the SQLite file.
func Drop(cfg config.DatabaseConfig) error {
	if cfg.Driver == "sqlite" {
		if err := os.Remove(cfg.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("db: remove %s: %w", cfg.Path, err)
		}
		return nil
	}
	adminDB, err := ConnectAdmin(cfg)
	if err != nil {
		return err
	}
	return DropDatabase(adminDB, cfg.Name)
}
