package db

import (
	"fmt"

	"github.com/kasuganosora/aiquest/config"
	dbmysql "github.com/kasuganosora/aiquest/db/mysql"
	dbsqlite "github.com/kasuganosora/aiquest/db/sqlite"
	"github.com/kasuganosora/aiquest/model"
	"gorm.io/gorm"
)

const (
	ModeSQLite = "sqlite"
	ModeMySQL  = "mysql"
)

// Open returns a migrated *gorm.DB for a relational storage mode.
func Open(mode string, cfg config.StorageConfig) (*gorm.DB, error) {
	var (
		gdb *gorm.DB
		err error
	)
	switch mode {
	case ModeSQLite:
		gdb, err = dbsqlite.Open(cfg.SQLitePath)
	case ModeMySQL:
		gdb, err = dbmysql.Open(cfg.MySQLDSN, cfg.MySQLMaxOpen, cfg.MySQLMaxIdle, cfg.MySQLMaxLife)
	default:
		return nil, fmt.Errorf("db: unknown mode %q", mode)
	}
	if err != nil {
		return nil, fmt.Errorf("db: open %s: %w", mode, err)
	}
	if err := model.AutoMigrate(gdb); err != nil {
		return nil, fmt.Errorf("db: migrate: %w", err)
	}
	return gdb, nil
}
