package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Options describes a SQLite database and the schema it must carry.
type Options struct {
	Path   string
	Models []any
	Logger *zap.Logger
}

// OpenSQLite establishes a SQLite connection and migrates the provided models.
func OpenSQLite(options Options) (*gorm.DB, error) {
	if options.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(options.Path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(options.Models...); err != nil {
		return nil, err
	}

	if options.Logger != nil {
		options.Logger.Info("database initialized", zap.String("path", options.Path))
	}

	return db, nil
}
