// Package db opens the postgres connection and applies schema migrations.
package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"parkwatch/internal/config"
)

// Open connects to postgres and runs migrations.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := runMigrations(gdb); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return gdb, nil
}

// Migrate applies the schema to an already-open connection.
func Migrate(gdb *gorm.DB) error {
	return runMigrations(gdb)
}
