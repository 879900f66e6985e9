package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS vehicles (
		track_id    BIGINT PRIMARY KEY,
		image_path  TEXT NOT NULL,
		is_illegal  BOOLEAN,
		is_left     BOOLEAN NOT NULL DEFAULT FALSE,
		update_time TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_vehicles_illegal_left ON vehicles(is_illegal, is_left);`,
	`CREATE INDEX IF NOT EXISTS idx_vehicles_update_time ON vehicles(update_time);`,
	`CREATE TABLE IF NOT EXISTS audit_events (
		id          BIGSERIAL PRIMARY KEY,
		event_type  TEXT NOT NULL,
		obj_id      BIGINT NOT NULL,
		payload     JSONB,
		event_time  TIMESTAMPTZ NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_obj_id ON audit_events(obj_id);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_audit_events_dedupe ON audit_events(event_type, obj_id, event_time);`,
	`CREATE INDEX IF NOT EXISTS idx_audit_events_event_time ON audit_events(event_time);`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
