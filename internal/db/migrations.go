package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS plate_records (
		id              BIGINT PRIMARY KEY,
		plate_text      TEXT NOT NULL,
		confidence      NUMERIC(5,4) NOT NULL,
		source_id       TEXT NOT NULL,
		first_seen      TIMESTAMPTZ NOT NULL,
		image_path      TEXT,
		raw_payload     JSONB,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_plate_records_first_seen ON plate_records(first_seen);`,
	`CREATE INDEX IF NOT EXISTS idx_plate_records_source_first_seen ON plate_records(source_id, first_seen);`,
	`CREATE INDEX IF NOT EXISTS idx_plate_records_plate_text ON plate_records(plate_text);`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
