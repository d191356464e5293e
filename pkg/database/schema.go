package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schema is idempotent; bits is always six bytes (48 half-hour slots).
var schema = []string{
	`CREATE TABLE IF NOT EXISTS availability_days (
    instructor_id TEXT NOT NULL,
    day_date      DATE NOT NULL,
    bits          BYTEA NOT NULL CHECK (octet_length(bits) = 6),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (instructor_id, day_date)
)`,
	`CREATE TABLE IF NOT EXISTS instructor_availability_settings (
    instructor_id             TEXT PRIMARY KEY,
    timezone                  TEXT,
    min_advance_booking_hours INT,
    buffer_time_minutes       INT,
    past_edit_window_days     INT,
    clamp_copy_to_future      BOOLEAN,
    allow_past_edits          BOOLEAN,
    updated_at                TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
}

// Migrate creates the availability tables when missing.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration tx: %w", err)
	}
	return nil
}
