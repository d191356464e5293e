package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/instructor-availability-api/internal/models"
)

// InstructorSettingsRepository persists per-instructor rule overrides.
type InstructorSettingsRepository struct {
	db *sqlx.DB
}

// NewInstructorSettingsRepository constructs the repository.
func NewInstructorSettingsRepository(db *sqlx.DB) *InstructorSettingsRepository {
	return &InstructorSettingsRepository{db: db}
}

// GetByInstructor returns the stored override row, or nil when the instructor
// has none.
func (r *InstructorSettingsRepository) GetByInstructor(ctx context.Context, instructorID string) (*models.InstructorSettingsOverride, error) {
	const query = `SELECT instructor_id, timezone, min_advance_booking_hours, buffer_time_minutes,
past_edit_window_days, clamp_copy_to_future, allow_past_edits, updated_at
FROM instructor_availability_settings WHERE instructor_id = $1`
	var row models.InstructorSettingsOverride
	if err := r.db.GetContext(ctx, &row, query, instructorID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, repoError("get instructor settings", err)
	}
	return &row, nil
}

// Upsert stores the override row. Nil fields are written as NULL so the
// global default applies again.
func (r *InstructorSettingsRepository) Upsert(ctx context.Context, row *models.InstructorSettingsOverride) error {
	const query = `INSERT INTO instructor_availability_settings (instructor_id, timezone, min_advance_booking_hours,
    buffer_time_minutes, past_edit_window_days, clamp_copy_to_future, allow_past_edits, updated_at)
VALUES (:instructor_id, :timezone, :min_advance_booking_hours, :buffer_time_minutes, :past_edit_window_days,
    :clamp_copy_to_future, :allow_past_edits, :updated_at)
ON CONFLICT (instructor_id)
DO UPDATE SET timezone = EXCLUDED.timezone, min_advance_booking_hours = EXCLUDED.min_advance_booking_hours,
              buffer_time_minutes = EXCLUDED.buffer_time_minutes, past_edit_window_days = EXCLUDED.past_edit_window_days,
              clamp_copy_to_future = EXCLUDED.clamp_copy_to_future, allow_past_edits = EXCLUDED.allow_past_edits,
              updated_at = EXCLUDED.updated_at`
	row.UpdatedAt = time.Now().UTC()
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return repoError("upsert instructor settings", err)
	}
	return nil
}
