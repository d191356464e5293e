package dto

import "github.com/noah-isme/instructor-availability-api/internal/models"

// WeekAvailability maps ISO dates to that day's windows. Every date in the
// requested span is present; days without availability map to an empty list.
type WeekAvailability map[string][]models.TimeWindow

// DaySchedule replaces one day's windows.
type DaySchedule struct {
	Date    string              `json:"date" validate:"required"`
	Windows []models.TimeWindow `json:"windows" validate:"dive"`
}

// SaveWeekRequest is the instructor-facing weekly edit payload.
type SaveWeekRequest struct {
	WeekStart     string        `json:"week_start" validate:"required"`
	ClearExisting bool          `json:"clear_existing"`
	Version       string        `json:"version,omitempty"`
	Schedule      []DaySchedule `json:"schedule" validate:"dive"`
}

// SaveWeekResponse reports the outcome of a successful write.
type SaveWeekResponse struct {
	WeekStart   string `json:"week_start"`
	Version     string `json:"version"`
	DaysWritten int64  `json:"days_written"`
	DaysChanged int    `json:"days_changed"`
}

// CopyWeekRequest copies one week's bitmaps onto another week.
type CopyWeekRequest struct {
	FromWeekStart string `json:"from_week_start" validate:"required"`
	ToWeekStart   string `json:"to_week_start" validate:"required"`
	Version       string `json:"version,omitempty"`
}

// CopyWeekResponse reports the effective target week.
type CopyWeekResponse struct {
	FromWeekStart string `json:"from_week_start"`
	ToWeekStart   string `json:"to_week_start"`
	Clamped       bool   `json:"clamped"`
	Version       string `json:"version"`
	DaysWritten   int64  `json:"days_written"`
}

// ApplyPatternRequest expands a template week onto a date range by weekday.
type ApplyPatternRequest struct {
	FromWeekStart string `json:"from_week_start" validate:"required"`
	StartDate     string `json:"start_date" validate:"required"`
	EndDate       string `json:"end_date" validate:"required"`
}

// ApplyPatternResponse summarises the expansion.
type ApplyPatternResponse struct {
	StartDate     string   `json:"start_date"`
	EndDate       string   `json:"end_date"`
	DaysWritten   int64    `json:"days_written"`
	DaysSkipped   int      `json:"days_skipped"`
	WeeksAffected []string `json:"weeks_affected"`
}

// WeekVersionResponse carries a version token for a date span.
type WeekVersionResponse struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Version   string `json:"version"`
}

// AvailabilityCheckResponse answers a booking-layer slot check.
type AvailabilityCheckResponse struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Available bool   `json:"available"`
}

// UpdateSettingsRequest overrides business rules for one instructor. Omitted
// fields keep the global default.
type UpdateSettingsRequest struct {
	Timezone               *string `json:"timezone,omitempty"`
	MinAdvanceBookingHours *int    `json:"min_advance_booking_hours,omitempty"`
	BufferTimeMinutes      *int    `json:"buffer_time_minutes,omitempty"`
	PastEditWindowDays     *int    `json:"past_edit_window_days,omitempty"`
	ClampCopyToFuture      *bool   `json:"clamp_copy_to_future,omitempty"`
	AllowPastEdits         *bool   `json:"allow_past_edits,omitempty"`
}

// ResetAvailabilityResponse reports how many stored days were removed.
type ResetAvailabilityResponse struct {
	InstructorID string `json:"instructor_id"`
	DaysRemoved  int64  `json:"days_removed"`
}
