package models

import (
	"time"

	"github.com/noah-isme/instructor-availability-api/pkg/bitset"
)

// DaysPerWeek is the span covered by a week read, write or version.
const DaysPerWeek = 7

// DateLayout is the ISO calendar date format used for keys and payloads.
const DateLayout = "2006-01-02"

// DayBitmap is one persisted row of availability_days.
type DayBitmap struct {
	InstructorID string    `db:"instructor_id" json:"instructor_id"`
	Date         time.Time `db:"day_date" json:"date"`
	Bits         []byte    `db:"bits" json:"-"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// WeekBitmaps holds seven day bitmaps indexed by offset from Start. Present
// records which days had a stored row.
type WeekBitmaps struct {
	Start   time.Time
	Days    [DaysPerWeek][bitset.Size]byte
	Present [DaysPerWeek]bool
}

// NewWeekBitmaps returns an empty week beginning at start.
func NewWeekBitmaps(start time.Time) WeekBitmaps {
	return WeekBitmaps{Start: start}
}

// Date returns the calendar date of the given offset.
func (w *WeekBitmaps) Date(offset int) time.Time {
	return w.Start.AddDate(0, 0, offset)
}

// Offset returns the index of date within the week, or -1 when outside.
func (w *WeekBitmaps) Offset(date time.Time) int {
	days := int(date.Sub(w.Start).Hours() / 24)
	if date.Before(w.Start) || days >= DaysPerWeek {
		return -1
	}
	return days
}

// Set stores bits for the given offset.
func (w *WeekBitmaps) Set(offset int, bits []byte) {
	copy(w.Days[offset][:], bits)
	w.Present[offset] = true
}

// Bits returns a copy of the bitmap at offset.
func (w *WeekBitmaps) Bits(offset int) []byte {
	out := make([]byte, bitset.Size)
	copy(out, w.Days[offset][:])
	return out
}

// TimeWindow is the public half-open [start_time, end_time) window.
type TimeWindow struct {
	StartTime string `json:"start_time" validate:"required"`
	EndTime   string `json:"end_time" validate:"required"`
}

// AvailabilitySettings are the business-rule inputs for one instructor.
type AvailabilitySettings struct {
	InstructorID           string         `json:"instructor_id"`
	Timezone               string         `json:"timezone"`
	Location               *time.Location `json:"-"`
	MinAdvanceBookingHours int            `json:"min_advance_booking_hours"`
	BufferTimeMinutes      int            `json:"buffer_time_minutes"`
	PastEditWindowDays     int            `json:"past_edit_window_days"`
	ClampCopyToFuture      bool           `json:"clamp_copy_to_future"`
	AllowPastEdits         bool           `json:"allow_past_edits"`
}

// InstructorSettingsOverride is a row of instructor_availability_settings; nil
// columns fall back to global defaults.
type InstructorSettingsOverride struct {
	InstructorID           string    `db:"instructor_id"`
	Timezone               *string   `db:"timezone"`
	MinAdvanceBookingHours *int      `db:"min_advance_booking_hours"`
	BufferTimeMinutes      *int      `db:"buffer_time_minutes"`
	PastEditWindowDays     *int      `db:"past_edit_window_days"`
	ClampCopyToFuture      *bool     `db:"clamp_copy_to_future"`
	AllowPastEdits         *bool     `db:"allow_past_edits"`
	UpdatedAt              time.Time `db:"updated_at"`
}
