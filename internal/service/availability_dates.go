package service

import (
	"strings"
	"time"

	"github.com/noah-isme/instructor-availability-api/internal/models"
	appErrors "github.com/noah-isme/instructor-availability-api/pkg/errors"
)

// ParseDate parses an ISO calendar date into UTC midnight.
func ParseDate(raw string) (time.Time, error) {
	t, err := time.Parse(models.DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, appErrors.Wrap(err, appErrors.ErrFormat.Code, appErrors.ErrFormat.Status, "invalid date "+raw)
	}
	return t, nil
}

// MondayOf returns the Monday of the ISO week containing t, as a UTC date.
func MondayOf(t time.Time) time.Time {
	day := calendarDate(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// DateRangeDays returns the inclusive number of days in [start, end]. An end
// before start is a range error.
func DateRangeDays(start, end time.Time) (int, error) {
	start, end = calendarDate(start), calendarDate(end)
	if end.Before(start) {
		return 0, appErrors.Clone(appErrors.ErrRange, "end_date is before start_date")
	}
	return int(end.Sub(start).Hours()/24) + 1, nil
}

func weekdayOffset(day time.Time) int {
	return (int(day.Weekday()) + 6) % 7
}

func calendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func formatDate(t time.Time) string {
	return t.Format(models.DateLayout)
}

// localToday is the instructor's current calendar date.
func localToday(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return calendarDate(now.In(loc))
}

func earliestEditableDate(now time.Time, settings models.AvailabilitySettings) time.Time {
	return localToday(now, settings.Location).AddDate(0, 0, -settings.PastEditWindowDays)
}
