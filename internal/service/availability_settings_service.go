package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	// Instructor timezones must resolve on hosts without a zoneinfo database.
	_ "time/tzdata"

	"go.uber.org/zap"

	"github.com/noah-isme/instructor-availability-api/internal/models"
	"github.com/noah-isme/instructor-availability-api/pkg/config"
	appErrors "github.com/noah-isme/instructor-availability-api/pkg/errors"
)

type settingsStore interface {
	GetByInstructor(ctx context.Context, instructorID string) (*models.InstructorSettingsOverride, error)
	Upsert(ctx context.Context, row *models.InstructorSettingsOverride) error
}

// SettingsProvider resolves business-rule inputs for an instructor.
type SettingsProvider interface {
	Get(ctx context.Context, instructorID string) (models.AvailabilitySettings, error)
}

// AvailabilitySettingsService merges stored overrides over the global defaults.
type AvailabilitySettingsService struct {
	store    settingsStore
	defaults config.AvailabilityConfig
	logger   *zap.Logger
}

// NewAvailabilitySettingsService constructs the settings provider. store may be
// nil, in which case only the global defaults apply.
func NewAvailabilitySettingsService(store settingsStore, defaults config.AvailabilityConfig, logger *zap.Logger) *AvailabilitySettingsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AvailabilitySettingsService{store: store, defaults: defaults, logger: logger}
}

// Get returns the effective settings for instructorID.
func (s *AvailabilitySettingsService) Get(ctx context.Context, instructorID string) (models.AvailabilitySettings, error) {
	settings := models.AvailabilitySettings{
		InstructorID:           instructorID,
		Timezone:               s.defaults.DefaultTimezone,
		MinAdvanceBookingHours: s.defaults.MinAdvanceBookingHours,
		BufferTimeMinutes:      s.defaults.BufferTimeMinutes,
		PastEditWindowDays:     s.defaults.PastEditWindowDays,
		ClampCopyToFuture:      s.defaults.ClampCopyToFuture,
		AllowPastEdits:         s.defaults.AllowPastEdits,
	}

	if s.store != nil {
		row, err := s.store.GetByInstructor(ctx, instructorID)
		if err != nil {
			return settings, err
		}
		if row != nil {
			applyOverride(&settings, row)
		}
	}

	loc, err := loadLocation(settings.Timezone)
	if err != nil {
		s.logger.Warn("unknown instructor timezone, using UTC",
			zap.String("instructor_id", instructorID), zap.String("timezone", settings.Timezone), zap.Error(err))
		settings.Timezone = "UTC"
		loc = time.UTC
	}
	settings.Location = loc
	return settings, nil
}

// Update stores an override row after validating it and returns the effective settings.
func (s *AvailabilitySettingsService) Update(ctx context.Context, instructorID string, row models.InstructorSettingsOverride) (models.AvailabilitySettings, error) {
	if s.store == nil {
		return models.AvailabilitySettings{}, appErrors.Clone(appErrors.ErrInternal, "settings store not configured")
	}
	row.InstructorID = instructorID
	if row.Timezone != nil {
		if _, err := loadLocation(*row.Timezone); err != nil {
			return models.AvailabilitySettings{}, appErrors.Clone(appErrors.ErrValidation, "unknown timezone")
		}
	}
	for _, rule := range []struct {
		name  string
		value *int
		max   int
	}{
		{"min_advance_booking_hours", row.MinAdvanceBookingHours, config.MaxAdvanceBookingHours},
		{"buffer_time_minutes", row.BufferTimeMinutes, config.MaxBufferTimeMinutes},
		{"past_edit_window_days", row.PastEditWindowDays, config.MaxPastEditWindowDays},
	} {
		if rule.value != nil && (*rule.value < 0 || *rule.value > rule.max) {
			return models.AvailabilitySettings{}, appErrors.Clone(appErrors.ErrValidation,
				fmt.Sprintf("%s must be between 0 and %d", rule.name, rule.max))
		}
	}
	if err := s.store.Upsert(ctx, &row); err != nil {
		return models.AvailabilitySettings{}, err
	}
	return s.Get(ctx, instructorID)
}

func applyOverride(settings *models.AvailabilitySettings, row *models.InstructorSettingsOverride) {
	if row.Timezone != nil && strings.TrimSpace(*row.Timezone) != "" {
		settings.Timezone = strings.TrimSpace(*row.Timezone)
	}
	if inRange(row.MinAdvanceBookingHours, config.MaxAdvanceBookingHours) {
		settings.MinAdvanceBookingHours = *row.MinAdvanceBookingHours
	}
	if inRange(row.BufferTimeMinutes, config.MaxBufferTimeMinutes) {
		settings.BufferTimeMinutes = *row.BufferTimeMinutes
	}
	if inRange(row.PastEditWindowDays, config.MaxPastEditWindowDays) {
		settings.PastEditWindowDays = *row.PastEditWindowDays
	}
	if row.ClampCopyToFuture != nil {
		settings.ClampCopyToFuture = *row.ClampCopyToFuture
	}
	if row.AllowPastEdits != nil {
		settings.AllowPastEdits = *row.AllowPastEdits
	}
}

func inRange(v *int, max int) bool {
	return v != nil && *v >= 0 && *v <= max
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}
