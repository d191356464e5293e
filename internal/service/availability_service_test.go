package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/instructor-availability-api/internal/dto"
	"github.com/noah-isme/instructor-availability-api/internal/models"
	"github.com/noah-isme/instructor-availability-api/internal/repository"
	"github.com/noah-isme/instructor-availability-api/pkg/bitset"
	"github.com/noah-isme/instructor-availability-api/pkg/cache"
	"github.com/noah-isme/instructor-availability-api/pkg/config"
	appErrors "github.com/noah-isme/instructor-availability-api/pkg/errors"
	"github.com/noah-isme/instructor-availability-api/pkg/middleware/requestid"
)

const instructor = "inst-1"

func defaultSettings() models.AvailabilitySettings {
	return models.AvailabilitySettings{Timezone: "UTC", Location: time.UTC, ClampCopyToFuture: true}
}

func newTestAvailabilityService(now time.Time, settings models.AvailabilitySettings, cacheSvc *CacheService) (*AvailabilityService, *fakeDayStore) {
	store := newFakeDayStore()
	svc := NewAvailabilityService(store, staticSettings{settings: settings}, cacheSvc, nil, nil, nil, nil, AvailabilityServiceConfig{MaxRangeDays: 90})
	svc.now = func() time.Time { return now }
	return svc, store
}

func window(start, end string) models.TimeWindow {
	return models.TimeWindow{StartTime: start, EndTime: end}
}

func TestSaveWeekThenReadBack(t *testing.T) {
	svc, _ := newTestAvailabilityService(time.Date(2025, 7, 14, 8, 0, 0, 0, time.UTC), defaultSettings(), nil)
	ctx := context.Background()

	resp, err := svc.SaveWeekAvailability(ctx, instructor, dto.SaveWeekRequest{
		WeekStart:     "2025-07-14",
		ClearExisting: true,
		Schedule:      []dto.DaySchedule{{Date: "2025-07-15", Windows: []models.TimeWindow{window("09:00", "10:00")}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "2025-07-14", resp.WeekStart)
	assert.Equal(t, int64(7), resp.DaysWritten)
	assert.Equal(t, 1, resp.DaysChanged)

	week, _, hit, err := svc.GetWeekAvailability(ctx, instructor, date("2025-07-15"))
	require.NoError(t, err)
	assert.False(t, hit)
	require.Len(t, week, 7)
	assert.Equal(t, []models.TimeWindow{window("09:00:00", "10:00:00")}, week["2025-07-15"])
	for _, day := range []string{"2025-07-14", "2025-07-16", "2025-07-17", "2025-07-18", "2025-07-19", "2025-07-20"} {
		assert.NotNil(t, week[day], day)
		assert.Empty(t, week[day], day)
	}
}

func TestSaveWeekRejectsStaleVersionThenAcceptsFresh(t *testing.T) {
	svc, store := newTestAvailabilityService(time.Date(2025, 7, 14, 8, 0, 0, 0, time.UTC), defaultSettings(), nil)
	ctx := context.Background()
	monday := date("2025-07-14")

	v0, err := svc.ComputeWeekVersion(ctx, instructor, monday, monday.AddDate(0, 0, 6))
	require.NoError(t, err)

	first, err := svc.SaveWeekAvailability(ctx, instructor, dto.SaveWeekRequest{
		WeekStart: "2025-07-14",
		Version:   v0,
		Schedule:  []dto.DaySchedule{{Date: "2025-07-15", Windows: []models.TimeWindow{window("09:00", "10:00")}}},
	})
	require.NoError(t, err)
	assert.NotEqual(t, v0, first.Version)

	upsertsBefore := store.upserts
	_, err = svc.SaveWeekAvailability(ctx, instructor, dto.SaveWeekRequest{
		WeekStart: "2025-07-14",
		Version:   v0,
		Schedule:  []dto.DaySchedule{{Date: "2025-07-15", Windows: []models.TimeWindow{window("14:00", "15:00")}}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrVersionConflict))
	assert.Equal(t, upsertsBefore, store.upserts)

	bits, _ := store.get(instructor, "2025-07-15")
	assert.Equal(t, mustBits("09:00", "10:00"), bits)

	v1, err := svc.ComputeWeekVersion(ctx, instructor, monday, monday.AddDate(0, 0, 6))
	require.NoError(t, err)
	assert.Equal(t, first.Version, v1)

	_, err = svc.SaveWeekAvailability(ctx, instructor, dto.SaveWeekRequest{
		WeekStart:     "2025-07-14",
		Version:       v1,
		ClearExisting: true,
		Schedule:      []dto.DaySchedule{{Date: "2025-07-15", Windows: []models.TimeWindow{window("14:00", "15:00")}}},
	})
	require.NoError(t, err)

	week, _, _, err := svc.GetWeekAvailability(ctx, instructor, monday)
	require.NoError(t, err)
	assert.Equal(t, []models.TimeWindow{window("14:00:00", "15:00:00")}, week["2025-07-15"])
}

func TestSaveWeekConcurrentWritersWithSameVersion(t *testing.T) {
	svc, _ := newTestAvailabilityService(time.Date(2025, 7, 14, 8, 0, 0, 0, time.UTC), defaultSettings(), nil)
	ctx := context.Background()
	monday := date("2025-07-14")

	v0, err := svc.ComputeWeekVersion(ctx, instructor, monday, monday.AddDate(0, 0, 6))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, conflicts := 0, 0
	for _, w := range []models.TimeWindow{window("09:00", "10:00"), window("11:00", "12:00"), window("13:00", "14:00")} {
		wg.Add(1)
		go func(w models.TimeWindow) {
			defer wg.Done()
			_, err := svc.SaveWeekAvailability(ctx, instructor, dto.SaveWeekRequest{
				WeekStart: "2025-07-14",
				Version:   v0,
				Schedule:  []dto.DaySchedule{{Date: "2025-07-16", Windows: []models.TimeWindow{w}}},
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if errors.Is(err, appErrors.ErrVersionConflict) {
				conflicts++
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 2, conflicts)
}

func TestComputeWeekVersionStability(t *testing.T) {
	svc, store := newTestAvailabilityService(time.Date(2025, 7, 14, 8, 0, 0, 0, time.UTC), defaultSettings(), nil)
	ctx := context.Background()
	monday := date("2025-07-14")
	sunday := monday.AddDate(0, 0, 6)
	store.set(instructor, "2025-07-15", mustBits("09:00", "10:00"))

	a, err := svc.ComputeWeekVersion(ctx, instructor, monday, sunday)
	require.NoError(t, err)
	b, err := svc.ComputeWeekVersion(ctx, instructor, monday, sunday)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)

	for _, idx := range []int{0, 18, 47} {
		current, _ := store.get(instructor, "2025-07-15")
		set, err := bitset.IsSet(current, idx)
		require.NoError(t, err)
		flipped, err := bitset.ToggleIndex(current, idx, !set)
		require.NoError(t, err)
		store.set(instructor, "2025-07-15", flipped)

		changed, err := svc.ComputeWeekVersion(ctx, instructor, monday, sunday)
		require.NoError(t, err)
		assert.NotEqual(t, a, changed, "bit %d", idx)

		store.set(instructor, "2025-07-15", current)
	}

	other, err := svc.ComputeWeekVersion(ctx, "inst-2", monday, sunday)
	require.NoError(t, err)
	assert.NotEqual(t, a, other)

	// An explicitly stored empty day hashes like an absent one.
	store.set(instructor, "2025-07-18", bitset.Empty())
	withEmpty, err := svc.ComputeWeekVersion(ctx, instructor, monday, sunday)
	require.NoError(t, err)
	assert.Equal(t, a, withEmpty)
}

func TestComputeWeekVersionRejectsInvertedRange(t *testing.T) {
	svc, store := newTestAvailabilityService(time.Now(), defaultSettings(), nil)
	_, err := svc.ComputeWeekVersion(context.Background(), instructor, date("2025-07-20"), date("2025-07-14"))
	assert.True(t, errors.Is(err, appErrors.ErrRange))

	_, err = svc.ComputeWeekVersion(context.Background(), instructor, date("2025-01-01"), date("2025-12-31"))
	assert.True(t, errors.Is(err, appErrors.ErrRange))
	assert.Zero(t, store.rangeReads)
}

func TestSaveWeekRejectsBadInputBeforeAnyWrite(t *testing.T) {
	svc, store := newTestAvailabilityService(time.Date(2025, 7, 14, 8, 0, 0, 0, time.UTC), defaultSettings(), nil)
	ctx := context.Background()

	cases := []struct {
		name string
		req  dto.SaveWeekRequest
		want *appErrors.Error
	}{
		{"unparseable time", dto.SaveWeekRequest{WeekStart: "2025-07-14", Schedule: []dto.DaySchedule{{Date: "2025-07-15", Windows: []models.TimeWindow{window("9:00", "10:00")}}}}, appErrors.ErrFormat},
		{"unaligned time", dto.SaveWeekRequest{WeekStart: "2025-07-14", Schedule: []dto.DaySchedule{{Date: "2025-07-15", Windows: []models.TimeWindow{window("09:15", "10:00")}}}}, appErrors.ErrFormat},
		{"inverted window", dto.SaveWeekRequest{WeekStart: "2025-07-14", Schedule: []dto.DaySchedule{{Date: "2025-07-15", Windows: []models.TimeWindow{window("10:00", "09:00")}}}}, appErrors.ErrRange},
		{"past midnight", dto.SaveWeekRequest{WeekStart: "2025-07-14", Schedule: []dto.DaySchedule{{Date: "2025-07-15", Windows: []models.TimeWindow{window("23:00", "24:30")}}}}, appErrors.ErrRange},
		{"date outside week", dto.SaveWeekRequest{WeekStart: "2025-07-14", Schedule: []dto.DaySchedule{{Date: "2025-07-21", Windows: []models.TimeWindow{window("09:00", "10:00")}}}}, appErrors.ErrRange},
		{"bad date", dto.SaveWeekRequest{WeekStart: "2025-07-14", Schedule: []dto.DaySchedule{{Date: "15/07/2025"}}}, appErrors.ErrFormat},
		{"week start not monday", dto.SaveWeekRequest{WeekStart: "2025-07-15"}, appErrors.ErrValidation},
		{"missing week start", dto.SaveWeekRequest{}, appErrors.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SaveWeekAvailability(ctx, instructor, tc.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
	assert.Zero(t, store.locks)
	assert.Zero(t, store.upserts)
}

func TestSaveWeekUnionsRepeatedDates(t *testing.T) {
	svc, store := newTestAvailabilityService(time.Date(2025, 7, 14, 8, 0, 0, 0, time.UTC), defaultSettings(), nil)

	_, err := svc.SaveWeekAvailability(context.Background(), instructor, dto.SaveWeekRequest{
		WeekStart: "2025-07-14",
		Schedule: []dto.DaySchedule{
			{Date: "2025-07-15", Windows: []models.TimeWindow{window("09:00", "10:00")}},
			{Date: "2025-07-15", Windows: []models.TimeWindow{window("10:00", "11:00")}},
		},
	})
	require.NoError(t, err)
	bits, _ := store.get(instructor, "2025-07-15")
	assert.Equal(t, mustBits("09:00", "11:00"), bits)
}

func TestSaveWeekPastEditWindow(t *testing.T) {
	now := time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("rejects explicit past day", func(t *testing.T) {
		svc, store := newTestAvailabilityService(now, defaultSettings(), nil)
		_, err := svc.SaveWeekAvailability(ctx, instructor, dto.SaveWeekRequest{
			WeekStart: "2025-07-14",
			Schedule:  []dto.DaySchedule{{Date: "2025-07-14", Windows: []models.TimeWindow{window("09:00", "10:00")}}},
		})
		assert.True(t, errors.Is(err, appErrors.ErrPastEditWindow))
		assert.Zero(t, store.upserts)
	})

	t.Run("clear existing leaves locked days untouched", func(t *testing.T) {
		svc, store := newTestAvailabilityService(now, defaultSettings(), nil)
		store.set(instructor, "2025-07-14", mustBits("09:00", "10:00"))
		store.set(instructor, "2025-07-16", mustBits("09:00", "10:00"))

		resp, err := svc.SaveWeekAvailability(ctx, instructor, dto.SaveWeekRequest{
			WeekStart:     "2025-07-14",
			ClearExisting: true,
			Schedule:      []dto.DaySchedule{{Date: "2025-07-17", Windows: []models.TimeWindow{window("18:00", "24:00")}}},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(5), resp.DaysWritten)

		past, _ := store.get(instructor, "2025-07-14")
		assert.Equal(t, mustBits("09:00", "10:00"), past)
		today, _ := store.get(instructor, "2025-07-16")
		assert.Equal(t, bitset.Empty(), today)
		_, exists := store.get(instructor, "2025-07-15")
		assert.False(t, exists)
	})

	t.Run("window days back are editable", func(t *testing.T) {
		settings := defaultSettings()
		settings.PastEditWindowDays = 2
		svc, _ := newTestAvailabilityService(now, settings, nil)
		_, err := svc.SaveWeekAvailability(ctx, instructor, dto.SaveWeekRequest{
			WeekStart: "2025-07-14",
			Schedule:  []dto.DaySchedule{{Date: "2025-07-14", Windows: []models.TimeWindow{window("09:00", "10:00")}}},
		})
		assert.NoError(t, err)
	})

	t.Run("allow past edits", func(t *testing.T) {
		settings := defaultSettings()
		settings.AllowPastEdits = true
		svc, _ := newTestAvailabilityService(now, settings, nil)
		_, err := svc.SaveWeekAvailability(ctx, instructor, dto.SaveWeekRequest{
			WeekStart: "2025-07-07",
			Schedule:  []dto.DaySchedule{{Date: "2025-07-07", Windows: []models.TimeWindow{window("09:00", "10:00")}}},
		})
		assert.NoError(t, err)
	})

	t.Run("today is judged in the instructor timezone", func(t *testing.T) {
		settings := defaultSettings()
		loc, err := time.LoadLocation("Pacific/Auckland")
		require.NoError(t, err)
		settings.Location = loc
		// 2025-07-15 13:00 UTC is already 2025-07-16 in Auckland.
		svc, _ := newTestAvailabilityService(time.Date(2025, 7, 15, 13, 0, 0, 0, time.UTC), settings, nil)
		_, err = svc.SaveWeekAvailability(ctx, instructor, dto.SaveWeekRequest{
			WeekStart: "2025-07-14",
			Schedule:  []dto.DaySchedule{{Date: "2025-07-15", Windows: []models.TimeWindow{window("09:00", "10:00")}}},
		})
		assert.True(t, errors.Is(err, appErrors.ErrPastEditWindow))
	})
}

func TestComputePublicAvailabilityPreservesMidnightWindow(t *testing.T) {
	settings := defaultSettings()
	settings.MinAdvanceBookingHours = 3
	svc, store := newTestAvailabilityService(time.Now(), settings, nil)
	store.set(instructor, "2025-07-15", mustBits("21:00", "24:00"))

	days, _, err := svc.ComputePublicAvailability(context.Background(), instructor, date("2025-07-15"), date("2025-07-15"),
		time.Date(2025, 7, 15, 20, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []models.TimeWindow{window("23:00:00", "24:00:00")}, days["2025-07-15"])
}

func TestComputePublicAvailabilityUsesLocalCutoff(t *testing.T) {
	settings := defaultSettings()
	settings.MinAdvanceBookingHours = 3
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	settings.Location = loc
	svc, store := newTestAvailabilityService(time.Now(), settings, nil)
	store.set(instructor, "2025-07-15", mustBits("21:00", "24:00"))

	// 00:00 UTC on the 16th is 20:00 EDT on the 15th.
	days, _, err := svc.ComputePublicAvailability(context.Background(), instructor, date("2025-07-15"), date("2025-07-16"),
		time.Date(2025, 7, 16, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []models.TimeWindow{window("23:00:00", "24:00:00")}, days["2025-07-15"])
	assert.Empty(t, days["2025-07-16"])
}

func TestComputePublicAvailabilityAdvanceCutoff(t *testing.T) {
	settings := defaultSettings()
	settings.MinAdvanceBookingHours = 2
	svc, store := newTestAvailabilityService(time.Now(), settings, nil)
	store.set(instructor, "2025-07-14", mustBits("09:00", "17:00"))
	store.set(instructor, "2025-07-15", mustBits("09:00", "12:00"))
	store.set(instructor, "2025-07-16", mustBits("09:00", "10:00"))

	days, _, err := svc.ComputePublicAvailability(context.Background(), instructor, date("2025-07-14"), date("2025-07-16"),
		time.Date(2025, 7, 15, 9, 10, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, days, 3)
	assert.Empty(t, days["2025-07-14"])
	assert.Equal(t, []models.TimeWindow{window("11:30:00", "12:00:00")}, days["2025-07-15"])
	assert.Equal(t, []models.TimeWindow{window("09:00:00", "10:00:00")}, days["2025-07-16"])
}

func TestComputePublicAvailabilityBufferKeepsDayEdges(t *testing.T) {
	settings := defaultSettings()
	settings.BufferTimeMinutes = 30
	svc, store := newTestAvailabilityService(time.Now(), settings, nil)
	store.set(instructor, "2025-07-16", mustBits("00:00", "02:00", "10:00", "12:00", "15:00", "16:00", "22:00", "24:00"))

	days, _, err := svc.ComputePublicAvailability(context.Background(), instructor, date("2025-07-16"), date("2025-07-16"),
		time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []models.TimeWindow{
		window("00:00:00", "01:30:00"),
		window("10:30:00", "11:30:00"),
		window("22:30:00", "24:00:00"),
	}, days["2025-07-16"])
}

func TestComputePublicAvailabilitySpansWeeks(t *testing.T) {
	svc, store := newTestAvailabilityService(time.Now(), defaultSettings(), nil)
	store.set(instructor, "2025-07-20", mustBits("09:00", "10:00"))
	store.set(instructor, "2025-07-21", mustBits("10:00", "11:00"))

	days, _, err := svc.ComputePublicAvailability(context.Background(), instructor, date("2025-07-19"), date("2025-07-22"),
		time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, days, 4)
	assert.Equal(t, []models.TimeWindow{window("09:00:00", "10:00:00")}, days["2025-07-20"])
	assert.Equal(t, []models.TimeWindow{window("10:00:00", "11:00:00")}, days["2025-07-21"])
	assert.Equal(t, 2, store.weekReads)
}

func TestCopyWeekClampsToFuture(t *testing.T) {
	now := time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	svc, store := newTestAvailabilityService(now, defaultSettings(), nil)
	store.set(instructor, "2025-07-07", mustBits("09:00", "10:00"))
	store.set(instructor, "2025-07-13", mustBits("20:00", "24:00"))

	resp, err := svc.CopyWeek(ctx, instructor, dto.CopyWeekRequest{FromWeekStart: "2025-07-07", ToWeekStart: "2025-07-14"})
	require.NoError(t, err)
	assert.True(t, resp.Clamped)
	assert.Equal(t, "2025-07-21", resp.ToWeekStart)
	assert.Equal(t, int64(7), resp.DaysWritten)

	week, _, _, err := svc.GetWeekAvailability(ctx, instructor, date("2025-07-21"))
	require.NoError(t, err)
	assert.Equal(t, []models.TimeWindow{window("09:00:00", "10:00:00")}, week["2025-07-21"])
	assert.Equal(t, []models.TimeWindow{window("20:00:00", "24:00:00")}, week["2025-07-27"])

	version, err := svc.ComputeWeekVersion(ctx, instructor, date("2025-07-21"), date("2025-07-27"))
	require.NoError(t, err)
	assert.Equal(t, version, resp.Version)

	_, touched := store.get(instructor, "2025-07-14")
	assert.False(t, touched)
}

func TestCopyWeekWithoutClampRejectsPastTarget(t *testing.T) {
	settings := defaultSettings()
	settings.ClampCopyToFuture = false
	svc, store := newTestAvailabilityService(time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC), settings, nil)

	_, err := svc.CopyWeek(context.Background(), instructor, dto.CopyWeekRequest{FromWeekStart: "2025-07-07", ToWeekStart: "2025-07-14"})
	assert.True(t, errors.Is(err, appErrors.ErrPastEditWindow))
	assert.Zero(t, store.locks)

	resp, err := svc.CopyWeek(context.Background(), instructor, dto.CopyWeekRequest{FromWeekStart: "2025-07-07", ToWeekStart: "2025-07-28"})
	require.NoError(t, err)
	assert.False(t, resp.Clamped)
	assert.Equal(t, "2025-07-28", resp.ToWeekStart)
}

func TestCopyWeekChecksVersionOfEffectiveTarget(t *testing.T) {
	svc, store := newTestAvailabilityService(time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC), defaultSettings(), nil)
	ctx := context.Background()
	store.set(instructor, "2025-07-21", mustBits("08:00", "09:00"))

	stale, err := svc.ComputeWeekVersion(ctx, instructor, date("2025-07-14"), date("2025-07-20"))
	require.NoError(t, err)
	_, err = svc.CopyWeek(ctx, instructor, dto.CopyWeekRequest{FromWeekStart: "2025-07-07", ToWeekStart: "2025-07-14", Version: stale})
	assert.True(t, errors.Is(err, appErrors.ErrVersionConflict))

	current, err := svc.ComputeWeekVersion(ctx, instructor, date("2025-07-21"), date("2025-07-27"))
	require.NoError(t, err)
	_, err = svc.CopyWeek(ctx, instructor, dto.CopyWeekRequest{FromWeekStart: "2025-07-07", ToWeekStart: "2025-07-14", Version: current})
	require.NoError(t, err)
	bits, _ := store.get(instructor, "2025-07-21")
	assert.Equal(t, bitset.Empty(), bits)
}

func TestApplyPatternSkipsPastDays(t *testing.T) {
	svc, store := newTestAvailabilityService(time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC), defaultSettings(), nil)
	ctx := context.Background()
	monday := mustBits("09:00", "12:00")
	wednesday := mustBits("14:00", "16:00")
	store.set(instructor, "2025-07-07", monday)
	store.set(instructor, "2025-07-09", wednesday)

	resp, err := svc.ApplyPattern(ctx, instructor, dto.ApplyPatternRequest{FromWeekStart: "2025-07-07", StartDate: "2025-07-14", EndDate: "2025-07-27"})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.DaysSkipped)
	assert.Equal(t, int64(12), resp.DaysWritten)
	assert.Equal(t, []string{"2025-07-14", "2025-07-21"}, resp.WeeksAffected)
	assert.Equal(t, 2, store.locks)

	got, _ := store.get(instructor, "2025-07-16")
	assert.Equal(t, wednesday, got)
	got, _ = store.get(instructor, "2025-07-21")
	assert.Equal(t, monday, got)
	got, _ = store.get(instructor, "2025-07-23")
	assert.Equal(t, wednesday, got)
	got, _ = store.get(instructor, "2025-07-22")
	assert.Equal(t, bitset.Empty(), got)
	_, exists := store.get(instructor, "2025-07-14")
	assert.False(t, exists)
}

func TestApplyPatternValidation(t *testing.T) {
	settings := defaultSettings()
	settings.ClampCopyToFuture = false
	svc, store := newTestAvailabilityService(time.Date(2025, 7, 16, 12, 0, 0, 0, time.UTC), settings, nil)
	ctx := context.Background()

	_, err := svc.ApplyPattern(ctx, instructor, dto.ApplyPatternRequest{FromWeekStart: "2025-07-07", StartDate: "2025-07-14", EndDate: "2025-07-20"})
	assert.True(t, errors.Is(err, appErrors.ErrPastEditWindow))

	_, err = svc.ApplyPattern(ctx, instructor, dto.ApplyPatternRequest{FromWeekStart: "2025-07-07", StartDate: "2025-07-30", EndDate: "2025-07-20"})
	assert.True(t, errors.Is(err, appErrors.ErrRange))

	_, err = svc.ApplyPattern(ctx, instructor, dto.ApplyPatternRequest{FromWeekStart: "2025-07-08", StartDate: "2025-07-20", EndDate: "2025-07-30"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	assert.Zero(t, store.upserts)
}

func TestIsWindowAvailable(t *testing.T) {
	svc, store := newTestAvailabilityService(time.Now(), defaultSettings(), nil)
	ctx := context.Background()
	store.set(instructor, "2025-07-15", mustBits("09:00", "12:00", "23:00", "24:00"))

	ok, err := svc.IsWindowAvailable(ctx, instructor, date("2025-07-15"), "10:00", "11:00")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.IsWindowAvailable(ctx, instructor, date("2025-07-15"), "23:00:00", "24:00:00")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.IsWindowAvailable(ctx, instructor, date("2025-07-15"), "11:30", "12:30")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.IsWindowAvailable(ctx, instructor, date("2025-07-15"), "10:15", "11:00")
	assert.True(t, errors.Is(err, appErrors.ErrFormat))
}

func TestResetInstructor(t *testing.T) {
	svc, store := newTestAvailabilityService(time.Now(), defaultSettings(), nil)
	store.set(instructor, "2025-07-15", mustBits("09:00", "10:00"))
	store.set(instructor, "2025-07-16", mustBits("09:00", "10:00"))
	store.set("inst-2", "2025-07-16", mustBits("09:00", "10:00"))

	removed, err := svc.ResetInstructor(context.Background(), instructor)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
	_, exists := store.get("inst-2", "2025-07-16")
	assert.True(t, exists)
}

func TestRepositoryErrorsSurface(t *testing.T) {
	svc, store := newTestAvailabilityService(time.Date(2025, 7, 14, 8, 0, 0, 0, time.UTC), defaultSettings(), nil)
	store.err = appErrors.Clone(appErrors.ErrRepository, "")

	_, _, _, err := svc.GetWeekAvailability(context.Background(), instructor, date("2025-07-14"))
	assert.True(t, errors.Is(err, appErrors.ErrRepository))

	_, err = svc.SaveWeekAvailability(context.Background(), instructor, dto.SaveWeekRequest{WeekStart: "2025-07-14"})
	assert.True(t, errors.Is(err, appErrors.ErrRepository))
}

func TestReadsGoThroughCacheAndWritesInvalidate(t *testing.T) {
	cacheSvc := NewCacheService(repository.NewMemoryCacheRepository(cache.NewMemory(time.Minute)), NewMetricsService(), nil, CacheOptions{Enabled: true})
	svc, store := newTestAvailabilityService(time.Date(2025, 7, 14, 8, 0, 0, 0, time.UTC), defaultSettings(), cacheSvc)
	ctx := context.Background()
	store.set(instructor, "2025-07-15", mustBits("09:00", "10:00"))

	_, _, hit, err := svc.GetWeekAvailability(ctx, instructor, date("2025-07-14"))
	require.NoError(t, err)
	assert.False(t, hit)
	week, _, hit, err := svc.GetWeekAvailability(ctx, instructor, date("2025-07-14"))
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []models.TimeWindow{window("09:00:00", "10:00:00")}, week["2025-07-15"])
	assert.Equal(t, 1, store.weekReads)

	_, err = svc.SaveWeekAvailability(ctx, instructor, dto.SaveWeekRequest{
		WeekStart: "2025-07-14",
		Schedule:  []dto.DaySchedule{{Date: "2025-07-15", Windows: []models.TimeWindow{window("13:00", "14:00")}}},
	})
	require.NoError(t, err)

	week, _, hit, err = svc.GetWeekAvailability(ctx, instructor, date("2025-07-14"))
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []models.TimeWindow{window("13:00:00", "14:00:00")}, week["2025-07-15"])
}

func TestCacheFailuresDegradeSilently(t *testing.T) {
	metrics := NewMetricsService()
	cacheSvc := NewCacheService(failingCacheRepo{}, metrics, nil, CacheOptions{Enabled: true})
	svc, store := newTestAvailabilityService(time.Date(2025, 7, 14, 8, 0, 0, 0, time.UTC), defaultSettings(), cacheSvc)
	queue := &recordingQueue{}
	svc.queue = queue
	ctx := context.Background()
	store.set(instructor, "2025-07-15", mustBits("09:00", "10:00"))

	week, _, hit, err := svc.GetWeekAvailability(ctx, instructor, date("2025-07-14"))
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []models.TimeWindow{window("09:00:00", "10:00:00")}, week["2025-07-15"])

	ok, err := svc.IsWindowAvailable(ctx, instructor, date("2025-07-15"), "09:00", "09:30")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = svc.SaveWeekAvailability(ctx, instructor, dto.SaveWeekRequest{
		WeekStart: "2025-07-14",
		Schedule:  []dto.DaySchedule{{Date: "2025-07-16", Windows: []models.TimeWindow{window("09:00", "10:00")}}},
	})
	require.NoError(t, err)

	require.Len(t, queue.jobs, 1)
	assert.Equal(t, CacheInvalidationJob, queue.jobs[0].Type)
	assert.Error(t, svc.HandleCacheInvalidation(ctx, queue.jobs[0]))
	assert.NotZero(t, metrics.Snapshot().CacheErrors)
}

func newStaleCacheService(t *testing.T, now time.Time) (*AvailabilityService, *fakeDayStore) {
	t.Helper()
	repo := deleteFailingCache{repository.NewMemoryCacheRepository(cache.NewMemory(time.Hour))}
	cacheSvc := NewCacheService(repo, nil, nil, CacheOptions{Enabled: true, HotTTL: time.Hour, WarmTTL: time.Hour})
	return newTestAvailabilityService(now, defaultSettings(), cacheSvc)
}

func TestStaleCachedWeekCarriesStaleVersion(t *testing.T) {
	svc, store := newStaleCacheService(t, time.Date(2025, 7, 14, 8, 0, 0, 0, time.UTC))
	ctx := context.Background()
	monday := date("2025-07-14")

	_, v0, hit, err := svc.GetWeekAvailability(ctx, instructor, monday)
	require.NoError(t, err)
	assert.False(t, hit)
	fresh, err := svc.ComputeWeekVersion(ctx, instructor, monday, monday.AddDate(0, 0, 6))
	require.NoError(t, err)
	assert.Equal(t, fresh, v0)

	_, err = svc.SaveWeekAvailability(ctx, instructor, dto.SaveWeekRequest{
		WeekStart: "2025-07-14",
		Version:   v0,
		Schedule:  []dto.DaySchedule{{Date: "2025-07-15", Windows: []models.TimeWindow{window("09:00", "10:00")}}},
	})
	require.NoError(t, err)

	week, stale, hit, err := svc.GetWeekAvailability(ctx, instructor, monday)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Empty(t, week["2025-07-15"])
	assert.Equal(t, v0, stale)

	_, err = svc.SaveWeekAvailability(ctx, instructor, dto.SaveWeekRequest{
		WeekStart:     "2025-07-14",
		Version:       stale,
		ClearExisting: true,
	})
	assert.True(t, errors.Is(err, appErrors.ErrVersionConflict))
	bits, _ := store.get(instructor, "2025-07-15")
	assert.Equal(t, mustBits("09:00", "10:00"), bits)
}

func TestIsWindowAvailableIgnoresStaleCache(t *testing.T) {
	svc, store := newStaleCacheService(t, time.Date(2025, 7, 14, 8, 0, 0, 0, time.UTC))
	ctx := context.Background()
	store.set(instructor, "2025-07-15", mustBits("09:00", "10:00"))

	_, _, _, err := svc.GetWeekAvailability(ctx, instructor, date("2025-07-14"))
	require.NoError(t, err)
	_, err = svc.SaveWeekAvailability(ctx, instructor, dto.SaveWeekRequest{WeekStart: "2025-07-14", ClearExisting: true})
	require.NoError(t, err)

	ok, err := svc.IsWindowAvailable(ctx, instructor, date("2025-07-15"), "09:00", "10:00")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestComputePublicAvailabilityAtMaximumAdvanceHours(t *testing.T) {
	settings := defaultSettings()
	settings.MinAdvanceBookingHours = config.MaxAdvanceBookingHours
	svc, store := newTestAvailabilityService(time.Now(), settings, nil)
	store.set(instructor, "2025-07-15", mustBits("09:00", "10:00"))

	days, _, err := svc.ComputePublicAvailability(context.Background(), instructor, date("2025-07-14"), date("2025-07-20"),
		time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	for day, windows := range days {
		assert.Empty(t, windows, day)
	}
}

func TestSaveWeekLogsRequestID(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	store := newFakeDayStore()
	svc := NewAvailabilityService(store, staticSettings{settings: defaultSettings()}, nil, nil, nil, nil, zap.New(core), AvailabilityServiceConfig{})
	svc.now = func() time.Time { return time.Date(2025, 7, 14, 8, 0, 0, 0, time.UTC) }

	ctx := requestid.WithValue(context.Background(), "req-9")
	_, err := svc.SaveWeekAvailability(ctx, instructor, dto.SaveWeekRequest{WeekStart: "2025-07-14"})
	require.NoError(t, err)

	entries := logs.FilterMessage("availability week saved").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "req-9", entries[0].ContextMap()["request_id"])
}

func TestHandleCacheInvalidationRetriesSucceed(t *testing.T) {
	repo := repository.NewMemoryCacheRepository(cache.NewMemory(time.Minute))
	cacheSvc := NewCacheService(repo, nil, nil, CacheOptions{Enabled: true})
	svc, _ := newTestAvailabilityService(time.Now(), defaultSettings(), cacheSvc)
	ctx := context.Background()
	key := WeekKey(instructor, date("2025-07-14"))
	require.NoError(t, repo.Set(ctx, key, cachedWeek{}, time.Minute))

	err := svc.HandleCacheInvalidation(ctx, jobsJob(cacheInvalidation{InstructorID: instructor, Keys: []string{key}}))
	require.NoError(t, err)
	var dest cachedWeek
	hit, err := repo.Get(ctx, key, &dest)
	require.NoError(t, err)
	assert.False(t, hit)

	assert.NoError(t, svc.HandleCacheInvalidation(ctx, jobsJob("garbage")))
}

func TestAvailabilityReadsNeverTouchBookings(t *testing.T) {
	var mu sync.Mutex
	var statements []string
	matcher := sqlmock.QueryMatcherFunc(func(expected, actual string) error {
		mu.Lock()
		statements = append(statements, actual)
		mu.Unlock()
		return sqlmock.QueryMatcherRegexp.Match(expected, actual)
	})
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(matcher))
	require.NoError(t, err)
	defer db.Close()

	repo := repository.NewAvailabilityDayRepository(sqlx.NewDb(db, "sqlmock"), nil)
	svc := NewAvailabilityService(repo, staticSettings{settings: defaultSettings()}, nil, nil, nil, nil, nil, AvailabilityServiceConfig{})
	monday := date("2025-07-14")

	columns := []string{"instructor_id", "day_date", "bits", "updated_at"}
	mock.ExpectQuery("FROM availability_days").WillReturnRows(sqlmock.NewRows(columns).
		AddRow(instructor, date("2025-07-15"), mustBits("09:00", "10:00"), time.Now()).
		AddRow(instructor, date("2025-07-17"), mustBits("12:00", "13:00"), time.Now()))
	mock.ExpectQuery("FROM availability_days").WillReturnRows(sqlmock.NewRows(columns).
		AddRow(instructor, date("2025-07-15"), mustBits("09:00", "10:00"), time.Now()))

	week, _, _, err := svc.GetWeekAvailability(context.Background(), instructor, monday)
	require.NoError(t, err)
	assert.Len(t, week["2025-07-17"], 1)
	_, err = svc.ComputeWeekVersion(context.Background(), instructor, monday, monday.AddDate(0, 0, 6))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, statements, 2)
	for _, statement := range statements {
		assert.NotContains(t, strings.ToLower(statement), "booking")
	}
}

func TestSaveWeekConflictWritesNoRows(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	repo := repository.NewAvailabilityDayRepository(sqlx.NewDb(db, "sqlmock"), nil)
	svc := NewAvailabilityService(repo, staticSettings{settings: defaultSettings()}, nil, nil, nil, nil, nil, AvailabilityServiceConfig{})
	svc.now = func() time.Time { return time.Date(2025, 7, 14, 8, 0, 0, 0, time.UTC) }

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM availability_days").WillReturnRows(sqlmock.NewRows([]string{"instructor_id", "day_date", "bits", "updated_at"}).
		AddRow(instructor, date("2025-07-15"), mustBits("09:00", "10:00"), time.Now()))
	mock.ExpectRollback()

	_, err = svc.SaveWeekAvailability(context.Background(), instructor, dto.SaveWeekRequest{
		WeekStart: "2025-07-14",
		Version:   "00000000000000000000000000000000",
		Schedule:  []dto.DaySchedule{{Date: "2025-07-15", Windows: []models.TimeWindow{window("14:00", "15:00")}}},
	})
	assert.True(t, errors.Is(err, appErrors.ErrVersionConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDateRangeDays(t *testing.T) {
	n, err := DateRangeDays(date("2025-07-14"), date("2025-07-20"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	n, err = DateRangeDays(date("2025-07-14"), date("2025-07-14"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = DateRangeDays(date("2025-07-20"), date("2025-07-14"))
	assert.True(t, errors.Is(err, appErrors.ErrRange))
}

func TestMondayOf(t *testing.T) {
	assert.Equal(t, date("2025-07-14"), MondayOf(date("2025-07-14")))
	assert.Equal(t, date("2025-07-14"), MondayOf(date("2025-07-20")))
	assert.Equal(t, date("2025-07-14"), MondayOf(time.Date(2025, 7, 15, 23, 59, 0, 0, time.UTC)))
}
