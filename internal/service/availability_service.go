package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/instructor-availability-api/internal/dto"
	"github.com/noah-isme/instructor-availability-api/internal/models"
	"github.com/noah-isme/instructor-availability-api/pkg/bitset"
	appErrors "github.com/noah-isme/instructor-availability-api/pkg/errors"
	"github.com/noah-isme/instructor-availability-api/pkg/jobs"
	"github.com/noah-isme/instructor-availability-api/pkg/logger"
)

// CacheInvalidationJob is the job type that retries failed cache invalidations.
const CacheInvalidationJob = "availability.cache.invalidate"

type availabilityDayStore interface {
	GetWeek(ctx context.Context, exec sqlx.ExtContext, instructorID string, weekStart time.Time) (models.WeekBitmaps, error)
	GetRange(ctx context.Context, instructorID string, start, end time.Time) ([]models.DayBitmap, error)
	UpsertWeek(ctx context.Context, exec sqlx.ExtContext, instructorID string, days []models.DayBitmap) (int64, error)
	DeleteDaysForInstructor(ctx context.Context, instructorID string) (int64, error)
	WithWeekLock(ctx context.Context, instructorID string, weekStart time.Time, fn func(exec sqlx.ExtContext) error) error
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// AvailabilityServiceConfig bounds range operations.
type AvailabilityServiceConfig struct {
	MaxRangeDays int
}

// AvailabilityService applies business rules and optimistic concurrency on top
// of the day repository.
type AvailabilityService struct {
	days         availabilityDayStore
	settings     SettingsProvider
	cache        *CacheService
	queue        jobEnqueuer
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
	now          func() time.Time
	maxRangeDays int
}

// NewAvailabilityService constructs the service. cache, queue and metrics may be nil.
func NewAvailabilityService(days availabilityDayStore, settings SettingsProvider, cache *CacheService, queue jobEnqueuer, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg AvailabilityServiceConfig) *AvailabilityService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRangeDays <= 0 {
		cfg.MaxRangeDays = 90
	}
	return &AvailabilityService{
		days:         days,
		settings:     settings,
		cache:        cache,
		queue:        queue,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
		now:          time.Now,
		maxRangeDays: cfg.MaxRangeDays,
	}
}

type cachedWeek struct {
	WeekStart string   `json:"week_start"`
	Days      [][]byte `json:"days"`
}

type cacheInvalidation struct {
	InstructorID string   `json:"instructor_id"`
	Keys         []string `json:"keys,omitempty"`
	Pattern      string   `json:"pattern,omitempty"`
}

// GetWeekAvailability returns the windows of the week containing weekStart and
// the version token of exactly those bitmaps, so a stale cached view carries a
// stale token. Every date of the week is present. The bool reports a cache hit.
func (s *AvailabilityService) GetWeekAvailability(ctx context.Context, instructorID string, weekStart time.Time) (dto.WeekAvailability, string, bool, error) {
	monday := MondayOf(weekStart)
	week, hit, err := s.loadWeek(ctx, instructorID, monday)
	if err != nil {
		return nil, "", false, err
	}
	result := make(dto.WeekAvailability, models.DaysPerWeek)
	for offset := 0; offset < models.DaysPerWeek; offset++ {
		windows, err := windowsFor(week.Bits(offset))
		if err != nil {
			return nil, "", false, err
		}
		result[formatDate(week.Date(offset))] = windows
	}
	return result, weekVersion(instructorID, week), hit, nil
}

// ComputeWeekVersion fingerprints every day in [start, end] read straight from
// the repository. Absent days hash as empty days.
func (s *AvailabilityService) ComputeWeekVersion(ctx context.Context, instructorID string, start, end time.Time) (string, error) {
	start, end = calendarDate(start), calendarDate(end)
	n, err := s.checkRange(start, end)
	if err != nil {
		return "", err
	}
	rows, err := s.days.GetRange(ctx, instructorID, start, end)
	if err != nil {
		return "", err
	}
	days := make([][]byte, n)
	for _, row := range rows {
		idx := int(calendarDate(row.Date).Sub(start).Hours() / 24)
		if idx >= 0 && idx < n {
			days[idx] = row.Bits
		}
	}
	return versionToken(instructorID, start, days), nil
}

// SaveWeekAvailability replaces the days of one week. A non-empty version must
// match the current week or nothing is written.
func (s *AvailabilityService) SaveWeekAvailability(ctx context.Context, instructorID string, req dto.SaveWeekRequest) (dto.SaveWeekResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.SaveWeekResponse{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid availability payload")
	}
	monday, err := parseWeekStart(req.WeekStart)
	if err != nil {
		return dto.SaveWeekResponse{}, err
	}
	provided, err := encodeSchedule(monday, req.Schedule)
	if err != nil {
		return dto.SaveWeekResponse{}, err
	}
	settings, err := s.settings.Get(ctx, instructorID)
	if err != nil {
		return dto.SaveWeekResponse{}, err
	}
	earliest := earliestEditableDate(s.now(), settings)

	writes := make([]models.DayBitmap, 0, models.DaysPerWeek)
	for offset := 0; offset < models.DaysPerWeek; offset++ {
		date := monday.AddDate(0, 0, offset)
		locked := date.Before(earliest) && !settings.AllowPastEdits
		bits, ok := provided[offset]
		switch {
		case ok && locked:
			return dto.SaveWeekResponse{}, appErrors.Clone(appErrors.ErrPastEditWindow,
				fmt.Sprintf("%s is before the editable window starting %s", formatDate(date), formatDate(earliest)))
		case !ok && (!req.ClearExisting || locked):
			continue
		case !ok:
			bits = bitset.Empty()
		}
		writes = append(writes, models.DayBitmap{InstructorID: instructorID, Date: date, Bits: bits})
	}

	var resp dto.SaveWeekResponse
	err = s.days.WithWeekLock(ctx, instructorID, monday, func(exec sqlx.ExtContext) error {
		current, err := s.days.GetWeek(ctx, exec, instructorID, monday)
		if err != nil {
			return err
		}
		if err := s.checkVersion(instructorID, current, req.Version); err != nil {
			return err
		}
		written, err := s.days.UpsertWeek(ctx, exec, instructorID, writes)
		if err != nil {
			return err
		}
		changed := 0
		for _, day := range writes {
			offset := current.Offset(day.Date)
			if same, _ := bitset.Equal(current.Bits(offset), day.Bits); !same {
				changed++
			}
			current.Set(offset, day.Bits)
		}
		resp = dto.SaveWeekResponse{
			WeekStart:   formatDate(monday),
			Version:     weekVersion(instructorID, current),
			DaysWritten: written,
			DaysChanged: changed,
		}
		return nil
	})
	if err != nil {
		return dto.SaveWeekResponse{}, err
	}

	s.metrics.RecordWrite("save_week")
	s.invalidate(ctx, cacheInvalidation{InstructorID: instructorID, Keys: []string{WeekKey(instructorID, monday)}})
	logger.WithRequest(ctx, s.logger).Info("availability week saved",
		zap.String("instructor_id", instructorID),
		zap.String("week_start", resp.WeekStart),
		zap.Int64("days_written", resp.DaysWritten),
		zap.Int("days_changed", resp.DaysChanged))
	return resp, nil
}

// ComputePublicAvailability returns the bookable windows in [start, end] as
// seen at asOf. Buffer time shrinks window edges other than midnight, then the
// minimum advance cutoff removes or truncates windows before it.
func (s *AvailabilityService) ComputePublicAvailability(ctx context.Context, instructorID string, start, end, asOf time.Time) (dto.WeekAvailability, bool, error) {
	start, end = calendarDate(start), calendarDate(end)
	n, err := s.checkRange(start, end)
	if err != nil {
		return nil, false, err
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	settings, err := s.settings.Get(ctx, instructorID)
	if err != nil {
		return nil, false, err
	}
	rules := newTrimRules(asOf, settings)

	result := make(dto.WeekAvailability, n)
	allHit := true
	var week models.WeekBitmaps
	loaded := false
	for i := 0; i < n; i++ {
		date := start.AddDate(0, 0, i)
		if !loaded || week.Offset(date) < 0 {
			var hit bool
			week, hit, err = s.loadWeek(ctx, instructorID, MondayOf(date))
			if err != nil {
				return nil, false, err
			}
			allHit = allHit && hit
			loaded = true
		}
		windows, err := rules.trim(week.Bits(week.Offset(date)), date)
		if err != nil {
			return nil, false, err
		}
		result[formatDate(date)] = windows
	}
	return result, allHit, nil
}

// CopyWeek replaces the target week with the source week. A target before the
// editable window moves forward by whole weeks when clamping is enabled.
func (s *AvailabilityService) CopyWeek(ctx context.Context, instructorID string, req dto.CopyWeekRequest) (dto.CopyWeekResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.CopyWeekResponse{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid copy payload")
	}
	from, err := parseWeekStart(req.FromWeekStart)
	if err != nil {
		return dto.CopyWeekResponse{}, err
	}
	target, err := parseWeekStart(req.ToWeekStart)
	if err != nil {
		return dto.CopyWeekResponse{}, err
	}
	settings, err := s.settings.Get(ctx, instructorID)
	if err != nil {
		return dto.CopyWeekResponse{}, err
	}

	earliest := earliestEditableDate(s.now(), settings)
	clamped := false
	if target.Before(earliest) && !settings.AllowPastEdits {
		if !settings.ClampCopyToFuture {
			return dto.CopyWeekResponse{}, appErrors.Clone(appErrors.ErrPastEditWindow,
				fmt.Sprintf("week %s starts before the editable window starting %s", formatDate(target), formatDate(earliest)))
		}
		for target.Before(earliest) {
			target = target.AddDate(0, 0, models.DaysPerWeek)
		}
		clamped = true
	}

	resp := dto.CopyWeekResponse{FromWeekStart: formatDate(from), ToWeekStart: formatDate(target), Clamped: clamped}
	err = s.days.WithWeekLock(ctx, instructorID, target, func(exec sqlx.ExtContext) error {
		current, err := s.days.GetWeek(ctx, exec, instructorID, target)
		if err != nil {
			return err
		}
		if err := s.checkVersion(instructorID, current, req.Version); err != nil {
			return err
		}
		source, err := s.days.GetWeek(ctx, exec, instructorID, from)
		if err != nil {
			return err
		}
		writes := make([]models.DayBitmap, 0, models.DaysPerWeek)
		for offset := 0; offset < models.DaysPerWeek; offset++ {
			bits := source.Bits(offset)
			writes = append(writes, models.DayBitmap{InstructorID: instructorID, Date: target.AddDate(0, 0, offset), Bits: bits})
			current.Set(offset, bits)
		}
		written, err := s.days.UpsertWeek(ctx, exec, instructorID, writes)
		if err != nil {
			return err
		}
		resp.DaysWritten = written
		resp.Version = weekVersion(instructorID, current)
		return nil
	})
	if err != nil {
		return dto.CopyWeekResponse{}, err
	}

	s.metrics.RecordWrite("copy_week")
	s.invalidate(ctx, cacheInvalidation{InstructorID: instructorID, Keys: []string{WeekKey(instructorID, target)}})
	logger.WithRequest(ctx, s.logger).Info("availability week copied",
		zap.String("instructor_id", instructorID),
		zap.String("from_week_start", resp.FromWeekStart),
		zap.String("to_week_start", resp.ToWeekStart),
		zap.Bool("clamped", clamped))
	return resp, nil
}

// ApplyPattern writes the source week onto every date of [start, end] by
// weekday. Each affected week is written in its own locked transaction.
func (s *AvailabilityService) ApplyPattern(ctx context.Context, instructorID string, req dto.ApplyPatternRequest) (dto.ApplyPatternResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.ApplyPatternResponse{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid pattern payload")
	}
	from, err := parseWeekStart(req.FromWeekStart)
	if err != nil {
		return dto.ApplyPatternResponse{}, err
	}
	start, err := ParseDate(req.StartDate)
	if err != nil {
		return dto.ApplyPatternResponse{}, err
	}
	end, err := ParseDate(req.EndDate)
	if err != nil {
		return dto.ApplyPatternResponse{}, err
	}
	n, err := s.checkRange(start, end)
	if err != nil {
		return dto.ApplyPatternResponse{}, err
	}
	settings, err := s.settings.Get(ctx, instructorID)
	if err != nil {
		return dto.ApplyPatternResponse{}, err
	}
	earliest := earliestEditableDate(s.now(), settings)

	template, err := s.days.GetWeek(ctx, nil, instructorID, from)
	if err != nil {
		return dto.ApplyPatternResponse{}, err
	}

	type weekPlan struct {
		monday time.Time
		days   []models.DayBitmap
	}
	var plans []*weekPlan
	resp := dto.ApplyPatternResponse{StartDate: formatDate(start), EndDate: formatDate(end), WeeksAffected: []string{}}
	for i := 0; i < n; i++ {
		date := start.AddDate(0, 0, i)
		if date.Before(earliest) && !settings.AllowPastEdits {
			if !settings.ClampCopyToFuture {
				return dto.ApplyPatternResponse{}, appErrors.Clone(appErrors.ErrPastEditWindow,
					fmt.Sprintf("%s is before the editable window starting %s", formatDate(date), formatDate(earliest)))
			}
			resp.DaysSkipped++
			continue
		}
		monday := MondayOf(date)
		if len(plans) == 0 || !plans[len(plans)-1].monday.Equal(monday) {
			plans = append(plans, &weekPlan{monday: monday})
		}
		plan := plans[len(plans)-1]
		plan.days = append(plan.days, models.DayBitmap{InstructorID: instructorID, Date: date, Bits: template.Bits(weekdayOffset(date))})
	}

	keys := make([]string, 0, len(plans))
	for _, plan := range plans {
		err := s.days.WithWeekLock(ctx, instructorID, plan.monday, func(exec sqlx.ExtContext) error {
			written, err := s.days.UpsertWeek(ctx, exec, instructorID, plan.days)
			if err != nil {
				return err
			}
			resp.DaysWritten += written
			return nil
		})
		if err != nil {
			s.invalidate(ctx, cacheInvalidation{InstructorID: instructorID, Keys: keys})
			return dto.ApplyPatternResponse{}, err
		}
		keys = append(keys, WeekKey(instructorID, plan.monday))
		resp.WeeksAffected = append(resp.WeeksAffected, formatDate(plan.monday))
	}

	s.metrics.RecordWrite("apply_pattern")
	s.invalidate(ctx, cacheInvalidation{InstructorID: instructorID, Keys: keys})
	logger.WithRequest(ctx, s.logger).Info("availability pattern applied",
		zap.String("instructor_id", instructorID),
		zap.String("from_week_start", formatDate(from)),
		zap.Int64("days_written", resp.DaysWritten),
		zap.Int("days_skipped", resp.DaysSkipped))
	return resp, nil
}

// IsWindowAvailable reports whether every slot of [startTime, endTime) on date
// is published. It reads the repository directly, never the cache or booking
// state.
func (s *AvailabilityService) IsWindowAvailable(ctx context.Context, instructorID string, date time.Time, startTime, endTime string) (bool, error) {
	requested, err := bitset.BitsFromWindows([]bitset.Window{{Start: startTime, End: endTime}})
	if err != nil {
		return false, codecError(err)
	}
	date = calendarDate(date)
	week, err := s.days.GetWeek(ctx, nil, instructorID, MondayOf(date))
	if err != nil {
		return false, err
	}
	return bitset.Contains(week.Bits(week.Offset(date)), requested)
}

// ResetInstructor deletes every stored day of the instructor.
func (s *AvailabilityService) ResetInstructor(ctx context.Context, instructorID string) (int64, error) {
	removed, err := s.days.DeleteDaysForInstructor(ctx, instructorID)
	if err != nil {
		return 0, err
	}
	s.metrics.RecordWrite("reset")
	s.invalidate(ctx, cacheInvalidation{InstructorID: instructorID, Pattern: InstructorPattern(instructorID)})
	logger.WithRequest(ctx, s.logger).Info("availability reset", zap.String("instructor_id", instructorID), zap.Int64("days_removed", removed))
	return removed, nil
}

// HandleCacheInvalidation is the queue handler for CacheInvalidationJob.
func (s *AvailabilityService) HandleCacheInvalidation(ctx context.Context, job jobs.Job) error {
	task, ok := job.Payload.(cacheInvalidation)
	if !ok {
		s.logger.Error("unexpected cache invalidation payload", zap.String("job_id", job.ID), zap.Any("payload", job.Payload))
		return nil
	}
	if task.Pattern != "" {
		return s.cache.InvalidatePattern(ctx, task.Pattern)
	}
	return s.cache.Invalidate(ctx, task.Keys...)
}

func (s *AvailabilityService) loadWeek(ctx context.Context, instructorID string, monday time.Time) (models.WeekBitmaps, bool, error) {
	compute := func(ctx context.Context) (cachedWeek, error) {
		week, err := s.days.GetWeek(ctx, nil, instructorID, monday)
		if err != nil {
			return cachedWeek{}, err
		}
		return snapshotWeek(week), nil
	}
	key := WeekKey(instructorID, monday)
	snapshot, hit, err := GetOrCompute(ctx, s.cache, key, s.cache.TTL(s.cache.WeekTier(monday)), compute)
	if err != nil {
		return models.WeekBitmaps{}, false, err
	}
	week, ok := snapshot.restore(monday)
	if !ok {
		s.logger.Warn("discarding malformed cached week", zap.String("key", key))
		week, err = s.days.GetWeek(ctx, nil, instructorID, monday)
		return week, false, err
	}
	return week, hit, nil
}

func (s *AvailabilityService) checkVersion(instructorID string, current models.WeekBitmaps, submitted string) error {
	submitted = strings.TrimSpace(submitted)
	if submitted == "" {
		return nil
	}
	if weekVersion(instructorID, current) != submitted {
		s.metrics.RecordVersionConflict()
		return appErrors.ErrVersionConflict
	}
	return nil
}

func (s *AvailabilityService) checkRange(start, end time.Time) (int, error) {
	n, err := DateRangeDays(start, end)
	if err != nil {
		return 0, err
	}
	if n > s.maxRangeDays {
		return 0, appErrors.Clone(appErrors.ErrRange, fmt.Sprintf("date range exceeds %d days", s.maxRangeDays))
	}
	return n, nil
}

// invalidate drops cache keys after a committed write. A failure is handed to
// the job queue; the write itself has already succeeded.
func (s *AvailabilityService) invalidate(ctx context.Context, task cacheInvalidation) {
	if len(task.Keys) == 0 && task.Pattern == "" {
		return
	}
	var err error
	if task.Pattern != "" {
		err = s.cache.InvalidatePattern(ctx, task.Pattern)
	} else {
		err = s.cache.Invalidate(ctx, task.Keys...)
	}
	if err == nil {
		return
	}
	if s.queue == nil {
		s.logger.Warn("cache invalidation dropped", zap.String("instructor_id", task.InstructorID), zap.Error(err))
		return
	}
	if qerr := s.queue.Enqueue(jobs.Job{Type: CacheInvalidationJob, Payload: task}); qerr != nil {
		s.logger.Warn("cache invalidation retry not queued", zap.String("instructor_id", task.InstructorID), zap.Error(qerr))
	}
}

func weekVersion(instructorID string, week models.WeekBitmaps) string {
	days := make([][]byte, models.DaysPerWeek)
	for offset := range days {
		days[offset] = week.Bits(offset)
	}
	return versionToken(instructorID, week.Start, days)
}

func snapshotWeek(week models.WeekBitmaps) cachedWeek {
	snapshot := cachedWeek{WeekStart: formatDate(week.Start), Days: make([][]byte, models.DaysPerWeek)}
	for offset := range snapshot.Days {
		snapshot.Days[offset] = week.Bits(offset)
	}
	return snapshot
}

func (c cachedWeek) restore(monday time.Time) (models.WeekBitmaps, bool) {
	week := models.NewWeekBitmaps(monday)
	if c.WeekStart != formatDate(monday) || len(c.Days) != models.DaysPerWeek {
		return week, false
	}
	for offset, bits := range c.Days {
		if bitset.Validate(bits) != nil {
			return week, false
		}
		week.Set(offset, bits)
	}
	return week, true
}

func parseWeekStart(raw string) (time.Time, error) {
	monday, err := ParseDate(raw)
	if err != nil {
		return time.Time{}, err
	}
	if monday.Weekday() != time.Monday {
		return time.Time{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("week start %s is not a Monday", raw))
	}
	return monday, nil
}

// encodeSchedule converts the payload into bitmaps keyed by week offset.
// Repeated dates are unioned.
func encodeSchedule(monday time.Time, schedule []dto.DaySchedule) (map[int][]byte, error) {
	out := make(map[int][]byte, len(schedule))
	for _, day := range schedule {
		date, err := ParseDate(day.Date)
		if err != nil {
			return nil, err
		}
		offset := int(date.Sub(monday).Hours() / 24)
		if date.Before(monday) || offset >= models.DaysPerWeek {
			return nil, appErrors.Clone(appErrors.ErrRange,
				fmt.Sprintf("%s is outside the week starting %s", day.Date, formatDate(monday)))
		}
		windows := make([]bitset.Window, 0, len(day.Windows))
		for _, w := range day.Windows {
			windows = append(windows, bitset.Window{Start: w.StartTime, End: w.EndTime})
		}
		bits, err := bitset.BitsFromWindows(windows)
		if err != nil {
			return nil, codecError(err)
		}
		if existing, ok := out[offset]; ok {
			if bits, err = bitset.Merge(existing, bits); err != nil {
				return nil, codecError(err)
			}
		}
		out[offset] = bits
	}
	return out, nil
}

func windowsFor(bits []byte) ([]models.TimeWindow, error) {
	windows, err := bitset.WindowsFromBits(bits)
	if err != nil {
		return nil, codecError(err)
	}
	out := make([]models.TimeWindow, 0, len(windows))
	for _, w := range windows {
		out = append(out, models.TimeWindow{StartTime: w.Start, EndTime: w.End})
	}
	return out, nil
}

func codecError(err error) error {
	switch {
	case errors.Is(err, bitset.ErrRange):
		detail := strings.TrimPrefix(err.Error(), bitset.ErrRange.Error()+": ")
		return appErrors.Wrap(err, appErrors.ErrRange.Code, appErrors.ErrRange.Status, detail)
	case errors.Is(err, bitset.ErrFormat):
		detail := strings.TrimPrefix(err.Error(), bitset.ErrFormat.Error()+": ")
		return appErrors.Wrap(err, appErrors.ErrFormat.Code, appErrors.ErrFormat.Status, detail)
	}
	return err
}

// trimRules is the customer-facing trimming policy evaluated at one instant.
type trimRules struct {
	bufferMinutes int
	cutoffDate    time.Time
	cutoffMinute  int
}

// newTrimRules places the advance-booking cutoff in the instructor's local
// calendar, rounded up to the next slot boundary.
func newTrimRules(asOf time.Time, settings models.AvailabilitySettings) trimRules {
	loc := settings.Location
	if loc == nil {
		loc = time.UTC
	}
	cutoff := asOf.In(loc).Add(time.Duration(settings.MinAdvanceBookingHours) * time.Hour)
	minute := cutoff.Hour()*60 + cutoff.Minute()
	if cutoff.Second() > 0 || cutoff.Nanosecond() > 0 {
		minute++
	}
	if rem := minute % bitset.SlotMinutes; rem != 0 {
		minute += bitset.SlotMinutes - rem
	}
	date := calendarDate(cutoff)
	if minute >= bitset.MinutesPerDay {
		date = date.AddDate(0, 0, 1)
		minute = 0
	}
	return trimRules{bufferMinutes: settings.BufferTimeMinutes, cutoffDate: date, cutoffMinute: minute}
}

// trim applies the buffer and the cutoff to one day. Window edges at 00:00 and
// 24:00 are never shrunk by the buffer, so a window ending at midnight keeps
// its 24:00:00 end.
func (r trimRules) trim(bits []byte, date time.Time) ([]models.TimeWindow, error) {
	out := make([]models.TimeWindow, 0)
	if date.Before(r.cutoffDate) {
		return out, nil
	}
	windows, err := bitset.WindowsFromBits(bits)
	if err != nil {
		return nil, codecError(err)
	}
	for _, w := range windows {
		start, err := bitset.ParseClock(w.Start)
		if err != nil {
			return nil, codecError(err)
		}
		end, err := bitset.ParseClock(w.End)
		if err != nil {
			return nil, codecError(err)
		}
		if start > 0 {
			start += r.bufferMinutes
		}
		if end < bitset.MinutesPerDay {
			end -= r.bufferMinutes
		}
		if date.Equal(r.cutoffDate) && start < r.cutoffMinute {
			start = r.cutoffMinute
		}
		if start >= end {
			continue
		}
		out = append(out, models.TimeWindow{StartTime: bitset.FormatClock(start), EndTime: bitset.FormatClock(end)})
	}
	return out, nil
}
