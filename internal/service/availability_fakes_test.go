package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/instructor-availability-api/internal/models"
	"github.com/noah-isme/instructor-availability-api/pkg/bitset"
	"github.com/noah-isme/instructor-availability-api/pkg/jobs"
)

// fakeDayStore is an in-memory availability_days table. WithWeekLock
// serialises callers and restores the previous rows when fn fails.
type fakeDayStore struct {
	mu     sync.Mutex
	lockMu sync.Mutex
	rows   map[string]map[string][]byte

	weekReads  int
	rangeReads int
	upserts    int
	locks      int
	err        error
}

func newFakeDayStore() *fakeDayStore {
	return &fakeDayStore{rows: map[string]map[string][]byte{}}
}

func (f *fakeDayStore) set(instructorID, date string, bits []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rows[instructorID] == nil {
		f.rows[instructorID] = map[string][]byte{}
	}
	f.rows[instructorID][date] = append([]byte(nil), bits...)
}

func (f *fakeDayStore) get(instructorID, date string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bits, ok := f.rows[instructorID][date]
	return bits, ok
}

func (f *fakeDayStore) GetWeek(_ context.Context, _ sqlx.ExtContext, instructorID string, weekStart time.Time) (models.WeekBitmaps, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.weekReads++
	week := models.NewWeekBitmaps(weekStart)
	if f.err != nil {
		return week, f.err
	}
	for offset := 0; offset < models.DaysPerWeek; offset++ {
		if bits, ok := f.rows[instructorID][formatDate(week.Date(offset))]; ok {
			week.Set(offset, bits)
		}
	}
	return week, nil
}

func (f *fakeDayStore) GetRange(_ context.Context, instructorID string, start, end time.Time) ([]models.DayBitmap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rangeReads++
	if f.err != nil {
		return nil, f.err
	}
	var out []models.DayBitmap
	for date, bits := range f.rows[instructorID] {
		day, _ := time.Parse(models.DateLayout, date)
		if day.Before(start) || day.After(end) {
			continue
		}
		out = append(out, models.DayBitmap{InstructorID: instructorID, Date: day, Bits: append([]byte(nil), bits...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (f *fakeDayStore) UpsertWeek(_ context.Context, _ sqlx.ExtContext, instructorID string, days []models.DayBitmap) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if f.err != nil {
		return 0, f.err
	}
	for _, day := range days {
		if err := bitset.Validate(day.Bits); err != nil {
			return 0, err
		}
	}
	if f.rows[instructorID] == nil {
		f.rows[instructorID] = map[string][]byte{}
	}
	for _, day := range days {
		f.rows[instructorID][formatDate(day.Date)] = append([]byte(nil), day.Bits...)
	}
	return int64(len(days)), nil
}

func (f *fakeDayStore) DeleteDaysForInstructor(_ context.Context, instructorID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	n := int64(len(f.rows[instructorID]))
	delete(f.rows, instructorID)
	return n, nil
}

func (f *fakeDayStore) WithWeekLock(_ context.Context, instructorID string, _ time.Time, fn func(exec sqlx.ExtContext) error) error {
	f.lockMu.Lock()
	defer f.lockMu.Unlock()

	f.mu.Lock()
	f.locks++
	saved := map[string][]byte{}
	for date, bits := range f.rows[instructorID] {
		saved[date] = bits
	}
	f.mu.Unlock()

	if err := fn(nil); err != nil {
		f.mu.Lock()
		f.rows[instructorID] = saved
		f.mu.Unlock()
		return err
	}
	return nil
}

type staticSettings struct {
	settings models.AvailabilitySettings
	err      error
}

func (s staticSettings) Get(_ context.Context, instructorID string) (models.AvailabilitySettings, error) {
	out := s.settings
	out.InstructorID = instructorID
	if out.Location == nil {
		out.Location = time.UTC
	}
	return out, s.err
}

type failingCacheRepo struct{}

var errCacheDown = errors.New("cache backend unreachable")

func (failingCacheRepo) Get(context.Context, string, interface{}) (bool, error) {
	return false, errCacheDown
}

func (failingCacheRepo) Set(context.Context, string, interface{}, time.Duration) error {
	return errCacheDown
}

func (failingCacheRepo) Delete(context.Context, ...string) error {
	return errCacheDown
}

func (failingCacheRepo) DeleteByPattern(context.Context, string) error {
	return errCacheDown
}

// deleteFailingCache serves reads and writes but never drops a key, leaving
// entries stale after every committed write.
type deleteFailingCache struct {
	CacheRepository
}

func (deleteFailingCache) Delete(context.Context, ...string) error {
	return errCacheDown
}

func (deleteFailingCache) DeleteByPattern(context.Context, string) error {
	return errCacheDown
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []jobs.Job
	err  error
}

func (q *recordingQueue) Enqueue(job jobs.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func jobsJob(payload interface{}) jobs.Job {
	return jobs.Job{ID: "job-1", Type: CacheInvalidationJob, Payload: payload}
}

func mustBits(windows ...string) []byte {
	parsed := make([]bitset.Window, 0, len(windows)/2)
	for i := 0; i+1 < len(windows); i += 2 {
		parsed = append(parsed, bitset.Window{Start: windows[i], End: windows[i+1]})
	}
	bits, err := bitset.BitsFromWindows(parsed)
	if err != nil {
		panic(err)
	}
	return bits
}

func date(raw string) time.Time {
	t, err := time.Parse(models.DateLayout, raw)
	if err != nil {
		panic(err)
	}
	return t
}
