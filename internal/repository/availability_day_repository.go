package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/instructor-availability-api/internal/models"
	"github.com/noah-isme/instructor-availability-api/pkg/bitset"
	appErrors "github.com/noah-isme/instructor-availability-api/pkg/errors"
)

// QueryObserver receives query timings.
type QueryObserver interface {
	ObserveDBQuery(label string, duration time.Duration)
}

// AvailabilityDayRepository persists one bitmap per (instructor, date). It is a
// pure key/value store; business rules live in the service layer.
type AvailabilityDayRepository struct {
	db       *sqlx.DB
	observer QueryObserver
}

// NewAvailabilityDayRepository constructs the repository. observer may be nil.
func NewAvailabilityDayRepository(db *sqlx.DB, observer QueryObserver) *AvailabilityDayRepository {
	return &AvailabilityDayRepository{db: db, observer: observer}
}

func (r *AvailabilityDayRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

const selectDaysQuery = `SELECT instructor_id, day_date, bits, updated_at
FROM availability_days
WHERE instructor_id = $1 AND day_date BETWEEN $2 AND $3
ORDER BY day_date ASC`

// GetWeek returns the seven days starting at weekStart using a single query.
// Days without a row stay zeroed with Present unset.
func (r *AvailabilityDayRepository) GetWeek(ctx context.Context, exec sqlx.ExtContext, instructorID string, weekStart time.Time) (models.WeekBitmaps, error) {
	weekStart = dateOnly(weekStart)
	week := models.NewWeekBitmaps(weekStart)
	rows, err := r.selectDays(ctx, r.exec(exec), "get_week", instructorID, weekStart, weekStart.AddDate(0, 0, models.DaysPerWeek-1))
	if err != nil {
		return week, err
	}
	for _, row := range rows {
		offset := week.Offset(dateOnly(row.Date))
		if offset < 0 {
			continue
		}
		if err := bitset.Validate(row.Bits); err != nil {
			return week, repoError("decode availability day", err)
		}
		week.Set(offset, row.Bits)
	}
	return week, nil
}

// GetRange returns the stored rows in [start, end] ordered by date, using a single query.
func (r *AvailabilityDayRepository) GetRange(ctx context.Context, instructorID string, start, end time.Time) ([]models.DayBitmap, error) {
	rows, err := r.selectDays(ctx, r.db, "get_range", instructorID, dateOnly(start), dateOnly(end))
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Date = dateOnly(rows[i].Date)
		if err := bitset.Validate(rows[i].Bits); err != nil {
			return nil, repoError("decode availability day", err)
		}
	}
	return rows, nil
}

// UpsertWeek replaces the bitmaps for the given days in one statement and
// returns the number of rows affected.
func (r *AvailabilityDayRepository) UpsertWeek(ctx context.Context, exec sqlx.ExtContext, instructorID string, days []models.DayBitmap) (int64, error) {
	if len(days) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	values := make([]string, 0, len(days))
	args := make([]interface{}, 0, len(days)*4)
	for i, day := range days {
		if err := bitset.Validate(day.Bits); err != nil {
			return 0, err
		}
		base := i * 4
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4))
		args = append(args, instructorID, dateOnly(day.Date).Format(models.DateLayout), day.Bits, now)
	}

	query := `INSERT INTO availability_days (instructor_id, day_date, bits, updated_at)
VALUES ` + strings.Join(values, ", ") + `
ON CONFLICT (instructor_id, day_date) DO UPDATE
SET bits = EXCLUDED.bits,
    updated_at = EXCLUDED.updated_at`

	start := time.Now()
	res, err := r.exec(exec).ExecContext(ctx, query, args...)
	r.observe("upsert_week", start)
	if err != nil {
		return 0, repoError("upsert availability week", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, repoError("upsert availability week", err)
	}
	return affected, nil
}

// DeleteDaysForInstructor removes every stored day for the instructor.
func (r *AvailabilityDayRepository) DeleteDaysForInstructor(ctx context.Context, instructorID string) (int64, error) {
	const query = `DELETE FROM availability_days WHERE instructor_id = $1`
	start := time.Now()
	res, err := r.db.ExecContext(ctx, query, instructorID)
	r.observe("delete_instructor_days", start)
	if err != nil {
		return 0, repoError("delete availability days", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, repoError("delete availability days", err)
	}
	return affected, nil
}

// WithWeekLock runs fn inside a transaction holding a transaction-scoped
// advisory lock for (instructor, week). Writers to the same week serialise on
// the lock; the lock is released on commit or rollback. Errors returned by fn
// are passed through unchanged after rollback.
func (r *AvailabilityDayRepository) WithWeekLock(ctx context.Context, instructorID string, weekStart time.Time, fn func(exec sqlx.ExtContext) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return repoError("begin availability tx", err)
	}

	const lockQuery = `SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))`
	start := time.Now()
	_, err = tx.ExecContext(ctx, lockQuery, instructorID, dateOnly(weekStart).Format(models.DateLayout))
	r.observe("lock_week", start)
	if err != nil {
		_ = tx.Rollback()
		return repoError("lock availability week", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return repoError("commit availability tx", err)
	}
	return nil
}

func (r *AvailabilityDayRepository) selectDays(ctx context.Context, q sqlx.QueryerContext, label, instructorID string, start, end time.Time) ([]models.DayBitmap, error) {
	var rows []models.DayBitmap
	begin := time.Now()
	err := sqlx.SelectContext(ctx, q, &rows, selectDaysQuery, instructorID, start.Format(models.DateLayout), end.Format(models.DateLayout))
	r.observe(label, begin)
	if err != nil {
		return nil, repoError("select availability days", err)
	}
	return rows, nil
}

func (r *AvailabilityDayRepository) observe(label string, start time.Time) {
	if r.observer != nil {
		r.observer.ObserveDBQuery(label, time.Since(start))
	}
}

func repoError(op string, err error) error {
	return appErrors.Wrap(err, appErrors.ErrRepository.Code, appErrors.ErrRepository.Status, op)
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
