package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/instructor-availability-api/internal/dto"
	"github.com/noah-isme/instructor-availability-api/internal/middleware"
	"github.com/noah-isme/instructor-availability-api/internal/models"
	"github.com/noah-isme/instructor-availability-api/internal/service"
	appErrors "github.com/noah-isme/instructor-availability-api/pkg/errors"
	"github.com/noah-isme/instructor-availability-api/pkg/response"
)

type availabilityService interface {
	GetWeekAvailability(ctx context.Context, instructorID string, weekStart time.Time) (dto.WeekAvailability, string, bool, error)
	ComputeWeekVersion(ctx context.Context, instructorID string, start, end time.Time) (string, error)
	SaveWeekAvailability(ctx context.Context, instructorID string, req dto.SaveWeekRequest) (dto.SaveWeekResponse, error)
	ComputePublicAvailability(ctx context.Context, instructorID string, start, end, asOf time.Time) (dto.WeekAvailability, bool, error)
	CopyWeek(ctx context.Context, instructorID string, req dto.CopyWeekRequest) (dto.CopyWeekResponse, error)
	ApplyPattern(ctx context.Context, instructorID string, req dto.ApplyPatternRequest) (dto.ApplyPatternResponse, error)
	IsWindowAvailable(ctx context.Context, instructorID string, date time.Time, startTime, endTime string) (bool, error)
	ResetInstructor(ctx context.Context, instructorID string) (int64, error)
}

type availabilitySettingsService interface {
	Get(ctx context.Context, instructorID string) (models.AvailabilitySettings, error)
	Update(ctx context.Context, instructorID string, row models.InstructorSettingsOverride) (models.AvailabilitySettings, error)
}

// AvailabilityHandler exposes instructor availability endpoints.
type AvailabilityHandler struct {
	service  availabilityService
	settings availabilitySettingsService
	now      func() time.Time
}

// NewAvailabilityHandler builds a new handler.
func NewAvailabilityHandler(service availabilityService, settings availabilitySettingsService) *AvailabilityHandler {
	return &AvailabilityHandler{service: service, settings: settings, now: time.Now}
}

// GetWeek godoc
// @Summary Get an instructor week
// @Tags Availability
// @Produce json
// @Param id path string true "Instructor ID"
// @Param start_date query string false "Any date in the week (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /instructors/{id}/availability/week [get]
func (h *AvailabilityHandler) GetWeek(c *gin.Context) {
	instructorID := c.Param("id")
	day, err := h.dateQuery(c, instructorID, "start_date")
	if err != nil {
		response.Error(c, err)
		return
	}
	monday := service.MondayOf(day)
	week, version, hit, err := h.service.GetWeekAvailability(c.Request.Context(), instructorID, monday)
	if err != nil {
		response.Error(c, err)
		return
	}
	setETag(c, version)
	middleware.SetCacheHit(c, hit)
	middleware.SetMeta(c, "version", version)
	middleware.SetMeta(c, "week_start", monday.Format(models.DateLayout))
	response.JSON(c, http.StatusOK, week, middleware.ExtractMeta(c))
}

// GetVersion godoc
// @Summary Get the version token of a week
// @Tags Availability
// @Produce json
// @Param id path string true "Instructor ID"
// @Param start_date query string true "Any date in the week (YYYY-MM-DD)"
// @Param end_date query string false "Sunday of the same week"
// @Success 200 {object} response.Envelope
// @Router /instructors/{id}/availability/version [get]
func (h *AvailabilityHandler) GetVersion(c *gin.Context) {
	if c.Query("start_date") == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "start_date is required"))
		return
	}
	day, err := service.ParseDate(c.Query("start_date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	// Writes check the Monday to Sunday week, so tokens are only issued for one.
	monday := service.MondayOf(day)
	sunday := monday.AddDate(0, 0, models.DaysPerWeek-1)
	if raw := c.Query("end_date"); raw != "" {
		end, err := service.ParseDate(raw)
		if err != nil {
			response.Error(c, err)
			return
		}
		if !end.Equal(sunday) {
			response.Error(c, appErrors.Clone(appErrors.ErrRange,
				fmt.Sprintf("version span must end on %s, the Sunday of its week", sunday.Format(models.DateLayout))))
			return
		}
	}
	version, err := h.service.ComputeWeekVersion(c.Request.Context(), c.Param("id"), monday, sunday)
	if err != nil {
		response.Error(c, err)
		return
	}
	setETag(c, version)
	response.JSON(c, http.StatusOK, dto.WeekVersionResponse{
		StartDate: monday.Format(models.DateLayout),
		EndDate:   sunday.Format(models.DateLayout),
		Version:   version,
	}, nil)
}

// SaveWeek godoc
// @Summary Replace an instructor week
// @Tags Availability
// @Accept json
// @Produce json
// @Param id path string true "Instructor ID"
// @Param If-Match header string false "Version token, used when the body carries none"
// @Param payload body dto.SaveWeekRequest true "Week payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /instructors/{id}/availability/week [put]
func (h *AvailabilityHandler) SaveWeek(c *gin.Context) {
	var req dto.SaveWeekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid availability payload"))
		return
	}
	if req.Version == "" {
		req.Version = ifMatch(c)
	}
	resp, err := h.service.SaveWeekAvailability(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	setETag(c, resp.Version)
	response.JSON(c, http.StatusOK, resp, nil)
}

// CopyWeek godoc
// @Summary Copy one week onto another
// @Tags Availability
// @Accept json
// @Produce json
// @Param id path string true "Instructor ID"
// @Param payload body dto.CopyWeekRequest true "Copy payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /instructors/{id}/availability/copy-week [post]
func (h *AvailabilityHandler) CopyWeek(c *gin.Context) {
	var req dto.CopyWeekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid copy payload"))
		return
	}
	if req.Version == "" {
		req.Version = ifMatch(c)
	}
	resp, err := h.service.CopyWeek(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	setETag(c, resp.Version)
	response.JSON(c, http.StatusOK, resp, nil)
}

// ApplyPattern godoc
// @Summary Apply a template week to a date range
// @Tags Availability
// @Accept json
// @Produce json
// @Param id path string true "Instructor ID"
// @Param payload body dto.ApplyPatternRequest true "Pattern payload"
// @Success 200 {object} response.Envelope
// @Router /instructors/{id}/availability/apply-pattern [post]
func (h *AvailabilityHandler) ApplyPattern(c *gin.Context) {
	var req dto.ApplyPatternRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid pattern payload"))
		return
	}
	resp, err := h.service.ApplyPattern(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// Check godoc
// @Summary Check whether a window is published
// @Tags Availability
// @Produce json
// @Param id path string true "Instructor ID"
// @Param date query string true "Date (YYYY-MM-DD)"
// @Param start_time query string true "Start time (HH:MM)"
// @Param end_time query string true "End time (HH:MM)"
// @Success 200 {object} response.Envelope
// @Router /instructors/{id}/availability/check [get]
func (h *AvailabilityHandler) Check(c *gin.Context) {
	startTime, endTime := c.Query("start_time"), c.Query("end_time")
	if c.Query("date") == "" || startTime == "" || endTime == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "date, start_time and end_time are required"))
		return
	}
	day, err := service.ParseDate(c.Query("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	available, err := h.service.IsWindowAvailable(c.Request.Context(), c.Param("id"), day, startTime, endTime)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.AvailabilityCheckResponse{
		Date:      day.Format(models.DateLayout),
		StartTime: startTime,
		EndTime:   endTime,
		Available: available,
	}, nil)
}

// Reset godoc
// @Summary Delete every stored day of an instructor
// @Tags Availability
// @Produce json
// @Param id path string true "Instructor ID"
// @Success 200 {object} response.Envelope
// @Router /instructors/{id}/availability [delete]
func (h *AvailabilityHandler) Reset(c *gin.Context) {
	instructorID := c.Param("id")
	removed, err := h.service.ResetInstructor(c.Request.Context(), instructorID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.ResetAvailabilityResponse{InstructorID: instructorID, DaysRemoved: removed}, nil)
}

// Public godoc
// @Summary Customer-facing availability
// @Tags Public
// @Produce json
// @Param id path string true "Instructor ID"
// @Param start_date query string true "Start date (YYYY-MM-DD)"
// @Param end_date query string false "End date, defaults to six days after start"
// @Param as_of query string false "Evaluation instant (RFC3339), defaults to now"
// @Success 200 {object} response.Envelope
// @Router /public/instructors/{id}/availability [get]
func (h *AvailabilityHandler) Public(c *gin.Context) {
	start, end, err := h.spanQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var asOf time.Time
	if raw := c.Query("as_of"); raw != "" {
		asOf, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrFormat.Code, appErrors.ErrFormat.Status, "as_of must be RFC3339"))
			return
		}
	}
	days, hit, err := h.service.ComputePublicAvailability(c.Request.Context(), c.Param("id"), start, end, asOf)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, days, middleware.ExtractMeta(c))
}

// GetSettings godoc
// @Summary Effective business rules of an instructor
// @Tags Availability
// @Produce json
// @Param id path string true "Instructor ID"
// @Success 200 {object} response.Envelope
// @Router /instructors/{id}/availability/settings [get]
func (h *AvailabilityHandler) GetSettings(c *gin.Context) {
	settings, err := h.settings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, settings, nil)
}

// UpdateSettings godoc
// @Summary Override business rules of an instructor
// @Tags Availability
// @Accept json
// @Produce json
// @Param id path string true "Instructor ID"
// @Param payload body dto.UpdateSettingsRequest true "Settings payload"
// @Success 200 {object} response.Envelope
// @Router /instructors/{id}/availability/settings [put]
func (h *AvailabilityHandler) UpdateSettings(c *gin.Context) {
	var req dto.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid settings payload"))
		return
	}
	settings, err := h.settings.Update(c.Request.Context(), c.Param("id"), models.InstructorSettingsOverride{
		Timezone:               req.Timezone,
		MinAdvanceBookingHours: req.MinAdvanceBookingHours,
		BufferTimeMinutes:      req.BufferTimeMinutes,
		PastEditWindowDays:     req.PastEditWindowDays,
		ClampCopyToFuture:      req.ClampCopyToFuture,
		AllowPastEdits:         req.AllowPastEdits,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, settings, nil)
}

// dateQuery parses a date query parameter, defaulting to today in the
// instructor's timezone.
func (h *AvailabilityHandler) dateQuery(c *gin.Context, instructorID, name string) (time.Time, error) {
	if raw := c.Query(name); raw != "" {
		return service.ParseDate(raw)
	}
	settings, err := h.settings.Get(c.Request.Context(), instructorID)
	if err != nil {
		return time.Time{}, err
	}
	loc := settings.Location
	if loc == nil {
		loc = time.UTC
	}
	now := h.now().In(loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
}

func (h *AvailabilityHandler) spanQuery(c *gin.Context) (time.Time, time.Time, error) {
	if c.Query("start_date") == "" {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "start_date is required")
	}
	start, err := service.ParseDate(c.Query("start_date"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end := start.AddDate(0, 0, models.DaysPerWeek-1)
	if raw := c.Query("end_date"); raw != "" {
		if end, err = service.ParseDate(raw); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	return start, end, nil
}

func setETag(c *gin.Context, version string) {
	if version != "" {
		c.Header("ETag", `"`+version+`"`)
	}
}

// ifMatch returns the If-Match token without quotes or a weak prefix.
func ifMatch(c *gin.Context) string {
	raw := strings.TrimSpace(c.GetHeader("If-Match"))
	raw = strings.TrimPrefix(raw, "W/")
	if raw == "*" {
		return ""
	}
	return strings.Trim(raw, `"`)
}
