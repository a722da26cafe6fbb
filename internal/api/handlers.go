package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/gmsas95/dosewise/internal/adherence"
	apperrors "github.com/gmsas95/dosewise/internal/errors"
	"github.com/gmsas95/dosewise/internal/ics"
	"github.com/gmsas95/dosewise/internal/model"
	"github.com/gmsas95/dosewise/internal/recurrence"
)

var startLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"version":   "0.1.0",
		"timezone":  s.ledger.Location().String(),
		"timestamp": s.now().Unix(),
	})
}

func (s *Server) handleMetricsJSON(c *fiber.Ctx) error {
	return c.JSON(s.metrics.Snapshot())
}

func (s *Server) handleBadge(c *fiber.Ctx) error {
	if s.badges == nil {
		return fiber.NewError(fiber.StatusNotFound, "badge poll is not running")
	}
	return c.JSON(s.badges.Badge())
}

// ==================== Schedules ====================

func (s *Server) handleListSchedules(c *fiber.Ctx) error {
	return c.JSON(s.scheduler.ActiveSpecs(c.UserContext()))
}

func (s *Server) handleGetSchedule(c *fiber.Ctx) error {
	spec, ok := s.scheduler.Spec(c.UserContext(), c.Params("id"))
	if !ok {
		return apperrors.Detail(apperrors.ErrNotFound, "schedule %s", c.Params("id"))
	}
	return c.JSON(spec)
}

func (s *Server) handleReschedule(c *fiber.Ctx) error {
	var req scheduleRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.Wrap(err, apperrors.ErrBadRequest.Code, "invalid request body")
	}
	if req.MedicineID == "" {
		return apperrors.Detail(apperrors.ErrBadRequest, "medicine_id is required")
	}
	scheduleID := c.Params("id")
	if want := model.ScheduleIDFor(req.MedicineID, req.DoseIndex); scheduleID != want {
		return apperrors.Detail(apperrors.ErrBadRequest, "schedule id %q does not match %q", scheduleID, want)
	}

	zone := req.Timezone
	if zone == "" {
		zone = s.ledger.Location().String()
	}
	loc, err := recurrence.LoadLocation(zone)
	if err != nil {
		return err
	}

	dtstart, err := parseStart(req.DTStart, loc)
	if err != nil {
		return err
	}

	rule := req.RRule
	if rule == "" {
		freq, err := recurrence.ParseFrequency(req.Frequency)
		if err != nil {
			return err
		}
		if rule, err = recurrence.RuleFor(freq, dtstart, loc); err != nil {
			return err
		}
	}

	spec := model.ScheduleSpec{
		ScheduleID:      scheduleID,
		MedicineID:      req.MedicineID,
		DoseIndex:       req.DoseIndex,
		Title:           req.Title,
		Body:            req.Body,
		DTStart:         dtstart,
		Timezone:        loc.String(),
		RRule:           rule,
		OccurrenceCount: req.OccurrenceCount,
	}

	issued, err := s.scheduler.Reschedule(c.UserContext(), spec)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"schedule_id": spec.ScheduleID,
		"rrule":       spec.RRule,
		"issued":      len(issued),
		"reminders":   issued,
	})
}

func (s *Server) handleCancelSchedule(c *fiber.Ctx) error {
	if err := s.scheduler.Cancel(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleListReminders(c *fiber.Ctx) error {
	return c.JSON(s.scheduler.Issued(c.UserContext(), c.Params("id")))
}

func (s *Server) handleTriggerReminder(c *fiber.Ctx) error {
	if err := s.scheduler.MarkTriggered(c.UserContext(), c.Params("id"), c.Params("handle")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleCompleteReminder(c *fiber.Ctx) error {
	taken := true
	if len(c.Body()) > 0 {
		var req completeRequest
		if err := c.BodyParser(&req); err != nil {
			return apperrors.Wrap(err, apperrors.ErrBadRequest.Code, "invalid request body")
		}
		if req.Taken != nil {
			taken = *req.Taken
		}
	}

	reminder, err := s.scheduler.Complete(c.UserContext(), c.Params("id"), c.Params("handle"), taken)
	if err != nil {
		return err
	}
	return c.JSON(reminder)
}

func (s *Server) handlePendingReminders(c *fiber.Ctx) error {
	return c.JSON(s.scheduler.Pending(c.UserContext(), s.now()))
}

func (s *Server) handleScheduleCalendar(c *fiber.Ctx) error {
	id := c.Params("id")
	spec, ok := s.scheduler.Spec(c.UserContext(), id)
	if !ok {
		return apperrors.Detail(apperrors.ErrNotFound, "schedule %s", id)
	}
	return s.sendCalendar(c, id+".ics", []model.ScheduleSpec{*spec})
}

func (s *Server) handleCalendarFeed(c *fiber.Ctx) error {
	return s.sendCalendar(c, "dosewise.ics", s.scheduler.ActiveSpecs(c.UserContext()))
}

func (s *Server) sendCalendar(c *fiber.Ctx, filename string, specs []model.ScheduleSpec) error {
	c.Set(fiber.HeaderContentType, "text/calendar; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return c.SendString(ics.Export(specs, s.now()))
}

// ==================== Adherence ====================

func (s *Server) handleGetTaken(c *fiber.Ctx) error {
	taken, known, err := s.ledger.GetTaken(c.UserContext(),
		c.Query("medicine_id"), c.Query("date"), adherence.ParseTimeInput(c.Query("time")))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"taken": taken, "known": known})
}

func (s *Server) handleSetTaken(c *fiber.Ctx) error {
	var req adherenceRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.Wrap(err, apperrors.ErrBadRequest.Code, "invalid request body")
	}

	record, err := s.ledger.SetTaken(c.UserContext(), req.MedicineID, req.Date, adherence.ParseTimeInput(req.Time), req.Taken)
	if err != nil {
		return err
	}
	return c.JSON(record)
}

// handleToggleTaken flips a dose; an unrecorded dose becomes taken
func (s *Server) handleToggleTaken(c *fiber.Ctx) error {
	var req adherenceRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.Wrap(err, apperrors.ErrBadRequest.Code, "invalid request body")
	}

	record, err := s.ledger.Toggle(c.UserContext(), req.MedicineID, req.Date, adherence.ParseTimeInput(req.Time))
	if err != nil {
		return err
	}
	s.logger.Debug("Dose toggled", zap.String("key", record.Key()), zap.Bool("taken", record.Taken))
	return c.JSON(record)
}

func (s *Server) handleListRecords(c *fiber.Ctx) error {
	return c.JSON(s.ledger.Records(c.UserContext(), c.Query("start"), c.Query("end")))
}

func (s *Server) handlePercentage(c *fiber.Ctx) error {
	ctx := c.UserContext()
	start, end := c.Query("start"), c.Query("end")
	return c.JSON(fiber.Map{
		"start":       start,
		"end":         end,
		"percentage":  s.aggregator.Percentage(ctx, start, end),
		"by_medicine": s.aggregator.AdherenceByMedicine(ctx, start, end),
	})
}

func (s *Server) handleStreak(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"today":  s.aggregator.Today(),
		"streak": s.aggregator.Streak(c.UserContext()),
	})
}

func (s *Server) handleDay(c *fiber.Ctx) error {
	ctx := c.UserContext()
	date := c.Params("date")

	doses, err := s.aggregator.DayDetail(ctx, date, s.scheduler.ActiveSpecs(ctx), s.now())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"date":   date,
		"status": s.aggregator.DayStatus(ctx, date),
		"doses":  doses,
	})
}

func (s *Server) handleCalendar(c *fiber.Ctx) error {
	year, err := c.ParamsInt("year")
	if err != nil || year < 1 {
		return apperrors.Detail(apperrors.ErrBadRequest, "invalid year %q", c.Params("year"))
	}
	month, err := c.ParamsInt("month")
	if err != nil || month < 1 || month > 12 {
		return apperrors.Detail(apperrors.ErrBadRequest, "invalid month %q", c.Params("month"))
	}

	ctx := c.UserContext()
	days := s.aggregator.Calendar(ctx, year, time.Month(month), s.scheduler.ActiveSpecs(ctx), s.now())
	return c.JSON(fiber.Map{
		"year":  year,
		"month": month,
		"days":  days,
	})
}

// parseStart accepts RFC 3339 or a zone-less local date-time read in loc
func parseStart(raw string, loc *time.Location) (time.Time, error) {
	if raw == "" {
		return time.Time{}, apperrors.Detail(apperrors.ErrInvalidStart, "dtstart is required")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range startLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, apperrors.Detail(apperrors.ErrInvalidStart, "cannot parse dtstart %q", raw)
}
