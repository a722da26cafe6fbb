// Package reminders issues, reissues and cancels dose reminders through a
// dispatcher and tracks each issued reminder through its lifecycle.
package reminders

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/gmsas95/dosewise/internal/dispatch"
	apperrors "github.com/gmsas95/dosewise/internal/errors"
	"github.com/gmsas95/dosewise/internal/keylock"
	"github.com/gmsas95/dosewise/internal/kv"
	"github.com/gmsas95/dosewise/internal/metrics"
	"github.com/gmsas95/dosewise/internal/model"
	"github.com/gmsas95/dosewise/internal/recurrence"
)

// DoseRecorder receives the outcome when a reminder is completed
type DoseRecorder interface {
	RecordDose(ctx context.Context, medicineID, date, timeOfDay string, taken bool) error
}

// Scheduler owns the issued reminder set and active spec of every schedule
type Scheduler struct {
	store      kv.Store
	dispatcher dispatch.Dispatcher
	expander   *recurrence.Expander
	recorder   DoseRecorder
	metrics    *metrics.Metrics
	logger     *zap.Logger
	locks      *keylock.Map
	cap        int
}

// NewScheduler creates a scheduler with the default expander and cap
func NewScheduler(store kv.Store, dispatcher dispatch.Dispatcher, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		expander:   recurrence.NewExpander(),
		metrics:    metrics.Default(),
		logger:     logger,
		locks:      keylock.New(),
		cap:        recurrence.DefaultOccurrenceCap,
	}
}

// WithExpander replaces the expander, typically to pin its clock
func (s *Scheduler) WithExpander(e *recurrence.Expander) *Scheduler {
	s.expander = e
	return s
}

// WithRecorder sets where completed reminders record their outcome
func (s *Scheduler) WithRecorder(r DoseRecorder) *Scheduler {
	s.recorder = r
	return s
}

func (s *Scheduler) WithMetrics(m *metrics.Metrics) *Scheduler {
	s.metrics = m
	return s
}

// WithOccurrenceCap sets the cap used when a spec does not carry its own
func (s *Scheduler) WithOccurrenceCap(n int) *Scheduler {
	if n > 0 {
		s.cap = n
	}
	return s
}

// Reschedule replaces every reminder of spec.ScheduleID with a fresh
// expansion. Previously issued reminders are cancelled before any new one is
// dispatched, except delivered ones still awaiting an action, which stay in
// the set in place of their occurrence. Occurrences the dispatcher rejects
// are logged and skipped.
func (s *Scheduler) Reschedule(ctx context.Context, spec model.ScheduleSpec) ([]model.IssuedReminder, error) {
	if spec.ScheduleID == "" {
		return nil, apperrors.ErrMissingScheduleID
	}
	if spec.DTStart.IsZero() {
		return nil, apperrors.Detail(apperrors.ErrInvalidStart, "schedule %s has no dtstart", spec.ScheduleID)
	}
	loc, err := recurrence.LoadLocation(spec.Timezone)
	if err != nil {
		return nil, err
	}
	if spec.TimeOfDay == "" {
		spec.TimeOfDay = spec.DTStart.In(loc).Format(model.ClockLayout)
	}

	limit := spec.OccurrenceCount
	if limit <= 0 {
		limit = s.cap
	}
	occurrences, err := s.expander.Expand(spec.DTStart, spec.Timezone, spec.RRule, limit)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(spec.ScheduleID)
	defer unlock()

	carried, err := s.cancelIssued(ctx, spec.ScheduleID)
	if err != nil {
		return nil, err
	}
	delivered := make(map[int64]bool, len(carried))
	for _, r := range carried {
		delivered[r.TriggerAt.UnixNano()] = true
	}

	content := dispatch.Content{
		Title: spec.Title,
		Body:  spec.Body,
		Data: map[string]string{
			dispatch.DataScheduleID: spec.ScheduleID,
			dispatch.DataMedicineID: spec.MedicineID,
			dispatch.DataTimeOfDay:  spec.TimeOfDay,
		},
	}

	issued := make([]model.IssuedReminder, 0, len(carried)+len(occurrences))
	issued = append(issued, carried...)
	failed := 0
	for _, at := range occurrences {
		if delivered[at.UnixNano()] {
			continue
		}
		h, err := s.dispatcher.Schedule(ctx, content, at)
		if err != nil {
			failed++
			s.logger.Warn("Failed to dispatch occurrence",
				zap.String("schedule_id", spec.ScheduleID),
				zap.Time("trigger_at", at),
				zap.Error(err),
			)
			continue
		}
		issued = append(issued, model.IssuedReminder{
			ID:         string(h),
			ScheduleID: spec.ScheduleID,
			TriggerAt:  at,
		})
	}

	sort.SliceStable(issued, func(i, j int) bool {
		return issued[i].TriggerAt.Before(issued[j].TriggerAt)
	})

	s.metrics.RecordReschedule(len(issued)-len(carried), failed)
	s.logger.Info("Schedule issued",
		zap.String("schedule_id", spec.ScheduleID),
		zap.Int("issued", len(issued)-len(carried)),
		zap.Int("carried", len(carried)),
		zap.Int("failed", failed),
	)

	if err := s.saveIssued(ctx, spec.ScheduleID, issued); err != nil {
		return issued, err
	}
	if err := s.saveSpec(ctx, spec); err != nil {
		return issued, err
	}
	return issued, nil
}

// Cancel withdraws every reminder of scheduleID and forgets the schedule.
// Cancelling an unknown schedule is a no-op.
func (s *Scheduler) Cancel(ctx context.Context, scheduleID string) error {
	if scheduleID == "" {
		return apperrors.ErrMissingScheduleID
	}

	unlock := s.locks.Lock(scheduleID)
	defer unlock()

	if _, err := s.cancelIssued(ctx, scheduleID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, kv.SpecPrefix+scheduleID); err != nil {
		s.logger.Error("Failed to delete schedule spec", zap.String("schedule_id", scheduleID), zap.Error(err))
		return apperrors.Wrap(err, apperrors.ErrStorage.Code, "failed to delete schedule spec")
	}

	s.logger.Info("Schedule cancelled", zap.String("schedule_id", scheduleID))
	return nil
}

// MarkTriggered moves a scheduled reminder to triggered
func (s *Scheduler) MarkTriggered(ctx context.Context, scheduleID, handle string) error {
	unlock := s.locks.Lock(scheduleID)
	defer unlock()

	issued := s.loadIssued(ctx, scheduleID)
	i := indexOf(issued, handle)
	if i < 0 {
		return apperrors.Detail(apperrors.ErrReminderNotFound, "%s/%s", scheduleID, handle)
	}
	if issued[i].Delivered {
		return nil
	}
	issued[i].Delivered = true

	s.metrics.RecordTriggered()
	return s.saveIssued(ctx, scheduleID, issued)
}

// Complete records the user's outcome for a reminder and marks it completed.
// The dose is written to the ledger at the reminder's local date and time.
func (s *Scheduler) Complete(ctx context.Context, scheduleID, handle string, taken bool) (*model.IssuedReminder, error) {
	unlock := s.locks.Lock(scheduleID)
	defer unlock()

	issued := s.loadIssued(ctx, scheduleID)
	i := indexOf(issued, handle)
	if i < 0 {
		return nil, apperrors.Detail(apperrors.ErrReminderNotFound, "%s/%s", scheduleID, handle)
	}

	spec, ok := s.loadSpec(ctx, scheduleID)
	if !ok {
		return nil, apperrors.Detail(apperrors.ErrNotFound, "schedule %s has no active spec", scheduleID)
	}

	if s.recorder != nil {
		loc, err := recurrence.LoadLocation(spec.Timezone)
		if err != nil {
			return nil, err
		}
		local := issued[i].TriggerAt.In(loc)
		err = s.recorder.RecordDose(ctx, spec.MedicineID,
			local.Format(model.DateLayout), local.Format(model.ClockLayout), taken)
		if err != nil {
			return nil, err
		}
	}

	issued[i].Delivered = true
	issued[i].Completed = true
	if err := s.saveIssued(ctx, scheduleID, issued); err != nil {
		return nil, err
	}

	s.metrics.RecordCompleted()
	out := issued[i]
	return &out, nil
}

// HandleDelivery is the dispatcher callback for fired reminders
func (s *Scheduler) HandleDelivery(handle dispatch.Handle, content dispatch.Content) {
	scheduleID := content.Data[dispatch.DataScheduleID]
	if scheduleID == "" {
		s.logger.Warn("Delivered reminder carries no schedule id", zap.String("handle", string(handle)))
		return
	}
	if err := s.MarkTriggered(context.Background(), scheduleID, string(handle)); err != nil {
		s.logger.Warn("Failed to mark reminder triggered",
			zap.String("schedule_id", scheduleID),
			zap.String("handle", string(handle)),
			zap.Error(err),
		)
	}
}

// Issued returns the persisted reminder set of a schedule, empty if none
func (s *Scheduler) Issued(ctx context.Context, scheduleID string) []model.IssuedReminder {
	return s.loadIssued(ctx, scheduleID)
}

// Pending returns triggered reminders still awaiting an outcome whose
// trigger time is not after now, oldest first
func (s *Scheduler) Pending(ctx context.Context, now time.Time) []model.IssuedReminder {
	entries, err := s.store.Scan(ctx, kv.SchedulePrefix)
	if err != nil {
		s.readFailed("Failed to scan issued reminders", err)
		return []model.IssuedReminder{}
	}

	pending := []model.IssuedReminder{}
	for key, raw := range entries {
		var issued []model.IssuedReminder
		if err := json.Unmarshal(raw, &issued); err != nil {
			s.readFailed("Corrupt reminder set "+key, err)
			continue
		}
		for _, r := range issued {
			if r.IsActionable() && !r.TriggerAt.After(now) {
				pending = append(pending, r)
			}
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].TriggerAt.Before(pending[j].TriggerAt)
	})
	return pending
}

// ActiveSpecs returns every persisted schedule ordered by id
func (s *Scheduler) ActiveSpecs(ctx context.Context) []model.ScheduleSpec {
	entries, err := s.store.Scan(ctx, kv.SpecPrefix)
	if err != nil {
		s.readFailed("Failed to scan schedule specs", err)
		return []model.ScheduleSpec{}
	}

	specs := make([]model.ScheduleSpec, 0, len(entries))
	for key, raw := range entries {
		var spec model.ScheduleSpec
		if err := json.Unmarshal(raw, &spec); err != nil {
			s.readFailed("Corrupt schedule spec "+key, err)
			continue
		}
		specs = append(specs, spec)
	}

	sort.Slice(specs, func(i, j int) bool { return specs[i].ScheduleID < specs[j].ScheduleID })
	return specs
}

// Spec returns the active spec of a schedule
func (s *Scheduler) Spec(ctx context.Context, scheduleID string) (*model.ScheduleSpec, bool) {
	spec, ok := s.loadSpec(ctx, scheduleID)
	if !ok {
		return nil, false
	}
	return &spec, true
}

// cancelIssued cancels reminders that have not fired yet and drops the
// persisted set. It returns the delivered reminders still awaiting an
// action. Callers hold the schedule lock.
func (s *Scheduler) cancelIssued(ctx context.Context, scheduleID string) ([]model.IssuedReminder, error) {
	issued := s.loadIssued(ctx, scheduleID)

	var actionable []model.IssuedReminder
	failed := 0
	for _, r := range issued {
		if r.Delivered {
			if r.IsActionable() {
				actionable = append(actionable, r)
			}
			continue
		}
		if err := s.dispatcher.Cancel(ctx, dispatch.Handle(r.ID)); err != nil {
			failed++
			s.logger.Warn("Failed to cancel reminder",
				zap.String("schedule_id", scheduleID),
				zap.String("handle", r.ID),
				zap.Error(err),
			)
		}
	}
	if len(issued) > 0 {
		s.metrics.RecordCancel(failed)
	}

	if err := s.store.Delete(ctx, kv.SchedulePrefix+scheduleID); err != nil {
		s.logger.Error("Failed to delete reminder set", zap.String("schedule_id", scheduleID), zap.Error(err))
		return nil, apperrors.Wrap(err, apperrors.ErrStorage.Code, "failed to delete reminder set")
	}
	return actionable, nil
}

func (s *Scheduler) loadIssued(ctx context.Context, scheduleID string) []model.IssuedReminder {
	raw, err := s.store.Get(ctx, kv.SchedulePrefix+scheduleID)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.readFailed("Failed to read reminder set", err)
		}
		return []model.IssuedReminder{}
	}

	var issued []model.IssuedReminder
	if err := json.Unmarshal(raw, &issued); err != nil {
		s.readFailed("Corrupt reminder set", err)
		return []model.IssuedReminder{}
	}
	return issued
}

func (s *Scheduler) saveIssued(ctx context.Context, scheduleID string, issued []model.IssuedReminder) error {
	data, err := json.Marshal(issued)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrInternal.Code, "failed to encode reminder set")
	}
	if err := s.store.Set(ctx, kv.SchedulePrefix+scheduleID, data); err != nil {
		s.logger.Error("Failed to persist reminder set", zap.String("schedule_id", scheduleID), zap.Error(err))
		return apperrors.Wrap(err, apperrors.ErrStorage.Code, "failed to persist reminder set")
	}
	return nil
}

func (s *Scheduler) loadSpec(ctx context.Context, scheduleID string) (model.ScheduleSpec, bool) {
	var spec model.ScheduleSpec

	raw, err := s.store.Get(ctx, kv.SpecPrefix+scheduleID)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			s.readFailed("Failed to read schedule spec", err)
		}
		return spec, false
	}
	if err := json.Unmarshal(raw, &spec); err != nil {
		s.readFailed("Corrupt schedule spec", err)
		return spec, false
	}
	return spec, true
}

func (s *Scheduler) saveSpec(ctx context.Context, spec model.ScheduleSpec) error {
	data, err := json.Marshal(spec)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrInternal.Code, "failed to encode schedule spec")
	}
	if err := s.store.Set(ctx, kv.SpecPrefix+spec.ScheduleID, data); err != nil {
		s.logger.Error("Failed to persist schedule spec", zap.String("schedule_id", spec.ScheduleID), zap.Error(err))
		return apperrors.Wrap(err, apperrors.ErrStorage.Code, "failed to persist schedule spec")
	}
	return nil
}

func (s *Scheduler) readFailed(msg string, err error) {
	s.metrics.RecordStoreReadFailure()
	s.logger.Warn(msg, zap.Error(err))
}

func indexOf(issued []model.IssuedReminder, handle string) int {
	for i := range issued {
		if issued[i].ID == handle {
			return i
		}
	}
	return -1
}
