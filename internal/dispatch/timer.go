package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TimerDispatcher fires notifications from in-process timers. It is the
// default dispatcher when no external push service is wired.
type TimerDispatcher struct {
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	timers    map[Handle]*time.Timer
	onDeliver DeliveryFunc
}

// NewTimerDispatcher creates a dispatcher with no delivery handler
func NewTimerDispatcher(logger *zap.Logger) *TimerDispatcher {
	return &TimerDispatcher{
		logger: logger,
		now:    time.Now,
		timers: make(map[Handle]*time.Timer),
	}
}

// OnDeliver sets the callback run when a notification fires
func (d *TimerDispatcher) OnDeliver(fn DeliveryFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onDeliver = fn
}

// Schedule arms a timer for triggerAt
func (d *TimerDispatcher) Schedule(_ context.Context, content Content, triggerAt time.Time) (Handle, error) {
	delay := triggerAt.Sub(d.now())
	if delay < 0 {
		return "", fmt.Errorf("trigger time %s is in the past", triggerAt.Format(time.RFC3339))
	}

	handle := Handle(uuid.NewString())

	d.mu.Lock()
	defer d.mu.Unlock()

	d.timers[handle] = time.AfterFunc(delay, func() {
		d.fire(handle, content)
	})
	return handle, nil
}

// Cancel stops a pending timer. Unknown handles are an error so callers can
// log them; the scheduler tolerates the failure.
func (d *TimerDispatcher) Cancel(_ context.Context, handle Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	timer, ok := d.timers[handle]
	if !ok {
		return fmt.Errorf("unknown handle: %s", handle)
	}
	timer.Stop()
	delete(d.timers, handle)
	return nil
}

// Pending returns how many timers are still armed
func (d *TimerDispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.timers)
}

// Stop disarms every timer
func (d *TimerDispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for h, timer := range d.timers {
		timer.Stop()
		delete(d.timers, h)
	}
}

func (d *TimerDispatcher) fire(handle Handle, content Content) {
	d.mu.Lock()
	delete(d.timers, handle)
	cb := d.onDeliver
	d.mu.Unlock()

	d.logger.Debug("Reminder fired",
		zap.String("handle", string(handle)),
		zap.String("schedule_id", content.Data[DataScheduleID]),
	)

	if cb == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Panic in delivery callback", zap.Any("recover", r))
		}
	}()
	cb(handle, content)
}
