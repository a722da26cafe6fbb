// Package dispatch defines the notification-dispatch capability reminders are
// issued through, plus an in-process timer implementation and wrappers that
// protect an external dispatcher.
package dispatch

import (
	"context"
	"time"
)

// Handle is the opaque id a dispatcher returns for a scheduled notification
type Handle string

// Content is what the dispatcher shows when the reminder fires
type Content struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Dispatcher schedules and cancels individual notifications. Both calls may
// fail per occurrence; callers tolerate and log such failures.
type Dispatcher interface {
	Schedule(ctx context.Context, content Content, triggerAt time.Time) (Handle, error)
	Cancel(ctx context.Context, handle Handle) error
}

// DeliveryFunc is invoked when a scheduled notification fires
type DeliveryFunc func(handle Handle, content Content)

// Data keys attached to every reminder
const (
	DataScheduleID = "scheduleId"
	DataMedicineID = "medicineId"
	DataTimeOfDay  = "timeOfDay"
)
