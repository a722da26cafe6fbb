package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestAppError(t *testing.T) {
	err := New("TEST_001", "test error")

	if err.Code != "TEST_001" {
		t.Errorf("expected code TEST_001, got %s", err.Code)
	}
	if err.Message != "test error" {
		t.Errorf("expected message 'test error', got %s", err.Message)
	}
}

func TestAppErrorWithCause(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := New("STORE_001", "write failed", cause)

	if err.Cause != cause {
		t.Errorf("expected cause to be set")
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("expected error string to contain cause, got %s", err.Error())
	}
	if err.Unwrap() != cause {
		t.Errorf("expected unwrap to return cause")
	}
}

func TestIsAppError_Wrapped(t *testing.T) {
	appErr := Detail(ErrInvalidRule, "missing FREQ")
	wrapped := fmt.Errorf("reschedule: %w", appErr)

	if !IsAppError(wrapped) {
		t.Error("expected IsAppError to see through fmt wrapping")
	}
	if IsAppError(fmt.Errorf("standard error")) {
		t.Error("expected IsAppError to return false for standard error")
	}
}

func TestGetCode(t *testing.T) {
	if GetCode(Detail(ErrInvalidTimezone, "Mars/Olympus")) != "RRULE_002" {
		t.Errorf("unexpected code for detailed timezone error")
	}
	if GetCode(fmt.Errorf("standard error")) != "UNKNOWN" {
		t.Errorf("expected code UNKNOWN for standard error")
	}
}

func TestIs_MatchesByCode(t *testing.T) {
	err := fmt.Errorf("expand: %w", Detail(ErrInvalidRule, "bad INTERVAL"))

	if !stderrors.Is(err, ErrInvalidRule) {
		t.Error("expected errors.Is to match predefined error by code")
	}
	if stderrors.Is(err, ErrInvalidTimezone) {
		t.Error("expected errors.Is not to match a different code")
	}
}

func TestWrap(t *testing.T) {
	cause := fmt.Errorf("underlying error")
	err := Wrap(cause, "DISPATCH_001", "schedule failed")

	if err.Code != "DISPATCH_001" {
		t.Errorf("expected code DISPATCH_001, got %s", err.Code)
	}
	if err.Cause != cause {
		t.Error("expected cause to be set")
	}
}

func TestPredefinedErrors(t *testing.T) {
	if ErrMissingScheduleID.Code != "SCHED_001" {
		t.Errorf("unexpected code for ErrMissingScheduleID")
	}
	if ErrInvalidTime.Code != "LEDGER_001" {
		t.Errorf("unexpected code for ErrInvalidTime")
	}
}
