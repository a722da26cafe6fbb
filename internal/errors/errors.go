package errors

import (
	stderrors "errors"
	"fmt"
)

type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any AppError carrying the same code, so callers can test
// errors.Is(err, ErrInvalidRule) against a detailed instance.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

func New(code, message string, cause ...error) *AppError {
	var c error
	if len(cause) > 0 {
		c = cause[0]
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   c,
	}
}

var (
	ErrConfigNotFound = &AppError{Code: "CONFIG_001", Message: "configuration not found"}
	ErrConfigInvalid  = &AppError{Code: "CONFIG_002", Message: "invalid configuration"}

	ErrInvalidRule     = &AppError{Code: "RRULE_001", Message: "invalid recurrence rule"}
	ErrInvalidTimezone = &AppError{Code: "RRULE_002", Message: "invalid timezone"}
	ErrInvalidStart    = &AppError{Code: "RRULE_003", Message: "invalid recurrence start"}

	ErrMissingScheduleID = &AppError{Code: "SCHED_001", Message: "schedule id is required"}
	ErrUnknownFrequency  = &AppError{Code: "SCHED_002", Message: "unknown dosing frequency"}
	ErrReminderNotFound  = &AppError{Code: "SCHED_003", Message: "reminder not found"}

	ErrInvalidTime = &AppError{Code: "LEDGER_001", Message: "invalid time representation"}
	ErrInvalidDate = &AppError{Code: "LEDGER_002", Message: "invalid date"}

	ErrStorage  = &AppError{Code: "STORE_001", Message: "storage failure"}
	ErrDispatch = &AppError{Code: "DISPATCH_001", Message: "dispatcher failure"}

	ErrNotFound   = &AppError{Code: "GEN_001", Message: "resource not found"}
	ErrBadRequest = &AppError{Code: "GEN_002", Message: "bad request"}
	ErrInternal   = &AppError{Code: "GEN_003", Message: "internal error"}
)

func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Detail returns a copy of a predefined error with a specific message suffix
func Detail(base *AppError, format string, args ...any) *AppError {
	return &AppError{
		Code:    base.Code,
		Message: base.Message + ": " + fmt.Sprintf(format, args...),
	}
}
