package recording

import "errors"

var (
	// ErrValidation marks a malformed intent. It is raised before any
	// command is synthesized and never reaches the OS scheduler.
	ErrValidation = errors.New("invalid recording")

	ErrSchedulerUnavailable = errors.New("scheduler unavailable")
	ErrSchedulingRejected   = errors.New("scheduling rejected")
	ErrSchedulerTimeout     = errors.New("scheduler timeout")
	ErrCorruptTaskPayload   = errors.New("corrupt task payload")

	// ErrNotFound is benign: the job may already have fired.
	ErrNotFound = errors.New("recording not found")
)

// IsRetryable reports whether err is an infrastructure failure worth retrying.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSchedulerUnavailable) || errors.Is(err, ErrSchedulerTimeout)
}

// Outcome maps err to a short label for metrics and audit records.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrSchedulerUnavailable):
		return "unavailable"
	case errors.Is(err, ErrSchedulingRejected):
		return "rejected"
	case errors.Is(err, ErrSchedulerTimeout):
		return "timeout"
	case errors.Is(err, ErrCorruptTaskPayload):
		return "corrupt"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
