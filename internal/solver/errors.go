package solver

import (
	"fmt"
	"time"
)

// TimeoutError reports that a solve call exceeded its transport deadline.
// The external solver may still be working; the result is abandoned.
type TimeoutError struct {
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("solver timed out after %s", e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// RejectedError carries a non-2xx reply from the service, typically a 400
// for a model that failed validation.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("solver rejected request: status %d", e.StatusCode)
	}
	return fmt.Sprintf("solver rejected request: status %d: %s", e.StatusCode, e.Message)
}
