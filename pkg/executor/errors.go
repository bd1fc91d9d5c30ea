package executor

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError rejects a malformed request before any network call
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid task: %s", e.Reason)
}

// RejectedError signals the worker refused the task; never retried
type RejectedError struct {
	TaskID string
	Code   ErrorCode
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("task %s rejected (%s): %s", e.TaskID, e.Code, e.Reason)
}

// TimeoutError signals the task exceeded its deadline
type TimeoutError struct {
	TaskID  string
	Timeout int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s timed out after %ds", e.TaskID, e.Timeout)
}

// ConnectionError signals the worker was unreachable; retried
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cannot connect to worker at %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// CredentialExpiredError signals scoped credentials aged past their TTL
type CredentialExpiredError struct {
	TaskID string
	AgeSec float64
}

func (e *CredentialExpiredError) Error() string {
	return fmt.Sprintf("task %s: scoped credentials expired (age %.0fs)", e.TaskID, e.AgeSec)
}

// IsRejected reports whether err is a worker rejection
func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}

// IsConnectionError reports whether err indicates an unreachable worker
func IsConnectionError(err error) bool {
	var conn *ConnectionError
	return errors.As(err, &conn)
}

// CategorizeError maps an error string onto an ErrorCode. Only used when the
// worker did not return a structured error_code.
func CategorizeError(msg string) ErrorCode {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "timeout"):
		return CodeTimeout
	case strings.Contains(lower, "rate limit"):
		return CodeRateLimited
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "api key"):
		return CodeAuthFailed
	case strings.Contains(lower, "domain") && strings.Contains(lower, "allowlist"):
		return CodeDomainBlocked
	case strings.Contains(lower, "tool") && strings.Contains(lower, "allowlist"):
		return CodeToolBlocked
	case strings.Contains(lower, "step") && strings.Contains(lower, "limit"):
		return CodeStepLimit
	default:
		return CodeUnknown
	}
}
