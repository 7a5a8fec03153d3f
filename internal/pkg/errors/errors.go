// Package errors provides coded errors for the renderfleet services.
// Codes drive retry behavior: transient store errors are retried,
// lease-lost errors stop the current job, fleet-control errors are
// retried on the next scaling cycle.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Code categorizes an error for retry and reporting decisions.
type Code string

const (
	CodeInternal        Code = "INTERNAL_ERROR"
	CodeValidation      Code = "VALIDATION_ERROR"
	CodeNotFound        Code = "NOT_FOUND"
	CodeAlreadyExists   Code = "ALREADY_EXISTS"
	CodeTimeout         Code = "TIMEOUT"
	CodeTransientStore  Code = "TRANSIENT_STORE"
	CodeLeaseLost       Code = "LEASE_LOST"
	CodeRenderUnit      Code = "RENDER_UNIT"
	CodeFleetControl    Code = "FLEET_CONTROL"
	CodeMalformedRecord Code = "MALFORMED_RECORD"
)

// Error is a coded error with the operation that produced it.
type Error struct {
	// Code is the error code for categorization.
	Code Code
	// Message is the human-readable error message.
	Message string
	// Op is the operation that failed (e.g., "lease.claim").
	Op string
	// Err is the underlying error.
	Err error
	// Fields contains additional context fields.
	Fields map[string]any
	// Stack contains the stack trace at error creation.
	Stack []Frame
}

// Frame represents a single stack frame.
type Frame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Code != "" {
		b.WriteString("[")
		b.WriteString(string(e.Code))
		b.WriteString("] ")
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithField adds a context field to the error.
func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// HTTPStatus returns the status code the status surface reports for
// this error.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeValidation, CodeMalformedRecord:
		return 400
	case CodeNotFound:
		return 404
	case CodeAlreadyExists, CodeLeaseLost:
		return 409
	case CodeTimeout:
		return 504
	case CodeTransientStore, CodeFleetControl:
		return 503
	default:
		return 500
	}
}

// New creates a new error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error, preserving its code if it has one.
func Wrap(err error, op string, message string) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return &Error{
			Code:    e.Code,
			Message: message,
			Op:      op,
			Err:     err,
			Fields:  e.Fields,
			Stack:   captureStack(2),
		}
	}

	return &Error{
		Code:    CodeInternal,
		Message: message,
		Op:      op,
		Err:     err,
		Stack:   captureStack(2),
	}
}

// WrapWithCode wraps an error under a specific code.
func WrapWithCode(err error, code Code, op string, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Message: message,
		Op:      op,
		Err:     err,
		Stack:   captureStack(2),
	}
}

// TransientStore marks a store operation that may be retried with backoff.
func TransientStore(err error, op string) *Error {
	return WrapWithCode(err, CodeTransientStore, op, "store operation failed")
}

// LeaseLost signals loss of exclusivity over a job. Work on the job
// must stop immediately; the error is never retried.
func LeaseLost(jobID string) *Error {
	return New(CodeLeaseLost, "lease lost for job "+jobID).WithField("job_id", jobID)
}

// RenderUnit marks a failed render invocation for one unit.
func RenderUnit(err error, unit int) *Error {
	return WrapWithCode(err, CodeRenderUnit, "render.unit", fmt.Sprintf("unit %d render failed", unit)).
		WithField("unit", unit)
}

// FleetControl marks a failed fleet resize or size query. The
// autoscaler logs it and retries next cycle.
func FleetControl(err error, op string) *Error {
	return WrapWithCode(err, CodeFleetControl, op, "fleet control operation failed")
}

// MalformedRecord marks a job record that could not be parsed during a
// scan. Scans skip such records and continue.
func MalformedRecord(err error, key string) *Error {
	return WrapWithCode(err, CodeMalformedRecord, "scan.parse", "malformed job record").
		WithField("key", key)
}

// Validation creates a validation error.
func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// NotFound creates a not found error.
func NotFound(resource string, id string) *Error {
	return New(CodeNotFound, fmt.Sprintf("%s not found: %s", resource, id)).
		WithField("resource", resource).
		WithField("id", id)
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	return GetCode(err) == code
}

// IsLeaseLost checks if an error signals loss of exclusivity.
func IsLeaseLost(err error) bool {
	return IsCode(err, CodeLeaseLost)
}

// IsTransient checks if an error is a retryable store error.
func IsTransient(err error) bool {
	return IsCode(err, CodeTransientStore)
}

// captureStack captures the current stack trace.
func captureStack(skip int) []Frame {
	const maxDepth = 32
	var pcs [maxDepth]uintptr
	n := runtime.Callers(skip+1, pcs[:])

	frames := make([]Frame, 0, n)
	callersFrames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := callersFrames.Next()

		// Skip runtime frames
		if strings.Contains(frame.File, "runtime/") {
			if !more {
				break
			}
			continue
		}

		frames = append(frames, Frame{
			File:     frame.File,
			Line:     frame.Line,
			Function: frame.Function,
		})

		if !more || len(frames) >= 10 {
			break
		}
	}

	return frames
}

// As is a convenience wrapper for errors.As.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is is a convenience wrapper for errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
