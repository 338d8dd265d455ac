// Package domain provides the failure taxonomy shared by the pipeline stages,
// the tenant registry and the HTTP surface.
package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind represents the category of a pipeline failure.
type ErrorKind string

const (
	// ErrorKindTransport indicates a connection-level fault.
	ErrorKindTransport ErrorKind = "transport_error"

	// ErrorKindTimeout indicates a stage deadline was exceeded.
	ErrorKindTimeout ErrorKind = "timeout"

	// ErrorKindUpstream indicates the remote service answered with a non-success status.
	ErrorKindUpstream ErrorKind = "upstream_error"

	// ErrorKindConfiguration indicates missing or invalid tenant configuration.
	ErrorKindConfiguration ErrorKind = "configuration_error"

	// ErrorKindNotFound indicates an unknown tenant id.
	ErrorKindNotFound ErrorKind = "not_found"

	// ErrorKindInvalidRequest indicates a request that could not be built or was rejected locally.
	ErrorKindInvalidRequest ErrorKind = "invalid_request"

	// ErrorKindInvalidResponse indicates a success response whose body could not be interpreted.
	ErrorKindInvalidResponse ErrorKind = "invalid_response"
)

// Stage names a single outbound call type within the pipeline.
type Stage string

const (
	StageEmbed    Stage = "embed"
	StageSearch   Stage = "search"
	StageComplete Stage = "complete"
	StageProbe    Stage = "probe"
)

// Error is a classified failure. Stage failures carry the stage, and
// upstream failures carry the remote status code and body.
type Error struct {
	Kind       ErrorKind
	Stage      Stage
	StatusCode int
	Body       string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}

	prefix := string(e.Kind)
	if e.Stage != "" {
		prefix = fmt.Sprintf("%s %s", e.Stage, e.Kind)
	}

	if e.Kind == ErrorKindUpstream {
		return fmt.Sprintf("%s (status %d): %s", prefix, e.StatusCode, e.Body)
	}
	if msg == "" {
		return prefix
	}
	return fmt.Sprintf("%s: %s", prefix, msg)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure kind is eligible for another attempt.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case ErrorKindTransport, ErrorKindTimeout, ErrorKindUpstream:
		return true
	default:
		return false
	}
}

// HTTPStatusCode returns the status the request layer should answer with.
func (e *Error) HTTPStatusCode() int {
	switch e.Kind {
	case ErrorKindNotFound:
		return http.StatusNotFound
	case ErrorKindInvalidRequest:
		return http.StatusBadRequest
	case ErrorKindConfiguration:
		return http.StatusInternalServerError
	default:
		return http.StatusBadGateway
	}
}

// PipelineError is the single failure outcome of an answer_query call.
// The stage failure that ended the call is attached unchanged.
type PipelineError struct {
	Tenant string
	Stage  Stage
	Err    error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline failed for tenant %s at %s: %v", e.Tenant, e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewError creates a classified error without a cause.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Convenience constructors for common failures

// ErrTransport wraps a connection-level fault for a stage.
func ErrTransport(stage Stage, err error) *Error {
	return &Error{Kind: ErrorKindTransport, Stage: stage, Err: err}
}

// ErrTimeout wraps a deadline expiry for a stage.
func ErrTimeout(stage Stage, err error) *Error {
	return &Error{Kind: ErrorKindTimeout, Stage: stage, Message: "request timed out", Err: err}
}

// ErrUpstream records a non-success response for a stage.
func ErrUpstream(stage Stage, statusCode int, body string) *Error {
	return &Error{Kind: ErrorKindUpstream, Stage: stage, StatusCode: statusCode, Body: body}
}

// ErrInvalidResponse wraps a body that could not be decoded.
func ErrInvalidResponse(stage Stage, message string, err error) *Error {
	return &Error{Kind: ErrorKindInvalidResponse, Stage: stage, Message: message, Err: err}
}

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(message string) *Error {
	return NewError(ErrorKindInvalidRequest, message)
}

// ErrConfiguration creates a configuration error.
func ErrConfiguration(message string) *Error {
	return NewError(ErrorKindConfiguration, message)
}

// ErrNotFound creates a not found error.
func ErrNotFound(message string) *Error {
	return NewError(ErrorKindNotFound, message)
}

// ClassifyTransport maps an error returned by http.Client.Do to a stage failure.
func ClassifyTransport(stage Stage, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout(stage, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout(stage, err)
	}
	return ErrTransport(stage, err)
}

// KindOf returns the failure kind of err. Context deadline errors count as
// timeouts; unclassified errors count as transport faults.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}
	return ErrorKindTransport
}

// IsRetryable reports whether err is a classified failure of a retryable kind.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}

// HTTPStatusCode returns the status for any error. Pipeline failures map to
// 502 even when their cause is unclassified; other unclassified errors are 500.
func HTTPStatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatusCode()
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
