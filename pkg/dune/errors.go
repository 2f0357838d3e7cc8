package dune

import (
	"errors"
	"fmt"
)

// ErrInvalidAPIKey means the service rejected the credential, or none was configured.
var ErrInvalidAPIKey = errors.New("invalid or missing API key")

// ErrCancelled means the service reported the execution as cancelled.
var ErrCancelled = errors.New("query execution was cancelled")

// RequestError is a transport failure: DNS, connection, IO.
type RequestError struct {
	Err error
}

func (e *RequestError) Error() string { return "http request failed: " + e.Err.Error() }

func (e *RequestError) Unwrap() error { return e.Err }

// APIError is a structured error returned by the service. StatusCode is 0
// when the request was rejected before being sent.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string { return "api error: " + e.Message }

// ParseError means a response body did not match the expected schema.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return "failed to parse response: " + e.Err.Error() }

func (e *ParseError) Unwrap() error { return e.Err }

// ExecutionFailedError means the execution reached the failed state.
// Message is the service-supplied text, unmodified.
type ExecutionFailedError struct {
	ExecutionID string
	Type        string
	Message     string
}

func (e *ExecutionFailedError) Error() string {
	if e.Message == "" {
		return "query execution failed"
	}
	return "query execution failed: " + e.Message
}

// TimeoutError means the client-side tracking deadline passed before the
// execution reached a terminal state. The remote execution is unaffected.
type TimeoutError struct {
	ExecutionID string
	Seconds     uint64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("query execution timed out after %d seconds", e.Seconds)
}

// ErrorKind classifies errors returned by this package.
type ErrorKind int

// Error kinds. KindUnknown covers errors from outside this package, such as
// a cancelled context.
const (
	KindUnknown ErrorKind = iota
	KindRequest
	KindAPI
	KindParse
	KindInvalidAPIKey
	KindExecutionFailed
	KindTimeout
	KindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case KindRequest:
		return "REQUEST"
	case KindAPI:
		return "API"
	case KindParse:
		return "PARSE"
	case KindInvalidAPIKey:
		return "INVALID_API_KEY"
	case KindExecutionFailed:
		return "EXECUTION_FAILED"
	case KindTimeout:
		return "TIMEOUT"
	case KindCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// KindOf returns the kind of err, looking through wrapping.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var (
		reqErr     *RequestError
		apiErr     *APIError
		parseErr   *ParseError
		failedErr  *ExecutionFailedError
		timeoutErr *TimeoutError
	)
	switch {
	case errors.Is(err, ErrInvalidAPIKey):
		return KindInvalidAPIKey
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.As(err, &failedErr):
		return KindExecutionFailed
	case errors.As(err, &timeoutErr):
		return KindTimeout
	case errors.As(err, &apiErr):
		return KindAPI
	case errors.As(err, &parseErr):
		return KindParse
	case errors.As(err, &reqErr):
		return KindRequest
	default:
		return KindUnknown
	}
}
