// Package errors provides structured error handling for the ACP runtime.
// It defines custom error types that map to JSON-RPC error codes and carry
// enough context to tell which connection, session, or operation failed.
package errors

import (
	"encoding/json"
	"fmt"
	"time"
)

// Category classifies an error for handling policy. The categories mirror
// the runtime's failure taxonomy: transport errors drop the frame, protocol
// errors cross the wire as JSON-RPC errors, correlation errors surface only
// to the awaiting caller, discovery errors demote to the next tier, and so on.
type Category string

const (
	CategoryTransport   Category = "transport"
	CategoryProtocol    Category = "protocol"
	CategoryCorrelation Category = "correlation"
	CategoryDiscovery   Category = "discovery"
	CategoryResource    Category = "resource"
	CategoryHandler     Category = "handler"
	CategoryValidation  Category = "validation"
	CategoryAuth        Category = "auth"
	CategoryTimeout     Category = "timeout"
	CategoryCancelled   Category = "cancelled"
	CategoryInternal    Category = "internal"
)

// Severity indicates how critical an error is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Context records where and when an error occurred.
type Context struct {
	RequestID    string                 `json:"request_id,omitempty"`
	Method       string                 `json:"method,omitempty"`
	SessionID    string                 `json:"session_id,omitempty"`
	ConnectionID string                 `json:"connection_id,omitempty"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
	Component    string                 `json:"component,omitempty"`
	Operation    string                 `json:"operation,omitempty"`
}

// ACPError is the interface implemented by all runtime errors.
type ACPError interface {
	error

	// Code returns the JSON-RPC error code.
	Code() int

	// Message returns a human-readable error message.
	Message() string

	// Details returns a technical description for debugging.
	Details() string

	// Data returns structured error data for programmatic handling.
	Data() interface{}

	// Category returns the error category.
	Category() Category

	// Severity returns the error severity level.
	Severity() Severity

	// Context returns the error context information.
	Context() *Context

	// WithContext returns a copy of the error with the provided context.
	WithContext(ctx *Context) ACPError

	// WithDetail returns a copy of the error with additional detail.
	WithDetail(detail string) ACPError

	// WithData returns a copy of the error with structured data.
	WithData(data interface{}) ACPError

	// Unwrap returns the underlying cause for errors.Is/As traversal.
	Unwrap() error
}

type baseError struct {
	code     int
	message  string
	details  string
	data     interface{}
	category Category
	severity Severity
	context  *Context
	cause    error
}

func (e *baseError) Error() string {
	if e.details != "" {
		return fmt.Sprintf("%s: %s", e.message, e.details)
	}
	return e.message
}

func (e *baseError) Code() int          { return e.code }
func (e *baseError) Message() string    { return e.message }
func (e *baseError) Details() string    { return e.details }
func (e *baseError) Data() interface{}  { return e.data }
func (e *baseError) Category() Category { return e.category }
func (e *baseError) Severity() Severity { return e.severity }
func (e *baseError) Context() *Context  { return e.context }
func (e *baseError) Unwrap() error      { return e.cause }

func (e *baseError) WithContext(ctx *Context) ACPError {
	clone := *e
	if ctx != nil && ctx.Timestamp.IsZero() {
		ctx.Timestamp = time.Now()
	}
	clone.context = ctx
	return &clone
}

func (e *baseError) WithDetail(detail string) ACPError {
	clone := *e
	if clone.details != "" {
		clone.details = fmt.Sprintf("%s; %s", clone.details, detail)
	} else {
		clone.details = detail
	}
	return &clone
}

func (e *baseError) WithData(data interface{}) ACPError {
	clone := *e
	clone.data = data
	return &clone
}

// MarshalJSON serializes the error for log output and error data payloads.
func (e *baseError) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"code":     e.code,
		"message":  e.message,
		"category": string(e.category),
		"severity": string(e.severity),
	}
	if e.details != "" {
		out["details"] = e.details
	}
	if e.data != nil {
		out["data"] = e.data
	}
	if e.context != nil {
		out["context"] = e.context
	}
	if e.cause != nil {
		out["cause"] = e.cause.Error()
	}
	return json.Marshal(out)
}

// New creates a new ACPError with the given parameters.
func New(code int, message string, category Category, severity Severity) ACPError {
	return &baseError{
		code:     code,
		message:  message,
		category: category,
		severity: severity,
		context:  &Context{Timestamp: time.Now()},
	}
}

// Newf creates a new ACPError with a formatted message.
func Newf(code int, category Category, severity Severity, format string, args ...interface{}) ACPError {
	return &baseError{
		code:     code,
		message:  fmt.Sprintf(format, args...),
		category: category,
		severity: severity,
		context:  &Context{Timestamp: time.Now()},
	}
}

// Wrap wraps an existing error as an ACPError.
func Wrap(err error, code int, message string, category Category, severity Severity) ACPError {
	return &baseError{
		code:     code,
		message:  message,
		category: category,
		severity: severity,
		cause:    err,
		context:  &Context{Timestamp: time.Now()},
	}
}

// AsACPError extracts an ACPError from any error.
func AsACPError(err error) (ACPError, bool) {
	if err == nil {
		return nil, false
	}
	if acpErr, ok := err.(ACPError); ok {
		return acpErr, true
	}
	return nil, false
}

// IsCategory reports whether err is an ACPError of the given category.
func IsCategory(err error, category Category) bool {
	if acpErr, ok := AsACPError(err); ok {
		return acpErr.Category() == category
	}
	return false
}

// IsCode reports whether err is an ACPError with the given code.
func IsCode(err error, code int) bool {
	if acpErr, ok := AsACPError(err); ok {
		return acpErr.Code() == code
	}
	return false
}
