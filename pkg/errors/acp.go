package errors

import (
	"fmt"
	"time"
)

// MethodNotFound creates an error for an unknown protocol method.
func MethodNotFound(method string) ACPError {
	return New(
		CodeMethodNotFound,
		fmt.Sprintf("Method not found: %s", method),
		CategoryProtocol,
		SeverityError,
	).WithContext(&Context{Method: method})
}

// MissingParameter creates an error for a required parameter that was absent.
func MissingParameter(param string) ACPError {
	return New(
		CodeMissingParameter,
		fmt.Sprintf("Required parameter missing: %s", param),
		CategoryValidation,
		SeverityError,
	).WithData(map[string]interface{}{"parameter": param})
}

// InvalidParameter creates an error for a parameter with an invalid value.
func InvalidParameter(param string, value interface{}, expected string) ACPError {
	return New(
		CodeInvalidParameter,
		fmt.Sprintf("Invalid parameter %s: expected %s", param, expected),
		CategoryValidation,
		SeverityError,
	).WithData(map[string]interface{}{
		"parameter": param,
		"value":     value,
		"expected":  expected,
	})
}

// InvalidParams creates a generic invalid-params error for a method.
func InvalidParams(method, reason string) ACPError {
	return New(
		CodeInvalidParams,
		fmt.Sprintf("Invalid params for %s", method),
		CategoryValidation,
		SeverityError,
	).WithDetail(reason).WithContext(&Context{Method: method})
}

// SessionNotFound creates an error for an unknown session id.
func SessionNotFound(sessionID string) ACPError {
	return New(
		CodeSessionNotFound,
		fmt.Sprintf("Session not found: %s", sessionID),
		CategoryResource,
		SeverityError,
	).WithContext(&Context{SessionID: sessionID})
}

// TerminalNotFound creates an error for an operation on an unknown terminal id.
func TerminalNotFound(terminalID string) ACPError {
	return New(
		CodeTerminalNotFound,
		fmt.Sprintf("Terminal not found: %s", terminalID),
		CategoryResource,
		SeverityError,
	).WithData(map[string]interface{}{"terminal_id": terminalID})
}

// FileNotFound creates an error for a missing file.
func FileNotFound(path string, cause error) ACPError {
	return Wrap(
		cause,
		CodeFileNotFound,
		fmt.Sprintf("File not found: %s", path),
		CategoryResource,
		SeverityError,
	)
}

// TurnCancelled creates an error recording a cancelled agent turn.
func TurnCancelled(sessionID string) ACPError {
	return New(
		CodeTurnCancelled,
		"Agent turn cancelled",
		CategoryCancelled,
		SeverityInfo,
	).WithContext(&Context{SessionID: sessionID})
}

// TurnFailed wraps the failure of an agent turn. The original failure text
// is preserved in the error data so it survives the trip across the wire.
func TurnFailed(sessionID string, cause error) ACPError {
	return Wrap(
		cause,
		CodeTurnFailed,
		"Agent turn failed",
		CategoryHandler,
		SeverityError,
	).WithContext(&Context{SessionID: sessionID}).
		WithData(map[string]interface{}{"failure": cause.Error()})
}

// PermissionDenied creates an error for a rejected or cancelled permission prompt.
func PermissionDenied(sessionID, reason string) ACPError {
	return New(
		CodePermissionDenied,
		"Permission denied",
		CategoryResource,
		SeverityWarning,
	).WithDetail(reason).WithContext(&Context{SessionID: sessionID})
}

// AuthRequired creates an error for a call that needs prior authentication.
func AuthRequired(method string) ACPError {
	return New(
		CodeAuthRequired,
		"Authentication required",
		CategoryAuth,
		SeverityError,
	).WithContext(&Context{Method: method})
}

// AuthFailed creates an error for rejected credentials.
func AuthFailed(reason string) ACPError {
	return New(
		CodeAuthFailed,
		"Authentication failed",
		CategoryAuth,
		SeverityError,
	).WithDetail(reason)
}

// DiscoveryFailed records a failed discovery tier. It is never sent to
// clients; discovery failures demote to the next tier instead of propagating.
func DiscoveryFailed(sessionID string, tier int, cause error) ACPError {
	return Wrap(
		cause,
		CodeInternalError,
		fmt.Sprintf("Tool discovery tier %d failed", tier),
		CategoryDiscovery,
		SeverityWarning,
	).WithContext(&Context{
		SessionID: sessionID,
		Component: "discovery",
		Timestamp: time.Now(),
	})
}

// HandlerPanic converts a recovered panic inside a protocol handler into an
// internal error carrying the recovered value in both the message and the
// structured data.
func HandlerPanic(method string, recovered interface{}) ACPError {
	return New(
		CodeInternalError,
		fmt.Sprintf("Internal error handling %s: %v", method, recovered),
		CategoryHandler,
		SeverityCritical,
	).WithData(map[string]interface{}{"panic": fmt.Sprintf("%v", recovered)}).
		WithContext(&Context{Method: method})
}

// InternalError wraps an arbitrary handler failure as an internal error,
// preserving the original message in the error data.
func InternalError(method string, cause error) ACPError {
	return Wrap(
		cause,
		CodeInternalError,
		fmt.Sprintf("Internal error handling %s", method),
		CategoryHandler,
		SeverityError,
	).WithData(map[string]interface{}{"failure": cause.Error()}).
		WithContext(&Context{Method: method})
}
