package errors

import (
	"fmt"
	"time"
)

// TransportError creates a generic transport error.
func TransportError(transport, operation string, cause error) ACPError {
	return Wrap(
		cause,
		CodeTransportError,
		fmt.Sprintf("Transport error in %s", transport),
		CategoryTransport,
		SeverityError,
	).WithContext(&Context{
		Component: transport,
		Operation: operation,
	})
}

// ConnectionLost creates the error used to resolve every pending waiter
// when a connection is torn down. The reason is preserved in the detail.
func ConnectionLost(transport, reason string) ACPError {
	return New(
		CodeConnectionLost,
		"Connection lost",
		CategoryCorrelation,
		SeverityError,
	).WithDetail(reason).WithContext(&Context{
		Component: transport,
		Operation: "abort_pending",
	})
}

// ConnectionDown creates the error returned by sends attempted after teardown.
func ConnectionDown(transport string) ACPError {
	return New(
		CodeConnectionDown,
		"Connection already closed",
		CategoryCorrelation,
		SeverityError,
	).WithContext(&Context{Component: transport})
}

// ResponseTimeout creates the error surfaced to a caller whose correlated
// request exceeded its bounded wait.
func ResponseTimeout(transport, requestID string, timeout time.Duration) ACPError {
	return New(
		CodeResponseTimeout,
		fmt.Sprintf("No response within %s", timeout),
		CategoryTimeout,
		SeverityError,
	).WithContext(&Context{
		RequestID: requestID,
		Component: transport,
		Operation: "wait_response",
	})
}

// InvalidFrame records a frame that could not be decoded or classified.
// These are logged and dropped, never fatal to the connection.
func InvalidFrame(transport string, cause error) ACPError {
	return Wrap(
		cause,
		CodeFrameInvalid,
		"Undecodable frame",
		CategoryTransport,
		SeverityWarning,
	).WithContext(&Context{
		Component: transport,
		Operation: "decode_frame",
	})
}

// MessageSendError creates an error for a failed outbound write.
func MessageSendError(transport, messageType string, cause error) ACPError {
	return Wrap(
		cause,
		CodeTransportError,
		fmt.Sprintf("Failed to send %s", messageType),
		CategoryTransport,
		SeverityError,
	).WithContext(&Context{
		Component: transport,
		Operation: "send_message",
	})
}

// TransportNotInitialized creates an error for use before Start.
func TransportNotInitialized(transport string) ACPError {
	return New(
		CodeTransportError,
		fmt.Sprintf("Transport %s not initialized", transport),
		CategoryTransport,
		SeverityError,
	).WithContext(&Context{Component: transport})
}
