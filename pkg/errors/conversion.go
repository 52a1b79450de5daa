package errors

import (
	"context"
	stderrors "errors"

	"github.com/acpkit/acp-go/pkg/protocol"
)

// ToProtocolError converts any error into a JSON-RPC error object,
// preserving code, message, and data for ACPErrors. The original failure
// text always survives in the data for observability.
func ToProtocolError(err error) *protocol.Error {
	if err == nil {
		return nil
	}
	if acpErr, ok := AsACPError(err); ok {
		data := acpErr.Data()
		if data == nil && acpErr.Details() != "" {
			data = acpErr.Details()
		}
		return &protocol.Error{
			Code:    acpErr.Code(),
			Message: acpErr.Message(),
			Data:    data,
		}
	}
	if protoErr, ok := err.(*protocol.Error); ok {
		return protoErr
	}
	return &protocol.Error{
		Code:    CodeInternalError,
		Message: "Internal error",
		Data:    err.Error(),
	}
}

// FromProtocolError converts a decoded wire error back into an ACPError,
// preserving code, message, and data.
func FromProtocolError(protoErr *protocol.Error) ACPError {
	if protoErr == nil {
		return nil
	}
	category := CategoryProtocol
	severity := SeverityError
	if info, ok := LookupCode(protoErr.Code); ok {
		category = info.Category
		severity = info.Severity
	}
	return New(protoErr.Code, protoErr.Message, category, severity).WithData(protoErr.Data)
}

// ToResponse builds a JSON-RPC error response for a failed request.
func ToResponse(err error, requestID interface{}) *protocol.Response {
	protoErr := ToProtocolError(err)
	return protocol.NewErrorResponse(requestID, protoErr.Code, protoErr.Message, protoErr.Data)
}

// FromContextError maps a context cancellation or deadline into the
// corresponding correlation error for a pending request.
func FromContextError(err error, transport, requestID string) ACPError {
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return New(CodeResponseTimeout, "Request timed out", CategoryTimeout, SeverityError).
			WithContext(&Context{RequestID: requestID, Component: transport})
	case stderrors.Is(err, context.Canceled):
		return New(CodeTurnCancelled, "Request cancelled", CategoryCancelled, SeverityInfo).
			WithContext(&Context{RequestID: requestID, Component: transport})
	default:
		return Wrap(err, CodeTransportError, "Request failed", CategoryTransport, SeverityError)
	}
}
