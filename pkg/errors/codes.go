package errors

// JSON-RPC 2.0 standard error codes.
const (
	// CodeParseError indicates invalid JSON was received.
	CodeParseError int = -32700

	// CodeInvalidRequest indicates the JSON sent is not a valid Request object.
	CodeInvalidRequest int = -32600

	// CodeMethodNotFound indicates the method does not exist or is unavailable.
	CodeMethodNotFound int = -32601

	// CodeInvalidParams indicates invalid method parameters.
	CodeInvalidParams int = -32602

	// CodeInternalError indicates an internal JSON-RPC error.
	CodeInternalError int = -32603
)

// ACP-specific error codes, grouped by concern.
const (
	// Auth errors (-32000 to -32099)
	CodeAuthRequired int = -32000 // Authentication required before this call
	CodeAuthFailed   int = -32001 // Credentials rejected

	// Resource errors (-32100 to -32199)
	CodeSessionNotFound  int = -32100 // Unknown session id
	CodeTerminalNotFound int = -32101 // Unknown terminal id
	CodeFileNotFound     int = -32102 // Requested file does not exist

	// Correlation errors (-32200 to -32299)
	CodeResponseTimeout int = -32200 // Correlated request exceeded its bounded wait
	CodeConnectionLost  int = -32201 // Connection torn down while a request was pending
	CodeConnectionDown  int = -32202 // Send attempted after teardown

	// Operation errors (-32300 to -32399)
	CodeTurnCancelled    int = -32300 // Agent turn cancelled by the client
	CodeTurnFailed       int = -32301 // Agent turn failed
	CodePermissionDenied int = -32302 // Permission prompt rejected or cancelled

	// Transport errors (-32500 to -32599)
	CodeTransportError int = -32500 // Generic transport failure
	CodeFrameInvalid   int = -32501 // Frame could not be decoded or classified

	// Validation errors (-32700+ shares the parse range on the wire; these
	// are runtime-local refinements of invalid params)
	CodeMissingParameter int = -32610
	CodeInvalidParameter int = -32611
)

// CodeInfo provides human-readable information about an error code.
type CodeInfo struct {
	Code        int
	Name        string
	Description string
	Category    Category
	Severity    Severity
}

var codeRegistry = map[int]CodeInfo{
	CodeParseError:     {CodeParseError, "ParseError", "Invalid JSON was received", CategoryTransport, SeverityError},
	CodeInvalidRequest: {CodeInvalidRequest, "InvalidRequest", "Invalid Request object", CategoryProtocol, SeverityError},
	CodeMethodNotFound: {CodeMethodNotFound, "MethodNotFound", "Method does not exist", CategoryProtocol, SeverityError},
	CodeInvalidParams:  {CodeInvalidParams, "InvalidParams", "Invalid method parameters", CategoryValidation, SeverityError},
	CodeInternalError:  {CodeInternalError, "InternalError", "Internal error", CategoryHandler, SeverityError},

	CodeAuthRequired: {CodeAuthRequired, "AuthRequired", "Authentication required", CategoryAuth, SeverityError},
	CodeAuthFailed:   {CodeAuthFailed, "AuthFailed", "Authentication failed", CategoryAuth, SeverityError},

	CodeSessionNotFound:  {CodeSessionNotFound, "SessionNotFound", "Session not found", CategoryResource, SeverityError},
	CodeTerminalNotFound: {CodeTerminalNotFound, "TerminalNotFound", "Terminal not found", CategoryResource, SeverityError},
	CodeFileNotFound:     {CodeFileNotFound, "FileNotFound", "File not found", CategoryResource, SeverityError},

	CodeResponseTimeout: {CodeResponseTimeout, "ResponseTimeout", "Correlated request timed out", CategoryTimeout, SeverityError},
	CodeConnectionLost:  {CodeConnectionLost, "ConnectionLost", "Connection lost while awaiting response", CategoryCorrelation, SeverityError},
	CodeConnectionDown:  {CodeConnectionDown, "ConnectionDown", "Connection already torn down", CategoryCorrelation, SeverityError},

	CodeTurnCancelled:    {CodeTurnCancelled, "TurnCancelled", "Agent turn cancelled", CategoryCancelled, SeverityInfo},
	CodeTurnFailed:       {CodeTurnFailed, "TurnFailed", "Agent turn failed", CategoryHandler, SeverityError},
	CodePermissionDenied: {CodePermissionDenied, "PermissionDenied", "Permission denied", CategoryResource, SeverityWarning},

	CodeTransportError: {CodeTransportError, "TransportError", "Transport failure", CategoryTransport, SeverityError},
	CodeFrameInvalid:   {CodeFrameInvalid, "FrameInvalid", "Undecodable frame", CategoryTransport, SeverityWarning},

	CodeMissingParameter: {CodeMissingParameter, "MissingParameter", "Required parameter missing", CategoryValidation, SeverityError},
	CodeInvalidParameter: {CodeInvalidParameter, "InvalidParameter", "Parameter has invalid value", CategoryValidation, SeverityError},
}

// LookupCode returns information about an error code, if registered.
func LookupCode(code int) (CodeInfo, bool) {
	info, ok := codeRegistry[code]
	return info, ok
}
