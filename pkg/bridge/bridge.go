// Package bridge defines the client capability surface an agent uses to
// reach back into its client: file access, terminal processes, permission
// prompts, live tool discovery, and the session update stream.
//
// Three interchangeable implementations exist. Local serves calls from the
// host filesystem and process table. Remote round-trips every call through
// a connection's correlator. Fake is deterministic and queryable, for tests.
// The variant is selected at construction time.
package bridge

import (
	"context"
	"encoding/json"

	"github.com/acpkit/acp-go/pkg/protocol"
)

// Client is the capability bridge between an agent and its client.
//
// Permission contract: RequestPermission returns exactly one chosen option
// id or a cancelled outcome, never both. Terminal contract: any operation
// on an unknown terminal id fails with a not-found error, never a silent
// no-op. SessionUpdate is notification-only and must never block a turn on
// delivery failure.
type Client interface {
	// Capabilities reports what the client advertised at initialize time.
	Capabilities() protocol.ClientCapabilities

	ReadTextFile(ctx context.Context, params protocol.ReadTextFileParams) (*protocol.ReadTextFileResult, error)
	WriteTextFile(ctx context.Context, params protocol.WriteTextFileParams) error

	RequestPermission(ctx context.Context, params protocol.RequestPermissionParams) (protocol.PermissionOutcome, error)

	CreateTerminal(ctx context.Context, params protocol.CreateTerminalParams) (string, error)
	TerminalOutput(ctx context.Context, params protocol.TerminalOutputParams) (*protocol.TerminalOutputResult, error)
	WaitForExit(ctx context.Context, params protocol.WaitForExitParams) (*protocol.WaitForExitResult, error)
	ReleaseTerminal(ctx context.Context, params protocol.ReleaseTerminalParams) error
	KillTerminal(ctx context.Context, params protocol.KillTerminalParams) error

	// ListTools performs live tool discovery for a session. Clients that
	// do not support discovery return an error; callers treat that as a
	// fallthrough, never as fatal.
	ListTools(ctx context.Context, sessionID string) ([]protocol.ToolDescriptor, error)

	// SessionUpdate streams one update notification to the client.
	SessionUpdate(ctx context.Context, params protocol.SessionUpdateParams)
}

// Requester is the slice of a connection the remote bridge needs: one
// correlated request call and one fire-and-forget notification call.
// *transport.Transport satisfies it.
type Requester interface {
	SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
	SendNotification(ctx context.Context, method string, params interface{})
}
