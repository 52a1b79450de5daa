package bridge

import (
	"context"
	"encoding/json"

	acperrors "github.com/acpkit/acp-go/pkg/errors"
	"github.com/acpkit/acp-go/pkg/protocol"
)

// RemoteClient round-trips every capability call through a connection. The
// correlator underneath guarantees a bounded wait; on disconnect every
// outstanding call fails with a connection-lost error.
type RemoteClient struct {
	requester    Requester
	capabilities protocol.ClientCapabilities
}

// NewRemoteClient wraps a connection as a capability bridge. Capabilities
// are the ones the peer advertised at initialize time; they never change
// for the life of the connection.
func NewRemoteClient(requester Requester, capabilities protocol.ClientCapabilities) *RemoteClient {
	return &RemoteClient{requester: requester, capabilities: capabilities}
}

func (c *RemoteClient) Capabilities() protocol.ClientCapabilities {
	return c.capabilities
}

// call issues one correlated request and decodes its result into out.
// Turn cancellation is advisory and must not abort a call already in
// flight, so the wait is detached from the caller's cancel signal; only
// connection teardown or the bounded request timeout resolves it.
func (c *RemoteClient) call(ctx context.Context, method string, params, out interface{}) error {
	raw, err := c.requester.SendRequest(context.WithoutCancel(ctx), method, params)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return acperrors.Wrap(err, acperrors.CodeInvalidParameter,
			"Malformed result from client for "+method,
			acperrors.CategoryProtocol, acperrors.SeverityError)
	}
	return nil
}

func (c *RemoteClient) ReadTextFile(ctx context.Context, params protocol.ReadTextFileParams) (*protocol.ReadTextFileResult, error) {
	var result protocol.ReadTextFileResult
	if err := c.call(ctx, protocol.MethodReadTextFile, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RemoteClient) WriteTextFile(ctx context.Context, params protocol.WriteTextFileParams) error {
	return c.call(ctx, protocol.MethodWriteTextFile, params, nil)
}

// RequestPermission blocks until the peer answers or the correlated call
// times out. Disconnect and timeout surface as errors here; a cancelled
// turn keeps waiting and the agent observes cancellation at its next
// checkpoint.
func (c *RemoteClient) RequestPermission(ctx context.Context, params protocol.RequestPermissionParams) (protocol.PermissionOutcome, error) {
	var result protocol.RequestPermissionResult
	if err := c.call(ctx, protocol.MethodRequestPermission, params, &result); err != nil {
		return protocol.PermissionOutcome{}, err
	}
	return result.Outcome, nil
}

func (c *RemoteClient) CreateTerminal(ctx context.Context, params protocol.CreateTerminalParams) (string, error) {
	var result protocol.CreateTerminalResult
	if err := c.call(ctx, protocol.MethodCreateTerminal, params, &result); err != nil {
		return "", err
	}
	return result.TerminalID, nil
}

func (c *RemoteClient) TerminalOutput(ctx context.Context, params protocol.TerminalOutputParams) (*protocol.TerminalOutputResult, error) {
	var result protocol.TerminalOutputResult
	if err := c.call(ctx, protocol.MethodTerminalOutput, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RemoteClient) WaitForExit(ctx context.Context, params protocol.WaitForExitParams) (*protocol.WaitForExitResult, error) {
	var result protocol.WaitForExitResult
	if err := c.call(ctx, protocol.MethodWaitForExit, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RemoteClient) ReleaseTerminal(ctx context.Context, params protocol.ReleaseTerminalParams) error {
	return c.call(ctx, protocol.MethodReleaseTerminal, params, nil)
}

func (c *RemoteClient) KillTerminal(ctx context.Context, params protocol.KillTerminalParams) error {
	return c.call(ctx, protocol.MethodKillTerminal, params, nil)
}

func (c *RemoteClient) ListTools(ctx context.Context, sessionID string) ([]protocol.ToolDescriptor, error) {
	var result protocol.ListToolsResult
	err := c.call(ctx, protocol.MethodListTools, protocol.ListToolsParams{SessionID: sessionID}, &result)
	if err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// SessionUpdate is fire-and-forget. Delivery failures are handled inside
// the transport; a slow or gone client never blocks the turn.
func (c *RemoteClient) SessionUpdate(ctx context.Context, params protocol.SessionUpdateParams) {
	c.requester.SendNotification(ctx, protocol.MethodSessionUpdate, params)
}
