// Package client connects to an agent and drives it: it issues the
// agent-facing methods and serves the agent's back-channel capability
// calls from a bridge implementation.
package client

import (
	"context"
	"encoding/json"
	"io"

	"github.com/gorilla/websocket"

	"github.com/acpkit/acp-go/pkg/bridge"
	acperrors "github.com/acpkit/acp-go/pkg/errors"
	"github.com/acpkit/acp-go/pkg/logging"
	"github.com/acpkit/acp-go/pkg/protocol"
	"github.com/acpkit/acp-go/pkg/transport"
)

// UpdateHandler observes the session update stream.
type UpdateHandler func(params protocol.SessionUpdateParams)

// Client is one connection to an agent.
type Client struct {
	transport *transport.Transport
	bridge    bridge.Client
	logger    logging.Logger
	info      protocol.Implementation
	onUpdate  UpdateHandler

	started chan struct{}
	result  chan error
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the structured logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithBridge sets the capability implementation serving the agent's
// back-channel calls. Defaults to a local bridge.
func WithBridge(b bridge.Client) Option {
	return func(c *Client) { c.bridge = b }
}

// WithInfo sets the client identity sent at initialize.
func WithInfo(info protocol.Implementation) Option {
	return func(c *Client) { c.info = info }
}

// WithUpdateHandler observes every session update notification.
func WithUpdateHandler(fn UpdateHandler) Option {
	return func(c *Client) { c.onUpdate = fn }
}

// New creates a client over an established connection.
func New(conn transport.Conn, opts ...Option) *Client {
	c := &Client{
		logger:  logging.Nop(),
		info:    protocol.Implementation{Name: "acp-go-client", Version: "dev"},
		started: make(chan struct{}),
		result:  make(chan error, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.bridge == nil {
		c.bridge = bridge.NewLocalClient(c.logger)
	}
	c.transport = transport.New(conn, transport.WithLogger(c.logger))
	c.registerHandlers()
	return c
}

// NewStdio creates a client over newline-framed pipes, typically the
// stdin/stdout of a spawned agent process.
func NewStdio(r io.Reader, w io.Writer, opts ...Option) *Client {
	return New(transport.NewStdioConn(r, w), opts...)
}

// Dial connects to an agent's WebSocket endpoint.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, acperrors.Wrap(err, acperrors.CodeTransportError,
			"Failed to dial "+url, acperrors.CategoryTransport, acperrors.SeverityError)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return New(transport.NewWebSocketConn(ws), opts...), nil
}

// Start runs the connection's read loop in the background. It returns
// once the loop is live; Close or the agent's disconnect ends it.
func (c *Client) Start(ctx context.Context) {
	go func() {
		close(c.started)
		c.result <- c.transport.Start(ctx)
	}()
	<-c.started
}

// Close tears the connection down.
func (c *Client) Close() { c.transport.Stop() }

// Wait blocks until the connection ends and returns its error, if any.
func (c *Client) Wait() error { return <-c.result }

// registerHandlers wires the agent's back-channel calls to the bridge.
func (c *Client) registerHandlers() {
	t := c.transport

	t.RegisterRequestHandler(protocol.MethodReadTextFile, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var p protocol.ReadTextFileParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, acperrors.InvalidParams(protocol.MethodReadTextFile, err.Error())
		}
		return c.bridge.ReadTextFile(ctx, p)
	})

	t.RegisterRequestHandler(protocol.MethodWriteTextFile, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var p protocol.WriteTextFileParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, acperrors.InvalidParams(protocol.MethodWriteTextFile, err.Error())
		}
		return struct{}{}, c.bridge.WriteTextFile(ctx, p)
	})

	t.RegisterRequestHandler(protocol.MethodRequestPermission, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var p protocol.RequestPermissionParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, acperrors.InvalidParams(protocol.MethodRequestPermission, err.Error())
		}
		outcome, err := c.bridge.RequestPermission(ctx, p)
		if err != nil {
			return nil, err
		}
		return protocol.RequestPermissionResult{Outcome: outcome}, nil
	})

	t.RegisterRequestHandler(protocol.MethodCreateTerminal, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var p protocol.CreateTerminalParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, acperrors.InvalidParams(protocol.MethodCreateTerminal, err.Error())
		}
		id, err := c.bridge.CreateTerminal(ctx, p)
		if err != nil {
			return nil, err
		}
		return protocol.CreateTerminalResult{TerminalID: id}, nil
	})

	t.RegisterRequestHandler(protocol.MethodTerminalOutput, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var p protocol.TerminalOutputParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, acperrors.InvalidParams(protocol.MethodTerminalOutput, err.Error())
		}
		return c.bridge.TerminalOutput(ctx, p)
	})

	t.RegisterRequestHandler(protocol.MethodWaitForExit, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var p protocol.WaitForExitParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, acperrors.InvalidParams(protocol.MethodWaitForExit, err.Error())
		}
		return c.bridge.WaitForExit(ctx, p)
	})

	t.RegisterRequestHandler(protocol.MethodReleaseTerminal, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var p protocol.ReleaseTerminalParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, acperrors.InvalidParams(protocol.MethodReleaseTerminal, err.Error())
		}
		return struct{}{}, c.bridge.ReleaseTerminal(ctx, p)
	})

	t.RegisterRequestHandler(protocol.MethodKillTerminal, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var p protocol.KillTerminalParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, acperrors.InvalidParams(protocol.MethodKillTerminal, err.Error())
		}
		return struct{}{}, c.bridge.KillTerminal(ctx, p)
	})

	t.RegisterRequestHandler(protocol.MethodListTools, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var p protocol.ListToolsParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, acperrors.InvalidParams(protocol.MethodListTools, err.Error())
		}
		tools, err := c.bridge.ListTools(ctx, p.SessionID)
		if err != nil {
			return nil, err
		}
		return protocol.ListToolsResult{Tools: tools}, nil
	})

	t.RegisterNotificationHandler(protocol.MethodSessionUpdate, func(ctx context.Context, params json.RawMessage) error {
		var p protocol.SessionUpdateParams
		if err := json.Unmarshal(params, &p); err != nil {
			return acperrors.InvalidParams(protocol.MethodSessionUpdate, err.Error())
		}
		c.bridge.SessionUpdate(ctx, p)
		if c.onUpdate != nil {
			c.onUpdate(p)
		}
		return nil
	})
}

// call issues one request and decodes its result.
func (c *Client) call(ctx context.Context, method string, params, out interface{}) error {
	raw, err := c.transport.SendRequest(ctx, method, params)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// Initialize performs the handshake, advertising the bridge's
// capabilities.
func (c *Client) Initialize(ctx context.Context) (*protocol.InitializeResult, error) {
	var result protocol.InitializeResult
	err := c.call(ctx, protocol.MethodInitialize, protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		ClientInfo:      &c.info,
		Capabilities:    c.bridge.Capabilities(),
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Authenticate presents credentials for one advertised method.
func (c *Client) Authenticate(ctx context.Context, params protocol.AuthenticateParams) error {
	return c.call(ctx, protocol.MethodAuthenticate, params, nil)
}

// NewSession creates a session rooted at cwd.
func (c *Client) NewSession(ctx context.Context, cwd string) (string, error) {
	var result protocol.NewSessionResult
	err := c.call(ctx, protocol.MethodSessionNew, protocol.NewSessionParams{Cwd: cwd}, &result)
	if err != nil {
		return "", err
	}
	return result.SessionID, nil
}

// LoadSession reopens a session by id.
func (c *Client) LoadSession(ctx context.Context, sessionID, cwd string) error {
	return c.call(ctx, protocol.MethodSessionLoad,
		protocol.LoadSessionParams{SessionID: sessionID, Cwd: cwd}, nil)
}

// ListSessions pages through the agent's live sessions.
func (c *Client) ListSessions(ctx context.Context, cursor string, limit int) (*protocol.ListSessionsResult, error) {
	var result protocol.ListSessionsResult
	err := c.call(ctx, protocol.MethodSessionList,
		protocol.ListSessionsParams{Cursor: cursor, Limit: limit}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Prompt runs one turn and blocks until its terminal response.
func (c *Client) Prompt(ctx context.Context, sessionID string, blocks ...protocol.ContentBlock) (*protocol.PromptResult, error) {
	var result protocol.PromptResult
	err := c.call(ctx, protocol.MethodSessionPrompt,
		protocol.PromptParams{SessionID: sessionID, Prompt: blocks}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// PromptText runs one turn with a single text block.
func (c *Client) PromptText(ctx context.Context, sessionID, text string) (*protocol.PromptResult, error) {
	return c.Prompt(ctx, sessionID, protocol.TextBlock(text))
}

// Cancel advises the session's running turn to stop. Fire-and-forget.
func (c *Client) Cancel(ctx context.Context, sessionID string) {
	c.transport.SendNotification(ctx, protocol.MethodSessionCancel,
		protocol.CancelParams{SessionID: sessionID})
}

// ForkSession forks a session, inheriting its discovery cache.
func (c *Client) ForkSession(ctx context.Context, sessionID string) (string, error) {
	var result protocol.NewSessionResult
	err := c.call(ctx, protocol.MethodSessionFork,
		protocol.ForkSessionParams{SessionID: sessionID}, &result)
	if err != nil {
		return "", err
	}
	return result.SessionID, nil
}

// ResumeSession re-attaches a session id from a previous connection.
func (c *Client) ResumeSession(ctx context.Context, sessionID string) error {
	return c.call(ctx, protocol.MethodSessionResume,
		protocol.ResumeSessionParams{SessionID: sessionID}, nil)
}

// SetMode switches a session's operating mode.
func (c *Client) SetMode(ctx context.Context, sessionID, modeID string) error {
	return c.call(ctx, protocol.MethodSetMode,
		protocol.SetModeParams{SessionID: sessionID, ModeID: modeID}, nil)
}

// SetModel switches a session's configured model.
func (c *Client) SetModel(ctx context.Context, sessionID, modelID string) error {
	return c.call(ctx, protocol.MethodSetModel,
		protocol.SetModelParams{SessionID: sessionID, ModelID: modelID}, nil)
}

// SetConfigOption sets one named option on a session.
func (c *Client) SetConfigOption(ctx context.Context, sessionID, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.call(ctx, protocol.MethodSetConfigOption,
		protocol.SetConfigOptionParams{SessionID: sessionID, Key: key, Value: raw}, nil)
}

// Call issues an arbitrary request, for extension methods.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	return c.transport.SendRequest(ctx, method, params)
}
