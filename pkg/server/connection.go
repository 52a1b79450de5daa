package server

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/acpkit/acp-go/pkg/bridge"
	acperrors "github.com/acpkit/acp-go/pkg/errors"
	"github.com/acpkit/acp-go/pkg/logging"
	"github.com/acpkit/acp-go/pkg/pagination"
	"github.com/acpkit/acp-go/pkg/protocol"
	"github.com/acpkit/acp-go/pkg/session"
	"github.com/acpkit/acp-go/pkg/transport"
)

// ConnState is the per-connection lifecycle position.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateAccepted
	StateServing
	StateDisconnected
	StateIdleTimeout
	StateCleanup
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAccepted:
		return "accepted"
	case StateServing:
		return "serving"
	case StateDisconnected:
		return "disconnected"
	case StateIdleTimeout:
		return "idle_timeout"
	case StateCleanup:
		return "cleanup"
	default:
		return "unknown"
	}
}

// Connection is one client attached to the server: a transport, an
// opaque client id that owns sessions, and the handler table.
type Connection struct {
	id        string
	server    *Server
	transport *transport.Transport
	logger    logging.Logger

	state        atomic.Int32
	lastActivity atomic.Int64

	mu          sync.Mutex
	initialized bool
	authed      bool
	client      bridge.Client
	// ephemeral holds per-connection session bookkeeping in degraded
	// mode, where the process-wide registry does not exist. It only
	// serves turn cancellation; nothing here survives the connection.
	ephemeral map[string]*session.State
}

func (s *Server) newConnection(conn transport.Conn) *Connection {
	c := &Connection{
		id:        "client_" + uuid.NewString(),
		server:    s,
		ephemeral: make(map[string]*session.State),
	}
	c.logger = s.logger.WithFields(
		logging.String("connection_id", c.id),
		logging.String("transport", conn.Name()))
	c.touch()

	opts := []transport.Option{
		transport.WithLogger(c.logger),
		transport.WithRequestTimeout(s.requestTimeout),
		transport.WithActivityFunc(c.touch),
	}
	if s.metrics != nil {
		opts = append(opts, transport.WithMetrics(s.metrics))
	}
	c.transport = transport.New(conn, opts...)
	c.registerHandlers()
	c.setState(StateConnecting)
	return c
}

// ID is the opaque client id assigned at accept time.
func (c *Connection) ID() string { return c.id }

// State reports the connection's lifecycle position.
func (c *Connection) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Connection) setState(s ConnState) {
	c.state.Store(int32(s))
}

// Close tears the connection down.
func (c *Connection) Close() { c.transport.Stop() }

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Connection) idleFor() time.Duration {
	return time.Since(time.Unix(0, c.lastActivity.Load()))
}

// serve runs the connection to completion: accept, read loop, teardown.
func (c *Connection) serve(ctx context.Context) error {
	c.server.trackConnection(c)
	defer c.server.forgetConnection(c)

	c.setState(StateAccepted)
	c.logger.Info("connection accepted")

	watchdogDone := make(chan struct{})
	go c.idleWatchdog(watchdogDone)

	c.setState(StateServing)
	err := c.transport.Start(ctx)
	close(watchdogDone)

	if c.State() != StateIdleTimeout {
		c.setState(StateDisconnected)
	}
	c.cleanup()
	if err != nil {
		c.logger.WithError(err).Info("connection ended")
	} else {
		c.logger.Info("connection ended")
	}
	return err
}

// idleWatchdog closes the connection after a long silent window.
func (c *Connection) idleWatchdog(done <-chan struct{}) {
	timeout := c.server.idleTimeout
	if timeout <= 0 {
		return
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-done:
			return
		case <-timer.C:
			idle := c.idleFor()
			if idle >= timeout {
				c.logger.Warn("closing idle connection",
					logging.Duration("idle", idle))
				c.setState(StateIdleTimeout)
				c.transport.Stop()
				return
			}
			timer.Reset(timeout - idle)
		}
	}
}

// cleanup runs after the transport has stopped. The correlator was
// aborted inside the transport's teardown, so in-flight handler
// goroutines unwind on their failed back-channel calls; all that remains
// is releasing the sessions this client owned.
func (c *Connection) cleanup() {
	if c.server.registry != nil {
		released := c.server.registry.ReleaseOwnedBy(c.id)
		if len(released) > 0 {
			c.logger.Info("released sessions",
				logging.Int("count", len(released)))
		}
		if c.server.metrics != nil {
			for range released {
				c.server.metrics.SessionReleased()
			}
		}
	}
	c.mu.Lock()
	c.ephemeral = make(map[string]*session.State)
	c.mu.Unlock()
	c.setState(StateCleanup)
}

// bridgeClient returns the capability bridge for this connection's peer.
// Before initialize the peer has advertised nothing, so the bridge
// carries empty capabilities.
func (c *Connection) bridgeClient() bridge.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		c.client = bridge.NewRemoteClient(c.transport, protocol.ClientCapabilities{})
	}
	return c.client
}

// requireReady gates session operations on initialize and, when the
// server demands it, authentication.
func (c *Connection) requireReady() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return acperrors.New(acperrors.CodeInvalidRequest,
			"Connection not initialized", acperrors.CategoryProtocol, acperrors.SeverityError)
	}
	if c.server.authenticator != nil && !c.authed {
		return acperrors.AuthRequired("session")
	}
	return nil
}

func (c *Connection) registerHandlers() {
	t := c.transport
	t.RegisterRequestHandler(protocol.MethodInitialize, c.handleInitialize)
	t.RegisterRequestHandler(protocol.MethodAuthenticate, c.handleAuthenticate)
	t.RegisterRequestHandler(protocol.MethodSessionNew, c.handleNewSession)
	t.RegisterRequestHandler(protocol.MethodSessionLoad, c.handleLoadSession)
	t.RegisterRequestHandler(protocol.MethodSessionList, c.handleListSessions)
	t.RegisterRequestHandler(protocol.MethodSessionPrompt, c.handlePrompt)
	t.RegisterRequestHandler(protocol.MethodSessionCancel, c.handleCancelRequest)
	t.RegisterRequestHandler(protocol.MethodSessionFork, c.handleFork)
	t.RegisterRequestHandler(protocol.MethodSessionResume, c.handleResume)
	t.RegisterRequestHandler(protocol.MethodSetMode, c.handleSetMode)
	t.RegisterRequestHandler(protocol.MethodSetModel, c.handleSetModel)
	t.RegisterRequestHandler(protocol.MethodSetConfigOption, c.handleSetConfigOption)
	t.RegisterNotificationHandler(protocol.MethodSessionCancel, c.handleCancelNotification)
	t.SetFallbackHandler(c.handleFallback)
}

func (c *Connection) handleInitialize(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p protocol.InitializeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, acperrors.InvalidParams(protocol.MethodInitialize, err.Error())
	}

	c.mu.Lock()
	c.initialized = true
	c.client = bridge.NewRemoteClient(c.transport, p.Capabilities)
	c.mu.Unlock()

	clientName := ""
	if p.ClientInfo != nil {
		clientName = p.ClientInfo.Name
	}
	c.logger.Info("initialized",
		logging.String("client", clientName),
		logging.Int("protocol_version", p.ProtocolVersion))

	methods := c.server.authMethods
	if methods == nil {
		methods = []protocol.AuthMethod{}
	}
	return protocol.InitializeResult{
		ProtocolVersion:   protocol.ProtocolVersion,
		AgentInfo:         c.server.info,
		AgentCapabilities: c.server.capabilities,
		AuthMethods:       methods,
	}, nil
}

func (c *Connection) handleAuthenticate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if c.server.authenticator == nil {
		return struct{}{}, nil
	}
	var p protocol.AuthenticateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, acperrors.InvalidParams(protocol.MethodAuthenticate, err.Error())
	}
	if err := c.server.authenticator.Authenticate(ctx, p); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.authed = true
	c.mu.Unlock()
	c.logger.Info("authenticated", logging.String("method_id", p.MethodID))
	return struct{}{}, nil
}

func (c *Connection) handleNewSession(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	var p protocol.NewSessionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, acperrors.InvalidParams(protocol.MethodSessionNew, err.Error())
	}

	id := session.NewSessionID()
	if c.server.registry == nil {
		// Degraded mode: one shared catalog, no discovery, no registry
		// entry. Only local turn bookkeeping is kept.
		st := &session.State{ID: id, Cwd: p.Cwd, OwnerID: c.id, Catalog: c.server.shared, CreatedAt: time.Now()}
		c.mu.Lock()
		c.ephemeral[id] = st
		c.mu.Unlock()
		return protocol.NewSessionResult{SessionID: id}, nil
	}

	st, err := c.server.registry.Create(ctx, id, c.id, p.Cwd, c.bridgeClient())
	if err != nil {
		return nil, err
	}
	if c.server.metrics != nil {
		c.server.metrics.SessionRegistered()
		c.server.metrics.RecordDiscovery(st.Catalog.Tier().String())
	}
	return protocol.NewSessionResult{SessionID: id}, nil
}

// sessionState finds or lazily creates the state for a session id.
func (c *Connection) sessionState(ctx context.Context, sessionID string) *session.State {
	if c.server.registry != nil {
		return c.server.registry.LookupOrCreate(ctx, sessionID, c.id, c.bridgeClient())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.ephemeral[sessionID]
	if !ok {
		st = &session.State{ID: sessionID, OwnerID: c.id, Catalog: c.server.shared, CreatedAt: time.Now()}
		c.ephemeral[sessionID] = st
	}
	return st
}

// lookupState finds an existing state without creating one.
func (c *Connection) lookupState(sessionID string) (*session.State, bool) {
	if c.server.registry != nil {
		return c.server.registry.Lookup(sessionID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.ephemeral[sessionID]
	return st, ok
}

func (c *Connection) handleLoadSession(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	var p protocol.LoadSessionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, acperrors.InvalidParams(protocol.MethodSessionLoad, err.Error())
	}
	if p.SessionID == "" {
		return nil, acperrors.MissingParameter("session_id")
	}
	st := c.sessionState(ctx, p.SessionID)
	if p.Cwd != "" {
		st.Cwd = p.Cwd
	}
	return struct{}{}, nil
}

func (c *Connection) handleListSessions(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	var p protocol.ListSessionsParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, acperrors.InvalidParams(protocol.MethodSessionList, err.Error())
		}
	}
	if c.server.registry == nil {
		return protocol.ListSessionsResult{Sessions: []protocol.SessionInfo{}}, nil
	}

	states := c.server.registry.List()
	infos := make([]protocol.SessionInfo, len(states))
	for i, st := range states {
		infos[i] = protocol.SessionInfo{
			SessionID: st.ID,
			Cwd:       st.Cwd,
			Tier:      int(st.Catalog.Tier()),
		}
	}
	page, next, err := pagination.Page(infos, p.Cursor, p.Limit, func(info protocol.SessionInfo) string {
		return info.SessionID
	})
	if err != nil {
		return nil, err
	}
	return protocol.ListSessionsResult{Sessions: page, NextCursor: next}, nil
}

func (c *Connection) handlePrompt(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	var p protocol.PromptParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, acperrors.InvalidParams(protocol.MethodSessionPrompt, err.Error())
	}
	if p.SessionID == "" {
		return nil, acperrors.MissingParameter("session_id")
	}

	st := c.sessionState(ctx, p.SessionID)
	turnCtx, done := st.BeginTurn(ctx)
	defer done()

	turn := newTurn(st, c.bridgeClient(), p.Prompt, c.logger)
	result := runTurn(turnCtx, c.server.agent, turn, c.logger)
	if c.server.metrics != nil {
		c.server.metrics.RecordTurn(string(result.StopReason))
	}
	return result, nil
}

func (c *Connection) cancelSession(sessionID string) {
	if st, ok := c.lookupState(sessionID); ok {
		st.CancelTurn()
		return
	}
	c.logger.Debug("cancel for unknown session",
		logging.String("session_id", sessionID))
}

func (c *Connection) handleCancelRequest(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p protocol.CancelParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, acperrors.InvalidParams(protocol.MethodSessionCancel, err.Error())
	}
	c.cancelSession(p.SessionID)
	return struct{}{}, nil
}

func (c *Connection) handleCancelNotification(ctx context.Context, params json.RawMessage) error {
	var p protocol.CancelParams
	if err := json.Unmarshal(params, &p); err != nil {
		return acperrors.InvalidParams(protocol.MethodSessionCancel, err.Error())
	}
	c.cancelSession(p.SessionID)
	return nil
}

func (c *Connection) handleFork(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	var p protocol.ForkSessionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, acperrors.InvalidParams(protocol.MethodSessionFork, err.Error())
	}
	src, ok := c.lookupState(p.SessionID)
	if !ok {
		return nil, acperrors.SessionNotFound(p.SessionID)
	}

	// The fork inherits the parent's discovery cache; discovery never
	// re-runs.
	id := session.NewSessionID()
	st := &session.State{
		ID:        id,
		Cwd:       src.Cwd,
		OwnerID:   c.id,
		Catalog:   src.Catalog,
		CreatedAt: time.Now(),
	}
	if c.server.registry != nil {
		if err := c.server.registry.Register(st); err != nil {
			return nil, err
		}
		if c.server.metrics != nil {
			c.server.metrics.SessionRegistered()
		}
	} else {
		c.mu.Lock()
		c.ephemeral[id] = st
		c.mu.Unlock()
	}
	return protocol.NewSessionResult{SessionID: id}, nil
}

func (c *Connection) handleResume(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	var p protocol.ResumeSessionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, acperrors.InvalidParams(protocol.MethodSessionResume, err.Error())
	}
	if p.SessionID == "" {
		return nil, acperrors.MissingParameter("session_id")
	}

	// Resume keeps the logical session id and its discovery cache but
	// adopts it under this connection. In-flight turn state from a
	// previous connection is never replayed.
	if c.server.registry != nil {
		if src, ok := c.server.registry.Lookup(p.SessionID); ok {
			c.server.registry.Reregister(&session.State{
				ID:        src.ID,
				Cwd:       src.Cwd,
				OwnerID:   c.id,
				Catalog:   src.Catalog,
				CreatedAt: src.CreatedAt,
			})
			return protocol.NewSessionResult{SessionID: p.SessionID}, nil
		}
	}
	c.sessionState(ctx, p.SessionID)
	return protocol.NewSessionResult{SessionID: p.SessionID}, nil
}

func (c *Connection) handleSetMode(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	var p protocol.SetModeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, acperrors.InvalidParams(protocol.MethodSetMode, err.Error())
	}
	st, ok := c.lookupState(p.SessionID)
	if !ok {
		return nil, acperrors.SessionNotFound(p.SessionID)
	}
	st.SetMode(p.ModeID)
	return struct{}{}, nil
}

func (c *Connection) handleSetModel(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	var p protocol.SetModelParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, acperrors.InvalidParams(protocol.MethodSetModel, err.Error())
	}
	st, ok := c.lookupState(p.SessionID)
	if !ok {
		return nil, acperrors.SessionNotFound(p.SessionID)
	}
	st.SetModel(p.ModelID)
	return struct{}{}, nil
}

func (c *Connection) handleSetConfigOption(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if err := c.requireReady(); err != nil {
		return nil, err
	}
	var p protocol.SetConfigOptionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, acperrors.InvalidParams(protocol.MethodSetConfigOption, err.Error())
	}
	st, ok := c.lookupState(p.SessionID)
	if !ok {
		return nil, acperrors.SessionNotFound(p.SessionID)
	}
	st.SetOption(p.Key, p.Value)
	return struct{}{}, nil
}

// handleFallback serves namespaced extension methods when the agent
// implements ExtensionHandler; everything else is method-not-found.
func (c *Connection) handleFallback(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	if protocol.IsExtensionMethod(method) {
		if ext, ok := c.server.agent.(ExtensionHandler); ok {
			return ext.HandleExtension(ctx, method, params)
		}
	}
	return nil, acperrors.MethodNotFound(method)
}
