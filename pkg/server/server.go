package server

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/acpkit/acp-go/pkg/auth"
	"github.com/acpkit/acp-go/pkg/catalog"
	"github.com/acpkit/acp-go/pkg/logging"
	"github.com/acpkit/acp-go/pkg/observability"
	"github.com/acpkit/acp-go/pkg/protocol"
	"github.com/acpkit/acp-go/pkg/session"
	"github.com/acpkit/acp-go/pkg/transport"
)

// DefaultIdleTimeout closes connections with no inbound frames for this
// long.
const DefaultIdleTimeout = 30 * time.Minute

// Server hosts one agent behind any number of connections.
type Server struct {
	agent   Agent
	logger  logging.Logger
	metrics *observability.Metrics

	info         protocol.Implementation
	capabilities protocol.AgentCapabilities

	// registry is nil in degraded shared-configuration mode, where a
	// fixed catalog is shared by every session and no per-session
	// discovery or caching happens. The two modes are told apart by
	// this shape, never by a flag.
	registry *session.Registry
	shared   *catalog.Catalog

	authMethods   []protocol.AuthMethod
	authenticator auth.Authenticator

	idleTimeout    time.Duration
	requestTimeout time.Duration
	wsPath         string
	extraTools     []protocol.ToolDescriptor

	mu    sync.Mutex
	conns map[string]*Connection
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the structured logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics attaches a metrics registry.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithInfo sets the agent identity reported at initialize.
func WithInfo(info protocol.Implementation) Option {
	return func(s *Server) { s.info = info }
}

// WithCapabilities sets the advertised agent capabilities.
func WithCapabilities(caps protocol.AgentCapabilities) Option {
	return func(s *Server) { s.capabilities = caps }
}

// WithIdleTimeout overrides the idle connection policy.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) { s.idleTimeout = d }
}

// WithRequestTimeout bounds the wait on back-channel requests.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.requestTimeout = d }
}

// WithWSPath sets the URL path ListenAndServe mounts the WebSocket
// endpoint at. Defaults to "/".
func WithWSPath(path string) Option {
	return func(s *Server) { s.wsPath = path }
}

// WithExtraTools appends server-configured tool descriptors to every
// session's catalog, whatever tier discovery lands on.
func WithExtraTools(tools ...protocol.ToolDescriptor) Option {
	return func(s *Server) { s.extraTools = append(s.extraTools, tools...) }
}

// WithAuth requires clients to authenticate with one of the given
// methods before opening sessions.
func WithAuth(authenticator auth.Authenticator, methods ...protocol.AuthMethod) Option {
	return func(s *Server) {
		s.authenticator = authenticator
		s.authMethods = methods
	}
}

// WithSharedCatalog switches the server into degraded shared-configuration
// mode: every session uses this fixed catalog, discovery never runs, and
// no session registry exists.
func WithSharedCatalog(cat *catalog.Catalog) Option {
	return func(s *Server) { s.shared = cat }
}

// New creates a server for an agent.
func New(agent Agent, opts ...Option) *Server {
	s := &Server{
		agent:          agent,
		logger:         logging.Nop(),
		info:           protocol.Implementation{Name: "acp-go", Version: "dev"},
		idleTimeout:    DefaultIdleTimeout,
		requestTimeout: transport.DefaultRequestTimeout,
		conns:          make(map[string]*Connection),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.shared == nil {
		s.registry = session.NewRegistry(catalog.NewResolver(s.logger, s.extraTools...), s.logger)
	}
	return s
}

// Registry returns the session registry, or nil in degraded mode.
func (s *Server) Registry() *session.Registry { return s.registry }

// Degraded reports whether the server runs with one shared configuration.
func (s *Server) Degraded() bool { return s.registry == nil }

func (s *Server) trackConnection(c *Connection) {
	s.mu.Lock()
	s.conns[c.ID()] = c
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ConnectionOpened()
	}
}

func (s *Server) forgetConnection(c *Connection) {
	s.mu.Lock()
	delete(s.conns, c.ID())
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.ConnectionClosed()
	}
}

// ConnectionCount reports live connections.
func (s *Server) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// ServeConn runs the dispatcher over an established connection until it
// ends. Exported so tests and custom transports can drive the identical
// logic the stdio and WebSocket bind points use.
func (s *Server) ServeConn(ctx context.Context, conn transport.Conn) error {
	c := s.newConnection(conn)
	return c.serve(ctx)
}

// ServeStdio attaches the agent to a single client over the process
// pipes. Stdout is reserved for protocol traffic; logging must go to
// stderr.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.ServeStdioPipes(ctx, os.Stdin, os.Stdout)
}

// ServeStdioPipes is ServeStdio over explicit pipes, for tests.
func (s *Server) ServeStdioPipes(ctx context.Context, in io.Reader, out io.Writer) error {
	return s.ServeConn(ctx, transport.NewStdioConn(in, out))
}

// Shutdown stops every live connection.
func (s *Server) Shutdown() {
	s.mu.Lock()
	conns := make([]*Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}
