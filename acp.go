package acp

import (
	"github.com/acpkit/acp-go/pkg/client"
	"github.com/acpkit/acp-go/pkg/protocol"
	"github.com/acpkit/acp-go/pkg/server"
)

// Version is the runtime's release version.
const Version = "0.1.0"

// ProtocolVersion is the ACP protocol version this runtime speaks.
const ProtocolVersion = protocol.ProtocolVersion

// Core entry points, re-exported for convenience.
var (
	// NewServer creates an agent-side server around an Agent implementation.
	NewServer = server.New

	// NewClient creates a client over an established connection.
	NewClient = client.New

	// NewStdioClient creates a client over newline-framed pipes.
	NewStdioClient = client.NewStdio

	// Dial connects a client to an agent's WebSocket endpoint.
	Dial = client.Dial
)

// Agent is the interface an agent implementation provides to NewServer.
type Agent = server.Agent

// Turn is the per-prompt handle an Agent receives.
type Turn = server.Turn
