// Package acp implements the Agent Communication Protocol: a JSON-RPC 2.0
// based protocol connecting AI coding agents to the clients that drive
// them, over stdio or WebSocket.
//
// The root package re-exports the most common entry points. The real
// implementation lives in the sub-packages:
//
//   - pkg/server: the agent side; dispatches prompts to an Agent
//     implementation and manages sessions
//   - pkg/client: the client side; drives an agent and serves its
//     back-channel capability calls
//   - pkg/bridge: client capability implementations (local filesystem and
//     terminals, remote over the wire, and an in-memory fake for tests)
//   - pkg/catalog: tiered tool discovery (live, capability-derived, static)
//   - pkg/protocol: wire types, method names, and the JSON-RPC codec
//   - pkg/transport: connections, the request correlator, and the
//     dispatch loop
//   - pkg/session: the live session registry
//   - pkg/config: YAML runtime configuration
//
// # Serving an agent over stdio
//
//	import (
//	    "context"
//
//	    acp "github.com/acpkit/acp-go"
//	    "github.com/acpkit/acp-go/pkg/protocol"
//	    "github.com/acpkit/acp-go/pkg/server"
//	)
//
//	type echoAgent struct{}
//
//	func (echoAgent) Prompt(ctx context.Context, turn *server.Turn) (protocol.StopReason, error) {
//	    for _, block := range turn.Prompt() {
//	        turn.Message(ctx, block.Text)
//	    }
//	    return protocol.StopReasonEndTurn, nil
//	}
//
//	func main() {
//	    srv := acp.NewServer(echoAgent{},
//	        server.WithInfo(protocol.Implementation{Name: "echo", Version: "1.0.0"}))
//	    _ = srv.ServeStdio(context.Background())
//	}
//
// # Driving an agent
//
//	cl, err := acp.Dial(ctx, "ws://localhost:8089/acp")
//	if err != nil { ... }
//	cl.Start(ctx)
//	defer cl.Close()
//
//	if _, err := cl.Initialize(ctx); err != nil { ... }
//	sessionID, err := cl.NewSession(ctx, "/path/to/project")
//	result, err := cl.PromptText(ctx, sessionID, "Refactor the parser")
package acp
