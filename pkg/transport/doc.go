// Package transport provides the ACP transport layer: physical connection
// adapters, request/response correlation, and the per-connection read loop.
//
// Two interchangeable Conn implementations are provided. The stdio conn
// pairs one agent process with exactly one client over newline-delimited
// JSON on its input/output streams; the WebSocket conn carries the same
// frames over one network socket, decoding binary frames as text.
//
// The Transport type binds a Conn to a Correlator and a handler table.
// Its read loop resolves inbound responses synchronously (the hot path
// never suspends) and spawns inbound requests and notifications as
// independent tracked goroutines, so a handler can issue back-channel
// requests over the same connection without deadlocking the loop that
// must deliver their replies.
package transport
