// Package server hosts an agent behind the wire protocol. One Server
// serves many connections; each connection runs its own read loop,
// correlator, and session ownership, so no failure in one connection can
// touch another.
//
// Two bind points drive identical dispatch logic: ServeStdio attaches the
// agent to a single client over the process pipes, and ListenAndServe
// accepts many concurrent clients over WebSocket.
package server
