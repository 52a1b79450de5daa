// Package protocol implements the ACP wire layer: JSON-RPC 2.0 message
// types, a codec that classifies raw frames as requests, responses, or
// notifications, the canonical agent-facing and client-facing method names
// with their legacy aliases, and the typed parameter and result payloads
// exchanged between client and agent.
//
// The codec is deliberately defensive: DecodeMessage never panics on
// malformed input, and an unclassifiable frame is returned as
// MessageInvalid so transports can log and drop it without tearing down
// the connection.
package protocol
