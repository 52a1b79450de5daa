package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageKind classifies a decoded frame.
type MessageKind int

const (
	// MessageInvalid marks a frame that could not be classified. Invalid
	// frames are logged and dropped; they are never fatal to a connection.
	MessageInvalid MessageKind = iota
	MessageRequest
	MessageResponse
	MessageNotification
)

// String returns the kind name for logs.
func (k MessageKind) String() string {
	switch k {
	case MessageRequest:
		return "request"
	case MessageResponse:
		return "response"
	case MessageNotification:
		return "notification"
	default:
		return "invalid"
	}
}

// Message is a classified JSON-RPC frame. Exactly one of Request, Response,
// or Notification is non-nil for a valid message.
type Message struct {
	Kind         MessageKind
	Request      *Request
	Response     *Response
	Notification *Notification
}

// DecodeMessage parses a raw frame and classifies it as a request, response,
// or notification. It never panics on garbage input: undecodable or
// unclassifiable frames yield a MessageInvalid message and a non-nil error.
func DecodeMessage(data []byte) (*Message, error) {
	var probe struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      interface{}     `json:"id"`
		Method  string          `json:"method"`
		Result  json.RawMessage `json:"result"`
		Error   *Error          `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return &Message{Kind: MessageInvalid}, fmt.Errorf("parse error: %w", err)
	}
	if probe.JSONRPC != JSONRPCVersion {
		return &Message{Kind: MessageInvalid}, fmt.Errorf("unsupported jsonrpc version %q", probe.JSONRPC)
	}

	switch {
	case probe.ID != nil && (probe.Result != nil || probe.Error != nil):
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return &Message{Kind: MessageInvalid}, fmt.Errorf("malformed response: %w", err)
		}
		return &Message{Kind: MessageResponse, Response: &resp}, nil

	case probe.ID != nil && probe.Method != "":
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			return &Message{Kind: MessageInvalid}, fmt.Errorf("malformed request: %w", err)
		}
		return &Message{Kind: MessageRequest, Request: &req}, nil

	case probe.Method != "":
		var notif Notification
		if err := json.Unmarshal(data, &notif); err != nil {
			return &Message{Kind: MessageInvalid}, fmt.Errorf("malformed notification: %w", err)
		}
		return &Message{Kind: MessageNotification, Notification: &notif}, nil

	default:
		return &Message{Kind: MessageInvalid}, fmt.Errorf("unclassifiable frame")
	}
}

// EncodeMessage serializes a classified message back to its wire form.
// EncodeMessage(DecodeMessage(frame)) reproduces the frame for every
// well-formed request, response, and notification.
func EncodeMessage(msg *Message) ([]byte, error) {
	switch msg.Kind {
	case MessageRequest:
		return json.Marshal(msg.Request)
	case MessageResponse:
		return json.Marshal(msg.Response)
	case MessageNotification:
		return json.Marshal(msg.Notification)
	default:
		return nil, fmt.Errorf("cannot encode invalid message")
	}
}
