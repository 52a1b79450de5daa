package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessage_Classification(t *testing.T) {
	tests := []struct {
		name string
		data string
		kind MessageKind
	}{
		{
			name: "request",
			data: `{"jsonrpc":"2.0","id":"r1","method":"session/prompt","params":{"session_id":"s1"}}`,
			kind: MessageRequest,
		},
		{
			name: "success response",
			data: `{"jsonrpc":"2.0","id":"r1","result":{"stop_reason":"end_turn"}}`,
			kind: MessageResponse,
		},
		{
			name: "error response",
			data: `{"jsonrpc":"2.0","id":"r1","error":{"code":-32601,"message":"Method not found"}}`,
			kind: MessageResponse,
		},
		{
			name: "notification",
			data: `{"jsonrpc":"2.0","method":"session/update","params":{"session_id":"s1"}}`,
			kind: MessageNotification,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeMessage([]byte(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, msg.Kind)
		})
	}
}

func TestDecodeMessage_Garbage(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "this is not json"},
		{"empty object", "{}"},
		{"wrong version", `{"jsonrpc":"1.0","id":"r1","method":"x"}`},
		{"no method no result", `{"jsonrpc":"2.0","id":"r1"}`},
		{"empty input", ""},
		{"binary garbage", "\x00\x01\x02"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeMessage([]byte(tt.data))
			require.Error(t, err, "garbage must yield a classified error, never panic")
			assert.Equal(t, MessageInvalid, msg.Kind)
		})
	}
}

func TestEncodeMessage_RoundTrip(t *testing.T) {
	frames := []string{
		`{"jsonrpc":"2.0","id":"42","method":"initialize","params":{"protocol_version":1}}`,
		`{"jsonrpc":"2.0","id":"42","result":{"session_id":"s-abc"}}`,
		`{"jsonrpc":"2.0","id":"42","error":{"code":-32603,"message":"Internal error","data":"boom"}}`,
		`{"jsonrpc":"2.0","method":"session/update","params":{"session_id":"s-abc"}}`,
	}

	for _, frame := range frames {
		msg, err := DecodeMessage([]byte(frame))
		require.NoError(t, err)

		encoded, err := EncodeMessage(msg)
		require.NoError(t, err)
		assert.JSONEq(t, frame, string(encoded))
	}
}

func TestEncodeMessage_Invalid(t *testing.T) {
	_, err := EncodeMessage(&Message{Kind: MessageInvalid})
	assert.Error(t, err)
}

func TestNewResponse_NullResult(t *testing.T) {
	resp, err := NewResponse("r1", nil)
	require.NoError(t, err)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"result":null`, "success responses carry an explicit result member")
}

func TestError_ImplementsError(t *testing.T) {
	var err error = &Error{Code: -32601, Message: "Method not found"}
	assert.Contains(t, err.Error(), "-32601")
	assert.Contains(t, err.Error(), "Method not found")
}
