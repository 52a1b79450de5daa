package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	acperrors "github.com/acpkit/acp-go/pkg/errors"
	"github.com/acpkit/acp-go/pkg/protocol"
	"github.com/acpkit/acp-go/pkg/utils"
)

// chanConn is an in-memory Conn. Frames written by the test via push are
// read by the transport; frames written by the transport land on sent.
type chanConn struct {
	inbound chan []byte
	sent    chan []byte
	once    sync.Once
	closed  chan struct{}
}

func newChanConn() *chanConn {
	return &chanConn{
		inbound: make(chan []byte, 16),
		sent:    make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *chanConn) push(data []byte) { c.inbound <- data }

func (c *chanConn) ReadMessage() ([]byte, error) {
	select {
	case data, ok := <-c.inbound:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *chanConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.sent <- cp
	return nil
}

func (c *chanConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *chanConn) Name() string { return "chan" }

func (c *chanConn) nextSent(t *testing.T) []byte {
	t.Helper()
	select {
	case data := <-c.sent:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound frame")
		return nil
	}
}

func startTransport(t *testing.T, tr *Transport) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tr.Start(context.Background())
	}()
	t.Cleanup(func() {
		tr.Stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("transport did not stop")
		}
	})
}

func TestTransportDispatchesRequest(t *testing.T) {
	conn := newChanConn()
	tr := New(conn)
	tr.RegisterRequestHandler(protocol.MethodSessionNew, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return map[string]string{"session_id": "sess-1"}, nil
	})
	startTransport(t, tr)

	req, err := protocol.NewRequest("req-1", protocol.MethodSessionNew, map[string]interface{}{"cwd": "/tmp"})
	require.NoError(t, err)
	data, err := json.Marshal(req)
	require.NoError(t, err)
	conn.push(data)

	var resp protocol.Response
	require.NoError(t, json.Unmarshal(conn.nextSent(t), &resp))
	assert.Equal(t, "req-1", resp.ID)
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `{"session_id":"sess-1"}`, string(resp.Result))
}

func TestTransportNormalizesLegacyMethodAndParams(t *testing.T) {
	conn := newChanConn()
	tr := New(conn)

	var got json.RawMessage
	tr.RegisterRequestHandler(protocol.MethodSessionPrompt, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		got = params
		return protocol.PromptResult{StopReason: protocol.StopReasonEndTurn}, nil
	})
	startTransport(t, tr)

	// Flat alias plus camelCase keys, as older peers send them.
	conn.push([]byte(`{"jsonrpc":"2.0","id":"req-2","method":"prompt","params":{"sessionId":"sess-1","prompt":[]}}`))

	var resp protocol.Response
	require.NoError(t, json.Unmarshal(conn.nextSent(t), &resp))
	require.Nil(t, resp.Error)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(got, &decoded))
	assert.Contains(t, decoded, "session_id")
	assert.NotContains(t, decoded, "sessionId")
}

func TestTransportUnknownMethod(t *testing.T) {
	conn := newChanConn()
	tr := New(conn)
	startTransport(t, tr)

	conn.push([]byte(`{"jsonrpc":"2.0","id":9,"method":"no/such_method"}`))

	var resp protocol.Response
	require.NoError(t, json.Unmarshal(conn.nextSent(t), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, acperrors.CodeMethodNotFound, resp.Error.Code)
}

func TestTransportFallbackHandlesExtensionMethods(t *testing.T) {
	conn := newChanConn()
	tr := New(conn)
	tr.SetFallbackHandler(func(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
		if !protocol.IsExtensionMethod(method) {
			return nil, acperrors.MethodNotFound(method)
		}
		return map[string]string{"echo": method}, nil
	})
	startTransport(t, tr)

	conn.push([]byte(`{"jsonrpc":"2.0","id":"x1","method":"_vendor/custom_op","params":{}}`))

	var resp protocol.Response
	require.NoError(t, json.Unmarshal(conn.nextSent(t), &resp))
	require.Nil(t, resp.Error)
	assert.JSONEq(t, `{"echo":"_vendor/custom_op"}`, string(resp.Result))
}

func TestTransportHandlerPanicBecomesErrorResponse(t *testing.T) {
	conn := newChanConn()
	tr := New(conn)
	tr.RegisterRequestHandler(protocol.MethodSessionPrompt, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		panic("boom in handler")
	})
	startTransport(t, tr)

	conn.push([]byte(`{"jsonrpc":"2.0","id":"req-p","method":"session/prompt","params":{}}`))

	var resp protocol.Response
	require.NoError(t, json.Unmarshal(conn.nextSent(t), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, acperrors.CodeInternalError, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "boom in handler")

	// The read loop survived the panic.
	conn.push([]byte(`{"jsonrpc":"2.0","id":"req-q","method":"session/prompt","params":{}}`))
	require.NoError(t, json.Unmarshal(conn.nextSent(t), &resp))
	require.NotNil(t, resp.Error)
}

func TestTransportInvalidFrameDropped(t *testing.T) {
	conn := newChanConn()
	tr := New(conn)
	tr.RegisterRequestHandler(protocol.MethodInitialize, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return protocol.InitializeResult{ProtocolVersion: 1}, nil
	})
	startTransport(t, tr)

	conn.push([]byte(`this is not json`))
	conn.push([]byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`))

	var resp protocol.Response
	require.NoError(t, json.Unmarshal(conn.nextSent(t), &resp))
	assert.Nil(t, resp.Error, "loop must keep serving after a garbage frame")
}

func TestTransportSendRequestRoundTrip(t *testing.T) {
	conn := newChanConn()
	tr := New(conn)
	startTransport(t, tr)

	type result struct {
		raw json.RawMessage
		err error
	}
	resCh := make(chan result, 1)
	go func() {
		raw, err := tr.SendRequest(context.Background(), protocol.MethodReadTextFile,
			map[string]string{"session_id": "s", "path": "/tmp/a"})
		resCh <- result{raw, err}
	}()

	// The peer reads the frame and answers with the correlated id.
	var req protocol.Request
	require.NoError(t, json.Unmarshal(conn.nextSent(t), &req))
	assert.Equal(t, protocol.MethodReadTextFile, req.Method)
	require.NotEmpty(t, req.ID)

	resp, err := protocol.NewResponse(req.ID, map[string]string{"content": "data"})
	require.NoError(t, err)
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	conn.push(data)

	res := <-resCh
	require.NoError(t, res.err)
	assert.JSONEq(t, `{"content":"data"}`, string(res.raw))
}

func TestTransportSendRequestRemoteError(t *testing.T) {
	conn := newChanConn()
	tr := New(conn)
	startTransport(t, tr)

	errCh := make(chan error, 1)
	go func() {
		_, err := tr.SendRequest(context.Background(), protocol.MethodRequestPermission, nil)
		errCh <- err
	}()

	var req protocol.Request
	require.NoError(t, json.Unmarshal(conn.nextSent(t), &req))

	data, err := json.Marshal(protocol.NewErrorResponse(req.ID, acperrors.CodePermissionDenied, "denied", nil))
	require.NoError(t, err)
	conn.push(data)

	sendErr := <-errCh
	require.Error(t, sendErr)
	assert.True(t, acperrors.IsCode(sendErr, acperrors.CodePermissionDenied))
}

func TestTransportStopAbortsPendingRequests(t *testing.T) {
	const k = 5
	leaks := utils.NewLeakDetector(t)
	conn := newChanConn()
	tr := New(conn)
	startTransport(t, tr)

	errs := make(chan error, k)
	for i := 0; i < k; i++ {
		go func() {
			_, err := tr.SendRequest(context.Background(), protocol.MethodTerminalOutput,
				map[string]string{"terminal_id": "t"})
			errs <- err
		}()
	}
	for i := 0; i < k; i++ {
		conn.nextSent(t) // wait until every request is on the wire
	}

	tr.Stop()

	for i := 0; i < k; i++ {
		select {
		case err := <-errs:
			require.Error(t, err)
			assert.True(t, acperrors.IsCode(err, acperrors.CodeConnectionLost))
		case <-time.After(2 * time.Second):
			t.Fatal("pending request not aborted")
		}
	}
	assert.Equal(t, 0, tr.Correlator().PendingCount())

	_, err := tr.SendRequest(context.Background(), protocol.MethodReadTextFile, nil)
	require.Error(t, err, "requests after teardown must fail fast")

	leaks.Check()
}

func TestTransportNotificationDispatch(t *testing.T) {
	conn := newChanConn()
	tr := New(conn)

	received := make(chan json.RawMessage, 1)
	tr.RegisterNotificationHandler(protocol.MethodSessionUpdate, func(ctx context.Context, params json.RawMessage) error {
		received <- params
		return nil
	})
	startTransport(t, tr)

	conn.push([]byte(`{"jsonrpc":"2.0","method":"session/update","params":{"sessionId":"s1","update":{"session_update":"agent_message_chunk"}}}`))

	select {
	case params := <-received:
		var decoded map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(params, &decoded))
		assert.Contains(t, decoded, "session_id")
	case <-time.After(2 * time.Second):
		t.Fatal("notification not dispatched")
	}
}

func TestTransportNotificationOrderPreserved(t *testing.T) {
	conn := newChanConn()
	tr := New(conn)

	var mu sync.Mutex
	var order []string
	tr.RegisterNotificationHandler(protocol.MethodSessionUpdate, func(ctx context.Context, params json.RawMessage) error {
		var p protocol.SessionUpdateParams
		if err := json.Unmarshal(params, &p); err != nil {
			return err
		}
		mu.Lock()
		order = append(order, p.Update.Content.Text)
		mu.Unlock()
		return nil
	})
	startTransport(t, tr)

	for i := 0; i < 20; i++ {
		notif, err := protocol.NewNotification(protocol.MethodSessionUpdate, protocol.SessionUpdateParams{
			SessionID: "s1",
			Update: protocol.SessionUpdate{
				Kind:    protocol.UpdateAgentMessageChunk,
				Content: &protocol.ContentBlock{Type: "text", Text: fmt.Sprintf("chunk-%02d", i)},
			},
		})
		require.NoError(t, err)
		data, err := json.Marshal(notif)
		require.NoError(t, err)
		conn.push(data)
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 20
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i, text := range order {
		assert.Equal(t, fmt.Sprintf("chunk-%02d", i), text)
	}
}

func TestTransportSendNotificationAfterCloseIsSilent(t *testing.T) {
	conn := newChanConn()
	tr := New(conn)
	startTransport(t, tr)
	tr.Stop()

	// Must not panic or block.
	tr.SendNotification(context.Background(), protocol.MethodSessionUpdate, protocol.SessionUpdateParams{SessionID: "s"})
}

func TestTransportActivityCallback(t *testing.T) {
	conn := newChanConn()
	var mu sync.Mutex
	count := 0
	tr := New(conn, WithActivityFunc(func() {
		mu.Lock()
		count++
		mu.Unlock()
	}))
	startTransport(t, tr)

	conn.push([]byte(`{"jsonrpc":"2.0","method":"session/cancel","params":{}}`))
	conn.push([]byte(`garbage counts as activity too`))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 2
	}, 2*time.Second, 10*time.Millisecond)
}
