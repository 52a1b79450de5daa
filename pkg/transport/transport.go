package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	acperrors "github.com/acpkit/acp-go/pkg/errors"
	"github.com/acpkit/acp-go/pkg/logging"
	"github.com/acpkit/acp-go/pkg/protocol"
)

// RequestHandler handles one inbound request and returns its result.
type RequestHandler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// NotificationHandler handles one inbound notification.
type NotificationHandler func(ctx context.Context, params json.RawMessage) error

// FallbackHandler handles requests for methods with no registered handler,
// such as namespaced extension methods dispatched generically.
type FallbackHandler func(ctx context.Context, method string, params json.RawMessage) (interface{}, error)

// Metrics observes transport activity. Implementations must be safe for
// concurrent use; a nil Metrics disables observation.
type Metrics interface {
	RecordOutboundRequest(method, status string, duration time.Duration)
	RecordInboundRequest(method, status string, duration time.Duration)
	RecordNotification(method, direction string)
	RecordPendingRequests(delta int)
	RecordFrameDropped(transport string)
}

// Transport binds a Conn to a Correlator and a handler table and runs the
// per-connection read loop.
type Transport struct {
	conn       Conn
	correlator *Correlator
	logger     logging.Logger
	metrics    Metrics

	mu                   sync.RWMutex
	requestHandlers      map[string]RequestHandler
	notificationHandlers map[string]NotificationHandler
	fallback             FallbackHandler

	// tasks tracks spawned inbound handlers. On teardown they unwind
	// naturally when their own back-channel calls are aborted; they are
	// never force-cancelled, to avoid interrupting non-reentrant cleanup.
	tasks sync.WaitGroup

	onActivity func()
	done       chan struct{}
	stopOnce   sync.Once
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the structured logger.
func WithLogger(logger logging.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(t *Transport) {
		t.metrics = m
		if m != nil {
			t.correlator.SetPendingObserver(m.RecordPendingRequests)
		}
	}
}

// WithRequestTimeout overrides the bounded wait for correlated requests.
func WithRequestTimeout(d time.Duration) Option {
	return func(t *Transport) { t.correlator.timeout = d }
}

// WithActivityFunc registers a callback invoked on every inbound frame,
// used by the dispatcher's idle policy.
func WithActivityFunc(fn func()) Option {
	return func(t *Transport) { t.onActivity = fn }
}

// New creates a Transport over a connection.
func New(conn Conn, opts ...Option) *Transport {
	t := &Transport{
		conn:                 conn,
		correlator:           NewCorrelator(conn.Name(), DefaultRequestTimeout),
		logger:               logging.Nop(),
		requestHandlers:      make(map[string]RequestHandler),
		notificationHandlers: make(map[string]NotificationHandler),
		done:                 make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Correlator exposes the connection's correlator for teardown ordering.
func (t *Transport) Correlator() *Correlator { return t.correlator }

// RegisterRequestHandler registers a handler for a canonical method name.
func (t *Transport) RegisterRequestHandler(method string, handler RequestHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requestHandlers[method] = handler
}

// RegisterNotificationHandler registers a handler for inbound notifications.
func (t *Transport) RegisterNotificationHandler(method string, handler NotificationHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notificationHandlers[method] = handler
}

// SetFallbackHandler registers the handler for unmatched methods.
func (t *Transport) SetFallbackHandler(handler FallbackHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fallback = handler
}

// Start runs the read loop until the peer disconnects, the context is
// cancelled, or Stop is called. It always returns after teardown has
// aborted every pending correlated request.
func (t *Transport) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	readDone := make(chan struct{})

	g.Go(func() error {
		defer close(readDone)
		for {
			data, err := t.conn.ReadMessage()
			if err != nil {
				select {
				case <-t.done:
					return nil
				default:
				}
				return err
			}
			if t.onActivity != nil {
				t.onActivity()
			}
			t.processFrame(gctx, data)
		}
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
			_ = t.conn.Close() // unblock the reader
			return gctx.Err()
		case <-t.done:
			_ = t.conn.Close()
			return nil
		case <-readDone:
			return nil
		}
	})

	err := g.Wait()
	t.teardown("connection closed")
	if err == context.Canceled {
		return nil
	}
	return err
}

// Stop tears the transport down. Idempotent; safe from any goroutine.
func (t *Transport) Stop() {
	t.teardown("transport stopped")
}

func (t *Transport) teardown(reason string) {
	t.stopOnce.Do(func() {
		close(t.done)
		_ = t.conn.Close()
		// Abort first: in-flight handler goroutines blocked on their own
		// back-channel calls unwind when those calls fail.
		t.correlator.AbortPending(reason)
	})
}

// Done is closed once teardown has run.
func (t *Transport) Done() <-chan struct{} { return t.done }

func (t *Transport) closed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// processFrame classifies one inbound frame. Responses and notifications
// run on the hot path: resolving is non-blocking, and notification handlers
// make no back-channel calls, so inline dispatch preserves the sender's
// ordering. Requests each get an independent goroutine so a handler's
// back-channel calls cannot deadlock this loop. Undecodable frames are
// logged and dropped, never fatal.
func (t *Transport) processFrame(ctx context.Context, data []byte) {
	msg, err := protocol.DecodeMessage(data)
	if err != nil {
		t.logger.WithError(acperrors.InvalidFrame(t.conn.Name(), err)).
			Warn("dropping undecodable frame", logging.Int("bytes", len(data)))
		if t.metrics != nil {
			t.metrics.RecordFrameDropped(t.conn.Name())
		}
		return
	}

	switch msg.Kind {
	case protocol.MessageResponse:
		if !t.correlator.Resolve(msg.Response) {
			t.logger.Debug("discarding unmatched response",
				logging.Any("id", msg.Response.ID))
		}

	case protocol.MessageRequest:
		t.tasks.Add(1)
		go func() {
			defer t.tasks.Done()
			t.dispatchRequest(ctx, msg.Request)
		}()

	case protocol.MessageNotification:
		t.dispatchNotification(ctx, msg.Notification)
	}
}

func (t *Transport) dispatchRequest(ctx context.Context, req *protocol.Request) {
	started := time.Now()
	method := protocol.NormalizeMethod(req.Method)
	params := protocol.NormalizeParams(req.Params)

	result, err := t.invokeHandler(ctx, method, params)

	status := "ok"
	if err != nil {
		status = "error"
	}
	if t.metrics != nil {
		t.metrics.RecordInboundRequest(method, status, time.Since(started))
	}

	var resp *protocol.Response
	if err != nil {
		resp = acperrors.ToResponse(err, req.ID)
	} else {
		resp, err = protocol.NewResponse(req.ID, result)
		if err != nil {
			resp = acperrors.ToResponse(acperrors.InternalError(method, err), req.ID)
		}
	}
	t.writeResponse(method, resp)
}

// invokeHandler runs the matched handler with panic recovery. A panic is
// converted to an internal error carrying the original message; it must
// never crash the read loop or affect other connections.
func (t *Transport) invokeHandler(ctx context.Context, method string, params json.RawMessage) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = acperrors.HandlerPanic(method, r)
			t.logger.WithError(err).Error("handler panicked",
				logging.String("method", method))
		}
	}()

	t.mu.RLock()
	handler, ok := t.requestHandlers[method]
	fallback := t.fallback
	t.mu.RUnlock()

	if !ok {
		if fallback != nil {
			return fallback(ctx, method, params)
		}
		return nil, acperrors.MethodNotFound(method)
	}
	return handler(ctx, params)
}

func (t *Transport) dispatchNotification(ctx context.Context, notif *protocol.Notification) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.WithError(acperrors.HandlerPanic(notif.Method, r)).
				Error("notification handler panicked")
		}
	}()

	method := protocol.NormalizeMethod(notif.Method)
	params := protocol.NormalizeParams(notif.Params)

	t.mu.RLock()
	handler, ok := t.notificationHandlers[method]
	t.mu.RUnlock()

	if t.metrics != nil {
		t.metrics.RecordNotification(method, "inbound")
	}
	if !ok {
		// Notifications are fire-and-forget; an unregistered method is
		// not an error worth surfacing.
		t.logger.Debug("ignoring notification for unregistered method",
			logging.String("method", method))
		return
	}
	if err := handler(ctx, params); err != nil {
		t.logger.WithError(err).Warn("notification handler failed",
			logging.String("method", method))
	}
}

// writeResponse sends a response only while the connection is still open.
func (t *Transport) writeResponse(method string, resp *protocol.Response) {
	if t.closed() {
		t.logger.Debug("dropping response for closed connection",
			logging.String("method", method))
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		t.logger.WithError(err).Error("failed to marshal response",
			logging.String("method", method))
		return
	}
	if err := t.conn.WriteMessage(data); err != nil {
		t.logger.WithError(err).Warn("failed to write response",
			logging.String("method", method))
	}
}

// SendRequest issues a correlated request and blocks until its response,
// a bounded timeout, or teardown. The waiter is registered before the
// frame is written, so a response can never arrive first and find no
// waiter. A wire-level error response is returned as an ACPError
// preserving code, message, and data.
func (t *Transport) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if t.closed() {
		return nil, acperrors.ConnectionDown(t.conn.Name())
	}

	pending, err := t.correlator.Register()
	if err != nil {
		return nil, err
	}

	req, err := protocol.NewRequest(pending.id, method, params)
	if err != nil {
		t.correlator.forget(pending.id)
		return nil, err
	}
	data, err := json.Marshal(req)
	if err != nil {
		t.correlator.forget(pending.id)
		return nil, err
	}

	started := time.Now()
	if err := t.conn.WriteMessage(data); err != nil {
		t.correlator.forget(pending.id)
		if t.metrics != nil {
			t.metrics.RecordOutboundRequest(method, "send_error", time.Since(started))
		}
		return nil, err
	}

	resp, err := t.correlator.Wait(ctx, pending)
	status := "ok"
	switch {
	case err != nil:
		status = "error"
	case resp.Error != nil:
		status = "remote_error"
	}
	if t.metrics != nil {
		t.metrics.RecordOutboundRequest(method, status, time.Since(started))
	}
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, acperrors.FromProtocolError(resp.Error)
	}
	return resp.Result, nil
}

// SendNotification writes a fire-and-forget message with no id. Failures
// are logged, never raised to the caller.
func (t *Transport) SendNotification(ctx context.Context, method string, params interface{}) {
	if t.closed() {
		return
	}
	notif, err := protocol.NewNotification(method, params)
	if err != nil {
		t.logger.WithError(err).Warn("failed to build notification",
			logging.String("method", method))
		return
	}
	data, err := json.Marshal(notif)
	if err != nil {
		t.logger.WithError(err).Warn("failed to marshal notification",
			logging.String("method", method))
		return
	}
	if t.metrics != nil {
		t.metrics.RecordNotification(method, "outbound")
	}
	if err := t.conn.WriteMessage(data); err != nil {
		t.logger.WithError(err).Warn("failed to send notification",
			logging.String("method", method))
	}
}

// WaitForHandlers blocks until all spawned inbound handlers have finished.
// Intended for tests and graceful shutdown paths.
func (t *Transport) WaitForHandlers() {
	t.tasks.Wait()
}
