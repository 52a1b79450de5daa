package transport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	acperrors "github.com/acpkit/acp-go/pkg/errors"
	"github.com/acpkit/acp-go/pkg/protocol"
)

// DefaultRequestTimeout bounds the wait for a correlated response.
const DefaultRequestTimeout = 30 * time.Second

// result is what a waiter eventually receives: a response or the error
// that resolved it (timeout surfaced separately, abort delivered here).
type result struct {
	resp *protocol.Response
	err  error
}

// pendingRequest is one outstanding correlated request.
type pendingRequest struct {
	id        string
	ch        chan result
	createdAt time.Time
}

// Correlator maps outbound request ids to pending waiters for one
// connection. Ids are fresh random uuids rather than a counter so they
// can never collide across reconnects. A waiter is resolved at most once;
// after AbortPending, registration fails immediately rather than hanging.
type Correlator struct {
	mu       sync.Mutex
	pending  map[string]*pendingRequest
	aborted  bool
	abortErr error
	name     string
	timeout  time.Duration

	// onPendingDelta, if set, observes the pending map size for metrics.
	onPendingDelta func(delta int)
}

// NewCorrelator creates a correlator for one connection. name identifies
// the transport kind in errors; a non-positive timeout selects the default.
func NewCorrelator(name string, timeout time.Duration) *Correlator {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Correlator{
		pending: make(map[string]*pendingRequest),
		name:    name,
		timeout: timeout,
	}
}

// SetPendingObserver registers a callback observing pending-count changes.
func (c *Correlator) SetPendingObserver(fn func(delta int)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPendingDelta = fn
}

// Register allocates a fresh request id and its waiter. It must be called
// BEFORE the request is written so a response can never arrive first and
// find no waiter. After teardown it fails immediately.
func (c *Correlator) Register() (*pendingRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.aborted {
		return nil, c.abortErr
	}

	p := &pendingRequest{
		id:        uuid.NewString(),
		ch:        make(chan result, 1),
		createdAt: time.Now(),
	}
	c.pending[p.id] = p
	if c.onPendingDelta != nil {
		c.onPendingDelta(1)
	}
	return p, nil
}

// Resolve delivers a response to its waiter. It never blocks (the waiter
// channel is buffered and removed under the lock), so it is safe to call
// directly in the read loop's hot path. Unmatched or duplicate ids are
// discarded silently and reported as false.
func (c *Correlator) Resolve(resp *protocol.Response) bool {
	if resp == nil || resp.ID == nil {
		return false
	}
	id, ok := resp.ID.(string)
	if !ok {
		return false
	}

	c.mu.Lock()
	p, found := c.pending[id]
	if found {
		delete(c.pending, id)
		if c.onPendingDelta != nil {
			c.onPendingDelta(-1)
		}
	}
	c.mu.Unlock()

	if !found {
		return false
	}
	p.ch <- result{resp: resp}
	return true
}

// Wait blocks the caller until the pending request resolves, the bounded
// timeout elapses, or ctx is cancelled. Expiry removes the entry; there is
// no automatic retry since not all calls are idempotent.
func (c *Correlator) Wait(ctx context.Context, p *pendingRequest) (*protocol.Response, error) {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case res := <-p.ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.resp, nil

	case <-timer.C:
		c.forget(p.id)
		return nil, acperrors.ResponseTimeout(c.name, p.id, c.timeout)

	case <-ctx.Done():
		c.forget(p.id)
		return nil, acperrors.FromContextError(ctx.Err(), c.name, p.id)
	}
}

// forget removes an entry whose waiter gave up.
func (c *Correlator) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; ok {
		delete(c.pending, id)
		if c.onPendingDelta != nil {
			c.onPendingDelta(-1)
		}
	}
}

// AbortPending resolves every outstanding waiter with a connection-lost
// error and clears the map. It runs exactly once, at connection teardown;
// subsequent Register calls fail immediately with the same error.
func (c *Correlator) AbortPending(reason string) {
	c.mu.Lock()
	if c.aborted {
		c.mu.Unlock()
		return
	}
	c.aborted = true
	c.abortErr = acperrors.ConnectionLost(c.name, reason)
	orphans := make([]*pendingRequest, 0, len(c.pending))
	for _, p := range c.pending {
		orphans = append(orphans, p)
	}
	if c.onPendingDelta != nil && len(c.pending) > 0 {
		c.onPendingDelta(-len(c.pending))
	}
	c.pending = make(map[string]*pendingRequest)
	abortErr := c.abortErr
	c.mu.Unlock()

	for _, p := range orphans {
		p.ch <- result{err: abortErr}
	}
}

// Aborted reports whether teardown has run.
func (c *Correlator) Aborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

// PendingCount returns the number of outstanding requests.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
