package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/keywave/walletbridge/internal/util"
)

var (
	// ErrTimeout rejects a call that exceeded its deadline. The pending
	// entry is removed; a late response for that id is discarded.
	ErrTimeout = errors.New("rpc: call timed out")

	// ErrClosed rejects calls issued on, or pending during closure of,
	// a dead channel.
	ErrClosed = errors.New("rpc: connection closed")
)

// Sender is the outbound half of the message channel. *transport.Transport
// implements it.
type Sender interface {
	Send(data []byte) error
}

// DefaultCallTimeout applies to calls that do not override it. Zero or
// negative per-call timeouts disable the deadline entirely.
const DefaultCallTimeout = 30 * time.Second

// result carries the outcome of one call from the dispatch side to the
// goroutine blocked in Call.
type result struct {
	payload json.RawMessage
	err     error
}

// pendingCall is the bookkeeping for one in-flight request. It is created
// when the call is issued and removed exactly once: by a matching
// response, by timeout, or by connection closure.
type pendingCall struct {
	ch    chan result // buffered(1); exactly one result is ever delivered
	timer *time.Timer // nil when the call has no deadline
}

// Conn correlates requests with responses over a message channel.
//
// Identifiers are allocated from an atomic counter and never reused
// within a session; the pending table is the only shared mutable state
// and is guarded by a mutex, so Call may be used from any goroutine.
type Conn struct {
	sender Sender
	ready  <-chan struct{}

	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]*pendingCall
	closed  bool
}

// NewConn creates a correlation layer over sender. ready gates outbound
// traffic: calls issued before it closes queue locally, still subject to
// their own deadline. Wire inbound messages to HandleMessage and channel
// closure to Close; until then no response can resolve.
func NewConn(sender Sender, ready <-chan struct{}) *Conn {
	return &Conn{
		sender:  sender,
		ready:   ready,
		pending: make(map[uint64]*pendingCall),
	}
}

// CallOption adjusts a single call.
type CallOption func(*callSettings)

type callSettings struct {
	timeout time.Duration
}

// WithTimeout overrides DefaultCallTimeout for one call. d <= 0 disables
// the deadline: the call then waits until a response arrives, the
// context is cancelled, or the connection closes.
func WithTimeout(d time.Duration) CallOption {
	return func(s *callSettings) { s.timeout = d }
}

// Call issues one request and blocks until the matching response
// arrives, the deadline fires (ErrTimeout), the context is cancelled, or
// the connection closes (ErrClosed). params is marshalled as the request
// params; the raw response payload is returned on success.
//
// Completion order between concurrent calls is unconstrained: responses
// route by id, not by arrival order.
func (c *Conn) Call(ctx context.Context, method string, params any, opts ...CallOption) (json.RawMessage, error) {
	settings := callSettings{timeout: DefaultCallTimeout}
	for _, opt := range opts {
		opt(&settings)
	}

	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("rpc: encoding params for %q: %w", method, err)
	}

	id := c.nextID.Add(1)
	call := &pendingCall{ch: make(chan result, 1)}

	// The timer is armed inside the same critical section that
	// publishes the entry: expire and Close read call.timer through the
	// mutex, so it must be fully written before the entry is visible.
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = call
	if settings.timeout > 0 {
		call.timer = time.AfterFunc(settings.timeout, func() { c.expire(id) })
	}
	c.mu.Unlock()

	util.Stats.AddCall()

	// Queue locally until the channel is open. The deadline and the
	// context still apply while queued.
	select {
	case <-c.ready:
	case res := <-call.ch:
		return finish(method, res)
	case <-ctx.Done():
		c.drop(id)
		return nil, ctx.Err()
	}

	data, err := json.Marshal(Request{ID: id, Method: method, Params: rawParams})
	if err != nil {
		c.drop(id)
		return nil, fmt.Errorf("rpc: encoding request %q: %w", method, err)
	}
	if err := c.sender.Send(data); err != nil {
		c.drop(id)
		return nil, fmt.Errorf("rpc: sending request %q: %w", method, err)
	}

	select {
	case res := <-call.ch:
		return finish(method, res)
	case <-ctx.Done():
		c.drop(id)
		return nil, ctx.Err()
	}
}

// finish unwraps a delivered result, stamping the method onto remote
// errors that lack one. Used for both queued and in-flight resolution.
func finish(method string, res result) (json.RawMessage, error) {
	if res.err != nil {
		var remoteErr *RemoteError
		if errors.As(res.err, &remoteErr) && remoteErr.Method == "" {
			remoteErr.Method = method
		}
		return nil, res.err
	}
	return res.payload, nil
}

// HandleMessage dispatches one inbound channel message. Malformed
// messages and ids with no pending entry (late arrival after timeout, or
// unknown) are logged and discarded; this method never fails.
func (c *Conn) HandleMessage(data []byte) {
	var res Response
	if err := json.Unmarshal(data, &res); err != nil {
		util.LogWarning("discarding malformed inbound message: %v", err)
		return
	}

	call := c.take(res.ID)
	if call == nil {
		util.LogDebug("discarding response for unknown id %d", res.ID)
		return
	}

	util.Stats.CompleteCall()

	var remote errorPayload
	if err := json.Unmarshal(res.Payload, &remote); err == nil && remote.Error != "" {
		call.ch <- result{err: &RemoteError{Message: remote.Error}}
		return
	}
	call.ch <- result{payload: res.Payload}
}

// Close rejects every pending call with ErrClosed and clears the table.
// Subsequent calls fail immediately. Safe to invoke more than once.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	orphans := c.pending
	c.pending = make(map[uint64]*pendingCall)
	c.mu.Unlock()

	for _, call := range orphans {
		if call.timer != nil {
			call.timer.Stop()
		}
		call.ch <- result{err: ErrClosed}
	}
}

// PendingCount reports the number of in-flight calls.
func (c *Conn) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// take removes and returns the pending entry for id, stopping its timer.
// Returns nil when no entry exists.
func (c *Conn) take(id uint64) *pendingCall {
	c.mu.Lock()
	call, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return nil
	}
	if call.timer != nil {
		call.timer.Stop()
	}
	return call
}

// expire fires when a call's deadline elapses: the entry is removed (if
// a response has not already claimed it) and the call rejected.
func (c *Conn) expire(id uint64) {
	call := c.take(id)
	if call == nil {
		return
	}
	util.Stats.TimeoutCall()
	call.ch <- result{err: ErrTimeout}
}

// drop removes a pending entry without delivering a result. Used when
// the caller itself abandons the call (context cancellation, send
// failure).
func (c *Conn) drop(id uint64) {
	c.take(id)
}
