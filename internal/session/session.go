package session

import (
	"sync/atomic"

	"github.com/keywave/walletbridge/internal/rpc"
	"github.com/keywave/walletbridge/internal/transport"
	"github.com/keywave/walletbridge/internal/util"
)

// Session is one connection attempt and, after Connect succeeds, the
// live RPC channel to the remote daemon. A failed or closed session is
// not reusable: start a new attempt with a fresh token and descriptors.
type Session struct {
	tr    *transport.Transport
	conn  *rpc.Conn
	state atomic.Int32
}

// Conn returns the RPC correlation layer. It is non-nil once the
// establisher has attached it (before the channel opens; calls issued
// early queue locally per the rpc package contract).
func (s *Session) Conn() *rpc.Conn {
	return s.conn
}

// State returns the current connection state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Done returns a channel that is closed when the underlying transport
// shuts down. All pending calls are rejected at that point.
func (s *Session) Done() <-chan struct{} {
	return s.tr.Done()
}

// Close aborts the attempt or tears down the open channel. Closing is
// the only way to cancel establishment in progress; every pending call
// is rejected with rpc.ErrClosed.
func (s *Session) Close() error {
	s.transition(StateOpen, StateClosed)
	if s.conn != nil {
		s.conn.Close()
	}
	return s.tr.Close()
}

// setState unconditionally records a new state.
func (s *Session) setState(next State) {
	s.state.Store(int32(next))
	util.LogDebug("session state: %s", next)
}

// transition moves from→next, returning false if the current state
// differs. Used so a Close after failure does not mask StateFailed.
func (s *Session) transition(from, next State) bool {
	if s.state.CompareAndSwap(int32(from), int32(next)) {
		util.LogDebug("session state: %s", next)
		return true
	}
	return false
}
