package treecall

import (
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/outofforest/treecall/tree"
	"github.com/outofforest/treecall/wire"
)

// ConnState is the lifecycle state of the server connection.
type ConnState int

// Connection states. Transitions go only forward.
const (
	StateConnecting ConnState = iota
	StateConnected
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

type byteSender interface {
	SendBytes(b []byte) error
}

type serverConn struct {
	ID ulid.ULID

	sender byteSender
	sendMu sync.Mutex
	state  atomic.Int32

	mu       sync.Mutex
	watchers []*watcher
}

func newServerConn(sender byteSender) *serverConn {
	c := &serverConn{
		ID:     ulid.Make(),
		sender: sender,
	}
	c.state.Store(int32(StateConnecting))
	return c
}

func (c *serverConn) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *serverConn) MarkConnected() error {
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateConnected)) {
		return errors.Wrapf(ErrConnection, "connection is %s", c.State())
	}
	return nil
}

// Disconnect moves connection to the terminal state and stops its watchers.
func (c *serverConn) Disconnect() {
	c.state.Store(int32(StateDisconnected))

	c.mu.Lock()
	watchers := c.watchers
	c.watchers = nil
	c.mu.Unlock()

	for _, w := range watchers {
		w.Close()
	}
}

// Send sends message. Sends to one connection never interleave.
func (c *serverConn) Send(m *wire.Message) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if state := c.State(); state != StateConnected {
		return errors.Wrapf(ErrConnection, "connection is %s", state)
	}
	return errors.WithStack(c.sender.SendBytes(m.Bytes()))
}

// Watch attaches watcher pushing changes of the tree under the code.
// Full tree is pushed first.
func (c *serverConn) Watch(code uint32, t *tree.Tree, buffer int) (*watcher, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if state := c.State(); state != StateConnected {
		return nil, errors.Wrapf(ErrConnection, "watching tree on connection being %s", state)
	}
	if _, exists := c.watcher(code); exists {
		return nil, errors.Errorf("tree %d is watched already", code)
	}

	w := newWatcher(code, t.Subscribe(buffer, true), c)
	c.watchers = append(c.watchers, w)
	return w, nil
}

// Watcher returns watcher registered for the code.
func (c *serverConn) Watcher(code uint32) (*watcher, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.watcher(code)
}

func (c *serverConn) watcher(code uint32) (*watcher, bool) {
	return lo.Find(c.watchers, func(w *watcher) bool {
		return w.code == code
	})
}

// serverConns is the set of connections managed by the server. Acceptor adds them,
// sweep is the only place removing them.
type serverConns struct {
	mu    sync.Mutex
	conns []*serverConn
}

func newServerConns() *serverConns {
	return &serverConns{}
}

func (c *serverConns) Add(conn *serverConn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conns = append(c.conns, conn)
}

// Sweep evicts disconnected connections and returns the number of evicted ones.
func (c *serverConns) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	before := len(c.conns)
	c.conns = lo.Filter(c.conns, func(conn *serverConn, _ int) bool {
		return conn.State() != StateDisconnected
	})
	return before - len(c.conns)
}

// Connected returns connections in connected state.
func (c *serverConns) Connected() []*serverConn {
	c.mu.Lock()
	defer c.mu.Unlock()

	return lo.Filter(c.conns, func(conn *serverConn, _ int) bool {
		return conn.State() == StateConnected
	})
}

func (c *serverConns) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.conns)
}
