// Package pending tracks calls waiting for their responses.
package pending

import (
	"bytes"
	"slices"
	"sync"
)

// Call is the bookkeeping of one outstanding call. It is signaled at most once.
type Call struct {
	seq  uint32
	done chan struct{}

	mu       sync.Mutex
	signaled bool
	response []byte
}

// NewCall creates call waiting for the response with the sequence.
func NewCall(seq uint32) *Call {
	return &Call{
		seq:  seq,
		done: make(chan struct{}),
	}
}

// Sequence returns sequence of the call.
func (c *Call) Sequence() uint32 {
	return c.seq
}

// Signal stores a copy of the response and wakes the waiter.
// It returns false if call has been signaled already.
func (c *Call) Signal(response []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.signaled {
		return false
	}
	c.signaled = true
	c.response = bytes.Clone(response)
	close(c.done)
	return true
}

// Done returns channel closed when response arrives.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Response returns the stored response. It is nil until call is signaled.
func (c *Call) Response() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.response
}

// Table correlates outstanding calls with their sequences.
// Lookup scans linearly, the number of concurrent calls is expected to be small.
type Table struct {
	mu    sync.Mutex
	calls []*Call
}

// NewTable creates empty table.
func NewTable() *Table {
	return &Table{}
}

// Append registers the call.
func (t *Table) Append(call *Call) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.calls = append(t.calls, call)
}

// Remove unregisters the call.
func (t *Table) Remove(call *Call) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i := slices.Index(t.calls, call); i >= 0 {
		t.calls = slices.Delete(t.calls, i, i+1)
	}
}

// FindBySequence returns call registered for the sequence.
func (t *Table) FindBySequence(seq uint32) (*Call, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, c := range t.calls {
		if c.seq == seq {
			return c, true
		}
	}
	return nil, false
}

// Size returns the number of registered calls.
func (t *Table) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.calls)
}
