package tree

import (
	"sync"

	"github.com/pkg/errors"
)

var (
	// ErrSubscriptionClosed is returned when closed subscription is used.
	ErrSubscriptionClosed = errors.New("subscription closed")

	// ErrSubscriptionOverflow is reported by subscription evicted because it did not keep up with changes.
	ErrSubscriptionOverflow = errors.New("subscription overflow")
)

// Subscription receives changes of the tree.
// Publishing never waits for the subscriber. Subscription whose buffer is full is evicted:
// its channel is closed and Overflow is signaled.
type Subscription struct {
	tree       *Tree
	ch         chan Change
	overflowCh chan struct{}
	closeOnce  sync.Once

	// protected by tree.mu
	err error
}

// Subscribe creates subscription receiving changes made from now on.
// If snapshot is true, the full tree is delivered first.
func (t *Tree) Subscribe(buffer int, snapshot bool) *Subscription {
	if buffer < 1 {
		buffer = 1
	}

	s := &Subscription{
		tree:       t,
		ch:         make(chan Change, buffer),
		overflowCh: make(chan struct{}),
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if snapshot {
		s.ch <- t.snapshotChange(0)
	}
	t.subs[s] = struct{}{}

	return s
}

// Changes returns channel delivering changes. It is closed when subscription is closed or evicted.
func (s *Subscription) Changes() <-chan Change {
	return s.ch
}

// Overflow returns channel closed when subscription is evicted.
func (s *Subscription) Overflow() <-chan struct{} {
	return s.overflowCh
}

// Err returns ErrSubscriptionOverflow if subscription was evicted.
func (s *Subscription) Err() error {
	s.tree.mu.RLock()
	defer s.tree.mu.RUnlock()

	return s.err
}

// RequestSnapshot queues the full tree after all the changes delivered so far.
// Tag is copied to the produced change.
func (s *Subscription) RequestSnapshot(tag uint32) error {
	s.tree.mu.Lock()
	defer s.tree.mu.Unlock()

	if _, exists := s.tree.subs[s]; !exists {
		if s.err != nil {
			return s.err
		}
		return errors.WithStack(ErrSubscriptionClosed)
	}

	if !s.tree.deliver(s, s.tree.snapshotChange(tag)) {
		return s.err
	}
	return nil
}

// Close stops delivering changes.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.tree.mu.Lock()
		defer s.tree.mu.Unlock()

		if _, exists := s.tree.subs[s]; exists {
			delete(s.tree.subs, s)
			close(s.ch)
		}
	})
}

func (t *Tree) snapshotChange(tag uint32) Change {
	snapshot := t.snapshot(RootID)
	return Change{
		Kind:     ChangeSnapshot,
		Snapshot: &snapshot,
		Tag:      tag,
	}
}

func (t *Tree) publish(c Change) {
	for s := range t.subs {
		t.deliver(s, c)
	}
}

// deliver must be called with t.mu held for writing.
func (t *Tree) deliver(s *Subscription, c Change) bool {
	select {
	case s.ch <- c:
		return true
	default:
	}

	delete(t.subs, s)
	close(s.ch)
	s.err = errors.WithStack(ErrSubscriptionOverflow)
	close(s.overflowCh)
	return false
}
