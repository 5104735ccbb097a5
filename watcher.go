package treecall

import (
	"context"

	"github.com/pkg/errors"

	"github.com/outofforest/treecall/tree"
	"github.com/outofforest/treecall/wire"
)

// watcher pushes changes of one tree to one connection.
type watcher struct {
	code uint32
	sub  *tree.Subscription
	conn *serverConn
}

func newWatcher(code uint32, sub *tree.Subscription, conn *serverConn) *watcher {
	return &watcher{
		code: code,
		sub:  sub,
		conn: conn,
	}
}

// Run forwards changes until subscription is closed.
// Changes go out as pushes unless they are snapshots requested by a call.
func (w *watcher) Run(ctx context.Context) error {
	defer w.sub.Close()

	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case c, ok := <-w.sub.Changes():
			if !ok {
				return w.sub.Err()
			}

			msg := wire.NewMessage(w.code, c.Tag)
			tree.EncodeChange(msg, c)
			if err := w.conn.Send(msg); err != nil {
				return err
			}
		}
	}
}

// Guard returns error once the subscription is evicted for not keeping up with the tree.
// It runs next to Run, which may be stuck sending to the peer then.
func (w *watcher) Guard(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-w.sub.Overflow():
		return errors.Wrapf(w.sub.Err(), "watcher of tree %d", w.code)
	}
}

// RequestSnapshot makes watcher send the full tree as a response to the call with the sequence.
func (w *watcher) RequestSnapshot(seq uint32) error {
	return w.sub.RequestSnapshot(seq)
}

// Close detaches watcher from the tree.
func (w *watcher) Close() {
	w.sub.Close()
}
