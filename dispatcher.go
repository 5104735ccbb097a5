package treecall

import (
	"context"

	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/treecall/tree"
	"github.com/outofforest/treecall/wire"
)

// Handler executes operation bound to a code. Arguments are read from req, whose cursor points to
// the payload, and results are appended to resp.
type Handler func(ctx context.Context, req, resp *wire.Message) error

// dispatcher routes messages received on one connection.
type dispatcher struct {
	conn         *serverConn
	handlers     map[uint32]Handler
	mutableTrees map[uint32]*tree.Tree
	watchedTrees map[uint32]*tree.Tree
}

func newDispatcher(conn *serverConn, handlers map[uint32]Handler, trees []TreeConfig) *dispatcher {
	d := &dispatcher{
		conn:         conn,
		handlers:     handlers,
		mutableTrees: map[uint32]*tree.Tree{},
		watchedTrees: map[uint32]*tree.Tree{},
	}
	for _, t := range trees {
		if t.SetCode != 0 {
			d.mutableTrees[t.SetCode] = t.Tree
		}
		if t.UpdateCode != 0 {
			d.watchedTrees[t.UpdateCode] = t.Tree
		}
	}
	return d
}

// Dispatch handles one request. Exactly one response is sent for every request, either directly
// or, for snapshot requests, by the watcher. Returned error means connection is broken.
func (d *dispatcher) Dispatch(ctx context.Context, raw []byte) error {
	log := logger.Get(ctx)

	req := wire.MessageFromBytes(raw)
	code, seq, err := req.ReadEnvelope()
	if err != nil {
		log.Warn("Malformed message dropped", zap.Error(err))
		return nil
	}

	resp := wire.NewMessage(code, seq)

	if _, exists := d.watchedTrees[code]; exists {
		w, exists := d.conn.Watcher(code)
		if !exists {
			log.Warn("Snapshot requested for tree not watched by connection", zap.Uint32("code", code))
			return d.conn.Send(resp)
		}
		if err := w.RequestSnapshot(seq); err != nil {
			log.Warn("Snapshot request not queued", zap.Uint32("code", code), zap.Error(err))
			return d.conn.Send(resp)
		}
		return nil
	}

	if t, exists := d.mutableTrees[code]; exists {
		mutation, err := tree.DecodeSet(req)
		if err != nil {
			log.Warn("Malformed mutation rejected", zap.Uint32("code", code), zap.Error(err))
			return d.conn.Send(exceptionResponse(seq, err))
		}

		// Acknowledgement goes out before changes caused by the mutation are pushed.
		if err := d.conn.Send(resp); err != nil {
			return err
		}
		if err := t.Apply(mutation); err != nil {
			log.Warn("Mutation failed", zap.Uint32("code", code), zap.Strings("path", mutation.Path),
				zap.Error(err))
		}
		return nil
	}

	if h, exists := d.handlers[code]; exists {
		if err := h(ctx, req, resp); err != nil {
			log.Warn("Operation failed", zap.Uint32("code", code), zap.Error(err))
			resp = exceptionResponse(seq, err)
		}
		return d.conn.Send(resp)
	}

	log.Warn("Unknown message code", zap.Uint32("code", code), zap.Uint32("sequence", seq),
		zap.Error(ErrUnknownMethod))
	return d.conn.Send(resp)
}
