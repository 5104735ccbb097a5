package treecall

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/treecall/pending"
	"github.com/outofforest/treecall/wire"
)

// DefaultCallTimeout is used when call timeout is not set.
const DefaultCallTimeout = 50 * time.Second

// SendFunc sends raw message to the peer.
type SendFunc func(raw []byte) error

// Bridge turns asynchronous delivery of messages into blocking calls.
type Bridge struct {
	send    SendFunc
	pending *pending.Table
}

// NewBridge creates bridge sending requests using send.
func NewBridge(send SendFunc) *Bridge {
	return &Bridge{
		send:    send,
		pending: pending.NewTable(),
	}
}

// Call sends request and blocks until response arrives, timeout expires or context is canceled.
// Returned response has its cursor set to the beginning of the payload.
func (b *Bridge) Call(ctx context.Context, req *wire.Message, timeout time.Duration) (*wire.Message, error) {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	code, seq, err := req.ReadEnvelope()
	if err != nil {
		return nil, err
	}
	if seq == 0 {
		return nil, errors.Wrapf(ErrSequence, "request %d has sequence reserved for pushes", code)
	}

	call := pending.NewCall(seq)
	b.pending.Append(call)
	defer b.pending.Remove(call)

	if err := b.send(req.Bytes()); err != nil {
		if errors.Is(err, ErrConnection) {
			return nil, err
		}
		return nil, errors.Wrapf(ErrConnection, "sending request %d: %s", code, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	case <-timer.C:
		return nil, errors.Wrapf(ErrTimeout, "request %d, sequence %d", code, seq)
	case <-call.Done():
	}

	resp := wire.MessageFromBytes(call.Response())
	respCode, _, err := resp.ReadEnvelope()
	if err != nil {
		return nil, err
	}
	if wire.IsException(respCode) {
		return nil, exceptionError(resp)
	}
	return resp, nil
}

// Deliver routes received message. Responses wake their callers, pushes (sequence 0) are returned
// with cursor set to the payload. Responses nobody waits for are dropped.
func (b *Bridge) Deliver(ctx context.Context, raw []byte) (*wire.Message, error) {
	m := wire.MessageFromBytes(raw)
	code, seq, err := m.ReadEnvelope()
	if err != nil {
		return nil, err
	}

	if seq == 0 {
		return m, nil
	}

	call, exists := b.pending.FindBySequence(seq)
	if !exists {
		logger.Get(ctx).Warn("Unexpected response dropped",
			zap.Uint32("code", code),
			zap.Uint32("sequence", seq),
			zap.Error(ErrSequence))
		return nil, nil
	}
	call.Signal(m.Bytes())
	return nil, nil
}

// Pending returns the number of calls waiting for responses.
func (b *Bridge) Pending() int {
	return b.pending.Size()
}
