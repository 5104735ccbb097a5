package treecall

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/outofforest/parallel"
	"github.com/outofforest/qa"
	"github.com/outofforest/treecall/wire"
)

// echoPeer answers every request asynchronously with response carrying the same sequence.
type echoPeer struct {
	bridge *Bridge
	ctx    context.Context
	reply  func(req *wire.Message) *wire.Message
}

func (p *echoPeer) send(raw []byte) error {
	req := wire.MessageFromBytes(raw)
	if _, _, err := req.ReadEnvelope(); err != nil {
		return err
	}
	resp := p.reply(req)
	if resp == nil {
		return nil
	}

	go func() {
		_, _ = p.bridge.Deliver(p.ctx, resp.Bytes())
	}()
	return nil
}

func newEchoBridge(ctx context.Context, reply func(req *wire.Message) *wire.Message) *Bridge {
	p := &echoPeer{ctx: ctx, reply: reply}
	p.bridge = NewBridge(p.send)
	return p.bridge
}

func TestCallReturnsMatchingResponse(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	b := newEchoBridge(ctx, func(req *wire.Message) *wire.Message {
		v, err := req.ReadInt32()
		if err != nil {
			return nil
		}
		resp := wire.NewMessage(req.Code(), req.Sequence())
		resp.AppendInt32(v * 2)
		return resp
	})

	req := wire.NewMessage(2, 7)
	req.AppendInt32(21)

	resp, err := b.Call(ctx, req, time.Second)
	requireT.NoError(err)
	requireT.EqualValues(2, resp.Code())
	requireT.EqualValues(7, resp.Sequence())

	v, err := resp.ReadInt32()
	requireT.NoError(err)
	requireT.EqualValues(42, v)
	requireT.Zero(b.Pending())
}

func TestConcurrentCallsAreNotCrossDelivered(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	const calls = 64

	b := newEchoBridge(ctx, func(req *wire.Message) *wire.Message {
		resp := wire.NewMessage(req.Code(), req.Sequence())
		resp.AppendUint32(req.Sequence())
		return resp
	})
	seq := wire.NewSequencer(0)

	err := parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		for range calls {
			spawn("call", parallel.Continue, func(ctx context.Context) error {
				req := wire.NewMessage(1, seq.Next())
				resp, err := b.Call(ctx, req, 5*time.Second)
				if err != nil {
					return err
				}
				echoed, err := resp.ReadUint32()
				if err != nil {
					return err
				}
				if echoed != req.Sequence() {
					return errors.Errorf("response %d delivered to call %d", echoed, req.Sequence())
				}
				return nil
			})
		}
		return nil
	})
	requireT.NoError(err)
	requireT.Zero(b.Pending())
}

func TestCallTimeoutRemovesPendingCall(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	b := newEchoBridge(ctx, func(req *wire.Message) *wire.Message {
		return nil
	})

	_, err := b.Call(ctx, wire.NewMessage(1, 5), 20*time.Millisecond)
	requireT.ErrorIs(err, ErrTimeout)
	requireT.Zero(b.Pending())

	// Late response is dropped.
	push, err := b.Deliver(ctx, wire.NewMessage(1, 5).Bytes())
	requireT.NoError(err)
	requireT.Nil(push)
}

func TestCallCanceledByContext(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	b := newEchoBridge(ctx, func(req *wire.Message) *wire.Message {
		return nil
	})

	callCtx, cancel := context.WithCancel(ctx)
	cancel()

	_, err := b.Call(callCtx, wire.NewMessage(1, 5), time.Minute)
	requireT.ErrorIs(err, context.Canceled)
	requireT.Zero(b.Pending())
}

func TestSendFailureIsConnectionError(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	b := NewBridge(func(raw []byte) error {
		return errors.New("broken pipe")
	})

	_, err := b.Call(ctx, wire.NewMessage(1, 3), time.Second)
	requireT.ErrorIs(err, ErrConnection)
	requireT.Zero(b.Pending())
}

func TestCallRejectsPushSequence(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	b := NewBridge(func(raw []byte) error {
		return nil
	})

	_, err := b.Call(ctx, wire.NewMessage(1, 0), time.Second)
	requireT.ErrorIs(err, ErrSequence)
}

func TestExceptionResponseBecomesError(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	b := newEchoBridge(ctx, func(req *wire.Message) *wire.Message {
		return exceptionResponse(req.Sequence(), errors.Wrap(ErrParameter, "negative value"))
	})

	_, err := b.Call(ctx, wire.NewMessage(2, 9), time.Second)
	requireT.ErrorIs(err, ErrParameter)
	requireT.Contains(err.Error(), "negative value")
}

func TestDeliverReturnsPush(t *testing.T) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	b := NewBridge(func(raw []byte) error {
		return nil
	})

	msg := wire.NewMessage(wire.PushBase, 0)
	msg.AppendString("alive")

	push, err := b.Deliver(ctx, msg.Bytes())
	requireT.NoError(err)
	requireT.NotNil(push)
	requireT.EqualValues(wire.PushBase, push.Code())

	s, err := push.ReadString()
	requireT.NoError(err)
	requireT.Equal("alive", s)

	_, err = b.Deliver(ctx, []byte{0x01, 0x02})
	requireT.ErrorIs(err, wire.ErrDecode)
}

func TestExceptionCodes(t *testing.T) {
	requireT := require.New(t)

	requireT.Equal(wire.CodeParameterError, exceptionCode(errors.Wrap(ErrParameter, "x")))
	requireT.Equal(wire.CodeDecodeError, exceptionCode(errors.WithStack(wire.ErrDecode)))
	requireT.Equal(wire.CodeUnknownMethod, exceptionCode(ErrUnknownMethod))
	requireT.Equal(wire.CodeOperationError, exceptionCode(errors.New("anything")))
}

// recordingSender collects messages sent on the connection.
type recordingSender struct {
	mu   sync.Mutex
	sent []*wire.Message
	err  error
}

func (s *recordingSender) SendBytes(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	m := wire.MessageFromBytes(b)
	if _, _, err := m.ReadEnvelope(); err != nil {
		return err
	}
	s.sent = append(s.sent, m)
	return nil
}

func (s *recordingSender) Sent() []*wire.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*wire.Message{}, s.sent...)
}
