package controller

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/treecall"
	"github.com/outofforest/treecall/wire"
)

// Codes used by the demo.
const (
	CodeVoidFn   uint32 = 1
	CodeIntFn    uint32 = 2
	CodeStringFn uint32 = 3

	CodeTree1Set uint32 = wire.MutationBase
	CodeTree2Set uint32 = wire.MutationBase + 1

	CodeTimerAlert  uint32 = wire.PushBase
	CodeTree1Update uint32 = wire.PushBase + 1
	CodeTree2Update uint32 = wire.PushBase + 2
)

// Controller is the set of operations exposed by the server.
type Controller interface {
	VoidFn(ctx context.Context) error
	IntFn(ctx context.Context, v int32) (int32, error)
	StringFn(ctx context.Context, s string) (string, error)
}

// Handlers binds operations of the controller to their codes.
func Handlers(c Controller) map[uint32]treecall.Handler {
	return map[uint32]treecall.Handler{
		CodeVoidFn: func(ctx context.Context, req, resp *wire.Message) error {
			return c.VoidFn(ctx)
		},
		CodeIntFn: func(ctx context.Context, req, resp *wire.Message) error {
			arg, err := req.ReadInt32()
			if err != nil {
				return errors.Wrapf(treecall.ErrParameter, "IntFn argument: %s", err)
			}
			logger.Get(ctx).Debug("IntFn called", zap.Int32("arg", arg))

			v, err := c.IntFn(ctx, arg)
			if err != nil {
				return err
			}
			resp.AppendInt32(v)
			return nil
		},
		CodeStringFn: func(ctx context.Context, req, resp *wire.Message) error {
			arg, err := req.ReadString()
			if err != nil {
				return errors.Wrapf(treecall.ErrParameter, "StringFn argument: %s", err)
			}
			logger.Get(ctx).Debug("StringFn called", zap.String("arg", arg))

			v, err := c.StringFn(ctx, arg)
			if err != nil {
				return err
			}
			resp.AppendString(v)
			return nil
		},
	}
}
