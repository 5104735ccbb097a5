package controller

import (
	"context"

	"github.com/pkg/errors"

	"github.com/outofforest/treecall"
	"github.com/outofforest/treecall/wire"
)

// Caller sends requests and waits for responses, *treecall.Client implements it.
type Caller interface {
	NewRequest(code uint32) *wire.Message
	Call(ctx context.Context, req *wire.Message) (*wire.Message, error)
}

// NewRemote returns controller executing operations on the server.
func NewRemote(caller Caller) Controller {
	return remote{caller: caller}
}

type remote struct {
	caller Caller
}

func (r remote) VoidFn(ctx context.Context) error {
	_, err := r.caller.Call(ctx, r.caller.NewRequest(CodeVoidFn))
	return err
}

func (r remote) IntFn(ctx context.Context, v int32) (int32, error) {
	req := r.caller.NewRequest(CodeIntFn)
	req.AppendInt32(v)

	resp, err := r.caller.Call(ctx, req)
	if err != nil {
		return 0, err
	}

	result, err := resp.ReadInt32()
	if err != nil {
		return 0, errors.Wrapf(treecall.ErrOperation, "IntFn result: %s", err)
	}
	return result, nil
}

func (r remote) StringFn(ctx context.Context, s string) (string, error) {
	req := r.caller.NewRequest(CodeStringFn)
	req.AppendString(s)

	resp, err := r.caller.Call(ctx, req)
	if err != nil {
		return "", err
	}

	result, err := resp.ReadString()
	if err != nil {
		return "", errors.Wrapf(treecall.ErrOperation, "StringFn result: %s", err)
	}
	return result, nil
}
