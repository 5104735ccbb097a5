package treecall

import (
	"crypto/rand"
	"time"

	"github.com/pkg/errors"

	"github.com/outofforest/treecall/wire"
)

const (
	defaultMaxMessageSize    = 1024 * 1024
	defaultRetryInterval     = time.Second
	defaultHeartbeatInterval = time.Second
	defaultSweepInterval     = 10 * time.Second
	defaultWatchBuffer       = 128
	defaultPushBuffer        = 128
)

func peerID() (wire.PeerID, error) {
	var id wire.PeerID
	_, err := rand.Read(id[:])
	if err != nil {
		return wire.PeerID{}, errors.WithStack(err)
	}
	return id, nil
}

func exceptionResponse(seq uint32, err error) *wire.Message {
	resp := wire.NewMessage(exceptionCode(err), seq)
	resp.AppendString(err.Error())
	return resp
}
