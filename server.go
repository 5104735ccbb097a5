package treecall

import (
	"context"
	"math"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/outofforest/resonance"
	"github.com/outofforest/treecall/tree"
	"github.com/outofforest/treecall/wire"
)

// TreeConfig binds tree to the codes used to synchronize it.
type TreeConfig struct {
	Tree *tree.Tree

	// SetCode is the code of requests setting properties of the tree, 0 if clients can't modify it.
	SetCode uint32

	// UpdateCode is the code under which changes are pushed and full tree is requested.
	UpdateCode uint32
}

// ServerConfig defines server configuration.
type ServerConfig struct {
	MaxMessageSize    uint64
	Handlers          map[uint32]Handler
	Trees             []TreeConfig
	HeartbeatCode     uint32
	HeartbeatInterval time.Duration
	SweepInterval     time.Duration
	WatchBuffer       int
}

// Server executes operations requested by clients and keeps their trees in sync.
type Server struct {
	config   ServerConfig
	serverID wire.PeerID
	trees    map[uint32]TreeConfig
	conns    *serverConns
}

// NewServer creates new server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = defaultMaxMessageSize
	}
	if config.HeartbeatCode == 0 {
		config.HeartbeatCode = wire.PushBase
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = defaultHeartbeatInterval
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaultSweepInterval
	}
	if config.WatchBuffer <= 0 {
		config.WatchBuffer = defaultWatchBuffer
	}

	if !wire.IsPush(config.HeartbeatCode) {
		return nil, errors.Errorf("heartbeat code %d is not a push code", config.HeartbeatCode)
	}
	for code := range config.Handlers {
		if !wire.IsCall(code) {
			return nil, errors.Errorf("handler code %d is not a call code", code)
		}
	}

	trees := map[uint32]TreeConfig{}
	for _, t := range config.Trees {
		if t.Tree == nil {
			return nil, errors.Errorf("tree for update code %d is nil", t.UpdateCode)
		}
		if t.SetCode != 0 && !wire.IsMutation(t.SetCode) {
			return nil, errors.Errorf("set code %d is not a mutation code", t.SetCode)
		}
		if !wire.IsPush(t.UpdateCode) || t.UpdateCode == config.HeartbeatCode {
			return nil, errors.Errorf("update code %d is not a free push code", t.UpdateCode)
		}
		if _, exists := trees[t.UpdateCode]; exists {
			return nil, errors.Errorf("update code %d is used twice", t.UpdateCode)
		}
		trees[t.UpdateCode] = t
	}

	serverID, err := peerID()
	if err != nil {
		return nil, err
	}

	return &Server{
		config:   config,
		serverID: serverID,
		trees:    trees,
		conns:    newServerConns(),
	}, nil
}

// Run runs server.
func (s *Server) Run(ctx context.Context, ls net.Listener) error {
	connConfig := resonance.Config{
		MaxMessageSize: s.config.MaxMessageSize,
	}

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("server", parallel.Fail, func(ctx context.Context) error {
			return resonance.RunServer(ctx, ls, connConfig, s.runConn)
		})
		spawn("sweep", parallel.Fail, s.runSweep)

		return nil
	})
}

// ConnCount returns the number of connections not evicted yet.
func (s *Server) ConnCount() int {
	return s.conns.Len()
}

func (s *Server) runConn(ctx context.Context, c *resonance.Connection) error {
	conn := newServerConn(c)
	s.conns.Add(conn)
	defer conn.Disconnect()

	log := logger.Get(ctx).With(zap.Stringer("conn", conn.ID))
	ctx = logger.WithLogger(ctx, log)

	m := wire.NewMarshaller()

	if err := c.SendProton(&wire.Hello{
		PeerID:   s.serverID,
		IsServer: true,
	}, m); err != nil {
		return err
	}

	msg, err := c.ReceiveProton(m)
	if err != nil {
		return err
	}

	helloMsg, ok := msg.(*wire.Hello)
	if !ok {
		return errors.New("hello message expected")
	}
	if helloMsg.IsServer {
		return errors.New("client expected")
	}

	if err := conn.MarkConnected(); err != nil {
		return err
	}
	log.Debug("Client connected", zap.Int("trees", len(helloMsg.Trees)))

	d := newDispatcher(conn, s.config.Handlers, s.config.Trees)

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		for _, code := range helloMsg.Trees {
			t, exists := s.trees[treeCode(code)]
			if !exists {
				log.Warn("Client requested unknown tree", zap.Uint64("code", uint64(code)))
				continue
			}

			w, err := conn.Watch(t.UpdateCode, t.Tree, s.config.WatchBuffer)
			if err != nil {
				return err
			}
			spawn("watcher", parallel.Continue, w.Run)
			spawn("guard", parallel.Continue, w.Guard)
		}

		spawn("heartbeat", parallel.Fail, func(ctx context.Context) error {
			return s.runHeartbeat(ctx, conn)
		})

		spawn("receiver", parallel.Fail, func(ctx context.Context) error {
			defer conn.Disconnect()

			for {
				raw, err := c.ReceiveBytes()
				if err != nil {
					return err
				}
				if err := d.Dispatch(ctx, raw); err != nil {
					return err
				}
			}
		})
		spawn("closer", parallel.Fail, func(ctx context.Context) error {
			<-ctx.Done()
			c.Close()
			return errors.WithStack(ctx.Err())
		})

		return nil
	})
}

func (s *Server) runHeartbeat(ctx context.Context, conn *serverConn) error {
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-ticker.C:
		}

		if err := conn.Send(wire.NewMessage(s.config.HeartbeatCode, 0)); err != nil {
			return err
		}
	}
}

func (s *Server) runSweep(ctx context.Context) error {
	log := logger.Get(ctx)

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-ticker.C:
		}

		if evicted := s.conns.Sweep(); evicted > 0 {
			log.Debug("Disconnected clients evicted", zap.Int("count", evicted),
				zap.Int("connected", len(s.conns.Connected())))
		}
	}
}

func treeCode(code wire.TreeCode) uint32 {
	if code > math.MaxUint32 {
		return 0
	}
	return uint32(code)
}
