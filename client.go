package treecall

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/outofforest/resonance"
	"github.com/outofforest/treecall/tree"
	"github.com/outofforest/treecall/wire"
)

// ClientConfig is the config of client.
type ClientConfig struct {
	Server         string
	MaxMessageSize uint64
	CallTimeout    time.Duration
	RetryInterval  time.Duration

	// Trees are update codes of server trees replicated by the client.
	Trees []uint32

	// Sequencer allocates sequences of requests, process-wide sequencer is used if nil.
	Sequencer *wire.Sequencer
}

// Client calls operations on the server and keeps replicas of the server trees.
type Client struct {
	config   ClientConfig
	clientID wire.PeerID
	nextSeq  func() uint32
	bridge   *Bridge
	trees    map[uint32]*tree.Tree
	pushCh   chan *wire.Message

	mu          sync.Mutex
	conn        *resonance.Connection
	connectedCh chan struct{}
}

// NewClient creates new client. Pushes not consumed by replicas are delivered to the returned channel.
// Receiving is never blocked by the channel, pushes arriving when it is full are dropped.
func NewClient(config ClientConfig) (*Client, <-chan *wire.Message, error) {
	if config.Server == "" {
		return nil, nil, errors.New("no server specified")
	}
	if config.MaxMessageSize == 0 {
		config.MaxMessageSize = defaultMaxMessageSize
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultCallTimeout
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = defaultRetryInterval
	}

	trees := map[uint32]*tree.Tree{}
	for _, code := range config.Trees {
		if !wire.IsPush(code) {
			return nil, nil, errors.Errorf("tree code %d is not a push code", code)
		}
		trees[code] = tree.New("")
	}

	clientID, err := peerID()
	if err != nil {
		return nil, nil, err
	}

	nextSeq := wire.NextSequence
	if config.Sequencer != nil {
		nextSeq = config.Sequencer.Next
	}

	pushCh := make(chan *wire.Message, defaultPushBuffer)
	client := &Client{
		config:      config,
		clientID:    clientID,
		nextSeq:     nextSeq,
		trees:       trees,
		pushCh:      pushCh,
		connectedCh: make(chan struct{}),
	}
	client.bridge = NewBridge(client.send)

	return client, pushCh, nil
}

// Run runs client. Connection is reestablished until context is canceled.
func (client *Client) Run(ctx context.Context) error {
	defer close(client.pushCh)

	log := logger.Get(ctx)
	connConfig := resonance.Config{
		MaxMessageSize: client.config.MaxMessageSize,
	}
	limiter := rate.NewLimiter(rate.Every(client.config.RetryInterval), 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return errors.WithStack(ctx.Err())
		}

		err := resonance.RunClient(ctx, client.config.Server, connConfig, client.runConn)
		if ctx.Err() != nil {
			return errors.WithStack(ctx.Err())
		}

		log.Error("Connection failed", zap.String("server", client.config.Server), zap.Error(err))
	}
}

// NewRequest creates request message with fresh sequence.
func (client *Client) NewRequest(code uint32) *wire.Message {
	return wire.NewMessage(code, client.nextSeq())
}

// Call sends request and waits for the response.
func (client *Client) Call(ctx context.Context, req *wire.Message) (*wire.Message, error) {
	return client.bridge.Call(ctx, req, client.config.CallTimeout)
}

// Tree returns replica of the server tree pushed under the code.
func (client *Client) Tree(code uint32) *tree.Tree {
	return client.trees[code]
}

// RequestSnapshot fetches the full tree and replaces the replica with it.
func (client *Client) RequestSnapshot(ctx context.Context, code uint32) error {
	t, exists := client.trees[code]
	if !exists {
		return errors.Errorf("tree %d is not replicated", code)
	}

	resp, err := client.Call(ctx, client.NewRequest(code))
	if err != nil {
		return err
	}
	if resp.Remaining() == 0 {
		return errors.Wrapf(ErrOperation, "tree %d is not watched by server", code)
	}

	change, err := tree.DecodeChange(resp)
	if err != nil {
		return err
	}
	return t.ApplyChange(change)
}

// SetProperty requests server to set property addressed by path in the tree modified by the code.
// It returns once server acknowledged the request, change arrives to the replica afterwards.
func (client *Client) SetProperty(ctx context.Context, code uint32, path string, v wire.Value) error {
	if _, err := tree.ParsePath(path); err != nil {
		return errors.Wrapf(ErrParameter, "invalid path %q: %s", path, err)
	}
	if s, ok := v.Str(); ok && strings.ContainsRune(s, 0) {
		return errors.Wrapf(ErrParameter, "value of %q contains NUL", path)
	}

	req := client.NewRequest(code)
	tree.EncodeSet(req, path, v)
	_, err := client.Call(ctx, req)
	return err
}

// Connected reports whether client is connected now.
func (client *Client) Connected() bool {
	client.mu.Lock()
	defer client.mu.Unlock()

	return client.conn != nil
}

// WaitConnected blocks until client is connected.
func (client *Client) WaitConnected(ctx context.Context) error {
	client.mu.Lock()
	ch := client.connectedCh
	client.mu.Unlock()

	select {
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	case <-ch:
		return nil
	}
}

func (client *Client) send(raw []byte) error {
	client.mu.Lock()
	defer client.mu.Unlock()

	if client.conn == nil {
		return errors.Wrap(ErrConnection, "not connected")
	}
	if err := client.conn.SendBytes(raw); err != nil {
		return errors.Wrap(ErrConnection, err.Error())
	}
	return nil
}

func (client *Client) attach(c *resonance.Connection) {
	client.mu.Lock()
	defer client.mu.Unlock()

	client.conn = c
	close(client.connectedCh)
}

func (client *Client) detach(c *resonance.Connection) {
	client.mu.Lock()
	defer client.mu.Unlock()

	if client.conn == c {
		client.conn = nil
		client.connectedCh = make(chan struct{})
	}
}

func (client *Client) runConn(ctx context.Context, c *resonance.Connection) error {
	m := wire.NewMarshaller()

	trees := make([]wire.TreeCode, 0, len(client.config.Trees))
	for _, code := range client.config.Trees {
		trees = append(trees, wire.TreeCode(code))
	}

	if err := c.SendProton(&wire.Hello{
		PeerID: client.clientID,
		Trees:  trees,
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
	if !helloMsg.IsServer {
		return errors.New("server expected")
	}

	client.attach(c)
	defer client.detach(c)

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("receiver", parallel.Fail, func(ctx context.Context) error {
			defer client.detach(c)

			for {
				raw, err := c.ReceiveBytes()
				if err != nil {
					return err
				}
				if err := client.receive(ctx, raw); err != nil {
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

func (client *Client) receive(ctx context.Context, raw []byte) error {
	log := logger.Get(ctx)

	push, err := client.bridge.Deliver(ctx, raw)
	if err != nil {
		log.Warn("Malformed message dropped", zap.Error(err))
		return nil
	}
	if push == nil {
		return nil
	}

	if t, exists := client.trees[push.Code()]; exists {
		change, err := tree.DecodeChange(push)
		if err == nil {
			err = t.ApplyChange(change)
		}
		if err != nil {
			log.Warn("Tree change rejected", zap.Uint32("code", push.Code()), zap.Error(err))
		}
		return nil
	}

	select {
	case client.pushCh <- push:
	default:
		log.Warn("Push dropped, channel is full", zap.Uint32("code", push.Code()))
	}
	return nil
}
