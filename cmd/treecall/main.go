package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/outofforest/treecall"
	"github.com/outofforest/treecall/controller"
	"github.com/outofforest/treecall/tree"
)

const usage = `Treecall demo.

Usage:
    treecall server [--listen=<addr>] [--ticks=<ticks>]
    treecall client [--server=<addr>] [--value=<value>] [--text=<text>] [--calls=<calls>]

Options:
    -h --help          Show this screen.
    --listen=<addr>    Address to listen on [default: localhost:8765].
    --server=<addr>    Address of the server [default: localhost:8765].
    --ticks=<ticks>    Seconds between modifications of the first tree [default: 15].
    --value=<value>    Argument of IntFn [default: 21].
    --text=<text>      Argument of StringFn [default: time].
    --calls=<calls>    Number of call rounds, 0 means forever [default: 0].`

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], "")
	if err != nil {
		panic(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := logger.New(logger.DefaultConfig)
	ctx = logger.WithLogger(ctx, log)

	if server, _ := opts.Bool("server"); server {
		err = runServer(ctx, opts)
	} else {
		err = runClient(ctx, opts)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Application failed", zap.Error(err))
		os.Exit(1)
	}
}

func runServer(ctx context.Context, opts docopt.Opts) error {
	addr, _ := opts.String("--listen")
	ticks, err := opts.Int("--ticks")
	if err != nil || ticks <= 0 {
		return errors.Errorf("invalid ticks: %v", opts["--ticks"])
	}

	tree1, tree2 := controller.NewDemoTrees()
	server, err := treecall.NewServer(treecall.ServerConfig{
		Handlers:      controller.Handlers(controller.Demo{}),
		Trees:         controller.TreeConfigs(tree1, tree2),
		HeartbeatCode: controller.CodeTimerAlert,
	})
	if err != nil {
		return err
	}

	ls, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.WithStack(err)
	}
	defer ls.Close()

	logger.Get(ctx).Info("Server started", zap.Stringer("address", ls.Addr()))

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("server", parallel.Fail, func(ctx context.Context) error {
			return server.Run(ctx, ls)
		})
		spawn("ticker", parallel.Fail, func(ctx context.Context) error {
			return controller.RunDemoTicker(ctx, tree1, time.Second, uint64(ticks))
		})
		return nil
	})
}

func runClient(ctx context.Context, opts docopt.Opts) error {
	addr, _ := opts.String("--server")
	text, _ := opts.String("--text")
	value, err := opts.Int("--value")
	if err != nil {
		return errors.Errorf("invalid value: %v", opts["--value"])
	}
	calls, err := opts.Int("--calls")
	if err != nil || calls < 0 {
		return errors.Errorf("invalid calls: %v", opts["--calls"])
	}

	client, pushCh, err := treecall.NewClient(treecall.ClientConfig{
		Server: addr,
		Trees:  []uint32{controller.CodeTree1Update, controller.CodeTree2Update},
	})
	if err != nil {
		return err
	}

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("client", parallel.Fail, client.Run)
		spawn("pushes", parallel.Fail, func(ctx context.Context) error {
			log := logger.Get(ctx)
			for push := range pushCh {
				log.Debug("Push received", zap.Uint32("code", push.Code()))
			}
			return errors.WithStack(ctx.Err())
		})
		spawn("tree", parallel.Fail, func(ctx context.Context) error {
			return logTree(ctx, client.Tree(controller.CodeTree1Update))
		})
		spawn("calls", parallel.Exit, func(ctx context.Context) error {
			return runCalls(ctx, client, int32(value), text, calls)
		})
		return nil
	})
}

func runCalls(ctx context.Context, client *treecall.Client, value int32, text string, calls int) error {
	log := logger.Get(ctx)
	c := controller.NewRemote(client)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for i := 0; calls == 0 || i < calls; i++ {
		if err := client.WaitConnected(ctx); err != nil {
			return err
		}

		if err := c.VoidFn(ctx); err != nil {
			log.Warn("VoidFn failed", zap.Error(err))
		}
		if v, err := c.IntFn(ctx, value); err != nil {
			log.Warn("IntFn failed", zap.Error(err))
		} else {
			log.Info("IntFn returned", zap.Int32("arg", value), zap.Int32("result", v))
		}
		if s, err := c.StringFn(ctx, text); err != nil {
			log.Warn("StringFn failed", zap.Error(err))
		} else {
			log.Info("StringFn returned", zap.String("result", s))
		}

		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func logTree(ctx context.Context, t *tree.Tree) error {
	log := logger.Get(ctx)

	for {
		if err := followTree(ctx, t); err != nil {
			return err
		}
		log.Warn("Tree log fell behind, resubscribing")
	}
}

func followTree(ctx context.Context, t *tree.Tree) error {
	log := logger.Get(ctx)

	sub := t.Subscribe(16, false)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case c, ok := <-sub.Changes():
			if !ok {
				if errors.Is(sub.Err(), tree.ErrSubscriptionOverflow) {
					return nil
				}
				return errors.WithStack(tree.ErrSubscriptionClosed)
			}
			if c.Kind != tree.ChangeProperty {
				continue
			}
			log.Info("Tree changed", zap.String("property", c.Name), zap.Stringer("value", c.Value))
		}
	}
}
