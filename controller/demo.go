package controller

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/treecall"
	"github.com/outofforest/treecall/tree"
	"github.com/outofforest/treecall/wire"
)

// Demo is the controller used by the demo server.
type Demo struct{}

// VoidFn does nothing.
func (Demo) VoidFn(ctx context.Context) error {
	logger.Get(ctx).Info("VoidFn called")
	return nil
}

// IntFn doubles the argument.
func (Demo) IntFn(ctx context.Context, v int32) (int32, error) {
	return v * 2, nil
}

// StringFn returns current time.
func (Demo) StringFn(ctx context.Context, s string) (string, error) {
	return time.Now().Format(time.DateTime + ".000"), nil
}

// NewDemoTrees creates trees served by the demo server.
func NewDemoTrees() (*tree.Tree, *tree.Tree) {
	tree1 := tree.New("tree1")
	must(tree1.Set("count", wire.Int32(0)))
	must(tree1.Set("sub/text", wire.String("THIS IS A STRING")))

	tree2 := tree.New("tree2")
	must(tree2.Set("count", wire.Int32(0)))

	return tree1, tree2
}

// TreeConfigs binds demo trees to their codes.
func TreeConfigs(tree1, tree2 *tree.Tree) []treecall.TreeConfig {
	return []treecall.TreeConfig{
		{Tree: tree1, SetCode: CodeTree1Set, UpdateCode: CodeTree1Update},
		{Tree: tree2, SetCode: CodeTree2Set, UpdateCode: CodeTree2Update},
	}
}

// RunDemoTicker modifies the tree on every ticks-th tick.
func RunDemoTicker(ctx context.Context, t *tree.Tree, interval time.Duration, ticks uint64) error {
	log := logger.Get(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var counter uint64
	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-ticker.C:
		}

		counter++
		if counter%ticks != 0 {
			continue
		}

		count, err := Tick(t)
		if err != nil {
			return err
		}
		log.Debug("Demo tree modified", zap.Int32("count", count))
	}
}

// Tick increments count, updates even flag and rewrites sub/text.
func Tick(t *tree.Tree) (int32, error) {
	var count int32
	if v, exists := t.Get("count"); exists {
		count, _ = v.Int32()
	}
	count++

	if err := t.Set("sub/text", wire.String(fmt.Sprintf("*** %d ***", rand.Int32()))); err != nil {
		return 0, err
	}
	if err := t.Set("count", wire.Int32(count)); err != nil {
		return 0, err
	}
	if err := t.Set("even", wire.Bool(count%2 == 0)); err != nil {
		return 0, err
	}
	return count, nil
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
