// Package tree implements the hierarchical key/value state kept in sync between peers.
//
// Nodes are stored in an arena and addressed by NodeID. Every mutation produces a Change
// delivered to all subscriptions, in mutation order.
package tree

import (
	"maps"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/outofforest/treecall/wire"
)

// ErrNodeNotFound is returned when node does not exist.
var ErrNodeNotFound = errors.New("node not found")

// NodeID identifies node inside the tree.
type NodeID uint32

// RootID is the ID of the root node.
const RootID NodeID = 0

// Node is the detached copy of the node and its subtree.
type Node struct {
	Name       string
	Properties map[string]wire.Value
	Children   []Node
}

type node struct {
	name     string
	parent   NodeID
	props    map[string]wire.Value
	children []NodeID
}

// Tree is the hierarchical state. It is safe for concurrent use.
type Tree struct {
	mu    sync.RWMutex
	nodes []node
	subs  map[*Subscription]struct{}
}

// New creates tree with empty root node.
func New(name string) *Tree {
	return &Tree{
		nodes: []node{{name: name, props: map[string]wire.Value{}}},
		subs:  map[*Subscription]struct{}{},
	}
}

// Name returns name of the root node.
func (t *Tree) Name() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.nodes[RootID].name
}

// Root returns ID of the root node.
func (t *Tree) Root() NodeID {
	return RootID
}

// Child returns the first child of parent having the name.
func (t *Tree) Child(parent NodeID, name string) (NodeID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.exists(parent) {
		return 0, false
	}
	return t.child(parent, name)
}

// GetOrCreateChild returns the first child of parent having the name, creating it if absent.
func (t *Tree) GetOrCreateChild(parent NodeID, name string) (NodeID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.exists(parent) {
		return 0, errors.Wrapf(ErrNodeNotFound, "node %d", parent)
	}
	return t.getOrCreateChild(parent, name), nil
}

// Property returns value of node property.
func (t *Tree) Property(id NodeID, name string) (wire.Value, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.exists(id) {
		return wire.Value{}, false
	}
	v, exists := t.nodes[id].props[name]
	return v, exists
}

// SetProperty sets value of node property. Void value removes the property.
func (t *Tree) SetProperty(id NodeID, name string, v wire.Value) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.exists(id) {
		return errors.Wrapf(ErrNodeNotFound, "node %d", id)
	}
	return t.setProperty(id, name, v)
}

// Set sets property addressed by slash-delimited path. Missing nodes on the path are created.
func (t *Tree) Set(path string, v wire.Value) error {
	segments, err := ParsePath(path)
	if err != nil {
		return err
	}
	return t.Apply(Mutation{Path: segments, Value: v})
}

// Get returns property addressed by slash-delimited path.
func (t *Tree) Get(path string) (wire.Value, bool) {
	segments, err := ParsePath(path)
	if err != nil {
		return wire.Value{}, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	id := RootID
	for _, s := range segments[:len(segments)-1] {
		var exists bool
		if id, exists = t.child(id, s); !exists {
			return wire.Value{}, false
		}
	}
	v, exists := t.nodes[id].props[segments[len(segments)-1]]
	return v, exists
}

// Snapshot returns detached copy of the whole tree.
func (t *Tree) Snapshot() Node {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.snapshot(RootID)
}

// ParsePath splits slash-delimited path into segments. Empty segments are rejected.
func ParsePath(path string) ([]string, error) {
	if path == "" {
		return nil, errors.Wrap(wire.ErrDecode, "empty path")
	}
	segments := strings.Split(path, "/")
	for i, s := range segments {
		if s == "" {
			return nil, errors.Wrapf(wire.ErrDecode, "empty segment %d in path %q", i, path)
		}
		if strings.ContainsRune(s, 0) {
			return nil, errors.Wrapf(wire.ErrDecode, "segment %d in path %q contains NUL", i, path)
		}
	}
	return segments, nil
}

func (t *Tree) exists(id NodeID) bool {
	return int(id) < len(t.nodes)
}

func (t *Tree) child(parent NodeID, name string) (NodeID, bool) {
	for _, c := range t.nodes[parent].children {
		if t.nodes[c].name == name {
			return c, true
		}
	}
	return 0, false
}

func (t *Tree) getOrCreateChild(parent NodeID, name string) NodeID {
	if id, exists := t.child(parent, name); exists {
		return id
	}

	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, node{
		name:   name,
		parent: parent,
		props:  map[string]wire.Value{},
	})
	t.nodes[parent].children = append(t.nodes[parent].children, id)

	t.publish(Change{
		Kind: ChangeChildAdded,
		Node: t.indexPath(parent),
		Name: name,
	})
	return id
}

func (t *Tree) setProperty(id NodeID, name string, v wire.Value) error {
	if name == "" {
		return errors.Wrap(wire.ErrDecode, "empty property name")
	}
	if !v.IsValid() {
		return errors.Wrapf(wire.ErrDecode, "invalid value for property %q", name)
	}

	props := t.nodes[id].props
	existing, exists := props[name]
	switch {
	case v.IsVoid():
		if !exists {
			return nil
		}
		delete(props, name)
	case exists && existing == v:
		return nil
	default:
		props[name] = v
	}

	t.publish(Change{
		Kind:  ChangeProperty,
		Node:  t.indexPath(id),
		Name:  name,
		Value: v,
	})
	return nil
}

// indexPath returns positions of the node and its ancestors among their siblings, starting from the root.
func (t *Tree) indexPath(id NodeID) []uint32 {
	var path []uint32
	for id != RootID {
		parent := t.nodes[id].parent
		for i, c := range t.nodes[parent].children {
			if c == id {
				path = append(path, uint32(i))
				break
			}
		}
		id = parent
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

func (t *Tree) resolveIndexPath(path []uint32) (NodeID, error) {
	id := RootID
	for _, i := range path {
		children := t.nodes[id].children
		if int(i) >= len(children) {
			return 0, errors.Wrapf(ErrNodeNotFound, "child %d of node %d", i, id)
		}
		id = children[i]
	}
	return id, nil
}

func (t *Tree) snapshot(id NodeID) Node {
	n := t.nodes[id]
	s := Node{
		Name:       n.name,
		Properties: maps.Clone(n.props),
	}
	if len(n.children) > 0 {
		s.Children = make([]Node, 0, len(n.children))
		for _, c := range n.children {
			s.Children = append(s.Children, t.snapshot(c))
		}
	}
	return s
}

func (t *Tree) load(s Node) {
	t.nodes = t.nodes[:0]
	t.loadNode(s, RootID)
}

func (t *Tree) loadNode(s Node, parent NodeID) NodeID {
	id := NodeID(len(t.nodes))
	props := maps.Clone(s.Properties)
	if props == nil {
		props = map[string]wire.Value{}
	}
	t.nodes = append(t.nodes, node{
		name:   s.Name,
		parent: parent,
		props:  props,
	})
	for _, c := range s.Children {
		childID := t.loadNode(c, id)
		t.nodes[id].children = append(t.nodes[id].children, childID)
	}
	return id
}
