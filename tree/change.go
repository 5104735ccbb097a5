package tree

import (
	"slices"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/outofforest/treecall/wire"
)

// ChangeKind is the type of the change.
type ChangeKind uint32

// Change kinds. Numbers are part of the wire format.
const (
	ChangeSnapshot ChangeKind = iota + 1
	ChangeProperty
	ChangeChildAdded
)

// Change describes a single modification of the tree.
type Change struct {
	Kind ChangeKind

	// Node is the path of child indexes leading from the root to the affected node.
	// For ChangeChildAdded it addresses the parent.
	Node []uint32

	// Name is the property name or the name of the added child.
	Name string

	// Value is the new property value, void means the property was removed.
	Value wire.Value

	// Snapshot is the full tree for ChangeSnapshot.
	Snapshot *Node

	// Tag is copied from Subscription.RequestSnapshot, it is 0 for other changes.
	Tag uint32
}

// EncodeChange appends change to the message.
func EncodeChange(m *wire.Message, c Change) {
	m.AppendUint32(uint32(c.Kind))
	switch c.Kind {
	case ChangeSnapshot:
		encodeNode(m, c.Snapshot)
	case ChangeProperty:
		encodeIndexPath(m, c.Node)
		m.AppendString(c.Name)
		m.AppendValue(c.Value)
	case ChangeChildAdded:
		encodeIndexPath(m, c.Node)
		m.AppendString(c.Name)
	}
}

// DecodeChange reads change from the message. Cursor must point to the change.
func DecodeChange(m *wire.Message) (Change, error) {
	kind, err := m.ReadUint32()
	if err != nil {
		return Change{}, err
	}

	c := Change{Kind: ChangeKind(kind)}
	switch c.Kind {
	case ChangeSnapshot:
		snapshot, err := decodeNode(m)
		if err != nil {
			return Change{}, err
		}
		c.Snapshot = &snapshot
	case ChangeProperty:
		if c.Node, err = decodeIndexPath(m); err != nil {
			return Change{}, err
		}
		if c.Name, err = m.ReadString(); err != nil {
			return Change{}, err
		}
		if c.Value, err = m.ReadValue(); err != nil {
			return Change{}, err
		}
	case ChangeChildAdded:
		if c.Node, err = decodeIndexPath(m); err != nil {
			return Change{}, err
		}
		if c.Name, err = m.ReadString(); err != nil {
			return Change{}, err
		}
	default:
		return Change{}, errors.Wrapf(wire.ErrDecode, "unknown change kind %d", kind)
	}
	return c, nil
}

// ApplyChange applies change produced by another tree, keeping this one identical to it.
// Subscriptions of this tree receive the change too.
func (t *Tree) ApplyChange(c Change) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch c.Kind {
	case ChangeSnapshot:
		if c.Snapshot == nil {
			return errors.Wrap(wire.ErrDecode, "snapshot is missing")
		}
		t.load(*c.Snapshot)
		t.publish(t.snapshotChange(0))
		return nil
	case ChangeProperty:
		id, err := t.resolveIndexPath(c.Node)
		if err != nil {
			return err
		}
		return t.setProperty(id, c.Name, c.Value)
	case ChangeChildAdded:
		id, err := t.resolveIndexPath(c.Node)
		if err != nil {
			return err
		}
		t.addChild(id, c.Name)
		return nil
	default:
		return errors.Wrapf(wire.ErrDecode, "unknown change kind %d", c.Kind)
	}
}

// addChild appends child even if sibling with the same name exists, so replica mirrors the source by index.
func (t *Tree) addChild(parent NodeID, name string) {
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
}

func encodeIndexPath(m *wire.Message, path []uint32) {
	m.AppendUint32(uint32(len(path)))
	for _, i := range path {
		m.AppendUint32(i)
	}
}

func decodeIndexPath(m *wire.Message) ([]uint32, error) {
	n, err := m.ReadUint32()
	if err != nil {
		return nil, err
	}
	if int(n)*4 > m.Remaining() {
		return nil, errors.Wrapf(wire.ErrDecode, "index path of %d elements exceeds message", n)
	}
	path := make([]uint32, 0, n)
	for range n {
		i, err := m.ReadUint32()
		if err != nil {
			return nil, err
		}
		path = append(path, i)
	}
	return path, nil
}

func encodeNode(m *wire.Message, n *Node) {
	m.AppendString(n.Name)

	names := lo.Keys(n.Properties)
	slices.Sort(names)
	m.AppendUint32(uint32(len(names)))
	for _, name := range names {
		m.AppendString(name)
		m.AppendValue(n.Properties[name])
	}

	m.AppendUint32(uint32(len(n.Children)))
	for i := range n.Children {
		encodeNode(m, &n.Children[i])
	}
}

func decodeNode(m *wire.Message) (Node, error) {
	var n Node
	var err error
	if n.Name, err = m.ReadString(); err != nil {
		return Node{}, err
	}

	numProps, err := m.ReadUint32()
	if err != nil {
		return Node{}, err
	}
	// Each property takes at least 5 bytes: NUL of the name and the tag.
	if int(numProps)*5 > m.Remaining() {
		return Node{}, errors.Wrapf(wire.ErrDecode, "%d properties exceed message", numProps)
	}
	n.Properties = make(map[string]wire.Value, numProps)
	for range numProps {
		name, err := m.ReadString()
		if err != nil {
			return Node{}, err
		}
		v, err := m.ReadValue()
		if err != nil {
			return Node{}, err
		}
		n.Properties[name] = v
	}

	numChildren, err := m.ReadUint32()
	if err != nil {
		return Node{}, err
	}
	// Each child takes at least 9 bytes: NUL of the name and two counters.
	if int(numChildren)*9 > m.Remaining() {
		return Node{}, errors.Wrapf(wire.ErrDecode, "%d children exceed message", numChildren)
	}
	if numChildren > 0 {
		n.Children = make([]Node, 0, numChildren)
		for range numChildren {
			c, err := decodeNode(m)
			if err != nil {
				return Node{}, err
			}
			n.Children = append(n.Children, c)
		}
	}
	return n, nil
}
