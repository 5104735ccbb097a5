package tree

import (
	"github.com/pkg/errors"

	"github.com/outofforest/treecall/wire"
)

// Mutation sets a single property addressed by path. All segments but the last one name nodes,
// the last one names the property.
type Mutation struct {
	Path  []string
	Value wire.Value
}

// EncodeSet appends property mutation to the message.
func EncodeSet(m *wire.Message, path string, v wire.Value) {
	m.AppendString(path)
	m.AppendValue(v)
}

// DecodeSet reads property mutation from the message. Cursor must point to the mutation,
// usually right after the envelope.
func DecodeSet(m *wire.Message) (Mutation, error) {
	path, err := m.ReadString()
	if err != nil {
		return Mutation{}, err
	}
	segments, err := ParsePath(path)
	if err != nil {
		return Mutation{}, err
	}
	v, err := m.ReadValue()
	if err != nil {
		return Mutation{}, errors.WithMessagef(err, "decoding value of %q", path)
	}
	return Mutation{Path: segments, Value: v}, nil
}

// ApplyTo decodes property mutation from the message and applies it to the tree.
func ApplyTo(m *wire.Message, t *Tree) error {
	mutation, err := DecodeSet(m)
	if err != nil {
		return err
	}
	return t.Apply(mutation)
}

// Apply applies the mutation, creating missing nodes on the path.
func (t *Tree) Apply(mutation Mutation) error {
	if len(mutation.Path) == 0 {
		return errors.Wrap(wire.ErrDecode, "empty path")
	}
	if !mutation.Value.IsValid() {
		return errors.Wrapf(wire.ErrDecode, "invalid value for %q", mutation.Path)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	id := RootID
	for _, s := range mutation.Path[:len(mutation.Path)-1] {
		id = t.getOrCreateChild(id, s)
	}
	return t.setProperty(id, mutation.Path[len(mutation.Path)-1], mutation.Value)
}
