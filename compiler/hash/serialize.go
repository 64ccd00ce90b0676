package hash

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/nijnstein/blast/compiler"
)

// ---------------------------------------------------------------------------
// Deterministic binary serialization of a compiler tree.
//
// Encoding conventions:
//   - First byte: HashVersion (0x01)
//   - Variable table, then the statement tree from the root
//   - Variables are referenced by their position in the table
//   - Integers: big-endian fixed-width (uint16=2B, uint32=4B)
//   - Floats: IEEE 754 bits, big-endian 4B
//   - Strings: uint32 big-endian length + UTF-8 bytes
//   - Child nodes: uint32 count, serialized inline (flat)
// ---------------------------------------------------------------------------

// noVariable marks a node without a variable.
const noVariable = 0xFFFF

// Serialize produces a deterministic byte serialization of a tree. Trees
// built from differently formatted documents serialize the same.
func Serialize(tree *compiler.Tree) ([]byte, error) {
	s := &serializer{
		buf:   make([]byte, 0, 256),
		index: make(map[*compiler.Variable]uint16, len(tree.Variables)),
	}
	s.writeByte(HashVersion)
	if len(tree.Variables) >= noVariable {
		return nil, fmt.Errorf("hash: %d variables", len(tree.Variables))
	}
	s.writeUint32(uint32(len(tree.Variables)))
	for i, v := range tree.Variables {
		s.index[v] = uint16(i)
		s.serializeVariable(v)
	}
	if err := s.serializeNode(tree.Root); err != nil {
		return nil, err
	}
	return s.buf, nil
}

type serializer struct {
	buf   []byte
	index map[*compiler.Variable]uint16
}

func (s *serializer) writeByte(b byte) {
	s.buf = append(s.buf, b)
}

func (s *serializer) writeBool(v bool) {
	if v {
		s.writeByte(1)
	} else {
		s.writeByte(0)
	}
}

func (s *serializer) writeUint16(v uint16) {
	s.buf = binary.BigEndian.AppendUint16(s.buf, v)
}

func (s *serializer) writeUint32(v uint32) {
	s.buf = binary.BigEndian.AppendUint32(s.buf, v)
}

func (s *serializer) writeFloat32(v float32) {
	s.writeUint32(math.Float32bits(v))
}

func (s *serializer) writeString(v string) {
	s.writeUint32(uint32(len(v)))
	s.buf = append(s.buf, v...)
}

func (s *serializer) serializeVariable(v *compiler.Variable) {
	switch {
	case v.CData != nil:
		s.writeByte(TagCData)
		s.writeString(v.Name)
		s.writeByte(byte(v.CData.Encoding))
		s.writeString(string(v.CData.Payload))
	case v.IsConstant:
		s.writeByte(TagConstant)
		s.writeFloat32(v.Constant)
	default:
		s.writeByte(TagVariable)
		s.writeString(v.Name)
		s.writeByte(byte(v.DataType))
		s.writeByte(byte(v.VectorSize))
		s.writeBool(v.IsInput)
		s.writeBool(v.IsOutput)
	}
}

func (s *serializer) variable(v *compiler.Variable) (uint16, error) {
	if v == nil {
		return noVariable, nil
	}
	i, ok := s.index[v]
	if !ok {
		return 0, fmt.Errorf("hash: variable %s is not declared in the tree", v)
	}
	return i, nil
}

func (s *serializer) serializeNode(n *compiler.Node) error {
	tag, ok := kindTags[n.Kind]
	if !ok {
		return fmt.Errorf("hash: no tag for node kind %s", n.Kind)
	}
	s.writeByte(tag)

	switch n.Kind {
	case compiler.NodeOperation:
		s.writeString(n.Token.String())
	case compiler.NodeFunction:
		// Builtins by name; externals by their table id as well.
		s.writeString(n.Function.Name)
		if n.Function.IsExternal() {
			s.writeUint32(uint32(n.Function.ID))
		}
	}

	vi, err := s.variable(n.Variable)
	if err != nil {
		return err
	}
	s.writeUint16(vi)
	s.writeByte(byte(n.Indexer))
	s.writeBool(n.Negate)
	s.writeBool(n.Not)
	s.writeByte(byte(n.VectorSize))

	s.writeBool(n.Index != nil)
	if n.Index != nil {
		if err := s.serializeNode(n.Index); err != nil {
			return err
		}
	}

	s.writeUint32(uint32(len(n.Children)))
	for _, c := range n.Children {
		if err := s.serializeNode(c); err != nil {
			return err
		}
	}
	return nil
}
