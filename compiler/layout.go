package compiler

import (
	"github.com/nijnstein/blast/pkg/bytecode"
)

// dataLayout is the data segment of a package.
type dataLayout struct {
	size     int
	data     []float32
	metadata []byte
	offsets  []byte
}

// layoutVariables assigns float offsets to every variable that needs a data
// slot. Offsets are written to the variables. Constant data blocks live in the
// code stream; constants live in the code stream when inlined or named.
func layoutVariables(tree *Tree, opts Options, diag *Diagnostics) *dataLayout {
	l := &dataLayout{offsets: make([]byte, len(tree.Variables))}
	for i, v := range tree.Variables {
		l.offsets[i] = 0xFF
		v.Offset = -1

		switch {
		case v.DataType == bytecode.CDataType:
			continue
		case v.IsConstant:
			if opts.InlineConstantData || v.RefCount == 0 {
				continue
			}
			if _, named := bytecode.ValueOpcode(v.Constant); named {
				continue
			}
		}

		if v.VectorSize < 1 || v.VectorSize > 4 {
			diag.Errorf(VectorSizeMismatch, nil, "variable %s has width %d, want 1 to 4", v, v.VectorSize)
			continue
		}
		if l.size+v.VectorSize > bytecode.MaxDataOffset+1 {
			diag.Errorf(DataSegmentOverflow, nil, "variable %s does not fit the %d float data segment", v, bytecode.MaxDataOffset+1)
			return l
		}

		v.Offset = l.size
		l.offsets[i] = byte(v.Offset)
		for k := 0; k < v.VectorSize; k++ {
			value := float32(0)
			if v.IsConstant {
				value = v.Constant
			}
			l.data = append(l.data, value)
			l.metadata = append(l.metadata, bytecode.EncodeMetadata(v.VectorSize, v.DataType))
		}
		l.size += v.VectorSize
	}
	log.Debugf("data segment: %d floats for %d variables", l.size, len(tree.Variables))
	return l
}

// variableInfos describes the variables of a tree for the package.
func variableInfos(tree *Tree) []bytecode.VariableInfo {
	infos := make([]bytecode.VariableInfo, 0, len(tree.Variables))
	for _, v := range tree.Variables {
		infos = append(infos, bytecode.VariableInfo{
			ID:         v.ID,
			Name:       v.Name,
			DataType:   v.DataType,
			VectorSize: v.VectorSize,
			RefCount:   v.RefCount,
			Offset:     v.Offset,
			IsConstant: v.IsConstant,
			IsInput:    v.IsInput,
			IsOutput:   v.IsOutput,
		})
	}
	return infos
}
