package bytecode

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
)

// PackageVersion is the current package format version.
// Increment when making incompatible changes to the instruction encoding.
const PackageVersion uint16 = 1

// PackageMode selects the execution model a package is compiled for.
type PackageMode uint8

const (
	// ModeNormal packages run in the scalar interpreter only. Indexed
	// assignments are encoded with the index opcode as the statement start.
	ModeNormal PackageMode = 0

	// ModeSSMD packages run in both interpreters.
	ModeSSMD PackageMode = 1
)

func (m PackageMode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeSSMD:
		return "ssmd"
	default:
		return fmt.Sprintf("PackageMode(%d)", m)
	}
}

// ParseMode parses "normal" or "ssmd".
func ParseMode(s string) (PackageMode, error) {
	switch s {
	case "normal", "":
		return ModeNormal, nil
	case "ssmd":
		return ModeSSMD, nil
	}
	return 0, fmt.Errorf("unknown package mode %q", s)
}

// ErrPackageNotAllocated is returned when a package has no code.
var ErrPackageNotAllocated = errors.New("package not allocated")

// ErrChecksum is returned when code does not match the recorded checksum.
var ErrChecksum = errors.New("package checksum mismatch")

// VariableInfo describes a variable of a compiled package.
type VariableInfo struct {
	ID         int      `cbor:"id"`
	Name       string   `cbor:"name"`
	DataType   DataType `cbor:"type"`
	VectorSize int      `cbor:"size"`
	RefCount   int      `cbor:"refs"`
	Offset     int      `cbor:"offset"`
	IsConstant bool     `cbor:"const,omitempty"`
	IsInput    bool     `cbor:"input,omitempty"`
	IsOutput   bool     `cbor:"output,omitempty"`
}

// Package is a compiled unit. It is immutable once returned by the compiler
// and may be executed any number of times against any number of records.
type Package struct {
	ID      string      `cbor:"id"`
	Version uint16      `cbor:"version"`
	Mode    PackageMode `cbor:"mode"`

	// Code is the resolved instruction stream.
	Code []byte `cbor:"code"`

	// DataSize is the number of float slots a record must hold.
	DataSize int `cbor:"datasize"`

	// Data holds the initial value of every data slot (constants that were
	// not inlined, zero for variables).
	Data []float32 `cbor:"data"`

	// Metadata holds one byte per data slot: vector width | data type << 4.
	Metadata []byte `cbor:"meta"`

	// Offsets maps variable id to its float offset in the data segment.
	Offsets []byte `cbor:"offsets"`

	Variables []VariableInfo `cbor:"vars"`
	StackSize int            `cbor:"stack"`

	// Segments holds the start position of each independently resolved code segment.
	Segments []int `cbor:"segments,omitempty"`

	Checksum uint64 `cbor:"checksum"`
}

// NewPackage creates an empty package with a fresh id.
func NewPackage(mode PackageMode) *Package {
	return &Package{
		ID:      uuid.NewString(),
		Version: PackageVersion,
		Mode:    mode,
	}
}

// Seal records the checksum of the code.
func (p *Package) Seal() {
	p.Checksum = xxh3.Hash(p.Code)
}

// Validate checks that the package can be executed.
func (p *Package) Validate() error {
	if p == nil || p.Code == nil {
		return ErrPackageNotAllocated
	}
	if p.Checksum != 0 && p.Checksum != xxh3.Hash(p.Code) {
		return ErrChecksum
	}
	if len(p.Metadata) < p.DataSize || len(p.Data) < p.DataSize {
		return fmt.Errorf("package %s: data segment holds %d slots, metadata %d, initial values %d",
			p.ID, p.DataSize, len(p.Metadata), len(p.Data))
	}
	return nil
}

// EncodeMetadata packs a vector width and data type into a metadata byte.
func EncodeMetadata(width int, t DataType) byte {
	return byte(width&0x0F) | byte(t)<<4
}

// DecodeMetadata unpacks a metadata byte.
func DecodeMetadata(b byte) (width int, t DataType) {
	return int(b & 0x0F), DataType(b >> 4)
}

// SlotInfo returns the vector width and data type stored at a data offset.
func (p *Package) SlotInfo(offset int) (int, DataType) {
	if offset < 0 || offset >= len(p.Metadata) {
		return 0, Numeric
	}
	return DecodeMetadata(p.Metadata[offset])
}

// Lookup returns the variable with a name.
func (p *Package) Lookup(name string) (VariableInfo, bool) {
	for _, v := range p.Variables {
		if v.Name == name {
			return v, true
		}
	}
	return VariableInfo{}, false
}

// NewRecord returns a data buffer initialized with the package's initial values.
func (p *Package) NewRecord() []float32 {
	rec := make([]float32, p.DataSize)
	copy(rec, p.Data)
	return rec
}

// Get returns the components of a named variable in a record.
func (p *Package) Get(record []float32, name string) ([]float32, error) {
	v, ok := p.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("package %s: no variable %q", p.ID, name)
	}
	if v.Offset < 0 {
		return nil, fmt.Errorf("package %s: %q has no data slot", p.ID, name)
	}
	if v.Offset+v.VectorSize > len(record) {
		return nil, fmt.Errorf("package %s: record too short for %q", p.ID, name)
	}
	return record[v.Offset : v.Offset+v.VectorSize], nil
}

// Set writes the components of a named variable into a record.
func (p *Package) Set(record []float32, name string, values ...float32) error {
	dst, err := p.Get(record, name)
	if err != nil {
		return err
	}
	if len(values) != len(dst) {
		return fmt.Errorf("package %s: %q has width %d, got %d values", p.ID, name, len(dst), len(values))
	}
	copy(dst, values)
	return nil
}

// Disassemble returns a listing of the package code using variable names.
func (p *Package) Disassemble() string {
	names := make(map[int]string, len(p.Variables))
	for _, v := range p.Variables {
		if v.Name != "" {
			names[v.Offset] = v.Name
		}
	}
	return Disassemble(p.Code, func(offset int) string { return names[offset] })
}
