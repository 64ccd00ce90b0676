package bytecode

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode uses canonical mode so equal packages encode to equal bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalPackage serializes a Package to CBOR bytes.
func MarshalPackage(p *Package) ([]byte, error) {
	if p == nil || p.Code == nil {
		return nil, ErrPackageNotAllocated
	}
	return cborEncMode.Marshal(p)
}

// UnmarshalPackage deserializes a Package from CBOR bytes and validates it.
func UnmarshalPackage(data []byte) (*Package, error) {
	var p Package
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal package: %w", err)
	}
	if p.Version != PackageVersion {
		return nil, fmt.Errorf("bytecode: package version %d, want %d", p.Version, PackageVersion)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal package: %w", err)
	}
	return &p, nil
}
