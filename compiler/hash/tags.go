package hash

import "github.com/nijnstein/blast/compiler"

// ---------------------------------------------------------------------------
// Frozen tag bytes for the tree serialization format.
//
// IMPORTANT: These tags are FROZEN. Once assigned, a tag byte must never
// change meaning. Adding new tags is fine; changing existing ones breaks
// every cached package key.
// ---------------------------------------------------------------------------

// HashVersion is the version prefix for the serialization format.
// Bumping this invalidates all existing content hashes.
const HashVersion byte = 1

// Variable table tags.
const (
	TagReservedZero byte = 0x00 // version prefix / reserved

	TagVariable byte = 0x01
	TagConstant byte = 0x02
	TagCData    byte = 0x03
)

// Node tags. Each tag uniquely identifies a node kind in the serialized
// byte stream.
const (
	TagRoot       byte = 0x10
	TagSegment    byte = 0x11
	TagAssignment byte = 0x12
	TagCompound   byte = 0x13
	TagOperation  byte = 0x14
	TagParameter  byte = 0x15
	TagFunction   byte = 0x16

	// Control flow
	TagIfThenElse byte = 0x20
	TagCondition  byte = 0x21
	TagThen       byte = 0x22
	TagElse       byte = 0x23
	TagWhile      byte = 0x24
	TagFor        byte = 0x25
	TagBlock      byte = 0x26
	TagSwitch     byte = 0x27
	TagCase       byte = 0x28
	TagDefault    byte = 0x29
	TagYield      byte = 0x2A
	TagReturn     byte = 0x2B

	// Stack
	TagPush byte = 0x30
	TagPop  byte = 0x31
	TagPeek byte = 0x32

	// Reserved 0xFE-0xFF
)

var kindTags = map[compiler.NodeKind]byte{
	compiler.NodeRoot:       TagRoot,
	compiler.NodeSegment:    TagSegment,
	compiler.NodeAssignment: TagAssignment,
	compiler.NodeCompound:   TagCompound,
	compiler.NodeOperation:  TagOperation,
	compiler.NodeParameter:  TagParameter,
	compiler.NodeFunction:   TagFunction,
	compiler.NodeIfThenElse: TagIfThenElse,
	compiler.NodeCondition:  TagCondition,
	compiler.NodeThen:       TagThen,
	compiler.NodeElse:       TagElse,
	compiler.NodeWhile:      TagWhile,
	compiler.NodeFor:        TagFor,
	compiler.NodeBlock:      TagBlock,
	compiler.NodeSwitch:     TagSwitch,
	compiler.NodeCase:       TagCase,
	compiler.NodeDefault:    TagDefault,
	compiler.NodeYield:      TagYield,
	compiler.NodeReturn:     TagReturn,
	compiler.NodePush:       TagPush,
	compiler.NodePop:        TagPop,
	compiler.NodePeek:       TagPeek,
}

// allTags lists every defined tag for uniqueness verification in tests.
var allTags = []byte{
	TagReservedZero,
	TagVariable, TagConstant, TagCData,
	TagRoot, TagSegment, TagAssignment, TagCompound, TagOperation, TagParameter, TagFunction,
	TagIfThenElse, TagCondition, TagThen, TagElse, TagWhile, TagFor, TagBlock,
	TagSwitch, TagCase, TagDefault, TagYield, TagReturn,
	TagPush, TagPop, TagPeek,
}
