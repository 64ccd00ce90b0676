package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes occupy 0x00-0x7F; bytes with the high bit set are data references
// (see IDOffset) and are never valid opcodes.
type Opcode byte

const (
	// ========================================================================
	// No-op (0x00) - also the sequence terminator and label anchor
	// ========================================================================

	OpNop Opcode = 0x00

	// ========================================================================
	// Assignment (0x01-0x07)
	// ========================================================================

	OpAssign    Opcode = 0x01 // assign [index] target <sequence> nop
	OpAssignS   Opcode = 0x02 // assigns target <operand>
	OpAssignF   Opcode = 0x03 // assignf target <function call>
	OpAssignFE  Opcode = 0x04 // assignfe target <id:u16> <params>
	OpAssignFN  Opcode = 0x05 // assignfn: assignf with the result negated
	OpAssignFEN Opcode = 0x06 // assignfen: assignfe with the result negated
	OpAssignV   Opcode = 0x07 // assignv target <component operands...>

	// ========================================================================
	// Stack (0x08-0x0D)
	// ========================================================================

	OpPush  Opcode = 0x08 // push <operand>
	OpPushV Opcode = 0x09 // pushv <count:u8> <operands...>
	OpPushF Opcode = 0x0A // pushf <function call>
	OpPushC Opcode = 0x0B // pushc begin <sequence> end
	OpPop   Opcode = 0x0C // operand: pop the stack top; statement: discard it
	OpPeek  Opcode = 0x0D // operand: read the stack top without popping

	// ========================================================================
	// Structure (0x0E-0x11)
	// ========================================================================

	OpBegin Opcode = 0x0E // open a nested sequence
	OpEnd   Opcode = 0x0F // close a nested sequence
	OpRet   Opcode = 0x10 // terminate execution
	OpYield Opcode = 0x11 // terminate with a yield status

	// ========================================================================
	// Control flow (0x12-0x1B)
	// ========================================================================

	OpJz           Opcode = 0x12 // jz <off:u8> begin <condition> end
	OpJnz          Opcode = 0x13 // jnz <off:u8> begin <condition> end
	OpJump         Opcode = 0x14 // jump <off:u8>
	OpJumpBack     Opcode = 0x15 // jump_back <off:u8>
	OpCJz          Opcode = 0x16 // cjz <off:u8> <operand> - jz on a single operand
	OpLongJz       Opcode = 0x17
	OpLongJnz      Opcode = 0x18
	OpLongJump     Opcode = 0x19
	OpLongJumpBack Opcode = 0x1A
	OpLongCJz      Opcode = 0x1B

	// ========================================================================
	// Inline constants and references (0x1C-0x21)
	// ========================================================================

	OpConstantF32      Opcode = 0x1C // constant_f32 <bits:u32>
	OpConstantF32H     Opcode = 0x1D // constant_f32h <high bits:u16>, low 16 bits are zero
	OpConstantShortRef Opcode = 0x1E // constant_short_ref <back:u8>
	OpConstantLongRef  Opcode = 0x1F // constant_long_ref <back:u16>
	OpCData            Opcode = 0x20 // cdata <encoding:u8> <len:u16> <payload>
	OpCDataRef         Opcode = 0x21 // cdataref <back:u16>

	// ========================================================================
	// Binary operations (0x22-0x2F)
	// ========================================================================

	OpAdd           Opcode = 0x22
	OpSubstract     Opcode = 0x23 // also unary minus in operand position
	OpMultiply      Opcode = 0x24
	OpDivide        Opcode = 0x25
	OpAnd           Opcode = 0x26
	OpOr            Opcode = 0x27
	OpXor           Opcode = 0x28
	OpNot           Opcode = 0x29 // unary only, operand prefix
	OpGreater       Opcode = 0x2A
	OpGreaterEquals Opcode = 0x2B
	OpSmaller       Opcode = 0x2C
	OpSmallerEquals Opcode = 0x2D
	OpEquals        Opcode = 0x2E
	OpNotEquals     Opcode = 0x2F

	// ========================================================================
	// Indexing (0x30-0x34)
	// ========================================================================

	OpIndexX Opcode = 0x30
	OpIndexY Opcode = 0x31
	OpIndexZ Opcode = 0x32
	OpIndexW Opcode = 0x33
	OpIndexN Opcode = 0x34 // index_n <source> <index operand>

	// ========================================================================
	// Extended namespace (0x35)
	// ========================================================================

	OpEx Opcode = 0x35 // ex_op <ExtendedOpcode>

	// ========================================================================
	// Builtin functions (0x36-0x51)
	// ========================================================================

	OpAbs       Opcode = 0x36
	OpTrunc     Opcode = 0x37
	OpSqrt      Opcode = 0x38
	OpRSqrt     Opcode = 0x39
	OpSin       Opcode = 0x3A
	OpCos       Opcode = 0x3B
	OpTan       Opcode = 0x3C
	OpAtan      Opcode = 0x3D
	OpLog2      Opcode = 0x3E
	OpLn        Opcode = 0x3F
	OpExp       Opcode = 0x40
	OpCeil      Opcode = 0x41
	OpFloor     Opcode = 0x42
	OpFrac      Opcode = 0x43
	OpNormalize Opcode = 0x44
	OpSaturate  Opcode = 0x45
	OpMin       Opcode = 0x46 // variadic
	OpMax       Opcode = 0x47 // variadic
	OpMinA      Opcode = 0x48 // minimum over the components of one vector
	OpMaxA      Opcode = 0x49
	OpCSum      Opcode = 0x4A
	OpFma       Opcode = 0x4B
	OpLerp      Opcode = 0x4C
	OpClamp     Opcode = 0x4D
	OpSelect    Opcode = 0x4E
	OpPow       Opcode = 0x4F
	OpRandom    Opcode = 0x50
	OpSign      Opcode = 0x51

	// ========================================================================
	// Named values (0x52-0x7F), see values.go
	// ========================================================================

	OpPi               Opcode = 0x52
	OpInvPi            Opcode = 0x53
	OpEpsilon          Opcode = 0x54
	OpInfinity         Opcode = 0x55
	OpNegativeInfinity Opcode = 0x56
	OpNaN              Opcode = 0x57
	OpMinValue         Opcode = 0x58
	OpMaxValue         Opcode = 0x59
	OpDeg2Rad          Opcode = 0x5A
	OpRad2Deg          Opcode = 0x5B
	OpValue0           Opcode = 0x5C
	OpValue1           Opcode = 0x5D
	OpValue2           Opcode = 0x5E
	OpValue3           Opcode = 0x5F
	OpValue4           Opcode = 0x60
	OpValue5           Opcode = 0x61
	OpValue6           Opcode = 0x62
	OpValue7           Opcode = 0x63
	OpValue8           Opcode = 0x64
	OpValue9           Opcode = 0x65
	OpValue10          Opcode = 0x66
	OpValue16          Opcode = 0x67
	OpValue24          Opcode = 0x68
	OpValue30          Opcode = 0x69
	OpValue32          Opcode = 0x6A
	OpValue45          Opcode = 0x6B
	OpValue64          Opcode = 0x6C
	OpValue90          Opcode = 0x6D
	OpValue100         Opcode = 0x6E
	OpValue128         Opcode = 0x6F
	OpValue180         Opcode = 0x70
	OpValue256         Opcode = 0x71
	OpValue270         Opcode = 0x72
	OpValue360         Opcode = 0x73
	OpValue512         Opcode = 0x74
	OpValue1024        Opcode = 0x75
	OpInvValue2        Opcode = 0x76
	OpInvValue3        Opcode = 0x77
	OpInvValue4        Opcode = 0x78
	OpInvValue5        Opcode = 0x79
	OpInvValue10       Opcode = 0x7A
	OpInvValue16       Opcode = 0x7B
	OpInvValue32       Opcode = 0x7C
	OpInvValue64       Opcode = 0x7D
	OpInvValue100      Opcode = 0x7E
	OpInvValue1024     Opcode = 0x7F
)

const (
	// IDOffset is added to a data offset to form a data reference byte.
	IDOffset = 0x80

	// MaxDataOffset is the largest float offset a data reference can encode.
	MaxDataOffset = 0x7F

	// DirectTargetLimit bounds the target offsets usable by direct assignments.
	// The target byte is 0x80|offset|neg<<6 so bit 6 must be free.
	DirectTargetLimit = 0x40

	// DirectNegateBit marks a negated direct assignment.
	DirectNegateBit = 0x40

	// ShortJumpMax is the largest distance a 1-byte offset can hold.
	ShortJumpMax = 0xFF

	// LongJumpMax is the largest distance a 2-byte offset can hold.
	LongJumpMax = 0xFFFF
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name       string // Mnemonic
	OperandLen int    // Fixed operand bytes following the opcode (-1 = variable)
}

// opcodeInfoTable maps opcodes to their metadata. Named values are added
// from the values table in init.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpNop: {"nop", 0},

	OpAssign:    {"assign", -1},
	OpAssignS:   {"assigns", -1},
	OpAssignF:   {"assignf", -1},
	OpAssignFE:  {"assignfe", -1},
	OpAssignFN:  {"assignfn", -1},
	OpAssignFEN: {"assignfen", -1},
	OpAssignV:   {"assignv", -1},

	OpPush:  {"push", -1},
	OpPushV: {"pushv", -1},
	OpPushF: {"pushf", -1},
	OpPushC: {"pushc", -1},
	OpPop:   {"pop", 0},
	OpPeek:  {"peek", 0},

	OpBegin: {"begin", 0},
	OpEnd:   {"end", 0},
	OpRet:   {"ret", 0},
	OpYield: {"yield", 0},

	OpJz:           {"jz", 1},
	OpJnz:          {"jnz", 1},
	OpJump:         {"jump", 1},
	OpJumpBack:     {"jump_back", 1},
	OpCJz:          {"cjz", 1},
	OpLongJz:       {"long_jz", 2},
	OpLongJnz:      {"long_jnz", 2},
	OpLongJump:     {"long_jump", 2},
	OpLongJumpBack: {"long_jump_back", 2},
	OpLongCJz:      {"long_cjz", 2},

	OpConstantF32:      {"constant_f32", 4},
	OpConstantF32H:     {"constant_f32h", 2},
	OpConstantShortRef: {"constant_short_ref", 1},
	OpConstantLongRef:  {"constant_long_ref", 2},
	OpCData:            {"cdata", -1},
	OpCDataRef:         {"cdataref", 2},

	OpAdd:           {"add", 0},
	OpSubstract:     {"substract", 0},
	OpMultiply:      {"multiply", 0},
	OpDivide:        {"divide", 0},
	OpAnd:           {"and", 0},
	OpOr:            {"or", 0},
	OpXor:           {"xor", 0},
	OpNot:           {"not", 0},
	OpGreater:       {"greater", 0},
	OpGreaterEquals: {"greater_equals", 0},
	OpSmaller:       {"smaller", 0},
	OpSmallerEquals: {"smaller_equals", 0},
	OpEquals:        {"equals", 0},
	OpNotEquals:     {"not_equals", 0},

	OpIndexX: {"index_x", 0},
	OpIndexY: {"index_y", 0},
	OpIndexZ: {"index_z", 0},
	OpIndexW: {"index_w", 0},
	OpIndexN: {"index_n", 0},

	OpEx: {"ex_op", 1},

	OpAbs:       {"abs", -1},
	OpTrunc:     {"trunc", -1},
	OpSqrt:      {"sqrt", -1},
	OpRSqrt:     {"rsqrt", -1},
	OpSin:       {"sin", -1},
	OpCos:       {"cos", -1},
	OpTan:       {"tan", -1},
	OpAtan:      {"atan", -1},
	OpLog2:      {"log2", -1},
	OpLn:        {"ln", -1},
	OpExp:       {"exp", -1},
	OpCeil:      {"ceil", -1},
	OpFloor:     {"floor", -1},
	OpFrac:      {"frac", -1},
	OpNormalize: {"normalize", -1},
	OpSaturate:  {"saturate", -1},
	OpMin:       {"min", -1},
	OpMax:       {"max", -1},
	OpMinA:      {"mina", -1},
	OpMaxA:      {"maxa", -1},
	OpCSum:      {"csum", -1},
	OpFma:       {"fma", -1},
	OpLerp:      {"lerp", -1},
	OpClamp:     {"clamp", -1},
	OpSelect:    {"select", -1},
	OpPow:       {"pow", -1},
	OpRandom:    {"random", -1},
	OpSign:      {"sign", -1},
}

func init() {
	for op, v := range namedValues {
		opcodeInfoTable[op] = OpcodeInfo{Name: v.name, OperandLen: 0}
	}
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// String returns the mnemonic of an opcode.
func (op Opcode) String() string {
	if op.IsID() {
		return fmt.Sprintf("id:%d", op.DataOffset())
	}
	return GetOpcodeInfo(op).Name
}

// IsID reports whether the byte is a data reference rather than an opcode.
func (op Opcode) IsID() bool {
	return op >= IDOffset
}

// DataOffset returns the float offset encoded in a data reference byte.
func (op Opcode) DataOffset() int {
	return int(op) - IDOffset
}

// ID encodes a data offset as a data reference byte.
func ID(offset int) Opcode {
	return Opcode(IDOffset + offset)
}

// IsNamedValue reports whether the opcode pushes a named constant.
func (op Opcode) IsNamedValue() bool {
	return op >= OpPi && op <= OpInvValue1024
}

// IsInlineConstant reports whether the opcode is an inline or referenced constant.
func (op Opcode) IsInlineConstant() bool {
	return op >= OpConstantF32 && op <= OpConstantLongRef
}

// IsConstant reports whether the opcode produces a constant value.
func (op Opcode) IsConstant() bool {
	return op.IsNamedValue() || op.IsInlineConstant()
}

// IsBinaryOp reports whether the opcode combines two operands.
func (op Opcode) IsBinaryOp() bool {
	return op >= OpAdd && op <= OpNotEquals && op != OpNot
}

// IsComparison reports whether the opcode compares two operands.
func (op Opcode) IsComparison() bool {
	return op >= OpGreater && op <= OpNotEquals
}

// IsLogical reports whether the opcode is a logical and/or/xor.
func (op Opcode) IsLogical() bool {
	return op == OpAnd || op == OpOr || op == OpXor
}

// IsIndex reports whether the opcode selects a vector component.
func (op Opcode) IsIndex() bool {
	return op >= OpIndexX && op <= OpIndexN
}

// IndexComponent returns the component selected by index_x..index_w.
func (op Opcode) IndexComponent() int {
	return int(op - OpIndexX)
}

// IndexOp returns the index opcode for a component 0..3.
func IndexOp(component int) Opcode {
	return OpIndexX + Opcode(component)
}

// IsFunction reports whether the opcode is a builtin function.
func (op Opcode) IsFunction() bool {
	return op >= OpAbs && op <= OpSign
}

// IsAssign reports whether the opcode starts an assignment statement.
func (op Opcode) IsAssign() bool {
	return op >= OpAssign && op <= OpAssignV
}

// IsJump reports whether the opcode carries a jump offset.
func (op Opcode) IsJump() bool {
	return op >= OpJz && op <= OpLongCJz
}

// IsLongJump reports whether the opcode carries a 2-byte jump offset.
func (op Opcode) IsLongJump() bool {
	return op >= OpLongJz && op <= OpLongCJz
}

// IsBackward reports whether the opcode refers backward in the stream.
func (op Opcode) IsBackward() bool {
	switch op {
	case OpJumpBack, OpLongJumpBack, OpConstantShortRef, OpConstantLongRef, OpCDataRef:
		return true
	}
	return false
}

// HasCondition reports whether the jump evaluates a condition after its offset.
func (op Opcode) HasCondition() bool {
	switch op {
	case OpJz, OpJnz, OpCJz, OpLongJz, OpLongJnz, OpLongCJz:
		return true
	}
	return false
}

// Long returns the 2-byte offset sibling of a short jump or reference opcode.
// Opcodes without a long sibling are returned unchanged.
func (op Opcode) Long() Opcode {
	switch op {
	case OpJz:
		return OpLongJz
	case OpJnz:
		return OpLongJnz
	case OpJump:
		return OpLongJump
	case OpJumpBack:
		return OpLongJumpBack
	case OpCJz:
		return OpLongCJz
	case OpConstantShortRef:
		return OpConstantLongRef
	}
	return op
}

// Short returns the 1-byte offset sibling of a long jump or reference opcode.
func (op Opcode) Short() Opcode {
	switch op {
	case OpLongJz:
		return OpJz
	case OpLongJnz:
		return OpJnz
	case OpLongJump:
		return OpJump
	case OpLongJumpBack:
		return OpJumpBack
	case OpLongCJz:
		return OpCJz
	case OpConstantLongRef:
		return OpConstantShortRef
	}
	return op
}

// OffsetLen returns the number of offset bytes a jump or reference opcode carries.
func (op Opcode) OffsetLen() int {
	switch {
	case op.IsLongJump(), op == OpConstantLongRef, op == OpCDataRef:
		return 2
	case op.IsJump(), op == OpConstantShortRef:
		return 1
	}
	return 0
}

// AllOpcodes returns a slice of all defined opcodes.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
