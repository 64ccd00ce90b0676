package bytecode

import "fmt"

// ExtendedOpcode is the byte following ex_op.
type ExtendedOpcode byte

const (
	ExNop  ExtendedOpcode = 0
	ExCall ExtendedOpcode = 1 // call <id:u16> <params> - external function

	// Hyperbolic and inverse trigonometry
	ExSinh  ExtendedOpcode = 2
	ExCosh  ExtendedOpcode = 3
	ExTanh  ExtendedOpcode = 4
	ExAsin  ExtendedOpcode = 5
	ExAcos  ExtendedOpcode = 6
	ExAtan2 ExtendedOpcode = 7

	// Logarithms and powers
	ExLog10 ExtendedOpcode = 8
	ExExp10 ExtendedOpcode = 9
	ExExp2  ExtendedOpcode = 10

	ExRound   ExtendedOpcode = 11
	ExFmod    ExtendedOpcode = 12
	ExDegrees ExtendedOpcode = 13
	ExRadians ExtendedOpcode = 14

	// Geometry
	ExLength     ExtendedOpcode = 15
	ExLengthSq   ExtendedOpcode = 16
	ExDistance   ExtendedOpcode = 17
	ExDistanceSq ExtendedOpcode = 18
	ExDot        ExtendedOpcode = 19
	ExCross      ExtendedOpcode = 20

	// Bit patterns
	ExReinterpretBool32 ExtendedOpcode = 21
	ExReinterpretF32    ExtendedOpcode = 22
	ExSetBit            ExtendedOpcode = 23
	ExGetBit            ExtendedOpcode = 24
	ExSetBits           ExtendedOpcode = 25
	ExGetBits           ExtendedOpcode = 26
	ExCountBits         ExtendedOpcode = 27
	ExLzcnt             ExtendedOpcode = 28
	ExTzcnt             ExtendedOpcode = 29
	ExReverseBits       ExtendedOpcode = 30
	ExRol               ExtendedOpcode = 31
	ExRor               ExtendedOpcode = 32
	ExShl               ExtendedOpcode = 33
	ExShr               ExtendedOpcode = 34

	ExSize       ExtendedOpcode = 35
	ExDebug      ExtendedOpcode = 36
	ExDebugStack ExtendedOpcode = 37

	// Context overlay values
	ExTime           ExtendedOpcode = 38
	ExDeltaTime      ExtendedOpcode = 39
	ExFixedDeltaTime ExtendedOpcode = 40
	ExFrameCount     ExtendedOpcode = 41
)

var extendedNames = map[ExtendedOpcode]string{
	ExNop:               "nop",
	ExCall:              "call",
	ExSinh:              "sinh",
	ExCosh:              "cosh",
	ExTanh:              "tanh",
	ExAsin:              "asin",
	ExAcos:              "acos",
	ExAtan2:             "atan2",
	ExLog10:             "log10",
	ExExp10:             "exp10",
	ExExp2:              "exp2",
	ExRound:             "round",
	ExFmod:              "fmod",
	ExDegrees:           "degrees",
	ExRadians:           "radians",
	ExLength:            "length",
	ExLengthSq:          "lengthsq",
	ExDistance:          "distance",
	ExDistanceSq:        "distancesq",
	ExDot:               "dot",
	ExCross:             "cross",
	ExReinterpretBool32: "reinterpret_bool32",
	ExReinterpretF32:    "reinterpret_f32",
	ExSetBit:            "set_bit",
	ExGetBit:            "get_bit",
	ExSetBits:           "set_bits",
	ExGetBits:           "get_bits",
	ExCountBits:         "count_bits",
	ExLzcnt:             "lzcnt",
	ExTzcnt:             "tzcnt",
	ExReverseBits:       "reverse_bits",
	ExRol:               "rol",
	ExRor:               "ror",
	ExShl:               "shl",
	ExShr:               "shr",
	ExSize:              "size",
	ExDebug:             "debug",
	ExDebugStack:        "debugstack",
	ExTime:              "time",
	ExDeltaTime:         "deltatime",
	ExFixedDeltaTime:    "fixeddeltatime",
	ExFrameCount:        "framecount",
}

func (op ExtendedOpcode) String() string {
	if name, ok := extendedNames[op]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_EX(0x%02X)", byte(op))
}

// IsOverlayValue reports whether the extended op reads a context overlay
// value instead of taking parameters.
func (op ExtendedOpcode) IsOverlayValue() bool {
	return op >= ExTime && op <= ExFrameCount
}
