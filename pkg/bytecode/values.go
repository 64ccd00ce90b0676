package bytecode

import "math"

type namedValue struct {
	name  string
	value float32
}

// namedValues lists every opcode that evaluates to a fixed float.
var namedValues = map[Opcode]namedValue{
	OpPi:               {"pi", math.Pi},
	OpInvPi:            {"inv_pi", 1 / math.Pi},
	OpEpsilon:          {"epsilon", math.SmallestNonzeroFloat32},
	OpInfinity:         {"infinity", float32(math.Inf(1))},
	OpNegativeInfinity: {"negative_infinity", float32(math.Inf(-1))},
	OpNaN:              {"nan", float32(math.NaN())},
	OpMinValue:         {"min_value", -math.MaxFloat32},
	OpMaxValue:         {"max_value", math.MaxFloat32},
	OpDeg2Rad:          {"deg2rad", math.Pi / 180},
	OpRad2Deg:          {"rad2deg", 180 / math.Pi},
	OpValue0:           {"value_0", 0},
	OpValue1:           {"value_1", 1},
	OpValue2:           {"value_2", 2},
	OpValue3:           {"value_3", 3},
	OpValue4:           {"value_4", 4},
	OpValue5:           {"value_5", 5},
	OpValue6:           {"value_6", 6},
	OpValue7:           {"value_7", 7},
	OpValue8:           {"value_8", 8},
	OpValue9:           {"value_9", 9},
	OpValue10:          {"value_10", 10},
	OpValue16:          {"value_16", 16},
	OpValue24:          {"value_24", 24},
	OpValue30:          {"value_30", 30},
	OpValue32:          {"value_32", 32},
	OpValue45:          {"value_45", 45},
	OpValue64:          {"value_64", 64},
	OpValue90:          {"value_90", 90},
	OpValue100:         {"value_100", 100},
	OpValue128:         {"value_128", 128},
	OpValue180:         {"value_180", 180},
	OpValue256:         {"value_256", 256},
	OpValue270:         {"value_270", 270},
	OpValue360:         {"value_360", 360},
	OpValue512:         {"value_512", 512},
	OpValue1024:        {"value_1024", 1024},
	OpInvValue2:        {"inv_value_2", 1.0 / 2},
	OpInvValue3:        {"inv_value_3", 1.0 / 3},
	OpInvValue4:        {"inv_value_4", 1.0 / 4},
	OpInvValue5:        {"inv_value_5", 1.0 / 5},
	OpInvValue10:       {"inv_value_10", 1.0 / 10},
	OpInvValue16:       {"inv_value_16", 1.0 / 16},
	OpInvValue32:       {"inv_value_32", 1.0 / 32},
	OpInvValue64:       {"inv_value_64", 1.0 / 64},
	OpInvValue100:      {"inv_value_100", 1.0 / 100},
	OpInvValue1024:     {"inv_value_1024", 1.0 / 1024},
}

// valueByBits maps the bit pattern of each named value back to its opcode.
var valueByBits = func() map[uint32]Opcode {
	m := make(map[uint32]Opcode, len(namedValues))
	for op, v := range namedValues {
		if op == OpNaN {
			continue
		}
		m[math.Float32bits(v.value)] = op
	}
	return m
}()

// ValueOf returns the float a named value opcode evaluates to.
func ValueOf(op Opcode) (float32, bool) {
	v, ok := namedValues[op]
	return v.value, ok
}

// ValueOpcode returns the named value opcode for f, if one exists.
// Matching is on the exact bit pattern so -0 has no named value.
func ValueOpcode(f float32) (Opcode, bool) {
	if f != f {
		return OpNaN, true
	}
	op, ok := valueByBits[math.Float32bits(f)]
	return op, ok
}

// ValueTable returns a dense 128-entry table indexed by opcode byte holding the
// value of each named value opcode and zero elsewhere. Interpreters copy it
// into their context so time-varying overlays never touch shared state.
func ValueTable() [128]float32 {
	var t [128]float32
	for op, v := range namedValues {
		t[op] = v.value
	}
	return t
}

// ValueByName returns the named value opcode with a mnemonic, e.g. "pi".
func ValueByName(name string) (Opcode, bool) {
	for op, v := range namedValues {
		if v.name == name {
			return op, true
		}
	}
	return 0, false
}
