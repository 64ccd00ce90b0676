package bytecode

import (
	"bytes"
	"strings"
	"testing"
)

func TestDisassembleStatements(t *testing.T) {
	code := []byte{
		byte(OpValue1), byte(ID(0)), // a = 1
		byte(OpAssign), byte(ID(1)), byte(ID(0)), byte(OpAdd), byte(OpValue2), byte(OpNop),
		byte(OpConstantF32), 0x40, 0x49, 0x0f, 0xdb, byte(ID(2)),
		byte(OpEx), byte(ExAtan2),
		byte(OpJump), 3,
		byte(OpRet),
	}

	names := map[int]string{0: "a", 1: "b"}
	out := Disassemble(code, func(o int) string { return names[o] })

	for _, want := range []string{
		"0000  value_1",
		"id:0 ; a",
		"assign",
		"id:1 ; b",
		"constant_f32 3.14159",
		"ex_op atan2",
		"jump 3 -> 0015",
		"ret",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("disassembly missing %q:\n%s", want, out)
		}
	}
}

func TestDisassembleSkipsOperandBytes(t *testing.T) {
	// The payload and reference bytes look like opcodes and must not be decoded.
	c, _ := EncodeCData(EncodingASCII, []float32{float32(OpRet), float32(OpYield)})
	code := append([]byte{byte(OpJump), byte(c.Size())}, c.Bytes()...)
	code = append(code, byte(OpConstantShortRef), byte(OpRet), byte(OpLongJumpBack), 0x00, byte(OpYield))

	out := Disassemble(code, nil)
	if strings.Count(out, "\n") != 5 {
		t.Errorf("expected 4 instructions and a header:\n%s", out)
	}
	if strings.Contains(out, "ret") || strings.Contains(out, "yield") {
		t.Errorf("operand bytes decoded as opcodes:\n%s", out)
	}
	if !strings.Contains(out, "cdata ascii [2 bytes]") {
		t.Errorf("missing cdata line:\n%s", out)
	}
}

func TestHexDump(t *testing.T) {
	data := []byte("0123456789abcdefXY")
	var buf bytes.Buffer
	if err := HexDump(&buf, data); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("HexDump produced %d lines, want 2:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[1], "0010  58 59") {
		t.Errorf("second row = %q", lines[1])
	}
	if !strings.HasSuffix(lines[0], "|0123456789abcdef|") {
		t.Errorf("first row = %q", lines[0])
	}
	if len(lines[0]) != len(lines[1])+14 {
		t.Errorf("rows are not column aligned:\n%s", buf.String())
	}
}
