package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// CDataEncoding tags the element format of a constant data block.
type CDataEncoding byte

const (
	EncodingF32    CDataEncoding = iota // raw float32
	EncodingI32                         // int32
	EncodingBool32                      // 32-bit bit pattern
	EncodingASCII                       // one character per byte
	EncodingU8FP                        // unsigned unit interval, x255
	EncodingS8FP                        // signed unit interval, x127
	EncodingS8FP10                      // signed, x10, clamped to [-128, 127]
	EncodingF16                         // IEEE 754 half
	EncodingI16                         // int16, clamped
)

var encodingNames = [...]string{"f32", "i32", "bool32", "ascii", "u8fp", "s8fp", "s8fp10", "f16", "i16"}

func (e CDataEncoding) String() string {
	if int(e) < len(encodingNames) {
		return encodingNames[e]
	}
	return fmt.Sprintf("encoding(%d)", byte(e))
}

// ParseEncoding returns the encoding with a name as printed by String.
func ParseEncoding(name string) (CDataEncoding, error) {
	for i, n := range encodingNames {
		if n == name {
			return CDataEncoding(i), nil
		}
	}
	return 0, fmt.Errorf("unknown cdata encoding %q", name)
}

// ElementSize returns the number of payload bytes per element.
func (e CDataEncoding) ElementSize() int {
	switch e {
	case EncodingF32, EncodingI32, EncodingBool32:
		return 4
	case EncodingF16, EncodingI16:
		return 2
	}
	return 1
}

// CDataHeaderSize is the size of "cdata enc len1 len0".
const CDataHeaderSize = 4

// MaxCDataPayload is the largest payload a block can carry.
const MaxCDataPayload = 0xFFFF

var (
	ErrCDataTooLarge = errors.New("cdata payload exceeds 65535 bytes")
	ErrNotCData      = errors.New("no cdata block at offset")
)

// CData is a constant data block.
type CData struct {
	Encoding CDataEncoding
	Payload  []byte
}

// Len returns the number of elements in the block.
func (c *CData) Len() int {
	return len(c.Payload) / c.Encoding.ElementSize()
}

// At decodes element i. Out of range indices yield NaN.
func (c *CData) At(i int) float32 {
	return DecodeElement(c.Encoding, c.Payload, i)
}

// Bytes returns the block as it appears in the instruction stream.
func (c *CData) Bytes() []byte {
	b := make([]byte, CDataHeaderSize, CDataHeaderSize+len(c.Payload))
	b[0] = byte(OpCData)
	b[1] = byte(c.Encoding)
	binary.BigEndian.PutUint16(b[2:], uint16(len(c.Payload)))
	return append(b, c.Payload...)
}

// Size returns the number of stream bytes the block occupies.
func (c *CData) Size() int {
	return CDataHeaderSize + len(c.Payload)
}

// EncodeCData quantizes values into a block. Values outside the range of
// the encoding are clamped.
func EncodeCData(enc CDataEncoding, values []float32) (*CData, error) {
	size := enc.ElementSize()
	if len(values)*size > MaxCDataPayload {
		return nil, ErrCDataTooLarge
	}
	payload := make([]byte, len(values)*size)
	for i, v := range values {
		p := payload[i*size:]
		switch enc {
		case EncodingF32:
			binary.BigEndian.PutUint32(p, math.Float32bits(v))
		case EncodingBool32:
			binary.BigEndian.PutUint32(p, math.Float32bits(v))
		case EncodingI32:
			binary.BigEndian.PutUint32(p, uint32(int32(clampRound(v, math.MinInt32, math.MaxInt32))))
		case EncodingASCII:
			p[0] = byte(clampRound(v, 0, 127))
		case EncodingU8FP:
			p[0] = byte(clampRound(v*255, 0, 255))
		case EncodingS8FP:
			p[0] = byte(int8(clampRound(v*127, -128, 127)))
		case EncodingS8FP10:
			p[0] = byte(int8(clampRound(v*10, -128, 127)))
		case EncodingF16:
			binary.BigEndian.PutUint16(p, float16.Fromfloat32(v).Bits())
		case EncodingI16:
			binary.BigEndian.PutUint16(p, uint16(int16(clampRound(v, math.MinInt16, math.MaxInt16))))
		default:
			return nil, fmt.Errorf("encode cdata: %s", enc)
		}
	}
	return &CData{Encoding: enc, Payload: payload}, nil
}

// EncodeASCII stores a string as an ASCII block.
func EncodeASCII(s string) (*CData, error) {
	if len(s) > MaxCDataPayload {
		return nil, ErrCDataTooLarge
	}
	return &CData{Encoding: EncodingASCII, Payload: []byte(s)}, nil
}

func clampRound(v float32, lo, hi float64) float64 {
	f := math.Round(float64(v))
	if f != f {
		return 0
	}
	return math.Max(lo, math.Min(hi, f))
}

// DecodeElement decodes element i of a payload.
func DecodeElement(enc CDataEncoding, payload []byte, i int) float32 {
	size := enc.ElementSize()
	if i < 0 || (i+1)*size > len(payload) {
		return float32(math.NaN())
	}
	p := payload[i*size:]
	switch enc {
	case EncodingF32, EncodingBool32:
		return math.Float32frombits(binary.BigEndian.Uint32(p))
	case EncodingI32:
		return float32(int32(binary.BigEndian.Uint32(p)))
	case EncodingASCII:
		return float32(p[0])
	case EncodingU8FP:
		return float32(p[0]) / 255
	case EncodingS8FP:
		return float32(int8(p[0])) / 127
	case EncodingS8FP10:
		return float32(int8(p[0])) / 10
	case EncodingF16:
		return float16.Frombits(binary.BigEndian.Uint16(p)).Float32()
	case EncodingI16:
		return float32(int16(binary.BigEndian.Uint16(p)))
	}
	return float32(math.NaN())
}

// CDataAt reads the block starting at code[pos], which must hold a cdata opcode.
// The returned payload aliases code.
func CDataAt(code []byte, pos int) (CData, error) {
	if pos < 0 || pos+CDataHeaderSize > len(code) || Opcode(code[pos]) != OpCData {
		return CData{}, fmt.Errorf("%w %d", ErrNotCData, pos)
	}
	n := int(binary.BigEndian.Uint16(code[pos+2:]))
	if pos+CDataHeaderSize+n > len(code) {
		return CData{}, fmt.Errorf("%w %d: payload truncated", ErrNotCData, pos)
	}
	return CData{
		Encoding: CDataEncoding(code[pos+1]),
		Payload:  code[pos+CDataHeaderSize : pos+CDataHeaderSize+n],
	}, nil
}
