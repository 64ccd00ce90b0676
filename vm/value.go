package vm

import (
	"fmt"
	"math"
	"strings"

	"github.com/nijnstein/blast/pkg/bytecode"
)

var nan = float32(math.NaN())

// value is an operand of the scalar interpreter: up to four components and
// the data type their bits hold.
type value struct {
	c [4]float32
	n int
	t bytecode.DataType
}

func scalar(f float32) value {
	return value{c: [4]float32{f}, n: 1}
}

func nanValue(n int) value {
	if n < 1 || n > 4 {
		n = 1
	}
	v := value{n: n}
	for i := 0; i < n; i++ {
		v.c[i] = nan
	}
	return v
}

// lane returns component i, broadcasting scalars.
func (v value) lane(i int) float32 {
	if v.n == 1 {
		return v.c[0]
	}
	if i >= v.n {
		return nan
	}
	return v.c[i]
}

func (v value) negate() value {
	for i := 0; i < v.n; i++ {
		v.c[i] = -v.c[i]
	}
	return v
}

func (v value) not() value {
	for i := 0; i < v.n; i++ {
		v.c[i] = complement(v.c[i], v.t)
	}
	return v
}

// truth reports whether any component is set.
func (v value) truth() bool {
	for i := 0; i < v.n; i++ {
		if isTrue(v.c[i], v.t) {
			return true
		}
	}
	return false
}

func (v value) String() string {
	parts := make([]string, v.n)
	for i := range parts {
		if v.t == bytecode.Bool32 {
			parts[i] = fmt.Sprintf("%08x", math.Float32bits(v.c[i]))
		} else {
			parts[i] = fmt.Sprint(v.c[i])
		}
	}
	if v.n == 1 {
		return parts[0]
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// fit shapes v to a slot of width w: scalars broadcast, wider values are
// cut and narrower vectors are padded with NaN.
func fit(v value, w int) value {
	switch {
	case v.n == w:
		return v
	case v.n == 1:
		for i := 1; i < w; i++ {
			v.c[i] = v.c[0]
		}
	case v.n < w:
		for i := v.n; i < w; i++ {
			v.c[i] = nan
		}
	}
	v.n = w
	return v
}

func isTrue(f float32, t bytecode.DataType) bool {
	if t == bytecode.Bool32 {
		return math.Float32bits(f) != 0
	}
	return f != 0
}

// complement is logical not: bit complement for bool32, 0/1 for numbers.
func complement(f float32, t bytecode.DataType) float32 {
	if t == bytecode.Bool32 {
		return math.Float32frombits(^math.Float32bits(f))
	}
	return boolf(f == 0)
}

func boolf(b bool) float32 {
	if b {
		return 1
	}
	return 0
}

// broadcastWidth returns the width of combining widths a and b component
// wise, or false when neither broadcasts to the other.
func broadcastWidth(a, b int) (int, bool) {
	switch {
	case a == b:
		return a, true
	case a == 1:
		return b, true
	case b == 1:
		return a, true
	}
	return a, false
}
