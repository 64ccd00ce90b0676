package vm

import (
	"math"
	"math/bits"

	"github.com/nijnstein/blast/pkg/bytecode"
)

// evalFunction applies a function to its parameters. Both interpreters
// call it, the batch interpreter once per record.
func (c *Context) evalFunction(f *bytecode.Function, args []value) value {
	if f.Extern != nil {
		var in [bytecode.MaxVariadicParams]float32
		for i, a := range args {
			in[i] = a.c[0]
		}
		return scalar(f.Extern(in[:len(args)]))
	}
	if len(args) == 1 {
		if k := unaryKernelOf(f.Op, f.ExtendedOp); k != nil {
			return mapValue(args[0], k)
		}
	}
	if f.Op == bytecode.OpEx {
		return c.extended(f.ExtendedOp, args)
	}
	return c.builtin(f.Op, args)
}

func (c *Context) builtin(op bytecode.Opcode, args []value) value {
	switch op {
	case bytecode.OpNormalize:
		return normalize(args[0])
	case bytecode.OpMin:
		return fold(args, minf)
	case bytecode.OpMax:
		return fold(args, maxf)
	case bytecode.OpMinA:
		return reduce(args[0], minf)
	case bytecode.OpMaxA:
		return reduce(args[0], maxf)
	case bytecode.OpCSum:
		return reduce(args[0], add)
	case bytecode.OpFma:
		return zip3(args, func(a, b, c float32) float32 { return float32(a*b) + c })
	case bytecode.OpLerp:
		return zip3(args, func(a, b, t float32) float32 { return a + float32((b-a)*t) })
	case bytecode.OpClamp:
		return zip3(args, func(x, lo, hi float32) float32 { return min(max(x, lo), hi) })
	case bytecode.OpSelect:
		// select(a, b, c) is b where c is set and a elsewhere.
		return zip3(args, func(a, b, c float32) float32 {
			if c != 0 {
				return b
			}
			return a
		})
	case bytecode.OpPow:
		v, _ := zip(args[0], args[1], powf)
		return v
	case bytecode.OpRandom:
		return c.random(args)
	}
	return nanValue(1)
}

func (c *Context) extended(ex bytecode.ExtendedOpcode, args []value) value {
	if ex.IsOverlayValue() {
		return scalar(c.overlay(ex))
	}
	switch ex {
	case bytecode.ExAtan2:
		v, _ := zip(args[0], args[1], atan2f)
		return v
	case bytecode.ExFmod:
		v, _ := zip(args[0], args[1], fmodf)
		return v
	case bytecode.ExLength:
		return scalar(float32(math.Sqrt(f64(dot(args[0], args[0])))))
	case bytecode.ExLengthSq:
		return scalar(dot(args[0], args[0]))
	case bytecode.ExDistance:
		d, _ := zip(args[0], args[1], substract)
		return scalar(float32(math.Sqrt(f64(dot(d, d)))))
	case bytecode.ExDistanceSq:
		d, _ := zip(args[0], args[1], substract)
		return scalar(dot(d, d))
	case bytecode.ExDot:
		return scalar(dot(args[0], args[1]))
	case bytecode.ExCross:
		return cross(args[0], args[1])
	case bytecode.ExReinterpretBool32:
		v := args[0]
		v.t = bytecode.Bool32
		return v
	case bytecode.ExReinterpretF32:
		v := args[0]
		v.t = bytecode.Numeric
		return v
	case bytecode.ExSize:
		return scalar(float32(args[0].n))
	case bytecode.ExDebug:
		log.Infof("debug: %s", args[0])
		return args[0]
	}
	if v, ok := bitFunction(ex, args); ok {
		return v
	}
	return nanValue(1)
}

func (c *Context) random(args []value) value {
	switch len(args) {
	case 0:
		return scalar(c.rng.Float32())
	case 1:
		out := value{n: args[0].n}
		for i := 0; i < out.n; i++ {
			out.c[i] = float32(c.rng.Float32() * args[0].c[i])
		}
		return out
	}
	lo, hi := args[0], args[1]
	n, ok := broadcastWidth(lo.n, hi.n)
	if !ok {
		return nanValue(lo.n)
	}
	out := value{n: n}
	for i := 0; i < n; i++ {
		out.c[i] = lo.lane(i) + float32(c.rng.Float32()*(hi.lane(i)-lo.lane(i)))
	}
	return out
}

// fold combines variadic parameters left to right.
func fold(args []value, k kernel) value {
	acc := args[0]
	for _, a := range args[1:] {
		var ok bool
		if acc, ok = zip(acc, a, k); !ok {
			return acc
		}
	}
	return acc
}

// reduce combines the components of one vector.
func reduce(v value, k kernel) value {
	acc := v.c[0]
	for i := 1; i < v.n; i++ {
		acc = k(acc, v.c[i])
	}
	return scalar(acc)
}

func zip3(args []value, k func(a, b, c float32) float32) value {
	n, ok := broadcastWidth(args[0].n, args[1].n)
	if ok {
		n, ok = broadcastWidth(n, args[2].n)
	}
	if !ok {
		return nanValue(args[0].n)
	}
	out := value{n: n}
	for i := 0; i < n; i++ {
		out.c[i] = k(args[0].lane(i), args[1].lane(i), args[2].lane(i))
	}
	return out
}

func dot(a, b value) float32 {
	n, ok := broadcastWidth(a.n, b.n)
	if !ok {
		return nan
	}
	var s float32
	for i := 0; i < n; i++ {
		s += float32(a.lane(i) * b.lane(i))
	}
	return s
}

func normalize(v value) value {
	l := float32(math.Sqrt(f64(dot(v, v))))
	out := value{n: v.n}
	for i := 0; i < v.n; i++ {
		out.c[i] = v.c[i] / l
	}
	return out
}

func cross(a, b value) value {
	if a.n != 3 || b.n != 3 {
		return nanValue(3)
	}
	return value{n: 3, c: [4]float32{
		float32(a.c[1]*b.c[2]) - float32(a.c[2]*b.c[1]),
		float32(a.c[2]*b.c[0]) - float32(a.c[0]*b.c[2]),
		float32(a.c[0]*b.c[1]) - float32(a.c[1]*b.c[0]),
	}}
}

// ---------------------------------------------------------------------------
// Bit patterns
// ---------------------------------------------------------------------------

// toBits returns the bit pattern of a bool32 component, or the integer part
// of a numeric one.
func toBits(f float32, t bytecode.DataType) uint32 {
	if t == bytecode.Bool32 {
		return math.Float32bits(f)
	}
	if !(f > math.MinInt64 && f < math.MaxInt64) {
		return 0
	}
	return uint32(int64(f))
}

func fromBits(b uint32) value {
	v := scalar(math.Float32frombits(b))
	v.t = bytecode.Bool32
	return v
}

func bitFunction(ex bytecode.ExtendedOpcode, args []value) (value, bool) {
	if len(args) == 0 {
		return value{}, false
	}
	b := toBits(args[0].c[0], args[0].t)
	arg := func(i int) uint32 { return toBits(args[i].c[0], args[i].t) }

	switch ex {
	case bytecode.ExSetBit:
		mask := uint32(1) << (arg(1) & 31)
		if args[2].truth() {
			return fromBits(b | mask), true
		}
		return fromBits(b &^ mask), true
	case bytecode.ExGetBit:
		return scalar(boolf(b>>(arg(1)&31)&1 == 1)), true
	case bytecode.ExSetBits:
		if args[2].truth() {
			return fromBits(b | arg(1)), true
		}
		return fromBits(b &^ arg(1)), true
	case bytecode.ExGetBits:
		return fromBits(b & arg(1)), true
	case bytecode.ExCountBits:
		return scalar(float32(bits.OnesCount32(b))), true
	case bytecode.ExLzcnt:
		return scalar(float32(bits.LeadingZeros32(b))), true
	case bytecode.ExTzcnt:
		return scalar(float32(bits.TrailingZeros32(b))), true
	case bytecode.ExReverseBits:
		return fromBits(bits.Reverse32(b)), true
	case bytecode.ExRol:
		return fromBits(bits.RotateLeft32(b, int(arg(1)&31))), true
	case bytecode.ExRor:
		return fromBits(bits.RotateLeft32(b, -int(arg(1)&31))), true
	case bytecode.ExShl:
		return fromBits(b << (arg(1) & 31)), true
	case bytecode.ExShr:
		return fromBits(b >> (arg(1) & 31)), true
	}
	return value{}, false
}
