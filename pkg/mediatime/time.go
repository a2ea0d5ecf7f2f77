package mediatime

import (
	"fmt"
	"math"
	"math/big"
	"time"
)

// MaxScale is the largest timescale produced when two times with different
// scales are combined.
const MaxScale = math.MaxInt32

// NanoScale is the timescale used for values built from time.Duration.
const NanoScale = int32(time.Second)

// Time is a rational timestamp: Value / Scale seconds.
// The zero value has no timescale and is treated as invalid but zero.
type Time struct {
	Value int64
	Scale int32
}

// Invalid is the zero Time.
var Invalid = Time{}

func New(value int64, scale int32) Time {
	if scale <= 0 {
		return Invalid
	}
	return Time{Value: value, Scale: scale}
}

func FromDuration(d time.Duration) Time {
	return Time{Value: int64(d), Scale: NanoScale}
}

// FromSeconds rounds f to the nearest tick of scale.
func FromSeconds(f float64, scale int32) Time {
	if scale <= 0 {
		return Invalid
	}
	return Time{Value: int64(math.Round(f * float64(scale))), Scale: scale}
}

func (t Time) IsValid() bool {
	return t.Scale > 0
}

func (t Time) IsZero() bool {
	return t.Value == 0
}

func (t Time) Seconds() float64 {
	if !t.IsValid() {
		return 0
	}
	return float64(t.Value) / float64(t.Scale)
}

func (t Time) Duration() time.Duration {
	if !t.IsValid() {
		return 0
	}
	return time.Duration(t.Rescale(NanoScale).Value)
}

// Rescale converts t to scale, rounding half away from zero.
func (t Time) Rescale(scale int32) Time {
	if !t.IsValid() || scale <= 0 {
		return Invalid
	}
	if t.Scale == scale {
		return t
	}
	return Time{Value: rescale(t.Value, int64(t.Scale), int64(scale)), Scale: scale}
}

// Ticks returns t expressed in units of 1/scale.
func (t Time) Ticks(scale int32) int64 {
	return t.Rescale(scale).Value
}

func (t Time) Neg() Time {
	if !t.IsValid() {
		return t
	}
	return Time{Value: -t.Value, Scale: t.Scale}
}

// Add returns t + o. An invalid operand that is zero acts as the identity,
// so the zero offset can be added to anything.
func (t Time) Add(o Time) Time {
	switch {
	case !o.IsValid():
		return t
	case !t.IsValid():
		return o
	}
	scale := commonScale(t.Scale, o.Scale)
	return Time{
		Value: t.Rescale(scale).Value + o.Rescale(scale).Value,
		Scale: scale,
	}
}

func (t Time) Sub(o Time) Time {
	return t.Add(o.Neg())
}

// Compare returns -1, 0 or +1. Invalid times compare as zero.
func (t Time) Compare(o Time) int {
	a := big.NewRat(t.Value, int64(max(t.Scale, 1)))
	b := big.NewRat(o.Value, int64(max(o.Scale, 1)))
	return a.Cmp(b)
}

func (t Time) Before(o Time) bool {
	return t.Compare(o) < 0
}

func (t Time) After(o Time) bool {
	return t.Compare(o) > 0
}

func (t Time) String() string {
	if !t.IsValid() {
		return "invalid"
	}
	return fmt.Sprintf("%d/%d (%.6fs)", t.Value, t.Scale, t.Seconds())
}

func commonScale(a, b int32) int32 {
	if a == b {
		return a
	}
	l := lcm(int64(a), int64(b))
	if l <= MaxScale {
		return int32(l)
	}
	return max(a, b)
}

func lcm(a, b int64) int64 {
	return a / gcd(a, b) * b
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func rescale(value, from, to int64) int64 {
	num := new(big.Int).Mul(big.NewInt(value), big.NewInt(to))
	den := big.NewInt(from)
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	// round half away from zero
	r.Abs(r).Mul(r, big.NewInt(2))
	if r.Cmp(den) >= 0 {
		if num.Sign() < 0 {
			q.Sub(q, big.NewInt(1))
		} else {
			q.Add(q, big.NewInt(1))
		}
	}
	return q.Int64()
}
