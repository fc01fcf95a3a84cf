package pool

import (
	"fmt"
	"math"
)

// AmountMaxFraction is the fixed denominator for the fractional part of an
// Amount. One whole unit is this many fraction ticks.
const AmountMaxFraction uint64 = 1_000_000_000_000_000_000

// Amount represents a monetary value as a signed integral part and an
// unsigned fraction scaled by AmountMaxFraction. Ordering is lexicographic
// on (integral, fraction).
type Amount struct {
	Integral int32
	Fraction uint64
}

// NewAmount constructs a normalized amount from its parts.
func NewAmount(integral int32, fraction uint64) Amount {
	a := Amount{Integral: integral, Fraction: fraction}
	a.normalize()
	return a
}

// AmountFromDouble constructs an amount from a float. Used only at the edges
// (config, fee estimation); chain math stays on the pair.
func AmountFromDouble(v float64) Amount {
	floor := math.Floor(v)
	frac := v - floor
	return NewAmount(int32(floor), uint64(frac*float64(AmountMaxFraction)+0.5))
}

func (a *Amount) normalize() {
	for a.Fraction >= AmountMaxFraction {
		a.Fraction -= AmountMaxFraction
		a.Integral++
	}
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool {
	return a.Integral == 0 && a.Fraction == 0
}

// IsNegative reports whether the amount is below zero.
func (a Amount) IsNegative() bool {
	return a.Integral < 0
}

// Cmp compares two amounts: -1 if a < b, 0 if equal, +1 if a > b.
func (a Amount) Cmp(b Amount) int {
	switch {
	case a.Integral < b.Integral:
		return -1
	case a.Integral > b.Integral:
		return 1
	case a.Fraction < b.Fraction:
		return -1
	case a.Fraction > b.Fraction:
		return 1
	}
	return 0
}

// Add returns the sum of two amounts.
func (a Amount) Add(b Amount) Amount {
	sum := Amount{Integral: a.Integral + b.Integral, Fraction: a.Fraction + b.Fraction}
	sum.normalize()
	return sum
}

// Sub returns a minus b. A borrowed fraction decrements the integral part, so
// the result stays well ordered even when it goes negative.
func (a Amount) Sub(b Amount) Amount {
	res := Amount{Integral: a.Integral - b.Integral}
	if a.Fraction >= b.Fraction {
		res.Fraction = a.Fraction - b.Fraction
	} else {
		res.Integral--
		res.Fraction = AmountMaxFraction - (b.Fraction - a.Fraction)
	}
	return res
}

// Double returns the closest float representation. Precision loss makes this
// unfit for chain math; it exists for fee checks and display.
func (a Amount) Double() float64 {
	return float64(a.Integral) + float64(a.Fraction)/float64(AmountMaxFraction)
}

// String renders the amount in decimal form.
func (a Amount) String() string {
	return fmt.Sprintf("%d.%018d", a.Integral, a.Fraction)
}

func (a Amount) put(e *Encoder) {
	e.PutInt32(a.Integral)
	e.PutUint64(a.Fraction)
}

func getAmount(d *Decoder) Amount {
	return Amount{Integral: d.GetInt32(), Fraction: d.GetUint64()}
}
