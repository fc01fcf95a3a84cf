package pool

import "math"

// Commission is the compressed-float fee representation carried on every
// transaction: one sign bit, a 5-bit decimal exponent biased by 18 and a
// 10-bit mantissa packed into 16 bits. The format is lossy; fees are compared
// through their decoded values.
type Commission uint16

const (
	commissionSignShift = 15
	commissionExpShift  = 10
	commissionExpBias   = 18
	commissionExpMask   = 0x1f
	commissionManMask   = 0x3ff
	commissionManDenom  = 1024
)

// CommissionFromDouble packs a fee value into the 16-bit wire form.
func CommissionFromDouble(v float64) Commission {
	var sign uint16
	if v < 0 {
		sign = 1
		v = -v
	}
	if v == 0 {
		return Commission(sign << commissionSignShift)
	}

	exp := int(math.Floor(math.Log10(v)))
	man := int(v/math.Pow10(exp)*commissionManDenom/10 + 0.5)
	if man >= commissionManDenom {
		man /= 10
		exp++
	}

	biased := exp + commissionExpBias
	if biased < 0 {
		biased = 0
	}
	if biased > commissionExpMask {
		biased = commissionExpMask
	}

	return Commission(sign<<commissionSignShift |
		uint16(biased)<<commissionExpShift |
		uint16(man)&commissionManMask)
}

// Double unpacks the fee to its float value.
func (c Commission) Double() float64 {
	man := float64(c&commissionManMask) / commissionManDenom * 10
	exp := int(c>>commissionExpShift&commissionExpMask) - commissionExpBias
	v := man * math.Pow10(exp)
	if c>>commissionSignShift != 0 {
		v = -v
	}
	return v
}

func (c Commission) put(e *Encoder) {
	e.PutUint16(uint16(c))
}

func getCommission(d *Decoder) Commission {
	return Commission(d.GetUint16())
}
