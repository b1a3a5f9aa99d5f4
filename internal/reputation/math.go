package reputation

import (
	"math"
	"math/bits"
)

func saturatingAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return sum
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

func saturatingMul(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return math.MaxUint64
	}
	return lo
}

func saturatingSubInt64(a, b int64) int64 {
	diff := a - b
	// Overflow iff the operands have different signs and the result's sign
	// differs from a's.
	if (a >= 0) != (b >= 0) && (diff >= 0) != (a >= 0) {
		if a >= 0 {
			return math.MaxInt64
		}
		return math.MinInt64
	}
	return diff
}

// CalculateDecay applies compound decay day by day:
// remaining -= remaining*rate/10000, with saturating arithmetic. The result
// never exceeds current and is non-increasing in both days and rate.
func CalculateDecay(current uint64, days int64, ratePerDay uint64) uint64 {
	if days <= 0 {
		return current
	}
	remaining := current
	for i := int64(0); i < days; i++ {
		cut := saturatingMul(remaining, ratePerDay) / 10000
		if cut == 0 {
			// Fixed point: every later day would subtract nothing too.
			break
		}
		remaining = saturatingSub(remaining, cut)
	}
	return remaining
}

// CalculateVouchBonus turns the share of positive vouches into a bonus:
// 0 with no vouches, +25 when all are positive, -25 when all are negative.
// It is advisory and never written to a profile.
func CalculateVouchBonus(positive, negative uint64) int64 {
	total, carry := bits.Add64(positive, negative, 0)
	if carry != 0 {
		// Halve both counts; the ratio is what matters.
		positive, negative = positive/2, negative/2
		total = positive + negative
	}
	if total == 0 {
		return 0
	}
	hi, lo := bits.Mul64(positive, 100)
	ratio, _ := bits.Div64(hi, lo, total)
	return (int64(ratio) - 50) / 2
}

// DaysInactive is the number of whole days between lastActivity and now.
func DaysInactive(lastActivity, now int64) int64 {
	return saturatingSubInt64(now, lastActivity) / SecondsPerDay
}
