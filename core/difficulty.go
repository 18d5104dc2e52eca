package core

import "math/big"

// DifficultyParams holds the ASERT retargeting parameters read from genesis
// configuration: anchor difficulty/timestamp at a reference
// height, a target block time, and a half-life controlling how fast the
// difficulty reacts to solve-time drift.
type DifficultyParams struct {
	AnchorHeight     Height
	AnchorDifficulty *big.Int
	AnchorTimestampMs int64
	TargetBlockTimeMs int64
	HalfLifeMs        int64
	MinDifficulty     *big.Int
}

// NextDifficulty computes the ASERT-style difficulty target for a block at
// height, given the parent's timestamp. The exponent is approximated with
// fixed-point integer arithmetic (no floats in consensus-critical code) and
// clamped to [MinDifficulty, 4*AnchorDifficulty] to damp oscillation; the
// clamp bound is this implementation's own choice, not dictated upstream.
func NextDifficulty(p *DifficultyParams, height Height, parentTimestampMs int64) *big.Int {
	heightDelta := int64(height) - int64(p.AnchorHeight)
	idealTimestampMs := p.AnchorTimestampMs + heightDelta*p.TargetBlockTimeMs
	drift := parentTimestampMs - idealTimestampMs

	// exponent = drift / half_life, computed in 1/65536ths for precision
	// without floating point.
	const fixedPointShift = 16
	exponent := (drift << fixedPointShift) / p.HalfLifeMs

	next := asertScale(p.AnchorDifficulty, exponent, fixedPointShift)

	min := p.MinDifficulty
	if min == nil {
		min = big.NewInt(1)
	}
	if next.Cmp(min) < 0 {
		return new(big.Int).Set(min)
	}
	max := new(big.Int).Mul(p.AnchorDifficulty, big.NewInt(4))
	if next.Cmp(max) > 0 {
		return max
	}
	return next
}

// asertScale multiplies anchor by 2^(exponent / 2^shift): the integer part
// of the exponent is applied as a bit shift and the fractional part through
// a linear approximation of 2^frac.
func asertScale(anchor *big.Int, exponent int64, shift uint) *big.Int {
	whole := exponent >> shift
	frac := exponent - (whole << shift)

	result := new(big.Int).Set(anchor)
	if whole > 0 {
		result.Lsh(result, uint(whole))
	} else if whole < 0 {
		result.Rsh(result, uint(-whole))
	}

	// Linear approximation of 2^(frac/2^shift) in [1,2): avoids pulling in
	// a floating-point power function for a consensus-critical path.
	one := int64(1) << shift
	num := new(big.Int).Mul(result, big.NewInt(one+frac))
	result = num.Rsh(num, shift)

	if result.Sign() <= 0 {
		return big.NewInt(1)
	}
	return result
}

// PowTarget converts a difficulty value into the maximum PoW digest
// (interpreted as a big-endian unsigned integer) that satisfies it: higher
// difficulty implies a smaller target. maxTarget is the algorithm's
// widest possible digest space (e.g. 2^256 - 1 for a 32-byte digest).
func PowTarget(maxTarget, difficulty *big.Int) *big.Int {
	if difficulty == nil || difficulty.Sign() <= 0 {
		return new(big.Int).Set(maxTarget)
	}
	return new(big.Int).Div(maxTarget, difficulty)
}
