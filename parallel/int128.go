package parallel

import "math/big"

// Int128 is a saturating signed-128-bit accumulator. Go has no native
// int128; balances in a single block can exceed signed-64-bit but the
// engine's invariant (spec MVM §4.A/§4.B) is that every reachable delta
// saturates at the signed-128-bit bounds rather than wrapping.
type Int128 struct {
	v *big.Int
}

var (
	maxInt128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minInt128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// ZeroInt128 returns the additive identity.
func ZeroInt128() Int128 {
	return Int128{v: new(big.Int)}
}

// NewInt128FromBigInt builds a saturated Int128 from an arbitrary-precision delta.
func NewInt128FromBigInt(x *big.Int) Int128 {
	return Int128{v: saturate(new(big.Int).Set(x))}
}

func saturate(x *big.Int) *big.Int {
	if x.Cmp(maxInt128) > 0 {
		return new(big.Int).Set(maxInt128)
	}
	if x.Cmp(minInt128) < 0 {
		return new(big.Int).Set(minInt128)
	}
	return x
}

// Add returns a saturated a+b.
func (a Int128) Add(b Int128) Int128 {
	return Int128{v: saturate(new(big.Int).Add(a.big(), b.big()))}
}

// Sub returns a saturated a-b.
func (a Int128) Sub(b Int128) Int128 {
	return Int128{v: saturate(new(big.Int).Sub(a.big(), b.big()))}
}

// Neg returns a saturated -a.
func (a Int128) Neg() Int128 {
	return Int128{v: saturate(new(big.Int).Neg(a.big()))}
}

// Sign returns -1, 0 or 1.
func (a Int128) Sign() int { return a.big().Sign() }

// IsZero reports whether the value is exactly zero.
func (a Int128) IsZero() bool { return a.Sign() == 0 }

// BigInt returns a defensive copy of the underlying value.
func (a Int128) BigInt() *big.Int { return new(big.Int).Set(a.big()) }

// MaxInt128 returns the saturation ceiling.
func MaxInt128() Int128 { return Int128{v: new(big.Int).Set(maxInt128)} }

// MinInt128 returns the saturation floor.
func MinInt128() Int128 { return Int128{v: new(big.Int).Set(minInt128)} }

// AtMax reports whether the value sits at the saturation ceiling.
func (a Int128) AtMax() bool { return a.big().Cmp(maxInt128) == 0 }

// AtMin reports whether the value sits at the saturation floor.
func (a Int128) AtMin() bool { return a.big().Cmp(minInt128) == 0 }

func (a Int128) big() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

func (a Int128) String() string { return a.big().String() }

// Fits128 reports whether x is representable without saturation. Used where
// the spec requires rejecting an out-of-range value outright instead of
// silently clamping it (the gas-debit check in the per-transaction routine).
func Fits128(x *big.Int) bool {
	return x.Cmp(minInt128) >= 0 && x.Cmp(maxInt128) <= 0
}
