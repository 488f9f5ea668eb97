package math

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Scale defines a fixed-point precision used by the protocol contracts.
type Scale struct {
	Name     string
	Decimals int32 // Number of decimal places
}

var (
	// Standard scales
	Wad = Scale{Name: "wad", Decimals: 18} // token amounts, normalized debt
	Ray = Scale{Name: "ray", Decimals: 27} // rates and multipliers
	Rad = Scale{Name: "rad", Decimals: 45} // wad * ray, internal coin and global debt
)

var (
	Zero = decimal.Zero
	One  = decimal.NewFromInt(1)
)

type RoundingMode int

const (
	RoundHalfEven RoundingMode = iota // Banker's rounding (default)
	RoundDown
	RoundUp
)

// FromInt converts a raw on-chain integer in this scale to a decimal.
// A nil value converts to zero.
func (s Scale) FromInt(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -s.Decimals)
}

// ToInt converts a decimal back to the raw integer representation of this scale.
func (s Scale) ToInt(d decimal.Decimal, mode RoundingMode) *big.Int {
	shifted := d.Shift(s.Decimals)

	switch mode {
	case RoundDown:
		shifted = shifted.RoundDown(0)
	case RoundUp:
		shifted = shifted.RoundUp(0)
	default:
		shifted = shifted.RoundBank(0)
	}

	return shifted.BigInt()
}

func (s Scale) String() string {
	return fmt.Sprintf("%s(1e%d)", s.Name, s.Decimals)
}

// FromWad decodes an 18-decimal fixed-point integer.
func FromWad(v *big.Int) decimal.Decimal {
	return Wad.FromInt(v)
}

// FromRay decodes a 27-decimal fixed-point integer.
func FromRay(v *big.Int) decimal.Decimal {
	return Ray.FromInt(v)
}

// FromRad decodes a 45-decimal fixed-point integer.
func FromRad(v *big.Int) decimal.Decimal {
	return Rad.FromInt(v)
}

// MulRate multiplies a normalized wad amount by a ray rate, yielding a rad
// amount. Decimal multiplication is exact, so no rounding is applied.
func MulRate(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate)
}

// ParseBigInt parses a decimal or 0x-prefixed hex integer string.
func ParseBigInt(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty integer")
	}
	v, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}
