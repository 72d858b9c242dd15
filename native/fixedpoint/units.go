package fixedpoint

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// Unit names one of the three ledger precisions.
type Unit uint8

const (
	// UnitWad is the low precision used for collateral, debt and equity (1e18).
	UnitWad Unit = iota
	// UnitRay is the ratio precision used for prices and ratios (1e27).
	UnitRay
	// UnitRad is the value precision used for system totals (1e45).
	UnitRad
)

var errMalformedDecimal = errors.New("fixedpoint: malformed decimal")

func (u Unit) decimals() int {
	switch u {
	case UnitRay:
		return 27
	case UnitRad:
		return 45
	default:
		return 18
	}
}

func (u Unit) String() string {
	switch u {
	case UnitRay:
		return "ray"
	case UnitRad:
		return "rad"
	default:
		return "wad"
	}
}

// One returns a single unit expressed in precision u.
func One(u Unit) *uint256.Int {
	switch u {
	case UnitRay:
		return Copy(ray)
	case UnitRad:
		return Copy(rad)
	default:
		return Copy(wad)
	}
}

// Wad returns n whole units in low precision.
func Wad(n uint64) *uint256.Int { return new(uint256.Int).Mul(uint256.NewInt(n), wad) }

// Ray returns n whole units in ratio precision.
func Ray(n uint64) *uint256.Int { return new(uint256.Int).Mul(uint256.NewInt(n), ray) }

// Rad returns n whole units in value precision.
func Rad(n uint64) *uint256.Int { return new(uint256.Int).Mul(uint256.NewInt(n), rad) }

// Parse reads a plain decimal such as "0.987" or "150" in precision u.
// Digits beyond the precision are rejected rather than rounded.
func Parse(value string, u Unit) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, errMalformedDecimal
	}
	whole, frac, _ := strings.Cut(trimmed, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > u.decimals() {
		return nil, fmt.Errorf("%w: %q exceeds %d decimals", errMalformedDecimal, value, u.decimals())
	}
	for _, part := range []string{whole, frac} {
		for _, r := range part {
			if r < '0' || r > '9' {
				return nil, fmt.Errorf("%w: %q", errMalformedDecimal, value)
			}
		}
	}
	digits := strings.TrimLeft(whole+frac+strings.Repeat("0", u.decimals()-len(frac)), "0")
	if digits == "" {
		return new(uint256.Int), nil
	}
	out, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

// MustParse is Parse for constants; it panics on malformed input.
func MustParse(value string, u Unit) *uint256.Int {
	out, err := Parse(value, u)
	if err != nil {
		panic(err)
	}
	return out
}

// Format renders x as a decimal in precision u with trailing zeros trimmed.
func Format(x *uint256.Int, u Unit) string {
	digits := Copy(x).Dec()
	places := u.decimals()
	if len(digits) <= places {
		digits = strings.Repeat("0", places-len(digits)+1) + digits
	}
	whole := digits[:len(digits)-places]
	frac := strings.TrimRight(digits[len(digits)-places:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}
