package fixedpoint

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	ErrArithmeticOverflow = errors.New("fixedpoint: arithmetic overflow")
	ErrDivisionByZero     = errors.New("fixedpoint: division by zero")
)

var (
	wad     = uint256.NewInt(1_000_000_000_000_000_000)
	ray     = mustParse("1000000000000000000000000000")                   // 1e27
	rad     = mustParse("1000000000000000000000000000000000000000000000") // 1e45
	halfRay = new(uint256.Int).Rsh(ray, 1)
)

func mustParse(value string) *uint256.Int {
	v, err := uint256.FromDecimal(value)
	if err != nil {
		panic("invalid fixed point constant")
	}
	return v
}

// Zero returns a fresh zero value.
func Zero() *uint256.Int { return new(uint256.Int) }

// Copy returns an independent copy of x. A nil input yields zero.
func Copy(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(x)
}

func Add(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(Copy(a), Copy(b))
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

// Sub returns a-b. Results below zero are reported as overflow since every
// ledger quantity is unsigned.
func Sub(a, b *uint256.Int) (*uint256.Int, error) {
	out, underflow := new(uint256.Int).SubOverflow(Copy(a), Copy(b))
	if underflow {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulOverflow(Copy(a), Copy(b))
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

// Div performs truncating integer division.
func Div(a, b *uint256.Int) (*uint256.Int, error) {
	if b == nil || b.IsZero() {
		return nil, ErrDivisionByZero
	}
	return new(uint256.Int).Div(Copy(a), b), nil
}

// MulDiv computes a*b/d with a 512-bit intermediate product so only a quotient
// wider than 256 bits overflows.
func MulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	if d == nil || d.IsZero() {
		return nil, ErrDivisionByZero
	}
	out, overflow := new(uint256.Int).MulDivOverflow(Copy(a), Copy(b), d)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

// MulRay multiplies x by a ray-precision factor, truncating the result.
func MulRay(x, y *uint256.Int) (*uint256.Int, error) { return MulDiv(x, y, ray) }

// DivRay divides x by y and expresses the quotient in ray precision.
func DivRay(x, y *uint256.Int) (*uint256.Int, error) { return MulDiv(x, ray, y) }

// PowRay raises a ray-precision base to n using binary exponentiation. Each
// intermediate product rounds half up.
func PowRay(base *uint256.Int, n uint64) (*uint256.Int, error) {
	x := Copy(base)
	z := Copy(ray)
	if n%2 != 0 {
		z = Copy(x)
	}
	for n /= 2; n != 0; n /= 2 {
		next, err := mulRayHalfUp(x, x)
		if err != nil {
			return nil, err
		}
		x = next
		if n%2 != 0 {
			next, err = mulRayHalfUp(z, x)
			if err != nil {
				return nil, err
			}
			z = next
		}
	}
	return z, nil
}

func mulRayHalfUp(a, b *uint256.Int) (*uint256.Int, error) {
	product, err := Mul(a, b)
	if err != nil {
		return nil, err
	}
	product, err = Add(product, halfRay)
	if err != nil {
		return nil, err
	}
	return product.Div(product, ray), nil
}

func Min(a, b *uint256.Int) *uint256.Int {
	if Copy(a).Lt(Copy(b)) {
		return Copy(a)
	}
	return Copy(b)
}

func Max(a, b *uint256.Int) *uint256.Int {
	if Copy(a).Gt(Copy(b)) {
		return Copy(a)
	}
	return Copy(b)
}

// ClampRay saturates a ratio at one ray.
func ClampRay(x *uint256.Int) *uint256.Int { return Min(x, ray) }

// WadToRad lifts a low-precision amount to value precision.
func WadToRad(x *uint256.Int) (*uint256.Int, error) { return Mul(x, ray) }

// Neg returns -x as a signed delta.
func Neg(x *uint256.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Neg(x.ToBig())
}

// ApplyDelta adds a signed delta to an unsigned quantity. The result must stay
// within [0, 2^256).
func ApplyDelta(x *uint256.Int, delta *big.Int) (*uint256.Int, error) {
	if delta == nil || delta.Sign() == 0 {
		return Copy(x), nil
	}
	sum := new(big.Int).Add(Copy(x).ToBig(), delta)
	if sum.Sign() < 0 {
		return nil, ErrArithmeticOverflow
	}
	out, overflow := uint256.FromBig(sum)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

// FromBig converts a non-negative big integer.
func FromBig(x *big.Int) (*uint256.Int, error) {
	if x == nil {
		return new(uint256.Int), nil
	}
	if x.Sign() < 0 {
		return nil, ErrArithmeticOverflow
	}
	out, overflow := uint256.FromBig(x)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}
