// Package fixed implements the unsigned fixed-point arithmetic shared by every
// reward engine. All products are evaluated at 256-bit width and truncated
// toward zero, which is the only rounding rule used anywhere in the engine.
package fixed

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/holiman/uint256"
)

// Ratio is an unsigned fixed-point number with Decimals fractional digits.
type Ratio uint64

// Micro is an amount expressed in millionths of a whole token.
type Micro uint64

const (
	// Decimals is the number of fractional digits carried by a Ratio.
	Decimals = 12
	// One is the Ratio representation of 1.0.
	One Ratio = 1_000_000_000_000
	// MicroPerUnit is the number of micro-units in one whole token.
	MicroPerUnit Micro = 1_000_000
	// BpsDenominator is the basis point denominator used by configuration.
	BpsDenominator = 10_000

	// MaxRatio is the saturation value returned on overflow.
	MaxRatio Ratio = math.MaxUint64
)

var (
	// ErrNotFinite is returned when a float boundary value is NaN or infinite.
	ErrNotFinite = errors.New("fixed: value is not finite")
	// ErrNegative is returned when a negative value is supplied.
	ErrNegative = errors.New("fixed: value is negative")
	// ErrSyntax is returned for malformed decimal strings.
	ErrSyntax = errors.New("fixed: invalid decimal")
)

// mulDiv computes floor(a*b/d) at 256-bit width and saturates at MaxUint64.
func mulDiv(a, b, d uint64) uint64 {
	if d == 0 {
		return math.MaxUint64
	}
	x := new(uint256.Int).SetUint64(a)
	x.Mul(x, new(uint256.Int).SetUint64(b))
	x.Div(x, new(uint256.Int).SetUint64(d))
	if !x.IsUint64() {
		return math.MaxUint64
	}
	return x.Uint64()
}

// FromInt converts a whole number into a Ratio.
func FromInt(n uint64) Ratio {
	return Ratio(mulDiv(n, uint64(One), 1))
}

// FromBps converts basis points (1/10_000) into a Ratio.
func FromBps(bps uint64) Ratio {
	return Ratio(mulDiv(bps, uint64(One), BpsDenominator))
}

// FromFraction returns num/den as a Ratio. A zero denominator saturates.
func FromFraction(num, den uint64) Ratio {
	return Ratio(mulDiv(num, uint64(One), den))
}

// FromFloat converts a float into a Ratio by truncation. It is the only place
// where floating point values enter the engine and is reserved for opaque model
// outputs.
func FromFloat(f float64) (Ratio, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, ErrNotFinite
	}
	if f < 0 {
		return 0, ErrNegative
	}
	scaled := new(big.Float).SetPrec(128).SetFloat64(f)
	scaled.Mul(scaled, new(big.Float).SetPrec(128).SetUint64(uint64(One)))
	value, _ := scaled.Int(nil)
	if !value.IsUint64() {
		return MaxRatio, nil
	}
	return Ratio(value.Uint64()), nil
}

// MustParse is like Parse but panics on malformed input. Intended for
// package-level constants.
func MustParse(s string) Ratio {
	r, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return r
}

// Parse reads a non-negative decimal string such as "0.001" or "3.5" without
// passing through floating point. Digits beyond Decimals are truncated.
func Parse(s string) (Ratio, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrSyntax)
	}
	if strings.HasPrefix(s, "-") {
		return 0, ErrNegative
	}
	s = strings.TrimPrefix(s, "+")
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	intPart, err := strconv.ParseUint(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	if len(frac) > Decimals {
		frac = frac[:Decimals]
	}
	var fracPart uint64
	if frac != "" {
		for _, ch := range frac {
			if ch < '0' || ch > '9' {
				return 0, fmt.Errorf("%w: %q", ErrSyntax, s)
			}
		}
		fracPart, err = strconv.ParseUint(frac+strings.Repeat("0", Decimals-len(frac)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrSyntax, s)
		}
	}
	return Add(FromInt(intPart), Ratio(fracPart)), nil
}

// Mul returns a*b truncated.
func Mul(a, b Ratio) Ratio {
	return Ratio(mulDiv(uint64(a), uint64(b), uint64(One)))
}

// Quo returns a/b truncated. Division by zero saturates.
func Quo(a, b Ratio) Ratio {
	return Ratio(mulDiv(uint64(a), uint64(One), uint64(b)))
}

// Add returns a+b, saturating on overflow.
func Add(a, b Ratio) Ratio {
	sum := a + b
	if sum < a {
		return MaxRatio
	}
	return sum
}

// Sub returns a-b floored at zero.
func Sub(a, b Ratio) Ratio {
	if b >= a {
		return 0
	}
	return a - b
}

// Min returns the smaller of a and b.
func Min(a, b Ratio) Ratio {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Ratio) Ratio {
	if a > b {
		return a
	}
	return b
}

// Clamp bounds r to [lo, hi].
func Clamp(r, lo, hi Ratio) Ratio {
	return Min(Max(r, lo), hi)
}

// ScaleInt returns n*r truncated to a whole number.
func ScaleInt(n uint64, r Ratio) uint64 {
	return mulDiv(n, uint64(r), uint64(One))
}

// MulMicro scales a micro amount by r, truncating toward zero.
func MulMicro(m Micro, r Ratio) Micro {
	return Micro(mulDiv(uint64(m), uint64(r), uint64(One)))
}

// Floor returns the integer part of r.
func (r Ratio) Floor() uint64 {
	return uint64(r / One)
}

// Bps returns r expressed in basis points, truncated.
func (r Ratio) Bps() uint64 {
	return mulDiv(uint64(r), BpsDenominator, uint64(One))
}

// Float64 is for display only; results must never be fed back into the engine.
func (r Ratio) Float64() float64 {
	return float64(r) / float64(One)
}

// String renders r as a decimal without trailing zeros.
func (r Ratio) String() string {
	whole := uint64(r / One)
	frac := uint64(r % One)
	if frac == 0 {
		return strconv.FormatUint(whole, 10)
	}
	digits := fmt.Sprintf("%012d", frac)
	return strconv.FormatUint(whole, 10) + "." + strings.TrimRight(digits, "0")
}

// String renders m in whole tokens with six decimals.
func (m Micro) String() string {
	return fmt.Sprintf("%d.%06d", uint64(m/MicroPerUnit), uint64(m%MicroPerUnit))
}

// Ratio converts a micro amount into a Ratio of whole tokens.
func (m Micro) Ratio() Ratio {
	return Ratio(mulDiv(uint64(m), uint64(One), uint64(MicroPerUnit)))
}
