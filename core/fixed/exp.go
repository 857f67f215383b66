package fixed

import "github.com/holiman/uint256"

// Internal transcendental functions run at 18 decimals and are truncated back to
// Decimals on return so that the last digit of a Ratio never depends on the
// series cut-off.
const (
	wad         = 1_000_000_000_000_000_000
	wadPerRatio = wad / uint64(One)

	// ln(2) and log10(2) truncated to 18 decimals.
	ln2Wad    = 693_147_180_559_945_309
	log102Wad = 301_029_995_663_981_195

	expTerms  = 24
	log2Bits  = 48
	expCutoff = 64 // e^-64 is below the smallest representable Ratio
)

// ExpNeg returns e^(-x). ExpNeg(0) is exactly One and the function is
// non-increasing in x.
func ExpNeg(x Ratio) Ratio {
	if x == 0 {
		return One
	}
	if x >= FromInt(expCutoff) {
		return 0
	}
	w := new(uint256.Int).Mul(uint256.NewInt(uint64(x)), uint256.NewInt(wadPerRatio))
	ln2 := uint256.NewInt(ln2Wad)
	n := new(uint256.Int).Div(w, ln2)
	r := new(uint256.Int).Sub(w, new(uint256.Int).Mul(n, ln2))

	// e^-r for r in [0, ln2) as an alternating Taylor series.
	one := uint256.NewInt(wad)
	pos := new(uint256.Int).Set(one)
	neg := new(uint256.Int)
	term := new(uint256.Int).Set(one)
	for k := uint64(1); k <= expTerms; k++ {
		term.Mul(term, r)
		term.Div(term, new(uint256.Int).Mul(one, uint256.NewInt(k)))
		if term.IsZero() {
			break
		}
		if k%2 == 1 {
			neg.Add(neg, term)
		} else {
			pos.Add(pos, term)
		}
	}
	if neg.Cmp(pos) >= 0 {
		return 0
	}
	result := new(uint256.Int).Sub(pos, neg)
	result.Rsh(result, uint(n.Uint64()))
	result.Div(result, uint256.NewInt(wadPerRatio))
	return Ratio(result.Uint64())
}

// Log2 returns log2(x) for x >= One and zero below One.
func Log2(x Ratio) Ratio {
	if x <= One {
		return 0
	}
	one := uint256.NewInt(wad)
	two := uint256.NewInt(2 * wad)
	y := new(uint256.Int).Mul(uint256.NewInt(uint64(x)), uint256.NewInt(wadPerRatio))

	var whole uint64
	for y.Cmp(two) >= 0 {
		y.Rsh(y, 1)
		whole++
	}
	result := new(uint256.Int).Mul(uint256.NewInt(whole), one)
	bit := new(uint256.Int).Rsh(one, 1)
	for i := 0; i < log2Bits && !bit.IsZero(); i++ {
		y.Mul(y, y)
		y.Div(y, one)
		if y.Cmp(two) >= 0 {
			y.Rsh(y, 1)
			result.Add(result, bit)
		}
		bit.Rsh(bit, 1)
	}
	result.Div(result, uint256.NewInt(wadPerRatio))
	return Ratio(result.Uint64())
}

// Log10 returns log10(x) for x >= One and zero below One.
func Log10(x Ratio) Ratio {
	l2 := Log2(x)
	if l2 == 0 {
		return 0
	}
	v := new(uint256.Int).Mul(uint256.NewInt(uint64(l2)), uint256.NewInt(log102Wad))
	v.Div(v, uint256.NewInt(wad))
	return Ratio(v.Uint64())
}
