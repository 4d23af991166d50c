package fixedpoint

import (
	"math/big"
	"strings"
)

// Format renders the amount with displayDecimals fractional digits, rounding
// half away from zero, optionally grouping the integer part with commas.
func (a Amount) Format(displayDecimals int32, withCommas bool) string {
	if displayDecimals < 0 {
		displayDecimals = 0
	}
	s := a.Decimal().StringFixed(displayDecimals)
	if withCommas {
		s = groupThousands(s)
	}
	return s
}

// FormatRaw formats raw integer units of the given scale
func FormatRaw(raw *big.Int, decimals, displayDecimals int32, withCommas bool) string {
	return New(raw, decimals).Format(displayDecimals, withCommas)
}

func groupThousands(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}

	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}

	if len(intPart) <= 3 {
		return sign + intPart + frac
	}

	var b strings.Builder
	head := len(intPart) % 3
	if head > 0 {
		b.WriteString(intPart[:head])
	}
	for i := head; i < len(intPart); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(intPart[i : i+3])
	}

	return sign + b.String() + frac
}
