package escrow

import (
	"math/big"
	"strings"
)

// Amounts are decimal strings with up to 6 fractional digits, held
// internally as big.Int micro-units so conservation checks are exact.

// parseAmount converts a decimal string like "100.5" to micro-units.
func parseAmount(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if len(frac) > 6 {
		return nil, false
	}
	for len(frac) < 6 {
		frac += "0"
	}

	result, ok := new(big.Int).SetString(whole+frac, 10)
	return result, ok
}

// formatAmount converts micro-units back to a decimal string.
func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0.000000"
	}
	neg := amount.Sign() < 0
	s := new(big.Int).Abs(amount).String()
	for len(s) < 7 {
		s = "0" + s
	}
	decimal := len(s) - 6
	out := s[:decimal] + "." + s[decimal:]
	if neg {
		out = "-" + out
	}
	return out
}

// sumsToLocked reports whether a+b equals the locked total exactly.
func sumsToLocked(a, b, locked string) bool {
	av, ok1 := parseAmount(a)
	bv, ok2 := parseAmount(b)
	lv, ok3 := parseAmount(locked)
	if !ok1 || !ok2 || !ok3 {
		return false
	}
	return new(big.Int).Add(av, bv).Cmp(lv) == 0
}

// positiveAmount reports whether s parses to a strictly positive value.
func positiveAmount(s string) bool {
	v, ok := parseAmount(s)
	return ok && v.Sign() > 0
}

// ParseAmount converts a decimal string to exact micro-units for callers
// that need to do arithmetic on amounts (matching, fee proration).
func ParseAmount(s string) (*big.Int, bool) {
	return parseAmount(s)
}

// FormatAmount converts micro-units back to the canonical decimal string.
func FormatAmount(v *big.Int) string {
	return formatAmount(v)
}

// halfOf splits an amount into two halves that sum exactly to the input;
// the first half receives any odd micro-unit.
func halfOf(s string) (string, string, bool) {
	v, ok := parseAmount(s)
	if !ok {
		return "", "", false
	}
	half := new(big.Int).Rsh(v, 1)
	rest := new(big.Int).Sub(v, half)
	return formatAmount(rest), formatAmount(half), true
}
