package variable

import (
	"fmt"
	"math/big"
	"strings"
)

var currencySymbols = map[string]string{
	"COP": "$",
	"USD": "$",
	"EUR": "€",
}

// CurrencyLabel returns the display prefix for a currency code, e.g.
// "COP $". Codes without a known symbol render as the bare code.
func CurrencyLabel(code string) string {
	if code == "" {
		return ""
	}
	if sym, ok := currencySymbols[code]; ok {
		return code + " " + sym
	}
	return code
}

// MaxDecimals is the number of fractional digits a stored number may carry.
// Display rounds to this precision, so anything finer is rejected on input.
const MaxDecimals = 2

// ParseNumber reads a decimal written with either '.' or ',' as the
// thousands or decimal separator. When both appear the last one is the
// decimal point. When only one kind appears it is a thousands separator if
// exactly three digits follow its last occurrence, otherwise the decimal
// point. Thousands groups must be a lead group of one to three digits
// followed by groups of exactly three.
func ParseNumber(s string) (*big.Rat, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidNumber)
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if s == "" {
		return nil, fmt.Errorf("%w: no digits", ErrInvalidNumber)
	}

	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != ',' {
			return nil, fmt.Errorf("%w: unexpected %q", ErrInvalidNumber, r)
		}
	}

	intPart, fracPart, hasPoint := splitDecimal(s)
	if hasPoint && fracPart == "" {
		return nil, fmt.Errorf("%w: trailing separator", ErrInvalidNumber)
	}
	if strings.ContainsAny(fracPart, ".,") {
		return nil, fmt.Errorf("%w: separator after decimal point", ErrInvalidNumber)
	}
	if len(fracPart) > MaxDecimals {
		return nil, fmt.Errorf("%w: at most %d decimals", ErrInvalidNumber, MaxDecimals)
	}
	if err := checkGroups(intPart); err != nil {
		return nil, err
	}
	intPart = strings.NewReplacer(".", "", ",", "").Replace(intPart)
	if intPart == "" && fracPart == "" {
		return nil, fmt.Errorf("%w: no digits", ErrInvalidNumber)
	}

	canonical := intPart
	if canonical == "" {
		canonical = "0"
	}
	if fracPart != "" {
		canonical += "." + fracPart
	}
	if neg {
		canonical = "-" + canonical
	}

	r, ok := new(big.Rat).SetString(canonical)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	return r, nil
}

// ParseDisplay reads a value produced by FormatNumber for currency: the
// currency label, when there is one, must prefix the number.
func ParseDisplay(s, currency string) (*big.Rat, error) {
	s = strings.TrimSpace(s)
	if label := CurrencyLabel(currency); label != "" {
		rest, ok := strings.CutPrefix(s, label+" ")
		if !ok {
			return nil, fmt.Errorf("%w: missing %q label", ErrInvalidNumber, label)
		}
		s = rest
	}
	return ParseNumber(s)
}

// splitDecimal returns the integer digits (separators still present), the
// fractional digits and whether a decimal point was found.
func splitDecimal(s string) (string, string, bool) {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	if lastDot >= 0 && lastComma >= 0 {
		idx := lastDot
		if lastComma > lastDot {
			idx = lastComma
		}
		return s[:idx], s[idx+1:], true
	}

	idx := lastDot
	if lastComma >= 0 {
		idx = lastComma
	}
	if idx < 0 {
		return s, "", false
	}

	tail := s[idx+1:]
	head := s[:idx]
	if len(tail) == 3 && head != "" && head != "0" {
		return s, "", false
	}
	return head, tail, true
}

func checkGroups(intPart string) error {
	hasDot, hasComma := strings.Contains(intPart, "."), strings.Contains(intPart, ",")
	if !hasDot && !hasComma {
		return nil
	}
	if hasDot && hasComma {
		return fmt.Errorf("%w: mixed thousands separators", ErrInvalidNumber)
	}
	sep := "."
	if hasComma {
		sep = ","
	}
	groups := strings.Split(intPart, sep)
	if n := len(groups[0]); n < 1 || n > 3 {
		return fmt.Errorf("%w: bad thousands grouping", ErrInvalidNumber)
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return fmt.Errorf("%w: bad thousands grouping", ErrInvalidNumber)
		}
	}
	return nil
}

// FormatNumber renders n with two decimals and '.' grouping, prefixed by the
// currency label when one is given: 1234567.89 COP -> "COP $ 1.234.567.89".
func FormatNumber(n *big.Rat, currency string) string {
	fixed := n.FloatString(2)
	neg := strings.HasPrefix(fixed, "-")
	fixed = strings.TrimPrefix(fixed, "-")

	intPart, fracPart, _ := strings.Cut(fixed, ".")
	out := groupThousands(intPart) + "." + fracPart
	if neg && strings.Trim(fixed, "0.") != "" {
		out = "-" + out
	}

	if label := CurrencyLabel(currency); label != "" {
		return label + " " + out
	}
	return out
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
