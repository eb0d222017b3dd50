package validate

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseMoney parses a currency amount written in either the comma-decimal
// convention used by Brazilian documents ("1.234,56") or the dot-decimal
// convention ("1234.56"). Currency symbols and whitespace are stripped.
//
// Disambiguation rules:
//   - both separators present: the rightmost one is the decimal separator;
//   - only a comma: decimal separator;
//   - only a dot: decimal when followed by exactly two digits, thousands
//     separator otherwise ("1.234" means 1234).
func ParseMoney(s string) (float64, error) {
	cleaned := strings.TrimSpace(s)
	for _, sym := range []string{"R$", "r$", "$", "BRL"} {
		cleaned = strings.ReplaceAll(cleaned, sym, "")
	}
	cleaned = strings.TrimSpace(cleaned)
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	if cleaned == "" {
		return 0, fmt.Errorf("empty amount")
	}

	negative := strings.HasPrefix(cleaned, "-")
	cleaned = strings.TrimPrefix(cleaned, "-")

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			// 1.234,56
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			// 1,234.56
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
		if strings.Count(cleaned, ".") > 1 {
			return 0, fmt.Errorf("ambiguous amount %q", s)
		}
	case lastDot >= 0:
		frac := len(cleaned) - lastDot - 1
		if frac != 2 || strings.Count(cleaned, ".") > 1 {
			// thousands separator(s)
			cleaned = strings.ReplaceAll(cleaned, ".", "")
		}
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("unparsable amount %q: %w", s, err)
	}
	if negative {
		value = -value
	}
	return value, nil
}

// FormatMoney renders a float in the comma-decimal convention with two
// fraction digits, without a currency symbol.
func FormatMoney(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	return strings.Replace(s, ".", ",", 1)
}
