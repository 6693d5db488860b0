package tabular

import (
	"strconv"
	"strings"
)

// ParseQuantity leniently parses a numeric cell from an untrusted feed.
// Thousands separators, currency symbols, and surrounding whitespace are
// stripped before parsing. The second return is false when nothing numeric
// remains; callers coerce that to zero and tally an import warning.
func ParseQuantity(s string) (float64, bool) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ',', '，', '¥', '￥', '$', '€', ' ', '　', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
	if cleaned == "" {
		return 0, false
	}
	// Accounting-style negatives: (123) means -123.
	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		cleaned = "-" + cleaned[1:len(cleaned)-1]
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParsePositiveInt parses a strict positive integer, as required for count
// quantities. Unlike ParseQuantity it accepts no separators or symbols.
func ParsePositiveInt(s string) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || v < 1 {
		return 0, false
	}
	return v, true
}
