package orders

import (
	"regexp"
	"strconv"
	"strings"
)

// ParseEuropeanNumber parses "1.234,56" style amounts as well as plain
// "1234.56". Unparseable input is 0: invoice exports mix empty cells,
// dashes and currency symbols freely.
func ParseEuropeanNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return 0
	}
	s = strings.Trim(s, "€£$ ")
	s = strings.TrimSpace(s)

	hasComma := strings.Contains(s, ",")
	hasDot := strings.Contains(s, ".")
	switch {
	case hasComma && hasDot:
		// The rightmost separator is the decimal mark.
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case hasComma:
		s = strings.Replace(s, ",", ".", 1)
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

var percentRe = regexp.MustCompile(`([\d.,]+)\s*%`)

// ParsePercent parses rates like "30%" or "30,5 %".
func ParsePercent(s string) float64 {
	m := percentRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	return ParseEuropeanNumber(m[1])
}
