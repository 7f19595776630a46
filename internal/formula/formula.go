// Package formula extracts rate, floor and ceiling parameters from the
// free-text cost formulas authored in the catalog, e.g.
// "0,03% sobre o volume, mínimo de R$ 800".
//
// Parsing never fails: absent or malformed patterns degrade to defaults
// (0 for rate and minimum, +Inf for maximum).
package formula

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	ratePattern    = regexp.MustCompile(`(\d+[,.]?\d*)\s*%`)
	minimumPattern = regexp.MustCompile(`(?i)m[íi]nimo\s+(?:de\s+)?(?:R\$\s*)?(\d+(?:[.,]\d+)*)`)
	maximumPattern = regexp.MustCompile(`(?i)m[áa]ximo\s+(?:de\s+)?(?:R\$\s*)?(\d+(?:[.,]\d+)*)`)
)

// Params holds the parameters of a percentage formula.
type Params struct {
	Rate    float64 `json:"rate"`
	Minimum float64 `json:"minimum"`
	Maximum float64 `json:"maximum"`
}

// Unbounded reports whether the formula has no ceiling.
func (p Params) Unbounded() bool {
	return math.IsInf(p.Maximum, 1)
}

// Parse extracts all three parameters from text.
func Parse(text string) Params {
	return Params{
		Rate:    ExtractRate(text),
		Minimum: ExtractMinimum(text),
		Maximum: ExtractMaximum(text),
	}
}

// ExtractRate returns the first percentage in text as a fraction.
// "0,03%" yields 0.0003.
func ExtractRate(text string) float64 {
	m := ratePattern.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
	if err != nil {
		return 0
	}
	return v / 100
}

// ExtractMinimum returns the amount following the first "mínimo" keyword.
func ExtractMinimum(text string) float64 {
	m := minimumPattern.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	return ParseAmount(m[1])
}

// ExtractMaximum returns the amount following the first "máximo" keyword,
// or +Inf when there is none.
func ExtractMaximum(text string) float64 {
	m := maximumPattern.FindStringSubmatch(text)
	if m == nil {
		return math.Inf(1)
	}
	return ParseAmount(m[1])
}

// ParseAmount parses a pt-BR amount: dots separate thousands and the comma
// is the decimal separator. Malformed input yields 0.
func ParseAmount(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "R$")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	clean := strings.ReplaceAll(s, ".", "")
	clean = strings.ReplaceAll(clean, ",", ".")
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
