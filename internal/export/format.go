package export

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/fees"
)

var hundred = decimal.NewFromInt(100)

// FormatBRL renders v as Brazilian reais, e.g. "R$ 1.234,56", rounding half
// away from zero to cents. Non-finite values render as "-".
func FormatBRL(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "-"
	}
	d := decimal.NewFromFloat(v).Round(2)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Abs()
	}
	intPart, frac, _ := strings.Cut(d.StringFixed(2), ".")
	return sign + "R$ " + groupThousands(intPart) + "," + frac
}

// FormatPercent renders a gross-up (fraction or percentage form) as "16,33%".
func FormatPercent(grossUp float64) string {
	g := fees.NormalizeGrossUp(grossUp)
	if math.IsNaN(g) || math.IsInf(g, 0) {
		return "-"
	}
	return decimalComma(decimal.NewFromFloat(g).Mul(hundred)) + "%"
}

// plainAmount renders v with two decimals and a decimal comma, no grouping.
func plainAmount(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return decimalComma(decimal.NewFromFloat(v))
}

func decimalComma(d decimal.Decimal) string {
	return strings.Replace(d.Round(2).StringFixed(2), ".", ",", 1)
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

func periodicityLabel(p domain.Periodicity) string {
	switch p {
	case domain.PeriodicityUpfront:
		return "Upfront"
	case domain.PeriodicityAnnual:
		return "Anual"
	case domain.PeriodicityMonthly:
		return "Mensal"
	default:
		return string(p)
	}
}

func yesNo(b bool) string {
	if b {
		return "Sim"
	}
	return "Não"
}
