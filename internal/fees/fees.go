// Package fees computes issuance cost lines and their totals.
//
// Every function is pure and safe for concurrent use. Nothing here returns
// an error: degraded input yields 0, +Inf (no ceiling) or the raw baseline so
// a quote can always be produced and reviewed.
package fees

import (
	"log/slog"
	"math"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/formula"
)

// custodyKeywords mark Variable roles priced from the custody table.
var custodyKeywords = []string{"custódia", "custodia", "depositária", "depositaria"}

// ComputePercentageCost applies a rate formula to volume, clamped to the
// formula's minimum and maximum.
func ComputePercentageCost(volume float64, formulaText string) float64 {
	p := formula.Parse(formulaText)
	raw := volume * p.Rate
	return math.Min(math.Max(raw, p.Minimum), p.Maximum)
}

// ComputeProgressiveCustody sums notional * rate over every series, using the
// first bracket whose inclusive bounds contain the series notional. A series
// outside every bracket contributes nothing.
func ComputeProgressiveCustody(series []domain.SeriesNotional, brackets []domain.CustodyBracket) float64 {
	if len(brackets) == 0 {
		slog.Warn("custody table is empty, custody cost defaults to zero",
			"series", len(series),
		)
		return 0
	}

	total := 0.0
	for _, s := range series {
		b, ok := findBracket(s.NotionalValue, brackets)
		if !ok {
			slog.Debug("series outside custody brackets",
				"series", s.Number,
				"notional", s.NotionalValue,
			)
			continue
		}
		contribution := s.NotionalValue * b.Rate
		slog.Debug("custody contribution",
			"series", s.Number,
			"notional", s.NotionalValue,
			"rate", b.Rate,
			"value", contribution,
		)
		total += contribution
	}
	return total
}

func findBracket(notional float64, brackets []domain.CustodyBracket) (domain.CustodyBracket, bool) {
	for _, b := range brackets {
		if notional >= b.MinValue && notional <= b.MaxValue {
			return b, true
		}
	}
	return domain.CustodyBracket{}, false
}

// NormalizeGrossUp returns g unchanged when it is below 1 (already a fraction)
// and g/100 otherwise (a percentage).
func NormalizeGrossUp(g float64) float64 {
	if g < 1 {
		return g
	}
	return g / 100
}

// ApplyGrossUp inflates value by a normalized gross-up fraction.
func ApplyGrossUp(value, normalized float64) float64 {
	return value * (1 + normalized)
}

// IsCustodyRole reports whether a role name refers to custody or a
// depositary agent.
func IsCustodyRole(role string) bool {
	r := strings.ToLower(role)
	for _, kw := range custodyKeywords {
		if strings.Contains(r, kw) {
			return true
		}
	}
	return false
}

// Baseline derives the pre-gross-up value of a cost definition.
func Baseline(def domain.CostDefinition, volume float64, series []domain.SeriesNotional, brackets []domain.CustodyBracket) float64 {
	switch def.PricingType {
	case domain.PricingPercentage:
		return ComputePercentageCost(volume, def.FormulaDescription)
	case domain.PricingVariable:
		if IsCustodyRole(def.Role) {
			return ComputeProgressiveCustody(series, brackets)
		}
		return 0
	case domain.PricingFixed:
		if def.Price == nil {
			return 0
		}
		return *def.Price
	default:
		return 0
	}
}

// ComputeCost resolves the baseline of def and applies its gross-up.
// def is copied, never mutated.
func ComputeCost(def domain.CostDefinition, volume float64, series []domain.SeriesNotional, brackets []domain.CustodyBracket) domain.ComputedCost {
	calculated := Baseline(def, volume, series, brackets)
	return domain.ComputedCost{
		CostDefinition:  def,
		CalculatedValue: calculated,
		GrossValue:      ApplyGrossUp(calculated, NormalizeGrossUp(def.GrossUp)),
	}
}

// ComputeCostList maps ComputeCost over defs, preserving order.
func ComputeCostList(defs []domain.CostDefinition, volume float64, series []domain.SeriesNotional, brackets []domain.CustodyBracket) []domain.ComputedCost {
	out := make([]domain.ComputedCost, len(defs))
	for i, def := range defs {
		out[i] = ComputeCost(def, volume, series, brackets)
	}
	return out
}

// ApplyManualOverride replaces the baseline of cost and recomputes its gross
// value. The result is marked as edited.
func ApplyManualOverride(cost domain.ComputedCost, newBaseline float64) domain.ComputedCost {
	cost.CalculatedValue = newBaseline
	cost.GrossValue = ApplyGrossUp(newBaseline, NormalizeGrossUp(cost.GrossUp))
	cost.Edited = true
	return cost
}

// Unresolved reports whether cost is a Variable line that no pricing source
// could resolve, so its zero value is a placeholder rather than a price.
// Custody lines count as unresolved when priced against an empty table.
func Unresolved(cost domain.ComputedCost, custodyBrackets int) bool {
	if cost.Edited || cost.PricingType != domain.PricingVariable {
		return false
	}
	return !IsCustodyRole(cost.Role) || custodyBrackets == 0
}
