package fees

import (
	"log/slog"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// MonthsPerYear scales monthly totals into yearly aggregates.
const MonthsPerYear = 12

// ComputeTotals sums gross values per bucket and derives the first-year and
// subsequent-year aggregates.
func ComputeTotals(upfront, annual, monthly []domain.ComputedCost) domain.Totals {
	t := domain.Totals{
		TotalUpfront: sumGross(upfront),
		TotalAnnual:  sumGross(annual),
		TotalMonthly: sumGross(monthly),
	}
	t.TotalFirstYear = t.TotalUpfront + t.TotalAnnual + t.TotalMonthly*MonthsPerYear
	t.TotalSubsequentYears = t.TotalAnnual + t.TotalMonthly*MonthsPerYear
	return t
}

// Totals re-aggregates a set of buckets.
func Totals(b domain.Buckets) domain.Totals {
	return ComputeTotals(b.Upfront, b.Annual, b.Monthly)
}

func sumGross(costs []domain.ComputedCost) float64 {
	total := 0.0
	for _, c := range costs {
		// NaN stands in for a missing value
		if math.IsNaN(c.GrossValue) {
			continue
		}
		total += c.GrossValue
	}
	return total
}

// GroupByPeriodicity splits a mixed list into buckets, preserving order.
// Lines with an unknown periodicity are dropped.
func GroupByPeriodicity(costs []domain.ComputedCost) domain.Buckets {
	b := domain.Buckets{
		Upfront: []domain.ComputedCost{},
		Annual:  []domain.ComputedCost{},
		Monthly: []domain.ComputedCost{},
	}
	for _, c := range costs {
		switch c.Periodicity {
		case domain.PeriodicityUpfront:
			b.Upfront = append(b.Upfront, c)
		case domain.PeriodicityAnnual:
			b.Annual = append(b.Annual, c)
		case domain.PeriodicityMonthly:
			b.Monthly = append(b.Monthly, c)
		default:
			slog.Warn("cost line has unknown periodicity",
				"id", c.ID,
				"role", c.Role,
				"periodicity", c.Periodicity,
			)
		}
	}
	return b
}

// ComputeBuckets computes every definition, groups the lines by periodicity
// and aggregates the totals.
func ComputeBuckets(defs []domain.CostDefinition, volume float64, series []domain.SeriesNotional, brackets []domain.CustodyBracket) (domain.Buckets, domain.Totals) {
	b := GroupByPeriodicity(ComputeCostList(defs, volume, series, brackets))
	return b, Totals(b)
}
