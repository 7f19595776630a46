package rules

import "github.com/opensource-finance/kestrel/internal/domain"

// DefaultRules returns the review rules seeded for a tenant that has none.
// Tenants can disable or replace them through the review-rules API.
func DefaultRules() []*domain.ReviewRule {
	zero := 0.0
	one := 1.0
	half := 0.5

	return []*domain.ReviewRule{
		{
			ID:          "unresolved-variable-cost",
			Name:        "Unresolved variable cost",
			Description: "Variable cost with no pricing source, its value is a placeholder",
			Version:     "1.0.0",
			Expression:  "unresolved",
			Bands: []domain.ReviewBand{
				{LowerLimit: &zero, UpperLimit: &one, Outcome: domain.ReviewOutcomePass, Reason: "Resolved"},
				{LowerLimit: &one, Outcome: domain.ReviewOutcomeReview, Reason: "Variable cost has no pricing source"},
			},
			Enabled: true,
		},
		{
			ID:          "manual-override",
			Name:        "Manual override",
			Description: "Cost line edited by hand",
			Version:     "1.0.0",
			Expression:  "edited",
			Bands: []domain.ReviewBand{
				{LowerLimit: &zero, UpperLimit: &one, Outcome: domain.ReviewOutcomePass, Reason: "Computed value"},
				{LowerLimit: &one, Outcome: domain.ReviewOutcomeReview, Reason: "Value overridden manually"},
			},
			Enabled: true,
		},
		{
			ID:          "gross-up-ceiling",
			Name:        "Gross-up ceiling",
			Description: "Gross-up at or above 50% is almost certainly a data entry error",
			Version:     "1.0.0",
			Expression:  "gross_up",
			Bands: []domain.ReviewBand{
				{UpperLimit: &half, Outcome: domain.ReviewOutcomePass, Reason: "Gross-up within range"},
				{LowerLimit: &half, Outcome: domain.ReviewOutcomeFail, Reason: "Gross-up at or above 50%"},
			},
			Enabled: true,
		},
		{
			ID:          "zero-fixed-cost",
			Name:        "Zero fixed cost",
			Description: "Fixed cost without a catalog price",
			Version:     "1.0.0",
			Expression:  `pricing_type == "Fixo" && !edited && calculated == 0.0`,
			Bands: []domain.ReviewBand{
				{LowerLimit: &zero, UpperLimit: &one, Outcome: domain.ReviewOutcomePass, Reason: "Priced"},
				{LowerLimit: &one, Outcome: domain.ReviewOutcomeReview, Reason: "Fixed cost has no price"},
			},
			Enabled: true,
		},
	}
}
