package domain

import (
	"encoding/json"
	"math"
	"strings"
)

// PricingType selects how a cost line's baseline value is derived.
type PricingType string

const (
	// PricingFixed uses the catalog price for the line's periodicity.
	PricingFixed PricingType = "Fixo"

	// PricingVariable derives the value from issuance data (custody table).
	PricingVariable PricingType = "Variável"

	// PricingPercentage applies a free-text rate formula to the volume.
	PricingPercentage PricingType = "Percentual"
)

// ParsePricingType accepts the catalog spelling or the English name.
func ParsePricingType(s string) (PricingType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixo", "fixed":
		return PricingFixed, true
	case "variável", "variavel", "variable":
		return PricingVariable, true
	case "percentual", "percentage":
		return PricingPercentage, true
	default:
		return "", false
	}
}

// Periodicity is the billing cadence of a cost line.
type Periodicity string

const (
	PeriodicityUpfront Periodicity = "upfront"
	PeriodicityAnnual  Periodicity = "anual"
	PeriodicityMonthly Periodicity = "mensal"
)

// ParsePeriodicity accepts the catalog spelling or the English name.
func ParsePeriodicity(s string) (Periodicity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "upfront":
		return PeriodicityUpfront, true
	case "anual", "annual":
		return PeriodicityAnnual, true
	case "mensal", "monthly":
		return PeriodicityMonthly, true
	default:
		return "", false
	}
}

// Category is the security type of an issuance.
type Category string

const (
	CategoryDebenture Category = "DEB"
	CategoryCRA       Category = "CRA"
	CategoryCRI       Category = "CRI"
	CategoryNC        Category = "NC"
	CategoryCR        Category = "CR"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryDebenture, CategoryCRA, CategoryCRI, CategoryNC, CategoryCR:
		return true
	}
	return false
}

// Combination keys the cost catalog. Category is required, the other
// fields narrow the lookup when set.
type Combination struct {
	Category     Category `json:"category" yaml:"category"`
	OfferType    string   `json:"offerType,omitempty" yaml:"offerType"`
	Vehicle      string   `json:"vehicle,omitempty" yaml:"vehicle"`
	BackingAsset string   `json:"backingAsset,omitempty" yaml:"backingAsset"`
}

// Key returns a stable identifier for caching.
func (c Combination) Key() string {
	return strings.Join([]string{
		string(c.Category), c.OfferType, c.Vehicle, c.BackingAsset,
	}, "|")
}

// CostDefinition is a priced role or service line from the catalog.
// Price is the baseline for Periodicity; the engine never mutates it.
type CostDefinition struct {
	ID           string      `json:"id"`
	TenantID     string      `json:"tenantId,omitempty"`
	Combination  Combination `json:"combination"`
	Role         string      `json:"role"`
	ProviderID   string      `json:"providerId,omitempty"`
	ProviderName string      `json:"providerName,omitempty"`
	PricingType  PricingType `json:"pricingType"`
	Periodicity  Periodicity `json:"periodicity"`
	Price        *float64    `json:"price,omitempty"`

	// FormulaDescription is the rate formula for Percentage costs or a
	// free-text note for Variable ones.
	FormulaDescription string `json:"formulaDescription,omitempty"`

	// GrossUp is stored either as a fraction (0.1633) or a percentage (16.33).
	GrossUp float64 `json:"grossUp"`
}

// ComputedCost is a catalog line carrying engine output.
type ComputedCost struct {
	CostDefinition

	// CalculatedValue is the baseline before gross-up.
	CalculatedValue float64 `json:"calculatedValue"`

	// GrossValue is CalculatedValue after gross-up.
	GrossValue float64 `json:"grossValue"`

	// Edited is set once a user overrides CalculatedValue.
	Edited bool `json:"edited,omitempty"`
}

// SeriesNotional is one tranche of an issuance.
type SeriesNotional struct {
	Number        int     `json:"number" yaml:"number"`
	NotionalValue float64 `json:"notionalValue" yaml:"notionalValue"`
}

// CustodyBracket is one row of the progressive custody table.
// Bounds are inclusive.
type CustodyBracket struct {
	MinValue float64 `json:"minValue" yaml:"minValue"`
	MaxValue float64 `json:"maxValue" yaml:"maxValue"`
	Rate     float64 `json:"rate" yaml:"rate"`
}

type custodyBracketJSON struct {
	MinValue float64  `json:"minValue"`
	MaxValue *float64 `json:"maxValue"`
	Rate     float64  `json:"rate"`
}

// MarshalJSON encodes an unbounded MaxValue as null.
func (b CustodyBracket) MarshalJSON() ([]byte, error) {
	out := custodyBracketJSON{MinValue: b.MinValue, Rate: b.Rate}
	if !math.IsInf(b.MaxValue, 1) {
		maxValue := b.MaxValue
		out.MaxValue = &maxValue
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a null or missing maxValue as unbounded.
func (b *CustodyBracket) UnmarshalJSON(data []byte) error {
	var in custodyBracketJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	b.MinValue = in.MinValue
	b.Rate = in.Rate
	b.MaxValue = math.Inf(1)
	if in.MaxValue != nil {
		b.MaxValue = *in.MaxValue
	}
	return nil
}

// Buckets holds computed costs split by periodicity.
type Buckets struct {
	Upfront []ComputedCost `json:"upfront"`
	Annual  []ComputedCost `json:"annual"`
	Monthly []ComputedCost `json:"monthly"`
}

// All returns every cost line, upfront first.
func (b Buckets) All() []ComputedCost {
	all := make([]ComputedCost, 0, len(b.Upfront)+len(b.Annual)+len(b.Monthly))
	all = append(all, b.Upfront...)
	all = append(all, b.Annual...)
	return append(all, b.Monthly...)
}

// Totals aggregates gross values per periodicity.
type Totals struct {
	TotalUpfront         float64 `json:"totalUpfront"`
	TotalAnnual          float64 `json:"totalAnnual"`
	TotalMonthly         float64 `json:"totalMonthly"`
	TotalFirstYear       float64 `json:"totalFirstYear"`
	TotalSubsequentYears float64 `json:"totalSubsequentYears"`
}
