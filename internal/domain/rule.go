package domain

// ReviewRule flags cost lines that need a second look before a quote is sent.
type ReviewRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression evaluated once per cost line
	Expression string `json:"expression"`

	// Outcome bands for score-to-outcome mapping
	Bands []ReviewBand `json:"bands"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}

// ReviewBand maps a score range to an outcome.
type ReviewBand struct {
	LowerLimit *float64 `json:"lowerLimit,omitempty"`
	UpperLimit *float64 `json:"upperLimit,omitempty"`
	Outcome    string   `json:"outcome"` // ".pass", ".review", ".fail"
	Reason     string   `json:"reason"`
}

// ReviewFlag is a non-pass rule outcome for one cost line.
type ReviewFlag struct {
	RuleID    string  `json:"ruleId"`
	CostID    string  `json:"costId"`
	Role      string  `json:"role"`
	Outcome   string  `json:"outcome"` // ".review", ".fail", ".err"
	Score     float64 `json:"score"`
	Reason    string  `json:"reason"`
	ProcessMs int64   `json:"processMs"`
}

// Predefined review outcomes
const (
	ReviewOutcomePass   = ".pass"
	ReviewOutcomeFail   = ".fail"
	ReviewOutcomeReview = ".review"
	ReviewOutcomeError  = ".err"
)
