package domain

import (
	"time"
)

// Quote is the computed fee schedule for an issuance.
type Quote struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenantId"`
	IssuanceID string `json:"issuanceId,omitempty"`

	Combination Combination      `json:"combination"`
	Volume      float64          `json:"volume"`
	Series      []SeriesNotional `json:"series"`

	// CustodyTable is the bracket table the quote was priced against.
	CustodyTable []CustodyBracket `json:"custodyTable,omitempty"`

	Costs  Buckets `json:"costs"`
	Totals Totals  `json:"totals"`

	// Review flags raised against individual cost lines
	Flags  []ReviewFlag `json:"flags,omitempty"`
	Status QuoteStatus  `json:"status"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Metadata QuoteMetadata `json:"metadata"`
}

// QuoteStatus is the review verdict for a quote as a whole.
type QuoteStatus string

const (
	QuoteClear       QuoteStatus = "clear"
	QuoteNeedsReview QuoteStatus = "review"
	QuoteBlocked     QuoteStatus = "blocked"
)

// QuoteMetadata contains processing information.
type QuoteMetadata struct {
	TraceID        string `json:"traceId"`
	CatalogMs      int64  `json:"catalogMs"`
	ComputeMs      int64  `json:"computeMs"`
	ReviewMs       int64  `json:"reviewMs"`
	TotalMs        int64  `json:"totalMs"`
	CostsComputed  int    `json:"costsComputed"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	CatalogCached  bool   `json:"catalogCached"`
	EngineVersion  string `json:"engineVersion"`
}

// Flagged reports whether any review flag failed.
func (q *Quote) Flagged() bool {
	for _, f := range q.Flags {
		if f.Outcome == ReviewOutcomeFail {
			return true
		}
	}
	return false
}

// EditedCount returns the number of manually overridden lines.
func (q *Quote) EditedCount() int {
	n := 0
	for _, c := range q.Costs.All() {
		if c.Edited {
			n++
		}
	}
	return n
}
