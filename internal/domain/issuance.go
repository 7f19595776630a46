package domain

import (
	"time"
)

// IssuanceStatus tracks a proposal through its lifecycle.
type IssuanceStatus string

const (
	IssuanceDraft    IssuanceStatus = "rascunho"
	IssuanceSent     IssuanceStatus = "enviada"
	IssuanceAccepted IssuanceStatus = "aceita"
	IssuanceRejected IssuanceStatus = "rejeitada"
)

// Valid reports whether s is a known status.
func (s IssuanceStatus) Valid() bool {
	switch s {
	case IssuanceDraft, IssuanceSent, IssuanceAccepted, IssuanceRejected:
		return true
	}
	return false
}

// Issuance is a single structured-finance deal being priced.
type Issuance struct {
	// Core identifiers
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Number   string `json:"number"` // EM-YYYYMMDD-NNNN

	// Parties
	Requester        string `json:"requester"`
	RecipientCompany string `json:"recipientCompany"`

	Combination Combination      `json:"combination"`
	Volume      float64          `json:"volume"`
	Series      []SeriesNotional `json:"series"`

	Status      IssuanceStatus `json:"status"`
	Observation string         `json:"observation,omitempty"`

	// Temporal
	SentAt    *time.Time `json:"sentAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// SeriesTotal returns the sum of series notionals.
func (i *Issuance) SeriesTotal() float64 {
	total := 0.0
	for _, s := range i.Series {
		total += s.NotionalValue
	}
	return total
}

// IssuanceEvent records a status transition.
type IssuanceEvent struct {
	IssuanceID string         `json:"issuanceId"`
	From       IssuanceStatus `json:"from,omitempty"`
	To         IssuanceStatus `json:"to"`
	Reason     string         `json:"reason,omitempty"`
	At         time.Time      `json:"at"`
}
