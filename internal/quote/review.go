package quote

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ReviewSummary aggregates the review flags of a quote into a verdict.
type ReviewSummary struct {
	Status   domain.QuoteStatus `json:"status"`
	Failures int                `json:"failures"`
	Reviews  int                `json:"reviews"`
	Errors   int                `json:"errors"`
	Reasons  []string           `json:"reasons,omitempty"`
}

// Summarize derives the quote status from its flags. Any failure blocks the
// quote; review outcomes and rule evaluation errors both ask for a human.
func Summarize(flags []domain.ReviewFlag) ReviewSummary {
	var s ReviewSummary
	seen := make(map[string]bool)

	for _, f := range flags {
		switch f.Outcome {
		case domain.ReviewOutcomeFail:
			s.Failures++
		case domain.ReviewOutcomeReview:
			s.Reviews++
		case domain.ReviewOutcomeError:
			s.Errors++
		default:
			continue
		}

		if f.Reason != "" && !seen[f.Reason] {
			seen[f.Reason] = true
			s.Reasons = append(s.Reasons, f.Reason)
		}
	}

	switch {
	case s.Failures > 0:
		s.Status = domain.QuoteBlocked
	case s.Reviews > 0 || s.Errors > 0:
		s.Status = domain.QuoteNeedsReview
	default:
		s.Status = domain.QuoteClear
	}
	return s
}

// ShouldAlert returns true if the quote must not be sent as is.
func ShouldAlert(q *domain.Quote) bool {
	return q.Status == domain.QuoteBlocked
}
