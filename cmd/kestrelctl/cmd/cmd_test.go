package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestParseSeries(t *testing.T) {
	series, err := parseSeries([]string{"1=30.000.000,00", "2=20000000"})
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, domain.SeriesNotional{Number: 1, NotionalValue: 30_000_000}, series[0])
	assert.Equal(t, domain.SeriesNotional{Number: 2, NotionalValue: 20_000_000}, series[1])

	_, err = parseSeries([]string{"30000000"})
	assert.Error(t, err)

	_, err = parseSeries([]string{"one=100"})
	assert.Error(t, err)
}

func TestRenderQuote(t *testing.T) {
	q := &domain.Quote{
		ID:          "q-1",
		Combination: domain.Combination{Category: domain.CategoryDebenture},
		Volume:      10_000_000,
		Status:      domain.QuoteNeedsReview,
		Costs: domain.Buckets{
			Annual: []domain.ComputedCost{{
				CostDefinition: domain.CostDefinition{
					ID:          "fid",
					Role:        "Agente Fiduciário",
					PricingType: domain.PricingFixed,
					Periodicity: domain.PeriodicityAnnual,
					GrossUp:     0.25,
				},
				CalculatedValue: 12000,
				GrossValue:      15000,
				Edited:          true,
			}},
		},
		Totals: domain.Totals{TotalAnnual: 15000, TotalFirstYear: 15000, TotalSubsequentYears: 15000},
		Flags: []domain.ReviewFlag{
			{RuleID: "manual-override", Role: "Agente Fiduciário", Outcome: domain.ReviewOutcomeReview, Reason: "Value overridden manually"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, renderQuote(&buf, q))
	out := buf.String()

	assert.Contains(t, out, "R$ 10.000.000,00")
	assert.Contains(t, out, "Agente Fiduciário *")
	assert.Contains(t, out, "25,00%")
	assert.Contains(t, out, "R$ 15.000,00")
	assert.Contains(t, out, "manual-override")
}

func TestGenerateRequests(t *testing.T) {
	reqs := generateRequests(domain.CategoryCRI, 3)
	require.Len(t, reqs, 3)
	assert.Equal(t, 1_000_000.0, reqs[0].Volume)
	assert.Equal(t, 3_000_000.0, reqs[2].Volume)
	assert.Equal(t, domain.CategoryCRI, reqs[1].Combination.Category)
}

func TestReadBenchCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "issuances.csv")
	data := strings.Join([]string{
		"category,volume,offer_type",
		"DEB,50000000,CVM 160",
		"CRI,20000000,CVM 476",
		"CRA,10000000,CVM 160",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	reqs, err := readBenchCSV(path, 2)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, domain.CategoryDebenture, reqs[0].Combination.Category)
	assert.Equal(t, "CVM 160", reqs[0].Combination.OfferType)
	assert.Equal(t, 20_000_000.0, reqs[1].Volume)

	bad := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(bad, []byte("a,b\n1,2\n"), 0o600))
	_, err = readBenchCSV(bad, 0)
	assert.Error(t, err)
}

func TestBenchPercentile(t *testing.T) {
	s := &benchStats{}
	for i := 1; i <= 100; i++ {
		s.observe(time.Duration(i) * time.Millisecond)
	}
	assert.Equal(t, 50*time.Millisecond, s.percentile(0.50))
	assert.Equal(t, 100*time.Millisecond, s.percentile(1))
	assert.Equal(t, time.Duration(0), (&benchStats{}).percentile(0.5))
}
