package export

import (
	"bytes"
	"encoding/csv"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func sampleQuote() *domain.Quote {
	line := func(id, role string, pt domain.PricingType, p domain.Periodicity, calc, grossUp, gross float64) domain.ComputedCost {
		return domain.ComputedCost{
			CostDefinition: domain.CostDefinition{
				ID: id, Role: role, ProviderName: "Prestador " + id,
				PricingType: pt, Periodicity: p, GrossUp: grossUp,
			},
			CalculatedValue: calc,
			GrossValue:      gross,
		}
	}

	q := &domain.Quote{
		ID:          "q-1",
		TenantID:    "tenant-001",
		Combination: domain.Combination{Category: domain.CategoryDebenture, OfferType: "160"},
		Volume:      50_000_000,
		Series:      []domain.SeriesNotional{{Number: 1, NotionalValue: 50_000_000}},
		Status:      domain.QuoteClear,
		Costs: domain.Buckets{
			Upfront: []domain.ComputedCost{
				line("reg", "Registro B3", domain.PricingFixed, domain.PeriodicityUpfront, 1000, 0, 1000),
				line("anb", "Taxa ANBIMA", domain.PricingPercentage, domain.PeriodicityUpfront, 1500, 16.33, 1744.95),
			},
			Annual: []domain.ComputedCost{
				line("fid", "Agente Fiduciário", domain.PricingFixed, domain.PeriodicityAnnual, 12000, 0.25, 15000),
			},
			Monthly: []domain.ComputedCost{
				line("cust", "Custódia", domain.PricingVariable, domain.PeriodicityMonthly, 875, 0, 875),
			},
		},
		Totals: domain.Totals{
			TotalUpfront:         2744.95,
			TotalAnnual:          15000,
			TotalMonthly:         875,
			TotalFirstYear:       28244.95,
			TotalSubsequentYears: 25500,
		},
	}
	q.Costs.Monthly[0].Edited = true
	return q
}

func TestFormatBRL(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "R$ 0,00"},
		{1, "R$ 1,00"},
		{999.999, "R$ 1.000,00"},
		{1234.56, "R$ 1.234,56"},
		{1234567.891, "R$ 1.234.567,89"},
		{0.125, "R$ 0,13"},
		{1.005, "R$ 1,01"},
		{-1500.5, "-R$ 1.500,50"},
		{100000, "R$ 100.000,00"},
		{math.NaN(), "-"},
		{math.Inf(1), "-"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBRL(tt.in), "FormatBRL(%v)", tt.in)
	}
}

func TestFormatPercent(t *testing.T) {
	assert.Equal(t, "16,33%", FormatPercent(16.33))
	assert.Equal(t, "16,33%", FormatPercent(0.1633))
	assert.Equal(t, "0,00%", FormatPercent(0))
	assert.Equal(t, "25,00%", FormatPercent(0.25))
}

func TestGroupThousands(t *testing.T) {
	assert.Equal(t, "1", groupThousands("1"))
	assert.Equal(t, "123", groupThousands("123"))
	assert.Equal(t, "1.234", groupThousands("1234"))
	assert.Equal(t, "123.456", groupThousands("123456"))
	assert.Equal(t, "12.345.678", groupThousands("12345678"))
}

func TestQuoteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, QuoteCSV(sampleQuote(), &buf))

	out := buf.String()
	require.True(t, strings.HasPrefix(out, utf8BOM), "missing BOM")

	r := csv.NewReader(strings.NewReader(strings.TrimPrefix(out, utf8BOM)))
	r.Comma = ';'
	records, err := r.ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 5)
	assert.Equal(t, csvColumns, records[0])

	assert.Equal(t, []string{"Upfront", "Registro B3", "Prestador reg", "Fixo", "", "1000,00", "0,00%", "1000,00", "Não"}, records[1])
	assert.Equal(t, "16,33%", records[2][6])
	assert.Equal(t, "1744,95", records[2][7])
	assert.Equal(t, "Anual", records[3][0])
	assert.Equal(t, "Mensal", records[4][0])
	assert.Equal(t, "Custódia", records[4][1])
	assert.Equal(t, "Sim", records[4][8])
}

func TestQuoteCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, QuoteCSV(&domain.Quote{ID: "empty"}, &buf))

	lines := strings.Split(strings.TrimSpace(strings.TrimPrefix(buf.String(), utf8BOM)), "\n")
	assert.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "Periodicidade;Papel"))

	assert.Error(t, QuoteCSV(nil, &buf))
}

func TestQuoteXLSX(t *testing.T) {
	data, err := QuoteXLSX(sampleQuote())
	require.NoError(t, err)
	require.NotEmpty(t, data)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SummarySheet, UpfrontSheet, AnnualSheet, MonthlySheet}, f.GetSheetList())

	raw := excelize.Options{RawCellValue: true}

	id, err := f.GetCellValue(SummarySheet, "B1", raw)
	require.NoError(t, err)
	assert.Equal(t, "q-1", id)

	firstYear, err := f.GetCellValue(SummarySheet, "B14", raw)
	require.NoError(t, err)
	assert.Equal(t, "28244.95", firstYear)

	header, err := f.GetCellValue(UpfrontSheet, "A1")
	require.NoError(t, err)
	assert.Equal(t, "Papel", header)

	role, err := f.GetCellValue(UpfrontSheet, "A3")
	require.NoError(t, err)
	assert.Equal(t, "Taxa ANBIMA", role)

	gross, err := f.GetCellValue(AnnualSheet, "G2", raw)
	require.NoError(t, err)
	assert.Equal(t, "15000", gross)

	rows, err := f.GetRows(MonthlySheet)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, err = QuoteXLSX(nil)
	assert.Error(t, err)
}
