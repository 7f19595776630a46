// Package export renders quotes as spreadsheets and formats money the way
// Brazilian issuance desks read it.
package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	SummarySheet = "Resumo"
	UpfrontSheet = "Upfront"
	AnnualSheet  = "Anual"
	MonthlySheet = "Mensal"
)

// brlNumFmt displays numeric cells as reais while keeping the raw value.
var brlNumFmt = `"R$ "#,##0.00`

var lineHeaders = []string{"Papel", "Prestador", "Tipo", "Fórmula", "Valor calculado", "Gross-up", "Valor bruto", "Editado"}

// QuoteXLSX builds a workbook with a summary sheet and one sheet per
// periodicity.
func QuoteXLSX(q *domain.Quote) ([]byte, error) {
	if q == nil {
		return nil, fmt.Errorf("export: quote is nil")
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return nil, fmt.Errorf("export: failed to rename sheet: %w", err)
	}

	money, err := f.NewStyle(&excelize.Style{CustomNumFmt: &brlNumFmt})
	if err != nil {
		return nil, fmt.Errorf("export: failed to create style: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("export: failed to create style: %w", err)
	}

	if err := writeSummary(f, q, money, bold); err != nil {
		return nil, err
	}

	sheets := []struct {
		name  string
		lines []domain.ComputedCost
	}{
		{UpfrontSheet, q.Costs.Upfront},
		{AnnualSheet, q.Costs.Annual},
		{MonthlySheet, q.Costs.Monthly},
	}
	for _, s := range sheets {
		if err := writeLines(f, s.name, s.lines, money, bold); err != nil {
			return nil, err
		}
	}

	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("export: failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSummary(f *excelize.File, q *domain.Quote, money, bold int) error {
	rows := [][]any{
		{"Cotação", q.ID},
		{"Emissão", q.IssuanceID},
		{"Categoria", string(q.Combination.Category)},
		{"Oferta", q.Combination.OfferType},
		{"Veículo", q.Combination.Vehicle},
		{"Lastro", q.Combination.BackingAsset},
		{"Volume", q.Volume},
		{"Séries", len(q.Series)},
		{"Status", string(q.Status)},
		{},
		{"Total upfront", q.Totals.TotalUpfront},
		{"Total anual", q.Totals.TotalAnnual},
		{"Total mensal", q.Totals.TotalMonthly},
		{"Total primeiro ano", q.Totals.TotalFirstYear},
		{"Total anos seguintes", q.Totals.TotalSubsequentYears},
	}

	for i, row := range rows {
		cell := fmt.Sprintf("A%d", i+1)
		if err := f.SetSheetRow(SummarySheet, cell, &row); err != nil {
			return fmt.Errorf("export: failed to write summary: %w", err)
		}
		if len(row) == 2 {
			if _, ok := row[1].(float64); ok {
				if err := f.SetCellStyle(SummarySheet, fmt.Sprintf("B%d", i+1), fmt.Sprintf("B%d", i+1), money); err != nil {
					return err
				}
			}
		}
	}

	if err := f.SetCellStyle(SummarySheet, "A1", fmt.Sprintf("A%d", len(rows)), bold); err != nil {
		return err
	}
	return f.SetColWidth(SummarySheet, "A", "B", 24)
}

func writeLines(f *excelize.File, sheet string, lines []domain.ComputedCost, money, bold int) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("export: failed to create sheet %s: %w", sheet, err)
	}

	if err := f.SetSheetRow(sheet, "A1", &lineHeaders); err != nil {
		return fmt.Errorf("export: failed to write header: %w", err)
	}
	if err := f.SetCellStyle(sheet, "A1", "H1", bold); err != nil {
		return err
	}

	for i, c := range lines {
		row := []any{
			c.Role,
			c.ProviderName,
			string(c.PricingType),
			c.FormulaDescription,
			c.CalculatedValue,
			FormatPercent(c.GrossUp),
			c.GrossValue,
			yesNo(c.Edited),
		}
		if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return fmt.Errorf("export: failed to write line %s: %w", c.ID, err)
		}
	}

	if len(lines) > 0 {
		last := len(lines) + 1
		if err := f.SetCellStyle(sheet, "E2", fmt.Sprintf("E%d", last), money); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, "G2", fmt.Sprintf("G%d", last), money); err != nil {
			return err
		}
	}

	return f.SetColWidth(sheet, "A", "D", 28)
}
