package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// utf8BOM prefixes CSV output.
const utf8BOM = "\ufeff"

// CSV column headers, in order.
var csvColumns = []string{
	"Periodicidade",
	"Papel",
	"Prestador",
	"Tipo",
	"Fórmula",
	"Valor calculado",
	"Gross-up",
	"Valor bruto",
	"Editado",
}

// Records lays out every cost line of q as CSV records, header first and
// upfront lines first.
func Records(q *domain.Quote) [][]string {
	lines := q.Costs.All()
	records := make([][]string, 0, len(lines)+1)
	records = append(records, csvColumns)
	for _, c := range lines {
		records = append(records, []string{
			periodicityLabel(c.Periodicity),
			c.Role,
			c.ProviderName,
			string(c.PricingType),
			c.FormulaDescription,
			plainAmount(c.CalculatedValue),
			FormatPercent(c.GrossUp),
			plainAmount(c.GrossValue),
			yesNo(c.Edited),
		})
	}
	return records
}

// QuoteCSV writes the cost lines of q as ';'-separated CSV with a UTF-8 BOM.
func QuoteCSV(q *domain.Quote, w io.Writer) error {
	if q == nil {
		return fmt.Errorf("export: quote is nil")
	}

	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	cw.Comma = ';'
	if err := cw.WriteAll(Records(q)); err != nil {
		return fmt.Errorf("export: failed to write csv: %w", err)
	}
	return nil
}
