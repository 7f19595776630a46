package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/catalog"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/export"
	"github.com/opensource-finance/kestrel/internal/formula"
	"github.com/opensource-finance/kestrel/internal/quote"
	"github.com/opensource-finance/kestrel/internal/rules"
)

var (
	catalogPath  string
	requestPath  string
	category     string
	offerType    string
	vehicle      string
	backingAsset string
	volumeFlag   string
	seriesFlags  []string
	outputFormat string
	outPath      string
)

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Build a quote offline from a catalog file",
	Long: `Build a quote from a YAML or JSON catalog file without a server.

The issuance comes from --request (YAML) or from flags. Series are given as
number=notional and amounts accept pt-BR formatting.

Examples:
  kestrelctl quote --catalog catalog.yaml --category DEB --volume 50.000.000
  kestrelctl quote --catalog catalog.yaml --category CRI --series 1=30000000 --series 2=20000000
  kestrelctl quote --catalog catalog.yaml --request issuance.yaml --format json
  kestrelctl quote --catalog catalog.yaml --request issuance.yaml --out cotacao.csv`,
	Args: cobra.NoArgs,
	RunE: runQuote,
}

func init() {
	quoteCmd.Flags().StringVarP(&catalogPath, "catalog", "c", "", "catalog file (.yaml, .yml or .json)")
	quoteCmd.Flags().StringVarP(&requestPath, "request", "r", "", "issuance request file (.yaml)")
	quoteCmd.Flags().StringVar(&category, "category", "", "category (DEB, CRA, CRI, NC, CR)")
	quoteCmd.Flags().StringVar(&offerType, "offer-type", "", "offer type filter")
	quoteCmd.Flags().StringVar(&vehicle, "vehicle", "", "vehicle filter")
	quoteCmd.Flags().StringVar(&backingAsset, "backing-asset", "", "backing asset filter")
	quoteCmd.Flags().StringVar(&volumeFlag, "volume", "", "issuance volume (defaults to the series total)")
	quoteCmd.Flags().StringArrayVar(&seriesFlags, "series", nil, "series as number=notional, repeatable")
	quoteCmd.Flags().StringVarP(&outputFormat, "format", "f", "table", "output format (table, json)")
	quoteCmd.Flags().StringVarP(&outPath, "out", "o", "", "also write the quote to a .xlsx or .csv file")
	_ = quoteCmd.MarkFlagRequired("catalog")
}

// requestFile is the YAML layout of --request.
type requestFile struct {
	Combination domain.Combination      `yaml:"combination"`
	Volume      float64                 `yaml:"volume"`
	Series      []domain.SeriesNotional `yaml:"series"`
}

func runQuote(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	f, err := catalog.LoadFile(catalogPath)
	if err != nil {
		return err
	}

	req, err := buildRequest()
	if err != nil {
		return err
	}
	req.TenantID = cfg.Quoting.DefaultTenant

	engine, err := rules.NewEngine(cfg.Quoting.ReviewConcurrency)
	if err != nil {
		return fmt.Errorf("create review engine: %w", err)
	}
	defer engine.Close()
	if err := engine.LoadRules(rules.DefaultRules()); err != nil {
		return fmt.Errorf("load review rules: %w", err)
	}

	q, err := quote.NewBuilder(f, engine).Build(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(q); err != nil {
			return err
		}
	case "table":
		if err := renderQuote(out, q); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown format %q (want table or json)", outputFormat)
	}

	if outPath != "" {
		if err := writeExport(outPath, q); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", outPath)
	}
	return nil
}

func buildRequest() (quote.Request, error) {
	var req quote.Request

	if requestPath != "" {
		data, err := os.ReadFile(requestPath)
		if err != nil {
			return req, fmt.Errorf("read request file: %w", err)
		}
		var rf requestFile
		if err := yaml.Unmarshal(data, &rf); err != nil {
			return req, fmt.Errorf("parse request file: %w", err)
		}
		req.Combination = rf.Combination
		req.Volume = rf.Volume
		req.Series = rf.Series
	}

	// Flags override the request file.
	if category != "" {
		req.Combination.Category = domain.Category(strings.ToUpper(category))
	}
	if offerType != "" {
		req.Combination.OfferType = offerType
	}
	if vehicle != "" {
		req.Combination.Vehicle = vehicle
	}
	if backingAsset != "" {
		req.Combination.BackingAsset = backingAsset
	}
	if volumeFlag != "" {
		req.Volume = formula.ParseAmount(volumeFlag)
	}
	if len(seriesFlags) > 0 {
		series, err := parseSeries(seriesFlags)
		if err != nil {
			return req, err
		}
		req.Series = series
	}
	return req, nil
}

// parseSeries reads number=notional pairs.
func parseSeries(values []string) ([]domain.SeriesNotional, error) {
	out := make([]domain.SeriesNotional, 0, len(values))
	for _, v := range values {
		num, amount, ok := strings.Cut(v, "=")
		if !ok {
			return nil, fmt.Errorf("invalid series %q: want number=notional", v)
		}
		n, err := strconv.Atoi(strings.TrimSpace(num))
		if err != nil {
			return nil, fmt.Errorf("invalid series number %q: %w", num, err)
		}
		out = append(out, domain.SeriesNotional{
			Number:        n,
			NotionalValue: formula.ParseAmount(amount),
		})
	}
	return out, nil
}

func renderQuote(w io.Writer, q *domain.Quote) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "Cotação\t%s\n", q.ID)
	fmt.Fprintf(tw, "Categoria\t%s\n", q.Combination.Category)
	fmt.Fprintf(tw, "Volume\t%s\n", export.FormatBRL(q.Volume))
	fmt.Fprintf(tw, "Status\t%s\n", q.Status)
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "PERIODICIDADE\tPAPEL\tTIPO\tCALCULADO\tGROSS-UP\tBRUTO\t")
	for _, c := range q.Costs.All() {
		role := c.Role
		if c.Edited {
			role += " *"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			c.Periodicity,
			role,
			c.PricingType,
			export.FormatBRL(c.CalculatedValue),
			export.FormatPercent(c.GrossUp),
			export.FormatBRL(c.GrossValue),
		)
	}
	fmt.Fprintln(tw)

	fmt.Fprintf(tw, "Total upfront\t%s\n", export.FormatBRL(q.Totals.TotalUpfront))
	fmt.Fprintf(tw, "Total anual\t%s\n", export.FormatBRL(q.Totals.TotalAnnual))
	fmt.Fprintf(tw, "Total mensal\t%s\n", export.FormatBRL(q.Totals.TotalMonthly))
	fmt.Fprintf(tw, "Total primeiro ano\t%s\n", export.FormatBRL(q.Totals.TotalFirstYear))
	fmt.Fprintf(tw, "Total anos seguintes\t%s\n", export.FormatBRL(q.Totals.TotalSubsequentYears))

	if len(q.Flags) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "REGRA\tCUSTO\tRESULTADO\tMOTIVO\t")
		for _, fl := range q.Flags {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", fl.RuleID, fl.Role, fl.Outcome, fl.Reason)
		}
	}

	return tw.Flush()
}

func writeExport(path string, q *domain.Quote) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		data, err := export.QuoteXLSX(q)
		if err != nil {
			return err
		}
		return os.WriteFile(path, data, 0o644)
	case ".csv":
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := export.QuoteCSV(q, file); err != nil {
			file.Close()
			return err
		}
		return file.Close()
	default:
		return fmt.Errorf("unsupported export extension %q (want .xlsx or .csv)", filepath.Ext(path))
	}
}
