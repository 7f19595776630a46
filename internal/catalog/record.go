package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/formula"
)

// ErrInvalidRecord is returned when a catalog record is structurally invalid.
var ErrInvalidRecord = errors.New("invalid catalog record")

// Amount is a money or rate value that accepts either a number or a pt-BR
// formatted string ("1.234,56").
type Amount float64

// UnmarshalJSON implements json.Unmarshaler.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Amount(formula.ParseAmount(s))
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("amount: %w", err)
	}
	*a = Amount(f)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *Amount) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("amount: line %d: expected a scalar", node.Line)
	}
	if node.ShortTag() == "!!str" {
		*a = Amount(formula.ParseAmount(node.Value))
		return nil
	}
	f, err := strconv.ParseFloat(node.Value, 64)
	if err != nil {
		return fmt.Errorf("amount: line %d: %w", node.Line, err)
	}
	*a = Amount(f)
	return nil
}

func (a *Amount) ptr() *float64 {
	if a == nil {
		return nil
	}
	v := float64(*a)
	return &v
}

// Record is a cost row in the catalog exchange format.
type Record struct {
	ID                 string  `json:"id" yaml:"id"`
	Category           string  `json:"categoria" yaml:"categoria"`
	OfferType          string  `json:"tipo_oferta" yaml:"tipo_oferta"`
	Vehicle            string  `json:"veiculo" yaml:"veiculo"`
	BackingAsset       string  `json:"lastro" yaml:"lastro"`
	Role               string  `json:"papel" yaml:"papel"`
	ProviderID         string  `json:"id_prestador" yaml:"id_prestador"`
	ProviderName       string  `json:"nome_prestador" yaml:"nome_prestador"`
	UpfrontPrice       *Amount `json:"preco_upfront" yaml:"preco_upfront"`
	AnnualPrice        *Amount `json:"preco_anual" yaml:"preco_anual"`
	MonthlyPrice       *Amount `json:"preco_mensal" yaml:"preco_mensal"`
	PricingType        string  `json:"tipo_preco" yaml:"tipo_preco"`
	FormulaDescription string  `json:"formula_descricao" yaml:"formula_descricao"`
	GrossUp            Amount  `json:"gross_up" yaml:"gross_up"`
	Periodicity        string  `json:"periodicidade" yaml:"periodicidade"`
}

// Definition validates r and converts it into a cost definition. Gross-up is
// stored as given; fees.NormalizeGrossUp reads it at pricing time.
func (r Record) Definition(tenantID string) (domain.CostDefinition, error) {
	ref := r.ID
	if ref == "" {
		ref = r.Role
	}
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w %q: %s", ErrInvalidRecord, ref, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(r.Role) == "" {
		return domain.CostDefinition{}, invalid("role is required")
	}

	category := domain.Category(strings.ToUpper(strings.TrimSpace(r.Category)))
	if !category.Valid() {
		return domain.CostDefinition{}, invalid("unknown category %q", r.Category)
	}

	periodicity, ok := domain.ParsePeriodicity(r.Periodicity)
	if !ok {
		return domain.CostDefinition{}, invalid("unknown periodicity %q", r.Periodicity)
	}

	pricing := domain.PricingFixed
	if strings.TrimSpace(r.PricingType) != "" {
		pricing, ok = domain.ParsePricingType(r.PricingType)
		if !ok {
			return domain.CostDefinition{}, invalid("unknown pricing type %q", r.PricingType)
		}
	}

	var price *float64
	switch periodicity {
	case domain.PeriodicityUpfront:
		price = r.UpfrontPrice.ptr()
	case domain.PeriodicityAnnual:
		price = r.AnnualPrice.ptr()
	case domain.PeriodicityMonthly:
		price = r.MonthlyPrice.ptr()
	}
	if price != nil && *price < 0 {
		return domain.CostDefinition{}, invalid("negative price")
	}

	if r.GrossUp < 0 {
		return domain.CostDefinition{}, invalid("negative gross-up")
	}

	id := r.ID
	if id == "" {
		id = uuid.New().String()
	}

	return domain.CostDefinition{
		ID:       id,
		TenantID: tenantID,
		Combination: domain.Combination{
			Category:     category,
			OfferType:    strings.TrimSpace(r.OfferType),
			Vehicle:      strings.TrimSpace(r.Vehicle),
			BackingAsset: strings.TrimSpace(r.BackingAsset),
		},
		Role:               strings.TrimSpace(r.Role),
		ProviderID:         r.ProviderID,
		ProviderName:       r.ProviderName,
		PricingType:        pricing,
		Periodicity:        periodicity,
		Price:              price,
		FormulaDescription: r.FormulaDescription,
		GrossUp:            float64(r.GrossUp),
	}, nil
}

// BracketRecord is a custody table row in the exchange format. A missing
// valor_maximo makes the row open-ended.
type BracketRecord struct {
	MinValue Amount  `json:"valor_minimo" yaml:"valor_minimo"`
	MaxValue *Amount `json:"valor_maximo" yaml:"valor_maximo"`
	Rate     Amount  `json:"taxa" yaml:"taxa"`
}

// Bracket validates r and converts it.
func (r BracketRecord) Bracket() (domain.CustodyBracket, error) {
	maxValue := math.Inf(1)
	if r.MaxValue != nil {
		maxValue = float64(*r.MaxValue)
	}
	if r.MinValue < 0 || maxValue < float64(r.MinValue) {
		return domain.CustodyBracket{}, fmt.Errorf("%w: custody bracket [%v, %v] is empty", ErrInvalidRecord, r.MinValue, maxValue)
	}
	if r.Rate < 0 {
		return domain.CustodyBracket{}, fmt.Errorf("%w: custody bracket rate %v is negative", ErrInvalidRecord, r.Rate)
	}
	return domain.CustodyBracket{
		MinValue: float64(r.MinValue),
		MaxValue: maxValue,
		Rate:     float64(r.Rate),
	}, nil
}

// File is a catalog seed file.
type File struct {
	Costs   []Record        `json:"custos_padrao" yaml:"custos_padrao"`
	Custody []BracketRecord `json:"custodia_debenture" yaml:"custodia_debenture"`
}

// Brackets converts the custody rows of f.
func (f *File) Brackets() ([]domain.CustodyBracket, error) {
	out := make([]domain.CustodyBracket, 0, len(f.Custody))
	for _, r := range f.Custody {
		b, err := r.Bracket()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// LoadFile reads a YAML (.yaml, .yml) or JSON (.json) catalog file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	return Decode(data, filepath.Ext(path))
}

// Decode parses catalog data; ext selects the format.
func Decode(data []byte, ext string) (*File, error) {
	var f File
	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse catalog json: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse catalog yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported catalog file extension %q", ext)
	}
	return &f, nil
}

// Entry resolves combo against the rows of f without a repository. Filters
// match the way stored lookups do: an empty field matches any row.
func (f *File) Entry(tenantID string, combo domain.Combination) (*Entry, error) {
	if !combo.Category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidCombination, combo.Category)
	}

	defs := make([]*domain.CostDefinition, 0, len(f.Costs))
	for _, r := range f.Costs {
		def, err := r.Definition(tenantID)
		if err != nil {
			return nil, err
		}
		if !matches(combo, def.Combination) {
			continue
		}
		defs = append(defs, &def)
	}

	custody, err := f.Brackets()
	if err != nil {
		return nil, err
	}
	sortBrackets(custody)

	entry := group(combo, defs)
	entry.Custody = custody
	return entry, nil
}

// Lookup lets a File stand in for a Service when quoting offline.
func (f *File) Lookup(_ context.Context, tenantID string, combo domain.Combination) (*Entry, error) {
	return f.Entry(tenantID, combo)
}

func matches(want, got domain.Combination) bool {
	if want.Category != got.Category {
		return false
	}
	field := func(w, g string) bool { return w == "" || w == g }
	return field(want.OfferType, got.OfferType) &&
		field(want.Vehicle, got.Vehicle) &&
		field(want.BackingAsset, got.BackingAsset)
}
