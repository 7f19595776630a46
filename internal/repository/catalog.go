package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opensource-finance/kestrel/internal/domain"
)

type costDefinitionRow struct {
	ID                 string          `db:"id"`
	TenantID           string          `db:"tenant_id"`
	Category           string          `db:"category"`
	OfferType          string          `db:"offer_type"`
	Vehicle            string          `db:"vehicle"`
	BackingAsset       string          `db:"backing_asset"`
	Role               string          `db:"role"`
	ProviderID         string          `db:"provider_id"`
	ProviderName       string          `db:"provider_name"`
	PricingType        string          `db:"pricing_type"`
	Periodicity        string          `db:"periodicity"`
	Price              sql.NullFloat64 `db:"price"`
	FormulaDescription string          `db:"formula_description"`
	GrossUp            float64         `db:"gross_up"`
}

func (row *costDefinitionRow) toDomain() *domain.CostDefinition {
	def := &domain.CostDefinition{
		ID:       row.ID,
		TenantID: row.TenantID,
		Combination: domain.Combination{
			Category:     domain.Category(row.Category),
			OfferType:    row.OfferType,
			Vehicle:      row.Vehicle,
			BackingAsset: row.BackingAsset,
		},
		Role:               row.Role,
		ProviderID:         row.ProviderID,
		ProviderName:       row.ProviderName,
		PricingType:        domain.PricingType(row.PricingType),
		Periodicity:        domain.Periodicity(row.Periodicity),
		FormulaDescription: row.FormulaDescription,
		GrossUp:            row.GrossUp,
	}
	if row.Price.Valid {
		price := row.Price.Float64
		def.Price = &price
	}
	return def
}

// SaveCostDefinitions upserts a batch of cost definitions in one transaction.
// Batch order is kept as the listing order.
func (r *SQLRepository) SaveCostDefinitions(ctx context.Context, tenantID string, defs []*domain.CostDefinition) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := r.rebind(`
		INSERT INTO cost_definitions (
			id, tenant_id, seq, category, offer_type, vehicle, backing_asset,
			role, provider_id, provider_name, pricing_type, periodicity,
			price, formula_description, gross_up, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			seq = excluded.seq,
			category = excluded.category,
			offer_type = excluded.offer_type,
			vehicle = excluded.vehicle,
			backing_asset = excluded.backing_asset,
			role = excluded.role,
			provider_id = excluded.provider_id,
			provider_name = excluded.provider_name,
			pricing_type = excluded.pricing_type,
			periodicity = excluded.periodicity,
			price = excluded.price,
			formula_description = excluded.formula_description,
			gross_up = excluded.gross_up,
			updated_at = excluded.updated_at
	`)

	now := time.Now().UTC()

	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		for i, def := range defs {
			if def.ID == "" || def.Role == "" {
				return fmt.Errorf("%w: cost definition id and role are required", ErrInvalidInput)
			}

			var price sql.NullFloat64
			if def.Price != nil {
				price = sql.NullFloat64{Float64: *def.Price, Valid: true}
			}

			_, err := tx.ExecContext(ctx, query,
				def.ID, tenantID, i,
				string(def.Combination.Category), def.Combination.OfferType,
				def.Combination.Vehicle, def.Combination.BackingAsset,
				def.Role, def.ProviderID, def.ProviderName,
				string(def.PricingType), string(def.Periodicity),
				price, def.FormulaDescription, def.GrossUp, now,
			)
			if err != nil {
				return fmt.Errorf("failed to save cost definition %s: %w", def.ID, err)
			}
		}
		return nil
	})
}

// ListCostDefinitions returns the definitions matching a combination. The
// category is required; empty offer type, vehicle or backing asset match any
// value.
func (r *SQLRepository) ListCostDefinitions(ctx context.Context, tenantID string, combo domain.Combination) ([]*domain.CostDefinition, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}
	if combo.Category == "" {
		return nil, fmt.Errorf("%w: category is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, category, offer_type, vehicle, backing_asset,
			   role, provider_id, provider_name, pricing_type, periodicity,
			   price, formula_description, gross_up
		FROM cost_definitions
		WHERE tenant_id = ? AND category = ?
		  AND (? = '' OR offer_type = ?)
		  AND (? = '' OR vehicle = ?)
		  AND (? = '' OR backing_asset = ?)
		ORDER BY seq, id
	`

	var rows []costDefinitionRow
	err := r.db.SelectContext(ctx, &rows, r.rebind(query),
		tenantID, string(combo.Category),
		combo.OfferType, combo.OfferType,
		combo.Vehicle, combo.Vehicle,
		combo.BackingAsset, combo.BackingAsset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list cost definitions: %w", err)
	}

	defs := make([]*domain.CostDefinition, 0, len(rows))
	for i := range rows {
		defs = append(defs, rows[i].toDomain())
	}
	return defs, nil
}

type custodyBracketRow struct {
	MinValue float64         `db:"min_value"`
	MaxValue sql.NullFloat64 `db:"max_value"`
	Rate     float64         `db:"rate"`
}

// ReplaceCustodyTable swaps the tenant's custody table atomically.
func (r *SQLRepository) ReplaceCustodyTable(ctx context.Context, tenantID string, brackets []domain.CustodyBracket) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM custody_brackets WHERE tenant_id = ?`), tenantID); err != nil {
			return fmt.Errorf("failed to clear custody table: %w", err)
		}

		insert := r.rebind(`
			INSERT INTO custody_brackets (tenant_id, seq, min_value, max_value, rate)
			VALUES (?, ?, ?, ?, ?)
		`)
		for i, b := range brackets {
			var maxValue sql.NullFloat64
			if !math.IsInf(b.MaxValue, 1) {
				maxValue = sql.NullFloat64{Float64: b.MaxValue, Valid: true}
			}
			if _, err := tx.ExecContext(ctx, insert, tenantID, i, b.MinValue, maxValue, b.Rate); err != nil {
				return fmt.Errorf("failed to insert custody bracket %d: %w", i, err)
			}
		}
		return nil
	})
}

// ListCustodyBrackets returns the custody table ordered by ascending minimum.
func (r *SQLRepository) ListCustodyBrackets(ctx context.Context, tenantID string) ([]domain.CustodyBracket, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT min_value, max_value, rate
		FROM custody_brackets
		WHERE tenant_id = ?
		ORDER BY min_value, seq
	`

	var rows []custodyBracketRow
	if err := r.db.SelectContext(ctx, &rows, r.rebind(query), tenantID); err != nil {
		return nil, fmt.Errorf("failed to list custody brackets: %w", err)
	}

	brackets := make([]domain.CustodyBracket, 0, len(rows))
	for _, row := range rows {
		b := domain.CustodyBracket{
			MinValue: row.MinValue,
			MaxValue: math.Inf(1),
			Rate:     row.Rate,
		}
		if row.MaxValue.Valid {
			b.MaxValue = row.MaxValue.Float64
		}
		brackets = append(brackets, b)
	}
	return brackets, nil
}
