package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

type reviewRuleRow struct {
	ID          string `db:"id"`
	TenantID    string `db:"tenant_id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	Version     string `db:"version"`
	Expression  string `db:"expression"`
	Bands       string `db:"bands"`
	Enabled     int    `db:"enabled"`
}

func (row *reviewRuleRow) toDomain() (*domain.ReviewRule, error) {
	rule := &domain.ReviewRule{
		ID:          row.ID,
		TenantID:    row.TenantID,
		Name:        row.Name,
		Description: row.Description,
		Version:     row.Version,
		Expression:  row.Expression,
		Enabled:     row.Enabled == 1,
	}
	if err := json.Unmarshal([]byte(row.Bands), &rule.Bands); err != nil {
		return nil, fmt.Errorf("failed to parse bands for rule %s: %w", row.ID, err)
	}
	return rule, nil
}

// SaveReviewRule stores a review rule with tenant isolation. Saving the same
// id and version again updates it in place.
func (r *SQLRepository) SaveReviewRule(ctx context.Context, tenantID string, rule *domain.ReviewRule) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if rule.ID == "" || rule.Expression == "" {
		return fmt.Errorf("%w: rule id and expression are required", ErrInvalidInput)
	}
	if rule.Version == "" {
		rule.Version = "1.0.0"
	}

	bands, err := json.Marshal(rule.Bands)
	if err != nil {
		return fmt.Errorf("failed to encode bands: %w", err)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO review_rules (
			id, tenant_id, name, description, version, expression, bands, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			bands = excluded.bands,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression, string(bands), boolToInt(rule.Enabled),
		now, now,
	)
	return err
}

// GetReviewRule retrieves the most recently saved version of a rule.
func (r *SQLRepository) GetReviewRule(ctx context.Context, tenantID string, ruleID string) (*domain.ReviewRule, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, bands, enabled
		FROM review_rules
		WHERE tenant_id = ? AND id = ?
		ORDER BY updated_at DESC, version DESC
		LIMIT 1
	`

	var row reviewRuleRow
	err := r.db.GetContext(ctx, &row, r.rebind(query), tenantID, ruleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return row.toDomain()
}

// ListReviewRules returns the latest version of every rule for a tenant,
// disabled ones included, ordered by id.
func (r *SQLRepository) ListReviewRules(ctx context.Context, tenantID string) ([]*domain.ReviewRule, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, bands, enabled
		FROM review_rules
		WHERE tenant_id = ?
		ORDER BY id, updated_at, version
	`

	var rows []reviewRuleRow
	if err := r.db.SelectContext(ctx, &rows, r.rebind(query), tenantID); err != nil {
		return nil, fmt.Errorf("failed to list review rules: %w", err)
	}

	var rules []*domain.ReviewRule
	for i := range rows {
		rule, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		// Rows are ordered oldest first within an id; keep the last.
		if n := len(rules); n > 0 && rules[n-1].ID == rule.ID {
			rules[n-1] = rule
			continue
		}
		rules = append(rules, rule)
	}

	return rules, nil
}
