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

// SaveQuote stores a quote, replacing any previous version with the same id.
// The full quote is kept as a JSON payload; a few columns are lifted out for
// filtering.
func (r *SQLRepository) SaveQuote(ctx context.Context, tenantID string, q *domain.Quote) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if q.ID == "" {
		return fmt.Errorf("%w: quote id is required", ErrInvalidInput)
	}

	if q.CreatedAt.IsZero() {
		q.CreatedAt = time.Now().UTC()
	}
	if q.UpdatedAt.IsZero() {
		q.UpdatedAt = q.CreatedAt
	}
	q.TenantID = tenantID

	payload, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("failed to encode quote: %w", err)
	}

	query := `
		INSERT INTO quotes (
			id, tenant_id, issuance_id, flagged, total_first_year, payload, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			flagged = excluded.flagged,
			total_first_year = excluded.total_first_year,
			payload = excluded.payload,
			updated_at = excluded.updated_at
		WHERE quotes.tenant_id = excluded.tenant_id
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		q.ID, tenantID, q.IssuanceID, boolToInt(q.Flagged()), q.Totals.TotalFirstYear,
		string(payload), q.CreatedAt, q.UpdatedAt,
	)
	return err
}

// GetQuote retrieves a quote by ID with tenant isolation.
func (r *SQLRepository) GetQuote(ctx context.Context, tenantID string, id string) (*domain.Quote, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	var payload string
	err := r.db.GetContext(ctx, &payload, r.rebind(`
		SELECT payload FROM quotes WHERE tenant_id = ? AND id = ?
	`), tenantID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var q domain.Quote
	if err := json.Unmarshal([]byte(payload), &q); err != nil {
		return nil, fmt.Errorf("failed to parse quote payload: %w", err)
	}
	return &q, nil
}
