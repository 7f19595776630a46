package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/opensource-finance/kestrel/internal/domain"
)

type issuanceRow struct {
	ID               string       `db:"id"`
	TenantID         string       `db:"tenant_id"`
	Number           string       `db:"number"`
	Requester        string       `db:"requester"`
	RecipientCompany string       `db:"recipient_company"`
	Category         string       `db:"category"`
	OfferType        string       `db:"offer_type"`
	Vehicle          string       `db:"vehicle"`
	BackingAsset     string       `db:"backing_asset"`
	Volume           float64      `db:"volume"`
	Series           string       `db:"series"`
	Status           string       `db:"status"`
	Observation      string       `db:"observation"`
	SentAt           sql.NullTime `db:"sent_at"`
	CreatedAt        time.Time    `db:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at"`
}

// IssuanceNumber formats the human-facing issuance number for a day and
// daily sequence.
func IssuanceNumber(day time.Time, seq int) string {
	return fmt.Sprintf("EM-%s-%04d", day.UTC().Format("20060102"), seq)
}

// CreateIssuance stores a new issuance as a draft and assigns its number.
func (r *SQLRepository) CreateIssuance(ctx context.Context, tenantID string, iss *domain.Issuance) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if iss.Requester == "" {
		return fmt.Errorf("%w: requester is required", ErrInvalidInput)
	}
	if !iss.Combination.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidInput, iss.Combination.Category)
	}
	if iss.Volume <= 0 {
		return fmt.Errorf("%w: volume must be positive", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if iss.ID == "" {
		iss.ID = uuid.New().String()
	}
	iss.TenantID = tenantID
	iss.Status = domain.IssuanceDraft
	iss.CreatedAt = now
	iss.UpdatedAt = now

	series, err := json.Marshal(iss.Series)
	if err != nil {
		return fmt.Errorf("failed to encode series: %w", err)
	}

	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		prefix := IssuanceNumber(now, 0)
		prefix = prefix[:len(prefix)-4]

		var count int
		err := tx.GetContext(ctx, &count, r.rebind(`
			SELECT COUNT(*) FROM issuances WHERE tenant_id = ? AND number LIKE ?
		`), tenantID, prefix+"%")
		if err != nil {
			return fmt.Errorf("failed to allocate issuance number: %w", err)
		}
		iss.Number = IssuanceNumber(now, count+1)

		_, err = tx.ExecContext(ctx, r.rebind(`
			INSERT INTO issuances (
				id, tenant_id, number, requester, recipient_company,
				category, offer_type, vehicle, backing_asset,
				volume, series, status, observation, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`),
			iss.ID, tenantID, iss.Number, iss.Requester, iss.RecipientCompany,
			string(iss.Combination.Category), iss.Combination.OfferType,
			iss.Combination.Vehicle, iss.Combination.BackingAsset,
			iss.Volume, string(series), string(iss.Status), iss.Observation,
			now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert issuance: %w", err)
		}

		return r.insertHistory(ctx, tx, tenantID, domain.IssuanceEvent{
			IssuanceID: iss.ID,
			To:         domain.IssuanceDraft,
			Reason:     "issuance created",
			At:         now,
		})
	})
}

// GetIssuance retrieves an issuance by ID with tenant isolation.
func (r *SQLRepository) GetIssuance(ctx context.Context, tenantID string, id string) (*domain.Issuance, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, number, requester, recipient_company,
			   category, offer_type, vehicle, backing_asset,
			   volume, series, status, observation, sent_at, created_at, updated_at
		FROM issuances
		WHERE tenant_id = ? AND id = ?
	`

	var row issuanceRow
	err := r.db.GetContext(ctx, &row, r.rebind(query), tenantID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	iss := &domain.Issuance{
		ID:               row.ID,
		TenantID:         row.TenantID,
		Number:           row.Number,
		Requester:        row.Requester,
		RecipientCompany: row.RecipientCompany,
		Combination: domain.Combination{
			Category:     domain.Category(row.Category),
			OfferType:    row.OfferType,
			Vehicle:      row.Vehicle,
			BackingAsset: row.BackingAsset,
		},
		Volume:      row.Volume,
		Status:      domain.IssuanceStatus(row.Status),
		Observation: row.Observation,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if row.SentAt.Valid {
		sent := row.SentAt.Time
		iss.SentAt = &sent
	}
	if err := json.Unmarshal([]byte(row.Series), &iss.Series); err != nil {
		return nil, fmt.Errorf("failed to parse issuance series: %w", err)
	}

	return iss, nil
}

// UpdateIssuanceStatus moves an issuance to a new status and records the
// transition. Moving to "enviada" stamps the sent time.
func (r *SQLRepository) UpdateIssuanceStatus(ctx context.Context, tenantID string, id string, status domain.IssuanceStatus, reason string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}

	now := time.Now().UTC()

	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		var current string
		err := tx.GetContext(ctx, &current, r.rebind(`
			SELECT status FROM issuances WHERE tenant_id = ? AND id = ?
		`), tenantID, id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		query := `UPDATE issuances SET status = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`
		args := []any{string(status), now, tenantID, id}
		if status == domain.IssuanceSent {
			query = `UPDATE issuances SET status = ?, updated_at = ?, sent_at = ? WHERE tenant_id = ? AND id = ?`
			args = []any{string(status), now, now, tenantID, id}
		}
		if _, err := tx.ExecContext(ctx, r.rebind(query), args...); err != nil {
			return fmt.Errorf("failed to update issuance status: %w", err)
		}

		return r.insertHistory(ctx, tx, tenantID, domain.IssuanceEvent{
			IssuanceID: id,
			From:       domain.IssuanceStatus(current),
			To:         status,
			Reason:     reason,
			At:         now,
		})
	})
}

// ListIssuanceHistory returns status transitions, oldest first.
func (r *SQLRepository) ListIssuanceHistory(ctx context.Context, tenantID string, id string) ([]domain.IssuanceEvent, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	var rows []struct {
		IssuanceID string    `db:"issuance_id"`
		From       string    `db:"status_from"`
		To         string    `db:"status_to"`
		Reason     string    `db:"reason"`
		ChangedAt  time.Time `db:"changed_at"`
	}
	err := r.db.SelectContext(ctx, &rows, r.rebind(`
		SELECT issuance_id, status_from, status_to, reason, changed_at
		FROM issuance_history
		WHERE tenant_id = ? AND issuance_id = ?
		ORDER BY changed_at
	`), tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list issuance history: %w", err)
	}

	events := make([]domain.IssuanceEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, domain.IssuanceEvent{
			IssuanceID: row.IssuanceID,
			From:       domain.IssuanceStatus(row.From),
			To:         domain.IssuanceStatus(row.To),
			Reason:     row.Reason,
			At:         row.ChangedAt,
		})
	}
	return events, nil
}

func (r *SQLRepository) insertHistory(ctx context.Context, tx *sqlx.Tx, tenantID string, ev domain.IssuanceEvent) error {
	_, err := tx.ExecContext(ctx, r.rebind(`
		INSERT INTO issuance_history (tenant_id, issuance_id, status_from, status_to, reason, changed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), tenantID, ev.IssuanceID, string(ev.From), string(ev.To), ev.Reason, ev.At)
	if err != nil {
		return fmt.Errorf("failed to record issuance history: %w", err)
	}
	return nil
}
