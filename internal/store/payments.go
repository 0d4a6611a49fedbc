package store

import (
	"context"
	"fmt"

	"transfer-service/internal/models"
)

const paymentColumns = `id, order_id, method, amount, fee, status, provider_ref, virtual_account, payment_url,
	webhook_payload, paid_at, released_at, created_at, updated_at`

// GetPaymentByOrderID retrieves the payment of an order
func (s *Store) GetPaymentByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	var p models.Payment
	err := s.q(ctx).GetContext(ctx, &p, "SELECT "+paymentColumns+" FROM payments WHERE order_id = $1", orderID)
	if err != nil {
		return nil, notFound(err, "payment")
	}
	return &p, nil
}

// GetPaymentForUpdate retrieves the payment of an order and locks its row
func (s *Store) GetPaymentForUpdate(ctx context.Context, orderID string) (*models.Payment, error) {
	var p models.Payment
	err := s.q(ctx).GetContext(ctx, &p, "SELECT "+paymentColumns+" FROM payments WHERE order_id = $1 FOR UPDATE", orderID)
	if err != nil {
		return nil, notFound(err, "payment")
	}
	return &p, nil
}

// UpsertPayment creates the payment of an order or replaces the pending one. A payment
// that is no longer PENDING is left untouched and ErrAlreadyPaid is returned.
func (s *Store) UpsertPayment(ctx context.Context, p *models.Payment) error {
	query := `
		INSERT INTO payments (id, order_id, method, amount, fee, status, provider_ref, virtual_account,
			payment_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (order_id) DO UPDATE SET
			method = EXCLUDED.method,
			amount = EXCLUDED.amount,
			fee = EXCLUDED.fee,
			provider_ref = EXCLUDED.provider_ref,
			virtual_account = EXCLUDED.virtual_account,
			payment_url = EXCLUDED.payment_url,
			updated_at = EXCLUDED.updated_at
		WHERE payments.status = 'PENDING'
		RETURNING id, created_at`

	rows, err := s.q(ctx).QueryxContext(ctx, query,
		p.ID, p.OrderID, p.Method, p.Amount, p.Fee, p.Status, p.ProviderRef, p.VirtualAccount,
		p.PaymentURL, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert payment: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to upsert payment: %w", err)
		}
		return models.ErrAlreadyPaid
	}
	return rows.Scan(&p.ID, &p.CreatedAt)
}

// UpdatePayment writes the mutable fields of a payment
func (s *Store) UpdatePayment(ctx context.Context, p *models.Payment) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		UPDATE payments SET status = $1, provider_ref = $2, webhook_payload = $3, paid_at = $4,
			released_at = $5, updated_at = $6
		WHERE order_id = $7`,
		p.Status, p.ProviderRef, p.WebhookPayload, p.PaidAt, p.ReleasedAt, p.UpdatedAt, p.OrderID)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	return nil
}
