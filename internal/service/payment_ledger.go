package service

import (
	"context"
	"fmt"
	"time"

	"transfer-service/internal/models"
	"transfer-service/internal/provider"
	"transfer-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaymentLedger owns the escrow record of an order. Callers hold the order and
// payment row locks; the ledger only enforces payment status rules.
type PaymentLedger struct {
	store  Store
	logger *zap.Logger
}

// NewPaymentLedger creates a new payment ledger
func NewPaymentLedger(store Store) *PaymentLedger {
	return &PaymentLedger{
		store:  store,
		logger: util.GetLogger(),
	}
}

// Prepare creates or refreshes the pending payment of an order
func (pl *PaymentLedger) Prepare(ctx context.Context, order *models.Order, method string, session *provider.PaymentSession, at time.Time) (*models.Payment, error) {
	fee, err := PaymentFee(method, order.TotalAmount)
	if err != nil {
		return nil, err
	}

	p := &models.Payment{
		ID:             uuid.New().String(),
		OrderID:        order.ID,
		Method:         method,
		Amount:         PaymentAmount(order),
		Fee:            fee,
		Status:         models.PaymentStatusPending,
		ProviderRef:    session.ProviderRef,
		VirtualAccount: session.VirtualAccount,
		PaymentURL:     session.PaymentURL,
		UpdatedAt:      at,
	}
	if err := pl.store.UpsertPayment(ctx, p); err != nil {
		return nil, err
	}

	util.PaymentsPreparedTotal.WithLabelValues(method).Inc()
	return p, nil
}

// Confirm moves a pending payment to PAID
func (pl *PaymentLedger) Confirm(ctx context.Context, p *models.Payment, providerRef, payload string, at time.Time) error {
	if p.Status != models.PaymentStatusPending {
		return fmt.Errorf("%w: payment of order %s is %s", models.ErrAlreadyPaid, p.OrderID, p.Status)
	}

	p.Status = models.PaymentStatusPaid
	p.PaidAt = &at
	p.UpdatedAt = at
	if providerRef != "" {
		p.ProviderRef = providerRef
	}
	if payload != "" {
		p.WebhookPayload = payload
	}
	return pl.store.UpdatePayment(ctx, p)
}

// Release hands escrowed funds to the seller. Only valid from PAID.
func (pl *PaymentLedger) Release(ctx context.Context, p *models.Payment, at time.Time) error {
	if p.Status != models.PaymentStatusPaid {
		return fmt.Errorf("%w: cannot release payment of order %s in status %s",
			models.ErrInvalidTransition, p.OrderID, p.Status)
	}

	p.Status = models.PaymentStatusReleased
	p.ReleasedAt = &at
	p.UpdatedAt = at
	if err := pl.store.UpdatePayment(ctx, p); err != nil {
		return err
	}

	util.EscrowReleasedTotal.Inc()
	pl.logger.Info("Escrow released",
		zap.String("order_id", p.OrderID),
		zap.String("amount", p.Amount.String()))
	return nil
}
