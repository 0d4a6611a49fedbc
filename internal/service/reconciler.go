package service

import (
	"context"
	"errors"
	"fmt"

	"transfer-service/internal/models"
	"transfer-service/internal/util"

	"go.uber.org/zap"
)

// Reconciler repairs orders whose status lags behind their payment or shipment
type Reconciler struct {
	svc       *OrderService
	batchSize int
	logger    *zap.Logger
}

// NewReconciler creates a reconciler working through at most batchSize orders per kind
func NewReconciler(svc *OrderService, batchSize int) *Reconciler {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Reconciler{
		svc:       svc,
		batchSize: batchSize,
		logger:    util.GetLogger(),
	}
}

// Run performs one sweep and returns the number of orders repaired
func (r *Reconciler) Run(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.Run")
	defer span.End()

	repaired := 0

	paid, err := r.svc.store.FindPaidUnsettledOrders(ctx, r.batchSize)
	if err != nil {
		return repaired, err
	}
	for _, id := range paid {
		ok, err := r.repairPayment(ctx, id)
		if err != nil {
			r.logger.Error("Failed to reconcile payment", zap.String("order_id", id), zap.Error(err))
			continue
		}
		if ok {
			repaired++
			util.ReconcilerRepairsTotal.WithLabelValues("payment").Inc()
		}
	}

	lagging, err := r.svc.store.FindShipmentLaggingOrders(ctx, r.batchSize)
	if err != nil {
		return repaired, err
	}
	for _, id := range lagging {
		ok, err := r.repairShipment(ctx, id)
		if err != nil {
			r.logger.Error("Failed to reconcile shipment", zap.String("order_id", id), zap.Error(err))
			continue
		}
		if ok {
			repaired++
			util.ReconcilerRepairsTotal.WithLabelValues("shipment").Inc()
		}
	}

	if repaired > 0 {
		r.logger.Info("Reconciliation sweep repaired orders", zap.Int("count", repaired))
	}
	return repaired, nil
}

// repairPayment advances an order to PAID when its payment already is
func (r *Reconciler) repairPayment(ctx context.Context, orderID string) (bool, error) {
	out := &outbox{}
	err := r.svc.store.WithTx(ctx, func(ctx context.Context) error {
		o, err := r.svc.store.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		p, err := r.svc.store.GetPaymentForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if p.Status != models.PaymentStatusPaid {
			return nil
		}
		if o.Status != models.OrderStatusCreated && o.Status != models.OrderStatusConfirmed {
			return nil
		}

		at := r.svc.clock.Now()
		if p.PaidAt != nil {
			at = *p.PaidAt
		}
		return r.svc.transition(ctx, o, models.OrderStatusPaid, at, out)
	})
	if err != nil {
		return false, fmt.Errorf("repair payment of order %s: %w", orderID, err)
	}

	r.svc.flush(ctx, out)
	return len(out.changes) > 0, nil
}

// repairShipment advances an order to match how far its shipment has gone
func (r *Reconciler) repairShipment(ctx context.Context, orderID string) (bool, error) {
	out := &outbox{}
	err := r.svc.store.WithTx(ctx, func(ctx context.Context) error {
		o, err := r.svc.store.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		sh, err := r.svc.store.GetShipmentForUpdate(ctx, orderID)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		now := r.svc.clock.Now()
		if o.Status == models.OrderStatusPaid && sh.Status.Rank() >= models.ShipmentStatusPickedUp.Rank() {
			at := now
			if sh.PickedUpAt != nil {
				at = *sh.PickedUpAt
			}
			if err := r.svc.transition(ctx, o, models.OrderStatusDispatched, at, out); err != nil {
				return err
			}
		}
		if o.Status == models.OrderStatusDispatched && sh.Status.Rank() >= models.ShipmentStatusDelivered.Rank() {
			at := now
			if sh.DeliveredAt != nil {
				at = *sh.DeliveredAt
			}
			if err := r.svc.transition(ctx, o, models.OrderStatusDelivered, at, out); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("repair shipment of order %s: %w", orderID, err)
	}

	r.svc.flush(ctx, out)
	return len(out.changes) > 0, nil
}
