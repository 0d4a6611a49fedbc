package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"transfer-service/internal/models"
	"transfer-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	sourcePayment = "payment"
	sourceCourier = "courier"
)

// webhookKey identifies one provider event. Providers that send no event id are
// keyed by the fields that make the event distinct.
func webhookKey(source, eventID string, parts ...string) string {
	if eventID != "" {
		return source + ":" + eventID
	}
	return source + ":" + strings.Join(parts, ":")
}

// HandlePaymentWebhook applies a payment provider confirmation. Replays and events
// for payments that are already settled return models.ErrDuplicateWebhook, which
// callers acknowledge as success.
func (s *OrderService) HandlePaymentWebhook(ctx context.Context, ev *models.PaymentConfirmedEvent) error {
	ctx, span := util.StartSpan(ctx, "OrderService.HandlePaymentWebhook", attribute.String("order_id", ev.OrderID))
	defer span.End()

	if ev.OrderID == "" {
		return fmt.Errorf("%w: order_id is required", models.ErrInvalidInput)
	}
	if ev.Status != string(models.PaymentStatusPaid) {
		util.WebhooksTotal.WithLabelValues(sourcePayment, "ignored").Inc()
		s.logger.Info("Payment webhook ignored",
			zap.String("order_id", ev.OrderID),
			zap.String("status", ev.Status))
		return nil
	}

	key := webhookKey(sourcePayment, ev.EventID, ev.OrderID, ev.ProviderRef, ev.Status)
	if s.seen(ctx, key) {
		return s.duplicate(sourcePayment, ev.OrderID)
	}

	out := &outbox{}
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		fresh, err := s.store.MarkEventProcessed(ctx, key, sourcePayment)
		if err != nil {
			return err
		}
		if !fresh {
			return models.ErrDuplicateWebhook
		}

		o, err := s.store.GetOrderForUpdate(ctx, ev.OrderID)
		if err != nil {
			return err
		}
		p, err := s.store.GetPaymentForUpdate(ctx, o.ID)
		if err != nil {
			return err
		}
		if p.Status != models.PaymentStatusPending {
			return models.ErrDuplicateWebhook
		}
		if ev.AmountPaid.IsPositive() && !ev.AmountPaid.Equal(p.Amount) {
			return fmt.Errorf("%w: paid %s, expected %s", models.ErrInvalidInput, ev.AmountPaid, p.Amount)
		}

		now := s.clock.Now()
		if err := s.payments.Confirm(ctx, p, ev.ProviderRef, ev.Payload, now); err != nil {
			return err
		}
		if o.Status == models.OrderStatusCreated || o.Status == models.OrderStatusConfirmed {
			return s.transition(ctx, o, models.OrderStatusPaid, now, out)
		}
		return nil
	})
	if errors.Is(err, models.ErrDuplicateWebhook) {
		s.remember(ctx, key)
		return s.duplicate(sourcePayment, ev.OrderID)
	}
	if err != nil {
		util.WebhooksTotal.WithLabelValues(sourcePayment, "rejected").Inc()
		return s.fail(ctx, "payment_webhook", ev.OrderID, err)
	}

	s.remember(ctx, key)
	util.WebhooksTotal.WithLabelValues(sourcePayment, "applied").Inc()
	util.PaymentsConfirmedTotal.WithLabelValues("webhook").Inc()
	s.logger.Info("Payment confirmed",
		zap.String("order_id", ev.OrderID),
		zap.String("provider_ref", ev.ProviderRef))
	s.flush(ctx, out)
	return nil
}

// HandleCourierWebhook applies a courier status. PICKED_UP moves a PAID order to
// DISPATCHED and DELIVERED moves a DISPATCHED order to DELIVERED.
func (s *OrderService) HandleCourierWebhook(ctx context.Context, ev *models.CourierStatusEvent) error {
	ctx, span := util.StartSpan(ctx, "OrderService.HandleCourierWebhook", attribute.String("order_id", ev.OrderID))
	defer span.End()

	return s.applyCourierStatus(ctx, ev)
}

// SimulateCourierStatus feeds a courier status through the webhook path on behalf of
// the seller. Only available when simulation is enabled.
func (s *OrderService) SimulateCourierStatus(ctx context.Context, caller models.Caller, orderID string, status models.ShipmentStatus) (*models.Shipment, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.SimulateCourierStatus", attribute.String("order_id", orderID))
	defer span.End()

	if !s.opts.AllowSimulation {
		return nil, fmt.Errorf("%w: courier simulation is disabled", models.ErrForbidden)
	}
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := canAct(caller, order, ActionSimulateCourier); err != nil {
		return nil, s.fail(ctx, ActionSimulateCourier, orderID, err)
	}

	err = s.applyCourierStatus(ctx, &models.CourierStatusEvent{OrderID: orderID, Status: status})
	if err != nil && !errors.Is(err, models.ErrDuplicateWebhook) {
		return nil, err
	}
	return s.store.GetShipmentByOrderID(ctx, orderID)
}

func (s *OrderService) applyCourierStatus(ctx context.Context, ev *models.CourierStatusEvent) error {
	if ev.OrderID == "" {
		return fmt.Errorf("%w: order_id is required", models.ErrInvalidInput)
	}
	if ev.Status != models.ShipmentStatusPickedUp && ev.Status != models.ShipmentStatusDelivered {
		return fmt.Errorf("%w: unsupported courier status %q", models.ErrInvalidInput, ev.Status)
	}

	key := webhookKey(sourceCourier, ev.EventID, ev.OrderID, string(ev.Status))
	if s.seen(ctx, key) {
		return s.duplicate(sourceCourier, ev.OrderID)
	}

	out := &outbox{}
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		fresh, err := s.store.MarkEventProcessed(ctx, key, sourceCourier)
		if err != nil {
			return err
		}
		if !fresh {
			return models.ErrDuplicateWebhook
		}

		o, err := s.store.GetOrderForUpdate(ctx, ev.OrderID)
		if err != nil {
			return err
		}
		sh, err := s.store.GetShipmentForUpdate(ctx, o.ID)
		if err != nil {
			return err
		}

		switch ev.Status {
		case models.ShipmentStatusPickedUp:
			if o.Status.Rank() < models.OrderStatusPaid.Rank() {
				return models.TransitionError(o.ID, o.Status, "pick up")
			}
		case models.ShipmentStatusDelivered:
			if o.Status.Rank() < models.OrderStatusDispatched.Rank() {
				return models.TransitionError(o.ID, o.Status, "deliver")
			}
		}

		now := s.clock.Now()
		changed, err := s.shipments.Advance(ctx, sh, ev.Status, ev.Driver, now)
		if err != nil {
			return err
		}
		if !changed {
			return models.ErrDuplicateWebhook
		}
		out.shipment = shipmentEvent(models.EventTypeShipmentStatusChanged, sh, now)

		switch {
		case ev.Status == models.ShipmentStatusPickedUp && o.Status == models.OrderStatusPaid:
			return s.transition(ctx, o, models.OrderStatusDispatched, now, out)
		case ev.Status == models.ShipmentStatusDelivered && o.Status == models.OrderStatusDispatched:
			return s.transition(ctx, o, models.OrderStatusDelivered, now, out)
		}
		return nil
	})
	if errors.Is(err, models.ErrDuplicateWebhook) {
		s.remember(ctx, key)
		return s.duplicate(sourceCourier, ev.OrderID)
	}
	if err != nil {
		util.WebhooksTotal.WithLabelValues(sourceCourier, "rejected").Inc()
		return s.fail(ctx, "courier_webhook", ev.OrderID, err)
	}

	s.remember(ctx, key)
	util.WebhooksTotal.WithLabelValues(sourceCourier, "applied").Inc()
	s.logger.Info("Courier status applied",
		zap.String("order_id", ev.OrderID),
		zap.String("status", string(ev.Status)))
	s.flush(ctx, out)
	return nil
}

func (s *OrderService) duplicate(source, orderID string) error {
	util.WebhooksTotal.WithLabelValues(source, "duplicate").Inc()
	s.logger.Info("Duplicate webhook ignored",
		zap.String("source", source),
		zap.String("order_id", orderID))
	return models.ErrDuplicateWebhook
}

// seen consults the replay cache. The processed_events table stays authoritative,
// so cache errors only cost a trip to the database.
func (s *OrderService) seen(ctx context.Context, key string) bool {
	if s.replay == nil {
		return false
	}
	ok, err := s.replay.CheckIdempotencyKey(ctx, "webhook:"+key)
	if err != nil {
		s.logger.Warn("Replay cache lookup failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return ok
}

func (s *OrderService) remember(ctx context.Context, key string) {
	if s.replay == nil {
		return
	}
	if err := s.replay.SetIdempotencyKey(ctx, "webhook:"+key, "1", s.opts.ReplayTTL); err != nil {
		s.logger.Warn("Replay cache write failed", zap.String("key", key), zap.Error(err))
	}
}
