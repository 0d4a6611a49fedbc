package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"transfer-service/internal/models"
	"transfer-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type eventProducer interface {
	PublishEvent(ctx context.Context, key, eventType string, event interface{}) error
}

// EventPublisher handles publishing domain events to the order-events topic
type EventPublisher struct {
	producer eventProducer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer eventProducer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func orderKey(orderID string) string {
	return "order-" + orderID
}

// PublishOrderCreated publishes OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// PublishOrderStatusChanged publishes OrderStatusChanged event
func (ep *EventPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// PublishPaymentReleased publishes PaymentReleased event
func (ep *EventPublisher) PublishPaymentReleased(ctx context.Context, event *models.PaymentReleasedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// PublishShipmentEvent publishes a shipment quote or status event
func (ep *EventPublisher) PublishShipmentEvent(ctx context.Context, event *models.ShipmentEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event.EventType, event)
}

// EventHandler handles provider events relayed through Kafka
type EventHandler struct {
	onPaymentConfirmed func(context.Context, *models.PaymentConfirmedEvent) error
	onCourierStatus    func(context.Context, *models.CourierStatusEvent) error
	logger             *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnPaymentConfirmed registers a handler for PaymentConfirmed events
func (eh *EventHandler) OnPaymentConfirmed(handler func(context.Context, *models.PaymentConfirmedEvent) error) {
	eh.onPaymentConfirmed = handler
}

// OnCourierStatus registers a handler for CourierStatus events
func (eh *EventHandler) OnCourierStatus(handler func(context.Context, *models.CourierStatusEvent) error) {
	eh.onCourierStatus = handler
}

// HandleMessage routes messages to appropriate handlers. Replays count as handled.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("%w: undecodable event: %v", models.ErrInvalidInput, err)
	}

	eventType := headerValue(msg, eventTypeHeader)
	if eventType == "" {
		eventType = baseEvent.EventType
	}

	eh.logger.Debug("Handling event",
		zap.String("type", eventType),
		zap.String("id", baseEvent.EventID))

	var err error
	switch eventType {
	case models.EventTypePaymentConfirmed:
		if eh.onPaymentConfirmed != nil {
			var event models.PaymentConfirmedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("%w: undecodable PaymentConfirmed event: %v", models.ErrInvalidInput, err)
			}
			event.Payload = string(msg.Value)
			err = eh.onPaymentConfirmed(ctx, &event)
		}

	case models.EventTypeCourierStatus:
		if eh.onCourierStatus != nil {
			var event models.CourierStatusEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("%w: undecodable CourierStatus event: %v", models.ErrInvalidInput, err)
			}
			err = eh.onCourierStatus(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", eventType))
	}

	if errors.Is(err, models.ErrDuplicateWebhook) {
		return nil
	}
	return err
}

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
