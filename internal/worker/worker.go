package worker

import (
	"context"

	"transfer-service/internal/broker"
	"transfer-service/internal/service"
	"transfer-service/internal/util"

	"go.uber.org/zap"
)

// ProviderEventWorker applies payment and courier callbacks relayed through Kafka.
// It shares the webhook code path, so a callback seen over HTTP and Kafka is applied once.
type ProviderEventWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewProviderEventWorker creates a new provider event worker
func NewProviderEventWorker(consumer *broker.Consumer, orderService *service.OrderService) *ProviderEventWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnPaymentConfirmed(orderService.HandlePaymentWebhook)
	eventHandler.OnCourierStatus(orderService.HandleCourierWebhook)

	return &ProviderEventWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start starts the worker
func (w *ProviderEventWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting provider event worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *ProviderEventWorker) Stop() error {
	w.logger.Info("Stopping provider event worker")
	return w.consumer.Close()
}
