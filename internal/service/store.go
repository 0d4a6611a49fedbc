package service

import (
	"context"
	"time"

	"transfer-service/internal/models"

	"github.com/shopspring/decimal"
)

// ListingStore is the listing surface the inventory ledger needs
type ListingStore interface {
	GetListing(ctx context.Context, id string) (*models.Listing, error)
	GetListingsForUpdate(ctx context.Context, ids []string) ([]models.Listing, error)
	DecrementListingQty(ctx context.Context, id string, qty int) error
	DeactivateListing(ctx context.Context, id string) error
}

// Store is the transactional persistence the orchestrator runs on. Implemented by
// store.Store (postgres) and memory.Store.
type Store interface {
	ListingStore

	// WithTx runs fn in one transaction; calls made with the ctx passed to fn join it.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	CreateOrder(ctx context.Context, order *models.Order, lines []models.OrderLine) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderForUpdate(ctx context.Context, id string) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, companyID, branchID, key string) (*models.Order, error)
	GetOrderLines(ctx context.Context, orderID string) ([]models.OrderLine, error)
	UpdateOrderStatus(ctx context.Context, orderID string, from, to models.OrderStatus, at time.Time) error
	UpdateOrderShippingFee(ctx context.Context, orderID string, fee decimal.Decimal, at time.Time) error
	ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, int, error)

	GetPaymentByOrderID(ctx context.Context, orderID string) (*models.Payment, error)
	GetPaymentForUpdate(ctx context.Context, orderID string) (*models.Payment, error)
	UpsertPayment(ctx context.Context, p *models.Payment) error
	UpdatePayment(ctx context.Context, p *models.Payment) error

	GetShipmentByOrderID(ctx context.Context, orderID string) (*models.Shipment, error)
	GetShipmentForUpdate(ctx context.Context, orderID string) (*models.Shipment, error)
	UpsertShipment(ctx context.Context, sh *models.Shipment) error
	UpdateShipment(ctx context.Context, sh *models.Shipment) error

	GetBranch(ctx context.Context, companyID, branchID string) (*models.Branch, error)
	MarkEventProcessed(ctx context.Context, eventKey, source string) (bool, error)

	FindPaidUnsettledOrders(ctx context.Context, limit int) ([]string, error)
	FindShipmentLaggingOrders(ctx context.Context, limit int) ([]string, error)
}

// EventPublisher receives lifecycle events after their transaction commits
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishPaymentReleased(ctx context.Context, event *models.PaymentReleasedEvent) error
	PublishShipmentEvent(ctx context.Context, event *models.ShipmentEvent) error
}

// ReplayCache remembers webhook keys that were already applied
type ReplayCache interface {
	CheckIdempotencyKey(ctx context.Context, key string) (bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type nopPublisher struct{}

// NopPublisher drops every event
func NopPublisher() EventPublisher { return nopPublisher{} }

func (nopPublisher) PublishOrderCreated(context.Context, *models.OrderCreatedEvent) error { return nil }
func (nopPublisher) PublishOrderStatusChanged(context.Context, *models.OrderStatusChangedEvent) error {
	return nil
}
func (nopPublisher) PublishPaymentReleased(context.Context, *models.PaymentReleasedEvent) error {
	return nil
}
func (nopPublisher) PublishShipmentEvent(context.Context, *models.ShipmentEvent) error { return nil }
