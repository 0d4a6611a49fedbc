package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types published to the order-events topic
const (
	EventTypeOrderCreated          = "ORDER_CREATED"
	EventTypeOrderStatusChanged    = "ORDER_STATUS_CHANGED"
	EventTypePaymentReleased       = "PAYMENT_RELEASED"
	EventTypeShipmentQuoted        = "SHIPMENT_QUOTED"
	EventTypeShipmentStatusChanged = "SHIPMENT_STATUS_CHANGED"
)

// Event types consumed from the provider-events topic
const (
	EventTypePaymentConfirmed = "PAYMENT_CONFIRMED"
	EventTypeCourierStatus    = "COURIER_STATUS"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order is created and its stock decremented
type OrderCreatedEvent struct {
	BaseEvent
	OrderID         string          `json:"order_id"`
	BuyerCompanyID  string          `json:"buyer_company_id"`
	BuyerBranchID   string          `json:"buyer_branch_id"`
	SellerCompanyID string          `json:"seller_company_id"`
	SellerBranchID  string          `json:"seller_branch_id"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Lines           []OrderLineData `json:"lines"`
}

// OrderStatusChangedEvent published after every committed order transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID string      `json:"order_id"`
	From    OrderStatus `json:"from"`
	To      OrderStatus `json:"to"`
}

// PaymentReleasedEvent published when escrow is released to the seller
type PaymentReleasedEvent struct {
	BaseEvent
	OrderID   string          `json:"order_id"`
	PaymentID string          `json:"payment_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// ShipmentEvent published when a shipment is quoted or changes status
type ShipmentEvent struct {
	BaseEvent
	OrderID    string         `json:"order_id"`
	ShipmentID string         `json:"shipment_id"`
	Status     ShipmentStatus `json:"status"`
}

// PaymentConfirmedEvent is the payment provider callback
type PaymentConfirmedEvent struct {
	BaseEvent
	OrderID     string          `json:"order_id"`
	ProviderRef string          `json:"tx_id"`
	Status      string          `json:"status"`
	AmountPaid  decimal.Decimal `json:"amount_paid"`
	Payload     string          `json:"-"`
}

// DriverInfo identifies the courier driver
type DriverInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// CourierStatusEvent is the courier provider callback
type CourierStatusEvent struct {
	BaseEvent
	OrderID string         `json:"order_id"`
	Status  ShipmentStatus `json:"status"`
	Driver  *DriverInfo    `json:"driver_info,omitempty"`
}

// OrderLineData represents line data in events
type OrderLineData struct {
	ListingID string          `json:"listing_id"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}
