package models

// OrderStatus is the canonical status of an order.
//
//	CREATED -> CONFIRMED -> PAID -> DISPATCHED -> DELIVERED -> ACCEPTED -> SETTLED
//
// DISPUTED sits outside the forward order and has no transitions.
type OrderStatus string

const (
	OrderStatusCreated    OrderStatus = "CREATED"
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusPaid       OrderStatus = "PAID"
	OrderStatusDispatched OrderStatus = "DISPATCHED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusAccepted   OrderStatus = "ACCEPTED"
	OrderStatusSettled    OrderStatus = "SETTLED"
	OrderStatusDisputed   OrderStatus = "DISPUTED"
)

var orderRank = map[OrderStatus]int{
	OrderStatusCreated:    1,
	OrderStatusConfirmed:  2,
	OrderStatusPaid:       3,
	OrderStatusDispatched: 4,
	OrderStatusDelivered:  5,
	OrderStatusAccepted:   6,
	OrderStatusSettled:    7,
}

// Rank returns the position in the forward order, 0 for DISPUTED or unknown values.
func (s OrderStatus) Rank() int {
	return orderRank[s]
}

// Valid reports whether s is part of the status vocabulary
func (s OrderStatus) Valid() bool {
	return s == OrderStatusDisputed || orderRank[s] > 0
}

// Before reports whether s precedes other in the forward order
func (s OrderStatus) Before(other OrderStatus) bool {
	return s.Rank() > 0 && other.Rank() > 0 && s.Rank() < other.Rank()
}

// PaymentStatus is the escrow status of a payment
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusReleased PaymentStatus = "RELEASED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// ShipmentStatus is the courier status of a shipment
type ShipmentStatus string

const (
	ShipmentStatusQuoted         ShipmentStatus = "QUOTED"
	ShipmentStatusDriverAssigned ShipmentStatus = "DRIVER_ASSIGNED"
	ShipmentStatusPickedUp       ShipmentStatus = "PICKED_UP"
	ShipmentStatusDelivered      ShipmentStatus = "DELIVERED"
	ShipmentStatusProofUploaded  ShipmentStatus = "PROOF_UPLOADED"
)

var shipmentRank = map[ShipmentStatus]int{
	ShipmentStatusQuoted:         1,
	ShipmentStatusDriverAssigned: 2,
	ShipmentStatusPickedUp:       3,
	ShipmentStatusDelivered:      4,
	ShipmentStatusProofUploaded:  5,
}

func (s ShipmentStatus) Rank() int {
	return shipmentRank[s]
}

func (s ShipmentStatus) Valid() bool {
	return shipmentRank[s] > 0
}
