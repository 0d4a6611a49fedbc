package service

import (
	"context"
	"fmt"
	"time"

	"transfer-service/internal/models"
	"transfer-service/internal/provider"

	"github.com/google/uuid"
)

// ShipmentTracker owns the courier record of an order
type ShipmentTracker struct {
	store Store
}

// NewShipmentTracker creates a shipment tracker over store
func NewShipmentTracker(store Store) *ShipmentTracker {
	return &ShipmentTracker{store: store}
}

// Quote writes a courier quote. A second quote before dispatch replaces the first.
func (t *ShipmentTracker) Quote(ctx context.Context, orderID, providerName string, q *provider.Quote, pickup, drop string, at time.Time) (*models.Shipment, error) {
	sh := &models.Shipment{
		ID:              uuid.New().String(),
		OrderID:         orderID,
		Provider:        providerName,
		QuoteID:         q.QuoteID,
		Status:          models.ShipmentStatusQuoted,
		Fee:             q.Fee,
		PickupAddress:   pickup,
		DeliveryAddress: drop,
		EtaMin:          q.EtaMin,
		EtaMax:          q.EtaMax,
		UpdatedAt:       at,
	}
	if err := t.store.UpsertShipment(ctx, sh); err != nil {
		return nil, err
	}
	return sh, nil
}

// AssignDriver records the driver of a quoted shipment
func (t *ShipmentTracker) AssignDriver(ctx context.Context, sh *models.Shipment, d *provider.Dispatch, at time.Time) error {
	if sh.Status != models.ShipmentStatusQuoted {
		return fmt.Errorf("%w: shipment of order %s is %s", models.ErrQuoteRequired, sh.OrderID, sh.Status)
	}

	sh.Status = models.ShipmentStatusDriverAssigned
	sh.DriverID = d.DriverID
	sh.DriverName = d.DriverName
	sh.DriverPhone = d.DriverPhone
	sh.TrackingURL = d.TrackingURL
	sh.UpdatedAt = at
	return t.store.UpdateShipment(ctx, sh)
}

// Advance applies a courier status. It reports false when the shipment is already at
// or past that status, which makes replays harmless.
func (t *ShipmentTracker) Advance(ctx context.Context, sh *models.Shipment, status models.ShipmentStatus, driver *models.DriverInfo, at time.Time) (bool, error) {
	if status != models.ShipmentStatusPickedUp && status != models.ShipmentStatusDelivered {
		return false, fmt.Errorf("%w: unsupported courier status %q", models.ErrInvalidInput, status)
	}
	if status.Rank() <= sh.Status.Rank() {
		return false, nil
	}

	sh.Status = status
	switch status {
	case models.ShipmentStatusPickedUp:
		sh.PickedUpAt = &at
	case models.ShipmentStatusDelivered:
		if sh.PickedUpAt == nil {
			sh.PickedUpAt = &at
		}
		sh.DeliveredAt = &at
	}
	if driver != nil {
		sh.DriverID = driver.ID
		sh.DriverName = driver.Name
		sh.DriverPhone = driver.Phone
	}
	sh.UpdatedAt = at
	return true, t.store.UpdateShipment(ctx, sh)
}

// AttachProof adds proof-of-delivery photos to a delivered shipment
func (t *ShipmentTracker) AttachProof(ctx context.Context, sh *models.Shipment, photos []string, at time.Time) error {
	if sh.Status != models.ShipmentStatusDelivered && sh.Status != models.ShipmentStatusProofUploaded {
		return fmt.Errorf("%w: shipment of order %s is %s, not delivered",
			models.ErrInvalidTransition, sh.OrderID, sh.Status)
	}

	sh.Status = models.ShipmentStatusProofUploaded
	sh.ProofPhotos = append(sh.ProofPhotos, photos...)
	sh.UpdatedAt = at
	return t.store.UpdateShipment(ctx, sh)
}
