package store

import (
	"context"
	"fmt"

	"transfer-service/internal/models"
)

const shipmentColumns = `id, order_id, provider, quote_id, status, fee, pickup_address, delivery_address,
	driver_id, driver_name, driver_phone, tracking_url, proof_photos, eta_min, eta_max,
	picked_up_at, delivered_at, created_at, updated_at`

// GetShipmentByOrderID retrieves the shipment of an order
func (s *Store) GetShipmentByOrderID(ctx context.Context, orderID string) (*models.Shipment, error) {
	var sh models.Shipment
	err := s.q(ctx).GetContext(ctx, &sh, "SELECT "+shipmentColumns+" FROM shipments WHERE order_id = $1", orderID)
	if err != nil {
		return nil, notFound(err, "shipment")
	}
	return &sh, nil
}

// GetShipmentForUpdate retrieves the shipment of an order and locks its row
func (s *Store) GetShipmentForUpdate(ctx context.Context, orderID string) (*models.Shipment, error) {
	var sh models.Shipment
	err := s.q(ctx).GetContext(ctx, &sh, "SELECT "+shipmentColumns+" FROM shipments WHERE order_id = $1 FOR UPDATE", orderID)
	if err != nil {
		return nil, notFound(err, "shipment")
	}
	return &sh, nil
}

// UpsertShipment creates the shipment of an order or refreshes a quote that has not
// been dispatched yet
func (s *Store) UpsertShipment(ctx context.Context, sh *models.Shipment) error {
	query := `
		INSERT INTO shipments (id, order_id, provider, quote_id, status, fee, pickup_address, delivery_address,
			eta_min, eta_max, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		ON CONFLICT (order_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			quote_id = EXCLUDED.quote_id,
			fee = EXCLUDED.fee,
			pickup_address = EXCLUDED.pickup_address,
			delivery_address = EXCLUDED.delivery_address,
			eta_min = EXCLUDED.eta_min,
			eta_max = EXCLUDED.eta_max,
			updated_at = EXCLUDED.updated_at
		WHERE shipments.status = 'QUOTED'
		RETURNING id, created_at`

	rows, err := s.q(ctx).QueryxContext(ctx, query,
		sh.ID, sh.OrderID, sh.Provider, sh.QuoteID, sh.Status, sh.Fee, sh.PickupAddress, sh.DeliveryAddress,
		sh.EtaMin, sh.EtaMax, sh.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert shipment: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to upsert shipment: %w", err)
		}
		return fmt.Errorf("%w: shipment of order %s is past QUOTED", models.ErrInvalidTransition, sh.OrderID)
	}
	return rows.Scan(&sh.ID, &sh.CreatedAt)
}

// UpdateShipment writes the courier progress of a shipment
func (s *Store) UpdateShipment(ctx context.Context, sh *models.Shipment) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		UPDATE shipments SET status = $1, driver_id = $2, driver_name = $3, driver_phone = $4,
			tracking_url = $5, proof_photos = $6, picked_up_at = $7, delivered_at = $8, updated_at = $9
		WHERE order_id = $10`,
		sh.Status, sh.DriverID, sh.DriverName, sh.DriverPhone, sh.TrackingURL, sh.ProofPhotos,
		sh.PickedUpAt, sh.DeliveredAt, sh.UpdatedAt, sh.OrderID)
	if err != nil {
		return fmt.Errorf("failed to update shipment: %w", err)
	}
	return nil
}
