package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"transfer-service/internal/models"

	"github.com/shopspring/decimal"
)

const orderColumns = `id, buyer_company_id, buyer_branch_id, seller_company_id, seller_branch_id,
	total_amount, platform_fee, shipping_fee, payment_mode, status, idempotency_key, notes,
	confirmed_at, paid_at, dispatched_at, delivered_at, accepted_at, created_at, updated_at`

// CreateOrder inserts an order together with its lines
func (s *Store) CreateOrder(ctx context.Context, order *models.Order, lines []models.OrderLine) error {
	query := `
		INSERT INTO orders (id, buyer_company_id, buyer_branch_id, seller_company_id, seller_branch_id,
			total_amount, platform_fee, shipping_fee, payment_mode, status, idempotency_key, notes,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`

	_, err := s.q(ctx).ExecContext(ctx, query,
		order.ID, order.BuyerCompanyID, order.BuyerBranchID, order.SellerCompanyID, order.SellerBranchID,
		order.TotalAmount, order.PlatformFee, order.ShippingFee, order.PaymentMode, order.Status,
		order.IdempotencyKey, order.Notes, order.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrIdempotencyConflict
		}
		return fmt.Errorf("failed to create order: %w", err)
	}
	order.UpdatedAt = order.CreatedAt

	for _, line := range lines {
		_, err := s.q(ctx).ExecContext(ctx, `
			INSERT INTO order_lines (id, order_id, listing_id, qty, unit_price, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			line.ID, order.ID, line.ListingID, line.Qty, line.UnitPrice, line.Subtotal)
		if err != nil {
			return fmt.Errorf("failed to create order line: %w", err)
		}
	}
	return nil
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.q(ctx).GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "order")
	}
	return &order, nil
}

// GetOrderForUpdate retrieves an order and locks its row until the transaction ends
func (s *Store) GetOrderForUpdate(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.q(ctx).GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, notFound(err, "order")
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves a buyer's order by idempotency key, nil when absent
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, companyID, branchID, key string) (*models.Order, error) {
	var orders []models.Order
	err := s.q(ctx).SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE buyer_company_id = $1 AND buyer_branch_id = $2 AND idempotency_key = $3",
		companyID, branchID, key)
	if err != nil {
		return nil, fmt.Errorf("find order by idempotency key: %w", err)
	}
	if len(orders) == 0 {
		return nil, nil
	}
	return &orders[0], nil
}

// GetOrderLines retrieves all lines of an order
func (s *Store) GetOrderLines(ctx context.Context, orderID string) ([]models.OrderLine, error) {
	lines := []models.OrderLine{}
	err := s.q(ctx).SelectContext(ctx, &lines,
		"SELECT id, order_id, listing_id, qty, unit_price, subtotal FROM order_lines WHERE order_id = $1 ORDER BY listing_id",
		orderID)
	if err != nil {
		return nil, fmt.Errorf("get order lines: %w", err)
	}
	return lines, nil
}

var statusTimestampColumn = map[models.OrderStatus]string{
	models.OrderStatusConfirmed:  "confirmed_at",
	models.OrderStatusPaid:       "paid_at",
	models.OrderStatusDispatched: "dispatched_at",
	models.OrderStatusDelivered:  "delivered_at",
	models.OrderStatusAccepted:   "accepted_at",
}

// UpdateOrderStatus moves an order from one status to the next. The write only lands
// when the stored status still equals from.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, from, to models.OrderStatus, at time.Time) error {
	set := "status = $1, updated_at = $2"
	if col, ok := statusTimestampColumn[to]; ok {
		set += ", " + col + " = $2"
	}

	res, err := s.q(ctx).ExecContext(ctx,
		"UPDATE orders SET "+set+" WHERE id = $3 AND status = $4",
		to, at, orderID, from)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: order %s is no longer %s", models.ErrInvalidTransition, orderID, from)
	}
	return nil
}

// UpdateOrderShippingFee stores the courier quote fee on the order
func (s *Store) UpdateOrderShippingFee(ctx context.Context, orderID string, fee decimal.Decimal, at time.Time) error {
	_, err := s.q(ctx).ExecContext(ctx,
		"UPDATE orders SET shipping_fee = $1, updated_at = $2 WHERE id = $3", fee, at, orderID)
	if err != nil {
		return fmt.Errorf("failed to update shipping fee: %w", err)
	}
	return nil
}

// ListOrders returns one page of a branch's orders and the total match count
func (s *Store) ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, int, error) {
	var where []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	buyer := "(buyer_company_id = " + arg(f.CompanyID) + " AND buyer_branch_id = " + arg(f.BranchID) + ")"
	seller := "(seller_company_id = " + arg(f.CompanyID) + " AND seller_branch_id = " + arg(f.BranchID) + ")"
	switch f.Side {
	case models.OrderSideBuyer:
		where = append(where, buyer)
	case models.OrderSideSeller:
		where = append(where, seller)
	default:
		where = append(where, "("+buyer+" OR "+seller+")")
	}
	if f.Status != "" {
		where = append(where, "status = "+arg(f.Status))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.q(ctx).GetContext(ctx, &total, "SELECT COUNT(*) FROM orders WHERE "+cond, args...); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	orders := []models.Order{}
	query := "SELECT " + orderColumns + " FROM orders WHERE " + cond +
		" ORDER BY created_at DESC LIMIT " + arg(f.Limit) + " OFFSET " + arg(f.Offset)
	if err := s.q(ctx).SelectContext(ctx, &orders, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	return orders, total, nil
}

// FindPaidUnsettledOrders returns orders whose payment is PAID while the order still
// sits before PAID
func (s *Store) FindPaidUnsettledOrders(ctx context.Context, limit int) ([]string, error) {
	ids := []string{}
	err := s.q(ctx).SelectContext(ctx, &ids, `
		SELECT o.id FROM orders o
		JOIN payments p ON p.order_id = o.id
		WHERE p.status = 'PAID' AND o.status IN ('CREATED', 'CONFIRMED')
		ORDER BY o.created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("find payment mismatches: %w", err)
	}
	return ids, nil
}

// FindShipmentLaggingOrders returns orders whose shipment has moved further than the
// order status reflects
func (s *Store) FindShipmentLaggingOrders(ctx context.Context, limit int) ([]string, error) {
	ids := []string{}
	err := s.q(ctx).SelectContext(ctx, &ids, `
		SELECT o.id FROM orders o
		JOIN shipments sh ON sh.order_id = o.id
		WHERE (sh.status IN ('PICKED_UP', 'DELIVERED', 'PROOF_UPLOADED') AND o.status = 'PAID')
		   OR (sh.status IN ('DELIVERED', 'PROOF_UPLOADED') AND o.status = 'DISPATCHED')
		ORDER BY o.created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("find shipment mismatches: %w", err)
	}
	return ids, nil
}
