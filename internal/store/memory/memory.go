// Package memory is an in-process Store with the same semantics as the postgres
// store. Transactions are serialized: one runs at a time and calls outside a
// transaction wait for it to finish.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"transfer-service/internal/models"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type txKey struct{}

type data struct {
	listings  map[string]models.Listing
	orders    map[string]models.Order
	lines     map[string][]models.OrderLine
	payments  map[string]models.Payment
	shipments map[string]models.Shipment
	branches  map[string]models.Branch
	users     map[string]models.User
	events    map[string]models.ProcessedEvent
}

func newData() *data {
	return &data{
		listings:  map[string]models.Listing{},
		orders:    map[string]models.Order{},
		lines:     map[string][]models.OrderLine{},
		payments:  map[string]models.Payment{},
		shipments: map[string]models.Shipment{},
		branches:  map[string]models.Branch{},
		users:     map[string]models.User{},
		events:    map[string]models.ProcessedEvent{},
	}
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.listings {
		c.listings[k] = v
	}
	for k, v := range d.orders {
		c.orders[k] = v
	}
	for k, v := range d.lines {
		c.lines[k] = append([]models.OrderLine(nil), v...)
	}
	for k, v := range d.payments {
		c.payments[k] = v
	}
	for k, v := range d.shipments {
		v.ProofPhotos = append(pq.StringArray(nil), v.ProofPhotos...)
		c.shipments[k] = v
	}
	for k, v := range d.branches {
		c.branches[k] = v
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.events {
		c.events[k] = v
	}
	return c
}

// Store keeps every record in maps guarded by a single transaction lock
type Store struct {
	mu   sync.Mutex
	data *data
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{data: newData()}
}

// WithTx runs fn with exclusive access to the store. Writes made by fn are thrown
// away when it returns an error.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

// do runs fn against the data, taking the lock unless ctx already holds it
func (s *Store) do(ctx context.Context, fn func(d *data) error) error {
	if !inTx(ctx) {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(s.data)
}

func notFound(what string) error {
	return fmt.Errorf("%s: %w", what, models.ErrNotFound)
}

func branchKey(companyID, branchID string) string {
	return companyID + "/" + branchID
}

// PutBranch stores a branch address
func (s *Store) PutBranch(ctx context.Context, b models.Branch) error {
	return s.do(ctx, func(d *data) error {
		d.branches[branchKey(b.CompanyID, b.BranchID)] = b
		return nil
	})
}

func (s *Store) GetBranch(ctx context.Context, companyID, branchID string) (*models.Branch, error) {
	var out models.Branch
	err := s.do(ctx, func(d *data) error {
		b, ok := d.branches[branchKey(companyID, branchID)]
		if !ok {
			return notFound("branch")
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// PutUser stores an account
func (s *Store) PutUser(ctx context.Context, u models.User) error {
	return s.do(ctx, func(d *data) error {
		d.users[u.UID] = u
		return nil
	})
}

func (s *Store) GetUser(ctx context.Context, uid string) (*models.User, error) {
	var out models.User
	err := s.do(ctx, func(d *data) error {
		u, ok := d.users[uid]
		if !ok {
			return notFound("user")
		}
		out = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) MarkEventProcessed(ctx context.Context, eventKey, source string) (bool, error) {
	fresh := false
	err := s.do(ctx, func(d *data) error {
		if _, ok := d.events[eventKey]; ok {
			return nil
		}
		d.events[eventKey] = models.ProcessedEvent{EventKey: eventKey, Source: source, ProcessedAt: time.Now().UTC()}
		fresh = true
		return nil
	})
	return fresh, err
}

// Listings

func (s *Store) CreateListing(ctx context.Context, l *models.Listing) error {
	return s.do(ctx, func(d *data) error {
		if _, ok := d.listings[l.ID]; ok {
			return fmt.Errorf("listing %s already exists", l.ID)
		}
		now := time.Now().UTC()
		l.CreatedAt, l.UpdatedAt = now, now
		d.listings[l.ID] = *l
		return nil
	})
}

func (s *Store) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	var out models.Listing
	err := s.do(ctx, func(d *data) error {
		l, ok := d.listings[id]
		if !ok {
			return notFound("listing")
		}
		out = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) GetListingsForUpdate(ctx context.Context, ids []string) ([]models.Listing, error) {
	out := []models.Listing{}
	err := s.do(ctx, func(d *data) error {
		for _, id := range ids {
			if l, ok := d.listings[id]; ok {
				out = append(out, l)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (s *Store) DecrementListingQty(ctx context.Context, id string, qty int) error {
	return s.do(ctx, func(d *data) error {
		l, ok := d.listings[id]
		if !ok || l.Qty < qty {
			return fmt.Errorf("%w: listing %s", models.ErrInsufficientStock, id)
		}
		l.Qty -= qty
		l.UpdatedAt = time.Now().UTC()
		d.listings[id] = l
		return nil
	})
}

func (s *Store) DeactivateListing(ctx context.Context, id string) error {
	return s.do(ctx, func(d *data) error {
		l, ok := d.listings[id]
		if !ok {
			return notFound("listing")
		}
		l.IsActive = false
		l.UpdatedAt = time.Now().UTC()
		d.listings[id] = l
		return nil
	})
}

// Orders

func (s *Store) CreateOrder(ctx context.Context, order *models.Order, lines []models.OrderLine) error {
	return s.do(ctx, func(d *data) error {
		if _, ok := d.orders[order.ID]; ok {
			return fmt.Errorf("order %s already exists", order.ID)
		}
		if order.IdempotencyKey != "" {
			for _, o := range d.orders {
				if o.BuyerCompanyID == order.BuyerCompanyID && o.BuyerBranchID == order.BuyerBranchID &&
					o.IdempotencyKey == order.IdempotencyKey {
					return models.ErrIdempotencyConflict
				}
			}
		}
		order.UpdatedAt = order.CreatedAt
		d.orders[order.ID] = *order

		stored := make([]models.OrderLine, 0, len(lines))
		for _, l := range lines {
			l.OrderID = order.ID
			stored = append(stored, l)
		}
		sort.Slice(stored, func(i, j int) bool { return stored[i].ListingID < stored[j].ListingID })
		d.lines[order.ID] = stored
		return nil
	})
}

func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var out models.Order
	err := s.do(ctx, func(d *data) error {
		o, ok := d.orders[id]
		if !ok {
			return notFound("order")
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) GetOrderForUpdate(ctx context.Context, id string) (*models.Order, error) {
	return s.GetOrderByID(ctx, id)
}

func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, companyID, branchID, key string) (*models.Order, error) {
	var out *models.Order
	err := s.do(ctx, func(d *data) error {
		for _, o := range d.orders {
			if o.BuyerCompanyID == companyID && o.BuyerBranchID == branchID && o.IdempotencyKey == key {
				o := o
				out = &o
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) GetOrderLines(ctx context.Context, orderID string) ([]models.OrderLine, error) {
	var out []models.OrderLine
	err := s.do(ctx, func(d *data) error {
		out = append([]models.OrderLine{}, d.lines[orderID]...)
		return nil
	})
	return out, err
}

func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, from, to models.OrderStatus, at time.Time) error {
	return s.do(ctx, func(d *data) error {
		o, ok := d.orders[orderID]
		if !ok || o.Status != from {
			return fmt.Errorf("%w: order %s is no longer %s", models.ErrInvalidTransition, orderID, from)
		}
		o.Status = to
		o.UpdatedAt = at
		switch to {
		case models.OrderStatusConfirmed:
			o.ConfirmedAt = &at
		case models.OrderStatusPaid:
			o.PaidAt = &at
		case models.OrderStatusDispatched:
			o.DispatchedAt = &at
		case models.OrderStatusDelivered:
			o.DeliveredAt = &at
		case models.OrderStatusAccepted:
			o.AcceptedAt = &at
		}
		d.orders[orderID] = o
		return nil
	})
}

func (s *Store) UpdateOrderShippingFee(ctx context.Context, orderID string, fee decimal.Decimal, at time.Time) error {
	return s.do(ctx, func(d *data) error {
		o, ok := d.orders[orderID]
		if !ok {
			return notFound("order")
		}
		o.ShippingFee = fee
		o.UpdatedAt = at
		d.orders[orderID] = o
		return nil
	})
}

func (s *Store) ListOrders(ctx context.Context, f models.OrderFilter) ([]models.Order, int, error) {
	var matched []models.Order
	err := s.do(ctx, func(d *data) error {
		for _, o := range d.orders {
			buyer := o.BuyerCompanyID == f.CompanyID && o.BuyerBranchID == f.BranchID
			seller := o.SellerCompanyID == f.CompanyID && o.SellerBranchID == f.BranchID
			switch f.Side {
			case models.OrderSideBuyer:
				if !buyer {
					continue
				}
			case models.OrderSideSeller:
				if !seller {
					continue
				}
			default:
				if !buyer && !seller {
					continue
				}
			}
			if f.Status != "" && o.Status != f.Status {
				continue
			}
			matched = append(matched, o)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	page := []models.Order{}
	if f.Offset < total {
		end := total
		if f.Limit > 0 && f.Offset+f.Limit < end {
			end = f.Offset + f.Limit
		}
		page = append(page, matched[f.Offset:end]...)
	}
	return page, total, nil
}

// FindPaidUnsettledOrders mirrors the postgres mismatch query
func (s *Store) FindPaidUnsettledOrders(ctx context.Context, limit int) ([]string, error) {
	return s.findOrders(ctx, limit, func(d *data, o models.Order) bool {
		p, ok := d.payments[o.ID]
		return ok && p.Status == models.PaymentStatusPaid &&
			(o.Status == models.OrderStatusCreated || o.Status == models.OrderStatusConfirmed)
	})
}

// FindShipmentLaggingOrders mirrors the postgres mismatch query
func (s *Store) FindShipmentLaggingOrders(ctx context.Context, limit int) ([]string, error) {
	return s.findOrders(ctx, limit, func(d *data, o models.Order) bool {
		sh, ok := d.shipments[o.ID]
		if !ok {
			return false
		}
		switch o.Status {
		case models.OrderStatusPaid:
			return sh.Status.Rank() >= models.ShipmentStatusPickedUp.Rank()
		case models.OrderStatusDispatched:
			return sh.Status.Rank() >= models.ShipmentStatusDelivered.Rank()
		}
		return false
	})
}

func (s *Store) findOrders(ctx context.Context, limit int, match func(d *data, o models.Order) bool) ([]string, error) {
	var found []models.Order
	err := s.do(ctx, func(d *data) error {
		for _, o := range d.orders {
			if match(d, o) {
				found = append(found, o)
			}
		}
		return nil
	})
	sort.Slice(found, func(i, j int) bool { return found[i].CreatedAt.Before(found[j].CreatedAt) })

	ids := []string{}
	for _, o := range found {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, o.ID)
	}
	return ids, err
}

// Payments

func (s *Store) GetPaymentByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	var out models.Payment
	err := s.do(ctx, func(d *data) error {
		p, ok := d.payments[orderID]
		if !ok {
			return notFound("payment")
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) GetPaymentForUpdate(ctx context.Context, orderID string) (*models.Payment, error) {
	return s.GetPaymentByOrderID(ctx, orderID)
}

func (s *Store) UpsertPayment(ctx context.Context, p *models.Payment) error {
	return s.do(ctx, func(d *data) error {
		if existing, ok := d.payments[p.OrderID]; ok {
			if existing.Status != models.PaymentStatusPending {
				return models.ErrAlreadyPaid
			}
			existing.Method = p.Method
			existing.Amount = p.Amount
			existing.Fee = p.Fee
			existing.ProviderRef = p.ProviderRef
			existing.VirtualAccount = p.VirtualAccount
			existing.PaymentURL = p.PaymentURL
			existing.UpdatedAt = p.UpdatedAt
			d.payments[p.OrderID] = existing
			*p = existing
			return nil
		}
		p.CreatedAt = p.UpdatedAt
		d.payments[p.OrderID] = *p
		return nil
	})
}

func (s *Store) UpdatePayment(ctx context.Context, p *models.Payment) error {
	return s.do(ctx, func(d *data) error {
		existing, ok := d.payments[p.OrderID]
		if !ok {
			return notFound("payment")
		}
		existing.Status = p.Status
		existing.ProviderRef = p.ProviderRef
		existing.WebhookPayload = p.WebhookPayload
		existing.PaidAt = p.PaidAt
		existing.ReleasedAt = p.ReleasedAt
		existing.UpdatedAt = p.UpdatedAt
		d.payments[p.OrderID] = existing
		return nil
	})
}

// Shipments

func (s *Store) GetShipmentByOrderID(ctx context.Context, orderID string) (*models.Shipment, error) {
	var out models.Shipment
	err := s.do(ctx, func(d *data) error {
		sh, ok := d.shipments[orderID]
		if !ok {
			return notFound("shipment")
		}
		sh.ProofPhotos = append(pq.StringArray(nil), sh.ProofPhotos...)
		out = sh
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) GetShipmentForUpdate(ctx context.Context, orderID string) (*models.Shipment, error) {
	return s.GetShipmentByOrderID(ctx, orderID)
}

func (s *Store) UpsertShipment(ctx context.Context, sh *models.Shipment) error {
	return s.do(ctx, func(d *data) error {
		if existing, ok := d.shipments[sh.OrderID]; ok {
			if existing.Status != models.ShipmentStatusQuoted {
				return fmt.Errorf("%w: shipment of order %s is past QUOTED", models.ErrInvalidTransition, sh.OrderID)
			}
			sh.ID = existing.ID
			sh.CreatedAt = existing.CreatedAt
			sh.Status = existing.Status
			d.shipments[sh.OrderID] = *sh
			return nil
		}
		sh.CreatedAt = sh.UpdatedAt
		d.shipments[sh.OrderID] = *sh
		return nil
	})
}

func (s *Store) UpdateShipment(ctx context.Context, sh *models.Shipment) error {
	return s.do(ctx, func(d *data) error {
		existing, ok := d.shipments[sh.OrderID]
		if !ok {
			return notFound("shipment")
		}
		existing.Status = sh.Status
		existing.DriverID = sh.DriverID
		existing.DriverName = sh.DriverName
		existing.DriverPhone = sh.DriverPhone
		existing.TrackingURL = sh.TrackingURL
		existing.ProofPhotos = append(pq.StringArray(nil), sh.ProofPhotos...)
		existing.PickedUpAt = sh.PickedUpAt
		existing.DeliveredAt = sh.DeliveredAt
		existing.UpdatedAt = sh.UpdatedAt
		d.shipments[sh.OrderID] = existing
		return nil
	})
}
