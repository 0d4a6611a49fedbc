package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"transfer-service/internal/clock"
	"transfer-service/internal/models"
	"transfer-service/internal/provider"
	"transfer-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Options tune the orchestrator
type Options struct {
	ProviderTimeout time.Duration
	AllowSimulation bool
	ReplayTTL       time.Duration
}

// OrderService is the order orchestrator. It owns the canonical order status and
// drives the inventory, payment and shipment ledgers inside one transaction per step.
type OrderService struct {
	store     Store
	inventory *InventoryLedger
	payments  *PaymentLedger
	shipments *ShipmentTracker

	paymentProvider provider.PaymentProvider
	courier         provider.CourierProvider
	publisher       EventPublisher
	replay          ReplayCache
	clock           clock.Clock
	opts            Options
	logger          *zap.Logger
}

// NewOrderService creates a new order service. publisher, replay and clk may be nil.
func NewOrderService(
	store Store,
	paymentProvider provider.PaymentProvider,
	courier provider.CourierProvider,
	publisher EventPublisher,
	replay ReplayCache,
	clk clock.Clock,
	opts Options,
) *OrderService {
	if publisher == nil {
		publisher = NopPublisher()
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 10 * time.Second
	}
	if opts.ReplayTTL <= 0 {
		opts.ReplayTTL = 24 * time.Hour
	}

	return &OrderService{
		store:           store,
		inventory:       NewInventoryLedger(store),
		payments:        NewPaymentLedger(store),
		shipments:       NewShipmentTracker(store),
		paymentProvider: paymentProvider,
		courier:         courier,
		publisher:       publisher,
		replay:          replay,
		clock:           clk,
		opts:            opts,
		logger:          util.GetLogger(),
	}
}

// Inventory returns the inventory ledger used by the service
func (s *OrderService) Inventory() *InventoryLedger {
	return s.inventory
}

// CreateOrderInput represents a request to create an order
type CreateOrderInput struct {
	SellerCompanyID string        `json:"seller_company_id"`
	SellerBranchID  string        `json:"seller_branch_id"`
	Lines           []LineRequest `json:"lines"`
	PaymentMode     string        `json:"payment_mode"`
	Notes           string        `json:"notes"`
	IdempotencyKey  string        `json:"-"`
}

// CreateOrder reserves stock and records a new order. A repeated idempotency key
// returns the order created the first time with created=false.
func (s *OrderService) CreateOrder(ctx context.Context, caller models.Caller, in CreateOrderInput) (*models.OrderView, bool, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if in.SellerCompanyID == "" || in.SellerBranchID == "" {
		return nil, false, fmt.Errorf("%w: seller_company_id and seller_branch_id are required", models.ErrInvalidInput)
	}
	if in.SellerCompanyID == caller.CompanyID && in.SellerBranchID == caller.BranchID {
		return nil, false, fmt.Errorf("%w: a branch cannot order from itself", models.ErrInvalidInput)
	}
	if in.PaymentMode == "" {
		in.PaymentMode = models.PaymentModeEscrow
	}
	if in.PaymentMode != models.PaymentModeEscrow {
		return nil, false, fmt.Errorf("%w: unsupported payment mode %q", models.ErrInvalidInput, in.PaymentMode)
	}
	if len(in.Lines) == 0 {
		return nil, false, fmt.Errorf("%w: order has no lines", models.ErrInvalidInput)
	}
	lines, err := mergeLines(in.Lines)
	if err != nil {
		return nil, false, err
	}

	if in.IdempotencyKey != "" {
		view, err := s.findIdempotent(ctx, caller, in, lines)
		if err != nil || view != nil {
			return view, false, err
		}
	}

	now := s.clock.Now()
	order := &models.Order{
		ID:              uuid.New().String(),
		BuyerCompanyID:  caller.CompanyID,
		BuyerBranchID:   caller.BranchID,
		SellerCompanyID: in.SellerCompanyID,
		SellerBranchID:  in.SellerBranchID,
		ShippingFee:     decimal.Zero,
		PaymentMode:     in.PaymentMode,
		Status:          models.OrderStatusCreated,
		IdempotencyKey:  in.IdempotencyKey,
		Notes:           in.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var orderLines []models.OrderLine
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		var err error
		orderLines, err = s.inventory.ReserveAndDecrement(ctx, in.SellerCompanyID, in.SellerBranchID, lines)
		if err != nil {
			return err
		}

		total := decimal.Zero
		for i := range orderLines {
			orderLines[i].OrderID = order.ID
			total = total.Add(orderLines[i].Subtotal)
		}
		order.TotalAmount = total
		order.PlatformFee = PlatformFee(total)

		return s.store.CreateOrder(ctx, order, orderLines)
	})
	if errors.Is(err, models.ErrIdempotencyConflict) && in.IdempotencyKey != "" {
		// a concurrent request with the same key committed first
		view, ferr := s.findIdempotent(ctx, caller, in, lines)
		if ferr != nil {
			return nil, false, ferr
		}
		if view != nil {
			return view, false, nil
		}
	}
	if err != nil {
		return nil, false, s.fail(ctx, "create", "", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("buyer_branch_id", order.BuyerBranchID),
		zap.String("seller_branch_id", order.SellerBranchID),
		zap.String("total_amount", order.TotalAmount.String()))

	lineData := make([]models.OrderLineData, 0, len(orderLines))
	for _, l := range orderLines {
		lineData = append(lineData, models.OrderLineData{ListingID: l.ListingID, Qty: l.Qty, UnitPrice: l.UnitPrice})
	}
	s.flush(ctx, &outbox{created: &models.OrderCreatedEvent{
		BaseEvent:       newBaseEvent(models.EventTypeOrderCreated, now),
		OrderID:         order.ID,
		BuyerCompanyID:  order.BuyerCompanyID,
		BuyerBranchID:   order.BuyerBranchID,
		SellerCompanyID: order.SellerCompanyID,
		SellerBranchID:  order.SellerBranchID,
		TotalAmount:     order.TotalAmount,
		Lines:           lineData,
	}})

	return &models.OrderView{Order: order, Lines: orderLines}, true, nil
}

func (s *OrderService) findIdempotent(ctx context.Context, caller models.Caller, in CreateOrderInput, lines []LineRequest) (*models.OrderView, error) {
	existing, err := s.store.GetOrderByIdempotencyKey(ctx, caller.CompanyID, caller.BranchID, in.IdempotencyKey)
	if err != nil || existing == nil {
		return nil, err
	}
	existingLines, err := s.store.GetOrderLines(ctx, existing.ID)
	if err != nil {
		return nil, err
	}

	if !samePayload(existing, existingLines, in, lines) {
		return nil, fmt.Errorf("%w: key %s was used for a different order", models.ErrIdempotencyConflict, in.IdempotencyKey)
	}

	s.logger.Info("Duplicate order request detected",
		zap.String("idempotency_key", in.IdempotencyKey),
		zap.String("order_id", existing.ID))
	return &models.OrderView{Order: existing, Lines: existingLines}, nil
}

func samePayload(order *models.Order, orderLines []models.OrderLine, in CreateOrderInput, lines []LineRequest) bool {
	if order.SellerCompanyID != in.SellerCompanyID || order.SellerBranchID != in.SellerBranchID {
		return false
	}
	if len(orderLines) != len(lines) {
		return false
	}
	want := make(map[string]int, len(lines))
	for _, l := range lines {
		want[l.ListingID] = l.Qty
	}
	for _, l := range orderLines {
		if want[l.ListingID] != l.Qty {
			return false
		}
	}
	return true
}

// ConfirmOrder is the seller accepting a CREATED order
func (s *OrderService) ConfirmOrder(ctx context.Context, caller models.Caller, orderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ConfirmOrder", attribute.String("order_id", orderID))
	defer span.End()

	var order *models.Order
	out := &outbox{}
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		o, err := s.lockOrder(ctx, caller, orderID, ActionConfirm)
		if err != nil {
			return err
		}
		if o.Status != models.OrderStatusCreated {
			return models.TransitionError(o.ID, o.Status, "confirm")
		}
		order = o
		return s.transition(ctx, o, models.OrderStatusConfirmed, s.clock.Now(), out)
	})
	if err != nil {
		return nil, s.fail(ctx, ActionConfirm, orderID, err)
	}

	s.flush(ctx, out)
	return order, nil
}

// PreparePayment opens an escrow payment with the payment provider
func (s *OrderService) PreparePayment(ctx context.Context, caller models.Caller, orderID, method string) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PreparePayment", attribute.String("order_id", orderID))
	defer span.End()

	if _, err := PaymentFee(method, decimal.Zero); err != nil {
		return nil, err
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := canAct(caller, order, ActionPreparePayment); err != nil {
		return nil, s.fail(ctx, ActionPreparePayment, orderID, err)
	}
	if err := s.checkPayable(ctx, order); err != nil {
		return nil, s.fail(ctx, ActionPreparePayment, orderID, err)
	}

	session, err := provider.Call(ctx, "payment", s.opts.ProviderTimeout, func(ctx context.Context) (*provider.PaymentSession, error) {
		return s.paymentProvider.PreparePayment(ctx, provider.PaymentRequest{
			OrderID: order.ID,
			Method:  method,
			Amount:  PaymentAmount(order),
		})
	})
	if err != nil {
		return nil, s.fail(ctx, ActionPreparePayment, orderID, err)
	}

	var payment *models.Payment
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		o, err := s.lockOrder(ctx, caller, orderID, ActionPreparePayment)
		if err != nil {
			return err
		}
		if err := s.checkPayable(ctx, o); err != nil {
			return err
		}
		payment, err = s.payments.Prepare(ctx, o, method, session, s.clock.Now())
		return err
	})
	if err != nil {
		s.logger.Warn("Payment session discarded",
			zap.String("order_id", orderID),
			zap.String("provider_ref", session.ProviderRef),
			zap.Error(err))
		return nil, s.fail(ctx, ActionPreparePayment, orderID, err)
	}

	s.logger.Info("Payment prepared",
		zap.String("order_id", orderID),
		zap.String("method", method),
		zap.String("amount", payment.Amount.String()))
	return payment, nil
}

// checkPayable rejects orders that are already paid or not yet payable
func (s *OrderService) checkPayable(ctx context.Context, order *models.Order) error {
	p, err := s.store.GetPaymentByOrderID(ctx, order.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}
	if p != nil && p.Status != models.PaymentStatusPending {
		return fmt.Errorf("%w: payment of order %s is %s", models.ErrAlreadyPaid, order.ID, p.Status)
	}
	if order.Status != models.OrderStatusCreated && order.Status != models.OrderStatusConfirmed {
		return models.TransitionError(order.ID, order.Status, "prepare payment for")
	}
	return nil
}

// SimulatePayment completes a pending payment without the provider. Only available
// when simulation is enabled.
func (s *OrderService) SimulatePayment(ctx context.Context, caller models.Caller, orderID string) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.SimulatePayment", attribute.String("order_id", orderID))
	defer span.End()

	if !s.opts.AllowSimulation {
		return nil, fmt.Errorf("%w: payment simulation is disabled", models.ErrForbidden)
	}

	var payment *models.Payment
	out := &outbox{}
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		o, err := s.lockOrder(ctx, caller, orderID, ActionSimulatePayment)
		if err != nil {
			return err
		}
		p, err := s.store.GetPaymentForUpdate(ctx, o.ID)
		if err != nil {
			return err
		}
		if p.Status != models.PaymentStatusPending {
			return fmt.Errorf("%w: payment of order %s is %s", models.ErrAlreadyPaid, o.ID, p.Status)
		}
		if o.Status != models.OrderStatusCreated && o.Status != models.OrderStatusConfirmed {
			return models.TransitionError(o.ID, o.Status, "pay")
		}

		now := s.clock.Now()
		if err := s.payments.Confirm(ctx, p, "", "", now); err != nil {
			return err
		}
		payment = p
		return s.transition(ctx, o, models.OrderStatusPaid, now, out)
	})
	if err != nil {
		return nil, s.fail(ctx, ActionSimulatePayment, orderID, err)
	}

	util.PaymentsConfirmedTotal.WithLabelValues("simulation").Inc()
	s.flush(ctx, out)
	return payment, nil
}

// RequestQuote asks the courier for a price and stores it as the order's shipment
func (s *OrderService) RequestQuote(ctx context.Context, caller models.Caller, orderID string) (*models.Shipment, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.RequestQuote", attribute.String("order_id", orderID))
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := canAct(caller, order, ActionRequestQuote); err != nil {
		return nil, s.fail(ctx, ActionRequestQuote, orderID, err)
	}
	if order.Status != models.OrderStatusPaid {
		return nil, s.fail(ctx, ActionRequestQuote, orderID, models.TransitionError(order.ID, order.Status, "request a quote for"))
	}
	if sh, err := s.store.GetShipmentByOrderID(ctx, orderID); err == nil && sh.Status != models.ShipmentStatusQuoted {
		return nil, s.fail(ctx, ActionRequestQuote, orderID,
			fmt.Errorf("%w: shipment of order %s is already %s", models.ErrInvalidTransition, orderID, sh.Status))
	} else if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	pickup, err := s.store.GetBranch(ctx, order.SellerCompanyID, order.SellerBranchID)
	if err != nil {
		return nil, err
	}
	drop, err := s.store.GetBranch(ctx, order.BuyerCompanyID, order.BuyerBranchID)
	if err != nil {
		return nil, err
	}

	quote, err := provider.Call(ctx, "courier", s.opts.ProviderTimeout, func(ctx context.Context) (*provider.Quote, error) {
		return s.courier.RequestQuote(ctx, pickup.FullAddress(), drop.FullAddress())
	})
	if err != nil {
		return nil, s.fail(ctx, ActionRequestQuote, orderID, err)
	}

	var shipment *models.Shipment
	out := &outbox{}
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		o, err := s.lockOrder(ctx, caller, orderID, ActionRequestQuote)
		if err != nil {
			return err
		}
		if o.Status != models.OrderStatusPaid {
			return models.TransitionError(o.ID, o.Status, "request a quote for")
		}

		now := s.clock.Now()
		shipment, err = s.shipments.Quote(ctx, o.ID, s.courier.Name(), quote, pickup.FullAddress(), drop.FullAddress(), now)
		if err != nil {
			return err
		}
		if err := s.store.UpdateOrderShippingFee(ctx, o.ID, quote.Fee, now); err != nil {
			return err
		}
		out.shipment = shipmentEvent(models.EventTypeShipmentQuoted, shipment, now)
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, ActionRequestQuote, orderID, err)
	}

	s.logger.Info("Shipment quoted",
		zap.String("order_id", orderID),
		zap.String("quote_id", shipment.QuoteID),
		zap.String("fee", shipment.Fee.String()))
	s.flush(ctx, out)
	return shipment, nil
}

// Dispatch books the quoted courier and moves the order to DISPATCHED
func (s *OrderService) Dispatch(ctx context.Context, caller models.Caller, orderID string) (*models.Shipment, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Dispatch", attribute.String("order_id", orderID))
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := canAct(caller, order, ActionDispatch); err != nil {
		return nil, s.fail(ctx, ActionDispatch, orderID, err)
	}
	if order.Status != models.OrderStatusPaid {
		return nil, s.fail(ctx, ActionDispatch, orderID, models.TransitionError(order.ID, order.Status, "dispatch"))
	}
	quoted, err := s.quotedShipment(ctx, orderID, s.store.GetShipmentByOrderID)
	if err != nil {
		return nil, s.fail(ctx, ActionDispatch, orderID, err)
	}

	assigned, err := provider.Call(ctx, "courier", s.opts.ProviderTimeout, func(ctx context.Context) (*provider.Dispatch, error) {
		return s.courier.Dispatch(ctx, quoted.QuoteID)
	})
	if err != nil {
		return nil, s.fail(ctx, ActionDispatch, orderID, err)
	}

	var shipment *models.Shipment
	out := &outbox{}
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		o, err := s.lockOrder(ctx, caller, orderID, ActionDispatch)
		if err != nil {
			return err
		}
		if o.Status != models.OrderStatusPaid {
			return models.TransitionError(o.ID, o.Status, "dispatch")
		}
		sh, err := s.quotedShipment(ctx, orderID, s.store.GetShipmentForUpdate)
		if err != nil {
			return err
		}
		if sh.QuoteID != quoted.QuoteID {
			return fmt.Errorf("%w: quote of order %s changed during dispatch", models.ErrInvalidTransition, orderID)
		}

		now := s.clock.Now()
		if err := s.shipments.AssignDriver(ctx, sh, assigned, now); err != nil {
			return err
		}
		shipment = sh
		out.shipment = shipmentEvent(models.EventTypeShipmentStatusChanged, sh, now)
		return s.transition(ctx, o, models.OrderStatusDispatched, now, out)
	})
	if err != nil {
		s.logger.Warn("Courier booking discarded",
			zap.String("order_id", orderID),
			zap.String("driver_id", assigned.DriverID),
			zap.Error(err))
		return nil, s.fail(ctx, ActionDispatch, orderID, err)
	}

	s.flush(ctx, out)
	return shipment, nil
}

func (s *OrderService) quotedShipment(ctx context.Context, orderID string, get func(context.Context, string) (*models.Shipment, error)) (*models.Shipment, error) {
	sh, err := get(ctx, orderID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%w: order %s has no quote", models.ErrQuoteRequired, orderID)
	}
	if err != nil {
		return nil, err
	}
	if sh.Status != models.ShipmentStatusQuoted {
		return nil, fmt.Errorf("%w: shipment of order %s is %s", models.ErrQuoteRequired, orderID, sh.Status)
	}
	return sh, nil
}

// AcceptDelivery is the buyer accepting a delivered order. Escrow is released in the
// same transaction and optional proof photos are attached.
func (s *OrderService) AcceptDelivery(ctx context.Context, caller models.Caller, orderID string, proofPhotos []string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.AcceptDelivery", attribute.String("order_id", orderID))
	defer span.End()

	var order *models.Order
	out := &outbox{}
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		o, err := s.lockOrder(ctx, caller, orderID, ActionAccept)
		if err != nil {
			return err
		}
		if o.Status != models.OrderStatusDelivered {
			return models.TransitionError(o.ID, o.Status, "accept")
		}
		p, err := s.store.GetPaymentForUpdate(ctx, o.ID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		if err := s.payments.Release(ctx, p, now); err != nil {
			return err
		}
		out.released = &models.PaymentReleasedEvent{
			BaseEvent: newBaseEvent(models.EventTypePaymentReleased, now),
			OrderID:   o.ID,
			PaymentID: p.ID,
			Amount:    p.Amount,
		}

		if len(proofPhotos) > 0 {
			sh, err := s.store.GetShipmentForUpdate(ctx, o.ID)
			if err != nil {
				return err
			}
			if err := s.shipments.AttachProof(ctx, sh, proofPhotos, now); err != nil {
				return err
			}
			out.shipment = shipmentEvent(models.EventTypeShipmentStatusChanged, sh, now)
		}

		order = o
		return s.transition(ctx, o, models.OrderStatusAccepted, now, out)
	})
	if err != nil {
		return nil, s.fail(ctx, ActionAccept, orderID, err)
	}

	s.flush(ctx, out)
	return order, nil
}

// UploadProof attaches proof-of-delivery photos after acceptance
func (s *OrderService) UploadProof(ctx context.Context, caller models.Caller, orderID string, photos []string) (*models.Shipment, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.UploadProof", attribute.String("order_id", orderID))
	defer span.End()

	if len(photos) == 0 {
		return nil, fmt.Errorf("%w: at least one photo is required", models.ErrInvalidInput)
	}

	var shipment *models.Shipment
	out := &outbox{}
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		o, err := s.lockOrder(ctx, caller, orderID, ActionUploadProof)
		if err != nil {
			return err
		}
		if o.Status.Rank() < models.OrderStatusAccepted.Rank() {
			return models.TransitionError(o.ID, o.Status, "upload proof for")
		}
		sh, err := s.store.GetShipmentForUpdate(ctx, o.ID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		if err := s.shipments.AttachProof(ctx, sh, photos, now); err != nil {
			return err
		}
		shipment = sh
		out.shipment = shipmentEvent(models.EventTypeShipmentStatusChanged, sh, now)
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, ActionUploadProof, orderID, err)
	}

	s.flush(ctx, out)
	return shipment, nil
}

// GetOrder returns the polling read model of an order
func (s *OrderService) GetOrder(ctx context.Context, caller models.Caller, orderID string) (*models.OrderView, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder", attribute.String("order_id", orderID))
	defer span.End()

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := canAct(caller, order, ActionView); err != nil {
		return nil, err
	}

	lines, err := s.store.GetOrderLines(ctx, orderID)
	if err != nil {
		return nil, err
	}
	view := &models.OrderView{Order: order, Lines: lines}

	if view.Payment, err = s.store.GetPaymentByOrderID(ctx, orderID); err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	if view.Shipment, err = s.store.GetShipmentByOrderID(ctx, orderID); err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	return view, nil
}

// ListOrdersInput selects a page of the caller's orders
type ListOrdersInput struct {
	Side   string
	Status models.OrderStatus
	Page   int
	Limit  int
}

// OrderPage is one page of orders
type OrderPage struct {
	Orders []models.Order `json:"orders"`
	Total  int            `json:"total"`
	Page   int            `json:"page"`
	Limit  int            `json:"limit"`
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListOrders lists the orders of the caller's branch
func (s *OrderService) ListOrders(ctx context.Context, caller models.Caller, in ListOrdersInput) (*OrderPage, error) {
	switch in.Side {
	case "":
		in.Side = models.OrderSideAll
	case models.OrderSideAll, models.OrderSideBuyer, models.OrderSideSeller:
	default:
		return nil, fmt.Errorf("%w: side must be buyer, seller or all", models.ErrInvalidInput)
	}
	if in.Status != "" && !in.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrInvalidInput, in.Status)
	}
	if in.Page < 1 {
		in.Page = 1
	}
	if in.Limit <= 0 {
		in.Limit = defaultPageSize
	}
	if in.Limit > maxPageSize {
		in.Limit = maxPageSize
	}

	orders, total, err := s.store.ListOrders(ctx, models.OrderFilter{
		CompanyID: caller.CompanyID,
		BranchID:  caller.BranchID,
		Side:      in.Side,
		Status:    in.Status,
		Limit:     in.Limit,
		Offset:    (in.Page - 1) * in.Limit,
	})
	if err != nil {
		return nil, err
	}
	return &OrderPage{Orders: orders, Total: total, Page: in.Page, Limit: in.Limit}, nil
}

// lockOrder loads and locks an order, then checks the caller may perform action on it
func (s *OrderService) lockOrder(ctx context.Context, caller models.Caller, orderID string, action Action) (*models.Order, error) {
	o, err := s.store.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := canAct(caller, o, action); err != nil {
		return nil, err
	}
	return o, nil
}

// transition moves a locked order forward. Status never goes backwards.
func (s *OrderService) transition(ctx context.Context, order *models.Order, to models.OrderStatus, at time.Time, out *outbox) error {
	from := order.Status
	if !from.Before(to) {
		return models.TransitionError(order.ID, from, "move to "+string(to)+" from")
	}
	if err := s.store.UpdateOrderStatus(ctx, order.ID, from, to, at); err != nil {
		return err
	}

	order.Status = to
	order.UpdatedAt = at
	switch to {
	case models.OrderStatusConfirmed:
		order.ConfirmedAt = &at
	case models.OrderStatusPaid:
		order.PaidAt = &at
	case models.OrderStatusDispatched:
		order.DispatchedAt = &at
	case models.OrderStatusDelivered:
		order.DeliveredAt = &at
	case models.OrderStatusAccepted:
		order.AcceptedAt = &at
	}

	out.changes = append(out.changes, &models.OrderStatusChangedEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderStatusChanged, at),
		OrderID:   order.ID,
		From:      from,
		To:        to,
	})
	return nil
}

// fail records a rejected action and hands the error back
func (s *OrderService) fail(ctx context.Context, action Action, orderID string, err error) error {
	util.RecordError(ctx, err)
	util.OrderTransitionsRejected.WithLabelValues(string(action), errorReason(err)).Inc()

	fields := []zap.Field{zap.String("action", string(action)), zap.String("order_id", orderID), zap.Error(err)}
	switch {
	case errors.Is(err, models.ErrProviderFailure):
		s.logger.Error("Provider call failed", fields...)
	case !isUserError(err):
		s.logger.Warn("Order action failed", fields...)
	}
	return err
}

// outbox collects events to publish once the transaction has committed
type outbox struct {
	created  *models.OrderCreatedEvent
	changes  []*models.OrderStatusChangedEvent
	released *models.PaymentReleasedEvent
	shipment *models.ShipmentEvent
}

func (s *OrderService) flush(ctx context.Context, out *outbox) {
	if out.created != nil {
		if err := s.publisher.PublishOrderCreated(ctx, out.created); err != nil {
			s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
		}
	}
	for _, ev := range out.changes {
		util.OrderTransitionsTotal.WithLabelValues(string(ev.To)).Inc()
		s.logger.Info("Order status changed",
			zap.String("order_id", ev.OrderID),
			zap.String("from", string(ev.From)),
			zap.String("to", string(ev.To)))
		if err := s.publisher.PublishOrderStatusChanged(ctx, ev); err != nil {
			s.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
		}
	}
	if out.released != nil {
		if err := s.publisher.PublishPaymentReleased(ctx, out.released); err != nil {
			s.logger.Error("Failed to publish PaymentReleased event", zap.Error(err))
		}
	}
	if out.shipment != nil {
		if err := s.publisher.PublishShipmentEvent(ctx, out.shipment); err != nil {
			s.logger.Error("Failed to publish Shipment event", zap.Error(err))
		}
	}
}

func newBaseEvent(eventType string, at time.Time) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: at,
	}
}

func shipmentEvent(eventType string, sh *models.Shipment, at time.Time) *models.ShipmentEvent {
	return &models.ShipmentEvent{
		BaseEvent:  newBaseEvent(eventType, at),
		OrderID:    sh.OrderID,
		ShipmentID: sh.ID,
		Status:     sh.Status,
	}
}
