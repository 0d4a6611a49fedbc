package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"transfer-service/internal/clock"
	"transfer-service/internal/models"
	"transfer-service/internal/provider"
	"transfer-service/internal/store/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu       sync.Mutex
	created  []*models.OrderCreatedEvent
	changes  []*models.OrderStatusChangedEvent
	released []*models.PaymentReleasedEvent
	shipment []*models.ShipmentEvent
}

func (p *recordingPublisher) PublishOrderCreated(_ context.Context, ev *models.OrderCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, ev)
	return nil
}

func (p *recordingPublisher) PublishOrderStatusChanged(_ context.Context, ev *models.OrderStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, ev)
	return nil
}

func (p *recordingPublisher) PublishPaymentReleased(_ context.Context, ev *models.PaymentReleasedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, ev)
	return nil
}

func (p *recordingPublisher) PublishShipmentEvent(_ context.Context, ev *models.ShipmentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shipment = append(p.shipment, ev)
	return nil
}

func (p *recordingPublisher) transitionsOf(orderID string) []models.OrderStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.OrderStatus
	for _, ev := range p.changes {
		if ev.OrderID == orderID {
			out = append(out, ev.To)
		}
	}
	return out
}

type mapReplayCache struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (c *mapReplayCache) CheckIdempotencyKey(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keys[key], nil
}

func (c *mapReplayCache) SetIdempotencyKey(_ context.Context, key string, _ interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[key] = true
	return nil
}

type failingPayments struct{}

func (failingPayments) PreparePayment(ctx context.Context, _ provider.PaymentRequest) (*provider.PaymentSession, error) {
	return nil, errors.New("gateway unavailable")
}

type fixture struct {
	store   *memory.Store
	svc     *OrderService
	pub     *recordingPublisher
	replay  *mapReplayCache
	clock   *clock.Manual
	buyer   models.Caller
	seller  models.Caller
	listing string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{
		store:   memory.NewStore(),
		pub:     &recordingPublisher{},
		replay:  &mapReplayCache{keys: map[string]bool{}},
		clock:   clock.NewManual(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		buyer:   models.Caller{UID: "u-buyer", CompanyID: "acme", BranchID: "taipei"},
		seller:  models.Caller{UID: "u-seller", CompanyID: "bolt", BranchID: "taichung"},
		listing: "11111111-1111-1111-1111-111111111111",
	}
	f.svc = NewOrderService(f.store, provider.NewSimulatedPayment(), provider.NewSimulatedCourier(""),
		f.pub, f.replay, f.clock, Options{ProviderTimeout: time.Second, AllowSimulation: true})

	require.NoError(t, f.store.PutBranch(ctx, models.Branch{CompanyID: "acme", BranchID: "taipei", Address: "1 Zhongxiao Rd", City: "Taipei", District: "Da-an"}))
	require.NoError(t, f.store.PutBranch(ctx, models.Branch{CompanyID: "bolt", BranchID: "taichung", Address: "9 Taiwan Blvd", City: "Taichung", District: "Xitun"}))
	f.addListing(t, f.listing, 5, 100)
	return f
}

func (f *fixture) addListing(t *testing.T, id string, qty int, price int64) {
	t.Helper()
	require.NoError(t, f.store.CreateListing(context.Background(), &models.Listing{
		ID: id, CompanyID: f.seller.CompanyID, BranchID: f.seller.BranchID,
		Brand: "Bosch", Model: "GSR 120", Qty: qty, Price: decimal.NewFromInt(price), IsActive: true,
	}))
}

func (f *fixture) qty(t *testing.T, id string) int {
	t.Helper()
	l, err := f.store.GetListing(context.Background(), id)
	require.NoError(t, err)
	return l.Qty
}

func (f *fixture) orderStatus(t *testing.T, id string) models.OrderStatus {
	t.Helper()
	o, err := f.store.GetOrderByID(context.Background(), id)
	require.NoError(t, err)
	return o.Status
}

func (f *fixture) create(t *testing.T, qty int) string {
	t.Helper()
	f.clock.Advance(time.Minute)
	view, created, err := f.svc.CreateOrder(context.Background(), f.buyer, CreateOrderInput{
		SellerCompanyID: f.seller.CompanyID,
		SellerBranchID:  f.seller.BranchID,
		Lines:           []LineRequest{{ListingID: f.listing, Qty: qty}},
	})
	require.NoError(t, err)
	require.True(t, created)
	return view.Order.ID
}

// paid drives a fresh order through confirm, prepare and simulated payment
func (f *fixture) paid(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	id := f.create(t, 2)
	_, err := f.svc.ConfirmOrder(ctx, f.seller, id)
	require.NoError(t, err)
	_, err = f.svc.PreparePayment(ctx, f.buyer, id, models.PaymentMethodVirtualAccount)
	require.NoError(t, err)
	_, err = f.svc.SimulatePayment(ctx, f.buyer, id)
	require.NoError(t, err)
	return id
}

// delivered drives a paid order through quote, dispatch and courier delivery
func (f *fixture) delivered(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	id := f.paid(t)
	_, err := f.svc.RequestQuote(ctx, f.seller, id)
	require.NoError(t, err)
	_, err = f.svc.Dispatch(ctx, f.seller, id)
	require.NoError(t, err)
	require.NoError(t, f.svc.HandleCourierWebhook(ctx, &models.CourierStatusEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-delivered-" + id},
		OrderID:   id,
		Status:    models.ShipmentStatusDelivered,
	}))
	return id
}

func TestScenarioA_CreateConfirmPay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.create(t, 2)
	assert.Equal(t, 3, f.qty(t, f.listing))

	order, err := f.svc.ConfirmOrder(ctx, f.seller, id)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, order.Status)

	payment, err := f.svc.PreparePayment(ctx, f.buyer, id, models.PaymentMethodVirtualAccount)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(15).Equal(payment.Fee))
	assert.True(t, decimal.NewFromInt(204).Equal(payment.Amount))
	assert.Equal(t, provider.VirtualAccountFor(id), payment.VirtualAccount)
	assert.Equal(t, models.PaymentStatusPending, payment.Status)

	payment, err = f.svc.SimulatePayment(ctx, f.buyer, id)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, payment.Status)
	assert.Equal(t, models.OrderStatusPaid, f.orderStatus(t, id))
}

func TestScenarioB_QuoteDispatchDeliverAccept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.paid(t)

	sh, err := f.svc.RequestQuote(ctx, f.seller, id)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentStatusQuoted, sh.Status)
	assert.Equal(t, "9 Taiwan Blvd, Taichung Xitun", sh.PickupAddress)
	assert.Equal(t, "1 Zhongxiao Rd, Taipei Da-an", sh.DeliveryAddress)
	assert.Equal(t, models.OrderStatusPaid, f.orderStatus(t, id))

	o, err := f.store.GetOrderByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(150).Equal(o.ShippingFee))

	sh, err = f.svc.Dispatch(ctx, f.seller, id)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentStatusDriverAssigned, sh.Status)
	assert.NotEmpty(t, sh.TrackingURL)
	assert.Equal(t, models.OrderStatusDispatched, f.orderStatus(t, id))

	require.NoError(t, f.svc.HandleCourierWebhook(ctx, &models.CourierStatusEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-1"},
		OrderID:   id,
		Status:    models.ShipmentStatusDelivered,
	}))
	assert.Equal(t, models.OrderStatusDelivered, f.orderStatus(t, id))

	order, err := f.svc.AcceptDelivery(ctx, f.buyer, id, nil)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusAccepted, order.Status)

	p, err := f.store.GetPaymentByOrderID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusReleased, p.Status)
	assert.NotNil(t, p.ReleasedAt)

	_, err = f.svc.AcceptDelivery(ctx, f.buyer, id, nil)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	p, err = f.store.GetPaymentByOrderID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusReleased, p.Status)
	assert.Len(t, f.pub.released, 1)
}

func TestScenarioC_ConcurrentLastUnit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	last := "22222222-2222-2222-2222-222222222222"
	f.addListing(t, last, 1, 80)

	buyers := []models.Caller{
		{UID: "u1", CompanyID: "acme", BranchID: "taipei"},
		{UID: "u2", CompanyID: "acme", BranchID: "kaohsiung"},
	}

	var wg sync.WaitGroup
	errs := make([]error, len(buyers))
	for i, buyer := range buyers {
		wg.Add(1)
		go func(i int, buyer models.Caller) {
			defer wg.Done()
			_, _, errs[i] = f.svc.CreateOrder(ctx, buyer, CreateOrderInput{
				SellerCompanyID: f.seller.CompanyID,
				SellerBranchID:  f.seller.BranchID,
				Lines:           []LineRequest{{ListingID: last, Qty: 1}},
			})
		}(i, buyer)
	}
	wg.Wait()

	var ok, short int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, models.ErrInsufficientStock):
			short++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, short)
	assert.Equal(t, 0, f.qty(t, last))
}

func TestConcurrentOrdersNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	sold := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.svc.CreateOrder(ctx, f.buyer, CreateOrderInput{
				SellerCompanyID: f.seller.CompanyID,
				SellerBranchID:  f.seller.BranchID,
				Lines:           []LineRequest{{ListingID: f.listing, Qty: 2}},
			})
			if err == nil {
				mu.Lock()
				sold += 2
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, models.ErrInsufficientStock)
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, sold)
	assert.Equal(t, 1, f.qty(t, f.listing))
}

func TestScenarioD_ConfirmTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, 1)

	_, err := f.svc.ConfirmOrder(ctx, f.seller, id)
	require.NoError(t, err)

	_, err = f.svc.ConfirmOrder(ctx, f.seller, id)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	assert.Equal(t, models.OrderStatusConfirmed, f.orderStatus(t, id))
}

func TestCreateOrder_AllLinesOrNone(t *testing.T) {
	f := newFixture(t)
	other := "33333333-3333-3333-3333-333333333333"
	f.addListing(t, other, 1, 10)

	_, _, err := f.svc.CreateOrder(context.Background(), f.buyer, CreateOrderInput{
		SellerCompanyID: f.seller.CompanyID,
		SellerBranchID:  f.seller.BranchID,
		Lines: []LineRequest{
			{ListingID: f.listing, Qty: 2},
			{ListingID: other, Qty: 3},
		},
	})
	assert.ErrorIs(t, err, models.ErrInsufficientStock)
	assert.Equal(t, 5, f.qty(t, f.listing))
	assert.Equal(t, 1, f.qty(t, other))
}

func TestCreateOrder_TotalsAndMergedLines(t *testing.T) {
	f := newFixture(t)
	other := "44444444-4444-4444-4444-444444444444"
	f.addListing(t, other, 10, 25)

	view, _, err := f.svc.CreateOrder(context.Background(), f.buyer, CreateOrderInput{
		SellerCompanyID: f.seller.CompanyID,
		SellerBranchID:  f.seller.BranchID,
		Lines: []LineRequest{
			{ListingID: f.listing, Qty: 1},
			{ListingID: other, Qty: 3},
			{ListingID: f.listing, Qty: 1},
		},
	})
	require.NoError(t, err)

	assert.Len(t, view.Lines, 2)
	assert.True(t, decimal.NewFromInt(275).Equal(view.Order.TotalAmount))
	assert.True(t, decimal.RequireFromString("5.5").Equal(view.Order.PlatformFee))
	assert.True(t, view.Order.ShippingFee.IsZero())
	assert.Equal(t, models.PaymentModeEscrow, view.Order.PaymentMode)
	assert.Equal(t, 3, f.qty(t, f.listing))
	assert.Equal(t, 7, f.qty(t, other))
	assert.Len(t, f.pub.created, 1)
}

func TestCreateOrder_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	foreign := "55555555-5555-5555-5555-555555555555"
	require.NoError(t, f.store.CreateListing(ctx, &models.Listing{
		ID: foreign, CompanyID: "other", BranchID: "x", Qty: 9, Price: decimal.NewFromInt(1), IsActive: true,
	}))

	tests := []struct {
		name   string
		caller models.Caller
		in     CreateOrderInput
		want   error
	}{
		{
			name:   "listing of another seller",
			caller: f.buyer,
			in:     CreateOrderInput{SellerCompanyID: "bolt", SellerBranchID: "taichung", Lines: []LineRequest{{ListingID: foreign, Qty: 1}}},
			want:   models.ErrListingMismatch,
		},
		{
			name:   "no lines",
			caller: f.buyer,
			in:     CreateOrderInput{SellerCompanyID: "bolt", SellerBranchID: "taichung"},
			want:   models.ErrInvalidInput,
		},
		{
			name:   "zero quantity",
			caller: f.buyer,
			in:     CreateOrderInput{SellerCompanyID: "bolt", SellerBranchID: "taichung", Lines: []LineRequest{{ListingID: f.listing}}},
			want:   models.ErrInvalidInput,
		},
		{
			name:   "own branch",
			caller: f.seller,
			in:     CreateOrderInput{SellerCompanyID: "bolt", SellerBranchID: "taichung", Lines: []LineRequest{{ListingID: f.listing, Qty: 1}}},
			want:   models.ErrInvalidInput,
		},
		{
			name:   "unsupported payment mode",
			caller: f.buyer,
			in:     CreateOrderInput{SellerCompanyID: "bolt", SellerBranchID: "taichung", PaymentMode: "cod", Lines: []LineRequest{{ListingID: f.listing, Qty: 1}}},
			want:   models.ErrInvalidInput,
		},
		{
			name:   "unknown listing",
			caller: f.buyer,
			in:     CreateOrderInput{SellerCompanyID: "bolt", SellerBranchID: "taichung", Lines: []LineRequest{{ListingID: "missing", Qty: 1}}},
			want:   models.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.svc.CreateOrder(ctx, tt.caller, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, 5, f.qty(t, f.listing))
}

func TestCreateOrder_InactiveListing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.Inventory().DeactivateListing(ctx, f.buyer, f.listing)
	assert.ErrorIs(t, err, models.ErrForbidden)

	require.NoError(t, f.svc.Inventory().DeactivateListing(ctx, f.seller, f.listing))
	assert.Equal(t, 5, f.qty(t, f.listing))

	_, _, err = f.svc.CreateOrder(ctx, f.buyer, CreateOrderInput{
		SellerCompanyID: f.seller.CompanyID,
		SellerBranchID:  f.seller.BranchID,
		Lines:           []LineRequest{{ListingID: f.listing, Qty: 1}},
	})
	assert.ErrorIs(t, err, models.ErrListingInactive)
}

func TestCreateOrder_IdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := CreateOrderInput{
		SellerCompanyID: f.seller.CompanyID,
		SellerBranchID:  f.seller.BranchID,
		Lines:           []LineRequest{{ListingID: f.listing, Qty: 2}},
		IdempotencyKey:  "req-42",
	}

	first, created, err := f.svc.CreateOrder(ctx, f.buyer, in)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := f.svc.CreateOrder(ctx, f.buyer, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.Order.ID, again.Order.ID)
	assert.Equal(t, 3, f.qty(t, f.listing))

	in.Lines[0].Qty = 1
	_, _, err = f.svc.CreateOrder(ctx, f.buyer, in)
	assert.ErrorIs(t, err, models.ErrIdempotencyConflict)
}

func TestAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, 1)
	stranger := models.Caller{UID: "u-x", CompanyID: "acme", BranchID: "tainan"}

	_, err := f.svc.ConfirmOrder(ctx, f.buyer, id)
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = f.svc.PreparePayment(ctx, f.seller, id, models.PaymentMethodCard)
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = f.svc.GetOrder(ctx, stranger, id)
	assert.ErrorIs(t, err, models.ErrForbidden)

	stranger.Role = models.RoleAdmin
	view, err := f.svc.GetOrder(ctx, stranger, id)
	require.NoError(t, err)
	assert.Nil(t, view.Payment)
	assert.Nil(t, view.Shipment)
	assert.Len(t, view.Lines, 1)

	// authorization is checked before the status precondition
	_, err = f.svc.ConfirmOrder(ctx, f.seller, id)
	require.NoError(t, err)
	_, err = f.svc.ConfirmOrder(ctx, f.buyer, id)
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestPreparePayment_ProviderFailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, 1)

	svc := NewOrderService(f.store, failingPayments{}, provider.NewSimulatedCourier(""), f.pub, nil, f.clock, Options{ProviderTimeout: time.Second})
	_, err := svc.PreparePayment(ctx, f.buyer, id, models.PaymentMethodATM)
	assert.ErrorIs(t, err, models.ErrProviderFailure)

	_, err = f.store.GetPaymentByOrderID(ctx, id)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Equal(t, models.OrderStatusCreated, f.orderStatus(t, id))
}

func TestPreparePayment_FeesAndRepeats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, 2)

	p, err := f.svc.PreparePayment(ctx, f.buyer, id, models.PaymentMethodCard)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(4).Equal(p.Fee))
	assert.Contains(t, p.PaymentURL, p.ProviderRef)

	p2, err := f.svc.PreparePayment(ctx, f.buyer, id, models.PaymentMethodATM)
	require.NoError(t, err)
	assert.Equal(t, p.ID, p2.ID)
	assert.True(t, decimal.NewFromInt(15).Equal(p2.Fee))

	_, err = f.svc.PreparePayment(ctx, f.buyer, id, "cash")
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = f.svc.SimulatePayment(ctx, f.buyer, id)
	require.NoError(t, err)

	_, err = f.svc.PreparePayment(ctx, f.buyer, id, models.PaymentMethodCard)
	assert.ErrorIs(t, err, models.ErrAlreadyPaid)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = f.svc.SimulatePayment(ctx, f.buyer, id)
	assert.ErrorIs(t, err, models.ErrAlreadyPaid)
}

func TestSimulatePayment_Disabled(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, 1)
	svc := NewOrderService(f.store, provider.NewSimulatedPayment(), provider.NewSimulatedCourier(""), nil, nil, f.clock, Options{})

	_, err := svc.SimulatePayment(context.Background(), f.buyer, id)
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestPaymentWebhook_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, 2)
	p, err := f.svc.PreparePayment(ctx, f.buyer, id, models.PaymentMethodVirtualAccount)
	require.NoError(t, err)

	ev := &models.PaymentConfirmedEvent{
		BaseEvent:   models.BaseEvent{EventID: "pay-evt-1"},
		OrderID:     id,
		ProviderRef: "tx_abc",
		Status:      "PAID",
		AmountPaid:  p.Amount,
	}
	require.NoError(t, f.svc.HandlePaymentWebhook(ctx, ev))
	assert.ErrorIs(t, f.svc.HandlePaymentWebhook(ctx, ev), models.ErrDuplicateWebhook)

	// a redelivery under a new event id is recognized from the payment itself
	ev2 := *ev
	ev2.EventID = "pay-evt-2"
	assert.ErrorIs(t, f.svc.HandlePaymentWebhook(ctx, &ev2), models.ErrDuplicateWebhook)

	assert.Equal(t, models.OrderStatusPaid, f.orderStatus(t, id))
	assert.Equal(t, []models.OrderStatus{models.OrderStatusPaid}, f.pub.transitionsOf(id))

	stored, err := f.store.GetPaymentByOrderID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, stored.Status)
	assert.Equal(t, "tx_abc", stored.ProviderRef)
}

func TestPaymentWebhook_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, 2)
	_, err := f.svc.PreparePayment(ctx, f.buyer, id, models.PaymentMethodVirtualAccount)
	require.NoError(t, err)

	err = f.svc.HandlePaymentWebhook(ctx, &models.PaymentConfirmedEvent{
		OrderID: id, Status: "PAID", AmountPaid: decimal.NewFromInt(1),
	})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	require.NoError(t, f.svc.HandlePaymentWebhook(ctx, &models.PaymentConfirmedEvent{OrderID: id, Status: "FAILED"}))
	assert.Equal(t, models.OrderStatusCreated, f.orderStatus(t, id))

	other := f.create(t, 1)
	err = f.svc.HandlePaymentWebhook(ctx, &models.PaymentConfirmedEvent{OrderID: other, Status: "PAID"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRequestQuote_RequiresPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.create(t, 1)

	_, err := f.svc.RequestQuote(ctx, f.seller, id)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = f.store.GetShipmentByOrderID(ctx, id)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRequestQuote_UpsertsBeforeDispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.paid(t)

	first, err := f.svc.RequestQuote(ctx, f.buyer, id)
	require.NoError(t, err)
	second, err := f.svc.RequestQuote(ctx, f.seller, id)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.NotEqual(t, first.QuoteID, second.QuoteID)

	_, err = f.svc.Dispatch(ctx, f.seller, id)
	require.NoError(t, err)

	_, err = f.svc.RequestQuote(ctx, f.seller, id)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestDispatch_RequiresQuote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.paid(t)

	_, err := f.svc.Dispatch(ctx, f.buyer, id)
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = f.svc.Dispatch(ctx, f.seller, id)
	assert.ErrorIs(t, err, models.ErrQuoteRequired)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	assert.Equal(t, models.OrderStatusPaid, f.orderStatus(t, id))
}

func TestCourierWebhook_PickupAndReplays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.paid(t)
	_, err := f.svc.RequestQuote(ctx, f.seller, id)
	require.NoError(t, err)

	// delivered before the order is dispatched is rejected and leaves nothing behind
	err = f.svc.HandleCourierWebhook(ctx, &models.CourierStatusEvent{OrderID: id, Status: models.ShipmentStatusDelivered})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	pickup := &models.CourierStatusEvent{
		BaseEvent: models.BaseEvent{EventID: "c-1"},
		OrderID:   id,
		Status:    models.ShipmentStatusPickedUp,
		Driver:    &models.DriverInfo{ID: "d-9", Name: "Lin", Phone: "0900000000"},
	}
	require.NoError(t, f.svc.HandleCourierWebhook(ctx, pickup))
	assert.Equal(t, models.OrderStatusDispatched, f.orderStatus(t, id))
	assert.ErrorIs(t, f.svc.HandleCourierWebhook(ctx, pickup), models.ErrDuplicateWebhook)

	sh, err := f.store.GetShipmentByOrderID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentStatusPickedUp, sh.Status)
	assert.Equal(t, "Lin", sh.DriverName)

	require.NoError(t, f.svc.HandleCourierWebhook(ctx, &models.CourierStatusEvent{OrderID: id, Status: models.ShipmentStatusDelivered}))
	assert.Equal(t, models.OrderStatusDelivered, f.orderStatus(t, id))

	// a late pickup after delivery changes nothing
	late := *pickup
	late.EventID = "c-2"
	assert.ErrorIs(t, f.svc.HandleCourierWebhook(ctx, &late), models.ErrDuplicateWebhook)
	assert.Equal(t, models.OrderStatusDelivered, f.orderStatus(t, id))

	err = f.svc.HandleCourierWebhook(ctx, &models.CourierStatusEvent{OrderID: id, Status: models.ShipmentStatusProofUploaded})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestSimulateCourierStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.paid(t)
	_, err := f.svc.RequestQuote(ctx, f.seller, id)
	require.NoError(t, err)
	_, err = f.svc.Dispatch(ctx, f.seller, id)
	require.NoError(t, err)

	_, err = f.svc.SimulateCourierStatus(ctx, f.buyer, id, models.ShipmentStatusPickedUp)
	assert.ErrorIs(t, err, models.ErrForbidden)

	sh, err := f.svc.SimulateCourierStatus(ctx, f.seller, id, models.ShipmentStatusPickedUp)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentStatusPickedUp, sh.Status)
	assert.Equal(t, models.OrderStatusDispatched, f.orderStatus(t, id))

	sh, err = f.svc.SimulateCourierStatus(ctx, f.seller, id, models.ShipmentStatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentStatusDelivered, sh.Status)
	assert.Equal(t, models.OrderStatusDelivered, f.orderStatus(t, id))
}

func TestAcceptDelivery_WithProof(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.delivered(t)

	_, err := f.svc.UploadProof(ctx, f.buyer, id, []string{"a.jpg"})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = f.svc.AcceptDelivery(ctx, f.seller, id, nil)
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = f.svc.AcceptDelivery(ctx, f.buyer, id, []string{"a.jpg"})
	require.NoError(t, err)

	sh, err := f.svc.UploadProof(ctx, f.buyer, id, []string{"b.jpg"})
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentStatusProofUploaded, sh.Status)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, []string(sh.ProofPhotos))

	_, err = f.svc.UploadProof(ctx, f.buyer, id, nil)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestOrderStatusIsMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.delivered(t)
	_, err := f.svc.AcceptDelivery(ctx, f.buyer, id, nil)
	require.NoError(t, err)

	seen := f.pub.transitionsOf(id)
	assert.Equal(t, []models.OrderStatus{
		models.OrderStatusConfirmed,
		models.OrderStatusPaid,
		models.OrderStatusDispatched,
		models.OrderStatusDelivered,
		models.OrderStatusAccepted,
	}, seen)
	for i := 1; i < len(seen); i++ {
		assert.True(t, seen[i-1].Before(seen[i]))
	}
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.create(t, 1)
	f.create(t, 1)
	_, err := f.svc.ConfirmOrder(ctx, f.seller, first)
	require.NoError(t, err)

	page, err := f.svc.ListOrders(ctx, f.buyer, ListOrdersInput{Side: models.OrderSideBuyer})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, defaultPageSize, page.Limit)

	page, err = f.svc.ListOrders(ctx, f.seller, ListOrdersInput{Status: models.OrderStatusConfirmed})
	require.NoError(t, err)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, first, page.Orders[0].ID)

	page, err = f.svc.ListOrders(ctx, f.seller, ListOrdersInput{Side: models.OrderSideBuyer})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total)

	_, err = f.svc.ListOrders(ctx, f.buyer, ListOrdersInput{Side: "both"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = f.svc.ListOrders(ctx, f.buyer, ListOrdersInput{Status: "LOST"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}
