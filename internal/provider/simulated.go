package provider

import (
	"context"
	"fmt"
	"strings"

	"transfer-service/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SimulatedPayment opens payment sessions without a real gateway
type SimulatedPayment struct {
	BaseURL string
}

// NewSimulatedPayment creates a simulated payment provider
func NewSimulatedPayment() *SimulatedPayment {
	return &SimulatedPayment{BaseURL: "https://payment.example.com/pay/"}
}

// PreparePayment returns a virtual account for transfer methods and a payment URL for cards
func (p *SimulatedPayment) PreparePayment(ctx context.Context, req PaymentRequest) (*PaymentSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	session := &PaymentSession{
		ProviderRef: "tx_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
	}
	switch req.Method {
	case models.PaymentMethodVirtualAccount, models.PaymentMethodATM:
		session.VirtualAccount = VirtualAccountFor(req.OrderID)
	case models.PaymentMethodCard:
		session.PaymentURL = p.BaseURL + session.ProviderRef
	default:
		return nil, fmt.Errorf("unsupported payment method %q", req.Method)
	}
	return session, nil
}

// VirtualAccountFor derives the transfer account of an order: 888 followed by the
// first ten characters of the order id, zero-padded on the left.
func VirtualAccountFor(orderID string) string {
	id := orderID
	if len(id) > 10 {
		id = id[:10]
	}
	return "888" + strings.Repeat("0", 10-len(id)) + id
}

// SimulatedCourier quotes a flat fee and assigns a fixed driver
type SimulatedCourier struct {
	ProviderName string
	Fee          decimal.Decimal
	EtaMin       int
	EtaMax       int
}

// NewSimulatedCourier creates a simulated courier; an empty name defaults to lalamove
func NewSimulatedCourier(name string) *SimulatedCourier {
	if name == "" {
		name = "lalamove"
	}
	return &SimulatedCourier{
		ProviderName: name,
		Fee:          decimal.NewFromInt(150),
		EtaMin:       60,
		EtaMax:       120,
	}
}

func (c *SimulatedCourier) Name() string {
	return c.ProviderName
}

func (c *SimulatedCourier) RequestQuote(ctx context.Context, pickupAddr, dropAddr string) (*Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pickupAddr == "" || dropAddr == "" {
		return nil, fmt.Errorf("pickup and drop addresses are required")
	}
	return &Quote{
		QuoteID: "quote_" + uuid.NewString()[:8],
		Fee:     c.Fee,
		EtaMin:  c.EtaMin,
		EtaMax:  c.EtaMax,
	}, nil
}

func (c *SimulatedCourier) Dispatch(ctx context.Context, quoteID string) (*Dispatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if quoteID == "" {
		return nil, fmt.Errorf("quote id is required")
	}
	driverID := "driver_" + uuid.NewString()[:8]
	return &Dispatch{
		DriverID:    driverID,
		DriverName:  "Chang",
		DriverPhone: "0912345678",
		TrackingURL: "https://" + c.ProviderName + ".com/track/" + driverID,
	}, nil
}
