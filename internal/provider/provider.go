package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"transfer-service/internal/models"
	"transfer-service/internal/util"

	"github.com/shopspring/decimal"
)

// PaymentRequest asks the payment provider to open a charge for an order
type PaymentRequest struct {
	OrderID string
	Method  string
	Amount  decimal.Decimal
}

// PaymentSession is what the buyer needs to complete a payment
type PaymentSession struct {
	ProviderRef    string
	VirtualAccount string
	PaymentURL     string
}

// PaymentProvider is the outbound side of the payment gateway
type PaymentProvider interface {
	PreparePayment(ctx context.Context, req PaymentRequest) (*PaymentSession, error)
}

// Quote is a courier price and eta estimate
type Quote struct {
	QuoteID string
	Fee     decimal.Decimal
	EtaMin  int
	EtaMax  int
}

// Dispatch is the driver assigned to a quote
type Dispatch struct {
	DriverID    string
	DriverName  string
	DriverPhone string
	TrackingURL string
}

// CourierProvider is the outbound side of the courier service
type CourierProvider interface {
	Name() string
	RequestQuote(ctx context.Context, pickupAddr, dropAddr string) (*Quote, error)
	Dispatch(ctx context.Context, quoteID string) (*Dispatch, error)
}

// Call runs fn with a deadline of timeout. Any failure, including the deadline,
// comes back wrapped in models.ErrProviderFailure.
func Call[T any](ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, span := util.StartSpan(ctx, "provider."+name)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := fn(ctx)
	util.ProviderCallLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		util.RecordError(ctx, err)
		var zero T
		if errors.Is(err, models.ErrProviderFailure) {
			return zero, err
		}
		return zero, fmt.Errorf("%w: %s: %v", models.ErrProviderFailure, name, err)
	}
	return res, nil
}
