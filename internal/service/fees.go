package service

import (
	"fmt"

	"transfer-service/internal/models"

	"github.com/shopspring/decimal"
)

var (
	platformFeeRate  = decimal.NewFromFloat(0.02)
	cardFeeRate      = decimal.NewFromFloat(0.02)
	transferFixedFee = decimal.NewFromInt(15)
)

// PlatformFee is 2% of the order total, rounded to cents
func PlatformFee(total decimal.Decimal) decimal.Decimal {
	return total.Mul(platformFeeRate).Round(2)
}

// PaymentFee is the provider fee for a payment method: a fixed fee for transfers
// and ATM, 2% of the order total for cards
func PaymentFee(method string, orderTotal decimal.Decimal) (decimal.Decimal, error) {
	switch method {
	case models.PaymentMethodVirtualAccount, models.PaymentMethodATM:
		return transferFixedFee, nil
	case models.PaymentMethodCard:
		return orderTotal.Mul(cardFeeRate).Round(2), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: unsupported payment method %q", models.ErrInvalidInput, method)
	}
}

// PaymentAmount is what the buyer pays into escrow
func PaymentAmount(o *models.Order) decimal.Decimal {
	return o.TotalAmount.Add(o.PlatformFee).Add(o.ShippingFee)
}
