package service

import (
	"testing"

	"transfer-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlatformFee(t *testing.T) {
	tests := []struct {
		total string
		want  string
	}{
		{"200", "4"},
		{"275", "5.5"},
		{"33.33", "0.67"},
		{"0", "0"},
	}
	for _, tt := range tests {
		got := PlatformFee(decimal.RequireFromString(tt.total))
		assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "total %s: got %s", tt.total, got)
	}
}

func TestPaymentFee(t *testing.T) {
	total := decimal.NewFromInt(1000)

	fee, err := PaymentFee(models.PaymentMethodVirtualAccount, total)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(15).Equal(fee))

	fee, err = PaymentFee(models.PaymentMethodATM, total)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(15).Equal(fee))

	fee, err = PaymentFee(models.PaymentMethodCard, total)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(20).Equal(fee))

	_, err = PaymentFee("crypto", total)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestPaymentAmount(t *testing.T) {
	o := &models.Order{
		TotalAmount: decimal.NewFromInt(200),
		PlatformFee: decimal.NewFromInt(4),
		ShippingFee: decimal.NewFromInt(150),
	}
	assert.True(t, decimal.NewFromInt(354).Equal(PaymentAmount(o)))
}

func TestErrorReason(t *testing.T) {
	assert.Equal(t, "invalid_transition", errorReason(models.ErrQuoteRequired))
	assert.Equal(t, "insufficient_stock", errorReason(models.ErrInsufficientStock))
	assert.Equal(t, "error", errorReason(assert.AnError))
	assert.True(t, isUserError(models.ErrForbidden))
	assert.False(t, isUserError(models.ErrProviderFailure))
}
