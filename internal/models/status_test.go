package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderStatusOrdering(t *testing.T) {
	forward := []OrderStatus{
		OrderStatusCreated,
		OrderStatusConfirmed,
		OrderStatusPaid,
		OrderStatusDispatched,
		OrderStatusDelivered,
		OrderStatusAccepted,
		OrderStatusSettled,
	}

	for i := 1; i < len(forward); i++ {
		assert.True(t, forward[i-1].Before(forward[i]), "%s before %s", forward[i-1], forward[i])
		assert.False(t, forward[i].Before(forward[i-1]), "%s not before %s", forward[i], forward[i-1])
	}

	assert.True(t, OrderStatusDisputed.Valid())
	assert.Equal(t, 0, OrderStatusDisputed.Rank())
	assert.False(t, OrderStatusDisputed.Before(OrderStatusSettled))
	assert.False(t, OrderStatus("SHIPPED").Valid())
}

func TestShipmentStatusRank(t *testing.T) {
	assert.Less(t, ShipmentStatusQuoted.Rank(), ShipmentStatusDriverAssigned.Rank())
	assert.Less(t, ShipmentStatusPickedUp.Rank(), ShipmentStatusDelivered.Rank())
	assert.Less(t, ShipmentStatusDelivered.Rank(), ShipmentStatusProofUploaded.Rank())
	assert.False(t, ShipmentStatus("LOST").Valid())
}

func TestErrorRefinements(t *testing.T) {
	assert.True(t, errors.Is(ErrQuoteRequired, ErrInvalidTransition))
	assert.True(t, errors.Is(ErrAlreadyPaid, ErrInvalidTransition))
	assert.True(t, errors.Is(TransitionError("o-1", OrderStatusPaid, "confirm"), ErrInvalidTransition))
	assert.False(t, errors.Is(ErrQuoteRequired, ErrNotFound))
}
