package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"transfer-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func newTestProducer(w *fakeWriter) *Producer {
	return &Producer{writer: w, logger: zap.NewNop()}
}

func TestEventPublisher_KeysByOrder(t *testing.T) {
	w := &fakeWriter{}
	ep := NewEventPublisher(newTestProducer(w))
	ctx := context.Background()

	require.NoError(t, ep.PublishOrderStatusChanged(ctx, &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{EventID: "e1", EventType: models.EventTypeOrderStatusChanged},
		OrderID:   "o-1",
		From:      models.OrderStatusCreated,
		To:        models.OrderStatusConfirmed,
	}))
	require.NoError(t, ep.PublishPaymentReleased(ctx, &models.PaymentReleasedEvent{OrderID: "o-1", Amount: decimal.NewFromInt(204)}))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "order-o-1", string(w.msgs[0].Key))
	assert.Equal(t, "order-o-1", string(w.msgs[1].Key))
	assert.Equal(t, models.EventTypeOrderStatusChanged, headerValue(w.msgs[0], eventTypeHeader))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, "ORDER_STATUS_CHANGED", decoded["event_type"])
	assert.Equal(t, "CONFIRMED", decoded["to"])
}

func TestProducer_WrapsWriteErrors(t *testing.T) {
	p := newTestProducer(&fakeWriter{err: errors.New("broker down")})
	err := p.PublishEvent(context.Background(), "k", "TEST", map[string]string{"a": "b"})
	assert.ErrorContains(t, err, "broker down")
}

func TestEventHandler_Routes(t *testing.T) {
	h := NewEventHandler()
	var payment *models.PaymentConfirmedEvent
	var courier *models.CourierStatusEvent
	h.OnPaymentConfirmed(func(_ context.Context, ev *models.PaymentConfirmedEvent) error {
		payment = ev
		return nil
	})
	h.OnCourierStatus(func(_ context.Context, ev *models.CourierStatusEvent) error {
		courier = ev
		return models.ErrDuplicateWebhook
	})
	ctx := context.Background()

	raw := `{"event_id":"p1","event_type":"PAYMENT_CONFIRMED","order_id":"o-1","tx_id":"tx_1","status":"PAID","amount_paid":"204"}`
	require.NoError(t, h.HandleMessage(ctx, kafka.Message{Value: []byte(raw)}))
	require.NotNil(t, payment)
	assert.Equal(t, "tx_1", payment.ProviderRef)
	assert.True(t, decimal.NewFromInt(204).Equal(payment.AmountPaid))
	assert.Equal(t, raw, payment.Payload)

	raw = `{"event_id":"c1","event_type":"COURIER_STATUS","order_id":"o-1","status":"PICKED_UP","driver_info":{"id":"d1","name":"Lin"}}`
	require.NoError(t, h.HandleMessage(ctx, kafka.Message{Value: []byte(raw)}))
	require.NotNil(t, courier)
	assert.Equal(t, models.ShipmentStatusPickedUp, courier.Status)
	assert.Equal(t, "Lin", courier.Driver.Name)

	courier = nil
	headerOnly := kafka.Message{
		Value:   []byte(`{"event_id":"c2","order_id":"o-2","status":"DELIVERED"}`),
		Headers: []kafka.Header{{Key: eventTypeHeader, Value: []byte(models.EventTypeCourierStatus)}},
	}
	require.NoError(t, h.HandleMessage(ctx, headerOnly))
	require.NotNil(t, courier)
	assert.Equal(t, "o-2", courier.OrderID)

	assert.NoError(t, h.HandleMessage(ctx, kafka.Message{Value: []byte(`{"event_type":"SOMETHING_ELSE"}`)}))
	assert.Error(t, h.HandleMessage(ctx, kafka.Message{Value: []byte(`not json`)}))
}

func TestEventHandler_PropagatesFailures(t *testing.T) {
	h := NewEventHandler()
	h.OnPaymentConfirmed(func(context.Context, *models.PaymentConfirmedEvent) error {
		return models.ErrInvalidInput
	})

	err := h.HandleMessage(context.Background(), kafka.Message{Value: []byte(`{"event_type":"PAYMENT_CONFIRMED","order_id":"o"}`)})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

// fakeReader serves msgs in order and cancels the consumer once they run out
type fakeReader struct {
	msgs      []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Config() kafka.ReaderConfig { return kafka.ReaderConfig{Topic: "provider-events"} }

func (r *fakeReader) Close() error { return nil }

func newTestConsumer(msgs ...kafka.Message) (*Consumer, *fakeReader, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &fakeReader{msgs: msgs, cancel: cancel}
	return &Consumer{reader: r, logger: zap.NewNop(), retryDelay: time.Millisecond}, r, ctx
}

func TestConsumer_RetriesTransientFailures(t *testing.T) {
	c, r, ctx := newTestConsumer(kafka.Message{Offset: 5}, kafka.Message{Offset: 6})

	calls := map[int64]int{}
	err := c.StartConsuming(ctx, func(_ context.Context, msg kafka.Message) error {
		calls[msg.Offset]++
		if msg.Offset == 5 && calls[msg.Offset] < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, map[int64]int{5: 3, 6: 1}, calls)
	assert.Equal(t, []int64{5, 6}, r.committed)
}

func TestConsumer_CommitsPermanentFailures(t *testing.T) {
	c, r, ctx := newTestConsumer(
		kafka.Message{Offset: 1, Value: []byte(`not json`)},
		kafka.Message{Offset: 2},
		kafka.Message{Offset: 3},
	)
	h := NewEventHandler()

	calls := 0
	err := c.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
		calls++
		switch msg.Offset {
		case 1:
			return h.HandleMessage(ctx, msg)
		case 2:
			return models.ErrNotFound
		default:
			return models.TransitionError("o-1", models.OrderStatusAccepted, "deliver")
		}
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int64{1, 2, 3}, r.committed)
}

func TestConsumer_StopsWithoutCommittingFailedMessage(t *testing.T) {
	c, r, ctx := newTestConsumer(kafka.Message{Offset: 9})

	attempts := 0
	err := c.StartConsuming(ctx, func(context.Context, kafka.Message) error {
		attempts++
		if attempts == 2 {
			r.cancel()
		}
		return errors.New("database unavailable")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, attempts)
	assert.Empty(t, r.committed)
}
