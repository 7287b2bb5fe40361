package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MathisDulieu/Booking-sub000/logging"
	"github.com/MathisDulieu/Booking-sub000/messaging"
	msgmw "github.com/MathisDulieu/Booking-sub000/messaging/middleware"
	"github.com/MathisDulieu/Booking-sub000/rpc"
)

func delivery(key string) *messaging.Delivery {
	msg := messaging.NewMessage("ticket", key, []byte(`{}`))
	msg.CorrelationID = "corr-42"
	msg.SetHeader(msgmw.KeyTraceID, "trace-7")
	return messaging.NewDelivery(msg, "ticket-service", nil)
}

func TestTracing_PopulatesContext(t *testing.T) {
	d := delivery("ticket.getTicket")
	var seen context.Context
	h := Tracing()(func(ctx context.Context, d *messaging.Delivery) (rpc.Result, error) {
		seen = ctx
		return rpc.Message("ok"), nil
	})

	_, err := h(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, "corr-42", CorrelationID(seen))
	assert.Equal(t, "trace-7", msgmw.TraceFromContext(seen).TraceID)
	assert.Equal(t, d.ID, msgmw.TraceFromContext(seen).CausationID)
}

func TestRateLimit_RepliesFault(t *testing.T) {
	limiter := NewLimiter(1, 1)
	calls := 0
	h := RateLimit(limiter)(func(ctx context.Context, d *messaging.Delivery) (rpc.Result, error) {
		calls++
		return rpc.Message("ok"), nil
	})

	first, _ := h(context.Background(), delivery("ticket.bookTicket"))
	second, _ := h(context.Background(), delivery("ticket.bookTicket"))

	assert.Equal(t, rpc.Message("ok"), first)
	assert.Equal(t, rpc.Fault(RateLimitExceeded), second)
	assert.Equal(t, 1, calls)
}

func TestNewLimiter(t *testing.T) {
	assert.Nil(t, NewLimiter(0, 10))
	l := NewLimiter(0.5, 0)
	require.NotNil(t, l)
	assert.Equal(t, 1, l.Burst())

	// nil 限流器不限流
	res, err := RateLimit(nil)(func(ctx context.Context, d *messaging.Delivery) (rpc.Result, error) {
		return rpc.Message("ok"), nil
	})(context.Background(), delivery("ticket.getTicket"))
	require.NoError(t, err)
	assert.Equal(t, rpc.TagMessage, res.Tag)
}

func TestLogging_RecordsOutcome(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := logging.NewZapLoggerFrom(zap.New(core))

	chain := rpc.Chain(Tracing(), Logging(logger))
	failing := chain(func(ctx context.Context, d *messaging.Delivery) (rpc.Result, error) {
		return rpc.Result{}, errors.New("storage unavailable")
	})
	notFound := chain(func(ctx context.Context, d *messaging.Delivery) (rpc.Result, error) {
		return rpc.NotFound("Ticket not found"), nil
	})

	_, err := failing(context.Background(), delivery("ticket.cancelTicket"))
	require.Error(t, err)
	_, _ = notFound(context.Background(), delivery("ticket.cancelTicket"))

	require.Equal(t, 2, logs.Len())
	entries := logs.All()
	assert.Equal(t, "request failed", entries[0].Message)
	assert.Equal(t, "trace-7", entries[0].ContextMap()["trace_id"])
	assert.Equal(t, "NOT_FOUND", entries[1].ContextMap()["tag"])
}
