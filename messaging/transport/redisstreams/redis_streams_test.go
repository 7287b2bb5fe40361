package redisstreams

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MathisDulieu/Booking-sub000/messaging"
)

// asEntry 模拟 Redis 返回：所有字段均为字符串
func asEntry(id string, values map[string]interface{}) redis.XMessage {
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		switch val := v.(type) {
		case []byte:
			out[k] = string(val)
		case int64:
			out[k] = strconv.FormatInt(val, 10)
		default:
			out[k] = val
		}
	}
	return redis.XMessage{ID: id, Values: out}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ts := time.Unix(0, 1700000000000000000).UTC()
	msg := &messaging.Message{
		ID:            "msg-1",
		Exchange:      "payment",
		RoutingKey:    "payment.processPayment",
		CorrelationID: "cor-123",
		ReplyTo:       "reply.abc",
		ContentType:   messaging.ContentTypeJSON,
		Timestamp:     ts,
		Headers:       map[string]string{"trace_id": "t-1"},
		Body:          []byte(`{"ticketId":"42"}`),
	}

	decoded, err := decodeMessage(asEntry("1-0", encodeMessage(msg)))
	require.NoError(t, err)

	assert.Equal(t, msg.ID, decoded.ID)
	assert.Equal(t, msg.Exchange, decoded.Exchange)
	assert.Equal(t, msg.RoutingKey, decoded.RoutingKey)
	assert.Equal(t, msg.CorrelationID, decoded.CorrelationID)
	assert.Equal(t, msg.ReplyTo, decoded.ReplyTo)
	assert.Equal(t, msg.ContentType, decoded.ContentType)
	assert.True(t, ts.Equal(decoded.Timestamp))
	assert.Equal(t, msg.Headers, decoded.Headers)
	assert.Equal(t, msg.Body, decoded.Body)
}

func TestDecode_MissingRoutingKey(t *testing.T) {
	_, err := decodeMessage(redis.XMessage{ID: "2-0", Values: map[string]interface{}{"body": "{}"}})
	require.Error(t, err)
}

func TestDecode_FallbackID(t *testing.T) {
	decoded, err := decodeMessage(redis.XMessage{ID: "3-0", Values: map[string]interface{}{
		"routing_key": "auth.login",
		"timestamp":   "1700000000000000000",
	}})
	require.NoError(t, err)
	assert.Equal(t, "3-0", decoded.ID)
	assert.Equal(t, int64(1700000000000000000), decoded.Timestamp.UnixNano())
}

func TestBindingEncoding(t *testing.T) {
	bd := messaging.Binding{Exchange: "ticket", Queue: "ticket-service", Pattern: "ticket.*"}
	got, ok := decodeBinding("ticket", encodeBinding(bd))
	require.True(t, ok)
	assert.Equal(t, bd, got)

	_, ok = decodeBinding("ticket", "malformed")
	assert.False(t, ok)
}

func TestMatchBindings(t *testing.T) {
	bindings := []messaging.Binding{
		{Exchange: "ticket", Queue: "ticket-service", Pattern: "ticket.*"},
		{Exchange: "ticket", Queue: "audit", Pattern: "#"},
		{Exchange: "ticket", Queue: "ticket-service", Pattern: "ticket.bookTicket"},
	}
	assert.Equal(t, []string{"audit", "ticket-service"}, matchBindings(bindings, "ticket.bookTicket"))
	assert.Equal(t, []string{"audit"}, matchBindings(bindings, "ticket.a.b"))
}

// TestBroker_RequestReply 需要 BOOKING_TEST_REDIS_ADDR 指向可用的 Redis
func TestBroker_RequestReply(t *testing.T) {
	addr := os.Getenv("BOOKING_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("BOOKING_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	prefix := "booking-test:" + messaging.NewMessageID() + ":"
	b, err := NewBroker(Config{Addr: addr, KeyPrefix: prefix, BlockTimeout: 100 * time.Millisecond})
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Declare(ctx, messaging.DomainTopology("redistest", "redistest-service")))
	replyQueue, err := b.DeclareReplyQueue(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Consume(ctx, "redistest-service", func(ctx context.Context, d *messaging.Delivery) {
		reply := messaging.NewMessage(messaging.DefaultExchange, d.ReplyTo, d.Body)
		reply.CorrelationID = d.CorrelationID
		_ = b.Publish(ctx, reply)
		_ = d.Ack()
	}))

	got := make(chan *messaging.Message, 1)
	require.NoError(t, b.Consume(ctx, replyQueue, func(ctx context.Context, d *messaging.Delivery) {
		_ = d.Ack()
		got <- d.Message
	}))

	req := messaging.NewMessage("redistest", "redistest.ping", []byte("ping"))
	req.CorrelationID = "c-1"
	req.ReplyTo = replyQueue
	require.NoError(t, b.Publish(ctx, req))

	select {
	case m := <-got:
		assert.Equal(t, "c-1", m.CorrelationID)
		assert.Equal(t, []byte("ping"), m.Body)
	case <-ctx.Done():
		t.Fatal("no reply")
	}

	err = b.Publish(ctx, messaging.NewMessage("nosuch", "nosuch.op", nil))
	assert.ErrorIs(t, err, messaging.ErrUnknownExchange)
}
