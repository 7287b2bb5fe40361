package rabbitmq

import (
	"context"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MathisDulieu/Booking-sub000/messaging"
)

func TestPublishingRoundTrip(t *testing.T) {
	msg := messaging.NewMessage("ticket", "ticket.bookTicket", []byte(`{"eventId":"1"}`))
	msg.CorrelationID = "cor-1"
	msg.ReplyTo = "amq.gen-abc"
	msg.SetHeader("trace_id", "trace-1")

	p := toPublishing(msg)
	assert.Equal(t, "cor-1", p.CorrelationId)
	assert.Equal(t, messaging.ContentTypeJSON, p.ContentType)

	d := amqp.Delivery{
		Headers:       amqp.Table{"trace_id": "trace-1", "attempt": int32(2), "raw": []byte("x")},
		ContentType:   p.ContentType,
		CorrelationId: p.CorrelationId,
		ReplyTo:       p.ReplyTo,
		MessageId:     p.MessageId,
		Timestamp:     p.Timestamp,
		Exchange:      "ticket",
		RoutingKey:    "ticket.bookTicket",
		Body:          p.Body,
	}
	got := fromDelivery(&d)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, "ticket.bookTicket", got.RoutingKey)
	assert.Equal(t, "amq.gen-abc", got.ReplyTo)
	assert.Equal(t, "trace-1", got.Header("trace_id"))
	assert.Equal(t, "2", got.Header("attempt"))
	assert.Equal(t, "x", got.Header("raw"))
	assert.Equal(t, msg.Body, got.Body)
}

func TestDial_RequiresURL(t *testing.T) {
	_, err := Dial(Config{})
	require.Error(t, err)
}

// TestBroker_RequestReply 需要 BOOKING_TEST_AMQP_URL 指向可用的 RabbitMQ
func TestBroker_RequestReply(t *testing.T) {
	url := os.Getenv("BOOKING_TEST_AMQP_URL")
	if url == "" {
		t.Skip("BOOKING_TEST_AMQP_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b, err := Dial(Config{URL: url})
	require.NoError(t, err)
	defer b.Close()

	queue := "amqp-test-" + messaging.NewMessageID()
	topo := messaging.DomainTopology("amqptest", queue)
	topo.Queues[0].Durable = false
	require.NoError(t, b.Declare(ctx, topo))

	replyQueue, err := b.DeclareReplyQueue(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Consume(ctx, queue, func(ctx context.Context, d *messaging.Delivery) {
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

	req := messaging.NewMessage("amqptest", "amqptest.ping", []byte("ping"))
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

	err = b.Publish(ctx, messaging.NewMessage("no-such-exchange-"+queue, "x.y", nil))
	assert.ErrorIs(t, err, messaging.ErrUnknownExchange)
}
