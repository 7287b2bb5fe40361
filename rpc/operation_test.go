package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/MathisDulieu/Booking-sub000/errors"
)

type ticketView struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type ticketQuery struct {
	TicketID string `json:"ticketId"`
}

func TestFlatOperation(t *testing.T) {
	op := Flat[ticketQuery]("ticket.cancelTicket")
	assert.Equal(t, "ticket", op.Exchange())
	assert.Equal(t, KindFlat, op.Kind())

	reply, err := op.Decode(Message("Ticket cancelled successfully"))
	require.NoError(t, err)
	assert.Equal(t, TagMessage, reply.Tag)
	assert.Equal(t, "Ticket cancelled successfully", reply.Value)
	assert.True(t, reply.HasValue)

	reply, err = op.Decode(NotFound("Ticket not found"))
	require.NoError(t, err)
	assert.Equal(t, "Ticket not found", reply.Text)
	assert.False(t, reply.HasValue)

	_, err = op.Decode(OK("message", map[string]any{"x": 1}))
	assert.True(t, appErrors.IsErrorCode(err, appErrors.ErrCodeDeserialization))
}

func TestNestedOperation(t *testing.T) {
	op := Nested[ticketQuery, ticketView]("ticket.getTicket", "ticket")
	assert.Equal(t, KindNested, op.Kind())
	assert.Equal(t, "ticket", op.PayloadTag())

	res, err := NestedResult("ticket", ticketView{ID: "t-1", Status: "BOOKED"})
	require.NoError(t, err)
	reply, err := op.Decode(res)
	require.NoError(t, err)
	assert.Equal(t, ticketView{ID: "t-1", Status: "BOOKED"}, reply.Value)
	assert.Equal(t, res, reply.Result())

	// 非载荷成功标签按文本处理，不做二次解码
	reply, err = op.Decode(Warning("{not json"))
	require.NoError(t, err)
	assert.Equal(t, "{not json", reply.Text)
	assert.False(t, reply.HasValue)

	reply, err = op.Decode(Forbidden("not your ticket"))
	require.NoError(t, err)
	assert.Equal(t, TagForbidden, reply.Tag)
	assert.Equal(t, "not your ticket", reply.Text)

	_, err = op.Decode(OK("ticket", "{broken"))
	assert.True(t, appErrors.IsErrorCode(err, appErrors.ErrCodeDeserialization))

	_, err = op.Decode(OK("ticket", 12))
	assert.True(t, appErrors.IsErrorCode(err, appErrors.ErrCodeDeserialization))
}

func TestOperation_InvalidDefinitionsPanic(t *testing.T) {
	assert.Panics(t, func() { Flat[ticketQuery]("ticket") })
	assert.Panics(t, func() { Nested[ticketQuery, ticketView]("ticket.getTicket", TagNotFound) })
	assert.Panics(t, func() { Nested[ticketQuery, ticketView]("ticket.getTicket", "") })
}
