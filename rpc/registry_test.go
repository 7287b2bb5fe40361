package rpc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/MathisDulieu/Booking-sub000/errors"
	"github.com/MathisDulieu/Booking-sub000/messaging"
)

func noop(ctx context.Context, req ticketQuery) (Result, error) { return Message("ok"), nil }

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry("ticket")
	require.NoError(t, reg.Register("ticket.getTicket", Handle(noop)))
	require.NoError(t, Route(reg, Flat[ticketQuery]("ticket.cancelTicket"), noop))

	assert.Error(t, reg.Register("ticket.getTicket", Handle(noop)), "duplicate")
	assert.Error(t, reg.Register("event.getEvent", Handle(noop)), "foreign domain")
	assert.Error(t, reg.Register("ticket", Handle(noop)), "malformed key")
	assert.Error(t, reg.Register("ticket.x", nil), "nil handler")

	assert.Equal(t, []string{"ticket.cancelTicket", "ticket.getTicket"}, reg.Keys())

	_, ok := reg.Lookup("ticket.getTicket")
	assert.True(t, ok)
	_, ok = reg.Lookup("ticket.doSomethingUnsupported")
	assert.False(t, ok)

	reg.Freeze()
	assert.True(t, reg.Frozen())
	assert.Error(t, reg.Register("ticket.late", Handle(noop)))
}

func TestPendingTable_ResolveOrRemoveNeverBoth(t *testing.T) {
	for i := 0; i < 200; i++ {
		table := newPendingTable()
		call, err := table.register("tok", "ticket.getTicket", time.Now().Add(time.Second))
		require.NoError(t, err)

		var wg sync.WaitGroup
		var resolved, removed bool
		wg.Add(2)
		go func() { defer wg.Done(); resolved = table.resolve("tok", callOutcome{result: Message("x")}) }()
		go func() { defer wg.Done(); removed = table.remove("tok") }()
		wg.Wait()

		assert.NotEqual(t, resolved, removed)
		assert.Equal(t, 0, table.len())
		if resolved {
			out := <-call.done
			assert.Equal(t, Message("x"), out.result)
		}
	}
}

func TestPendingTable_DuplicateTokenAndDrain(t *testing.T) {
	ctx := context.Background()
	table := newPendingTable()
	c1, err := table.register("a", "k", time.Now())
	require.NoError(t, err)
	_, err = table.register("a", "k", time.Now())
	assert.ErrorIs(t, err, errDuplicateToken)
	_, _ = table.register("b", "k", time.Now())

	assert.Equal(t, 2, table.drain(callOutcome{err: queueError(ctx, messaging.ErrBrokerClosed)}))
	out := <-c1.done
	assert.True(t, appErrors.IsErrorCode(out.err, appErrors.ErrCodeQueue))
	assert.ErrorIs(t, out.err, messaging.ErrBrokerClosed)
	assert.False(t, table.contains("a"))
}

// 关闭后的登记被拒绝，不会留下无人清理的等待条目
func TestPendingTable_RegisterAfterDrainRejected(t *testing.T) {
	table := newPendingTable()
	table.drain(callOutcome{})

	_, err := table.register("late", "ticket.getTicket", time.Now().Add(time.Second))
	assert.ErrorIs(t, err, messaging.ErrBrokerClosed)
	assert.Equal(t, 0, table.len())
}
