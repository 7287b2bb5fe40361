package ticket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MathisDulieu/Booking-sub000/contract"
	"github.com/MathisDulieu/Booking-sub000/rpc"
	"github.com/MathisDulieu/Booking-sub000/service"
	"github.com/MathisDulieu/Booking-sub000/service/servicetest"
)

var (
	alice = contract.Actor{UserID: "u-alice", Role: contract.RoleUser}
	bob   = contract.Actor{UserID: "u-bob", Role: contract.RoleUser}
	admin = contract.Actor{UserID: "u-admin", Role: contract.RoleAdmin}
)

func setup(t *testing.T, capacity int) *servicetest.Harness {
	h := servicetest.New(t, Domain, Register)
	require.NoError(t, service.Events(h.Store).Save(context.Background(), "ev-1", contract.Event{
		ID:         "ev-1",
		Name:       "Jazz Night",
		StartsAt:   h.Clock.Now().Add(72 * time.Hour),
		Capacity:   capacity,
		PriceCents: 2500,
	}))
	return h
}

func booked(t *testing.T, h *servicetest.Harness) int {
	ev, err := service.Events(h.Store).Get(context.Background(), "ev-1")
	require.NoError(t, err)
	return ev.Booked
}

func book(t *testing.T, h *servicetest.Harness, actor contract.Actor, qty int) rpc.Reply[contract.Ticket] {
	return servicetest.Call(t, h, contract.TicketBook, contract.BookTicketRequest{Actor: actor, EventID: "ev-1", Quantity: qty})
}

func TestBookTicket(t *testing.T) {
	h := setup(t, 5)

	reply := book(t, h, alice, 3)
	require.Equal(t, contract.TagTicket, reply.Tag)
	assert.Equal(t, int64(7500), reply.Value.TotalCents)
	assert.Equal(t, contract.TicketBooked, reply.Value.Status)
	assert.Equal(t, 3, booked(t, h))

	full := book(t, h, bob, 3)
	assert.Equal(t, rpc.TagBadRequest, full.Tag)
	assert.Equal(t, "not enough seats available", full.Text)

	for name, req := range map[string]contract.BookTicketRequest{
		"zero quantity": {Actor: bob, EventID: "ev-1", Quantity: 0},
		"too many":      {Actor: bob, EventID: "ev-1", Quantity: contract.MaxTicketsPerBooking + 1},
		"no event id":   {Actor: bob, Quantity: 1},
	} {
		assert.Equal(t, rpc.TagBadRequest, servicetest.Call(t, h, contract.TicketBook, req).Tag, name)
	}

	missing := servicetest.Call(t, h, contract.TicketBook, contract.BookTicketRequest{Actor: bob, EventID: "ev-404", Quantity: 1})
	assert.Equal(t, rpc.TagNotFound, missing.Tag)
	assert.Equal(t, "Event not found", missing.Text)

	h.Clock.Advance(73 * time.Hour)
	late := book(t, h, bob, 1)
	assert.Equal(t, "event has already started", late.Text)
}

// TestBookTicket_NoOverbooking 并发预订不超过容量
func TestBookTicket_NoOverbooking(t *testing.T) {
	h := setup(t, 10)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, err := rpc.Invoke(context.Background(), h.Client, contract.TicketBook,
				contract.BookTicketRequest{Actor: alice, EventID: "ev-1", Quantity: 1})
			if assert.NoError(t, err) && reply.Tag == contract.TagTicket {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, ok)
	assert.Equal(t, 10, booked(t, h))
}

// TestCancelTicket 覆盖未找到、越权、重复取消与成功取消
func TestCancelTicket(t *testing.T) {
	h := setup(t, 5)
	tk := book(t, h, alice, 2).Value

	notFound := servicetest.Call(t, h, contract.TicketCancel, contract.CancelTicketRequest{Actor: alice, TicketID: "t-404"})
	assert.Equal(t, rpc.TagNotFound, notFound.Tag)
	assert.Equal(t, "Ticket not found", notFound.Text)

	forbidden := servicetest.Call(t, h, contract.TicketCancel, contract.CancelTicketRequest{Actor: bob, TicketID: tk.ID})
	assert.Equal(t, rpc.TagForbidden, forbidden.Tag)
	assert.Equal(t, "You can only cancel your own tickets", forbidden.Text)

	ok := servicetest.Call(t, h, contract.TicketCancel, contract.CancelTicketRequest{Actor: alice, TicketID: tk.ID})
	assert.Equal(t, rpc.TagMessage, ok.Tag)
	assert.Equal(t, "Ticket cancelled successfully", ok.Text)
	assert.Equal(t, 0, booked(t, h))

	again := servicetest.Call(t, h, contract.TicketCancel, contract.CancelTicketRequest{Actor: alice, TicketID: tk.ID})
	assert.Equal(t, rpc.TagWarning, again.Tag)
	assert.Equal(t, 0, booked(t, h))
}

func TestCancelTicket_PaidNeedsRefund(t *testing.T) {
	h := setup(t, 5)
	ctx := context.Background()
	tk := book(t, h, alice, 1).Value
	tk.Status = contract.TicketPaid
	require.NoError(t, service.Tickets(h.Store).Save(ctx, tk.ID, tk))

	reply := servicetest.Call(t, h, contract.TicketCancel, contract.CancelTicketRequest{Actor: admin, TicketID: tk.ID})
	assert.Equal(t, rpc.TagBadRequest, reply.Tag)
}

func TestGetAndListTickets(t *testing.T) {
	h := setup(t, 50)
	first := book(t, h, alice, 1).Value
	h.Clock.Advance(time.Minute)
	second := book(t, h, alice, 2).Value
	book(t, h, bob, 1)

	got := servicetest.Call(t, h, contract.TicketGet, contract.GetTicketRequest{Actor: alice, TicketID: first.ID})
	require.Equal(t, contract.TagTicket, got.Tag)
	assert.Equal(t, first.ID, got.Value.ID)
	assert.Equal(t, rpc.TagForbidden,
		servicetest.Call(t, h, contract.TicketGet, contract.GetTicketRequest{Actor: bob, TicketID: first.ID}).Tag)

	list := servicetest.Call(t, h, contract.TicketListOwned, contract.ListUserTicketsRequest{Actor: alice})
	require.Equal(t, contract.TagTickets, list.Tag)
	assert.Equal(t, 2, list.Value.Total)
	assert.Equal(t, second.ID, list.Value.Tickets[0].ID, "newest first")

	byAdmin := servicetest.Call(t, h, contract.TicketListOwned, contract.ListUserTicketsRequest{Actor: admin, UserID: "u-bob"})
	assert.Equal(t, 1, byAdmin.Value.Total)

	assert.Equal(t, rpc.TagForbidden,
		servicetest.Call(t, h, contract.TicketListOwned, contract.ListUserTicketsRequest{Actor: bob, UserID: "u-alice"}).Tag)
}
