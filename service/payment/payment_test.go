package payment

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
	"github.com/MathisDulieu/Booking-sub000/service/ticket"
)

var (
	alice = contract.Actor{UserID: "u-alice", Role: contract.RoleUser}
	bob   = contract.Actor{UserID: "u-bob", Role: contract.RoleUser}
)

func setup(t *testing.T) *servicetest.Harness {
	h := servicetest.New(t, Domain, Register)
	ctx := context.Background()
	require.NoError(t, service.Events(h.Store).Save(ctx, "ev-1", contract.Event{
		ID: "ev-1", Capacity: 10, Booked: 2, PriceCents: 2500, StartsAt: h.Clock.Now().Add(time.Hour)}))
	require.NoError(t, service.Tickets(h.Store).Save(ctx, "t-1", contract.Ticket{
		ID: "t-1", EventID: "ev-1", UserID: "u-alice", Quantity: 2, TotalCents: 5000, Status: contract.TicketBooked}))
	return h
}

func pay(t *testing.T, h *servicetest.Harness, actor contract.Actor, amount int64) rpc.Reply[contract.Payment] {
	return servicetest.Call(t, h, contract.PaymentProcess, contract.ProcessPaymentRequest{
		Actor: actor, TicketID: "t-1", AmountCents: amount, Method: contract.MethodCard})
}

func ticketStatus(t *testing.T, h *servicetest.Harness) string {
	tk, err := service.Tickets(h.Store).Get(context.Background(), "t-1")
	require.NoError(t, err)
	return tk.Status
}

func TestProcessPayment(t *testing.T) {
	h := setup(t)

	assert.Equal(t, rpc.TagForbidden, pay(t, h, bob, 5000).Tag)
	assert.Equal(t, rpc.TagBadRequest, pay(t, h, alice, 4000).Tag)

	missing := servicetest.Call(t, h, contract.PaymentProcess, contract.ProcessPaymentRequest{
		Actor: alice, TicketID: "t-404", AmountCents: 1, Method: contract.MethodCard})
	assert.Equal(t, rpc.TagNotFound, missing.Tag)

	badMethod := servicetest.Call(t, h, contract.PaymentProcess, contract.ProcessPaymentRequest{
		Actor: alice, TicketID: "t-1", AmountCents: 5000, Method: "cash"})
	assert.Equal(t, rpc.TagBadRequest, badMethod.Tag)

	ok := pay(t, h, alice, 5000)
	require.Equal(t, rpc.TagInformations, ok.Tag)
	assert.Equal(t, contract.PaymentCompleted, ok.Value.Status)
	assert.Equal(t, contract.TicketPaid, ticketStatus(t, h))

	twice := pay(t, h, alice, 5000)
	assert.Equal(t, rpc.TagBadRequest, twice.Tag)
	assert.Equal(t, "ticket is not awaiting payment", twice.Text)

	got := servicetest.Call(t, h, contract.PaymentGet, contract.GetPaymentRequest{Actor: alice, PaymentID: ok.Value.ID})
	require.Equal(t, contract.TagPayment, got.Tag)
	assert.Equal(t, int64(5000), got.Value.AmountCents)
	assert.Equal(t, rpc.TagForbidden,
		servicetest.Call(t, h, contract.PaymentGet, contract.GetPaymentRequest{Actor: bob, PaymentID: ok.Value.ID}).Tag)
}

func TestRefundPayment(t *testing.T) {
	h := setup(t)
	p := pay(t, h, alice, 5000).Value

	assert.Equal(t, rpc.TagForbidden,
		servicetest.Call(t, h, contract.PaymentRefund, contract.RefundPaymentRequest{Actor: bob, PaymentID: p.ID}).Tag)
	assert.Equal(t, rpc.TagNotFound,
		servicetest.Call(t, h, contract.PaymentRefund, contract.RefundPaymentRequest{Actor: alice, PaymentID: "p-404"}).Tag)

	ok := servicetest.Call(t, h, contract.PaymentRefund, contract.RefundPaymentRequest{Actor: alice, PaymentID: p.ID})
	assert.Equal(t, rpc.TagMessage, ok.Tag)
	assert.Equal(t, contract.TicketCancelled, ticketStatus(t, h))

	ev, err := service.Events(h.Store).Get(context.Background(), "ev-1")
	require.NoError(t, err)
	assert.Equal(t, 0, ev.Booked)

	stored := servicetest.Call(t, h, contract.PaymentGet, contract.GetPaymentRequest{Actor: alice, PaymentID: p.ID})
	require.NotNil(t, stored.Value.RefundedAt)
	assert.Equal(t, contract.PaymentRefunded, stored.Value.Status)

	again := servicetest.Call(t, h, contract.PaymentRefund, contract.RefundPaymentRequest{Actor: alice, PaymentID: p.ID})
	assert.Equal(t, rpc.TagWarning, again.Tag)
}

// 同一票据并发支付与取消：只有一方生效，座位计数与票据状态一致
func TestProcessPayment_RacesCancel(t *testing.T) {
	for i := 0; i < 10; i++ {
		h := setup(t)
		h.Serve(t, ticket.Domain, ticket.Register)
		ctx := context.Background()

		var (
			wg                sync.WaitGroup
			paid              rpc.Reply[contract.Payment]
			cancelled         rpc.Reply[string]
			payErr, cancelErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			paid, payErr = rpc.Invoke(ctx, h.Client, contract.PaymentProcess, contract.ProcessPaymentRequest{
				Actor: alice, TicketID: "t-1", AmountCents: 5000, Method: contract.MethodCard})
		}()
		go func() {
			defer wg.Done()
			cancelled, cancelErr = rpc.Invoke(ctx, h.Client, contract.TicketCancel, contract.CancelTicketRequest{
				Actor: alice, TicketID: "t-1"})
		}()
		wg.Wait()
		require.NoError(t, payErr)
		require.NoError(t, cancelErr)

		ev, err := service.Events(h.Store).Get(ctx, "ev-1")
		require.NoError(t, err)
		if paid.Tag == rpc.TagInformations {
			assert.Equal(t, rpc.TagBadRequest, cancelled.Tag)
			assert.Equal(t, contract.TicketPaid, ticketStatus(t, h))
			assert.Equal(t, 2, ev.Booked)
		} else {
			assert.Equal(t, rpc.TagBadRequest, paid.Tag)
			assert.Equal(t, rpc.TagMessage, cancelled.Tag)
			assert.Equal(t, contract.TicketCancelled, ticketStatus(t, h))
			assert.Equal(t, 0, ev.Booked)
		}
	}
}
