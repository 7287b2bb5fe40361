// Package payment 票据支付与退款
package payment

import (
	"context"
	stdErrors "errors"

	"github.com/MathisDulieu/Booking-sub000/contract"
	"github.com/MathisDulieu/Booking-sub000/errors"
	"github.com/MathisDulieu/Booking-sub000/logging"
	"github.com/MathisDulieu/Booking-sub000/rpc"
	"github.com/MathisDulieu/Booking-sub000/service"
	"github.com/MathisDulieu/Booking-sub000/storage/document"
	"github.com/MathisDulieu/Booking-sub000/validation"
)

const Domain = "payment"

type handlers struct {
	deps     service.Deps
	events   *document.Collection[contract.Event]
	tickets  *document.Collection[contract.Ticket]
	payments *document.Collection[contract.Payment]
}

// Register 注册 payment 领域的全部处理器
func Register(reg *rpc.Registry, deps service.Deps) error {
	deps, err := deps.WithDefaults("service.payment")
	if err != nil {
		return err
	}
	h := &handlers{
		deps:     deps,
		events:   service.Events(deps.Store),
		tickets:  service.Tickets(deps.Store),
		payments: service.Payments(deps.Store),
	}
	return validation.First(
		rpc.Route(reg, contract.PaymentProcess, h.processPayment),
		rpc.Route(reg, contract.PaymentGet, h.getPayment),
		rpc.Route(reg, contract.PaymentRefund, h.refundPayment),
	)
}

func (h *handlers) processPayment(ctx context.Context, req contract.ProcessPaymentRequest) (rpc.Result, error) {
	if res := service.Require(req.Actor); res != nil {
		return *res, nil
	}
	if err := validation.First(
		validation.Required(req.TicketID, "ticketId"),
		validation.Enum(req.Method, "method", contract.MethodCard, contract.MethodPaypal),
		validation.NonNegativeAmount(req.AmountCents, "amountCents"),
	); err != nil {
		return rpc.FromError(err), nil
	}

	id, err := h.deps.IDs.NextString()
	if err != nil {
		return rpc.Result{}, err
	}

	t, err := h.tickets.Update(ctx, req.TicketID, func(t *contract.Ticket) error {
		if !req.Actor.Owns(t.UserID) {
			return service.Halt(rpc.Forbidden("You can only pay for your own tickets"))
		}
		if t.Status != contract.TicketBooked {
			return service.Halt(rpc.BadRequest("ticket is not awaiting payment"))
		}
		if req.AmountCents != t.TotalCents {
			return service.Halt(rpc.BadRequest("amount does not match the ticket total"))
		}
		t.Status = contract.TicketPaid
		return nil
	})
	if err != nil {
		return service.Settle(ctx, err, "Ticket", "pay ticket")
	}

	p := contract.Payment{
		ID:          id,
		TicketID:    t.ID,
		UserID:      t.UserID,
		AmountCents: req.AmountCents,
		Method:      req.Method,
		Status:      contract.PaymentCompleted,
		PaidAt:      h.deps.Now(),
	}
	if err := h.payments.Create(ctx, id, p); err != nil {
		h.restoreBooked(ctx, t.ID)
		return rpc.Result{}, errors.WrapStoreError(ctx, err, "save payment")
	}
	return rpc.NestedResult(rpc.TagInformations, p)
}

// restoreBooked 支付记录未写入时把票据恢复为待支付
func (h *handlers) restoreBooked(ctx context.Context, ticketID string) {
	_, err := h.tickets.Update(ctx, ticketID, func(t *contract.Ticket) error {
		if t.Status != contract.TicketPaid {
			return document.ErrNoChange
		}
		t.Status = contract.TicketBooked
		return nil
	})
	if err != nil && !stdErrors.Is(err, document.ErrNoChange) {
		h.deps.Logger.Error(ctx, "ticket left paid without a payment record",
			logging.String("ticket_id", ticketID),
			logging.Error(err))
	}
}

func (h *handlers) getPayment(ctx context.Context, req contract.GetPaymentRequest) (rpc.Result, error) {
	if res := service.Require(req.Actor); res != nil {
		return *res, nil
	}
	p, miss, err := service.Lookup(ctx, h.payments, req.PaymentID, "Payment")
	if err != nil {
		return rpc.Result{}, err
	}
	if miss != nil {
		return *miss, nil
	}
	if !req.Actor.Owns(p.UserID) {
		return rpc.Forbidden("You can only view your own payments"), nil
	}
	return rpc.NestedResult(contract.TagPayment, p)
}

// refundPayment 退款并取消对应票据，归还座位
func (h *handlers) refundPayment(ctx context.Context, req contract.RefundPaymentRequest) (rpc.Result, error) {
	if res := service.Require(req.Actor); res != nil {
		return *res, nil
	}

	now := h.deps.Now()
	p, err := h.payments.Update(ctx, req.PaymentID, func(p *contract.Payment) error {
		if !req.Actor.Owns(p.UserID) {
			return service.Halt(rpc.Forbidden("You can only refund your own payments"))
		}
		if p.Status == contract.PaymentRefunded {
			return service.Halt(rpc.Warning("Payment already refunded"))
		}
		p.Status = contract.PaymentRefunded
		p.RefundedAt = &now
		return nil
	})
	if err != nil {
		return service.Settle(ctx, err, "Payment", "refund payment")
	}

	t, err := h.tickets.Update(ctx, p.TicketID, func(t *contract.Ticket) error {
		if t.Status == contract.TicketCancelled {
			return document.ErrNoChange
		}
		t.Status = contract.TicketCancelled
		return nil
	})
	switch {
	case err == nil:
		if err := service.ReleaseSeats(ctx, h.events, t.EventID, t.Quantity); err != nil {
			return rpc.Result{}, err
		}
	case stdErrors.Is(err, document.ErrNoChange), stdErrors.Is(err, document.ErrNotFound):
	default:
		return rpc.Result{}, errors.WrapStoreError(ctx, err, "cancel refunded ticket")
	}
	return rpc.Message("Payment refunded successfully"), nil
}
