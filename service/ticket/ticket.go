// Package ticket 票据预订、取消与查询
package ticket

import (
	"context"

	"github.com/MathisDulieu/Booking-sub000/contract"
	"github.com/MathisDulieu/Booking-sub000/errors"
	"github.com/MathisDulieu/Booking-sub000/logging"
	"github.com/MathisDulieu/Booking-sub000/rpc"
	"github.com/MathisDulieu/Booking-sub000/service"
	"github.com/MathisDulieu/Booking-sub000/storage/document"
	"github.com/MathisDulieu/Booking-sub000/validation"
)

const Domain = "ticket"

type handlers struct {
	deps    service.Deps
	events  *document.Collection[contract.Event]
	tickets *document.Collection[contract.Ticket]
}

// Register 注册 ticket 领域的全部处理器
func Register(reg *rpc.Registry, deps service.Deps) error {
	deps, err := deps.WithDefaults("service.ticket")
	if err != nil {
		return err
	}
	h := &handlers{
		deps:    deps,
		events:  service.Events(deps.Store),
		tickets: service.Tickets(deps.Store),
	}
	return validation.First(
		rpc.Route(reg, contract.TicketBook, h.bookTicket),
		rpc.Route(reg, contract.TicketCancel, h.cancelTicket),
		rpc.Route(reg, contract.TicketGet, h.getTicket),
		rpc.Route(reg, contract.TicketListOwned, h.listUserTickets),
	)
}

func (h *handlers) bookTicket(ctx context.Context, req contract.BookTicketRequest) (rpc.Result, error) {
	if res := service.Require(req.Actor); res != nil {
		return *res, nil
	}
	if err := validation.First(
		validation.Required(req.EventID, "eventId"),
		validation.IntRange(req.Quantity, "quantity", 1, contract.MaxTicketsPerBooking),
	); err != nil {
		return rpc.FromError(err), nil
	}

	id, err := h.deps.IDs.NextString()
	if err != nil {
		return rpc.Result{}, err
	}
	now := h.deps.Now()

	// 先按版本条件扣减座位，再写入票据
	ev, err := h.events.Update(ctx, req.EventID, func(ev *contract.Event) error {
		if !ev.StartsAt.After(now) {
			return service.Halt(rpc.BadRequest("event has already started"))
		}
		if ev.Available() < req.Quantity {
			return service.Halt(rpc.BadRequest("not enough seats available"))
		}
		ev.Booked += req.Quantity
		return nil
	})
	if err != nil {
		return service.Settle(ctx, err, "Event", "reserve seats")
	}

	t := contract.Ticket{
		ID:         id,
		EventID:    ev.ID,
		UserID:     req.Actor.UserID,
		Quantity:   req.Quantity,
		TotalCents: ev.PriceCents * int64(req.Quantity),
		Status:     contract.TicketBooked,
		BookedAt:   now,
	}
	if err := h.tickets.Create(ctx, id, t); err != nil {
		if relErr := service.ReleaseSeats(ctx, h.events, ev.ID, req.Quantity); relErr != nil {
			h.deps.Logger.Error(ctx, "seats left reserved after failed booking",
				logging.String("event_id", ev.ID),
				logging.Int("quantity", req.Quantity),
				logging.Error(relErr))
		}
		return rpc.Result{}, errors.WrapStoreError(ctx, err, "save ticket")
	}
	return rpc.NestedResult(contract.TagTicket, t)
}

// cancelTicket 取消未支付的票据；状态迁移按版本条件保存，与支付并发时只有一方生效
func (h *handlers) cancelTicket(ctx context.Context, req contract.CancelTicketRequest) (rpc.Result, error) {
	if res := service.Require(req.Actor); res != nil {
		return *res, nil
	}

	t, err := h.tickets.Update(ctx, req.TicketID, func(t *contract.Ticket) error {
		if !req.Actor.Owns(t.UserID) {
			return service.Halt(rpc.Forbidden("You can only cancel your own tickets"))
		}
		switch t.Status {
		case contract.TicketCancelled:
			return service.Halt(rpc.Warning("Ticket already cancelled"))
		case contract.TicketPaid:
			return service.Halt(rpc.BadRequest("paid tickets are cancelled through a refund"))
		}
		t.Status = contract.TicketCancelled
		return nil
	})
	if err != nil {
		return service.Settle(ctx, err, "Ticket", "cancel ticket")
	}
	if err := service.ReleaseSeats(ctx, h.events, t.EventID, t.Quantity); err != nil {
		return rpc.Result{}, err
	}
	return rpc.Message("Ticket cancelled successfully"), nil
}

func (h *handlers) getTicket(ctx context.Context, req contract.GetTicketRequest) (rpc.Result, error) {
	if res := service.Require(req.Actor); res != nil {
		return *res, nil
	}
	t, miss, err := service.Lookup(ctx, h.tickets, req.TicketID, "Ticket")
	if err != nil {
		return rpc.Result{}, err
	}
	if miss != nil {
		return *miss, nil
	}
	if !req.Actor.Owns(t.UserID) {
		return rpc.Forbidden("You can only view your own tickets"), nil
	}
	return rpc.NestedResult(contract.TagTicket, t)
}

func (h *handlers) listUserTickets(ctx context.Context, req contract.ListUserTicketsRequest) (rpc.Result, error) {
	if res := service.Require(req.Actor); res != nil {
		return *res, nil
	}
	userID := req.UserID
	if userID == "" {
		userID = req.Actor.UserID
	}
	if !req.Actor.Owns(userID) {
		return rpc.Forbidden("You can only list your own tickets"), nil
	}
	q, err := service.PageQuery(req.PageRequest)
	if err != nil {
		return rpc.FromError(err), nil
	}
	q.Filter = map[string]any{"userId": userID}
	q.SortBy = "bookedAt"
	q.Desc = true

	tickets, total, err := h.tickets.Find(ctx, q)
	if err != nil {
		return rpc.Result{}, errors.WrapStoreError(ctx, err, "list tickets")
	}
	return rpc.NestedResult(contract.TagTickets, contract.TicketPage{Tickets: tickets, PageInfo: service.PageInfo(q, total)})
}
