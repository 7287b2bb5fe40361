// Package event 活动的创建、查询与删除
package event

import (
	"context"
	"strings"

	"github.com/MathisDulieu/Booking-sub000/contract"
	"github.com/MathisDulieu/Booking-sub000/errors"
	"github.com/MathisDulieu/Booking-sub000/rpc"
	"github.com/MathisDulieu/Booking-sub000/service"
	"github.com/MathisDulieu/Booking-sub000/storage/document"
	"github.com/MathisDulieu/Booking-sub000/validation"
)

const Domain = "event"

// MaxCapacity 单场活动座位上限
const MaxCapacity = 100000

type handlers struct {
	deps   service.Deps
	events *document.Collection[contract.Event]
}

// Register 注册 event 领域的全部处理器
func Register(reg *rpc.Registry, deps service.Deps) error {
	deps, err := deps.WithDefaults("service.event")
	if err != nil {
		return err
	}
	h := &handlers{
		deps:   deps,
		events: service.Events(deps.Store),
	}
	return validation.First(
		rpc.Route(reg, contract.EventCreate, h.createEvent),
		rpc.Route(reg, contract.EventGet, h.getEvent),
		rpc.Route(reg, contract.EventSearch, h.searchEvents),
		rpc.Route(reg, contract.EventDelete, h.deleteEvent),
	)
}

func (h *handlers) createEvent(ctx context.Context, req contract.CreateEventRequest) (rpc.Result, error) {
	if res := service.Require(req.Actor); res != nil {
		return *res, nil
	}
	if req.Actor.Role != contract.RoleOrganizer && !req.Actor.IsAdmin() {
		return rpc.Forbidden("only organizers can create events"), nil
	}
	if err := validation.First(
		validation.Required(req.Name, "name"),
		validation.Length(req.Name, "name", 1, 200),
		validation.Required(req.Venue, "venue"),
		validation.Required(req.City, "city"),
		validation.Future(req.StartsAt, h.deps.Now(), "startsAt"),
		validation.IntRange(req.Capacity, "capacity", 1, MaxCapacity),
		validation.NonNegativeAmount(req.PriceCents, "priceCents"),
	); err != nil {
		return rpc.FromError(err), nil
	}

	id, err := h.deps.IDs.NextString()
	if err != nil {
		return rpc.Result{}, err
	}
	ev := contract.Event{
		ID:          id,
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Venue:       req.Venue,
		City:        req.City,
		StartsAt:    req.StartsAt.UTC(),
		Capacity:    req.Capacity,
		PriceCents:  req.PriceCents,
		OrganizerID: req.Actor.UserID,
		CreatedAt:   h.deps.Now(),
	}
	if err := h.events.Save(ctx, id, ev); err != nil {
		return rpc.Result{}, errors.WrapStoreError(ctx, err, "save event")
	}
	return rpc.NestedResult(rpc.TagInformations, contract.EventCreated{ID: id})
}

func (h *handlers) getEvent(ctx context.Context, req contract.GetEventRequest) (rpc.Result, error) {
	ev, miss, err := service.Lookup(ctx, h.events, req.EventID, "event")
	if err != nil {
		return rpc.Result{}, err
	}
	if miss != nil {
		return *miss, nil
	}
	return rpc.NestedResult(contract.TagEvent, ev)
}

func (h *handlers) searchEvents(ctx context.Context, req contract.SearchEventsRequest) (rpc.Result, error) {
	q, err := service.PageQuery(req.PageRequest)
	if err != nil {
		return rpc.FromError(err), nil
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		q.Like = map[string]string{"name": name}
	}
	if req.City != "" {
		q.Filter = map[string]any{"city": req.City}
	}
	q.SortBy = "startsAt"

	events, total, err := h.events.Find(ctx, q)
	if err != nil {
		return rpc.Result{}, errors.WrapStoreError(ctx, err, "search events")
	}
	return rpc.NestedResult(contract.TagEvents, contract.EventPage{Events: events, PageInfo: service.PageInfo(q, total)})
}

func (h *handlers) deleteEvent(ctx context.Context, req contract.DeleteEventRequest) (rpc.Result, error) {
	if res := service.Require(req.Actor); res != nil {
		return *res, nil
	}
	ev, miss, err := service.Lookup(ctx, h.events, req.EventID, "event")
	if err != nil {
		return rpc.Result{}, err
	}
	if miss != nil {
		return *miss, nil
	}
	if ev.OrganizerID != req.Actor.UserID && !req.Actor.IsAdmin() {
		return rpc.Forbidden("you can only delete your own events"), nil
	}
	if ev.Booked > 0 {
		return rpc.BadRequest("event has booked tickets"), nil
	}
	if _, err := h.events.Delete(ctx, ev.ID); err != nil {
		return rpc.Result{}, errors.WrapStoreError(ctx, err, "delete event")
	}
	return rpc.Message("event deleted successfully"), nil
}
