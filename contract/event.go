package contract

import (
	"time"

	"github.com/MathisDulieu/Booking-sub000/rpc"
)

// Event 活动；Booked 为已售座位数
type Event struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Venue       string    `json:"venue"`
	City        string    `json:"city"`
	StartsAt    time.Time `json:"startsAt"`
	Capacity    int       `json:"capacity"`
	Booked      int       `json:"booked"`
	PriceCents  int64     `json:"priceCents"`
	OrganizerID string    `json:"organizerId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Available 剩余座位
func (e Event) Available() int { return e.Capacity - e.Booked }

type CreateEventRequest struct {
	Actor       Actor     `json:"actor"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Venue       string    `json:"venue"`
	City        string    `json:"city"`
	StartsAt    time.Time `json:"startsAt"`
	Capacity    int       `json:"capacity"`
	PriceCents  int64     `json:"priceCents"`
}

type EventCreated struct {
	ID string `json:"id"`
}

type GetEventRequest struct {
	EventID string `json:"eventId"`
}

// SearchEventsRequest Name 为不区分大小写的子串匹配，City 为精确匹配
type SearchEventsRequest struct {
	Name string `json:"name,omitempty"`
	City string `json:"city,omitempty"`
	PageRequest
}

type EventPage struct {
	Events []Event `json:"events"`
	PageInfo
}

type DeleteEventRequest struct {
	Actor   Actor  `json:"actor"`
	EventID string `json:"eventId"`
}

const TagEvent = "event"
const TagEvents = "events"

var (
	EventCreate = rpc.Nested[CreateEventRequest, EventCreated]("event.createEvent", rpc.TagInformations)
	EventGet    = rpc.Nested[GetEventRequest, Event]("event.getEvent", TagEvent)
	EventSearch = rpc.Nested[SearchEventsRequest, EventPage]("event.searchEvents", TagEvents)
	EventDelete = rpc.Flat[DeleteEventRequest]("event.deleteEvent")
)
