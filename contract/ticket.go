package contract

import (
	"time"

	"github.com/MathisDulieu/Booking-sub000/rpc"
)

// 票据状态
const (
	TicketBooked    = "booked"
	TicketPaid      = "paid"
	TicketCancelled = "cancelled"
)

type Ticket struct {
	ID         string    `json:"id"`
	EventID    string    `json:"eventId"`
	UserID     string    `json:"userId"`
	Quantity   int       `json:"quantity"`
	TotalCents int64     `json:"totalCents"`
	Status     string    `json:"status"`
	BookedAt   time.Time `json:"bookedAt"`
}

type BookTicketRequest struct {
	Actor    Actor  `json:"actor"`
	EventID  string `json:"eventId"`
	Quantity int    `json:"quantity"`
}

type CancelTicketRequest struct {
	Actor    Actor  `json:"actor"`
	TicketID string `json:"ticketId"`
}

type GetTicketRequest struct {
	Actor    Actor  `json:"actor"`
	TicketID string `json:"ticketId"`
}

type ListUserTicketsRequest struct {
	Actor  Actor  `json:"actor"`
	UserID string `json:"userId"`
	PageRequest
}

type TicketPage struct {
	Tickets []Ticket `json:"tickets"`
	PageInfo
}

// MaxTicketsPerBooking 单次预订上限
const MaxTicketsPerBooking = 10

const TagTicket = "ticket"
const TagTickets = "tickets"

var (
	TicketBook      = rpc.Nested[BookTicketRequest, Ticket]("ticket.bookTicket", TagTicket)
	TicketCancel    = rpc.Flat[CancelTicketRequest]("ticket.cancelTicket")
	TicketGet       = rpc.Nested[GetTicketRequest, Ticket]("ticket.getTicket", TagTicket)
	TicketListOwned = rpc.Nested[ListUserTicketsRequest, TicketPage]("ticket.listUserTickets", TagTickets)
)
