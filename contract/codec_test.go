package contract

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MathisDulieu/Booking-sub000/codec"
)

// TestRequests_RoundTripEveryCodec 每个请求类型经 JSON 与 CBOR 往返后保持不变
func TestRequests_RoundTripEveryCodec(t *testing.T) {
	actor := Actor{UserID: "u-1", Role: RoleOrganizer}
	page := PageRequest{Page: 2, Size: 15}
	startsAt := time.Date(2026, 9, 1, 20, 30, 0, 0, time.UTC)

	requests := map[string]any{
		"RegisterRequest":          RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "s3cret!", Role: RoleUser},
		"LoginRequest":             LoginRequest{Email: "alice@example.com", Password: "s3cret!"},
		"TokenRequest":             TokenRequest{Token: "tok-1"},
		"PageRequest":              page,
		"GetUserRequest":           GetUserRequest{Actor: actor, UserID: "u-2"},
		"UpdateUserRequest":        UpdateUserRequest{Actor: actor, UserID: "u-2", Username: "bob", Email: "bob@example.com", Role: RoleAdmin},
		"DeleteUserRequest":        DeleteUserRequest{Actor: actor, UserID: "u-2"},
		"ListUsersRequest":         ListUsersRequest{Actor: actor, PageRequest: page},
		"CreateEventRequest":       CreateEventRequest{Actor: actor, Name: "Jazz Night", Description: "late set", Venue: "Olympia", City: "Paris", StartsAt: startsAt, Capacity: 300, PriceCents: 4500},
		"GetEventRequest":          GetEventRequest{EventID: "ev-1"},
		"SearchEventsRequest":      SearchEventsRequest{Name: "jazz", City: "Paris", PageRequest: page},
		"DeleteEventRequest":       DeleteEventRequest{Actor: actor, EventID: "ev-1"},
		"BookTicketRequest":        BookTicketRequest{Actor: actor, EventID: "ev-1", Quantity: 3},
		"CancelTicketRequest":      CancelTicketRequest{Actor: actor, TicketID: "t-1"},
		"GetTicketRequest":         GetTicketRequest{Actor: actor, TicketID: "t-1"},
		"ListUserTicketsRequest":   ListUserTicketsRequest{Actor: actor, UserID: "u-1", PageRequest: page},
		"ProcessPaymentRequest":    ProcessPaymentRequest{Actor: actor, TicketID: "t-1", AmountCents: 13500, Method: MethodPaypal},
		"GetPaymentRequest":        GetPaymentRequest{Actor: actor, PaymentID: "p-1"},
		"RefundPaymentRequest":     RefundPaymentRequest{Actor: actor, PaymentID: "p-1"},
		"SendEmailRequest":         SendEmailRequest{UserID: "u-1", To: "alice@example.com", Subject: "Your ticket", Body: "See you there"},
		"ListNotificationsRequest": ListNotificationsRequest{Actor: actor, UserID: "u-1", PageRequest: page},
	}

	for _, cd := range []codec.Codec{codec.JSON, codec.CBOR} {
		for name, req := range requests {
			t.Run(cd.Name()+"/"+name, func(t *testing.T) {
				data, err := cd.Marshal(req)
				require.NoError(t, err)

				out := reflect.New(reflect.TypeOf(req))
				require.NoError(t, cd.Unmarshal(data, out.Interface()))
				assert.True(t, reflect.DeepEqual(req, out.Elem().Interface()),
					"want %+v, got %+v", req, out.Elem().Interface())
			})
		}
	}
}
