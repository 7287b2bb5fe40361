// Package gateway 对外 HTTP 边界：各领域门面经 RPC 客户端调用服务，并把结果标签翻译为 HTTP 状态
package gateway

import (
	"context"
	"time"

	"github.com/MathisDulieu/Booking-sub000/contract"
	"github.com/MathisDulieu/Booking-sub000/rpc"
)

// invoke 调用操作并翻译结果；嵌套载荷以解码后的值作为响应体
func invoke[Req, Resp any](ctx context.Context, c *rpc.Client, timeout time.Duration, op rpc.Operation[Req, Resp], req Req) rpc.Outcome {
	reply, err := rpc.Invoke(ctx, c, op, req, rpc.WithTimeout(timeout))
	if err != nil {
		return rpc.TranslateError(err)
	}
	out := rpc.Translate(reply.Result())
	if op.Kind() == rpc.KindNested && reply.HasValue {
		out.Body = reply.Value
	}
	return out
}

type facade struct {
	client  *rpc.Client
	timeout time.Duration
}

// AuthFacade 认证门面
type AuthFacade struct{ facade }

func (f *AuthFacade) Register(ctx context.Context, req contract.RegisterRequest) rpc.Outcome {
	return invoke(ctx, f.client, f.timeout, contract.AuthRegister, req)
}

func (f *AuthFacade) Login(ctx context.Context, req contract.LoginRequest) rpc.Outcome {
	return invoke(ctx, f.client, f.timeout, contract.AuthLogin, req)
}

func (f *AuthFacade) Logout(ctx context.Context, token string) rpc.Outcome {
	return invoke(ctx, f.client, f.timeout, contract.AuthLogout, contract.TokenRequest{Token: token})
}

// ValidateToken 成功时返回会话；失败时返回应直接写回的 Outcome
func (f *AuthFacade) ValidateToken(ctx context.Context, token string) (contract.Session, rpc.Outcome, bool) {
	reply, err := rpc.Invoke(ctx, f.client, contract.AuthValidateToken, contract.TokenRequest{Token: token}, rpc.WithTimeout(f.timeout))
	if err != nil {
		return contract.Session{}, rpc.TranslateError(err), false
	}
	if !reply.HasValue {
		return contract.Session{}, rpc.Translate(reply.Result()), false
	}
	return reply.Value, rpc.Outcome{Status: rpc.StatusFor(reply.Tag), Tag: reply.Tag, Body: reply.Value}, true
}

// UserFacade 用户门面
type UserFacade struct{ facade }

func (f *UserFacade) GetUser(ctx context.Context, actor contract.Actor, userID string) rpc.Outcome {
	return invoke(ctx, f.client, f.timeout, contract.UserGet, contract.GetUserRequest{Actor: actor, UserID: userID})
}

func (f *UserFacade) UpdateUser(ctx context.Context, req contract.UpdateUserRequest) rpc.Outcome {
	return invoke(ctx, f.client, f.timeout, contract.UserUpdate, req)
}

func (f *UserFacade) DeleteUser(ctx context.Context, actor contract.Actor, userID string) rpc.Outcome {
	return invoke(ctx, f.client, f.timeout, contract.UserDelete, contract.DeleteUserRequest{Actor: actor, UserID: userID})
}

func (f *UserFacade) ListUsers(ctx context.Context, actor contract.Actor, page contract.PageRequest) rpc.Outcome {
	return invoke(ctx, f.client, f.timeout, contract.UserList, contract.ListUsersRequest{Actor: actor, PageRequest: page})
}

// EventFacade 活动门面
type EventFacade struct{ facade }

func (f *EventFacade) CreateEvent(ctx context.Context, req contract.CreateEventRequest) rpc.Outcome {
	return invoke(ctx, f.client, f.timeout, contract.EventCreate, req)
}

func (f *EventFacade) GetEvent(ctx context.Context, eventID string) rpc.Outcome {
	return invoke(ctx, f.client, f.timeout, contract.EventGet, contract.GetEventRequest{EventID: eventID})
}

func (f *EventFacade) SearchEvents(ctx context.Context, req contract.SearchEventsRequest) rpc.Outcome {
	return invoke(ctx, f.client, f.timeout, contract.EventSearch, req)
}

func (f *EventFacade) DeleteEvent(ctx context.Context, actor contract.Actor, eventID string) rpc.Outcome {
	return invoke(ctx, f.client, f.timeout, contract.EventDelete, contract.DeleteEventRequest{Actor: actor, EventID: eventID})
}

// TicketFacade 票务门面
type TicketFacade struct{ facade }

func (f *TicketFacade) BookTicket(ctx context.Context, req contract.BookTicketRequest) rpc.Outcome {
	return invoke(ctx, f.client, f.timeout, contract.TicketBook, req)
}

func (f *TicketFacade) CancelTicket(ctx context.Context, actor contract.Actor, ticketID string) rpc.Outcome {
	return invoke(ctx, f.client, f.timeout, contract.TicketCancel, contract.CancelTicketRequest{Actor: actor, TicketID: ticketID})
}

func (f *TicketFacade) GetTicket(ctx context.Context, actor contract.Actor, ticketID string) rpc.Outcome {
	return invoke(ctx, f.client, f.timeout, contract.TicketGet, contract.GetTicketRequest{Actor: actor, TicketID: ticketID})
}

func (f *TicketFacade) ListUserTickets(ctx context.Context, actor contract.Actor, userID string, page contract.PageRequest) rpc.Outcome {
	return invoke(ctx, f.client, f.timeout, contract.TicketListOwned,
		contract.ListUserTicketsRequest{Actor: actor, UserID: userID, PageRequest: page})
}

// PaymentFacade 支付门面
type PaymentFacade struct{ facade }

func (f *PaymentFacade) ProcessPayment(ctx context.Context, req contract.ProcessPaymentRequest) rpc.Outcome {
	return invoke(ctx, f.client, f.timeout, contract.PaymentProcess, req)
}

func (f *PaymentFacade) GetPayment(ctx context.Context, actor contract.Actor, paymentID string) rpc.Outcome {
	return invoke(ctx, f.client, f.timeout, contract.PaymentGet, contract.GetPaymentRequest{Actor: actor, PaymentID: paymentID})
}

func (f *PaymentFacade) RefundPayment(ctx context.Context, actor contract.Actor, paymentID string) rpc.Outcome {
	return invoke(ctx, f.client, f.timeout, contract.PaymentRefund, contract.RefundPaymentRequest{Actor: actor, PaymentID: paymentID})
}

// NotificationFacade 通知门面
type NotificationFacade struct{ facade }

func (f *NotificationFacade) SendEmail(ctx context.Context, req contract.SendEmailRequest) rpc.Outcome {
	return invoke(ctx, f.client, f.timeout, contract.NotificationSend, req)
}

func (f *NotificationFacade) ListNotifications(ctx context.Context, actor contract.Actor, userID string, page contract.PageRequest) rpc.Outcome {
	return invoke(ctx, f.client, f.timeout, contract.NotificationList,
		contract.ListNotificationsRequest{Actor: actor, UserID: userID, PageRequest: page})
}
