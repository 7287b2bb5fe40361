// Package notification 邮件发送与通知记录
package notification

import (
	"context"
	"strings"

	"github.com/MathisDulieu/Booking-sub000/contract"
	"github.com/MathisDulieu/Booking-sub000/errors"
	"github.com/MathisDulieu/Booking-sub000/logging"
	"github.com/MathisDulieu/Booking-sub000/mail"
	"github.com/MathisDulieu/Booking-sub000/rpc"
	"github.com/MathisDulieu/Booking-sub000/service"
	"github.com/MathisDulieu/Booking-sub000/storage/document"
	"github.com/MathisDulieu/Booking-sub000/validation"
)

const Domain = "notification"

type handlers struct {
	deps          service.Deps
	mailer        mail.Mailer
	notifications *document.Collection[contract.Notification]
}

// Register 注册 notification 领域的全部处理器；未配置 Mailer 时只记录日志
func Register(reg *rpc.Registry, deps service.Deps) error {
	deps, err := deps.WithDefaults("service.notification")
	if err != nil {
		return err
	}
	mailer := deps.Mailer
	if mailer == nil {
		mailer = mail.NewLogMailer(deps.Logger)
	}
	h := &handlers{
		deps:          deps,
		mailer:        mailer,
		notifications: service.Notifications(deps.Store),
	}
	return validation.First(
		rpc.Route(reg, contract.NotificationSend, h.sendEmail),
		rpc.Route(reg, contract.NotificationList, h.listNotifications),
	)
}

func (h *handlers) sendEmail(ctx context.Context, req contract.SendEmailRequest) (rpc.Result, error) {
	to := strings.TrimSpace(req.To)
	if err := validation.First(
		validation.Email(to),
		validation.Required(req.Subject, "subject"),
		validation.Length(req.Subject, "subject", 1, 200),
	); err != nil {
		return rpc.FromError(err), nil
	}

	id, err := h.deps.IDs.NextString()
	if err != nil {
		return rpc.Result{}, err
	}
	n := contract.Notification{
		ID:      id,
		UserID:  req.UserID,
		To:      to,
		Subject: req.Subject,
		Body:    req.Body,
		Status:  contract.NotificationSent,
		SentAt:  h.deps.Now(),
	}

	sendErr := h.mailer.Send(ctx, mail.Email{To: to, Subject: req.Subject, Body: req.Body})
	if sendErr != nil {
		n.Status = contract.NotificationFailed
		h.deps.Logger.Warn(ctx, "email delivery failed",
			logging.String("notification_id", id), logging.String("to", to), logging.Error(sendErr))
	}
	if err := h.notifications.Save(ctx, id, n); err != nil {
		return rpc.Result{}, errors.WrapStoreError(ctx, err, "save notification")
	}
	if sendErr != nil {
		return rpc.Internal("failed to send email"), nil
	}
	return rpc.Message("Email sent successfully"), nil
}

func (h *handlers) listNotifications(ctx context.Context, req contract.ListNotificationsRequest) (rpc.Result, error) {
	if res := service.Require(req.Actor); res != nil {
		return *res, nil
	}
	userID := req.UserID
	if userID == "" {
		userID = req.Actor.UserID
	}
	if !req.Actor.Owns(userID) {
		return rpc.Forbidden("You can only list your own notifications"), nil
	}
	q, err := service.PageQuery(req.PageRequest)
	if err != nil {
		return rpc.FromError(err), nil
	}
	q.Filter = map[string]any{"userId": userID}
	q.SortBy = "sentAt"
	q.Desc = true

	items, total, err := h.notifications.Find(ctx, q)
	if err != nil {
		return rpc.Result{}, errors.WrapStoreError(ctx, err, "list notifications")
	}
	return rpc.NestedResult(contract.TagNotifications, contract.NotificationPage{
		Notifications: items,
		PageInfo:      service.PageInfo(q, total),
	})
}
