package contract

import (
	"time"

	"github.com/MathisDulieu/Booking-sub000/rpc"
)

// Notification 已发送邮件的记录
type Notification struct {
	ID      string    `json:"id"`
	UserID  string    `json:"userId,omitempty"`
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	Status  string    `json:"status"`
	SentAt  time.Time `json:"sentAt"`
}

// 通知状态
const (
	NotificationSent   = "sent"
	NotificationFailed = "failed"
)

type SendEmailRequest struct {
	UserID  string `json:"userId,omitempty"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type ListNotificationsRequest struct {
	Actor  Actor  `json:"actor"`
	UserID string `json:"userId"`
	PageRequest
}

type NotificationPage struct {
	Notifications []Notification `json:"notifications"`
	PageInfo
}

const TagNotifications = "notifications"

var (
	NotificationSend = rpc.Flat[SendEmailRequest]("notification.sendEmail")
	NotificationList = rpc.Nested[ListNotificationsRequest, NotificationPage]("notification.listNotifications", TagNotifications)
)
