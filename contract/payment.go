package contract

import (
	"time"

	"github.com/MathisDulieu/Booking-sub000/rpc"
)

// 支付状态
const (
	PaymentCompleted = "completed"
	PaymentRefunded  = "refunded"
)

// 支付方式
const (
	MethodCard   = "card"
	MethodPaypal = "paypal"
)

type Payment struct {
	ID          string     `json:"id"`
	TicketID    string     `json:"ticketId"`
	UserID      string     `json:"userId"`
	AmountCents int64      `json:"amountCents"`
	Method      string     `json:"method"`
	Status      string     `json:"status"`
	PaidAt      time.Time  `json:"paidAt"`
	RefundedAt  *time.Time `json:"refundedAt,omitempty"`
}

type ProcessPaymentRequest struct {
	Actor       Actor  `json:"actor"`
	TicketID    string `json:"ticketId"`
	AmountCents int64  `json:"amountCents"`
	Method      string `json:"method"`
}

type GetPaymentRequest struct {
	Actor     Actor  `json:"actor"`
	PaymentID string `json:"paymentId"`
}

type RefundPaymentRequest struct {
	Actor     Actor  `json:"actor"`
	PaymentID string `json:"paymentId"`
}

const TagPayment = "payment"

var (
	PaymentProcess = rpc.Nested[ProcessPaymentRequest, Payment]("payment.processPayment", rpc.TagInformations)
	PaymentGet     = rpc.Nested[GetPaymentRequest, Payment]("payment.getPayment", TagPayment)
	PaymentRefund  = rpc.Flat[RefundPaymentRequest]("payment.refundPayment")
)
