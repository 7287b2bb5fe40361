// Package service 各领域服务处理器共享的依赖与存储约定
package service

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/MathisDulieu/Booking-sub000/codegen/snowflake"
	"github.com/MathisDulieu/Booking-sub000/contract"
	"github.com/MathisDulieu/Booking-sub000/errors"
	"github.com/MathisDulieu/Booking-sub000/logging"
	"github.com/MathisDulieu/Booking-sub000/mail"
	"github.com/MathisDulieu/Booking-sub000/rpc"
	"github.com/MathisDulieu/Booking-sub000/storage/document"
	"github.com/MathisDulieu/Booking-sub000/validation"
)

// 共享集合
const (
	CollectionUsers         = "users"
	CollectionSessions      = "sessions"
	CollectionEvents        = "events"
	CollectionTickets       = "tickets"
	CollectionPayments      = "payments"
	CollectionNotifications = "notifications"
)

// DefaultPageSize 未指定分页大小时使用
const DefaultPageSize = 20

// DefaultSessionTTL 会话有效期
const DefaultSessionTTL = 24 * time.Hour

// Notifier 发送无需回复的消息，*rpc.Client 实现该接口
type Notifier interface {
	Notify(ctx context.Context, exchange, routingKey string, request any) error
}

// Deps 处理器依赖
type Deps struct {
	Store      document.Store
	IDs        *snowflake.Generator
	Mailer     mail.Mailer
	Notifier   Notifier
	Logger     logging.Logger
	Now        func() time.Time
	SessionTTL time.Duration
}

// WithDefaults 填充未设置的可选依赖
func (d Deps) WithDefaults(component string) (Deps, error) {
	if d.Store == nil {
		return d, stdErrors.New("service: store is required")
	}
	if d.IDs == nil {
		ids, err := snowflake.NewGenerator(0, 0)
		if err != nil {
			return d, err
		}
		d.IDs = ids
	}
	if d.Logger == nil {
		d.Logger = logging.ComponentLogger(component)
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.SessionTTL <= 0 {
		d.SessionTTL = DefaultSessionTTL
	}
	return d, nil
}

// UserRecord 存储中的用户文档
type UserRecord struct {
	contract.User
	PasswordHash string `json:"passwordHash"`
}

// Users 用户集合
func Users(store document.Store) *document.Collection[UserRecord] {
	return document.NewCollection[UserRecord](store, CollectionUsers)
}

// Sessions 会话集合，以令牌为键
func Sessions(store document.Store) *document.Collection[contract.Session] {
	return document.NewCollection[contract.Session](store, CollectionSessions)
}

func Events(store document.Store) *document.Collection[contract.Event] {
	return document.NewCollection[contract.Event](store, CollectionEvents)
}

func Tickets(store document.Store) *document.Collection[contract.Ticket] {
	return document.NewCollection[contract.Ticket](store, CollectionTickets)
}

func Payments(store document.Store) *document.Collection[contract.Payment] {
	return document.NewCollection[contract.Payment](store, CollectionPayments)
}

func Notifications(store document.Store) *document.Collection[contract.Notification] {
	return document.NewCollection[contract.Notification](store, CollectionNotifications)
}

// PageQuery 校验分页参数并生成查询，Size 为 0 时取默认值
func PageQuery(p contract.PageRequest) (document.Query, error) {
	if p.Size == 0 {
		p.Size = DefaultPageSize
	}
	if err := validation.PageParams(p.Page, p.Size); err != nil {
		return document.Query{}, err
	}
	return document.Query{Page: p.Page, Size: p.Size}, nil
}

// PageInfo 查询对应的分页元数据
func PageInfo(q document.Query, total int) contract.PageInfo {
	return contract.PageInfo{Page: q.Page, Size: q.Size, Total: total}
}

// Lookup 按 id 读取文档；不存在时返回 NOT_FOUND 结果，其余存储错误作为处理器错误返回
func Lookup[T any](ctx context.Context, c *document.Collection[T], id, what string) (T, *rpc.Result, error) {
	doc, err := c.Get(ctx, id)
	if err == nil {
		return doc, nil, nil
	}
	if stdErrors.Is(err, document.ErrNotFound) || stdErrors.Is(err, document.ErrInvalidID) {
		res := rpc.NotFound(what + " not found")
		return doc, &res, nil
	}
	return doc, nil, errors.WrapStoreError(ctx, err, "get "+c.Name())
}

// Require 返回必需的 Actor 校验结果，未认证时为 UNAUTHORIZED
func Require(actor contract.Actor) *rpc.Result {
	if actor.UserID == "" {
		res := rpc.Unauthorized("authentication required")
		return &res
	}
	return nil
}

// QueueName 领域服务的持久队列名
func QueueName(domain string) string {
	return domain + "-service"
}

// Outcome 中止 Update 变更函数时携带的处理器结果
type Outcome struct {
	Result rpc.Result
}

func (o *Outcome) Error() string {
	return fmt.Sprintf("%s: %v", o.Result.Tag, o.Result.Value)
}

// Halt 在变更函数中返回，使 Update 不保存并以 res 作答
func Halt(res rpc.Result) error {
	return &Outcome{Result: res}
}

// Settle 将 Update 的错误转为处理器返回值：Outcome 取其结果，文档不存在为 NOT_FOUND，其余为存储错误
func Settle(ctx context.Context, err error, what, operation string) (rpc.Result, error) {
	var outcome *Outcome
	switch {
	case stdErrors.As(err, &outcome):
		return outcome.Result, nil
	case stdErrors.Is(err, document.ErrNotFound), stdErrors.Is(err, document.ErrInvalidID):
		return rpc.NotFound(what + " not found"), nil
	}
	return rpc.Result{}, errors.WrapStoreError(ctx, err, operation)
}

// ReleaseSeats 归还活动座位；活动已删除时忽略
func ReleaseSeats(ctx context.Context, events *document.Collection[contract.Event], eventID string, quantity int) error {
	_, err := events.Update(ctx, eventID, func(ev *contract.Event) error {
		ev.Booked -= quantity
		if ev.Booked < 0 {
			ev.Booked = 0
		}
		return nil
	})
	if stdErrors.Is(err, document.ErrNotFound) {
		return nil
	}
	return errors.WrapStoreError(ctx, err, "release seats")
}
