package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MathisDulieu/Booking-sub000/contract"
	httpx "github.com/MathisDulieu/Booking-sub000/http"
	"github.com/MathisDulieu/Booking-sub000/http/basic"
	"github.com/MathisDulieu/Booking-sub000/logging"
	msgmw "github.com/MathisDulieu/Booking-sub000/messaging/middleware"
	"github.com/MathisDulieu/Booking-sub000/rpc"
)

// HeaderResultTag 响应头：回复的结果标签
const HeaderResultTag = "X-Result-Tag"

// HeaderRequestID 请求头/响应头：链路 ID
const HeaderRequestID = "X-Request-ID"

// maxBodyBytes 默认请求体上限
const maxBodyBytes = 1 << 20

// 请求内存储键
const (
	keyActor     = "gateway.actor"
	keyResultTag = "gateway.result_tag"
)

type handlerFunc func(g *Gateway, c httpx.IHttpContext, actor contract.Actor) rpc.Outcome

// Endpoint 一个 HTTP 端点，与一个路由键一一对应
type Endpoint struct {
	Method string
	Path   string
	Key    string

	// Auth 需要 Bearer 令牌
	Auth bool

	// Admin 仅管理员可调用
	Admin bool

	handle handlerFunc
}

// Endpoints 端点表
func Endpoints() []Endpoint {
	return []Endpoint{
		{Method: http.MethodPost, Path: "/api/auth/register", Key: contract.AuthRegister.Key().String(), handle: register},
		{Method: http.MethodPost, Path: "/api/auth/login", Key: contract.AuthLogin.Key().String(), handle: login},
		{Method: http.MethodGet, Path: "/api/auth/session", Key: contract.AuthValidateToken.Key().String(), handle: session},
		{Method: http.MethodPost, Path: "/api/auth/logout", Key: contract.AuthLogout.Key().String(), handle: logout},

		{Method: http.MethodGet, Path: "/api/users/:id", Key: contract.UserGet.Key().String(), Auth: true, handle: getUser},
		{Method: http.MethodPatch, Path: "/api/users/:id", Key: contract.UserUpdate.Key().String(), Auth: true, handle: updateUser},
		{Method: http.MethodDelete, Path: "/api/users/:id", Key: contract.UserDelete.Key().String(), Auth: true, handle: deleteUser},
		{Method: http.MethodGet, Path: "/api/users", Key: contract.UserList.Key().String(), Auth: true, handle: listUsers},

		{Method: http.MethodPost, Path: "/api/events", Key: contract.EventCreate.Key().String(), Auth: true, handle: createEvent},
		{Method: http.MethodGet, Path: "/api/events/:id", Key: contract.EventGet.Key().String(), handle: getEvent},
		{Method: http.MethodGet, Path: "/api/events", Key: contract.EventSearch.Key().String(), handle: searchEvents},
		{Method: http.MethodDelete, Path: "/api/events/:id", Key: contract.EventDelete.Key().String(), Auth: true, handle: deleteEvent},

		{Method: http.MethodPost, Path: "/api/tickets", Key: contract.TicketBook.Key().String(), Auth: true, handle: bookTicket},
		{Method: http.MethodPost, Path: "/api/tickets/:id/cancel", Key: contract.TicketCancel.Key().String(), Auth: true, handle: cancelTicket},
		{Method: http.MethodGet, Path: "/api/tickets/:id", Key: contract.TicketGet.Key().String(), Auth: true, handle: getTicket},
		{Method: http.MethodGet, Path: "/api/users/:id/tickets", Key: contract.TicketListOwned.Key().String(), Auth: true, handle: listUserTickets},

		{Method: http.MethodPost, Path: "/api/payments", Key: contract.PaymentProcess.Key().String(), Auth: true, handle: processPayment},
		{Method: http.MethodGet, Path: "/api/payments/:id", Key: contract.PaymentGet.Key().String(), Auth: true, handle: getPayment},
		{Method: http.MethodPost, Path: "/api/payments/:id/refund", Key: contract.PaymentRefund.Key().String(), Auth: true, handle: refundPayment},

		{Method: http.MethodPost, Path: "/api/notifications/email", Key: contract.NotificationSend.Key().String(), Auth: true, Admin: true, handle: sendEmail},
		{Method: http.MethodGet, Path: "/api/users/:id/notifications", Key: contract.NotificationList.Key().String(), Auth: true, handle: listNotifications},
	}
}

// NewServer 创建网关 HTTP 服务器并挂载全部端点
func NewServer(config httpx.WebConfig, g *Gateway) *basic.HttpServer {
	if config.MaxBodyBytes == 0 {
		config.MaxBodyBytes = maxBodyBytes
	}
	srv := basic.NewHTTPServer(config)
	g.Mount(srv)
	return srv
}

// Mount 注册全局中间件（恢复、链路、访问日志）、健康检查与端点表
//
// 需要令牌的端点挂在会话分组下，管理员端点再叠加角色检查。
func (g *Gateway) Mount(srv httpx.IHttpServer) {
	srv.Use(g.recoverer, g.tracing, g.accessLog)
	srv.GET("/healthz", func(c httpx.IHttpContext) error {
		return sendOutcome(c, rpc.Outcome{Status: http.StatusOK, Tag: rpc.TagMessage, Body: "ok"})
	})

	secured := srv.Group("").Use(g.requireSession)
	admin := secured.Group("").Use(g.requireAdmin)
	for _, ep := range Endpoints() {
		h := g.endpointHandler(ep)
		switch {
		case ep.Admin:
			admin.Handle(ep.Method, ep.Path, h)
		case ep.Auth:
			secured.Handle(ep.Method, ep.Path, h)
		default:
			srv.Handle(ep.Method, ep.Path, h)
		}
	}
}

func (g *Gateway) endpointHandler(ep Endpoint) httpx.HttpHandler {
	return func(c httpx.IHttpContext) error {
		return sendOutcome(c, ep.handle(g, c, actorOf(c)))
	}
}

// requireSession 校验 Bearer 令牌并把调用者放入请求存储
func (g *Gateway) requireSession(c httpx.IHttpContext, next func() error) error {
	s, out, ok := g.Authenticate(c.Context(), bearerToken(c.GetHeader("Authorization")))
	if !ok {
		return sendOutcome(c, out)
	}
	c.Set(keyActor, s.Actor())
	return next()
}

func (g *Gateway) requireAdmin(c httpx.IHttpContext, next func() error) error {
	if !actorOf(c).IsAdmin() {
		return sendOutcome(c, rpc.Outcome{Status: http.StatusForbidden, Tag: rpc.TagForbidden, Body: "administrator role required"})
	}
	return next()
}

// actorOf 公开端点没有调用者，返回零值
func actorOf(c httpx.IHttpContext) contract.Actor {
	v, _ := c.Get(keyActor)
	actor, _ := v.(contract.Actor)
	return actor
}

func sendOutcome(c httpx.IHttpContext, out rpc.Outcome) error {
	c.Set(keyResultTag, out.Tag)
	return basic.NewJSONResponse(out.Status, out.Body).WithHeader(HeaderResultTag, out.Tag).Send(c)
}

func badRequest(msg string) rpc.Outcome {
	return rpc.Translate(rpc.BadRequest(msg))
}

// rejected 请求体解码失败等本地错误
func rejected(err error) rpc.Outcome {
	return rpc.Translate(rpc.FromError(err))
}

// succeeded 2xx 结果
func succeeded(out rpc.Outcome) bool {
	return out.Status >= 200 && out.Status < 300
}

func bearerToken(authorization string) string {
	if len(authorization) > 7 && strings.EqualFold(authorization[:7], "bearer ") {
		return strings.TrimSpace(authorization[7:])
	}
	return ""
}

func pageParams(c httpx.IHttpContext) (contract.PageRequest, error) {
	var p contract.PageRequest
	for name, dst := range map[string]*int{"page": &p.Page, "size": &p.Size} {
		raw := c.GetQuery(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return p, fmt.Errorf("%s must be an integer", name)
		}
		*dst = n
	}
	return p, nil
}

func register(g *Gateway, c httpx.IHttpContext, _ contract.Actor) rpc.Outcome {
	var req contract.RegisterRequest
	if err := c.BindJSON(&req); err != nil {
		return rejected(err)
	}
	return g.Auth.Register(c.Context(), req)
}

func login(g *Gateway, c httpx.IHttpContext, _ contract.Actor) rpc.Outcome {
	var req contract.LoginRequest
	if err := c.BindJSON(&req); err != nil {
		return rejected(err)
	}
	return g.Auth.Login(c.Context(), req)
}

func session(g *Gateway, c httpx.IHttpContext, _ contract.Actor) rpc.Outcome {
	_, out, _ := g.Auth.ValidateToken(c.Context(), bearerToken(c.GetHeader("Authorization")))
	return out
}

func logout(g *Gateway, c httpx.IHttpContext, _ contract.Actor) rpc.Outcome {
	token := bearerToken(c.GetHeader("Authorization"))
	g.Forget(token)
	return g.Auth.Logout(c.Context(), token)
}

func getUser(g *Gateway, c httpx.IHttpContext, actor contract.Actor) rpc.Outcome {
	return g.Users.GetUser(c.Context(), actor, c.GetParam("id"))
}

func updateUser(g *Gateway, c httpx.IHttpContext, actor contract.Actor) rpc.Outcome {
	var req contract.UpdateUserRequest
	if err := c.BindJSON(&req); err != nil {
		return rejected(err)
	}
	req.Actor, req.UserID = actor, c.GetParam("id")
	out := g.Users.UpdateUser(c.Context(), req)
	if succeeded(out) {
		g.ForgetUser(req.UserID)
	}
	return out
}

func deleteUser(g *Gateway, c httpx.IHttpContext, actor contract.Actor) rpc.Outcome {
	id := c.GetParam("id")
	out := g.Users.DeleteUser(c.Context(), actor, id)
	if succeeded(out) {
		g.ForgetUser(id)
	}
	return out
}

func listUsers(g *Gateway, c httpx.IHttpContext, actor contract.Actor) rpc.Outcome {
	page, err := pageParams(c)
	if err != nil {
		return badRequest(err.Error())
	}
	return g.Users.ListUsers(c.Context(), actor, page)
}

func createEvent(g *Gateway, c httpx.IHttpContext, actor contract.Actor) rpc.Outcome {
	var req contract.CreateEventRequest
	if err := c.BindJSON(&req); err != nil {
		return rejected(err)
	}
	req.Actor = actor
	return g.Events.CreateEvent(c.Context(), req)
}

func getEvent(g *Gateway, c httpx.IHttpContext, _ contract.Actor) rpc.Outcome {
	return g.Events.GetEvent(c.Context(), c.GetParam("id"))
}

func searchEvents(g *Gateway, c httpx.IHttpContext, _ contract.Actor) rpc.Outcome {
	page, err := pageParams(c)
	if err != nil {
		return badRequest(err.Error())
	}
		return g.Events.SearchEvents(c.Context(), contract.SearchEventsRequest{
		Name: c.GetQuery("name"), City: c.GetQuery("city"), PageRequest: page,
	})
}

func deleteEvent(g *Gateway, c httpx.IHttpContext, actor contract.Actor) rpc.Outcome {
	return g.Events.DeleteEvent(c.Context(), actor, c.GetParam("id"))
}

func bookTicket(g *Gateway, c httpx.IHttpContext, actor contract.Actor) rpc.Outcome {
	var req contract.BookTicketRequest
	if err := c.BindJSON(&req); err != nil {
		return rejected(err)
	}
	req.Actor = actor
	return g.Tickets.BookTicket(c.Context(), req)
}

func cancelTicket(g *Gateway, c httpx.IHttpContext, actor contract.Actor) rpc.Outcome {
	return g.Tickets.CancelTicket(c.Context(), actor, c.GetParam("id"))
}

func getTicket(g *Gateway, c httpx.IHttpContext, actor contract.Actor) rpc.Outcome {
	return g.Tickets.GetTicket(c.Context(), actor, c.GetParam("id"))
}

func listUserTickets(g *Gateway, c httpx.IHttpContext, actor contract.Actor) rpc.Outcome {
	page, err := pageParams(c)
	if err != nil {
		return badRequest(err.Error())
	}
	return g.Tickets.ListUserTickets(c.Context(), actor, c.GetParam("id"), page)
}

func processPayment(g *Gateway, c httpx.IHttpContext, actor contract.Actor) rpc.Outcome {
	var req contract.ProcessPaymentRequest
	if err := c.BindJSON(&req); err != nil {
		return rejected(err)
	}
	req.Actor = actor
	return g.Payments.ProcessPayment(c.Context(), req)
}

func getPayment(g *Gateway, c httpx.IHttpContext, actor contract.Actor) rpc.Outcome {
	return g.Payments.GetPayment(c.Context(), actor, c.GetParam("id"))
}

func refundPayment(g *Gateway, c httpx.IHttpContext, actor contract.Actor) rpc.Outcome {
	return g.Payments.RefundPayment(c.Context(), actor, c.GetParam("id"))
}

func sendEmail(g *Gateway, c httpx.IHttpContext, _ contract.Actor) rpc.Outcome {
	var req contract.SendEmailRequest
	if err := c.BindJSON(&req); err != nil {
		return rejected(err)
	}
	return g.Notification.SendEmail(c.Context(), req)
}

func listNotifications(g *Gateway, c httpx.IHttpContext, actor contract.Actor) rpc.Outcome {
	page, err := pageParams(c)
	if err != nil {
		return badRequest(err.Error())
	}
	return g.Notification.ListNotifications(c.Context(), actor, c.GetParam("id"), page)
}

// tracing 为每个请求建立 correlation/causation ID，经 RPC 消息头传递到服务端
//
// 请求头带有 X-Request-ID 时沿用为 correlation ID；causation ID 标识本次 HTTP 请求。
func (g *Gateway) tracing(c httpx.IHttpContext, next func() error) error {
	correlation := c.GetHeader(HeaderRequestID)
	if correlation == "" {
		correlation = httpx.GenerateCorrelationID()
	}
	c.SetHeader(HeaderRequestID, correlation)

	ctx := httpx.WithCorrelationID(c.Context(), correlation)
	ctx = httpx.WithCausationID(ctx, httpx.GenerateCausationID())
	c.SetContext(msgmw.WithTrace(ctx, msgmw.Trace{
		TraceID:     httpx.GetCorrelationID(ctx),
		CausationID: httpx.GetCausationID(ctx),
	}))
	return next()
}

func (g *Gateway) accessLog(c httpx.IHttpContext, next func() error) error {
	start := time.Now()
	err := next()
	tag, _ := c.Get(keyResultTag)
	fields := []logging.Field{
		logging.String("method", c.GetMethod()),
		logging.String("path", c.GetPath()),
		logging.Int("status", c.Status()),
		logging.Any("result_tag", tag),
		logging.String("correlation_id", httpx.GetCorrelationID(c.Context())),
		logging.String("causation_id", httpx.GetCausationID(c.Context())),
		logging.Duration("duration", time.Since(start)),
	}
	if err != nil {
		fields = append(fields, logging.Error(err))
	}
	g.logger.Info(c.Context(), "http request", fields...)
	return err
}

func (g *Gateway) recoverer(c httpx.IHttpContext, next func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			g.logger.Error(context.WithoutCancel(c.Context()), "http handler panic",
				logging.String("path", c.GetPath()), logging.Any("panic", rec))
			if !c.Written() {
				err = sendOutcome(c, rpc.Outcome{Status: http.StatusInternalServerError, Tag: rpc.TagInternalServerError, Body: "internal error"})
			}
		}
	}()
	return next()
}
