package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/MathisDulieu/Booking-sub000/cache"
	"github.com/MathisDulieu/Booking-sub000/contract"
	"github.com/MathisDulieu/Booking-sub000/logging"
	"github.com/MathisDulieu/Booking-sub000/rpc"
)

// DefaultSessionCacheTTL 已校验会话的本地缓存时长
const DefaultSessionCacheTTL = 30 * time.Second

// Gateway 聚合各领域门面与会话缓存
type Gateway struct {
	Auth         *AuthFacade
	Users        *UserFacade
	Events       *EventFacade
	Tickets      *TicketFacade
	Payments     *PaymentFacade
	Notification *NotificationFacade

	sessions *cache.Cache[string, contract.Session]
	logger   logging.Logger
	now      func() time.Time
}

// Option 网关选项
type Option func(*options)

type options struct {
	timeout    time.Duration
	sessionTTL time.Duration
	logger     logging.Logger
}

// WithCallTimeout 单次 RPC 超时，0 使用客户端默认值
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithSessionCacheTTL 会话缓存时长，0 关闭缓存
func WithSessionCacheTTL(d time.Duration) Option {
	return func(o *options) { o.sessionTTL = d }
}

func WithLogger(logger logging.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New 基于 RPC 客户端创建网关
func New(client *rpc.Client, opts ...Option) *Gateway {
	o := options{sessionTTL: DefaultSessionCacheTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.ComponentLogger("gateway")
	}

	f := facade{client: client, timeout: o.timeout}
	g := &Gateway{
		Auth:         &AuthFacade{f},
		Users:        &UserFacade{f},
		Events:       &EventFacade{f},
		Tickets:      &TicketFacade{f},
		Payments:     &PaymentFacade{f},
		Notification: &NotificationFacade{f},
		logger:       o.logger,
		now:          time.Now,
	}
	if o.sessionTTL > 0 {
		g.sessions = cache.New[string, contract.Session](cache.Config{
			Name:    "gateway.sessions",
			MaxSize: 10000,
			TTL:     o.sessionTTL,
			Mode:    cache.ExpireAfterWrite,
		})
	}
	return g
}

// RunSessionJanitor 定期清理过期会话缓存，ctx 取消时返回
func (g *Gateway) RunSessionJanitor(ctx context.Context) {
	if g.sessions == nil {
		<-ctx.Done()
		return
	}
	g.sessions.RunJanitor(ctx, DefaultSessionCacheTTL)
}

// Authenticate 解析令牌对应的会话，优先使用本地缓存
func (g *Gateway) Authenticate(ctx context.Context, token string) (contract.Session, rpc.Outcome, bool) {
	if token == "" {
		return contract.Session{}, rpc.Outcome{
			Status: http.StatusUnauthorized, Tag: rpc.TagUnauthorized, Body: "missing bearer token",
		}, false
	}
	if g.sessions != nil {
		if s, ok := g.sessions.Get(token); ok && g.now().Before(s.ExpiresAt) {
			return s, rpc.Outcome{}, true
		}
	}
	session, out, ok := g.Auth.ValidateToken(ctx, token)
	if ok && g.sessions != nil {
		g.sessions.Set(token, session)
	}
	return session, out, ok
}

// Forget 注销时移除缓存的会话
func (g *Gateway) Forget(token string) {
	if g.sessions != nil {
		g.sessions.Delete(token)
	}
}

// ForgetUser 移除某用户的全部缓存会话，用户被删除或资料变更后调用，下一次请求重新校验令牌
func (g *Gateway) ForgetUser(userID string) int {
	if g.sessions == nil {
		return 0
	}
	return g.sessions.DeleteFunc(func(_ string, s contract.Session) bool {
		return s.UserID == userID
	})
}
