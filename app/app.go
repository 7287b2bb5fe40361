// Package app 按配置装配服务进程：代理、存储、领域监听器与网关
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MathisDulieu/Booking-sub000/codec"
	"github.com/MathisDulieu/Booking-sub000/codegen/snowflake"
	"github.com/MathisDulieu/Booking-sub000/config"
	"github.com/MathisDulieu/Booking-sub000/gateway"
	httpx "github.com/MathisDulieu/Booking-sub000/http"
	"github.com/MathisDulieu/Booking-sub000/http/basic"
	"github.com/MathisDulieu/Booking-sub000/logging"
	"github.com/MathisDulieu/Booking-sub000/mail"
	"github.com/MathisDulieu/Booking-sub000/messaging"
	"github.com/MathisDulieu/Booking-sub000/rpc"
	rpcmw "github.com/MathisDulieu/Booking-sub000/rpc/middleware"
	"github.com/MathisDulieu/Booking-sub000/service"
	"github.com/MathisDulieu/Booking-sub000/service/auth"
	"github.com/MathisDulieu/Booking-sub000/service/event"
	"github.com/MathisDulieu/Booking-sub000/service/notification"
	"github.com/MathisDulieu/Booking-sub000/service/payment"
	"github.com/MathisDulieu/Booking-sub000/service/ticket"
	"github.com/MathisDulieu/Booking-sub000/service/user"
	"github.com/MathisDulieu/Booking-sub000/storage/document"
)

// 进程角色：领域名、网关或单进程全部
const (
	RoleGateway = "gateway"
	RoleAll     = "all"
)

// Registrar 将领域处理器注册到注册表
type Registrar func(reg *rpc.Registry, deps service.Deps) error

var registrars = map[string]Registrar{
	auth.Domain: func(reg *rpc.Registry, deps service.Deps) error {
		return auth.Register(reg, deps)
	},
	user.Domain:         user.Register,
	event.Domain:        event.Register,
	ticket.Domain:       ticket.Register,
	payment.Domain:      payment.Register,
	notification.Domain: notification.Register,
}

// Domains 所有领域名，按字母序
func Domains() []string {
	out := make([]string, 0, len(registrars))
	for d := range registrars {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// App server.IServer 的实现，一个进程承载一个角色
type App struct {
	role string
	args []string

	cfg    *config.Config
	logger logging.Logger
	zap    *logging.ZapLogger

	broker      messaging.Broker
	ownsBroker  bool
	store       document.Store
	ownsStore   bool
	mailer      mail.Mailer
	client      *rpc.Client
	listeners   []*rpc.Listener
	gateway     *gateway.Gateway
	http        *basic.HttpServer
	statsPeriod time.Duration
}

// Option 装配选项，主要用于测试注入
type Option func(*App)

// WithConfig 使用给定配置，跳过命令行与文件解析
func WithConfig(cfg *config.Config) Option {
	return func(a *App) { a.cfg = cfg }
}

// WithBroker 使用外部代理，Shutdown 不关闭它
func WithBroker(b messaging.Broker) Option {
	return func(a *App) { a.broker = b }
}

// WithStore 使用外部存储，Shutdown 不关闭它
func WithStore(s document.Store) Option {
	return func(a *App) { a.store = s }
}

func WithMailer(m mail.Mailer) Option {
	return func(a *App) { a.mailer = m }
}

func WithLogger(logger logging.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithStatsPeriod 周期性输出代理与客户端统计，0 关闭
func WithStatsPeriod(d time.Duration) Option {
	return func(a *App) { a.statsPeriod = d }
}

// New 创建进程，args 为命令行参数（不含程序名）
func New(role string, args []string, opts ...Option) *App {
	a := &App{role: role, args: args, statsPeriod: time.Minute}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *App) Name() string {
	return "booking-" + a.role
}

// Config 已加载的配置
func (a *App) Config() *config.Config {
	return a.cfg
}

// HTTPAddr 网关实际监听地址，未监听时为 nil
func (a *App) HTTPAddr() net.Addr {
	if a.http == nil {
		return nil
	}
	return a.http.Addr()
}

// domains 本进程承载的领域
func (a *App) domains() []string {
	switch a.cfg.Service {
	case RoleAll:
		return Domains()
	case RoleGateway:
		return nil
	default:
		return []string{a.cfg.Service}
	}
}

func (a *App) servesGateway() bool {
	return a.cfg.Service == RoleGateway || a.cfg.Service == RoleAll
}

// LoadConfig 解析配置并初始化全局日志器
func (a *App) LoadConfig() error {
	if a.cfg == nil {
		cfg, err := config.Load(a.role, a.args)
		if err != nil {
			return err
		}
		a.cfg = cfg
	} else if err := a.cfg.Validate(); err != nil {
		return err
	}
	if a.cfg.Service == "" {
		a.cfg.Service = a.role
	}
	if _, ok := registrars[a.cfg.Service]; !ok && !a.servesGateway() {
		return fmt.Errorf("unknown service %q", a.cfg.Service)
	}

	if a.logger == nil {
		z, err := NewLogger(a.cfg.Log)
		if err != nil {
			return err
		}
		a.zap = z
		a.logger = z.WithFields(logging.String("service", a.cfg.Service))
		logging.SetLogger(a.logger)
	}
	return nil
}

// SetupDependencies 连接代理、打开存储、声明拓扑并组装监听器与网关
func (a *App) SetupDependencies(ctx context.Context) error {
	cfg := a.cfg
	if cfg.Broker.Kind == config.BrokerMemory && cfg.Service != RoleAll {
		a.logger.Warn(ctx, "memory broker only reaches handlers in this process")
	}

	if a.broker == nil {
		b, err := NewBroker(ctx, cfg, a.logger)
		if err != nil {
			return err
		}
		a.broker, a.ownsBroker = b, true
	}

	cd, err := codec.ByName(cfg.RPC.Codec)
	if err != nil {
		return err
	}
	client, err := rpc.NewClient(ctx, a.broker,
		rpc.WithDefaultTimeout(cfg.RPC.Timeout),
		rpc.WithResolvedTTL(cfg.RPC.ResolvedTTL),
		rpc.WithCodec(cd),
		rpc.WithClientLogger(a.logger.WithFields(logging.String("component", "rpc.client"))))
	if err != nil {
		return fmt.Errorf("rpc client: %w", err)
	}
	a.client = client

	if domains := a.domains(); len(domains) > 0 {
		if err := a.setupListeners(ctx, domains); err != nil {
			return err
		}
	}

	if a.servesGateway() {
		a.gateway = gateway.New(client,
			gateway.WithCallTimeout(cfg.RPC.Timeout),
			gateway.WithSessionCacheTTL(cfg.HTTP.SessionCacheTTL),
			gateway.WithLogger(a.logger.WithFields(logging.String("component", "gateway"))))
		a.http = gateway.NewServer(httpx.WebConfig{
			Addr:         cfg.HTTP.Addr,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
			IdleTimeout:  2 * cfg.HTTP.ReadTimeout,
		}, a.gateway)
	}
	return nil
}

func (a *App) setupListeners(ctx context.Context, domains []string) error {
	cfg := a.cfg
	if a.store == nil {
		store, err := OpenStore(ctx, cfg.Store)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		a.store, a.ownsStore = store, true
	}
	if a.mailer == nil {
		m, err := NewMailer(cfg.Mail, a.logger.WithFields(logging.String("component", "mail")))
		if err != nil {
			return err
		}
		a.mailer = m
	}
	ids, err := snowflake.NewGenerator(cfg.IDs.Datacenter, cfg.IDs.Worker)
	if err != nil {
		return err
	}

	middlewares := []rpc.Middleware{rpcmw.Tracing(), rpcmw.Logging(a.logger.WithFields(logging.String("component", "rpc.handler")))}
	if cfg.RPC.RateLimit > 0 {
		middlewares = append(middlewares, rpcmw.RateLimit(rpcmw.NewLimiter(cfg.RPC.RateLimit, cfg.RPC.RateBurst)))
	}

	for _, domain := range domains {
		queue := service.QueueName(domain)
		if err := a.broker.Declare(ctx, messaging.DomainTopology(domain, queue)); err != nil {
			return fmt.Errorf("declare %s topology: %w", domain, err)
		}

		logger := a.logger.WithFields(logging.String("domain", domain))
		deps := service.Deps{
			Store:    a.store,
			IDs:      ids,
			Mailer:   a.mailer,
			Notifier: a.client,
			Logger:   logger,
		}
		reg := rpc.NewRegistry(domain)
		if err := registrars[domain](reg, deps); err != nil {
			return fmt.Errorf("register %s handlers: %w", domain, err)
		}
		a.listeners = append(a.listeners, rpc.NewListener(a.broker, queue, reg,
			rpc.WithWorkers(cfg.RPC.Workers),
			rpc.WithHandlerTimeout(cfg.RPC.HandlerTimeout),
			rpc.WithMiddleware(middlewares...),
			rpc.WithListenerLogger(logger.WithFields(logging.String("component", "rpc.listener")))))
	}
	return nil
}

// StartBackgroundTasks 启动全部监听器
func (a *App) StartBackgroundTasks(ctx context.Context) error {
	for _, l := range a.listeners {
		if err := l.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Run 运行网关 HTTP 服务与周期任务，阻塞到 ctx 取消或任一任务失败
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.http != nil {
		g.Go(func() error {
			a.logger.Info(gctx, "gateway listening", logging.String("addr", a.cfg.HTTP.Addr))
			return a.http.Serve(gctx)
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.WriteTimeout)
			defer cancel()
			return a.http.Stop(shutdownCtx)
		})
		g.Go(func() error {
			a.gateway.RunSessionJanitor(gctx)
			return nil
		})
	}
	if a.statsPeriod > 0 {
		g.Go(func() error {
			a.reportStats(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	return g.Wait()
}

func (a *App) reportStats(ctx context.Context) {
	ticker := time.NewTicker(a.statsPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			bs := a.broker.Stats()
			cs := a.client.Stats()
			a.logger.Debug(ctx, "runtime stats",
				logging.Int64("published", bs.Published),
				logging.Int64("delivered", bs.Delivered),
				logging.Int("consumers", bs.Consumers),
				logging.Int("pending_calls", cs.Pending),
				logging.Int64("timeouts", cs.Timeouts),
				logging.Int64("late_replies", cs.Late))
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown 逆序释放资源；初始化中途失败时只释放已创建的部分
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(a.listeners) - 1; i >= 0; i-- {
		if err := a.listeners[i].Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.http != nil {
		if err := a.http.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("rpc client: %w", err))
		}
	}
	if a.broker != nil && a.ownsBroker {
		if err := a.broker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("broker: %w", err))
		}
	}
	if a.store != nil && a.ownsStore {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if a.zap != nil {
		// stdout/stderr 不支持 fsync，忽略其错误
		_ = a.zap.Sync()
	}
	return errors.Join(errs...)
}
