// Package servicetest 领域处理器的端到端测试夹具：内存代理、监听器与客户端
package servicetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MathisDulieu/Booking-sub000/codegen/snowflake"
	"github.com/MathisDulieu/Booking-sub000/logging"
	"github.com/MathisDulieu/Booking-sub000/mail"
	"github.com/MathisDulieu/Booking-sub000/messaging"
	"github.com/MathisDulieu/Booking-sub000/messaging/transport/memory"
	"github.com/MathisDulieu/Booking-sub000/rpc"
	"github.com/MathisDulieu/Booking-sub000/service"
	"github.com/MathisDulieu/Booking-sub000/storage/document"
)

// Harness 单个领域服务的运行环境
type Harness struct {
	Broker *memory.Broker
	Client *rpc.Client
	Store  *document.MemoryStore
	Mailer *mail.MemoryMailer
	Deps   service.Deps

	// Clock 可调的测试时钟
	Clock *Clock
}

// Clock 测试时钟
type Clock struct {
	now time.Time
}

func (c *Clock) Now() time.Time          { return c.now }
func (c *Clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// New 启动 domain 服务，register 在冻结前注册处理器
func New(t *testing.T, domain string, register func(reg *rpc.Registry, deps service.Deps) error) *Harness {
	t.Helper()
	ctx := context.Background()

	ids, err := snowflake.NewGenerator(1, 1)
	require.NoError(t, err)

	h := &Harness{
		Broker: memory.NewBroker(256),
		Store:  document.NewMemoryStore(),
		Mailer: mail.NewMemoryMailer(),
		Clock:  &Clock{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)},
	}
	h.Deps = service.Deps{
		Store:  h.Store,
		IDs:    ids,
		Mailer: h.Mailer,
		Logger: logging.NewNoopLogger(),
		Now:    h.Clock.Now,
	}

	h.Client, err = rpc.NewClient(ctx, h.Broker,
		rpc.WithDefaultTimeout(2*time.Second), rpc.WithClientLogger(logging.NewNoopLogger()))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = h.Client.Close()
		_ = h.Broker.Close()
	})

	h.Serve(t, domain, register)
	return h
}

// Serve 在同一代理与存储上再启动一个领域服务
func (h *Harness) Serve(t *testing.T, domain string, register func(reg *rpc.Registry, deps service.Deps) error) {
	t.Helper()
	ctx := context.Background()

	queue := service.QueueName(domain)
	require.NoError(t, h.Broker.Declare(ctx, messaging.DomainTopology(domain, queue)))

	reg := rpc.NewRegistry(domain)
	require.NoError(t, register(reg, h.Deps))

	listener := rpc.NewListener(h.Broker, queue, reg,
		rpc.WithWorkers(4), rpc.WithListenerLogger(logging.NewNoopLogger()))
	require.NoError(t, listener.Start(ctx))

	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = listener.Stop(stopCtx)
	})
}

// Call 经代理调用操作，协议错误直接使测试失败
func Call[Req, Resp any](t *testing.T, h *Harness, op rpc.Operation[Req, Resp], req Req) rpc.Reply[Resp] {
	t.Helper()
	reply, err := rpc.Invoke(context.Background(), h.Client, op, req)
	require.NoError(t, err)
	return reply
}
