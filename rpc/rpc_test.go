package rpc_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MathisDulieu/Booking-sub000/codec"
	appErrors "github.com/MathisDulieu/Booking-sub000/errors"
	"github.com/MathisDulieu/Booking-sub000/logging"
	"github.com/MathisDulieu/Booking-sub000/messaging"
	"github.com/MathisDulieu/Booking-sub000/messaging/transport/memory"
	"github.com/MathisDulieu/Booking-sub000/rpc"
)

func TestMain(m *testing.M) {
	logging.SetLogger(logging.NewNoopLogger())
	m.Run()
}

type cancelTicketRequest struct {
	TicketID string `json:"ticketId"`
	UserID   string `json:"userId"`
}

type getTicketRequest struct {
	TicketID string `json:"ticketId"`
}

type ticketDTO struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`
	Status  string `json:"status"`
}

var (
	cancelTicket = rpc.Flat[cancelTicketRequest]("ticket.cancelTicket")
	getTicket    = rpc.Nested[getTicketRequest, ticketDTO]("ticket.getTicket", "ticket")
	slowTicket   = rpc.Flat[getTicketRequest]("ticket.slow")
	failTicket   = rpc.Flat[getTicketRequest]("ticket.fail")
	panicTicket  = rpc.Flat[getTicketRequest]("ticket.panic")
)

// ticketFixture 最小化的票务处理器集合
type ticketFixture struct {
	mu      sync.Mutex
	tickets map[string]*ticketDTO
}

func newTicketFixture() *ticketFixture {
	return &ticketFixture{tickets: map[string]*ticketDTO{
		"t-1": {ID: "t-1", OwnerID: "u-1", Status: "BOOKED"},
	}}
}

func (f *ticketFixture) registry(t *testing.T) *rpc.Registry {
	reg := rpc.NewRegistry("ticket")
	require.NoError(t, rpc.Route(reg, cancelTicket, func(ctx context.Context, req cancelTicketRequest) (rpc.Result, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		tk, ok := f.tickets[req.TicketID]
		if !ok {
			return rpc.NotFound("Ticket not found"), nil
		}
		if tk.OwnerID != req.UserID {
			return rpc.Forbidden("You can only cancel your own tickets"), nil
		}
		if tk.Status == "CANCELLED" {
			return rpc.Warning("Ticket already cancelled"), nil
		}
		tk.Status = "CANCELLED"
		return rpc.Message("Ticket cancelled successfully"), nil
	}))
	require.NoError(t, rpc.Route(reg, getTicket, func(ctx context.Context, req getTicketRequest) (rpc.Result, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		tk, ok := f.tickets[req.TicketID]
		if !ok {
			return rpc.NotFound("Ticket not found"), nil
		}
		return rpc.NestedResult("ticket", tk)
	}))
	require.NoError(t, rpc.Route(reg, slowTicket, func(ctx context.Context, req getTicketRequest) (rpc.Result, error) {
		time.Sleep(200 * time.Millisecond)
		return rpc.Message("slow done"), nil
	}))
	require.NoError(t, rpc.Route(reg, failTicket, func(ctx context.Context, req getTicketRequest) (rpc.Result, error) {
		return rpc.Result{}, errors.New("storage unavailable")
	}))
	require.NoError(t, rpc.Route(reg, panicTicket, func(ctx context.Context, req getTicketRequest) (rpc.Result, error) {
		panic("nil session")
	}))
	return reg
}

type harness struct {
	broker   *memory.Broker
	client   *rpc.Client
	listener *rpc.Listener
}

func newHarness(t *testing.T, reg *rpc.Registry, clientOpts ...rpc.ClientOption) *harness {
	t.Helper()
	ctx := context.Background()

	broker := memory.NewBroker(256)
	require.NoError(t, broker.Declare(ctx, messaging.DomainTopology("ticket", "ticket-service")))

	listener := rpc.NewListener(broker, "ticket-service", reg, rpc.WithWorkers(4))
	require.NoError(t, listener.Start(ctx))

	client, err := rpc.NewClient(ctx, broker, clientOpts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = listener.Stop(stopCtx)
		_ = broker.Close()
	})
	return &harness{broker: broker, client: client, listener: listener}
}

// Scenario A: 不存在的票据 → NOT_FOUND → 404
func TestScenario_CancelUnknownTicket(t *testing.T) {
	h := newHarness(t, newTicketFixture().registry(t))

	reply, err := rpc.Invoke(context.Background(), h.client, cancelTicket,
		cancelTicketRequest{TicketID: "missing", UserID: "u-1"})
	require.NoError(t, err)
	assert.Equal(t, rpc.TagNotFound, reply.Tag)
	assert.Equal(t, http.StatusNotFound, rpc.Translate(reply.Result()).Status)
}

// Scenario B: 非票据所有者 → FORBIDDEN → 403
func TestScenario_CancelForeignTicket(t *testing.T) {
	h := newHarness(t, newTicketFixture().registry(t))

	reply, err := rpc.Invoke(context.Background(), h.client, cancelTicket,
		cancelTicketRequest{TicketID: "t-1", UserID: "intruder"})
	require.NoError(t, err)
	assert.Equal(t, rpc.TagForbidden, reply.Tag)
	assert.Equal(t, http.StatusForbidden, rpc.Translate(reply.Result()).Status)
}

// Scenario C: 未注册的路由键 → {"error": "Unknown request type"} → 500
func TestScenario_UnknownRoutingKey(t *testing.T) {
	h := newHarness(t, newTicketFixture().registry(t))

	res, err := h.client.Call(context.Background(), "ticket", "ticket.doSomethingUnsupported", map[string]string{}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, rpc.Fault(rpc.UnknownRequestType), res)
	assert.Equal(t, http.StatusInternalServerError, rpc.Translate(res).Status)
}

// Scenario D: 处理器报错 → 仍回复 error 标签，后续投递不受影响
func TestScenario_HandlerFault(t *testing.T) {
	h := newHarness(t, newTicketFixture().registry(t))
	ctx := context.Background()

	res, err := h.client.Call(ctx, "ticket", failTicket.Key().String(), getTicketRequest{TicketID: "t-1"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, rpc.TagError, res.Tag)
	assert.Contains(t, res.Value, "storage unavailable")

	res, err = h.client.Call(ctx, "ticket", panicTicket.Key().String(), getTicketRequest{}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, rpc.TagError, res.Tag)
	assert.Contains(t, res.Value, "nil session")

	reply, err := rpc.Invoke(ctx, h.client, getTicket, getTicketRequest{TicketID: "t-1"})
	require.NoError(t, err)
	assert.Equal(t, "t-1", reply.Value.ID)

	require.Eventually(t, func() bool { return h.listener.Stats().Replied == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(2), h.listener.Stats().Faulted)
}

// Scenario E: 50ms 超时对 200ms 处理器 → 约 50ms 返回超时，迟到回复被丢弃
func TestScenario_TimeoutThenLateReply(t *testing.T) {
	h := newHarness(t, newTicketFixture().registry(t))

	start := time.Now()
	_, err := rpc.Invoke(context.Background(), h.client, slowTicket, getTicketRequest{}, rpc.WithTimeout(50*time.Millisecond))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, appErrors.IsTimeout(err))
	assert.Contains(t, err.Error(), "no response received")
	assert.Less(t, elapsed, 150*time.Millisecond)
	assert.Equal(t, 0, h.client.Stats().Pending)

	require.Eventually(t, func() bool { return h.client.Stats().Late == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(0), h.client.Stats().Unmatched)
}

func TestClient_NestedRoundTrip(t *testing.T) {
	h := newHarness(t, newTicketFixture().registry(t))

	reply, err := rpc.Invoke(context.Background(), h.client, getTicket, getTicketRequest{TicketID: "t-1"})
	require.NoError(t, err)
	assert.Equal(t, "ticket", reply.Tag)
	assert.Equal(t, ticketDTO{ID: "t-1", OwnerID: "u-1", Status: "BOOKED"}, reply.Value)
}

func TestClient_CancelFlow(t *testing.T) {
	h := newHarness(t, newTicketFixture().registry(t))
	ctx := context.Background()
	req := cancelTicketRequest{TicketID: "t-1", UserID: "u-1"}

	reply, err := rpc.Invoke(ctx, h.client, cancelTicket, req)
	require.NoError(t, err)
	assert.Equal(t, rpc.TagMessage, reply.Tag)
	assert.Equal(t, "Ticket cancelled successfully", reply.Value)

	reply, err = rpc.Invoke(ctx, h.client, cancelTicket, req)
	require.NoError(t, err)
	assert.Equal(t, rpc.TagWarning, reply.Tag)
	assert.Equal(t, http.StatusOK, rpc.Translate(reply.Result()).Status)
}

func TestClient_CBORCodec(t *testing.T) {
	h := newHarness(t, newTicketFixture().registry(t), rpc.WithCodec(codec.CBOR))

	reply, err := rpc.Invoke(context.Background(), h.client, getTicket, getTicketRequest{TicketID: "t-1"})
	require.NoError(t, err)
	assert.Equal(t, "BOOKED", reply.Value.Status)
}

func TestClient_UnmatchedReplyDiscarded(t *testing.T) {
	h := newHarness(t, newTicketFixture().registry(t))
	ctx := context.Background()

	stray := messaging.NewMessage(messaging.DefaultExchange, h.client.ReplyQueue(), []byte(`{"message":"stray"}`))
	stray.CorrelationID = "never-issued"
	require.NoError(t, h.broker.Publish(ctx, stray))

	require.Eventually(t, func() bool { return h.client.Stats().Unmatched == 1 }, time.Second, 5*time.Millisecond)

	reply, err := rpc.Invoke(ctx, h.client, getTicket, getTicketRequest{TicketID: "t-1"})
	require.NoError(t, err)
	assert.Equal(t, "t-1", reply.Value.ID)
}

func TestClient_ConcurrentCallsDoNotCrossTalk(t *testing.T) {
	fixture := newTicketFixture()
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		fixture.tickets[id] = &ticketDTO{ID: id, OwnerID: "u-" + id, Status: "BOOKED"}
	}
	h := newHarness(t, fixture.registry(t))

	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		id := []string{"a", "b", "c", "d", "e", "f"}[i%6]
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, err := rpc.Invoke(context.Background(), h.client, getTicket, getTicketRequest{TicketID: id})
			if assert.NoError(t, err) {
				assert.Equal(t, id, reply.Value.ID)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, h.client.Stats().Pending)
}

func TestClient_SerializationError(t *testing.T) {
	h := newHarness(t, newTicketFixture().registry(t))

	_, err := h.client.Call(context.Background(), "ticket", "ticket.getTicket", make(chan int), time.Second)
	assert.True(t, appErrors.IsErrorCode(err, appErrors.ErrCodeSerialization))
	assert.Equal(t, 0, h.client.Stats().Pending)
}

func TestClient_QueueError(t *testing.T) {
	h := newHarness(t, newTicketFixture().registry(t))

	_, err := h.client.Call(context.Background(), "nowhere", "nowhere.op", map[string]string{}, time.Second)
	assert.True(t, appErrors.IsErrorCode(err, appErrors.ErrCodeQueue))
	assert.Equal(t, 0, h.client.Stats().Pending)
}

func TestClient_ContextCancellation(t *testing.T) {
	h := newHarness(t, newTicketFixture().registry(t))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := rpc.Invoke(ctx, h.client, slowTicket, getTicketRequest{})
	assert.True(t, appErrors.IsTimeout(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_CloseFailsPendingCalls(t *testing.T) {
	h := newHarness(t, newTicketFixture().registry(t))

	errCh := make(chan error, 1)
	go func() {
		_, err := rpc.Invoke(context.Background(), h.client, slowTicket, getTicketRequest{}, rpc.WithTimeout(5*time.Second))
		errCh <- err
	}()
	require.Eventually(t, func() bool { return h.client.Stats().Pending == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.client.Close())
	select {
	case err := <-errCh:
		assert.True(t, appErrors.IsErrorCode(err, appErrors.ErrCodeQueue))
	case <-time.After(time.Second):
		t.Fatal("pending call not released by Close")
	}

	_, err := h.client.Call(context.Background(), "ticket", "ticket.getTicket", getTicketRequest{}, time.Second)
	assert.True(t, appErrors.IsErrorCode(err, appErrors.ErrCodeQueue))
}

func TestClient_NotifySkipsReply(t *testing.T) {
	h := newHarness(t, newTicketFixture().registry(t))

	require.NoError(t, h.client.Notify(context.Background(), "ticket", cancelTicket.Key().String(),
		cancelTicketRequest{TicketID: "t-1", UserID: "u-1"}))

	require.Eventually(t, func() bool { return h.listener.Stats().Received == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.listener.Stats().InFlight == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(0), h.listener.Stats().Replied)
}

func TestListener_MalformedPayloadFaults(t *testing.T) {
	h := newHarness(t, newTicketFixture().registry(t))

	res, err := h.client.Call(context.Background(), "ticket", "ticket.getTicket", "not-an-object", time.Second)
	require.NoError(t, err)
	assert.Equal(t, rpc.TagError, res.Tag)
	assert.Contains(t, res.Value, "invalid request payload")
}

func TestListener_StartTwice(t *testing.T) {
	h := newHarness(t, newTicketFixture().registry(t))
	assert.Error(t, h.listener.Start(context.Background()))
}

// 处理器超过截止时间后仍回复 error 标签，调用方不必等到自身超时
func TestListener_RepliesAfterHandlerDeadline(t *testing.T) {
	ctx := context.Background()
	broker := memory.NewBroker(64)
	require.NoError(t, broker.Declare(ctx, messaging.DomainTopology("ticket", "ticket-service")))

	stuck := rpc.Flat[getTicketRequest]("ticket.stuck")
	reg := rpc.NewRegistry("ticket")
	require.NoError(t, rpc.Route(reg, stuck, func(ctx context.Context, req getTicketRequest) (rpc.Result, error) {
		<-ctx.Done()
		return rpc.Result{}, ctx.Err()
	}))

	listener := rpc.NewListener(broker, "ticket-service", reg, rpc.WithHandlerTimeout(50*time.Millisecond))
	require.NoError(t, listener.Start(ctx))
	client, err := rpc.NewClient(ctx, broker)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
		_ = listener.Stop(context.Background())
		_ = broker.Close()
	})

	start := time.Now()
	res, err := client.Call(ctx, "ticket", stuck.Key().String(), getTicketRequest{TicketID: "t-1"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, rpc.TagError, res.Tag)
	assert.Contains(t, res.Value, "deadline exceeded")
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	require.Eventually(t, func() bool { return listener.Stats().Replied == 1 }, time.Second, 5*time.Millisecond)
}

// consumeRecorder 记录投递确认与消费取消的先后顺序
type consumeRecorder struct {
	messaging.Broker
	mu     sync.Mutex
	events []string
}

func (r *consumeRecorder) record(event string) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *consumeRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *consumeRecorder) Consume(ctx context.Context, queue string, handler messaging.DeliveryHandler) error {
	if err := r.Broker.Consume(ctx, queue, func(ctx context.Context, d *messaging.Delivery) {
		if d.ReplyTo == "" {
			handler(ctx, d)
			return
		}
		handler(ctx, messaging.NewDelivery(d.Message, d.Queue, func() error {
			r.record("ack")
			return d.Ack()
		}))
	}); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		r.record("consume cancelled")
	}()
	return nil
}

// Stop 先等处理中的投递回复并确认，再取消消费
func TestListener_StopAcksInFlightBeforeCancellingConsume(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewBroker(64)
	t.Cleanup(func() { _ = mem.Close() })
	require.NoError(t, mem.Declare(ctx, messaging.DomainTopology("ticket", "ticket-service")))
	rec := &consumeRecorder{Broker: mem}

	listener := rpc.NewListener(rec, "ticket-service", newTicketFixture().registry(t))
	require.NoError(t, listener.Start(ctx))
	client, err := rpc.NewClient(ctx, mem)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	resCh := make(chan rpc.Result, 1)
	go func() {
		res, _ := client.Call(ctx, "ticket", slowTicket.Key().String(), getTicketRequest{}, 2*time.Second)
		resCh <- res
	}()
	require.Eventually(t, func() bool { return listener.Stats().InFlight == 1 }, time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, listener.Stop(stopCtx))

	assert.Equal(t, rpc.TagMessage, (<-resCh).Tag)
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"ack", "consume cancelled"}, rec.snapshot())
}
