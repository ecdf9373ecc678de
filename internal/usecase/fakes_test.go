package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/example/storefront-bot/internal/adapter/cache"
	"github.com/example/storefront-bot/internal/domain"
)

type stubCatalog struct {
	items []domain.CatalogItem
}

func (c stubCatalog) Get(id string) (domain.CatalogItem, bool) {
	for _, it := range c.items {
		if it.ID == id {
			return it, true
		}
	}
	return domain.CatalogItem{}, false
}

func (c stubCatalog) List() []domain.CatalogItem { return c.items }

func inceptionCatalog() stubCatalog {
	return stubCatalog{items: []domain.CatalogItem{{
		ID:               "1",
		Title:            "Inception",
		Description:      "A thief who steals corporate secrets.",
		Price:            decimal.RequireFromString("10.99"),
		Currency:         "USD",
		FulfillmentAsset: "https://cdn.example.com/inception.mp4",
	}}}
}

// spyGateway counts calls; Execute can be slowed down to widen races.
type spyGateway struct {
	createCalls  atomic.Int32
	executeCalls atomic.Int32

	createErr  error
	executeErr error
	delay      time.Duration
	seq        atomic.Int32
}

func (g *spyGateway) Create(ctx context.Context, req domain.PaymentRequest) (domain.PaymentIntent, error) {
	g.createCalls.Add(1)
	if g.createErr != nil {
		return domain.PaymentIntent{}, g.createErr
	}
	n := g.seq.Add(1)
	return domain.PaymentIntent{
		GatewayPaymentID: fmt.Sprintf("PAY-%d", n),
		ApprovalURL:      fmt.Sprintf("https://pay/%d", n),
	}, nil
}

func (g *spyGateway) Execute(ctx context.Context, paymentID, payerRef string) error {
	g.executeCalls.Add(1)
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return g.executeErr
}

type recordingMessenger struct {
	mu       sync.Mutex
	replies  []domain.Reply
	answered []string
	sendErr  error
}

func (m *recordingMessenger) Send(ctx context.Context, r domain.Reply) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, r)
	return m.sendErr
}

func (m *recordingMessenger) AnswerCallback(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answered = append(m.answered, id)
	return nil
}

func (m *recordingMessenger) last() domain.Reply {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.replies) == 0 {
		return domain.Reply{}
	}
	return m.replies[len(m.replies)-1]
}

type memoryRepo struct {
	mu   sync.Mutex
	rows map[string][]byte
	err  error
}

func newMemoryRepo() *memoryRepo { return &memoryRepo{rows: map[string][]byte{}} }

func (r *memoryRepo) Upsert(ctx context.Context, id string, raw []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.rows[id] = append([]byte(nil), raw...)
	return nil
}

func (r *memoryRepo) LoadAll(ctx context.Context, fn func(id string, raw []byte) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, raw := range r.rows {
		if err := fn(id, raw); err != nil {
			return err
		}
	}
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OrderEvent
}

func (p *recordingPublisher) PublishOrderEvent(ctx context.Context, ev domain.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

type machineFixture struct {
	machine *OrderMachine
	gateway *spyGateway
	orders  *cache.MemoryOrderTable
	repo    *memoryRepo
	events  *recordingPublisher
	hook    *logtest.Hook
}

func newMachine(gw *spyGateway) machineFixture {
	logger, hook := logtest.NewNullLogger()
	f := machineFixture{
		gateway: gw,
		orders:  cache.NewMemoryOrderTable(),
		repo:    newMemoryRepo(),
		events:  &recordingPublisher{},
		hook:    hook,
	}
	f.machine = NewOrderMachine(OrderMachineDeps{
		Config:  OrderMachineConfig{GatewayTimeout: time.Second, Retention: time.Hour},
		Catalog: inceptionCatalog(),
		Gateway: gw,
		Orders:  f.orders,
		Repo:    f.repo,
		Events:  f.events,
		Logger:  logger,
	})
	return f
}
