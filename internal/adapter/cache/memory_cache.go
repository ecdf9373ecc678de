package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/storefront-bot/internal/domain"
)

type orderEntry struct {
	// lock упорядочивает изменяющую работу над заказом, включая вызовы процессора.
	// Захвачен, пока в канале лежит значение.
	lock chan struct{}

	mu    sync.RWMutex
	order domain.Order
}

func newEntry(o domain.Order) *orderEntry {
	return &orderEntry{lock: make(chan struct{}, 1), order: o.Clone()}
}

func (e *orderEntry) tryLock() bool {
	select {
	case e.lock <- struct{}{}:
		return true
	default:
		return false
	}
}

func (e *orderEntry) unlock() { <-e.lock }

func (e *orderEntry) snapshot() domain.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.order.Clone()
}

// MemoryOrderTable хранит заказы в памяти. Мьютекс таблицы защищает только
// индексы; работа над заказом упорядочена его собственной блокировкой.
type MemoryOrderTable struct {
	mu        sync.RWMutex
	store     map[string]*orderEntry
	byPayment map[string]string
}

func NewMemoryOrderTable() *MemoryOrderTable {
	return &MemoryOrderTable{
		store:     make(map[string]*orderEntry),
		byPayment: make(map[string]string),
	}
}

func (t *MemoryOrderTable) Get(id string) (domain.Order, bool) {
	t.mu.RLock()
	e, ok := t.store[id]
	t.mu.RUnlock()
	if !ok {
		return domain.Order{}, false
	}
	return e.snapshot(), true
}

func (t *MemoryOrderTable) FindByPayment(paymentID string) (domain.Order, bool) {
	t.mu.RLock()
	id, ok := t.byPayment[paymentID]
	t.mu.RUnlock()
	if !ok {
		return domain.Order{}, false
	}
	return t.Get(id)
}

func (t *MemoryOrderTable) Claim(o domain.Order) (domain.Order, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.store {
		cur := e.snapshot()
		if cur.Open() && cur.ItemID == o.ItemID && cur.Buyer.UserID == o.Buyer.UserID {
			return cur, false
		}
	}
	t.store[o.ID] = newEntry(o)
	return o, true
}

func (t *MemoryOrderTable) Restore(o domain.Order) {
	t.mu.Lock()
	t.store[o.ID] = newEntry(o)
	if o.GatewayPaymentID != "" {
		t.byPayment[o.GatewayPaymentID] = o.ID
	}
	t.mu.Unlock()
}

// Acquire ждёт блокировку заказа не дольше, чем живёт ctx.
func (t *MemoryOrderTable) Acquire(ctx context.Context, id string) (domain.OrderLock, error) {
	t.mu.RLock()
	e, ok := t.store[id]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
	}
	select {
	case e.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// запись могли вытеснить, пока мы ждали
	t.mu.RLock()
	cur, still := t.store[id]
	t.mu.RUnlock()
	if !still || cur != e {
		e.unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
	}
	return &orderLock{table: t, entry: e}, nil
}

// StaleOrders возвращает id заказов в состоянии state, не менявшихся с before.
func (t *MemoryOrderTable) StaleOrders(state domain.OrderState, before time.Time) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var ids []string
	for id, e := range t.store {
		o := e.snapshot()
		if o.State == state && o.UpdatedAt.Before(before) {
			ids = append(ids, id)
		}
	}
	return ids
}

// EvictTerminal удаляет завершённые заказы, обновлённые до before.
// Захваченные заказы остаются до следующего прохода.
func (t *MemoryOrderTable) EvictTerminal(before time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var evicted []string
	for id, e := range t.store {
		if !e.tryLock() {
			continue
		}
		o := e.snapshot()
		if o.State.Terminal() && o.UpdatedAt.Before(before) {
			delete(t.store, id)
			if o.GatewayPaymentID != "" && t.byPayment[o.GatewayPaymentID] == id {
				delete(t.byPayment, o.GatewayPaymentID)
			}
			evicted = append(evicted, id)
		}
		e.unlock()
	}
	return evicted
}

func (t *MemoryOrderTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.store)
}

type orderLock struct {
	table    *MemoryOrderTable
	entry    *orderEntry
	released bool
}

func (l *orderLock) Order() domain.Order {
	return l.entry.snapshot()
}

func (l *orderLock) Update(o domain.Order) {
	l.entry.mu.Lock()
	prev := l.entry.order.GatewayPaymentID
	l.entry.order = o.Clone()
	l.entry.mu.Unlock()

	if o.GatewayPaymentID != "" && o.GatewayPaymentID != prev {
		l.table.mu.Lock()
		l.table.byPayment[o.GatewayPaymentID] = o.ID
		l.table.mu.Unlock()
	}
}

func (l *orderLock) Release() {
	if l.released {
		return
	}
	l.released = true
	l.entry.unlock()
}

var _ domain.OrderStore = (*MemoryOrderTable)(nil)
