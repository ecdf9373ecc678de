package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/example/storefront-bot/internal/domain"
	"github.com/example/storefront-bot/internal/metrics"
)

// OrderMachineConfig задаёт параметры машины состояний заказа.
type OrderMachineConfig struct {
	GatewayTimeout time.Duration
	Retention      time.Duration

	// ApprovalTTL: сколько заказ ждёт подтверждения покупателя до отмены.
	ApprovalTTL time.Duration
}

const (
	reasonInterruptedCreate = "interrupted during create"
	reasonApprovalExpired   = "approval expired"
	reasonItemRemoved       = "item removed from catalog after payment"
)

// OrderMachineDeps перечисляет зависимости машины состояний.
type OrderMachineDeps struct {
	Config  OrderMachineConfig
	Catalog domain.CatalogProvider
	Gateway domain.PaymentGateway
	Orders  domain.OrderStore
	// Repo и Events необязательны.
	Repo   domain.OrderRepository
	Events domain.OrderEventPublisher
	Logger *logrus.Logger
}

// OrderMachine единственная меняет состояние заказов.
type OrderMachine struct {
	cfg     OrderMachineConfig
	catalog domain.CatalogProvider
	gateway domain.PaymentGateway
	orders  domain.OrderStore
	repo    domain.OrderRepository
	events  domain.OrderEventPublisher
	log     *logrus.Entry
	nowFn   func() time.Time
	newID   func() string
}

func NewOrderMachine(deps OrderMachineDeps) *OrderMachine {
	cfg := deps.Config
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.ApprovalTTL <= 0 {
		cfg.ApprovalTTL = 3 * time.Hour
	}
	return &OrderMachine{
		cfg:     cfg,
		catalog: deps.Catalog,
		gateway: deps.Gateway,
		orders:  deps.Orders,
		repo:    deps.Repo,
		events:  deps.Events,
		log:     deps.Logger.WithField("component", "orders"),
		nowFn:   func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// CreateOrder создаёт заказ и платёж во внешнем процессоре.
func (m *OrderMachine) CreateOrder(ctx context.Context, itemID string, buyer domain.Buyer) (domain.Order, error) {
	item, ok := m.catalog.Get(itemID)
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: %q", domain.ErrItemNotFound, itemID)
	}

	order, claimed := m.orders.Claim(domain.NewOrder(m.newID(), item, buyer, m.nowFn()))
	if !claimed {
		if order.State == domain.StateAwaitingApproval {
			return order, nil
		}
		return order, fmt.Errorf("%w: order %s is %s", domain.ErrOrderInProgress, order.ID, order.State)
	}
	log := m.log.WithFields(logrus.Fields{"order_id": order.ID, "item_id": item.ID, "user_id": buyer.UserID})

	lk, err := m.orders.Acquire(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	defer lk.Release()
	order = lk.Order()
	if order.State != domain.StateCreated {
		// отменён между Claim и Acquire
		return order, fmt.Errorf("%w: order %s is %s", domain.ErrInvalidTransition, order.ID, order.State)
	}
	m.persist(ctx, order, log)

	gwCtx, cancel := context.WithTimeout(ctx, m.cfg.GatewayTimeout)
	intent, err := m.gateway.Create(gwCtx, domain.PaymentRequest{
		OrderID:     order.ID,
		ItemID:      item.ID,
		Title:       item.Title,
		Description: item.Description,
		Amount:      item.Price,
		Currency:    item.Currency,
	})
	cancel()
	if err == nil && (intent.GatewayPaymentID == "" || intent.ApprovalURL == "") {
		err = errors.New("gateway returned no payment id or approval url")
	}
	if err != nil {
		metrics.GatewayCalls.WithLabelValues("create", "error").Inc()
		log.WithError(err).Error("gateway create failed")
		order.FailureReason = err.Error()
		if terr := m.transition(ctx, lk, &order, domain.StateFailed, "gateway create failed", log); terr != nil {
			return order, terr
		}
		return order, fmt.Errorf("%w: %v", domain.ErrGatewayCreateFailed, err)
	}
	metrics.GatewayCalls.WithLabelValues("create", "ok").Inc()

	order.GatewayPaymentID = intent.GatewayPaymentID
	order.ApprovalURL = intent.ApprovalURL
	if err := m.transition(ctx, lk, &order, domain.StateAwaitingApproval, "", log); err != nil {
		return order, err
	}
	log.WithField("payment_id", order.GatewayPaymentID).Info("order awaiting approval")
	return order, nil
}

// HandleApprovalCallback исполняет платёж не более одного раза на заказ.
// Повторный вызов возвращает сохранённый результат без обращения к процессору.
func (m *OrderMachine) HandleApprovalCallback(ctx context.Context, gatewayPaymentID, payerRef string) (domain.FulfillmentResult, error) {
	found, ok := m.orders.FindByPayment(gatewayPaymentID)
	if !ok {
		return domain.FulfillmentResult{}, fmt.Errorf("%w: payment %s", domain.ErrOrderNotFound, gatewayPaymentID)
	}
	log := m.log.WithFields(logrus.Fields{"order_id": found.ID, "payment_id": gatewayPaymentID})

	lk, err := m.orders.Acquire(ctx, found.ID)
	if err != nil {
		return domain.FulfillmentResult{}, fmt.Errorf("payment %s: %w", gatewayPaymentID, err)
	}
	defer lk.Release()
	order := lk.Order()

	switch order.State {
	case domain.StateFulfilled:
		metrics.DuplicateCallbacks.Inc()
		log.Info("duplicate callback, replaying fulfillment")
		res := resultOf(order)
		res.Duplicate = true
		return res, nil
	case domain.StateFailed:
		metrics.DuplicateCallbacks.Inc()
		log.Info("duplicate callback, replaying failure")
		if order.FailureReason == reasonItemRemoved {
			return domain.FulfillmentResult{}, fmt.Errorf("%w: order %s", domain.ErrFulfillmentUnavailable, order.ID)
		}
		return domain.FulfillmentResult{}, fmt.Errorf("%w: %s", domain.ErrGatewayExecuteFailed, order.FailureReason)
	case domain.StateAwaitingApproval:
		order.PayerRef = payerRef
		if err := m.transition(ctx, lk, &order, domain.StateApproved, "", log); err != nil {
			return domain.FulfillmentResult{}, err
		}
	case domain.StateApproved:
		// предыдущий callback остановился здесь при завершении работы; продолжаем
		if payerRef != "" {
			order.PayerRef = payerRef
		}
	default:
		return domain.FulfillmentResult{}, fmt.Errorf("%w: order %s is %s", domain.ErrOrderNotFound, order.ID, order.State)
	}

	if ctx.Err() != nil {
		log.Warn("runtime stopping, leaving order approved")
		return domain.FulfillmentResult{}, fmt.Errorf("%w: order %s left %s", domain.ErrShuttingDown, order.ID, order.State)
	}
	if err := m.transition(ctx, lk, &order, domain.StateExecuting, "", log); err != nil {
		return domain.FulfillmentResult{}, err
	}

	// исполнение не бросаем при завершении работы, его ограничивает только таймаут процессора
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.GatewayTimeout)
	err = m.gateway.Execute(execCtx, gatewayPaymentID, order.PayerRef)
	cancel()
	if err != nil {
		metrics.GatewayCalls.WithLabelValues("execute", "error").Inc()
		log.WithError(err).Error("gateway execute failed")
		order.FailureReason = err.Error()
		if terr := m.transition(ctx, lk, &order, domain.StateFailed, "gateway execute failed", log); terr != nil {
			return domain.FulfillmentResult{}, terr
		}
		return domain.FulfillmentResult{}, fmt.Errorf("%w: %v", domain.ErrGatewayExecuteFailed, err)
	}
	metrics.GatewayCalls.WithLabelValues("execute", "ok").Inc()

	item, ok := m.catalog.Get(order.ItemID)
	if !ok {
		// каталог неизменен в пределах процесса: сюда попадают только заказы,
		// восстановленные после смены каталога. Деньги уже списаны.
		log.WithFields(logrus.Fields{"item_id": order.ItemID, "needs_refund": true}).
			Error("payment executed but item is gone from catalog")
		order.FailureReason = reasonItemRemoved
		if terr := m.transition(ctx, lk, &order, domain.StateFailed, order.FailureReason, log); terr != nil {
			return domain.FulfillmentResult{}, terr
		}
		return domain.FulfillmentResult{}, fmt.Errorf("%w: item %q", domain.ErrFulfillmentUnavailable, order.ItemID)
	}
	order.FulfillmentAsset = item.FulfillmentAsset
	if err := m.transition(ctx, lk, &order, domain.StateFulfilled, "", log); err != nil {
		return domain.FulfillmentResult{}, err
	}
	log.Info("order fulfilled")
	return resultOf(order), nil
}

// CancelOrder отменяет незавершённый заказ покупателя.
func (m *OrderMachine) CancelOrder(ctx context.Context, orderID string, buyer domain.Buyer) (domain.Order, error) {
	lk, err := m.orders.Acquire(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	defer lk.Release()
	order := lk.Order()
	if order.Buyer.UserID != buyer.UserID {
		return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	log := m.log.WithFields(logrus.Fields{"order_id": order.ID, "user_id": buyer.UserID})
	if err := m.transition(ctx, lk, &order, domain.StateCancelled, "cancelled by buyer", log); err != nil {
		return order, err
	}
	log.Info("order cancelled")
	return order, nil
}

func (m *OrderMachine) Get(orderID string) (domain.Order, bool) {
	return m.orders.Get(orderID)
}

func (m *OrderMachine) FindByPayment(paymentID string) (domain.Order, bool) {
	return m.orders.FindByPayment(paymentID)
}

// Restore кладёт заказ из хранилища обратно в таблицу. Заказ, прерванный в
// EXECUTING, возвращается в APPROVED, чтобы повторный callback мог его завершить.
// Заказ, прерванный в CREATED, платежа не имеет и закрывается как FAILED.
func (m *OrderMachine) Restore(o domain.Order) bool {
	if o.State.Terminal() && o.UpdatedAt.Before(m.nowFn().Add(-m.cfg.Retention)) {
		return false
	}
	log := m.log.WithField("order_id", o.ID)
	switch o.State {
	case domain.StateExecuting:
		log.Warn("order was interrupted while executing, restoring as approved")
		o.State = domain.StateApproved
	case domain.StateCreated:
		log.Warn("order was interrupted during create, marking failed")
		o.FailureReason = reasonInterruptedCreate
		if err := o.Apply(domain.StateFailed, m.nowFn(), reasonInterruptedCreate); err != nil {
			log.WithError(err).Error("rejected transition")
			return false
		}
		metrics.OrderTransitions.WithLabelValues(string(domain.StateCreated), string(domain.StateFailed)).Inc()
		m.persist(context.Background(), o, log)
	}
	m.orders.Restore(o)
	return true
}

// EvictExpired отменяет заказы, не подтверждённые за ApprovalTTL, и удаляет из
// памяти завершённые заказы старше окна хранения.
func (m *OrderMachine) EvictExpired(ctx context.Context) {
	m.expireApprovals(ctx)

	evicted := m.orders.EvictTerminal(m.nowFn().Add(-m.cfg.Retention))
	if len(evicted) == 0 {
		return
	}
	metrics.OrdersEvicted.Add(float64(len(evicted)))
	m.log.WithFields(logrus.Fields{"count": len(evicted), "remaining": m.orders.Len()}).Info("evicted expired orders")
}

func (m *OrderMachine) expireApprovals(ctx context.Context) {
	cutoff := m.nowFn().Add(-m.cfg.ApprovalTTL)
	for _, id := range m.orders.StaleOrders(domain.StateAwaitingApproval, cutoff) {
		if ctx.Err() != nil {
			return
		}
		m.expireApproval(ctx, id, cutoff)
	}
}

func (m *OrderMachine) expireApproval(ctx context.Context, id string, cutoff time.Time) {
	lk, err := m.orders.Acquire(ctx, id)
	if err != nil {
		return
	}
	defer lk.Release()
	order := lk.Order()
	// состояние могло смениться, пока ждали блокировку
	if order.State != domain.StateAwaitingApproval || !order.UpdatedAt.Before(cutoff) {
		return
	}
	log := m.log.WithFields(logrus.Fields{"order_id": order.ID, "payment_id": order.GatewayPaymentID})
	if err := m.transition(ctx, lk, &order, domain.StateCancelled, reasonApprovalExpired, log); err != nil {
		return
	}
	log.Info("order approval expired")
}

func (m *OrderMachine) transition(ctx context.Context, lk domain.OrderLock, o *domain.Order, to domain.OrderState, reason string, log *logrus.Entry) error {
	from := o.State
	if err := o.Apply(to, m.nowFn(), reason); err != nil {
		log.WithError(err).Error("rejected transition")
		return err
	}
	lk.Update(*o)
	metrics.OrderTransitions.WithLabelValues(string(from), string(to)).Inc()
	log.WithFields(logrus.Fields{"from": from, "to": to}).Debug("order transition")

	m.persist(ctx, *o, log)
	m.publish(ctx, *o, from, reason, log)
	return nil
}

// persist пишет без гарантий: источник истины таблица в памяти.
func (m *OrderMachine) persist(ctx context.Context, o domain.Order, log *logrus.Entry) {
	if m.repo == nil {
		return
	}
	raw, err := json.Marshal(o)
	if err != nil {
		log.WithError(err).Error("marshal order")
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := m.repo.Upsert(pctx, o.ID, raw); err != nil {
		log.WithError(err).Error("persist order")
	}
}

func (m *OrderMachine) publish(ctx context.Context, o domain.Order, from domain.OrderState, reason string, log *logrus.Entry) {
	if m.events == nil {
		return
	}
	ev := domain.OrderEvent{
		EventID:   uuid.NewString(),
		OrderID:   o.ID,
		ItemID:    o.ItemID,
		PaymentID: o.GatewayPaymentID,
		From:      from,
		To:        o.State,
		Reason:    reason,
		At:        o.UpdatedAt,
	}
	if err := m.events.PublishOrderEvent(context.WithoutCancel(ctx), ev); err != nil {
		log.WithError(err).Warn("publish order event")
	}
}

func resultOf(o domain.Order) domain.FulfillmentResult {
	return domain.FulfillmentResult{
		OrderID:          o.ID,
		ItemID:           o.ItemID,
		Buyer:            o.Buyer,
		FulfillmentAsset: o.FulfillmentAsset,
	}
}
